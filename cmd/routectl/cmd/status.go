package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"batchroute/pkg/api"
)

var statusCmd = &cobra.Command{
	Use:   "status [jobId]",
	Short: "Get the status of a routing job",
	Long:  `Retrieve the current state of a job: its status, row counters, and, once terminal, its completion timestamp and error (if any).`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]
		watch, _ := cmd.Flags().GetBool("watch")

		client := NewClient(viper.GetString("url"))

		for {
			snapshot, err := client.Status(jobID)
			if err != nil {
				printAPIError(cmd, err)
				return
			}

			printStatus(cmd, snapshot)

			if !watch || snapshot.Status == api.JobCompleted || snapshot.Status == api.JobFailed {
				return
			}
			time.Sleep(2 * time.Second)
		}
	},
}

func printStatus(cmd *cobra.Command, s api.JobSnapshot) {
	icon := statusIcon(s.Status)
	cmd.Printf("%s %sJob %s%s\n", icon, colorBold, s.ID, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(s.Status))
	cmd.Printf("%sProgress:%s    %d/%d (%d ok, %d failed)\n", colorDim, colorReset,
		s.Progress.Processed, s.Progress.Total, s.Progress.Successful, s.Progress.Failed)
	if s.Error != "" {
		cmd.Printf("%sError:%s       %s%s%s\n", colorDim, colorReset, colorRed, s.Error, colorReset)
	}
	if s.StartedAt != nil {
		cmd.Printf("%sStarted:%s     %s\n", colorDim, colorReset, s.StartedAt.Format(time.RFC3339))
	}
	if s.CompletedAt != nil {
		cmd.Printf("%sCompleted:%s   %s\n", colorDim, colorReset, s.CompletedAt.Format(time.RFC3339))
	}
	cmd.Println()
}

const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status api.JobStatus) string {
	switch status {
	case api.JobCompleted:
		return colorGreen + "✓" + colorReset
	case api.JobFailed:
		return colorRed + "✗" + colorReset
	case api.JobProcessing:
		return colorYellow + "⏳" + colorReset
	case api.JobPending:
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status api.JobStatus) string {
	icon := statusIcon(status)
	switch status {
	case api.JobCompleted:
		return icon + " " + colorGreen + string(status) + colorReset
	case api.JobFailed:
		return icon + " " + colorRed + string(status) + colorReset
	case api.JobProcessing:
		return icon + " " + colorYellow + string(status) + colorReset
	case api.JobPending:
		return icon + " " + colorCyan + string(status) + colorReset
	default:
		return string(status)
	}
}

func init() {
	statusCmd.Flags().Bool("watch", false, "poll every 2 seconds until the job reaches a terminal state")
	rootCmd.AddCommand(statusCmd)
}
