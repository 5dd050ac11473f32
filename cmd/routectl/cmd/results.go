package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var resultsCmd = &cobra.Command{
	Use:   "results [jobId]",
	Short: "Print the aggregate summary of a completed job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))
		result, err := client.Results(args[0])
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		cmd.Printf("%sJob %s%s\n", colorBold, result.JobID, colorReset)
		cmd.Printf("Total:      %d\n", result.Summary.Total)
		cmd.Printf("Successful: %s%d%s\n", colorGreen, result.Summary.Successful, colorReset)
		cmd.Printf("Failed:     %s%d%s\n", colorRed, result.Summary.Failed, colorReset)
	},
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}
