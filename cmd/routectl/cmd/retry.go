package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var retryCmd = &cobra.Command{
	Use:   "retry [jobId]",
	Short: "Resubmit a terminal job's failed rows as a new job",
	Long: `Read a terminal job's dead-row sidecar and submit a fresh job built
from just the rows that failed, reusing the original job's configuration.
This is never triggered automatically; a job's transient daemon failures
stay failed until an operator explicitly retries them.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))
		result, err := client.Retry(args[0])
		if err != nil {
			printAPIError(cmd, err)
			return
		}
		cmd.Printf("✓ Retry submitted!\nNew Job ID: %s\n", result.JobID)
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
}
