package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel [jobId]",
	Short: "Cancel a running job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))
		if err := client.Cancel(args[0]); err != nil {
			printAPIError(cmd, err)
			return
		}
		cmd.Println("✓ Cancellation requested")
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup [jobId]",
	Short: "Delete a terminal job's result files and free its registry slot",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))
		if err := client.Cleanup(args[0]); err != nil {
			printAPIError(cmd, err)
			return
		}
		cmd.Println("✓ Cleaned up")
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(cleanupCmd)
}
