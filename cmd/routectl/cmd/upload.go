package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var uploadCmd = &cobra.Command{
	Use:   "upload [path]",
	Short: "Upload a tabular origin/destination file",
	Long:  `Upload a CSV (or similar delimited) file of origin/destination coordinates, returning a fileId to reference in submit.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))

		descriptor, err := client.UploadFile(args[0])
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		cmd.Printf("✓ Uploaded!\nFile ID: %s\nRows: %d\nColumns: %v\n", descriptor.FileID, descriptor.RowCount, descriptor.Columns)
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}
