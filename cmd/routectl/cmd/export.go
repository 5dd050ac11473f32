package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"batchroute/internal/geopackage"
)

var exportCmd = &cobra.Command{
	Use:   "export [jobId]",
	Short: "Download a completed job's result file",
	Long: `Download the GeoJSON feature collection for a completed job. With
--format geopackage, the downloaded file is re-exported into a GeoPackage
(SQLite) container after download, a separate post-completion step that
never touches the dispatcher's hot path.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]
		out, _ := cmd.Flags().GetString("out")
		format, _ := cmd.Flags().GetString("format")

		if out == "" {
			out = fmt.Sprintf("routing_results_%s.geojson", jobID)
		}

		client := NewClient(viper.GetString("url"))
		if err := client.DownloadExport(jobID, out); err != nil {
			printAPIError(cmd, err)
			return
		}
		cmd.Printf("✓ Downloaded to %s\n", out)

		switch format {
		case "", "geojson":
			return
		case "geopackage":
			gpkgPath := out + ".gpkg"
			if err := geopackage.Export(out, gpkgPath); err != nil {
				cmd.Printf("Error converting to geopackage: %v\n", err)
				return
			}
			cmd.Printf("✓ Converted to %s\n", gpkgPath)
		default:
			cmd.Printf("Error: unknown --format %q (expected geojson or geopackage)\n", format)
		}
	},
}

func init() {
	exportCmd.Flags().String("out", "", "output file path (default routing_results_<jobId>.geojson)")
	exportCmd.Flags().String("format", "geojson", "output format: geojson or geopackage")
	rootCmd.AddCommand(exportCmd)
}
