package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"batchroute/pkg/api"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a routing batch against an uploaded file",
	Long: `Submit a routing batch job against a file previously registered via
"routectl upload", transforming its coordinates through the named reference
system and dispatching them against the routing daemon.`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		fileID, _ := flags.GetString("file-id")
		referenceCode, _ := flags.GetString("reference-code")
		originX, _ := flags.GetString("origin-x")
		originY, _ := flags.GetString("origin-y")
		destX, _ := flags.GetString("dest-x")
		destY, _ := flags.GetString("dest-y")
		exportGeometry, _ := flags.GetBool("export-geometry")
		straightLine, _ := flags.GetBool("straight-line")
		simplify, _ := flags.GetBool("simplify")
		simplifyTolerance, _ := flags.GetFloat64("simplify-tolerance")

		if fileID == "" {
			cmd.Println("Error: --file-id is required")
			return
		}
		if referenceCode == "" {
			cmd.Println("Error: --reference-code is required")
			return
		}
		if originX == "" || originY == "" || destX == "" || destY == "" {
			cmd.Println("Error: --origin-x, --origin-y, --dest-x, and --dest-y are all required")
			return
		}

		geometry := api.GeometryPolicy{
			ExportGeometry: exportGeometry,
			StraightLine:   straightLine,
			Simplify:       simplify,
		}
		if simplify {
			geometry.SimplifyTolerance = &simplifyTolerance
		}

		cfg := api.RoutingConfiguration{
			FileID:            fileID,
			ReferenceCode:     referenceCode,
			OriginFields:      api.FieldPair{X: originX, Y: originY},
			DestinationFields: api.FieldPair{X: destX, Y: destY},
			Geometry:          geometry,
		}

		client := NewClient(viper.GetString("url"))
		result, err := client.SubmitBatch(cfg)
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		cmd.Printf("✓ Job submitted!\nJob ID: %s\n", result.JobID)
	},
}

func init() {
	flags := submitCmd.Flags()
	flags.String("file-id", "", "fileId returned by routectl upload (required)")
	flags.String("reference-code", "", "source coordinate reference system code (required)")
	flags.String("origin-x", "", "origin x/longitude column name (required)")
	flags.String("origin-y", "", "origin y/latitude column name (required)")
	flags.String("dest-x", "", "destination x/longitude column name (required)")
	flags.String("dest-y", "", "destination y/latitude column name (required)")
	flags.Bool("export-geometry", true, "include route geometry in the output")
	flags.Bool("straight-line", false, "use a straight line instead of the routed polyline")
	flags.Bool("simplify", false, "simplify the routed polyline with Douglas-Peucker")
	flags.Float64("simplify-tolerance", 0.0001, "Douglas-Peucker tolerance in degrees")

	rootCmd.AddCommand(submitCmd)
}
