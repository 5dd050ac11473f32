package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "routectl",
	Short: "routectl is a command line tool for interacting with the batchroute routing engine",
	Long: `routectl is the command-line interface for the batch routing engine.

The engine ingests a tabular file of origin/destination coordinates,
transforms them to WGS84, dispatches bounded-concurrency requests against an
external routing daemon, and streams the results into a GeoJSON feature
collection on disk.

Common workflows:

  Submit a batch against an already-uploaded file:
    routectl submit --file-id <id> --reference-code <code> \
      --origin-x lon_o --origin-y lat_o --dest-x lon_d --dest-y lat_d

  Poll status:
    routectl status <jobId>

  Download the completed export:
    routectl export <jobId> --out results.geojson

  Retry a job's failed rows:
    routectl retry <jobId>

Configuration:
  Set the API endpoint via environment variable or a config file:
    BATCHROUTE_URL   API endpoint (default: http://localhost:6161)`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".routectl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("BATCHROUTE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.routectl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "batchroute server URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}
