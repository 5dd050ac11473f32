package cmd

import (
	"github.com/spf13/viper"
)

func resetViper() {
	viper.Reset()
	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "batchroute server URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}
