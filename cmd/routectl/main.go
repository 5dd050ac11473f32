// Package main is the entry point for routectl, the developer terminal
// tool for interacting with the batchroute API.
package main

import (
	"os"

	"batchroute/cmd/routectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
