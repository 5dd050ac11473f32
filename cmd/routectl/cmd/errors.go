package cmd

import (
	"github.com/spf13/cobra"
)

// printAPIError prints err in the teacher's terse CLI error format,
// distinguishing a structured APIError from an opaque transport failure.
func printAPIError(cmd *cobra.Command, err error) {
	if apiErr, ok := err.(*APIError); ok {
		cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
		return
	}
	cmd.Printf("Error: %v\n", err)
}
