// Package cmd is a thin cobra shell around the thomas toolkit, kept
// deliberately small: the CLI itself is an out-of-scope consumer, the
// toolkit is the deliverable. Grounded on the teacher's
// cmd/altmount/cmd/root.go command-registration pattern.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "thomas",
	Short: "Segmented HTTP, virtual RAR, and resource-graph streaming toolkit",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./thomas.yaml", "config file (default is ./thomas.yaml)")
}

// Execute runs the root command, exiting with status 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
