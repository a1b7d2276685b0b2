// Package main provides the grabbit command line interface.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "grabbit",
	Short: "Media downloader with filtering, retry recovery and session reports",
	Long: `grabbit discovers posts from a content source, filters them, downloads
their media with automatic retry recovery, writes metadata sidecars and renders
a session report. Every run is journaled so reports can be re-rendered later
with the replay command.`,
	SilenceUsage: true,
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
