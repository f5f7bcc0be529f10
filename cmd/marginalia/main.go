package main

import (
	"log"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "marginalia",
	Short:   "Inline comment service for rich-text documents",
	Long:    "Runs the HTTP API when called without a subcommand.",
	Version: version,
}

func main() {
	rootCmd.RunE = runServe
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())
	rootCmd.AddCommand(serveCmd, migrateCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("marginalia: %v", err)
	}
}
