// Package main provides the entry point for the Call Insights HTTP service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "call_insights",
	Short: "Call Insights ingestion service",
	Long:  "Call Insights pulls call transcripts from the recording API, stores them in Supabase, classifies them against user interest keywords, and relays matches to Slack.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
