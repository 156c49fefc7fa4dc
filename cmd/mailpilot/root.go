package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mailpilot",
	Short: "Categorize, risk-score and draft replies for a batch of email",
	Long: `mailpilot runs a batch of messages through categorization, phishing
risk analysis and reply drafting.

Use "run" for a one-off batch file and "serve" to expose the pipeline over HTTP.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "path to the config file (empty for defaults and environment only)")
	rootCmd.AddCommand(runCmd, serveCmd, versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
