package cmd

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "driftwatch",
	Short: "Documentation drift detection and lifecycle orchestration",
	Long: `Driftwatch watches merged pull requests, incidents, and alerts for
evidence that runbooks, API docs, or ownership records have gone stale,
then drives each detected drift through a durable review lifecycle:
classification, document resolution, patch proposal, human approval,
and auditable write-back.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", ".driftwatch.yml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
