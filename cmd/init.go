package cmd

import (
	"github.com/spf13/cobra"

	"github.com/driftwatch/driftwatch/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize driftwatch configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to configure driftwatch for your workspace and writes a .driftwatch.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard()
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
