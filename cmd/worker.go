package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftwatch/driftwatch/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a standalone job worker",
	Long: `Runs a job worker without the HTTP server. Multiple workers can share
one database: the per-drift processing lease keeps them from stepping
on each other.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		database, err := openDatabase(cfg)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer database.Close()

		a, err := buildApp(cfg, database)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Fprintf(os.Stderr, "driftwatch worker v%s started (workspace %s)\n", Version, cfg.Workspace)
		queue.NewWorker(a.jobs, a.orch.HandleJob, time.Second).Run(ctx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
