package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftwatch/driftwatch/internal/queue"
	"github.com/driftwatch/driftwatch/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the driftwatch server with an embedded worker",
	Long: `Starts the HTTP API (webhook intake, review actions, drift and audit
read surfaces) together with an in-process job worker and the periodic
snooze sweeper.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if servePort != 0 {
			cfg.Server.Port = servePort
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

		worker := queue.NewWorker(a.jobs, a.orch.HandleJob, time.Second)
		go worker.Run(ctx)
		go runSnoozeSweeper(ctx, a)

		srv := server.New(cfg, database, a.srv)
		go func() {
			<-ctx.Done()
			fmt.Fprintln(os.Stderr, "\nShutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		fmt.Fprintf(os.Stderr, "driftwatch v%s starting on port %d (workspace %s)\n",
			Version, cfg.Server.Port, cfg.Workspace)

		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}

// runSnoozeSweeper periodically lifts expired snoozes back into review.
func runSnoozeSweeper(ctx context.Context, a *app) {
	interval := time.Duration(a.cfg.Thresholds.SnoozeSweepMins) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.orch.ResumeSnoozed(ctx, time.Now().UTC())
			if err != nil {
				fmt.Fprintf(os.Stderr, "snooze sweep: %v\n", err)
				continue
			}
			if n > 0 && verbose {
				fmt.Fprintf(os.Stderr, "snooze sweep resumed %d drifts\n", n)
			}
		}
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
