package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the periodic maintenance pass once",
	Long: `Runs one maintenance pass: resumes expired snoozes, bundles expired
accumulation windows, flushes pending notification digests, and redacts
audit payloads past their retention window. Intended for cron; the
serve command runs the snooze portion on its own timer.`,
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

		ctx := context.Background()
		now := time.Now().UTC()
		bar := progressbar.NewOptions(4,
			progressbar.OptionSetDescription("Sweeping"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)

		bar.Describe("Resuming expired snoozes")
		resumed, err := a.orch.ResumeSnoozed(ctx, now)
		if err != nil {
			return fmt.Errorf("resuming snoozed drifts: %w", err)
		}
		bar.Add(1)

		bar.Describe("Bundling expired windows")
		bundles, err := a.accum.SweepExpired(ctx, now)
		if err != nil {
			return fmt.Errorf("sweeping accumulation windows: %w", err)
		}
		for _, b := range bundles {
			if err := a.jobs.Enqueue(b.WorkspaceID, b.ID, 0, 0); err != nil {
				return fmt.Errorf("enqueueing bundle %s: %w", b.ID, err)
			}
		}
		bar.Add(1)

		bar.Describe("Flushing digests")
		flushed, err := a.notif.FlushDigests(ctx, cfg.Workspace)
		if err != nil {
			return fmt.Errorf("flushing digests: %w", err)
		}
		bar.Add(1)

		bar.Describe("Applying audit retention")
		cutoff := now.AddDate(0, 0, -cfg.Retention.AuditPayloadDays)
		redacted, err := a.audit.ApplyRetention(ctx, cfg.Workspace, cutoff)
		if err != nil {
			return fmt.Errorf("applying audit retention: %w", err)
		}
		bar.Add(1)
		bar.Finish()

		fmt.Fprintf(os.Stderr, "sweep done: %d snoozes resumed, %d bundles enqueued, %d digests flushed, %d audit payloads redacted\n",
			resumed, len(bundles), flushed, redacted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
