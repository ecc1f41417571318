package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/driftwatch/driftwatch/internal/accumulate"
	"github.com/driftwatch/driftwatch/internal/agent"
	"github.com/driftwatch/driftwatch/internal/approval"
	"github.com/driftwatch/driftwatch/internal/audit"
	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/correlate"
	"github.com/driftwatch/driftwatch/internal/db"
	"github.com/driftwatch/driftwatch/internal/docresolve"
	"github.com/driftwatch/driftwatch/internal/docsys"
	"github.com/driftwatch/driftwatch/internal/drift"
	"github.com/driftwatch/driftwatch/internal/fingerprint"
	"github.com/driftwatch/driftwatch/internal/lock"
	"github.com/driftwatch/driftwatch/internal/notify"
	"github.com/driftwatch/driftwatch/internal/orchestrator"
	"github.com/driftwatch/driftwatch/internal/ownership"
	"github.com/driftwatch/driftwatch/internal/patch"
	"github.com/driftwatch/driftwatch/internal/queue"
	"github.com/driftwatch/driftwatch/internal/server"
	"github.com/driftwatch/driftwatch/internal/signal"
)

// app is the fully wired dependency graph shared by serve, worker, and
// sweep.
type app struct {
	cfg   *config.Config
	db    *db.DB
	orch  *orchestrator.Orchestrator
	jobs  *queue.Store
	srv   server.Deps
	notif *notify.Notifier
	accum *accumulate.Accumulator
	audit *audit.Store
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openDatabase(cfg *config.Config) (*db.DB, error) {
	if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return db.Open(filepath.Join(cfg.Server.DataDir, "driftwatch.db"))
}

// buildApp assembles every store and service from config. The OpenAI
// client and the search index are optional: without OPENAI_API_KEY the
// pipeline falls back to heuristic classification and note patches, and
// resolution skips the search rung.
func buildApp(cfg *config.Config, database *db.DB) (*app, error) {
	var client agent.Client
	var index *docresolve.Index
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		client = agent.NewOpenAIClient(key, cfg.OpenAI.Model, cfg.OpenAI.EmbeddingModel)
		ix, err := docresolve.NewIndex(client)
		if err != nil {
			return nil, fmt.Errorf("creating search index: %w", err)
		}
		indexDir := filepath.Join(cfg.Server.DataDir, "index")
		if err := ix.Load(indexDir); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not load search index from %s: %v\n", indexDir, err)
		}
		index = ix
	}

	registry := docsys.NewRegistry()
	registry.Register("memory", docsys.NewMemoryAdapter())
	if cfg.Confluence.BaseURL != "" {
		registry.Register("confluence", docsys.NewConfluenceAdapter(docsys.ConfluenceConfig{
			BaseURL:  cfg.Confluence.BaseURL,
			Username: cfg.Confluence.Username,
			APIToken: os.Getenv("CONFLUENCE_API_TOKEN"),
		}))
	}

	drifts := drift.NewStore(database)
	signals := signal.NewStore(database)
	mappings := docresolve.NewStore(database.DB)
	proposals := patch.NewStore(database.DB)
	feed := audit.NewFeed()
	audits := audit.NewStore(database.DB, feed)
	jobs := queue.NewStore(database.DB, queue.Options{
		MaxAttempts: cfg.Queue.MaxAttempts,
		RetryDelay:  queue.DefaultRetryDelay(string(cfg.Environment)),
	})
	notifier := notify.NewNotifier(cfg.Slack.WebhookURL, cfg.Slack.DefaultChannel, notify.NewDigestStore(database.DB))
	accumulator := accumulate.New(database.DB, drifts, accumulate.Options{
		WindowLength:         time.Duration(cfg.Accumulator.WindowDays) * 24 * time.Hour,
		CountThreshold:       cfg.Accumulator.CountThreshold,
		MaterialityThreshold: cfg.Accumulator.MaterialityThreshold,
	})

	orch := orchestrator.New(cfg, orchestrator.Deps{
		Drifts:      drifts,
		Signals:     signals,
		Correlator:  correlate.New(signals, time.Duration(cfg.Correlation.WindowHours)*time.Hour),
		Dedupe:      fingerprint.NewChecker(drifts),
		Triage:      orchestrator.NewTriage(client),
		Resolver:    docresolve.NewResolver(mappings, index, cfg.Thresholds.SearchMinScore),
		Mappings:    mappings,
		Docs:        registry,
		Planner:     patch.NewPlanner(client),
		Generator:   patch.NewGenerator(client),
		Proposals:   proposals,
		Owners:      ownership.NewResolver(ownership.NewStore(database.DB)),
		Router: &ownership.Router{
			NotifyThreshold:      cfg.Thresholds.Notify,
			RiskyNotifyThreshold: cfg.Thresholds.RiskyNotify,
		},
		Notifier:    notifier,
		Accumulator: accumulator,
		Locks:       lock.NewManager(database.DB, time.Duration(cfg.Lock.TTLSeconds)*time.Second),
		Jobs:        jobs,
		Audit:       audits,
	})

	return &app{
		cfg:   cfg,
		db:    database,
		orch:  orch,
		jobs:  jobs,
		notif: notifier,
		accum: accumulator,
		audit: audits,
		srv: server.Deps{
			Drifts:    drifts,
			Signals:   signals,
			Intake:    orch,
			Approvals: approval.NewService(approval.NewStore(database.DB), proposals, drifts, jobs, audits),
			Mappings:  mappings,
			Audit:     audits,
			AuditFeed: feed,
		},
	}, nil
}
