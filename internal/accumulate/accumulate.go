// Package accumulate buffers low-urgency drifts per document in a
// rolling window and bundles them into one combined drift rather than
// pinging owners on every small change.
package accumulate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/db"
	"github.com/driftwatch/driftwatch/internal/drift"
)

// Window statuses.
const (
	StatusAccumulating = "accumulating"
	StatusBundled      = "bundled"
	StatusExpired      = "expired"
)

// Window is one rolling accumulation window for a document.
type Window struct {
	ID               string    `json:"id"`
	WorkspaceID      string    `json:"workspace_id"`
	DocSystem        string    `json:"doc_system"`
	DocID            string    `json:"doc_id"`
	Status           string    `json:"status"`
	DriftIDs         []string  `json:"drift_ids"`
	TotalMateriality float64   `json:"total_materiality"`
	OpenedAt         time.Time `json:"opened_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	BundledDriftID   string    `json:"bundled_drift_id,omitempty"`
}

// Options are the bundle triggers: count, cumulative materiality, or
// window expiry with at least two drifts.
type Options struct {
	WindowLength         time.Duration
	CountThreshold       int
	MaterialityThreshold float64
}

// Accumulator maintains the windows.
type Accumulator struct {
	db     *sql.DB
	drifts *drift.Store
	opts   Options
}

// New creates an Accumulator.
func New(database *sql.DB, drifts *drift.Store, opts Options) *Accumulator {
	if opts.WindowLength <= 0 {
		opts.WindowLength = 7 * 24 * time.Hour
	}
	if opts.CountThreshold <= 0 {
		opts.CountThreshold = 5
	}
	if opts.MaterialityThreshold <= 0 {
		opts.MaterialityThreshold = 1.5
	}
	return &Accumulator{db: database, drifts: drifts, opts: opts}
}

// Add buffers a drift into its document's open window, creating the
// window if necessary, and reports whether a bundle threshold tripped.
func (a *Accumulator) Add(ctx context.Context, c *drift.Candidate) (*Window, bool, error) {
	w, err := a.openWindow(c.WorkspaceID, c.DocSystem, c.DocID)
	if err != nil {
		return nil, false, err
	}

	for _, id := range w.DriftIDs {
		if id == c.ID {
			// Re-run of the same stage; do not double count.
			return w, a.thresholdTripped(w), nil
		}
	}
	w.DriftIDs = append(w.DriftIDs, c.ID)
	w.TotalMateriality += c.DriftScore

	ids, err := json.Marshal(w.DriftIDs)
	if err != nil {
		return nil, false, fmt.Errorf("marshalling drift ids: %w", err)
	}
	if _, err := a.db.Exec(`
		UPDATE drift_windows SET drift_ids = ?, total_materiality = ? WHERE id = ?`,
		string(ids), w.TotalMateriality, w.ID); err != nil {
		return nil, false, fmt.Errorf("updating window %s: %w", w.ID, err)
	}
	return w, a.thresholdTripped(w), nil
}

func (a *Accumulator) thresholdTripped(w *Window) bool {
	return len(w.DriftIDs) >= a.opts.CountThreshold ||
		w.TotalMateriality >= a.opts.MaterialityThreshold
}

// openWindow returns the document's accumulating window, creating one
// when none exists.
func (a *Accumulator) openWindow(workspaceID, docSystem, docID string) (*Window, error) {
	row := a.db.QueryRow(`
		SELECT id, workspace_id, doc_system, doc_id, status, drift_ids, total_materiality, opened_at, expires_at, bundled_drift_id
		FROM drift_windows
		WHERE workspace_id = ? AND doc_id = ? AND status = 'accumulating'`,
		workspaceID, docID)
	w, err := scanWindow(row)
	if err == nil {
		return w, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("loading window for doc %s: %w", docID, err)
	}

	now := time.Now().UTC()
	w = &Window{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		DocSystem:   docSystem,
		DocID:       docID,
		Status:      StatusAccumulating,
		OpenedAt:    now,
		ExpiresAt:   now.Add(a.opts.WindowLength),
	}
	if _, err := a.db.Exec(`
		INSERT INTO drift_windows (id, workspace_id, doc_system, doc_id, status, opened_at, expires_at)
		VALUES (?, ?, ?, ?, 'accumulating', ?, ?)`,
		w.ID, w.WorkspaceID, w.DocSystem, w.DocID,
		now.Format(time.DateTime), w.ExpiresAt.Format(time.DateTime)); err != nil {
		return nil, fmt.Errorf("creating window for doc %s: %w", docID, err)
	}
	return w, nil
}

// Bundle collapses the window into one synthetic drift candidate seeded
// past classification, with the constituents' evidence summaries
// concatenated and confidence taken as the max. The window is marked
// bundled.
func (a *Accumulator) Bundle(ctx context.Context, w *Window) (*drift.Candidate, error) {
	if len(w.DriftIDs) == 0 {
		return nil, fmt.Errorf("window %s has no drifts to bundle", w.ID)
	}

	var (
		summaries  []string
		domains    []drift.Domain
		seenDomain = map[drift.Domain]bool{}
		bundled    drift.Candidate
	)
	for i, id := range w.DriftIDs {
		c, err := a.drifts.Get(ctx, w.WorkspaceID, id)
		if err != nil {
			return nil, fmt.Errorf("loading constituent drift %s: %w", id, err)
		}
		if i == 0 {
			bundled.Service = c.Service
			bundled.Repo = c.Repo
			bundled.DriftType = c.DriftType
		}
		if c.Confidence > bundled.Confidence {
			bundled.Confidence = c.Confidence
		}
		if c.ImpactScore > bundled.ImpactScore {
			bundled.ImpactScore = c.ImpactScore
		}
		summaries = append(summaries, c.EvidenceSummary)
		for _, d := range c.DriftDomains {
			if !seenDomain[d] {
				seenDomain[d] = true
				domains = append(domains, d)
			}
		}
	}

	bundled.WorkspaceID = w.WorkspaceID
	bundled.DriftDomains = domains
	bundled.DriftScore = bundled.Confidence * bundled.ImpactScore
	bundled.EvidenceSummary = fmt.Sprintf("Bundled %d drifts for %s: %s",
		len(w.DriftIDs), w.DocID, strings.Join(summaries, "; "))
	bundled.DocSystem = w.DocSystem
	bundled.DocID = w.DocID
	bundled.ResolutionStatus = drift.ResolutionResolved
	bundled.SetState(drift.StateBaselineChecked)

	if err := a.drifts.Create(ctx, &bundled); err != nil {
		return nil, fmt.Errorf("creating bundled drift: %w", err)
	}

	if _, err := a.db.Exec(`
		UPDATE drift_windows SET status = 'bundled', bundled_drift_id = ? WHERE id = ?`,
		bundled.ID, w.ID); err != nil {
		return nil, fmt.Errorf("marking window %s bundled: %w", w.ID, err)
	}
	w.Status = StatusBundled
	w.BundledDriftID = bundled.ID
	return &bundled, nil
}

// SweepExpired processes windows past their expiry: those with at least
// two drifts are bundled, the rest are marked expired. Returns the
// bundled candidates.
func (a *Accumulator) SweepExpired(ctx context.Context, now time.Time) ([]*drift.Candidate, error) {
	rows, err := a.db.Query(`
		SELECT id, workspace_id, doc_system, doc_id, status, drift_ids, total_materiality, opened_at, expires_at, bundled_drift_id
		FROM drift_windows
		WHERE status = 'accumulating' AND expires_at <= ?`,
		now.UTC().Format(time.DateTime))
	if err != nil {
		return nil, fmt.Errorf("listing expired windows: %w", err)
	}
	defer rows.Close()

	var expired []*Window
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning window: %w", err)
		}
		expired = append(expired, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var bundles []*drift.Candidate
	for _, w := range expired {
		if len(w.DriftIDs) >= 2 {
			c, err := a.Bundle(ctx, w)
			if err != nil {
				return bundles, err
			}
			bundles = append(bundles, c)
			continue
		}
		if _, err := a.db.Exec(`UPDATE drift_windows SET status = 'expired' WHERE id = ?`, w.ID); err != nil {
			return bundles, fmt.Errorf("expiring window %s: %w", w.ID, err)
		}
	}
	return bundles, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWindow(row scanner) (*Window, error) {
	var w Window
	var driftIDs, openedAt, expiresAt string
	err := row.Scan(&w.ID, &w.WorkspaceID, &w.DocSystem, &w.DocID, &w.Status,
		&driftIDs, &w.TotalMateriality, &openedAt, &expiresAt, &w.BundledDriftID)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(driftIDs), &w.DriftIDs); err != nil {
		w.DriftIDs = nil
	}
	w.OpenedAt = db.ParseTime(openedAt)
	w.ExpiresAt = db.ParseTime(expiresAt)
	return &w, nil
}
