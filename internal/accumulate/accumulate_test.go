package accumulate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/driftwatch/driftwatch/internal/db"
	"github.com/driftwatch/driftwatch/internal/drift"
)

func newTestAccumulator(t *testing.T, opts Options) (*Accumulator, *drift.Store) {
	t.Helper()
	d, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	drifts := drift.NewStore(d)
	return New(d.DB, drifts, opts), drifts
}

func seedDrift(t *testing.T, drifts *drift.Store, id, docID string, score float64, summary string) *drift.Candidate {
	t.Helper()
	c := &drift.Candidate{
		WorkspaceID:     "ws1",
		ID:              id,
		Service:         "payments",
		Repo:            "org/payments-api",
		DriftType:       drift.TypeInstruction,
		DriftDomains:    []drift.Domain{drift.DomainDeployment},
		Confidence:      score,
		ImpactScore:     0.8,
		DriftScore:      score,
		EvidenceSummary: summary,
		DocSystem:       "memory",
		DocID:           docID,
	}
	if err := drifts.Create(context.Background(), c); err != nil {
		t.Fatalf("seeding drift %s: %v", id, err)
	}
	return c
}

func TestAddTripsCountThreshold(t *testing.T) {
	acc, drifts := newTestAccumulator(t, Options{CountThreshold: 3, MaterialityThreshold: 100})
	ctx := context.Background()

	for i, id := range []string{"d1", "d2"} {
		c := seedDrift(t, drifts, id, "doc-1", 0.3, "change "+id)
		w, tripped, err := acc.Add(ctx, c)
		if err != nil {
			t.Fatalf("Add %s: %v", id, err)
		}
		if tripped {
			t.Fatalf("threshold tripped after %d drifts, want 3", i+1)
		}
		if len(w.DriftIDs) != i+1 {
			t.Errorf("window has %d drifts after add %d", len(w.DriftIDs), i+1)
		}
	}

	c := seedDrift(t, drifts, "d3", "doc-1", 0.3, "change d3")
	_, tripped, err := acc.Add(ctx, c)
	if err != nil {
		t.Fatalf("Add d3: %v", err)
	}
	if !tripped {
		t.Error("count threshold did not trip at 3 drifts")
	}
}

func TestAddTripsMaterialityThreshold(t *testing.T) {
	acc, drifts := newTestAccumulator(t, Options{CountThreshold: 100, MaterialityThreshold: 1.0})
	ctx := context.Background()

	c1 := seedDrift(t, drifts, "d1", "doc-1", 0.6, "first")
	if _, tripped, err := acc.Add(ctx, c1); err != nil || tripped {
		t.Fatalf("Add d1 = tripped %v, err %v; want false, nil", tripped, err)
	}
	c2 := seedDrift(t, drifts, "d2", "doc-1", 0.6, "second")
	_, tripped, err := acc.Add(ctx, c2)
	if err != nil {
		t.Fatalf("Add d2: %v", err)
	}
	if !tripped {
		t.Error("materiality 1.2 did not trip threshold 1.0")
	}
}

func TestAddIsIdempotentPerDrift(t *testing.T) {
	acc, drifts := newTestAccumulator(t, Options{})
	ctx := context.Background()

	c := seedDrift(t, drifts, "d1", "doc-1", 0.4, "change")
	if _, _, err := acc.Add(ctx, c); err != nil {
		t.Fatalf("Add: %v", err)
	}
	w, _, err := acc.Add(ctx, c)
	if err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if len(w.DriftIDs) != 1 {
		t.Errorf("window has %d entries after double add, want 1", len(w.DriftIDs))
	}
	if w.TotalMateriality != 0.4 {
		t.Errorf("TotalMateriality = %v, want 0.4 (no double count)", w.TotalMateriality)
	}
}

func TestWindowsArePerDocument(t *testing.T) {
	acc, drifts := newTestAccumulator(t, Options{})
	ctx := context.Background()

	c1 := seedDrift(t, drifts, "d1", "doc-1", 0.4, "one")
	c2 := seedDrift(t, drifts, "d2", "doc-2", 0.4, "two")
	w1, _, err := acc.Add(ctx, c1)
	if err != nil {
		t.Fatal(err)
	}
	w2, _, err := acc.Add(ctx, c2)
	if err != nil {
		t.Fatal(err)
	}
	if w1.ID == w2.ID {
		t.Error("different documents share one window")
	}
}

func TestBundleCreatesSyntheticDrift(t *testing.T) {
	acc, drifts := newTestAccumulator(t, Options{})
	ctx := context.Background()

	c1 := seedDrift(t, drifts, "d1", "doc-1", 0.5, "rollback step changed")
	c2 := seedDrift(t, drifts, "d2", "doc-1", 0.7, "deploy flag renamed")
	var w *Window
	var err error
	for _, c := range []*drift.Candidate{c1, c2} {
		if w, _, err = acc.Add(ctx, c); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	bundled, err := acc.Bundle(ctx, w)
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}

	if bundled.State != drift.StateBaselineChecked {
		t.Errorf("bundled state = %q, want %q (skips re-classification)", bundled.State, drift.StateBaselineChecked)
	}
	if bundled.Confidence != 0.7 {
		t.Errorf("bundled confidence = %v, want max constituent 0.7", bundled.Confidence)
	}
	for _, want := range []string{"rollback step changed", "deploy flag renamed"} {
		if !strings.Contains(bundled.EvidenceSummary, want) {
			t.Errorf("bundled summary missing %q: %s", want, bundled.EvidenceSummary)
		}
	}
	if bundled.DocID != "doc-1" {
		t.Errorf("bundled DocID = %q, want doc-1", bundled.DocID)
	}

	// Stored and window marked bundled.
	if _, err := drifts.Get(ctx, "ws1", bundled.ID); err != nil {
		t.Errorf("bundled drift not persisted: %v", err)
	}
	if w.Status != StatusBundled || w.BundledDriftID != bundled.ID {
		t.Errorf("window = %s/%s, want bundled/%s", w.Status, w.BundledDriftID, bundled.ID)
	}

	// A new drift for the same doc opens a fresh window.
	c3 := seedDrift(t, drifts, "d3", "doc-1", 0.4, "later change")
	w2, _, err := acc.Add(ctx, c3)
	if err != nil {
		t.Fatalf("Add after bundle: %v", err)
	}
	if w2.ID == w.ID {
		t.Error("bundled window was reused")
	}
}

func TestSweepExpired(t *testing.T) {
	acc, drifts := newTestAccumulator(t, Options{WindowLength: time.Hour})
	ctx := context.Background()

	// doc-1 accumulates two drifts, doc-2 only one.
	for _, tc := range []struct{ id, doc string }{
		{"d1", "doc-1"}, {"d2", "doc-1"}, {"d3", "doc-2"},
	} {
		c := seedDrift(t, drifts, tc.id, tc.doc, 0.3, "change "+tc.id)
		if _, _, err := acc.Add(ctx, c); err != nil {
			t.Fatalf("Add %s: %v", tc.id, err)
		}
	}

	// Nothing expires before the window closes.
	bundles, err := acc.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if len(bundles) != 0 {
		t.Fatalf("SweepExpired before expiry bundled %d windows, want 0", len(bundles))
	}

	bundles, err = acc.SweepExpired(ctx, time.Now().UTC().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("SweepExpired after expiry: %v", err)
	}
	if len(bundles) != 1 {
		t.Fatalf("bundled %d windows, want 1 (doc-2 has only one drift)", len(bundles))
	}
	if bundles[0].DocID != "doc-1" {
		t.Errorf("bundled doc = %q, want doc-1", bundles[0].DocID)
	}
}
