package drift

import (
	"context"
	"testing"
	"time"

	"github.com/driftwatch/driftwatch/internal/db"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"forward one step", StateIngested, StateEligibilityChecked, true},
		{"forward skipping stages", StateIngested, StateCompleted, true},
		{"same state retry", StatePatchPlanned, StatePatchPlanned, true},
		{"backward", StateDocsFetched, StateIngested, false},
		{"failure exit from anywhere", StateDocsResolved, StateFailed, true},
		{"needs-mapping exit", StateDocsResolved, StateFailedNeedsMapping, true},
		{"edit loops to regeneration", StateEditRequested, StatePatchGenerated, true},
		{"snooze returns to review", StateSnoozed, StateAwaitingHuman, true},
		{"snooze cannot jump backward", StateSnoozed, StatePatchPlanned, false},
		{"approved to writeback validation", StateApproved, StateWritebackValidated, true},
		{"forward from the shared decision slot", StateRejected, StateWritebackValidated, true},
		{"unknown from", State("BOGUS"), StateIngested, false},
		{"unknown to", StateIngested, State("BOGUS"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidTransition(tc.from, tc.to); got != tc.want {
				t.Errorf("ValidTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestTerminalAndWaiting(t *testing.T) {
	for _, s := range []State{StateCompleted, StateRejected, StateFailed, StateFailedNeedsMapping} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
		if s.Waiting() {
			t.Errorf("%s should not be waiting", s)
		}
	}
	for _, s := range []State{StateAwaitingHuman, StateSnoozed} {
		if !s.Waiting() {
			t.Errorf("%s should be waiting", s)
		}
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if StateDocsFetched.Terminal() || StateDocsFetched.Waiting() {
		t.Error("DOCS_FETCHED is a plain pipeline state")
	}
}

func TestBranchStatesShareOrder(t *testing.T) {
	base := StateApproved.Order()
	for _, s := range []State{StateRejected, StateEditRequested, StateSnoozed} {
		if s.Order() != base {
			t.Errorf("%s order = %d, want %d", s, s.Order(), base)
		}
	}
	if StateAwaitingHuman.Order() >= base {
		t.Error("AWAITING_HUMAN must precede the decision states")
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database)
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := &Candidate{
		WorkspaceID:     "ws1",
		SignalEventID:   "sig-1",
		Service:         "payments",
		Repo:            "acme/payments",
		DriftType:       TypeInstruction,
		DriftDomains:    []Domain{DomainDeployment, DomainConfig},
		Confidence:      0.85,
		ImpactScore:     0.8,
		DriftScore:      0.68,
		RiskLevel:       RiskStandard,
		EvidenceSummary: "deploy flags changed",
	}
	c.Findings = append(c.Findings, Finding{
		Stage: StageDocFetched,
		DocFetched: &DocFetchedFinding{
			DocSystem: "memory",
			DocID:     "runbook-1",
			Content:   "# Runbook",
			Revision:  "rev-1",
		},
	})
	if err := store.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "ws1", c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != StateIngested {
		t.Errorf("State = %s, want default INGESTED", got.State)
	}
	if len(got.DriftDomains) != 2 || got.DriftDomains[0] != DomainDeployment {
		t.Errorf("DriftDomains = %v", got.DriftDomains)
	}
	f := got.FindingByStage(StageDocFetched)
	if f == nil || f.DocFetched == nil || f.DocFetched.Revision != "rev-1" {
		t.Fatalf("doc-fetched finding lost in round trip: %+v", f)
	}
}

func TestFingerprintImmutableOnceSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := &Candidate{WorkspaceID: "ws1", Service: "payments", EvidenceSummary: "x"}
	if err := store.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}

	c.Fingerprint = "aaaa"
	if err := store.Update(ctx, c); err != nil {
		t.Fatalf("Update: %v", err)
	}

	c.Fingerprint = "bbbb"
	if err := store.Update(ctx, c); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.Get(ctx, "ws1", c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Fingerprint != "aaaa" {
		t.Errorf("Fingerprint = %q, want the first value to stick", got.Fingerprint)
	}
}

func TestFindByFingerprint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Duplicates may share a fingerprint; lookup returns one of them.
	for i := 0; i < 2; i++ {
		c := &Candidate{WorkspaceID: "ws1", Service: "payments", EvidenceSummary: "x", Fingerprint: "shared"}
		if err := store.Create(ctx, c); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	got, err := store.FindByFingerprint(ctx, "ws1", "shared")
	if err != nil {
		t.Fatalf("FindByFingerprint: %v", err)
	}
	if got == nil {
		t.Fatal("no candidate found")
	}
	if got.Fingerprint != "shared" {
		t.Errorf("found %s with fingerprint %q", got.ID, got.Fingerprint)
	}

	missing, err := store.FindByFingerprint(ctx, "ws1", "absent")
	if err != nil {
		t.Fatalf("FindByFingerprint: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown fingerprint, got %s", missing.ID)
	}
}

func TestListSnoozeExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	for _, tc := range []struct {
		until *time.Time
		state State
	}{
		{&past, StateSnoozed},
		{&future, StateSnoozed},
		{&past, StateAwaitingHuman},
	} {
		c := &Candidate{WorkspaceID: "ws1", Service: "payments", EvidenceSummary: "x", SnoozeUntil: tc.until}
		c.SetState(tc.state)
		if err := store.Create(ctx, c); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	expired, err := store.ListSnoozeExpired(ctx, now)
	if err != nil {
		t.Fatalf("ListSnoozeExpired: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("expired = %d, want 1", len(expired))
	}
	if expired[0].State != StateSnoozed {
		t.Errorf("state = %s, want SNOOZED", expired[0].State)
	}
}
