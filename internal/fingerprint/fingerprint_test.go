package fingerprint

import (
	"context"
	"testing"

	"github.com/driftwatch/driftwatch/internal/db"
	"github.com/driftwatch/driftwatch/internal/drift"
)

func setupStore(t *testing.T) *drift.Store {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return drift.NewStore(database)
}

func sampleCandidate() *drift.Candidate {
	return &drift.Candidate{
		WorkspaceID:     "ws-1",
		Service:         "payments",
		DriftType:       drift.TypeInstruction,
		DriftDomains:    []drift.Domain{drift.DomainDeployment, drift.DomainConfig},
		DocID:           "runbook-42",
		EvidenceSummary: "deploy.sh replaced by helm upgrade in release flow",
		Confidence:      0.7,
	}
}

func TestComputeDeterministic(t *testing.T) {
	a := sampleCandidate()
	b := sampleCandidate()
	// Domain order must not matter.
	b.DriftDomains = []drift.Domain{drift.DomainConfig, drift.DomainDeployment}

	fpA := Compute(a)
	fpB := Compute(b)
	if fpA != fpB {
		t.Errorf("fingerprints differ for equal inputs: %s vs %s", fpA, fpB)
	}
	if fpA != Compute(a) {
		t.Errorf("fingerprint not stable across repeated calls")
	}
}

func TestComputeDistinguishes(t *testing.T) {
	a := sampleCandidate()
	b := sampleCandidate()
	b.DriftType = drift.TypeProcess
	if Compute(a) == Compute(b) {
		t.Errorf("different drift types produced identical fingerprints")
	}

	c := sampleCandidate()
	c.DocID = "runbook-43"
	if Compute(a) == Compute(c) {
		t.Errorf("different docs produced identical fingerprints")
	}
}

func TestKeyTokensBoundedAndSorted(t *testing.T) {
	tokens := KeyTokens("zeta yaml alpha deploy.sh kubectl rollout restart config/app.yml timeout retries healthcheck")
	if len(tokens) > maxKeyTokens {
		t.Errorf("len(tokens) = %d, want <= %d", len(tokens), maxKeyTokens)
	}
	for i := 1; i < len(tokens); i++ {
		if tokens[i-1] > tokens[i] {
			t.Errorf("tokens not sorted: %v", tokens)
		}
	}
}

func TestCheckDuplicateFirstOccurrence(t *testing.T) {
	store := setupStore(t)
	checker := NewChecker(store)

	fp, res, err := checker.CheckDuplicate(context.Background(), sampleCandidate())
	if err != nil {
		t.Fatalf("CheckDuplicate: %v", err)
	}
	if fp == "" {
		t.Errorf("empty fingerprint")
	}
	if res.IsDuplicate {
		t.Errorf("IsDuplicate = true for first occurrence")
	}
	if !res.ShouldNotify {
		t.Errorf("ShouldNotify = false for first occurrence")
	}
}

func TestCheckDuplicateSuppressed(t *testing.T) {
	store := setupStore(t)
	checker := NewChecker(store)
	ctx := context.Background()

	first := sampleCandidate()
	first.ID = "drift-1"
	first.Fingerprint = Compute(first)
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}

	second := sampleCandidate()
	second.ID = "drift-2"
	second.Confidence = 0.75 // not materially higher than 0.7

	_, res, err := checker.CheckDuplicate(ctx, second)
	if err != nil {
		t.Fatalf("CheckDuplicate: %v", err)
	}
	if !res.IsDuplicate {
		t.Errorf("IsDuplicate = false, want true")
	}
	if res.ShouldNotify {
		t.Errorf("ShouldNotify = true, want false for non-material confidence bump")
	}
	if res.ExistingDriftID != "drift-1" {
		t.Errorf("ExistingDriftID = %q, want drift-1", res.ExistingDriftID)
	}
}

func TestCheckDuplicateMaterialIncreaseNotifies(t *testing.T) {
	store := setupStore(t)
	checker := NewChecker(store)
	ctx := context.Background()

	first := sampleCandidate()
	first.ID = "drift-1"
	first.Confidence = 0.5
	first.Fingerprint = Compute(first)
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}

	second := sampleCandidate()
	second.ID = "drift-2"
	second.Confidence = 0.9

	_, res, err := checker.CheckDuplicate(ctx, second)
	if err != nil {
		t.Fatalf("CheckDuplicate: %v", err)
	}
	if !res.IsDuplicate || !res.ShouldNotify {
		t.Errorf("got %+v, want duplicate that still notifies", res)
	}
}
