package score

import (
	"math"
	"testing"

	"github.com/driftwatch/driftwatch/internal/drift"
)

func TestEvidenceStrengthCapped(t *testing.T) {
	kinds := []SignalKind{
		SignalExplicitPRChange, // 0.50
		SignalOwnerMismatch,    // 0.60
		SignalRepeatIncident,   // 0.25
	}
	got := EvidenceStrength(kinds)
	if got != MaxConfidence {
		t.Errorf("EvidenceStrength = %v, want cap %v", got, MaxConfidence)
	}
}

func TestEvidenceStrengthNoDoubleCount(t *testing.T) {
	once := EvidenceStrength([]SignalKind{SignalPathMatch})
	twice := EvidenceStrength([]SignalKind{SignalPathMatch, SignalPathMatch})
	if once != twice {
		t.Errorf("duplicate signal kinds double-counted: %v vs %v", once, twice)
	}
	if once != 0.20 {
		t.Errorf("EvidenceStrength(path_match) = %v, want 0.20", once)
	}
}

func TestEvidenceStrengthBounds(t *testing.T) {
	sets := [][]SignalKind{
		nil,
		{},
		{SignalChatRepetition},
		{SignalExplicitPRChange, SignalPathMatch, SignalRepeatIncident, SignalChatRepetition, SignalOwnerMismatch},
	}
	for _, kinds := range sets {
		got := EvidenceStrength(kinds)
		if got < 0 || got > MaxConfidence {
			t.Errorf("EvidenceStrength(%v) = %v, out of [0, %v]", kinds, got, MaxConfidence)
		}
	}
}

func TestImpactScore(t *testing.T) {
	tests := []struct {
		name    string
		domains []drift.Domain
		want    float64
	}{
		{"rollback wins", []drift.Domain{drift.DomainAPI, drift.DomainRollback}, 0.9},
		{"deployment", []drift.Domain{drift.DomainDeployment}, 0.8},
		{"api", []drift.Domain{drift.DomainAPI}, 0.6},
		{"ownership routing", []drift.Domain{drift.DomainOwnershipRouting}, 0.5},
		{"unrecognized defaults", []drift.Domain{drift.Domain("unknown")}, 0.5},
		{"empty defaults", nil, 0.5},
	}
	for _, tt := range tests {
		if got := ImpactScore(tt.domains); got != tt.want {
			t.Errorf("%s: ImpactScore = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDriftScoreExactProduct(t *testing.T) {
	got := DriftScore(0.85, 0.8)
	want := 0.85 * 0.8
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("DriftScore = %v, want %v", got, want)
	}
}

func TestDriftScoreClamps(t *testing.T) {
	if got := DriftScore(1.5, 1.0); got != MaxConfidence {
		t.Errorf("DriftScore(1.5, 1.0) = %v, want %v", got, MaxConfidence)
	}
	if got := DriftScore(-1, 0.5); got != 0 {
		t.Errorf("DriftScore(-1, 0.5) = %v, want 0", got)
	}
}

// A merged PR classified as instruction drift with confidence 0.85 in
// the deployment domain scores 0.68: below the risky threshold but
// above the standard one, so a non-risky domain still notifies.
func TestNotifyThresholdAsymmetry(t *testing.T) {
	domains := []drift.Domain{drift.DomainDeployment}
	ds := DriftScore(0.85, ImpactScore(domains))
	if math.Abs(ds-0.68) > 1e-12 {
		t.Fatalf("drift score = %v, want 0.68", ds)
	}
	if !ShouldNotify(ds, domains) {
		t.Errorf("ShouldNotify(0.68, deployment) = false, want true")
	}

	risky := []drift.Domain{drift.DomainRollback}
	if ShouldNotify(0.68, risky) {
		t.Errorf("ShouldNotify(0.68, rollback) = true, want false (risky threshold)")
	}
	if !ShouldNotify(0.70, risky) {
		t.Errorf("ShouldNotify(0.70, rollback) = false, want true")
	}
}

func TestRiskLevel(t *testing.T) {
	if got := RiskLevel([]drift.Domain{drift.DomainAuth}); got != drift.RiskElevated {
		t.Errorf("RiskLevel(auth) = %v, want elevated", got)
	}
	if got := RiskLevel([]drift.Domain{drift.DomainAPI}); got != drift.RiskStandard {
		t.Errorf("RiskLevel(api) = %v, want standard", got)
	}
}
