// Package score converts detected signals and impact domains into
// bounded confidence, impact, and drift scores.
package score

import "github.com/driftwatch/driftwatch/internal/drift"

// SignalKind is a distinct category of supporting evidence.
type SignalKind string

const (
	SignalExplicitPRChange SignalKind = "explicit_pr_change"
	SignalPathMatch        SignalKind = "path_match"
	SignalRepeatIncident   SignalKind = "repeat_incident"
	SignalChatRepetition   SignalKind = "chat_repetition"
	SignalOwnerMismatch    SignalKind = "owner_mismatch"
)

// MaxConfidence caps evidence strength: the system never claims
// certainty about a drift.
const MaxConfidence = 0.95

// signalWeights are fixed per signal kind. Duplicate kinds never
// double-count.
var signalWeights = map[SignalKind]float64{
	SignalExplicitPRChange: 0.50,
	SignalPathMatch:        0.20,
	SignalRepeatIncident:   0.25,
	SignalChatRepetition:   0.20,
	SignalOwnerMismatch:    0.60,
}

// domainWeights map each impact domain to its blast radius weight.
var domainWeights = map[drift.Domain]float64{
	drift.DomainRollback:         0.9,
	drift.DomainAuth:             0.9,
	drift.DomainDataMigration:    0.9,
	drift.DomainDeployment:       0.8,
	drift.DomainInfra:            0.8,
	drift.DomainConfig:           0.8,
	drift.DomainAPI:              0.6,
	drift.DomainObservability:    0.6,
	drift.DomainOnboarding:       0.6,
	drift.DomainOwnershipRouting: 0.5,
}

// riskyDomains require a higher drift score before immediate
// notification: a deliberate false-positive control for domains where a
// wrong page is expensive.
var riskyDomains = map[drift.Domain]bool{
	drift.DomainRollback:      true,
	drift.DomainAuth:          true,
	drift.DomainDataMigration: true,
}

// Notification thresholds. Risky domains use the higher bar.
const (
	NotifyThresholdRisky    = 0.70
	NotifyThresholdStandard = 0.60
)

// EvidenceStrength sums the weights of the distinct signal kinds
// present, capped at MaxConfidence.
func EvidenceStrength(kinds []SignalKind) float64 {
	seen := make(map[SignalKind]bool, len(kinds))
	total := 0.0
	for _, k := range kinds {
		if seen[k] {
			continue
		}
		seen[k] = true
		total += signalWeights[k]
	}
	if total > MaxConfidence {
		return MaxConfidence
	}
	return total
}

// ImpactScore is the maximum domain weight over the drift's domains,
// defaulting to 0.5 when no recognized domain is present.
func ImpactScore(domains []drift.Domain) float64 {
	best := 0.0
	recognized := false
	for _, d := range domains {
		if w, ok := domainWeights[d]; ok {
			recognized = true
			if w > best {
				best = w
			}
		}
	}
	if !recognized {
		return 0.5
	}
	return best
}

// DriftScore is clamp(confidence) × clamp(impact).
func DriftScore(confidence, impact float64) float64 {
	return clamp(confidence, 0, MaxConfidence) * clamp(impact, 0, 1)
}

// Risky reports whether any of the drift's domains is in the
// high-blast-radius set.
func Risky(domains []drift.Domain) bool {
	for _, d := range domains {
		if riskyDomains[d] {
			return true
		}
	}
	return false
}

// ShouldNotify applies the asymmetric notification threshold: risky
// domains need driftScore >= 0.70, everything else >= 0.60.
func ShouldNotify(driftScore float64, domains []drift.Domain) bool {
	if Risky(domains) {
		return driftScore >= NotifyThresholdRisky
	}
	return driftScore >= NotifyThresholdStandard
}

// RiskLevel buckets the drift by its domains.
func RiskLevel(domains []drift.Domain) drift.RiskLevel {
	if Risky(domains) {
		return drift.RiskElevated
	}
	return drift.RiskStandard
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
