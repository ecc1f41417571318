package ownership

import "github.com/driftwatch/driftwatch/internal/drift"

// Decision is how a drift notification is delivered.
type Decision string

const (
	DecisionImmediate Decision = "immediate"
	DecisionDigest    Decision = "digest"
	DecisionSuppress  Decision = "suppress"
)

// Router decides notification urgency from confidence, risk level, and
// whether the resolved owner has a reachable channel.
type Router struct {
	NotifyThreshold      float64
	RiskyNotifyThreshold float64
}

// Route picks the delivery mode. An elevated-risk drift above its
// threshold is never suppressed: without a channel it still lands in
// the digest.
func (r *Router) Route(c *drift.Candidate, channelAvailable bool) Decision {
	threshold := r.NotifyThreshold
	if c.RiskLevel == drift.RiskElevated {
		threshold = r.RiskyNotifyThreshold
	}

	if c.DriftScore >= threshold {
		if channelAvailable {
			return DecisionImmediate
		}
		return DecisionDigest
	}

	if c.RiskLevel == drift.RiskElevated {
		// Below threshold but high blast radius: keep it visible.
		return DecisionDigest
	}
	return DecisionSuppress
}
