// Package correlate joins a drift's originating signal with other
// signals in the workspace to strengthen (never gate) its evidence.
package correlate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/driftwatch/driftwatch/internal/score"
	"github.com/driftwatch/driftwatch/internal/signal"
)

// DefaultWindow is how far around the trigger signal we look for
// related signals.
const DefaultWindow = 48 * time.Hour

// MaxBoost caps the additive confidence boost from correlation.
const MaxBoost = 0.25

// perSignalBoost is the confidence contribution of one correlated signal.
const perSignalBoost = 0.10

// Result describes what correlation found. A zero Result (no boost, no
// reason) is the normal outcome when nothing is related.
type Result struct {
	Boost       float64
	JoinReason  string
	Related     []signal.Event
	SignalKinds []score.SignalKind
}

// Correlator joins signals across a time/scope window.
type Correlator struct {
	signals *signal.Store
	window  time.Duration
}

// New creates a Correlator with the given lookback/lookahead window.
// A zero window uses DefaultWindow.
func New(signals *signal.Store, window time.Duration) *Correlator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Correlator{signals: signals, window: window}
}

// Correlate finds signals related to the trigger by shared service or
// repo within the window. Absence of related signals is not an error:
// the pipeline proceeds with zero boost.
func (c *Correlator) Correlate(ctx context.Context, trigger *signal.Event) (Result, error) {
	since := trigger.OccurredAt.Add(-c.window)
	until := trigger.OccurredAt.Add(c.window)

	events, err := c.signals.ListWindow(ctx, trigger.WorkspaceID, since, until, trigger.ID)
	if err != nil {
		return Result{}, fmt.Errorf("listing correlation window: %w", err)
	}

	var res Result
	seenKinds := make(map[score.SignalKind]bool)
	for _, e := range events {
		if !related(trigger, &e) {
			continue
		}
		res.Related = append(res.Related, e)
		res.Boost += perSignalBoost

		if kind, ok := correlatedKind(e.Kind); ok && !seenKinds[kind] {
			seenKinds[kind] = true
			res.SignalKinds = append(res.SignalKinds, kind)
		}
	}
	if res.Boost > MaxBoost {
		res.Boost = MaxBoost
	}
	if len(res.Related) > 0 {
		res.JoinReason = joinReason(trigger, res.Related)
	}
	return res, nil
}

// related matches on shared service, shared repo, or a service mention
// in the other signal's text.
func related(trigger *signal.Event, other *signal.Event) bool {
	if trigger.Service != "" && strings.EqualFold(trigger.Service, other.Service) {
		return true
	}
	if trigger.Repo != "" && trigger.Repo == other.Repo {
		return true
	}
	if trigger.Service != "" {
		text := strings.ToLower(other.Title + " " + other.Summary)
		if strings.Contains(text, strings.ToLower(trigger.Service)) {
			return true
		}
	}
	return false
}

func correlatedKind(k signal.Kind) (score.SignalKind, bool) {
	switch k {
	case signal.KindIncident, signal.KindAlert:
		return score.SignalRepeatIncident, true
	case signal.KindChat:
		return score.SignalChatRepetition, true
	}
	return "", false
}

func joinReason(trigger *signal.Event, related []signal.Event) string {
	counts := make(map[signal.Kind]int)
	for _, e := range related {
		counts[e.Kind]++
	}
	var parts []string
	for kind, n := range counts {
		parts = append(parts, fmt.Sprintf("%d %s", n, kind))
	}
	return fmt.Sprintf("%s correlated with %s for %s",
		trigger.Kind, strings.Join(parts, ", "), scopeOf(trigger))
}

func scopeOf(e *signal.Event) string {
	if e.Service != "" {
		return "service " + e.Service
	}
	if e.Repo != "" {
		return "repo " + e.Repo
	}
	return "workspace " + e.WorkspaceID
}
