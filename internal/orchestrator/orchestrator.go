// Package orchestrator drives a drift candidate through its lifecycle:
// one handler per state, one state transition per job invocation, one
// atomic persist per transition.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/accumulate"
	"github.com/driftwatch/driftwatch/internal/audit"
	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/correlate"
	"github.com/driftwatch/driftwatch/internal/docresolve"
	"github.com/driftwatch/driftwatch/internal/docsys"
	"github.com/driftwatch/driftwatch/internal/drift"
	"github.com/driftwatch/driftwatch/internal/fingerprint"
	"github.com/driftwatch/driftwatch/internal/lock"
	"github.com/driftwatch/driftwatch/internal/notify"
	"github.com/driftwatch/driftwatch/internal/ownership"
	"github.com/driftwatch/driftwatch/internal/patch"
	"github.com/driftwatch/driftwatch/internal/queue"
	"github.com/driftwatch/driftwatch/internal/signal"
)

// mappingNoticeWindow suppresses repeat needs_mapping pings for a
// (workspace, repo) pair.
const mappingNoticeWindow = 7 * 24 * time.Hour

// handlerFunc runs the work of one state and names the next. It may
// mutate the candidate; nothing is persisted if it errors.
type handlerFunc func(ctx context.Context, c *drift.Candidate) (drift.State, error)

// Deps are the collaborators the orchestrator coordinates.
type Deps struct {
	Drifts      *drift.Store
	Signals     *signal.Store
	Correlator  *correlate.Correlator
	Dedupe      *fingerprint.Checker
	Triage      *Triage
	Resolver    *docresolve.Resolver
	Mappings    *docresolve.Store
	Docs        *docsys.Registry
	Planner     *patch.Planner
	Generator   *patch.Generator
	Proposals   *patch.Store
	Owners      *ownership.Resolver
	Router      *ownership.Router
	Notifier    *notify.Notifier
	Accumulator *accumulate.Accumulator
	Locks       *lock.Manager
	Jobs        *queue.Store
	Audit       *audit.Store
}

// Orchestrator exclusively owns DriftCandidate state transitions.
type Orchestrator struct {
	cfg      *config.Config
	deps     Deps
	holder   string
	handlers map[drift.State]handlerFunc
}

// New creates an Orchestrator.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	host, _ := os.Hostname()
	o := &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		holder: fmt.Sprintf("%s/%s", host, uuid.NewString()[:8]),
	}
	o.handlers = map[drift.State]handlerFunc{
		drift.StateIngested:            o.handleIngested,
		drift.StateEligibilityChecked:  o.handleEligibilityChecked,
		drift.StateSignalsCorrelated:   o.handleSignalsCorrelated,
		drift.StateDriftClassified:     o.handleDriftClassified,
		drift.StateDocsResolved:        o.handleDocsResolved,
		drift.StateDocsFetched:         o.handleDocsFetched,
		drift.StateDocContextExtracted: o.handleDocContextExtracted,
		drift.StateBaselineChecked:     o.handleBaselineChecked,
		drift.StatePatchPlanned:        o.handlePatchPlanned,
		drift.StatePatchGenerated:      o.handlePatchGenerated,
		drift.StatePatchValidated:      o.handlePatchValidated,
		drift.StateOwnerResolved:       o.handleOwnerResolved,
		drift.StateSlackSent:           o.handleSlackSent,
		drift.StateApproved:            o.handleApproved,
		drift.StateWritebackValidated:  o.handleWritebackValidated,
		drift.StateWrittenBack:         o.handleWrittenBack,
	}
	return o
}

// Result is the outcome of one transition.
type Result struct {
	Next        drift.State
	EnqueueNext bool
}

// ExecuteTransition runs the handler for the candidate's current state
// and persists the outcome as a single atomic update. States with no
// handler are left alone. A handler error leaves the candidate in its
// current state with EnqueueNext set: the stage is retried, never
// partially applied.
func (o *Orchestrator) ExecuteTransition(ctx context.Context, c *drift.Candidate) (Result, error) {
	h, ok := o.handlers[c.State]
	if !ok {
		return Result{Next: c.State}, nil
	}

	from := c.State
	next, err := h(ctx, c)
	if err != nil {
		return Result{Next: from, EnqueueNext: true}, err
	}
	if next != from {
		if !drift.ValidTransition(from, next) {
			return Result{Next: from, EnqueueNext: true},
				fmt.Errorf("handler for %s produced invalid transition to %s", from, next)
		}
		c.SetState(next)
	}

	if err := o.deps.Drifts.Update(ctx, c); err != nil {
		c.SetState(from)
		return Result{Next: from, EnqueueNext: true}, fmt.Errorf("persisting drift %s: %w", c.ID, err)
	}
	o.auditTransition(ctx, c, from, next)

	return Result{
		Next:        next,
		EnqueueNext: next != from && !next.Terminal() && !next.Waiting(),
	}, nil
}

// HandleJob is the queue handler: acquire the per-drift lock, advance
// one state, enqueue the follow-up if the pipeline continues.
func (o *Orchestrator) HandleJob(ctx context.Context, job *queue.Job) error {
	key := "drift:" + job.WorkspaceID + ":" + job.DriftID
	outcome, lockErr := o.deps.Locks.Acquire(key, o.holder)
	switch outcome {
	case lock.Contended:
		// Another worker is on this drift; this invocation no-ops.
		return nil
	case lock.StoreUnavailable:
		if !o.cfg.Lock.FailOpenOnStoreErr {
			return fmt.Errorf("lock store unavailable for %s: %w", key, lockErr)
		}
		log.Printf("lock store unavailable for %s, proceeding without lock: %v", key, lockErr)
	case lock.Acquired:
		defer func() {
			if err := o.deps.Locks.Release(key, o.holder); err != nil {
				log.Printf("releasing lock %s: %v", key, err)
			}
		}()
	}

	c, err := o.deps.Drifts.Get(ctx, job.WorkspaceID, job.DriftID)
	if err != nil {
		return fmt.Errorf("loading drift %s: %w", job.DriftID, err)
	}
	if c.State.Terminal() || c.State.Waiting() {
		return nil
	}

	res, err := o.ExecuteTransition(ctx, c)
	if err != nil {
		return err
	}
	if res.EnqueueNext {
		return o.deps.Jobs.Enqueue(job.WorkspaceID, job.DriftID, 0, 0)
	}
	return nil
}

// IngestSignal starts the lifecycle for a qualifying signal: one
// INGESTED candidate plus its first job. Signals that cannot evidence
// drift (chat chatter, opened-but-unmerged PRs are filtered later) do
// not start one.
func (o *Orchestrator) IngestSignal(r *http.Request, e *signal.Event) (string, error) {
	switch e.Kind {
	case signal.KindPRMerged, signal.KindIncident, signal.KindAlert:
	default:
		return "", nil
	}
	ctx := r.Context()

	c := &drift.Candidate{
		WorkspaceID:     e.WorkspaceID,
		SignalEventID:   e.ID,
		Service:         e.Service,
		Repo:            e.Repo,
		EvidenceSummary: firstNonEmpty(e.Title, e.Summary),
	}
	if err := o.deps.Drifts.Create(ctx, c); err != nil {
		return "", fmt.Errorf("creating drift candidate: %w", err)
	}
	o.audit(ctx, c, audit.Event{
		EventType: audit.EventStateTransition,
		ToState:   string(drift.StateIngested),
		Summary:   fmt.Sprintf("ingested %s signal from %s", e.Kind, e.Source),
	})

	if err := o.deps.Jobs.Enqueue(c.WorkspaceID, c.ID, 0, 0); err != nil {
		return "", fmt.Errorf("enqueueing first job: %w", err)
	}
	return c.ID, nil
}

// ResumeSnoozed moves every drift whose snooze has expired back to
// AWAITING_HUMAN. Called by the scheduled sweep.
func (o *Orchestrator) ResumeSnoozed(ctx context.Context, now time.Time) (int, error) {
	expired, err := o.deps.Drifts.ListSnoozeExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for i := range expired {
		c := &expired[i]
		from := c.State
		c.SetState(drift.StateAwaitingHuman)
		c.SnoozeUntil = nil
		if err := o.deps.Drifts.Update(ctx, c); err != nil {
			log.Printf("resuming snoozed drift %s: %v", c.ID, err)
			continue
		}
		o.auditTransition(ctx, c, from, c.State)
		resumed++
	}
	return resumed, nil
}

// failWith marks the candidate failed with a structured code and picks
// the matching terminal state.
func failWith(c *drift.Candidate, code, message string) drift.State {
	c.FailureCode = code
	c.FailureMessage = message
	if code == drift.CodeNeedsDocMapping {
		return drift.StateFailedNeedsMapping
	}
	return drift.StateFailed
}

// auditTransition records a state change. Failures to write the audit
// row never abort the transition they describe.
func (o *Orchestrator) auditTransition(ctx context.Context, c *drift.Candidate, from, to drift.State) {
	if from == to {
		return
	}
	eventType := audit.EventStateTransition
	summary := fmt.Sprintf("%s -> %s", from, to)
	if to == drift.StateFailed || to == drift.StateFailedNeedsMapping {
		eventType = audit.EventFailure
		summary = fmt.Sprintf("%s -> %s: %s (%s)", from, to, c.FailureMessage, c.FailureCode)
	}
	o.audit(ctx, c, audit.Event{
		EventType: eventType,
		FromState: string(from),
		ToState:   string(to),
		Summary:   summary,
	})
}

func (o *Orchestrator) audit(ctx context.Context, c *drift.Candidate, e audit.Event) {
	e.WorkspaceID = c.WorkspaceID
	e.EntityType = "drift"
	e.EntityID = c.ID
	e.ActorType = audit.ActorSystem
	e.ActorID = o.holder
	if err := o.deps.Audit.Log(ctx, e); err != nil {
		log.Printf("audit write failed for drift %s: %v", c.ID, err)
	}
}

// trigger loads the candidate's originating signal.
func (o *Orchestrator) trigger(ctx context.Context, c *drift.Candidate) (*signal.Event, error) {
	if c.SignalEventID == "" {
		return nil, nil
	}
	return o.deps.Signals.Get(ctx, c.WorkspaceID, c.SignalEventID)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
