package approval

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/driftwatch/driftwatch/internal/audit"
	"github.com/driftwatch/driftwatch/internal/drift"
	"github.com/driftwatch/driftwatch/internal/patch"
	"github.com/driftwatch/driftwatch/internal/queue"
)

// ErrNotActionable is returned when the drift is not waiting on a human
// decision.
var ErrNotActionable = fmt.Errorf("drift is not awaiting human action")

// Service applies human decisions: each action records an Approval,
// moves the drift exactly one transition, and re-enqueues it when
// processing should continue.
type Service struct {
	approvals *Store
	proposals *patch.Store
	drifts    *drift.Store
	jobs      *queue.Store
	auditLog  *audit.Store
}

// NewService wires the approval surface.
func NewService(approvals *Store, proposals *patch.Store, drifts *drift.Store, jobs *queue.Store, auditLog *audit.Store) *Service {
	return &Service{
		approvals: approvals,
		proposals: proposals,
		drifts:    drifts,
		jobs:      jobs,
		auditLog:  auditLog,
	}
}

// Approve accepts the proposal: drift moves to APPROVED and is
// re-enqueued for writeback.
func (s *Service) Approve(ctx context.Context, workspaceID, proposalID, actorID string) error {
	p, c, err := s.load(ctx, workspaceID, proposalID)
	if err != nil {
		return err
	}

	if err := s.proposals.SetStatus(workspaceID, p.ID, patch.StatusApproved); err != nil {
		return err
	}
	s.record(&Approval{
		WorkspaceID: workspaceID, ProposalID: p.ID, DriftID: c.ID,
		ActorID: actorID, Action: ActionApprove,
	})

	if err := s.transition(ctx, c, drift.StateApproved, actorID, "patch approved"); err != nil {
		return err
	}
	return s.jobs.Enqueue(workspaceID, c.ID, 0, 0)
}

// Reject declines the proposal with a category and optional reason. The
// drift terminates; nothing is re-enqueued.
func (s *Service) Reject(ctx context.Context, workspaceID, proposalID, actorID, category, reason string) error {
	p, c, err := s.load(ctx, workspaceID, proposalID)
	if err != nil {
		return err
	}

	if err := s.proposals.SetStatus(workspaceID, p.ID, patch.StatusRejected); err != nil {
		return err
	}
	s.record(&Approval{
		WorkspaceID: workspaceID, ProposalID: p.ID, DriftID: c.ID,
		ActorID: actorID, Action: ActionReject, Category: category, Reason: reason,
	})

	summary := "patch rejected"
	if category != "" {
		summary += " (" + category + ")"
	}
	return s.transition(ctx, c, drift.StateRejected, actorID, summary)
}

// Edit replaces the proposal's diff with a human revision. Every edit
// loops the drift back to PATCH_GENERATED and re-enqueues it for
// re-validation. With applyNow the proposal is pre-approved, so the
// pipeline proceeds to writeback once it re-validates; otherwise the
// edited patch flows back through review to a fresh approval.
func (s *Service) Edit(ctx context.Context, workspaceID, proposalID, actorID, newDiff string, applyNow bool) error {
	if newDiff == "" {
		return fmt.Errorf("edited diff is empty")
	}
	p, c, err := s.load(ctx, workspaceID, proposalID)
	if err != nil {
		return err
	}

	if err := s.proposals.ReplaceDiff(workspaceID, p.ID, newDiff); err != nil {
		return err
	}
	s.record(&Approval{
		WorkspaceID: workspaceID, ProposalID: p.ID, DriftID: c.ID,
		ActorID: actorID, Action: ActionEdit, EditedDiff: newDiff,
	})

	if applyNow {
		// applyNow carries the human's approval of their own diff: once
		// it re-validates, the pipeline skips the second review round.
		if err := s.proposals.SetStatus(workspaceID, p.ID, patch.StatusApproved); err != nil {
			return err
		}
	}

	if err := s.transition(ctx, c, drift.StateEditRequested, actorID, "patch edited by reviewer"); err != nil {
		return err
	}
	if err := s.transition(ctx, c, drift.StatePatchGenerated, actorID, "edited patch queued for re-validation"); err != nil {
		return err
	}
	return s.jobs.Enqueue(workspaceID, c.ID, 0, 0)
}

// Snooze pauses the drift for the given number of hours. The sweep
// re-activates it at expiry; nothing is re-enqueued now.
func (s *Service) Snooze(ctx context.Context, workspaceID, proposalID, actorID string, hours int) error {
	if hours <= 0 {
		return fmt.Errorf("snooze hours must be positive")
	}
	p, c, err := s.load(ctx, workspaceID, proposalID)
	if err != nil {
		return err
	}

	until := time.Now().UTC().Add(time.Duration(hours) * time.Hour)
	if err := s.proposals.SetStatus(workspaceID, p.ID, patch.StatusSnoozed); err != nil {
		return err
	}
	s.record(&Approval{
		WorkspaceID: workspaceID, ProposalID: p.ID, DriftID: c.ID,
		ActorID: actorID, Action: ActionSnooze, SnoozeUntil: &until,
	})

	c.SnoozeUntil = &until
	return s.transition(ctx, c, drift.StateSnoozed, actorID,
		fmt.Sprintf("snoozed until %s", until.Format(time.DateTime)))
}

// load resolves the proposal and its drift, and checks that the drift
// is actually waiting on a human.
func (s *Service) load(ctx context.Context, workspaceID, proposalID string) (*patch.Proposal, *drift.Candidate, error) {
	p, err := s.proposals.Get(workspaceID, proposalID)
	if err != nil {
		return nil, nil, err
	}
	c, err := s.drifts.Get(ctx, workspaceID, p.DriftID)
	if err != nil {
		return nil, nil, err
	}
	if !c.State.Waiting() {
		return nil, nil, fmt.Errorf("%w: drift %s is in state %s", ErrNotActionable, c.ID, c.State)
	}
	return p, c, nil
}

// transition applies one state change and audits it. A snoozed drift
// approached directly first takes the declared back-edge to
// AWAITING_HUMAN.
func (s *Service) transition(ctx context.Context, c *drift.Candidate, to drift.State, actorID, summary string) error {
	if c.State == drift.StateSnoozed && to != drift.StateAwaitingHuman {
		if err := s.transition(ctx, c, drift.StateAwaitingHuman, actorID, "snooze lifted by human action"); err != nil {
			return err
		}
	}
	if !drift.ValidTransition(c.State, to) {
		return fmt.Errorf("invalid transition %s -> %s for drift %s", c.State, to, c.ID)
	}

	from := c.State
	c.SetState(to)
	if to != drift.StateSnoozed {
		c.SnoozeUntil = nil
	}
	if err := s.drifts.Update(ctx, c); err != nil {
		return fmt.Errorf("persisting drift %s: %w", c.ID, err)
	}

	if err := s.auditLog.Log(ctx, audit.Event{
		WorkspaceID: c.WorkspaceID,
		EntityType:  "drift",
		EntityID:    c.ID,
		EventType:   audit.EventHumanAction,
		ActorType:   audit.ActorUser,
		ActorID:     actorID,
		FromState:   string(from),
		ToState:     string(to),
		Summary:     summary,
	}); err != nil {
		log.Printf("audit write failed for drift %s (%s -> %s): %v", c.ID, from, to, err)
	}
	return nil
}

func (s *Service) record(a *Approval) {
	if err := s.approvals.Create(a); err != nil {
		log.Printf("recording approval for proposal %s failed: %v", a.ProposalID, err)
	}
}
