package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/driftwatch/driftwatch/internal/accumulate"
	"github.com/driftwatch/driftwatch/internal/audit"
	"github.com/driftwatch/driftwatch/internal/baseline"
	"github.com/driftwatch/driftwatch/internal/docsys"
	"github.com/driftwatch/driftwatch/internal/drift"
	"github.com/driftwatch/driftwatch/internal/notify"
	"github.com/driftwatch/driftwatch/internal/ownership"
	"github.com/driftwatch/driftwatch/internal/patch"
	"github.com/driftwatch/driftwatch/internal/score"
	"github.com/driftwatch/driftwatch/internal/signal"
)

// handleIngested checks eligibility. A PR-sourced signal that was not
// actually merged evidences nothing; it completes immediately.
func (o *Orchestrator) handleIngested(ctx context.Context, c *drift.Candidate) (drift.State, error) {
	trigger, err := o.trigger(ctx, c)
	if err != nil {
		return c.State, err
	}
	if trigger == nil {
		return c.State, fmt.Errorf("drift %s has no triggering signal", c.ID)
	}
	if (trigger.Kind == signal.KindPRMerged || trigger.Kind == signal.KindPROpened) && !trigger.Merged {
		c.EvidenceSummary = "PR was closed without merging; no drift to process"
		return drift.StateCompleted, nil
	}
	return drift.StateEligibilityChecked, nil
}

// handleEligibilityChecked joins related signals in the workspace
// window and records the boost for classification. No related signals
// is the normal case, not an error.
func (o *Orchestrator) handleEligibilityChecked(ctx context.Context, c *drift.Candidate) (drift.State, error) {
	trigger, err := o.trigger(ctx, c)
	if err != nil {
		return c.State, err
	}

	res, err := o.deps.Correlator.Correlate(ctx, trigger)
	if err != nil {
		return c.State, err
	}

	if c.FindingByStage(drift.StageSignalsCorrelated) == nil {
		kinds := make([]string, len(res.SignalKinds))
		for i, k := range res.SignalKinds {
			kinds[i] = string(k)
		}
		c.AppendFinding(drift.Finding{
			Stage: drift.StageSignalsCorrelated,
			Correlation: &drift.CorrelationFinding{
				Boost:       res.Boost,
				JoinReason:  res.JoinReason,
				SignalKinds: kinds,
			},
		})
	}
	return drift.StateSignalsCorrelated, nil
}

// handleSignalsCorrelated classifies the drift and checks for
// duplicates. The fingerprint is stored only after the duplicate check
// passes.
func (o *Orchestrator) handleSignalsCorrelated(ctx context.Context, c *drift.Candidate) (drift.State, error) {
	trigger, err := o.trigger(ctx, c)
	if err != nil {
		return c.State, err
	}

	cls := o.deps.Triage.Classify(ctx, trigger)
	if !cls.DriftDetected {
		c.EvidenceSummary = "triage found no documentation drift"
		return drift.StateCompleted, nil
	}

	c.DriftType = cls.DriftType
	c.DriftDomains = cls.Domains
	if cls.Summary != "" {
		c.EvidenceSummary = cls.Summary
	}

	var corr *drift.CorrelationFinding
	if f := c.FindingByStage(drift.StageSignalsCorrelated); f != nil {
		corr = f.Correlation
	}
	kinds := evidenceKinds(trigger, cls, corr)
	confidence := score.EvidenceStrength(kinds)
	if corr != nil {
		confidence += corr.Boost
	}
	if confidence > score.MaxConfidence {
		confidence = score.MaxConfidence
	}
	c.Confidence = confidence
	c.ImpactScore = score.ImpactScore(c.DriftDomains)
	c.DriftScore = score.DriftScore(c.Confidence, c.ImpactScore)
	c.RiskLevel = score.RiskLevel(c.DriftDomains)

	fp, dup, err := o.deps.Dedupe.CheckDuplicate(ctx, c)
	if err != nil {
		return c.State, err
	}
	if dup.IsDuplicate && !dup.ShouldNotify {
		c.EvidenceSummary = dup.Reason
		return drift.StateCompleted, nil
	}
	c.Fingerprint = fp
	return drift.StateDriftClassified, nil
}

// handleDriftClassified resolves the authoritative document. An
// ignored scope completes; a missing mapping fails with a code and a
// deduplicated human ping.
func (o *Orchestrator) handleDriftClassified(ctx context.Context, c *drift.Candidate) (drift.State, error) {
	trigger, err := o.trigger(ctx, c)
	if err != nil {
		return c.State, err
	}
	prBody := ""
	if trigger != nil {
		prBody = prMaterial(trigger).Body
	}

	res, err := o.deps.Resolver.Resolve(ctx, c, prBody)
	if err != nil {
		return c.State, err
	}
	res.Apply(c)

	switch res.Status {
	case drift.ResolutionIgnored:
		return drift.StateCompleted, nil
	case drift.ResolutionNeedsMapping:
		o.noticeNeedsMapping(ctx, c)
		return failWith(c, drift.CodeNeedsDocMapping,
			fmt.Sprintf("no document mapping for %s (%s)", c.Service, c.Repo)), nil
	}
	return drift.StateDocsResolved, nil
}

// noticeNeedsMapping pings a human about the missing mapping at most
// once per repo per notice window.
func (o *Orchestrator) noticeNeedsMapping(ctx context.Context, c *drift.Candidate) {
	due, err := o.deps.Mappings.NoticeDue(c.WorkspaceID, c.Repo, mappingNoticeWindow)
	if err != nil {
		log.Printf("checking mapping notice for %s: %v", c.Repo, err)
		return
	}
	if !due {
		return
	}
	if err := o.deps.Notifier.NotifyNeedsMapping(ctx, c); err != nil {
		log.Printf("needs-mapping notification for %s failed: %v", c.Repo, err)
		return
	}
	if err := o.deps.Mappings.MarkNoticed(c.WorkspaceID, c.Repo); err != nil {
		log.Printf("marking mapping notice for %s: %v", c.Repo, err)
	}
}

// handleDocsResolved fetches the resolved document and snapshots its
// content and revision for every later stage.
func (o *Orchestrator) handleDocsResolved(ctx context.Context, c *drift.Candidate) (drift.State, error) {
	if err := o.fetchDoc(ctx, c); err != nil {
		if handled, state := fetchFailureState(c, err); handled {
			return state, nil
		}
		return c.State, err
	}
	return drift.StateDocsFetched, nil
}

// fetchDoc appends the doc-fetched snapshot if it is not already there.
func (o *Orchestrator) fetchDoc(ctx context.Context, c *drift.Candidate) error {
	if c.FindingByStage(drift.StageDocFetched) != nil {
		return nil
	}
	adapter, err := o.deps.Docs.For(c.DocSystem)
	if err != nil {
		return err
	}
	doc, err := adapter.Fetch(ctx, c.DocID)
	if err != nil {
		return err
	}
	c.AppendFinding(drift.Finding{
		Stage: drift.StageDocFetched,
		DocFetched: &drift.DocFetchedFinding{
			DocSystem: c.DocSystem,
			DocID:     c.DocID,
			Content:   doc.Content,
			Revision:  doc.Revision,
		},
	})
	return nil
}

// fetchFailureState maps terminal fetch failures to their states.
// Unknown errors are transient and retried.
func fetchFailureState(c *drift.Candidate, err error) (bool, drift.State) {
	if errors.Is(err, docsys.ErrDocNotFound) {
		return true, failWith(c, drift.CodeNeedsDocMapping,
			fmt.Sprintf("mapped document %s/%s does not exist", c.DocSystem, c.DocID))
	}
	return false, ""
}

// handleDocsFetched extracts both comparison sides: the evidence pack
// from the PR and the baseline anchors from the document.
func (o *Orchestrator) handleDocsFetched(ctx context.Context, c *drift.Candidate) (drift.State, error) {
	fetched := c.FindingByStage(drift.StageDocFetched)
	if fetched == nil || fetched.DocFetched == nil {
		return c.State, fmt.Errorf("no fetched document on drift %s", c.ID)
	}

	trigger, err := o.trigger(ctx, c)
	if err != nil {
		return c.State, err
	}
	var in baseline.PRInput
	if trigger != nil {
		in = prMaterial(trigger)
	} else {
		// Synthetic bundle: the concatenated summaries are the evidence.
		in = baseline.PRInput{Body: c.EvidenceSummary}
	}

	if c.FindingByStage(drift.StageContextExtracted) == nil {
		c.AppendFinding(drift.Finding{
			Stage: drift.StageContextExtracted,
			ContextExtracted: &drift.ContextFinding{
				Evidence: baseline.ExtractEvidence(in),
				Anchors:  baseline.ExtractAnchors(fetched.DocFetched.Content),
			},
		})
	}
	return drift.StateDocContextExtracted, nil
}

// handleDocContextExtracted runs the per-type baseline comparison. No
// conflict between evidence and anchors means the doc is still right.
func (o *Orchestrator) handleDocContextExtracted(ctx context.Context, c *drift.Candidate) (drift.State, error) {
	extracted := c.FindingByStage(drift.StageContextExtracted)
	if extracted == nil || extracted.ContextExtracted == nil {
		return c.State, fmt.Errorf("no extracted context on drift %s", c.ID)
	}

	opts := baseline.Options{}
	trigger, err := o.trigger(ctx, c)
	if err != nil {
		return c.State, err
	}
	if trigger != nil {
		opts.PRProse = prMaterial(trigger).Body
	} else {
		opts.PRProse = c.EvidenceSummary
	}
	if c.DriftType == drift.TypeOwnership {
		owner, err := o.deps.Owners.Resolve(c.WorkspaceID, c.Service)
		if err != nil {
			return c.State, err
		}
		opts.AuthoritativeOwner = owner.Primary
	}

	res := baseline.Compare(c.DriftType, extracted.ContextExtracted.Evidence, extracted.ContextExtracted.Anchors, opts)
	if c.FindingByStage(drift.StageBaselineCompared) == nil {
		c.AppendFinding(drift.Finding{Stage: drift.StageBaselineCompared, BaselineCompared: &res})
	}

	if !res.HasMatch {
		c.EvidenceSummary = "baseline comparison found no conflict with the document"
		return drift.StateCompleted, nil
	}
	return drift.StateBaselineChecked, nil
}

// handleBaselineChecked either buffers a low-urgency drift into its
// document's accumulation window or plans the patch. Synthetic bundles
// are never re-buffered.
func (o *Orchestrator) handleBaselineChecked(ctx context.Context, c *drift.Candidate) (drift.State, error) {
	isBundle := c.SignalEventID == ""
	if !isBundle && !score.ShouldNotify(c.DriftScore, c.DriftDomains) {
		return o.bufferIntoWindow(ctx, c)
	}

	// A bundle arrives here without a document snapshot.
	if err := o.fetchDoc(ctx, c); err != nil {
		if handled, state := fetchFailureState(c, err); handled {
			return state, nil
		}
		return c.State, err
	}

	plan := o.deps.Planner.Plan(ctx, c)
	if c.FindingByStage(drift.StagePatchPlanned) == nil {
		c.AppendFinding(drift.Finding{Stage: drift.StagePatchPlanned, PatchPlanned: &plan})
	}
	return drift.StatePatchPlanned, nil
}

func (o *Orchestrator) bufferIntoWindow(ctx context.Context, c *drift.Candidate) (drift.State, error) {
	w, tripped, err := o.deps.Accumulator.Add(ctx, c)
	if err != nil {
		return c.State, err
	}
	if tripped && w.Status == accumulate.StatusAccumulating {
		bundle, err := o.deps.Accumulator.Bundle(ctx, w)
		if err != nil {
			return c.State, err
		}
		if err := o.deps.Jobs.Enqueue(bundle.WorkspaceID, bundle.ID, 0, 0); err != nil {
			return c.State, err
		}
	}
	c.EvidenceSummary = fmt.Sprintf("buffered into accumulation window %s: %s", w.ID, c.EvidenceSummary)
	return drift.StateCompleted, nil
}

// handlePatchPlanned generates the diff and persists the proposal.
// CreateForDrift returns the existing pending proposal on re-runs, so
// at-least-once delivery never produces duplicates.
func (o *Orchestrator) handlePatchPlanned(ctx context.Context, c *drift.Candidate) (drift.State, error) {
	fetched := c.FindingByStage(drift.StageDocFetched)
	if fetched == nil || fetched.DocFetched == nil {
		return c.State, fmt.Errorf("no fetched document on drift %s", c.ID)
	}

	gen, err := o.deps.Generator.Generate(ctx, c)
	if err != nil {
		return c.State, err
	}

	if _, err := o.deps.Proposals.CreateForDrift(&patch.Proposal{
		WorkspaceID:  c.WorkspaceID,
		DriftID:      c.ID,
		DocSystem:    c.DocSystem,
		DocID:        c.DocID,
		PatchStyle:   gen.PatchStyle,
		UnifiedDiff:  gen.UnifiedDiff,
		Confidence:   c.Confidence,
		BaseRevision: fetched.DocFetched.Revision,
	}); err != nil {
		return c.State, err
	}
	return drift.StatePatchGenerated, nil
}

// handlePatchGenerated runs the validation battery against the document
// snapshot. A validation failure is terminal with a specific code.
func (o *Orchestrator) handlePatchGenerated(ctx context.Context, c *drift.Candidate) (drift.State, error) {
	p, err := o.latestProposal(c)
	if err != nil {
		return c.State, err
	}
	fetched := c.FindingByStage(drift.StageDocFetched)
	if fetched == nil || fetched.DocFetched == nil {
		return c.State, fmt.Errorf("no fetched document on drift %s", c.ID)
	}

	if err := patch.Validate(p, fetched.DocFetched.Content, fetched.DocFetched.Revision); err != nil {
		var vErr *patch.ValidationError
		if errors.As(err, &vErr) {
			return failWith(c, drift.CodePatchValidationFailed, vErr.Error()), nil
		}
		return c.State, err
	}
	if p.Status == patch.StatusApproved {
		// A human-edited diff applied with applyNow: already approved,
		// skip the review round and head for writeback.
		return drift.StateApproved, nil
	}
	return drift.StatePatchValidated, nil
}

// handlePatchValidated resolves who owns the drifted document.
func (o *Orchestrator) handlePatchValidated(ctx context.Context, c *drift.Candidate) (drift.State, error) {
	owner, err := o.deps.Owners.Resolve(c.WorkspaceID, c.Service)
	if err != nil {
		return c.State, err
	}
	c.Owner = owner
	return drift.StateOwnerResolved, nil
}

// handleOwnerResolved routes the notification: immediate, digest, or
// suppressed. A denied Slack post is terminal, not retried.
func (o *Orchestrator) handleOwnerResolved(ctx context.Context, c *drift.Candidate) (drift.State, error) {
	p, err := o.latestProposal(c)
	if err != nil {
		return c.State, err
	}

	switch o.deps.Router.Route(c, c.Owner.Channel != "") {
	case ownership.DecisionImmediate:
		if err := o.deps.Notifier.NotifyProposal(ctx, c, p); err != nil {
			if errors.Is(err, notify.ErrPostDenied) {
				return failWith(c, drift.CodeSlackPostDenied, err.Error()), nil
			}
			return c.State, err
		}
	case ownership.DecisionDigest:
		if err := o.deps.Notifier.EnqueueDigest(c); err != nil {
			return c.State, err
		}
	case ownership.DecisionSuppress:
		log.Printf("notification suppressed for drift %s (score %.2f)", c.ID, c.DriftScore)
	}
	return drift.StateSlackSent, nil
}

// handleSlackSent parks the drift until a human decides.
func (o *Orchestrator) handleSlackSent(ctx context.Context, c *drift.Candidate) (drift.State, error) {
	return drift.StateAwaitingHuman, nil
}

// handleApproved re-validates the approved patch against the live
// document. A revision moved since fetch means someone else edited the
// doc: DOC_CONFLICT, nothing written.
func (o *Orchestrator) handleApproved(ctx context.Context, c *drift.Candidate) (drift.State, error) {
	p, err := o.latestProposal(c)
	if err != nil {
		return c.State, err
	}
	adapter, err := o.deps.Docs.For(c.DocSystem)
	if err != nil {
		return c.State, err
	}
	doc, err := adapter.Fetch(ctx, c.DocID)
	if err != nil {
		return c.State, err
	}

	if err := patch.Validate(p, doc.Content, doc.Revision); err != nil {
		var vErr *patch.ValidationError
		if errors.As(err, &vErr) {
			if vErr.Check == "revision" {
				return failWith(c, drift.CodeDocConflict,
					fmt.Sprintf("document %s revision moved from %s to %s since fetch", c.DocID, p.BaseRevision, doc.Revision)), nil
			}
			return failWith(c, drift.CodePatchValidationFailed, vErr.Error()), nil
		}
		return c.State, err
	}
	return drift.StateWritebackValidated, nil
}

// handleWritebackValidated applies the patch to the document under
// optimistic concurrency.
func (o *Orchestrator) handleWritebackValidated(ctx context.Context, c *drift.Candidate) (drift.State, error) {
	p, err := o.latestProposal(c)
	if err != nil {
		return c.State, err
	}
	adapter, err := o.deps.Docs.For(c.DocSystem)
	if err != nil {
		return c.State, err
	}
	doc, err := adapter.Fetch(ctx, c.DocID)
	if err != nil {
		return c.State, err
	}

	updated, err := patch.ApplyUnifiedDiff(doc.Content, p.UnifiedDiff)
	if err != nil {
		return failWith(c, drift.CodeDocConflict,
			fmt.Sprintf("patch no longer applies to %s: %v", c.DocID, err)), nil
	}

	if err := adapter.Write(ctx, c.DocID, updated, p.BaseRevision); err != nil {
		switch {
		case errors.Is(err, docsys.ErrRevisionConflict):
			return failWith(c, drift.CodeDocConflict, err.Error()), nil
		case errors.Is(err, docsys.ErrDocNotFound):
			return failWith(c, drift.CodeWritebackFailed, err.Error()), nil
		}
		return c.State, err
	}

	o.audit(ctx, c, audit.Event{
		EventType: audit.EventWriteback,
		Summary:   fmt.Sprintf("patch %s written to %s/%s", p.ID, c.DocSystem, c.DocID),
	})
	return drift.StateWrittenBack, nil
}

// handleWrittenBack closes out the lifecycle.
func (o *Orchestrator) handleWrittenBack(ctx context.Context, c *drift.Candidate) (drift.State, error) {
	return drift.StateCompleted, nil
}

// latestProposal loads the authoritative (most recent) proposal.
func (o *Orchestrator) latestProposal(c *drift.Candidate) (*patch.Proposal, error) {
	p, err := o.deps.Proposals.LatestForDrift(c.WorkspaceID, c.ID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("no patch proposal on drift %s", c.ID)
	}
	return p, nil
}
