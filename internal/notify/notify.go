// Package notify delivers drift notifications to Slack, either
// immediately with interactive review buttons or batched into a
// per-channel digest.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/driftwatch/driftwatch/internal/drift"
	"github.com/driftwatch/driftwatch/internal/patch"
)

// ErrPostDenied is returned when Slack rejects the post outright
// (auth or permission failure rather than a transient error).
var ErrPostDenied = fmt.Errorf("slack rejected the post")

// Notifier posts drift notifications to a Slack incoming webhook.
type Notifier struct {
	webhookURL     string
	defaultChannel string
	digests        *DigestStore
	client         *http.Client
}

// NewNotifier creates a Notifier. An empty webhookURL disables posting;
// everything then lands in the digest store only.
func NewNotifier(webhookURL, defaultChannel string, digests *DigestStore) *Notifier {
	return &Notifier{
		webhookURL:     webhookURL,
		defaultChannel: defaultChannel,
		digests:        digests,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NotifyProposal sends the review message for a generated patch: the
// drift summary, a diff preview, and approve/reject/edit/snooze
// buttons.
func (n *Notifier) NotifyProposal(ctx context.Context, c *drift.Candidate, p *patch.Proposal) error {
	channel := c.Owner.Channel
	if channel == "" {
		channel = n.defaultChannel
	}

	header := fmt.Sprintf("Documentation drift in *%s*", c.Service)
	if c.RiskLevel == drift.RiskElevated {
		header = ":rotating_light: " + header
	}

	blocks := []block{
		section(fmt.Sprintf("%s\n%s", header, c.EvidenceSummary)),
		section(fmt.Sprintf("Proposed patch for `%s` (%s, score %.2f):\n```%s```",
			p.DocID, p.PatchStyle, c.DriftScore, diffPreview(p.UnifiedDiff))),
		actions(c.WorkspaceID, p.ID),
	}
	return n.post(ctx, channel, fmt.Sprintf("Documentation drift in %s", c.Service), blocks)
}

// NotifyNeedsMapping asks a human to configure a doc mapping for the
// repo. Callers dedupe via the mapping-notice window before calling.
func (n *Notifier) NotifyNeedsMapping(ctx context.Context, c *drift.Candidate) error {
	text := fmt.Sprintf(
		"Drift detected in *%s* (%s) but no document mapping exists. Configure one under /api/mappings to enable patching.",
		c.Service, c.Repo)
	return n.post(ctx, n.defaultChannel, text, []block{section(text)})
}

// EnqueueDigest buffers a drift for the next digest flush.
func (n *Notifier) EnqueueDigest(c *drift.Candidate) error {
	channel := c.Owner.Channel
	if channel == "" {
		channel = n.defaultChannel
	}
	return n.digests.Add(&DigestItem{
		WorkspaceID: c.WorkspaceID,
		Channel:     channel,
		DriftID:     c.ID,
		Text:        fmt.Sprintf("*%s*: %s (score %.2f)", c.Service, c.EvidenceSummary, c.DriftScore),
	})
}

// FlushDigests posts one summary message per channel with pending
// items, then marks them flushed.
func (n *Notifier) FlushDigests(ctx context.Context, workspaceID string) (int, error) {
	byChannel, err := n.digests.PendingByChannel(workspaceID)
	if err != nil {
		return 0, err
	}

	flushed := 0
	for channel, items := range byChannel {
		var b strings.Builder
		fmt.Fprintf(&b, "Drift digest — %d item(s) pending review:\n", len(items))
		for _, it := range items {
			b.WriteString("• " + it.Text + "\n")
		}
		if err := n.post(ctx, channel, b.String(), []block{section(b.String())}); err != nil {
			return flushed, fmt.Errorf("flushing digest to %s: %w", channel, err)
		}
		ids := make([]string, len(items))
		for i, it := range items {
			ids[i] = it.ID
		}
		if err := n.digests.MarkFlushed(workspaceID, ids); err != nil {
			return flushed, err
		}
		flushed += len(items)
	}
	return flushed, nil
}

// post sends one message to the incoming webhook.
func (n *Notifier) post(ctx context.Context, channel, fallbackText string, blocks []block) error {
	if n.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"channel": channel,
		"text":    fallbackText,
		"blocks":  blocks,
	})
	if err != nil {
		return fmt.Errorf("marshalling slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: status %d", ErrPostDenied, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

// diffPreview bounds the diff shown inline in Slack.
func diffPreview(diff string) string {
	const maxPreview = 1500
	if len(diff) <= maxPreview {
		return diff
	}
	return diff[:maxPreview] + "\n… (truncated)"
}

// block is a Slack Block Kit block.
type block map[string]any

func section(text string) block {
	return block{
		"type": "section",
		"text": map[string]any{"type": "mrkdwn", "text": text},
	}
}

// actions builds the review buttons. Action values carry the workspace
// and proposal so the interaction handler can route them back.
func actions(workspaceID, proposalID string) block {
	button := func(actionID, label, style string) map[string]any {
		b := map[string]any{
			"type":      "button",
			"action_id": actionID,
			"text":      map[string]any{"type": "plain_text", "text": label},
			"value":     workspaceID + ":" + proposalID,
		}
		if style != "" {
			b["style"] = style
		}
		return b
	}
	return block{
		"type": "actions",
		"elements": []map[string]any{
			button("drift_approve", "Approve", "primary"),
			button("drift_reject", "Reject", "danger"),
			button("drift_edit", "Edit", ""),
			button("drift_snooze", "Snooze 24h", ""),
		},
	}
}
