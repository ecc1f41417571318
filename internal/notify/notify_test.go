package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/driftwatch/driftwatch/internal/db"
	"github.com/driftwatch/driftwatch/internal/drift"
	"github.com/driftwatch/driftwatch/internal/patch"
)

func newTestDigestStore(t *testing.T) *DigestStore {
	t.Helper()
	d, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return NewDigestStore(d.DB)
}

func TestNotifyProposalPostsButtons(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "#docs-drift", newTestDigestStore(t))
	c := &drift.Candidate{
		WorkspaceID: "ws1", ID: "d1", Service: "payments",
		EvidenceSummary: "deploy command changed",
		DriftScore:      0.72,
		RiskLevel:       drift.RiskElevated,
		Owner:           drift.OwnerResolution{Channel: "#payments"},
	}
	p := &patch.Proposal{ID: "prop-1", DocID: "runbook-1", PatchStyle: "targeted_edit", UnifiedDiff: "--- a/x\n+++ b/x\n"}

	if err := n.NotifyProposal(context.Background(), c, p); err != nil {
		t.Fatalf("NotifyProposal: %v", err)
	}

	var msg struct {
		Channel string `json:"channel"`
		Blocks  []struct {
			Type     string `json:"type"`
			Elements []struct {
				ActionID string `json:"action_id"`
				Value    string `json:"value"`
			} `json:"elements"`
		} `json:"blocks"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		t.Fatalf("unmarshalling posted payload: %v", err)
	}
	if msg.Channel != "#payments" {
		t.Errorf("channel = %q, want owner channel #payments", msg.Channel)
	}

	var actionIDs []string
	for _, b := range msg.Blocks {
		if b.Type != "actions" {
			continue
		}
		for _, el := range b.Elements {
			actionIDs = append(actionIDs, el.ActionID)
			if el.Value != "ws1:prop-1" {
				t.Errorf("button value = %q, want ws1:prop-1", el.Value)
			}
		}
	}
	want := []string{"drift_approve", "drift_reject", "drift_edit", "drift_snooze"}
	if strings.Join(actionIDs, ",") != strings.Join(want, ",") {
		t.Errorf("action IDs = %v, want %v", actionIDs, want)
	}
}

func TestPostDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "#docs-drift", newTestDigestStore(t))
	c := &drift.Candidate{WorkspaceID: "ws1", ID: "d1", Service: "payments", Repo: "org/api"}

	err := n.NotifyNeedsMapping(context.Background(), c)
	if err == nil {
		t.Fatal("NotifyNeedsMapping succeeded on 403, want error")
	}
	if !strings.Contains(err.Error(), ErrPostDenied.Error()) {
		t.Errorf("error = %v, want wrapped ErrPostDenied", err)
	}
}

func TestDigestFlush(t *testing.T) {
	var posts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		posts = append(posts, string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestDigestStore(t)
	n := NewNotifier(srv.URL, "#docs-drift", store)

	for _, c := range []*drift.Candidate{
		{WorkspaceID: "ws1", ID: "d1", Service: "payments", EvidenceSummary: "first", DriftScore: 0.5},
		{WorkspaceID: "ws1", ID: "d2", Service: "search", EvidenceSummary: "second", DriftScore: 0.55,
			Owner: drift.OwnerResolution{Channel: "#search"}},
	} {
		if err := n.EnqueueDigest(c); err != nil {
			t.Fatalf("EnqueueDigest: %v", err)
		}
	}

	flushed, err := n.FlushDigests(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("FlushDigests: %v", err)
	}
	if flushed != 2 {
		t.Errorf("flushed = %d, want 2", flushed)
	}
	if len(posts) != 2 {
		t.Fatalf("posted %d messages, want 2 (one per channel)", len(posts))
	}

	// A second flush has nothing left to send.
	flushed, err = n.FlushDigests(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("second FlushDigests: %v", err)
	}
	if flushed != 0 {
		t.Errorf("second flush = %d items, want 0", flushed)
	}
}

func TestNotifierWithoutWebhookIsNoOp(t *testing.T) {
	n := NewNotifier("", "#docs-drift", newTestDigestStore(t))
	c := &drift.Candidate{WorkspaceID: "ws1", ID: "d1", Service: "payments", Repo: "org/api"}
	if err := n.NotifyNeedsMapping(context.Background(), c); err != nil {
		t.Errorf("NotifyNeedsMapping without webhook = %v, want nil", err)
	}
}
