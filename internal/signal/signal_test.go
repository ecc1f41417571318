package signal

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/driftwatch/driftwatch/internal/db"
)

// fakeIntake records what reached the orchestrator.
type fakeIntake struct {
	events []*Event
}

func (f *fakeIntake) IngestSignal(r *http.Request, e *Event) (string, error) {
	f.events = append(f.events, e)
	return "drift-" + e.ID, nil
}

func newWebhookRouter(t *testing.T, secrets WebhookSecrets) (chi.Router, *Store, *fakeIntake) {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store := NewStore(database)
	intake := &fakeIntake{}
	r := chi.NewRouter()
	RegisterRoutes(r, store, intake, secrets)
	return r, store, intake
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

const mergedPRBody = `{
	"action": "closed",
	"pull_request": {"title": "Update deploy flags", "body": "new flags", "merged": true},
	"repository": {"full_name": "acme/payments"}
}`

func TestGitHubWebhookStartsDrift(t *testing.T) {
	r, store, intake := newWebhookRouter(t, WebhookSecrets{GitHub: "s3cret"})

	req := httptest.NewRequest("POST", "/api/webhooks/github?workspace=ws1", strings.NewReader(mergedPRBody))
	req.Header.Set("X-Hub-Signature-256", "sha256="+sign("s3cret", []byte(mergedPRBody)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["drift_id"] == "" || resp["signal_event_id"] == "" {
		t.Errorf("response missing ids: %v", resp)
	}

	if len(intake.events) != 1 {
		t.Fatalf("intake saw %d events, want 1", len(intake.events))
	}
	e := intake.events[0]
	if e.Kind != KindPRMerged || !e.Merged {
		t.Errorf("event = %+v, want merged PR", e)
	}
	if e.Service != "payments" || e.Repo != "acme/payments" {
		t.Errorf("service/repo = %q/%q", e.Service, e.Repo)
	}

	stored, err := store.Get(context.Background(), "ws1", resp["signal_event_id"])
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Title != "Update deploy flags" {
		t.Errorf("stored title = %q", stored.Title)
	}
}

func TestGitHubWebhookRejectsBadSignature(t *testing.T) {
	r, _, intake := newWebhookRouter(t, WebhookSecrets{GitHub: "s3cret"})

	req := httptest.NewRequest("POST", "/api/webhooks/github", strings.NewReader(mergedPRBody))
	req.Header.Set("X-Hub-Signature-256", "sha256="+sign("wrong", []byte(mergedPRBody)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if len(intake.events) != 0 {
		t.Error("unverified event reached the intake")
	}
}

func TestGitHubWebhookIgnoresNonClosedActions(t *testing.T) {
	r, _, intake := newWebhookRouter(t, WebhookSecrets{})

	body := `{"action": "opened", "pull_request": {"title": "wip"}, "repository": {"full_name": "acme/payments"}}`
	req := httptest.NewRequest("POST", "/api/webhooks/github", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(intake.events) != 0 {
		t.Error("non-closed PR event should be dropped")
	}
}

func TestPagerDutyWebhook(t *testing.T) {
	r, _, intake := newWebhookRouter(t, WebhookSecrets{})

	body := `{"event": {"event_type": "incident.triggered", "data": {"title": "payments down", "service": {"summary": "payments"}}}}`
	req := httptest.NewRequest("POST", "/api/webhooks/pagerduty?workspace=ws1", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(intake.events) != 1 {
		t.Fatalf("intake saw %d events, want 1", len(intake.events))
	}
	e := intake.events[0]
	if e.Kind != KindIncident || e.Service != "payments" {
		t.Errorf("event = %+v", e)
	}
}

func TestDatadogWebhookServiceFromTags(t *testing.T) {
	r, _, intake := newWebhookRouter(t, WebhookSecrets{})

	body := `{"title": "p99 latency", "body": "alert fired", "tags": "env:prod, service:payments, team:core"}`
	req := httptest.NewRequest("POST", "/api/webhooks/datadog", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if intake.events[0].Service != "payments" {
		t.Errorf("service = %q, want payments", intake.events[0].Service)
	}
}

func TestListWindowExcludesTrigger(t *testing.T) {
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer database.Close()
	store := NewStore(database)
	ctx := context.Background()

	now := time.Now().UTC()
	var ids []string
	for i, offset := range []time.Duration{0, -time.Hour, -100 * time.Hour} {
		e := &Event{
			WorkspaceID: "ws1",
			Source:      SourceGitHub,
			Kind:        KindPRMerged,
			Service:     "payments",
			Title:       "event",
			OccurredAt:  now.Add(offset),
		}
		if err := store.Create(ctx, e); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		ids = append(ids, e.ID)
	}

	got, err := store.ListWindow(ctx, "ws1", now.Add(-48*time.Hour), now.Add(48*time.Hour), ids[0])
	if err != nil {
		t.Fatalf("ListWindow: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("events = %d, want only the in-window non-trigger event", len(got))
	}
	if got[0].ID != ids[1] {
		t.Errorf("got %s, want %s", got[0].ID, ids[1])
	}
}
