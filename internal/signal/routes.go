package signal

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Intake receives a normalized signal and starts the drift lifecycle
// for it. Implemented by the orchestrator.
type Intake interface {
	IngestSignal(r *http.Request, e *Event) (driftID string, err error)
}

// WebhookSecrets holds the per-provider shared secrets used to verify
// inbound webhook signatures. Empty secrets disable verification.
type WebhookSecrets struct {
	GitHub    string
	PagerDuty string
	Datadog   string
}

// RegisterRoutes mounts webhook ingestion endpoints under /api/webhooks.
func RegisterRoutes(r chi.Router, store *Store, intake Intake, secrets WebhookSecrets) {
	h := &webhookHandler{store: store, intake: intake, secrets: secrets}
	r.Route("/api/webhooks", func(r chi.Router) {
		r.Post("/github", h.handleGitHub)
		r.Post("/pagerduty", h.handlePagerDuty)
		r.Post("/datadog", h.handleDatadog)
	})
}

type webhookHandler struct {
	store   *Store
	intake  Intake
	secrets WebhookSecrets
}

// githubPR is the subset of the GitHub pull_request webhook payload we use.
type githubPR struct {
	Action      string `json:"action"`
	PullRequest struct {
		Title    string `json:"title"`
		Body     string `json:"body"`
		Merged   bool   `json:"merged"`
		MergedAt string `json:"merged_at"`
	} `json:"pull_request"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

func (h *webhookHandler) handleGitHub(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readVerified(w, r, h.secrets.GitHub, r.Header.Get("X-Hub-Signature-256"), "sha256=")
	if !ok {
		return
	}

	var payload githubPR
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	// Only closed pull_request events are interesting; everything else
	// is acknowledged and dropped.
	if payload.Action != "closed" {
		w.WriteHeader(http.StatusOK)
		return
	}

	e := &Event{
		WorkspaceID: workspaceFrom(r),
		Source:      SourceGitHub,
		Kind:        KindPRMerged,
		Repo:        payload.Repository.FullName,
		Service:     serviceFromRepo(payload.Repository.FullName),
		Title:       payload.PullRequest.Title,
		Summary:     payload.PullRequest.Body,
		Payload:     string(body),
		Merged:      payload.PullRequest.Merged,
	}
	h.ingest(w, r, e)
}

type pagerdutyIncident struct {
	Event struct {
		EventType string `json:"event_type"`
		Data      struct {
			Title   string `json:"title"`
			Service struct {
				Summary string `json:"summary"`
			} `json:"service"`
		} `json:"data"`
	} `json:"event"`
}

func (h *webhookHandler) handlePagerDuty(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readVerified(w, r, h.secrets.PagerDuty, r.Header.Get("X-PagerDuty-Signature"), "v1=")
	if !ok {
		return
	}

	var payload pagerdutyIncident
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if payload.Event.EventType != "incident.triggered" {
		w.WriteHeader(http.StatusOK)
		return
	}

	e := &Event{
		WorkspaceID: workspaceFrom(r),
		Source:      SourcePagerDuty,
		Kind:        KindIncident,
		Service:     payload.Event.Data.Service.Summary,
		Title:       payload.Event.Data.Title,
		Summary:     payload.Event.Data.Title,
		Payload:     string(body),
	}
	h.ingest(w, r, e)
}

type datadogAlert struct {
	Title string `json:"title"`
	Text  string `json:"body"`
	Tags  string `json:"tags"`
}

func (h *webhookHandler) handleDatadog(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readVerified(w, r, h.secrets.Datadog, r.Header.Get("X-Datadog-Signature"), "")
	if !ok {
		return
	}

	var payload datadogAlert
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	e := &Event{
		WorkspaceID: workspaceFrom(r),
		Source:      SourceDatadog,
		Kind:        KindAlert,
		Service:     serviceFromTags(payload.Tags),
		Title:       payload.Title,
		Summary:     payload.Text,
		Payload:     string(body),
	}
	h.ingest(w, r, e)
}

// ingest persists the signal, hands it to the intake, and answers with
// the ids. Signals that do not start a drift still return 202.
func (h *webhookHandler) ingest(w http.ResponseWriter, r *http.Request, e *Event) {
	if err := h.store.Create(r.Context(), e); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	driftID, err := h.intake.IngestSignal(r, e)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"signal_event_id": e.ID,
		"drift_id":        driftID,
	})
}

// readVerified reads the body and checks its HMAC-SHA256 signature when
// a secret is configured.
func (h *webhookHandler) readVerified(w http.ResponseWriter, r *http.Request, secret, signature, prefix string) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return nil, false
	}
	defer r.Body.Close()

	if secret != "" {
		if !verifyHMAC(secret, signature, prefix, body) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return nil, false
		}
	}
	return body, true
}

func verifyHMAC(secret, signature, prefix string, body []byte) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := prefix + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// workspaceFrom extracts the workspace from the request, defaulting to
// "default" for single-tenant deployments.
func workspaceFrom(r *http.Request) string {
	if ws := r.URL.Query().Get("workspace"); ws != "" {
		return ws
	}
	if ws := r.Header.Get("X-Driftwatch-Workspace"); ws != "" {
		return ws
	}
	return "default"
}

func serviceFromRepo(fullName string) string {
	if i := strings.LastIndex(fullName, "/"); i >= 0 {
		return fullName[i+1:]
	}
	return fullName
}

func serviceFromTags(tags string) string {
	for _, tag := range strings.Split(tags, ",") {
		tag = strings.TrimSpace(tag)
		if strings.HasPrefix(tag, "service:") {
			return strings.TrimPrefix(tag, "service:")
		}
	}
	return ""
}

// Summarize renders a short human-readable line for a signal, used in
// evidence summaries and bundle descriptions.
func Summarize(e *Event) string {
	switch e.Kind {
	case KindPRMerged:
		return fmt.Sprintf("PR merged in %s: %s", e.Repo, e.Title)
	case KindIncident:
		return fmt.Sprintf("incident on %s: %s", e.Service, e.Title)
	case KindAlert:
		return fmt.Sprintf("alert: %s", e.Title)
	default:
		return e.Title
	}
}
