package approval

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// slackSnoozeHours is what the "Snooze 24h" button means.
const slackSnoozeHours = 24

// maxSlackSkew bounds how old an interaction request may be before we
// refuse to verify it.
const maxSlackSkew = 5 * time.Minute

// RegisterRoutes mounts the human action surface: REST endpoints for
// each decision and the Slack interactions callback.
func RegisterRoutes(r chi.Router, svc *Service, slackSigningSecret string) {
	h := &handler{svc: svc, signingSecret: slackSigningSecret}
	r.Route("/api/proposals/{proposalID}", func(r chi.Router) {
		r.Post("/approve", h.handleApprove)
		r.Post("/reject", h.handleReject)
		r.Post("/edit", h.handleEdit)
		r.Post("/snooze", h.handleSnooze)
	})
	r.Post("/api/slack/interactions", h.handleSlackInteraction)
}

type handler struct {
	svc           *Service
	signingSecret string
}

func (h *handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID string `json:"actorId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	h.finish(w, r, h.svc.Approve(r.Context(), workspaceFrom(r), chi.URLParam(r, "proposalID"), req.ActorID))
}

func (h *handler) handleReject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID  string `json:"actorId"`
		Category string `json:"category"`
		Reason   string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	h.finish(w, r, h.svc.Reject(r.Context(), workspaceFrom(r), chi.URLParam(r, "proposalID"), req.ActorID, req.Category, req.Reason))
}

func (h *handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID  string `json:"actorId"`
		Diff     string `json:"diff"`
		ApplyNow bool   `json:"applyNow"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	h.finish(w, r, h.svc.Edit(r.Context(), workspaceFrom(r), chi.URLParam(r, "proposalID"), req.ActorID, req.Diff, req.ApplyNow))
}

func (h *handler) handleSnooze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID string `json:"actorId"`
		Hours   int    `json:"hours"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	h.finish(w, r, h.svc.Snooze(r.Context(), workspaceFrom(r), chi.URLParam(r, "proposalID"), req.ActorID, req.Hours))
}

func (h *handler) finish(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNotActionable) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// slackInteraction is the subset of the block_actions payload we use.
type slackInteraction struct {
	Type string `json:"type"`
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
}

func (h *handler) handleSlackInteraction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if h.signingSecret != "" {
		if !verifySlackSignature(h.signingSecret, r.Header.Get("X-Slack-Request-Timestamp"), r.Header.Get("X-Slack-Signature"), body) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	// Slack posts the interaction as a form with the JSON under "payload".
	form, err := url.ParseQuery(string(body))
	if err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}
	var interaction slackInteraction
	if err := json.Unmarshal([]byte(form.Get("payload")), &interaction); err != nil {
		http.Error(w, "malformed interaction payload", http.StatusBadRequest)
		return
	}
	if interaction.Type != "block_actions" || len(interaction.Actions) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}

	action := interaction.Actions[0]
	workspaceID, proposalID, ok := strings.Cut(action.Value, ":")
	if !ok {
		http.Error(w, "malformed action value", http.StatusBadRequest)
		return
	}
	actorID := interaction.User.ID

	var text string
	switch action.ActionID {
	case "drift_approve":
		err = h.svc.Approve(r.Context(), workspaceID, proposalID, actorID)
		text = ":white_check_mark: Patch approved, queued for writeback."
	case "drift_reject":
		err = h.svc.Reject(r.Context(), workspaceID, proposalID, actorID, "other", "rejected from Slack")
		text = "Patch rejected."
	case "drift_snooze":
		err = h.svc.Snooze(r.Context(), workspaceID, proposalID, actorID, slackSnoozeHours)
		text = fmt.Sprintf("Snoozed for %dh.", slackSnoozeHours)
	case "drift_edit":
		// Slack buttons cannot carry a revised diff; point at the API.
		text = fmt.Sprintf("Edit via the API: POST /api/proposals/%s/edit?workspace=%s", proposalID, workspaceID)
	default:
		http.Error(w, "unknown action "+action.ActionID, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		log.Printf("slack action %s on proposal %s failed: %v", action.ActionID, proposalID, err)
		if errors.Is(err, ErrNotActionable) {
			text = "This drift is no longer awaiting a decision."
		} else {
			text = "Action failed: " + err.Error()
		}
	}
	json.NewEncoder(w).Encode(map[string]any{
		"response_type":    "ephemeral",
		"replace_original": false,
		"text":             text,
	})
}

// verifySlackSignature checks the v0 request signature: HMAC-SHA256 of
// "v0:<timestamp>:<body>" keyed with the signing secret. Requests older
// than maxSlackSkew are refused even with a valid signature.
func verifySlackSignature(secret, timestamp, signature string, body []byte) bool {
	if timestamp == "" || signature == "" {
		return false
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if skew := time.Since(time.Unix(ts, 0)); skew > maxSlackSkew || skew < -maxSlackSkew {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", timestamp, body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func workspaceFrom(r *http.Request) string {
	if ws := r.URL.Query().Get("workspace"); ws != "" {
		return ws
	}
	if ws := r.Header.Get("X-Driftwatch-Workspace"); ws != "" {
		return ws
	}
	return "default"
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
