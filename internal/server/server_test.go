package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/driftwatch/driftwatch/internal/approval"
	"github.com/driftwatch/driftwatch/internal/audit"
	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/db"
	"github.com/driftwatch/driftwatch/internal/docresolve"
	"github.com/driftwatch/driftwatch/internal/drift"
	"github.com/driftwatch/driftwatch/internal/patch"
	"github.com/driftwatch/driftwatch/internal/queue"
	"github.com/driftwatch/driftwatch/internal/signal"
)

func newTestServer(t *testing.T) (*Server, *drift.Store) {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	drifts := drift.NewStore(database)
	proposals := patch.NewStore(database.DB)
	jobs := queue.NewStore(database.DB, queue.Options{})
	audits := audit.NewStore(database.DB, nil)

	srv := New(cfg, database, Deps{
		Drifts:    drifts,
		Signals:   signal.NewStore(database),
		Approvals: approval.NewService(approval.NewStore(database.DB), proposals, drifts, jobs, audits),
		Mappings:  docresolve.NewStore(database.DB),
		Audit:     audits,
	})
	return srv, drifts
}

func TestHealthCheck(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", body["status"])
	}
}

func TestListDriftsFiltersByState(t *testing.T) {
	srv, drifts := newTestServer(t)
	ctx := context.Background()

	for _, st := range []drift.State{drift.StateIngested, drift.StateAwaitingHuman, drift.StateCompleted} {
		c := &drift.Candidate{
			WorkspaceID:     "ws1",
			Service:         "payments",
			EvidenceSummary: "drift in state " + string(st),
		}
		c.SetState(st)
		if err := drifts.Create(ctx, c); err != nil {
			t.Fatalf("seeding drift: %v", err)
		}
	}

	req := httptest.NewRequest("GET", "/api/drifts/?workspace=ws1&state=awaiting_human", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Drifts []drift.Candidate `json:"drifts"`
		Count  int               `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Count != 1 {
		t.Fatalf("count = %d, want 1", body.Count)
	}
	if body.Drifts[0].State != drift.StateAwaitingHuman {
		t.Errorf("state = %s, want awaiting_human", body.Drifts[0].State)
	}
}

func TestGetDriftSurfacesFailureDetail(t *testing.T) {
	srv, drifts := newTestServer(t)

	c := &drift.Candidate{
		WorkspaceID:     "ws1",
		Service:         "payments",
		Repo:            "acme/payments",
		EvidenceSummary: "no mapping for repo",
		FailureCode:     drift.CodeNeedsDocMapping,
		FailureMessage:  "no document mapping for acme/payments",
	}
	c.SetState(drift.StateFailedNeedsMapping)
	if err := drifts.Create(context.Background(), c); err != nil {
		t.Fatalf("seeding drift: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/drifts/"+c.ID+"?workspace=ws1", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got drift.Candidate
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.FailureCode != drift.CodeNeedsDocMapping {
		t.Errorf("failure code = %s, want %s", got.FailureCode, drift.CodeNeedsDocMapping)
	}
	if got.FailureMessage == "" {
		t.Error("failure message missing from response")
	}
}

func TestGetDriftNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/drifts/nope?workspace=ws1", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("OPTIONS", "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected CORS Allow-Origin header")
	}
}
