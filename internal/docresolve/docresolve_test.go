package docresolve

import (
	"context"
	"testing"
	"time"

	"github.com/driftwatch/driftwatch/internal/db"
	"github.com/driftwatch/driftwatch/internal/drift"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	d, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return NewStore(d.DB)
}

func TestMappingCRUD(t *testing.T) {
	store := newTestStore(t)

	m := &Mapping{
		WorkspaceID: "ws1",
		Service:     "payments",
		DocSystem:   "confluence",
		DocID:       "12345",
		AllowPRLink: true,
		AllowSearch: true,
	}
	if err := store.CreateMapping(m); err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}
	if m.ID == "" {
		t.Fatal("CreateMapping did not assign an ID")
	}

	got, err := store.GetMapping("ws1", m.ID)
	if err != nil {
		t.Fatalf("GetMapping: %v", err)
	}
	if got.DocID != "12345" || got.Service != "payments" {
		t.Errorf("GetMapping = %+v, want doc 12345 for payments", got)
	}

	got.DocID = "67890"
	if err := store.UpdateMapping(got); err != nil {
		t.Fatalf("UpdateMapping: %v", err)
	}
	updated, err := store.GetMapping("ws1", m.ID)
	if err != nil {
		t.Fatalf("GetMapping after update: %v", err)
	}
	if updated.DocID != "67890" {
		t.Errorf("DocID = %q, want %q", updated.DocID, "67890")
	}

	if err := store.DeleteMapping("ws1", m.ID); err != nil {
		t.Fatalf("DeleteMapping: %v", err)
	}
	if _, err := store.GetMapping("ws1", m.ID); err != ErrNotFound {
		t.Errorf("GetMapping after delete = %v, want ErrNotFound", err)
	}
}

func TestMappingsForScopeOrdersRepoFirst(t *testing.T) {
	store := newTestStore(t)

	serviceWide := &Mapping{WorkspaceID: "ws1", Service: "payments", DocID: "service-doc", DocSystem: "confluence", AllowPRLink: true, AllowSearch: true}
	repoSpecific := &Mapping{WorkspaceID: "ws1", Repo: "org/payments-api", DocID: "repo-doc", DocSystem: "confluence", AllowPRLink: true, AllowSearch: true}
	for _, m := range []*Mapping{serviceWide, repoSpecific} {
		if err := store.CreateMapping(m); err != nil {
			t.Fatalf("CreateMapping: %v", err)
		}
	}

	mappings, err := store.MappingsForScope("ws1", "payments", "org/payments-api")
	if err != nil {
		t.Fatalf("MappingsForScope: %v", err)
	}
	if len(mappings) != 2 {
		t.Fatalf("len(mappings) = %d, want 2", len(mappings))
	}
	if mappings[0].DocID != "repo-doc" {
		t.Errorf("first mapping = %q, want repo-specific one", mappings[0].DocID)
	}
}

func TestNoticeSuppressionWindow(t *testing.T) {
	store := newTestStore(t)
	window := 7 * 24 * time.Hour

	due, err := store.NoticeDue("ws1", "org/api", window)
	if err != nil {
		t.Fatalf("NoticeDue: %v", err)
	}
	if !due {
		t.Error("NoticeDue = false before any notice, want true")
	}

	if err := store.MarkNoticed("ws1", "org/api"); err != nil {
		t.Fatalf("MarkNoticed: %v", err)
	}
	due, err = store.NoticeDue("ws1", "org/api", window)
	if err != nil {
		t.Fatalf("NoticeDue after mark: %v", err)
	}
	if due {
		t.Error("NoticeDue = true within the window, want false")
	}

	// A different repo is not suppressed.
	due, err = store.NoticeDue("ws1", "org/other", window)
	if err != nil {
		t.Fatalf("NoticeDue other repo: %v", err)
	}
	if !due {
		t.Error("NoticeDue for unrelated repo = false, want true")
	}
}

func TestResolveExplicitMappingWins(t *testing.T) {
	store := newTestStore(t)
	if err := store.CreateMapping(&Mapping{
		WorkspaceID: "ws1", Service: "payments",
		DocSystem: "confluence", DocID: "12345",
		AllowPRLink: true, AllowSearch: true,
	}); err != nil {
		t.Fatal(err)
	}
	resolver := NewResolver(store, nil, 0.55)

	c := &drift.Candidate{WorkspaceID: "ws1", Service: "payments", Repo: "org/payments-api"}
	res, err := resolver.Resolve(context.Background(), c, "see doc:memory:other-doc")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != drift.ResolutionResolved {
		t.Fatalf("Status = %q, want resolved", res.Status)
	}
	if res.Method != MethodExplicitMapping {
		t.Errorf("Method = %q, want %q", res.Method, MethodExplicitMapping)
	}
	if res.DocID != "12345" {
		t.Errorf("DocID = %q, want %q", res.DocID, "12345")
	}
}

func TestResolvePRLink(t *testing.T) {
	store := newTestStore(t)
	resolver := NewResolver(store, nil, 0.55)
	c := &drift.Candidate{WorkspaceID: "ws1", Service: "payments", Repo: "org/payments-api"}

	tests := []struct {
		name       string
		body       string
		wantSystem string
		wantDocID  string
	}{
		{"doc pin", "Updates rollback steps.\n\ndoc:memory:runbook-1", "memory", "runbook-1"},
		{"confluence url", "See https://acme.atlassian.net/wiki/spaces/OPS/pages/98765/Rollback+Runbook", "confluence", "98765"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := resolver.Resolve(context.Background(), c, tt.body)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if res.Status != drift.ResolutionResolved || res.Method != MethodPRLink {
				t.Fatalf("Status/Method = %q/%q, want resolved/pr_link", res.Status, res.Method)
			}
			if res.DocSystem != tt.wantSystem || res.DocID != tt.wantDocID {
				t.Errorf("selected = %s:%s, want %s:%s", res.DocSystem, res.DocID, tt.wantSystem, tt.wantDocID)
			}
		})
	}
}

func TestResolvePRLinkDisabledByPolicy(t *testing.T) {
	store := newTestStore(t)
	if err := store.CreateMapping(&Mapping{
		WorkspaceID: "ws1", Service: "payments",
		AllowPRLink: false, AllowSearch: false,
	}); err != nil {
		t.Fatal(err)
	}
	resolver := NewResolver(store, nil, 0.55)

	c := &drift.Candidate{WorkspaceID: "ws1", Service: "payments", Repo: "org/payments-api"}
	res, err := resolver.Resolve(context.Background(), c, "doc:memory:runbook-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != drift.ResolutionNeedsMapping {
		t.Errorf("Status = %q, want needs_mapping when overrides are disabled", res.Status)
	}
}

func TestResolveIgnoredScope(t *testing.T) {
	store := newTestStore(t)
	if err := store.CreateMapping(&Mapping{
		WorkspaceID:  "ws1",
		ScopePattern: "org/sandbox-*",
		Ignored:      true,
	}); err != nil {
		t.Fatal(err)
	}
	resolver := NewResolver(store, nil, 0.55)

	c := &drift.Candidate{WorkspaceID: "ws1", Service: "sandbox", Repo: "org/sandbox-tools"}
	res, err := resolver.Resolve(context.Background(), c, "doc:memory:runbook-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != drift.ResolutionIgnored {
		t.Errorf("Status = %q, want ignored", res.Status)
	}
}

func TestResolveNeedsMappingWithoutAnySource(t *testing.T) {
	store := newTestStore(t)
	resolver := NewResolver(store, nil, 0.55)

	c := &drift.Candidate{WorkspaceID: "ws1", Service: "payments", Repo: "org/payments-api"}
	res, err := resolver.Resolve(context.Background(), c, "no links here")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != drift.ResolutionNeedsMapping {
		t.Errorf("Status = %q, want needs_mapping", res.Status)
	}
	if res.DocID != "" {
		t.Errorf("DocID = %q, want empty", res.DocID)
	}
}

func TestResolutionApply(t *testing.T) {
	res := &Resolution{
		Status:     drift.ResolutionResolved,
		Method:     MethodPRLink,
		Confidence: 0.9,
		Candidates: []drift.DocCandidate{{DocSystem: "memory", DocID: "d1", MatchReason: "linked in PR body", Confidence: 0.9}},
		DocSystem:  "memory",
		DocID:      "d1",
	}
	var c drift.Candidate
	res.Apply(&c)

	if c.ResolutionStatus != drift.ResolutionResolved || c.ResolutionMethod != MethodPRLink {
		t.Errorf("candidate resolution = %q/%q, want resolved/pr_link", c.ResolutionStatus, c.ResolutionMethod)
	}
	if c.DocSystem != "memory" || c.DocID != "d1" {
		t.Errorf("selected doc = %s:%s, want memory:d1", c.DocSystem, c.DocID)
	}
	if len(c.DocCandidates) != 1 {
		t.Errorf("len(DocCandidates) = %d, want 1", len(c.DocCandidates))
	}
}
