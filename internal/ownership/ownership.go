// Package ownership resolves who is responsible for a drifted document
// and routes the notification accordingly.
package ownership

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/drift"
)

// Owner sources, in ranking order.
const (
	SourceExplicit         = "explicit"
	SourceCodeowners       = "codeowners"
	SourceWorkspaceDefault = "workspace_default"
)

// sourceRank orders sources; lower wins.
var sourceRank = map[string]int{
	SourceExplicit:         0,
	SourceCodeowners:       1,
	SourceWorkspaceDefault: 2,
}

// Mapping is one configured owner for a service.
type Mapping struct {
	ID            string `json:"id"`
	WorkspaceID   string `json:"workspace_id"`
	Service       string `json:"service,omitempty"`
	Owner         string `json:"owner"`
	FallbackOwner string `json:"fallback_owner,omitempty"`
	SlackChannel  string `json:"slack_channel,omitempty"`
	Source        string `json:"source"`
}

// Store persists owner mappings.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert records an owner mapping, replacing any existing one for the
// same service and source.
func (s *Store) Upsert(m *Mapping) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Source == "" {
		m.Source = SourceExplicit
	}
	_, err := s.db.Exec(`
		INSERT INTO owner_mappings (id, workspace_id, service, owner, fallback_owner, slack_channel, source)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id, service, source) DO UPDATE SET
			owner = excluded.owner,
			fallback_owner = excluded.fallback_owner,
			slack_channel = excluded.slack_channel`,
		m.ID, m.WorkspaceID, m.Service, m.Owner, m.FallbackOwner, m.SlackChannel, m.Source)
	if err != nil {
		return fmt.Errorf("upserting owner mapping for %q: %w", m.Service, err)
	}
	return nil
}

// ForService returns all owner mappings applying to a service,
// including the workspace default (empty service), best-ranked first.
func (s *Store) ForService(workspaceID, service string) ([]*Mapping, error) {
	rows, err := s.db.Query(`
		SELECT id, workspace_id, service, owner, fallback_owner, slack_channel, source
		FROM owner_mappings
		WHERE workspace_id = ? AND (service = ? OR service = '')`,
		workspaceID, service)
	if err != nil {
		return nil, fmt.Errorf("querying owner mappings for %q: %w", service, err)
	}
	defer rows.Close()

	var mappings []*Mapping
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.ID, &m.WorkspaceID, &m.Service, &m.Owner, &m.FallbackOwner, &m.SlackChannel, &m.Source); err != nil {
			return nil, fmt.Errorf("scanning owner mapping: %w", err)
		}
		mappings = append(mappings, &m)
	}
	return mappings, rows.Err()
}

// Resolver picks the authoritative owner from ranked sources.
type Resolver struct {
	store *Store
}

// NewResolver creates a Resolver.
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the best-ranked owner for the service. Service-level
// mappings beat the workspace default; within a level, explicit beats
// CODEOWNERS-derived. A zero OwnerResolution means nobody is
// configured.
func (r *Resolver) Resolve(workspaceID, service string) (drift.OwnerResolution, error) {
	mappings, err := r.store.ForService(workspaceID, service)
	if err != nil {
		return drift.OwnerResolution{}, err
	}

	var best *Mapping
	for _, m := range mappings {
		if best == nil {
			best = m
			continue
		}
		// Service match beats the workspace default.
		if (m.Service != "") != (best.Service != "") {
			if m.Service != "" {
				best = m
			}
			continue
		}
		if sourceRank[m.Source] < sourceRank[best.Source] {
			best = m
		}
	}
	if best == nil {
		return drift.OwnerResolution{}, nil
	}

	source := best.Source
	if best.Service == "" {
		source = SourceWorkspaceDefault
	}
	return drift.OwnerResolution{
		Primary:  best.Owner,
		Fallback: best.FallbackOwner,
		Source:   source,
		Channel:  best.SlackChannel,
	}, nil
}
