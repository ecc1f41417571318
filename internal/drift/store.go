package drift

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/db"
)

// ErrNotFound is returned when no drift candidate matches the key.
var ErrNotFound = errors.New("drift candidate not found")

// Store provides persistence for drift candidates.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

const driftColumns = `workspace_id, id, signal_event_id, service, repo,
	drift_type, drift_domains, confidence, impact_score, drift_score, risk_level,
	fingerprint, evidence_summary, doc_candidates, docs_resolution_status,
	resolution_method, selected_doc_system, selected_doc_id,
	owner_primary, owner_fallback, owner_source, owner_channel,
	findings, state, state_updated_at, failure_code, failure_message,
	snooze_until, created_at, updated_at`

// Create inserts a new drift candidate. If c.ID is empty a UUID is generated.
func (s *Store) Create(ctx context.Context, c *Candidate) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.State == "" {
		c.State = StateIngested
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.StateUpdatedAt = now

	domains, candidates, findings, err := marshalBlobs(c)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drift_candidates (`+driftColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.WorkspaceID, c.ID, c.SignalEventID, c.Service, c.Repo,
		string(c.DriftType), domains, c.Confidence, c.ImpactScore, c.DriftScore, string(c.RiskLevel),
		nullable(c.Fingerprint), c.EvidenceSummary, candidates, string(c.ResolutionStatus),
		c.ResolutionMethod, c.DocSystem, c.DocID,
		c.Owner.Primary, c.Owner.Fallback, c.Owner.Source, c.Owner.Channel,
		findings, string(c.State), db.FormatTime(c.StateUpdatedAt), c.FailureCode, c.FailureMessage,
		nullableTime(c.SnoozeUntil), db.FormatTime(c.CreatedAt), db.FormatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting drift candidate: %w", err)
	}
	return nil
}

// Update writes the candidate back as a single atomic row update. The
// fingerprint column only ever moves from NULL to a value: once set it
// cannot be changed, enforced at the storage layer.
func (s *Store) Update(ctx context.Context, c *Candidate) error {
	c.UpdatedAt = time.Now().UTC()

	domains, candidates, findings, err := marshalBlobs(c)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE drift_candidates SET
			signal_event_id = ?, service = ?, repo = ?,
			drift_type = ?, drift_domains = ?, confidence = ?, impact_score = ?,
			drift_score = ?, risk_level = ?,
			fingerprint = COALESCE(fingerprint, ?),
			evidence_summary = ?, doc_candidates = ?, docs_resolution_status = ?,
			resolution_method = ?, selected_doc_system = ?, selected_doc_id = ?,
			owner_primary = ?, owner_fallback = ?, owner_source = ?, owner_channel = ?,
			findings = ?, state = ?, state_updated_at = ?,
			failure_code = ?, failure_message = ?, snooze_until = ?, updated_at = ?
		WHERE workspace_id = ? AND id = ?`,
		c.SignalEventID, c.Service, c.Repo,
		string(c.DriftType), domains, c.Confidence, c.ImpactScore,
		c.DriftScore, string(c.RiskLevel),
		nullable(c.Fingerprint),
		c.EvidenceSummary, candidates, string(c.ResolutionStatus),
		c.ResolutionMethod, c.DocSystem, c.DocID,
		c.Owner.Primary, c.Owner.Fallback, c.Owner.Source, c.Owner.Channel,
		findings, string(c.State), db.FormatTime(c.StateUpdatedAt),
		c.FailureCode, c.FailureMessage, nullableTime(c.SnoozeUntil), db.FormatTime(c.UpdatedAt),
		c.WorkspaceID, c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating drift candidate: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves a drift candidate by its composite key.
func (s *Store) Get(ctx context.Context, workspaceID, id string) (*Candidate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+driftColumns+` FROM drift_candidates
		WHERE workspace_id = ? AND id = ?`, workspaceID, id)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// FindByFingerprint returns the oldest candidate with the given
// fingerprint, or nil if none exists.
func (s *Store) FindByFingerprint(ctx context.Context, workspaceID, fingerprint string) (*Candidate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+driftColumns+` FROM drift_candidates
		WHERE workspace_id = ? AND fingerprint = ?
		ORDER BY created_at ASC LIMIT 1`, workspaceID, fingerprint)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// ListFilter controls which candidates List returns.
type ListFilter struct {
	State   State
	Service string
	Limit   int
	Offset  int
}

// List returns candidates in a workspace, newest first.
func (s *Store) List(ctx context.Context, workspaceID string, filter ListFilter) ([]Candidate, error) {
	clauses := []string{"workspace_id = ?"}
	args := []any{workspaceID}

	if filter.State != "" {
		clauses = append(clauses, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.Service != "" {
		clauses = append(clauses, "service = ?")
		args = append(args, filter.Service)
	}

	query := "SELECT " + driftColumns + " FROM drift_candidates WHERE " +
		strings.Join(clauses, " AND ") + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing drift candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ListSnoozeExpired returns snoozed candidates whose snooze window has
// passed as of now.
func (s *Store) ListSnoozeExpired(ctx context.Context, now time.Time) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+driftColumns+` FROM drift_candidates
		WHERE state = ? AND snooze_until IS NOT NULL AND snooze_until <= ?`,
		string(StateSnoozed), db.FormatTime(now.UTC()))
	if err != nil {
		return nil, fmt.Errorf("listing snooze-expired candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func marshalBlobs(c *Candidate) (domains, candidates, findings string, err error) {
	d, err := json.Marshal(emptySlice(c.DriftDomains))
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling drift domains: %w", err)
	}
	dc, err := json.Marshal(emptySliceDC(c.DocCandidates))
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling doc candidates: %w", err)
	}
	f, err := json.Marshal(emptySliceF(c.Findings))
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling findings: %w", err)
	}
	return string(d), string(dc), string(f), nil
}

func emptySlice(in []Domain) []Domain {
	if in == nil {
		return []Domain{}
	}
	return in
}

func emptySliceDC(in []DocCandidate) []DocCandidate {
	if in == nil {
		return []DocCandidate{}
	}
	return in
}

func emptySliceF(in []Finding) []Finding {
	if in == nil {
		return []Finding{}
	}
	return in
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: db.FormatTime(t.UTC()), Valid: true}
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCandidate(sc scanner) (*Candidate, error) {
	var (
		c                                    Candidate
		driftType, riskLevel, resStatus      string
		state                                string
		domainsJSON, candidatesJSON          string
		findingsJSON                         string
		fingerprint, snoozeUntil             sql.NullString
		stateUpdatedAt, createdAt, updatedAt string
	)

	err := sc.Scan(
		&c.WorkspaceID, &c.ID, &c.SignalEventID, &c.Service, &c.Repo,
		&driftType, &domainsJSON, &c.Confidence, &c.ImpactScore, &c.DriftScore, &riskLevel,
		&fingerprint, &c.EvidenceSummary, &candidatesJSON, &resStatus,
		&c.ResolutionMethod, &c.DocSystem, &c.DocID,
		&c.Owner.Primary, &c.Owner.Fallback, &c.Owner.Source, &c.Owner.Channel,
		&findingsJSON, &state, &stateUpdatedAt, &c.FailureCode, &c.FailureMessage,
		&snoozeUntil, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.DriftType = Type(driftType)
	c.RiskLevel = RiskLevel(riskLevel)
	c.ResolutionStatus = ResolutionStatus(resStatus)
	c.State = State(state)
	if fingerprint.Valid {
		c.Fingerprint = fingerprint.String
	}
	if snoozeUntil.Valid {
		t := db.ParseTime(snoozeUntil.String)
		c.SnoozeUntil = &t
	}
	c.StateUpdatedAt = db.ParseTime(stateUpdatedAt)
	c.CreatedAt = db.ParseTime(createdAt)
	c.UpdatedAt = db.ParseTime(updatedAt)

	if err := json.Unmarshal([]byte(domainsJSON), &c.DriftDomains); err != nil {
		c.DriftDomains = nil
	}
	if err := json.Unmarshal([]byte(candidatesJSON), &c.DocCandidates); err != nil {
		c.DocCandidates = nil
	}
	if err := json.Unmarshal([]byte(findingsJSON), &c.Findings); err != nil {
		c.Findings = nil
	}

	return &c, nil
}
