package signal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/db"
)

// ErrNotFound is returned when no signal event matches the id.
var ErrNotFound = errors.New("signal event not found")

// Store provides persistence for signal events.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Create inserts a new signal event. If e.ID is empty a UUID is generated.
func (s *Store) Create(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if e.Payload == "" {
		e.Payload = "{}"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signal_events (id, workspace_id, source, type, service, repo, title, summary, payload, merged, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.WorkspaceID, string(e.Source), string(e.Kind), e.Service, e.Repo,
		e.Title, e.Summary, e.Payload, boolToInt(e.Merged),
		e.OccurredAt.UTC().Format(time.DateTime),
	)
	if err != nil {
		return fmt.Errorf("inserting signal event: %w", err)
	}
	return nil
}

// Get retrieves a signal event by id.
func (s *Store) Get(ctx context.Context, workspaceID, id string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, source, type, service, repo, title, summary, payload, merged, occurred_at, created_at
		FROM signal_events WHERE workspace_id = ? AND id = ?`, workspaceID, id)

	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// ListWindow returns events in the workspace whose occurrence time falls
// within [since, until], excluding the given event id.
func (s *Store) ListWindow(ctx context.Context, workspaceID string, since, until time.Time, excludeID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, source, type, service, repo, title, summary, payload, merged, occurred_at, created_at
		FROM signal_events
		WHERE workspace_id = ? AND occurred_at >= ? AND occurred_at <= ? AND id != ?
		ORDER BY occurred_at ASC`,
		workspaceID,
		since.UTC().Format(time.DateTime),
		until.UTC().Format(time.DateTime),
		excludeID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing signal window: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (*Event, error) {
	var (
		e                     Event
		source, kind          string
		merged                int
		occurredAt, createdAt string
	)
	err := sc.Scan(&e.ID, &e.WorkspaceID, &source, &kind, &e.Service, &e.Repo,
		&e.Title, &e.Summary, &e.Payload, &merged, &occurredAt, &createdAt)
	if err != nil {
		return nil, err
	}
	e.Source = Source(source)
	e.Kind = Kind(kind)
	e.Merged = merged != 0
	e.OccurredAt = db.ParseTime(occurredAt)
	e.CreatedAt = db.ParseTime(createdAt)
	return &e, nil
}


func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
