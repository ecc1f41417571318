package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/db"
)

// Store provides append and query access to the audit trail.
type Store struct {
	db   *sql.DB
	feed *Feed
}

// NewStore creates a Store. feed may be nil when no live stream is
// wanted.
func NewStore(database *sql.DB, feed *Feed) *Store {
	return &Store{db: database, feed: feed}
}

// Log appends an event to the trail and publishes it to the feed. If
// event.ID is empty a UUID is generated. Callers treat Log failures as
// non-fatal: an audit write must never abort the transition it records.
func (s *Store) Log(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ActorType == "" {
		event.ActorType = ActorSystem
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, workspace_id, timestamp, entity_type, entity_id, event_type,
			actor_type, actor_id, from_state, to_state, summary, payload,
			requires_retention, compliance_tag
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.WorkspaceID,
		event.Timestamp.UTC().Format(time.DateTime),
		event.EntityType,
		event.EntityID,
		event.EventType,
		string(event.ActorType),
		event.ActorID,
		event.FromState,
		event.ToState,
		event.Summary,
		event.Payload,
		boolToInt(event.RequiresRetention),
		event.ComplianceTag,
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}

	if s.feed != nil {
		s.feed.Publish(event)
	}
	return nil
}

// QueryFilter controls which audit events are returned by Query.
type QueryFilter struct {
	EntityType string
	EntityID   string
	EventType  string
	ActorID    string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// Query returns audit events matching the filter, newest first.
func (s *Store) Query(ctx context.Context, workspaceID string, filter QueryFilter) ([]Event, error) {
	clauses := []string{"workspace_id = ?"}
	args := []any{workspaceID}

	if filter.EntityType != "" {
		clauses = append(clauses, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		clauses = append(clauses, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.ActorID != "" {
		clauses = append(clauses, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if filter.Since != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.Since.UTC().Format(time.DateTime))
	}
	if filter.Until != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, filter.Until.UTC().Format(time.DateTime))
	}

	query := `SELECT id, workspace_id, timestamp, entity_type, entity_id, event_type, actor_type, actor_id, from_state, to_state, summary, payload, requires_retention, compliance_tag FROM audit_events`
	query += " WHERE " + strings.Join(clauses, " AND ")
	query += " ORDER BY timestamp DESC, id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// ApplyRetention redacts the payload of retention-flagged events older
// than the cutoff. The events themselves are never deleted; only the
// evidence payload is cleared. Returns the number of redacted rows.
func (s *Store) ApplyRetention(ctx context.Context, workspaceID string, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE audit_events SET payload = ''
		WHERE workspace_id = ? AND requires_retention = 1 AND payload != '' AND timestamp < ?`,
		workspaceID, before.UTC().Format(time.DateTime))
	if err != nil {
		return 0, fmt.Errorf("applying audit retention: %w", err)
	}
	return res.RowsAffected()
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (*Event, error) {
	var (
		e                 Event
		actorType, ts     string
		requiresRetention int
	)
	err := sc.Scan(
		&e.ID, &e.WorkspaceID, &ts, &e.EntityType, &e.EntityID, &e.EventType,
		&actorType, &e.ActorID, &e.FromState, &e.ToState, &e.Summary, &e.Payload,
		&requiresRetention, &e.ComplianceTag,
	)
	if err != nil {
		return nil, err
	}
	e.ActorType = ActorType(actorType)
	e.RequiresRetention = requiresRetention != 0
	e.Timestamp = db.ParseTime(ts)
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
