package notify

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/db"
)

// DigestItem is one buffered notification awaiting a digest flush.
type DigestItem struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Channel     string    `json:"channel"`
	DriftID     string    `json:"drift_id,omitempty"`
	Text        string    `json:"text"`
	Flushed     bool      `json:"flushed"`
	CreatedAt   time.Time `json:"created_at"`
}

// DigestStore persists digest items.
type DigestStore struct {
	db *sql.DB
}

// NewDigestStore creates a DigestStore backed by the given database.
func NewDigestStore(database *sql.DB) *DigestStore {
	return &DigestStore{db: database}
}

// Add buffers an item for the next flush.
func (s *DigestStore) Add(item *DigestItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	_, err := s.db.Exec(`
		INSERT INTO digest_items (id, workspace_id, channel, drift_id, text)
		VALUES (?, ?, ?, ?, ?)`,
		item.ID, item.WorkspaceID, item.Channel, item.DriftID, item.Text)
	if err != nil {
		return fmt.Errorf("adding digest item: %w", err)
	}
	return nil
}

// PendingByChannel returns unflushed items grouped by channel, oldest
// first within each channel.
func (s *DigestStore) PendingByChannel(workspaceID string) (map[string][]*DigestItem, error) {
	rows, err := s.db.Query(`
		SELECT id, workspace_id, channel, drift_id, text, flushed, created_at
		FROM digest_items
		WHERE workspace_id = ? AND flushed = 0
		ORDER BY channel, created_at`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing pending digest items: %w", err)
	}
	defer rows.Close()

	byChannel := make(map[string][]*DigestItem)
	for rows.Next() {
		var item DigestItem
		var flushed int
		var createdAt string
		if err := rows.Scan(&item.ID, &item.WorkspaceID, &item.Channel, &item.DriftID, &item.Text, &flushed, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning digest item: %w", err)
		}
		item.Flushed = flushed != 0
		item.CreatedAt = db.ParseTime(createdAt)
		byChannel[item.Channel] = append(byChannel[item.Channel], &item)
	}
	return byChannel, rows.Err()
}

// MarkFlushed marks the given items as delivered.
func (s *DigestStore) MarkFlushed(workspaceID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, workspaceID)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.Exec(
		`UPDATE digest_items SET flushed = 1 WHERE workspace_id = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("marking digest items flushed: %w", err)
	}
	return nil
}
