// Package lock provides per-drift processing leases so two workers
// never advance the same drift concurrently.
package lock

import (
	"database/sql"
	"fmt"
	"time"
)

// Outcome distinguishes contention from infrastructure failure: the
// caller must no-op on Contended but may proceed (fail-open, by
// configuration) on StoreUnavailable.
type Outcome int

const (
	Acquired Outcome = iota
	Contended
	StoreUnavailable
)

// Manager hands out time-boxed leases keyed by string. Expired leases
// are taken over by the next acquirer.
type Manager struct {
	db  *sql.DB
	ttl time.Duration
}

// NewManager creates a Manager with the given lease TTL.
func NewManager(db *sql.DB, ttl time.Duration) *Manager {
	return &Manager{db: db, ttl: ttl}
}

// Acquire attempts to take the lease for key on behalf of holder.
func (m *Manager) Acquire(key, holder string) (Outcome, error) {
	now := time.Now().UTC()
	expires := now.Add(m.ttl).Format(time.DateTime)

	res, err := m.db.Exec(`
		INSERT INTO locks (key, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE locks.expires_at <= ? OR locks.holder = excluded.holder`,
		key, holder, expires, now.Format(time.DateTime))
	if err != nil {
		return StoreUnavailable, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Contended, nil
	}
	return Acquired, nil
}

// Release frees the lease if holder still owns it. Releasing a lease
// lost to expiry is not an error.
func (m *Manager) Release(key, holder string) error {
	_, err := m.db.Exec(`DELETE FROM locks WHERE key = ? AND holder = ?`, key, holder)
	if err != nil {
		return fmt.Errorf("releasing lock %s: %w", key, err)
	}
	return nil
}
