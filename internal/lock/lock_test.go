package lock

import (
	"testing"
	"time"

	"github.com/driftwatch/driftwatch/internal/db"
)

func newTestManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()
	d, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return NewManager(d.DB, ttl)
}

func TestAcquireAndContend(t *testing.T) {
	m := newTestManager(t, 30*time.Second)

	got, err := m.Acquire("ws1/d1", "worker-a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got != Acquired {
		t.Fatalf("first Acquire = %v, want Acquired", got)
	}

	got, err = m.Acquire("ws1/d1", "worker-b")
	if err != nil {
		t.Fatalf("Acquire by second holder: %v", err)
	}
	if got != Contended {
		t.Errorf("second holder Acquire = %v, want Contended", got)
	}

	// A different key is independent.
	got, err = m.Acquire("ws1/d2", "worker-b")
	if err != nil {
		t.Fatalf("Acquire other key: %v", err)
	}
	if got != Acquired {
		t.Errorf("other key Acquire = %v, want Acquired", got)
	}
}

func TestAcquireIsReentrantForHolder(t *testing.T) {
	m := newTestManager(t, 30*time.Second)

	if got, _ := m.Acquire("ws1/d1", "worker-a"); got != Acquired {
		t.Fatalf("first Acquire = %v, want Acquired", got)
	}
	got, err := m.Acquire("ws1/d1", "worker-a")
	if err != nil {
		t.Fatalf("re-Acquire: %v", err)
	}
	if got != Acquired {
		t.Errorf("re-Acquire by same holder = %v, want Acquired", got)
	}
}

func TestExpiredLeaseIsTakenOver(t *testing.T) {
	m := newTestManager(t, -time.Second) // already expired on acquire

	if got, _ := m.Acquire("ws1/d1", "worker-a"); got != Acquired {
		t.Fatalf("first Acquire = %v, want Acquired", got)
	}
	got, err := m.Acquire("ws1/d1", "worker-b")
	if err != nil {
		t.Fatalf("Acquire after expiry: %v", err)
	}
	if got != Acquired {
		t.Errorf("Acquire of expired lease = %v, want Acquired", got)
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	m := newTestManager(t, 30*time.Second)

	if got, _ := m.Acquire("ws1/d1", "worker-a"); got != Acquired {
		t.Fatal("setup acquire failed")
	}
	if err := m.Release("ws1/d1", "worker-a"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	got, err := m.Acquire("ws1/d1", "worker-b")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if got != Acquired {
		t.Errorf("Acquire after release = %v, want Acquired", got)
	}
}

func TestReleaseByNonHolderKeepsLease(t *testing.T) {
	m := newTestManager(t, 30*time.Second)

	if got, _ := m.Acquire("ws1/d1", "worker-a"); got != Acquired {
		t.Fatal("setup acquire failed")
	}
	if err := m.Release("ws1/d1", "worker-b"); err != nil {
		t.Fatalf("Release by non-holder: %v", err)
	}

	if got, _ := m.Acquire("ws1/d1", "worker-b"); got != Contended {
		t.Errorf("Acquire after foreign release = %v, want Contended", got)
	}
}
