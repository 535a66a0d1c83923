package memory

import (
	"context"
	"sync"
)

// Dedup is a process-local fingerprint set keyed by session. Register is a
// mutex-guarded test-and-set, safe under concurrent workers.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

func NewDedup() *Dedup {
	return &Dedup{seen: make(map[string]map[string]struct{})}
}

// Register returns true exactly once per (session, fingerprint).
func (d *Dedup) Register(_ context.Context, sessionID, fingerprint string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.seen[sessionID]
	if !ok {
		set = make(map[string]struct{})
		d.seen[sessionID] = set
	}
	if _, dup := set[fingerprint]; dup {
		return false, nil
	}
	set[fingerprint] = struct{}{}
	return true, nil
}

// Forget drops a session's fingerprint set.
func (d *Dedup) Forget(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, sessionID)
}
