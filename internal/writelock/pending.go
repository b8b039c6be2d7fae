package writelock

import "sync"

// PendingWrite records a declared final length for a path whose remote lock
// has been requested.
type PendingWrite struct {
	Path   string
	Length int64

	// settled is closed once the lock request has finished, successfully or not.
	settled chan struct{}
}

type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*PendingWrite
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*PendingWrite)}
}

// add registers path unless an entry already exists.
func (t *pendingTable) add(path string, length int64) (*PendingWrite, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[path]; exists {
		return nil, false
	}
	pw := &PendingWrite{Path: path, Length: length, settled: make(chan struct{})}
	t.entries[path] = pw
	return pw, true
}

// takeIf removes and returns the entry for path when reached returns true for it.
func (t *pendingTable) takeIf(path string, reached func(*PendingWrite) bool) (*PendingWrite, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pw, ok := t.entries[path]
	if !ok || !reached(pw) {
		return nil, false
	}
	delete(t.entries, path)
	return pw, true
}

func (t *pendingTable) get(path string) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pw, ok := t.entries[path]
	if !ok {
		return 0, false
	}
	return pw.Length, true
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
