package relay

import (
	"fmt"
	"sync"
	"time"
)

// TransferTable is the authoritative set of in-flight Transfers, keyed by
// (sender, receiver, file-id). Mirrors the Registry's owning-component
// pattern: all mutation passes through the table's own methods under its
// mutex, never through a caller reaching into a *Transfer's fields.
type TransferTable struct {
	mu        sync.RWMutex
	transfers map[TransferKey]*Transfer

	now func() time.Time
}

// NewTransferTable creates an empty TransferTable.
func NewTransferTable() *TransferTable {
	return &TransferTable{
		transfers: make(map[TransferKey]*Transfer),
		now:       time.Now,
	}
}

// Create starts tracking a new Transfer for key. Returns
// ErrDuplicateTransfer if the triple is already in flight, and
// ErrInvalidFileDescriptor if fd names zero or negative totals.
func (t *TransferTable) Create(key TransferKey, fd FileDescriptor) (*Transfer, error) {
	if fd.TotalChunks <= 0 || fd.Size < 0 {
		return nil, fmt.Errorf("create transfer %s/%s/%s: %w", key.Sender, key.Receiver, key.FileID, ErrInvalidFileDescriptor)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.transfers[key]; exists {
		return nil, fmt.Errorf("create transfer %s/%s/%s: %w", key.Sender, key.Receiver, key.FileID, ErrDuplicateTransfer)
	}

	tr := newTransfer(key, fd, t.now())
	t.transfers[key] = tr

	return tr, nil
}

// Get looks up the Transfer for key.
func (t *TransferTable) Get(key TransferKey) (*Transfer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tr, ok := t.transfers[key]
	return tr, ok
}

// Delete removes key's Transfer, if any. Idempotent.
func (t *TransferTable) Delete(key TransferKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.transfers, key)
}

// DeleteAfter removes key's Transfer once d has elapsed, used for the
// completion grace period between transfer-complete and the Transfer's
// removal from the table (so a late duplicate chunk-ack still finds it).
func (t *TransferTable) DeleteAfter(key TransferKey, d time.Duration) {
	time.AfterFunc(d, func() {
		t.Delete(key)
	})
}

// ForSession returns the keys of every Transfer in which sessionID
// participates as either sender or receiver, for cancel-on-disconnect.
func (t *TransferTable) ForSession(sessionID string) []TransferKey {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var keys []TransferKey
	for key := range t.transfers {
		if key.Sender == sessionID || key.Receiver == sessionID {
			keys = append(keys, key)
		}
	}

	return keys
}

// StaleActive returns the keys of every active Transfer whose last chunk
// activity predates cutoff, for the idle-transfer sweep.
func (t *TransferTable) StaleActive(cutoff time.Time) []TransferKey {
	t.mu.RLock()
	transfers := make(map[TransferKey]*Transfer, len(t.transfers))
	for k, tr := range t.transfers {
		transfers[k] = tr
	}
	t.mu.RUnlock()

	var stale []TransferKey
	for key, tr := range transfers {
		if tr.State() == StateActive && tr.LastChunkTime().Before(cutoff) {
			stale = append(stale, key)
		}
	}

	return stale
}

// Count returns the number of in-flight Transfers.
func (t *TransferTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.transfers)
}

// Snapshot returns the SyncStatus of every in-flight Transfer, for the
// admin /v1/transfers endpoint.
func (t *TransferTable) Snapshot() []SyncStatusData {
	t.mu.RLock()
	transfers := make([]*Transfer, 0, len(t.transfers))
	for _, tr := range t.transfers {
		transfers = append(transfers, tr)
	}
	t.mu.RUnlock()

	out := make([]SyncStatusData, 0, len(transfers))
	for _, tr := range transfers {
		out = append(out, tr.SyncStatus())
	}

	return out
}
