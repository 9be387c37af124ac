package relay

import (
	"sync"
	"time"
)

// FileDescriptor is the sender-declared, immutable-for-the-life-of-the-
// transfer metadata.
type FileDescriptor struct {
	FileID      string
	Name        string
	Size        int64
	MimeType    string
	ChunkSize   int
	TotalChunks int
}

// TransferKey identifies a Transfer by the triple (sender, receiver,
// file-id).
type TransferKey struct {
	Sender   string
	Receiver string
	FileID   string
}

// ChunkResult is what IngestChunk reports back to the Router so it can
// decide what to forward and ack.
type ChunkResult struct {
	Duplicate        bool
	ReceivedProgress int
	SentProgress     int
}

// Transfer is one attempted file delivery, tracking the two-sided
// progress model: a received-chunk bitmap, derived sent/received
// percentages, duplicate count, and last-activity time.
//
// All mutation goes through Transfer's own methods, each taking the
// internal mutex; the Router never reaches into a Transfer's fields
// directly and holds only transient references during a single
// envelope's handling.
type Transfer struct {
	Key        TransferKey
	Descriptor FileDescriptor
	createdAt  time.Time

	mu               sync.Mutex
	state            TransferState
	received         chunkBitset
	duplicateCounted chunkBitset
	sentProgress     int
	duplicates       int
	lastChunkTime    time.Time
}

// newTransfer constructs a Transfer in StatePending with an empty
// received set and zero progress.
func newTransfer(key TransferKey, fd FileDescriptor, now time.Time) *Transfer {
	return &Transfer{
		Key:              key,
		Descriptor:       fd,
		createdAt:        now,
		state:            StatePending,
		received:         newChunkBitset(fd.TotalChunks),
		duplicateCounted: newChunkBitset(fd.TotalChunks),
		lastChunkTime:    now,
	}
}

// State returns the Transfer's current lifecycle state.
func (t *Transfer) State() TransferState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// applyEvent runs the FSM over the Transfer's current state and, on a
// recognized transition, commits the new state. Returns the FSM result
// unmodified so the Router can act on TransferFSMResult.Actions.
func (t *Transfer) applyEvent(event TransferEvent) TransferFSMResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := ApplyTransferEvent(t.state, event)
	if result.Ok {
		t.state = result.NewState
	}

	return result
}

// receivedProgressLocked computes received% = |received| / total,
// clamped to [0, 100]. Caller must hold t.mu.
func (t *Transfer) receivedProgressLocked() int {
	if t.Descriptor.TotalChunks <= 0 {
		return 0
	}
	return clampPercent(t.received.Count() * 100 / t.Descriptor.TotalChunks)
}

// IngestChunk handles an inbound file-chunk at index i: duplicate
// detection, bitset insertion, and the monotonic sent/received
// percentage recomputation. Refreshes last-chunk-time unconditionally --
// both the duplicate and the fresh-chunk paths count as activity.
//
// Returns ErrChunkIndexOutOfRange if i is outside [0, totalChunks) --
// the Router treats this as an invariant violation and destroys the
// Transfer.
func (t *Transfer) IngestChunk(i int, now time.Time) (ChunkResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i < 0 || i >= t.Descriptor.TotalChunks {
		return ChunkResult{}, ErrChunkIndexOutOfRange
	}

	t.lastChunkTime = now

	if t.received.Has(i) {
		t.duplicates++
		t.duplicateCounted.Set(i)
		return ChunkResult{
			Duplicate:        true,
			ReceivedProgress: t.receivedProgressLocked(),
			SentProgress:     t.sentProgress,
		}, nil
	}

	t.received.Set(i)

	receivedPct := t.receivedProgressLocked()

	// sent% reflects the highest chunk index observed so far, clamped to
	// be monotonically non-decreasing across out-of-order arrivals.
	impliedSent := clampPercent((i + 1) * 100 / t.Descriptor.TotalChunks)
	if impliedSent > t.sentProgress {
		t.sentProgress = impliedSent
	}

	return ChunkResult{
		Duplicate:        false,
		ReceivedProgress: receivedPct,
		SentProgress:     t.sentProgress,
	}, nil
}

// ApplyAck overwrites the received side of the progress model from a
// receiver-emitted chunk-ack routed through the core. status=duplicate
// increments the duplicate counter only if chunkIndex was not already
// counted as a duplicate by IngestChunk (or a prior ApplyAck call for the
// same index) -- duplicateCounted is the shared gate both paths set,
// so whichever one observes the duplicate first is the one that counts it.
func (t *Transfer) ApplyAck(status ChunkAckStatus, chunkIndex, receiverProgress int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch status {
	case AckReceived:
		pct := clampPercent(receiverProgress)
		// Monotonic: an ack can never move received% backwards.
		if pct > t.receivedProgressLocked() {
			// Receiver-reported progress supersedes the bitmap-derived
			// value when it is ahead (e.g. the receiver persisted chunks
			// the core itself never saw acked individually).
			t.forceReceivedProgress(pct)
		}
	case AckDuplicate:
		if t.duplicateCounted.Set(chunkIndex) {
			t.duplicates++
		}
	}
}

// forceReceivedProgress overrides the bitmap-derived receivedProgress by
// synthesizing enough set bits to match pct without ever unsetting a bit,
// preserving the never-loses-a-membership invariant. Caller must hold
// t.mu.
func (t *Transfer) forceReceivedProgress(pct int) {
	target := pct * t.Descriptor.TotalChunks / 100
	for i := 0; i < t.Descriptor.TotalChunks && t.received.Count() < target; i++ {
		t.received.Set(i)
	}
}

// Duplicates returns the current duplicate-chunk count.
func (t *Transfer) Duplicates() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duplicates
}

// LastChunkTime returns the last time a chunk or ack refreshed activity.
func (t *Transfer) LastChunkTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastChunkTime
}

// touchChunkActivity refreshes last-chunk-time without mutating progress,
// used when the Router needs to record activity outside IngestChunk
// (e.g. a receiver-originated ack arriving on its own).
func (t *Transfer) touchChunkActivity(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastChunkTime = now
}

// SyncStatus computes the derived SyncStatus projection: the
// sync-lag is max(0, sender% - receiver%).
func (t *Transfer) SyncStatus() SyncStatusData {
	t.mu.Lock()
	defer t.mu.Unlock()

	receivedPct := t.receivedProgressLocked()
	lag := t.sentProgress - receivedPct
	if lag < 0 {
		lag = 0
	}

	return SyncStatusData{
		SenderID:           t.Key.Sender,
		ReceiverID:         t.Key.Receiver,
		FileID:             t.Key.FileID,
		SenderProgress:     t.sentProgress,
		ReceiverProgress:   receivedPct,
		SyncLag:            lag,
		DuplicatesRejected: t.duplicates,
		LastChunkTime:      t.lastChunkTime.UnixMilli(),
	}
}

// clampPercent bounds a percentage computation to [0, 100].
func clampPercent(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
