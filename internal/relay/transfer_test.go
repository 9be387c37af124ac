package relay_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/meshdrop/relay/internal/relay"
)

func newTestTransfer(t *testing.T, totalChunks int) *relay.Transfer {
	t.Helper()

	table := relay.NewTransferTable()
	key := relay.TransferKey{Sender: "S1", Receiver: "R1", FileID: "F1"}
	tr, err := table.Create(key, relay.FileDescriptor{
		FileID:      "F1",
		Name:        "a.bin",
		Size:        128,
		TotalChunks: totalChunks,
		ChunkSize:   64,
	})
	if err != nil {
		t.Fatalf("create transfer: unexpected error: %v", err)
	}
	return tr
}

func TestTransferTableRejectsZeroTotalChunks(t *testing.T) {
	t.Parallel()

	table := relay.NewTransferTable()
	key := relay.TransferKey{Sender: "S1", Receiver: "R1", FileID: "F2"}

	_, err := table.Create(key, relay.FileDescriptor{FileID: "F2", TotalChunks: 0})
	if err == nil {
		t.Fatal("create with totalChunks=0 succeeded, want error")
	}
}

func TestTransferTableRejectsDuplicateKey(t *testing.T) {
	t.Parallel()

	table := relay.NewTransferTable()
	key := relay.TransferKey{Sender: "S1", Receiver: "R1", FileID: "F1"}
	fd := relay.FileDescriptor{FileID: "F1", TotalChunks: 2}

	if _, err := table.Create(key, fd); err != nil {
		t.Fatalf("first create: unexpected error: %v", err)
	}
	if _, err := table.Create(key, fd); err == nil {
		t.Fatal("second create with same key succeeded, want ErrDuplicateTransfer")
	}
}

func TestTransferSingleChunkReachesFullProgress(t *testing.T) {
	t.Parallel()

	tr := newTestTransfer(t, 1)

	result, err := tr.IngestChunk(0, time.Now())
	if err != nil {
		t.Fatalf("ingest chunk: unexpected error: %v", err)
	}
	if result.Duplicate {
		t.Fatal("first chunk reported as duplicate")
	}
	if result.ReceivedProgress != 100 {
		t.Errorf("ReceivedProgress = %d, want 100", result.ReceivedProgress)
	}
	if result.SentProgress != 100 {
		t.Errorf("SentProgress = %d, want 100", result.SentProgress)
	}
}

func TestTransferRejectsChunkIndexOutOfRange(t *testing.T) {
	t.Parallel()

	tr := newTestTransfer(t, 2)

	if _, err := tr.IngestChunk(2, time.Now()); err == nil {
		t.Fatal("ingest chunk at index == totalChunks succeeded, want ErrChunkIndexOutOfRange")
	}
	if _, err := tr.IngestChunk(-1, time.Now()); err == nil {
		t.Fatal("ingest chunk at negative index succeeded, want ErrChunkIndexOutOfRange")
	}
}

// TestTransferDuplicateChunkNotDoubleCounted verifies the round-trip law:
// sending the same file-chunk twice produces exactly one non-duplicate
// ingestion and counts exactly one duplicate.
func TestTransferDuplicateChunkNotDoubleCounted(t *testing.T) {
	t.Parallel()

	tr := newTestTransfer(t, 2)

	first, err := tr.IngestChunk(0, time.Now())
	if err != nil {
		t.Fatalf("first ingest: unexpected error: %v", err)
	}
	if first.Duplicate {
		t.Fatal("first ingest reported as duplicate")
	}

	second, err := tr.IngestChunk(0, time.Now())
	if err != nil {
		t.Fatalf("second ingest: unexpected error: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("second ingest of same index not reported as duplicate")
	}

	if got := tr.Duplicates(); got != 1 {
		t.Errorf("Duplicates() = %d, want 1", got)
	}
}

// TestTransferProgressMonotonicOutOfOrder verifies that out-of-order
// chunk arrivals never decrease sent% or received%.
func TestTransferProgressMonotonicOutOfOrder(t *testing.T) {
	t.Parallel()

	tr := newTestTransfer(t, 4)

	order := []int{2, 0, 3, 1}
	prevReceived, prevSent := 0, 0

	for _, idx := range order {
		result, err := tr.IngestChunk(idx, time.Now())
		if err != nil {
			t.Fatalf("ingest chunk %d: unexpected error: %v", idx, err)
		}
		if result.ReceivedProgress < prevReceived {
			t.Fatalf("received%% decreased: %d -> %d", prevReceived, result.ReceivedProgress)
		}
		if result.SentProgress < prevSent {
			t.Fatalf("sent%% decreased: %d -> %d", prevSent, result.SentProgress)
		}
		prevReceived, prevSent = result.ReceivedProgress, result.SentProgress
	}

	if prevReceived != 100 || prevSent != 100 {
		t.Errorf("final progress = (%d, %d), want (100, 100)", prevSent, prevReceived)
	}
}

func TestTransferSyncStatusLagNeverNegative(t *testing.T) {
	t.Parallel()

	tr := newTestTransfer(t, 4)

	if _, err := tr.IngestChunk(3, time.Now()); err != nil {
		t.Fatalf("ingest chunk: unexpected error: %v", err)
	}

	status := tr.SyncStatus()
	if status.SyncLag < 0 {
		t.Errorf("SyncLag = %d, want >= 0", status.SyncLag)
	}
	if status.ReceiverProgress > status.SenderProgress {
		t.Errorf("ReceiverProgress (%d) > SenderProgress (%d)", status.ReceiverProgress, status.SenderProgress)
	}
}

// TestTransferSyncStatusStructuralShape verifies SyncStatus's fields
// against an expected struct via a structural diff, ignoring the
// wall-clock LastChunkTime field.
func TestTransferSyncStatusStructuralShape(t *testing.T) {
	t.Parallel()

	tr := newTestTransfer(t, 4)
	tr.IngestChunk(0, time.Now())
	tr.IngestChunk(1, time.Now())

	want := relay.SyncStatusData{
		SenderID:           "S1",
		ReceiverID:         "R1",
		FileID:             "F1",
		SenderProgress:     50,
		ReceiverProgress:   50,
		SyncLag:            0,
		DuplicatesRejected: 0,
	}

	got := tr.SyncStatus()
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(relay.SyncStatusData{}, "LastChunkTime")); diff != "" {
		t.Errorf("SyncStatus mismatch (-want +got):\n%s", diff)
	}
}

func TestTransferApplyAckDuplicateCountsOncePerChunkIndex(t *testing.T) {
	t.Parallel()

	tr := newTestTransfer(t, 4)

	tr.ApplyAck(relay.AckDuplicate, 0, 0)
	if got := tr.Duplicates(); got != 1 {
		t.Errorf("Duplicates() = %d, want 1", got)
	}

	tr.ApplyAck(relay.AckDuplicate, 0, 0)
	if got := tr.Duplicates(); got != 1 {
		t.Errorf("Duplicates() = %d, want 1 (same chunk index must not be counted twice)", got)
	}

	tr.ApplyAck(relay.AckDuplicate, 1, 0)
	if got := tr.Duplicates(); got != 2 {
		t.Errorf("Duplicates() = %d, want 2 (a different chunk index counts independently)", got)
	}
}

// TestTransferApplyAckSkipsDuplicateAlreadyCountedByIngestChunk verifies the
// production path this guards: when IngestChunk has already counted a
// duplicate for a chunk index (a sender retransmit at the relay level), a
// later receiver-routed chunk-ack reporting the same index as a duplicate
// must not double-count it.
func TestTransferApplyAckSkipsDuplicateAlreadyCountedByIngestChunk(t *testing.T) {
	t.Parallel()

	tr := newTestTransfer(t, 4)

	if _, err := tr.IngestChunk(0, time.Now()); err != nil {
		t.Fatalf("IngestChunk: unexpected error: %v", err)
	}
	if _, err := tr.IngestChunk(0, time.Now()); err != nil {
		t.Fatalf("IngestChunk duplicate: unexpected error: %v", err)
	}
	if got := tr.Duplicates(); got != 1 {
		t.Fatalf("Duplicates() = %d, want 1 after relay-level duplicate", got)
	}

	tr.ApplyAck(relay.AckDuplicate, 0, 0)
	if got := tr.Duplicates(); got != 1 {
		t.Errorf("Duplicates() = %d, want 1 (ack must not re-count a duplicate IngestChunk already counted)", got)
	}
}
