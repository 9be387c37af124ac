package relay

import (
	"errors"
	"testing"
	"time"
)

func TestTransferTableCreateAndGet(t *testing.T) {
	t.Parallel()

	table := NewTransferTable()
	key := TransferKey{Sender: "a", Receiver: "b", FileID: "f1"}

	created, err := table.Create(key, FileDescriptor{FileID: "f1", TotalChunks: 4})
	if err != nil {
		t.Fatalf("create: unexpected error: %v", err)
	}

	got, ok := table.Get(key)
	if !ok {
		t.Fatal("Get after Create returned ok=false")
	}
	if got != created {
		t.Error("Get returned a different *Transfer than Create produced")
	}
}

func TestTransferTableCreateRejectsInvalidDescriptor(t *testing.T) {
	t.Parallel()

	table := NewTransferTable()
	key := TransferKey{Sender: "a", Receiver: "b", FileID: "f1"}

	_, err := table.Create(key, FileDescriptor{FileID: "f1", TotalChunks: 0})
	if !errors.Is(err, ErrInvalidFileDescriptor) {
		t.Fatalf("err = %v, want ErrInvalidFileDescriptor", err)
	}

	_, err = table.Create(key, FileDescriptor{FileID: "f1", TotalChunks: 4, Size: -1})
	if !errors.Is(err, ErrInvalidFileDescriptor) {
		t.Fatalf("err = %v, want ErrInvalidFileDescriptor", err)
	}
}

func TestTransferTableCreateRejectsDuplicate(t *testing.T) {
	t.Parallel()

	table := NewTransferTable()
	key := TransferKey{Sender: "a", Receiver: "b", FileID: "f1"}
	fd := FileDescriptor{FileID: "f1", TotalChunks: 4}

	if _, err := table.Create(key, fd); err != nil {
		t.Fatalf("first create: unexpected error: %v", err)
	}

	_, err := table.Create(key, fd)
	if !errors.Is(err, ErrDuplicateTransfer) {
		t.Fatalf("err = %v, want ErrDuplicateTransfer", err)
	}
}

func TestTransferTableDeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	table := NewTransferTable()
	key := TransferKey{Sender: "a", Receiver: "b", FileID: "f1"}
	table.Create(key, FileDescriptor{FileID: "f1", TotalChunks: 4})

	table.Delete(key)
	if _, ok := table.Get(key); ok {
		t.Fatal("Get after Delete returned ok=true")
	}

	// A second delete of an already-absent key must not panic.
	table.Delete(key)
}

func TestTransferTableDeleteAfter(t *testing.T) {
	t.Parallel()

	table := NewTransferTable()
	key := TransferKey{Sender: "a", Receiver: "b", FileID: "f1"}
	table.Create(key, FileDescriptor{FileID: "f1", TotalChunks: 4})

	table.DeleteAfter(key, 10*time.Millisecond)

	if _, ok := table.Get(key); !ok {
		t.Fatal("Get immediately after DeleteAfter scheduling returned ok=false")
	}

	time.Sleep(50 * time.Millisecond)

	if _, ok := table.Get(key); ok {
		t.Fatal("Get after DeleteAfter's delay elapsed returned ok=true")
	}
}

func TestTransferTableForSessionMatchesSenderOrReceiver(t *testing.T) {
	t.Parallel()

	table := NewTransferTable()
	table.Create(TransferKey{Sender: "s1", Receiver: "r1", FileID: "f1"}, FileDescriptor{FileID: "f1", TotalChunks: 2})
	table.Create(TransferKey{Sender: "r1", Receiver: "s2", FileID: "f2"}, FileDescriptor{FileID: "f2", TotalChunks: 2})
	table.Create(TransferKey{Sender: "s3", Receiver: "s4", FileID: "f3"}, FileDescriptor{FileID: "f3", TotalChunks: 2})

	keys := table.ForSession("r1")
	if len(keys) != 2 {
		t.Fatalf("ForSession(r1) returned %d keys, want 2", len(keys))
	}
}

func TestTransferTableStaleActiveOnlyReportsActiveAndOld(t *testing.T) {
	t.Parallel()

	table := NewTransferTable()

	freshKey := TransferKey{Sender: "s1", Receiver: "r1", FileID: "fresh"}
	freshTr, _ := table.Create(freshKey, FileDescriptor{FileID: "fresh", TotalChunks: 2})
	freshTr.applyEvent(EventAccept)

	staleKey := TransferKey{Sender: "s2", Receiver: "r2", FileID: "stale"}
	staleTr, _ := table.Create(staleKey, FileDescriptor{FileID: "stale", TotalChunks: 2})
	staleTr.applyEvent(EventAccept)
	staleTr.lastChunkTime = time.Now().Add(-time.Hour)

	pendingKey := TransferKey{Sender: "s3", Receiver: "r3", FileID: "pending"}
	table.Create(pendingKey, FileDescriptor{FileID: "pending", TotalChunks: 2})

	cutoff := time.Now().Add(-time.Minute)
	stale := table.StaleActive(cutoff)

	if len(stale) != 1 || stale[0] != staleKey {
		t.Fatalf("StaleActive = %v, want only [%v]", stale, staleKey)
	}
}

func TestTransferTableCountAndSnapshot(t *testing.T) {
	t.Parallel()

	table := NewTransferTable()
	if table.Count() != 0 {
		t.Fatalf("Count() on empty table = %d, want 0", table.Count())
	}

	table.Create(TransferKey{Sender: "s1", Receiver: "r1", FileID: "f1"}, FileDescriptor{FileID: "f1", TotalChunks: 4})
	table.Create(TransferKey{Sender: "s2", Receiver: "r2", FileID: "f2"}, FileDescriptor{FileID: "f2", TotalChunks: 4})

	if table.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", table.Count())
	}

	snapshot := table.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("len(Snapshot()) = %d, want 2", len(snapshot))
	}
}
