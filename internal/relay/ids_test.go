package relay_test

import (
	"testing"

	"github.com/meshdrop/relay/internal/relay"
)

// TestTokenAllocatorAllocateUnique verifies that 1000 consecutive
// allocations produce entirely unique, non-empty session-ids.
func TestTokenAllocatorAllocateUnique(t *testing.T) {
	t.Parallel()

	alloc := relay.NewTokenAllocator()
	seen := make(map[string]struct{}, 1000)

	for i := range 1000 {
		id, err := alloc.Allocate()
		if err != nil {
			t.Fatalf("allocation %d: unexpected error: %v", i, err)
		}
		if id == "" {
			t.Fatalf("allocation %d: got empty session-id", i)
		}
		if _, exists := seen[id]; exists {
			t.Fatalf("allocation %d: duplicate session-id %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

// TestTokenAllocatorReleaseAllowsReuse verifies that releasing a
// session-id makes it available for Reserve again.
func TestTokenAllocatorReleaseAllowsReuse(t *testing.T) {
	t.Parallel()

	alloc := relay.NewTokenAllocator()

	if err := alloc.Reserve("custom-id"); err != nil {
		t.Fatalf("first reserve: unexpected error: %v", err)
	}

	if err := alloc.Reserve("custom-id"); err == nil {
		t.Fatal("second reserve of the same id succeeded, want error")
	}

	alloc.Release("custom-id")

	if err := alloc.Reserve("custom-id"); err != nil {
		t.Fatalf("reserve after release: unexpected error: %v", err)
	}
}

// TestTokenAllocatorReleaseUnknownIsNoop verifies that releasing a
// session-id that was never allocated does not panic or error.
func TestTokenAllocatorReleaseUnknownIsNoop(t *testing.T) {
	t.Parallel()

	alloc := relay.NewTokenAllocator()
	alloc.Release("never-allocated")
}
