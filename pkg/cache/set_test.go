package cache

import "testing"

func TestSetFindTouchOrdering(t *testing.T) {
	s := NewSet(4, 64)

	s.detach(0)
	s.InstallAtMRU(0, 0x1000, 1)
	s.detach(1)
	s.InstallAtMRU(1, 0x2000, 2)
	s.detach(2)
	s.InstallAtMRU(2, 0x3000, 3)

	if way, ok := s.Find(2); !ok || way != 1 {
		t.Fatalf("Find(2) = (%d, %v), want (1, true)", way, ok)
	}

	// MRU should be way 2 (0x3000) right after the three installs.
	if s.MRUWay() != 2 {
		t.Fatalf("MRUWay() = %d, want 2", s.MRUWay())
	}

	// Touching way 0 should move it to MRU.
	s.Touch(0)
	if s.MRUWay() != 0 {
		t.Fatalf("after Touch(0), MRUWay() = %d, want 0", s.MRUWay())
	}
}

func TestSetEvictLRUSkipsPinned(t *testing.T) {
	s := NewSet(3, 64)
	s.detach(0)
	s.InstallAtMRU(0, 0x1000, 1) // will become LRU
	s.detach(1)
	s.InstallAtMRU(1, 0x2000, 2)
	s.detach(2)
	s.InstallAtMRU(2, 0x3000, 3) // MRU

	s.Block(0).PresentInUpper = true // pin the current LRU

	way, err := s.EvictLRU()
	if err != nil {
		t.Fatalf("EvictLRU: %v", err)
	}
	if way != 1 {
		t.Fatalf("EvictLRU() = %d, want 1 (the deepest non-pinned block)", way)
	}
}

func TestSetEvictLRUAllPinnedIsInvariantViolation(t *testing.T) {
	s := NewSet(2, 64)
	s.detach(0)
	s.InstallAtMRU(0, 0x1000, 1)
	s.detach(1)
	s.InstallAtMRU(1, 0x2000, 2)
	s.Block(0).PresentInUpper = true
	s.Block(1).PresentInUpper = true

	if _, err := s.EvictLRU(); err == nil {
		t.Error("expected an error when every block in the set is pinned")
	}
}

func TestSetInvalidBlocksAreEvictable(t *testing.T) {
	s := NewSet(2, 64)
	// Both blocks start invalid; neither is pinned.
	way, err := s.EvictLRU()
	if err != nil {
		t.Fatalf("EvictLRU on a fresh set: %v", err)
	}
	if s.Block(way).Valid {
		t.Fatal("expected to evict an invalid block first")
	}
}
