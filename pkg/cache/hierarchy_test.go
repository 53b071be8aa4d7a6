package cache

import "testing"

func TestAccessSameLineMissThenHit(t *testing.T) {
	h, err := New([]LevelConfig{{BlockSize: 64, Associativity: 4, SetCount: 16}}, false, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if hit := h.Access(0x1000, OpRead); hit {
		t.Fatal("first access to a cold line should miss")
	}
	if hit := h.Access(0x1020, OpRead); !hit {
		t.Fatal("second access to the same 64-byte line should hit")
	}

	stats := h.Stats(0)
	if stats.Reads != 2 || stats.ReadHits != 1 || stats.ReadMisses != 1 {
		t.Fatalf("stats = %+v, want 2 reads / 1 hit / 1 miss", stats)
	}
}

func TestWriteBackEmittedExactlyOnceOnEviction(t *testing.T) {
	const assoc = 2
	var writebacks []uint64
	h, err := New([]LevelConfig{{BlockSize: 64, Associativity: assoc, SetCount: 1}}, false, nil,
		func(address uint64) { writebacks = append(writebacks, address) })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// assoc+1 distinct tags, all writes, all mapping to the lone set.
	for i := 0; i < assoc+1; i++ {
		h.Access(uint64(i)*64, OpWrite)
	}

	if len(writebacks) != 1 {
		t.Fatalf("writebacks = %v, want exactly one", writebacks)
	}
	if writebacks[0] != 0 {
		t.Fatalf("writeback address = %#x, want 0 (the first, now-evicted-dirty block)", writebacks[0])
	}
}

func TestL1EvictionFlipsPresentInUpper(t *testing.T) {
	h, err := New([]LevelConfig{
		{BlockSize: 64, Associativity: 1, SetCount: 1}, // L1: always collides, evicts freely
		{BlockSize: 64, Associativity: 2, SetCount: 4}, // L2/LLC: enough sets to avoid collision
	}, false, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const addr0 = uint64(0)
	const addr1 = uint64(64) // (addr1>>6)&3 = 1 != (addr0>>6)&3 = 0: distinct L2 sets, same lone L1 set

	if hit := h.Access(addr0, OpRead); hit {
		t.Fatal("cold access to addr0 should miss")
	}

	l2Geom := h.levels[1].geometry
	tag0, set0, _ := l2Geom.Decompose(addr0)
	way0, ok := h.levels[1].sets[set0].Find(tag0)
	if !ok {
		t.Fatal("addr0 should be resident in L2 after the fill")
	}
	if !h.levels[1].sets[set0].Block(way0).PresentInUpper {
		t.Fatal("L2 block for addr0 should be marked present-in-upper after the L1 fill")
	}

	if hit := h.Access(addr1, OpRead); hit {
		t.Fatal("cold access to addr1 should miss")
	}

	// Installing addr1 into the single-way L1 set evicts addr0's L1
	// copy, which must flip the L2 block's present-in-upper flag back
	// to false.
	if h.levels[1].sets[set0].Block(way0).PresentInUpper {
		t.Fatal("L2 block for addr0 should no longer be present-in-upper after its L1 copy was evicted")
	}
}

func TestHierarchyRejectsNonIncreasingAssociativity(t *testing.T) {
	_, err := New([]LevelConfig{
		{BlockSize: 64, Associativity: 8, SetCount: 16},
		{BlockSize: 64, Associativity: 8, SetCount: 16},
	}, false, nil, nil)
	if err == nil {
		t.Error("expected a configuration error when a lower level's associativity does not exceed the level above it")
	}
}

func TestCountersConsistency(t *testing.T) {
	h, err := New([]LevelConfig{{BlockSize: 64, Associativity: 2, SetCount: 4}}, false, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h.Access(0x100, OpRead)
	h.Access(0x100, OpRead)
	h.Access(0x200, OpWrite)

	st := h.Stats(0)
	if st.Reads != st.ReadHits+st.ReadMisses {
		t.Errorf("reads=%d != hits=%d + misses=%d", st.Reads, st.ReadHits, st.ReadMisses)
	}
	if st.Writes != st.WriteHits+st.WriteMisses {
		t.Errorf("writes=%d != hits=%d + misses=%d", st.Writes, st.WriteHits, st.WriteMisses)
	}
}
