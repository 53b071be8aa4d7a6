// Package cache implements the inclusive, write-back, multi-level,
// set-associative cache hierarchy (components B and C of the design):
// a fixed-associativity Set built from an arena of Blocks linked by
// index rather than pointer, and a Hierarchy that walks levels on
// access, fills on miss, and coordinates eviction/inclusion across
// levels.
package cache

import "math"

// ParentRef is a navigation aid pointing from a block at one level to
// its counterpart at the level below (closer to memory), expressed as
// stable (level, set, way) coordinates rather than a pointer that could
// dangle across a re-stamp. §9 calls this out explicitly: never a
// reference that survives the lower block's re-stamping.
type ParentRef struct {
	Level    int
	SetIndex uint64
	Way      int
	Valid    bool
}

// Block is one slot in a Set's arena. It is allocated once when the set
// is constructed and reused (re-stamped, never freed) on every
// eviction; Valid == false is the "invalid sentinel" state, which never
// contributes to statistics and never produces a write-back regardless
// of its Dirty bit.
type Block struct {
	BlockSize      uint64
	Address        uint64
	Valid          bool
	Tag            uint64
	Dirty          bool
	PresentInUpper bool
	Parent         ParentRef

	// prevWay/nextWay thread this block into its Set's MRU->LRU chain.
	// prevWay points one step toward the MRU end (-1 if this block IS
	// the MRU); nextWay points one step toward the LRU end (-1 if this
	// block IS the LRU).
	prevWay int
	nextWay int
}

// invalidAddress is the sentinel meaning "no address" (all bits set,
// matching INVALID_BLOCK in the C++ original).
const invalidAddress = math.MaxUint64

func newBlock(blockSize uint64) Block {
	return Block{
		BlockSize: blockSize,
		Address:   invalidAddress,
		Valid:     false,
		prevWay:   -1,
		nextWay:   -1,
	}
}

// IsInvalid reports whether the block carries the invalid sentinel.
func (b *Block) IsInvalid() bool { return !b.Valid }
