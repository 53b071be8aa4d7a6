package cache

import "fmt"

// Set is one associativity group: wayCount blocks ordered MRU->LRU,
// stored in a per-set arena so the block index for a given way is
// stable for the lifetime of the set (§9: "arena + indices", never raw
// pointers threaded between blocks).
type Set struct {
	blocks []Block
	mru    int
	lru    int
}

// NewSet allocates wayCount invalid blocks, linked MRU->LRU in way
// order (the initial order is arbitrary since every block starts
// invalid, but it must be deterministic for the replay-determinism
// law).
func NewSet(wayCount int, blockSize uint64) *Set {
	s := &Set{blocks: make([]Block, wayCount)}
	for i := range s.blocks {
		s.blocks[i] = newBlock(blockSize)
		s.blocks[i].prevWay = i - 1
		s.blocks[i].nextWay = i + 1
	}
	s.blocks[0].prevWay = -1
	s.blocks[wayCount-1].nextWay = -1
	s.mru = 0
	s.lru = wayCount - 1
	return s
}

// WayCount returns the set's fixed associativity.
func (s *Set) WayCount() int { return len(s.blocks) }

// Block returns a pointer to the block at the given way, for callers
// that need to mutate fields the Set's own API does not expose
// directly (e.g. copying a dirty bit back during upper-level fill).
func (s *Set) Block(way int) *Block { return &s.blocks[way] }

// Find performs a linear MRU->LRU search for a valid block whose tag
// matches. O(associativity).
func (s *Set) Find(tag uint64) (way int, ok bool) {
	for w := s.mru; w != -1; w = s.blocks[w].nextWay {
		if s.blocks[w].Valid && s.blocks[w].Tag == tag {
			return w, true
		}
	}
	return 0, false
}

// detach unlinks the block at way from wherever it currently sits in
// the MRU->LRU chain, relinking its neighbors, and updates the mru/lru
// ends if way was one of them.
func (s *Set) detach(way int) {
	b := &s.blocks[way]
	if b.prevWay != -1 {
		s.blocks[b.prevWay].nextWay = b.nextWay
	} else {
		s.mru = b.nextWay
	}
	if b.nextWay != -1 {
		s.blocks[b.nextWay].prevWay = b.prevWay
	} else {
		s.lru = b.prevWay
	}
	b.prevWay = -1
	b.nextWay = -1
}

// insertAtMRU links the block at way in as the new MRU, pushing the
// previous MRU (if any) one step toward LRU.
func (s *Set) insertAtMRU(way int) {
	oldMRU := s.mru
	b := &s.blocks[way]
	b.prevWay = -1
	b.nextWay = oldMRU
	if oldMRU != -1 {
		s.blocks[oldMRU].prevWay = way
	}
	s.mru = way
	if s.lru == -1 {
		s.lru = way
	}
}

// Touch detaches way from its current position and reinserts it at
// MRU, updating the LRU-end pointer if way was the tail.
func (s *Set) Touch(way int) {
	s.detach(way)
	s.insertAtMRU(way)
}

// EvictLRU scans LRU->MRU for the first block whose PresentInUpper
// flag is false and unlinks it. Blocks still held at an upper level
// are not evictable: evicting one would violate the inclusion
// invariant. Blocks bearing the invalid sentinel are always evictable
// and never produce a write-back regardless of their Dirty flag.
//
// The scan reaches the MRU only when every other block is pinned, and
// then evicts the MRU if it is not pinned itself; it fails only when
// the whole set is pinned, which Hierarchy construction rules out
// (§9, Open Question a).
func (s *Set) EvictLRU() (way int, err error) {
	for w := s.lru; w != -1; w = s.blocks[w].prevWay {
		if !s.blocks[w].PresentInUpper {
			s.detach(w)
			return w, nil
		}
	}
	return 0, fmt.Errorf("cache: set fully pinned, no evictable block (internal invariant violation)")
}

// InstallAtMRU re-stamps the block at way with a new address/tag,
// resets its dirty/upper-presence/parent fields, and relinks it at the
// MRU end. way must have already been detached (typically by
// EvictLRU).
func (s *Set) InstallAtMRU(way int, address, tag uint64) {
	b := &s.blocks[way]
	b.Address = address
	b.Tag = tag
	b.Valid = true
	b.Dirty = false
	b.PresentInUpper = false
	b.Parent = ParentRef{}
	s.insertAtMRU(way)
}

// MRUWay returns the way index currently at the MRU end.
func (s *Set) MRUWay() int { return s.mru }
