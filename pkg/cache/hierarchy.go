package cache

import (
	"fmt"

	"github.com/sorae-dev/memhier/pkg/addr"
	"github.com/sorae-dev/memhier/pkg/logger"
)

// Op is the memory operation an access represents.
type Op int

const (
	OpRead Op = iota
	OpWrite
)

// LevelConfig describes one cache level's geometry, supplied by the
// device configuration.
type LevelConfig struct {
	BlockSize     uint64
	Associativity int
	SetCount      uint64
}

// LevelStats are the aggregated per-level counters named in §3; the
// consistency law reads == readHits+readMisses holds at every level at
// every point in time.
type LevelStats struct {
	Reads, ReadHits, ReadMisses   uint64
	Writes, WriteHits, WriteMisses uint64
}

type level struct {
	geometry addr.CacheGeometry
	cfg      LevelConfig
	sets     []*Set
	stats    LevelStats
}

// Hierarchy is an N-level inclusive, write-back cache. Level 0 is
// closest to the CPU; the last level is the LLC and is the only level
// that talks to DRAM.
type Hierarchy struct {
	levels      []level
	sharedLLC   bool
	log         *logger.Logger
	onWriteback func(address uint64)
}

// New constructs a Hierarchy from per-level configs. Returns a
// configuration error (the only kind of error this package ever
// returns to a caller) for an unsupported level count, a non-power-of-
// two block size or set count, or a level whose associativity does not
// strictly exceed the sum of the associativities of all levels above
// it — the guarantee (§9, Open Question a) that makes a fully-pinned
// set impossible.
func New(configs []LevelConfig, sharedLLC bool, log *logger.Logger, onWriteback func(address uint64)) (*Hierarchy, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("cache: hierarchy must have at least one level")
	}

	h := &Hierarchy{sharedLLC: sharedLLC, log: log, onWriteback: onWriteback}
	h.levels = make([]level, len(configs))

	upperAssoc := 0
	for i, c := range configs {
		if c.Associativity <= 0 {
			return nil, fmt.Errorf("cache: level %d associativity must be positive", i)
		}
		geom, err := addr.NewCacheGeometry(c.BlockSize, c.SetCount)
		if err != nil {
			return nil, fmt.Errorf("cache: level %d: %w", i, err)
		}
		if i > 0 && c.Associativity <= upperAssoc {
			return nil, fmt.Errorf(
				"cache: level %d associativity (%d) must exceed the sum of the associativities of the levels above it (%d) to guarantee no set is ever fully pinned",
				i, c.Associativity, upperAssoc)
		}
		upperAssoc += c.Associativity

		sets := make([]*Set, c.SetCount)
		for s := range sets {
			sets[s] = NewSet(c.Associativity, c.BlockSize)
		}
		h.levels[i] = level{geometry: geom, cfg: c, sets: sets}
	}

	return h, nil
}

// NumLevels returns the number of cache levels.
func (h *Hierarchy) NumLevels() int { return len(h.levels) }

// Stats returns the aggregated counters for one level.
func (h *Hierarchy) Stats(level int) LevelStats { return h.levels[level].stats }

// Access performs a full hierarchy access for op at address, walking
// levels 0..L-1, promoting on hit, and filling on miss (§4.3). Returns
// whether the access hit anywhere in the hierarchy; a miss that falls
// through every level triggers an LLC fill and a fill-up walk before
// returning false. A write-back to DRAM, if the LLC eviction was valid
// and dirty, is delivered via the onWriteback callback before Access
// returns.
func (h *Hierarchy) Access(address uint64, op Op) bool {
	for l := range h.levels {
		tag, setIndex, _ := h.levels[l].geometry.Decompose(address)
		set := h.levels[l].sets[setIndex]

		way, hit := set.Find(tag)
		if hit {
			set.Touch(way)
			if op == OpWrite {
				set.Block(way).Dirty = true
			}
			h.recordAccess(l, op, true)
			if h.log != nil {
				h.log.Cache("level %d hit addr=%#x set=%d way=%d", l, address, setIndex, way)
			}
			return true
		}
		h.recordAccess(l, op, false)
	}

	h.fillLLC(address)
	for l := len(h.levels) - 2; l >= 0; l-- {
		h.fillUpper(l, address)
	}

	// A write that misses everywhere still lands in L0 once the fill
	// walk completes: the newly resident top-level block is marked
	// dirty so that a later LLC eviction produces the write-back §8's
	// seeded scenario 2 requires (a write-allocate, not a read-only
	// fill-then-discard).
	if op == OpWrite {
		top := &h.levels[0]
		tag, setIndex, _ := top.geometry.Decompose(address)
		if way, ok := top.sets[setIndex].Find(tag); ok {
			top.sets[setIndex].Block(way).Dirty = true
		}
	}
	return false
}

func (h *Hierarchy) recordAccess(l int, op Op, hit bool) {
	st := &h.levels[l].stats
	if op == OpRead {
		st.Reads++
		if hit {
			st.ReadHits++
		} else {
			st.ReadMisses++
		}
	} else {
		st.Writes++
		if hit {
			st.WriteHits++
		} else {
			st.WriteMisses++
		}
	}
}

// fillLLC implements §4.3.1: evict the LLC set's LRU, write back if
// valid and dirty, then re-stamp and install the new block at MRU.
func (h *Hierarchy) fillLLC(address uint64) {
	llc := len(h.levels) - 1
	tag, setIndex, _ := h.levels[llc].geometry.Decompose(address)
	set := h.levels[llc].sets[setIndex]

	way, err := set.EvictLRU()
	if err != nil {
		h.fatal("LLC set %d: %v", setIndex, err)
		return
	}
	evicted := *set.Block(way)
	if evicted.Valid && evicted.Dirty && h.onWriteback != nil {
		h.onWriteback(evicted.Address)
	}
	set.InstallAtMRU(way, address, tag)
}

// fillUpper implements §4.3.2: evict the LRU of the upper (level l)
// set; if it was valid, locate its parent in the lower level (l+1) by
// recomputing the lower tag/set-index from the evicted block's
// address — never by reusing the upper tag — copy the dirty flag back
// down and clear the lower block's PresentInUpper flag. Then mark the
// lower set's current MRU (the block the lower fill just installed) as
// present-in-upper and link the newly installed upper block's parent
// to it.
func (h *Hierarchy) fillUpper(l int, address uint64) {
	upperGeom := h.levels[l].geometry
	tag, setIndex, _ := upperGeom.Decompose(address)
	upperSet := h.levels[l].sets[setIndex]

	way, err := upperSet.EvictLRU()
	if err != nil {
		h.fatal("level %d set %d: %v", l, setIndex, err)
		return
	}
	evicted := *upperSet.Block(way)

	lowerGeom := h.levels[l+1].geometry
	if evicted.Valid {
		lowerTag, lowerSetIndex, _ := lowerGeom.Decompose(evicted.Address)
		lowerSet := h.levels[l+1].sets[lowerSetIndex]
		lowerWay, ok := lowerSet.Find(lowerTag)
		if !ok {
			h.fatal("inclusion violation: level %d evicted block %#x has no parent at level %d", l, evicted.Address, l+1)
			return
		}
		lowerBlock := lowerSet.Block(lowerWay)
		lowerBlock.Dirty = evicted.Dirty
		lowerBlock.PresentInUpper = false
	}

	_, lowerSetIndex, _ := lowerGeom.Decompose(address)
	lowerSet := h.levels[l+1].sets[lowerSetIndex]
	lowerMRUWay := lowerSet.MRUWay()
	lowerSet.Block(lowerMRUWay).PresentInUpper = true

	upperSet.InstallAtMRU(way, address, tag)
	upperSet.Block(way).Parent = ParentRef{Level: l + 1, SetIndex: lowerSetIndex, Way: lowerMRUWay, Valid: true}
}

func (h *Hierarchy) fatal(format string, args ...interface{}) {
	if h.log != nil {
		h.log.Fatal(format, args...)
		return
	}
	panic(fmt.Sprintf(format, args...))
}
