// Package addr implements the two address-decomposition concerns the
// core depends on: splitting an address into (tag, set-index, offset)
// for a cache level, and decomposing a physical address into DRAM
// (channel, rank, bank, row, column) fields under one of seven
// JEDEC-style bit-interleaving schemes.
package addr

import (
	"fmt"
	"math/bits"
)

// CacheGeometry holds the derived masks and bit widths for one cache
// level. It is built once at hierarchy construction time and reused on
// every access.
type CacheGeometry struct {
	BlockSize    uint64 // bytes, must be a power of two
	SetCount     uint64 // must be a power of two
	OffsetBits   uint
	SetIndexBits uint
	OffsetMask   uint64
	SetIndexMask uint64
}

// NewCacheGeometry derives bit widths and masks from a block size and
// set count. Mirrors the floor(log2(n)) bit-width derivation in the
// original C++ CacheSimulator so the config does not need to spell out
// redundant bit widths.
func NewCacheGeometry(blockSize, setCount uint64) (CacheGeometry, error) {
	if blockSize == 0 || blockSize&(blockSize-1) != 0 {
		return CacheGeometry{}, fmt.Errorf("addr: block size %d is not a power of two", blockSize)
	}
	if setCount == 0 || setCount&(setCount-1) != 0 {
		return CacheGeometry{}, fmt.Errorf("addr: set count %d is not a power of two", setCount)
	}

	offsetBits := uint(bits.TrailingZeros64(blockSize))
	setIndexBits := uint(bits.TrailingZeros64(setCount))

	return CacheGeometry{
		BlockSize:    blockSize,
		SetCount:     setCount,
		OffsetBits:   offsetBits,
		SetIndexBits: setIndexBits,
		OffsetMask:   (uint64(1) << offsetBits) - 1,
		SetIndexMask: (uint64(1) << setIndexBits) - 1,
	}, nil
}

// Decompose splits a physical address into (tag, setIndex, offset) per
// §4.1: offset = a & offsetMask; setIndex = (a >> offsetBits) &
// setIndexMask; tag = a >> (offsetBits + setIndexBits).
func (g CacheGeometry) Decompose(a uint64) (tag, setIndex, offset uint64) {
	offset = a & g.OffsetMask
	setIndex = (a >> g.OffsetBits) & g.SetIndexMask
	tag = a >> (g.OffsetBits + g.SetIndexBits)
	return tag, setIndex, offset
}

// Recompose reverses Decompose; used only by the round-trip law tests
// (decode-then-encode must reproduce the original address bit-exactly).
func (g CacheGeometry) Recompose(tag, setIndex, offset uint64) uint64 {
	return (tag << (g.OffsetBits + g.SetIndexBits)) | (setIndex << g.OffsetBits) | offset
}

// BlockAddress strips the offset bits, returning the block-aligned
// address a block's tag and set-index jointly identify.
func (g CacheGeometry) BlockAddress(a uint64) uint64 {
	return a &^ g.OffsetMask
}
