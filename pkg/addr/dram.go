package addr

import "fmt"

// Scheme identifies one of the seven closed DRAM address-mapping
// interleavings named in §4.1. Every scheme is a pure bit-field
// permutation: burst-offset bits are always the low bits and row bits
// are always the high bits; schemes differ only in how channel, rank,
// bank, and column bits are ordered between those two ends.
type Scheme int

const (
	Scheme1 Scheme = iota
	Scheme2
	Scheme3
	Scheme4
	Scheme5
	Scheme6
	Scheme7
)

func (s Scheme) String() string {
	names := [...]string{"scheme1", "scheme2", "scheme3", "scheme4", "scheme5", "scheme6", "scheme7"}
	if int(s) < 0 || int(s) >= len(names) {
		return "unknown"
	}
	return names[s]
}

// SchemeFromString parses the INI-facing scheme name.
func SchemeFromString(s string) (Scheme, error) {
	switch s {
	case "scheme1":
		return Scheme1, nil
	case "scheme2":
		return Scheme2, nil
	case "scheme3":
		return Scheme3, nil
	case "scheme4":
		return Scheme4, nil
	case "scheme5":
		return Scheme5, nil
	case "scheme6":
		return Scheme6, nil
	case "scheme7":
		return Scheme7, nil
	default:
		return 0, fmt.Errorf("addr: unknown address mapping scheme %q", s)
	}
}

// field names the four address components whose position varies by
// scheme. Burst offset and row are not listed here: the burst offset
// always occupies the lowest bits, and row the remaining high-order bits
// after the other five are placed.
type field int

const (
	fieldChannel field = iota
	fieldRank
	fieldBank
	fieldColumn
)

// fieldOrder lists, for each scheme, the order of {channel, rank, bank,
// column} from the bit position immediately above the burst offset
// upward. Row always occupies everything above that.
var fieldOrder = [...][4]field{
	Scheme1: {fieldColumn, fieldBank, fieldRank, fieldChannel},
	Scheme2: {fieldColumn, fieldRank, fieldBank, fieldChannel},
	Scheme3: {fieldColumn, fieldBank, fieldChannel, fieldRank},
	Scheme4: {fieldBank, fieldColumn, fieldRank, fieldChannel},
	Scheme5: {fieldChannel, fieldColumn, fieldBank, fieldRank},
	Scheme6: {fieldColumn, fieldChannel, fieldBank, fieldRank},
	Scheme7: {fieldRank, fieldColumn, fieldBank, fieldChannel},
}

// Widths is the configured bit width of every address component. The
// sum of all six fields must equal the address width, or the hierarchy
// fails to initialize (§4.1).
type Widths struct {
	Channel uint
	Rank    uint
	Bank    uint
	Row     uint
	Column  uint
	Burst   uint
}

// Fields is the decomposed result of a DRAM address decode.
type Fields struct {
	Channel uint64
	Rank    uint64
	Bank    uint64
	Row     uint64
	Column  uint64
	Burst   uint64
}

// Decoder decomposes and recomposes physical addresses for one
// configured (scheme, widths) pair.
type Decoder struct {
	scheme  Scheme
	widths  Widths
	order   [4]field
	offsets [4]uint // bit offset of each of the four fields in `order`
	rowBit  uint
}

// NewDecoder validates the widths against the configured address width
// and precomputes per-field bit offsets. Returns a configuration error
// if the widths do not sum to addressWidth, per §4.1.
func NewDecoder(scheme Scheme, w Widths, addressWidth uint) (*Decoder, error) {
	sum := w.Channel + w.Rank + w.Bank + w.Row + w.Column + w.Burst
	if sum != addressWidth {
		return nil, fmt.Errorf(
			"addr: channel(%d)+rank(%d)+bank(%d)+row(%d)+column(%d)+burst(%d) = %d, want address width %d",
			w.Channel, w.Rank, w.Bank, w.Row, w.Column, w.Burst, sum, addressWidth)
	}

	order := fieldOrder[scheme]
	d := &Decoder{scheme: scheme, widths: w, order: order, rowBit: w.Burst}

	bit := w.Burst
	for i, f := range order {
		d.offsets[i] = bit
		bit += d.widthOf(f)
	}
	d.rowBit = bit

	return d, nil
}

func (d *Decoder) widthOf(f field) uint {
	switch f {
	case fieldChannel:
		return d.widths.Channel
	case fieldRank:
		return d.widths.Rank
	case fieldBank:
		return d.widths.Bank
	case fieldColumn:
		return d.widths.Column
	default:
		return 0
	}
}

func mask(width uint) uint64 {
	if width == 0 {
		return 0
	}
	return (uint64(1) << width) - 1
}

// Decompose splits a physical address into DRAM fields under the
// decoder's configured scheme. Pure shift and mask, no arithmetic.
func (d *Decoder) Decompose(a uint64) Fields {
	var f Fields
	f.Burst = a & mask(d.widths.Burst)
	f.Row = (a >> d.rowBit) & mask(d.widths.Row)

	for i, fld := range d.order {
		v := (a >> d.offsets[i]) & mask(d.widthOf(fld))
		switch fld {
		case fieldChannel:
			f.Channel = v
		case fieldRank:
			f.Rank = v
		case fieldBank:
			f.Bank = v
		case fieldColumn:
			f.Column = v
		}
	}
	return f
}

// Recompose reverses Decompose; used by the round-trip determinism law.
func (d *Decoder) Recompose(f Fields) uint64 {
	a := f.Burst & mask(d.widths.Burst)
	a |= (f.Row & mask(d.widths.Row)) << d.rowBit

	for i, fld := range d.order {
		var v uint64
		switch fld {
		case fieldChannel:
			v = f.Channel
		case fieldRank:
			v = f.Rank
		case fieldBank:
			v = f.Bank
		case fieldColumn:
			v = f.Column
		}
		a |= (v & mask(d.widthOf(fld))) << d.offsets[i]
	}
	return a
}

// Scheme returns the decoder's configured scheme.
func (d *Decoder) Scheme() Scheme { return d.scheme }

// Widths returns the decoder's configured field widths.
func (d *Decoder) Widths() Widths { return d.widths }
