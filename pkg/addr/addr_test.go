package addr

import "testing"

func TestCacheGeometryDecompose(t *testing.T) {
	g, err := NewCacheGeometry(64, 256) // 6 offset bits, 8 set-index bits
	if err != nil {
		t.Fatalf("NewCacheGeometry: %v", err)
	}

	a := uint64(0xDEAD1234_5000 + 0x41) // arbitrary address with a nonzero offset
	tag, setIndex, offset := g.Decompose(a)

	if offset != a&0x3F {
		t.Errorf("offset = %#x, want %#x", offset, a&0x3F)
	}
	if got := g.Recompose(tag, setIndex, offset); got != a {
		t.Errorf("round trip: Recompose(Decompose(%#x)) = %#x", a, got)
	}
}

func TestCacheGeometryRejectsNonPowerOfTwo(t *testing.T) {
	if _, err := NewCacheGeometry(63, 256); err == nil {
		t.Error("expected error for non-power-of-two block size")
	}
	if _, err := NewCacheGeometry(64, 200); err == nil {
		t.Error("expected error for non-power-of-two set count")
	}
}

func TestDRAMDecoderRoundTrip(t *testing.T) {
	widths := Widths{Channel: 1, Rank: 2, Bank: 3, Row: 16, Column: 10, Burst: 3}
	for s := Scheme1; s <= Scheme7; s++ {
		dec, err := NewDecoder(s, widths, 35)
		if err != nil {
			t.Fatalf("%s: NewDecoder: %v", s, err)
		}

		addrs := []uint64{0, 1, 0x1FFFFFFFF, 0xABCDEF123}
		for _, a := range addrs {
			a &= (uint64(1) << 35) - 1
			f := dec.Decompose(a)
			got := dec.Recompose(f)
			if got != a {
				t.Errorf("%s: round trip %#x -> %#x", s, a, got)
			}
		}
	}
}

func TestDRAMDecoderRejectsBadWidths(t *testing.T) {
	widths := Widths{Channel: 1, Rank: 2, Bank: 3, Row: 16, Column: 10, Burst: 3}
	if _, err := NewDecoder(Scheme1, widths, 34); err == nil {
		t.Error("expected configuration error when widths do not sum to address width")
	}
}

func TestSchemeFromString(t *testing.T) {
	cases := map[string]Scheme{
		"scheme1": Scheme1,
		"scheme7": Scheme7,
	}
	for name, want := range cases {
		got, err := SchemeFromString(name)
		if err != nil {
			t.Fatalf("SchemeFromString(%q): %v", name, err)
		}
		if got != want {
			t.Errorf("SchemeFromString(%q) = %v, want %v", name, got, want)
		}
	}

	if _, err := SchemeFromString("scheme9"); err == nil {
		t.Error("expected error for unknown scheme")
	}
}
