package sim

import (
	"strings"
	"testing"

	"github.com/sorae-dev/memhier/pkg/addr"
	"github.com/sorae-dev/memhier/pkg/cache"
	"github.com/sorae-dev/memhier/pkg/channel"
	"github.com/sorae-dev/memhier/pkg/dram"
	"github.com/sorae-dev/memhier/pkg/trace"
)

func testChannel(t *testing.T) *channel.Channel {
	t.Helper()
	cfg := dram.Config{
		NumChannels:   1,
		NumRanks:      1,
		NumBanks:      4,
		NumRows:       1 << 13,
		NumCols:       1 << 10,
		DeviceWidth:   8,
		RefreshPeriod: 64000,
		Timing: dram.Timing{
			CL: 5, AL: 0, BL: 8,
			TRAS: 28, TRCD: 5, TRRD: 4, TRC: 39, TRP: 5,
			TCCD: 4, TRTP: 4, TWTR: 4, TWR: 6, TRTRS: 2,
			TRFC: 74, TFAW: 20, TCKE: 3, TXP: 3, TCMD: 1,
			TCK: 1.25,
		},
		Currents:         dram.Currents{IDD2N: 50, IDD2P: 20, IDD3N: 65, Vdd: 1.5},
		TransQueueDepth:  16,
		CmdQueueDepth:    16,
		EpochLength:      1000,
		HistogramBinSize: 10,
		RowBuffer:        dram.OpenPage,
		Scheduling:       dram.RankThenBankRoundRobin,
		Queuing:          dram.PerRank,
	}
	widths := addr.Widths{Channel: 0, Rank: 0, Bank: 2, Row: 13, Column: 10, Burst: 3}
	decoder, err := addr.NewDecoder(addr.Scheme1, widths, 28)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	ctrl := dram.NewController(cfg, decoder, nil, nil)
	return channel.New(ctrl, nil)
}

func testLevels() []cache.LevelConfig {
	return []cache.LevelConfig{
		{BlockSize: 64, Associativity: 2, SetCount: 8},
		{BlockSize: 64, Associativity: 4, SetCount: 16},
	}
}

// TestDriverRunsTraceAndDrainsPending exercises the full pipeline: a
// small trace of reads and writes runs through the cache hierarchy,
// misses submit DRAM transactions, and Run's final drain leaves no
// pending reads (§8 pending-read conservation law, extended end-to-end).
func TestDriverRunsTraceAndDrainsPending(t *testing.T) {
	ch := testChannel(t)
	d, err := NewDriver(testLevels(), false, ch, 2.4e9, 800e6, 0, nil)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}

	traceText := "0 R 0\n0 R 1\n100 W 2\n200 R 3\n"
	r := trace.NewReader(strings.NewReader(traceText), nil)
	if err := d.Run(r); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if ch.OverflowDepth() != 0 {
		t.Errorf("OverflowDepth = %d after drain, want 0", ch.OverflowDepth())
	}
	if ch.Controller().PendingReadCount() != 0 {
		t.Errorf("PendingReadCount = %d after drain, want 0", ch.Controller().PendingReadCount())
	}

	hits, misses := d.Stats()
	if hits+misses != 4 {
		t.Errorf("hits+misses = %d, want 4 (one access per trace record)", hits+misses)
	}
	if hits == 0 {
		t.Error("repeating address 0 twice in a row should hit the second time")
	}
}

// TestDriverRejectsNonPositiveClockFrequency confirms configuration
// errors surface from NewDriver rather than panicking.
func TestDriverRejectsNonPositiveClockFrequency(t *testing.T) {
	ch := testChannel(t)
	if _, err := NewDriver(testLevels(), false, ch, 0, 800e6, 0, nil); err == nil {
		t.Error("expected an error for a zero cpu clock frequency")
	}
}

// TestDriverHonorsCycleCap confirms Run stops issuing trace work once
// the configured cycle cap is reached, without error.
func TestDriverHonorsCycleCap(t *testing.T) {
	ch := testChannel(t)
	d, err := NewDriver(testLevels(), false, ch, 2.4e9, 800e6, 1, nil)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}

	traceText := "0 R 0\n1000 R 1\n"
	r := trace.NewReader(strings.NewReader(traceText), nil)
	if err := d.Run(r); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if d.CPUCycle() > 1 {
		t.Errorf("CPUCycle = %d, want <= cycle cap 1", d.CPUCycle())
	}
}
