package channel

import (
	"testing"

	"github.com/sorae-dev/memhier/pkg/addr"
	"github.com/sorae-dev/memhier/pkg/dram"
)

func testController(t *testing.T, transQueueDepth int) *dram.Controller {
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
		TransQueueDepth:  transQueueDepth,
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
	return dram.NewController(cfg, decoder, nil, nil)
}

// TestChannelOverflowsWhenTransactionQueueIsFull verifies that once the
// controller's transaction queue is saturated, further Submit calls
// queue in the channel's overflow FIFO instead of being dropped, and
// that WillAcceptTransaction reflects the overflow state (§4.8).
func TestChannelOverflowsWhenTransactionQueueIsFull(t *testing.T) {
	ctrl := testController(t, 1)
	ch := New(ctrl, nil)

	if !ch.WillAcceptTransaction() {
		t.Fatal("empty channel should accept a transaction immediately")
	}

	ch.Submit(dram.Transaction{Kind: dram.DataRead, Address: 0})
	ch.Submit(dram.Transaction{Kind: dram.DataRead, Address: 64})

	if ch.OverflowDepth() != 1 {
		t.Fatalf("OverflowDepth = %d, want 1 (queue depth 1 already holds the first transaction)", ch.OverflowDepth())
	}
	if ch.WillAcceptTransaction() {
		t.Error("WillAcceptTransaction should be false while the overflow buffer is non-empty")
	}
}

// TestChannelDrainsOverflowOnTick verifies a queued overflow transaction
// eventually moves into the controller once room frees up.
func TestChannelDrainsOverflowOnTick(t *testing.T) {
	ctrl := testController(t, 1)
	ch := New(ctrl, nil)

	ch.Submit(dram.Transaction{Kind: dram.DataRead, Address: 0})
	ch.Submit(dram.Transaction{Kind: dram.DataRead, Address: 64})
	if ch.OverflowDepth() != 1 {
		t.Fatalf("OverflowDepth = %d, want 1", ch.OverflowDepth())
	}

	for i := 0; i < 200 && ch.OverflowDepth() > 0; i++ {
		if err := ch.Tick(); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}

	if ch.OverflowDepth() != 0 {
		t.Error("overflow buffer should have drained once the transaction queue had room")
	}
}

// TestChannelControllerAccessor confirms Controller returns the same
// instance the Channel was built around, for driver/stats wiring.
func TestChannelControllerAccessor(t *testing.T) {
	ctrl := testController(t, 4)
	ch := New(ctrl, nil)
	if ch.Controller() != ctrl {
		t.Error("Controller() should return the wrapped controller instance")
	}
}
