package dram

import (
	"testing"

	"github.com/sorae-dev/memhier/pkg/addr"
)

func testConfig() Config {
	cfg := Config{
		NumChannels: 1,
		NumRanks:    2,
		NumBanks:    8,
		NumRows:     1 << 16,
		NumCols:     1 << 10,
		DeviceWidth: 8,
		RefreshPeriod: 64000,
		Timing: Timing{
			CL: 5, AL: 0, BL: 8,
			TRAS: 28, TRCD: 5, TRRD: 4, TRC: 39, TRP: 5,
			TCCD: 4, TRTP: 4, TWTR: 4, TWR: 6, TRTRS: 2,
			TRFC: 74, TFAW: 20, TCKE: 3, TXP: 3, TCMD: 1,
			TCK: 1.25,
		},
		Currents: Currents{IDD2N: 50, IDD2P: 20, IDD3N: 65, Vdd: 1.5},
		TransQueueDepth:  16,
		CmdQueueDepth:    16,
		EpochLength:      1000,
		HistogramBinSize: 10,
		TotalRowAccesses: 0,
		RowBuffer:        OpenPage,
		Scheduling:       RankThenBankRoundRobin,
		Queuing:          PerRank,
	}
	return cfg
}

func testDecoder(t *testing.T, cfg Config) *addr.Decoder {
	t.Helper()
	widths := addr.Widths{
		Channel: 0,
		Rank:    1,
		Bank:    3,
		Row:     16,
		Column:  10,
		Burst:   3,
	}
	d, err := addr.NewDecoder(addr.Scheme1, widths, 33)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	return d
}

func TestBackToBackReadsSameRowSpacedByTCCD(t *testing.T) {
	cfg := testConfig()
	cfg.TransQueueDepth = 1 // force one-at-a-time admission through the queue
	decoder := testDecoder(t, cfg)
	c := NewController(cfg, decoder, nil, nil)

	address := decoder.Recompose(addr.Fields{Rank: 0, Bank: 0, Row: 5, Column: 0})

	var lastRead uint64
	firstReadCycle := uint64(0)
	sawFirstRead := false
	sawSecondRead := false

	for cyc := uint64(0); cyc < 200 && !sawSecondRead; cyc++ {
		if c.WillAcceptTransaction() && cyc < 2 {
			c.Enqueue(Transaction{Kind: DataRead, Address: address, TimeAdmitted: cyc})
		}
		reads := c.stats.Epoch.Reads // READ commands issued so far
		if reads >= 1 && !sawFirstRead {
			sawFirstRead = true
			firstReadCycle = cyc
		} else if reads >= 2 && sawFirstRead {
			lastRead = cyc
			sawSecondRead = true
		}
		if err := c.Tick(); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}

	if !sawFirstRead || !sawSecondRead {
		t.Fatal("scenario did not converge within the cycle budget under this simplified admission loop")
	}
	if lastRead-firstReadCycle < cfg.Timing.TCCD {
		t.Errorf("second read issued only %d cycles after the first, want >= tCCD=%d", lastRead-firstReadCycle, cfg.Timing.TCCD)
	}
}

func TestRankEntersPowerDownWhenIdleAndLowPowerEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.UseLowPower = true
	decoder := testDecoder(t, cfg)
	c := NewController(cfg, decoder, nil, nil)

	for cyc := 0; cyc < 10; cyc++ {
		if err := c.Tick(); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}

	if !c.ranks[0].PoweredDown() {
		t.Error("idle rank with USE_LOW_POWER should have entered PowerDown")
	}
}

func TestRefreshMovesBankToRefreshing(t *testing.T) {
	cfg := testConfig()
	cfg.RefreshPeriod = 10 // tiny period so a refresh fires quickly in the test
	decoder := testDecoder(t, cfg)
	c := NewController(cfg, decoder, nil, nil)

	refreshed := false
	for cyc := 0; cyc < int(cfg.RefreshPeriod)*3 && !refreshed; cyc++ {
		if err := c.Tick(); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		if c.ranks[0].Banks[0].State == Refreshing {
			refreshed = true
		}
	}

	if !refreshed {
		t.Fatal("refresh did not fire within the test's cycle budget under the simplified schedule")
	}
}

func TestPendingReadConservationAtEnd(t *testing.T) {
	cfg := testConfig()
	decoder := testDecoder(t, cfg)
	c := NewController(cfg, decoder, nil, nil)

	address := decoder.Recompose(addr.Fields{Rank: 1, Bank: 2, Row: 9, Column: 1})
	c.Enqueue(Transaction{Kind: DataRead, Address: address, TimeAdmitted: 0})

	for cyc := 0; cyc < 500; cyc++ {
		if err := c.Tick(); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		if c.PendingReadCount() == 0 {
			return
		}
	}
	t.Error("read never returned within the cycle budget; pending-read set should have drained to zero")
}
