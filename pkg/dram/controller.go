package dram

import (
	"fmt"

	"github.com/sorae-dev/memhier/pkg/addr"
	"github.com/sorae-dev/memhier/pkg/logger"
)

// Callbacks is the small, arity-fixed capability record §9 calls for:
// read-complete, write-complete, and power-report hooks. None of them
// may re-enter the controller. The instance is passed to NewController,
// which holds it and only invokes it; the channel wrapper does not hold
// the callbacks.
type Callbacks struct {
	OnReadDone    func(address uint64)
	OnWriteDone   func(address uint64)
	OnPowerReport func(PowerReport)
}

// Controller drives the bank/command/transaction/rank tables every DRAM
// tick via the nine-step pipeline in §4.7 (component H).
type Controller struct {
	cfg     Config
	decoder *addr.Decoder
	ranks   []*Rank
	cmdQ    *CommandQueue
	transQ  *TransactionQueue
	cb      *Callbacks
	log     *logger.Logger

	cycle uint64

	cmdBusPacket  *BusPacket
	cmdCyclesLeft uint64

	dataBusPacket   *BusPacket
	dataBusIsReturn bool
	dataCyclesLeft  uint64
	arrivedData     *BusPacket // set by step 2 when a data burst finishes this cycle, consumed by step 7
	arrivedIsReturn bool

	// dataQueue holds both outgoing write data (isReturn == false, timed
	// off CL; no separate write latency is modelled) and incoming read
	// data (isReturn == true, timed off CL+AL), draining onto the single
	// data bus in issue order.
	dataQueue []dataEntry

	stats Stats
}

type dataEntry struct {
	packet    BusPacket
	countdown int64
	isReturn  bool
}

// NewController builds a Controller for one channel. decoder must
// already be validated against the configured address width.
func NewController(cfg Config, decoder *addr.Decoder, cb *Callbacks, log *logger.Logger) *Controller {
	refreshPeriodCycles := refreshPeriodInCycles(cfg)

	ranks := make([]*Rank, cfg.NumRanks)
	for i := range ranks {
		ranks[i] = NewRank(i, cfg.NumBanks, refreshPeriodCycles, cfg.NumRanks)
	}

	cfg.Timing.Derive()

	return &Controller{
		cfg:     cfg,
		decoder: decoder,
		ranks:   ranks,
		cmdQ:    NewCommandQueue(cfg.Queuing, cfg.Scheduling, cfg.CmdQueueDepth, cfg.NumRanks, cfg.NumBanks),
		transQ:  NewTransactionQueue(cfg.TransQueueDepth),
		cb:      cb,
		log:     log,
		stats:   newStats(cfg.NumRanks, cfg.NumBanks, cfg.HistogramBinSize),
	}
}

func refreshPeriodInCycles(cfg Config) uint64 {
	if cfg.Timing.TCK <= 0 {
		return cfg.RefreshPeriod
	}
	return uint64(float64(cfg.RefreshPeriod) / cfg.Timing.TCK)
}

// WillAcceptTransaction reports whether the transaction queue has room.
func (c *Controller) WillAcceptTransaction() bool { return c.transQ.HasRoom() }

// Enqueue admits a transaction if there is room; mirrors
// WillAcceptTransaction so callers can check-then-act or just attempt.
func (c *Controller) Enqueue(txn Transaction) bool { return c.transQ.Push(txn) }

// Stats returns the controller's current counters.
func (c *Controller) Stats() Stats { return c.stats }

// Cycle returns the current DRAM cycle count.
func (c *Controller) Cycle() uint64 { return c.cycle }

// PendingReadCount exposes the outstanding pending-read count for the
// end-of-simulation conservation check (§8).
func (c *Controller) PendingReadCount() int { return c.transQ.PendingReadCount() }

// Tick executes the nine-step pipeline in the exact order §4.7 names.
func (c *Controller) Tick() error {
	c.decayBankCountdowns()          // 1
	c.advanceBusPipelines()          // 2
	c.drainWriteDataCountdown()      // 3
	c.refreshAccounting()            // 4
	c.dispatchCommandQueue()         // 5
	c.drainTransactionQueue()        // 6
	if err := c.matchReturnData(); err != nil { // 7
		return err
	}
	c.accountPower() // 8
	c.flushEpoch()   // 9

	c.cycle++
	return nil
}

// step 1
func (c *Controller) decayBankCountdowns() {
	for _, r := range c.ranks {
		for b := range r.Banks {
			r.Banks[b].DecayCountdown()
		}
	}
}

// step 2
func (c *Controller) advanceBusPipelines() {
	if c.cmdBusPacket != nil {
		if c.cmdCyclesLeft > 0 {
			c.cmdCyclesLeft--
		}
		if c.cmdCyclesLeft == 0 {
			c.cmdBusPacket = nil
		}
	}
	if c.dataBusPacket != nil {
		if c.dataCyclesLeft > 0 {
			c.dataCyclesLeft--
		}
		if c.dataCyclesLeft == 0 {
			c.arrivedData = c.dataBusPacket
			c.arrivedIsReturn = c.dataBusIsReturn
			c.dataBusPacket = nil
		}
	}
}

// step 3
func (c *Controller) drainWriteDataCountdown() {
	if len(c.dataQueue) == 0 {
		return
	}
	head := &c.dataQueue[0]
	head.countdown--
	if head.countdown <= 0 {
		if c.dataBusPacket != nil {
			c.fatal("bus collision: write data ready but data bus occupied")
			return
		}
		c.dataBusPacket = &head.packet
		c.dataBusIsReturn = head.isReturn
		c.dataCyclesLeft = c.cfg.Timing.BL / 2
		c.dataQueue = c.dataQueue[1:]
	}
}

// step 4
func (c *Controller) refreshAccounting() {
	refreshPeriodCycles := refreshPeriodInCycles(c.cfg)
	for _, r := range c.ranks {
		r.DecayRefresh(refreshPeriodCycles)
		if r.RefreshPending() {
			c.cmdQ.NeedsRefresh(r.ID)
		}
		r.WakeIfDue(c.cycle, c.cfg.Timing.TXP)
	}
}

// step 5
func (c *Controller) dispatchCommandQueue() {
	if c.cmdBusPacket != nil {
		return // command bus busy this cycle
	}
	p, ok := c.cmdQ.Pop(c.ranks, c.cfg.Timing.TFAW, c.cycle)
	if !ok {
		return
	}

	c.issue(p)

	pkt := p
	c.cmdBusPacket = &pkt
	c.cmdCyclesLeft = c.cfg.Timing.TCMD
}

func (c *Controller) issue(p BusPacket) {
	r := c.ranks[p.Rank]
	switch p.Kind {
	case CmdActivate:
		r.IssueActivate(p.Bank, p.Row, c.cycle, c.cfg.Timing)
	case CmdRead, CmdReadP:
		r.Banks[p.Bank].ApplyRead(p.Kind == CmdReadP, c.cycle, c.cfg.Timing)
		ApplyColumnSiblingEffects(c.ranks, p.Rank, true, c.cycle, c.cfg.Timing)
		c.stats.recordRead(c.cfg, p.Rank, p.Bank)
		c.dataQueue = append(c.dataQueue, dataEntry{
			packet:    BusPacket{Kind: CmdData, Rank: p.Rank, Bank: p.Bank, Address: p.Address, Len: p.Len},
			countdown: int64(c.cfg.Timing.CL + c.cfg.Timing.AL),
			isReturn:  true,
		})
	case CmdWrite, CmdWriteP:
		r.Banks[p.Bank].ApplyWrite(p.Kind == CmdWriteP, c.cycle, c.cfg.Timing)
		ApplyColumnSiblingEffects(c.ranks, p.Rank, false, c.cycle, c.cfg.Timing)
		c.stats.recordWrite(c.cfg, p.Rank, p.Bank)
		c.dataQueue = append(c.dataQueue, dataEntry{
			packet:    BusPacket{Kind: CmdData, Rank: p.Rank, Bank: p.Bank, Address: p.Address, Payload: p.Payload, Len: p.Len},
			countdown: int64(c.cfg.Timing.CL),
			isReturn:  false,
		})
		if c.cb != nil && c.cb.OnWriteDone != nil {
			c.cb.OnWriteDone(p.Address)
		}
	case CmdPrecharge:
		r.Banks[p.Bank].ApplyPrecharge(c.cycle, c.cfg.Timing)
	case CmdRefresh:
		r.IssueRefresh(c.cycle, c.cfg.Timing)
		c.cmdQ.ClearRefreshBarrier(p.Rank)
	}

	if row := rowAccessLimit(&r.Banks[p.Bank], c.cfg.TotalRowAccesses); row {
		c.forcePrecharge(p.Rank, p.Bank)
	}

	if c.log != nil {
		c.log.DRAM("cycle=%d issue %s rank=%d bank=%d addr=%#x", c.cycle, p.Kind, p.Rank, p.Bank, p.Address)
	}
}

func rowAccessLimit(b *BankState, limit uint64) bool {
	return limit > 0 && b.State == RowActive && b.RowAccessCount() >= limit
}

func (c *Controller) forcePrecharge(rank, bank int) {
	c.cmdQ.Push(BusPacket{Kind: CmdPrecharge, Rank: rank, Bank: bank})
}

// step 6
func (c *Controller) drainTransactionQueue() {
	txn, ok := c.transQ.Peek()
	if !ok {
		return
	}

	fields := c.decoder.Decompose(txn.Address)
	rank, bank := int(fields.Rank), int(fields.Bank)
	if !c.cmdQ.HasRoom(rank, bank, 2) {
		return // wait for command queue room, per §4.6
	}

	readCmd, writeCmd := CmdRead, CmdWrite
	if c.cfg.RowBuffer == ClosePage {
		readCmd, writeCmd = CmdReadP, CmdWriteP
	}

	activate := BusPacket{Kind: CmdActivate, Rank: rank, Bank: bank, Row: fields.Row, Address: txn.Address}
	column := BusPacket{Rank: rank, Bank: bank, Row: fields.Row, Column: fields.Column, Address: txn.Address, Payload: txn.Payload, Len: txn.Len}
	if txn.Kind == DataRead {
		column.Kind = readCmd
	} else {
		column.Kind = writeCmd
	}

	c.cmdQ.Push(activate)
	c.cmdQ.Push(column)
	c.transQ.Drain()

	if c.log != nil {
		c.log.Controller("cycle=%d decomposed addr=%#x rank=%d bank=%d row=%d col=%d", c.cycle, txn.Address, rank, bank, fields.Row, fields.Column)
	}
}

// step 7
func (c *Controller) matchReturnData() error {
	if c.arrivedData == nil {
		return nil
	}
	p := c.arrivedData
	isReturn := c.arrivedIsReturn
	c.arrivedData = nil
	if !isReturn {
		return nil // a write's data landed at the bank; nothing to match
	}

	pending, err := c.transQ.MatchReturn(p.Address)
	if err != nil {
		c.fatal("%v", err)
		return err
	}
	latency := c.cycle - pending.TimeAdmitted
	c.stats.Histogram.Add(latency)
	if c.cb != nil && c.cb.OnReadDone != nil {
		c.cb.OnReadDone(p.Address)
	}
	return nil
}

// step 8
func (c *Controller) accountPower() {
	for _, r := range c.ranks {
		idx := r.ID
		switch {
		case r.PoweredDown():
			c.stats.Epoch.BackgroundEnergy[idx] += uint64(c.cfg.Currents.IDD2P * c.cfg.Currents.Vdd)
		case r.AllIdle():
			c.stats.Epoch.BackgroundEnergy[idx] += uint64(c.cfg.Currents.IDD2N * c.cfg.Currents.Vdd)
		default:
			c.stats.Epoch.BackgroundEnergy[idx] += uint64(c.cfg.Currents.IDD3N * c.cfg.Currents.Vdd)
		}

		if c.cfg.UseLowPower && !r.PoweredDown() && !r.RefreshPending() && r.AllIdle() {
			r.EnterPowerDown(c.cycle)
		}
	}

	if c.cfg.EpochLength > 0 && (c.cycle+1)%c.cfg.EpochLength == 0 && c.cb != nil && c.cb.OnPowerReport != nil {
		for _, r := range c.ranks {
			c.cb.OnPowerReport(PowerReport{
				Rank:             r.ID,
				BackgroundEnergy: c.stats.Epoch.BackgroundEnergy[r.ID],
				BurstEnergy:      c.stats.Epoch.BurstEnergy[r.ID],
				ActPreEnergy:     c.stats.Epoch.ActPreEnergy[r.ID],
				RefreshEnergy:    c.stats.Epoch.RefreshEnergy[r.ID],
			})
		}
	}
}

// step 9
func (c *Controller) flushEpoch() {
	if c.cfg.EpochLength == 0 || (c.cycle+1)%c.cfg.EpochLength != 0 {
		return
	}
	if c.log != nil {
		c.log.Controller("cycle=%d epoch flush reads=%d writes=%d", c.cycle, c.stats.Epoch.Reads, c.stats.Epoch.Writes)
	}
	c.stats.Epoch.reset()
}

func (c *Controller) fatal(format string, args ...interface{}) {
	if c.log != nil {
		c.log.Fatal(format, args...)
		return
	}
	panic(fmt.Sprintf(format, args...))
}
