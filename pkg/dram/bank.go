package dram

import "fmt"

const invalidRow = ^uint64(0)

// BankState is the per-(rank,bank) timing and phase record named in
// §3 "Bank State". All nextX fields are cycle numbers: the earliest
// cycle at which a command of that kind may next be issued to this
// bank. They are monotonically non-decreasing for every elapsed cycle,
// per §3's invariant.
type BankState struct {
	State       BankStateKind
	LastCommand CommandKind
	OpenRow     uint64 // valid only when State == RowActive

	NextActivate  uint64
	NextPrecharge uint64
	NextRead      uint64
	NextWrite     uint64
	NextPowerUp   uint64

	// countdown ticks toward zero once per DRAM cycle; when it reaches
	// zero, impliedCommand's transition is applied automatically
	// (auto-precharge completion, PRECHARGE->Idle, REFRESH->Idle).
	countdown      int64
	impliedCommand CommandKind

	rowAccessCount uint64 // since the row was opened, for TOTAL_ROW_ACCESSES
}

func newBankState() BankState {
	return BankState{State: Idle, LastCommand: cmdNone, OpenRow: invalidRow, impliedCommand: cmdNone}
}

// DecayCountdown implements §4.7 step 1: decrement any non-zero
// state-change countdown and apply its implicit transition when it
// reaches zero.
func (b *BankState) DecayCountdown() {
	if b.countdown <= 0 {
		return
	}
	b.countdown--
	if b.countdown == 0 {
		switch b.impliedCommand {
		case CmdPrecharge:
			b.State = Idle
		case CmdRefresh:
			b.State = Idle
		}
		b.impliedCommand = cmdNone
	}
}

// IsIssuable reports whether cmd may be issued to this bank at cycle t,
// per the nextX bookkeeping §4.4 names (§8: "for every issued command
// of kind X at cycle t, next_X immediately before the issue was ≤ t").
func (b *BankState) IsIssuable(cmd CommandKind, t uint64) bool {
	switch cmd {
	case CmdActivate:
		return b.State == Idle && t >= b.NextActivate
	case CmdRead, CmdReadP:
		return b.State == RowActive && t >= b.NextRead
	case CmdWrite, CmdWriteP:
		return b.State == RowActive && t >= b.NextWrite
	case CmdPrecharge:
		return b.State == RowActive && t >= b.NextPrecharge
	case CmdRefresh:
		return b.State == Idle && t >= b.NextActivate
	default:
		return false
	}
}

// ApplyActivate implements the ACTIVATE rule of §4.4 for the targeted
// bank only; the caller (Rank) is responsible for applying the
// cross-bank tRRD/tFAW effects to sibling banks.
func (b *BankState) ApplyActivate(row, t uint64, tm Timing) {
	b.State = RowActive
	b.OpenRow = row
	b.LastCommand = CmdActivate
	b.rowAccessCount = 0
	b.NextActivate = t + tm.TRC
	b.NextPrecharge = t + tm.TRAS
	b.NextRead = t + tm.TRCD - tm.AL
	b.NextWrite = t + tm.TRCD - tm.AL
}

// ApplyRead implements the READ/READ_P rule of §4.4 for the targeted
// bank; same-rank and different-rank sibling effects are applied by
// Rank.ApplyColumnSiblingEffects.
func (b *BankState) ApplyRead(autoPrecharge bool, t uint64, tm Timing) {
	b.NextPrecharge = t + tm.ReadToPre + tm.AMLatency
	b.rowAccessCount++
	if autoPrecharge {
		b.LastCommand = CmdReadP
		b.countdown = int64(tm.ReadToPre)
		b.impliedCommand = CmdPrecharge
		b.NextRead = t + tm.ReadToPre
		b.NextWrite = t + tm.ReadToPre
		b.NextActivate = t + tm.ReadToPre
	} else {
		b.LastCommand = CmdRead
	}
}

// ApplyWrite is the WRITE/WRITE_P analogue of ApplyRead.
func (b *BankState) ApplyWrite(autoPrecharge bool, t uint64, tm Timing) {
	b.NextPrecharge = t + tm.WriteToPre + tm.AMLatency
	b.rowAccessCount++
	if autoPrecharge {
		b.LastCommand = CmdWriteP
		b.countdown = int64(tm.WriteToPre)
		b.impliedCommand = CmdPrecharge
		b.NextRead = t + tm.WriteToPre
		b.NextWrite = t + tm.WriteToPre
		b.NextActivate = t + tm.WriteToPre
	} else {
		b.LastCommand = CmdWrite
	}
}

// ApplyPrecharge implements the PRECHARGE rule of §4.4.
func (b *BankState) ApplyPrecharge(t uint64, tm Timing) {
	b.State = Precharging
	b.LastCommand = CmdPrecharge
	b.OpenRow = invalidRow
	b.NextActivate = t + tm.TRP
	b.countdown = int64(tm.TRP)
	b.impliedCommand = CmdPrecharge
}

// ApplyRefresh implements the REFRESH rule of §4.4 for one bank; Rank
// calls this on every bank in the refreshing rank.
func (b *BankState) ApplyRefresh(t uint64, tm Timing) {
	b.State = Refreshing
	b.LastCommand = CmdRefresh
	b.OpenRow = invalidRow
	b.NextActivate = t + tm.TRFC
	b.countdown = int64(tm.TRFC)
	b.impliedCommand = CmdRefresh
}

// RowAccessCount reports accesses to the currently open row, for
// TOTAL_ROW_ACCESSES forced-precharge enforcement (§4.5).
func (b *BankState) RowAccessCount() uint64 { return b.rowAccessCount }

func (s BankStateKind) validate() error {
	switch s {
	case Idle, RowActive, Precharging, Refreshing, PowerDown:
		return nil
	default:
		return fmt.Errorf("dram: invalid bank state %d", int(s))
	}
}
