// Package channel implements the channel wrapper (component I): it owns
// the memory controller and rank models for one DRAM channel, accepts
// external transactions, and buffers anything the controller's
// transaction queue can't admit yet.
package channel

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sorae-dev/memhier/pkg/dram"
	"github.com/sorae-dev/memhier/pkg/logger"
)

// Channel is the DRAM channel wrapper named in §4.8. Its only
// scheduling responsibility beyond the controller is the overflow
// buffer: a transaction the controller can't admit this tick is queued
// here and retried every DRAM tick.
type Channel struct {
	controller *dram.Controller
	log        *logger.Logger

	overflow []dram.Transaction

	// backoffLog paces the "still backed up" warning so a long overflow
	// episode doesn't spam one log line per DRAM cycle.
	backoffLog   *backoff.ExponentialBackOff
	nextLogAfter time.Duration
	ticksWaited  int
}

// New builds a Channel around an already-constructed controller.
func New(controller *dram.Controller, log *logger.Logger) *Channel {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1
	b.Multiplier = 2
	b.MaxInterval = 1024
	return &Channel{controller: controller, log: log, backoffLog: b, nextLogAfter: b.InitialInterval}
}

// WillAcceptTransaction reports whether submitting right now would be
// admitted immediately, without going through the overflow buffer.
func (c *Channel) WillAcceptTransaction() bool {
	return len(c.overflow) == 0 && c.controller.WillAcceptTransaction()
}

// Submit hands txn to the controller if there's room; otherwise it is
// queued in the unbounded overflow FIFO and retried on each DRAM tick
// (§4.8).
func (c *Channel) Submit(txn dram.Transaction) {
	if len(c.overflow) == 0 && c.controller.Enqueue(txn) {
		return
	}
	c.overflow = append(c.overflow, txn)
}

// Tick advances the underlying controller by one DRAM cycle, then
// drains as much of the overflow buffer as the controller will admit.
func (c *Channel) Tick() error {
	if err := c.controller.Tick(); err != nil {
		return err
	}

	drained := 0
	for len(c.overflow) > 0 {
		if !c.controller.Enqueue(c.overflow[0]) {
			break
		}
		c.overflow = c.overflow[1:]
		drained++
	}

	if len(c.overflow) > 0 {
		c.ticksWaited++
		c.logBackpressure()
	} else {
		c.ticksWaited = 0
		c.backoffLog.Reset()
		c.nextLogAfter = c.backoffLog.InitialInterval
	}
	return nil
}

func (c *Channel) logBackpressure() {
	if c.log == nil {
		return
	}
	if time.Duration(c.ticksWaited) < c.nextLogAfter {
		return
	}
	c.log.Warn("channel overflow buffer backed up: %d transactions waiting, %d ticks", len(c.overflow), c.ticksWaited)
	c.nextLogAfter += c.backoffLog.NextBackOff()
}

// OverflowDepth reports the number of transactions currently waiting in
// the overflow buffer, for diagnostics.
func (c *Channel) OverflowDepth() int { return len(c.overflow) }

// Controller returns the underlying memory controller, for callers
// (e.g. the simulator driver) that need its stats or cycle count.
func (c *Channel) Controller() *dram.Controller { return c.controller }
