package sim

import (
	"fmt"

	"github.com/sorae-dev/memhier/pkg/cache"
	"github.com/sorae-dev/memhier/pkg/channel"
	"github.com/sorae-dev/memhier/pkg/dram"
	"github.com/sorae-dev/memhier/pkg/logger"
	"github.com/sorae-dev/memhier/pkg/trace"
)

// Driver advances the CPU and DRAM clock domains per the integer ratio
// §5 describes and routes each trace transaction: cache first, channel
// on miss, at the earliest CPU cycle >= the record's traced cycle
// (§4.8).
type Driver struct {
	hier *cache.Hierarchy
	ch   *channel.Channel
	log  *logger.Logger

	ratio Ratio // CPU:DRAM, faster domain first within a grouped interval

	cpuCycle  uint64
	dramCycle uint64
	cycleCap  uint64 // 0 means uncapped

	hits, misses uint64
}

// NewDriver builds a Driver, constructing the cache hierarchy itself so
// an LLC write-back can be wired straight into the channel as a
// DataWrite transaction stamped with the driver's current CPU cycle
// (§4.3.3: "the write-back is modeled as a normal WRITE transaction").
// cpuHz/dramHz derive the clock ratio via ApproximateRatio; cycleCap ==
// 0 means run until the trace and all pending transactions are drained
// (§5: "no cancellation... ends when the trace is exhausted... or a
// configured cycle cap is reached").
func NewDriver(levels []cache.LevelConfig, sharedLLC bool, ch *channel.Channel, cpuHz, dramHz float64, cycleCap uint64, log *logger.Logger) (*Driver, error) {
	if cpuHz <= 0 || dramHz <= 0 {
		return nil, fmt.Errorf("sim: cpu and dram clock frequencies must be positive")
	}
	ratio, err := ApproximateRatio(cpuHz / dramHz)
	if err != nil {
		return nil, err
	}

	d := &Driver{ch: ch, log: log, ratio: ratio, cycleCap: cycleCap}
	hier, err := cache.New(levels, sharedLLC, log, d.submitWriteback)
	if err != nil {
		return nil, err
	}
	d.hier = hier
	return d, nil
}

func (d *Driver) submitWriteback(address uint64) {
	d.ch.Submit(dram.Transaction{Kind: dram.DataWrite, Address: address, TimeAdmitted: d.cpuCycle})
}

// Run drives the simulation from r until the trace is exhausted and
// every pending DRAM transaction has returned, or the cycle cap is hit.
func (d *Driver) Run(r *trace.Reader) error {
	for {
		rec, ok := r.Next()
		if !ok {
			break
		}
		if d.cycleCap != 0 && d.cpuCycle >= d.cycleCap {
			if d.log != nil {
				d.log.Warn("cycle cap %d reached with trace records remaining", d.cycleCap)
			}
			return nil
		}

		// Advance the CPU domain up to the record's traced cycle,
		// ticking DRAM alongside it at the configured ratio (§5: the
		// faster domain ticks first within a grouped interval).
		for d.cpuCycle < rec.CPUCycle {
			if d.cycleCap != 0 && d.cpuCycle+uint64(d.ratio.N) > d.cycleCap {
				if d.log != nil {
					d.log.Warn("cycle cap %d reached with trace records remaining", d.cycleCap)
				}
				return nil
			}
			if err := d.advanceOneGroup(); err != nil {
				return err
			}
		}

		if err := d.submit(rec); err != nil {
			return err
		}
	}

	return d.drain()
}

// advanceOneGroup advances both domains by one "grouped interval" of
// the configured ratio: the faster domain's n ticks, then the slower
// domain's d ticks (or the reverse, per whichever side of the ratio the
// CPU sits on).
func (d *Driver) advanceOneGroup() error {
	if d.ratio.N >= d.ratio.D {
		// CPU is the faster (or equal) domain: CPU ticks N times, then
		// DRAM ticks D times.
		for i := 0; i < d.ratio.N; i++ {
			d.cpuCycle++
		}
		for i := 0; i < d.ratio.D; i++ {
			if err := d.ch.Tick(); err != nil {
				return err
			}
			d.dramCycle++
		}
		return nil
	}
	// DRAM is the faster domain: DRAM ticks D times, then CPU ticks N.
	for i := 0; i < d.ratio.D; i++ {
		if err := d.ch.Tick(); err != nil {
			return err
		}
		d.dramCycle++
	}
	for i := 0; i < d.ratio.N; i++ {
		d.cpuCycle++
	}
	return nil
}

// submit performs one trace transaction: cache first, DRAM channel on
// miss (§4.8).
func (d *Driver) submit(rec trace.Record) error {
	op := cache.OpRead
	if rec.Op == trace.OpWrite {
		op = cache.OpWrite
	}

	hit := d.hier.Access(rec.Address, op)
	if hit {
		d.hits++
		return nil
	}
	d.misses++

	kind := dram.DataRead
	if rec.Op == trace.OpWrite {
		kind = dram.DataWrite
	}
	d.ch.Submit(dram.Transaction{Kind: kind, Address: rec.Address, TimeAdmitted: d.cpuCycle})
	return nil
}

// drain advances both clock domains, one grouped interval at a time,
// until the channel's overflow buffer and pending-read set are both
// empty, or the next interval would carry the CPU cycle past the cap.
func (d *Driver) drain() error {
	for d.ch.OverflowDepth() > 0 || d.ch.Controller().PendingReadCount() > 0 {
		if d.cycleCap != 0 && d.cpuCycle+uint64(d.ratio.N) > d.cycleCap {
			return nil
		}
		if err := d.advanceOneGroup(); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns the driver's cache-level hit/miss totals (separate from
// the per-level Hierarchy.Stats, which the caller can query directly).
func (d *Driver) Stats() (hits, misses uint64) { return d.hits, d.misses }

// CPUCycle and DRAMCycle report the driver's current position in each
// domain.
func (d *Driver) CPUCycle() uint64  { return d.cpuCycle }
func (d *Driver) DRAMCycle() uint64 { return d.dramCycle }

// Hierarchy returns the driver's cache hierarchy, for stats reporting.
func (d *Driver) Hierarchy() *cache.Hierarchy { return d.hier }

// Channel returns the driver's DRAM channel, for stats reporting.
func (d *Driver) Channel() *channel.Channel { return d.ch }
