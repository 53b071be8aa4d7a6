// Package config loads the system and device INI files §6 names,
// applies CLI overrides, and validates the result into the immutable
// records pkg/cache and pkg/dram construct from (§9: "Encapsulate them
// in a single immutable configuration record... do not keep global
// mutable state.").
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/ini.v1"

	"github.com/sorae-dev/memhier/pkg/addr"
	"github.com/sorae-dev/memhier/pkg/cache"
	"github.com/sorae-dev/memhier/pkg/dram"
)

// System holds the NUM_CHANS/NUM_CORES-level parameters from the system
// INI file, plus the cache geometry per level.
type System struct {
	NumChannels int
	NumCores    int
	CacheLevels []cache.LevelConfig
	SharedLLC   bool
}

// Device holds the DRAM device parameters §6 names.
type Device struct {
	DRAM        dram.Config
	AddrWidths  addr.Widths
	AddrScheme  addr.Scheme
	AddressBits uint
	DeviceSize  datasize.ByteSize // informational: total addressable capacity, for the log banner
}

// Overrides is the parsed form of repeatable `-o key=value` CLI flags,
// applied after the INI load and before validation (§6).
type Overrides map[string]string

// ParseOverrides converts `KEY=VALUE` strings from repeatable -o flags.
func ParseOverrides(pairs []string) (Overrides, error) {
	out := make(Overrides, len(pairs))
	for _, p := range pairs {
		parts := strings.SplitN(p, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("config: override %q is not in KEY=VALUE form", p)
		}
		out[strings.ToUpper(strings.TrimSpace(parts[0]))] = strings.TrimSpace(parts[1])
	}
	return out, nil
}

// loader wraps an *ini.File plus an Overrides map and a warn sink,
// applying §6's rule set uniformly: unknown keys warn, a missing
// numeric key is fatal, a missing boolean defaults false, a missing
// string defaults empty.
type loader struct {
	file *ini.File
	ov   Overrides
	warn func(format string, args ...interface{})
}

func newLoader(path string, ov Overrides, warn func(string, ...interface{})) (*loader, error) {
	f, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true}, path)
	if err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}
	if warn == nil {
		warn = func(string, ...interface{}) {}
	}
	return &loader{file: f, ov: ov, warn: warn}, nil
}

func (l *loader) raw(key string) (string, bool) {
	if v, ok := l.ov[strings.ToUpper(key)]; ok {
		return v, true
	}
	k := l.file.Section("").Key(key)
	if k.String() == "" {
		return "", false
	}
	return k.String(), true
}

// reqUint reads a required numeric key; missing is fatal per §6.
func (l *loader) reqUint(key string) (uint64, error) {
	v, ok := l.raw(key)
	if !ok {
		return 0, fmt.Errorf("config: missing required key %s", key)
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: key %s = %q is not a valid integer: %w", key, v, err)
	}
	return n, nil
}

func (l *loader) reqFloat(key string) (float64, error) {
	v, ok := l.raw(key)
	if !ok {
		return 0, fmt.Errorf("config: missing required key %s", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: key %s = %q is not a valid number: %w", key, v, err)
	}
	return f, nil
}

// optBool defaults to false when the key is absent (§6).
func (l *loader) optBool(key string) bool {
	v, ok := l.raw(key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.warn("config: key %s = %q is not a valid boolean, defaulting to false", key, v)
		return false
	}
	return b
}

// optString defaults to empty when the key is absent (§6).
func (l *loader) optString(key string) string {
	v, _ := l.raw(key)
	return v
}

func (l *loader) optUintOr(key string, fallback uint64) uint64 {
	v, ok := l.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		l.warn("config: key %s = %q is not a valid integer, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

// warnUnknownKeys logs a warning for every INI key this loader never
// queried, per §6 ("unknown keys emit a warning").
func (l *loader) warnUnknownKeys(known map[string]bool) {
	for _, k := range l.file.Section("").Keys() {
		name := k.Name()
		if !known[name] {
			l.warn("config: unknown key %s ignored", name)
		}
	}
}

// LoadDevice parses the device INI file into a dram.Config plus address
// decoder widths/scheme.
func LoadDevice(path string, ov Overrides, warn func(string, ...interface{})) (Device, error) {
	l, err := newLoader(path, ov, warn)
	if err != nil {
		return Device{}, err
	}

	var d Device
	var cfg dram.Config
	known := map[string]bool{}
	req := func(key string) uint64 {
		known[key] = true
		v, e := l.reqUint(key)
		if e != nil {
			err = e
		}
		return v
	}
	reqF := func(key string) float64 {
		known[key] = true
		v, e := l.reqFloat(key)
		if e != nil {
			err = e
		}
		return v
	}

	cfg.NumChannels = int(req("NUM_CHANS"))
	cfg.NumRanks = int(req("NUM_RANKS"))
	cfg.NumBanks = int(req("NUM_BANKS"))
	cfg.NumRows = req("NUM_ROWS")
	cfg.NumCols = req("NUM_COLS")
	cfg.DeviceWidth = int(req("DEVICE_WIDTH"))
	cfg.RefreshPeriod = req("REFRESH_PERIOD")
	cfg.Timing.TCK = reqF("tCK")
	cfg.Timing.CL = req("CL")
	cfg.Timing.AL = req("AL")
	cfg.Timing.BL = req("BL")
	cfg.Timing.TRAS = req("tRAS")
	cfg.Timing.TRCD = req("tRCD")
	cfg.Timing.TRRD = req("tRRD")
	cfg.Timing.TRC = req("tRC")
	cfg.Timing.TRP = req("tRP")
	cfg.Timing.TCCD = req("tCCD")
	cfg.Timing.TRTP = req("tRTP")
	cfg.Timing.TWTR = req("tWTR")
	cfg.Timing.TWR = req("tWR")
	cfg.Timing.TRTRS = req("tRTRS")
	cfg.Timing.TRFC = req("tRFC")
	cfg.Timing.TFAW = req("tFAW")
	cfg.Timing.TCKE = req("tCKE")
	cfg.Timing.TXP = req("tXP")
	cfg.Timing.TCMD = req("tCMD")

	cfg.Currents.IDD0 = reqF("IDD0")
	cfg.Currents.IDD1 = reqF("IDD1")
	cfg.Currents.IDD2P = reqF("IDD2P")
	cfg.Currents.IDD2Q = reqF("IDD2Q")
	cfg.Currents.IDD2N = reqF("IDD2N")
	cfg.Currents.IDD3Pf = reqF("IDD3Pf")
	cfg.Currents.IDD3Ps = reqF("IDD3Ps")
	cfg.Currents.IDD3N = reqF("IDD3N")
	cfg.Currents.IDD4W = reqF("IDD4W")
	cfg.Currents.IDD4R = reqF("IDD4R")
	cfg.Currents.IDD5 = reqF("IDD5")
	cfg.Currents.IDD6 = reqF("IDD6")
	cfg.Currents.IDD6L = reqF("IDD6L")
	cfg.Currents.IDD7 = reqF("IDD7")
	cfg.Currents.Vdd = reqF("Vdd")

	cfg.JedecDataBusBits = int(req("JEDEC_DATA_BUS_BITS"))
	cfg.EccDataBusBits = int(req("ECC_DATA_BUS_BITS"))
	cfg.TransQueueDepth = int(req("TRANS_QUEUE_DEPTH"))
	cfg.CmdQueueDepth = int(req("CMD_QUEUE_DEPTH"))
	cfg.EpochLength = req("EPOCH_LENGTH")
	cfg.HistogramBinSize = req("HISTOGRAM_BIN_SIZE")
	if err != nil {
		return Device{}, err
	}

	known["USE_LOW_POWER"] = true
	cfg.UseLowPower = l.optBool("USE_LOW_POWER")
	known["TOTAL_ROW_ACCESSES"] = true
	cfg.TotalRowAccesses = l.optUintOr("TOTAL_ROW_ACCESSES", 0)

	known["ROW_BUFFER_POLICY"] = true
	rowBufferStr := l.optString("ROW_BUFFER_POLICY")
	if rowBufferStr == "" {
		rowBufferStr = "open_page"
	}
	if cfg.RowBuffer, err = dram.RowBufferPolicyFromString(rowBufferStr); err != nil {
		return Device{}, err
	}

	known["SCHEDULING_POLICY"] = true
	schedStr := l.optString("SCHEDULING_POLICY")
	if schedStr == "" {
		schedStr = "rank_then_bank_round_robin"
	}
	if cfg.Scheduling, err = dram.SchedulingPolicyFromString(schedStr); err != nil {
		return Device{}, err
	}

	known["QUEUING_STRUCTURE"] = true
	queueStr := l.optString("QUEUING_STRUCTURE")
	if queueStr == "" {
		queueStr = "per_rank"
	}
	if cfg.Queuing, err = dram.QueuingStructureFromString(queueStr); err != nil {
		return Device{}, err
	}

	known["ADDRESS_MAPPING_SCHEME"] = true
	schemeStr := l.optString("ADDRESS_MAPPING_SCHEME")
	if schemeStr == "" {
		schemeStr = "scheme1"
	}
	if d.AddrScheme, err = addr.SchemeFromString(schemeStr); err != nil {
		return Device{}, err
	}

	if err != nil {
		return Device{}, err
	}

	chanBits := bitsFor(cfg.NumChannels)
	bankBits := bitsFor(cfg.NumBanks)
	rankBits := bitsFor(cfg.NumRanks)
	rowBits := bitsFor64(cfg.NumRows)
	colBits := bitsFor64(cfg.NumCols)
	burstBits := bitsFor(int(cfg.Timing.BL))

	d.AddrWidths = addr.Widths{
		Channel: uint(chanBits),
		Rank:    rankBits,
		Bank:    bankBits,
		Row:     rowBits,
		Column:  colBits,
		Burst:   burstBits,
	}
	d.AddressBits = d.AddrWidths.Channel + d.AddrWidths.Rank + d.AddrWidths.Bank + d.AddrWidths.Row + d.AddrWidths.Column + d.AddrWidths.Burst

	capacity := cfg.NumRanks * cfg.NumBanks * int(cfg.NumRows) * int(cfg.NumCols) * cfg.DeviceWidth / 8
	d.DeviceSize = datasize.ByteSize(capacity)

	d.DRAM = cfg
	l.warnUnknownKeys(known)
	return d, nil
}

func bitsFor(n int) uint {
	return bitsFor64(uint64(n))
}

func bitsFor64(n uint64) uint {
	if n <= 1 {
		return 0
	}
	bits := uint(0)
	for (uint64(1) << bits) < n {
		bits++
	}
	return bits
}

// LoadSystem parses the system INI file into cache level configs.
// Levels are numbered L1_, L2_, ... up to the first missing L<n>_BLOCK_SIZE.
func LoadSystem(path string, ov Overrides, warn func(string, ...interface{})) (System, error) {
	l, err := newLoader(path, ov, warn)
	if err != nil {
		return System{}, err
	}

	known := map[string]bool{"NUM_CHANS": true, "NUM_CORES": true, "SHARED_LLC": true}
	sys := System{}
	sys.NumChannels = int(l.optUintOr("NUM_CHANS", 1))
	sys.NumCores = int(l.optUintOr("NUM_CORES", 1))
	sys.SharedLLC = l.optBool("SHARED_LLC")

	for level := 1; ; level++ {
		prefix := fmt.Sprintf("L%d_", level)
		blockKey := prefix + "BLOCK_SIZE"
		known[blockKey] = true
		blockSize, ok := l.raw(blockKey)
		if !ok {
			if level == 1 {
				return System{}, fmt.Errorf("config: no cache levels configured (missing %s)", blockKey)
			}
			break
		}
		bs, err := strconv.ParseUint(blockSize, 10, 64)
		if err != nil {
			return System{}, fmt.Errorf("config: %s = %q is not a valid integer: %w", blockKey, blockSize, err)
		}

		assocKey := prefix + "ASSOCIATIVITY"
		setsKey := prefix + "SETS"
		known[assocKey] = true
		known[setsKey] = true
		assoc, ok := l.raw(assocKey)
		if !ok {
			return System{}, fmt.Errorf("config: missing required key %s", assocKey)
		}
		a, err := strconv.Atoi(assoc)
		if err != nil {
			return System{}, fmt.Errorf("config: %s = %q is not a valid integer: %w", assocKey, assoc, err)
		}
		sets, ok := l.raw(setsKey)
		if !ok {
			return System{}, fmt.Errorf("config: missing required key %s", setsKey)
		}
		s, err := strconv.ParseUint(sets, 10, 64)
		if err != nil {
			return System{}, fmt.Errorf("config: %s = %q is not a valid integer: %w", setsKey, sets, err)
		}

		sys.CacheLevels = append(sys.CacheLevels, cache.LevelConfig{BlockSize: bs, Associativity: a, SetCount: s})
	}

	l.warnUnknownKeys(known)
	return sys, nil
}

// Resolved is the normalized view of a fully loaded System+Device pair,
// in the flat shape suitable for a `--dump-config` echo of what was
// actually parsed (overrides folded in, defaults filled) rather than
// the raw INI text.
type Resolved struct {
	NumChannels int                 `toml:"num_channels"`
	NumCores    int                 `toml:"num_cores"`
	SharedLLC   bool                `toml:"shared_llc"`
	CacheLevels []cache.LevelConfig `toml:"cache_levels"`
	DRAM        dram.Config         `toml:"dram"`
	AddrScheme  string              `toml:"address_mapping_scheme"`
	AddrWidths  addr.Widths         `toml:"address_widths"`
}

// Dump renders sys and dev as a normalized TOML document, for the CLI's
// `--dump-config` diagnostic.
func Dump(sys System, dev Device) (string, error) {
	r := Resolved{
		NumChannels: sys.NumChannels,
		NumCores:    sys.NumCores,
		SharedLLC:   sys.SharedLLC,
		CacheLevels: sys.CacheLevels,
		DRAM:        dev.DRAM,
		AddrScheme:  dev.AddrScheme.String(),
		AddrWidths:  dev.AddrWidths,
	}
	out, err := toml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("config: marshaling resolved config to toml: %w", err)
	}
	return string(out), nil
}
