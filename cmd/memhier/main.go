// Command memhier drives the cache-hierarchy-plus-DRAM-controller
// simulator over a trace file (§6 CLI surface).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sorae-dev/memhier/pkg/addr"
	"github.com/sorae-dev/memhier/pkg/channel"
	"github.com/sorae-dev/memhier/pkg/config"
	"github.com/sorae-dev/memhier/pkg/dram"
	"github.com/sorae-dev/memhier/pkg/logger"
	"github.com/sorae-dev/memhier/pkg/sim"
	"github.com/sorae-dev/memhier/pkg/stats"
	"github.com/sorae-dev/memhier/pkg/trace"
)

func main() {
	var (
		cycleCap    uint64
		numCores    int
		systemIni   string
		deviceIni   string
		overridesIn []string
		csvPath     string
		logPath     string
		logLevel    string
		cpuHz       float64
		dramHz      float64
		dumpConfig  bool
	)

	root := &cobra.Command{
		Use:   "memhier <trace-file>",
		Short: "Cycle-accurate cache hierarchy and DRAM controller simulator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], runOptions{
				cycleCap:   cycleCap,
				numCores:   numCores,
				systemIni:  systemIni,
				deviceIni:  deviceIni,
				overrides:  overridesIn,
				csvPath:    csvPath,
				logPath:    logPath,
				logLevel:   logLevel,
				cpuHz:      cpuHz,
				dramHz:     dramHz,
				dumpConfig: dumpConfig,
			})
		},
	}

	root.Flags().Uint64VarP(&cycleCap, "cycles", "n", 0, "stop after this many CPU cycles (0 = run to trace end)")
	root.Flags().IntVarP(&numCores, "cores", "c", 1, "number of cores sharing the last-level cache")
	root.Flags().StringVarP(&systemIni, "system-ini", "s", "system.ini", "system configuration file")
	root.Flags().StringVarP(&deviceIni, "device-ini", "d", "device.ini", "device configuration file")
	root.Flags().StringArrayVarP(&overridesIn, "override", "o", nil, "override a config key, KEY=VALUE (repeatable)")
	root.Flags().StringVar(&csvPath, "csv", "memhier.csv", "verification CSV output path")
	root.Flags().StringVar(&logPath, "log", "", "log file path (stderr only if empty)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log verbosity: off,error,warn,info,debug,trace")
	root.Flags().Float64Var(&cpuHz, "cpu-hz", 2.4e9, "CPU clock frequency in Hz")
	root.Flags().Float64Var(&dramHz, "dram-hz", 800e6, "DRAM bus clock frequency in Hz")
	root.Flags().BoolVar(&dumpConfig, "dump-config", false, "print the resolved configuration as TOML and exit without running")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type runOptions struct {
	cycleCap   uint64
	numCores   int
	systemIni  string
	deviceIni  string
	overrides  []string
	csvPath    string
	logPath    string
	logLevel   string
	cpuHz      float64
	dramHz     float64
	dumpConfig bool
}

func run(tracePath string, opts runOptions) error {
	ov, err := config.ParseOverrides(opts.overrides)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:    logger.LevelFromString(opts.logLevel),
		Filename: opts.logPath,
	})
	if err != nil {
		return fmt.Errorf("memhier: building logger: %w", err)
	}
	defer log.Close()

	warn := log.Warn

	sys, err := config.LoadSystem(opts.systemIni, ov, warn)
	if err != nil {
		return fmt.Errorf("memhier: configuration error: %w", err)
	}
	dev, err := config.LoadDevice(opts.deviceIni, ov, warn)
	if err != nil {
		return fmt.Errorf("memhier: configuration error: %w", err)
	}

	log.Info("memhier: %d cache level(s), device capacity %s, address width %d bits",
		len(sys.CacheLevels), dev.DeviceSize.String(), dev.AddressBits)
	if opts.numCores != sys.NumCores {
		log.Warn("memhier: -c %d does not match NUM_CORES=%d in the system config; trace is treated as one stream regardless", opts.numCores, sys.NumCores)
	}

	if opts.dumpConfig {
		dump, err := config.Dump(sys, dev)
		if err != nil {
			return err
		}
		fmt.Print(dump)
		return nil
	}

	decoder, err := addr.NewDecoder(dev.AddrScheme, dev.AddrWidths, dev.AddressBits)
	if err != nil {
		return fmt.Errorf("memhier: configuration error: %w", err)
	}

	csvFile, err := os.Create(opts.csvPath)
	if err != nil {
		return fmt.Errorf("memhier: creating csv output: %w", err)
	}
	defer csvFile.Close()
	csvWriter := stats.NewWriter(csvFile, dev.DRAM)

	// OnPowerReport fires once per rank at every epoch boundary, while
	// the epoch counters themselves have not yet been reset (§4.7:
	// power accounting is step 8, the epoch flush is step 9). The CSV
	// row is written from the last rank's callback in the group, so it
	// snapshots a complete epoch exactly once.
	var ctrl *dram.Controller
	reportsSeen := 0
	ctrl = dram.NewController(dev.DRAM, decoder, &dram.Callbacks{
		OnPowerReport: func(dram.PowerReport) {
			reportsSeen++
			if reportsSeen < dev.DRAM.NumRanks {
				return
			}
			reportsSeen = 0
			if err := csvWriter.Row(0, ctrl.Stats().Epoch); err != nil {
				log.Error("memhier: writing epoch csv row: %v", err)
			}
		},
	}, log)

	ch := channel.New(ctrl, log)

	driver, err := sim.NewDriver(sys.CacheLevels, sys.SharedLLC, ch, opts.cpuHz, opts.dramHz, opts.cycleCap, log)
	if err != nil {
		return fmt.Errorf("memhier: configuration error: %w", err)
	}

	f, err := os.Open(tracePath)
	if err != nil {
		return fmt.Errorf("memhier: opening trace: %w", err)
	}
	defer f.Close()

	reader := trace.NewReader(f, log.Warn)
	if err := driver.Run(reader); err != nil {
		return fmt.Errorf("memhier: internal invariant violation: %w", err)
	}
	if err := reader.Err(); err != nil {
		return fmt.Errorf("memhier: trace error: %w", err)
	}

	finalStats := ctrl.Stats()
	if err := csvWriter.Flush(); err != nil {
		return err
	}

	hits, misses := driver.Stats()
	log.Info("memhier: done. cpu_cycle=%d dram_cycle=%d cache_hits=%d cache_misses=%d",
		driver.CPUCycle(), driver.DRAMCycle(), hits, misses)

	return stats.WriteSummary(os.Stdout, dev.DRAM, finalStats)
}
