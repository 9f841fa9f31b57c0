// Command hammerd runs the line-oriented TCP query server against a
// configured board: it loads settings and adapter configuration, wires
// up the Hardware Executor, and serves HAMMER(...) queries until
// interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rhlab/hammercore/compiler"
	"github.com/rhlab/hammercore/config"
	"github.com/rhlab/hammercore/executor"
	"github.com/rhlab/hammercore/pattern"
	"github.com/rhlab/hammercore/rowmap"
	"github.com/rhlab/hammercore/server"
	"github.com/rhlab/hammercore/settings"
	"github.com/rhlab/hammercore/transport"
)

var (
	configPath = ""
	simulate   = false
	verbose    = false
)

func main() {
	root := &cobra.Command{
		Use:   "hammerd",
		Short: "Serve HAMMER(...) queries against an FPGA Rowhammer board",
		RunE:  run,
	}
	root.Flags().StringVar(&configPath, "config", "adapter.yaml", "Path to the adapter configuration file")
	root.Flags().BoolVar(&simulate, "simulate", false, "Run against an in-memory simulated transport instead of real hardware")
	root.Flags().BoolVar(&verbose, "verbose", false, "Enable debug-level logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	entry := logrus.NewEntry(log)

	cfg, err := config.Load(configPath)
	if err != nil {
		entry.WithError(err).Error("failed to load configuration")
		return err
	}

	s := boardSettings()

	var t transport.Transport
	if simulate {
		t = transport.NewSimulated(s.MainRAM.Base, s.MainRAM.Size, s.Payload.Base, s.Payload.Size, s.LoopJumpBits)
	} else {
		// Real hardware transport (a LiteX-style memory-mapped register
		// client) is an external collaborator per this system's scope and
		// is not implemented in this build; run with --simulate instead.
		return fmt.Errorf("hammerd: no hardware transport configured; pass --simulate")
	}
	defer t.Close()

	exec := executor.New(s, t, entry)
	exec.SetBank(cfg.Adapter.Bank)
	exec.SetRowCheckDistance(cfg.Adapter.RowCheckDistance)

	mapping, err := rowmap.ByName("")
	if err != nil {
		return err
	}
	exec.SetRowMapping(mapping)

	mode, err := compiler.ParseMode(cfg.Adapter.HammeringMode)
	if err != nil {
		return err
	}
	exec.SetMode(mode)

	if err := exec.SetRowPattern(pattern.Name(cfg.Adapter.RowPattern)); err != nil {
		return err
	}

	srv := server.New(exec, entry)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		entry.Info("received shutdown signal, closing transport")
		exec.Stop()
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", cfg.Adapter.Port)
	return srv.ListenAndServe(addr)
}

// boardSettings returns the fixed board configuration. A real
// deployment would load this from a board-specific descriptor file
// alongside the adapter config; it is inlined here since board
// geometry/timings are out of this system's configuration surface
// (spec.md §6 only specifies the adapter: section).
func boardSettings() settings.Settings {
	return settings.Settings{
		Timings:       settings.Timings{TRAS: 14, TRP: 7, TREFI: 3120, TRFC: 208},
		Geom:          settings.Geometry{RowBits: 15, ColBits: 10, BankBits: 3},
		Phy:           settings.PHY{DFIDatabits: 32, NPhases: 1},
		SysClkFreq:    100_000_000,
		MainRAM:       settings.MemRegion{Name: "main_ram", Base: 0x40000000, Size: 0x10000000},
		Payload:       settings.MemRegion{Name: "payload", Base: 0x50000000, Size: 0x10000},
		LoopCountBits: 21,
		LoopJumpBits:  13,
	}
}
