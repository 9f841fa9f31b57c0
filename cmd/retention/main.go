// Command retention sequences idle/retention payloads against a board:
// it repeatedly runs an idle interval (optionally with controller
// autorefresh suppressed) and logs progress, the way the original
// retention.py script drove a sequence of idle waits between memtest
// passes (spec.md §4.4.7's idle/retention payload, supplemented from
// original_source/ since spec.md's distillation treats retention CLIs
// as an external collaborator).
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rhlab/hammercore/executor"
	"github.com/rhlab/hammercore/settings"
	"github.com/rhlab/hammercore/transport"
)

var (
	simulate        = false
	suppressRefresh = false
	logDir          = ""
	idleSeconds     = float64(60)
	iterations      = 1
)

func main() {
	root := &cobra.Command{
		Use:   "retention",
		Short: "Run a sequence of DRAM retention (idle) tests",
		RunE:  run,
	}
	root.Flags().BoolVar(&simulate, "simulate", false, "Run against an in-memory simulated transport instead of real hardware")
	root.Flags().BoolVar(&suppressRefresh, "suppress-refresh", false, "Disable controller autorefresh during each idle interval")
	root.Flags().StringVar(&logDir, "log-dir", "", "Directory to write per-iteration retention logs to (stderr only if empty)")
	root.Flags().Float64Var(&idleSeconds, "idle-seconds", 60, "Idle duration per iteration, in seconds")
	root.Flags().IntVar(&iterations, "iterations", 1, "Number of idle/memtest iterations to run")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	entry := logrus.NewEntry(log)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return fmt.Errorf("retention: creating log dir: %w", err)
		}
		f, err := os.Create(logDir + "/retention.log")
		if err != nil {
			return fmt.Errorf("retention: opening log file: %w", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	s := boardSettings()

	var t transport.Transport
	if !simulate {
		return fmt.Errorf("retention: no hardware transport configured; pass --simulate")
	}
	t = transport.NewSimulated(s.MainRAM.Base, s.MainRAM.Size, s.Payload.Base, s.Payload.Size, s.LoopJumpBits)
	defer t.Close()

	exec := executor.New(s, t, entry)

	for i := 0; i < iterations; i++ {
		entry.WithField("iteration", i).Info("starting idle interval")
		result, err := exec.RunIdle(idleSeconds, suppressRefresh)
		if err != nil {
			entry.WithError(err).WithField("iteration", i).Error("idle interval failed")
			return err
		}
		entry.WithFields(logrus.Fields{"iteration": i, "flipped_rows": len(result)}).Info("idle interval complete")

		if logDir != "" {
			if err := writeErrorSummary(logDir, exec.Summary()); err != nil {
				entry.WithError(err).WithField("iteration", i).Error("failed to write error summary")
				return err
			}
		}
	}
	return nil
}

// writeErrorSummary emits one error_summary_<unix>.json file per
// iteration, matching original_source/'s retention.py/idle.py naming
// (error_summary_{time}.json) and per-row column detail.
func writeErrorSummary(dir string, summary []executor.RowSummary) error {
	path := filepath.Join(dir, fmt.Sprintf("error_summary_%d.json", time.Now().Unix()))
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("retention: marshaling error summary: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

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
