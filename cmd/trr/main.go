// Command trr runs a single targeted-row-refresh (TRR) study: it
// parses a HAMMER(...) action line from its arguments, compiles and
// executes a TRR payload against the configured rounds/refreshes, and
// prints the resulting per-row bitflip map as JSON.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rhlab/hammercore/action"
	"github.com/rhlab/hammercore/compiler"
	"github.com/rhlab/hammercore/executor"
	"github.com/rhlab/hammercore/settings"
	"github.com/rhlab/hammercore/transport"
)

var (
	simulate          = false
	actionsLine       = ""
	rounds            = uint32(10)
	refreshesPerRound = uint32(1)
	mode              = "sequential"
)

func main() {
	root := &cobra.Command{
		Use:   "trr",
		Short: "Run a targeted-row-refresh (TRR) study",
		RunE:  run,
	}
	root.Flags().BoolVar(&simulate, "simulate", false, "Run against an in-memory simulated transport instead of real hardware")
	root.Flags().StringVar(&actionsLine, "actions", "", "Whitespace-separated HAMMER(row,reads,bitflips) tokens")
	root.Flags().Uint32Var(&rounds, "rounds", 10, "Number of times to repeat the hammering body")
	root.Flags().Uint32Var(&refreshesPerRound, "refreshes-per-round", 1, "Explicit REFs appended to each round")
	root.Flags().StringVar(&mode, "mode", "sequential", "Hammering mode: sequential or interleaving")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(actionsLine) == "" {
		return fmt.Errorf("trr: --actions is required")
	}
	actions, err := action.ParseLine(actionsLine)
	if err != nil {
		return fmt.Errorf("trr: %w", err)
	}

	m, err := compiler.ParseMode(mode)
	if err != nil {
		return err
	}

	log := logrus.New()
	entry := logrus.NewEntry(log)

	s := boardSettings()

	var t transport.Transport
	if !simulate {
		return fmt.Errorf("trr: no hardware transport configured; pass --simulate")
	}
	t = transport.NewSimulated(s.MainRAM.Base, s.MainRAM.Size, s.Payload.Base, s.Payload.Size, s.LoopJumpBits)
	defer t.Close()

	exec := executor.New(s, t, entry)
	exec.SetMode(m)

	result, err := exec.ExecuteTRRTest(actions, rounds, refreshesPerRound)
	if err != nil {
		return err
	}

	out := make(map[string]uint64, len(result))
	for row, flips := range result {
		out[fmt.Sprintf("%d", row)] = flips
	}
	enc, err := json.Marshal(out)
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
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
