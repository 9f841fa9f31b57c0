// Package executor implements the hardware executor: the orchestration
// layer that drives the pattern engine, payload compiler and transport
// together to run a hammering test and turn raw memtest errors back
// into per-logical-row bitflip counts. It plays the role vcs_main.go
// plays for the 6502 core: wiring the lower-level pieces (addr,
// pattern, compiler, transport) into one runnable unit, including the
// compiled-payload cache that amortizes repeated identical queries.
package executor

import (
	"fmt"
	"math/bits"

	"github.com/sirupsen/logrus"

	"github.com/rhlab/hammercore/action"
	"github.com/rhlab/hammercore/addr"
	"github.com/rhlab/hammercore/compiler"
	"github.com/rhlab/hammercore/opcode"
	"github.com/rhlab/hammercore/pattern"
	"github.com/rhlab/hammercore/rowmap"
	"github.com/rhlab/hammercore/settings"
	"github.com/rhlab/hammercore/transport"
)

// Result maps a logical row to its observed bitflip count. Rows with
// zero flips never appear, per spec.md §4.6 step 7.
type Result map[uint32]uint64

// Executor is the Hardware Executor (spec.md §4.6): it owns the
// transport for its lifetime, compiles and caches payloads, and
// translates raw ErrorRecords into logical-row bitflip counts.
type Executor struct {
	settings  settings.Settings
	transport transport.Transport
	compiler  *compiler.Compiler
	converter *addr.Converter
	pattern   *pattern.Engine
	log       *logrus.Entry

	rowMapping       rowmap.Mapping
	rowCheckDistance uint32
	bank             uint32
	mode             compiler.Mode

	lastActions action.ActionSequence
	lastPayload []opcode.Word
	lastIsTRR   bool
	lastTRR     trrCacheKey
	lastSummary []RowSummary
}

// trrCacheKey distinguishes TRR cache hits from ordinary hammering
// cache hits, since the two compile via different entry points even
// for the same ActionSequence.
type trrCacheKey struct {
	rounds            uint32
	refreshesPerRound uint32
}

// New returns an Executor bound to a live transport. The row mapping
// defaults to the trivial (identity) mapping and the mode to
// Sequential; callers configure both via the setters before the first
// request, mirroring how the original source's adapter applied
// defaults at construction before any config override.
func New(s settings.Settings, t transport.Transport, log *logrus.Entry) *Executor {
	cmp := compiler.New(s.Timings, s.Geom.BankBits, s.Payload.Size, s.LoopCountBits, s.LoopJumpBits)
	conv := addr.New(s.Geom, s.MainRAM, uint64(s.Phy.DMAWordBytes()))
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	e := &Executor{
		settings:   s,
		transport:  t,
		compiler:   cmp,
		converter:  conv,
		log:        log,
		rowMapping: rowmap.NewTrivial(),
		mode:       compiler.Sequential,
	}
	e.pattern = pattern.New(t)
	return e
}

// SetRowPattern validates name and programs the pattern inverters
// (spec.md §4.7). On failure the executor's current pattern is left
// unchanged, per the "setter only fails the setter" propagation policy
// in spec.md §7.
func (e *Executor) SetRowPattern(name pattern.Name) error {
	if err := e.pattern.Set(name); err != nil {
		e.log.WithError(err).WithField("pattern", name).Warn("set_row_pattern rejected")
		return err
	}
	return nil
}

// SetRowCheckDistance sets the number of neighboring rows on each side
// of the hammered set that memset/memtest widen to cover.
func (e *Executor) SetRowCheckDistance(d uint32) { e.rowCheckDistance = d }

// SetBank sets the DRAM bank targeted by subsequent hammering tests.
func (e *Executor) SetBank(b uint32) { e.bank = b }

// SetRowMapping installs the row mapping used to translate between
// caller-facing logical rows and the physical rows used on the bus.
func (e *Executor) SetRowMapping(m rowmap.Mapping) { e.rowMapping = m }

// SetMode sets the hammering mode (sequential or interleaving) used by
// subsequent ExecuteHammeringTest calls.
func (e *Executor) SetMode(m compiler.Mode) { e.mode = m }

// memRange is the (offset, size) byte window within main_ram that
// covers every column of every row in a widened row set.
type memRange struct {
	offset uint64
	size   uint64
}

// getMemoryRange translates logical rows to physical, widens by the
// configured row check distance on each side (clipped to
// [0, num_rows-1]), and returns the window covering every column of
// every row in the widened set (spec.md §4.6, "_get_memory_range").
func (e *Executor) getMemoryRange(logicalRows []uint32) (memRange, error) {
	numRows := e.settings.Geom.NumRows()
	physicalSet := make(map[uint32]struct{})
	for _, logical := range logicalRows {
		physical := e.rowMapping.LogicalToPhysical(logical)
		lo, hi := widenClipped(physical, e.rowCheckDistance, numRows)
		for r := lo; r <= hi; r++ {
			physicalSet[r] = struct{}{}
		}
	}
	if len(physicalSet) == 0 {
		return memRange{}, nil
	}

	var minAddr, maxAddrEnd uint64
	first := true
	for physical := range physicalSet {
		addrs, err := e.converter.AddressesPerRow(e.bank, physical)
		if err != nil {
			return memRange{}, err
		}
		if len(addrs) == 0 {
			continue
		}
		lo := addrs[0]
		hi := addrs[len(addrs)-1] + uint64(e.settings.Phy.DMAWordBytes())
		if first {
			minAddr, maxAddrEnd = lo, hi
			first = false
			continue
		}
		if lo < minAddr {
			minAddr = lo
		}
		if hi > maxAddrEnd {
			maxAddrEnd = hi
		}
	}
	return memRange{offset: minAddr - e.settings.MainRAM.Base, size: maxAddrEnd - minAddr}, nil
}

// widenClipped widens a physical row by distance on each side, clipping
// to [0, numRows-1]. The source's neighbor order (insert-at-front vs
// append) does not matter since only min/max are ever used, per
// spec.md §9's Open Question on neighbor ordering.
func widenClipped(physical, distance, numRows uint32) (lo, hi uint32) {
	if physical > distance {
		lo = physical - distance
	} else {
		lo = 0
	}
	hi = physical + distance
	if hi > numRows-1 {
		hi = numRows - 1
	}
	return lo, hi
}

// ExecuteHammeringTest runs one hammering test for actions and returns
// the per-logical-row bitflip counts (spec.md §4.6's execution
// pipeline). If actions is action-equal to the previously executed
// sequence (and the cached entry was not a TRR compile), the cached
// payload is reused verbatim rather than recompiled.
func (e *Executor) ExecuteHammeringTest(actions action.ActionSequence) (Result, error) {
	payload, cached, err := e.compiledPayload(actions)
	if err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"actions": len(actions),
		"cached":  cached,
	}).Info("execute_hammering_test")
	return e.runPayload(actions, payload)
}

// ExecuteTRRTest runs a targeted-row-refresh test for actions, cycling
// the hammering body rounds times with refreshesPerRound explicit
// refreshes appended to each round's body (spec.md §4.4.6).
func (e *Executor) ExecuteTRRTest(actions action.ActionSequence, rounds, refreshesPerRound uint32) (Result, error) {
	key := trrCacheKey{rounds: rounds, refreshesPerRound: refreshesPerRound}
	if e.lastIsTRR && e.lastTRR == key && e.lastActions.Equal(actions) {
		e.log.WithField("actions", len(actions)).Info("execute_trr_test (cached)")
		return e.runPayload(actions, e.lastPayload)
	}

	rowSeq, readCounts := e.physicalRequest(actions)
	instrs, err := e.compiler.CompileTRR(compiler.TRRRequest{
		RowSequence:       rowSeq,
		ReadCounts:        readCounts,
		Mode:              e.mode,
		Bank:              e.bank,
		Rounds:            rounds,
		RefreshesPerRound: refreshesPerRound,
	})
	if err != nil {
		return nil, err
	}
	payload := e.compiler.Encode(instrs)

	e.lastActions = append(action.ActionSequence(nil), actions...)
	e.lastPayload = payload
	e.lastIsTRR = true
	e.lastTRR = key

	e.log.WithField("actions", len(actions)).Info("execute_trr_test")
	return e.runPayload(actions, payload)
}

// compiledPayload returns the encoded payload for actions, reusing the
// cached pair when actions is action-equal to the last ordinary (non-
// TRR) request (spec.md §3's CompilerCache invariant, §8 property 8).
func (e *Executor) compiledPayload(actions action.ActionSequence) (payload []opcode.Word, cached bool, err error) {
	if !e.lastIsTRR && e.lastActions.Equal(actions) && e.lastPayload != nil {
		return e.lastPayload, true, nil
	}

	rowSeq, readCounts := e.physicalRequest(actions)
	instrs, err := e.compiler.Compile(compiler.Request{
		RowSequence: rowSeq,
		ReadCounts:  readCounts,
		Mode:        e.mode,
		Refresh:     true,
		Bank:        e.bank,
	})
	if err != nil {
		return nil, false, err
	}
	payload = e.compiler.Encode(instrs)

	e.lastActions = append(action.ActionSequence(nil), actions...)
	e.lastPayload = payload
	e.lastIsTRR = false

	return payload, false, nil
}

// physicalRequest translates an ActionSequence's logical rows to
// physical and splits it into the compiler's parallel row_sequence and
// read_counts slices.
func (e *Executor) physicalRequest(actions action.ActionSequence) (rowSeq []uint32, readCounts []uint64) {
	rowSeq = make([]uint32, len(actions))
	readCounts = make([]uint64, len(actions))
	for i, a := range actions {
		rowSeq[i] = e.rowMapping.LogicalToPhysical(a.Row)
		readCounts[i] = a.Reads
	}
	return rowSeq, readCounts
}

// runPayload executes the fill/run/readback pipeline (spec.md §4.6
// steps 1-7) for an already-compiled payload.
func (e *Executor) runPayload(actions action.ActionSequence, payload []opcode.Word) (Result, error) {
	logicalRows := make([]uint32, len(actions))
	for i, a := range actions {
		logicalRows[i] = a.Row
	}

	rng, err := e.getMemoryRange(logicalRows)
	if err != nil {
		return nil, err
	}

	fillWord := e.pattern.FillWord()
	if err := e.transport.HWMemset(rng.offset, rng.size, fillWord); err != nil {
		return nil, err
	}
	if err := e.transport.ExecutePayload(payload, true); err != nil {
		return nil, err
	}
	errs, err := e.transport.HWMemtest(rng.offset, rng.size, fillWord)
	if err != nil {
		return nil, err
	}
	return e.tallyErrors(rng.offset, errs)
}

// ColumnFlip is one mismatched column word within a RowSummary.
type ColumnFlip struct {
	ColWordIndex uint64
	Data         uint32
	Expected     uint32
}

// RowSummary is a per-physical-row breakdown of a bitflip observation.
// It supplements the core's logical-row-keyed Result map (spec.md §3)
// with the column-level detail original_source/'s
// payload_generators/idle.py logged per iteration (error_summary_*.json:
// logical_row, physical_row, per-column bit positions); it is additive
// logging, not part of the core's return contract.
type RowSummary struct {
	LogicalRow  uint32
	PhysicalRow uint32
	Columns     []ColumnFlip
}

// tallyErrors decodes each ErrorRecord into (bank,row,col), groups by
// physical row, translates to logical, and sums popcount(data XOR
// expected) per row, omitting rows with zero flips (spec.md §4.6 steps
// 5-7). Record offsets are DMA-word indices into the tested window,
// which starts windowOffset bytes into main_ram. It also retains the
// column-level detail behind Summary().
func (e *Executor) tallyErrors(windowOffset uint64, errs []transport.ErrorRecord) (Result, error) {
	wordBytes := uint64(e.settings.Phy.DMAWordBytes())
	result := make(Result)
	byRow := make(map[uint32]*RowSummary)
	var order []uint32

	for _, rec := range errs {
		busAddr := e.settings.MainRAM.Base + windowOffset + rec.Offset*wordBytes
		_, physicalRow, col, err := e.converter.DecodeBus(busAddr)
		if err != nil {
			return nil, fmt.Errorf("executor: decoding memtest error at offset %d: %w", rec.Offset, err)
		}
		flips := uint64(bits.OnesCount32(rec.Data ^ rec.Expected))
		if flips == 0 {
			continue
		}
		logicalRow := e.rowMapping.PhysicalToLogical(physicalRow)
		result[logicalRow] += flips

		rs, ok := byRow[physicalRow]
		if !ok {
			rs = &RowSummary{LogicalRow: logicalRow, PhysicalRow: physicalRow}
			byRow[physicalRow] = rs
			order = append(order, physicalRow)
		}
		rs.Columns = append(rs.Columns, ColumnFlip{ColWordIndex: uint64(col), Data: rec.Data, Expected: rec.Expected})
	}

	summary := make([]RowSummary, 0, len(order))
	for _, physicalRow := range order {
		summary = append(summary, *byRow[physicalRow])
	}
	e.lastSummary = summary

	return result, nil
}

// Summary returns the per-row column-level detail behind the most
// recent ExecuteHammeringTest, ExecuteTRRTest or RunIdle call, in the
// order rows were first observed. It is nil before any of those have
// run.
func (e *Executor) Summary() []RowSummary { return e.lastSummary }

// RunIdle runs a retention test (spec.md §4.4.7): the entire main_ram
// window is filled with the current pattern's fill word, an idle
// payload of idleTimeSeconds bracketed by full-memory refresh bursts is
// executed, and the whole window is read back and compared, exactly
// like the hammering pipeline's fill/run/readback steps but over every
// row instead of a hammered subset. When suppressRefresh is true the
// controller's autorefresh is disabled for the idle interval, isolating
// its retention behavior from the memory controller's own background
// refreshes.
func (e *Executor) RunIdle(idleTimeSeconds float64, suppressRefresh bool) (Result, error) {
	instrs, err := e.compiler.CompileIdle(idleTimeSeconds, e.settings.SysClkFreq)
	if err != nil {
		return nil, err
	}
	payload := e.compiler.Encode(instrs)

	if suppressRefresh {
		if err := e.transport.SetControllerRefresh(false); err != nil {
			return nil, err
		}
		defer e.transport.SetControllerRefresh(true)
	}

	fillWord := e.pattern.FillWord()
	if err := e.transport.HWMemset(0, e.settings.MainRAM.Size, fillWord); err != nil {
		return nil, err
	}

	e.log.WithField("idle_time_seconds", idleTimeSeconds).Info("run_idle")
	if err := e.transport.ExecutePayload(payload, true); err != nil {
		return nil, err
	}

	errs, err := e.transport.HWMemtest(0, e.settings.MainRAM.Size, fillWord)
	if err != nil {
		return nil, err
	}
	return e.tallyErrors(0, errs)
}

// Stop closes the transport. Idempotent; safe to call from a signal
// handler during shutdown.
func (e *Executor) Stop() error {
	return e.transport.Close()
}
