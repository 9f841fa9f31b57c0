package compiler

import (
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/rhlab/hammercore/opcode"
	"github.com/rhlab/hammercore/settings"
)

// s2Timings matches spec.md §8 scenario S2/S3's board configuration.
func s2Timings() settings.Timings {
	return settings.Timings{TRAS: 14, TRP: 7, TREFI: 3120, TRFC: 208}
}

func newTestCompiler() *Compiler {
	return New(s2Timings(), 3, 0x10000, 21, 13)
}

func countOp(instrs []opcode.Instruction, op opcode.Op) int {
	n := 0
	for _, i := range instrs {
		if i.Op == op {
			n++
		}
	}
	return n
}

// simulateCounts runs the same LOOP jump-back-and-repeat semantics
// transport.Simulated interprets on real opcode.Words, directly on the
// pre-encode Instruction list, tallying how many times each opcode is
// actually executed (as opposed to how many times it appears literally
// in the static stream). This is the only faithful way to check
// spec.md §8 property 5 ("total ACT count emitted... equals the
// requested reads"), since a single static ACT inside a LOOP body
// executes count+1 times at runtime.
func simulateCounts(t *testing.T, instrs []opcode.Instruction) (actCount, refCount uint64) {
	t.Helper()
	local := append([]opcode.Instruction(nil), instrs...)
	pc := 0
	steps := 0
	for pc < len(local) {
		steps++
		if steps > 20_000_000 {
			t.Fatalf("simulateCounts exceeded step budget")
		}
		in := local[pc]
		switch in.Op {
		case opcode.ACT:
			actCount++
			pc++
		case opcode.REF:
			refCount++
			pc++
		case opcode.LOOP:
			if in.Count > 0 {
				local[pc] = opcode.Instruction{Op: opcode.LOOP, Count: in.Count - 1, Jump: in.Jump}
				pc -= int(in.Jump)
			} else {
				pc++
			}
		default:
			pc++
		}
	}
	return actCount, refCount
}

// TestCompileSizeAndACTCount is spec.md §8 scenario S2: the compiled
// payload must fit payload_mem_size/word_size words and must emit
// exactly 100000 ACTs (50000 for each of the two rows).
func TestCompileSizeAndACTCount(t *testing.T) {
	c := newTestCompiler()
	req := Request{
		RowSequence: []uint32{0, 2},
		ReadCounts:  []uint64{50000, 50000},
		Mode:        Interleaving,
		Refresh:     true,
		Bank:        0,
	}
	instrs, err := c.Compile(req)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	maxWords := int(c.PayloadMemSize / opcode.WordSizeBytes)
	if len(instrs) > maxWords {
		t.Errorf("payload length %d exceeds capacity %d words", len(instrs), maxWords)
	}
	actCount, _ := simulateCounts(t, instrs)
	if actCount != 100000 {
		t.Errorf("executed ACT count = %d, want 100000\npayload:\n%s", actCount, spew.Sdump(instrs))
	}
}

// TestCompileFraming is spec.md §8 property 3: the first instruction is
// a settle NOOP at least max(1, tRFC-2, tREFI-2), and the last is
// NOOP(0) (STOP).
func TestCompileFraming(t *testing.T) {
	c := newTestCompiler()
	req := Request{
		RowSequence: []uint32{5},
		ReadCounts:  []uint64{1000},
		Mode:        Sequential,
		Refresh:     true,
	}
	instrs, err := c.Compile(req)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if instrs[0].Op != opcode.NOOP {
		t.Fatalf("first instruction = %v, want NOOP", instrs[0])
	}
	wantMinFront := uint32(3120 - 2) // tREFI-2 dominates here.
	if instrs[0].Timeslice < wantMinFront {
		t.Errorf("front NOOP timeslice = %d, want >= %d", instrs[0].Timeslice, wantMinFront)
	}
	last := instrs[len(instrs)-1]
	if last.Op != opcode.NOOP || last.Timeslice != 0 {
		t.Errorf("last instruction = %v, want NOOP(0)", last)
	}
	secondLast := instrs[len(instrs)-2]
	if secondLast.Op != opcode.NOOP || secondLast.Timeslice != 1 {
		t.Errorf("second-to-last instruction = %v, want NOOP(1)", secondLast)
	}
}

// TestCompileLoopFieldsWithinBounds is spec.md §8 property 2: every
// LOOP's count and jump stay within the hardware's bit-width bounds.
func TestCompileLoopFieldsWithinBounds(t *testing.T) {
	c := newTestCompiler()
	req := Request{
		RowSequence: []uint32{0, 1, 2, 3},
		ReadCounts:  []uint64{5_000_000, 1, 2_000_000, 900_000},
		Mode:        Interleaving,
		Refresh:     true,
	}
	instrs, err := c.Compile(req)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	countMax := uint32(1<<21) - 1
	jumpMax := uint32(1<<13) - 1
	for i, instr := range instrs {
		if instr.Op != opcode.LOOP {
			continue
		}
		if instr.Count > countMax {
			t.Errorf("instruction %d: LOOP count %d exceeds %d", i, instr.Count, countMax)
		}
		if instr.Jump > jumpMax {
			t.Errorf("instruction %d: LOOP jump %d exceeds %d", i, instr.Jump, jumpMax)
		}
	}
}

// assertRefreshSpacing re-derives the compiler's own cycle-accumulator
// invariant (spec.md §8 property 4) by interpreting the compiled
// Instruction stream directly, without going through opcode.Word
// encoding: ACT/PRE add their timeslice to a running total since the
// last refresh-like event (REF, or a LOOP back-edge counted
// conservatively as +1 cycle), and the total must never exceed tREFI.
func assertRefreshSpacing(t *testing.T, instrs []opcode.Instruction, trefi uint32) {
	t.Helper()
	local := append([]opcode.Instruction(nil), instrs...)
	pc := 0
	since := uint64(0)
	steps := 0
	for pc < len(local) {
		steps++
		if steps > 5_000_000 {
			t.Fatalf("refresh spacing simulation exceeded step budget")
		}
		in := local[pc]
		switch in.Op {
		case opcode.REF:
			since = 0
			pc++
		case opcode.ACT, opcode.PRE:
			since += uint64(in.Timeslice)
			if since > uint64(trefi) {
				t.Fatalf("refresh interval exceeded at instruction %d: accumulated %d cycles > tREFI=%d", pc, since, trefi)
			}
			pc++
		case opcode.LOOP:
			if in.Count > 0 {
				local[pc] = opcode.Instruction{Op: opcode.LOOP, Count: in.Count - 1, Jump: in.Jump}
				since++
				pc -= int(in.Jump)
			} else {
				pc++
			}
		default:
			pc++
		}
	}
}

// TestCompileRefreshSpacing is spec.md §8 scenario S3: with refresh
// enabled, no interval between refresh-like events ever exceeds tREFI.
func TestCompileRefreshSpacing(t *testing.T) {
	c := newTestCompiler()
	req := Request{
		RowSequence: []uint32{0, 2},
		ReadCounts:  []uint64{50000, 50000},
		Mode:        Interleaving,
		Refresh:     true,
	}
	instrs, err := c.Compile(req)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	assertRefreshSpacing(t, instrs, c.Timings.TREFI)
}

// TestCompileReadCountLessThanRepetitions is spec.md §8's boundary
// behavior: a read_count smaller than one repeatable unit must still
// emit the remainder via the unrolled=1 tail path rather than nothing.
func TestCompileReadCountLessThanRepetitions(t *testing.T) {
	c := newTestCompiler()
	req := Request{
		RowSequence: []uint32{7},
		ReadCounts:  []uint64{3},
		Mode:        Sequential,
		Refresh:     true,
	}
	instrs, err := c.Compile(req)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	actCount, _ := simulateCounts(t, instrs)
	if actCount != 3 {
		t.Errorf("executed ACT count = %d, want 3", actCount)
	}
}

// TestCompileInvalidMode is spec.md §7's InvalidMode failure.
func TestCompileInvalidMode(t *testing.T) {
	c := newTestCompiler()
	_, err := c.Compile(Request{RowSequence: []uint32{0}, ReadCounts: []uint64{1}, Mode: Mode(99)})
	if _, ok := err.(InvalidModeError); !ok {
		t.Fatalf("Compile with unknown mode: err = %v (%T), want InvalidModeError", err, err)
	}
}

// TestCompilePayloadTooLarge is spec.md §7's PayloadTooLarge failure:
// a tiny payload_mem_size cannot hold even the framing NOOPs.
func TestCompilePayloadTooLarge(t *testing.T) {
	c := New(s2Timings(), 3, 4, 21, 13) // 1 word of capacity.
	_, err := c.Compile(Request{RowSequence: []uint32{0}, ReadCounts: []uint64{1}, Mode: Sequential})
	if _, ok := err.(PayloadTooLargeError); !ok {
		t.Fatalf("Compile with tiny payload memory: err = %v (%T), want PayloadTooLargeError", err, err)
	}
}

// TestParseMode covers the mode name boundary (spec.md §9's redesign of
// string-based mode dispatch into an exhaustively matched enum).
func TestParseMode(t *testing.T) {
	if m, err := ParseMode("sequential"); err != nil || m != Sequential {
		t.Errorf("ParseMode(sequential) = (%v, %v), want (Sequential, nil)", m, err)
	}
	if m, err := ParseMode("interleaving"); err != nil || m != Interleaving {
		t.Errorf("ParseMode(interleaving) = (%v, %v), want (Interleaving, nil)", m, err)
	}
	if _, err := ParseMode("bogus"); err == nil {
		t.Errorf("ParseMode(bogus) = nil error, want InvalidModeError")
	}
}

// TestCompileTRRStructure is spec.md §8 scenario S6: the hammering body
// appears exactly `rounds` times and the total REF count equals
// rounds * refreshesPerRound.
func TestCompileTRRStructure(t *testing.T) {
	c := newTestCompiler()
	base := TRRRequest{
		RowSequence: []uint32{0, 2},
		ReadCounts:  []uint64{1000, 1000},
		Mode:        Sequential,
		Rounds:      10,
		RefreshesPerRound: 1,
	}
	full, err := c.CompileTRR(base)
	if err != nil {
		t.Fatalf("CompileTRR: %v", err)
	}

	single := base
	single.Rounds = 1
	oneRound, err := c.CompileTRR(single)
	if err != nil {
		t.Fatalf("CompileTRR (single round): %v", err)
	}
	bodyLen := len(oneRound) - 3 // drop the shared front NOOP and 2-instruction tail.

	wantLen := 1 + int(base.Rounds)*bodyLen + 2
	if len(full) != wantLen {
		t.Errorf("payload length = %d, want %d (1 front + %d rounds * %d body + 2 tail)", len(full), wantLen, base.Rounds, bodyLen)
	}

	wantRefs := int(base.Rounds * base.RefreshesPerRound)
	if got := countOp(full, opcode.REF); got != wantRefs {
		t.Errorf("REF count = %d, want %d", got, wantRefs)
	}
}

// TestCompileIdleBracketsWithRefreshBursts exercises the idle/retention
// payload (spec.md §4.4.7): it must start with the standard front NOOP,
// end with NOOP(0), and contain two 8192-refresh bursts (the REF plus
// its LOOP(count=8191) back-edge) bracketing the idle NOOPs.
func TestCompileIdleBracketsWithRefreshBursts(t *testing.T) {
	c := newTestCompiler()
	instrs, err := c.CompileIdle(0.0001, 100_000_000)
	if err != nil {
		t.Fatalf("CompileIdle: %v", err)
	}
	if instrs[0].Op != opcode.NOOP {
		t.Fatalf("first instruction = %v, want NOOP", instrs[0])
	}
	last := instrs[len(instrs)-1]
	if last.Op != opcode.NOOP || last.Timeslice != 0 {
		t.Errorf("last instruction = %v, want NOOP(0)", last)
	}
	if got := countOp(instrs, opcode.REF); got != 2 {
		t.Errorf("REF count = %d, want 2 (one refresh burst on each side of the idle region)", got)
	}
	for i, instr := range instrs {
		if instr.Op == opcode.LOOP && instr.Count == trrRefreshBurstCount {
			if instrs[i-1].Op != opcode.REF {
				t.Errorf("refresh burst LOOP at %d not preceded by REF", i)
			}
		}
	}
}

// TestEncodeLongLoopZeroRolledShortCircuits is spec.md §9's Open
// Question decision: a zero remainder must emit nothing, not a
// degenerate count_max loop.
func TestEncodeLongLoopZeroRolledShortCircuits(t *testing.T) {
	enc := newTestCompiler().encoder()
	instrs, refreshes, err := encodeLongLoop(enc, s2Timings(), []uint32{0}, 0, 1, 0, false)
	if err != nil {
		t.Fatalf("encodeLongLoop: %v", err)
	}
	if len(instrs) != 0 {
		t.Errorf("encodeLongLoop(rolled=0) = %d instructions, want 0", len(instrs))
	}
	if refreshes != 0 {
		t.Errorf("encodeLongLoop(rolled=0) refreshes = %d, want 0", refreshes)
	}
}

// TestRepeatableUnitSingleRow is spec.md §8's boundary behavior: with a
// row_sequence of length 1, repeatable_unit is min(acts_per_interval,
// max_acts_in_loop).
func TestRepeatableUnitSingleRow(t *testing.T) {
	c := newTestCompiler()
	enc := c.encoder()
	unit, repetitions, err := c.repeatableUnit(enc, 1)
	if err != nil {
		t.Fatalf("repeatableUnit: %v", err)
	}
	actsPerInterval := uint64(c.Timings.TREFI-c.Timings.TRFC) / uint64(c.Timings.TRP+c.Timings.TRAS)
	maxActsInLoop := uint64(enc.JumpMax()) / 2
	want := actsPerInterval
	if maxActsInLoop < want {
		want = maxActsInLoop
	}
	if unit != want {
		t.Errorf("repeatableUnit(rowLen=1) = %d, want %d", unit, want)
	}
	if repetitions != unit {
		t.Errorf("repetitions = %d, want %d for a single-row unit", repetitions, unit)
	}
}
