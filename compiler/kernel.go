package compiler

import (
	"github.com/rhlab/hammercore/opcode"
	"github.com/rhlab/hammercore/settings"
)

// refreshOp returns REF when refresh is requested, NOOP otherwise — the
// hammering body always emits a "refresh-like" event at the same cadence
// whether or not an actual refresh is injected, so accumulator-based
// spacing logic below is identical either way.
func refreshOp(refresh bool) opcode.Op {
	if refresh {
		return opcode.REF
	}
	return opcode.NOOP
}

// encodeOneLoop emits one hammer kernel body (spec.md §4.4.1): a
// leading refresh-like event (REF, or NOOP when refresh is off, see
// refreshOp), `unrolled` literal passes over
// row_sequence with ACT/PRE pairs (injecting additional refresh-like
// events whenever the cycle accumulator would otherwise exceed tREFI),
// followed by a single LOOP(count=rolled, jump=...). It returns the
// refresh-like event count contributed by this call, scaled by
// (rolled+1) executions, so callers can tally total refresh pressure.
func encodeOneLoop(enc *opcode.Encoder, t settings.Timings, rowSequence []uint32, bank uint32, unrolled uint32, rolled uint32, refresh bool) ([]opcode.Instruction, uint64, error) {
	op := refreshOp(refresh)
	var payload []opcode.Instruction

	first, err := enc.I(op, opcode.InstructionOpts{Timeslice: t.TRFC})
	if err != nil {
		return nil, 0, err
	}
	payload = append(payload, first)
	localRefreshes := uint64(1)

	// The conservative +1 accounts for the LOOP instruction's own cycle
	// at the back-edge.
	accum := t.TRFC + 1

	for u := uint32(0); u < unrolled; u++ {
		for _, row := range rowSequence {
			if accum+t.TRAS+t.TRP > t.TREFI {
				ref, err := enc.I(op, opcode.InstructionOpts{Timeslice: t.TRFC})
				if err != nil {
					return nil, 0, err
				}
				payload = append(payload, ref)
				accum = t.TRFC
				localRefreshes++
			}
			accum += t.TRAS + t.TRP

			act, err := enc.I(opcode.ACT, opcode.InstructionOpts{Timeslice: t.TRAS, Address: enc.Address(bank, row, 0)})
			if err != nil {
				return nil, 0, err
			}
			pre, err := enc.I(opcode.PRE, opcode.InstructionOpts{Timeslice: t.TRP, Address: enc.Address(0, 0, opcode.PrechargeAllCol)})
			if err != nil {
				return nil, 0, err
			}
			payload = append(payload, act, pre)
		}
	}

	jumpTarget := 2*unrolled*uint32(len(rowSequence)) + uint32(localRefreshes)
	if jumpTarget > enc.JumpMax() {
		return nil, 0, InvariantViolatedError{Reason: "LOOP jump target exceeds hardware jump field width"}
	}
	loop, err := enc.I(opcode.LOOP, opcode.InstructionOpts{Count: rolled, Jump: jumpTarget})
	if err != nil {
		return nil, 0, err
	}
	payload = append(payload, loop)

	return payload, localRefreshes * (uint64(rolled) + 1), nil
}

// encodeLongLoop shards an arbitrary `rolled` repeat count into
// ceil(rolled/(count_max+1)) encodeOneLoop calls, since the hardware
// LOOP count field is bounded by CountMax (spec.md §4.4.2). Per the
// redesigned behavior (spec.md §9), a rolled of zero emits nothing
// instead of silently substituting count_max and hammering once more
// than requested.
func encodeLongLoop(enc *opcode.Encoder, t settings.Timings, rowSequence []uint32, bank uint32, unrolled uint32, rolled uint64, refresh bool) ([]opcode.Instruction, uint64, error) {
	countMax := uint64(enc.CountMax())
	chunkSpan := countMax + 1
	nChunks := (rolled + chunkSpan - 1) / chunkSpan // ceil(rolled/chunkSpan)

	if nChunks == 0 {
		return nil, 0, nil
	}

	var payload []opcode.Instruction
	var refreshes uint64
	for outer := uint64(0); outer < nChunks; outer++ {
		var loopCount uint64
		if outer == 0 {
			loopCount = rolled % chunkSpan
			if loopCount == 0 {
				loopCount = countMax
			} else {
				loopCount--
			}
		} else {
			loopCount = countMax
		}
		body, refs, err := encodeOneLoop(enc, t, rowSequence, bank, unrolled, uint32(loopCount), refresh)
		if err != nil {
			return nil, 0, err
		}
		payload = append(payload, body...)
		refreshes += refs
	}
	return payload, refreshes, nil
}

// gcd returns the greatest common divisor of x and y.
func gcd(x, y uint64) uint64 {
	for y != 0 {
		x, y = y, x%y
	}
	return x
}

// lcm returns the least common multiple of x and y.
func lcm(x, y uint64) uint64 {
	g := gcd(x, y)
	if g == 0 {
		return 0
	}
	return (x * y) / g
}

// repeatableUnit computes, per spec.md §4.4.3, the number of ACTs that
// can be laid out in a single LOOP body between refreshes
// (acts_per_interval), bounded by the LOOP jump field's limit on body
// length (max_acts_in_loop). Uncapped, the unit is lcm(acts_per_interval,
// rowLen), a multiple of rowLen; when the cap applies it need not be, and
// repetitions is unit/rowLen rounded down.
func (c *Compiler) repeatableUnit(enc *opcode.Encoder, rowLen int) (unit uint64, repetitions uint64, err error) {
	t := c.Timings
	actsPerInterval := uint64(t.TREFI-t.TRFC) / uint64(t.TRP+t.TRAS)
	maxActsInLoop := uint64(enc.JumpMax()) / 2

	unit = lcm(actsPerInterval, uint64(rowLen))
	if unit > maxActsInLoop {
		unit = maxActsInLoop
	}
	if unit < uint64(rowLen) {
		return 0, 0, InvariantViolatedError{Reason: "repeatable unit computed smaller than row sequence length"}
	}
	repetitions = unit / uint64(rowLen)
	return unit, repetitions, nil
}

// compileOneRowSequence compiles the hammering body for a single
// row_sequence hammered read_count times (spec.md §4.4.3's
// "encode_one_readcount"): a long loop at the computed repetition unit
// covering the quotient, plus a tail long loop at unrolled=1 covering the
// remainder so read counts smaller than one full repetition still emit
// correctly.
func (c *Compiler) compileOneRowSequence(enc *opcode.Encoder, rowSequence []uint32, readCount uint64, bank uint32, refresh bool) ([]opcode.Instruction, error) {
	_, repetitions, err := c.repeatableUnit(enc, len(rowSequence))
	if err != nil {
		return nil, err
	}

	quotient := readCount / repetitions
	remainder := readCount % repetitions

	var payload []opcode.Instruction
	body, _, err := encodeLongLoop(enc, c.Timings, rowSequence, bank, uint32(repetitions), quotient, refresh)
	if err != nil {
		return nil, err
	}
	payload = append(payload, body...)

	tail, _, err := encodeLongLoop(enc, c.Timings, rowSequence, bank, 1, remainder, refresh)
	if err != nil {
		return nil, err
	}
	payload = append(payload, tail...)

	return payload, nil
}

// compileInterleaved implements spec.md §4.4.4's interleaving mode: on
// each round, take c = min(remaining counts) across all still-active
// rows, hammer the full active row list c times via
// compileOneRowSequence, subtract c from every remaining count, and drop
// rows whose remaining count has reached zero. This maximizes the number
// of round-robin phases with a strictly decreasing active-set
// cardinality.
func (c *Compiler) compileInterleaved(enc *opcode.Encoder, rowSequence []uint32, readCounts []uint64, bank uint32, refresh bool) ([]opcode.Instruction, error) {
	type rowCount struct {
		row   uint32
		count uint64
	}
	active := make([]rowCount, len(rowSequence))
	for i, row := range rowSequence {
		active[i] = rowCount{row: row, count: readCounts[i]}
	}

	var payload []opcode.Instruction
	for len(active) > 0 {
		minCount := active[0].count
		for _, rc := range active[1:] {
			if rc.count < minCount {
				minCount = rc.count
			}
		}

		rows := make([]uint32, len(active))
		for i, rc := range active {
			rows[i] = rc.row
		}
		body, err := c.compileOneRowSequence(enc, rows, minCount, bank, refresh)
		if err != nil {
			return nil, err
		}
		payload = append(payload, body...)

		next := active[:0]
		for _, rc := range active {
			if remaining := rc.count - minCount; remaining > 0 {
				next = append(next, rowCount{row: rc.row, count: remaining})
			}
		}
		active = next
	}
	return payload, nil
}
