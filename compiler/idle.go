package compiler

import (
	"github.com/rhlab/hammercore/opcode"
	"github.com/rhlab/hammercore/settings"
)

// maxNOOPTimeslice is the largest timeslice a single NOOP can encode
// (2^29 - 1): the opcode tag takes 3 bits out of the ISA's 32-bit
// hardware accounting unit, leaving 29 for the timeslice.
const maxNOOPTimeslice = (1 << 29) - 1

// trrRefreshBurstCount is the LOOP count used to bracket an idle region
// with a full-memory refresh burst: one literal REF plus this many
// back-edges issues 8192 refreshes total, covering every row in the
// device regardless of geometry.
const trrRefreshBurstCount = 8191

// CompileIdle builds a retention-test payload (spec.md §4.4.7): the
// standard front NOOP, a full-memory refresh burst, a run of idle NOOPs
// totalling idleClocks cycles (split into at most maxNOOPTimeslice-sized
// chunks), a second refresh burst, and the STOP NOOP.
func (c *Compiler) CompileIdle(idleTimeSeconds float64, sysClkFreq float64) ([]opcode.Instruction, error) {
	enc := c.encoder()
	idleClocks := uint64(idleTimeSeconds * sysClkFreq)

	front, err := frontInstruction(enc, c.Timings)
	if err != nil {
		return nil, err
	}
	payload := []opcode.Instruction{front}

	burst, err := refreshBurst(enc, c.Timings)
	if err != nil {
		return nil, err
	}
	payload = append(payload, burst...)

	noopActions := idleClocks / maxNOOPTimeslice
	lastNOOP := idleClocks % maxNOOPTimeslice
	for i := uint64(0); i < noopActions; i++ {
		noop, err := enc.I(opcode.NOOP, opcode.InstructionOpts{Timeslice: maxNOOPTimeslice})
		if err != nil {
			return nil, err
		}
		payload = append(payload, noop)
	}
	// A zero remainder is skipped: NOOP(0) is STOP and would end the
	// payload before the second refresh burst.
	if lastNOOP > 0 {
		lastNoop, err := enc.I(opcode.NOOP, opcode.InstructionOpts{Timeslice: uint32(lastNOOP)})
		if err != nil {
			return nil, err
		}
		payload = append(payload, lastNoop)
	}

	burst, err = refreshBurst(enc, c.Timings)
	if err != nil {
		return nil, err
	}
	payload = append(payload, burst...)

	stop, err := enc.I(opcode.NOOP, opcode.InstructionOpts{Timeslice: 0})
	if err != nil {
		return nil, err
	}
	payload = append(payload, stop)

	if err := c.checkCapacity(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func refreshBurst(enc *opcode.Encoder, t settings.Timings) ([]opcode.Instruction, error) {
	ref, err := enc.I(opcode.REF, opcode.InstructionOpts{Timeslice: t.TRFC})
	if err != nil {
		return nil, err
	}
	loop, err := enc.I(opcode.LOOP, opcode.InstructionOpts{Count: trrRefreshBurstCount, Jump: 1})
	if err != nil {
		return nil, err
	}
	return []opcode.Instruction{ref, loop}, nil
}
