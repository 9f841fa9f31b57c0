// Package compiler turns a hammering request into a length-bounded,
// timing-correct DRAM opcode stream (a Payload) for the FPGA payload
// executor. This is the heart of the system: DRAM timing arithmetic
// (tRAS, tRP, tREFI, tRFC) combined with a LOOP opcode whose count and
// jump fields are bit-width bounded by the hardware ISA.
package compiler

import (
	"fmt"

	"github.com/rhlab/hammercore/opcode"
	"github.com/rhlab/hammercore/settings"
)

// Mode selects how the compiler orders ACTs across multiple rows.
// Replacing the original's string dispatch ('sequential' | 'interleaving')
// with a closed enum that is exhaustively matched, per spec.md §9.
type Mode int

const (
	ModeUnimplemented Mode = iota
	// Sequential hammers each row in row_sequence order, to completion,
	// before moving to the next.
	Sequential
	// Interleaving round-robins across all rows whose remaining read
	// count is still positive, maximizing ACT/PRE density per tREFI
	// window across the active row set.
	Interleaving
	modeMax
)

// ParseMode resolves a configured mode name to a Mode, rejecting unknown
// values at the boundary rather than deferring to a runtime string
// compare deep in the compiler.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "sequential":
		return Sequential, nil
	case "interleaving":
		return Interleaving, nil
	default:
		return ModeUnimplemented, InvalidModeError{Name: name}
	}
}

// InvalidModeError is returned by ParseMode and Compile for an unknown
// mode string.
type InvalidModeError struct {
	Name string
}

// Error implements the error interface.
func (e InvalidModeError) Error() string {
	return fmt.Sprintf("compiler: invalid mode %q", e.Name)
}

// PayloadTooLargeError indicates the compiled instruction stream exceeds
// the FPGA's payload memory region.
type PayloadTooLargeError struct {
	Words     int
	MaxWords  int
}

// Error implements the error interface.
func (e PayloadTooLargeError) Error() string {
	return fmt.Sprintf("compiler: payload of %d words exceeds payload memory capacity of %d words", e.Words, e.MaxWords)
}

// InvariantViolatedError indicates an internal compiler assertion
// failed: a bug, not a caller error. The two cases named by spec.md §7
// are a LOOP jump field overflow that survived encode-time validation,
// and a repeatable unit computed smaller than the row sequence it must
// cover.
type InvariantViolatedError struct {
	Reason string
}

// Error implements the error interface.
func (e InvariantViolatedError) Error() string {
	return fmt.Sprintf("compiler: invariant violated: %s", e.Reason)
}

// Request bundles the inputs to Compile.
type Request struct {
	RowSequence []uint32 // Physical rows, aligned with ReadCounts.
	ReadCounts  []uint64
	Mode        Mode
	Refresh     bool
	Bank        uint32
}

// Compiler compiles HammerActions into Payloads for one fixed board
// configuration (timings, bank address width, payload memory size).
type Compiler struct {
	Timings        settings.Timings
	BankBits       uint32
	PayloadMemSize uint64
	LoopCountBits  uint32
	LoopJumpBits   uint32
}

// New returns a Compiler bound to the given board timings and ISA field
// widths.
func New(timings settings.Timings, bankBits uint32, payloadMemSize uint64, loopCountBits, loopJumpBits uint32) *Compiler {
	return &Compiler{
		Timings:        timings,
		BankBits:       bankBits,
		PayloadMemSize: payloadMemSize,
		LoopCountBits:  loopCountBits,
		LoopJumpBits:   loopJumpBits,
	}
}

func (c *Compiler) encoder() *opcode.Encoder {
	return opcode.NewEncoder(c.BankBits, c.LoopCountBits, c.LoopJumpBits)
}

// frontInstruction is the NOOP that covers the mode-transition settle
// and resets the controller's refresh timer, per spec.md §4.4.5.
func frontInstruction(enc *opcode.Encoder, t settings.Timings) (opcode.Instruction, error) {
	ts := uint32(1)
	if t.TRFC >= 2 && t.TRFC-2 > ts {
		ts = t.TRFC - 2
	}
	if t.TREFI >= 2 && t.TREFI-2 > ts {
		ts = t.TREFI - 2
	}
	return enc.I(opcode.NOOP, opcode.InstructionOpts{Timeslice: ts})
}

// tailInstructions are the refresh-timer resync NOOP(1) followed by the
// STOP NOOP(0), per spec.md §4.4.5.
func tailInstructions(enc *opcode.Encoder) ([]opcode.Instruction, error) {
	resync, err := enc.I(opcode.NOOP, opcode.InstructionOpts{Timeslice: 1})
	if err != nil {
		return nil, err
	}
	stop, err := enc.I(opcode.NOOP, opcode.InstructionOpts{Timeslice: 0})
	if err != nil {
		return nil, err
	}
	return []opcode.Instruction{resync, stop}, nil
}

// Compile builds a complete, framed Payload for req, in the requested
// Mode.
func (c *Compiler) Compile(req Request) ([]opcode.Instruction, error) {
	if req.Mode <= ModeUnimplemented || req.Mode >= modeMax {
		return nil, InvalidModeError{Name: fmt.Sprintf("Mode(%d)", int(req.Mode))}
	}
	if len(req.RowSequence) != len(req.ReadCounts) {
		return nil, fmt.Errorf("compiler: row_sequence length %d does not match read_counts length %d", len(req.RowSequence), len(req.ReadCounts))
	}

	enc := c.encoder()
	front, err := frontInstruction(enc, c.Timings)
	if err != nil {
		return nil, err
	}
	payload := []opcode.Instruction{front}

	switch req.Mode {
	case Sequential:
		for idx, row := range req.RowSequence {
			body, err := c.compileOneRowSequence(enc, []uint32{row}, req.ReadCounts[idx], req.Bank, req.Refresh)
			if err != nil {
				return nil, err
			}
			payload = append(payload, body...)
		}
	case Interleaving:
		body, err := c.compileInterleaved(enc, req.RowSequence, req.ReadCounts, req.Bank, req.Refresh)
		if err != nil {
			return nil, err
		}
		payload = append(payload, body...)
	}

	tail, err := tailInstructions(enc)
	if err != nil {
		return nil, err
	}
	payload = append(payload, tail...)

	if err := c.checkCapacity(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// checkCapacity enforces invariant 1: len(payload) <= payload_mem_size /
// word_size.
func (c *Compiler) checkCapacity(payload []opcode.Instruction) error {
	maxWords := int(c.PayloadMemSize / opcode.WordSizeBytes)
	if len(payload) > maxWords {
		return PayloadTooLargeError{Words: len(payload), MaxWords: maxWords}
	}
	return nil
}

// Encode serializes a compiled instruction stream to its word list using
// this compiler's board configuration.
func (c *Compiler) Encode(payload []opcode.Instruction) []opcode.Word {
	return c.encoder().EncodeAll(payload)
}
