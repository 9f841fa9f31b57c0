package compiler

import (
	"fmt"

	"github.com/rhlab/hammercore/opcode"
)

// TRRRequest bundles the inputs to CompileTRR.
type TRRRequest struct {
	RowSequence       []uint32
	ReadCounts        []uint64
	Mode              Mode
	Bank              uint32
	Rounds            uint32
	RefreshesPerRound uint32
}

// CompileTRR compiles a targeted-row-refresh payload (spec.md §4.4.6):
// the hammering body is compiled once with refresh disabled, followed by
// exactly RefreshesPerRound explicit REF instructions, and the whole
// unframed body is then repeated Rounds times inside the standard
// front/tail framing. The total number of REF instructions injected is
// RefreshesPerRound * Rounds.
func (c *Compiler) CompileTRR(req TRRRequest) ([]opcode.Instruction, error) {
	if req.Mode <= ModeUnimplemented || req.Mode >= modeMax {
		return nil, InvalidModeError{Name: "unknown TRR mode"}
	}
	if len(req.RowSequence) != len(req.ReadCounts) {
		return nil, fmt.Errorf("compiler: row_sequence length %d does not match read_counts length %d", len(req.RowSequence), len(req.ReadCounts))
	}

	enc := c.encoder()

	var body []opcode.Instruction
	switch req.Mode {
	case Sequential:
		for idx, row := range req.RowSequence {
			rowBody, err := c.compileOneRowSequence(enc, []uint32{row}, req.ReadCounts[idx], req.Bank, false)
			if err != nil {
				return nil, err
			}
			body = append(body, rowBody...)
		}
	case Interleaving:
		rowBody, err := c.compileInterleaved(enc, req.RowSequence, req.ReadCounts, req.Bank, false)
		if err != nil {
			return nil, err
		}
		body = append(body, rowBody...)
	}

	for i := uint32(0); i < req.RefreshesPerRound; i++ {
		ref, err := enc.I(opcode.REF, opcode.InstructionOpts{Timeslice: c.Timings.TRFC})
		if err != nil {
			return nil, err
		}
		body = append(body, ref)
	}

	front, err := frontInstruction(enc, c.Timings)
	if err != nil {
		return nil, err
	}
	payload := []opcode.Instruction{front}
	for round := uint32(0); round < req.Rounds; round++ {
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
