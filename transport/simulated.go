package transport

import (
	"github.com/rhlab/hammercore/memory"
	"github.com/rhlab/hammercore/opcode"
)

// Simulated is an in-memory Transport used by tests and by the
// retention/TRR CLIs' --simulate mode. It backs main_ram with a plain
// byte slice and interprets the opcode stream in software well enough
// to count per-address ACT totals, which FlipInjector uses to produce
// deterministic, reproducible bitflip reports without real hardware.
type Simulated struct {
	mainRAMBase uint64
	mainRAMSize uint64
	payloadBase uint64
	payloadSize uint64
	decoder     *opcode.Encoder
	mainRAM     memory.Bank
	divisor     uint32
	mask        uint32
	refreshOn   bool
	actCounts   map[uint32]uint64 // packed ACT address -> count

	// FlipInjector, if set, is called by HWMemtest with the tallied ACT
	// counts from the most recent ExecutePayload and returns the
	// ErrorRecords to report. Tests install one to simulate a
	// particular Rowhammer outcome deterministically.
	FlipInjector func(actCounts map[uint32]uint64) []ErrorRecord
	closed       bool
}

// NewSimulated returns a Simulated transport with the given region
// sizes. mainRAMSize must be a non-zero power of two (memory.NewFlatBank's
// requirement); every board configuration in this repo sizes main_ram
// that way. loopJumpBits must match the Encoder the caller's compiler
// uses, since LOOP words must be decoded with the same field widths
// they were encoded with.
func NewSimulated(mainRAMBase, mainRAMSize, payloadBase, payloadSize uint64, loopJumpBits uint32) *Simulated {
	bank, err := memory.NewFlatBank(mainRAMSize)
	if err != nil {
		panic(err)
	}
	bank.PowerOn()
	return &Simulated{
		mainRAMBase: mainRAMBase,
		mainRAMSize: mainRAMSize,
		payloadBase: payloadBase,
		payloadSize: payloadSize,
		decoder:     opcode.NewEncoder(0, 0, loopJumpBits),
		mainRAM:     bank,
		actCounts:   make(map[uint32]uint64),
	}
}

func (s *Simulated) MainRAMBase() uint64 { return s.mainRAMBase }
func (s *Simulated) PayloadBase() uint64 { return s.payloadBase }
func (s *Simulated) PayloadSize() uint64 { return s.payloadSize }

func (s *Simulated) SetControllerRefresh(enabled bool) error {
	if s.closed {
		return TransportFailure{Op: "set_controller_refresh", Reason: "transport closed"}
	}
	s.refreshOn = enabled
	return nil
}

func (s *Simulated) SetInversionDivisor(v uint32) error {
	if s.closed {
		return TransportFailure{Op: "set_inversion_divisor", Reason: "transport closed"}
	}
	s.divisor = v
	return nil
}

func (s *Simulated) SetInversionMask(v uint32) error {
	if s.closed {
		return TransportFailure{Op: "set_inversion_mask", Reason: "transport closed"}
	}
	s.mask = v
	return nil
}

func (s *Simulated) HWMemset(offset, size uint64, patternWord uint32) error {
	if s.closed {
		return TransportFailure{Op: "hw_memset", Reason: "transport closed"}
	}
	if offset+size > s.mainRAMSize {
		return TransportFailure{Op: "hw_memset", Reason: "window exceeds main_ram size"}
	}
	for i := uint64(0); i < size; i += 4 {
		putWord(s.mainRAM, offset+i, patternWord)
	}
	return nil
}

// ExecutePayload interprets the opcode stream in software, tallying ACT
// counts per packed address for FlipInjector's use. It faithfully
// follows LOOP's jump-back-and-repeat semantics so the per-address ACT
// tally matches what real hardware would issue, but does not model real
// DRAM timing beyond that.
func (s *Simulated) ExecutePayload(words []opcode.Word, blocking bool) error {
	if s.closed {
		return TransportFailure{Op: "execute_payload", Reason: "transport closed"}
	}
	if uint64(len(words))*opcode.WordSizeBytes > s.payloadSize {
		return TransportFailure{Op: "execute_payload", Reason: "payload exceeds payload memory size"}
	}

	// Work on a local copy: words is the caller's cached, possibly
	// reused payload (CompilerCache invariant requires it stay
	// bit-identical across repeated executions), but interpreting LOOP
	// requires decrementing a live counter somewhere.
	local := make([]opcode.Word, len(words))
	copy(local, words)
	s.actCounts = make(map[uint32]uint64)

	pc := 0
	steps := 0
	const maxSteps = 200_000_000 // guards against a miscompiled infinite loop in tests.
	for pc < len(local) {
		steps++
		if steps > maxSteps {
			return TransportFailure{Op: "execute_payload", Reason: "simulated execution exceeded step budget"}
		}
		instr := s.decoder.Decode(local[pc])
		switch instr.Op {
		case opcode.NOOP, opcode.REF, opcode.PRE:
			pc++
		case opcode.ACT:
			s.actCounts[instr.Address]++
			pc++
		case opcode.LOOP:
			if instr.Count > 0 {
				// Decrement by re-encoding a LOOP with one fewer
				// remaining iteration and jump back to re-run the body.
				local[pc] = s.decoder.Encode(opcode.Instruction{Op: opcode.LOOP, Count: instr.Count - 1, Jump: instr.Jump})
				pc -= int(instr.Jump)
			} else {
				pc++
			}
		default:
			pc++
		}
	}
	return nil
}

func (s *Simulated) HWMemtest(offset, size uint64, patternWord uint32) ([]ErrorRecord, error) {
	if s.closed {
		return nil, TransportFailure{Op: "hw_memtest", Reason: "transport closed"}
	}
	if s.FlipInjector == nil {
		return nil, nil
	}
	return s.FlipInjector(s.actCounts), nil
}

func (s *Simulated) Close() error {
	s.closed = true
	return nil
}

func putWord(bank memory.Bank, addr uint64, v uint32) {
	bank.WriteByte(addr, byte(v))
	bank.WriteByte(addr+1, byte(v>>8))
	bank.WriteByte(addr+2, byte(v>>16))
	bank.WriteByte(addr+3, byte(v>>24))
}
