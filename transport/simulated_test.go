package transport

import (
	"testing"

	"github.com/rhlab/hammercore/opcode"
)

func TestSimulatedHWMemsetAndRegisters(t *testing.T) {
	s := NewSimulated(0, 256, 0x1000, 0x1000, 13)
	if err := s.HWMemset(0, 256, 0xDEADBEEF); err != nil {
		t.Fatalf("HWMemset: %v", err)
	}
	if err := s.SetInversionDivisor(2); err != nil {
		t.Fatalf("SetInversionDivisor: %v", err)
	}
	if err := s.SetInversionMask(0b10); err != nil {
		t.Fatalf("SetInversionMask: %v", err)
	}
	if err := s.SetControllerRefresh(false); err != nil {
		t.Fatalf("SetControllerRefresh: %v", err)
	}
}

// TestSimulatedExecutePayloadTalliesACTs exercises the LOOP
// jump-back-and-repeat interpreter: a kernel hammering one address
// through a LOOP must tally exactly count+1 ACTs against that address.
func TestSimulatedExecutePayloadTalliesACTs(t *testing.T) {
	s := NewSimulated(0, 256, 0x1000, 0x1000, 13)
	enc := opcode.NewEncoder(0, 21, 13)

	addr := enc.Address(0, 5, 0)
	act, _ := enc.I(opcode.ACT, opcode.InstructionOpts{Timeslice: 14, Address: addr})
	pre, _ := enc.I(opcode.PRE, opcode.InstructionOpts{Timeslice: 7, Address: 0})
	loop, _ := enc.I(opcode.LOOP, opcode.InstructionOpts{Count: 9, Jump: 2})
	stop, _ := enc.I(opcode.NOOP, opcode.InstructionOpts{Timeslice: 0})

	words := enc.EncodeAll([]opcode.Instruction{act, pre, loop, stop})
	if err := s.ExecutePayload(words, true); err != nil {
		t.Fatalf("ExecutePayload: %v", err)
	}

	s.FlipInjector = func(actCounts map[uint32]uint64) []ErrorRecord {
		if got, want := actCounts[addr], uint64(10); got != want {
			t.Errorf("actCounts[target] = %d, want %d (count+1 executions)", got, want)
		}
		return nil
	}
	if _, err := s.HWMemtest(0, 256, 0); err != nil {
		t.Fatalf("HWMemtest: %v", err)
	}
}

func TestSimulatedRejectsOversizedPayload(t *testing.T) {
	s := NewSimulated(0, 256, 0, 4, 13) // 1-word payload memory.
	enc := opcode.NewEncoder(0, 0, 13)
	noop1, _ := enc.I(opcode.NOOP, opcode.InstructionOpts{Timeslice: 1})
	noop2, _ := enc.I(opcode.NOOP, opcode.InstructionOpts{Timeslice: 0})
	words := enc.EncodeAll([]opcode.Instruction{noop1, noop2})
	if err := s.ExecutePayload(words, true); err == nil {
		t.Errorf("ExecutePayload with a 2-word payload against 1-word memory = nil error, want TransportFailure")
	}
}

func TestSimulatedClosedTransportFails(t *testing.T) {
	s := NewSimulated(0, 256, 0x1000, 0x1000, 13)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.HWMemset(0, 16, 0); err == nil {
		t.Errorf("HWMemset after Close = nil error, want TransportFailure")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v, want nil (idempotent)", err)
	}
}
