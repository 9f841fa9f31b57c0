// Package transport defines the FPGA transport surface consumed (not
// implemented here, per spec.md §1) by the executor, plus a Simulated
// in-memory implementation used by tests and by the retention/TRR CLIs
// when no board is attached. This mirrors memory.Bank's role in the
// teacher repo: an interface real hardware or a test fake can both
// satisfy.
package transport

import (
	"fmt"

	"github.com/rhlab/hammercore/opcode"
)

// ErrorRecord is one mismatched word discovered by a memtest pass.
type ErrorRecord struct {
	Offset   uint64 // DMA-word index into the tested window.
	Data     uint32
	Expected uint32
}

// TransportFailure indicates an FPGA I/O error or connection loss. It is
// always fatal per spec.md §7.
type TransportFailure struct {
	Op     string
	Reason string
}

// Error implements the error interface.
func (e TransportFailure) Error() string {
	return fmt.Sprintf("transport: %s failed: %s", e.Op, e.Reason)
}

// Transport is the FPGA transport surface: memory-mapped register
// access plus the main_ram/payload memory primitives.
type Transport interface {
	// MainRAMBase and PayloadBase/PayloadSize describe the two FPGA
	// memory regions in byte terms.
	MainRAMBase() uint64
	PayloadBase() uint64
	PayloadSize() uint64

	// SetControllerRefresh writes the controller_settings_refresh
	// register; writing 0 disables controller autorefresh.
	SetControllerRefresh(enabled bool) error
	SetInversionDivisor(v uint32) error
	SetInversionMask(v uint32) error

	// HWMemset fills [offset, offset+size) of main_ram with repetitions
	// of patternWord.
	HWMemset(offset, size uint64, patternWord uint32) error
	// ExecutePayload uploads words to the payload region and runs it,
	// blocking until the hardware signals completion when blocking is
	// true.
	ExecutePayload(words []opcode.Word, blocking bool) error
	// HWMemtest compares [offset, offset+size) of main_ram against
	// repetitions of patternWord and returns every mismatch found.
	HWMemtest(offset, size uint64, patternWord uint32) ([]ErrorRecord, error)

	// Close releases the transport. Idempotent.
	Close() error
}
