// Package settings defines the read-only bundle of DRAM timing and
// geometry parameters the rest of the hammering engine is built on top
// of. Nothing in this package mutates state after construction; callers
// load a Settings once at startup the way memory.Bank implementations
// are powered on once and then reasoned about as fixed geometry.
package settings

import "fmt"

// Timings holds DRAM timing parameters in system clock cycles.
type Timings struct {
	TRAS  uint32 // Activate-to-precharge.
	TRP   uint32 // Precharge duration.
	TREFI uint32 // Refresh interval.
	TRFC  uint32 // Refresh-cycle time.
}

// Geometry holds the DRAM address space shape.
type Geometry struct {
	RowBits  uint32
	ColBits  uint32
	BankBits uint32
}

// NumRows returns 2^RowBits.
func (g Geometry) NumRows() uint32 { return 1 << g.RowBits }

// NumCols returns 2^ColBits.
func (g Geometry) NumCols() uint32 { return 1 << g.ColBits }

// NumBanks returns 2^BankBits.
func (g Geometry) NumBanks() uint32 { return 1 << g.BankBits }

// PHY describes the physical-layer databus width used to compute the
// DMA word stride when decoding memtest error offsets.
type PHY struct {
	DFIDatabits uint32
	NPhases     uint32
}

// DMAWordBytes returns the byte size of one DMA transfer word.
func (p PHY) DMAWordBytes() uint32 {
	return (p.DFIDatabits * p.NPhases) / 8
}

// MemRegion is a named, base-addressed FPGA memory window (main_ram or
// payload).
type MemRegion struct {
	Name string
	Base uint64
	Size uint64
}

// Contains reports whether byte address addr falls within the region.
func (m MemRegion) Contains(addr uint64) bool {
	return addr >= m.Base && addr < m.Base+m.Size
}

// Settings is the full read-only bundle handed to the Address Converter,
// Payload Compiler and Hardware Executor.
type Settings struct {
	Timings    Timings
	Geom       Geometry
	Phy        PHY
	SysClkFreq float64
	MainRAM    MemRegion
	Payload    MemRegion

	// LoopCountBits and LoopJumpBits are fixed by the hardware ISA: the
	// bit widths of the LOOP opcode's count and jump fields. They vary
	// by board revision, so they live here rather than as untyped
	// constants.
	LoopCountBits uint32
	LoopJumpBits  uint32
}

// Validate checks that the geometry and regions are minimally sane.
// Returns an error rather than panicking since a bad board definition is
// a configuration mistake, not a programmer bug.
func (s Settings) Validate() error {
	if s.Geom.RowBits == 0 || s.Geom.ColBits == 0 {
		return fmt.Errorf("settings: geometry must have non-zero row/col bits, got %+v", s.Geom)
	}
	if s.MainRAM.Size == 0 {
		return fmt.Errorf("settings: main_ram region has zero size")
	}
	if s.Payload.Size == 0 {
		return fmt.Errorf("settings: payload region has zero size")
	}
	return nil
}
