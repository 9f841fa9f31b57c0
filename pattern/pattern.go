// Package pattern implements the row/cell data pattern engine: it
// programs the two inversion control registers that make the FPGA's
// data inverters XOR a base word onto selected addresses, realizing
// named patterns like "striped" where physically adjacent rows hold
// complementary data. The register layout mirrors pia6532's use of
// named constants for a small memory-mapped register set.
package pattern

import "fmt"

// Name identifies a supported row pattern.
type Name string

const (
	All0    Name = "all_0"
	All1    Name = "all_1"
	Striped Name = "striped"
)

// StripedBaseWord is the base word XORed onto striped-pattern addresses.
// Some source variants of this board's firmware used 0x0 here; this
// implementation adopts 0xFFFF_FFFF per spec.md §9's Open Question
// decision, named so hardware bring-up engineers can flip it without a
// recompile.
const StripedBaseWord = uint32(0xFFFFFFFF)

// entry is one row of the pattern table (spec.md §4.7).
type entry struct {
	baseWord uint32
	divisor  uint32
	mask     uint32
}

var table = map[Name]entry{
	All0:    {baseWord: 0, divisor: 0, mask: 0},
	All1:    {baseWord: 0xFFFFFFFF, divisor: 0, mask: 0},
	Striped: {baseWord: StripedBaseWord, divisor: 2, mask: 0b10},
}

// UnsupportedPatternError is returned for any name outside the pattern
// table.
type UnsupportedPatternError struct {
	Name string
}

// Error implements the error interface.
func (e UnsupportedPatternError) Error() string {
	return fmt.Sprintf("pattern: unsupported row pattern %q", e.Name)
}

// Registers is the control-register interface consumed to program the
// inverters; transport.Transport implements it.
type Registers interface {
	SetInversionDivisor(v uint32) error
	SetInversionMask(v uint32) error
}

// Engine tracks the currently programmed pattern and its associated
// fill word.
type Engine struct {
	regs    Registers
	current Name
	fill    uint32
}

// New returns a pattern Engine that programs registers through regs.
func New(regs Registers) *Engine {
	return &Engine{regs: regs}
}

// Set validates name against the pattern table, programs the inverter
// registers, and only then updates the engine's current pattern and
// fill word — mirroring the teacher's setter idiom where an attribute
// only changes state after its side effect has succeeded (spec.md §9's
// "attribute-setter side effects" redesign).
func (e *Engine) Set(name Name) error {
	ent, ok := table[name]
	if !ok {
		return UnsupportedPatternError{Name: string(name)}
	}
	if err := e.regs.SetInversionDivisor(ent.divisor); err != nil {
		return err
	}
	if err := e.regs.SetInversionMask(ent.mask); err != nil {
		return err
	}
	e.current = name
	e.fill = ent.baseWord
	return nil
}

// Current returns the currently programmed pattern name.
func (e *Engine) Current() Name { return e.current }

// FillWord returns the data word used to memset/memtest the region
// under the currently programmed pattern.
func (e *Engine) FillWord() uint32 { return e.fill }
