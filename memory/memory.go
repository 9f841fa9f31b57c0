// Package memory implements the byte-addressable DRAM backing store
// used by transport.Simulated to stand in for a real board's main_ram.
// It keeps the teacher's Bank abstraction — a power-on-randomized
// array with masked addressing — but widens addressing from a 16-bit
// 6502 address bus to the 64-bit byte addresses main_ram regions use,
// and drops the Parent/DatabusVal chaining that only matters for a CPU
// bus with multiple mapped devices.
package memory

import (
	"fmt"
	"math/rand"
)

// Bank is a byte-addressable memory region. DRAM main_ram is backed by
// exactly one Bank; no chaining/mapping is needed since the DRAM
// address converter (package addr) already resolves a single flat
// address space.
type Bank interface {
	// ReadByte returns the byte stored at addr.
	ReadByte(addr uint64) uint8
	// WriteByte updates addr with val.
	WriteByte(addr uint64, val uint8)
	// PowerOn resets the bank to its power-on state. Real DRAM powers on
	// to effectively random content; tests that need a deterministic
	// baseline call HWMemset before relying on contents.
	PowerOn()
	// Size returns the bank's addressable size in bytes.
	Size() uint64
}

// flatBank implements Bank as a single contiguous byte slice with
// wraparound addressing, mirroring the teacher's ram type.
type flatBank struct {
	data []uint8
}

// NewFlatBank allocates a Bank of the given size in bytes. size must be
// a power of two so that address wraparound can be implemented with a
// mask rather than a modulo.
func NewFlatBank(size uint64) (Bank, error) {
	if size == 0 || size&(size-1) != 0 {
		return nil, fmt.Errorf("memory: invalid size %d, must be a non-zero power of 2", size)
	}
	return &flatBank{data: make([]uint8, size)}, nil
}

// ReadByte implements Bank. addr is masked to fit the bank's size.
func (b *flatBank) ReadByte(addr uint64) uint8 {
	return b.data[addr&(uint64(len(b.data))-1)]
}

// WriteByte implements Bank. addr is masked to fit the bank's size.
func (b *flatBank) WriteByte(addr uint64, val uint8) {
	b.data[addr&(uint64(len(b.data))-1)] = val
}

// PowerOn randomizes the bank's contents, modeling a real DRAM array's
// unspecified power-on state.
func (b *flatBank) PowerOn() {
	for i := range b.data {
		b.data[i] = uint8(rand.Intn(256))
	}
}

// Size implements Bank.
func (b *flatBank) Size() uint64 { return uint64(len(b.data)) }
