package hw

import "encoding/binary"

// Page table entry bits. The tables are hierarchical with four levels;
// each table is one page of 512 8-byte entries, stored in physical
// memory. Entry layout follows x86-64: permission bits in the low 12
// bits, physical page address above.
const (
	PTE_P = 1 << 0 // present
	PTE_W = 1 << 1 // writable
	PTE_U = 1 << 2 // user-accessible

	PTE_FLAGS = PTE_P | PTE_W | PTE_U

	PTE_COUNT = 512 // entries per table
	PTE_SIZE  = 8   // bytes per entry

	// Address bits translated per level, leaf last.
	NPTLEVELS = 4
	L0_SHIFT  = 39
	L1_SHIFT  = 30
	L2_SHIFT  = 21
	L3_SHIFT  = 12

	// Virtual addresses are 48 bits; anything above is untranslatable.
	VA_BITS = 48
)

// PTE is one page table entry.
type PTE uint64

// Present reports whether the entry maps anything.
func (e PTE) Present() bool { return e&PTE_P != 0 }

// Writable reports whether writes are permitted through the entry.
func (e PTE) Writable() bool { return e&PTE_W != 0 }

// User reports whether user-mode code may touch the page.
func (e PTE) User() bool { return e&PTE_U != 0 }

// Addr returns the physical address the entry points at.
func (e PTE) Addr() uint64 { return uint64(e) &^ (PAGE_SIZE - 1) }

// Flags returns the permission bits of the entry.
func (e PTE) Flags() uint64 { return uint64(e) & PTE_FLAGS }

// levelShift returns the VA bit position indexed at the given level,
// counting levels root-first (level 0 = root).
func levelShift(level int) uint {
	return uint(L0_SHIFT - 9*level)
}

// PTIndex extracts the table index for va at the given level.
func PTIndex(va uint64, level int) uint64 {
	return (va >> levelShift(level)) & (PTE_COUNT - 1)
}

// ReadPTE reads the entry at index idx of the table page at physical
// address table.
func ReadPTE(ram []byte, table uint64, idx uint64) PTE {
	off := table + idx*PTE_SIZE
	return PTE(binary.LittleEndian.Uint64(ram[off : off+PTE_SIZE]))
}

// WritePTE stores the entry at index idx of the table page at physical
// address table.
func WritePTE(ram []byte, table uint64, idx uint64, e PTE) {
	off := table + idx*PTE_SIZE
	binary.LittleEndian.PutUint64(ram[off:off+PTE_SIZE], uint64(e))
}

// Walk performs the hardware page table walk for va starting at the
// table page rooted at physical address root. It returns the leaf entry.
// ok is false when the walk ends early: va is untranslatable or an
// intermediate level is not present.
func Walk(ram []byte, root uint64, va uint64) (pte PTE, ok bool) {
	if va>>VA_BITS != 0 {
		return 0, false
	}
	table := root
	for level := 0; level < NPTLEVELS-1; level++ {
		e := ReadPTE(ram, table, PTIndex(va, level))
		if !e.Present() {
			return 0, false
		}
		table = e.Addr()
	}
	leaf := ReadPTE(ram, table, PTIndex(va, NPTLEVELS-1))
	if !leaf.Present() {
		return leaf, false
	}
	return leaf, true
}
