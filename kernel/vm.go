package kernel

import (
	"cerulean/bitfield"
	"cerulean/hw"
)

// AddressSpace is one process's view of memory: a four-level page
// table rooted at a frame owned by the space. Every space is created
// with the kernel mapping set already installed: an identity map of
// physical memory below PROC_START_ADDR, with the console page
// user-accessible and virtual address 0 left unmapped so null
// dereferences fault instead of corrupting low memory. That set is
// shared kernel state and sits outside the mapping reference-count
// discipline; it is never unmapped.
//
// Mappings made through Map consume one frame reference, which Unmap
// releases. "Unmap without decrementing" is therefore not expressible.
type AddressSpace struct {
	fa   *FrameAllocator
	ram  []byte
	root Frame
}

// NewAddressSpace allocates a fresh space and installs the kernel
// mapping set. Table frames come from the allocator and are owned by
// the space.
func NewAddressSpace(fa *FrameAllocator) (*AddressSpace, *Error) {
	root, err := fa.Alloc()
	if err != nil {
		return nil, err
	}
	as := &AddressSpace{fa: fa, ram: fa.ram, root: root}
	if err := as.mapKernel(); err != nil {
		return nil, err
	}
	return as, nil
}

// Root returns the physical address of the root table page. This is
// what the hardware is handed on resume.
func (as *AddressSpace) Root() uint64 { return as.root.Addr() }

// mapKernel installs the shared kernel identity mappings: kernel code,
// data, and stack plus the I/O window, all supervisor-only except the
// console page. VA 0 stays unmapped, even for the kernel.
func (as *AddressSpace) mapKernel() *Error {
	for va := uint64(0); va < hw.PROC_START_ADDR; va += hw.PAGE_SIZE {
		var flags uint64
		switch {
		case va == 0:
			continue // null page: inaccessible everywhere
		case va == hw.CONSOLE_ADDR:
			flags = hw.PTE_P | hw.PTE_W | hw.PTE_U
		default:
			flags = hw.PTE_P | hw.PTE_W
		}
		table, created, err := as.walkAlloc(va)
		if err != nil {
			as.rollback(created)
			return err
		}
		hw.WritePTE(as.ram, table, hw.PTIndex(va, hw.NPTLEVELS-1), hw.PTE(va|flags))
	}
	return nil
}

// walkAlloc walks the tables down to the leaf level for va, allocating
// any missing intermediate table frames. It returns the physical
// address of the leaf table and the frames it had to create, so a
// failed caller can roll them back.
func (as *AddressSpace) walkAlloc(va uint64) (table uint64, created []Frame, err *Error) {
	table = as.root.Addr()
	for level := 0; level < hw.NPTLEVELS-1; level++ {
		idx := hw.PTIndex(va, level)
		e := hw.ReadPTE(as.ram, table, idx)
		if !e.Present() {
			f, aerr := as.fa.Alloc()
			if aerr != nil {
				return 0, created, aerr
			}
			created = append(created, f)
			hw.WritePTE(as.ram, table, idx, hw.PTE(f.Addr()|hw.PTE_P|hw.PTE_W|hw.PTE_U))
			table = f.Addr()
			continue
		}
		table = e.Addr()
	}
	return table, created, nil
}

// rollback releases intermediate table frames created during a failed
// walk, newest first, and clears the entries pointing at them.
func (as *AddressSpace) rollback(created []Frame) {
	for i := len(created) - 1; i >= 0; i-- {
		f := created[i]
		// The parent entry pointing at f is found by rescanning from
		// the root; fresh tables are empty, so clearing is safe.
		as.clearEntryTo(f)
		as.fa.Free(f)
	}
}

// clearEntryTo clears the single table entry pointing at frame f.
func (as *AddressSpace) clearEntryTo(f Frame) {
	var scan func(table uint64, level int) bool
	scan = func(table uint64, level int) bool {
		for idx := uint64(0); idx < hw.PTE_COUNT; idx++ {
			e := hw.ReadPTE(as.ram, table, idx)
			if !e.Present() {
				continue
			}
			if e.Addr() == f.Addr() {
				hw.WritePTE(as.ram, table, idx, 0)
				return true
			}
			if level < hw.NPTLEVELS-2 && scan(e.Addr(), level+1) {
				return true
			}
		}
		return false
	}
	scan(as.root.Addr(), 0)
}

// Map installs a leaf mapping from the virtual page at va to frame f
// with the given permission bits. The caller must hold one reference
// to f (from Alloc, ClaimAt, or Retain); Map takes that reference
// over. On failure nothing is mapped and the caller keeps its
// reference: missing intermediate levels are allocated first and
// rolled back if the walk cannot finish.
func (as *AddressSpace) Map(va uint64, f Frame, flags uint64) *Error {
	if !hw.PageAligned(va) {
		return errorf("vm", "map of unaligned address %#x", va)
	}
	if va>>hw.VA_BITS != 0 {
		return errorf("vm", "map of untranslatable address %#x", va)
	}
	table, created, err := as.walkAlloc(va)
	if err != nil {
		as.rollback(created)
		return err
	}
	idx := hw.PTIndex(va, hw.NPTLEVELS-1)
	if hw.ReadPTE(as.ram, table, idx).Present() {
		as.rollback(created)
		return ErrMapped
	}
	hw.WritePTE(as.ram, table, idx, hw.PTE(f.Addr()|(flags&hw.PTE_FLAGS)|hw.PTE_P))
	return nil
}

// Unmap removes the leaf mapping at va and releases the reference it
// held on the target frame; the frame becomes free again once its last
// owner lets go. Intermediate tables are left in place even when
// empty.
func (as *AddressSpace) Unmap(va uint64) *Error {
	if !hw.PageAligned(va) {
		return errorf("vm", "unmap of unaligned address %#x", va)
	}
	table := as.root.Addr()
	for level := 0; level < hw.NPTLEVELS-1; level++ {
		e := hw.ReadPTE(as.ram, table, hw.PTIndex(va, level))
		if !e.Present() {
			return ErrUnmapped
		}
		table = e.Addr()
	}
	idx := hw.PTIndex(va, hw.NPTLEVELS-1)
	leaf := hw.ReadPTE(as.ram, table, idx)
	if !leaf.Present() {
		return ErrUnmapped
	}
	hw.WritePTE(as.ram, table, idx, 0)
	as.fa.Free(FrameOf(leaf.Addr()))
	return nil
}

// Translate returns the frame mapped at va, or ok=false when the page
// is unmapped.
func (as *AddressSpace) Translate(va uint64) (Frame, bool) {
	pte, ok := hw.Walk(as.ram, as.root.Addr(), va)
	if !ok {
		return InvalidFrame, false
	}
	return FrameOf(pte.Addr()), true
}

// PTEAt returns the leaf entry covering va whether or not it is
// present.
func (as *AddressSpace) PTEAt(va uint64) hw.PTE {
	table := as.root.Addr()
	for level := 0; level < hw.NPTLEVELS-1; level++ {
		e := hw.ReadPTE(as.ram, table, hw.PTIndex(va, level))
		if !e.Present() {
			return 0
		}
		table = e.Addr()
	}
	return hw.ReadPTE(as.ram, table, hw.PTIndex(va, hw.NPTLEVELS-1))
}

// VMIter walks a virtual address range one page at a time. It holds no
// table state, so it stays valid across mapping changes and can be
// restarted by simply constructing it again.
type VMIter struct {
	as  *AddressSpace
	va  uint64
	end uint64
}

// Iter returns an iterator over virtual pages in [lo, hi).
func (as *AddressSpace) Iter(lo, hi uint64) *VMIter {
	return &VMIter{as: as, va: hw.PageDown(lo), end: hi}
}

// Done reports whether the iterator has passed the end of its range.
func (it *VMIter) Done() bool { return it.va >= it.end }

// Next advances to the next virtual page.
func (it *VMIter) Next() { it.va += hw.PAGE_SIZE }

// VA returns the current virtual page address.
func (it *VMIter) VA() uint64 { return it.va }

// PTE returns the current leaf entry, zero when unmapped.
func (it *VMIter) PTE() hw.PTE { return it.as.PTEAt(it.va) }

// Present reports whether the current page is mapped.
func (it *VMIter) Present() bool { return it.PTE().Present() }

// Frame returns the frame mapped at the current page.
func (it *VMIter) Frame() Frame { return FrameOf(it.PTE().Addr()) }

// Perm returns the decoded permission triple of the current page.
func (it *VMIter) Perm() bitfield.PTEFlags {
	return bitfield.UnpackPTEFlags(uint64(it.PTE()))
}
