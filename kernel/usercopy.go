package kernel

import (
	"cerulean/bitfield"
	"cerulean/hw"
)

// User buffer access for system calls. Every page touched is checked
// against the caller's own mappings: present and user-accessible for
// reads, additionally writable for writes. A syscall handed a bad
// buffer gets an error back; it never becomes a kernel fault.

// maxUserString bounds ReadUserString so a missing terminator cannot
// walk the whole address space.
const maxUserString = 256

// ReadUser copies n bytes starting at the process virtual address va.
func (as *AddressSpace) ReadUser(va uint64, n int) ([]byte, *Error) {
	buf := make([]byte, 0, n)
	for n > 0 {
		pa, chunk, err := as.userChunk(va, n, hw.PTE_P|hw.PTE_U)
		if err != nil {
			return nil, err
		}
		buf = append(buf, as.ram[pa:pa+uint64(chunk)]...)
		va += uint64(chunk)
		n -= chunk
	}
	return buf, nil
}

// WriteUser copies buf to the process virtual address va.
func (as *AddressSpace) WriteUser(va uint64, buf []byte) *Error {
	for len(buf) > 0 {
		pa, chunk, err := as.userChunk(va, len(buf), hw.PTE_P|hw.PTE_W|hw.PTE_U)
		if err != nil {
			return err
		}
		copy(as.ram[pa:pa+uint64(chunk)], buf[:chunk])
		va += uint64(chunk)
		buf = buf[chunk:]
	}
	return nil
}

// ReadUserString reads a NUL-terminated string at va, at most
// maxUserString bytes long.
func (as *AddressSpace) ReadUserString(va uint64) (string, *Error) {
	var out []byte
	for len(out) < maxUserString {
		pa, chunk, err := as.userChunk(va, maxUserString-len(out), hw.PTE_P|hw.PTE_U)
		if err != nil {
			return "", err
		}
		for i := 0; i < chunk; i++ {
			c := as.ram[pa+uint64(i)]
			if c == 0 {
				return string(out), nil
			}
			out = append(out, c)
		}
		va += uint64(chunk)
	}
	return "", errorf("vm", "unterminated user string at %#x", va)
}

// userChunk translates va and returns the physical address plus how
// many of the n requested bytes fit on the page, after checking the
// page carries all bits in need.
func (as *AddressSpace) userChunk(va uint64, n int, need uint64) (pa uint64, chunk int, err *Error) {
	pte := as.PTEAt(va)
	if uint64(pte)&need != need {
		perm := bitfield.UnpackPTEFlags(uint64(pte))
		return 0, 0, errorf("vm", "user access to %#x denied (flags %s)", va, perm)
	}
	off := va & (hw.PAGE_SIZE - 1)
	chunk = hw.PAGE_SIZE - int(off)
	if chunk > n {
		chunk = n
	}
	return pte.Addr() + off, chunk, nil
}
