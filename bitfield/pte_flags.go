package bitfield

// PTEFlags is the unpacked permission triple of a page table entry.
// The packed layout matches the low bits of the hardware entry format:
// bit 0 present, bit 1 writable, bit 2 user-accessible.
type PTEFlags struct {
	// Present indicates the entry maps a frame
	Present bool `bitfield:",1"`

	// Writable indicates writes are permitted through the mapping
	Writable bool `bitfield:",1"`

	// User indicates user-mode code may touch the page
	User bool `bitfield:",1"`
}

// PackPTEFlags packs flags into the hardware bit layout.
func PackPTEFlags(flags PTEFlags) (uint64, error) {
	return Pack(flags, &Config{NumBits: 64})
}

// UnpackPTEFlags decodes the permission bits of a page table entry.
func UnpackPTEFlags(packed uint64) PTEFlags {
	var flags PTEFlags
	// The layout uses only bool fields, so Unpack cannot fail here.
	_ = Unpack(packed, &flags)
	return flags
}

// String renders the triple the way the fault diagnostics spell it:
// "P", "W", "U" for set bits, "-" for clear ones.
func (f PTEFlags) String() string {
	buf := []byte{'-', '-', '-'}
	if f.Present {
		buf[0] = 'P'
	}
	if f.Writable {
		buf[1] = 'W'
	}
	if f.User {
		buf[2] = 'U'
	}
	return string(buf)
}
