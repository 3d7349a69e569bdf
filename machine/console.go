package machine

import (
	"strings"

	"cerulean/hw"
)

// The console is a CGA-style text page: CONSOLE_ROWS by
// CONSOLE_COLUMNS cells of two bytes each, character then attribute,
// living at CONSOLE_ADDR. User programs print by storing cells; the
// kernel maps the page user-writable into every address space.

// ClearConsole blanks every cell. Boot does this once.
func (m *Machine) ClearConsole() {
	page := m.ram[hw.CONSOLE_ADDR : hw.CONSOLE_ADDR+hw.PAGE_SIZE]
	for i := 0; i+1 < hw.CONSOLE_ROWS*hw.CONSOLE_COLUMNS*2; i += 2 {
		page[i] = ' '
		page[i+1] = 0x07 // light grey on black
	}
}

// ConsoleRow returns the text of one console row with trailing blanks
// trimmed.
func (m *Machine) ConsoleRow(row int) string {
	if row < 0 || row >= hw.CONSOLE_ROWS {
		return ""
	}
	base := uint64(hw.CONSOLE_ADDR) + uint64(row)*hw.CONSOLE_COLUMNS*2
	var sb strings.Builder
	for col := 0; col < hw.CONSOLE_COLUMNS; col++ {
		c := m.ram[base+uint64(col)*2]
		if c == 0 {
			c = ' '
		}
		sb.WriteByte(c)
	}
	return strings.TrimRight(sb.String(), " ")
}

// ConsoleText returns the visible console contents, one line per row,
// with trailing empty rows dropped.
func (m *Machine) ConsoleText() string {
	rows := make([]string, 0, hw.CONSOLE_ROWS)
	for r := 0; r < hw.CONSOLE_ROWS; r++ {
		rows = append(rows, m.ConsoleRow(r))
	}
	for len(rows) > 0 && rows[len(rows)-1] == "" {
		rows = rows[:len(rows)-1]
	}
	return strings.Join(rows, "\n")
}
