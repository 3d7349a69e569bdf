// Package memviz renders the machine's memory state as an image: a
// grid of physical frames colored by owner on top, and below it one
// virtual address map per live process. It is the graphical equivalent
// of walking the frame table and every page table by hand.
package memviz

import (
	"fmt"

	"github.com/fogleman/gg"

	"cerulean/hw"
	"cerulean/kernel"
)

// Frame owner classifications. Processes own frames 1..NPROC-1, so the
// special classes sit outside that range.
const (
	ownerFree     = 0
	ownerReserved = -1 // boot structures, never allocatable
	ownerKernel   = -2
	ownerConsole  = -3
	ownerShared   = -4 // mapped by more than one process
)

// cell geometry, in pixels
const (
	cellSize = 14
	cellGap  = 2
	margin   = 16
	rowLabel = 90
	gridCols = 64
)

// owners classifies every physical frame. The fixed layout claims its
// regions first; then every live process's page tables are walked and
// each user-reachable frame is attributed to its process, or marked
// shared when a second process maps it too.
func owners(k *kernel.Kernel) [hw.NPAGES]int {
	var own [hw.NPAGES]int
	for f := kernel.Frame(0); int(f) < hw.NPAGES; f++ {
		addr := f.Addr()
		switch {
		case addr < hw.LOW_RESERVED_END:
			own[f] = ownerReserved
		case addr >= hw.KERNEL_START && addr < hw.KERNEL_END:
			own[f] = ownerKernel
		case addr == hw.CONSOLE_ADDR:
			own[f] = ownerConsole
		case addr >= hw.IO_WINDOW_START && addr < hw.IO_WINDOW_END:
			own[f] = ownerReserved
		case k.Frames().Refcount(f) == 0:
			own[f] = ownerFree
		default:
			// Claimed but not yet attributed; the page table walks
			// below decide whose it is. Anything left over after
			// those walks is kernel-held (page table frames).
			own[f] = ownerKernel
		}
	}

	for pid := kernel.PID(1); pid < kernel.NPROC; pid++ {
		p := k.Proc(pid)
		if p == nil || p.State == kernel.P_FREE || p.AS == nil {
			continue
		}
		for it := p.AS.Iter(hw.PROC_START_ADDR, hw.MEMSIZE_VIRTUAL); !it.Done(); it.Next() {
			if !it.Present() || !it.PTE().User() {
				continue
			}
			f := it.Frame()
			if int(f) >= hw.NPAGES {
				continue
			}
			switch own[f] {
			case ownerKernel:
				own[f] = int(pid)
			case int(pid), ownerReserved, ownerConsole, ownerFree:
				// already ours, or outside the attribution game
			default:
				own[f] = ownerShared
			}
		}
	}
	return own
}

// paint sets the fill color for an owner class.
func paint(dc *gg.Context, owner int) {
	switch owner {
	case ownerFree:
		dc.SetRGB(0.92, 0.92, 0.92)
	case ownerReserved:
		dc.SetRGB(0.45, 0.45, 0.45)
	case ownerKernel:
		dc.SetRGB(0.15, 0.15, 0.35)
	case ownerConsole:
		dc.SetRGB(0.95, 0.75, 0.20)
	case ownerShared:
		dc.SetRGB(0.85, 0.30, 0.75)
	default:
		// per-process hues, spread around the wheel
		h := float64((owner*47)%360) / 360
		r, g, b := hsv(h, 0.65, 0.85)
		dc.SetRGB(r, g, b)
	}
}

func hsv(h, s, v float64) (float64, float64, float64) {
	i := int(h * 6)
	f := h*6 - float64(i)
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)
	switch i % 6 {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	}
	return v, p, q
}

func drawGrid(dc *gg.Context, x, y float64, cells int, colorAt func(i int)) {
	for i := 0; i < cells; i++ {
		cx := x + float64(i%gridCols)*(cellSize+cellGap)
		cy := y + float64(i/gridCols)*(cellSize+cellGap)
		colorAt(i)
		dc.DrawRectangle(cx, cy, cellSize, cellSize)
		dc.Fill()
	}
}

func gridHeight(cells int) float64 {
	rows := (cells + gridCols - 1) / gridCols
	return float64(rows) * (cellSize + cellGap)
}

// Render draws the full memory picture into a fresh drawing context.
func Render(k *kernel.Kernel) *gg.Context {
	own := owners(k)

	// Count the live processes to size the canvas.
	live := []kernel.PID{}
	for pid := kernel.PID(1); pid < kernel.NPROC; pid++ {
		p := k.Proc(pid)
		if p != nil && p.State != kernel.P_FREE && p.AS != nil {
			live = append(live, pid)
		}
	}

	const vpages = hw.MEMSIZE_VIRTUAL / hw.PAGE_SIZE
	width := rowLabel + gridCols*(cellSize+cellGap) + 2*margin
	height := margin + 20 + int(gridHeight(hw.NPAGES)) +
		len(live)*(20+int(gridHeight(vpages))) + margin

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	x := float64(margin + rowLabel)
	y := float64(margin)

	dc.SetRGB(0, 0, 0)
	dc.DrawString(fmt.Sprintf("physical memory, tick %d", k.Ticks()), float64(margin), y+10)
	y += 20
	drawGrid(dc, x, y, hw.NPAGES, func(i int) { paint(dc, own[i]) })
	y += gridHeight(hw.NPAGES)

	for _, pid := range live {
		p := k.Proc(pid)
		dc.SetRGB(0, 0, 0)
		dc.DrawString(fmt.Sprintf("pid %d (%s)", pid, p.State), float64(margin), y+14)
		y += 20
		drawGrid(dc, x, y, vpages, func(i int) {
			va := uint64(i) * hw.PAGE_SIZE
			pte := p.AS.PTEAt(va)
			switch {
			case !pte.Present():
				dc.SetRGB(0.98, 0.98, 0.98)
			case !pte.User():
				dc.SetRGB(0.15, 0.15, 0.35)
			default:
				f := kernel.FrameOf(pte.Addr())
				if int(f) < hw.NPAGES {
					paint(dc, own[f])
				} else {
					dc.SetRGB(0, 0, 0)
				}
			}
		})
		y += gridHeight(vpages)
	}
	return dc
}

// Snapshot renders the memory picture and writes it to path as a PNG.
func Snapshot(k *kernel.Kernel, path string) error {
	return Render(k).SavePNG(path)
}
