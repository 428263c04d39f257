// Package syscallgate implements the VM-relevant subset of the syscall
// gate (spec.md §4.6): validating user pointers before the kernel
// dereferences them, on behalf of read/write/mmap/munmap. Grounded on
// biscuit/src/vm/as.go's Userdmap8_inner/Userbuf_t/Useriovec_t (per-page
// validation over a possibly multi-page span) and
// _examples/original_source/userprog/syscall.c's get_user/put_user/copy_in,
// reimagined as SPT lookups since this subsystem has no real MMU trap to
// recover from on an invalid access.
package syscallgate

import (
	"vmkern/internal/defs"
	"vmkern/internal/fault"
	"vmkern/internal/frametab"
	"vmkern/internal/mmu"
	"vmkern/internal/spt"
)

// Gate validates and pins user buffers for one process.
type Gate struct {
	SPT      *spt.Table
	Frames   *frametab.Table
	Dir      mmu.Directory
	Resolver *fault.Resolver
}

// PinnedSpan is a validated, pinned run of frames backing one user
// buffer. Unpin must be called once the kernel I/O against it completes
// (spec.md §5's pinning rule (b)).
type PinnedSpan struct {
	frames []*frametab.Frame
	gate   *Gate
}

// Unpin releases every frame the span pinned, making them eligible for
// eviction again.
func (p *PinnedSpan) Unpin() {
	for _, f := range p.frames {
		p.gate.Frames.Unpin(f)
	}
}

// ByteAt returns the physical byte at va within the span, which must
// already have been validated to cover va.
func (p *PinnedSpan) ByteAt(va uintptr) byte {
	page := defs.PageAlign(va)
	off := defs.PageOffset(va)
	for _, f := range p.frames {
		if f.UserVaddr == page {
			return f.Data[off]
		}
	}
	return 0
}

// SetByteAt writes b at va within the span and marks the owning page
// dirty, since this simulated MMU does not set the dirty bit on writes
// by itself the way real hardware would.
func (p *PinnedSpan) SetByteAt(va uintptr, b byte) {
	page := defs.PageAlign(va)
	off := defs.PageOffset(va)
	for _, f := range p.frames {
		if f.UserVaddr == page {
			f.Data[off] = b
			p.gate.Dir.SetDirty(page, true)
			return
		}
	}
}

// Validate implements spec.md §4.6: reject a null or non-user pointer,
// then for every page the [va, va+n) span touches, ensure an SPT entry
// exists (loading or growing the stack on demand via the fault
// resolver) and pin its frame for the duration of the caller's I/O. sp
// is the process's current stack pointer, needed by the stack-growth
// branch when the buffer itself sits in not-yet-grown stack.
//
// On any violation, every frame already pinned in this call is unpinned
// before returning the error, so a rejected Validate leaves no pin
// outstanding (spec.md §7: no partial state survives a failure).
func (g *Gate) Validate(va uintptr, n int, write bool, sp uintptr) (*PinnedSpan, defs.Err_t) {
	if va == 0 || !defs.IsUserAddr(va) || n < 0 {
		return nil, defs.EFAULT
	}
	end := va + uintptr(n)
	if n > 0 && (end <= va || !defs.IsUserAddr(end-1)) {
		return nil, defs.EFAULT
	}

	span := &PinnedSpan{gate: g}
	if n == 0 {
		return span, 0
	}

	first := defs.PageAlign(va)
	last := defs.PageAlign(va + uintptr(n) - 1)
	pageSize := uintptr(defs.PageSize)

	for page := first; ; page += pageSize {
		entry, ok := g.SPT.Lookup(page)
		if ok && write && !entry.Writable {
			span.Unpin()
			return nil, defs.EFAULT
		}
		if !ok || !entry.Resident() {
			// Fault on the span's own lowest address in this page, so the
			// stack-growth window is measured from the buffer, not the
			// page start.
			addr := page
			if addr < va {
				addr = va
			}
			if _, err := g.Resolver.Resolve(addr, write, sp); err != 0 {
				span.Unpin()
				return nil, defs.EFAULT
			}
			entry, ok = g.SPT.Lookup(page)
			if !ok {
				span.Unpin()
				return nil, defs.EFAULT
			}
		}
		f, fok := g.Frames.Get(entry.FrameIdx)
		if !fok {
			span.Unpin()
			return nil, defs.EFAULT
		}
		g.Frames.Pin(f)
		span.frames = append(span.frames, f)
		if page == last {
			break
		}
	}
	return span, 0
}

// ConsoleRead implements the read(fd==0, buf, n) contract spec.md §9
// resolves: write exactly n bytes into buf one at a time, sourced from
// next, and return n. next is called once per byte and supplies the
// next console keystroke.
func (g *Gate) ConsoleRead(buf uintptr, n int, sp uintptr, next func() byte) (int, defs.Err_t) {
	span, err := g.Validate(buf, n, true, sp)
	if err != 0 {
		return 0, err
	}
	defer span.Unpin()
	for i := 0; i < n; i++ {
		span.SetByteAt(buf+uintptr(i), next())
	}
	return n, 0
}
