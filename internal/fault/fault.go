// Package fault implements the page-fault resolver (spec.md §4.5): the
// six-step dispatch from a faulting user address to either a materialized
// mapping or process termination. Grounded on biscuit/src/vm/as.go's
// Sys_pgfault (SPT lookup → load-or-swap-in → install) and
// _examples/original_source/vm/page.c's load_file/vm/swap.c's swap_in,
// generalized to the stack-growth branch described in spec.md §4.5 step 5.
package fault

import (
	"vmkern/internal/defs"
	"vmkern/internal/frametab"
	"vmkern/internal/metrics"
	"vmkern/internal/mmu"
	"vmkern/internal/spt"
	"vmkern/internal/swap"
	"vmkern/internal/vmlog"
)

// Outcome names which branch of the dispatch sequence resolved (or
// failed to resolve) a fault, for logging and metrics.
type Outcome int

const (
	ResolvedFileLoad Outcome = iota
	ResolvedZeroFill
	ResolvedSwapIn
	ResolvedStackGrowth
	Terminated
)

// Resolver ties the frame table, swap manager and metrics together to
// service faults for one process. Resolve's write argument distinguishes a
// read from a write fault, per spec.md §4.5 step 1.
type Resolver struct {
	SPT     *spt.Table
	Frames  *frametab.Table
	Swap    *swap.Manager
	Dir     mmu.Directory
	Metrics *metrics.Registry
	Owner   defs.Tid_t
}

// Resolve runs the six-step dispatch sequence for a fault at va. write
// reports whether the faulting access was a write; sp is the process's
// current stack pointer, used by the stack-growth branch (step 5).
//
// Returns the outcome and, when Terminated, the defs.Err_t that explains
// why (EFAULT for a user-pointer violation, ENOMEM if a frame could not
// be obtained even after eviction).
func (r *Resolver) Resolve(va uintptr, write bool, sp uintptr) (Outcome, defs.Err_t) {
	// Step 1: reject non-user addresses outright.
	if !defs.IsUserAddr(va) {
		r.countFault(metrics.FaultSegv)
		return Terminated, defs.EFAULT
	}

	page := defs.PageAlign(va)
	entry, hit := r.SPT.Lookup(page)

	if hit {
		if write && !entry.Writable {
			r.countFault(metrics.FaultSegv)
			return Terminated, defs.EFAULT
		}
		if entry.HasSwapSlot {
			return r.resolveSwapIn(entry)
		}
		return r.resolveLoad(entry)
	}

	if r.isStackGrowth(va, sp) {
		return r.resolveStackGrowth(page, write)
	}

	r.countFault(metrics.FaultSegv)
	return Terminated, defs.EFAULT
}

// isStackGrowth implements spec.md §4.5 step 5: va must sit within the
// fixed window below sp (accepting the PUSH/PUSHA displacements) and
// above the reserved stack floor.
func (r *Resolver) isStackGrowth(va, sp uintptr) bool {
	floor := defs.PhysBase - defs.MaxStackSize
	if va < floor || va >= defs.PhysBase {
		return false
	}
	if va >= sp {
		return true
	}
	for _, d := range defs.StackGrowDisplacements {
		if sp-va <= uintptr(d) {
			return true
		}
	}
	return false
}

func (r *Resolver) resolveLoad(entry *spt.Entry) (Outcome, defs.Err_t) {
	f, err := r.Frames.Acquire(r.Owner, entry.Vaddr, r.Dir, entry)
	if err != 0 {
		r.countFault(metrics.FaultSegv)
		return Terminated, defs.ENOMEM
	}
	if entry.File != nil {
		fb := entry.File
		if fb.ReadBytes > 0 {
			if _, rerr := fb.File.ReadAt(f.Data[:fb.ReadBytes], fb.Offset); rerr != nil {
				r.Frames.Remove(f)
				r.countFault(metrics.FaultSegv)
				return Terminated, defs.ENOMEM
			}
		}
		for i := fb.ReadBytes; i < defs.PageSize; i++ {
			f.Data[i] = 0
		}
	}
	r.install(entry, f)
	r.Frames.Unpin(f)
	if entry.File != nil {
		r.countFault(metrics.FaultFileLoad)
		return ResolvedFileLoad, 0
	}
	r.countFault(metrics.FaultZeroFill)
	return ResolvedZeroFill, 0
}

func (r *Resolver) resolveSwapIn(entry *spt.Entry) (Outcome, defs.Err_t) {
	f, err := r.Frames.Acquire(r.Owner, entry.Vaddr, r.Dir, entry)
	if err != 0 {
		r.countFault(metrics.FaultSegv)
		return Terminated, defs.ENOMEM
	}
	if rerr := r.Swap.ReadPage(swap.SlotID(entry.SwapSlot), f.Data); rerr != nil {
		r.Frames.Remove(f)
		r.countFault(metrics.FaultSegv)
		return Terminated, defs.ENOMEM
	}
	r.Swap.Free(swap.SlotID(entry.SwapSlot))
	entry.HasSwapSlot = false
	r.install(entry, f)
	r.Frames.Unpin(f)
	r.countFault(metrics.FaultSwapIn)
	return ResolvedSwapIn, 0
}

func (r *Resolver) resolveStackGrowth(page uintptr, write bool) (Outcome, defs.Err_t) {
	entry, cerr := r.SPT.CreateAnonymous(r.Owner, page, true)
	if cerr != 0 {
		r.countFault(metrics.FaultSegv)
		return Terminated, cerr
	}
	f, err := r.Frames.Acquire(r.Owner, page, r.Dir, entry)
	if err != 0 {
		r.SPT.Remove(page)
		r.countFault(metrics.FaultSegv)
		return Terminated, defs.ENOMEM
	}
	r.install(entry, f)
	r.Frames.Unpin(f)
	r.countFault(metrics.FaultStackGrow)
	return ResolvedStackGrowth, 0
}

// install maps entry.Vaddr to f in the MMU and records the frame's id on
// the entry. Install can only fail if upage is already mapped, which would
// mean some earlier step failed to clear a stale mapping before reaching
// here; that is a resolver bug, not a recoverable fault, so it is fatal
// rather than silently leaving entry.FrameIdx pointing at an unmapped
// frame.
func (r *Resolver) install(entry *spt.Entry, f *frametab.Frame) {
	if !r.Dir.Install(entry.Vaddr, uintptr(f.ID), entry.Writable) {
		vmlog.For("fault").Error().
			Uint("vaddr", uint(entry.Vaddr)).
			Int("frame_id", f.ID).
			Msg("INSTALL_FAILED: upage already mapped")
		panic("fault: install: upage already mapped")
	}
	entry.FrameIdx = f.ID
}

func (r *Resolver) countFault(outcome string) {
	if r.Metrics != nil {
		r.Metrics.Faults.WithLabelValues(outcome).Inc()
	}
}
