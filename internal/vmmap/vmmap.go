// Package vmmap implements the per-process mmap table (spec.md §3, §4.4):
// a lookup from map-id to the descriptor of a file-backed mapping, and
// the mmap/munmap operations themselves. Grounded on
// _examples/original_source/vm/mmap.c's struct mmap_file (an fd, a
// reopened file, and an ordered list of the pages it covers) and
// biscuit/src/vm/as.go's Vminfo_t list threaded per address space.
package vmmap

import (
	"sync"

	"vmkern/internal/defs"
	"vmkern/internal/frametab"
	"vmkern/internal/metrics"
	"vmkern/internal/mmu"
	"vmkern/internal/spt"
	"vmkern/internal/vfile"
	"vmkern/internal/vmutil"
)

// Descriptor is one mmap mapping (spec.md §3's "mmap descriptor"): a
// reopened file handle and the ordered list of SPT entries it installed.
type Descriptor struct {
	ID      int
	Owner   defs.Tid_t
	File    vfile.File
	Base    uintptr
	Entries []*spt.Entry
}

// Table is one process's map-id → descriptor table.
type Table struct {
	mu     sync.Mutex
	byID   map[int]*Descriptor
	nextID int
}

// New returns an empty mmap table.
func New() *Table {
	return &Table{byID: make(map[int]*Descriptor)}
}

// Get returns the descriptor for id.
func (t *Table) Get(id int) (*Descriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.byID[id]
	return d, ok
}

// Walk calls fn for every live descriptor, in no particular order, used
// by process-exit teardown (spec.md §4.4's "process exit applies this
// procedure to every live mapping").
func (t *Table) Walk(fn func(*Descriptor)) {
	t.mu.Lock()
	ds := make([]*Descriptor, 0, len(t.byID))
	for _, d := range t.byID {
		ds = append(ds, d)
	}
	t.mu.Unlock()
	for _, d := range ds {
		fn(d)
	}
}

// Mmap implements spec.md §4.4's mmap(fd, addr) preconditions and the
// lazy-entry-per-page creation. f is the already-validated, already-open
// file named by fd; fd itself is passed only so the fd ≥ 2 precondition
// can be enforced here rather than duplicated at every call site.
//
// Returns defs.MapFailed (with no side effects) on any precondition
// violation, exactly matching the -1 sentinel spec.md §6 names.
func Mmap(spt_ *spt.Table, mm *Table, owner defs.Tid_t, fd int, f vfile.File, addr uintptr, stackFloor uintptr) (int, defs.Err_t) {
	if fd < 2 {
		return defs.MapFailed, defs.EINVAL
	}
	if addr == 0 || defs.PageOffset(addr) != 0 {
		return defs.MapFailed, defs.EINVAL
	}
	length, err := f.Length()
	if err != nil || length <= 0 {
		return defs.MapFailed, defs.EINVAL
	}

	pageSize := uintptr(defs.PageSize)
	numPages := vmutil.Roundup(length, int64(defs.PageSize)) / int64(defs.PageSize)
	end := addr + uintptr(numPages)*pageSize
	if end > stackFloor {
		return defs.MapFailed, defs.EINVAL
	}
	for i := int64(0); i < numPages; i++ {
		va := addr + uintptr(i)*pageSize
		if _, ok := spt_.Lookup(va); ok {
			return defs.MapFailed, defs.EINVAL
		}
	}

	reopened, rerr := f.Reopen()
	if rerr != nil {
		return defs.MapFailed, defs.EINVAL
	}

	mm.mu.Lock()
	mm.nextID++
	id := mm.nextID
	mm.mu.Unlock()

	desc := &Descriptor{ID: id, Owner: owner, File: reopened, Base: addr}
	for i := int64(0); i < numPages; i++ {
		va := addr + uintptr(i)*pageSize
		offset := i * int64(defs.PageSize)
		readBytes := vmutil.Min(int(length-offset), defs.PageSize)
		e, cerr := spt_.CreateFileBacked(owner, va, reopened, true, offset, readBytes, spt.FileMapped, id)
		if cerr != 0 {
			// Roll back every entry this attempt installed; spec.md §7
			// requires no partial state survive a failed mmap.
			for _, installed := range desc.Entries {
				spt_.Remove(installed.Vaddr)
			}
			reopened.Close()
			return defs.MapFailed, cerr
		}
		desc.Entries = append(desc.Entries, e)
	}

	mm.mu.Lock()
	mm.byID[id] = desc
	mm.mu.Unlock()
	return id, 0
}

// Munmap implements spec.md §4.4's munmap(map_id): write back dirty
// resident pages, release their frames and MMU mappings, delete the SPT
// entries, and close the reopened file. Missing ids are the caller's
// fault (spec.md §4.4 says so is fatal to the process); Munmap reports
// that via EINVAL rather than terminating directly, leaving the
// terminate-the-process decision to the syscall gate.
func Munmap(spt_ *spt.Table, mm *Table, frames *frametab.Table, dir mmu.Directory, reg *metrics.Registry, id int) defs.Err_t {
	mm.mu.Lock()
	desc, ok := mm.byID[id]
	if ok {
		delete(mm.byID, id)
	}
	mm.mu.Unlock()
	if !ok {
		return defs.EINVAL
	}

	for _, e := range desc.Entries {
		if e.Resident() {
			fr, fok := frames.Get(e.FrameIdx)
			if fok {
				if dir.IsDirty(e.Vaddr) {
					fb := e.File
					fb.File.WriteAt(fr.Data[:fb.ReadBytes], fb.Offset)
				}
				frames.Remove(fr)
			}
			dir.Clear(e.Vaddr)
		}
		spt_.Remove(e.Vaddr)
	}
	desc.File.Close()
	if reg != nil {
		reg.MunmapCalls.Inc()
	}
	return 0
}
