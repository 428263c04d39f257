// Package spt implements the per-process supplemental page table
// (spec.md §3, §4.1): a lookup from user virtual page to the descriptor of
// its backing. Grounded on biscuit/src/vm/as.go's Vminfo_t/mtype_t
// (VANON/VFILE/VSANON), generalized to the EXECUTABLE/FILE_MAPPED/ANONYMOUS
// three-kind model spec.md names, and on
// _examples/original_source/vm/page.c's struct sup_data.
package spt

import (
	"sync"

	"vmkern/internal/defs"
	"vmkern/internal/vfile"
)

// Kind distinguishes policy on eviction and release, per spec.md §3. It is
// modeled as a tagged variant (spec.md §9's design note) rather than a
// bare bool, so promotion from EXECUTABLE to ANONYMOUS is an explicit
// state change and the file-backing fields become inaccessible afterward.
type Kind int

const (
	Executable Kind = iota
	FileMapped
	Anonymous
)

func (k Kind) String() string {
	switch k {
	case Executable:
		return "EXECUTABLE"
	case FileMapped:
		return "FILE_MAPPED"
	case Anonymous:
		return "ANONYMOUS"
	default:
		return "UNKNOWN"
	}
}

// FileBacking describes the file region a page's initial contents are
// read from (present for EXECUTABLE and FILE_MAPPED kinds).
type FileBacking struct {
	File      vfile.File
	Offset    int64
	ReadBytes int
	ZeroBytes int // PageSize - ReadBytes
}

// Entry is one supplemental page table entry: spec.md §3's "page
// descriptor". At most one of {resident, in-swap, lazily-file-backed} is
// ever true; FrameIdx/-1 and SwapSlot/HasSwapSlot encode that disjointly.
type Entry struct {
	Owner    defs.Tid_t
	Vaddr    uintptr // page-aligned
	Kind     Kind
	Writable bool

	// File is non-nil for EXECUTABLE and FILE_MAPPED entries, and for an
	// EXECUTABLE entry that has not yet been promoted to ANONYMOUS.
	File *FileBacking

	// FrameIdx is the frametab index backing this page, or -1 if not
	// resident. Cached redundantly with the MMU's own present bit, per
	// spec.md §3 ("resident ... also cached").
	FrameIdx int

	// SwapSlot is set when the page's contents live in swap. Never set
	// simultaneously with FrameIdx >= 0, and never set at all for
	// FILE_MAPPED pages (spec.md §3: "swap_slot is never set" for those).
	SwapSlot    int64
	HasSwapSlot bool

	// MmapID ties a FILE_MAPPED entry back to the mmap descriptor that
	// owns it, or -1 for entries created by the ELF loader or exec/exit
	// reporting paths that don't go through mmap.
	MmapID int
}

// Resident reports whether e currently names a frame.
func (e *Entry) Resident() bool { return e.FrameIdx >= 0 }

// Table is one process's supplemental page table, keyed by page-aligned
// user address.
type Table struct {
	mu      sync.Mutex
	entries map[uintptr]*Entry
}

// New returns an empty table.
func New() *Table {
	return &Table{entries: make(map[uintptr]*Entry)}
}

// Lookup returns the entry covering vaddr's containing page, using only
// the page-aligned prefix of vaddr (spec.md §4.1).
func (t *Table) Lookup(vaddr uintptr) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[defs.PageAlign(vaddr)]
	return e, ok
}

// Insert adds e, keyed by e.Vaddr (which must already be page-aligned). It
// fails with DUPLICATE if the page is already mapped.
func (t *Table) Insert(e *Entry) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := defs.PageAlign(e.Vaddr)
	if _, ok := t.entries[key]; ok {
		return defs.DUPLICATE
	}
	e.Vaddr = key
	t.entries[key] = e
	return 0
}

// Remove releases vaddr's entry, returning it so the caller can release
// any swap slot or frame it owned; it does not touch the MMU mapping
// (spec.md §4.1: "caller's responsibility").
func (t *Table) Remove(vaddr uintptr) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := defs.PageAlign(vaddr)
	e, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	return e, ok
}

// CreateFileBacked builds and inserts an EXECUTABLE or FILE_MAPPED entry
// (spec.md §4.1) for owner at vaddr.
func (t *Table) CreateFileBacked(owner defs.Tid_t, vaddr uintptr, f vfile.File, writable bool,
	offset int64, readBytes int, kind Kind, mmapID int) (*Entry, defs.Err_t) {
	if readBytes < 0 || readBytes > defs.PageSize {
		return nil, defs.EINVAL
	}
	e := &Entry{
		Owner:    owner,
		Vaddr:    defs.PageAlign(vaddr),
		Kind:     kind,
		Writable: writable,
		File: &FileBacking{
			File:      f,
			Offset:    offset,
			ReadBytes: readBytes,
			ZeroBytes: defs.PageSize - readBytes,
		},
		FrameIdx: -1,
		MmapID:   mmapID,
	}
	if err := t.Insert(e); err != 0 {
		return nil, err
	}
	return e, 0
}

// CreateAnonymous builds and inserts a zero-fill ANONYMOUS entry, used for
// stack growth (spec.md §4.5 step 5).
func (t *Table) CreateAnonymous(owner defs.Tid_t, vaddr uintptr, writable bool) (*Entry, defs.Err_t) {
	e := &Entry{
		Owner:    owner,
		Vaddr:    defs.PageAlign(vaddr),
		Kind:     Anonymous,
		Writable: writable,
		FrameIdx: -1,
		MmapID:   -1,
	}
	if err := t.Insert(e); err != 0 {
		return nil, err
	}
	return e, 0
}

// Walk calls fn for every entry present at the time of the call, used by
// process-exit teardown (spec.md §4.1's "destroyed on process exit by
// walking all entries") and debug introspection. The entry list is
// snapshotted before fn runs, so fn may safely call Remove on the table,
// including removing the very entry it was passed.
func (t *Table) Walk(fn func(*Entry)) {
	t.mu.Lock()
	entries := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.mu.Unlock()
	for _, e := range entries {
		fn(e)
	}
}

// Len reports the number of entries currently tracked.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// PromoteToAnonymous transitions an EXECUTABLE entry to ANONYMOUS on its
// first dirty eviction (spec.md §3, §4.2). It is a no-op if e is already
// ANONYMOUS or FILE_MAPPED — a FILE_MAPPED page never transitions
// (spec.md §8).
func (e *Entry) PromoteToAnonymous() {
	if e.Kind != Executable {
		return
	}
	e.Kind = Anonymous
	e.File = nil
}
