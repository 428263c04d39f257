// Package frametab implements the process-global frame table (spec.md
// §3, §4.2): the inventory of user physical frames and the second-chance
// ("clock") victim selector that drives eviction. Grounded on
// biscuit/src/mem/mem.go's Physmem_t (an arena of pages tracked by
// index, with a free list) generalized per spec.md §9's "arena of frames
// indexed by integer" guidance, and on
// _examples/original_source/vm/frame.c's select_victim_frame (a rotating
// lru_start cursor that skips pinned frames and clears-then-checks the
// accessed bit).
package frametab

import (
	"container/list"
	"sync"

	"vmkern/internal/defs"
	"vmkern/internal/metrics"
	"vmkern/internal/mmu"
	"vmkern/internal/spt"
)

// Frame is one physical user frame (spec.md §3's "frame entry"). Data
// stands in for the kernel-addressable bytes of the frame (kaddr) since
// this subsystem has no real physical memory to address.
type Frame struct {
	ID        int // stable while resident; spt.Entry.FrameIdx names this
	Data      []byte
	Owner     defs.Tid_t
	UserVaddr uintptr
	Dir       mmu.Directory // the owning process's page directory
	SPTEntry  *spt.Entry    // back-reference; spt.Entry.FrameIdx points the other way
	Pinned    bool

	elem *list.Element
}

// Evictor performs the kind-specific eviction policy (spec.md §4.2) for
// one victim frame: write back to file or swap as needed, clear the MMU
// mapping, and update the frame's SPT entry (including the
// EXECUTABLE→ANONYMOUS promotion). Implemented by internal/vmsystem,
// which is the only layer that knows about both swap and the filesystem.
type Evictor interface {
	Evict(f *Frame) defs.Err_t
}

// Table is the process-global frame table. The container/list ordering
// mirrors biscuit/src/fs/blk.go's BlkList_t wrapping of container/list
// for an ordered, removable collection of block-like entries.
type Table struct {
	mu        sync.Mutex
	capacity  int
	frames    *list.List // of *Frame
	byFrame   map[*Frame]*list.Element
	byID      map[int]*Frame
	nextID    int
	cursor    *list.Element
	evictor   Evictor
	metrics   *metrics.Registry
	highWater int
}

// New returns a frame table with room for capacity resident frames.
func New(capacity int, reg *metrics.Registry) *Table {
	return &Table{
		capacity: capacity,
		frames:   list.New(),
		byFrame:  make(map[*Frame]*list.Element),
		byID:     make(map[int]*Frame),
		metrics:  reg,
	}
}

// Get looks up a resident frame by the stable id spt.Entry.FrameIdx names.
func (t *Table) Get(id int) (*Frame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.byID[id]
	return f, ok
}

// SetEvictor installs the eviction policy implementation. Must be called
// before the first Acquire that might need to evict.
func (t *Table) SetEvictor(e Evictor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictor = e
}

func (t *Table) reportGauges() {
	if t.metrics == nil {
		return
	}
	n := t.frames.Len()
	t.metrics.FramesInUse.Set(float64(n))
	t.metrics.FramesFree.Set(float64(t.capacity - n))
	if n > t.highWater {
		t.highWater = n
		t.metrics.FramesHigh.Set(float64(n))
	}
}

// Acquire returns a frame backed by a freshly allocated user-pool page,
// evicting a victim if the pool is exhausted (spec.md §4.2). The returned
// frame is pinned; the caller must Unpin it after installing the MMU
// mapping and populating contents.
func (t *Table) Acquire(owner defs.Tid_t, vaddr uintptr, dir mmu.Directory, entry *spt.Entry) (*Frame, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frames.Len() < t.capacity {
		t.nextID++
		f := &Frame{
			ID:        t.nextID,
			Data:      make([]byte, defs.PageSize),
			Owner:     owner,
			UserVaddr: defs.PageAlign(vaddr),
			Dir:       dir,
			SPTEntry:  entry,
			Pinned:    true,
		}
		f.elem = t.frames.PushBack(f)
		t.byFrame[f] = f.elem
		t.byID[f.ID] = f
		if t.cursor == nil {
			t.cursor = f.elem
		}
		t.reportGauges()
		return f, 0
	}

	victim := t.selectVictimLocked()
	if victim == nil {
		return nil, defs.OUT_OF_MEMORY
	}
	if t.evictor == nil {
		return nil, defs.OUT_OF_MEMORY
	}
	if err := t.evictor.Evict(victim); err != 0 {
		return nil, err
	}
	// Reuse the victim's slot for the new mapping, under a fresh id: any
	// SPT entry that still names the old id must already have been
	// cleared by the evictor, and a fresh id keeps stale references from
	// ever resolving to the wrong page.
	delete(t.byID, victim.ID)
	t.nextID++
	victim.ID = t.nextID
	for i := range victim.Data {
		victim.Data[i] = 0
	}
	victim.Owner = owner
	victim.UserVaddr = defs.PageAlign(vaddr)
	victim.Dir = dir
	victim.SPTEntry = entry
	victim.Pinned = true
	t.byID[victim.ID] = victim
	t.reportGauges()
	return victim, 0
}

// selectVictimLocked implements the second-chance/clock algorithm
// (spec.md §4.2): skip pinned frames; return the first frame whose
// accessed bit is clear, clearing the bit on any frame it passes over.
// Callers must hold t.mu.
func (t *Table) selectVictimLocked() *Frame {
	if t.frames.Len() == 0 {
		return nil
	}
	if t.cursor == nil {
		t.cursor = t.frames.Front()
	}
	// Two full passes bound the scan: the first clears accessed bits on
	// every unpinned frame it skips, guaranteeing the second pass finds a
	// clear bit if any unpinned frame exists at all.
	limit := 2*t.frames.Len() + 1
	for i := 0; i < limit; i++ {
		f := t.cursor.Value.(*Frame)
		next := t.cursor.Next()
		if next == nil {
			next = t.frames.Front()
		}
		if !f.Pinned {
			if !f.Dir.IsAccessed(f.UserVaddr) {
				t.cursor = next
				return f
			}
			f.Dir.SetAccessed(f.UserVaddr, false)
		}
		t.cursor = next
	}
	return nil
}

// Unpin excludes f from the "currently being installed" state, making it
// eligible for eviction again.
func (t *Table) Unpin(f *Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f.Pinned = false
}

// Pin marks f ineligible for eviction, used while a kernel I/O buffer
// references it (spec.md §5's pinning rule (b)/(c)).
func (t *Table) Pin(f *Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f.Pinned = true
}

// Remove detaches f from the table and releases its storage, e.g. on
// process exit or munmap (spec.md §4.2 "remove").
func (t *Table) Remove(f *Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	elem, ok := t.byFrame[f]
	if !ok {
		return
	}
	if t.cursor == elem {
		next := elem.Next()
		if next == nil {
			next = t.frames.Front()
		}
		if next == elem {
			next = nil
		}
		t.cursor = next
	}
	t.frames.Remove(elem)
	delete(t.byFrame, f)
	delete(t.byID, f.ID)
	t.reportGauges()
}

// Len reports the number of resident frames.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames.Len()
}

// Capacity reports the total number of frames the pool can hold.
func (t *Table) Capacity() int {
	return t.capacity
}
