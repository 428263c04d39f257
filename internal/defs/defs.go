// Package defs holds the constants and error sentinels shared by every
// layer of the VM subsystem, mirroring the role biscuit's defs package
// plays for the rest of its kernel.
package defs

import "vmkern/internal/vmutil"

// Err_t is a kernel-style error code: zero means success, positive values
// name a specific failure. Syscalls and page-fault paths both return it.
type Err_t int

// Error implements the error interface so Err_t can be wrapped with
// github.com/pkg/errors at call sites that want an annotated trace.
func (e Err_t) Error() string {
	if s, ok := errnames[e]; ok {
		return s
	}
	return "errno " + itoa(int(e))
}

func itoa(n int) string {
	neg := n < 0
	if neg {
		n = -n
	}
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// The error sentinels the VM layer propagates. Values are arbitrary but
// stable within this module; unlike biscuit we don't need to match a real
// libc errno table since the syscall gate is our own.
const (
	EFAULT   Err_t = 1 // bad user pointer: null, kernel address, unmapped, or unwritable write
	ENOMEM   Err_t = 2 // no frame available even after eviction
	ENOHEAP  Err_t = 3 // resource accounting budget exhausted
	EINVAL   Err_t = 4 // malformed argument
	ENAMETOOLONG Err_t = 5
	DUPLICATE Err_t = 6 // SPT already has an entry at this address
	SWAP_FULL Err_t = 7
	OUT_OF_MEMORY Err_t = 8 // eviction found no unpinned victim
)

var errnames = map[Err_t]string{
	EFAULT:        "EFAULT",
	ENOMEM:        "ENOMEM",
	ENOHEAP:       "ENOHEAP",
	EINVAL:        "EINVAL",
	ENAMETOOLONG:  "ENAMETOOLONG",
	DUPLICATE:     "DUPLICATE",
	SWAP_FULL:     "SWAP_FULL",
	OUT_OF_MEMORY: "OUT_OF_MEMORY",
}

// PGSHIFT is the base-2 exponent of the page size, matching mem.PGSHIFT in
// the teacher kernel.
const PGSHIFT uint = 12

// PageSize is the size in bytes of a single virtual or physical page.
const PageSize int = 1 << PGSHIFT

// PageOffsetMask masks the in-page offset bits of an address.
const PageOffsetMask uintptr = uintptr(PageSize) - 1

// PhysBase is the top of the user address space; addresses at or above it
// belong to the kernel and must never be dereferenced on a user's behalf.
const PhysBase uintptr = 0xc0000000

// MaxStackSize bounds how far a process's stack may grow downward from
// PhysBase before further growth is refused.
const MaxStackSize = 8 * 1024 * 1024

// MapFailed is the sentinel mmap returns on any precondition violation.
const MapFailed = -1

// StackGrowDisplacements are the PUSH/PUSHA byte offsets below the current
// stack pointer that still count as "the fault is stack growth", per the
// page-fault resolver's stack-growth heuristic (spec.md §4.5 step 5).
var StackGrowDisplacements = [...]int{4, 32}

// Tid_t names a process (there is one thread per process in this
// subsystem's model; biscuit's Tid_t plays the analogous role there).
type Tid_t int64

// PageAlign rounds va down to the start of its containing page.
func PageAlign(va uintptr) uintptr {
	return vmutil.Rounddown(va, uintptr(PageSize))
}

// PageOffset returns the in-page offset of va.
func PageOffset(va uintptr) uintptr {
	return va & PageOffsetMask
}

// IsUserAddr reports whether va is non-null and lies below PhysBase, i.e. could plausibly
// name a user page rather than kernel memory.
func IsUserAddr(va uintptr) bool {
	return va != 0 && va < PhysBase
}
