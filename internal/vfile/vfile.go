// Package vfile models the filesystem collaborator spec.md §6 describes:
// a byte-addressable file object with read-at/write-at/length/reopen/close,
// grounded on biscuit/src/ufs/driver.go's os.File-backed disk simulation
// and the file_read_at/file_write calls in
// _examples/original_source/vm/page.c and vm/swap.c.
package vfile

import (
	"io"
	"os"
	"sync"
)

// File is the filesystem-object interface the VM subsystem is built
// against (spec.md §6). The filesystem is single-reader/writer for a
// given file under the coarse VM mutex, so this interface does no locking
// of its own beyond what's needed to keep a single *os.File's offset
// consistent across Seek/Tell and ReadAt/WriteAt (which don't move the
// offset).
type File interface {
	Close() error
	Reopen() (File, error)
	Length() (int64, error)
	ReadAt(dst []byte, off int64) (int, error)
	WriteAt(src []byte, off int64) (int, error)
	Seek(pos int64) error
	Tell() (int64, error)
}

// OSFile adapts an *os.File to the File interface.
type OSFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
	pos  int64
}

// Open opens name for reading and writing, creating it if it doesn't
// exist, mirroring the permissive open() semantics the syscall table
// (spec.md §6) expects from the filesystem.
func Open(name string) (*OSFile, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &OSFile{path: name, f: f}, nil
}

func (o *OSFile) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.f.Close()
}

// Reopen returns an independent handle on the same underlying file, so
// that a user-level close of the fd that originally named it does not
// tear down an mmap built on top of it (spec.md §4.4).
func (o *OSFile) Reopen() (File, error) {
	return Open(o.path)
}

func (o *OSFile) Length() (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fi, err := o.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (o *OSFile) ReadAt(dst []byte, off int64) (int, error) {
	n, err := o.f.ReadAt(dst, off)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

func (o *OSFile) WriteAt(src []byte, off int64) (int, error) {
	return o.f.WriteAt(src, off)
}

func (o *OSFile) Seek(pos int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pos = pos
	return nil
}

func (o *OSFile) Tell() (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pos, nil
}

// MemFile is an in-memory File used by tests that want a filesystem
// object without touching disk.
type MemFile struct {
	mu   sync.Mutex
	data *[]byte
	pos  int64
}

// NewMemFile wraps an existing byte slice pointer so Reopen()'d handles
// share the same backing storage, the way a real reopen() shares one
// inode across handles.
func NewMemFile(data *[]byte) *MemFile {
	return &MemFile{data: data}
}

func (m *MemFile) Close() error { return nil }

func (m *MemFile) Reopen() (File, error) {
	return NewMemFile(m.data), nil
}

func (m *MemFile) Length() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(*m.data)), nil
}

func (m *MemFile) ReadAt(dst []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off >= int64(len(*m.data)) {
		return 0, nil
	}
	n := copy(dst, (*m.data)[off:])
	return n, nil
}

func (m *MemFile) WriteAt(src []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	need := off + int64(len(src))
	if need > int64(len(*m.data)) {
		grown := make([]byte, need)
		copy(grown, *m.data)
		*m.data = grown
	}
	n := copy((*m.data)[off:], src)
	return n, nil
}

func (m *MemFile) Seek(pos int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = pos
	return nil
}

func (m *MemFile) Tell() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos, nil
}
