// Package blockdev models the block device collaborator spec.md §6
// describes for the swap manager, grounded on biscuit/src/ufs/driver.go's
// ahci_disk_t (an os.File standing in for a real disk, sector reads/writes
// serialized by a mutex).
package blockdev

import (
	"fmt"
	"os"
	"sync"
)

// Device is the block device interface the swap manager is built against:
// sector read/write of a fixed sector size, and a way to learn the
// device's capacity in sectors.
type Device interface {
	SectorSize() int
	SizeInSectors() int64
	ReadSector(idx int64, dst []byte) error
	WriteSector(idx int64, src []byte) error
}

// FileDevice is an os.File-backed Device, the simulation-mode analogue of
// ahci_disk_t: a plain file plays the role of the swap partition.
type FileDevice struct {
	mu         sync.Mutex
	f          *os.File
	sectorSize int
	sectors    int64
}

// OpenFileDevice opens (creating if necessary) a file of the given
// capacity to act as a block device with the given sector size.
func OpenFileDevice(path string, sectorSize int, sectors int64) (*FileDevice, error) {
	if sectorSize <= 0 || sectors <= 0 {
		return nil, fmt.Errorf("blockdev: invalid geometry sectorSize=%d sectors=%d", sectorSize, sectors)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	size := sectorSize * int(sectors)
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, err
	}
	return &FileDevice{f: f, sectorSize: sectorSize, sectors: sectors}, nil
}

func (d *FileDevice) SectorSize() int      { return d.sectorSize }
func (d *FileDevice) SizeInSectors() int64 { return d.sectors }

func (d *FileDevice) seek(idx int64) error {
	if idx < 0 || idx >= d.sectors {
		return fmt.Errorf("blockdev: sector %d out of range [0,%d)", idx, d.sectors)
	}
	_, err := d.f.Seek(idx*int64(d.sectorSize), 0)
	return err
}

// ReadSector reads exactly SectorSize bytes from sector idx into dst.
func (d *FileDevice) ReadSector(idx int64, dst []byte) error {
	if len(dst) != d.sectorSize {
		return fmt.Errorf("blockdev: dst must be %d bytes, got %d", d.sectorSize, len(dst))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.seek(idx); err != nil {
		return err
	}
	_, err := d.f.Read(dst)
	return err
}

// WriteSector writes exactly SectorSize bytes from src to sector idx.
func (d *FileDevice) WriteSector(idx int64, src []byte) error {
	if len(src) != d.sectorSize {
		return fmt.Errorf("blockdev: src must be %d bytes, got %d", d.sectorSize, len(src))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.seek(idx); err != nil {
		return err
	}
	_, err := d.f.Write(src)
	return err
}

// Close releases the underlying file.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}

// MemDevice is an in-memory Device, used by unit tests that don't want
// filesystem side effects.
type MemDevice struct {
	mu         sync.Mutex
	sectorSize int
	data       [][]byte
}

// NewMemDevice allocates an in-memory block device of the given geometry.
func NewMemDevice(sectorSize int, sectors int64) *MemDevice {
	data := make([][]byte, sectors)
	for i := range data {
		data[i] = make([]byte, sectorSize)
	}
	return &MemDevice{sectorSize: sectorSize, data: data}
}

func (d *MemDevice) SectorSize() int      { return d.sectorSize }
func (d *MemDevice) SizeInSectors() int64 { return int64(len(d.data)) }

func (d *MemDevice) ReadSector(idx int64, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx < 0 || int(idx) >= len(d.data) {
		return fmt.Errorf("blockdev: sector %d out of range", idx)
	}
	copy(dst, d.data[idx])
	return nil
}

func (d *MemDevice) WriteSector(idx int64, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx < 0 || int(idx) >= len(d.data) {
		return fmt.Errorf("blockdev: sector %d out of range", idx)
	}
	copy(d.data[idx], src)
	return nil
}
