package block

import (
	"io"

	"github.com/stylemate/CS330-project3-1/kernel"
	"github.com/stylemate/CS330-project3-1/kernel/kfmt"
	"github.com/stylemate/CS330-project3-1/kernel/sync"
)

// MemDisk is a block device backed by host memory.
type MemDisk struct {
	lock sync.Spinlock

	name    string
	sectors uint32
	data    []byte

	reads, writes uint64
}

// NewMemDisk returns a memory backed device with the given number of sectors.
// The storage is reserved when the driver is initialized.
func NewMemDisk(name string, sectors uint32) *MemDisk {
	return &MemDisk{name: name, sectors: sectors}
}

// DriverName returns the name of this driver.
func (d *MemDisk) DriverName() string {
	return d.name
}

// DriverVersion returns the version of this driver.
func (*MemDisk) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// DriverInit initializes this driver.
func (d *MemDisk) DriverInit(w io.Writer) *kernel.Error {
	d.data = make([]byte, uintptr(d.sectors)*SectorSize)
	kfmt.Fprintf(w, "%d sectors (%d KiB) in memory\n", d.sectors, uintptr(d.sectors)*SectorSize>>10)
	return nil
}

// SectorCount returns the number of sectors on the device.
func (d *MemDisk) SectorCount() uint32 {
	return d.sectors
}

// ReadSector copies sector into buf.
func (d *MemDisk) ReadSector(sector uint32, buf []byte) *kernel.Error {
	if err := checkTransfer(sector, d.sectors, buf); err != nil {
		return err
	}

	d.lock.Acquire()
	defer d.lock.Release()

	if d.data == nil {
		return errNotOpen
	}

	off := uintptr(sector) * SectorSize
	copy(buf, d.data[off:off+SectorSize])
	d.reads++
	return nil
}

// WriteSector copies buf into sector.
func (d *MemDisk) WriteSector(sector uint32, buf []byte) *kernel.Error {
	if err := checkTransfer(sector, d.sectors, buf); err != nil {
		return err
	}

	d.lock.Acquire()
	defer d.lock.Release()

	if d.data == nil {
		return errNotOpen
	}

	off := uintptr(sector) * SectorSize
	copy(d.data[off:off+SectorSize], buf)
	d.writes++
	return nil
}

// Stats returns the number of sectors read and written so far.
func (d *MemDisk) Stats() (uint64, uint64) {
	d.lock.Acquire()
	defer d.lock.Release()
	return d.reads, d.writes
}
