package block

import (
	"io"
	"os"

	"github.com/stylemate/CS330-project3-1/kernel"
	"github.com/stylemate/CS330-project3-1/kernel/kfmt"
	"github.com/stylemate/CS330-project3-1/kernel/sync"
)

var (
	openFileFn = func(path string) (*os.File, error) {
		return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	}
)

// FileDisk is a block device backed by a host file. Sector n lives at byte
// offset n*SectorSize of the file.
type FileDisk struct {
	lock sync.Spinlock

	name    string
	path    string
	sectors uint32
	f       *os.File

	reads, writes uint64
}

// NewFileDisk returns a device stored in the host file at path. The file is
// created (or resized) when the driver is initialized.
func NewFileDisk(name, path string, sectors uint32) *FileDisk {
	return &FileDisk{name: name, path: path, sectors: sectors}
}

// DriverName returns the name of this driver.
func (d *FileDisk) DriverName() string {
	return d.name
}

// DriverVersion returns the version of this driver.
func (*FileDisk) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// DriverInit opens the backing file and sizes it to hold every sector.
func (d *FileDisk) DriverInit(w io.Writer) *kernel.Error {
	f, err := openFileFn(d.path)
	if err != nil {
		kfmt.Fprintf(w, "cannot open %s: %v\n", d.path, err)
		return ErrIO
	}

	if err = f.Truncate(int64(d.sectors) * SectorSize); err != nil {
		_ = f.Close()
		kfmt.Fprintf(w, "cannot resize %s: %v\n", d.path, err)
		return ErrIO
	}

	d.f = f
	kfmt.Fprintf(w, "%d sectors (%d KiB) in %s\n", d.sectors, uintptr(d.sectors)*SectorSize>>10, d.path)
	return nil
}

// SectorCount returns the number of sectors on the device.
func (d *FileDisk) SectorCount() uint32 {
	return d.sectors
}

// ReadSector copies sector into buf.
func (d *FileDisk) ReadSector(sector uint32, buf []byte) *kernel.Error {
	if err := checkTransfer(sector, d.sectors, buf); err != nil {
		return err
	}

	d.lock.Acquire()
	defer d.lock.Release()

	if d.f == nil {
		return errNotOpen
	}

	if _, err := d.f.ReadAt(buf, int64(sector)*SectorSize); err != nil {
		return ErrIO
	}
	d.reads++
	return nil
}

// WriteSector copies buf into sector.
func (d *FileDisk) WriteSector(sector uint32, buf []byte) *kernel.Error {
	if err := checkTransfer(sector, d.sectors, buf); err != nil {
		return err
	}

	d.lock.Acquire()
	defer d.lock.Release()

	if d.f == nil {
		return errNotOpen
	}

	if _, err := d.f.WriteAt(buf, int64(sector)*SectorSize); err != nil {
		return ErrIO
	}
	d.writes++
	return nil
}

// Stats returns the number of sectors read and written so far.
func (d *FileDisk) Stats() (uint64, uint64) {
	d.lock.Acquire()
	defer d.lock.Release()
	return d.reads, d.writes
}

// Close releases the backing file.
func (d *FileDisk) Close() *kernel.Error {
	d.lock.Acquire()
	defer d.lock.Release()

	if d.f == nil {
		return errNotOpen
	}

	err := d.f.Close()
	d.f = nil
	if err != nil {
		return ErrIO
	}
	return nil
}
