// Package block provides sector addressed storage devices.
package block

import (
	"github.com/stylemate/CS330-project3-1/device"
	"github.com/stylemate/CS330-project3-1/kernel"
)

// SectorSize is the size in bytes of a device sector.
const SectorSize = 512

var (
	// ErrSectorOutOfRange is returned when accessing a sector past the end
	// of the device.
	ErrSectorOutOfRange = &kernel.Error{Module: "block", Message: "sector out of range"}

	// ErrIO is returned when the backing store fails a transfer.
	ErrIO = &kernel.Error{Module: "block", Message: "i/o error"}

	errBufferSize = &kernel.Error{Module: "block", Message: "buffer size must equal the sector size"}
	errNotOpen    = &kernel.Error{Module: "block", Message: "device not initialized"}
)

// Device is implemented by drivers for sector addressed storage.
type Device interface {
	device.Driver

	// SectorCount returns the number of sectors on the device.
	SectorCount() uint32

	// ReadSector copies sector into buf which must be SectorSize bytes long.
	ReadSector(sector uint32, buf []byte) *kernel.Error

	// WriteSector copies buf, which must be SectorSize bytes long, into sector.
	WriteSector(sector uint32, buf []byte) *kernel.Error

	// Stats returns the number of sectors read and written so far.
	Stats() (reads, writes uint64)
}

func checkTransfer(sector, count uint32, buf []byte) *kernel.Error {
	if sector >= count {
		return ErrSectorOutOfRange
	}
	if len(buf) != SectorSize {
		return errBufferSize
	}
	return nil
}
