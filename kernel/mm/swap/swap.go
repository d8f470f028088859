// Package swap manages page sized slots on a block device.
package swap

import (
	"io"

	"github.com/stylemate/CS330-project3-1/device/block"
	"github.com/stylemate/CS330-project3-1/kernel"
	"github.com/stylemate/CS330-project3-1/kernel/kfmt"
	"github.com/stylemate/CS330-project3-1/kernel/mm"
	"github.com/stylemate/CS330-project3-1/kernel/sync"
)

// Slot identifies a page sized region of the swap device.
type Slot uint32

// InvalidSlot is returned by Alloc when no free slot is available.
const InvalidSlot = ^Slot(0)

// sectorsPerSlot is the number of device sectors backing one slot.
const sectorsPerSlot = uint32(mm.PageSize / block.SectorSize)

var (
	// ErrFull is returned when every swap slot is in use.
	ErrFull = &kernel.Error{Module: "swap", Message: "no free swap slots"}

	errNoDevice     = &kernel.Error{Module: "swap", Message: "no swap device"}
	errInvalidSlot  = &kernel.Error{Module: "swap", Message: "invalid swap slot"}
	errSlotNotInUse = &kernel.Error{Module: "swap", Message: "swap slot not in use"}
	errPageSize     = &kernel.Error{Module: "swap", Message: "buffer must be exactly one page"}
)

// Space tracks the slot usage of a swap device.
type Space struct {
	lock sync.Spinlock

	dev       block.Device
	slotCount uint32
	freeCount uint32

	// freeBitmap tracks slot usage. Each bit corresponds to a slot; a set
	// bit indicates that the slot holds a page.
	freeBitmap []uint64
}

// New returns a swap space spanning every whole slot of dev. A nil dev
// yields a space without slots.
func New(dev block.Device) *Space {
	s := &Space{dev: dev}
	if dev == nil {
		return s
	}

	s.slotCount = dev.SectorCount() / sectorsPerSlot
	s.freeCount = s.slotCount
	s.freeBitmap = make([]uint64, (s.slotCount+63)>>6)
	return s
}

// Alloc reserves a free slot.
func (s *Space) Alloc() (Slot, *kernel.Error) {
	s.lock.Acquire()
	defer s.lock.Release()

	if s.dev == nil {
		return InvalidSlot, errNoDevice
	}

	if s.freeCount == 0 {
		return InvalidSlot, ErrFull
	}

	for blockIndex, bits := range s.freeBitmap {
		if bits == ^uint64(0) {
			continue
		}

		for bitIndex := uint32(0); bitIndex < 64; bitIndex++ {
			mask := uint64(1) << bitIndex
			if bits&mask != 0 {
				continue
			}

			slot := uint32(blockIndex)<<6 + bitIndex
			if slot >= s.slotCount {
				break
			}

			s.freeBitmap[blockIndex] |= mask
			s.freeCount--
			return Slot(slot), nil
		}
	}

	return InvalidSlot, ErrFull
}

// Free releases slot so it can be reused.
func (s *Space) Free(slot Slot) *kernel.Error {
	s.lock.Acquire()
	defer s.lock.Release()

	if err := s.checkSlot(slot); err != nil {
		return err
	}

	s.freeBitmap[slot>>6] &^= uint64(1) << (slot & 63)
	s.freeCount++
	return nil
}

// InUse returns true if slot is currently allocated.
func (s *Space) InUse(slot Slot) bool {
	s.lock.Acquire()
	defer s.lock.Release()
	return s.checkSlot(slot) == nil
}

// Write stores page, which must be mm.PageSize bytes long, into slot.
func (s *Space) Write(slot Slot, page []byte) *kernel.Error {
	if err := s.checkTransfer(slot, page); err != nil {
		return err
	}

	first := uint32(slot) * sectorsPerSlot
	for i := uint32(0); i < sectorsPerSlot; i++ {
		off := i * block.SectorSize
		if err := s.dev.WriteSector(first+i, page[off:off+block.SectorSize]); err != nil {
			return err
		}
	}
	return nil
}

// Read fills page, which must be mm.PageSize bytes long, from slot.
func (s *Space) Read(slot Slot, page []byte) *kernel.Error {
	if err := s.checkTransfer(slot, page); err != nil {
		return err
	}

	first := uint32(slot) * sectorsPerSlot
	for i := uint32(0); i < sectorsPerSlot; i++ {
		off := i * block.SectorSize
		if err := s.dev.ReadSector(first+i, page[off:off+block.SectorSize]); err != nil {
			return err
		}
	}
	return nil
}

// SlotCount returns the total number of slots.
func (s *Space) SlotCount() uint32 {
	return s.slotCount
}

// FreeCount returns the number of unused slots.
func (s *Space) FreeCount() uint32 {
	s.lock.Acquire()
	defer s.lock.Release()
	return s.freeCount
}

// PrintStats outputs the slot usage to w.
func (s *Space) PrintStats(w io.Writer) {
	s.lock.Acquire()
	defer s.lock.Release()
	kfmt.Fprintf(w, "%d/%d slots free\n", s.freeCount, s.slotCount)
}

func (s *Space) checkTransfer(slot Slot, page []byte) *kernel.Error {
	if uintptr(len(page)) != mm.PageSize {
		return errPageSize
	}

	s.lock.Acquire()
	defer s.lock.Release()
	return s.checkSlot(slot)
}

// checkSlot must be called with the lock held.
func (s *Space) checkSlot(slot Slot) *kernel.Error {
	if s.dev == nil {
		return errNoDevice
	}
	if uint32(slot) >= s.slotCount || slot == InvalidSlot {
		return errInvalidSlot
	}
	if s.freeBitmap[slot>>6]&(uint64(1)<<(slot&63)) == 0 {
		return errSlotNotInUse
	}
	return nil
}
