package uvm

import (
	"github.com/stylemate/CS330-project3-1/kernel"
	"github.com/stylemate/CS330-project3-1/kernel/mm"
	"github.com/stylemate/CS330-project3-1/kernel/mm/spt"
	"github.com/stylemate/CS330-project3-1/kernel/mm/swap"
	"github.com/stylemate/CS330-project3-1/kernel/mm/vmm"
)

const (
	// stackSlack is how far below the stack pointer an access may land and
	// still count as stack growth. PUSHA stores 32 bytes below the stack
	// pointer before updating it.
	stackSlack = 32
)

var (
	// ErrInvalidAccess is returned for user accesses that cannot be
	// resolved: the process performing them must be terminated.
	ErrInvalidAccess = &kernel.Error{Module: "uvm", Message: "invalid user memory access"}

	errShortRead   = &kernel.Error{Module: "uvm", Message: "short read while loading page from file"}
	errLostSwapped = &kernel.Error{Module: "uvm", Message: "swapped page has no slot"}
)

// HandleFault resolves a fault at addr raised while the user stack pointer
// was sp. Unknown addresses close enough to sp grow the stack. A nil return
// means the access can be retried; ErrInvalidAccess and
// frame.ErrExhausted mean the faulting process cannot continue.
func (as *AddressSpace) HandleFault(addr, sp uintptr, write bool) *kernel.Error {
	e, err := as.entryFor(addr, sp)
	if err != nil {
		return err
	}

	if write && !e.Writable {
		return ErrInvalidAccess
	}

	e.Lock()
	defer e.Unlock()

	if e.Present {
		return nil
	}
	return as.load(e)
}

// entryFor returns the page table entry for addr, declaring a stack page if
// addr is a valid stack growth target.
func (as *AddressSpace) entryFor(addr, sp uintptr) (*spt.Entry, *kernel.Error) {
	if !mm.IsUserAddress(addr) {
		return nil, ErrInvalidAccess
	}

	if e := as.spt.Lookup(addr); e != nil {
		return e, nil
	}

	if !as.isStackAccess(addr, sp) {
		return nil, ErrInvalidAccess
	}

	e, err := as.spt.Insert(addr, true, spt.Zero{})
	switch err {
	case nil:
		return e, nil
	case spt.ErrDuplicateEntry:
		return as.spt.Lookup(addr), nil
	default:
		return nil, ErrInvalidAccess
	}
}

// isStackAccess returns true if addr lies in the stack region and no further
// than stackSlack bytes below sp.
func (as *AddressSpace) isStackAccess(addr, sp uintptr) bool {
	if addr >= mm.PhysBase || addr < mm.PhysBase-as.maxStack {
		return false
	}
	return sp >= stackSlack && addr >= sp-stackSlack
}

// load brings the page of e into a frame and maps it. It must be called
// with the entry lock held.
func (as *AddressSpace) load(e *spt.Entry) *kernel.Error {
	_, isZero := e.Backing.(spt.Zero)

	frame, err := as.frames.Allocate(as, e.Page, isZero)
	if err != nil {
		return err
	}

	if err = as.populate(e, as.phys.Page(frame)); err != nil {
		as.frames.Free(frame)
		return err
	}

	var flags vmm.PageTableEntryFlag
	if e.Writable {
		flags |= vmm.FlagRW
	}
	if err = as.pdt.Map(e.Page, frame, flags); err != nil {
		as.frames.Free(frame)
		return err
	}

	e.Present = true
	as.frames.Unpin(frame)
	return nil
}

// populate fills page according to the backing of e. Bytes not covered by
// the backing store are zeroed.
func (as *AddressSpace) populate(e *spt.Entry, page []byte) *kernel.Error {
	switch b := e.Backing.(type) {
	case spt.Zero:
		// Allocate already cleared the frame.
	case spt.File:
		var n int32
		as.fsLock.Do(func() {
			n = b.File.ReadAt(page[:b.ReadBytes], b.Offset)
		})
		if n != int32(b.ReadBytes) {
			return errShortRead
		}
		mm.Memset(page[b.ReadBytes:], 0)
	case spt.Swap:
		if b.Slot == swap.InvalidSlot {
			return errLostSwapped
		}
		if err := as.swap.Read(b.Slot, page); err != nil {
			return err
		}
		if err := as.swap.Free(b.Slot); err != nil {
			return err
		}
		e.Backing = spt.Swap{Slot: swap.InvalidSlot}
	}
	return nil
}
