// Package uvm manages user address spaces: lazily populated pages, demand
// faulting, stack growth and safe kernel access to user memory.
package uvm

import (
	"io"
	"runtime"

	"github.com/stylemate/CS330-project3-1/kernel"
	"github.com/stylemate/CS330-project3-1/kernel/fs"
	"github.com/stylemate/CS330-project3-1/kernel/kfmt"
	"github.com/stylemate/CS330-project3-1/kernel/mm"
	"github.com/stylemate/CS330-project3-1/kernel/mm/frame"
	"github.com/stylemate/CS330-project3-1/kernel/mm/spt"
	"github.com/stylemate/CS330-project3-1/kernel/mm/swap"
	"github.com/stylemate/CS330-project3-1/kernel/mm/vmm"
	"github.com/stylemate/CS330-project3-1/kernel/sync"
)

// DefaultMaxStack is the default upper bound for the size of a user stack.
const DefaultMaxStack = uintptr(8 * mm.Mb)

var (
	errSegmentAlign   = &kernel.Error{Module: "uvm", Message: "segment must start on a page boundary"}
	errSegmentSize    = &kernel.Error{Module: "uvm", Message: "segment size must be a multiple of the page size"}
	errSegmentOverlap = &kernel.Error{Module: "uvm", Message: "segment overlaps a declared page"}

	// yieldFn is invoked while waiting for a frame pinned by someone else.
	yieldFn = runtime.Gosched

	logWriter io.Writer = kfmt.NewPrefixWriter("vmm")
)

// Config holds the shared kernel services an address space depends on.
type Config struct {
	Phys   frame.Allocator
	Frames *frame.Table
	Swap   *swap.Space
	FSLock *fs.Lock

	// MaxStack bounds the stack growth region below PhysBase. Defaults to
	// DefaultMaxStack if zero.
	MaxStack uintptr
}

// AddressSpace is the user virtual memory of one process.
type AddressSpace struct {
	pdt vmm.PageDirectoryTable
	spt *spt.Table

	phys     frame.Allocator
	frames   *frame.Table
	swap     *swap.Space
	fsLock   *fs.Lock
	maxStack uintptr

	// userSP is the user stack pointer saved on entry to the kernel. Faults
	// raised by kernel accesses to user memory use it for the stack growth
	// check.
	spLock sync.Spinlock
	userSP uintptr
}

// New returns an empty address space.
func New(cfg Config) (*AddressSpace, *kernel.Error) {
	as := &AddressSpace{
		spt:      spt.New(),
		phys:     cfg.Phys,
		frames:   cfg.Frames,
		swap:     cfg.Swap,
		fsLock:   cfg.FSLock,
		maxStack: cfg.MaxStack,
		userSP:   mm.PhysBase,
	}

	if as.maxStack == 0 {
		as.maxStack = DefaultMaxStack
	}
	if as.fsLock == nil {
		as.fsLock = new(fs.Lock)
	}

	if err := as.pdt.Init(cfg.Phys); err != nil {
		return nil, err
	}
	return as, nil
}

// PageDir returns the translation table of the address space.
func (as *AddressSpace) PageDir() *vmm.PageDirectoryTable {
	return &as.pdt
}

// PageTable returns the supplemental page table of the address space.
func (as *AddressSpace) PageTable() *spt.Table {
	return as.spt
}

// SetUserSP records the user stack pointer at kernel entry.
func (as *AddressSpace) SetUserSP(sp uintptr) {
	as.spLock.Acquire()
	as.userSP = sp
	as.spLock.Release()
}

// UserSP returns the last recorded user stack pointer.
func (as *AddressSpace) UserSP() uintptr {
	as.spLock.Acquire()
	defer as.spLock.Release()
	return as.userSP
}

// DeclareSegment declares the pages of a loadable segment starting at the
// page aligned address upage. The first readBytes bytes come from file at
// offset and the following zeroBytes bytes are zero. Pages are populated on
// first access.
func (as *AddressSpace) DeclareSegment(file fs.File, offset int32, upage uintptr, readBytes, zeroBytes uint32, writable bool) *kernel.Error {
	if mm.PageOffset(upage) != 0 {
		return errSegmentAlign
	}
	if uintptr(readBytes+zeroBytes)%mm.PageSize != 0 {
		return errSegmentSize
	}

	for readBytes > 0 || zeroBytes > 0 {
		pageRead := readBytes
		if uintptr(pageRead) > mm.PageSize {
			pageRead = uint32(mm.PageSize)
		}
		pageZero := uint32(mm.PageSize) - pageRead

		var backing spt.Backing = spt.Zero{}
		if pageRead > 0 {
			backing = spt.File{File: file, Offset: offset, ReadBytes: pageRead, ZeroBytes: pageZero}
		}

		if _, err := as.spt.Insert(upage, writable, backing); err != nil {
			if err == spt.ErrDuplicateEntry {
				return errSegmentOverlap
			}
			return err
		}

		readBytes -= pageRead
		zeroBytes -= pageZero
		offset += int32(pageRead)
		upage += mm.PageSize
	}

	return nil
}

// DeclareStack sets up the topmost stack page and makes it resident. It
// returns the initial user stack pointer.
func (as *AddressSpace) DeclareStack() (uintptr, *kernel.Error) {
	e, err := as.spt.Insert(mm.PhysBase-mm.PageSize, true, spt.Zero{})
	if err != nil {
		return 0, err
	}

	e.Lock()
	defer e.Unlock()
	if err = as.load(e); err != nil {
		return 0, err
	}

	as.SetUserSP(mm.PhysBase)
	return mm.PhysBase, nil
}

// ResidentPages returns the number of frames held by the address space.
func (as *AddressSpace) ResidentPages() int {
	return as.frames.Owned(as)
}

// Destroy releases the frames, swap slots, page table entries and the
// translation table of the address space.
func (as *AddressSpace) Destroy() {
	as.frames.ReleaseOwner(as)

	as.spt.Walk(func(e *spt.Entry) {
		e.Lock()
		defer e.Unlock()

		if b, ok := e.Backing.(spt.Swap); ok && b.Slot != swap.InvalidSlot {
			if err := as.swap.Free(b.Slot); err != nil {
				kfmt.Fprintf(logWriter, "cannot release swap slot %d: %s\n", b.Slot, err.Message)
			}
		}
		e.Present = false
	})
	as.spt.Destroy()

	if err := as.pdt.Destroy(); err != nil {
		kfmt.Fprintf(logWriter, "cannot release page directory: %s\n", err.Message)
	}
}
