package vmm

import (
	"github.com/stylemate/CS330-project3-1/kernel"
	"github.com/stylemate/CS330-project3-1/kernel/mm"
	"github.com/stylemate/CS330-project3-1/kernel/mm/pmm"
	"github.com/stylemate/CS330-project3-1/kernel/sync"
)

var (
	errKernelPage = &kernel.Error{Module: "vmm", Message: "cannot install a user mapping above PhysBase"}
	errNotInit    = &kernel.Error{Module: "vmm", Message: "page directory table not initialized"}
)

// FrameAllocator is implemented by physical allocators that can provide the
// kernel-pool frame holding a page directory.
type FrameAllocator interface {
	AllocFrame(pmm.Pool) (mm.Frame, *kernel.Error)
	FreeFrame(mm.Frame) *kernel.Error
	Page(mm.Frame) []byte
}

// PageDirectoryTable describes the translation table of a single user address
// space. It plays the role of the hardware page tables: it resolves user
// virtual pages to physical frames and tracks the accessed/dirty bits that
// the MMU maintains on every access.
//
// All methods are safe for concurrent use; the eviction code inspects and
// unmaps entries of address spaces that belong to other processes.
type PageDirectoryTable struct {
	lock sync.Spinlock

	// pdtFrame is the kernel-pool frame reserved for this directory.
	pdtFrame mm.Frame
	alloc    FrameAllocator

	entries map[mm.Page]pageTableEntry
}

// Init sets up the page directory table reserving its backing frame from the
// kernel pool and clearing its contents.
func (pdt *PageDirectoryTable) Init(alloc FrameAllocator) *kernel.Error {
	frame, err := alloc.AllocFrame(pmm.KernelPool)
	if err != nil {
		return err
	}

	mm.Memset(alloc.Page(frame), 0)

	pdt.alloc = alloc
	pdt.pdtFrame = frame
	pdt.entries = make(map[mm.Page]pageTableEntry)
	return nil
}

// Frame returns the physical frame that holds this table.
func (pdt *PageDirectoryTable) Frame() mm.Frame {
	return pdt.pdtFrame
}

// Map establishes a mapping between a virtual page and a physical memory frame
// overwriting any previous mapping for the page. FlagPresent and
// FlagUserAccessible are always set; the accessed and dirty bits of the new
// entry start cleared.
func (pdt *PageDirectoryTable) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if page.Address() >= mm.PhysBase {
		return errKernelPage
	}

	pdt.lock.Acquire()
	defer pdt.lock.Release()

	if pdt.entries == nil {
		return errNotInit
	}

	var pte pageTableEntry
	pte.SetFrame(frame)
	pte.SetFlags((flags | FlagPresent | FlagUserAccessible) &^ (FlagAccessed | FlagDirty))
	pdt.entries[page] = pte
	return nil
}

// Unmap removes a mapping previously installed via a call to Map. Future
// accesses to the page will fault.
func (pdt *PageDirectoryTable) Unmap(page mm.Page) *kernel.Error {
	pdt.lock.Acquire()
	defer pdt.lock.Release()

	pte, ok := pdt.entries[page]
	if !ok || !pte.HasFlags(FlagPresent) {
		return ErrInvalidMapping
	}

	delete(pdt.entries, page)
	return nil
}

// Invalidate removes the mapping for page like Unmap and reports whether the
// page was dirty at the time it was removed. No write can slip in between
// the dirty bit check and the removal.
func (pdt *PageDirectoryTable) Invalidate(page mm.Page) (bool, *kernel.Error) {
	pdt.lock.Acquire()
	defer pdt.lock.Release()

	pte, ok := pdt.entries[page]
	if !ok || !pte.HasFlags(FlagPresent) {
		return false, ErrInvalidMapping
	}

	delete(pdt.entries, page)
	return pte.HasFlags(FlagDirty), nil
}

// Lookup returns the frame mapped at page and whether the page is writable.
// The last return value is false if the page is not mapped.
func (pdt *PageDirectoryTable) Lookup(page mm.Page) (mm.Frame, bool, bool) {
	pdt.lock.Acquire()
	defer pdt.lock.Release()

	pte, ok := pdt.entries[page]
	if !ok || !pte.HasFlags(FlagPresent) {
		return mm.InvalidFrame, false, false
	}
	return pte.Frame(), pte.HasFlags(FlagRW), true
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (pdt *PageDirectoryTable) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	frame, _, ok := pdt.Lookup(mm.PageFromAddress(virtAddr))
	if !ok {
		return 0, ErrInvalidMapping
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	return frame.Address() + mm.PageOffset(virtAddr), nil
}

// Access emulates an MMU access to page. If the page is mapped with the right
// permissions, fn is invoked with the backing frame while the table lock is
// held, so the mapping cannot be removed until fn returns. The accessed bit
// (and the dirty bit for writes) is updated like the hardware would.
func (pdt *PageDirectoryTable) Access(page mm.Page, write bool, fn func(mm.Frame)) *kernel.Error {
	pdt.lock.Acquire()
	defer pdt.lock.Release()

	pte, ok := pdt.entries[page]
	switch {
	case !ok || !pte.HasFlags(FlagPresent):
		return ErrInvalidMapping
	case write && !pte.HasFlags(FlagRW):
		return ErrProtectionViolation
	}

	pte.SetFlags(FlagAccessed)
	if write {
		pte.SetFlags(FlagDirty)
	}
	pdt.entries[page] = pte

	fn(pte.Frame())
	return nil
}

// IsAccessed returns true if the page has been accessed since its accessed
// bit was last cleared.
func (pdt *PageDirectoryTable) IsAccessed(page mm.Page) bool {
	return pdt.hasFlags(page, FlagAccessed)
}

// SetAccessed sets or clears the accessed bit of a mapped page.
func (pdt *PageDirectoryTable) SetAccessed(page mm.Page, accessed bool) {
	pdt.setFlag(page, FlagAccessed, accessed)
}

// IsDirty returns true if the page has been written to since it was mapped.
func (pdt *PageDirectoryTable) IsDirty(page mm.Page) bool {
	return pdt.hasFlags(page, FlagDirty)
}

// SetDirty sets or clears the dirty bit of a mapped page.
func (pdt *PageDirectoryTable) SetDirty(page mm.Page, dirty bool) {
	pdt.setFlag(page, FlagDirty, dirty)
}

func (pdt *PageDirectoryTable) hasFlags(page mm.Page, flags PageTableEntryFlag) bool {
	pdt.lock.Acquire()
	defer pdt.lock.Release()

	pte, ok := pdt.entries[page]
	return ok && pte.HasFlags(FlagPresent|flags)
}

func (pdt *PageDirectoryTable) setFlag(page mm.Page, flag PageTableEntryFlag, set bool) {
	pdt.lock.Acquire()
	defer pdt.lock.Release()

	pte, ok := pdt.entries[page]
	if !ok {
		return
	}

	if set {
		pte.SetFlags(flag)
	} else {
		pte.ClearFlags(flag)
	}
	pdt.entries[page] = pte
}

// Walk invokes visitor for each present mapping until visitor returns false.
// The table lock is not held while visitor runs.
func (pdt *PageDirectoryTable) Walk(visitor func(mm.Page, mm.Frame) bool) {
	type mapping struct {
		page  mm.Page
		frame mm.Frame
	}

	pdt.lock.Acquire()
	mappings := make([]mapping, 0, len(pdt.entries))
	for page, pte := range pdt.entries {
		if pte.HasFlags(FlagPresent) {
			mappings = append(mappings, mapping{page, pte.Frame()})
		}
	}
	pdt.lock.Release()

	for _, m := range mappings {
		if !visitor(m.page, m.frame) {
			return
		}
	}
}

// Destroy drops every mapping and returns the directory frame to the kernel
// pool. The frames that were mapped are not released; they belong to the
// frame table.
func (pdt *PageDirectoryTable) Destroy() *kernel.Error {
	pdt.lock.Acquire()
	defer pdt.lock.Release()

	if pdt.entries == nil {
		return errNotInit
	}

	pdt.entries = nil
	return pdt.alloc.FreeFrame(pdt.pdtFrame)
}
