// Package frame tracks the physical frames handed out to user address spaces
// and reclaims them with a clock (second chance) policy when the user pool
// runs dry.
package frame

import (
	"io"
	"runtime"

	"github.com/stylemate/CS330-project3-1/kernel"
	"github.com/stylemate/CS330-project3-1/kernel/kfmt"
	"github.com/stylemate/CS330-project3-1/kernel/mm"
	"github.com/stylemate/CS330-project3-1/kernel/mm/pmm"
	"github.com/stylemate/CS330-project3-1/kernel/mm/spt"
	"github.com/stylemate/CS330-project3-1/kernel/mm/swap"
	"github.com/stylemate/CS330-project3-1/kernel/mm/vmm"
	"github.com/stylemate/CS330-project3-1/kernel/sync"
)

var (
	// ErrExhausted is returned when no frame can be allocated or reclaimed.
	ErrExhausted = &kernel.Error{Module: "frame", Message: "out of user frames"}

	errNilOwner = &kernel.Error{Module: "frame", Message: "frame owner must not be nil"}

	// yieldFn is used while waiting for a pinned frame to be released.
	yieldFn = runtime.Gosched

	logWriter io.Writer = kfmt.NewPrefixWriter("frame")
)

// Owner is implemented by the address spaces frames are assigned to.
type Owner interface {
	// PageDir returns the translation table of the owner.
	PageDir() *vmm.PageDirectoryTable

	// PageTable returns the supplemental page table of the owner.
	PageTable() *spt.Table
}

// Allocator provides the physical frames managed by the table.
type Allocator interface {
	AllocFrame(pmm.Pool) (mm.Frame, *kernel.Error)
	FreeFrame(mm.Frame) *kernel.Error
	Page(mm.Frame) []byte
}

// Stats counts frame table activity.
type Stats struct {
	Allocations uint64
	Evictions   uint64
	SwapOuts    uint64
	Discards    uint64
}

// entry records the owner of an allocated frame.
type entry struct {
	frame mm.Frame
	owner Owner
	page  mm.Page

	// pinned frames are never chosen as eviction victims.
	pinned bool
}

// Table is the ledger of user frames.
type Table struct {
	lock sync.Spinlock

	phys Allocator
	swap *swap.Space

	entries map[mm.Frame]*entry

	// ring keeps the entries in allocation order for the clock scan.
	ring []*entry
	hand int

	stats Stats
}

// New returns a frame table drawing frames from the user pool of phys and
// evicting pages to swapSpace.
func New(phys Allocator, swapSpace *swap.Space) *Table {
	return &Table{
		phys:    phys,
		swap:    swapSpace,
		entries: make(map[mm.Frame]*entry),
	}
}

// Allocate returns a frame for page of owner. The frame is registered to the
// owner and returned pinned; the caller must Unpin it once the page has been
// populated and mapped. If zero is true the frame contents are cleared.
//
// When the user pool is exhausted a victim frame is reclaimed. If no victim
// can be found, or its contents cannot be saved, ErrExhausted is returned.
func (t *Table) Allocate(owner Owner, page mm.Page, zero bool) (mm.Frame, *kernel.Error) {
	if owner == nil {
		return mm.InvalidFrame, errNilOwner
	}

	t.lock.Acquire()

	if frame, err := t.phys.AllocFrame(pmm.UserPool); err == nil {
		e := &entry{frame: frame, owner: owner, page: page, pinned: true}
		t.entries[frame] = e
		t.ring = append(t.ring, e)
		t.stats.Allocations++
		t.lock.Release()

		if zero {
			t.clear(frame)
		}
		return frame, nil
	}

	victim := t.selectVictim()
	if victim == nil {
		t.lock.Release()
		kfmt.Fprintf(logWriter, "no evictable frame for page 0x%x\n", page.Address())
		return mm.InvalidFrame, ErrExhausted
	}

	// The victim stays pinned until it is handed over so neither another
	// eviction nor the teardown of its owner can touch it while its
	// contents are written back with the table unlocked.
	victim.pinned = true
	prevOwner, prevPage := victim.owner, victim.page
	t.lock.Release()

	if err := t.evict(victim.frame, prevOwner, prevPage); err != nil {
		t.lock.Acquire()
		victim.pinned = false
		t.lock.Release()
		return mm.InvalidFrame, ErrExhausted
	}

	t.lock.Acquire()
	victim.owner, victim.page = owner, page
	t.stats.Evictions++
	t.stats.Allocations++
	t.lock.Release()

	if zero {
		t.clear(victim.frame)
	}
	return victim.frame, nil
}

// selectVictim scans the frames with the clock hand and returns the first
// unpinned frame whose accessed bit is clear. Accessed bits are cleared as
// the hand passes so a second pass finds a victim unless every frame is
// pinned or in constant use. selectVictim must be called with the table lock
// held.
func (t *Table) selectVictim() *entry {
	n := len(t.ring)
	for i := 0; i < 2*n; i++ {
		if t.hand >= n {
			t.hand = 0
		}
		e := t.ring[t.hand]
		t.hand++

		if e.pinned {
			continue
		}

		pdt := e.owner.PageDir()
		if pdt.IsAccessed(e.page) {
			pdt.SetAccessed(e.page, false)
			continue
		}
		return e
	}
	return nil
}

// evict detaches frame from page of owner saving its contents if they cannot
// be recovered from the page's file. The frame must be pinned.
func (t *Table) evict(frame mm.Frame, owner Owner, page mm.Page) *kernel.Error {
	spte := owner.PageTable().Lookup(page.Address())
	if spte == nil {
		// The owner dropped the page; only the mapping needs to go.
		_, _ = owner.PageDir().Invalidate(page)
		return nil
	}

	spte.Lock()
	defer spte.Unlock()

	dirty, err := owner.PageDir().Invalidate(page)
	if err != nil {
		// Not mapped (the owner is being torn down); nothing to save.
		spte.Present = false
		return nil
	}

	if _, isFile := spte.Backing.(spt.File); isFile && !dirty {
		spte.Present = false
		t.count(func(s *Stats) { s.Discards++ })
		return nil
	}

	slot, err := t.swapOut(frame)
	if err != nil {
		kfmt.Fprintf(logWriter, "cannot evict page 0x%x: %s\n", page.Address(), err.Message)
		t.restore(owner, spte, frame, dirty)
		return err
	}

	spte.Backing = spt.Swap{Slot: slot}
	spte.Present = false
	t.count(func(s *Stats) { s.SwapOuts++ })
	return nil
}

func (t *Table) swapOut(frame mm.Frame) (swap.Slot, *kernel.Error) {
	slot, err := t.swap.Alloc()
	if err != nil {
		return swap.InvalidSlot, err
	}

	if err = t.swap.Write(slot, t.phys.Page(frame)); err != nil {
		_ = t.swap.Free(slot)
		return swap.InvalidSlot, err
	}
	return slot, nil
}

// restore re-installs the mapping removed by a failed eviction.
func (t *Table) restore(owner Owner, spte *spt.Entry, frame mm.Frame, dirty bool) {
	var flags vmm.PageTableEntryFlag
	if spte.Writable {
		flags |= vmm.FlagRW
	}

	pdt := owner.PageDir()
	if err := pdt.Map(spte.Page, frame, flags); err != nil {
		return
	}
	pdt.SetDirty(spte.Page, dirty)
}

// Pin marks frame as ineligible for eviction provided it is still assigned
// to page of owner and not already pinned. It returns false otherwise.
func (t *Table) Pin(frame mm.Frame, owner Owner, page mm.Page) bool {
	t.lock.Acquire()
	defer t.lock.Release()

	e, ok := t.entries[frame]
	if !ok || e.pinned || e.owner != owner || e.page != page {
		return false
	}
	e.pinned = true
	return true
}

// Unpin makes frame eligible for eviction again.
func (t *Table) Unpin(frame mm.Frame) {
	t.lock.Acquire()
	defer t.lock.Release()

	if e, ok := t.entries[frame]; ok {
		e.pinned = false
	}
}

// Free returns frame to the physical allocator. Freeing a frame that is not
// in the table is reported and otherwise ignored.
func (t *Table) Free(frame mm.Frame) {
	t.lock.Acquire()
	defer t.lock.Release()

	if _, ok := t.entries[frame]; !ok {
		kfmt.Fprintf(logWriter, "free of untracked frame %d\n", frame)
		return
	}
	t.remove(frame)
}

// ReleaseOwner frees every frame assigned to owner. Frames pinned by an
// in-flight eviction are waited for; once evicted they belong to someone
// else and are skipped.
func (t *Table) ReleaseOwner(owner Owner) {
	for {
		t.lock.Acquire()

		busy := false
		for frame, e := range t.entries {
			if e.owner != owner {
				continue
			}
			if e.pinned {
				busy = true
				continue
			}
			t.remove(frame)
		}

		t.lock.Release()
		if !busy {
			return
		}
		yieldFn()
	}
}

// remove must be called with the table lock held.
func (t *Table) remove(frame mm.Frame) {
	e := t.entries[frame]
	delete(t.entries, frame)

	for i, r := range t.ring {
		if r != e {
			continue
		}
		t.ring = append(t.ring[:i], t.ring[i+1:]...)
		if t.hand > i {
			t.hand--
		}
		break
	}

	if err := t.phys.FreeFrame(frame); err != nil {
		kfmt.Fprintf(logWriter, "cannot release frame %d: %s\n", frame, err.Message)
	}
}

// Owned returns the number of frames assigned to owner.
func (t *Table) Owned(owner Owner) int {
	t.lock.Acquire()
	defer t.lock.Release()

	var count int
	for _, e := range t.entries {
		if e.owner == owner {
			count++
		}
	}
	return count
}

// Len returns the number of allocated frames.
func (t *Table) Len() int {
	t.lock.Acquire()
	defer t.lock.Release()
	return len(t.entries)
}

// Stats returns a snapshot of the table counters.
func (t *Table) Stats() Stats {
	t.lock.Acquire()
	defer t.lock.Release()
	return t.stats
}

// PrintStats outputs the table counters to w.
func (t *Table) PrintStats(w io.Writer) {
	s := t.Stats()
	kfmt.Fprintf(w, "%d frames in use, %d allocations, %d evictions (%d to swap, %d discarded)\n",
		t.Len(), s.Allocations, s.Evictions, s.SwapOuts, s.Discards,
	)
}

func (t *Table) count(fn func(*Stats)) {
	t.lock.Acquire()
	fn(&t.stats)
	t.lock.Release()
}

func (t *Table) clear(frame mm.Frame) {
	mm.Memset(t.phys.Page(frame), 0)
}
