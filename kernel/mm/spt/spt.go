// Package spt implements the supplemental page table: the per process record
// of where the contents of each declared user page live while the page is
// not resident.
package spt

import (
	"github.com/stylemate/CS330-project3-1/kernel"
	"github.com/stylemate/CS330-project3-1/kernel/fs"
	"github.com/stylemate/CS330-project3-1/kernel/mm"
	"github.com/stylemate/CS330-project3-1/kernel/mm/swap"
	"github.com/stylemate/CS330-project3-1/kernel/sync"
)

var (
	// ErrDuplicateEntry is returned when declaring a page twice.
	ErrDuplicateEntry = &kernel.Error{Module: "spt", Message: "page already declared"}

	// ErrDestroyed is returned when inserting into a destroyed table.
	ErrDestroyed = &kernel.Error{Module: "spt", Message: "page table destroyed"}

	errKernelAddress = &kernel.Error{Module: "spt", Message: "page is not in user space"}
)

// Backing describes where the contents of a non-resident page come from.
// It is one of File, Swap or Zero.
type Backing interface {
	backingKind() string
}

// File backs a page with a region of an open file. ReadBytes bytes are read
// from Offset and the following ZeroBytes bytes of the page are zeroed.
type File struct {
	File      fs.File
	Offset    int32
	ReadBytes uint32
	ZeroBytes uint32
}

// Swap backs a page with a swap slot. Slot is swap.InvalidSlot while the
// page is resident: the slot is released as soon as the page is read back.
type Swap struct {
	Slot swap.Slot
}

// Zero backs a page that starts out filled with zeroes.
type Zero struct{}

func (File) backingKind() string { return "file" }
func (Swap) backingKind() string { return "swap" }
func (Zero) backingKind() string { return "zero" }

// KindOf returns a short name for the backing kind of b.
func KindOf(b Backing) string {
	if b == nil {
		return "none"
	}
	return b.backingKind()
}

// Entry describes a declared user page. Present and Backing may only be
// accessed while holding the entry lock; Page and Writable never change.
type Entry struct {
	lock sync.Spinlock

	Page     mm.Page
	Writable bool

	// Present is true while the page is mapped to a frame.
	Present bool

	Backing Backing
}

// Lock acquires the entry lock.
func (e *Entry) Lock() { e.lock.Acquire() }

// Unlock releases the entry lock.
func (e *Entry) Unlock() { e.lock.Release() }

// Addr returns the virtual address of the page.
func (e *Entry) Addr() uintptr { return e.Page.Address() }

// Table maps user pages to their entries.
type Table struct {
	lock sync.Spinlock

	entries map[mm.Page]*Entry
	dead    bool
}

// New returns an empty table.
func New() *Table {
	return &Table{entries: make(map[mm.Page]*Entry)}
}

// Insert declares the page containing addr. The new entry is not present.
func (t *Table) Insert(addr uintptr, writable bool, backing Backing) (*Entry, *kernel.Error) {
	if !mm.IsUserAddress(addr) {
		return nil, errKernelAddress
	}

	page := mm.PageFromAddress(addr)

	t.lock.Acquire()
	defer t.lock.Release()

	if t.dead {
		return nil, ErrDestroyed
	}
	if _, exists := t.entries[page]; exists {
		return nil, ErrDuplicateEntry
	}

	e := &Entry{Page: page, Writable: writable, Backing: backing}
	t.entries[page] = e
	return e, nil
}

// Lookup returns the entry for the page containing addr or nil.
func (t *Table) Lookup(addr uintptr) *Entry {
	t.lock.Acquire()
	defer t.lock.Release()
	return t.entries[mm.PageFromAddress(addr)]
}

// Remove drops the entry for the page containing addr.
func (t *Table) Remove(addr uintptr) {
	t.lock.Acquire()
	defer t.lock.Release()
	delete(t.entries, mm.PageFromAddress(addr))
}

// Len returns the number of declared pages.
func (t *Table) Len() int {
	t.lock.Acquire()
	defer t.lock.Release()
	return len(t.entries)
}

// Walk invokes visitor for every entry. The table lock is not held while
// visitor runs.
func (t *Table) Walk(visitor func(*Entry)) {
	t.lock.Acquire()
	entries := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.lock.Release()

	for _, e := range entries {
		visitor(e)
	}
}

// Destroy drops every entry. Frames and swap slots referenced by the
// entries are not released; their owners free them separately.
func (t *Table) Destroy() {
	t.lock.Acquire()
	defer t.lock.Release()

	t.entries = make(map[mm.Page]*Entry)
	t.dead = true
}
