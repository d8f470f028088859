package vmm

import (
	"testing"

	"github.com/stylemate/CS330-project3-1/kernel/mm"
	"github.com/stylemate/CS330-project3-1/kernel/mm/pmm"
)

func newTestPDT(t *testing.T) (*PageDirectoryTable, *pmm.BitmapAllocator) {
	alloc, err := pmm.NewBitmapAllocator(4, 4)
	if err != nil {
		t.Fatal(err)
	}

	pdt := new(PageDirectoryTable)
	if err := pdt.Init(alloc); err != nil {
		t.Fatal(err)
	}
	return pdt, alloc
}

func TestPageDirectoryTableInit(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		pdt, alloc := newTestPDT(t)

		if got := alloc.FreeCount(pmm.KernelPool); got != 3 {
			t.Fatalf("expected pdt frame to come from the kernel pool; free kernel frames: %d", got)
		}
		if got := alloc.FreeCount(pmm.UserPool); got != 4 {
			t.Fatalf("expected user pool to be untouched; free user frames: %d", got)
		}
		if !pdt.Frame().Valid() {
			t.Fatal("expected pdt to have a valid frame")
		}
	})

	t.Run("kernel pool exhausted", func(t *testing.T) {
		alloc, _ := pmm.NewBitmapAllocator(1, 1)
		if _, err := alloc.AllocFrame(pmm.KernelPool); err != nil {
			t.Fatal(err)
		}

		pdt := new(PageDirectoryTable)
		if err := pdt.Init(alloc); err != pmm.ErrOutOfMemory {
			t.Fatalf("expected to get ErrOutOfMemory; got %v", err)
		}
	})
}

func TestPageDirectoryTableMapUnmap(t *testing.T) {
	pdt, _ := newTestPDT(t)

	page := mm.PageFromAddress(mm.UserFloor)
	frame := mm.Frame(7)

	if _, _, ok := pdt.Lookup(page); ok {
		t.Fatal("expected lookup of unmapped page to fail")
	}

	if err := pdt.Map(page, frame, FlagRW); err != nil {
		t.Fatal(err)
	}

	got, writable, ok := pdt.Lookup(page)
	if !ok || got != frame || !writable {
		t.Fatalf("expected lookup to return (%d, true, true); got (%d, %t, %t)", frame, got, writable, ok)
	}

	phys, err := pdt.Translate(mm.UserFloor + 0x123)
	if err != nil {
		t.Fatal(err)
	}
	if exp := frame.Address() + 0x123; phys != exp {
		t.Fatalf("expected translated address to be 0x%x; got 0x%x", exp, phys)
	}

	if err := pdt.Unmap(page); err != nil {
		t.Fatal(err)
	}

	if err := pdt.Unmap(page); err != ErrInvalidMapping {
		t.Fatalf("expected second unmap to return ErrInvalidMapping; got %v", err)
	}

	if _, err := pdt.Translate(mm.UserFloor); err != ErrInvalidMapping {
		t.Fatalf("expected ErrInvalidMapping; got %v", err)
	}
}

func TestPageDirectoryTableMapErrors(t *testing.T) {
	var pdt PageDirectoryTable
	if err := pdt.Map(mm.PageFromAddress(mm.UserFloor), 1, 0); err != errNotInit {
		t.Fatalf("expected errNotInit; got %v", err)
	}

	initialized, _ := newTestPDT(t)
	if err := initialized.Map(mm.PageFromAddress(mm.PhysBase), 1, 0); err != errKernelPage {
		t.Fatalf("expected errKernelPage; got %v", err)
	}
}

func TestPageDirectoryTableAccess(t *testing.T) {
	pdt, _ := newTestPDT(t)

	roPage := mm.PageFromAddress(mm.UserFloor)
	rwPage := roPage + 1
	_ = pdt.Map(roPage, 5, 0)
	_ = pdt.Map(rwPage, 6, FlagRW)

	specs := []struct {
		page        mm.Page
		write       bool
		expErr      error
		expAccessed bool
		expDirty    bool
	}{
		{roPage + 2, false, ErrInvalidMapping, false, false},
		{roPage, true, ErrProtectionViolation, false, false},
		{roPage, false, nil, true, false},
		{rwPage, true, nil, true, true},
	}

	for specIndex, spec := range specs {
		var visited mm.Frame = mm.InvalidFrame
		err := pdt.Access(spec.page, spec.write, func(f mm.Frame) { visited = f })

		switch {
		case spec.expErr == nil && err != nil:
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		case spec.expErr != nil && err != spec.expErr:
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
			continue
		case spec.expErr != nil:
			if visited.Valid() {
				t.Errorf("[spec %d] expected callback not to run on error", specIndex)
			}
			continue
		}

		if !visited.Valid() {
			t.Errorf("[spec %d] expected callback to be invoked", specIndex)
		}
		if got := pdt.IsAccessed(spec.page); got != spec.expAccessed {
			t.Errorf("[spec %d] expected accessed to be %t; got %t", specIndex, spec.expAccessed, got)
		}
		if got := pdt.IsDirty(spec.page); got != spec.expDirty {
			t.Errorf("[spec %d] expected dirty to be %t; got %t", specIndex, spec.expDirty, got)
		}
	}
}

func TestPageDirectoryTableFlagHelpers(t *testing.T) {
	pdt, _ := newTestPDT(t)
	page := mm.PageFromAddress(mm.UserFloor)
	_ = pdt.Map(page, 3, FlagRW)

	pdt.SetDirty(page, true)
	pdt.SetAccessed(page, true)
	if !pdt.IsDirty(page) || !pdt.IsAccessed(page) {
		t.Fatal("expected dirty and accessed bits to be set")
	}

	pdt.SetAccessed(page, false)
	if pdt.IsAccessed(page) {
		t.Fatal("expected accessed bit to be cleared")
	}

	// Remapping resets both bits.
	_ = pdt.Map(page, 4, FlagRW)
	if pdt.IsDirty(page) {
		t.Fatal("expected dirty bit to be cleared after remapping")
	}

	// Flag helpers on unmapped pages are no-ops.
	pdt.SetDirty(page+10, true)
	if pdt.IsDirty(page + 10) {
		t.Fatal("expected unmapped page not to report dirty")
	}
}

func TestPageDirectoryTableWalkAndDestroy(t *testing.T) {
	pdt, alloc := newTestPDT(t)
	base := mm.PageFromAddress(mm.UserFloor)
	for i := mm.Page(0); i < 3; i++ {
		_ = pdt.Map(base+i, mm.Frame(10+i), 0)
	}

	visited := make(map[mm.Page]mm.Frame)
	pdt.Walk(func(p mm.Page, f mm.Frame) bool {
		visited[p] = f
		return true
	})
	if len(visited) != 3 || visited[base+2] != 12 {
		t.Fatalf("unexpected walk result: %v", visited)
	}

	var count int
	pdt.Walk(func(mm.Page, mm.Frame) bool {
		count++
		return false
	})
	if count != 1 {
		t.Fatalf("expected walk to stop after the first visit; visited %d", count)
	}

	if err := pdt.Destroy(); err != nil {
		t.Fatal(err)
	}
	if got := alloc.FreeCount(pmm.KernelPool); got != 4 {
		t.Fatalf("expected pdt frame to be released; free kernel frames: %d", got)
	}
	if err := pdt.Destroy(); err != errNotInit {
		t.Fatalf("expected errNotInit on second destroy; got %v", err)
	}
}

func TestPageDirectoryTableInvalidate(t *testing.T) {
	pdt, _ := newTestPDT(t)
	page := mm.PageFromAddress(mm.UserFloor)
	_ = pdt.Map(page, 3, FlagRW)

	if err := pdt.Access(page, true, func(mm.Frame) {}); err != nil {
		t.Fatal(err)
	}

	dirty, err := pdt.Invalidate(page)
	if err != nil || !dirty {
		t.Fatalf("expected (true, nil); got (%t, %v)", dirty, err)
	}
	if _, _, ok := pdt.Lookup(page); ok {
		t.Fatal("expected mapping to be removed")
	}
	if _, err = pdt.Invalidate(page); err != ErrInvalidMapping {
		t.Fatalf("expected ErrInvalidMapping; got %v", err)
	}
}
