package swap

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stylemate/CS330-project3-1/device/block"
	"github.com/stylemate/CS330-project3-1/kernel/mm"
)

func newTestSpace(t *testing.T, slots uint32) *Space {
	dev := block.NewMemDisk("swap", slots*sectorsPerSlot)
	if err := dev.DriverInit(new(bytes.Buffer)); err != nil {
		t.Fatal(err)
	}
	return New(dev)
}

func TestSpaceAllocFree(t *testing.T) {
	s := newTestSpace(t, 70)
	if exp, got := uint32(70), s.SlotCount(); got != exp {
		t.Fatalf("expected %d slots; got %d", exp, got)
	}

	for i := 0; i < 70; i++ {
		slot, err := s.Alloc()
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		if slot != Slot(i) {
			t.Fatalf("expected slot %d; got %d", i, slot)
		}
	}

	if _, err := s.Alloc(); err != ErrFull {
		t.Fatalf("expected ErrFull; got %v", err)
	}

	if err := s.Free(65); err != nil {
		t.Fatal(err)
	}
	if s.InUse(65) {
		t.Fatal("expected freed slot not to be in use")
	}
	if err := s.Free(65); err != errSlotNotInUse {
		t.Fatalf("expected errSlotNotInUse on double free; got %v", err)
	}

	if slot, _ := s.Alloc(); slot != 65 {
		t.Fatalf("expected freed slot to be reused; got %d", slot)
	}
	if got := s.FreeCount(); got != 0 {
		t.Fatalf("expected no free slots; got %d", got)
	}
}

func TestSpaceReadWrite(t *testing.T) {
	s := newTestSpace(t, 2)
	slot, _ := s.Alloc()

	page := make([]byte, mm.PageSize)
	for i := range page {
		page[i] = byte(i)
	}

	if err := s.Write(slot, page); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, mm.PageSize)
	if err := s.Read(slot, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, page) {
		t.Fatal("expected slot contents to round-trip")
	}
}

func TestSpaceErrors(t *testing.T) {
	s := newTestSpace(t, 2)
	page := make([]byte, mm.PageSize)

	specs := []struct {
		fn     func() error
		expErr error
	}{
		{func() error { return s.Write(0, page) }, errSlotNotInUse},
		{func() error { return s.Read(5, page) }, errInvalidSlot},
		{func() error { return s.Read(InvalidSlot, page) }, errInvalidSlot},
		{func() error { return s.Write(0, page[:10]) }, errPageSize},
		{func() error { return s.Free(9) }, errInvalidSlot},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			if err := spec.fn(); err != spec.expErr {
				t.Fatalf("expected error %v; got %v", spec.expErr, err)
			}
		})
	}

	empty := New(nil)
	if _, err := empty.Alloc(); err != errNoDevice {
		t.Fatalf("expected errNoDevice; got %v", err)
	}
	if empty.InUse(0) {
		t.Fatal("expected no slot to be in use without a device")
	}
}

func TestSpacePrintStats(t *testing.T) {
	s := newTestSpace(t, 4)
	_, _ = s.Alloc()

	var buf bytes.Buffer
	s.PrintStats(&buf)
	if exp := "3/4 slots free\n"; buf.String() != exp {
		t.Fatalf("expected %q; got %q", exp, buf.String())
	}
}
