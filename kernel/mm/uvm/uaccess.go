package uvm

import (
	"encoding/binary"

	"github.com/stylemate/CS330-project3-1/kernel"
	"github.com/stylemate/CS330-project3-1/kernel/mm"
)

// MaxStringLen bounds the length of strings read from user memory, including
// the terminating NUL.
const MaxStringLen = int(mm.PageSize)

// ErrStringTooLong is returned by ReadString when no terminator is found in
// the first MaxStringLen bytes.
var ErrStringTooLong = &kernel.Error{Module: "uvm", Message: "user string too long"}

// withPage runs fn with the contents of the user page containing addr. The
// page is faulted in if needed, exactly as a user access would, and its
// frame stays pinned while fn runs. The accessed bit (and for writes the
// dirty bit) is set like the hardware would. A nil fn only checks the page
// and faults it in; the accessed and dirty bits are left alone.
func (as *AddressSpace) withPage(addr uintptr, write bool, fn func(page []byte)) *kernel.Error {
	for {
		e, err := as.entryFor(addr, as.UserSP())
		if err != nil {
			return err
		}
		if write && !e.Writable {
			return ErrInvalidAccess
		}

		e.Lock()
		if !e.Present {
			if err = as.load(e); err != nil {
				e.Unlock()
				return err
			}
		}

		frame, _, mapped := as.pdt.Lookup(e.Page)
		pinned := mapped && as.frames.Pin(frame, as, e.Page)
		e.Unlock()

		if !pinned {
			// An eviction claimed the frame; wait for it to finish and
			// fault the page back in.
			yieldFn()
			continue
		}

		if fn != nil {
			as.pdt.SetAccessed(e.Page, true)
			if write {
				as.pdt.SetDirty(e.Page, true)
			}
			fn(as.phys.Page(frame))
		}
		as.frames.Unpin(frame)
		return nil
	}
}

// ValidatePointer checks that addr is a user address the process may read.
func (as *AddressSpace) ValidatePointer(addr uintptr) *kernel.Error {
	return as.ValidateBuffer(addr, 1, false)
}

// ValidateBuffer checks every page of [addr, addr+size). For writes the
// pages must be writable. Nothing is copied; pages are faulted in but not
// marked accessed or dirty.
func (as *AddressSpace) ValidateBuffer(addr, size uintptr, write bool) *kernel.Error {
	if size == 0 {
		return nil
	}

	if addr == 0 || !mm.IsUserAddress(addr) || addr+size < addr || addr+size > mm.PhysBase {
		return ErrInvalidAccess
	}

	for page := mm.PageFromAddress(addr); page <= mm.PageFromAddress(addr+size-1); page++ {
		pageAddr := page.Address()
		if pageAddr < addr {
			pageAddr = addr
		}
		if err := as.withPage(pageAddr, write, nil); err != nil {
			return err
		}
	}
	return nil
}

// CopyIn copies len(dst) bytes from user address src into dst. The whole
// range is validated before any byte is copied.
func (as *AddressSpace) CopyIn(dst []byte, src uintptr) *kernel.Error {
	if err := as.ValidateBuffer(src, uintptr(len(dst)), false); err != nil {
		return err
	}

	for len(dst) > 0 {
		off := mm.PageOffset(src)
		var n int
		err := as.withPage(src, false, func(page []byte) {
			n = copy(dst, page[off:])
		})
		if err != nil {
			return err
		}

		dst = dst[n:]
		src += uintptr(n)
	}
	return nil
}

// CopyOut copies src to user address dst. The whole range is validated
// before any byte is copied.
func (as *AddressSpace) CopyOut(dst uintptr, src []byte) *kernel.Error {
	if err := as.ValidateBuffer(dst, uintptr(len(src)), true); err != nil {
		return err
	}

	for len(src) > 0 {
		off := mm.PageOffset(dst)
		var n int
		err := as.withPage(dst, true, func(page []byte) {
			n = copy(page[off:], src)
		})
		if err != nil {
			return err
		}

		src = src[n:]
		dst += uintptr(n)
	}
	return nil
}

// ReadString reads the NUL terminated string at addr. Each byte address is
// validated before the byte is read.
func (as *AddressSpace) ReadString(addr uintptr) (string, *kernel.Error) {
	if addr == 0 {
		return "", ErrInvalidAccess
	}

	var (
		buf  []byte
		done bool
	)

	for !done {
		if len(buf) >= MaxStringLen {
			return "", ErrStringTooLong
		}

		off := mm.PageOffset(addr)
		err := as.withPage(addr, false, func(page []byte) {
			for _, b := range page[off:] {
				if b == 0 {
					done = true
					return
				}
				buf = append(buf, b)
				if len(buf) >= MaxStringLen {
					return
				}
			}
		})
		if err != nil {
			return "", err
		}

		addr = mm.PageFromAddress(addr).Address() + mm.PageSize
	}

	return string(buf), nil
}

// ReadWord reads the 32-bit little endian word at addr.
func (as *AddressSpace) ReadWord(addr uintptr) (uint32, *kernel.Error) {
	var word [mm.WordSize]byte
	if err := as.CopyIn(word[:], addr); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(word[:]), nil
}

// WriteWord stores the 32-bit little endian word v at addr.
func (as *AddressSpace) WriteWord(addr uintptr, v uint32) *kernel.Error {
	var word [mm.WordSize]byte
	binary.LittleEndian.PutUint32(word[:], v)
	return as.CopyOut(addr, word[:])
}
