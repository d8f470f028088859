// Package cpu emulates the user mode side of a processor: loads and stores
// go through the translation table of the running address space and raise
// page faults when it cannot resolve them.
package cpu

import (
	"encoding/binary"

	"github.com/stylemate/CS330-project3-1/kernel"
	"github.com/stylemate/CS330-project3-1/kernel/gate"
	"github.com/stylemate/CS330-project3-1/kernel/kfmt"
	"github.com/stylemate/CS330-project3-1/kernel/mm"
	"github.com/stylemate/CS330-project3-1/kernel/mm/vmm"
)

var (
	errNoTrapHandler = &kernel.Error{Module: "cpu", Message: "no handler for trap"}

	// panicFn is invoked when a trap has no handler.
	panicFn = kfmt.Panic
)

// Memory is the address space a context executes in.
type Memory interface {
	PageDir() *vmm.PageDirectoryTable
}

// PhysMem exposes the contents of physical frames.
type PhysMem interface {
	Page(mm.Frame) []byte
}

// Context is the register state and memory view of a user thread.
type Context struct {
	Regs gate.Registers

	mem   Memory
	phys  PhysMem
	traps *gate.Table

	cr2 uint64
}

// NewContext returns a context executing in mem with its stack pointer set
// to sp. Traps are routed through traps.
func NewContext(mem Memory, phys PhysMem, traps *gate.Table, sp uintptr) *Context {
	c := &Context{mem: mem, phys: phys, traps: traps}
	c.Regs.RSP = uint64(sp)
	return c
}

// ReadCR2 returns the address that caused the last page fault.
func (c *Context) ReadCR2() uint64 {
	return c.cr2
}

// SP returns the stack pointer.
func (c *Context) SP() uintptr {
	return uintptr(c.Regs.RSP)
}

// SetSP updates the stack pointer.
func (c *Context) SetSP(sp uintptr) {
	c.Regs.RSP = uint64(sp)
}

// Load fills buf with the bytes at addr.
func (c *Context) Load(addr uintptr, buf []byte) {
	c.access(addr, buf, false)
}

// Store writes data at addr.
func (c *Context) Store(addr uintptr, data []byte) {
	c.access(addr, data, true)
}

// LoadByte returns the byte at addr.
func (c *Context) LoadByte(addr uintptr) byte {
	var b [1]byte
	c.Load(addr, b[:])
	return b[0]
}

// LoadWord returns the 32-bit little endian word at addr.
func (c *Context) LoadWord(addr uintptr) uint32 {
	var w [mm.WordSize]byte
	c.Load(addr, w[:])
	return binary.LittleEndian.Uint32(w[:])
}

// StoreWord writes the 32-bit little endian word v at addr.
func (c *Context) StoreWord(addr uintptr, v uint32) {
	var w [mm.WordSize]byte
	binary.LittleEndian.PutUint32(w[:], v)
	c.Store(addr, w[:])
}

// Push stores v below the stack pointer and moves the stack pointer down.
func (c *Context) Push(v uint32) {
	c.StoreWord(c.Reserve(mm.WordSize), v)
}

// PushBytes copies data below the stack pointer keeping the stack word
// aligned and returns the address of the copy. The stack pointer moves
// before the store so the whole copy lies above it.
func (c *Context) PushBytes(data []byte) uintptr {
	sp := c.Reserve(uintptr(len(data)))
	c.Store(sp, data)
	return sp
}

// Reserve moves the stack pointer down by size bytes rounded up to a word
// and returns the new stack pointer.
func (c *Context) Reserve(size uintptr) uintptr {
	size = (size + mm.WordSize - 1) &^ (mm.WordSize - 1)
	sp := c.SP() - size
	c.SetSP(sp)
	return sp
}

// Trap raises intNumber with the current register state.
func (c *Context) Trap(intNumber gate.InterruptNumber) {
	if !c.traps.Dispatch(intNumber, &c.Regs) {
		panicFn(errNoTrapHandler)
	}
}

// Syscall pushes args (last one first) and num, traps into the kernel and
// returns the result. The stack pointer is restored before returning.
func (c *Context) Syscall(num uint32, args ...uint32) uint32 {
	sp := c.SP()
	for i := len(args) - 1; i >= 0; i-- {
		c.Push(args[i])
	}
	c.Push(num)

	c.Regs.Info = uint64(gate.SyscallGate)
	c.Trap(gate.SyscallGate)

	c.SetSP(sp)
	return uint32(c.Regs.RAX)
}

// access copies between buf and user memory one page at a time. Accesses
// that the translation table rejects raise a page fault and are retried
// once the handler returns.
func (c *Context) access(addr uintptr, buf []byte, write bool) {
	for len(buf) > 0 {
		off := mm.PageOffset(addr)

		var n int
		err := c.mem.PageDir().Access(mm.PageFromAddress(addr), write, func(f mm.Frame) {
			page := c.phys.Page(f)[off:]
			if write {
				n = copy(page, buf)
			} else {
				n = copy(buf, page)
			}
		})

		if err != nil {
			c.pageFault(addr, write, err == vmm.ErrProtectionViolation)
			continue
		}

		buf = buf[n:]
		addr += uintptr(n)
	}
}

func (c *Context) pageFault(addr uintptr, write, protection bool) {
	c.cr2 = uint64(addr)

	c.Regs.Info = gate.FaultUser
	if write {
		c.Regs.Info |= gate.FaultWrite
	}
	if protection {
		c.Regs.Info |= gate.FaultProtection
	}

	c.Trap(gate.PageFaultException)
}
