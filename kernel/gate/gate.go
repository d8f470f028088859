// Package gate describes trap frames and routes traps to their handlers.
package gate

import (
	"io"

	"github.com/stylemate/CS330-project3-1/kernel/kfmt"
	"github.com/stylemate/CS330-project3-1/kernel/sync"
)

// Registers contains a snapshot of all register values when an exception,
// interrupt or syscall occurs.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64

	// Info contains the exception code for exceptions or the trap
	// number for syscall entries.
	Info uint64

	// The return frame
	RIP    uint64
	RFlags uint64
	RSP    uint64
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	kfmt.Fprintf(w, "RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	kfmt.Fprintf(w, "RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	kfmt.Fprintf(w, "RBP = %16x\n", r.RBP)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "RIP = %16x RSP = %16x\n", r.RIP, r.RSP)
	kfmt.Fprintf(w, "RFL = %16x\n", r.RFlags)
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory table (PDT) or one
	// of its entries is not present or when a privilege and/or RW
	// protection check fails.
	PageFaultException = InterruptNumber(14)

	// SyscallGate is the software interrupt user programs raise to enter
	// the kernel.
	SyscallGate = InterruptNumber(0x30)
)

// Page fault error code bits stored in Registers.Info.
const (
	// FaultProtection is set when the fault was caused by a protection
	// violation on a present page and clear for non-present pages.
	FaultProtection uint64 = 1 << iota

	// FaultWrite is set for write accesses.
	FaultWrite

	// FaultUser is set when the access was performed in user mode.
	FaultUser
)

// Handler processes a trap. Handlers for faults that cannot be resolved do
// not return.
type Handler func(*Registers)

// Table routes traps to their handlers.
type Table struct {
	lock     sync.Spinlock
	handlers [256]Handler
}

// HandleInterrupt ensures that handler will be invoked when intNumber is
// raised. A nil handler removes any installed one.
func (t *Table) HandleInterrupt(intNumber InterruptNumber, handler Handler) {
	t.lock.Acquire()
	t.handlers[intNumber] = handler
	t.lock.Release()
}

// Dispatch invokes the handler installed for intNumber. It returns false if
// no handler is installed.
func (t *Table) Dispatch(intNumber InterruptNumber, regs *Registers) bool {
	t.lock.Acquire()
	handler := t.handlers[intNumber]
	t.lock.Release()

	if handler == nil {
		return false
	}
	handler(regs)
	return true
}
