// Package proc implements user processes: descriptor tables, parent/child
// bookkeeping and the spawn, wait and exit lifecycle.
package proc

import (
	"github.com/stylemate/CS330-project3-1/kernel/cpu"
	"github.com/stylemate/CS330-project3-1/kernel/fs"
	"github.com/stylemate/CS330-project3-1/kernel/mm/uvm"
	"github.com/stylemate/CS330-project3-1/kernel/sync"
)

// PID identifies a process.
type PID int32

const (
	// InvalidPID is returned when a process cannot be created.
	InvalidPID PID = -1

	// InitPID is the pid of the kernel's initial process.
	InitPID PID = 1

	// nameMax is the maximum length of a process name.
	nameMax = 15
)

// Process is a user program together with the resources it holds.
type Process struct {
	ID   PID
	Name string

	AS    *uvm.AddressSpace
	CPU   *cpu.Context
	Files *FileTable

	// parent is the pid of the process that spawned this one and record
	// is the entry describing this process in the parent's children. The
	// record is owned by the parent.
	parent PID
	record *ChildRecord

	lock       sync.Spinlock
	children   map[PID]*ChildRecord
	executable fs.File
	exited     bool
}

func newProcess(pid, parent PID, name string, record *ChildRecord) *Process {
	if len(name) > nameMax {
		name = name[:nameMax]
	}

	return &Process{
		ID:       pid,
		Name:     name,
		Files:    NewFileTable(),
		parent:   parent,
		record:   record,
		children: make(map[PID]*ChildRecord),
	}
}

// Parent returns the pid of the parent process.
func (p *Process) Parent() PID {
	return p.parent
}

// SetExecutable keeps f open for the lifetime of the process and denies
// writes to it. The caller must hold the filesystem lock.
func (p *Process) SetExecutable(f fs.File) {
	f.DenyWrite()

	p.lock.Acquire()
	p.executable = f
	p.lock.Release()
}

// Child returns the record of the direct child pid or nil.
func (p *Process) Child(pid PID) *ChildRecord {
	p.lock.Acquire()
	defer p.lock.Release()
	return p.children[pid]
}

// ChildCount returns the number of child records held by the process.
func (p *Process) ChildCount() int {
	p.lock.Acquire()
	defer p.lock.Release()
	return len(p.children)
}

func (p *Process) addChild(rec *ChildRecord) {
	p.lock.Acquire()
	p.children[rec.PID] = rec
	p.lock.Release()
}

func (p *Process) removeChild(pid PID) {
	p.lock.Acquire()
	delete(p.children, pid)
	p.lock.Release()
}

// markExited returns true the first time it is called.
func (p *Process) markExited() bool {
	p.lock.Acquire()
	defer p.lock.Release()

	if p.exited {
		return false
	}
	p.exited = true
	return true
}

// release drops the child records and returns the executable handle.
func (p *Process) release() fs.File {
	p.lock.Acquire()
	defer p.lock.Release()

	exe := p.executable
	p.executable = nil
	p.children = make(map[PID]*ChildRecord)
	return exe
}
