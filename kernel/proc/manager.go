package proc

import (
	"io"
	"runtime"
	"strings"

	"github.com/stylemate/CS330-project3-1/kernel"
	"github.com/stylemate/CS330-project3-1/kernel/cpu"
	"github.com/stylemate/CS330-project3-1/kernel/fs"
	"github.com/stylemate/CS330-project3-1/kernel/gate"
	"github.com/stylemate/CS330-project3-1/kernel/kfmt"
	"github.com/stylemate/CS330-project3-1/kernel/mm"
	"github.com/stylemate/CS330-project3-1/kernel/mm/uvm"
	"github.com/stylemate/CS330-project3-1/kernel/sync"
)

var (
	// exitThreadFn stops the calling thread once its process is torn down.
	exitThreadFn = runtime.Goexit

	logWriter io.Writer = kfmt.NewPrefixWriter("proc")
)

// Entry is the user mode code of a loaded program.
type Entry func(ctx *cpu.Context)

// Loader prepares the address space of p for cmdline and returns the code to
// run. It is invoked on the new process's own thread.
type Loader interface {
	Load(p *Process, cmdline string) (Entry, *kernel.Error)
}

// Config holds the services processes are built from.
type Config struct {
	Loader Loader

	// Memory is used to create the address space of every process.
	Memory uvm.Config

	// Traps routes the traps raised by user code.
	Traps *gate.Table

	// Console receives the exit messages of terminating processes.
	Console io.Writer
}

// Manager creates and reaps processes.
type Manager struct {
	cfg Config

	lock    sync.Spinlock
	nextPID PID
	procs   map[PID]*Process
	byRegs  map[*gate.Registers]*Process

	init *Process
}

// NewManager returns a manager with a running init process.
func NewManager(cfg Config) *Manager {
	if cfg.Console == nil {
		cfg.Console = kfmt.GetOutputSink()
	}
	if cfg.Memory.FSLock == nil {
		cfg.Memory.FSLock = new(fs.Lock)
	}

	m := &Manager{
		cfg:     cfg,
		nextPID: InitPID + 1,
		procs:   make(map[PID]*Process),
		byRegs:  make(map[*gate.Registers]*Process),
	}

	m.init = newProcess(InitPID, InvalidPID, "main", nil)
	m.procs[InitPID] = m.init
	return m
}

// Init returns the initial process. It has no address space and acts as
// the parent of the first user program.
func (m *Manager) Init() *Process {
	return m.init
}

// FSLock returns the lock serializing filesystem access.
func (m *Manager) FSLock() *fs.Lock {
	return m.cfg.Memory.FSLock
}

// Console returns the console writer.
func (m *Manager) Console() io.Writer {
	return m.cfg.Console
}

// Lookup returns the live process pid or nil.
func (m *Manager) Lookup(pid PID) *Process {
	m.lock.Acquire()
	defer m.lock.Release()
	return m.procs[pid]
}

// IsAlive returns true if pid names a process that has not terminated.
func (m *Manager) IsAlive(pid PID) bool {
	return m.Lookup(pid) != nil
}

// ProcessFor returns the process whose trap frame is regs.
func (m *Manager) ProcessFor(regs *gate.Registers) *Process {
	m.lock.Acquire()
	defer m.lock.Release()
	return m.byRegs[regs]
}

// Count returns the number of live processes including init.
func (m *Manager) Count() int {
	m.lock.Acquire()
	defer m.lock.Release()
	return len(m.procs)
}

// Exec starts the program described by cmdline as a child of parent and
// waits for it to load. It returns the child pid or InvalidPID if the
// program could not be loaded, in which case no record of the child is
// kept.
func (m *Manager) Exec(parent *Process, cmdline string) PID {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return InvalidPID
	}

	m.lock.Acquire()
	pid := m.nextPID
	m.nextPID++
	rec := newChildRecord(pid)
	child := newProcess(pid, parent.ID, fields[0], rec)
	m.procs[pid] = child
	m.lock.Release()

	parent.addChild(rec)
	go m.run(child, rec, cmdline)

	if rec.waitLoaded() != LoadSuccess {
		parent.removeChild(pid)
		return InvalidPID
	}
	return pid
}

// run is the body of a process thread.
func (m *Manager) run(p *Process, rec *ChildRecord, cmdline string) {
	entry, err := m.load(p, cmdline)
	if err != nil {
		kfmt.Fprintf(logWriter, "load %q failed: %s\n", p.Name, err.Message)
		// The exit message is printed before the parent learns about
		// the failure.
		m.Terminate(p, KilledStatus)
		rec.setLoadStatus(LoadFailure)
		exitThreadFn()
		return
	}

	rec.setLoadStatus(LoadSuccess)
	entry(p.CPU)

	// Programs leave through the exit system call.
	m.Exit(p, KilledStatus)
}

func (m *Manager) load(p *Process, cmdline string) (Entry, *kernel.Error) {
	as, err := uvm.New(m.cfg.Memory)
	if err != nil {
		return nil, err
	}

	p.AS = as
	p.CPU = cpu.NewContext(as, m.cfg.Memory.Phys, m.cfg.Traps, mm.PhysBase)

	m.lock.Acquire()
	m.byRegs[&p.CPU.Regs] = p
	m.lock.Release()

	return m.cfg.Loader.Load(p, cmdline)
}

// Wait blocks until the direct child pid of parent terminates and returns
// its exit status. It returns KilledStatus immediately if pid is not a child
// of parent or has already been waited for.
func (m *Manager) Wait(parent *Process, pid PID) int32 {
	rec := parent.Child(pid)
	if rec == nil {
		return KilledStatus
	}

	status := rec.waitTerminated()
	parent.removeChild(pid)
	return status
}

// Exit terminates p with status and stops the calling thread. It must be
// called from p's own thread.
func (m *Manager) Exit(p *Process, status int32) {
	m.Terminate(p, status)
	exitThreadFn()
}

// Terminate publishes the exit status of p, reports it on the console and
// releases every resource held by p. Only the first call has an effect.
func (m *Manager) Terminate(p *Process, status int32) {
	if !p.markExited() {
		return
	}

	if p.record != nil && m.IsAlive(p.parent) {
		p.record.setExitStatus(status)
	}

	kfmt.Fprintf(m.cfg.Console, "%s: exit(%d)\n", p.Name, status)

	fsLock := m.FSLock()
	p.Files.CloseAll(fsLock)
	if exe := p.release(); exe != nil {
		fsLock.Do(exe.Close)
	}

	if p.AS != nil {
		p.AS.Destroy()
	}

	m.lock.Acquire()
	delete(m.procs, p.ID)
	if p.CPU != nil {
		delete(m.byRegs, &p.CPU.Regs)
	}
	m.lock.Release()

	if p.record != nil {
		p.record.terminated.Up()
	}
}
