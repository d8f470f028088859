// Package syscalls decodes system calls raised by user programs and carries
// them out on behalf of the calling process.
package syscalls

import (
	"io"

	"github.com/stylemate/CS330-project3-1/device/input"
	"github.com/stylemate/CS330-project3-1/kernel"
	"github.com/stylemate/CS330-project3-1/kernel/fs"
	"github.com/stylemate/CS330-project3-1/kernel/gate"
	"github.com/stylemate/CS330-project3-1/kernel/kfmt"
	"github.com/stylemate/CS330-project3-1/kernel/mm"
	"github.com/stylemate/CS330-project3-1/kernel/proc"
)

// System call numbers.
const (
	SysHalt uint32 = iota
	SysExit
	SysExec
	SysWait
	SysCreate
	SysRemove
	SysOpen
	SysFilesize
	SysRead
	SysWrite
	SysSeek
	SysTell
	SysClose
)

// Failure is the value returned to user programs by calls that fail.
const Failure = ^uint32(0)

var logWriter io.Writer = kfmt.NewPrefixWriter("syscall")

// handlerFn carries out a system call. A non-nil error terminates the
// calling process.
type handlerFn func(d *Dispatcher, p *proc.Process, args []uint32) (uint32, *kernel.Error)

type syscall struct {
	name string
	argc int
	fn   handlerFn
}

var syscallTable = [...]syscall{
	SysHalt:     {"halt", 0, sysHalt},
	SysExit:     {"exit", 1, sysExit},
	SysExec:     {"exec", 1, sysExec},
	SysWait:     {"wait", 1, sysWait},
	SysCreate:   {"create", 2, sysCreate},
	SysRemove:   {"remove", 1, sysRemove},
	SysOpen:     {"open", 1, sysOpen},
	SysFilesize: {"filesize", 1, sysFilesize},
	SysRead:     {"read", 3, sysRead},
	SysWrite:    {"write", 3, sysWrite},
	SysSeek:     {"seek", 2, sysSeek},
	SysTell:     {"tell", 1, sysTell},
	SysClose:    {"close", 1, sysClose},
}

// Config holds the services system calls operate on.
type Config struct {
	Procs *proc.Manager
	FS    fs.FileSystem
	Input input.Device

	// Halt powers the machine off. It is not expected to return.
	Halt func()
}

// Dispatcher is the handler of the system call trap.
type Dispatcher struct {
	procs   *proc.Manager
	fs      fs.FileSystem
	fsLock  *fs.Lock
	input   input.Device
	console io.Writer
	halt    func()
}

// New returns a dispatcher.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		procs:   cfg.Procs,
		fs:      cfg.FS,
		fsLock:  cfg.Procs.FSLock(),
		input:   cfg.Input,
		console: cfg.Procs.Console(),
		halt:    cfg.Halt,
	}
}

// Name returns the name of system call num or an empty string.
func Name(num uint32) string {
	if num >= uint32(len(syscallTable)) {
		return ""
	}
	return syscallTable[num].name
}

// Handle services the system call described by the user stack of the
// process owning regs. The stack pointer points at the call number and the
// arguments follow it one word each. Every word is validated before it is
// read; any invalid access terminates the process with status -1.
func (d *Dispatcher) Handle(regs *gate.Registers) {
	p := d.procs.ProcessFor(regs)
	if p == nil {
		kfmt.Fprintf(logWriter, "system call from unknown context\n")
		regs.RAX = uint64(Failure)
		return
	}

	sp := uintptr(regs.RSP)
	p.AS.SetUserSP(sp)

	if err := p.AS.ValidatePointer(sp); err != nil {
		d.kill(p, err)
		return
	}

	num, err := p.AS.ReadWord(sp)
	if err != nil {
		d.kill(p, err)
		return
	}

	if num >= uint32(len(syscallTable)) {
		kfmt.Fprintf(logWriter, "%s: unknown system call %d\n", p.Name, num)
		d.procs.Exit(p, proc.KilledStatus)
		return
	}

	call := syscallTable[num]
	args := make([]uint32, call.argc)
	for i := range args {
		if args[i], err = p.AS.ReadWord(sp + uintptr(i+1)*mm.WordSize); err != nil {
			d.kill(p, err)
			return
		}
	}

	result, err := call.fn(d, p, args)
	if err != nil {
		d.kill(p, err)
		return
	}
	regs.RAX = uint64(result)
}

// kill terminates p after a failed access to its memory.
func (d *Dispatcher) kill(p *proc.Process, err *kernel.Error) {
	kfmt.Fprintf(logWriter, "%s: %s\n", p.Name, err.Message)
	d.procs.Exit(p, proc.KilledStatus)
}

func boolResult(ok bool) uint32 {
	if ok {
		return 1
	}
	return 0
}
