// Package kmain assembles the kernel from its subsystems and boots it.
package kmain

import (
	"io"
	"os"
	"path/filepath"

	"github.com/stylemate/CS330-project3-1/device/block"
	"github.com/stylemate/CS330-project3-1/device/input"
	"github.com/stylemate/CS330-project3-1/kernel"
	"github.com/stylemate/CS330-project3-1/kernel/cmdline"
	"github.com/stylemate/CS330-project3-1/kernel/fs"
	"github.com/stylemate/CS330-project3-1/kernel/fs/memfs"
	"github.com/stylemate/CS330-project3-1/kernel/gate"
	"github.com/stylemate/CS330-project3-1/kernel/hal"
	"github.com/stylemate/CS330-project3-1/kernel/kfmt"
	"github.com/stylemate/CS330-project3-1/kernel/loader"
	"github.com/stylemate/CS330-project3-1/kernel/mm"
	"github.com/stylemate/CS330-project3-1/kernel/mm/frame"
	"github.com/stylemate/CS330-project3-1/kernel/mm/pmm"
	"github.com/stylemate/CS330-project3-1/kernel/mm/swap"
	"github.com/stylemate/CS330-project3-1/kernel/mm/uvm"
	"github.com/stylemate/CS330-project3-1/kernel/proc"
	"github.com/stylemate/CS330-project3-1/kernel/syscalls"
	"github.com/stylemate/CS330-project3-1/user/progs"
)

// Defaults for the boot command line keys.
const (
	DefaultKernelFrames = 16
	DefaultUserFrames   = 64
)

var (
	errUnknownTrapSource = &kernel.Error{Module: "kmain", Message: "trap raised outside of a user process"}

	// haltFn powers the machine off.
	haltFn = func() { os.Exit(0) }

	// panicFn is invoked for traps that no process can be blamed for.
	panicFn = kfmt.Panic

	// readDirFn and readFileFn access the host directory imported at boot.
	readDirFn  = os.ReadDir
	readFileFn = os.ReadFile

	logWriter io.Writer = kfmt.NewPrefixWriter("kmain")
)

// Config holds the tunables read from the boot command line.
type Config struct {
	KernelFrames uint32
	UserFrames   uint32
	MaxStack     uint32

	// FSDir is a host directory whose regular files are copied into the
	// root filesystem at boot.
	FSDir string
}

// ConfigFrom extracts the kernel configuration from args.
func ConfigFrom(args *cmdline.Args) Config {
	return Config{
		KernelFrames: args.Uint("kframes", DefaultKernelFrames),
		UserFrames:   args.Uint("frames", DefaultUserFrames),
		MaxStack:     args.Uint("stack", uint32(uvm.DefaultMaxStack)),
		FSDir:        args.String("fsdir", ""),
	}
}

// Devices are the drivers the kernel runs on.
type Devices struct {
	Console  io.Writer
	Input    input.Device
	SwapDisk block.Device
}

// Kernel ties the memory, filesystem and process subsystems together.
type Kernel struct {
	Phys     *pmm.BitmapAllocator
	Frames   *frame.Table
	Swap     *swap.Space
	FS       *memfs.FS
	Loader   *loader.Loader
	Procs    *proc.Manager
	Syscalls *syscalls.Dispatcher

	traps *gate.Table
}

// New builds a kernel and installs the sample programs into its root
// filesystem.
func New(cfg Config, dev Devices) (*Kernel, *kernel.Error) {
	phys, err := pmm.NewBitmapAllocator(cfg.KernelFrames, cfg.UserFrames)
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		Phys:  phys,
		Swap:  swap.New(dev.SwapDisk),
		FS:    memfs.New(),
		traps: new(gate.Table),
	}
	k.Frames = frame.New(phys, k.Swap)

	fsLock := new(fs.Lock)
	k.Loader = loader.New(k.FS, fsLock)
	k.Procs = proc.NewManager(proc.Config{
		Loader: k.Loader,
		Memory: uvm.Config{
			Phys:     phys,
			Frames:   k.Frames,
			Swap:     k.Swap,
			FSLock:   fsLock,
			MaxStack: uintptr(cfg.MaxStack),
		},
		Traps:   k.traps,
		Console: dev.Console,
	})
	k.Syscalls = syscalls.New(syscalls.Config{
		Procs: k.Procs,
		FS:    k.FS,
		Input: dev.Input,
		Halt:  k.Halt,
	})

	k.traps.HandleInterrupt(gate.PageFaultException, k.pageFaultHandler)
	k.traps.HandleInterrupt(gate.GPFException, k.generalProtectionFaultHandler)
	k.traps.HandleInterrupt(gate.SyscallGate, k.Syscalls.Handle)

	if cfg.FSDir != "" {
		k.ImportDir(cfg.FSDir)
	}
	for _, prog := range progs.All {
		k.Loader.Install(prog)
	}
	return k, nil
}

// ImportDir copies the regular files of a host directory into the root
// filesystem. Files whose name does not fit the filesystem are skipped.
func (k *Kernel) ImportDir(dir string) int {
	entries, err := readDirFn(dir)
	if err != nil {
		kfmt.Fprintf(logWriter, "cannot read %s: %s\n", dir, err.Error())
		return 0
	}

	var count int
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		data, err := readFileFn(filepath.Join(dir, entry.Name()))
		if err != nil || !k.FS.Add(entry.Name(), data) {
			kfmt.Fprintf(logWriter, "skipping %s\n", entry.Name())
			continue
		}
		count++
	}

	kfmt.Fprintf(logWriter, "imported %d files from %s\n", count, dir)
	return count
}

// Run executes cmd as a child of the initial process and waits for it.
// It returns the exit status of the program or -1 if it could not be
// started.
func (k *Kernel) Run(cmd string) int32 {
	kfmt.Fprintf(logWriter, "executing '%s'\n", cmd)

	initProc := k.Procs.Init()
	pid := k.Procs.Exec(initProc, cmd)
	if pid == proc.InvalidPID {
		kfmt.Fprintf(logWriter, "cannot execute '%s'\n", cmd)
		return proc.KilledStatus
	}

	status := k.Procs.Wait(initProc, pid)
	kfmt.Fprintf(logWriter, "execution of '%s' complete\n", cmd)
	return status
}

// PrintStats reports memory usage.
func (k *Kernel) PrintStats(w io.Writer) {
	k.Phys.PrintStats(w)
	k.Frames.PrintStats(w)
	k.Swap.PrintStats(w)
}

// Halt prints the memory statistics and powers off.
func (k *Kernel) Halt() {
	k.PrintStats(logWriter)
	kfmt.Fprintf(logWriter, "powering off\n")
	haltFn()
}

// pageFaultHandler resolves page faults raised by user code. Faults that
// cannot be resolved terminate the faulting process.
func (k *Kernel) pageFaultHandler(regs *gate.Registers) {
	p := k.Procs.ProcessFor(regs)
	if p == nil {
		nonRecoverableFault(regs, errUnknownTrapSource)
		return
	}

	var (
		faultAddress = uintptr(p.CPU.ReadCR2())
		write        = regs.Info&gate.FaultWrite != 0
	)

	err := p.AS.HandleFault(faultAddress, uintptr(regs.RSP), write)
	if err == nil {
		return
	}

	kfmt.Fprintf(logWriter, "%s: page fault while accessing address: 0x%8x\nReason: ", p.Name, faultAddress)
	switch {
	case !mm.IsUserAddress(faultAddress):
		kfmt.Fprintf(logWriter, "access outside of user space")
	case regs.Info&gate.FaultProtection != 0:
		kfmt.Fprintf(logWriter, "write to read-only page")
	default:
		kfmt.Fprintf(logWriter, "%s", err.Message)
	}
	kfmt.Fprintf(logWriter, "\nRegisters:\n")
	regs.DumpTo(logWriter)

	k.Procs.Exit(p, proc.KilledStatus)
}

// generalProtectionFaultHandler terminates the faulting process.
func (k *Kernel) generalProtectionFaultHandler(regs *gate.Registers) {
	p := k.Procs.ProcessFor(regs)
	if p == nil {
		nonRecoverableFault(regs, errUnknownTrapSource)
		return
	}

	kfmt.Fprintf(logWriter, "%s: general protection fault\nRegisters:\n", p.Name)
	regs.DumpTo(logWriter)
	k.Procs.Exit(p, proc.KilledStatus)
}

func nonRecoverableFault(regs *gate.Registers, err *kernel.Error) {
	kfmt.Fprintf(logWriter, "Registers:\n")
	regs.DumpTo(logWriter)
	panicFn(err)
}

// Kmain boots the kernel with the given command line tokens, runs the
// initial program named after the "--" separator and powers off.
func Kmain(argv []string) {
	args := cmdline.Parse(argv)
	cmdline.SetBootCmdLine(args)

	hal.DetectHardware()

	var console io.Writer
	if cons := hal.ActiveConsole(); cons != nil {
		console = cons
	}

	k, err := New(ConfigFrom(args), Devices{
		Console:  console,
		Input:    hal.ActiveInput(),
		SwapDisk: hal.SwapDisk(),
	})
	if err != nil {
		panicFn(err)
		return
	}

	if cmd := args.CommandLine(); cmd != "" {
		k.Run(cmd)
	}
	k.Halt()
}
