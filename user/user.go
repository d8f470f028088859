// Package user contains the library linked into user programs: system call
// stubs and helpers moving strings and buffers through the user stack.
package user

import (
	"github.com/stylemate/CS330-project3-1/kernel/cpu"
	"github.com/stylemate/CS330-project3-1/kernel/mm"
	"github.com/stylemate/CS330-project3-1/kernel/syscalls"
)

// Standard descriptors.
const (
	Stdin  = 0
	Stdout = 1
)

// PID identifies a process in the user API. Failed execs return -1.
type PID int32

// Halt powers the machine off.
func Halt(ctx *cpu.Context) {
	ctx.Syscall(syscalls.SysHalt)
}

// Exit terminates the calling program. It does not return.
func Exit(ctx *cpu.Context, status int32) {
	ctx.Syscall(syscalls.SysExit, uint32(status))
}

// Exec runs cmdline as a child program and returns its pid.
func Exec(ctx *cpu.Context, cmdline string) PID {
	return PID(withString(ctx, cmdline, func(addr uint32) uint32 {
		return ctx.Syscall(syscalls.SysExec, addr)
	}))
}

// Wait waits for child pid to exit and returns its status.
func Wait(ctx *cpu.Context, pid PID) int32 {
	return int32(ctx.Syscall(syscalls.SysWait, uint32(pid)))
}

// Create makes a new file of initialSize bytes.
func Create(ctx *cpu.Context, name string, initialSize uint32) bool {
	return withString(ctx, name, func(addr uint32) uint32 {
		return ctx.Syscall(syscalls.SysCreate, addr, initialSize)
	}) != 0
}

// Remove deletes a file.
func Remove(ctx *cpu.Context, name string) bool {
	return withString(ctx, name, func(addr uint32) uint32 {
		return ctx.Syscall(syscalls.SysRemove, addr)
	}) != 0
}

// Open opens a file and returns its descriptor or -1.
func Open(ctx *cpu.Context, name string) int32 {
	return int32(withString(ctx, name, func(addr uint32) uint32 {
		return ctx.Syscall(syscalls.SysOpen, addr)
	}))
}

// Filesize returns the size of the file open as fd.
func Filesize(ctx *cpu.Context, fd int32) int32 {
	return int32(ctx.Syscall(syscalls.SysFilesize, uint32(fd)))
}

// Read reads up to size bytes from fd into the user buffer at buf.
func Read(ctx *cpu.Context, fd int32, buf uintptr, size uint32) int32 {
	return int32(ctx.Syscall(syscalls.SysRead, uint32(fd), uint32(buf), size))
}

// Write writes size bytes from the user buffer at buf to fd.
func Write(ctx *cpu.Context, fd int32, buf uintptr, size uint32) int32 {
	return int32(ctx.Syscall(syscalls.SysWrite, uint32(fd), uint32(buf), size))
}

// Seek moves the position of fd.
func Seek(ctx *cpu.Context, fd int32, pos uint32) {
	ctx.Syscall(syscalls.SysSeek, uint32(fd), pos)
}

// Tell returns the position of fd.
func Tell(ctx *cpu.Context, fd int32) uint32 {
	return ctx.Syscall(syscalls.SysTell, uint32(fd))
}

// Close closes fd.
func Close(ctx *cpu.Context, fd int32) {
	ctx.Syscall(syscalls.SysClose, uint32(fd))
}

// withString places a NUL terminated copy of s on the stack for the
// duration of fn.
func withString(ctx *cpu.Context, s string, fn func(addr uint32) uint32) uint32 {
	sp := ctx.SP()
	defer ctx.SetSP(sp)

	addr := ctx.PushBytes(append([]byte(s), 0))
	return fn(uint32(addr))
}

// Puts writes s to the console.
func Puts(ctx *cpu.Context, s string) int32 {
	return WriteBytes(ctx, Stdout, []byte(s))
}

// WriteBytes copies data to the stack and writes it to fd.
func WriteBytes(ctx *cpu.Context, fd int32, data []byte) int32 {
	sp := ctx.SP()
	defer ctx.SetSP(sp)

	addr := ctx.PushBytes(data)
	return Write(ctx, fd, addr, uint32(len(data)))
}

// ReadBytes reads up to size bytes from fd through a stack buffer.
func ReadBytes(ctx *cpu.Context, fd int32, size uint32) ([]byte, int32) {
	sp := ctx.SP()
	defer ctx.SetSP(sp)

	addr := ctx.Reserve(uintptr(size))
	n := Read(ctx, fd, addr, size)
	if n <= 0 {
		return nil, n
	}

	data := make([]byte, n)
	ctx.Load(addr, data)
	return data, n
}

// LoadString returns the NUL terminated string at addr.
func LoadString(ctx *cpu.Context, addr uintptr) string {
	var s []byte
	for {
		b := ctx.LoadByte(addr)
		if b == 0 {
			return string(s)
		}
		s = append(s, b)
		addr++
	}
}

// Args decodes the argument vector the loader placed on the stack. It must
// be called on entry, while the stack pointer still points at the return
// address.
func Args(ctx *cpu.Context) []string {
	sp := ctx.SP()
	argc := ctx.LoadWord(sp + mm.WordSize)
	argv := uintptr(ctx.LoadWord(sp + 2*mm.WordSize))

	args := make([]string, argc)
	for i := range args {
		args[i] = LoadString(ctx, uintptr(ctx.LoadWord(argv+uintptr(i)*mm.WordSize)))
	}
	return args
}
