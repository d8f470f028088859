package syscalls

import (
	"github.com/stylemate/CS330-project3-1/kernel"
	"github.com/stylemate/CS330-project3-1/kernel/fs"
	"github.com/stylemate/CS330-project3-1/kernel/kfmt"
	"github.com/stylemate/CS330-project3-1/kernel/mm"
	"github.com/stylemate/CS330-project3-1/kernel/mm/uvm"
	"github.com/stylemate/CS330-project3-1/kernel/proc"
)

// ioChunk bounds the kernel buffer used to move file data to and from user
// memory. The filesystem lock is never held while user memory is touched
// since faulting a page in may itself need the filesystem.
const ioChunk = int(mm.PageSize)

func sysHalt(d *Dispatcher, _ *proc.Process, _ []uint32) (uint32, *kernel.Error) {
	d.halt()
	return 0, nil
}

func sysExit(d *Dispatcher, p *proc.Process, args []uint32) (uint32, *kernel.Error) {
	d.procs.Exit(p, int32(args[0]))
	return 0, nil
}

// userString reads a path or command line. Over-long strings are reported
// through ok=false instead of an error.
func userString(p *proc.Process, addr uint32) (s string, ok bool, err *kernel.Error) {
	s, err = p.AS.ReadString(uintptr(addr))
	switch err {
	case nil:
		return s, true, nil
	case uvm.ErrStringTooLong:
		return "", false, nil
	default:
		return "", false, err
	}
}

func sysExec(d *Dispatcher, p *proc.Process, args []uint32) (uint32, *kernel.Error) {
	cmdline, ok, err := userString(p, args[0])
	if err != nil || !ok {
		return Failure, err
	}
	return uint32(d.procs.Exec(p, cmdline)), nil
}

func sysWait(d *Dispatcher, p *proc.Process, args []uint32) (uint32, *kernel.Error) {
	return uint32(d.procs.Wait(p, proc.PID(int32(args[0])))), nil
}

func sysCreate(d *Dispatcher, p *proc.Process, args []uint32) (uint32, *kernel.Error) {
	name, ok, err := userString(p, args[0])
	if err != nil || !ok {
		return 0, err
	}

	d.fsLock.Do(func() {
		ok = d.fs.Create(name, int32(args[1]))
	})
	return boolResult(ok), nil
}

func sysRemove(d *Dispatcher, p *proc.Process, args []uint32) (uint32, *kernel.Error) {
	name, ok, err := userString(p, args[0])
	if err != nil || !ok {
		return 0, err
	}

	d.fsLock.Do(func() {
		ok = d.fs.Remove(name)
	})
	return boolResult(ok), nil
}

func sysOpen(d *Dispatcher, p *proc.Process, args []uint32) (uint32, *kernel.Error) {
	name, ok, err := userString(p, args[0])
	if err != nil || !ok {
		return Failure, err
	}

	var f fs.File
	d.fsLock.Do(func() {
		f = d.fs.Open(name)
	})
	if f == nil {
		return Failure, nil
	}
	return uint32(p.Files.Add(f)), nil
}

func sysFilesize(d *Dispatcher, p *proc.Process, args []uint32) (uint32, *kernel.Error) {
	f := p.Files.Get(proc.FD(args[0]))
	if f == nil {
		return Failure, nil
	}

	var size int32
	d.fsLock.Do(func() {
		size = f.Length()
	})
	return uint32(size), nil
}

func sysRead(d *Dispatcher, p *proc.Process, args []uint32) (uint32, *kernel.Error) {
	fd, buf, size := proc.FD(args[0]), uintptr(args[1]), int(args[2])

	if err := p.AS.ValidateBuffer(buf, uintptr(size), true); err != nil {
		return 0, err
	}

	if fd == proc.StdinFD {
		return d.readInput(p, buf, size)
	}

	f := p.Files.Get(fd)
	if f == nil {
		return Failure, nil
	}

	chunk := make([]byte, minInt(size, ioChunk))
	var total int
	for total < size {
		want := minInt(size-total, ioChunk)

		var n int32
		d.fsLock.Do(func() {
			n = f.Read(chunk[:want])
		})

		if err := p.AS.CopyOut(buf+uintptr(total), chunk[:n]); err != nil {
			return 0, err
		}

		total += int(n)
		if int(n) < want {
			break
		}
	}
	return uint32(total), nil
}

// readInput fills buf with bytes from the input device. It stops early only
// when the device runs out of input.
func (d *Dispatcher) readInput(p *proc.Process, buf uintptr, size int) (uint32, *kernel.Error) {
	if d.input == nil {
		return 0, nil
	}

	chunk := make([]byte, 0, minInt(size, ioChunk))

	var total int
	for total < size {
		b, ok := d.input.Getc()
		if !ok {
			break
		}
		chunk = append(chunk, b)

		if len(chunk) == cap(chunk) || total+len(chunk) == size {
			if err := p.AS.CopyOut(buf+uintptr(total), chunk); err != nil {
				return 0, err
			}
			total += len(chunk)
			chunk = chunk[:0]
		}
	}

	if len(chunk) > 0 {
		if err := p.AS.CopyOut(buf+uintptr(total), chunk); err != nil {
			return 0, err
		}
		total += len(chunk)
	}
	return uint32(total), nil
}

func sysWrite(d *Dispatcher, p *proc.Process, args []uint32) (uint32, *kernel.Error) {
	fd, buf, size := proc.FD(args[0]), uintptr(args[1]), int(args[2])

	if err := p.AS.ValidateBuffer(buf, uintptr(size), false); err != nil {
		return 0, err
	}

	if fd == proc.StdoutFD {
		// The console receives the whole buffer in one piece.
		data := make([]byte, size)
		if err := p.AS.CopyIn(data, buf); err != nil {
			return 0, err
		}
		n, werr := d.console.Write(data)
		if werr != nil {
			kfmt.Fprintf(logWriter, "%s: console write failed: %s\n", p.Name, werr.Error())
		}
		return uint32(n), nil
	}

	f := p.Files.Get(fd)
	if f == nil {
		return Failure, nil
	}

	chunk := make([]byte, minInt(size, ioChunk))
	var total int
	for total < size {
		want := minInt(size-total, ioChunk)
		if err := p.AS.CopyIn(chunk[:want], buf+uintptr(total)); err != nil {
			return 0, err
		}

		var n int32
		d.fsLock.Do(func() {
			n = f.Write(chunk[:want])
		})

		total += int(n)
		if int(n) < want {
			break
		}
	}
	return uint32(total), nil
}

func sysSeek(d *Dispatcher, p *proc.Process, args []uint32) (uint32, *kernel.Error) {
	if f := p.Files.Get(proc.FD(args[0])); f != nil {
		d.fsLock.Do(func() {
			f.Seek(int32(args[1]))
		})
	}
	return 0, nil
}

func sysTell(d *Dispatcher, p *proc.Process, args []uint32) (uint32, *kernel.Error) {
	f := p.Files.Get(proc.FD(args[0]))
	if f == nil {
		return Failure, nil
	}

	var pos int32
	d.fsLock.Do(func() {
		pos = f.Tell()
	})
	return uint32(pos), nil
}

func sysClose(d *Dispatcher, p *proc.Process, args []uint32) (uint32, *kernel.Error) {
	if f := p.Files.Remove(proc.FD(args[0])); f != nil {
		d.fsLock.Do(f.Close)
	}
	return 0, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
