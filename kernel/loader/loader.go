// Package loader installs and loads the executable images of user programs.
// Program code is registered by entry symbol; the pages of an image are
// declared lazily and populated from the executable file on first access.
package loader

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/stylemate/CS330-project3-1/kernel"
	"github.com/stylemate/CS330-project3-1/kernel/cpu"
	"github.com/stylemate/CS330-project3-1/kernel/fs"
	"github.com/stylemate/CS330-project3-1/kernel/kfmt"
	"github.com/stylemate/CS330-project3-1/kernel/mm"
	"github.com/stylemate/CS330-project3-1/kernel/proc"
	"github.com/stylemate/CS330-project3-1/kernel/sync"
	"github.com/stylemate/CS330-project3-1/user"
)

var (
	// ErrNotFound is returned when the executable cannot be opened.
	ErrNotFound = &kernel.Error{Module: "loader", Message: "executable not found"}

	errUnknownEntry = &kernel.Error{Module: "loader", Message: "unknown entry symbol"}
	errArgsTooLong  = &kernel.Error{Module: "loader", Message: "arguments do not fit in the stack page"}

	logWriter io.Writer = kfmt.NewPrefixWriter("loader")
)

// Main is the body of a user program. Its return value becomes the exit
// status of the process.
type Main func(ctx *cpu.Context, args []string) int32

// Program describes a user program.
type Program struct {
	// Name is both the file name of the image and its entry symbol.
	Name string
	Main Main

	// Data is the initialized contents of the data segment, which is
	// followed by BSS zero bytes. The segment starts at DataBase.
	Data []byte
	BSS  uint32
}

// Loader implements proc.Loader.
type Loader struct {
	fs     fs.FileSystem
	fsLock *fs.Lock

	lock    sync.Spinlock
	symbols map[string]Main
}

// New returns a loader that reads executables from fsys.
func New(fsys fs.FileSystem, fsLock *fs.Lock) *Loader {
	return &Loader{
		fs:      fsys,
		fsLock:  fsLock,
		symbols: make(map[string]Main),
	}
}

// Register makes the code of prog available to images naming it as their
// entry symbol.
func (l *Loader) Register(prog Program) {
	l.lock.Acquire()
	l.symbols[prog.Name] = prog.Main
	l.lock.Release()
}

// Install registers prog and writes its image to the filesystem. Existing
// files are left untouched and false is returned.
func (l *Loader) Install(prog Program) bool {
	l.Register(prog)

	img := Build(prog)
	var ok bool
	l.fsLock.Do(func() {
		if ok = l.fs.Create(prog.Name, int32(len(img))); !ok {
			return
		}

		f := l.fs.Open(prog.Name)
		defer f.Close()
		ok = f.Write(img) == int32(len(img))
	})

	if !ok {
		kfmt.Fprintf(logWriter, "cannot install %q\n", prog.Name)
	}
	return ok
}

func (l *Loader) lookup(symbol string) Main {
	l.lock.Acquire()
	defer l.lock.Release()
	return l.symbols[symbol]
}

// Load opens the executable named by the first word of cmdline, declares its
// segments and the initial stack page in p's address space and places the
// arguments on the stack. The executable stays open, with writes denied,
// until p exits.
func (l *Loader) Load(p *proc.Process, cmdline string) (proc.Entry, *kernel.Error) {
	args := strings.Fields(cmdline)
	if len(args) == 0 {
		return nil, ErrNotFound
	}

	var (
		file fs.File
		img  *image
		err  *kernel.Error
	)
	l.fsLock.Do(func() {
		file = l.fs.Open(args[0])
		if file == nil {
			err = ErrNotFound
			return
		}
		p.SetExecutable(file)

		page := make([]byte, mm.PageSize)
		n := file.ReadAt(page, 0)
		img, err = parseImage(page[:n], uint32(file.Length()))
	})
	if err != nil {
		return nil, err
	}

	body := l.lookup(img.entry)
	if body == nil {
		return nil, errUnknownEntry
	}

	for i := range img.segments {
		seg := &img.segments[i]
		offset, upage, readBytes, zeroBytes := seg.pages()
		if err = p.AS.DeclareSegment(file, offset, upage, readBytes, zeroBytes, seg.writable()); err != nil {
			return nil, err
		}
	}

	top, err := p.AS.DeclareStack()
	if err != nil {
		return nil, err
	}

	sp, frame, err := argFrame(top, args)
	if err != nil {
		return nil, err
	}
	if err = p.AS.CopyOut(sp, frame); err != nil {
		return nil, err
	}
	p.CPU.SetSP(sp)
	p.AS.SetUserSP(sp)

	return func(ctx *cpu.Context) {
		user.Exit(ctx, body(ctx, user.Args(ctx)))
	}, nil
}

// argFrame lays out the initial stack below top: the argument strings, the
// NULL terminated argv array, argv, argc and a null return address. It
// returns the stack pointer and the bytes to copy there.
func argFrame(top uintptr, args []string) (uintptr, []byte, *kernel.Error) {
	var strSize uintptr
	for _, arg := range args {
		strSize += uintptr(len(arg)) + 1
	}
	padded := (strSize + mm.WordSize - 1) &^ (mm.WordSize - 1)

	words := uintptr(3 + len(args) + 1)
	size := padded + words*mm.WordSize
	if size > mm.PageSize {
		return 0, nil, errArgsTooLong
	}

	sp := top - size
	frame := make([]byte, size)
	put := func(off uintptr, v uint32) {
		binary.LittleEndian.PutUint32(frame[off:], v)
	}

	argv := sp + 3*mm.WordSize
	put(mm.WordSize, uint32(len(args)))
	put(2*mm.WordSize, uint32(argv))

	strAddr := top - strSize
	for i, arg := range args {
		put(argv-sp+uintptr(i)*mm.WordSize, uint32(strAddr))
		copy(frame[strAddr-sp:], arg)
		strAddr += uintptr(len(arg)) + 1
	}
	return sp, frame, nil
}
