package proc

import (
	"github.com/stylemate/CS330-project3-1/kernel/fs"
	"github.com/stylemate/CS330-project3-1/kernel/sync"
)

// FD is a per process file descriptor.
type FD int32

const (
	// StdinFD reads from the input device.
	StdinFD FD = 0

	// StdoutFD writes to the console.
	StdoutFD FD = 1

	// firstFileFD is the first descriptor handed out for files.
	firstFileFD FD = 2
)

// FileTable maps descriptors to open files. Descriptors increase
// monotonically and are never reused within the lifetime of the table.
type FileTable struct {
	lock  sync.Spinlock
	next  FD
	files map[FD]fs.File
}

// NewFileTable returns an empty table.
func NewFileTable() *FileTable {
	return &FileTable{next: firstFileFD, files: make(map[FD]fs.File)}
}

// Add registers f and returns its descriptor.
func (t *FileTable) Add(f fs.File) FD {
	t.lock.Acquire()
	defer t.lock.Release()

	fd := t.next
	t.next++
	t.files[fd] = f
	return fd
}

// Get returns the file for fd or nil.
func (t *FileTable) Get(fd FD) fs.File {
	t.lock.Acquire()
	defer t.lock.Release()
	return t.files[fd]
}

// Remove unregisters fd and returns its file or nil if fd is unknown.
func (t *FileTable) Remove(fd FD) fs.File {
	t.lock.Acquire()
	defer t.lock.Release()

	f, ok := t.files[fd]
	if !ok {
		return nil
	}
	delete(t.files, fd)
	return f
}

// Len returns the number of open descriptors.
func (t *FileTable) Len() int {
	t.lock.Acquire()
	defer t.lock.Release()
	return len(t.files)
}

// CloseAll closes every open file while holding fsLock.
func (t *FileTable) CloseAll(fsLock *fs.Lock) {
	t.lock.Acquire()
	files := t.files
	t.files = make(map[FD]fs.File)
	t.lock.Release()

	if len(files) == 0 {
		return
	}

	fsLock.Do(func() {
		for _, f := range files {
			f.Close()
		}
	})
}
