// Package fs defines the filesystem contract consumed by the kernel and the
// lock that serializes every filesystem operation.
package fs

import "github.com/stylemate/CS330-project3-1/kernel/sync"

// File is an open file handle. Every handle has its own position; offsets
// and sizes use 32-bit signed integers like the on-disk format.
type File interface {
	// Length returns the file size in bytes.
	Length() int32

	// Read reads up to len(buf) bytes at the current position and
	// advances it. It returns the number of bytes read, 0 at end of file.
	Read(buf []byte) int32

	// ReadAt reads up to len(buf) bytes starting at off without moving
	// the position.
	ReadAt(buf []byte, off int32) int32

	// Write writes buf at the current position and advances it. Files do
	// not grow so the returned count may be short.
	Write(buf []byte) int32

	// WriteAt writes buf starting at off without moving the position.
	WriteAt(buf []byte, off int32) int32

	// Seek sets the position. Positions past the end of file are allowed.
	Seek(pos int32)

	// Tell returns the current position.
	Tell() int32

	// DenyWrite prevents writes to the underlying file until AllowWrite
	// is called or the handle is closed.
	DenyWrite()

	// AllowWrite re-enables writes denied through this handle.
	AllowWrite()

	// Close releases the handle.
	Close()
}

// FileSystem is implemented by filesystems that can be mounted as the root
// filesystem.
type FileSystem interface {
	// Create makes a new file of the given size. It returns false if the
	// name is invalid or already in use.
	Create(name string, size int32) bool

	// Remove unlinks a file. Open handles keep working until closed.
	Remove(name string) bool

	// Open returns a new handle for the named file or nil.
	Open(name string) File

	// Reopen returns a new independent handle for the same file as f.
	Reopen(f File) File
}

// Lock serializes filesystem operations system-wide.
type Lock struct {
	l sync.Spinlock
}

// Do runs fn while holding the lock.
func (l *Lock) Do(fn func()) {
	l.l.Acquire()
	defer l.l.Release()
	fn()
}
