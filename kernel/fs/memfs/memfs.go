// Package memfs implements an in-memory filesystem with fixed size files.
package memfs

import (
	"github.com/stylemate/CS330-project3-1/kernel/fs"
	"github.com/stylemate/CS330-project3-1/kernel/sync"
)

// NameMax is the maximum length of a file name.
const NameMax = 14

// inode holds the contents of a file. It outlives its directory entry while
// handles are open.
type inode struct {
	lock sync.Spinlock

	data      []byte
	denyCount int
}

// FS is a flat, in-memory filesystem.
type FS struct {
	lock  sync.Spinlock
	files map[string]*inode
}

// New returns an empty filesystem.
func New() *FS {
	return &FS{files: make(map[string]*inode)}
}

func validName(name string) bool {
	return name != "" && len(name) <= NameMax
}

// Create makes a zero-filled file of the given size.
func (m *FS) Create(name string, size int32) bool {
	if !validName(name) || size < 0 {
		return false
	}

	m.lock.Acquire()
	defer m.lock.Release()

	if _, exists := m.files[name]; exists {
		return false
	}
	m.files[name] = &inode{data: make([]byte, size)}
	return true
}

// Add creates a file holding a copy of data.
func (m *FS) Add(name string, data []byte) bool {
	if !m.Create(name, int32(len(data))) {
		return false
	}

	m.lock.Acquire()
	copy(m.files[name].data, data)
	m.lock.Release()
	return true
}

// Remove unlinks the named file.
func (m *FS) Remove(name string) bool {
	m.lock.Acquire()
	defer m.lock.Release()

	if _, exists := m.files[name]; !exists {
		return false
	}
	delete(m.files, name)
	return true
}

// Open returns a handle positioned at the start of the named file.
func (m *FS) Open(name string) fs.File {
	m.lock.Acquire()
	defer m.lock.Release()

	node, exists := m.files[name]
	if !exists {
		return nil
	}
	return &handle{node: node}
}

// Reopen returns a new handle for the file behind f.
func (m *FS) Reopen(f fs.File) fs.File {
	h, ok := f.(*handle)
	if !ok || h.node == nil {
		return nil
	}
	return &handle{node: h.node}
}

// Names returns the names of every file.
func (m *FS) Names() []string {
	m.lock.Acquire()
	defer m.lock.Release()

	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	return names
}

// handle is an open file.
type handle struct {
	node   *inode
	pos    int32
	denied bool
}

func (h *handle) Length() int32 {
	h.node.lock.Acquire()
	defer h.node.lock.Release()
	return int32(len(h.node.data))
}

func (h *handle) Read(buf []byte) int32 {
	n := h.ReadAt(buf, h.pos)
	h.pos += n
	return n
}

func (h *handle) ReadAt(buf []byte, off int32) int32 {
	h.node.lock.Acquire()
	defer h.node.lock.Release()

	if off < 0 || int(off) >= len(h.node.data) {
		return 0
	}
	return int32(copy(buf, h.node.data[off:]))
}

func (h *handle) Write(buf []byte) int32 {
	n := h.WriteAt(buf, h.pos)
	h.pos += n
	return n
}

func (h *handle) WriteAt(buf []byte, off int32) int32 {
	h.node.lock.Acquire()
	defer h.node.lock.Release()

	if h.node.denyCount > 0 || off < 0 || int(off) >= len(h.node.data) {
		return 0
	}
	return int32(copy(h.node.data[off:], buf))
}

func (h *handle) Seek(pos int32) {
	if pos < 0 {
		pos = 0
	}
	h.pos = pos
}

func (h *handle) Tell() int32 {
	return h.pos
}

func (h *handle) DenyWrite() {
	if h.denied {
		return
	}

	h.node.lock.Acquire()
	h.node.denyCount++
	h.node.lock.Release()
	h.denied = true
}

func (h *handle) AllowWrite() {
	if !h.denied {
		return
	}

	h.node.lock.Acquire()
	h.node.denyCount--
	h.node.lock.Release()
	h.denied = false
}

func (h *handle) Close() {
	h.AllowWrite()
}
