// Package pmm implements the physical memory manager. Physical memory is
// split into a kernel pool and a user pool; frames handed out to user
// processes always come from the user pool.
package pmm

import (
	"io"

	"github.com/stylemate/CS330-project3-1/kernel"
	"github.com/stylemate/CS330-project3-1/kernel/kfmt"
	"github.com/stylemate/CS330-project3-1/kernel/mm"
	"github.com/stylemate/CS330-project3-1/kernel/sync"
)

// Pool selects one of the physical memory pools.
type Pool uint8

const (
	// KernelPool backs kernel data structures such as page directories.
	// Frames from this pool are never subject to eviction.
	KernelPool Pool = iota

	// UserPool backs user process pages.
	UserPool

	poolCount
)

// String implements fmt.Stringer.
func (p Pool) String() string {
	switch p {
	case KernelPool:
		return "kernel"
	case UserPool:
		return "user"
	default:
		return "unknown"
	}
}

type markAs bool

const (
	markReserved markAs = false
	markFree            = true
)

var (
	// ErrOutOfMemory is returned when a pool has no free frames left.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	errInvalidPool    = &kernel.Error{Module: "pmm", Message: "invalid memory pool"}
	errUnknownFrame   = &kernel.Error{Module: "pmm", Message: "frame does not belong to any pool"}
	errFrameNotInUse  = &kernel.Error{Module: "pmm", Message: "attempt to free a frame that is not reserved"}
	errEmptyPoolSizes = &kernel.Error{Module: "pmm", Message: "both memory pools must contain at least one frame"}
)

type framePool struct {
	// startFrame is the frame number for the first page in this pool.
	// each free bitmap entry i corresponds to frame (startFrame + i).
	startFrame mm.Frame

	// endFrame tracks the last frame in the pool.
	endFrame mm.Frame

	// freeCount tracks the available pages in this pool. The allocator
	// can use this field to skip fully allocated pools without the need
	// to scan the free bitmap.
	freeCount uint32

	// freeBitmap tracks used/free pages in the pool.
	freeBitmap []uint64
}

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations across the kernel and user pools using bitmaps. It also owns
// the simulated physical memory backing those frames.
type BitmapAllocator struct {
	lock sync.Spinlock

	// totalPages tracks the total number of pages across all pools.
	totalPages uint32

	// reservedPages tracks the number of reserved pages across all pools.
	reservedPages uint32

	pools [poolCount]framePool

	// ram holds the contents of every physical frame. Frame 0 is never
	// handed out so a zero frame number can never alias a valid page.
	ram []byte
}

// NewBitmapAllocator creates an allocator managing kernelPages frames in the
// kernel pool followed by userPages frames in the user pool.
func NewBitmapAllocator(kernelPages, userPages uint32) (*BitmapAllocator, *kernel.Error) {
	if kernelPages == 0 || userPages == 0 {
		return nil, errEmptyPoolSizes
	}

	alloc := &BitmapAllocator{
		totalPages: kernelPages + userPages,
		ram:        make([]byte, uintptr(kernelPages+userPages+1)<<mm.PageShift),
	}

	alloc.pools[KernelPool] = newFramePool(mm.Frame(1), kernelPages)
	alloc.pools[UserPool] = newFramePool(mm.Frame(1+kernelPages), userPages)
	return alloc, nil
}

func newFramePool(start mm.Frame, pageCount uint32) framePool {
	return framePool{
		startFrame: start,
		endFrame:   start + mm.Frame(pageCount) - 1,
		freeCount:  pageCount,
		// To represent the free page bitmap we need pageCount bits. Since our
		// slice uses uint64 for storing the bitmap we need to round up the
		// required bits so they are a multiple of 64 bits
		freeBitmap: make([]uint64, (pageCount+63)>>6),
	}
}

// markFrame updates the reservation flag for the bitmap entry that
// corresponds to the supplied frame.
func (alloc *BitmapAllocator) markFrame(pool Pool, frame mm.Frame, flag markAs) {
	if pool >= poolCount {
		return
	}

	p := &alloc.pools[pool]
	if frame < p.startFrame || frame > p.endFrame {
		return
	}

	// The offset in the block is given by: frame % 64. As the bitmap uses a
	// big-ending representation we need to set the bit at index: 63 - offset
	relFrame := frame - p.startFrame
	block := relFrame >> 6
	mask := uint64(1 << (63 - (relFrame - block<<6)))
	switch flag {
	case markFree:
		p.freeBitmap[block] &^= mask
		p.freeCount++
		alloc.reservedPages--
	case markReserved:
		p.freeBitmap[block] |= mask
		p.freeCount--
		alloc.reservedPages++
	}
}

// isReserved returns true if frame is flagged as reserved in its pool bitmap.
func (alloc *BitmapAllocator) isReserved(pool Pool, frame mm.Frame) bool {
	p := &alloc.pools[pool]
	relFrame := frame - p.startFrame
	block := relFrame >> 6
	mask := uint64(1 << (63 - (relFrame - block<<6)))
	return p.freeBitmap[block]&mask != 0
}

// poolForFrame returns the pool that contains the specified frame or false if
// the frame is not managed by this allocator.
func (alloc *BitmapAllocator) poolForFrame(frame mm.Frame) (Pool, bool) {
	for pool := Pool(0); pool < poolCount; pool++ {
		if frame >= alloc.pools[pool].startFrame && frame <= alloc.pools[pool].endFrame {
			return pool, true
		}
	}

	return 0, false
}

// AllocFrame reserves and returns a physical memory frame from the requested
// pool. ErrOutOfMemory is returned if the pool is exhausted. The contents of
// the returned frame are undefined.
func (alloc *BitmapAllocator) AllocFrame(pool Pool) (mm.Frame, *kernel.Error) {
	if pool >= poolCount {
		return mm.InvalidFrame, errInvalidPool
	}

	alloc.lock.Acquire()
	defer alloc.lock.Release()

	p := &alloc.pools[pool]
	if p.freeCount == 0 {
		return mm.InvalidFrame, ErrOutOfMemory
	}

	for blockIndex, block := range p.freeBitmap {
		if block == ^uint64(0) {
			continue
		}

		for bitIndex := uint64(0); bitIndex < 64; bitIndex++ {
			if block&(1<<(63-bitIndex)) != 0 {
				continue
			}

			frame := p.startFrame + mm.Frame(uint64(blockIndex)<<6+bitIndex)
			if frame > p.endFrame {
				break
			}

			alloc.markFrame(pool, frame, markReserved)
			return frame, nil
		}
	}

	// freeCount says a frame is available but the bitmap disagrees.
	return mm.InvalidFrame, ErrOutOfMemory
}

// FreeFrame releases a frame previously allocated via a call to AllocFrame.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	pool, ok := alloc.poolForFrame(frame)
	if !ok {
		return errUnknownFrame
	}

	if !alloc.isReserved(pool, frame) {
		return errFrameNotInUse
	}

	alloc.markFrame(pool, frame, markFree)
	return nil
}

// FreeCount returns the number of free frames in the specified pool.
func (alloc *BitmapAllocator) FreeCount(pool Pool) uint32 {
	if pool >= poolCount {
		return 0
	}

	alloc.lock.Acquire()
	defer alloc.lock.Release()
	return alloc.pools[pool].freeCount
}

// PoolSize returns the total number of frames in the specified pool.
func (alloc *BitmapAllocator) PoolSize(pool Pool) uint32 {
	if pool >= poolCount {
		return 0
	}
	return uint32(alloc.pools[pool].endFrame-alloc.pools[pool].startFrame) + 1
}

// Page returns a slice aliasing the contents of a physical frame. Callers
// must own the frame (or have it pinned) while accessing the slice.
func (alloc *BitmapAllocator) Page(frame mm.Frame) []byte {
	start := frame.Address()
	return alloc.ram[start : start+mm.PageSize : start+mm.PageSize]
}

// PrintStats outputs a summary of the pool usage to w.
func (alloc *BitmapAllocator) PrintStats(w io.Writer) {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	for pool := Pool(0); pool < poolCount; pool++ {
		p := &alloc.pools[pool]
		kfmt.Fprintf(w, "%s pool: frames [%d - %d], %d/%d free\n",
			pool, p.startFrame, p.endFrame, p.freeCount, uint32(p.endFrame-p.startFrame)+1,
		)
	}
	kfmt.Fprintf(w, "reserved %d/%d frames\n", alloc.reservedPages, alloc.totalPages)
}
