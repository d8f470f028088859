package proc

import "github.com/stylemate/CS330-project3-1/kernel/sync"

// LoadStatus reports the outcome of loading a child executable.
type LoadStatus int32

const (
	// LoadPending is the status of a child that is still loading.
	LoadPending LoadStatus = iota

	// LoadSuccess is the status of a child that started running.
	LoadSuccess

	// LoadFailure is the status of a child whose executable could not be
	// loaded.
	LoadFailure
)

// String implements fmt.Stringer for LoadStatus.
func (s LoadStatus) String() string {
	switch s {
	case LoadSuccess:
		return "success"
	case LoadFailure:
		return "failure"
	default:
		return "pending"
	}
}

// KilledStatus is the exit status of a process that did not exit on its own.
const KilledStatus = -1

// ChildRecord is the parent's view of a spawned child. The load and exit
// statuses change at most once each.
type ChildRecord struct {
	PID PID

	lock       sync.Spinlock
	loadStatus LoadStatus
	exitStatus int32
	exited     bool

	loaded     *sync.Semaphore
	terminated *sync.Semaphore
}

func newChildRecord(pid PID) *ChildRecord {
	return &ChildRecord{
		PID:        pid,
		exitStatus: KilledStatus,
		loaded:     sync.NewSemaphore(0),
		terminated: sync.NewSemaphore(0),
	}
}

// setLoadStatus records the load outcome and wakes the parent. It returns
// false if the outcome was already recorded.
func (r *ChildRecord) setLoadStatus(status LoadStatus) bool {
	r.lock.Acquire()
	if r.loadStatus != LoadPending || status == LoadPending {
		r.lock.Release()
		return false
	}
	r.loadStatus = status
	r.lock.Release()

	r.loaded.Up()
	return true
}

// setExitStatus records the exit status. It returns false if a status was
// already recorded.
func (r *ChildRecord) setExitStatus(status int32) bool {
	r.lock.Acquire()
	defer r.lock.Release()

	if r.exited {
		return false
	}
	r.exitStatus, r.exited = status, true
	return true
}

// LoadStatus returns the load outcome.
func (r *ChildRecord) LoadStatus() LoadStatus {
	r.lock.Acquire()
	defer r.lock.Release()
	return r.loadStatus
}

// ExitStatus returns the recorded exit status or KilledStatus.
func (r *ChildRecord) ExitStatus() int32 {
	r.lock.Acquire()
	defer r.lock.Release()
	return r.exitStatus
}

// waitLoaded blocks until the load outcome is known.
func (r *ChildRecord) waitLoaded() LoadStatus {
	r.loaded.Down()
	// Leave the signal raised for any later waiter.
	r.loaded.Up()
	return r.LoadStatus()
}

// waitTerminated blocks until the child has terminated.
func (r *ChildRecord) waitTerminated() int32 {
	r.terminated.Down()
	r.terminated.Up()
	return r.ExitStatus()
}
