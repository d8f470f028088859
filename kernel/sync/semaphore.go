package sync

import gosync "sync"

// Semaphore is a counting semaphore. Tasks calling Down sleep until the
// value becomes positive; each Up wakes at most one sleeper. Signals raised
// before anyone waits are not lost.
type Semaphore struct {
	mu    gosync.Mutex
	cond  *gosync.Cond
	value uint32
}

// NewSemaphore returns a semaphore initialized to value.
func NewSemaphore(value uint32) *Semaphore {
	s := &Semaphore{value: value}
	s.cond = gosync.NewCond(&s.mu)
	return s
}

// Down waits for the value to become positive and then decrements it.
func (s *Semaphore) Down() {
	s.mu.Lock()
	for s.value == 0 {
		s.cond.Wait()
	}
	s.value--
	s.mu.Unlock()
}

// TryDown decrements the value if it is positive without sleeping. It
// returns true if the value was decremented.
func (s *Semaphore) TryDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.value == 0 {
		return false
	}
	s.value--
	return true
}

// Up increments the value and wakes up one sleeping task, if any.
func (s *Semaphore) Up() {
	s.mu.Lock()
	s.value++
	s.mu.Unlock()
	s.cond.Signal()
}

// Value returns the current semaphore value.
func (s *Semaphore) Value() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}
