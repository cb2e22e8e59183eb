package sched

import "helium/kernel/sync"

// Semaphore is a counting semaphore with FIFO waiters. On a single logical
// CPU a spinlock and a preempt-disable section provide the same mutual
// exclusion; Semaphore uses a sync.Spinlock so the locking discipline stays
// reusable outside this package.
type Semaphore struct {
	lock  sync.Spinlock
	value int32

	waitHead, waitTail *Task
}

// Init sets the semaphore's initial count.
func (s *Semaphore) Init(n int32) {
	s.value = n
	s.waitHead, s.waitTail = nil, nil
}

// Wait decrements the count; if the result goes negative, the calling task
// is enqueued FIFO on the semaphore's waiter list, marked Waiting, and the
// scheduler is invoked to pick something else to run.
func (s *Semaphore) Wait() {
	s.lock.Acquire()

	s.value--
	if s.value < 0 {
		t := Current()
		t.state = Waiting
		t.waitNext = nil
		if s.waitTail != nil {
			s.waitTail.waitNext = t
		} else {
			s.waitHead = t
		}
		s.waitTail = t
		s.lock.Release()

		Yield()
		return
	}

	s.lock.Release()
}

// Signal increments the count; if a task was waiting (the pre-increment
// value was negative), the oldest waiter is popped, marked Running, and
// becomes eligible for the next schedule call again.
func (s *Semaphore) Signal() {
	s.lock.Acquire()

	wasNegative := s.value < 0
	s.value++

	if wasNegative && s.waitHead != nil {
		t := s.waitHead
		s.waitHead = t.waitNext
		if s.waitHead == nil {
			s.waitTail = nil
		}
		t.waitNext = nil
		t.state = Running
	}

	s.lock.Release()
}
