package tracker

import (
	gosync "sync"
	"time"
)

// Timer is a cancellable deferred task.
type Timer interface {
	// Stop prevents the task from running. It returns false if the task
	// already ran or started running; stopping does not interrupt it.
	Stop() bool
}

// Clock arms deferred tasks. The real clock uses time.AfterFunc; tests
// substitute a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// emailLocks is a set of mutexes keyed by email ID. Entries are removed
// when the last holder unlocks.
type emailLocks struct {
	mu    gosync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   gosync.Mutex
	refs int
}

func newEmailLocks() *emailLocks {
	return &emailLocks{locks: make(map[string]*lockEntry)}
}

// lock acquires the mutex for id and returns its release function.
func (l *emailLocks) lock(id string) func() {
	l.mu.Lock()
	e, ok := l.locks[id]
	if !ok {
		e = &lockEntry{}
		l.locks[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
