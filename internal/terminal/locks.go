package terminal

import "sync"

// Locks serializes sessions per device id. Two operations must never share
// one physical terminal concurrently; this is a hardware constraint.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*sync.Mutex)}
}

// Acquire blocks until the device is free and returns the release func.
func (l *Locks) Acquire(deviceID string) (release func()) {
	l.mu.Lock()
	m, ok := l.locks[deviceID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[deviceID] = m
	}
	l.mu.Unlock()

	m.Lock()

	return m.Unlock
}
