// Package locker serializes mutations of the same workflow across goroutines and processes.
package locker

import (
	"context"
	"errors"
	"sync"
)

var ErrNotHeld = errors.New("lock not held")

// Unlock releases a lock obtained from Lock.
type Unlock func(ctx context.Context) error

type Locker interface {
	// Lock blocks until key is acquired or ctx is done.
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Memory is an in-process Locker. A key's slot lives only while someone holds or waits for it.
type Memory struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	held chan struct{}
	refs int
}

func NewMemory() *Memory {
	return &Memory{slots: make(map[string]*slot)}
}

func (m *Memory) Lock(ctx context.Context, key string) (Unlock, error) {
	s := m.acquire(key)

	select {
	case s.held <- struct{}{}:
	case <-ctx.Done():
		m.release(key, s)

		return nil, ctx.Err()
	}

	var once sync.Once

	return func(context.Context) error {
		released := false

		once.Do(func() {
			<-s.held
			m.release(key, s)

			released = true
		})

		if !released {
			return ErrNotHeld
		}

		return nil
	}, nil
}

func (m *Memory) acquire(key string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[key]
	if !ok {
		s = &slot{held: make(chan struct{}, 1)}
		m.slots[key] = s
	}

	s.refs++

	return s
}

func (m *Memory) release(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}
