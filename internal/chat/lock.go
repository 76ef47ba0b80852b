package chat

import (
	"context"
	"sync"
)

// Locker serializes turns per session id. Two concurrent turns on the same
// session would otherwise read the same history window and race on the
// append; holding the lock from history read to commit keeps message order
// equal to completion order.
type Locker interface {
	Acquire(ctx context.Context, sessionID string) (release func(), err error)
}

// KeyedMutex is the in-process Locker, used in tests and single-instance
// deployments. Multi-instance deployments use the Redis locker instead.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *KeyedMutex) Acquire(ctx context.Context, sessionID string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.mu.Lock()
	l, ok := k.locks[sessionID]
	if !ok {
		l = &keyedLock{}
		k.locks[sessionID] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	release := func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, sessionID)
		}
		k.mu.Unlock()
	}
	return release, nil
}
