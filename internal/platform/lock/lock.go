// Package lock serialises critical sections by key. Booking code holds a lock
// on a vet's calendar day while it checks availability and writes the result.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Locker runs fn while holding the lock for key. Implementations wait for the
// lock until ctx is done or their own wait budget runs out.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Local is an in-process keyed mutex. It only serialises callers that share
// the same Local, so it suits single-instance deployments and tests.
type Local struct {
	mu   sync.Mutex
	keys map[string]*localKey
}

type localKey struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{keys: make(map[string]*localKey)}
}

func (l *Local) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	k := l.ref(key)
	defer l.unref(key)

	select {
	case k.ch <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
	}
	defer func() { <-k.ch }()

	return fn(ctx)
}

func (l *Local) ref(key string) *localKey {
	l.mu.Lock()
	defer l.mu.Unlock()
	k, ok := l.keys[key]
	if !ok {
		k = &localKey{ch: make(chan struct{}, 1)}
		l.keys[key] = k
	}
	k.refs++
	return k
}

func (l *Local) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := l.keys[key]
	k.refs--
	if k.refs == 0 {
		delete(l.keys, key)
	}
}

// held reports the number of keys currently tracked. Used by tests.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
