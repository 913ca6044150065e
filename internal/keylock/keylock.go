// Package keylock hands out one exclusive section per key. Callers holding
// different keys never contend; callers on the same key are serialized in
// acquisition order.
package keylock

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTimeout is returned when a key could not be acquired within the
// configured wait. It is safe to retry.
var ErrTimeout = errors.New("keylock: timed out waiting for key")

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Locker is safe for concurrent use. The zero value is not usable; call New.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
	timeout time.Duration

	// observe, when set, receives how long each successful acquisition waited.
	observe func(time.Duration)
}

type Option func(*Locker)

// WithWaitObserver reports the wait time of every successful Lock.
func WithWaitObserver(fn func(time.Duration)) Option {
	return func(l *Locker) { l.observe = fn }
}

// New returns a Locker whose Lock waits at most timeout. A timeout of zero
// waits until the caller's context ends.
func New(timeout time.Duration, opts ...Option) *Locker {
	l := &Locker{
		entries: make(map[string]*entry),
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock acquires the section for key and returns its release func. If ctx ends
// first its error is returned; if the Locker's timeout elapses first
// ErrTimeout is returned. In both cases nothing is held.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := l.ref(key)

	waitCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		l.unref(key)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, ErrTimeout
	}
	if l.observe != nil {
		l.observe(time.Since(start))
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			l.unref(key)
		})
	}, nil
}

// Len reports how many keys currently have holders or waiters.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Locker) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(l.entries, key)
	}
}
