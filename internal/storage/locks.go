package storage

import (
	"context"
	"sync"
)

// Locks hands out exclusive access per key. Waiters on the same key are
// served in arrival order. A holder must not lock its own key again.
type Locks struct {
	mu     sync.Mutex
	queues map[string][]chan struct{}
}

func NewLocks() *Locks {
	return &Locks{queues: make(map[string][]chan struct{})}
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the key and must be called exactly once.
func (l *Locks) Lock(ctx context.Context, key string) (func(), error) {
	ticket := make(chan struct{})

	l.mu.Lock()
	queue := l.queues[key]
	l.queues[key] = append(queue, ticket)
	if len(queue) == 0 {
		close(ticket)
	}
	l.mu.Unlock()

	select {
	case <-ticket:
		return l.releaser(key), nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	queue = l.queues[key]
	if len(queue) > 0 && queue[0] == ticket {
		// Granted while we were giving up; pass it on.
		l.advance(key)
		return nil, ctx.Err()
	}
	for i, waiting := range queue {
		if waiting == ticket {
			l.queues[key] = append(queue[:i:i], queue[i+1:]...)
			break
		}
	}
	return nil, ctx.Err()
}

// WithLock runs fn while holding key.
func (l *Locks) WithLock(ctx context.Context, key string, fn func() error) error {
	unlock, err := l.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func (l *Locks) releaser(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.advance(key)
			l.mu.Unlock()
		})
	}
}

// advance drops the current holder and wakes the next waiter. Caller holds mu.
func (l *Locks) advance(key string) {
	queue := l.queues[key][1:]
	if len(queue) == 0 {
		delete(l.queues, key)
		return
	}
	l.queues[key] = queue
	close(queue[0])
}
