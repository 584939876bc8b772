package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocksServeWaitersInArrivalOrder(t *testing.T) {
	locks := NewLocks()
	ctx := context.Background()

	unlock, err := locks.Lock(ctx, "k")
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, locks.WithLock(ctx, "k", func() error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			}))
		}(i)
		// Wait until waiter i is queued before starting the next one.
		require.Eventually(t, func() bool { return queueLen(locks, "k") == i+2 }, time.Second, time.Millisecond)
	}

	unlock()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 0, queueLen(locks, "k"))
}

func TestLocksDifferentKeysDoNotContend(t *testing.T) {
	locks := NewLocks()
	ctx := context.Background()

	unlockA, err := locks.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := locks.Lock(ctx, "b")
		if err == nil {
			unlockB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}

func TestLocksCanceledWaiterLeavesQueue(t *testing.T) {
	locks := NewLocks()

	unlock, err := locks.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := locks.Lock(ctx, "k")
		errs <- err
	}()
	require.Eventually(t, func() bool { return queueLen(locks, "k") == 2 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)
	assert.Equal(t, 1, queueLen(locks, "k"))

	unlock()
	unlock() // second call is a no-op

	again, err := locks.Lock(context.Background(), "k")
	require.NoError(t, err)
	again()
}

func TestLocksSerializeCriticalSections(t *testing.T) {
	locks := NewLocks()
	ctx := context.Background()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locks.WithLock(ctx, "counter", func() error {
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func queueLen(l *Locks, key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues[key])
}
