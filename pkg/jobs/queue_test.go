package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesTasks(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	q := NewQueue("test", func(_ context.Context, task Task) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, task.ID)
		return nil
	}, QueueConfig{Workers: 2, BufferSize: 8})
	q.Start()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(Task{ID: id}))
	}
	q.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 3)
}

func TestQueueRetriesFailedTasks(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	q := NewQueue("test", func(_ context.Context, _ Task) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 5, RetryDelay: time.Millisecond})
	q.Start()

	require.NoError(t, q.Enqueue(Task{ID: "flaky"}))
	q.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestQueueEnqueueAfterStop(t *testing.T) {
	q := NewQueue("test", func(context.Context, Task) error { return nil }, QueueConfig{Workers: 1})
	q.Start()
	q.Stop()

	// Must reject, not panic on a closed channel.
	err := q.Enqueue(Task{ID: "late"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped")
}

func TestQueueEnqueueRacingStop(t *testing.T) {
	q := NewQueue("test", func(context.Context, Task) error { return nil }, QueueConfig{Workers: 2, BufferSize: 4})
	q.Start()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Accepted or rejected are both fine; panicking is not.
			_ = q.Enqueue(Task{ID: "racer"})
		}()
	}
	q.Stop()
	wg.Wait()
}

func TestQueueRejectsWhenFull(t *testing.T) {
	picked := make(chan struct{}, 2)
	release := make(chan struct{})
	q := NewQueue("test", func(_ context.Context, _ Task) error {
		picked <- struct{}{}
		<-release
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start()

	require.NoError(t, q.Enqueue(Task{ID: "running"}))
	// Wait for the single worker to pick the first task up, then fill
	// the one-slot buffer.
	<-picked
	require.NoError(t, q.Enqueue(Task{ID: "buffered"}))

	err := q.Enqueue(Task{ID: "overflow"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "full")

	close(release)
	q.Stop()
}
