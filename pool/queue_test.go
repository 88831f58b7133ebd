// File: pool/queue_test.go
// License: Apache-2.0

package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Community-of-Gia-Lai-Team/evio/api"
)

func TestQueueProducerContract(t *testing.T) {
	q := NewTaskQueue(2)
	acc := q.ProducerAccess()
	assert.Equal(t, 0, acc.Length())
	assert.Equal(t, 2, acc.Capacity())
	acc.MoveIn(func() {})
	acc.MoveIn(func() {})
	assert.Equal(t, 2, acc.Length())
	acc.Release()
	q.NotifyOne()

	// Both tasks drain through take.
	for i := 0; i < 2; i++ {
		task, ok := q.take()
		require.True(t, ok)
		require.NotNil(t, task)
	}
}

func TestProducerBlocksUntilConsumerNotifies(t *testing.T) {
	q := NewTaskQueue(1)
	e := NewExecutor(1, q)
	defer e.Close()

	var ran atomic.Int32
	release := make(chan struct{})
	// Occupy the single worker so the queue can fill.
	require.NoError(t, e.Submit(func() { <-release; ran.Add(1) }))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.Submit(func() { ran.Add(1) }); err != nil {
				t.Errorf("Submit: %v", err)
			}
		}()
	}

	// Producers beyond capacity must be blocked right now.
	time.Sleep(20 * time.Millisecond)
	assert.Less(t, int(ran.Load()), 2)

	close(release)
	wg.Wait()

	deadline := time.Now().Add(5 * time.Second)
	for ran.Load() != 5 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of 5 tasks ran", ran.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSubmitAfterClose(t *testing.T) {
	q := NewTaskQueue(4)
	e := NewExecutor(2, q)
	e.Close()
	assert.ErrorIs(t, e.Submit(func() {}), api.ErrQueueClosed)
}

func TestQueuedTasksRunBeforeShutdown(t *testing.T) {
	q := NewTaskQueue(16)
	e := NewExecutor(2, q)
	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, e.Submit(func() { ran.Add(1) }))
	}
	e.Close()
	assert.Equal(t, int32(10), ran.Load())
}

func TestWorkerPanicIsIsolated(t *testing.T) {
	q := NewTaskQueue(4)
	e := NewExecutor(1, q)
	var ran atomic.Int32
	require.NoError(t, e.Submit(func() { panic("decoder bug") }))
	require.NoError(t, e.Submit(func() { ran.Add(1) }))
	e.Close()
	assert.Equal(t, int32(1), ran.Load(), "a panicking task must not take the worker down")
}
