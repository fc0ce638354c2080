package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDeliversTypedPayload(t *testing.T) {
	done := make(chan Job[string], 1)
	handler := func(ctx context.Context, job Job[string]) error {
		done <- job
		return nil
	}

	q := NewQueue[string]("test", handler, QueueConfig{Workers: 1})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job[string]{ID: "j1", Kind: "greeting", Payload: "hello"}))

	select {
	case job := <-done:
		assert.Equal(t, "hello", job.Payload)
		assert.Equal(t, "greeting", job.Kind)
		assert.False(t, job.Enqueued.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("job was not delivered")
	}
}

func TestQueueRetriesFailedJob(t *testing.T) {
	var calls int32
	done := make(chan Job[string], 1)
	handler := func(ctx context.Context, job Job[string]) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return errors.New("transient failure")
		}
		done <- job
		return nil
	}

	q := NewQueue[string]("test", handler, QueueConfig{Workers: 1, RetryDelay: 5 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job[string]{ID: "j1", Kind: "retry", Payload: "p"}))

	select {
	case job := <-done:
		assert.Equal(t, 1, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not retried")
	}
}

func TestQueueEnqueueRequiresStart(t *testing.T) {
	q := NewQueue[string]("test", func(context.Context, Job[string]) error { return nil }, QueueConfig{})

	err := q.Enqueue(Job[string]{ID: "j1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not started")
}

func TestQueueEnqueueRejectsWhenFull(t *testing.T) {
	picked := make(chan struct{}, 4)
	release := make(chan struct{})
	handler := func(ctx context.Context, job Job[string]) error {
		picked <- struct{}{}
		<-release
		return nil
	}

	q := NewQueue[string]("test", handler, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job[string]{ID: "j1"}))
	<-picked
	require.NoError(t, q.Enqueue(Job[string]{ID: "j2"}))

	err := q.Enqueue(Job[string]{ID: "j3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buffer full")

	close(release)
	q.Stop()
}
