package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
)

func TestPutGetRoundTrip(t *testing.T) {
	q := queue.New[int](4)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, 1))
	require.NoError(t, q.Put(ctx, 2))
	v, ok, err := q.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestPutNoWaitFullReturnsErrQueueFull(t *testing.T) {
	q := queue.New[int](1)
	require.NoError(t, q.PutNoWait(1))
	err := q.PutNoWait(2)
	assert.ErrorIs(t, err, queue.ErrQueueFull)
}

func TestGetNoWaitEmptyReturnsErrQueueEmpty(t *testing.T) {
	q := queue.New[int](1)
	_, err := q.GetNoWait()
	assert.ErrorIs(t, err, queue.ErrQueueEmpty)
}

func TestPutAfterCloseFails(t *testing.T) {
	q := queue.New[int](1)
	q.Close()
	err := q.Put(context.Background(), 1)
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
	err = q.PutNoWait(1)
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	q := queue.New[int](1)
	q.Close()
	assert.NotPanics(t, func() { q.Close() })
	assert.True(t, q.IsClosed())
}

func TestGetDrainsRemainingItemsAfterClose(t *testing.T) {
	q := queue.New[int](4)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, 1))
	require.NoError(t, q.Put(ctx, 2))
	q.Close()

	v, ok, err := q.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok, err = q.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok, err = q.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetBlocksUntilPutThenSentinel(t *testing.T) {
	q := queue.New[string](0)
	ctx := context.Background()
	done := make(chan struct{})
	var got []string

	go func() {
		defer close(done)
		for {
			v, ok, err := q.Get(ctx)
			if err != nil || !ok {
				return
			}
			got = append(got, v)
		}
	}()

	for i := 0; i < 7; i++ {
		require.NoError(t, q.Put(ctx, "chunk"))
	}
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drainer did not observe close in time")
	}
	assert.Len(t, got, 7)
}

func TestIsEmptyIsFull(t *testing.T) {
	q := queue.New[int](1)
	assert.True(t, q.IsEmpty())
	assert.False(t, q.IsFull())
	require.NoError(t, q.PutNoWait(1))
	assert.False(t, q.IsEmpty())
	assert.True(t, q.IsFull())
}
