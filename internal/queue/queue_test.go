package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFIFO(t *testing.T) {
	q := New[int]()
	for i := 0; i < 100; i++ {
		require.True(t, q.Push(i))
	}
	require.Equal(t, 100, q.Len())
	for i := 0; i < 100; i++ {
		v, err := q.Pop(context.Background())
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
}

func TestPopWaitsForPush(t *testing.T) {
	q := New[string]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push("late")
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := q.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, "late", v)
}

func TestCloseDrainsThenFails(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Close()
	require.False(t, q.Push(2))

	v, err := q.Pop(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, v)

	_, err = q.Pop(context.Background())
	require.True(t, errors.Is(err, ErrClosed))
}

func TestPopHonoursContext(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Pop(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}
