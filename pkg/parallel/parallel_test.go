package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForEachProcessesEveryItem(t *testing.T) {
	t.Parallel()

	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}

	results := make([]int, len(items))
	err := ForEach(context.Background(), 8, items, func(_ context.Context, i, item int) error {
		results[i] = item * 2
		return nil
	})
	require.NoError(t, err)

	for i, item := range items {
		assert.Equal(t, item*2, results[i])
	}
}

func TestForEachFailFast(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	var processed atomic.Int32

	items := make([]int, 1000)
	err := ForEach(context.Background(), 4, items, func(_ context.Context, i, _ int) error {
		if i == 10 {
			return boom
		}
		processed.Add(1)
		return nil
	})

	require.ErrorIs(t, err, boom)
	assert.Less(t, processed.Load(), int32(len(items)), "pool must stop before draining all items")
}

func TestForEachHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ForEach(ctx, 4, []int{1, 2, 3}, func(context.Context, int, int) error {
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestForEachEmptyItems(t *testing.T) {
	t.Parallel()

	err := ForEach(context.Background(), 4, nil, func(context.Context, int, int) error {
		t.Fatal("fn must not be called")
		return nil
	})
	assert.NoError(t, err)
}

func TestForEachNonPositiveWorkerCount(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	err := ForEach(context.Background(), 0, []int{1, 2, 3}, func(context.Context, int, int) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}
