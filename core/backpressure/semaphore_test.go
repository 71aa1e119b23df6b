package backpressure_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gifton/pipelinekit/core/backpressure"
	"github.com/gifton/pipelinekit/core/errs"
)

func TestSemaphore_BasicAcquireRelease(t *testing.T) {
	sem := backpressure.New(backpressure.Config{MaxConcurrency: 2, Strategy: backpressure.Suspend})

	tok1, err := sem.Acquire(context.Background(), 1)
	require.NoError(t, err)
	tok2, err := sem.Acquire(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, int64(2), sem.Stats().Active)
	tok1.Release()
	tok2.Release()
	assert.Equal(t, int64(0), sem.Stats().Active)
}

func TestSemaphore_DropNewest_FailsImmediately(t *testing.T) {
	sem := backpressure.New(backpressure.Config{MaxConcurrency: 1, Strategy: backpressure.DropNewest})

	tok, err := sem.Acquire(context.Background(), 1)
	require.NoError(t, err)
	defer tok.Release()

	_, err = sem.Acquire(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindBackPressureOverflow))
}

func TestSemaphore_ErrorStrategy_RefusesOverCapacity(t *testing.T) {
	sem := backpressure.New(backpressure.Config{MaxConcurrency: 1, Strategy: backpressure.ErrorStrategy})
	tok, err := sem.Acquire(context.Background(), 1)
	require.NoError(t, err)
	defer tok.Release()

	_, err = sem.Acquire(context.Background(), 1)
	require.Error(t, err)
}

func TestSemaphore_Suspend_FIFOOrder(t *testing.T) {
	sem := backpressure.New(backpressure.Config{MaxConcurrency: 1, Strategy: backpressure.Suspend})

	tok, err := sem.Acquire(context.Background(), 1)
	require.NoError(t, err)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := range 3 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(i) * 5 * time.Millisecond)
			t2, err := sem.Acquire(context.Background(), 1)
			if err != nil {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			t2.Release()
		}(i)
		time.Sleep(2 * time.Millisecond) // stagger enqueue order
	}

	time.Sleep(20 * time.Millisecond)
	tok.Release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestSemaphore_CancelledWaiterDoesNotConsumeSlot(t *testing.T) {
	sem := backpressure.New(backpressure.Config{MaxConcurrency: 1, Strategy: backpressure.Suspend})
	tok, err := sem.Acquire(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sem.Acquire(ctx, 1)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindCancelled))

	tok.Release()
	assert.Equal(t, int64(0), sem.Stats().Active)
}

func TestSemaphore_Boundary_MaxOutstandingOne_DropNewest(t *testing.T) {
	sem := backpressure.New(backpressure.Config{
		MaxConcurrency: 1,
		MaxOutstanding: 1,
		Strategy:       backpressure.DropNewest,
	})
	tok, err := sem.Acquire(context.Background(), 1)
	require.NoError(t, err)
	defer tok.Release()

	_, err = sem.Acquire(context.Background(), 1)
	require.Error(t, err)
}
