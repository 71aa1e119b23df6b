package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gifton/pipelinekit/core/errs"
	"github.com/gifton/pipelinekit/core/retry"
)

var errBoom = errors.New("boom")

func TestPolicy_MaxAttemptsOne_NeverSleepsNeverRetries(t *testing.T) {
	p := retry.Policy{MaxAttempts: 1, Strategy: retry.None}
	calls := 0

	start := time.Now()
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errBoom
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, elapsed, 10*time.Millisecond)
	assert.True(t, errs.Is(err, errs.KindRetryExhausted))
}

func TestPolicy_RetriesUntilSuccess(t *testing.T) {
	p := retry.Policy{MaxAttempts: 5, Strategy: retry.Fixed, Base: time.Millisecond}
	calls := 0

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPolicy_BudgetExhausted(t *testing.T) {
	p := retry.Policy{
		MaxAttempts:    10,
		Strategy:       retry.Fixed,
		Base:           50 * time.Millisecond,
		MaxTotalBudget: 10 * time.Millisecond,
	}

	err := p.Do(context.Background(), func(context.Context) error {
		return errBoom
	})

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindRetryBudgetExhausted))
}

func TestPolicy_CancellationDuringSleep(t *testing.T) {
	p := retry.Policy{MaxAttempts: 5, Strategy: retry.Fixed, Base: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Do(ctx, func(context.Context) error {
		return errBoom
	})

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindCancelled))
}

func TestPolicy_NonRetryableErrorStopsImmediately(t *testing.T) {
	p := retry.Policy{
		MaxAttempts: 5,
		Strategy:    retry.Fixed,
		Base:        time.Millisecond,
		ShouldRetry: func(err error) bool { return false },
	}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errBoom
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, errBoom, err)
}
