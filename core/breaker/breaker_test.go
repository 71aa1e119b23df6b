package breaker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gifton/pipelinekit/core/breaker"
)

func TestBreaker_HalfOpenProbeScenario(t *testing.T) {
	b := breaker.New(breaker.Config{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		OpenTimeout:      100 * time.Millisecond,
	})

	require.True(t, b.Allow())
	b.RecordFailure()
	require.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, breaker.Open, b.State())

	time.Sleep(99 * time.Millisecond)
	assert.False(t, b.Allow())

	time.Sleep(5 * time.Millisecond)
	assert.True(t, b.Allow()) // the probe
	assert.False(t, b.Allow()) // no second concurrent probe
	assert.Equal(t, breaker.HalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, breaker.HalfOpen, b.State())

	assert.True(t, b.Allow()) // second probe
	b.RecordSuccess()
	assert.Equal(t, breaker.Closed, b.State())

	assert.True(t, b.Allow())
	assert.True(t, b.Allow())
}

func TestBreaker_ProbeFailureReturnsToOpen(t *testing.T) {
	b := breaker.New(breaker.Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      20 * time.Millisecond,
	})

	b.RecordFailure()
	assert.Equal(t, breaker.Open, b.State())

	time.Sleep(25 * time.Millisecond)
	require.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, breaker.Open, b.State())
}

func TestBreaker_ClosedResetTimeout(t *testing.T) {
	b := breaker.New(breaker.Config{
		FailureThreshold:   3,
		SuccessThreshold:   1,
		OpenTimeout:        time.Second,
		ClosedResetTimeout: 10 * time.Millisecond,
	})

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, breaker.Closed, b.State())

	time.Sleep(15 * time.Millisecond)
	b.Allow() // triggers the reset check
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, breaker.Closed, b.State(), "consecutive failure count should have reset")
}
