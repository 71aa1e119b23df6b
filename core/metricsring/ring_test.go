package metricsring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gifton/pipelinekit/core/metricsring"
)

func TestRing_AverageAndPercentile(t *testing.T) {
	r := metricsring.New(10)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		r.Append(v)
	}

	assert.Equal(t, 5, r.Count())
	assert.InDelta(t, 3.0, r.Average(), 0.0001)
	assert.InDelta(t, 3.0, r.Percentile(0.5), 0.0001)
	assert.InDelta(t, 1.0, r.Percentile(0), 0.0001)
	assert.InDelta(t, 5.0, r.Percentile(1), 0.0001)
}

func TestRing_EvictsOldestAtCapacity(t *testing.T) {
	r := metricsring.New(3)
	r.Append(1)
	r.Append(2)
	r.Append(3)
	r.Append(4) // evicts 1

	assert.Equal(t, 3, r.Count())
	assert.InDelta(t, 3.0, r.Average(), 0.0001) // (2+3+4)/3
}

func TestRing_Filter(t *testing.T) {
	r := metricsring.New(5)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		r.Append(v)
	}
	evens := r.Filter(func(v float64) bool { return int(v)%2 == 0 })
	assert.ElementsMatch(t, []float64{2, 4}, evens)
}
