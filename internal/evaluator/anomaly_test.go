package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateAnomalySkipsBelowMinSamples(t *testing.T) {
	stats := AnomalyStats{Mean: 10, StdDev: 2, Count: 3, Latest: 20, HasData: true}
	fire, _, ok := EvaluateAnomaly(stats, 5, 3.0)
	assert.False(t, ok)
	assert.False(t, fire)
}

func TestEvaluateAnomalySkipsZeroStdDev(t *testing.T) {
	stats := AnomalyStats{Mean: 10, StdDev: 0, Count: 10, Latest: 10, HasData: true}
	fire, _, ok := EvaluateAnomaly(stats, 5, 3.0)
	assert.False(t, ok)
	assert.False(t, fire)
}

func TestEvaluateAnomalyFiresAboveZThreshold(t *testing.T) {
	stats := AnomalyStats{Mean: 10, StdDev: 2, Count: 10, Latest: 20, HasData: true}
	fire, z, ok := EvaluateAnomaly(stats, 5, 3.0)
	assert.True(t, ok)
	assert.True(t, fire)
	assert.InDelta(t, 5.0, z, 0.001)
}

func TestEvaluateAnomalyDoesNotFireBelowThreshold(t *testing.T) {
	stats := AnomalyStats{Mean: 10, StdDev: 5, Count: 10, Latest: 12, HasData: true}
	fire, _, ok := EvaluateAnomaly(stats, 5, 3.0)
	assert.True(t, ok)
	assert.False(t, fire)
}
