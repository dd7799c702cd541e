package evaluator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pulse/internal/domain"
)

func TestWindowRegistryRequiresTwoSamples(t *testing.T) {
	w := NewWindowRegistry()
	now := time.Now()
	v := 10.0
	_, ok := w.Evaluate("dev1", "rule1", now, &v, 60, domain.AggAvg)
	assert.False(t, ok)
}

func TestWindowRegistryEvictsOldSamples(t *testing.T) {
	w := NewWindowRegistry()
	base := time.Now()
	v1, v2, v3 := 10.0, 20.0, 100.0

	w.Evaluate("dev1", "rule1", base, &v1, 60, domain.AggAvg)
	w.Evaluate("dev1", "rule1", base.Add(40*time.Second), &v2, 60, domain.AggAvg)

	result, ok := w.Evaluate("dev1", "rule1", base.Add(90*time.Second), &v3, 60, domain.AggAvg)
	assert.True(t, ok)
	// v1 evicted (too old); only v2 and v3 remain.
	assert.InDelta(t, 60.0, result, 0.001)
}

func TestWindowRegistryAggregations(t *testing.T) {
	w := NewWindowRegistry()
	base := time.Now()
	v1, v2 := 5.0, 15.0
	w.Evaluate("dev1", "rule1", base, &v1, 300, domain.AggSum)
	result, ok := w.Evaluate("dev1", "rule1", base.Add(time.Second), &v2, 300, domain.AggSum)
	assert.True(t, ok)
	assert.Equal(t, 20.0, result)
}

func TestWindowRegistryIsolatesPerDeviceAndRule(t *testing.T) {
	w := NewWindowRegistry()
	base := time.Now()
	v := 1.0
	w.Evaluate("dev1", "ruleA", base, &v, 300, domain.AggCount)
	_, ok := w.Evaluate("dev2", "ruleA", base, &v, 300, domain.AggCount)
	assert.False(t, ok) // dev2's own ring only has one sample
}
