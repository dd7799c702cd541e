package evaluator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"pulse/internal/domain"
)

type fakeBreachChecker struct {
	breached  map[string]bool
	calls     []string
	durations []int
}

func (f *fakeBreachChecker) ContinuouslyBreached(ctx context.Context, tenantID, deviceID, metricName, sqlOperator string, threshold float64, durationSeconds int) (bool, error) {
	f.calls = append(f.calls, metricName)
	f.durations = append(f.durations, durationSeconds)
	return f.breached[metricName], nil
}

func fakeSQLOp(op domain.AlertOperator) string { return string(op) }

func TestEvaluateThresholdSingleCondition(t *testing.T) {
	checker := &fakeBreachChecker{breached: map[string]bool{"cpu": true}}
	rule := domain.AlertRule{MetricName: "cpu", Operator: domain.OpGT, Threshold: 90}

	fire, err := EvaluateThreshold(context.Background(), checker, fakeSQLOp, "t1", "d1", rule)
	assert.NoError(t, err)
	assert.True(t, fire)
}

func TestEvaluateThresholdMatchAllRequiresEveryCondition(t *testing.T) {
	checker := &fakeBreachChecker{breached: map[string]bool{"cpu": true, "mem": false}}
	rule := domain.AlertRule{
		MatchMode: domain.MatchAll,
		Conditions: []domain.ThresholdCondition{
			{Metric: "cpu", Operator: domain.OpGT, Threshold: 90},
			{Metric: "mem", Operator: domain.OpGT, Threshold: 90},
		},
	}

	fire, err := EvaluateThreshold(context.Background(), checker, fakeSQLOp, "t1", "d1", rule)
	assert.NoError(t, err)
	assert.False(t, fire)
	// match_mode=all short-circuits on the first false; mem need not be reached
	// after cpu, but cpu is evaluated first and is true so mem must be checked.
	assert.Contains(t, checker.calls, "cpu")
}

func TestEvaluateThresholdMatchAnyShortCircuits(t *testing.T) {
	checker := &fakeBreachChecker{breached: map[string]bool{"cpu": true, "mem": true}}
	rule := domain.AlertRule{
		MatchMode: domain.MatchAny,
		Conditions: []domain.ThresholdCondition{
			{Metric: "cpu", Operator: domain.OpGT, Threshold: 90},
			{Metric: "mem", Operator: domain.OpGT, Threshold: 90},
		},
	}

	fire, err := EvaluateThreshold(context.Background(), checker, fakeSQLOp, "t1", "d1", rule)
	assert.NoError(t, err)
	assert.True(t, fire)
	assert.Equal(t, []string{"cpu"}, checker.calls) // any: stops at first true
}

func TestEvaluateThresholdConditionDurationOverridesRuleDuration(t *testing.T) {
	checker := &fakeBreachChecker{breached: map[string]bool{"cpu": true}}
	rule := domain.AlertRule{
		DurationSeconds: 600,
		Conditions: []domain.ThresholdCondition{
			{Metric: "cpu", Operator: domain.OpGT, Threshold: 90, DurationMinutes: 2},
		},
	}
	fire, err := EvaluateThreshold(context.Background(), checker, fakeSQLOp, "t1", "d1", rule)
	assert.NoError(t, err)
	assert.True(t, fire)
	assert.Equal(t, []int{120}, checker.durations) // 2 minutes, not the rule's 600s
}
