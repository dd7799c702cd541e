package evaluator

import (
	"context"

	"pulse/internal/domain"
)

// BreachChecker is the store dependency threshold evaluation needs: was a
// (metric, operator, threshold) comparison continuously true throughout a
// duration window.
type BreachChecker interface {
	ContinuouslyBreached(ctx context.Context, tenantID, deviceID, metricName, sqlOperator string, threshold float64, durationSeconds int) (bool, error)
}

// SQLOperatorFunc maps a domain.AlertOperator to its SQL token; injected so
// this package never imports the store package directly.
type SQLOperatorFunc func(domain.AlertOperator) string

// EvaluateThreshold runs the rule's conditions (single condition for a
// plain threshold rule, multiple for multi-condition rules) combining them
// per MatchMode with short-circuit evaluation in both directions.
func EvaluateThreshold(ctx context.Context, checker BreachChecker, sqlOp SQLOperatorFunc, tenantID, deviceID string, rule domain.AlertRule) (bool, error) {
	conditions := rule.Conditions
	if len(conditions) == 0 {
		conditions = []domain.ThresholdCondition{{
			Metric:    rule.MetricName,
			Operator:  rule.Operator,
			Threshold: rule.Threshold,
		}}
	}

	switch rule.MatchMode {
	case domain.MatchAny:
		for _, c := range conditions {
			breached, err := evalCondition(ctx, checker, sqlOp, tenantID, deviceID, rule, c)
			if err != nil {
				return false, err
			}
			if breached {
				return true, nil
			}
		}
		return false, nil
	default: // all
		for _, c := range conditions {
			breached, err := evalCondition(ctx, checker, sqlOp, tenantID, deviceID, rule, c)
			if err != nil {
				return false, err
			}
			if !breached {
				return false, nil
			}
		}
		return true, nil
	}
}

func evalCondition(ctx context.Context, checker BreachChecker, sqlOp SQLOperatorFunc, tenantID, deviceID string, rule domain.AlertRule, c domain.ThresholdCondition) (bool, error) {
	durationSeconds := rule.DurationSeconds
	if c.DurationMinutes > 0 {
		durationSeconds = c.DurationMinutes * 60
	}
	return checker.ContinuouslyBreached(ctx, tenantID, deviceID, c.Metric, sqlOp(c.Operator), c.Threshold, durationSeconds)
}
