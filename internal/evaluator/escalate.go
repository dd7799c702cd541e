package evaluator

import "context"

// Escalator wraps the store's atomic escalation sweep.
type Escalator interface {
	EscalateOpenAlerts(ctx context.Context) (int64, error)
}

// RunEscalationSweep upgrades every eligible OPEN alert in one atomic
// statement, run on its own ~60s cadence (spec.md §4.2).
func RunEscalationSweep(ctx context.Context, e Escalator) (int64, error) {
	return e.EscalateOpenAlerts(ctx)
}
