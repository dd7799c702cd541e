package evaluator

import "time"

// Silenced reports whether silencedUntil currently suppresses re-firing.
// Closing or acknowledging an alert does not clear silence (spec.md §4.2).
func Silenced(silencedUntil *time.Time, now time.Time) bool {
	return silencedUntil != nil && silencedUntil.After(now)
}
