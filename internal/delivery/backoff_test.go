package delivery

import "testing"

func TestBackoffSecondsGrowsExponentially(t *testing.T) {
	cases := []struct {
		attempt int
		want    int
	}{
		{1, 30},
		{2, 60},
		{3, 120},
		{4, 240},
	}
	for _, c := range cases {
		if got := BackoffSeconds(c.attempt, 30, 7200); got != c.want {
			t.Errorf("attempt %d: got %d, want %d", c.attempt, got, c.want)
		}
	}
}

func TestBackoffSecondsClampsToMax(t *testing.T) {
	got := BackoffSeconds(10, 30, 7200)
	if got != 7200 {
		t.Errorf("got %d, want 7200", got)
	}
}

func TestBackoffSecondsTreatsSubOneAttemptAsFirst(t *testing.T) {
	if got := BackoffSeconds(0, 30, 7200); got != 30 {
		t.Errorf("got %d, want 30", got)
	}
}
