package feed

import (
	"testing"
	"time"
)

func TestBackoffGrowsToCeiling(t *testing.T) {
	bo := newBackoff(5*time.Second, 60*time.Second, 60*time.Second)

	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		d := bo.Next(false)
		if d < prev {
			t.Fatalf("delay shrank: %v after %v", d, prev)
		}
		if d > 60*time.Second {
			t.Fatalf("delay exceeded ceiling: %v", d)
		}
		prev = d
	}
	if prev != 60*time.Second {
		t.Fatalf("expected delay to reach ceiling, got %v", prev)
	}
}

func TestBackoffRateLimitForcesWait(t *testing.T) {
	bo := newBackoff(5*time.Second, 60*time.Second, 45*time.Second)

	// Grow the schedule first so the restart below is observable.
	bo.Next(false)
	bo.Next(false)
	bo.Next(false)

	if d := bo.Next(true); d != 45*time.Second {
		t.Fatalf("rate-limited delay = %v, want 45s", d)
	}
	// The forced wait is the penalty; the schedule restarts from base.
	if d := bo.Next(false); d != 5*time.Second {
		t.Fatalf("post-rate-limit delay = %v, want base 5s", d)
	}
}

func TestBackoffReset(t *testing.T) {
	bo := newBackoff(5*time.Second, 60*time.Second, 60*time.Second)
	bo.Next(false)
	bo.Next(false)
	bo.Reset()
	if d := bo.Next(false); d != 5*time.Second {
		t.Fatalf("delay after reset = %v, want base 5s", d)
	}
}
