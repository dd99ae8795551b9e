package feed

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/updownbot/internal/config"
	"github.com/alanyoungcy/updownbot/internal/domain"
)

func newTestPriceStream(now time.Time) *PriceStream {
	cfg := config.Defaults()
	s := NewPriceStream(cfg, nil, slog.Default())
	s.now = func() time.Time { return now }
	return s
}

func TestValueAtPicksLastTickAtOrBefore(t *testing.T) {
	now := time.Unix(1_700_000_300, 0)
	s := newTestPriceStream(now)
	base := now.Add(-2 * time.Minute)
	for i := 0; i < 10; i++ {
		s.record(domain.PriceTick{
			Symbol:      "btc",
			TimestampMS: base.Add(time.Duration(i) * 10 * time.Second).UnixMilli(),
			Value:       100 + float64(i),
		})
	}

	ts := base.Add(25 * time.Second)
	v, ok := s.ValueAt(context.Background(), "btc", ts)
	if !ok {
		t.Fatal("expected a value")
	}
	// Ticks at +20s and +30s straddle the target; the +20s tick wins.
	if v != 102 {
		t.Fatalf("ValueAt = %v, want 102", v)
	}

	// A lookup exactly on a tick returns that tick.
	v, ok = s.ValueAt(context.Background(), "btc", base.Add(30*time.Second))
	if !ok || v != 103 {
		t.Fatalf("ValueAt on tick = %v, want 103", v)
	}
}

func TestValueAtIsMemoized(t *testing.T) {
	now := time.Unix(1_700_000_300, 0)
	s := newTestPriceStream(now)
	s.record(domain.PriceTick{Symbol: "btc", TimestampMS: now.UnixMilli(), Value: 100})

	ts := now.Add(-time.Second)
	v1, ok := s.ValueAt(context.Background(), "btc", ts)
	if !ok {
		t.Fatal("expected a value")
	}
	// A later tick closer to ts must not change the answer.
	s.record(domain.PriceTick{Symbol: "btc", TimestampMS: now.Add(time.Second).UnixMilli(), Value: 999})
	v2, ok := s.ValueAt(context.Background(), "btc", ts)
	if !ok || v2 != v1 {
		t.Fatalf("memoized value changed: first %v then %v", v1, v2)
	}
}

func TestValueAtNewWindowFallback(t *testing.T) {
	now := time.Unix(1_700_000_300, 0)
	s := newTestPriceStream(now)
	// Only ticks after the window start exist; the feed came up late.
	s.record(domain.PriceTick{Symbol: "btc", TimestampMS: now.Add(-20 * time.Second).UnixMilli(), Value: 111})
	s.record(domain.PriceTick{Symbol: "btc", TimestampMS: now.Add(-10 * time.Second).UnixMilli(), Value: 112})

	// Window opened 30s ago, within the 90s grace: earliest tick is used.
	v, ok := s.ValueAt(context.Background(), "btc", now.Add(-30*time.Second))
	if !ok {
		t.Fatal("expected fallback value inside grace window")
	}
	if v != 111 {
		t.Fatalf("fallback = %v, want earliest tick 111", v)
	}
}

func TestValueAtMissesOutsideGrace(t *testing.T) {
	now := time.Unix(1_700_000_300, 0)
	s := newTestPriceStream(now)
	s.record(domain.PriceTick{Symbol: "btc", TimestampMS: now.UnixMilli(), Value: 100})

	// No tick at or before a window that opened 5 minutes ago, and the
	// grace window has long passed: the lookup must fail, not guess.
	if _, ok := s.ValueAt(context.Background(), "btc", now.Add(-5*time.Minute)); ok {
		t.Fatal("expected miss for stale lookup outside grace window")
	}
}

func TestMove60s(t *testing.T) {
	now := time.Unix(1_700_000_300, 0)
	s := newTestPriceStream(now)
	s.record(domain.PriceTick{Symbol: "eth", TimestampMS: now.Add(-70 * time.Second).UnixMilli(), Value: 2000})
	s.record(domain.PriceTick{Symbol: "eth", TimestampMS: now.Add(-60 * time.Second).UnixMilli(), Value: 2000})
	s.record(domain.PriceTick{Symbol: "eth", TimestampMS: now.UnixMilli(), Value: 2010})

	mv, ok := s.Move60s("eth")
	if !ok {
		t.Fatal("expected a move")
	}
	if mv < 0.00499 || mv > 0.00501 {
		t.Fatalf("Move60s = %v, want 0.005", mv)
	}
}

func TestRecordDropsExpiredTicks(t *testing.T) {
	now := time.Unix(1_700_000_300, 0)
	s := newTestPriceStream(now)
	s.record(domain.PriceTick{Symbol: "btc", TimestampMS: now.Add(-11 * time.Minute).UnixMilli(), Value: 90})
	s.record(domain.PriceTick{Symbol: "btc", TimestampMS: now.UnixMilli(), Value: 100})

	s.mu.RLock()
	defer s.mu.RUnlock()
	if n := len(s.ticks["btc"]); n != 1 {
		t.Fatalf("buffer length = %d, want 1 after retention pruning", n)
	}
}
