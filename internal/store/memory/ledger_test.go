package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

func TestOpenTradeLifecycle(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	intent := domain.TradeIntent{
		ID:         "t1",
		MarketSlug: "btc-updown-5m-1727712300",
		Asset:      "btc",
		Direction:  domain.DirectionUp,
		EntryPrice: 0.40,
		SizeUSD:    10,
		CreatedAt:  time.Unix(1_727_712_310, 0),
	}
	if err := l.RecordIntent(ctx, intent); err != nil {
		t.Fatalf("record intent: %v", err)
	}

	open, err := l.HasOpenTrade(ctx, intent.MarketSlug)
	if err != nil || !open {
		t.Fatalf("HasOpenTrade = %v, %v; want true", open, err)
	}

	unsettled, err := l.ListUnsettled(ctx)
	if err != nil || len(unsettled) != 1 {
		t.Fatalf("ListUnsettled = %d records, err %v", len(unsettled), err)
	}

	if err := l.RecordSettlement(ctx, "t1", domain.DirectionUp, 15.0, time.Now()); err != nil {
		t.Fatalf("settle: %v", err)
	}
	open, _ = l.HasOpenTrade(ctx, intent.MarketSlug)
	if open {
		t.Fatal("trade still open after settlement")
	}

	sum, err := l.SettledProfitSum(ctx)
	if err != nil || sum != 15.0 {
		t.Fatalf("profit sum = %v, err %v", sum, err)
	}
}

func TestSettlementIsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	_ = l.RecordIntent(ctx, domain.TradeIntent{ID: "t1", MarketSlug: "s", CreatedAt: time.Now()})

	if err := l.RecordSettlement(ctx, "t1", domain.DirectionDown, -10, time.Now()); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	err := l.RecordSettlement(ctx, "t1", domain.DirectionUp, 15, time.Now())
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("second settle err = %v, want ErrAlreadyExists", err)
	}
	if err := l.RecordSettlement(ctx, "missing", domain.DirectionUp, 1, time.Now()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("settle missing err = %v, want ErrNotFound", err)
	}
}

func TestOutcomeFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	slug := "eth-updown-5m-1727712300"

	first := domain.SettlementRecord{MarketSlug: slug, Outcome: domain.DirectionUp, ResolvedAt: time.Now()}
	if err := l.InsertOutcome(ctx, first); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// A conflicting later write is silently dropped.
	second := domain.SettlementRecord{MarketSlug: slug, Outcome: domain.DirectionDown, ResolvedAt: time.Now()}
	if err := l.InsertOutcome(ctx, second); err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	rec, err := l.OutcomeBySlug(ctx, slug)
	if err != nil {
		t.Fatalf("outcome by slug: %v", err)
	}
	if rec.Outcome != domain.DirectionUp {
		t.Fatalf("outcome = %s, want UP from first writer", rec.Outcome)
	}
}

func TestRecentOutcomesOrderedNewestFirst(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	base := int64(1_727_712_300)
	dirs := []domain.Direction{domain.DirectionUp, domain.DirectionDown, domain.DirectionUp, domain.DirectionUp}
	for i, d := range dirs {
		slug := domain.MarketSlug("btc", 300, base+int64(i)*300)
		_ = l.InsertOutcome(ctx, domain.SettlementRecord{MarketSlug: slug, Outcome: d, ResolvedAt: time.Now()})
	}
	// A different asset must not leak in.
	_ = l.InsertOutcome(ctx, domain.SettlementRecord{
		MarketSlug: domain.MarketSlug("eth", 300, base+1200),
		Outcome:    domain.DirectionDown,
		ResolvedAt: time.Now(),
	})

	got, err := l.RecentOutcomes(ctx, "btc", 3)
	if err != nil {
		t.Fatalf("recent outcomes: %v", err)
	}
	want := []domain.Direction{domain.DirectionUp, domain.DirectionUp, domain.DirectionDown}
	if len(got) != len(want) {
		t.Fatalf("got %d outcomes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("outcome[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
