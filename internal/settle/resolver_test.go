package settle

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/store/memory"
)

type fakeVenue struct {
	notes []domain.ResolutionNote
	acked []string
}

func (v *fakeVenue) PlaceOrder(ctx context.Context, intent domain.TradeIntent) (string, error) {
	return "", domain.ErrNotConfigured
}
func (v *fakeVenue) FillsForMarket(ctx context.Context, conditionID string) ([]domain.VenueFill, error) {
	return nil, nil
}
func (v *fakeVenue) ResolutionNotes(ctx context.Context) ([]domain.ResolutionNote, error) {
	return v.notes, nil
}
func (v *fakeVenue) AckNotes(ctx context.Context, ids []string) error {
	v.acked = append(v.acked, ids...)
	return nil
}

type fakeDirectory struct {
	outcome  domain.Direction
	resolved bool
}

func (d *fakeDirectory) ActiveMarket(ctx context.Context, asset string, windowSeconds int) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}
func (d *fakeDirectory) Resolution(ctx context.Context, slug string) (domain.Direction, bool, error) {
	return d.outcome, d.resolved, nil
}

type fakePrices struct {
	values map[int64]float64
}

func (p *fakePrices) ValueAt(ctx context.Context, symbol string, ts time.Time) (float64, bool) {
	v, ok := p.values[ts.Unix()]
	return v, ok
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testWindowStart = int64(1727712300)

func openTrade(ledger *memory.Ledger, dir domain.Direction, price, size float64) domain.TradeIntent {
	intent := domain.TradeIntent{
		ID:          "t-" + string(dir),
		MarketSlug:  domain.MarketSlug("btc", 300, testWindowStart),
		ConditionID: "0xcond",
		Asset:       "btc",
		Direction:   dir,
		EntryPrice:  price,
		SizeUSD:     size,
		CreatedAt:   time.Unix(testWindowStart, 0),
	}
	if err := ledger.RecordIntent(context.Background(), intent); err != nil {
		panic(err)
	}
	return intent
}

func newTestResolver(ledger *memory.Ledger, venue *fakeVenue, dir *fakeDirectory, prices *fakePrices) *Resolver {
	r := NewResolver(ledger, dir, venue, prices, memory.NewSlugLocker(), nil, nil, testLogger())
	r.now = func() time.Time {
		return time.Unix(testWindowStart+300, 0).Add(5 * time.Second)
	}
	return r
}

func TestSettleFromVenueNote(t *testing.T) {
	ledger := memory.NewLedger()
	intent := openTrade(ledger, domain.DirectionUp, 0.40, 10)

	venue := &fakeVenue{notes: []domain.ResolutionNote{
		{ID: "n1", ConditionID: "0xcond", Outcome: domain.DirectionUp},
	}}
	r := newTestResolver(ledger, venue, &fakeDirectory{}, &fakePrices{})

	if err := r.SettleDue(context.Background()); err != nil {
		t.Fatalf("SettleDue: %v", err)
	}

	open, err := ledger.ListUnsettled(context.Background())
	if err != nil || len(open) != 0 {
		t.Fatalf("expected no open trades, got %d (err %v)", len(open), err)
	}
	sum, _ := ledger.SettledProfitSum(context.Background())
	if math.Abs(sum-15.0) > 1e-9 {
		t.Fatalf("profit = %v, want 15.0", sum)
	}
	if len(venue.acked) != 1 || venue.acked[0] != "n1" {
		t.Fatalf("acked = %v, want [n1]", venue.acked)
	}
	rec, err := ledger.OutcomeBySlug(context.Background(), intent.MarketSlug)
	if err != nil || rec.Outcome != domain.DirectionUp {
		t.Fatalf("outcome = %v (err %v), want UP", rec.Outcome, err)
	}
}

func TestSettleFromReferencePrice(t *testing.T) {
	ledger := memory.NewLedger()
	openTrade(ledger, domain.DirectionUp, 0.40, 10)

	prices := &fakePrices{values: map[int64]float64{
		testWindowStart:       65000.0,
		testWindowStart + 300: 64980.0,
	}}
	r := newTestResolver(ledger, &fakeVenue{}, &fakeDirectory{}, prices)

	if err := r.SettleDue(context.Background()); err != nil {
		t.Fatalf("SettleDue: %v", err)
	}
	sum, _ := ledger.SettledProfitSum(context.Background())
	if math.Abs(sum-(-10.0)) > 1e-9 {
		t.Fatalf("profit = %v, want -10.0 for a losing UP trade", sum)
	}
}

func TestUnchangedPriceSettlesUp(t *testing.T) {
	ledger := memory.NewLedger()
	openTrade(ledger, domain.DirectionUp, 0.40, 10)

	prices := &fakePrices{values: map[int64]float64{
		testWindowStart:       65000.0,
		testWindowStart + 300: 65000.0,
	}}
	r := newTestResolver(ledger, &fakeVenue{}, &fakeDirectory{}, prices)

	if err := r.SettleDue(context.Background()); err != nil {
		t.Fatalf("SettleDue: %v", err)
	}
	sum, _ := ledger.SettledProfitSum(context.Background())
	want := 10.0/0.40 - 10.0
	if math.Abs(sum-want) > 1e-9 {
		t.Fatalf("profit = %v, want %v: a flat window is an UP outcome", sum, want)
	}
}

func TestSettleFromDirectoryFallback(t *testing.T) {
	ledger := memory.NewLedger()
	openTrade(ledger, domain.DirectionDown, 0.50, 10)

	dir := &fakeDirectory{outcome: domain.DirectionDown, resolved: true}
	r := newTestResolver(ledger, &fakeVenue{}, dir, &fakePrices{})

	if err := r.SettleDue(context.Background()); err != nil {
		t.Fatalf("SettleDue: %v", err)
	}
	sum, _ := ledger.SettledProfitSum(context.Background())
	if math.Abs(sum-10.0) > 1e-9 {
		t.Fatalf("profit = %v, want 10.0", sum)
	}
}

func TestUnresolvedWindowStaysOpen(t *testing.T) {
	ledger := memory.NewLedger()
	openTrade(ledger, domain.DirectionUp, 0.40, 10)

	r := newTestResolver(ledger, &fakeVenue{}, &fakeDirectory{}, &fakePrices{})

	if err := r.SettleDue(context.Background()); err != nil {
		t.Fatalf("SettleDue: %v", err)
	}
	open, _ := ledger.ListUnsettled(context.Background())
	if len(open) != 1 {
		t.Fatalf("expected trade to stay open, got %d open", len(open))
	}
}

func TestWindowStillOpenIsSkipped(t *testing.T) {
	ledger := memory.NewLedger()
	openTrade(ledger, domain.DirectionUp, 0.40, 10)

	venue := &fakeVenue{notes: []domain.ResolutionNote{
		{ID: "n1", ConditionID: "0xcond", Outcome: domain.DirectionUp},
	}}
	r := newTestResolver(ledger, venue, &fakeDirectory{}, &fakePrices{})
	r.now = func() time.Time { return time.Unix(testWindowStart+100, 0) }

	if err := r.SettleDue(context.Background()); err != nil {
		t.Fatalf("SettleDue: %v", err)
	}
	open, _ := ledger.ListUnsettled(context.Background())
	if len(open) != 1 {
		t.Fatalf("expected trade untouched mid-window, got %d open", len(open))
	}
}

func TestBothDirectionAlwaysWins(t *testing.T) {
	for _, outcome := range []domain.Direction{domain.DirectionUp, domain.DirectionDown} {
		got := Profit(domain.TradeIntent{Direction: domain.DirectionBoth, EntryPrice: 0.95, SizeUSD: 9.5}, outcome)
		want := 9.5/0.95 - 9.5
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("Profit(BOTH, %s) = %v, want %v", outcome, got, want)
		}
	}
}

func TestExistingOutcomeWinsOverSources(t *testing.T) {
	ledger := memory.NewLedger()
	intent := openTrade(ledger, domain.DirectionUp, 0.40, 10)
	if err := ledger.InsertOutcome(context.Background(), domain.SettlementRecord{
		MarketSlug: intent.MarketSlug,
		Outcome:    domain.DirectionDown,
		ResolvedAt: time.Unix(testWindowStart+305, 0),
	}); err != nil {
		t.Fatalf("InsertOutcome: %v", err)
	}

	venue := &fakeVenue{notes: []domain.ResolutionNote{
		{ID: "n1", ConditionID: "0xcond", Outcome: domain.DirectionUp},
	}}
	r := newTestResolver(ledger, venue, &fakeDirectory{}, &fakePrices{})

	if err := r.SettleDue(context.Background()); err != nil {
		t.Fatalf("SettleDue: %v", err)
	}
	sum, _ := ledger.SettledProfitSum(context.Background())
	if math.Abs(sum-(-10.0)) > 1e-9 {
		t.Fatalf("profit = %v, want -10.0 from the stored DOWN outcome", sum)
	}
	if len(venue.acked) != 0 {
		t.Fatalf("note should not be acked when the stored outcome won: %v", venue.acked)
	}
}
