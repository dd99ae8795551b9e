package polymarket

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// PaperVenue simulates order placement for paper trading. Orders always
// "fill" at the intent's price; the venue produces no fills or resolution
// notes, so settlement falls through to the reference-price and directory
// paths.
type PaperVenue struct {
	logger *slog.Logger

	mu     sync.Mutex
	placed []domain.TradeIntent
}

func NewPaperVenue(logger *slog.Logger) *PaperVenue {
	return &PaperVenue{logger: logger.With(slog.String("component", "paper_venue"))}
}

func (v *PaperVenue) PlaceOrder(ctx context.Context, intent domain.TradeIntent) (string, error) {
	orderID := "paper-" + uuid.NewString()
	v.mu.Lock()
	v.placed = append(v.placed, intent)
	v.mu.Unlock()

	v.logger.Info("paper order placed",
		slog.String("order_id", orderID),
		slog.String("slug", intent.MarketSlug),
		slog.String("direction", string(intent.Direction)),
		slog.Float64("size_usd", intent.SizeUSD),
		slog.Float64("entry_price", intent.EntryPrice),
	)
	return orderID, nil
}

func (v *PaperVenue) FillsForMarket(ctx context.Context, conditionID string) ([]domain.VenueFill, error) {
	return nil, nil
}

func (v *PaperVenue) ResolutionNotes(ctx context.Context) ([]domain.ResolutionNote, error) {
	return nil, nil
}

func (v *PaperVenue) AckNotes(ctx context.Context, ids []string) error {
	return nil
}

// Placed returns a copy of all intents this venue accepted.
func (v *PaperVenue) Placed() []domain.TradeIntent {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.TradeIntent, len(v.placed))
	copy(out, v.placed)
	return out
}
