// Package settle resolves finished market windows and realizes trade
// outcomes exactly once.
package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/metrics"
	"github.com/alanyoungcy/updownbot/internal/notify"
)

// settleBuffer is how long after a window's end the reference price is
// trusted to have ticked past the boundary.
const settleBuffer = 2 * time.Second

// PriceSource provides the reference price at a point in time.
type PriceSource interface {
	ValueAt(ctx context.Context, symbol string, ts time.Time) (float64, bool)
}

// TradeArchiver receives settled trades for cold storage. Optional.
type TradeArchiver interface {
	ArchiveSettledTrade(ctx context.Context, rec domain.TradeRecord) error
}

// Resolver determines window outcomes from three sources in priority order:
// venue resolution notifications, the reference price after the window ends,
// and the market directory's settlement prices. The first source to produce
// an outcome writes the settlement record; later sources never overwrite it.
type Resolver struct {
	ledger    domain.Ledger
	directory domain.Directory
	venue     domain.Venue
	prices    PriceSource
	locker    domain.SlugLocker
	notifier  *notify.Notifier
	archiver  TradeArchiver
	logger    *slog.Logger

	now func() time.Time
}

func NewResolver(
	ledger domain.Ledger,
	directory domain.Directory,
	venue domain.Venue,
	prices PriceSource,
	locker domain.SlugLocker,
	notifier *notify.Notifier,
	archiver TradeArchiver,
	logger *slog.Logger,
) *Resolver {
	return &Resolver{
		ledger:    ledger,
		directory: directory,
		venue:     venue,
		prices:    prices,
		locker:    locker,
		notifier:  notifier,
		archiver:  archiver,
		logger:    logger.With(slog.String("component", "settle")),
		now:       time.Now,
	}
}

// SettleDue walks every unsettled trade whose window has ended and tries to
// realize it. Failures on one slug never block the others.
func (r *Resolver) SettleDue(ctx context.Context) error {
	trades, err := r.ledger.ListUnsettled(ctx)
	if err != nil {
		return fmt.Errorf("settle: list unsettled: %w", err)
	}
	if len(trades) == 0 {
		return nil
	}

	notes, err := r.venue.ResolutionNotes(ctx)
	if err != nil {
		r.logger.Debug("resolution notes unavailable", slog.String("error", err.Error()))
		notes = nil
	}
	notesByCondition := make(map[string]domain.ResolutionNote, len(notes))
	for _, n := range notes {
		if n.Outcome != "" {
			notesByCondition[n.ConditionID] = n
		}
	}

	bySlug := make(map[string][]domain.TradeRecord)
	for _, t := range trades {
		bySlug[t.MarketSlug] = append(bySlug[t.MarketSlug], t)
	}

	var ackIDs []string
	settledSlugs := 0
	for slug, group := range bySlug {
		acked, err := r.settleSlug(ctx, slug, group, notesByCondition)
		if err != nil {
			if !errors.Is(err, errWindowOpen) && !errors.Is(err, domain.ErrLockHeld) {
				r.logger.Warn("settlement attempt failed",
					slog.String("slug", slug),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		settledSlugs++
		ackIDs = append(ackIDs, acked...)
	}

	if len(ackIDs) > 0 {
		if err := r.venue.AckNotes(ctx, ackIDs); err != nil {
			r.logger.Warn("ack notifications failed", slog.String("error", err.Error()))
		}
	}
	if settledSlugs > 0 {
		if sum, err := r.ledger.SettledProfitSum(ctx); err == nil {
			r.logger.Info("realized pnl", slog.Float64("total_usd", sum))
		}
	}
	return nil
}

// errWindowOpen marks slugs whose window has not finished yet.
var errWindowOpen = errors.New("settle: window still open")

func (r *Resolver) settleSlug(ctx context.Context, slug string, trades []domain.TradeRecord, notes map[string]domain.ResolutionNote) ([]string, error) {
	asset, windowSeconds, windowStart, err := domain.ParseSlug(slug)
	if err != nil {
		return nil, err
	}
	windowEnd := time.Unix(windowStart+int64(windowSeconds), 0)
	if r.now().Before(windowEnd.Add(settleBuffer)) {
		return nil, errWindowOpen
	}

	release, err := r.locker.TryLock(ctx, slug)
	if err != nil {
		return nil, err
	}
	defer release()

	outcome, ackIDs, err := r.resolveOutcome(ctx, slug, asset, windowStart, windowEnd, trades, notes)
	if err != nil {
		return nil, err
	}

	var fills []domain.VenueFill
	for _, t := range trades {
		if t.ConditionID != "" && t.OrderID != "" {
			if fills, err = r.venue.FillsForMarket(ctx, t.ConditionID); err != nil {
				r.logger.Debug("fill lookup failed", slog.String("error", err.Error()))
				fills = nil
			}
			break
		}
	}

	for _, t := range trades {
		t.TradeIntent = applyFills(t.TradeIntent, fills)
		if err := r.settleTrade(ctx, t, outcome); err != nil {
			r.logger.Warn("trade settlement failed",
				slog.String("trade_id", t.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return ackIDs, nil
}

// resolveOutcome finds the window's outcome and writes the settlement
// record. An existing record always wins.
func (r *Resolver) resolveOutcome(ctx context.Context, slug, asset string, windowStart int64, windowEnd time.Time, trades []domain.TradeRecord, notes map[string]domain.ResolutionNote) (domain.Direction, []string, error) {
	if rec, err := r.ledger.OutcomeBySlug(ctx, slug); err == nil {
		return rec.Outcome, nil, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return "", nil, err
	}

	conditionID := ""
	for _, t := range trades {
		if t.ConditionID != "" {
			conditionID = t.ConditionID
			break
		}
	}

	var outcome domain.Direction
	var ackIDs []string
	source := ""

	if note, ok := notes[conditionID]; ok && conditionID != "" {
		outcome = note.Outcome
		ackIDs = append(ackIDs, note.ID)
		source = "venue"
	}

	if outcome == "" {
		start, okStart := r.prices.ValueAt(ctx, asset, time.Unix(windowStart, 0))
		end, okEnd := r.prices.ValueAt(ctx, asset, windowEnd)
		if okStart && okEnd && start > 0 {
			// An unchanged price settles UP.
			if end >= start {
				outcome = domain.DirectionUp
			} else {
				outcome = domain.DirectionDown
			}
			source = "reference_price"
		}
	}

	if outcome == "" {
		dir, resolved, err := r.directory.Resolution(ctx, slug)
		if err != nil {
			return "", nil, fmt.Errorf("settle: directory resolution %s: %w", slug, err)
		}
		if !resolved {
			return "", nil, fmt.Errorf("settle: %s not resolved yet: %w", slug, domain.ErrNotFound)
		}
		outcome = dir
		source = "directory"
	}

	rec := domain.SettlementRecord{
		MarketSlug:  slug,
		ConditionID: conditionID,
		Outcome:     outcome,
		ResolvedAt:  r.now(),
	}
	if err := r.ledger.InsertOutcome(ctx, rec); err != nil {
		return "", nil, err
	}
	// Another writer may have won the race; the stored record is canonical.
	if stored, err := r.ledger.OutcomeBySlug(ctx, slug); err == nil {
		outcome = stored.Outcome
	}
	r.logger.Info("window resolved",
		slog.String("slug", slug),
		slog.String("outcome", string(outcome)),
		slog.String("source", source),
	)
	return outcome, ackIDs, nil
}

func (r *Resolver) settleTrade(ctx context.Context, t domain.TradeRecord, outcome domain.Direction) error {
	profit := Profit(t.TradeIntent, outcome)
	settledAt := r.now()

	err := r.ledger.RecordSettlement(ctx, t.ID, outcome, profit, settledAt)
	if errors.Is(err, domain.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return err
	}

	result := "lost"
	if profit > 0 {
		result = "won"
	}
	metrics.TradesSettledTotal.WithLabelValues(t.Asset, result).Inc()
	if sum, err := r.ledger.SettledProfitSum(ctx); err == nil {
		metrics.RealizedPnlUSD.Set(sum)
	}

	rec := t
	rec.Outcome = outcome
	rec.Profit = profit
	rec.SettledAt = settledAt
	rec.Status = result
	if r.notifier != nil {
		r.notifier.TradeSettled(ctx, rec)
	}
	if r.archiver != nil {
		if err := r.archiver.ArchiveSettledTrade(ctx, rec); err != nil {
			r.logger.Debug("trade archive failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// applyFills replaces the intent's assumed entry with the venue's
// authoritative fill price when one matches the order. BOTH intents keep
// their summed leg cost; their order id covers two legs and a single fill
// price would misstate it.
func applyFills(t domain.TradeIntent, fills []domain.VenueFill) domain.TradeIntent {
	if t.Direction == domain.DirectionBoth || t.OrderID == "" {
		return t
	}
	for _, f := range fills {
		if f.MatchesOrder(t.OrderID) && f.Price > 0 {
			t.EntryPrice = f.Price
			return t
		}
	}
	return t
}

// Profit returns the realized PnL for a settled trade. A winning position
// pays out size/price; a both-sides arbitrage position pays out regardless
// of the outcome, with EntryPrice carrying the summed leg cost.
func Profit(t domain.TradeIntent, outcome domain.Direction) float64 {
	won := t.Direction == domain.DirectionBoth || t.Direction == outcome
	if !won {
		return -t.SizeUSD
	}
	if t.EntryPrice <= 0 {
		return 0
	}
	return t.SizeUSD/t.EntryPrice - t.SizeUSD
}
