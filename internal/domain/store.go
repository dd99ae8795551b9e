package domain

import (
	"context"
	"time"
)

// Ledger is the single persistence abstraction the engine and the settlement
// resolver rely on. Implementations must never assume a specific storage
// technology; the core ships a PostgreSQL ledger and an in-memory fallback.
type Ledger interface {
	// HasOpenTrade reports whether an unsettled trade already exists for the
	// market slug. The engine checks it before emitting a new intent.
	HasOpenTrade(ctx context.Context, slug string) (bool, error)

	// RecordIntent persists a newly emitted trade intent as an open trade.
	RecordIntent(ctx context.Context, intent TradeIntent) error

	// ListUnsettled returns every trade that has no outcome yet.
	ListUnsettled(ctx context.Context) ([]TradeRecord, error)

	// RecordSettlement marks one trade settled. Implementations must refuse
	// to overwrite an existing outcome.
	RecordSettlement(ctx context.Context, tradeID string, outcome Direction, profit float64, settledAt time.Time) error

	// OutcomeBySlug returns the settlement record for a slug, or ErrNotFound.
	OutcomeBySlug(ctx context.Context, slug string) (SettlementRecord, error)

	// InsertOutcome writes a settlement record unless one already exists
	// (first writer wins; a duplicate insert is a silent no-op).
	InsertOutcome(ctx context.Context, rec SettlementRecord) error

	// RecentOutcomes returns up to limit most recent settled window outcomes
	// for an asset, newest first. Feeds the momentum tier.
	RecentOutcomes(ctx context.Context, asset string, limit int) ([]Direction, error)

	// SettledProfitSum returns the sum of realized profit across all settled
	// trades, used for the running balance.
	SettledProfitSum(ctx context.Context) (float64, error)
}

// Directory looks up tradeable windows and their resolution state from the
// market directory service.
type Directory interface {
	// ActiveMarket finds the currently tradeable window for an asset and
	// window length, probing slugs around now. Returns ErrNotFound when no
	// window is open (normal between rounds).
	ActiveMarket(ctx context.Context, asset string, windowSeconds int) (Market, error)

	// Resolution reports whether the slug's market has resolved and which
	// side won. resolved is false while either side's settlement price is
	// below the near-certainty threshold.
	Resolution(ctx context.Context, slug string) (outcome Direction, resolved bool, err error)
}

// Venue is the execution-venue collaborator: order placement plus the trade
// and notification history the settlement resolver reconciles against.
type Venue interface {
	PlaceOrder(ctx context.Context, intent TradeIntent) (orderID string, err error)
	FillsForMarket(ctx context.Context, conditionID string) ([]VenueFill, error)
	ResolutionNotes(ctx context.Context) ([]ResolutionNote, error)
	AckNotes(ctx context.Context, ids []string) error
}
