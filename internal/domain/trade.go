package domain

import "time"

// TradeType selects the per-trade risk cap in position sizing.
type TradeType string

const (
	TradeTypeArb   TradeType = "internal_arb"
	TradeTypeLogic TradeType = "logic"
	TradeTypeOther TradeType = "speculative"
)

// TradeIntent is a sized trade decision emitted by the signal composition
// engine. It becomes immutable once handed to the executor.
type TradeIntent struct {
	ID             string // UUID
	MarketSlug     string
	ConditionID    string
	Asset          string
	Direction      Direction // UP, DOWN or BOTH (arbitrage)
	UpTokenID      string
	DownTokenID    string
	EntryPrice     float64 // ask paid on the chosen side; leg sum for BOTH
	UpPrice        float64
	DownPrice      float64
	SizeUSD        float64
	ExpectedProfit float64
	Confidence     float64
	SignalType     string // fired tier, e.g. "mispricing" or "composite"
	LayerCount     int    // number of agreeing tiers behind the intent
	Reason         string
	OrderID        string // venue order id once placed; empty for paper fills
	CreatedAt      time.Time
}

// TradeRecord is a ledgered TradeIntent plus its settlement state.
type TradeRecord struct {
	TradeIntent
	Outcome   Direction // empty until settled
	Profit    float64
	Status    string // "open", "won", "lost"
	SettledAt time.Time
}

// Settled reports whether the trade already carries an outcome.
func (t *TradeRecord) Settled() bool { return t.Outcome != "" }

// SettlementRecord is the realized outcome of one market window. Written
// exactly once per slug, first writer wins.
type SettlementRecord struct {
	MarketSlug  string
	ConditionID string
	Outcome     Direction // UP or DOWN
	ResolvedAt  time.Time
}

// VenueFill is an authoritative fill reported by the execution venue.
type VenueFill struct {
	TradeID      string
	TakerOrderID string
	MakerOrderID string
	Outcome      Direction
	Side         string // "BUY" or "SELL"
	Price        float64
	Size         float64
}

// MatchesOrder reports whether this fill belongs to the given order id,
// either as taker or as one of the maker orders.
func (f VenueFill) MatchesOrder(orderID string) bool {
	return orderID != "" && (f.TakerOrderID == orderID || f.MakerOrderID == orderID)
}

// ResolutionNote is a "market resolved" notification from the execution
// venue, keyed by condition id.
type ResolutionNote struct {
	ID          string
	ConditionID string
	Outcome     Direction
}
