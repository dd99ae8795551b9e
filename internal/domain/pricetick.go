package domain

// PriceTick is one observation from the reference price feed. Immutable once
// recorded.
type PriceTick struct {
	Symbol      string // e.g. "btc"
	TimestampMS int64
	Value       float64
}
