package domain

import "time"

// OrderLevel is a single price+size entry in an instrument book. Both fields
// are strictly positive for levels that survived parsing.
type OrderLevel struct {
	Price float64
	Size  float64
}

// InstrumentBook is the tracked order book for one instrument (the up or
// down token of a market). Bids are strictly descending by price, asks
// strictly ascending; BestBid/BestAsk mirror level zero of each side and are
// 0 when the side is empty. Previous retains the prior book so the pattern
// detector can compute deltas between successive snapshots.
type InstrumentBook struct {
	InstrumentID string
	BestBid      float64
	BestAsk      float64
	Bids         []OrderLevel
	Asks         []OrderLevel
	UpdatedAt    time.Time
	Previous     *InstrumentBook
}

// HasAsk reports whether the book currently carries any ask liquidity.
func (b *InstrumentBook) HasAsk() bool { return b != nil && b.BestAsk > 0 }

// Clone returns a deep copy without the Previous link, for diagnostics
// snapshots handed outside the stream's lock.
func (b *InstrumentBook) Clone() *InstrumentBook {
	if b == nil {
		return nil
	}
	cp := *b
	cp.Previous = nil
	cp.Bids = append([]OrderLevel(nil), b.Bids...)
	cp.Asks = append([]OrderLevel(nil), b.Asks...)
	return &cp
}
