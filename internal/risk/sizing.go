// Package risk sizes trade intents from bankroll, edge and conviction.
package risk

import (
	"sync"

	"github.com/alanyoungcy/updownbot/internal/config"
	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Sizer computes position sizes with fractional Kelly staking, a conviction
// ladder and per-trade-type caps. Stakes scale with the running balance,
// the configured bankroll plus realized profit to date.
type Sizer struct {
	cfg config.RiskConfig

	mu     sync.Mutex
	profit float64
}

func NewSizer(cfg config.RiskConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// SetRealizedProfit updates the realized profit folded into the running
// balance. Negative values shrink the balance; settlement refreshes this
// after each pass.
func (s *Sizer) SetRealizedProfit(p float64) {
	s.mu.Lock()
	s.profit = p
	s.mu.Unlock()
}

func (s *Sizer) bankroll() float64 {
	s.mu.Lock()
	b := s.cfg.Bankroll + s.profit
	s.mu.Unlock()
	if b < 0 {
		return 0
	}
	return b
}

// Size returns the USD stake for a trade entered at price with estimated win
// probability winProb. layerCount is the number of agreeing signal tiers;
// more agreement unlocks a larger share of the computed stake. Returns 0
// when the inputs carry no positive edge.
func (s *Sizer) Size(tradeType domain.TradeType, layerCount int, winProb, price float64) float64 {
	bankroll := s.bankroll()
	if price <= 0 || price >= 1 || winProb <= 0 || winProb > 1 || bankroll <= 0 {
		return 0
	}

	// Kelly for a binary payout: b is the net odds at this entry price.
	b := (1 - price) / price
	kelly := (winProb*(b+1) - 1) / b
	if kelly <= 0 {
		return 0
	}
	stake := bankroll * kelly * s.cfg.KellyFraction
	stake *= ladderMultiplier(layerCount)

	if cap := bankroll * s.capFor(tradeType); stake > cap {
		stake = cap
	}
	if s.cfg.MaxTradeUSD > 0 && stake > s.cfg.MaxTradeUSD {
		stake = s.cfg.MaxTradeUSD
	}
	return stake
}

// ladderMultiplier scales conviction: one signal tier releases a quarter of
// the stake, two a half, three or more the full amount.
func ladderMultiplier(layerCount int) float64 {
	switch {
	case layerCount >= 3:
		return 1.0
	case layerCount == 2:
		return 0.5
	default:
		return 0.25
	}
}

func (s *Sizer) capFor(t domain.TradeType) float64 {
	switch t {
	case domain.TradeTypeArb:
		return s.cfg.CapArb
	case domain.TradeTypeLogic:
		return s.cfg.CapLogic
	default:
		return s.cfg.CapDefault
	}
}

// ArbSize sizes a both-sides mispricing trade, where the edge is locked in
// at entry and the only risk is fill quality. It uses the arbitrage cap
// directly instead of Kelly.
func (s *Sizer) ArbSize(sumOfAsks float64) float64 {
	bankroll := s.bankroll()
	if sumOfAsks <= 0 || sumOfAsks >= 1 || bankroll <= 0 {
		return 0
	}
	stake := bankroll * s.cfg.CapArb
	if s.cfg.MaxTradeUSD > 0 && stake > s.cfg.MaxTradeUSD {
		stake = s.cfg.MaxTradeUSD
	}
	return stake
}
