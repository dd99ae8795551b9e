package engine

import (
	"github.com/alanyoungcy/updownbot/internal/domain"
)

// vote is one tier's directional opinion on a market.
type vote struct {
	tier      domain.SignalTier
	direction domain.Direction
	reason    string
}

// whaleVote maps the freshest detector signal on either of the market's
// instruments onto a market direction. Pressure on the down token inverts
// the direction; a contrarian (spoof) signal inverts it again.
func whaleVote(signals []domain.WhaleSignal, m domain.Market) (vote, bool) {
	for i := len(signals) - 1; i >= 0; i-- {
		sig := signals[i]
		var dir domain.Direction
		switch sig.InstrumentID {
		case m.UpTokenID:
			dir = sig.Direction
		case m.DownTokenID:
			dir = sig.Direction.Opposite()
		default:
			continue
		}
		if sig.Contrarian {
			dir = dir.Opposite()
		}
		return vote{
			tier:      domain.TierWhale,
			direction: dir,
			reason:    string(sig.Pattern),
		}, true
	}
	return vote{}, false
}

// imbalanceVote fires once the rolling window is full and its mean clears
// the threshold on either side. mean is the up token's depth imbalance, so
// positive means bid pressure on UP.
func imbalanceVote(mean float64, full bool, threshold float64) (vote, bool) {
	if !full {
		return vote{}, false
	}
	switch {
	case mean >= threshold:
		return vote{tier: domain.TierImbalance, direction: domain.DirectionUp, reason: "bid depth dominant"}, true
	case mean <= -threshold:
		return vote{tier: domain.TierImbalance, direction: domain.DirectionDown, reason: "ask depth dominant"}, true
	}
	return vote{}, false
}

// momentumVote fires when the last lookback settled windows for the asset
// all resolved the same way.
func momentumVote(outcomes []domain.Direction, lookback int) (vote, bool) {
	if lookback <= 0 || len(outcomes) < lookback {
		return vote{}, false
	}
	first := outcomes[0]
	for _, o := range outcomes[1:lookback] {
		if o != first {
			return vote{}, false
		}
	}
	return vote{tier: domain.TierMomentum, direction: first, reason: "streak"}, true
}

// compose requires at least two tiers and unanimity among the ones that
// fired. It returns the agreed direction and how many tiers back it.
func compose(votes []vote) (domain.Direction, int, bool) {
	if len(votes) < 2 {
		return "", 0, false
	}
	dir := votes[0].direction
	for _, v := range votes[1:] {
		if v.direction != dir {
			return "", 0, false
		}
	}
	return dir, len(votes), true
}

// confidenceFor is the win probability the sizer assumes for a composite
// entry backed by layerCount agreeing tiers.
func confidenceFor(layerCount int) float64 {
	c := 0.55 + 0.05*float64(layerCount)
	if c > 0.75 {
		c = 0.75
	}
	return c
}
