package domain

import "time"

// PatternType identifies a whale order-flow pattern.
type PatternType string

const (
	PatternLayering PatternType = "layering"
	PatternSweep    PatternType = "sweep"
	PatternIceberg  PatternType = "iceberg"
	PatternSpoof    PatternType = "spoof"
)

// WhaleSignal is a directional alert emitted by the pattern detector for one
// instrument. Direction is the apparent pressure on that instrument's book;
// the engine maps it onto the market (down-token pressure means DOWN) and
// flips it again when Contrarian is set (spoofing: trade against the
// apparent pressure).
type WhaleSignal struct {
	InstrumentID string
	Pattern      PatternType
	Direction    Direction
	Contrarian   bool
	DetectedAt   time.Time
}

// SignalTier is one source in the priority composition scheme.
type SignalTier int

const (
	TierMispricing SignalTier = iota + 1
	TierWhale
	TierImbalance
	TierMomentum
)

func (t SignalTier) String() string {
	switch t {
	case TierMispricing:
		return "mispricing"
	case TierWhale:
		return "whale"
	case TierImbalance:
		return "imbalance"
	case TierMomentum:
		return "momentum"
	default:
		return "unknown"
	}
}
