package engine

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/updownbot/internal/config"
)

// entryGate decides whether a directional entry is allowed at this moment in
// the window's life. Outside the caution band entries pass freely, all the
// way down to expiry; inside the band the reference price must either still
// sit at the strike or have made a decisive move the market has not repriced
// yet.
type entryGate struct {
	cfg config.EngineConfig
}

// allow reports whether an entry may happen with secondsLeft on the clock.
// ask is the best ask of the side being bought; startPrice is the window
// strike and refPrice the current reference value.
func (g entryGate) allow(secondsLeft int, refPrice, startPrice, move60s, ask float64) (bool, string) {
	if secondsLeft > g.cfg.GateStartSec || secondsLeft < g.cfg.GateEndSec {
		return true, ""
	}

	if startPrice <= 0 || refPrice <= 0 {
		return false, "strike unknown"
	}
	drift := math.Abs(refPrice-startPrice) / startPrice
	if drift <= g.cfg.StrikeTolerance {
		return true, fmt.Sprintf("at strike (drift %.5f)", drift)
	}
	if math.Abs(move60s) >= g.cfg.MinMove60s && ask <= g.cfg.RepriceMaxAsk {
		return true, fmt.Sprintf("riding move %.5f", move60s)
	}
	return false, "inside band without edge"
}
