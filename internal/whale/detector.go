// Package whale detects large-participant order flow patterns from adjacent
// order book states.
package whale

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/config"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/metrics"
)

// Detector observes book transitions and keeps a bounded history of the
// pattern signals it finds. It emits at most one signal per instrument per
// book update, with spoofing taking precedence over sweeps, icebergs and
// layering in that order.
type Detector struct {
	cfg    config.WhaleConfig
	logger *slog.Logger

	mu     sync.Mutex
	recent []domain.WhaleSignal
	state  map[string]*instrumentState

	now func() time.Time
}

type instrumentState struct {
	// large levels currently on the book, keyed by price, with the time
	// each was first seen. Used for spoof detection.
	largeBids map[float64]time.Time
	largeAsks map[float64]time.Time

	// consecutive refill counts for the best level of each side.
	bidRefills int
	askRefills int
}

func NewDetector(cfg config.WhaleConfig, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "whale_detector")),
		state:  make(map[string]*instrumentState),
		now:    time.Now,
	}
}

// Observe implements feed.BookObserver.
func (d *Detector) Observe(prev, cur *domain.InstrumentBook) {
	if cur == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.state[cur.InstrumentID]
	if !ok {
		st = &instrumentState{
			largeBids: make(map[float64]time.Time),
			largeAsks: make(map[float64]time.Time),
		}
		d.state[cur.InstrumentID] = st
	}

	var sig *domain.WhaleSignal
	if prev != nil {
		if sig = d.detectSpoof(st, cur); sig == nil {
			if sig = d.detectSweep(prev, cur); sig == nil {
				if sig = d.detectIceberg(st, prev, cur); sig == nil {
					sig = d.detectLayering(cur)
				}
			}
		}
	}
	d.trackLargeLevels(st, cur)

	if sig == nil {
		return
	}
	sig.InstrumentID = cur.InstrumentID
	sig.DetectedAt = d.now()
	d.recent = append(d.recent, *sig)
	metrics.WhaleSignalsTotal.WithLabelValues(string(sig.Pattern)).Inc()
	if max := d.cfg.MaxRecentSignals; max > 0 && len(d.recent) > max {
		d.recent = append(d.recent[:0], d.recent[len(d.recent)-max:]...)
	}
	d.logger.Info("whale pattern detected",
		slog.String("instrument", cur.InstrumentID),
		slog.String("pattern", string(sig.Pattern)),
		slog.String("direction", string(sig.Direction)),
		slog.Bool("contrarian", sig.Contrarian),
	)
}

// detectSpoof fires when a large level that appeared recently has vanished
// (or shrunk below the large threshold) within the spoof window. The
// apparent pressure was fake, so the signal is contrarian.
func (d *Detector) detectSpoof(st *instrumentState, cur *domain.InstrumentBook) *domain.WhaleSignal {
	window := time.Duration(d.cfg.SpoofWindowSec) * time.Second

	check := func(tracked map[float64]time.Time, side []domain.OrderLevel, dir domain.Direction) *domain.WhaleSignal {
		for price, seen := range tracked {
			if d.now().Sub(seen) > window {
				continue
			}
			if levelSize(side, price) >= d.cfg.LargeOrderSize {
				continue
			}
			delete(tracked, price)
			return &domain.WhaleSignal{
				Pattern:    domain.PatternSpoof,
				Direction:  dir,
				Contrarian: true,
			}
		}
		return nil
	}

	if sig := check(st.largeBids, cur.Bids, domain.DirectionUp); sig != nil {
		return sig
	}
	return check(st.largeAsks, cur.Asks, domain.DirectionDown)
}

// detectSweep fires when enough of the top levels of one side were consumed
// in a single update. Asks swept means aggressive buying.
func (d *Detector) detectSweep(prev, cur *domain.InstrumentBook) *domain.WhaleSignal {
	inspect := 5

	swept := func(before, after []domain.OrderLevel) int {
		n := 0
		for i, l := range before {
			if i >= inspect {
				break
			}
			remaining := levelSize(after, l.Price)
			if remaining < l.Size*(1-d.cfg.SweepDropRatio) {
				n++
			}
		}
		return n
	}

	if swept(prev.Asks, cur.Asks) >= d.cfg.SweepLevels {
		return &domain.WhaleSignal{Pattern: domain.PatternSweep, Direction: domain.DirectionUp}
	}
	if swept(prev.Bids, cur.Bids) >= d.cfg.SweepLevels {
		return &domain.WhaleSignal{Pattern: domain.PatternSweep, Direction: domain.DirectionDown}
	}
	return nil
}

// detectIceberg fires when the best level of a side refills past its
// previous size enough updates in a row, which indicates hidden resting
// size behind it.
func (d *Detector) detectIceberg(st *instrumentState, prev, cur *domain.InstrumentBook) *domain.WhaleSignal {
	refilled := func(before, after []domain.OrderLevel) bool {
		if len(before) == 0 || len(after) == 0 {
			return false
		}
		if before[0].Price != after[0].Price {
			return false
		}
		return after[0].Size > before[0].Size*d.cfg.IcebergRefillRate
	}

	if refilled(prev.Bids, cur.Bids) {
		st.bidRefills++
	} else {
		st.bidRefills = 0
	}
	if refilled(prev.Asks, cur.Asks) {
		st.askRefills++
	} else {
		st.askRefills = 0
	}

	if st.bidRefills >= d.cfg.IcebergRepeats {
		st.bidRefills = 0
		return &domain.WhaleSignal{Pattern: domain.PatternIceberg, Direction: domain.DirectionUp}
	}
	if st.askRefills >= d.cfg.IcebergRepeats {
		st.askRefills = 0
		return &domain.WhaleSignal{Pattern: domain.PatternIceberg, Direction: domain.DirectionDown}
	}
	return nil
}

// detectLayering fires when one side stacks enough large levels at once.
func (d *Detector) detectLayering(cur *domain.InstrumentBook) *domain.WhaleSignal {
	count := func(side []domain.OrderLevel) int {
		n := 0
		for _, l := range side {
			if l.Size >= d.cfg.LargeOrderSize {
				n++
			}
		}
		return n
	}

	if count(cur.Bids) >= d.cfg.LayeringLevels {
		return &domain.WhaleSignal{Pattern: domain.PatternLayering, Direction: domain.DirectionUp}
	}
	if count(cur.Asks) >= d.cfg.LayeringLevels {
		return &domain.WhaleSignal{Pattern: domain.PatternLayering, Direction: domain.DirectionDown}
	}
	return nil
}

func (d *Detector) trackLargeLevels(st *instrumentState, cur *domain.InstrumentBook) {
	track := func(tracked map[float64]time.Time, side []domain.OrderLevel) {
		live := make(map[float64]struct{}, len(side))
		for _, l := range side {
			if l.Size >= d.cfg.LargeOrderSize {
				live[l.Price] = struct{}{}
				if _, ok := tracked[l.Price]; !ok {
					tracked[l.Price] = d.now()
				}
			}
		}
		for price := range tracked {
			if _, ok := live[price]; !ok {
				delete(tracked, price)
			}
		}
	}
	track(st.largeBids, cur.Bids)
	track(st.largeAsks, cur.Asks)
}

func levelSize(side []domain.OrderLevel, price float64) float64 {
	for _, l := range side {
		if l.Price == price {
			return l.Size
		}
	}
	return 0
}

// Recent returns signals detected within maxAge, newest last.
func (d *Detector) Recent(maxAge time.Duration) []domain.WhaleSignal {
	cutoff := d.now().Add(-maxAge)
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.WhaleSignal, 0, len(d.recent))
	for _, s := range d.recent {
		if s.DetectedAt.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}
