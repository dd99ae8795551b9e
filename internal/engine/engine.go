// Package engine runs the signal composition loop: it keeps the set of
// tracked market windows current, evaluates the signal tiers on every tick
// and turns agreeing tiers into sized, recorded, executed trade intents.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/updownbot/internal/config"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/metrics"
	"github.com/alanyoungcy/updownbot/internal/notify"
	"github.com/alanyoungcy/updownbot/internal/risk"
)

// bookMaxAge is how stale a book may be before its quotes are ignored.
const bookMaxAge = 10 * time.Second

// PriceFeed is the slice of the reference price stream the engine needs.
type PriceFeed interface {
	Latest(symbol string) (domain.PriceTick, bool)
	ValueAt(ctx context.Context, symbol string, ts time.Time) (float64, bool)
	Move60s(symbol string) (float64, bool)
}

// BookFeed is the slice of the order book stream the engine needs.
type BookFeed interface {
	SetInstruments(ctx context.Context, ids []string)
	BestAsk(instrumentID string, maxAge time.Duration) (float64, bool)
	Imbalance(upID, downID string) (float64, bool)
}

// WhaleSource reports recent order-flow pattern signals.
type WhaleSource interface {
	Recent(maxAge time.Duration) []domain.WhaleSignal
}

// Settler is invoked periodically from the tick loop to realize finished
// windows.
type Settler interface {
	SettleDue(ctx context.Context) error
}

type marketState struct {
	market    domain.Market
	imbalance *rolling
	placed    bool
}

// Engine owns the tracked market set and the tick loop.
type Engine struct {
	cfg       config.Config
	prices    PriceFeed
	books     BookFeed
	whales    WhaleSource
	directory domain.Directory
	venue     domain.Venue
	ledger    domain.Ledger
	sizer     *risk.Sizer
	notifier  *notify.Notifier
	settler   Settler
	logger    *slog.Logger

	gate      entryGate
	markets   map[string]*marketState
	ticks     int
	startedAt time.Time

	now func() time.Time
}

func New(
	cfg config.Config,
	prices PriceFeed,
	books BookFeed,
	whales WhaleSource,
	directory domain.Directory,
	venue domain.Venue,
	ledger domain.Ledger,
	sizer *risk.Sizer,
	notifier *notify.Notifier,
	settler Settler,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:       cfg,
		prices:    prices,
		books:     books,
		whales:    whales,
		directory: directory,
		venue:     venue,
		ledger:    ledger,
		sizer:     sizer,
		notifier:  notifier,
		settler:   settler,
		logger:    logger.With(slog.String("component", "engine")),
		gate:      entryGate{cfg: cfg.Engine},
		markets:   make(map[string]*marketState),
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// Run drives the loop until the context is cancelled. A panic inside one
// tick is logged and the loop keeps going.
func (e *Engine) Run(ctx context.Context) error {
	e.refreshMarkets(ctx)

	tick := time.NewTicker(time.Duration(e.cfg.Engine.TickMillis) * time.Millisecond)
	defer tick.Stop()
	refresh := time.NewTicker(time.Duration(e.cfg.Engine.MarketRefreshSec) * time.Second)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-refresh.C:
			e.refreshMarkets(ctx)
		case <-tick.C:
			e.safeTick(ctx)
		}
	}
}

func (e *Engine) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tick panicked", slog.Any("panic", r))
			time.Sleep(time.Second)
		}
	}()

	start := e.now()
	e.tick(ctx)
	metrics.EngineTickSeconds.Observe(e.now().Sub(start).Seconds())

	e.ticks++
	if e.settler != nil && e.cfg.Engine.SettleEveryTicks > 0 && e.ticks%e.cfg.Engine.SettleEveryTicks == 0 {
		if err := e.settler.SettleDue(ctx); err != nil {
			e.logger.Warn("settlement pass failed", slog.String("error", err.Error()))
		} else if sum, err := e.ledger.SettledProfitSum(ctx); err == nil {
			e.sizer.SetRealizedProfit(sum)
		}
	}
}

// refreshMarkets polls the directory for the live window of every tracked
// asset and window length, carrying over per-market state for windows that
// are still open, and points the book stream at the new instrument set.
func (e *Engine) refreshMarkets(ctx context.Context) {
	next := make(map[string]*marketState)
	var instruments []string

	for _, asset := range e.cfg.Engine.Assets {
		for _, window := range e.cfg.Engine.WindowSeconds {
			m, err := e.directory.ActiveMarket(ctx, asset, window)
			if err != nil {
				if !errors.Is(err, domain.ErrNotFound) {
					e.logger.Warn("market lookup failed",
						slog.String("asset", asset),
						slog.Int("window", window),
						slog.String("error", err.Error()),
					)
				}
				continue
			}

			st, ok := e.markets[m.Slug]
			if !ok {
				st = &marketState{imbalance: newRolling(e.cfg.Engine.ImbalanceSamples)}
				e.logger.Info("tracking market",
					slog.String("slug", m.Slug),
					slog.Int("seconds_left", m.SecondsLeft),
				)
			}
			if st.market.StartPrice > 0 && m.StartPrice == 0 {
				m.StartPrice = st.market.StartPrice
			}
			st.market = m
			next[m.Slug] = st
			instruments = append(instruments, m.UpTokenID, m.DownTokenID)
		}
	}

	e.markets = next
	e.books.SetInstruments(ctx, instruments)
	metrics.TrackedMarkets.Set(float64(len(next)))

	state := "scanning"
	if len(next) == 0 {
		state = "idle"
	}
	e.logger.Debug("engine state",
		slog.String("state", state),
		slog.Int("markets", len(next)),
		slog.Int("ticks", e.ticks),
		slog.Duration("uptime", e.now().Sub(e.startedAt)),
	)
}

func (e *Engine) tick(ctx context.Context) {
	now := e.now()
	for _, st := range e.markets {
		m := &st.market
		secondsLeft := int(m.WindowEnd.Sub(now).Seconds())
		if secondsLeft <= 0 {
			continue
		}

		if imb, ok := e.books.Imbalance(m.UpTokenID, m.DownTokenID); ok {
			st.imbalance.push(imb)
		}
		if m.StartPrice == 0 {
			if v, ok := e.prices.ValueAt(ctx, m.Asset, m.WindowStart); ok {
				m.StartPrice = v
			}
		}
		if st.placed {
			continue
		}
		e.evaluate(ctx, st, secondsLeft)
	}
}

// evaluate runs the tier ladder for one market. Mispricing short-circuits;
// otherwise at least two of the remaining tiers must agree. A market with no
// resolved start price, or one whose window has not aged into the entry
// window yet, is skipped before any tier runs.
func (e *Engine) evaluate(ctx context.Context, st *marketState, secondsLeft int) {
	m := st.market
	if m.StartPrice == 0 {
		return
	}
	if secondsLeft > e.cfg.Engine.EntryWindowSec {
		return
	}

	upAsk, okUp := e.books.BestAsk(m.UpTokenID, bookMaxAge)
	downAsk, okDown := e.books.BestAsk(m.DownTokenID, bookMaxAge)

	if okUp && okDown {
		sum := upAsk + downAsk
		if sum < e.cfg.Engine.MispriceSumMax {
			size := e.sizer.ArbSize(sum)
			if size > 0 {
				e.place(ctx, st, domain.TradeIntent{
					Direction:      domain.DirectionBoth,
					EntryPrice:     sum,
					SizeUSD:        size,
					ExpectedProfit: size/sum - size,
					Confidence:     1.0,
					SignalType:     domain.TierMispricing.String(),
					LayerCount:     1,
					Reason:         fmt.Sprintf("asks sum %.3f", sum),
				}, upAsk, downAsk)
			}
			return
		}
	}

	if okUp && upAsk > 0 && upAsk < e.cfg.Engine.DeepValueMax {
		e.tryDirectional(ctx, st, secondsLeft, domain.DirectionUp, upAsk, downAsk, deepValueIntent(upAsk))
		return
	}
	if okDown && downAsk > 0 && downAsk < e.cfg.Engine.DeepValueMax {
		e.tryDirectional(ctx, st, secondsLeft, domain.DirectionDown, upAsk, downAsk, deepValueIntent(downAsk))
		return
	}

	votes := e.collectVotes(ctx, st)
	dir, layers, ok := compose(votes)
	if !ok {
		return
	}
	ask := upAsk
	askOK := okUp
	if dir == domain.DirectionDown {
		ask, askOK = downAsk, okDown
	}
	if !askOK || ask <= 0 || ask >= 1 {
		return
	}
	conf := confidenceFor(layers)
	size := e.sizer.Size(domain.TradeTypeOther, layers, conf, ask)
	if size <= 0 {
		return
	}
	e.tryDirectional(ctx, st, secondsLeft, dir, upAsk, downAsk, domain.TradeIntent{
		EntryPrice:     ask,
		SizeUSD:        size,
		ExpectedProfit: size/ask - size,
		Confidence:     conf,
		SignalType:     "composite",
		LayerCount:     layers,
		Reason:         voteReasons(votes),
	})
}

// deepValueIntent builds the partially filled intent for a single deeply
// undervalued side. Sizing happens in tryDirectional's caller path via the
// fields set here.
func deepValueIntent(ask float64) domain.TradeIntent {
	return domain.TradeIntent{
		EntryPrice: ask,
		Confidence: 0.70,
		SignalType: domain.TierMispricing.String(),
		LayerCount: 1,
		Reason:     fmt.Sprintf("deep value ask %.3f", ask),
	}
}

func (e *Engine) collectVotes(ctx context.Context, st *marketState) []vote {
	var votes []vote
	freshness := time.Duration(e.cfg.Engine.WhaleFreshnessSec) * time.Second
	if v, ok := whaleVote(e.whales.Recent(freshness), st.market); ok {
		votes = append(votes, v)
	}
	if v, ok := imbalanceVote(st.imbalance.mean(), st.imbalance.full(), e.cfg.Engine.ImbalanceThreshold); ok {
		votes = append(votes, v)
	}
	outcomes, err := e.ledger.RecentOutcomes(ctx, st.market.Asset, e.cfg.Engine.MomentumLookback)
	if err != nil {
		e.logger.Debug("momentum lookup failed", slog.String("error", err.Error()))
	} else if v, ok := momentumVote(outcomes, e.cfg.Engine.MomentumLookback); ok {
		votes = append(votes, v)
	}
	return votes
}

// tryDirectional applies the entry gate, fills in sizing for deep value
// intents and hands off to place.
func (e *Engine) tryDirectional(ctx context.Context, st *marketState, secondsLeft int, dir domain.Direction, upAsk, downAsk float64, intent domain.TradeIntent) {
	m := st.market
	ref := 0.0
	if tick, ok := e.prices.Latest(m.Asset); ok {
		ref = tick.Value
	}
	move, _ := e.prices.Move60s(m.Asset)

	allowed, why := e.gate.allow(secondsLeft, ref, m.StartPrice, move, intent.EntryPrice)
	if !allowed {
		e.logger.Debug("entry gated",
			slog.String("slug", m.Slug),
			slog.String("direction", string(dir)),
			slog.String("reason", why),
		)
		return
	}

	if intent.SizeUSD == 0 {
		size := e.sizer.Size(domain.TradeTypeLogic, intent.LayerCount, intent.Confidence, intent.EntryPrice)
		if size <= 0 {
			return
		}
		intent.SizeUSD = size
		intent.ExpectedProfit = size/intent.EntryPrice - size
	}
	intent.Direction = dir
	e.place(ctx, st, intent, upAsk, downAsk)
}

// place finalizes the intent, double-checks the one-open-trade rule against
// the ledger, executes and records.
func (e *Engine) place(ctx context.Context, st *marketState, intent domain.TradeIntent, upAsk, downAsk float64) {
	m := st.market

	open, err := e.ledger.HasOpenTrade(ctx, m.Slug)
	if err != nil {
		e.logger.Warn("open trade check failed", slog.String("error", err.Error()))
		return
	}
	if open {
		st.placed = true
		return
	}

	intent.ID = uuid.NewString()
	intent.MarketSlug = m.Slug
	intent.ConditionID = m.ConditionID
	intent.Asset = m.Asset
	intent.UpTokenID = m.UpTokenID
	intent.DownTokenID = m.DownTokenID
	intent.UpPrice = upAsk
	intent.DownPrice = downAsk
	intent.CreatedAt = e.now()

	orderID, err := e.venue.PlaceOrder(ctx, intent)
	if err != nil {
		e.logger.Warn("order placement failed",
			slog.String("slug", m.Slug),
			slog.String("error", err.Error()),
		)
		return
	}
	intent.OrderID = orderID

	if err := e.ledger.RecordIntent(ctx, intent); err != nil {
		e.logger.Error("intent record failed, trade is live but untracked",
			slog.String("slug", m.Slug),
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		return
	}
	st.placed = true

	metrics.TradesPlacedTotal.WithLabelValues(intent.Asset, intent.SignalType).Inc()
	if e.notifier != nil {
		e.notifier.TradePlaced(ctx, intent)
	}
	e.logger.Info("trade placed",
		slog.String("slug", m.Slug),
		slog.String("direction", string(intent.Direction)),
		slog.String("signal", intent.SignalType),
		slog.Int("layers", intent.LayerCount),
		slog.Float64("size_usd", intent.SizeUSD),
		slog.Float64("entry", intent.EntryPrice),
	)
}

func voteReasons(votes []vote) string {
	out := ""
	for i, v := range votes {
		if i > 0 {
			out += ", "
		}
		out += v.tier.String() + ": " + v.reason
	}
	return out
}

// rolling is a fixed-capacity sample window with a running mean.
type rolling struct {
	samples []float64
	max     int
	idx     int
	filled  bool
	sum     float64
}

func newRolling(max int) *rolling {
	if max <= 0 {
		max = 1
	}
	return &rolling{samples: make([]float64, max), max: max}
}

func (r *rolling) push(v float64) {
	r.sum -= r.samples[r.idx]
	r.samples[r.idx] = v
	r.sum += v
	r.idx = (r.idx + 1) % r.max
	if r.idx == 0 {
		r.filled = true
	}
}

func (r *rolling) full() bool { return r.filled }

func (r *rolling) mean() float64 {
	n := r.max
	if !r.filled {
		n = r.idx
	}
	if n == 0 {
		return 0
	}
	return r.sum / float64(n)
}
