package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/updownbot/internal/config"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/metrics"
)

const priceTopic = "crypto_prices_chainlink"

// PriceStream maintains a rolling window of reference price ticks per symbol
// from the live-data websocket. All reads are served from memory; the
// websocket is fully owned by Run.
type PriceStream struct {
	url     string
	symbols []string
	cfg     config.FeedsConfig
	logger  *slog.Logger

	// startCache, when set, persists window-start lookups across restarts.
	startCache domain.StartPriceCache

	mu    sync.RWMutex
	ticks map[string][]domain.PriceTick
	memo  map[string]memoEntry

	conn   *websocket.Conn
	connMu sync.Mutex

	now func() time.Time
}

type memoEntry struct {
	value    float64
	cachedAt time.Time
}

// NewPriceStream creates a stream for the configured symbols. startCache may
// be nil.
func NewPriceStream(cfg config.Config, startCache domain.StartPriceCache, logger *slog.Logger) *PriceStream {
	return &PriceStream{
		url:        cfg.Polymarket.PriceWSHost,
		symbols:    cfg.Feeds.Symbols,
		cfg:        cfg.Feeds,
		startCache: startCache,
		logger:     logger.With(slog.String("component", "price_stream")),
		ticks:      make(map[string][]domain.PriceTick),
		memo:       make(map[string]memoEntry),
		now:        time.Now,
	}
}

// Run connects and reads until ctx is cancelled, reconnecting with backoff
// on any failure.
func (s *PriceStream) Run(ctx context.Context) error {
	bo := newBackoff(
		time.Duration(s.cfg.ReconnectBaseSeconds)*time.Second,
		time.Duration(s.cfg.ReconnectMaxSeconds)*time.Second,
		time.Duration(s.cfg.RateLimitWaitSeconds)*time.Second,
	)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := s.runOnce(ctx, bo)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rateLimited := isRateLimited(err)
		delay := bo.Next(rateLimited)
		metrics.FeedReconnectsTotal.WithLabelValues("prices").Inc()
		s.logger.Warn("price stream disconnected",
			slog.String("error", errString(err)),
			slog.Bool("rate_limited", rateLimited),
			slog.Duration("retry_in", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (s *PriceStream) runOnce(ctx context.Context, bo *backoff) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("feed: dial prices: %w", err)
	}
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		conn.Close()
	}()

	if err := s.subscribe(conn); err != nil {
		return err
	}
	s.logger.Info("price stream connected", slog.Int("symbols", len(s.symbols)))

	connectedAt := s.now()
	pingTicker := time.NewTicker(time.Duration(s.cfg.PricePingSeconds) * time.Second)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- s.readLoop(conn) }()

	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()
		case err := <-errCh:
			if s.now().Sub(connectedAt) > time.Minute {
				bo.Reset()
			}
			return err
		case <-pingTicker.C:
			s.connMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, s.now().Add(10*time.Second))
			s.connMu.Unlock()
			if err != nil {
				return fmt.Errorf("feed: price ping: %w", err)
			}
		}
	}
}

type priceSubscription struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Filters string `json:"filters"`
}

func (s *PriceStream) subscribe(conn *websocket.Conn) error {
	subs := make([]priceSubscription, 0, len(s.symbols))
	for _, sym := range s.symbols {
		filters, _ := json.Marshal(map[string]string{"symbol": sym + "/usd"})
		subs = append(subs, priceSubscription{
			Topic:   priceTopic,
			Type:    "*",
			Filters: string(filters),
		})
	}
	msg := map[string]any{"action": "subscribe", "subscriptions": subs}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("feed: price subscribe: %w", err)
	}
	return nil
}

type priceMessage struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload struct {
		Symbol    string  `json:"symbol"`
		Value     float64 `json:"value"`
		Timestamp int64   `json:"timestamp"`
	} `json:"payload"`
}

func (s *PriceStream) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: price read: %w", err)
		}
		var msg priceMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Topic != priceTopic || msg.Payload.Symbol == "" {
			continue
		}
		sym := strings.ToLower(strings.TrimSuffix(msg.Payload.Symbol, "/usd"))
		s.record(domain.PriceTick{
			Symbol:      sym,
			TimestampMS: msg.Payload.Timestamp,
			Value:       msg.Payload.Value,
		})
	}
}

func (s *PriceStream) record(tick domain.PriceTick) {
	if tick.Value <= 0 {
		return
	}
	metrics.PriceTicksTotal.WithLabelValues(tick.Symbol).Inc()
	cutoff := s.now().Add(-time.Duration(s.cfg.RetentionSeconds) * time.Second).UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	buf := append(s.ticks[tick.Symbol], tick)
	// Drop expired ticks from the front. Ticks arrive in order, so a single
	// scan suffices.
	i := 0
	for i < len(buf) && buf[i].TimestampMS < cutoff {
		i++
	}
	if i > 0 {
		buf = append(buf[:0], buf[i:]...)
	}
	s.ticks[tick.Symbol] = buf
}

// Latest returns the most recent tick for symbol.
func (s *PriceStream) Latest(symbol string) (domain.PriceTick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.ticks[symbol]
	if len(buf) == 0 {
		return domain.PriceTick{}, false
	}
	return buf[len(buf)-1], true
}

// ValueAt returns the reference price at ts. The last tick at or before ts
// wins; if ts is within the new-window grace of now and no earlier tick
// exists, the earliest buffered tick is used so a freshly opened window still
// gets a start price. Results are memoized per (symbol, ts) because a
// window's start price must never drift between calls.
func (s *PriceStream) ValueAt(ctx context.Context, symbol string, ts time.Time) (float64, bool) {
	key := fmt.Sprintf("%s:%d", symbol, ts.Unix())

	s.mu.RLock()
	if e, ok := s.memo[key]; ok {
		s.mu.RUnlock()
		return e.value, true
	}
	s.mu.RUnlock()

	if s.startCache != nil {
		if v, err := s.startCache.Get(ctx, symbol, ts.Unix()); err == nil && v > 0 {
			s.memoize(key, v)
			return v, true
		}
	}

	v, ok := s.lookup(symbol, ts)
	if !ok {
		return 0, false
	}
	s.memoize(key, v)
	if s.startCache != nil {
		if err := s.startCache.Put(ctx, symbol, ts.Unix(), v); err != nil {
			s.logger.Debug("start price cache put failed", slog.String("error", err.Error()))
		}
	}
	return v, true
}

func (s *PriceStream) lookup(symbol string, ts time.Time) (float64, bool) {
	target := ts.UnixMilli()

	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.ticks[symbol]
	if len(buf) == 0 {
		return 0, false
	}
	// The value at ts is the last tick at or before it.
	idx := sort.Search(len(buf), func(i int) bool {
		return buf[i].TimestampMS > target
	})
	if idx > 0 {
		return buf[idx-1].Value, true
	}
	// Every buffered tick is newer than ts. For a window that just opened
	// the feed may simply not have produced a tick before the boundary yet;
	// accept the earliest buffered one while the window is fresh.
	grace := time.Duration(s.cfg.NewWindowGraceSeconds) * time.Second
	if s.now().Sub(ts) < grace {
		return buf[0].Value, true
	}
	return 0, false
}

func (s *PriceStream) memoize(key string, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memo[key] = memoEntry{value: v, cachedAt: s.now()}
	if len(s.memo) > 4096 {
		cutoff := s.now().Add(-time.Duration(s.cfg.StartPriceCacheSeconds) * time.Second)
		for k, e := range s.memo {
			if e.cachedAt.Before(cutoff) {
				delete(s.memo, k)
			}
		}
	}
}

// Move60s returns the fractional price change over the trailing 60 seconds,
// or false if the buffer does not span that far back.
func (s *PriceStream) Move60s(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.ticks[symbol]
	if len(buf) < 2 {
		return 0, false
	}
	latest := buf[len(buf)-1]
	target := latest.TimestampMS - 60_000
	idx := sort.Search(len(buf), func(i int) bool {
		return buf[i].TimestampMS >= target
	})
	if idx >= len(buf)-1 {
		return 0, false
	}
	base := buf[idx]
	if base.Value == 0 {
		return 0, false
	}
	return (latest.Value - base.Value) / base.Value, true
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "rate limit")
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}
