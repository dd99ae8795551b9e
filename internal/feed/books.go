package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/updownbot/internal/config"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/metrics"
)

// Snapshotter fetches a full order book over REST, used to backfill
// instruments that were added mid-session before their first streamed book.
type Snapshotter interface {
	BookSnapshot(ctx context.Context, instrumentID string) (*domain.InstrumentBook, error)
}

// BookObserver is notified after each applied book update with the previous
// and current state of the instrument.
type BookObserver interface {
	Observe(prev, cur *domain.InstrumentBook)
}

// BookStream maintains live order books for a dynamic set of instruments on
// the market-data websocket. Changing the instrument set forces a reconnect
// with a fresh subscription, which is how the venue expects it.
type BookStream struct {
	url      string
	cfg      config.FeedsConfig
	logger   *slog.Logger
	snap     Snapshotter
	observer BookObserver

	mu      sync.RWMutex
	books   map[string]*domain.InstrumentBook
	wanted  map[string]struct{}
	limiter map[string]*rate.Limiter
	stale   bool

	conn   *websocket.Conn
	connMu sync.Mutex

	now func() time.Time
}

// NewBookStream creates a stream with no instruments. snap and observer are
// both optional.
func NewBookStream(cfg config.Config, snap Snapshotter, observer BookObserver, logger *slog.Logger) *BookStream {
	return &BookStream{
		url:      cfg.Polymarket.BookWSHost,
		cfg:      cfg.Feeds,
		snap:     snap,
		observer: observer,
		logger:   logger.With(slog.String("component", "book_stream")),
		books:    make(map[string]*domain.InstrumentBook),
		wanted:   make(map[string]struct{}),
		limiter:  make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

// SetInstruments replaces the tracked instrument set. Books for removed
// instruments are pruned; if the set changed while connected, the current
// connection is dropped so the reconnect loop resubscribes with the new set.
func (s *BookStream) SetInstruments(ctx context.Context, ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			next[id] = struct{}{}
		}
	}

	s.mu.Lock()
	changed := len(next) != len(s.wanted)
	if !changed {
		for id := range next {
			if _, ok := s.wanted[id]; !ok {
				changed = true
				break
			}
		}
	}
	var added []string
	for id := range next {
		if _, ok := s.wanted[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range s.books {
		if _, ok := next[id]; !ok {
			delete(s.books, id)
			delete(s.limiter, id)
		}
	}
	s.wanted = next
	s.mu.Unlock()

	if !changed {
		return
	}
	s.logger.Info("instrument set changed",
		slog.Int("total", len(next)),
		slog.Int("added", len(added)),
	)
	for _, id := range added {
		go s.backfill(ctx, id)
	}
	s.kick()
}

// kick closes the live connection so Run reconnects and resubscribes.
func (s *BookStream) kick() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
}

// backfill fetches a REST snapshot for an instrument that has no streamed
// book yet. Per-instrument rate limited so directory churn cannot hammer
// the REST API.
func (s *BookStream) backfill(ctx context.Context, id string) {
	if s.snap == nil {
		return
	}
	s.mu.Lock()
	lim, ok := s.limiter[id]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Duration(s.cfg.SnapshotMinIntervalSeconds)*time.Second), 1)
		s.limiter[id] = lim
	}
	_, have := s.books[id]
	s.mu.Unlock()
	if have || !lim.Allow() {
		return
	}

	book, err := s.snap.BookSnapshot(ctx, id)
	if err != nil {
		s.logger.Debug("book snapshot backfill failed",
			slog.String("instrument", id),
			slog.String("error", err.Error()),
		)
		return
	}
	s.mu.Lock()
	// A streamed book may have landed while the snapshot was in flight;
	// the stream is fresher, keep it.
	if _, have := s.books[id]; !have {
		s.books[id] = book
	}
	s.mu.Unlock()
}

// Run connects and reads until ctx is cancelled, reconnecting with backoff.
// With an empty instrument set it idles until SetInstruments is called.
func (s *BookStream) Run(ctx context.Context) error {
	bo := newBackoff(
		time.Duration(s.cfg.ReconnectBaseSeconds)*time.Second,
		time.Duration(s.cfg.ReconnectMaxSeconds)*time.Second,
		time.Duration(s.cfg.RateLimitWaitSeconds)*time.Second,
	)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(s.instruments()) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		err := s.runOnce(ctx, bo)
		s.markStale()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rateLimited := isRateLimited(err)
		delay := bo.Next(rateLimited)
		metrics.FeedReconnectsTotal.WithLabelValues("books").Inc()
		s.logger.Warn("book stream disconnected",
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

func (s *BookStream) markStale() {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
}

func (s *BookStream) instruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.wanted))
	for id := range s.wanted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *BookStream) runOnce(ctx context.Context, bo *backoff) error {
	ids := s.instruments()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("feed: dial books: %w", err)
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

	sub := map[string]any{"assets_ids": ids, "type": "market"}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("feed: book subscribe: %w", err)
	}
	s.logger.Info("book stream connected", slog.Int("instruments", len(ids)))

	connectedAt := s.now()
	pingTicker := time.NewTicker(time.Duration(s.cfg.BookPingSeconds) * time.Second)
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
			// The market feed uses literal text keepalives, not ws pings.
			s.connMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, []byte("PING"))
			s.connMu.Unlock()
			if err != nil {
				return fmt.Errorf("feed: book ping: %w", err)
			}
		}
	}
}

type bookEvent struct {
	EventType string      `json:"event_type"`
	AssetID   string      `json:"asset_id"`
	Bids      []wireLevel `json:"bids"`
	Asks      []wireLevel `json:"asks"`
	Changes   []wireDelta `json:"changes"`
	Timestamp string      `json:"timestamp"`
}

type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wireDelta struct {
	Price string `json:"price"`
	Side  string `json:"side"`
	Size  string `json:"size"`
}

func (s *BookStream) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: book read: %w", err)
		}
		if string(data) == "PONG" || string(data) == "PING" {
			continue
		}
		// The feed sends either a single event object or an array of them.
		var events []bookEvent
		if len(data) > 0 && data[0] == '[' {
			if err := json.Unmarshal(data, &events); err != nil {
				continue
			}
		} else {
			var ev bookEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			events = append(events, ev)
		}
		for _, ev := range events {
			s.apply(ev)
		}
	}
}

func (s *BookStream) apply(ev bookEvent) {
	if ev.AssetID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wanted[ev.AssetID]; !ok {
		return
	}
	metrics.BookUpdatesTotal.WithLabelValues(ev.EventType).Inc()
	s.stale = false

	prev := s.books[ev.AssetID]
	var cur *domain.InstrumentBook

	switch ev.EventType {
	case "book":
		cur = &domain.InstrumentBook{
			InstrumentID: ev.AssetID,
			Bids:         parseLevels(ev.Bids, true),
			Asks:         parseLevels(ev.Asks, false),
			UpdatedAt:    s.now(),
		}
	case "price_change":
		if prev == nil {
			// Deltas without a base book cannot be applied.
			return
		}
		cur = prev.Clone()
		for _, d := range ev.Changes {
			price := parseFloat(d.Price)
			size := parseFloat(d.Size)
			switch d.Side {
			case "BUY", "buy":
				cur.Bids = patchSide(cur.Bids, price, size, true)
			case "SELL", "sell":
				cur.Asks = patchSide(cur.Asks, price, size, false)
			}
		}
		cur.UpdatedAt = s.now()
	default:
		return
	}

	if len(cur.Bids) > 0 {
		cur.BestBid = cur.Bids[0].Price
	}
	if len(cur.Asks) > 0 {
		cur.BestAsk = cur.Asks[0].Price
	}
	cur.Previous = prev
	if prev != nil {
		// Keep only one generation of history; detectors compare adjacent
		// states and deeper chains would pin every book ever seen.
		prev.Previous = nil
	}
	s.books[ev.AssetID] = cur

	if s.observer != nil {
		s.observer.Observe(prev, cur)
	}
}

func parseLevels(levels []wireLevel, descending bool) []domain.OrderLevel {
	out := make([]domain.OrderLevel, 0, len(levels))
	for _, l := range levels {
		p := parseFloat(l.Price)
		sz := parseFloat(l.Size)
		if p <= 0 || sz <= 0 {
			continue
		}
		out = append(out, domain.OrderLevel{Price: p, Size: sz})
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

// patchSide applies one delta level. Size zero removes the level.
func patchSide(side []domain.OrderLevel, price, size float64, descending bool) []domain.OrderLevel {
	for i, l := range side {
		if l.Price == price {
			if size <= 0 {
				return append(side[:i], side[i+1:]...)
			}
			side[i].Size = size
			return side
		}
	}
	if size <= 0 {
		return side
	}
	side = append(side, domain.OrderLevel{Price: price, Size: size})
	sort.Slice(side, func(i, j int) bool {
		if descending {
			return side[i].Price > side[j].Price
		}
		return side[i].Price < side[j].Price
	})
	return side
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// Book returns the current book for an instrument.
func (s *BookStream) Book(instrumentID string) (*domain.InstrumentBook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[instrumentID]
	return b, ok
}

// BestAsk returns the best ask price, or false when there is no book, the
// book has no asks, or the book is stale.
func (s *BookStream) BestAsk(instrumentID string, maxAge time.Duration) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[instrumentID]
	if !ok || !b.HasAsk() {
		return 0, false
	}
	if maxAge > 0 && s.now().Sub(b.UpdatedAt) > maxAge {
		return 0, false
	}
	return b.BestAsk, true
}

// Imbalance returns (bidVolume-askVolume)/(bidVolume+askVolume) over the top
// configured levels of both instruments' books, read together so pressure on
// either side of the market counts. Range is [-1, 1]; positive means bid
// pressure. Reports false while the stream is disconnected, since a frozen
// book says nothing about current flow.
func (s *BookStream) Imbalance(upID, downID string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stale {
		return 0, false
	}
	var bidVol, askVol float64
	seen := false
	for _, id := range []string{upID, downID} {
		b, ok := s.books[id]
		if !ok {
			continue
		}
		seen = true
		for i, l := range b.Bids {
			if i >= s.cfg.TopLevels {
				break
			}
			bidVol += l.Size
		}
		for i, l := range b.Asks {
			if i >= s.cfg.TopLevels {
				break
			}
			askVol += l.Size
		}
	}
	total := bidVol + askVol
	if !seen || total == 0 {
		return 0, false
	}
	return (bidVol - askVol) / total, true
}

// Snapshot returns a copy of every tracked book, for archival.
func (s *BookStream) Snapshot() map[string]*domain.InstrumentBook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*domain.InstrumentBook, len(s.books))
	for id, b := range s.books {
		out[id] = b.Clone()
	}
	return out
}
