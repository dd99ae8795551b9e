// Package notify dispatches operator alerts to the configured channels
// (Telegram, Discord, Kafka) with per-event-type filtering.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Event types emitted by the bot.
const (
	EventTradePlaced  = "trade_placed"
	EventTradeSettled = "trade_settled"
	EventFeedDown     = "feed_down"
	EventError        = "error"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to all senders, filtered by event type. An empty
// event list allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify forwards the message to every sender if the event type passes the
// filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// TradePlaced formats and sends a trade-entry alert.
func (n *Notifier) TradePlaced(ctx context.Context, intent domain.TradeIntent) {
	msg := fmt.Sprintf("%s %s $%.2f @ %.3f\nsignal: %s (%d tiers)\n%s",
		intent.MarketSlug, intent.Direction, intent.SizeUSD, intent.EntryPrice,
		intent.SignalType, intent.LayerCount, intent.Reason)
	if err := n.Notify(ctx, EventTradePlaced, "Trade placed", msg); err != nil {
		n.logger.Warn("trade placed alert failed", slog.String("error", err.Error()))
	}
}

// TradeSettled formats and sends a settlement alert.
func (n *Notifier) TradeSettled(ctx context.Context, rec domain.TradeRecord) {
	verdict := "LOST"
	if rec.Profit > 0 {
		verdict = "WON"
	}
	msg := fmt.Sprintf("%s %s %s\npnl: %+.2f USD (outcome %s)",
		rec.MarketSlug, rec.Direction, verdict, rec.Profit, rec.Outcome)
	if err := n.Notify(ctx, EventTradeSettled, "Trade settled", msg); err != nil {
		n.logger.Warn("trade settled alert failed", slog.String("error", err.Error()))
	}
}

// FeedDown alerts on a streaming feed that keeps failing to reconnect.
func (n *Notifier) FeedDown(ctx context.Context, feed string, err error) {
	msg := fmt.Sprintf("%s feed is down: %v", feed, err)
	if nerr := n.Notify(ctx, EventFeedDown, "Feed down", msg); nerr != nil {
		n.logger.Warn("feed down alert failed", slog.String("error", nerr.Error()))
	}
}

// dispatch delivers to every sender; one failing channel does not block the
// rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
