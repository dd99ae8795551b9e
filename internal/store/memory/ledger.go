// Package memory provides an in-memory ledger used when no database is
// configured. State is lost on restart, which is acceptable for paper
// trading and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Ledger implements domain.Ledger in process memory.
type Ledger struct {
	mu       sync.RWMutex
	trades   map[string]*domain.TradeRecord // by trade id
	outcomes map[string]domain.SettlementRecord
}

func NewLedger() *Ledger {
	return &Ledger{
		trades:   make(map[string]*domain.TradeRecord),
		outcomes: make(map[string]domain.SettlementRecord),
	}
}

func (l *Ledger) HasOpenTrade(ctx context.Context, slug string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.trades {
		if t.MarketSlug == slug && !t.Settled() {
			return true, nil
		}
	}
	return false, nil
}

func (l *Ledger) RecordIntent(ctx context.Context, intent domain.TradeIntent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.trades[intent.ID]; ok {
		return fmt.Errorf("memory: trade %s: %w", intent.ID, domain.ErrAlreadyExists)
	}
	l.trades[intent.ID] = &domain.TradeRecord{TradeIntent: intent, Status: "open"}
	return nil
}

func (l *Ledger) ListUnsettled(ctx context.Context) ([]domain.TradeRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.TradeRecord
	for _, t := range l.trades {
		if !t.Settled() {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (l *Ledger) RecordSettlement(ctx context.Context, tradeID string, outcome domain.Direction, profit float64, settledAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.trades[tradeID]
	if !ok {
		return fmt.Errorf("memory: trade %s: %w", tradeID, domain.ErrNotFound)
	}
	if t.Settled() {
		return fmt.Errorf("memory: trade %s: %w", tradeID, domain.ErrAlreadyExists)
	}
	t.Outcome = outcome
	t.Profit = profit
	t.SettledAt = settledAt
	if profit > 0 {
		t.Status = "won"
	} else {
		t.Status = "lost"
	}
	return nil
}

func (l *Ledger) OutcomeBySlug(ctx context.Context, slug string) (domain.SettlementRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.outcomes[slug]
	if !ok {
		return domain.SettlementRecord{}, fmt.Errorf("memory: outcome for %s: %w", slug, domain.ErrNotFound)
	}
	return rec, nil
}

func (l *Ledger) InsertOutcome(ctx context.Context, rec domain.SettlementRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.outcomes[rec.MarketSlug]; ok {
		return nil
	}
	l.outcomes[rec.MarketSlug] = rec
	return nil
}

func (l *Ledger) RecentOutcomes(ctx context.Context, asset string, limit int) ([]domain.Direction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	type keyed struct {
		start   int64
		outcome domain.Direction
	}
	var recs []keyed
	for slug, rec := range l.outcomes {
		a, _, start, err := domain.ParseSlug(slug)
		if err != nil || a != asset {
			continue
		}
		recs = append(recs, keyed{start: start, outcome: rec.Outcome})
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].start > recs[j].start })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	out := make([]domain.Direction, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.outcome)
	}
	return out, nil
}

func (l *Ledger) SettledProfitSum(ctx context.Context) (float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var sum float64
	for _, t := range l.trades {
		if t.Settled() {
			sum += t.Profit
		}
	}
	return sum, nil
}
