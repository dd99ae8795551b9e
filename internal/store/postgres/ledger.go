package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Ledger implements domain.Ledger on PostgreSQL.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

func (l *Ledger) HasOpenTrade(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM trades WHERE market_slug = $1 AND outcome IS NULL)",
		slug,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: has open trade: %w", err)
	}
	return exists, nil
}

func (l *Ledger) RecordIntent(ctx context.Context, intent domain.TradeIntent) error {
	const query = `
		INSERT INTO trades (
			id, market_slug, condition_id, asset, direction,
			up_token_id, down_token_id,
			entry_price, up_price, down_price, size_usd,
			expected_profit, confidence, signal_type, layer_count,
			reason, order_id, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18
		)`
	_, err := l.pool.Exec(ctx, query,
		intent.ID, intent.MarketSlug, intent.ConditionID, intent.Asset, string(intent.Direction),
		intent.UpTokenID, intent.DownTokenID,
		intent.EntryPrice, intent.UpPrice, intent.DownPrice, intent.SizeUSD,
		intent.ExpectedProfit, intent.Confidence, intent.SignalType, intent.LayerCount,
		intent.Reason, intent.OrderID, intent.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record intent: %w", err)
	}
	return nil
}

const tradeSelectCols = `id, market_slug, condition_id, asset, direction,
	up_token_id, down_token_id,
	entry_price, up_price, down_price, size_usd,
	expected_profit, confidence, signal_type, layer_count,
	reason, order_id, created_at,
	outcome, profit, status, settled_at`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var direction string
		var outcome *string
		var profit *float64
		var settledAt *time.Time
		if err := rows.Scan(
			&t.ID, &t.MarketSlug, &t.ConditionID, &t.Asset, &direction,
			&t.UpTokenID, &t.DownTokenID,
			&t.EntryPrice, &t.UpPrice, &t.DownPrice, &t.SizeUSD,
			&t.ExpectedProfit, &t.Confidence, &t.SignalType, &t.LayerCount,
			&t.Reason, &t.OrderID, &t.CreatedAt,
			&outcome, &profit, &t.Status, &settledAt,
		); err != nil {
			return nil, err
		}
		t.Direction = domain.Direction(direction)
		if outcome != nil {
			t.Outcome = domain.Direction(*outcome)
		}
		if profit != nil {
			t.Profit = *profit
		}
		if settledAt != nil {
			t.SettledAt = *settledAt
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (l *Ledger) ListUnsettled(ctx context.Context) ([]domain.TradeRecord, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE outcome IS NULL ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unsettled: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan unsettled: %w", err)
	}
	return trades, nil
}

func (l *Ledger) RecordSettlement(ctx context.Context, tradeID string, outcome domain.Direction, profit float64, settledAt time.Time) error {
	status := "lost"
	if profit > 0 {
		status = "won"
	}
	tag, err := l.pool.Exec(ctx, `
		UPDATE trades
		SET outcome = $2, profit = $3, status = $4, settled_at = $5
		WHERE id = $1 AND outcome IS NULL`,
		tradeID, string(outcome), profit, status, settledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record settlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := l.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM trades WHERE id = $1)", tradeID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: verify settlement target: %w", err)
		}
		if exists {
			return fmt.Errorf("postgres: trade %s: %w", tradeID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: trade %s: %w", tradeID, domain.ErrNotFound)
	}
	return nil
}

func (l *Ledger) OutcomeBySlug(ctx context.Context, slug string) (domain.SettlementRecord, error) {
	var rec domain.SettlementRecord
	var outcome string
	err := l.pool.QueryRow(ctx, `
		SELECT market_slug, condition_id, outcome, resolved_at
		FROM window_outcomes WHERE market_slug = $1`,
		slug,
	).Scan(&rec.MarketSlug, &rec.ConditionID, &outcome, &rec.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SettlementRecord{}, fmt.Errorf("postgres: outcome for %s: %w", slug, domain.ErrNotFound)
	}
	if err != nil {
		return domain.SettlementRecord{}, fmt.Errorf("postgres: outcome by slug: %w", err)
	}
	rec.Outcome = domain.Direction(outcome)
	return rec, nil
}

func (l *Ledger) InsertOutcome(ctx context.Context, rec domain.SettlementRecord) error {
	asset, _, windowStart, err := domain.ParseSlug(rec.MarketSlug)
	if err != nil {
		asset, windowStart = "", 0
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO window_outcomes (market_slug, condition_id, asset, window_start, outcome, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market_slug) DO NOTHING`,
		rec.MarketSlug, rec.ConditionID, asset, windowStart, string(rec.Outcome), rec.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert outcome: %w", err)
	}
	return nil
}

func (l *Ledger) RecentOutcomes(ctx context.Context, asset string, limit int) ([]domain.Direction, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT outcome FROM window_outcomes
		WHERE asset = $1
		ORDER BY window_start DESC
		LIMIT $2`,
		asset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.Direction
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		out = append(out, domain.Direction(o))
	}
	return out, rows.Err()
}

func (l *Ledger) SettledProfitSum(ctx context.Context) (float64, error) {
	var sum float64
	err := l.pool.QueryRow(ctx,
		"SELECT COALESCE(SUM(profit), 0) FROM trades WHERE outcome IS NOT NULL",
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: settled profit sum: %w", err)
	}
	return sum, nil
}
