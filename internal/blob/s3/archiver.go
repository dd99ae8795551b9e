package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Archiver writes settled trades and order book snapshots to blob storage
// for later analysis. Archival is best effort and never blocks trading.
type Archiver struct {
	writer domain.BlobWriter
	logger *slog.Logger
	now    func() time.Time
}

func NewArchiver(writer domain.BlobWriter, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
	}
}

// ArchiveSettledTrade uploads one settled trade as JSON, keyed by settlement
// date and trade id.
func (a *Archiver) ArchiveSettledTrade(ctx context.Context, rec domain.TradeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("s3blob: marshal trade %s: %w", rec.ID, err)
	}
	path := fmt.Sprintf("trades/%s/%s-%s.json",
		rec.SettledAt.UTC().Format("2006-01-02"), rec.MarketSlug, rec.ID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return err
	}
	a.logger.Debug("trade archived", slog.String("path", path))
	return nil
}

// ArchiveBookSnapshot uploads the current state of every tracked book as one
// JSON document keyed by capture time.
func (a *Archiver) ArchiveBookSnapshot(ctx context.Context, books map[string]*domain.InstrumentBook) error {
	if len(books) == 0 {
		return nil
	}
	data, err := json.Marshal(books)
	if err != nil {
		return fmt.Errorf("s3blob: marshal book snapshot: %w", err)
	}
	now := a.now().UTC()
	path := fmt.Sprintf("books/%s/%d.json", now.Format("2006-01-02"), now.Unix())
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return err
	}
	a.logger.Debug("book snapshot archived",
		slog.String("path", path),
		slog.Int("instruments", len(books)),
	)
	return nil
}
