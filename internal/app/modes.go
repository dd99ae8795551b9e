package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/updownbot/internal/engine"
	"github.com/alanyoungcy/updownbot/internal/feed"
	"github.com/alanyoungcy/updownbot/internal/metrics"
	"github.com/alanyoungcy/updownbot/internal/risk"
	"github.com/alanyoungcy/updownbot/internal/settle"
	"github.com/alanyoungcy/updownbot/internal/whale"
)

// settlePollInterval drives the standalone settle mode.
const settlePollInterval = 30 * time.Second

// TradeMode runs the full stack: both feeds, the whale detector, the signal
// engine with inline settlement, and the metrics endpoint.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	if !a.cfg.PaperMode {
		bal, err := deps.Clob.Balance(ctx)
		if err != nil {
			a.logger.Warn("balance check failed", slog.String("error", err.Error()))
		} else {
			a.logger.Info("venue balance", slog.Float64("usdc", bal))
			if bal < a.cfg.Risk.MaxTradeUSD {
				a.logger.Warn("balance below the per-trade cap, orders may be rejected")
			}
		}
	}

	detector := whale.NewDetector(a.cfg.Whale, a.logger)
	prices := feed.NewPriceStream(*a.cfg, deps.StartCache, a.logger)
	books := feed.NewBookStream(*a.cfg, deps.Snapshots, detector, a.logger)

	resolver := settle.NewResolver(
		deps.Ledger, deps.Directory, deps.Venue, prices, deps.Locker,
		deps.Notifier, archiverOrNil(deps), a.logger,
	)
	eng := engine.New(
		*a.cfg, prices, books, detector, deps.Directory, deps.Venue,
		deps.Ledger, risk.NewSizer(a.cfg.Risk), deps.Notifier, resolver,
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return prices.Run(ctx) })
	g.Go(func() error { return books.Run(ctx) })
	g.Go(func() error { return eng.Run(ctx) })
	a.serveMetrics(ctx, g)
	return g.Wait()
}

// MonitorMode runs the feeds and the whale detector without a venue: it
// tracks the live windows, logs detected patterns and serves metrics, but
// never trades.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	detector := whale.NewDetector(a.cfg.Whale, a.logger)
	prices := feed.NewPriceStream(*a.cfg, deps.StartCache, a.logger)
	books := feed.NewBookStream(*a.cfg, deps.Snapshots, detector, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return prices.Run(ctx) })
	g.Go(func() error { return books.Run(ctx) })
	g.Go(func() error { return a.monitorLoop(ctx, deps, prices, books, detector) })
	a.serveMetrics(ctx, g)
	return g.Wait()
}

func (a *App) monitorLoop(ctx context.Context, deps *Dependencies, prices *feed.PriceStream, books *feed.BookStream, detector *whale.Detector) error {
	refresh := time.NewTicker(time.Duration(a.cfg.Engine.MarketRefreshSec) * time.Second)
	defer refresh.Stop()
	report := time.NewTicker(10 * time.Second)
	defer report.Stop()
	archive := time.NewTicker(time.Minute)
	defer archive.Stop()

	logger := a.logger.With(slog.String("component", "monitor"))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-archive.C:
			if deps.Archiver == nil {
				continue
			}
			if snap := books.Snapshot(); len(snap) > 0 {
				if err := deps.Archiver.ArchiveBookSnapshot(ctx, snap); err != nil {
					logger.Warn("book archive failed", slog.String("error", err.Error()))
				}
			}
		case <-refresh.C:
			var instruments []string
			for _, asset := range a.cfg.Engine.Assets {
				for _, window := range a.cfg.Engine.WindowSeconds {
					m, err := deps.Directory.ActiveMarket(ctx, asset, window)
					if err != nil {
						continue
					}
					instruments = append(instruments, m.UpTokenID, m.DownTokenID)
				}
			}
			books.SetInstruments(ctx, instruments)
			metrics.TrackedMarkets.Set(float64(len(instruments) / 2))
		case <-report.C:
			for _, symbol := range a.cfg.Feeds.Symbols {
				tick, ok := prices.Latest(symbol)
				if !ok {
					continue
				}
				move, _ := prices.Move60s(symbol)
				logger.Info("reference price",
					slog.String("symbol", symbol),
					slog.Float64("value", tick.Value),
					slog.Float64("move_60s", move),
				)
			}
			for _, sig := range detector.Recent(10 * time.Second) {
				logger.Info("whale pattern",
					slog.String("instrument", sig.InstrumentID),
					slog.String("pattern", string(sig.Pattern)),
					slog.String("direction", string(sig.Direction)),
					slog.Bool("contrarian", sig.Contrarian),
				)
			}
		}
	}
}

// SettleMode runs only the settlement resolver against whatever open trades
// the ledger holds, with the price feed up for the reference-price path.
// Useful after a crash or for reconciling a long backlog.
func (a *App) SettleMode(ctx context.Context, deps *Dependencies) error {
	prices := feed.NewPriceStream(*a.cfg, deps.StartCache, a.logger)
	resolver := settle.NewResolver(
		deps.Ledger, deps.Directory, deps.Venue, prices, deps.Locker,
		deps.Notifier, archiverOrNil(deps), a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return prices.Run(ctx) })
	g.Go(func() error {
		t := time.NewTicker(settlePollInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				if err := resolver.SettleDue(ctx); err != nil {
					a.logger.Warn("settlement pass failed", slog.String("error", err.Error()))
				}
				if sum, err := deps.Ledger.SettledProfitSum(ctx); err == nil {
					metrics.RealizedPnlUSD.Set(sum)
				}
			}
		}
	})
	a.serveMetrics(ctx, g)
	return g.Wait()
}

// archiverOrNil avoids handing settle a typed nil interface value.
func archiverOrNil(deps *Dependencies) settle.TradeArchiver {
	if deps.Archiver == nil {
		return nil
	}
	return deps.Archiver
}

func (a *App) serveMetrics(ctx context.Context, g *errgroup.Group) {
	if !a.cfg.Metrics.Enabled {
		return
	}
	srv := metrics.Serve(a.cfg.Metrics.Addr)
	a.logger.Info("metrics endpoint up", slog.String("addr", srv.Addr))
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics shutdown failed", slog.String("error", err.Error()))
		}
		return nil
	})
}
