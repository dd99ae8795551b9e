package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

const (
	// winnerThreshold is the settlement price above which a side is
	// considered the resolved winner.
	winnerThreshold = 0.98

	gammaRetries    = 5
	gammaRetryDelay = 3 * time.Second
	// DNS failures on the Gamma host tend to persist longer than API
	// hiccups, so they get a longer pause.
	gammaDNSRetryDelay = 8 * time.Second
)

// slugOffsets are the window offsets probed around the current window when
// discovering the active market. Clocks on both ends drift, and a window's
// market is often listed one or two periods ahead.
var slugOffsets = []int{0, 1, -1, 2, -2, 3, 4}

// GammaClient implements domain.Directory against the Gamma REST API.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewGammaClient creates a directory client. baseURL is the Gamma API root,
// e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, logger *slog.Logger) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With(slog.String("component", "gamma")),
		now:    time.Now,
	}
}

// ActiveMarket finds the up/down market whose window contains now for the
// given asset and window length. Candidate slugs are derived from the
// current window start plus the probe offsets; the first candidate that is
// open and accepting orders wins.
func (g *GammaClient) ActiveMarket(ctx context.Context, asset string, windowSeconds int) (domain.Market, error) {
	now := g.now()
	windowStart := now.Unix() - now.Unix()%int64(windowSeconds)

	for _, off := range slugOffsets {
		start := windowStart + int64(off)*int64(windowSeconds)
		slug := domain.MarketSlug(asset, windowSeconds, start)

		m, err := g.marketBySlug(ctx, slug)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return domain.Market{}, err
		}
		if m.Closed || !m.AcceptingOrders {
			continue
		}
		end := start + int64(windowSeconds)
		if now.Unix() >= end {
			continue
		}
		market, err := toMarket(m, asset, windowSeconds, start)
		if err != nil {
			g.logger.Warn("skipping malformed market",
				slog.String("slug", slug),
				slog.String("error", err.Error()),
			)
			continue
		}
		market.SecondsLeft = int(end - now.Unix())
		return market, nil
	}
	return domain.Market{}, fmt.Errorf("polymarket/gamma: no active %s %dm window: %w",
		asset, windowSeconds/60, domain.ErrNotFound)
}

// Resolution reports the winning side for a slug once either outcome's
// settlement price clears the winner threshold.
func (g *GammaClient) Resolution(ctx context.Context, slug string) (domain.Direction, bool, error) {
	m, err := g.marketBySlug(ctx, slug)
	if err != nil {
		return "", false, err
	}
	up, down, err := outcomePrices(m)
	if err != nil {
		return "", false, err
	}
	switch {
	case up >= winnerThreshold:
		return domain.DirectionUp, true, nil
	case down >= winnerThreshold:
		return domain.DirectionDown, true, nil
	default:
		return "", false, nil
	}
}

func (g *GammaClient) marketBySlug(ctx context.Context, slug string) (APIMarket, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: market by slug %s: %w", slug, err)
	}
	var markets []APIMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	if len(markets) == 0 {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: slug %s: %w", slug, domain.ErrNotFound)
	}
	return markets[0], nil
}

func toMarket(m APIMarket, asset string, windowSeconds int, windowStart int64) (domain.Market, error) {
	if len(m.ClobTokenIDs) < 2 {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: market %s has %d token ids", m.Slug, len(m.ClobTokenIDs))
	}
	up, down, err := outcomePrices(m)
	if err != nil {
		return domain.Market{}, err
	}
	start := time.Unix(windowStart, 0).UTC()
	return domain.Market{
		Slug:             m.Slug,
		ConditionID:      m.ConditionID,
		Question:         m.Question,
		Asset:            strings.ToLower(asset),
		WindowStart:      start,
		WindowEnd:        start.Add(time.Duration(windowSeconds) * time.Second),
		WindowSeconds:    windowSeconds,
		UpTokenID:        m.ClobTokenIDs[0],
		DownTokenID:      m.ClobTokenIDs[1],
		UpPrice:          up,
		DownPrice:        down,
		ResolutionSource: m.ResolutionSource,
	}, nil
}

func outcomePrices(m APIMarket) (up, down float64, err error) {
	if len(m.OutcomePrices) < 2 {
		return 0, 0, fmt.Errorf("polymarket/gamma: market %s has %d outcome prices", m.Slug, len(m.OutcomePrices))
	}
	up, err = strconv.ParseFloat(m.OutcomePrices[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("polymarket/gamma: parse up price: %w", err)
	}
	down, err = strconv.ParseFloat(m.OutcomePrices[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("polymarket/gamma: parse down price: %w", err)
	}
	return up, down, nil
}

// doGet sends an unauthenticated GET, retrying transient failures. 404s are
// returned immediately since a missing slug will not appear by retrying
// within one probe.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < gammaRetries; attempt++ {
		if attempt > 0 {
			delay := gammaRetryDelay
			var dnsErr *net.DNSError
			if errors.As(lastErr, &dnsErr) {
				delay = gammaDNSRetryDelay
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := g.getOnce(ctx, path)
		if err == nil {
			return body, nil
		}
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		lastErr = err
		g.logger.Debug("gamma request failed",
			slog.String("path", path),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return nil, lastErr
}

func (g *GammaClient) getOnce(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}
