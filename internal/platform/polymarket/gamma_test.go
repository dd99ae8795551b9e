package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

func TestStringListDecodesBothShapes(t *testing.T) {
	var direct struct {
		Prices stringList `json:"outcomePrices"`
	}
	if err := json.Unmarshal([]byte(`{"outcomePrices":["0.4","0.6"]}`), &direct); err != nil {
		t.Fatalf("array shape: %v", err)
	}
	if len(direct.Prices) != 2 || direct.Prices[0] != "0.4" {
		t.Fatalf("array shape decoded to %v", direct.Prices)
	}

	var encoded struct {
		Prices stringList `json:"outcomePrices"`
	}
	if err := json.Unmarshal([]byte(`{"outcomePrices":"[\"0.4\", \"0.6\"]"}`), &encoded); err != nil {
		t.Fatalf("string shape: %v", err)
	}
	if len(encoded.Prices) != 2 || encoded.Prices[1] != "0.6" {
		t.Fatalf("string shape decoded to %v", encoded.Prices)
	}
}

func gammaServer(t *testing.T, markets map[string]APIMarket) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slug := r.URL.Query().Get("slug")
		m, ok := markets[slug]
		if !ok {
			json.NewEncoder(w).Encode([]APIMarket{})
			return
		}
		json.NewEncoder(w).Encode([]APIMarket{m})
	}))
}

func TestActiveMarketProbesOffsets(t *testing.T) {
	now := time.Unix(1_727_712_400, 0) // 100s into the 1727712300 window
	windowStart := int64(1_727_712_300)
	slug := domain.MarketSlug("btc", 300, windowStart)

	srv := gammaServer(t, map[string]APIMarket{
		slug: {
			Slug:            slug,
			ConditionID:     "0xcond",
			AcceptingOrders: true,
			OutcomePrices:   stringList{"0.45", "0.55"},
			ClobTokenIDs:    stringList{"tok-up", "tok-down"},
		},
	})
	defer srv.Close()

	g := NewGammaClient(srv.URL, slog.Default())
	g.now = func() time.Time { return now }

	m, err := g.ActiveMarket(context.Background(), "btc", 300)
	if err != nil {
		t.Fatalf("ActiveMarket: %v", err)
	}
	if m.Slug != slug {
		t.Fatalf("slug = %s, want %s", m.Slug, slug)
	}
	if m.UpTokenID != "tok-up" || m.DownTokenID != "tok-down" {
		t.Fatalf("token ids = %s/%s", m.UpTokenID, m.DownTokenID)
	}
	if m.SecondsLeft != 200 {
		t.Fatalf("seconds left = %d, want 200", m.SecondsLeft)
	}
}

func TestActiveMarketNoWindow(t *testing.T) {
	srv := gammaServer(t, nil)
	defer srv.Close()

	g := NewGammaClient(srv.URL, slog.Default())
	_, err := g.ActiveMarket(context.Background(), "btc", 300)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestResolution(t *testing.T) {
	slug := "btc-updown-5m-1727712300"
	markets := map[string]APIMarket{
		slug: {
			Slug:          slug,
			Closed:        true,
			OutcomePrices: stringList{"0.999", "0.001"},
			ClobTokenIDs:  stringList{"a", "b"},
		},
	}
	srv := gammaServer(t, markets)
	defer srv.Close()

	g := NewGammaClient(srv.URL, slog.Default())
	outcome, resolved, err := g.Resolution(context.Background(), slug)
	if err != nil {
		t.Fatalf("Resolution: %v", err)
	}
	if !resolved || outcome != domain.DirectionUp {
		t.Fatalf("got %s resolved=%v, want UP resolved", outcome, resolved)
	}

	// Below the winner threshold the market is still undecided.
	m := markets[slug]
	m.OutcomePrices = stringList{"0.95", "0.05"}
	markets[slug] = m
	_, resolved, err = g.Resolution(context.Background(), slug)
	if err != nil {
		t.Fatalf("Resolution: %v", err)
	}
	if resolved {
		t.Fatal("0.95 must not count as resolved")
	}
}
