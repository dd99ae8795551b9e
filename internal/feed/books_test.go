package feed

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/updownbot/internal/config"
)

func newTestBookStream() *BookStream {
	cfg := config.Defaults()
	s := NewBookStream(cfg, nil, nil, slog.Default())
	s.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	s.SetInstruments(context.Background(), []string{"tok-up"})
	return s
}

func fullBook() bookEvent {
	return bookEvent{
		EventType: "book",
		AssetID:   "tok-up",
		Bids: []wireLevel{
			{Price: "0.40", Size: "100"},
			{Price: "0.42", Size: "50"},
			{Price: "0.38", Size: "200"},
		},
		Asks: []wireLevel{
			{Price: "0.45", Size: "80"},
			{Price: "0.44", Size: "30"},
			{Price: "0.50", Size: "400"},
		},
	}
}

func TestApplyBookSortsSides(t *testing.T) {
	s := newTestBookStream()
	s.apply(fullBook())

	b, ok := s.Book("tok-up")
	if !ok {
		t.Fatal("book missing after full snapshot")
	}
	if b.BestBid != 0.42 || b.BestAsk != 0.44 {
		t.Fatalf("top of book = %v/%v, want 0.42/0.44", b.BestBid, b.BestAsk)
	}
	for i := 1; i < len(b.Bids); i++ {
		if b.Bids[i].Price > b.Bids[i-1].Price {
			t.Fatal("bids not sorted descending")
		}
	}
	for i := 1; i < len(b.Asks); i++ {
		if b.Asks[i].Price < b.Asks[i-1].Price {
			t.Fatal("asks not sorted ascending")
		}
	}
}

func TestApplyPriceChangePatchesLevels(t *testing.T) {
	s := newTestBookStream()
	s.apply(fullBook())
	s.apply(bookEvent{
		EventType: "price_change",
		AssetID:   "tok-up",
		Changes: []wireDelta{
			{Price: "0.44", Side: "SELL", Size: "0"},   // remove best ask
			{Price: "0.41", Side: "BUY", Size: "75"},   // new bid level
			{Price: "0.40", Side: "BUY", Size: "10"},   // resize existing
		},
	})

	b, _ := s.Book("tok-up")
	if b.BestAsk != 0.45 {
		t.Fatalf("best ask after removal = %v, want 0.45", b.BestAsk)
	}
	var found bool
	for _, l := range b.Bids {
		if l.Price == 0.40 && l.Size == 10 {
			found = true
		}
	}
	if !found {
		t.Fatal("resized bid level not applied")
	}
	if b.BestBid != 0.42 {
		t.Fatalf("best bid = %v, want 0.42", b.BestBid)
	}
}

func TestApplyPriceChangeWithoutBaseIsIgnored(t *testing.T) {
	s := newTestBookStream()
	s.apply(bookEvent{
		EventType: "price_change",
		AssetID:   "tok-up",
		Changes:   []wireDelta{{Price: "0.44", Side: "SELL", Size: "5"}},
	})
	if _, ok := s.Book("tok-up"); ok {
		t.Fatal("delta without base book must not create a book")
	}
}

func TestImbalanceSpansBothBooks(t *testing.T) {
	s := newTestBookStream()
	s.SetInstruments(context.Background(), []string{"tok-up", "tok-down"})
	s.apply(fullBook())

	// Only the up book so far: bids 100+50+200=350, asks 80+30+400=510.
	imb, ok := s.Imbalance("tok-up", "tok-down")
	if !ok {
		t.Fatal("expected imbalance")
	}
	want := (350.0 - 510.0) / 860.0
	if imb < want-1e-9 || imb > want+1e-9 {
		t.Fatalf("imbalance = %v, want %v", imb, want)
	}

	s.apply(bookEvent{
		EventType: "book",
		AssetID:   "tok-down",
		Bids:      []wireLevel{{Price: "0.50", Size: "250"}},
		Asks:      []wireLevel{{Price: "0.55", Size: "90"}},
	})

	// Both books: bids 350+250=600, asks 510+90=600.
	imb, ok = s.Imbalance("tok-up", "tok-down")
	if !ok {
		t.Fatal("expected imbalance")
	}
	if imb < -1e-9 || imb > 1e-9 {
		t.Fatalf("imbalance = %v, want 0 for balanced combined books", imb)
	}
}

func TestImbalanceSuppressedWhileDisconnected(t *testing.T) {
	s := newTestBookStream()
	s.apply(fullBook())

	s.markStale()
	if _, ok := s.Imbalance("tok-up", "tok-down"); ok {
		t.Fatal("disconnected stream must not report imbalance")
	}

	// The next applied update marks the stream live again.
	s.apply(fullBook())
	if _, ok := s.Imbalance("tok-up", "tok-down"); !ok {
		t.Fatal("expected imbalance after the stream resumed")
	}
}

func TestBestAskStaleness(t *testing.T) {
	s := newTestBookStream()
	s.apply(fullBook())

	if _, ok := s.BestAsk("tok-up", time.Minute); !ok {
		t.Fatal("fresh book reported stale")
	}
	s.now = func() time.Time { return time.Unix(1_700_000_000, 0).Add(2 * time.Minute) }
	if _, ok := s.BestAsk("tok-up", time.Minute); ok {
		t.Fatal("stale book reported fresh")
	}
}

func TestSetInstrumentsPrunesRemoved(t *testing.T) {
	s := newTestBookStream()
	s.apply(fullBook())
	s.SetInstruments(context.Background(), []string{"tok-down"})
	if _, ok := s.Book("tok-up"); ok {
		t.Fatal("book for removed instrument not pruned")
	}
}

func TestApplyIgnoresUntrackedInstrument(t *testing.T) {
	s := newTestBookStream()
	ev := fullBook()
	ev.AssetID = "stranger"
	s.apply(ev)
	if _, ok := s.Book("stranger"); ok {
		t.Fatal("untracked instrument must be dropped")
	}
}
