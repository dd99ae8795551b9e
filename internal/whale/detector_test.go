package whale

import (
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/updownbot/internal/config"
	"github.com/alanyoungcy/updownbot/internal/domain"
)

func newTestDetector() (*Detector, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	d := NewDetector(config.Defaults().Whale, slog.Default())
	d.now = func() time.Time { return now }
	return d, &now
}

func book(id string, bids, asks []domain.OrderLevel) *domain.InstrumentBook {
	return &domain.InstrumentBook{InstrumentID: id, Bids: bids, Asks: asks}
}

func levels(pairs ...float64) []domain.OrderLevel {
	out := make([]domain.OrderLevel, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.OrderLevel{Price: pairs[i], Size: pairs[i+1]})
	}
	return out
}

func lastSignal(t *testing.T, d *Detector) domain.WhaleSignal {
	t.Helper()
	sigs := d.Recent(time.Minute)
	if len(sigs) == 0 {
		t.Fatal("expected a signal")
	}
	return sigs[len(sigs)-1]
}

func TestDetectLayering(t *testing.T) {
	d, _ := newTestDetector()
	stacked := levels(0.40, 6000, 0.39, 6000, 0.38, 7000, 0.37, 6000, 0.36, 8000)
	prev := book("tok", levels(0.40, 100), levels(0.45, 100))
	cur := book("tok", stacked, levels(0.45, 100))

	d.Observe(nil, prev)
	d.Observe(prev, cur)

	sig := lastSignal(t, d)
	if sig.Pattern != domain.PatternLayering || sig.Direction != domain.DirectionUp {
		t.Fatalf("got %s/%s, want layering/UP", sig.Pattern, sig.Direction)
	}
	if sig.Contrarian {
		t.Fatal("layering is not contrarian")
	}
}

func TestDetectSweepOfAsks(t *testing.T) {
	d, _ := newTestDetector()
	prev := book("tok",
		levels(0.40, 100),
		levels(0.45, 100, 0.46, 100, 0.47, 100, 0.48, 100, 0.49, 100))
	// Three of the top five ask levels lose more than half their size.
	cur := book("tok",
		levels(0.40, 100),
		levels(0.45, 10, 0.46, 20, 0.47, 30, 0.48, 100, 0.49, 100))

	d.Observe(nil, prev)
	d.Observe(prev, cur)

	sig := lastSignal(t, d)
	if sig.Pattern != domain.PatternSweep || sig.Direction != domain.DirectionUp {
		t.Fatalf("got %s/%s, want sweep/UP", sig.Pattern, sig.Direction)
	}
}

func TestDetectIcebergNeedsConsecutiveRefills(t *testing.T) {
	d, _ := newTestDetector()
	b := func(size float64) *domain.InstrumentBook {
		return book("tok", levels(0.40, size), levels(0.45, 100))
	}

	prev := b(100)
	d.Observe(nil, prev)
	for _, size := range []float64{120, 150, 200} {
		cur := b(size)
		d.Observe(prev, cur)
		prev = cur
	}

	sig := lastSignal(t, d)
	if sig.Pattern != domain.PatternIceberg || sig.Direction != domain.DirectionUp {
		t.Fatalf("got %s/%s, want iceberg/UP", sig.Pattern, sig.Direction)
	}
	if len(d.Recent(time.Minute)) != 1 {
		t.Fatalf("iceberg fired early: %d signals", len(d.Recent(time.Minute)))
	}
}

func TestDetectSpoofIsContrarian(t *testing.T) {
	d, now := newTestDetector()
	quiet := book("tok", levels(0.40, 100), levels(0.45, 100))
	withWall := book("tok", levels(0.40, 100, 0.39, 9000), levels(0.45, 100))

	d.Observe(nil, quiet)
	d.Observe(quiet, withWall)
	*now = now.Add(5 * time.Second)
	d.Observe(withWall, quiet)

	sig := lastSignal(t, d)
	if sig.Pattern != domain.PatternSpoof {
		t.Fatalf("got %s, want spoof", sig.Pattern)
	}
	if !sig.Contrarian || sig.Direction != domain.DirectionUp {
		t.Fatalf("spoofed bid wall should be contrarian apparent-UP, got contrarian=%v dir=%s",
			sig.Contrarian, sig.Direction)
	}
}

func TestSpoofOutsideWindowIgnored(t *testing.T) {
	d, now := newTestDetector()
	quiet := book("tok", levels(0.40, 100), levels(0.45, 100))
	withWall := book("tok", levels(0.40, 100, 0.39, 9000), levels(0.45, 100))

	d.Observe(nil, quiet)
	d.Observe(quiet, withWall)
	*now = now.Add(30 * time.Second)
	d.Observe(withWall, quiet)

	for _, sig := range d.Recent(time.Minute) {
		if sig.Pattern == domain.PatternSpoof {
			t.Fatal("wall held past the spoof window must not count as spoof")
		}
	}
}

func TestRecentCapAndFreshness(t *testing.T) {
	d, now := newTestDetector()
	stacked := levels(0.40, 6000, 0.39, 6000, 0.38, 7000, 0.37, 6000, 0.36, 8000)
	prev := book("tok", levels(0.40, 100), levels(0.45, 100))
	d.Observe(nil, prev)
	for i := 0; i < 30; i++ {
		cur := book("tok", stacked, levels(0.45, 100))
		d.Observe(prev, cur)
		prev = book("tok", levels(0.40, 100), levels(0.45, 100))
		d.Observe(nil, prev)
	}
	if n := len(d.Recent(time.Minute)); n > 20 {
		t.Fatalf("recent signals = %d, want at most 20", n)
	}

	*now = now.Add(time.Hour)
	if n := len(d.Recent(time.Minute)); n != 0 {
		t.Fatalf("aged signals still reported: %d", n)
	}
}
