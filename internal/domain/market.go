package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Direction is the side of an up/down market a signal or trade refers to.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
	// DirectionBoth marks a two-legged arbitrage intent (buy both sides).
	DirectionBoth Direction = "BOTH"
)

// Opposite returns the other side. Both maps to itself.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionUp:
		return DirectionDown
	case DirectionDown:
		return DirectionUp
	default:
		return d
	}
}

// Market is one live up/down window discovered via the market directory.
// Everything except SecondsLeft, UpPrice and DownPrice is fixed at creation;
// those three are refreshed on every directory poll.
type Market struct {
	Slug             string
	ConditionID      string
	Question         string
	Asset            string // "btc", "eth", "sol", "xrp"
	WindowStart      time.Time
	WindowEnd        time.Time
	WindowSeconds    int
	SecondsLeft      int
	UpTokenID        string
	DownTokenID      string
	UpPrice          float64
	DownPrice        float64
	StartPrice       float64 // reference price at WindowStart; 0 until resolved
	ResolutionSource string
}

// HasStartPrice reports whether the window's strike has been resolved yet.
func (m *Market) HasStartPrice() bool { return m.StartPrice > 0 }

// TokenIDs returns both instrument identifiers, up side first.
func (m *Market) TokenIDs() [2]string { return [2]string{m.UpTokenID, m.DownTokenID} }

var slugRe = regexp.MustCompile(`^([a-z]+)-updown-(5m|15m)-(\d+)$`)

// MarketSlug builds the directory slug for an asset and window start, e.g.
// "btc-updown-5m-1727712300".
func MarketSlug(asset string, windowSeconds int, windowStart int64) string {
	return fmt.Sprintf("%s-updown-%dm-%d", strings.ToLower(asset), windowSeconds/60, windowStart)
}

// ParseSlug extracts (asset, windowSeconds, windowStart) from an up/down
// market slug. It returns ErrNotFound for anything that does not match the
// slug pattern.
func ParseSlug(slug string) (asset string, windowSeconds int, windowStart int64, err error) {
	m := slugRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(slug)))
	if m == nil {
		return "", 0, 0, fmt.Errorf("domain: parse slug %q: %w", slug, ErrNotFound)
	}
	mins, _ := strconv.Atoi(strings.TrimSuffix(m[2], "m"))
	start, _ := strconv.ParseInt(m[3], 10, 64)
	return m[1], mins * 60, start, nil
}
