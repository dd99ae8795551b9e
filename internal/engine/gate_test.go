package engine

import (
	"testing"

	"github.com/alanyoungcy/updownbot/internal/config"
)

func testGate() entryGate {
	return entryGate{cfg: config.Defaults().Engine}
}

func TestGatePassesBeforeFinalBand(t *testing.T) {
	g := testGate()
	if ok, why := g.allow(50, 0, 0, 0, 0.60); !ok {
		t.Fatalf("entry at 50s should pass freely, blocked: %s", why)
	}
}

func TestGatePassesBelowBand(t *testing.T) {
	g := testGate()
	// Under the band the gate steps aside even with no strike or move data;
	// late fills are the venue's problem, not the gate's.
	if ok, why := g.allow(20, 0, 0, 0, 0.60); !ok {
		t.Fatalf("entry under the band should pass, blocked: %s", why)
	}
	if ok, why := g.allow(3, 65200, 65000, 0, 0.90); !ok {
		t.Fatalf("entry seconds before expiry should pass, blocked: %s", why)
	}
}

func TestGateInsideBandAtStrike(t *testing.T) {
	g := testGate()
	// Drift 10/65000 is well under the 0.0005 tolerance.
	if ok, _ := g.allow(35, 65010, 65000, 0, 0.60); !ok {
		t.Fatal("at-strike entry inside the band should pass")
	}
}

func TestGateInsideBandWithoutEdge(t *testing.T) {
	g := testGate()
	// Drifted off strike, no 60s move: the outcome is effectively decided
	// and priced in.
	if ok, _ := g.allow(35, 65200, 65000, 0.0002, 0.60); ok {
		t.Fatal("in-band entry without strike proximity or a move should be blocked")
	}
}

func TestGateInsideBandRidingMove(t *testing.T) {
	g := testGate()
	if ok, _ := g.allow(35, 65200, 65000, 0.002, 0.70); !ok {
		t.Fatal("a decisive move with a cheap ask should pass")
	}
	if ok, _ := g.allow(35, 65200, 65000, 0.002, 0.80); ok {
		t.Fatal("a move the market already repriced should be blocked")
	}
}

func TestGateInsideBandUnknownStrike(t *testing.T) {
	g := testGate()
	if ok, _ := g.allow(35, 65000, 0, 0.002, 0.60); ok {
		t.Fatal("in-band entry without a resolved strike should be blocked")
	}
}
