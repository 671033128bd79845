package movement

import (
	"testing"
	"time"

	"github.com/aguiran/p2play-js/internal/clock"
	"github.com/aguiran/p2play-js/wire"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newFixture(cfg Config) (*Integrator, *clock.FakeClock) {
	fake := clock.Fake(epoch)
	return New(cfg, WithClock(fake)), fake
}

func TestInterpolateAdvancesPositionWithinBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSpeed = 100
	cfg.Smoothing = 1
	cfg.ExtrapolationMs = 1000
	cfg.IgnoreWorldBounds = true

	in, fake := newFixture(cfg)

	state := wire.New()
	state.Players["alice"] = &wire.PlayerState{
		ID:       "alice",
		Position: wire.Vector{X: 0, Y: 0},
		Velocity: &wire.Vector{X: 2, Y: 0},
	}
	in.RecordMove("alice")

	fake.Advance(500 * time.Millisecond)
	in.Interpolate(state)

	got := state.Players["alice"].Position.X
	if got < 0.9 || got > 1.1 {
		t.Fatalf("expected position advanced by roughly 1.0, got %v", got)
	}
}

func TestInterpolateStopsAtExtrapolationBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSpeed = 100
	cfg.Smoothing = 1
	cfg.ExtrapolationMs = 200
	cfg.IgnoreWorldBounds = true

	in, fake := newFixture(cfg)

	state := wire.New()
	state.Players["alice"] = &wire.PlayerState{
		ID:       "alice",
		Position: wire.Vector{X: 0, Y: 0},
		Velocity: &wire.Vector{X: 10, Y: 0},
	}
	in.RecordMove("alice")

	fake.Advance(100 * time.Millisecond)
	in.Interpolate(state)
	firstX := state.Players["alice"].Position.X

	fake.Advance(500 * time.Millisecond)
	in.Interpolate(state)
	secondX := state.Players["alice"].Position.X

	if secondX <= firstX {
		t.Fatalf("expected some further advance up to the budget, got first=%v second=%v", firstX, secondX)
	}

	expectedTotal := 10 * (200.0 / 1000.0)
	if secondX < expectedTotal-0.01 || secondX > expectedTotal+0.01 {
		t.Fatalf("expected position capped near %v once extrapolation budget is exhausted, got %v", expectedTotal, secondX)
	}

	fake.Advance(time.Second)
	in.Interpolate(state)
	thirdX := state.Players["alice"].Position.X
	if thirdX != secondX {
		t.Fatalf("expected no further movement once budget is exhausted, got %v -> %v", secondX, thirdX)
	}
}

func TestInterpolateSkipsPlayersWithoutVelocity(t *testing.T) {
	cfg := DefaultConfig()
	in, fake := newFixture(cfg)

	state := wire.New()
	state.Players["alice"] = &wire.PlayerState{ID: "alice", Position: wire.Vector{X: 5, Y: 5}}

	fake.Advance(time.Second)
	in.Interpolate(state)

	if state.Players["alice"].Position.X != 5 {
		t.Fatal("expected player with no velocity and no recorded move to stay put")
	}
}

func TestInterpolateClampsToWorldBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSpeed = 1000
	cfg.Smoothing = 1
	cfg.ExtrapolationMs = 5000
	cfg.WorldBounds = WorldBounds{Width: 10, Height: 10}

	in, fake := newFixture(cfg)

	state := wire.New()
	state.Players["alice"] = &wire.PlayerState{
		ID:       "alice",
		Position: wire.Vector{X: 9, Y: 9},
		Velocity: &wire.Vector{X: 50, Y: 50},
	}
	in.RecordMove("alice")

	fake.Advance(time.Second)
	in.Interpolate(state)

	pos := state.Players["alice"].Position
	if pos.X != 10 || pos.Y != 10 {
		t.Fatalf("expected position clamped to world bounds, got %+v", pos)
	}
}

func TestResolveCollisionsSeparatesOverlappingPlayers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PlayerRadius = 1

	in, _ := newFixture(cfg)

	state := wire.New()
	state.Players["a"] = &wire.PlayerState{ID: "a", Position: wire.Vector{X: 0, Y: 0}}
	state.Players["b"] = &wire.PlayerState{ID: "b", Position: wire.Vector{X: 1, Y: 0}}

	in.ResolveCollisions(state)

	a := state.Players["a"].Position
	b := state.Players["b"].Position
	distance := b.X - a.X
	if distance < 1.99 || distance > 2.01 {
		t.Fatalf("expected players separated to distance ~2, got %v (a=%+v b=%+v)", distance, a, b)
	}
}

func TestResolveCollisionsUsesFallbackAxisWhenCoincident(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PlayerRadius = 1

	in, _ := newFixture(cfg)

	state := wire.New()
	state.Players["a"] = &wire.PlayerState{ID: "a", Position: wire.Vector{X: 3, Y: 3}}
	state.Players["b"] = &wire.PlayerState{ID: "b", Position: wire.Vector{X: 3, Y: 3}}

	in.ResolveCollisions(state)

	a := state.Players["a"].Position
	b := state.Players["b"].Position
	if a.Y != 3 || b.Y != 3 {
		t.Fatalf("expected fallback axis to leave Y untouched, got a=%+v b=%+v", a, b)
	}
	if a.X == b.X {
		t.Fatalf("expected fallback axis to separate along X, got a=%+v b=%+v", a, b)
	}
}

func TestResolveCollisionsIgnoresDistantPlayers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PlayerRadius = 1

	in, _ := newFixture(cfg)

	state := wire.New()
	state.Players["a"] = &wire.PlayerState{ID: "a", Position: wire.Vector{X: 0, Y: 0}}
	state.Players["b"] = &wire.PlayerState{ID: "b", Position: wire.Vector{X: 100, Y: 100}}

	in.ResolveCollisions(state)

	if state.Players["a"].Position.X != 0 || state.Players["b"].Position.X != 100 {
		t.Fatal("expected distant players to be left untouched")
	}
}

func TestInterpolateSkipsNilPlayerEntry(t *testing.T) {
	cfg := DefaultConfig()
	in, fake := newFixture(cfg)

	state := wire.New()
	state.Players["ghost"] = nil

	fake.Advance(time.Second)

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Interpolate panicked on a nil player entry: %v", r)
		}
	}()
	in.Interpolate(state)
}

func TestResolveCollisionsSkipsNilPlayerEntry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PlayerRadius = 1
	in, _ := newFixture(cfg)

	state := wire.New()
	state.Players["a"] = &wire.PlayerState{ID: "a", Position: wire.Vector{X: 0, Y: 0}}
	state.Players["ghost"] = nil

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("ResolveCollisions panicked on a nil player entry: %v", r)
		}
	}()
	in.ResolveCollisions(state)
}

func TestForgetClearsExtrapolationState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSpeed = 100
	cfg.Smoothing = 1
	cfg.ExtrapolationMs = 1000
	cfg.IgnoreWorldBounds = true

	in, fake := newFixture(cfg)

	state := wire.New()
	state.Players["alice"] = &wire.PlayerState{
		ID: "alice", Position: wire.Vector{X: 0, Y: 0}, Velocity: &wire.Vector{X: 5, Y: 0},
	}
	in.RecordMove("alice")
	in.Forget("alice")

	fake.Advance(time.Second)
	in.Interpolate(state)

	if state.Players["alice"].Position.X != 0 {
		t.Fatal("expected forgotten player to no longer extrapolate")
	}
}
