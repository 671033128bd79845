// Package movement implements the movement integrator of spec section
// 4.6: bounded extrapolation of remote players between accepted move
// messages, and sphere-sphere collision separation. It mutates the
// replicated GlobalGameState handed to it by the caller (the session
// facade, once per tick) rather than owning a copy of its own.
package movement

import (
	"math"
	"sort"
	"time"

	"github.com/aguiran/p2play-js/internal/clock"
	"github.com/aguiran/p2play-js/wire"
)

// WorldBounds clamps player position when IgnoreWorldBounds is false.
// Depth of 0 means the Z axis is left unclamped.
type WorldBounds struct {
	Width  float64
	Height float64
	Depth  float64
}

// Config holds every integrator tunable, all defaulted by
// DefaultConfig.
type Config struct {
	MaxSpeed          float64
	Smoothing         float64
	ExtrapolationMs   float64
	WorldBounds       WorldBounds
	IgnoreWorldBounds bool
	PlayerRadius      float64
}

// DefaultConfig returns the integrator's out-of-the-box tuning.
func DefaultConfig() Config {
	return Config{
		MaxSpeed:          10,
		Smoothing:         1,
		ExtrapolationMs:   250,
		WorldBounds:       WorldBounds{Width: 100, Height: 100},
		IgnoreWorldBounds: false,
		PlayerRadius:      0.5,
	}
}

// collisionEpsilon is the distance below which the separation normal
// is underdetermined and a fixed axis is used instead.
const collisionEpsilon = 1e-6

// Integrator advances player positions between accepted remote moves
// and separates overlapping players. The zero value is not usable;
// construct with New.
type Integrator struct {
	cfg   Config
	clock clock.Clock

	lastMoveTs  map[wire.PlayerId]time.Time
	lastFrameTs map[wire.PlayerId]time.Time
}

// Option configures an Integrator at construction.
type Option func(*Integrator)

// WithClock overrides the default real clock.
func WithClock(c clock.Clock) Option {
	return func(in *Integrator) { in.clock = c }
}

// New constructs an Integrator with cfg.
func New(cfg Config, opts ...Option) *Integrator {
	in := &Integrator{
		cfg:         cfg,
		clock:       clock.Real(),
		lastMoveTs:  make(map[wire.PlayerId]time.Time),
		lastFrameTs: make(map[wire.PlayerId]time.Time),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// RecordMove resets the extrapolation window for id: this module's
// clock, not the sender's reported ts, is treated as the moment the
// move was accepted, since no session-wide clock sync is assumed.
func (in *Integrator) RecordMove(id wire.PlayerId) {
	now := in.clock.Now()
	in.lastMoveTs[id] = now
	in.lastFrameTs[id] = now
}

// Forget drops id's extrapolation bookkeeping, called when a peer
// leaves so a stale entry cannot resurrect a ghost extrapolation.
func (in *Integrator) Forget(id wire.PlayerId) {
	delete(in.lastMoveTs, id)
	delete(in.lastFrameTs, id)
}

// Interpolate advances every player in state that has a known
// velocity and a recorded move, bounded by the configured
// extrapolation window, and clamps to world bounds unless disabled.
func (in *Integrator) Interpolate(state *wire.GlobalGameState) {
	now := in.clock.Now()

	for id, player := range state.Players {
		if player == nil || player.Velocity == nil {
			continue
		}
		lastMove, hasMove := in.lastMoveTs[id]
		if !hasMove {
			continue
		}
		lastFrame, hasFrame := in.lastFrameTs[id]
		if !hasFrame {
			lastFrame = lastMove
		}

		frameDt := now.Sub(lastFrame).Seconds()
		if frameDt < 0 {
			frameDt = 0
		}

		elapsedSinceMoveMs := float64(lastFrame.Sub(lastMove).Milliseconds())
		remainingMs := in.cfg.ExtrapolationMs - elapsedSinceMoveMs
		if remainingMs < 0 {
			remainingMs = 0
		}

		allowedDt := math.Min(frameDt, remainingMs/1000)

		vx := clamp(player.Velocity.X, -in.cfg.MaxSpeed, in.cfg.MaxSpeed)
		vy := clamp(player.Velocity.Y, -in.cfg.MaxSpeed, in.cfg.MaxSpeed)
		player.Position.X += vx * allowedDt * in.cfg.Smoothing
		player.Position.Y += vy * allowedDt * in.cfg.Smoothing

		if player.Velocity.Z != nil {
			vz := clamp(*player.Velocity.Z, -in.cfg.MaxSpeed, in.cfg.MaxSpeed)
			z := player.Position.ZOrZero() + vz*allowedDt*in.cfg.Smoothing
			player.Position.Z = &z
		}

		if !in.cfg.IgnoreWorldBounds {
			player.Position.X = clamp(player.Position.X, 0, in.cfg.WorldBounds.Width)
			player.Position.Y = clamp(player.Position.Y, 0, in.cfg.WorldBounds.Height)
			if in.cfg.WorldBounds.Depth > 0 && player.Position.Z != nil {
				z := clamp(*player.Position.Z, 0, in.cfg.WorldBounds.Depth)
				player.Position.Z = &z
			}
		}

		in.lastFrameTs[id] = now
	}
}

// ResolveCollisions separates every pair of players whose 3D distance
// is below twice the configured radius, walking ordered pairs in a
// deterministic (sorted id) order so repeated calls over an unchanged
// state produce identical results.
func (in *Integrator) ResolveCollisions(state *wire.GlobalGameState) {
	ids := make([]wire.PlayerId, 0, len(state.Players))
	for id := range state.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	minDist := 2 * in.cfg.PlayerRadius

	for i := range ids {
		for j := range ids {
			if i == j {
				continue
			}
			a := state.Players[ids[i]]
			b := state.Players[ids[j]]
			if a == nil || b == nil {
				continue
			}

			az := a.Position.ZOrZero()
			bz := b.Position.ZOrZero()
			dx := b.Position.X - a.Position.X
			dy := b.Position.Y - a.Position.Y
			dz := bz - az
			dist := math.Sqrt(dx*dx + dy*dy + dz*dz)

			if dist >= minDist {
				continue
			}

			var nx, ny, nz float64
			if dist < collisionEpsilon {
				nx, ny, nz = 1, 0, 0
			} else {
				nx, ny, nz = dx/dist, dy/dist, dz/dist
			}

			half := (minDist - dist) / 2
			a.Position.X -= nx * half
			a.Position.Y -= ny * half
			b.Position.X += nx * half
			b.Position.Y += ny * half

			if a.Position.Z != nil || b.Position.Z != nil || nz != 0 {
				newAz := az - nz*half
				newBz := bz + nz*half
				a.Position.Z = &newAz
				b.Position.Z = &newBz
			}
		}
	}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
