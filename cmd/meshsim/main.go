// meshsim is a headless dev/ops harness that runs N in-process mesh
// sessions over a shared signaling/memory.Hub, in the tradition of the
// teacher's standalone bureau-* diagnostic binaries. It exercises the
// full mesh formation, host election, and replication path without a
// browser or a real signaling server, for local smoke-testing.
package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/aguiran/p2play-js/mesh"
	"github.com/aguiran/p2play-js/signaling/memory"
	"github.com/aguiran/p2play-js/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var players int
	var duration time.Duration
	var seed int64
	var logLevel string

	flagSet := pflag.NewFlagSet("meshsim", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a mesh.Config YAML fixture (players get a copy each, LocalID overridden)")
	flagSet.IntVar(&players, "players", 3, "number of simulated in-process sessions to run")
	flagSet.DurationVar(&duration, "duration", 5*time.Second, "how long to run the simulated room before exiting")
	flagSet.Int64Var(&seed, "seed", 1, "seed for simulated player starting positions")
	flagSet.StringVar(&logLevel, "log-level", "info", "slog level: debug, info, warn, error")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			flagSet.PrintDefaults()
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		flagSet.PrintDefaults()
		return nil
	}
	if players < 1 {
		return fmt.Errorf("--players must be at least 1")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("parsing --log-level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	base := mesh.Config{MaxPlayers: players}
	if configPath != "" {
		loaded, err := mesh.LoadConfig(configPath)
		if err != nil {
			return err
		}
		base = loaded
	}
	base.Normalize()

	hub := memory.NewHub()
	rng := rand.New(rand.NewSource(seed))

	sessions := make([]*mesh.Session, 0, players)
	for i := 0; i < players; i++ {
		cfg := base
		cfg.LocalID = fmt.Sprintf("player-%d", i)

		s, err := mesh.New(cfg, memory.NewAdapter(hub, cfg.LocalID), mesh.WithLogger(logger.With("player", cfg.LocalID)))
		if err != nil {
			return fmt.Errorf("constructing session for %s: %w", cfg.LocalID, err)
		}
		if err := s.Start(); err != nil {
			return fmt.Errorf("starting session for %s: %w", cfg.LocalID, err)
		}
		sessions = append(sessions, s)
		defer s.Dispose()
	}

	for i, s := range sessions {
		x := rng.Float64() * base.Movement.WorldBounds.Width
		y := rng.Float64() * base.Movement.WorldBounds.Height
		if err := s.AnnouncePresence(wire.Vector{X: x, Y: y}, nil); err != nil {
			return fmt.Errorf("announcing presence for player-%d: %w", i, err)
		}
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(duration)

	for {
		select {
		case <-deadline:
			logSummary(logger, sessions)
			return nil
		case <-ticker.C:
			for _, s := range sessions {
				if err := s.Tick(); err != nil {
					return err
				}
			}
		}
	}
}

func logSummary(logger *slog.Logger, sessions []*mesh.Session) {
	for _, s := range sessions {
		host, ok, err := s.GetHostID()
		if err != nil {
			continue
		}
		state, err := s.GetState()
		if err != nil {
			continue
		}
		logger.Info("meshsim: final view", "host", host, "hostKnown", ok, "playerCount", len(state.Players))
	}
}
