package mesh

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aguiran/p2play-js/movement"
	"github.com/aguiran/p2play-js/peer"
	"github.com/aguiran/p2play-js/resolve"
	"github.com/aguiran/p2play-js/wire"
)

// ConflictResolution selects how the state manager resolves competing
// writes to the same player, per spec section 4.3.
type ConflictResolution string

const (
	ConflictTimestamp     ConflictResolution = "timestamp"
	ConflictAuthoritative ConflictResolution = "authoritative"
)

// DebugConfig controls the onSend hook, per spec section 6.4. When
// Enabled is true and OnSend is set, OnSend fires synchronously before
// every outbound envelope is handed to the peer manager. Log verbosity
// is set by the logger's own level, not by Enabled.
type DebugConfig struct {
	Enabled bool `yaml:"enabled"`
	OnSend  func(wire.Envelope) `yaml:"-"`
}

// BackpressureConfig controls the unreliable channel's outbox policy,
// per spec section 4.5.
type BackpressureConfig struct {
	Strategy       string `yaml:"strategy"`
	ThresholdBytes int    `yaml:"thresholdBytes"`
}

// PingOverlayConfig is forwarded verbatim to whatever presentation
// layer the embedding application wires up; the mesh core itself only
// tracks whether it is enabled (see Session.SetPingOverlayEnabled).
type PingOverlayConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Position string `yaml:"position"`
	Canvas   string `yaml:"canvas"`
}

// WorldBoundsConfig is the YAML-friendly mirror of movement.WorldBounds.
type WorldBoundsConfig struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
	Depth  float64 `yaml:"depth"`
}

// MovementConfig is the YAML-friendly mirror of movement.Config.
type MovementConfig struct {
	MaxSpeed          float64           `yaml:"maxSpeed"`
	Smoothing         float64           `yaml:"smoothing"`
	ExtrapolationMs   float64           `yaml:"extrapolationMs"`
	WorldBounds       WorldBoundsConfig `yaml:"worldBounds"`
	IgnoreWorldBounds bool              `yaml:"ignoreWorldBounds"`
	PlayerRadius      float64           `yaml:"playerRadius"`
}

func (c MovementConfig) toIntegratorConfig() movement.Config {
	return movement.Config{
		MaxSpeed:        c.MaxSpeed,
		Smoothing:       c.Smoothing,
		ExtrapolationMs: c.ExtrapolationMs,
		WorldBounds: movement.WorldBounds{
			Width:  c.WorldBounds.Width,
			Height: c.WorldBounds.Height,
			Depth:  c.WorldBounds.Depth,
		},
		IgnoreWorldBounds: c.IgnoreWorldBounds,
		PlayerRadius:      c.PlayerRadius,
	}
}

// Config is the full set of recognized configuration options, per spec
// section 6.4.
type Config struct {
	LocalID                wire.PlayerId       `yaml:"localId"`
	MaxPlayers             int                 `yaml:"maxPlayers"`
	ConflictResolution     ConflictResolution  `yaml:"conflictResolution"`
	AuthoritativeClientID  wire.PlayerId       `yaml:"authoritativeClientId,omitempty"`
	Serialization          string              `yaml:"serialization"`
	ICEServerURLs          []string            `yaml:"iceServers,omitempty"`
	CleanupOnPeerLeave     bool                `yaml:"cleanupOnPeerLeave"`
	Debug                  DebugConfig         `yaml:"debug"`
	Backpressure           BackpressureConfig  `yaml:"backpressure"`
	PingOverlay            PingOverlayConfig   `yaml:"pingOverlay"`
	Movement               MovementConfig      `yaml:"movement"`
}

// Normalize fills every unset option with its documented default.
// Called automatically by New and LoadConfig; safe to call directly
// when a Config is built by hand and passed straight to New.
func (c *Config) Normalize() {
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = 4
	}
	if c.ConflictResolution == "" {
		c.ConflictResolution = ConflictTimestamp
	}
	if c.Serialization == "" {
		c.Serialization = "json"
	}
	if c.Backpressure.Strategy == "" {
		c.Backpressure.Strategy = peer.BackpressureCoalesceMoves
	}
	if c.Backpressure.ThresholdBytes <= 0 {
		c.Backpressure.ThresholdBytes = 262144
	}
	if c.Movement.MaxSpeed == 0 {
		c.Movement.MaxSpeed = 400
	}
	if c.Movement.Smoothing == 0 {
		c.Movement.Smoothing = 0.2
	}
	if c.Movement.ExtrapolationMs == 0 {
		c.Movement.ExtrapolationMs = 120
	}
	if c.Movement.WorldBounds.Width == 0 && c.Movement.WorldBounds.Height == 0 {
		c.Movement.WorldBounds = WorldBoundsConfig{Width: 2000, Height: 2000}
	}
	if c.Movement.PlayerRadius == 0 {
		c.Movement.PlayerRadius = 16
	}
}

func (c Config) resolverMode() resolve.Mode {
	if c.ConflictResolution == ConflictAuthoritative {
		return resolve.ModeAuthoritative
	}
	return resolve.ModeTimestamp
}

// LoadConfig reads a single flat YAML document at path into a Config
// and normalizes it, matching the teacher's lib/config convention of
// one declarative file per deployment (here, one file per simulated
// room — see cmd/meshsim).
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("mesh: reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("mesh: parsing config %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}
