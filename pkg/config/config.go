// Package config loads the engine configuration from YAML with sane
// defaults. The dispatcher receives an immutable snapshot per turn, so a
// settings change never flips behavior mid-turn.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aurelia-ai/aurelia/pkg/persona"
)

// StreamingMode selects the default transport for plain-text personas.
type StreamingMode string

const (
	// StreamingModeHTTP uses the one-shot chunked stream.
	StreamingModeHTTP StreamingMode = "http"
	// StreamingModeChannel uses the persistent channel for everything.
	StreamingModeChannel StreamingMode = "channel"
)

// Default configuration values.
const (
	DefaultBaseURL        = "https://api.aurelia.chat"
	DefaultDialTimeout    = 15 * time.Second
	DefaultKeepalive      = 30 * time.Second
	DefaultReadLimit      = 1 << 20
	DefaultSendAckTimeout = 20 * time.Second
	DefaultLogLevel       = "info"
)

// Config is the complete engine configuration.
type Config struct {
	Backend  BackendConfig       `yaml:"backend"`
	Chat     ChatConfig          `yaml:"chat"`
	Channel  ChannelConfig       `yaml:"channel"`
	Logging  LoggingConfig       `yaml:"logging"`
	Personas []persona.Character `yaml:"personas"`
}

// BackendConfig locates the backend services.
type BackendConfig struct {
	// BaseURL serves both the chunked stream and persistence endpoints.
	BaseURL string `yaml:"base_url"`
	// ChannelURL is the websocket endpoint; derived from BaseURL when empty.
	ChannelURL string `yaml:"channel_url"`
	CustomerID string `yaml:"customer_id"`
	AuthToken  string `yaml:"auth_token"`
}

// ChatConfig carries the per-turn behavior preferences.
type ChatConfig struct {
	StreamingMode StreamingMode `yaml:"streaming_mode"`
	ShowReasoning bool          `yaml:"show_reasoning"`
	// AssetContext is a free-form context block folded into stream requests.
	AssetContext string `yaml:"asset_context"`
}

// ChannelConfig tunes the persistent channel client.
type ChannelConfig struct {
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	Keepalive      time.Duration `yaml:"keepalive"`
	ReadLimit      int64         `yaml:"read_limit"`
	SendAckTimeout time.Duration `yaml:"send_ack_timeout"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Dir      string `yaml:"dir"`
	MinLevel string `yaml:"min_level"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Backend: BackendConfig{BaseURL: DefaultBaseURL},
		Chat:    ChatConfig{StreamingMode: StreamingModeHTTP},
		Channel: ChannelConfig{
			DialTimeout:    DefaultDialTimeout,
			Keepalive:      DefaultKeepalive,
			ReadLimit:      DefaultReadLimit,
			SendAckTimeout: DefaultSendAckTimeout,
		},
		Logging: LoggingConfig{
			Dir:      filepath.Join(home, ".aurelia", "logs"),
			MinLevel: DefaultLogLevel,
		},
		Personas: []persona.Character{
			{Name: "aria", AutoRespond: true},
		},
	}
}

// Load reads the YAML config at path, applying defaults for anything the
// file omits. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = DefaultBaseURL
	}
	if c.Chat.StreamingMode == "" {
		c.Chat.StreamingMode = StreamingModeHTTP
	}
	if c.Channel.DialTimeout <= 0 {
		c.Channel.DialTimeout = DefaultDialTimeout
	}
	if c.Channel.Keepalive <= 0 {
		c.Channel.Keepalive = DefaultKeepalive
	}
	if c.Channel.ReadLimit <= 0 {
		c.Channel.ReadLimit = DefaultReadLimit
	}
	if c.Channel.SendAckTimeout <= 0 {
		c.Channel.SendAckTimeout = DefaultSendAckTimeout
	}
	if c.Logging.MinLevel == "" {
		c.Logging.MinLevel = DefaultLogLevel
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Chat.StreamingMode {
	case StreamingModeHTTP, StreamingModeChannel:
	default:
		return fmt.Errorf("unknown streaming_mode %q", c.Chat.StreamingMode)
	}
	if len(c.Personas) == 0 {
		return fmt.Errorf("at least one persona must be configured")
	}
	seen := make(map[string]struct{}, len(c.Personas))
	for _, p := range c.Personas {
		if p.Name == "" {
			return fmt.Errorf("persona with empty name")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate persona %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// TurnSnapshot is the frozen per-turn view of the preferences the
// dispatcher consults. Taken once at submission, never re-read mid-turn.
type TurnSnapshot struct {
	StreamingMode StreamingMode
	ShowReasoning bool
	AssetContext  string
	CustomerID    string
}

// Snapshot freezes the turn-relevant preferences.
func (c *Config) Snapshot() TurnSnapshot {
	return TurnSnapshot{
		StreamingMode: c.Chat.StreamingMode,
		ShowReasoning: c.Chat.ShowReasoning,
		AssetContext:  c.Chat.AssetContext,
		CustomerID:    c.Backend.CustomerID,
	}
}
