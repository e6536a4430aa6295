package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

// Participant roles carried in call invites.
const (
	RoleDoctor  = "doctor"
	RolePatient = "patient"
)

// DefaultICEServers are the public STUN servers used when none are configured.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:global.stun.twilio.com:3478",
}

// Config holds relay server and participant configuration values.
type Config struct {
	Addr               string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout  time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel           string        `mapstructure:"log_level" yaml:"log_level"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	MaxMessageBytes    int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`

	// Participant side.
	RelayURL      string        `mapstructure:"relay_url" yaml:"relay_url"`
	DisplayName   string        `mapstructure:"display_name" yaml:"display_name"`
	Role          string        `mapstructure:"role" yaml:"role"`
	AnswerTimeout time.Duration `mapstructure:"answer_timeout" yaml:"answer_timeout"`
	ICEServers    []string      `mapstructure:"ice_servers" yaml:"ice_servers"`

	// Optional looped sources for local media: Ogg Opus and IVF VP8.
	// Without them audio is Opus silence and video stays dark.
	AudioFile string `mapstructure:"audio_file" yaml:"audio_file"`
	VideoFile string `mapstructure:"video_file" yaml:"video_file"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":5000",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		RateLimitPerMinute: 120,
		MaxMessageBytes:    64 << 10,
		RelayURL:           "ws://localhost:5000/ws",
		Role:               RolePatient,
		AnswerTimeout:      30 * time.Second,
		ICEServers:         append([]string(nil), DefaultICEServers...),
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.RateLimitPerMinute != 0 {
		c.RateLimitPerMinute = other.RateLimitPerMinute
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.RelayURL != "" {
		c.RelayURL = other.RelayURL
	}
	if other.DisplayName != "" {
		c.DisplayName = other.DisplayName
	}
	if other.Role != "" {
		c.Role = other.Role
	}
	if other.AnswerTimeout != 0 {
		c.AnswerTimeout = other.AnswerTimeout
	}
	if len(other.ICEServers) > 0 {
		c.ICEServers = append([]string(nil), other.ICEServers...)
	}
	if other.AudioFile != "" {
		c.AudioFile = other.AudioFile
	}
	if other.VideoFile != "" {
		c.VideoFile = other.VideoFile
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Role {
	case RoleDoctor, RolePatient:
	default:
		return fmt.Errorf("role must be %q or %q, got %q", RoleDoctor, RolePatient, c.Role)
	}
	if c.AnswerTimeout <= 0 {
		return errors.New("answer_timeout must be positive")
	}
	if c.MaxMessageBytes < 0 {
		return errors.New("max_message_bytes must not be negative")
	}
	for _, raw := range c.ICEServers {
		if err := validateICEURL(raw); err != nil {
			return fmt.Errorf("ice_servers: %w", err)
		}
	}
	return nil
}

func validateICEURL(raw string) error {
	if _, err := stun.ParseURI(strings.TrimSpace(raw)); err != nil {
		return fmt.Errorf("ice server url %q: %w", raw, err)
	}
	return nil
}
