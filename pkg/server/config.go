package server

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bromq-dev/soupbintcp/pkg/packet"
	"github.com/bromq-dev/soupbintcp/pkg/protocol"
)

// Config holds server configuration.
type Config struct {
	// Username and Password are the credentials a LoginRequest must match
	// exactly. Ignored once an AuthHook is registered.
	Username string
	Password string

	// Session is the session identifier clients must request.
	Session string

	// SequenceNumber is the sequence number of the next SequencedData message (default: 1).
	SequenceNumber uint64

	// LoginTimeout is the time allowed for a client to be authenticated after connecting.
	LoginTimeout time.Duration

	// MaxConnections limits the number of concurrent connections (0 = unlimited).
	MaxConnections int

	// Protocol configures heartbeats and buffering for each connection.
	Protocol *protocol.Config

	// Logger is used for server events (default: slog.Default()).
	Logger *slog.Logger
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SequenceNumber: 1,
		LoginTimeout:   time.Second,
		MaxConnections: 0, // Unlimited
		Protocol:       protocol.DefaultConfig(),
	}
}

// Validate checks field widths and timeouts.
func (c *Config) Validate() error {
	if len(c.Username) > packet.UsernameSize {
		return fmt.Errorf("username %q: %w", c.Username, packet.ErrFieldTooLong)
	}
	if len(c.Password) > packet.PasswordSize {
		return fmt.Errorf("password: %w", packet.ErrFieldTooLong)
	}
	if len(c.Session) > packet.SessionSize {
		return fmt.Errorf("session %q: %w", c.Session, packet.ErrFieldTooLong)
	}
	if c.LoginTimeout <= 0 {
		return errors.New("login timeout must be positive")
	}
	if c.MaxConnections < 0 {
		return errors.New("max connections must not be negative")
	}
	if err := c.Protocol.WithDefaults().Validate(); err != nil {
		return fmt.Errorf("protocol: %w", err)
	}
	return nil
}

func (c *Config) withDefaults() *Config {
	cfg := DefaultConfig()
	if c != nil {
		*cfg = *c
	}
	if cfg.SequenceNumber == 0 {
		cfg.SequenceNumber = 1
	}
	if cfg.LoginTimeout == 0 {
		cfg.LoginTimeout = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Protocol == nil || cfg.Protocol.Logger == nil {
		p := cfg.Protocol.WithDefaults()
		p.Logger = cfg.Logger
		cfg.Protocol = p
	}
	return cfg
}
