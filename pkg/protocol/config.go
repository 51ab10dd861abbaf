package protocol

import (
	"errors"
	"log/slog"
	"time"

	"github.com/bromq-dev/soupbintcp/pkg/packet"
)

// Role captures what differs between the two ends of a connection.
type Role struct {
	// Name is used in logs ("client" or "server").
	Name string

	// DataType is the packet type counted toward the sequence number.
	DataType packet.Type

	// HeartbeatType is the packet type this end sends when idle.
	HeartbeatType packet.Type

	// PeerHeartbeatType is the heartbeat type the other end sends.
	PeerHeartbeatType packet.Type

	// DeliverPeerHeartbeats hands peer heartbeats to Receive instead of
	// dropping them once they have refreshed the receive clock.
	DeliverPeerHeartbeats bool
}

var (
	// ClientRole counts SequencedData, sends ClientHeartbeat and drops ServerHeartbeat.
	ClientRole = Role{
		Name:              "client",
		DataType:          packet.TypeSequencedData,
		HeartbeatType:     packet.TypeClientHeartbeat,
		PeerHeartbeatType: packet.TypeServerHeartbeat,
	}

	// ServerRole counts UnsequencedData, sends ServerHeartbeat and delivers
	// ClientHeartbeat so the server can route it to its handler.
	ServerRole = Role{
		Name:                  "server",
		DataType:              packet.TypeUnsequencedData,
		HeartbeatType:         packet.TypeServerHeartbeat,
		PeerHeartbeatType:     packet.TypeClientHeartbeat,
		DeliverPeerHeartbeats: true,
	}
)

// Config holds connection engine configuration.
type Config struct {
	// HeartbeatInterval is how long the connection may stay idle before a heartbeat is sent.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout is how long the connection may go without receiving anything.
	HeartbeatTimeout time.Duration

	// WriteTimeout bounds a single write to the transport (0 = no deadline).
	WriteTimeout time.Duration

	// ReadBufferSize is the size of the chunk read from the transport at once.
	ReadBufferSize int

	// MaxBufferSize limits bytes received but not yet returned by Receive,
	// partial packets included (0 = unlimited).
	MaxBufferSize int

	// Logger for logging. If nil, uses slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HeartbeatInterval: 5 * time.Second,
		HeartbeatTimeout:  15 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadBufferSize:    4096,
		MaxBufferSize:     0, // Unlimited
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return errors.New("heartbeat timeout must exceed heartbeat interval")
	}
	if c.MaxBufferSize < 0 {
		return errors.New("max buffer size must not be negative")
	}
	return nil
}

// WithDefaults returns a copy of c with zero values filled from DefaultConfig.
// A nil config yields the defaults.
func (c *Config) WithDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		c = &Config{}
	}
	out := *c
	if out.HeartbeatInterval == 0 {
		out.HeartbeatInterval = d.HeartbeatInterval
	}
	if out.HeartbeatTimeout == 0 {
		out.HeartbeatTimeout = max(d.HeartbeatTimeout, 3*out.HeartbeatInterval)
	}
	if out.ReadBufferSize <= 0 {
		out.ReadBufferSize = d.ReadBufferSize
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}
