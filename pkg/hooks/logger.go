package hooks

import (
	"context"
	"log/slog"

	"github.com/bromq-dev/soupbintcp/pkg/packet"
	"github.com/bromq-dev/soupbintcp/pkg/server"
)

// LoggerHook logs server events using slog.
type LoggerHook struct {
	logger *slog.Logger
	level  LogLevel
}

// LogLevel controls which events are logged.
type LogLevel int

const (
	// LogLevelConnection logs connect/disconnect events.
	LogLevelConnection LogLevel = 1 << iota
	// LogLevelLogin logs accepted and rejected logins.
	LogLevelLogin
	// LogLevelMessage logs unsequenced data at debug level.
	LogLevelMessage
	// LogLevelAll logs all events.
	LogLevelAll = LogLevelConnection | LogLevelLogin | LogLevelMessage
)

// LoggerConfig configures the logger hook.
type LoggerConfig struct {
	// Logger is the slog.Logger to use (default: slog.Default()).
	Logger *slog.Logger

	// Level controls which events are logged (default: LogLevelAll).
	Level LogLevel
}

// NewLoggerHook creates a new logging hook.
func NewLoggerHook(cfg LoggerConfig) *LoggerHook {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Level == 0 {
		cfg.Level = LogLevelAll
	}
	return &LoggerHook{
		logger: cfg.Logger,
		level:  cfg.Level,
	}
}

func (h *LoggerHook) ID() string { return "logger" }

// Init applies a *LoggerConfig when the hook is added with Server.AddHook.
func (h *LoggerHook) Init(opts *server.HookOptions, config any) error {
	cfg := LoggerConfig{}
	if c, ok := config.(*LoggerConfig); ok && c != nil {
		cfg = *c
	}
	if cfg.Logger == nil && opts != nil {
		cfg.Logger = opts.Logger
	}
	*h = *NewLoggerHook(cfg)
	return nil
}

// ConnectionHook implementation

func (h *LoggerHook) OnConnected(ctx context.Context, client server.ClientInfo) {
	if h.level&LogLevelConnection == 0 {
		return
	}
	h.logger.Info("client connected",
		"conn_id", client.ID(),
		"remote_addr", client.RemoteAddr(),
	)
}

func (h *LoggerHook) OnDisconnect(ctx context.Context, client server.ClientInfo, err error) {
	if h.level&LogLevelConnection == 0 {
		return
	}
	attrs := []any{
		"conn_id", client.ID(),
		"username", client.Username(),
		"received", client.Received(),
	}
	if err != nil {
		attrs = append(attrs, "error", err.Error())
	}
	h.logger.Info("client disconnected", attrs...)
}

// LoginHook implementation

func (h *LoggerHook) OnLoginAccepted(ctx context.Context, client server.ClientInfo) {
	if h.level&LogLevelLogin == 0 {
		return
	}
	h.logger.Info("login accepted",
		"conn_id", client.ID(),
		"username", client.Username(),
		"session", client.Session(),
	)
}

func (h *LoggerHook) OnLoginRejected(ctx context.Context, client server.ClientInfo, code packet.RejectCode) {
	if h.level&LogLevelLogin == 0 {
		return
	}
	h.logger.Warn("login rejected",
		"conn_id", client.ID(),
		"username", client.Username(),
		"remote_addr", client.RemoteAddr(),
		"reason", code.String(),
	)
}

// MessageHook implementation

func (h *LoggerHook) OnUnsequencedData(ctx context.Context, client server.ClientInfo, payload []byte) error {
	if h.level&LogLevelMessage == 0 {
		return nil
	}
	h.logger.Debug("unsequenced data received",
		"conn_id", client.ID(),
		"username", client.Username(),
		"payload_size", len(payload),
	)
	return nil
}
