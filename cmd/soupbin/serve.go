package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/bromq-dev/soupbintcp/pkg/hooks"
	"github.com/bromq-dev/soupbintcp/pkg/listeners"
	"github.com/bromq-dev/soupbintcp/pkg/protocol"
	"github.com/bromq-dev/soupbintcp/pkg/server"
)

type serveOptions struct {
	addr           string
	tlsAddr        string
	wsAddr         string
	wsPath         string
	certFile       string
	keyFile        string
	username       string
	password       string
	session        string
	sequenceNumber uint64
	credentials    []string

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	loginTimeout      time.Duration
	maxConnections    int
	rateLimit         float64

	echo          bool
	metricsAddr   string
	statsInterval time.Duration
	redisAddr     string
	natsURL       string
}

func serveCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a SoupBinTCP server",
		Long: `Run a SoupBinTCP server for a single session.

Unsequenced data from clients is logged. With --echo every message is
broadcast back to all logged-in clients as sequenced data, which makes
the server a simple feed for testing clients.`,
		Example: `  soupbin serve --addr :4000 --username user --password pass --session TODAY
  soupbin serve --credential alice:secret --credential bob:hunter2 --echo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", ":4000", "TCP listen address")
	f.StringVar(&opts.tlsAddr, "tls-addr", ":4443", "TLS listen address (requires --cert and --key)")
	f.StringVar(&opts.wsAddr, "ws-addr", "", "WebSocket listen address (disabled if empty)")
	f.StringVar(&opts.wsPath, "ws-path", listeners.DefaultWebSocketPath, "WebSocket listen path")
	f.StringVar(&opts.certFile, "cert", "", "TLS certificate file (optional)")
	f.StringVar(&opts.keyFile, "key", "", "TLS private key file (optional)")
	f.StringVar(&opts.username, "username", "", "Username clients must log in with")
	f.StringVar(&opts.password, "password", "", "Password clients must log in with")
	f.StringVar(&opts.session, "session", "", "Session identifier served")
	f.Uint64Var(&opts.sequenceNumber, "sequence-number", 1, "Sequence number of the next message")
	f.StringArrayVar(&opts.credentials, "credential", nil, "Credential username:password (can be repeated, replaces --username/--password)")
	f.DurationVar(&opts.heartbeatInterval, "heartbeat-interval", 5*time.Second, "Idle time before a heartbeat is sent")
	f.DurationVar(&opts.heartbeatTimeout, "heartbeat-timeout", 15*time.Second, "Silence after which a client is dropped")
	f.DurationVar(&opts.loginTimeout, "login-timeout", time.Second, "Time allowed to log in after connecting")
	f.IntVar(&opts.maxConnections, "max-connections", 0, "Maximum concurrent connections (0 = unlimited)")
	f.Float64Var(&opts.rateLimit, "rate-limit", 0, "Unsequenced messages per second per client (0 = unlimited)")
	f.BoolVar(&opts.echo, "echo", false, "Broadcast every client message as sequenced data")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Prometheus metrics address, e.g. :9090 (disabled if empty)")
	f.DurationVar(&opts.statsInterval, "stats-interval", 0, "Log server stats at this interval (0 = disabled)")
	f.StringVar(&opts.redisAddr, "redis-addr", "", "Forward client messages to Redis at this address")
	f.StringVar(&opts.natsURL, "nats-url", "", "Forward client messages to NATS at this URL")

	return cmd
}

// feed logs client messages and optionally rebroadcasts them.
type feed struct {
	srv  *server.Server
	echo bool
}

func (f *feed) OnUnsequencedData(ctx context.Context, s *server.Session, payload []byte) error {
	s.Logger().Info("unsequenced data", "username", s.Username(), "payload", string(payload))
	if f.echo {
		if _, err := f.srv.Broadcast(payload); err != nil {
			return err
		}
	}
	return nil
}

func runServe(ctx context.Context, opts *serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := slog.Default()

	handler := &feed{echo: opts.echo}
	srv, err := server.New(&server.Config{
		Username:       opts.username,
		Password:       opts.password,
		Session:        opts.session,
		SequenceNumber: opts.sequenceNumber,
		LoginTimeout:   opts.loginTimeout,
		MaxConnections: opts.maxConnections,
		Protocol: &protocol.Config{
			HeartbeatInterval: opts.heartbeatInterval,
			HeartbeatTimeout:  opts.heartbeatTimeout,
		},
		Logger: log,
	}, handler)
	if err != nil {
		return err
	}
	handler.srv = srv

	if err := addHooks(srv, opts); err != nil {
		return err
	}

	if err := srv.AddListener(listeners.NewTCP("tcp", opts.addr, nil)); err != nil {
		return err
	}

	if opts.wsAddr != "" {
		ws := listeners.NewWebSocket("ws", opts.wsAddr, &listeners.WebSocketConfig{Path: opts.wsPath})
		if err := srv.AddListener(ws); err != nil {
			return err
		}
	}

	if opts.certFile != "" && opts.keyFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.certFile, opts.keyFile)
		if err != nil {
			return fmt.Errorf("load TLS certificate: %w", err)
		}
		tlsListener := listeners.NewTCP("tcp+tls", opts.tlsAddr, &listeners.TCPConfig{
			TLSConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			},
		})
		if err := srv.AddListener(tlsListener); err != nil {
			return err
		}
	}

	var metricsServer *http.Server
	if opts.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: opts.metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			log.Info("metrics listening", "addr", opts.metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	log.Info("soupbintcp server started",
		"session", opts.session,
		"sequence_number", srv.SequenceNumber(),
	)

	// Wait for shutdown signal
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	srv.EndSession()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped", "sequence_number", srv.SequenceNumber())
	return nil
}

func addHooks(srv *server.Server, opts *serveOptions) error {
	srv.RegisterHook(hooks.NewLoggerHook(hooks.LoggerConfig{
		Logger: slog.Default(),
		Level:  hooks.LogLevelConnection | hooks.LogLevelMessage,
	}))

	if len(opts.credentials) > 0 {
		creds, err := parseCredentials(opts.credentials)
		if err != nil {
			return err
		}
		if err := srv.AddHook(new(hooks.AuthHook), &hooks.AuthConfig{Credentials: creds}); err != nil {
			return err
		}
		slog.Info("authentication enabled", "users", len(creds))
	}

	if opts.rateLimit > 0 {
		srv.RegisterHook(hooks.NewRateLimitHook(hooks.RateLimitConfig{MessagesPerSecond: opts.rateLimit}))
	}

	if opts.metricsAddr != "" {
		srv.RegisterHook(hooks.NewMetricsHook())
	}

	if opts.statsInterval > 0 {
		if err := srv.AddHook(hooks.NewStatsHook(hooks.StatsConfig{Interval: opts.statsInterval}), nil); err != nil {
			return err
		}
	}

	if opts.redisAddr != "" {
		if err := srv.AddHook(new(hooks.RedisHook), &hooks.RedisConfig{Addr: opts.redisAddr}); err != nil {
			return err
		}
	}

	if opts.natsURL != "" {
		if err := srv.AddHook(new(hooks.NATSHook), &hooks.NATSConfig{URL: opts.natsURL}); err != nil {
			return err
		}
	}
	return nil
}

func parseCredentials(values []string) (map[string]string, error) {
	creds := make(map[string]string, len(values))
	for _, v := range values {
		user, pass, ok := strings.Cut(v, ":")
		if !ok {
			return nil, fmt.Errorf("invalid credential format: %s (expected username:password)", v)
		}
		creds[user] = pass
	}
	return creds, nil
}

