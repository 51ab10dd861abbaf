package hooks

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bromq-dev/soupbintcp/pkg/packet"
	"github.com/bromq-dev/soupbintcp/pkg/protocol"
	"github.com/bromq-dev/soupbintcp/pkg/server"
)

// MetricsConfig configures the Prometheus metrics hook.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "soupbintcp").
	Namespace string

	// Subsystem is the metrics subsystem (default: "server").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics hook.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// MetricsHook exports connection, login and message counters.
//
// Metrics collected:
//   - soupbintcp_server_connections_total
//   - soupbintcp_server_active_connections
//   - soupbintcp_server_authenticated_sessions
//   - soupbintcp_server_logins_total{result}
//   - soupbintcp_server_disconnects_total{reason}
//   - soupbintcp_server_unsequenced_messages_total
//   - soupbintcp_server_unsequenced_bytes_total
type MetricsHook struct {
	connectionsTotal  prometheus.Counter
	activeConnections prometheus.Gauge
	authenticated     prometheus.Gauge
	loginsTotal       *prometheus.CounterVec
	disconnectsTotal  *prometheus.CounterVec
	messagesTotal     prometheus.Counter
	bytesTotal        prometheus.Counter
}

// NewMetricsHook registers the metrics and returns the hook.
func NewMetricsHook(opts ...MetricsOption) *MetricsHook {
	config := MetricsConfig{
		Namespace: "soupbintcp",
		Subsystem: "server",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &MetricsHook{
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_total",
			Help:        "Total number of accepted connections",
			ConstLabels: config.ConstLabels,
		}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_connections",
			Help:        "Number of open connections",
			ConstLabels: config.ConstLabels,
		}),
		authenticated: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "authenticated_sessions",
			Help:        "Number of open connections with an accepted login",
			ConstLabels: config.ConstLabels,
		}),
		loginsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "logins_total",
			Help:        "Total login attempts by result",
			ConstLabels: config.ConstLabels,
		}, []string{"result"}),
		disconnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "disconnects_total",
			Help:        "Total disconnects by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),
		messagesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "unsequenced_messages_total",
			Help:        "Total UnsequencedData packets received",
			ConstLabels: config.ConstLabels,
		}),
		bytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "unsequenced_bytes_total",
			Help:        "Total UnsequencedData payload bytes received",
			ConstLabels: config.ConstLabels,
		}),
	}
}

func (h *MetricsHook) ID() string { return "metrics" }

func (h *MetricsHook) OnConnected(ctx context.Context, client server.ClientInfo) {
	h.connectionsTotal.Inc()
	h.activeConnections.Inc()
}

func (h *MetricsHook) OnDisconnect(ctx context.Context, client server.ClientInfo, err error) {
	h.activeConnections.Dec()
	if client.Authenticated() {
		h.authenticated.Dec()
	}
	h.disconnectsTotal.WithLabelValues(DisconnectReason(err)).Inc()
}

func (h *MetricsHook) OnLoginAccepted(ctx context.Context, client server.ClientInfo) {
	h.authenticated.Inc()
	h.loginsTotal.WithLabelValues("accepted").Inc()
}

func (h *MetricsHook) OnLoginRejected(ctx context.Context, client server.ClientInfo, code packet.RejectCode) {
	switch code {
	case packet.RejectSessionNotAvailable:
		h.loginsTotal.WithLabelValues("session_not_available").Inc()
	default:
		h.loginsTotal.WithLabelValues("not_authorized").Inc()
	}
}

func (h *MetricsHook) OnUnsequencedData(ctx context.Context, client server.ClientInfo, payload []byte) error {
	h.messagesTotal.Inc()
	h.bytesTotal.Add(float64(len(payload)))
	return nil
}

// DisconnectReason classifies the error a connection ended with.
func DisconnectReason(err error) string {
	var rej *protocol.LoginRejectedError
	switch {
	case err == nil:
		return "clean"
	case errors.Is(err, protocol.ErrHeartbeatTimeout):
		return "heartbeat_timeout"
	case errors.Is(err, protocol.ErrLoginTimeout):
		return "login_timeout"
	case errors.As(err, &rej):
		return "login_rejected"
	case errors.Is(err, protocol.ErrBufferOverflow):
		return "buffer_overflow"
	case errors.Is(err, protocol.ErrProtocolViolation):
		return "protocol_violation"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
