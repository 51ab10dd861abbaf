package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bromq-dev/soupbintcp/pkg/client"
	"github.com/bromq-dev/soupbintcp/pkg/packet"
	"github.com/bromq-dev/soupbintcp/pkg/protocol"
	"github.com/bromq-dev/soupbintcp/pkg/server"
)

type fakeClient struct {
	id            string
	username      string
	session       string
	authenticated bool
	received      uint64
}

func (c *fakeClient) ID() string          { return c.id }
func (c *fakeClient) Username() string    { return c.username }
func (c *fakeClient) RemoteAddr() string  { return "10.0.0.1:5000" }
func (c *fakeClient) Session() string     { return c.session }
func (c *fakeClient) Authenticated() bool { return c.authenticated }
func (c *fakeClient) Received() uint64    { return c.received }

func loginRequest(user, pass string) *packet.LoginRequest {
	return &packet.LoginRequest{Username: user, Password: pass}
}

func TestAuthHookCredentials(t *testing.T) {
	h := NewAuthHook(AuthConfig{Credentials: map[string]string{"alice": "secret"}})
	ctx := context.Background()
	c := &fakeClient{id: "conn-1"}

	assert.NoError(t, h.OnLogin(ctx, c, loginRequest("alice", "secret")))

	var rej *protocol.LoginRejectedError
	require.ErrorAs(t, h.OnLogin(ctx, c, loginRequest("alice", "wrong")), &rej)
	assert.Equal(t, packet.RejectNotAuthorized, rej.Code)
	assert.ErrorAs(t, h.OnLogin(ctx, c, loginRequest("bob", "secret")), &rej)

	h.AddUser("bob", "pw")
	assert.NoError(t, h.OnLogin(ctx, c, loginRequest("bob", "pw")))
	h.RemoveUser("bob")
	assert.Error(t, h.OnLogin(ctx, c, loginRequest("bob", "pw")))
}

func TestAuthHookValidator(t *testing.T) {
	h := new(AuthHook)
	require.NoError(t, h.Init(nil, &AuthConfig{
		Credentials: map[string]string{"ignored": "x"},
		Validator: func(ctx context.Context, username, password string) bool {
			return username == password
		},
	}))

	ctx := context.Background()
	assert.NoError(t, h.OnLogin(ctx, &fakeClient{}, loginRequest("same", "same")))
	assert.Error(t, h.OnLogin(ctx, &fakeClient{}, loginRequest("ignored", "x")))
}

func TestLoggerHook(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := NewLoggerHook(LoggerConfig{Logger: logger, Level: LogLevelLogin | LogLevelMessage})

	ctx := context.Background()
	c := &fakeClient{id: "conn-7", username: "alice"}

	h.OnConnected(ctx, c)
	assert.Empty(t, buf.String())

	h.OnLoginRejected(ctx, c, packet.RejectSessionNotAvailable)
	assert.Contains(t, buf.String(), "login rejected")
	assert.Contains(t, buf.String(), "conn_id=conn-7")

	buf.Reset()
	require.NoError(t, h.OnUnsequencedData(ctx, c, []byte("abc")))
	assert.Contains(t, buf.String(), "payload_size=3")
}

func TestDisconnectReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "clean"},
		{&protocol.HeartbeatTimeoutError{Timeout: time.Second}, "heartbeat_timeout"},
		{protocol.ErrLoginTimeout, "login_timeout"},
		{protocol.NewLoginRejectedError(packet.RejectNotAuthorized, ""), "login_rejected"},
		{protocol.Violation("bad"), "protocol_violation"},
		{fmt.Errorf("read: %w", protocol.ErrBufferOverflow), "buffer_overflow"},
		{fmt.Errorf("%w: %w: 20 bytes pending", protocol.ErrProtocolViolation, protocol.ErrBufferOverflow), "buffer_overflow"},
		{ErrRateLimited, "rate_limited"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, DisconnectReason(tt.err))
		})
	}
}

func TestMetricsHook(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewMetricsHook(WithRegistry(reg))
	ctx := context.Background()

	c := &fakeClient{id: "conn-1"}
	h.OnConnected(ctx, c)
	h.OnLoginAccepted(ctx, c)
	c.authenticated = true
	require.NoError(t, h.OnUnsequencedData(ctx, c, []byte("hello")))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.connectionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.activeConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.authenticated))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.loginsTotal.WithLabelValues("accepted")))
	assert.Equal(t, 5.0, testutil.ToFloat64(h.bytesTotal))

	h.OnDisconnect(ctx, c, &protocol.HeartbeatTimeoutError{})
	assert.Equal(t, 0.0, testutil.ToFloat64(h.activeConnections))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.authenticated))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.disconnectsTotal.WithLabelValues("heartbeat_timeout")))

	h.OnLoginRejected(ctx, c, packet.RejectSessionNotAvailable)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.loginsTotal.WithLabelValues("session_not_available")))
}

func TestRateLimitHook(t *testing.T) {
	h := NewRateLimitHook(RateLimitConfig{MessagesPerSecond: 1, BurstSize: 2})
	ctx := context.Background()
	c := &fakeClient{id: "conn-1"}

	assert.NoError(t, h.OnUnsequencedData(ctx, c, nil))
	assert.NoError(t, h.OnUnsequencedData(ctx, c, nil))
	assert.ErrorIs(t, h.OnUnsequencedData(ctx, c, nil), ErrRateLimited)

	// Limits are per connection.
	assert.NoError(t, h.OnUnsequencedData(ctx, &fakeClient{id: "conn-2"}, nil))
	assert.Equal(t, 2, h.Tracked())

	h.OnDisconnect(ctx, c, nil)
	assert.Equal(t, 1, h.Tracked())
}

func TestRateLimitHookUnlimited(t *testing.T) {
	h := NewRateLimitHook(RateLimitConfig{})
	for i := 0; i < 100; i++ {
		require.NoError(t, h.OnUnsequencedData(context.Background(), &fakeClient{id: "c"}, nil))
	}
	assert.Zero(t, h.Tracked())
}

func TestMessageEnvelope(t *testing.T) {
	c := &fakeClient{id: "conn-3", username: "alice", session: "TODAY", received: 9}
	data, err := NewMessage(c, []byte("order")).Marshal()
	require.NoError(t, err)

	m, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, "conn-3", m.ConnID)
	assert.Equal(t, "alice", m.Username)
	assert.Equal(t, "TODAY", m.Session)
	assert.Equal(t, "10.0.0.1:5000", m.RemoteAddr)
	assert.Equal(t, uint64(9), m.Count)
	assert.Equal(t, []byte("order"), m.Payload)
	assert.NotZero(t, m.ReceivedAt)

	_, err = DecodeMessage([]byte{0xc1})
	assert.Error(t, err)
}

func TestRedisHookInitUnreachable(t *testing.T) {
	h := new(RedisHook)
	err := h.Init(nil, &RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestNATSHookInitUnreachable(t *testing.T) {
	h := new(NATSHook)
	err := h.Init(nil, &NATSConfig{URL: "nats://127.0.0.1:1"})
	assert.Error(t, err)
	assert.Equal(t, "soupbintcp.unsequenced.alice", h.Subject("alice"))
}

func TestHooksOnServer(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetricsHook(WithRegistry(reg))

	srv, err := server.New(&server.Config{
		Protocol: &protocol.Config{HeartbeatInterval: time.Second, HeartbeatTimeout: 5 * time.Second},
	}, server.HandlerFunc(func(ctx context.Context, s *server.Session, payload []byte) error {
		return nil
	}))
	require.NoError(t, err)
	require.NoError(t, srv.AddHook(new(AuthHook), &AuthConfig{Credentials: map[string]string{"alice": "pw"}}))
	require.NoError(t, srv.AddHook(NewRateLimitHook(RateLimitConfig{MessagesPerSecond: 1, BurstSize: 1}), nil))
	srv.RegisterHook(metrics)
	defer srv.Shutdown(context.Background())

	a, b := net.Pipe()
	srv.HandleConnection(a)
	c, err := client.New(b, nil)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Login(ctx, "alice", "pw", "", 1))

	require.NoError(t, c.SendUnsequenced([]byte("one")))
	require.NoError(t, c.SendUnsequenced([]byte("two")))
	<-c.Done()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.disconnectsTotal.WithLabelValues("rate_limited")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.loginsTotal.WithLabelValues("accepted")))
	// The rate limiter runs first and stops the chain for the second message.
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.messagesTotal))
}

func TestStatsHookReports(t *testing.T) {
	reports := make(chan Stats, 4)
	h := NewStatsHook(StatsConfig{
		Interval: 10 * time.Millisecond,
		Reporter: func(s Stats) {
			select {
			case reports <- s:
			default:
			}
		},
	})
	ctx := context.Background()
	c := &fakeClient{id: "conn-1"}
	h.OnConnected(ctx, c)
	h.OnLoginAccepted(ctx, c)
	require.NoError(t, h.OnUnsequencedData(ctx, c, []byte("abcd")))

	h.Start()
	defer h.Stop()

	select {
	case s := <-reports:
		assert.Equal(t, int64(1), s.ClientsConnected)
		assert.Equal(t, int64(1), s.LoginsAccepted)
		assert.Equal(t, int64(4), s.BytesReceived)
	case <-time.After(2 * time.Second):
		t.Fatal("no stats report")
	}

	h.OnDisconnect(ctx, c, nil)
	assert.Equal(t, int64(0), h.Stats().ClientsConnected)
	assert.Equal(t, int64(1), h.Stats().ClientsTotal)
}

func TestHooksAddedByConfig(t *testing.T) {
	rl := new(RateLimitHook)
	require.NoError(t, rl.Init(nil, &RateLimitConfig{MessagesPerSecond: 1, BurstSize: 1}))
	c := &fakeClient{id: "conn-1"}
	assert.NoError(t, rl.OnUnsequencedData(context.Background(), c, nil))
	assert.ErrorIs(t, rl.OnUnsequencedData(context.Background(), c, nil), ErrRateLimited)

	var buf bytes.Buffer
	lh := new(LoggerHook)
	require.NoError(t, lh.Init(nil, &LoggerConfig{
		Logger: slog.New(slog.NewTextHandler(&buf, nil)),
		Level:  LogLevelConnection,
	}))
	lh.OnConnected(context.Background(), c)
	assert.Contains(t, buf.String(), "client connected")
}
