package hooks

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bromq-dev/soupbintcp/pkg/server"
)

// RedisHook forwards client messages to Redis/Valkey and keeps a registry
// of logged-in connections.
//
// Key layout (with default prefix):
//
//	soupbintcp:unsequenced     → PUB/SUB channel - msgpack Message per UnsequencedData
//	soupbintcp:conn:{connID}   → HASH - username, session, remote address (expires)
type RedisHook struct {
	server.HookBase
	client    *redis.Client
	owned     bool
	keyPrefix string
	channel   string
	ttl       time.Duration
}

// RedisConfig configures the Redis hook.
type RedisConfig struct {
	// Addr is the Redis server address (default: "localhost:6379").
	Addr string

	// Password for Redis authentication (optional).
	Password string

	// DB is the Redis database number (default: 0).
	DB int

	// KeyPrefix is prepended to all Redis keys (default: "soupbintcp:").
	KeyPrefix string

	// Channel is the pub/sub channel for messages (default: KeyPrefix + "unsequenced").
	Channel string

	// SessionTTL expires connection registry entries (default: 24h).
	SessionTTL time.Duration

	// Client allows providing a pre-configured Redis client.
	// If set, Addr/Password/DB are ignored and the client is not closed on Stop.
	Client *redis.Client
}

func (h *RedisHook) ID() string { return "redis" }

// Init connects to Redis.
func (h *RedisHook) Init(opts *server.HookOptions, config any) error {
	if err := h.HookBase.Init(opts, config); err != nil {
		return err
	}

	// Apply config
	cfg := &RedisConfig{}
	if c, ok := config.(*RedisConfig); ok && c != nil {
		cfg = c
	}

	// Apply defaults
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	h.keyPrefix = cfg.KeyPrefix
	if h.keyPrefix == "" {
		h.keyPrefix = "soupbintcp:"
	}
	h.channel = cfg.Channel
	if h.channel == "" {
		h.channel = h.keyPrefix + "unsequenced"
	}
	h.ttl = cfg.SessionTTL
	if h.ttl <= 0 {
		h.ttl = 24 * time.Hour
	}

	// Use provided client or create new one
	if cfg.Client != nil {
		h.client = cfg.Client
	} else {
		h.client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		h.owned = true
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.client.Ping(ctx).Err(); err != nil {
		if h.owned {
			h.client.Close()
		}
		return fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	if h.Log != nil {
		h.Log.Info("redis hook initialized",
			"addr", cfg.Addr,
			"prefix", h.keyPrefix,
			"channel", h.channel,
		)
	}
	return nil
}

// Stop closes the Redis connection if the hook created it.
func (h *RedisHook) Stop() error {
	if h.owned && h.client != nil {
		return h.client.Close()
	}
	return nil
}

// Channel returns the pub/sub channel messages are published to.
func (h *RedisHook) Channel() string {
	return h.channel
}

// ConnKey returns the registry key for a connection.
func (h *RedisHook) ConnKey(connID string) string {
	return h.keyPrefix + "conn:" + connID
}

// OnUnsequencedData publishes the message envelope. Publish failures are
// logged and do not affect the client.
func (h *RedisHook) OnUnsequencedData(ctx context.Context, client server.ClientInfo, payload []byte) error {
	data, err := NewMessage(client, payload).Marshal()
	if err != nil {
		return err
	}
	if err := h.client.Publish(ctx, h.channel, data).Err(); err != nil && h.Log != nil {
		h.Log.Warn("redis publish failed", "conn_id", client.ID(), "error", err)
	}
	return nil
}

func (h *RedisHook) OnConnected(ctx context.Context, client server.ClientInfo) {}

// OnDisconnect removes the connection from the registry.
func (h *RedisHook) OnDisconnect(ctx context.Context, client server.ClientInfo, err error) {
	if !client.Authenticated() {
		return
	}
	if err := h.client.Del(ctx, h.ConnKey(client.ID())).Err(); err != nil && h.Log != nil {
		h.Log.Warn("redis unregister failed", "conn_id", client.ID(), "error", err)
	}
}

// OnLoginAccepted registers the connection.
func (h *RedisHook) OnLoginAccepted(ctx context.Context, client server.ClientInfo) {
	key := h.ConnKey(client.ID())
	_, err := h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"username", client.Username(),
			"session", client.Session(),
			"remote_addr", client.RemoteAddr(),
			"login_at", time.Now().Unix(),
		)
		pipe.Expire(ctx, key, h.ttl)
		return nil
	})
	if err != nil && h.Log != nil {
		h.Log.Warn("redis register failed", "conn_id", client.ID(), "error", err)
	}
}
