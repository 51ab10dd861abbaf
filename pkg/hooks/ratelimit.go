package hooks

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/bromq-dev/soupbintcp/pkg/server"
)

// ErrRateLimited is returned when a client exceeds its message rate.
// The server closes the connection.
var ErrRateLimited = errors.New("unsequenced data rate limit exceeded")

// RateLimitHook limits UnsequencedData rates per connection.
type RateLimitHook struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// RateLimitConfig configures the rate limiter.
type RateLimitConfig struct {
	// MessagesPerSecond is the sustained rate per connection (0 = unlimited).
	MessagesPerSecond float64

	// BurstSize is the max burst allowed (default: 2 * MessagesPerSecond, at least 1).
	BurstSize int
}

// NewRateLimitHook creates a new rate limiting hook.
func NewRateLimitHook(cfg RateLimitConfig) *RateLimitHook {
	if cfg.BurstSize == 0 {
		cfg.BurstSize = max(int(cfg.MessagesPerSecond*2), 1)
	}
	return &RateLimitHook{
		limit:    rate.Limit(cfg.MessagesPerSecond),
		burst:    cfg.BurstSize,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (h *RateLimitHook) ID() string { return "ratelimit" }

// Init applies a *RateLimitConfig when the hook is added with Server.AddHook.
func (h *RateLimitHook) Init(opts *server.HookOptions, config any) error {
	if cfg, ok := config.(*RateLimitConfig); ok && cfg != nil {
		nh := NewRateLimitHook(*cfg)
		h.mu.Lock()
		h.limit, h.burst, h.limiters = nh.limit, nh.burst, nh.limiters
		h.mu.Unlock()
	}
	return nil
}

// OnUnsequencedData checks the message rate limit.
func (h *RateLimitHook) OnUnsequencedData(ctx context.Context, client server.ClientInfo, payload []byte) error {
	if h.limit <= 0 {
		return nil // No limit
	}
	if !h.limiter(client.ID()).Allow() {
		return ErrRateLimited
	}
	return nil
}

func (h *RateLimitHook) OnConnected(ctx context.Context, client server.ClientInfo) {}

// OnDisconnect drops the connection's limiter.
func (h *RateLimitHook) OnDisconnect(ctx context.Context, client server.ClientInfo, err error) {
	h.mu.Lock()
	delete(h.limiters, client.ID())
	h.mu.Unlock()
}

func (h *RateLimitHook) limiter(id string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.limiters == nil {
		h.limiters = make(map[string]*rate.Limiter)
	}
	l, ok := h.limiters[id]
	if !ok {
		l = rate.NewLimiter(h.limit, h.burst)
		h.limiters[id] = l
	}
	return l
}

// Tracked returns the number of connections with a live limiter.
func (h *RateLimitHook) Tracked() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.limiters)
}
