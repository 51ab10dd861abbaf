// Package hooks provides ready-made server hooks: credential checks,
// logging, Prometheus metrics, rate limiting, and forwarding of client
// messages to Redis or NATS.
package hooks

import (
	"context"
	"crypto/subtle"
	"sync"

	"github.com/bromq-dev/soupbintcp/pkg/packet"
	"github.com/bromq-dev/soupbintcp/pkg/protocol"
	"github.com/bromq-dev/soupbintcp/pkg/server"
)

// AuthHook authenticates logins against a set of credentials, replacing the
// single username and password of the server config.
type AuthHook struct {
	mu          sync.RWMutex
	credentials map[string]string // username -> password
	validator   AuthValidator
}

// AuthValidator is a custom authentication function.
type AuthValidator func(ctx context.Context, username, password string) bool

// AuthConfig configures the auth hook.
type AuthConfig struct {
	// Credentials is a map of username -> password for simple auth.
	Credentials map[string]string

	// Validator is a custom authentication function.
	// If set, Credentials is ignored.
	Validator AuthValidator
}

// NewAuthHook creates a new authentication hook.
func NewAuthHook(cfg AuthConfig) *AuthHook {
	h := &AuthHook{}
	h.configure(&cfg)
	return h
}

func (h *AuthHook) ID() string { return "auth" }

// Init applies an *AuthConfig when the hook is added with Server.AddHook.
func (h *AuthHook) Init(opts *server.HookOptions, config any) error {
	if cfg, ok := config.(*AuthConfig); ok && cfg != nil {
		h.configure(cfg)
	}
	return nil
}

func (h *AuthHook) configure(cfg *AuthConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.credentials = make(map[string]string, len(cfg.Credentials))
	for user, pass := range cfg.Credentials {
		h.credentials[user] = pass
	}
	h.validator = cfg.Validator
}

// OnLogin validates the LoginRequest credentials.
func (h *AuthHook) OnLogin(ctx context.Context, client server.ClientInfo, req *packet.LoginRequest) error {
	h.mu.RLock()
	validator := h.validator
	expected, ok := h.credentials[req.Username]
	h.mu.RUnlock()

	// Use custom validator if provided
	if validator != nil {
		if !validator(ctx, req.Username, req.Password) {
			return protocol.NewLoginRejectedError(packet.RejectNotAuthorized, "invalid credentials")
		}
		return nil
	}

	if !ok {
		return protocol.NewLoginRejectedError(packet.RejectNotAuthorized, "unknown user")
	}
	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(expected)) != 1 {
		return protocol.NewLoginRejectedError(packet.RejectNotAuthorized, "invalid password")
	}
	return nil
}

// AddUser adds or updates a user credential.
func (h *AuthHook) AddUser(username, password string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.credentials == nil {
		h.credentials = make(map[string]string)
	}
	h.credentials[username] = password
}

// RemoveUser removes a user credential.
func (h *AuthHook) RemoveUser(username string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.credentials, username)
}
