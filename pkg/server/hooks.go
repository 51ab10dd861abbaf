package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bromq-dev/soupbintcp/pkg/packet"
	"github.com/bromq-dev/soupbintcp/pkg/protocol"
)

// Hooks manages registered hooks and dispatches events.
type Hooks struct {
	mu sync.RWMutex

	all        []Hook
	auth       []AuthHook
	connection []ConnectionHook
	login      []LoginHook
	message    []MessageHook
}

// NewHooks creates a new hook manager.
func NewHooks() *Hooks {
	return &Hooks{}
}

// Register registers a hook. The hook is checked for all supported interfaces.
func (h *Hooks) Register(hook Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all = append(h.all, hook)
	if ah, ok := hook.(AuthHook); ok {
		h.auth = append(h.auth, ah)
	}
	if ch, ok := hook.(ConnectionHook); ok {
		h.connection = append(h.connection, ch)
	}
	if lh, ok := hook.(LoginHook); ok {
		h.login = append(h.login, lh)
	}
	if mh, ok := hook.(MessageHook); ok {
		h.message = append(h.message, mh)
	}
}

// HasAuth reports whether any AuthHook is registered.
func (h *Hooks) HasAuth() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.auth) > 0
}

// OnLogin calls all auth hooks. The first rejection wins and is
// normalized to a *protocol.LoginRejectedError.
func (h *Hooks) OnLogin(ctx context.Context, client ClientInfo, req *packet.LoginRequest) error {
	h.mu.RLock()
	hooks := h.auth
	h.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook.OnLogin(ctx, client, req); err != nil {
			var rej *protocol.LoginRejectedError
			if errors.As(err, &rej) {
				return rej
			}
			return protocol.NewLoginRejectedError(packet.RejectNotAuthorized,
				fmt.Sprintf("login rejected by %s: %v", hook.ID(), err))
		}
	}
	return nil
}

// OnConnected notifies all connection hooks of a new connection.
func (h *Hooks) OnConnected(ctx context.Context, client ClientInfo) {
	h.mu.RLock()
	hooks := h.connection
	h.mu.RUnlock()

	for _, hook := range hooks {
		hook.OnConnected(ctx, client)
	}
}

// OnDisconnect notifies all connection hooks of disconnection.
func (h *Hooks) OnDisconnect(ctx context.Context, client ClientInfo, err error) {
	h.mu.RLock()
	hooks := h.connection
	h.mu.RUnlock()

	for _, hook := range hooks {
		hook.OnDisconnect(ctx, client, err)
	}
}

// OnLoginAccepted notifies all login hooks of an accepted login.
func (h *Hooks) OnLoginAccepted(ctx context.Context, client ClientInfo) {
	h.mu.RLock()
	hooks := h.login
	h.mu.RUnlock()

	for _, hook := range hooks {
		hook.OnLoginAccepted(ctx, client)
	}
}

// OnLoginRejected notifies all login hooks of a rejected login.
func (h *Hooks) OnLoginRejected(ctx context.Context, client ClientInfo, code packet.RejectCode) {
	h.mu.RLock()
	hooks := h.login
	h.mu.RUnlock()

	for _, hook := range hooks {
		hook.OnLoginRejected(ctx, client, code)
	}
}

// OnUnsequencedData calls all message hooks. The first error stops the chain.
func (h *Hooks) OnUnsequencedData(ctx context.Context, client ClientInfo, payload []byte) error {
	h.mu.RLock()
	hooks := h.message
	h.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook.OnUnsequencedData(ctx, client, payload); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops every hook implementing HookStopper and joins their errors.
func (h *Hooks) Stop() error {
	h.mu.RLock()
	hooks := h.all
	h.mu.RUnlock()

	var errs []error
	for _, hook := range hooks {
		if s, ok := hook.(HookStopper); ok {
			if err := s.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop hook %s: %w", hook.ID(), err))
			}
		}
	}
	return errors.Join(errs...)
}
