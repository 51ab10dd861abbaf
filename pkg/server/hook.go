// Package server provides the accepting side of SoupBinTCP: one session per
// connection, gated behind a login with a timeout, dispatching packets to an
// application Handler and to registered hooks.
package server

import (
	"context"
	"log/slog"

	"github.com/bromq-dev/soupbintcp/pkg/packet"
)

// Hook provides extension points for customizing server behavior.
// Implementations opt into events by implementing the interfaces below.
//
// Hook methods are called synchronously from the session goroutine. For
// long-running operations, implementations should spawn goroutines internally.
type Hook interface {
	// ID returns a unique identifier for this hook.
	ID() string
}

// HookInitializer is implemented by hooks that need configuration when added.
type HookInitializer interface {
	Hook

	// Init is called once by AddHook with the hook-specific config (may be nil).
	Init(opts *HookOptions, config any) error
}

// HookStopper is implemented by hooks that hold resources released at Shutdown.
type HookStopper interface {
	Hook

	Stop() error
}

// HookOptions is passed to HookInitializer.Init.
type HookOptions struct {
	Server *Server
	Logger *slog.Logger
}

// AuthHook handles client authentication.
// When at least one AuthHook is registered the configured username and
// password are not checked; the hooks decide instead.
type AuthHook interface {
	Hook

	// OnLogin is called for every LoginRequest before the session check.
	// Return nil to accept, or an error to reject. A *protocol.LoginRejectedError
	// selects the reject code; any other error rejects as not authorized.
	OnLogin(ctx context.Context, client ClientInfo, req *packet.LoginRequest) error
}

// ConnectionHook handles connection lifecycle events.
type ConnectionHook interface {
	Hook

	// OnConnected is called when a connection is accepted, before login.
	OnConnected(ctx context.Context, client ClientInfo)

	// OnDisconnect is called when a connection ends. err is nil for a clean close.
	OnDisconnect(ctx context.Context, client ClientInfo, err error)
}

// LoginHook handles login outcomes.
type LoginHook interface {
	Hook

	OnLoginAccepted(ctx context.Context, client ClientInfo)
	OnLoginRejected(ctx context.Context, client ClientInfo, code packet.RejectCode)
}

// MessageHook intercepts unsequenced data from authenticated clients.
type MessageHook interface {
	Hook

	// OnUnsequencedData is called before the Handler.
	// Returning an error closes the connection with that error.
	OnUnsequencedData(ctx context.Context, client ClientInfo, payload []byte) error
}

// ClientInfo provides read-only information about a connected client.
type ClientInfo interface {
	// ID returns the server-assigned connection identifier.
	ID() string

	// Username returns the username once logged in.
	Username() string

	// RemoteAddr returns the remote address of the client.
	RemoteAddr() string

	// Session returns the session the client logged into.
	Session() string

	// Authenticated reports whether the login was accepted.
	Authenticated() bool

	// Received returns the number of unsequenced packets received.
	Received() uint64
}

// HookBase can be embedded by hooks to pick up the server and logger at Init.
type HookBase struct {
	Server *Server
	Log    *slog.Logger
}

// Init stores the options. Hooks that override Init should call it first.
func (h *HookBase) Init(opts *HookOptions, config any) error {
	if opts != nil {
		h.Server = opts.Server
		h.Log = opts.Logger
	}
	return nil
}
