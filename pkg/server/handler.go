package server

import "context"

// Handler receives application data from authenticated clients.
// It is the one piece of business logic every server must supply.
type Handler interface {
	OnUnsequencedData(ctx context.Context, s *Session, payload []byte) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, s *Session, payload []byte) error

// OnUnsequencedData calls f.
func (f HandlerFunc) OnUnsequencedData(ctx context.Context, s *Session, payload []byte) error {
	return f(ctx, s, payload)
}

// HeartbeatHandler is optionally implemented by a Handler. Default: no-op.
type HeartbeatHandler interface {
	OnClientHeartbeat(ctx context.Context, s *Session) error
}

// DebugHandler is optionally implemented by a Handler. Default: echo the payload back.
type DebugHandler interface {
	OnDebug(ctx context.Context, s *Session, payload []byte) error
}

// LogoutHandler is optionally implemented by a Handler. Default: close the connection.
type LogoutHandler interface {
	OnLogoutRequest(ctx context.Context, s *Session) error
}
