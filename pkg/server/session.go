package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bromq-dev/soupbintcp/pkg/packet"
	"github.com/bromq-dev/soupbintcp/pkg/protocol"
)

// Session is the server side of one client connection.
type Session struct {
	id     string
	server *Server
	conn   *protocol.Conn
	log    *slog.Logger

	mu       sync.RWMutex
	username string

	authenticated atomic.Bool
	authOnce      sync.Once
	authCh        chan struct{} // closed once the login is accepted
}

func newSession(s *Server, id string, conn net.Conn) (*Session, error) {
	pc, err := protocol.New(conn, protocol.ServerRole, s.config.Protocol)
	if err != nil {
		return nil, err
	}
	return &Session{
		id:     id,
		server: s,
		conn:   pc,
		log:    s.log.With("conn_id", id, "remote_addr", pc.RemoteAddr().String()),
		authCh: make(chan struct{}),
	}, nil
}

// ID returns the server-assigned connection identifier.
func (s *Session) ID() string {
	return s.id
}

// Username returns the username the client logged in with.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// RemoteAddr returns the remote address of the client.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Session returns the session the client is logged into, empty before login.
func (s *Session) Session() string {
	return s.conn.Session()
}

// Authenticated reports whether the login was accepted.
func (s *Session) Authenticated() bool {
	return s.authenticated.Load()
}

// Received returns the number of UnsequencedData packets received.
func (s *Session) Received() uint64 {
	return s.conn.Received()
}

// Conn returns the underlying protocol connection.
func (s *Session) Conn() *protocol.Conn {
	return s.conn
}

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger {
	return s.log
}

// Send writes a packet to the client.
func (s *Session) Send(t packet.Type, payload []byte) error {
	return s.conn.Send(t, payload)
}

// EndOfSession tells the client the session is over and closes the connection.
func (s *Session) EndOfSession() error {
	err := s.conn.Send(packet.TypeEndOfSession, nil)
	s.conn.Close()
	return err
}

// Close closes the connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Done is closed when the connection closes.
func (s *Session) Done() <-chan struct{} {
	return s.conn.Done()
}

// Err returns the error that closed the connection, or nil.
func (s *Session) Err() error {
	return s.conn.Err()
}

func (s *Session) run(ctx context.Context) {
	hooks := s.server.hooks
	hooks.OnConnected(ctx, s)

	// The login deadline runs from accept regardless of traffic.
	loginTimer := time.AfterFunc(s.server.config.LoginTimeout, func() {
		if !s.authenticated.Load() {
			s.log.Debug("login timeout", "timeout", s.server.config.LoginTimeout)
			s.conn.CloseWithError(protocol.ErrLoginTimeout)
		}
	})
	defer loginTimer.Stop()

	for {
		pkt, err := s.conn.Receive(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.conn.CloseWithError(err)
			}
			break
		}
		if err := s.handlePacket(ctx, pkt); err != nil {
			s.conn.CloseWithError(err)
			break
		}
	}
	s.conn.Close()

	err := s.conn.Err()
	if err != nil {
		s.log.Debug("connection closed", "error", err)
	} else {
		s.log.Debug("connection closed")
	}
	hooks.OnDisconnect(context.WithoutCancel(ctx), s, err)
}

func (s *Session) handlePacket(ctx context.Context, pkt *packet.Packet) error {
	if pkt.Type == packet.TypeLoginRequest {
		if s.authenticated.Load() {
			return protocol.Violation("login request on an authenticated connection")
		}
		return s.handleLogin(ctx, pkt)
	}

	if err := s.waitAuthenticated(); err != nil {
		return err
	}

	switch pkt.Type {
	case packet.TypeUnsequencedData:
		if err := s.server.hooks.OnUnsequencedData(ctx, s, pkt.Payload); err != nil {
			return err
		}
		if err := s.server.handler.OnUnsequencedData(ctx, s, pkt.Payload); err != nil {
			return fmt.Errorf("handle unsequenced data: %w", err)
		}
		return nil

	case packet.TypeClientHeartbeat:
		if h, ok := s.server.handler.(HeartbeatHandler); ok {
			return h.OnClientHeartbeat(ctx, s)
		}
		return nil

	case packet.TypeDebug:
		if h, ok := s.server.handler.(DebugHandler); ok {
			return h.OnDebug(ctx, s, pkt.Payload)
		}
		return s.conn.Send(packet.TypeDebug, pkt.Payload)

	case packet.TypeLogoutRequest:
		if h, ok := s.server.handler.(LogoutHandler); ok {
			return h.OnLogoutRequest(ctx, s)
		}
		s.log.Debug("logout requested")
		return s.conn.Close()

	default:
		return protocol.Violation("unexpected %s from client", pkt.Type)
	}
}

// waitAuthenticated blocks a non-login packet until the login is accepted,
// bounded by the login timeout.
func (s *Session) waitAuthenticated() error {
	if s.authenticated.Load() {
		return nil
	}

	timer := time.NewTimer(s.server.config.LoginTimeout)
	defer timer.Stop()

	select {
	case <-s.authCh:
		return nil
	case <-timer.C:
		return protocol.ErrLoginTimeout
	case <-s.conn.Done():
		if err := s.conn.Err(); err != nil {
			return err
		}
		return protocol.ErrLoginTimeout
	}
}

func (s *Session) handleLogin(ctx context.Context, pkt *packet.Packet) error {
	req, err := packet.DecodeLoginRequest(pkt.Payload)
	if err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrProtocolViolation, err)
	}

	s.mu.Lock()
	s.username = req.Username
	s.mu.Unlock()

	if rej := s.server.authenticate(ctx, s, req); rej != nil {
		s.log.Info("login rejected",
			"username", req.Username,
			"session", req.RequestedSession,
			"code", rej.Code,
		)
		s.server.hooks.OnLoginRejected(ctx, s, rej.Code)
		msg := packet.LoginRejected{Reason: rej.Code}
		if err := s.conn.Send(packet.TypeLoginRejected, msg.Bytes()); err != nil {
			return err
		}
		return rej
	}

	session := s.server.Session()
	seq := s.server.SequenceNumber()
	s.conn.SetSession(session, seq)

	// Marked before the reply so the login timer cannot race an accepted login.
	s.markAuthenticated()

	accepted := packet.LoginAccepted{Session: session, SequenceNumber: seq}
	payload, err := accepted.Bytes()
	if err != nil {
		return err
	}
	if err := s.conn.Send(packet.TypeLoginAccepted, payload); err != nil {
		return err
	}
	s.conn.StartHeartbeat()

	s.log.Info("login accepted", "username", req.Username, "session", session, "sequence_number", seq)
	s.server.hooks.OnLoginAccepted(ctx, s)
	return nil
}

func (s *Session) markAuthenticated() {
	s.authOnce.Do(func() {
		s.authenticated.Store(true)
		close(s.authCh)
	})
}

// authenticate checks credentials, then the requested session.
// It returns nil when the login is accepted.
func (s *Server) authenticate(ctx context.Context, client ClientInfo, req *packet.LoginRequest) *protocol.LoginRejectedError {
	if s.hooks.HasAuth() {
		if err := s.hooks.OnLogin(ctx, client, req); err != nil {
			var rej *protocol.LoginRejectedError
			if errors.As(err, &rej) {
				return rej
			}
			return protocol.NewLoginRejectedError(packet.RejectNotAuthorized, err.Error())
		}
	} else if !equal(req.Username, s.config.Username) || !equal(req.Password, s.config.Password) {
		return protocol.NewLoginRejectedError(packet.RejectNotAuthorized, "")
	}

	if req.RequestedSession != s.config.Session {
		return protocol.NewLoginRejectedError(packet.RejectSessionNotAvailable, "")
	}
	return nil
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
