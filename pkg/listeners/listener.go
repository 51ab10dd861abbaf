// Package listeners provides transport listeners that hand accepted
// connections to a SoupBinTCP server.
package listeners

import (
	"errors"
	"net"
)

// ConnectionHandler handles new connections from listeners.
type ConnectionHandler interface {
	HandleConnection(conn net.Conn)
}

// Listener is the interface that all transport listeners implement.
type Listener interface {
	// ID returns the unique identifier for this listener.
	ID() string

	// Addr returns the bound address, or nil before Serve has bound it.
	Addr() net.Addr

	// Serve binds, then accepts connections and passes them to the handler.
	// It blocks until Close is called.
	Serve(handler ConnectionHandler) error

	// Close stops the listener.
	Close() error
}

// ErrListenerClosed is returned by Close when called more than once.
var ErrListenerClosed = errors.New("listener already closed")
