package hooks

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bromq-dev/soupbintcp/pkg/server"
)

// NATSHook publishes every UnsequencedData packet to NATS as a msgpack
// Message, on Subject and on Subject.{username}.
type NATSHook struct {
	server.HookBase
	conn    *nats.Conn
	owned   bool
	subject string
}

// NATSConfig configures the NATS hook.
type NATSConfig struct {
	// URL is the NATS server URL (default: nats.DefaultURL).
	URL string

	// Subject is the base subject (default: "soupbintcp.unsequenced").
	Subject string

	// Conn allows providing an established connection.
	// If set, URL is ignored and the connection is not closed on Stop.
	Conn *nats.Conn
}

func (h *NATSHook) ID() string { return "nats" }

// Init connects to NATS.
func (h *NATSHook) Init(opts *server.HookOptions, config any) error {
	if err := h.HookBase.Init(opts, config); err != nil {
		return err
	}

	cfg := &NATSConfig{}
	if c, ok := config.(*NATSConfig); ok && c != nil {
		cfg = c
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	h.subject = cfg.Subject
	if h.subject == "" {
		h.subject = "soupbintcp.unsequenced"
	}

	if cfg.Conn != nil {
		h.conn = cfg.Conn
	} else {
		conn, err := nats.Connect(cfg.URL,
			nats.Name("soupbintcp"),
			nats.Timeout(5*time.Second),
		)
		if err != nil {
			return fmt.Errorf("nats connect %s: %w", cfg.URL, err)
		}
		h.conn = conn
		h.owned = true
	}

	if h.Log != nil {
		h.Log.Info("nats hook initialized", "url", cfg.URL, "subject", h.subject)
	}
	return nil
}

// Stop drains the connection if the hook created it.
func (h *NATSHook) Stop() error {
	if h.owned && h.conn != nil {
		return h.conn.Drain()
	}
	return nil
}

// Subject returns the subject a client's messages are published to.
func (h *NATSHook) Subject(username string) string {
	if username == "" {
		return h.subject
	}
	return h.subject + "." + username
}

// OnUnsequencedData publishes the message envelope. Publish failures are
// logged and do not affect the client.
func (h *NATSHook) OnUnsequencedData(ctx context.Context, client server.ClientInfo, payload []byte) error {
	data, err := NewMessage(client, payload).Marshal()
	if err != nil {
		return err
	}
	subjects := []string{h.subject}
	if username := client.Username(); username != "" {
		subjects = append(subjects, h.Subject(username))
	}
	for _, subject := range subjects {
		if err := h.conn.Publish(subject, data); err != nil && h.Log != nil {
			h.Log.Warn("nats publish failed", "subject", subject, "error", err)
		}
	}
	return nil
}
