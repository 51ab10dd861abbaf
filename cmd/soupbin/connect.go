package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bromq-dev/soupbintcp/pkg/client"
	"github.com/bromq-dev/soupbintcp/pkg/packet"
	"github.com/bromq-dev/soupbintcp/pkg/protocol"
)

type connectOptions struct {
	addr           string
	wsURL          string
	username       string
	password       string
	session        string
	sequenceNumber uint64
	send           []string
	debugText      string

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	dialTimeout       time.Duration
}

func connectCmd() *cobra.Command {
	opts := &connectOptions{}

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Log in to a SoupBinTCP server and print sequenced data",
		Long: `Log in to a SoupBinTCP server and print every sequenced message
with its sequence number until the session ends or the command is
interrupted, in which case a LogoutRequest is sent.`,
		Example: `  soupbin connect --addr localhost:4000 --username user --password pass
  soupbin connect --ws-url ws://localhost:8080/soupbintcp --send hello --send world`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", "localhost:4000", "Server address")
	f.StringVar(&opts.wsURL, "ws-url", "", "Connect over WebSocket to this URL instead of --addr")
	f.StringVar(&opts.username, "username", "", "Login username")
	f.StringVar(&opts.password, "password", "", "Login password")
	f.StringVar(&opts.session, "session", "", "Requested session, must match the server's session")
	f.Uint64Var(&opts.sequenceNumber, "sequence-number", 1, "Requested sequence number")
	f.StringArrayVar(&opts.send, "send", nil, "Unsequenced message to send after login (can be repeated)")
	f.StringVar(&opts.debugText, "debug-text", "", "Debug packet text to send after login")
	f.DurationVar(&opts.heartbeatInterval, "heartbeat-interval", 5*time.Second, "Idle time before a heartbeat is sent")
	f.DurationVar(&opts.heartbeatTimeout, "heartbeat-timeout", 15*time.Second, "Silence after which the server is considered gone")
	f.DurationVar(&opts.dialTimeout, "dial-timeout", 10*time.Second, "Timeout for connecting and logging in")

	return cmd
}

func runConnect(ctx context.Context, out io.Writer, opts *connectOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &client.Config{
		Addr:           opts.addr,
		Username:       opts.username,
		Password:       opts.password,
		Session:        opts.session,
		SequenceNumber: opts.sequenceNumber,
		DialTimeout:    opts.dialTimeout,
		Protocol: &protocol.Config{
			HeartbeatInterval: opts.heartbeatInterval,
			HeartbeatTimeout:  opts.heartbeatTimeout,
		},
		Logger: slog.Default(),
	}

	var (
		c   *client.Client
		err error
	)
	if opts.wsURL != "" {
		c, err = client.DialWebSocket(ctx, opts.wsURL, cfg)
	} else {
		c, err = client.Dial(ctx, cfg)
	}
	if err != nil {
		var rej *protocol.LoginRejectedError
		if errors.As(err, &rej) {
			return fmt.Errorf("%s: %w", cfg.URL(), rej)
		}
		return err
	}
	defer c.Close()

	fmt.Fprintf(out, "logged in to %s: session %q, next sequence number %d\n",
		c.URL(), c.Session(), c.SequenceNumber())

	for _, msg := range opts.send {
		if err := c.SendUnsequenced([]byte(msg)); err != nil {
			return err
		}
	}
	if opts.debugText != "" {
		if err := c.SendDebug(opts.debugText); err != nil {
			return err
		}
	}

	seq := c.SequenceNumber()
	for {
		pkt, err := c.Receive(ctx)
		switch {
		case errors.Is(err, io.EOF):
			fmt.Fprintln(out, "end of session")
			return nil
		case ctx.Err() != nil:
			return c.Logout()
		case err != nil:
			return err
		}

		switch pkt.Type {
		case packet.TypeSequencedData:
			fmt.Fprintf(out, "%d %s\n", seq, pkt.Payload)
			seq++
		case packet.TypeDebug:
			fmt.Fprintf(out, "debug: %s\n", pkt.Payload)
		default:
			slog.Debug("ignoring packet", "type", pkt.Type)
		}
	}
}
