package hooks

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bromq-dev/soupbintcp/pkg/packet"
	"github.com/bromq-dev/soupbintcp/pkg/server"
)

// StatsHook keeps running totals and reports them periodically.
// By default the report is logged at Info level.
type StatsHook struct {
	server.HookBase

	reporter StatsReporter
	interval time.Duration

	startTime    time.Time
	connected    atomic.Int64
	totalClients atomic.Int64
	logins       atomic.Int64
	rejected     atomic.Int64
	msgsReceived atomic.Int64
	bytesRecv    atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// StatsReporter receives each periodic report.
type StatsReporter func(Stats)

// StatsConfig configures the stats hook.
type StatsConfig struct {
	// Reporter is called on every tick (default: log the stats).
	Reporter StatsReporter

	// Interval is how often to report (default: 10s).
	Interval time.Duration
}

// Stats holds running server totals.
type Stats struct {
	Uptime           time.Duration
	ClientsConnected int64
	ClientsTotal     int64
	LoginsAccepted   int64
	LoginsRejected   int64
	MessagesReceived int64
	BytesReceived    int64

	// SequenceNumber is the server's next sequence number, when known.
	SequenceNumber uint64
}

// NewStatsHook creates a new stats hook. Reporting starts with Start or
// when the hook is added to a server.
func NewStatsHook(cfg StatsConfig) *StatsHook {
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Second
	}
	return &StatsHook{
		reporter:  cfg.Reporter,
		interval:  cfg.Interval,
		startTime: time.Now(),
	}
}

func (h *StatsHook) ID() string { return "stats" }

// Init starts reporting.
func (h *StatsHook) Init(opts *server.HookOptions, config any) error {
	if err := h.HookBase.Init(opts, config); err != nil {
		return err
	}
	h.Start()
	return nil
}

// Start begins periodic reporting.
func (h *StatsHook) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		return
	}
	if h.interval <= 0 {
		h.interval = 10 * time.Second
	}
	if h.startTime.IsZero() {
		h.startTime = time.Now()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.loop(ctx)
}

// Stop stops periodic reporting.
func (h *StatsHook) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	return nil
}

func (h *StatsHook) loop(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.report(h.Stats())
		}
	}
}

func (h *StatsHook) report(s Stats) {
	if h.reporter != nil {
		h.reporter(s)
		return
	}
	log := h.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("server stats",
		"uptime", s.Uptime.Round(time.Second),
		"clients_connected", s.ClientsConnected,
		"clients_total", s.ClientsTotal,
		"logins_accepted", s.LoginsAccepted,
		"logins_rejected", s.LoginsRejected,
		"messages_received", s.MessagesReceived,
		"bytes_received", s.BytesReceived,
		"sequence_number", s.SequenceNumber,
	)
}

// ConnectionHook implementation

func (h *StatsHook) OnConnected(ctx context.Context, client server.ClientInfo) {
	h.connected.Add(1)
	h.totalClients.Add(1)
}

func (h *StatsHook) OnDisconnect(ctx context.Context, client server.ClientInfo, err error) {
	h.connected.Add(-1)
}

// LoginHook implementation

func (h *StatsHook) OnLoginAccepted(ctx context.Context, client server.ClientInfo) {
	h.logins.Add(1)
}

func (h *StatsHook) OnLoginRejected(ctx context.Context, client server.ClientInfo, code packet.RejectCode) {
	h.rejected.Add(1)
}

// MessageHook implementation

func (h *StatsHook) OnUnsequencedData(ctx context.Context, client server.ClientInfo, payload []byte) error {
	h.msgsReceived.Add(1)
	h.bytesRecv.Add(int64(len(payload)))
	return nil
}

// Stats returns the current totals.
func (h *StatsHook) Stats() Stats {
	s := Stats{
		Uptime:           time.Since(h.startTime),
		ClientsConnected: h.connected.Load(),
		ClientsTotal:     h.totalClients.Load(),
		LoginsAccepted:   h.logins.Load(),
		LoginsRejected:   h.rejected.Load(),
		MessagesReceived: h.msgsReceived.Load(),
		BytesReceived:    h.bytesRecv.Load(),
	}
	if h.Server != nil {
		s.SequenceNumber = h.Server.SequenceNumber()
	}
	return s
}
