package objectbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-wpan/internal/wpan"
)

const (
	defaultHealthInterval = 30 * time.Second

	// Bounds each snapshot and netlink probe.
	healthProbeTimeout = 2 * time.Second

	netlinkConnected = "connected"
	netlinkError     = "error"
)

// HealthPublisher is the slice of the MQTT client the reporter needs.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// StatsSource supplies registry counts. *wpan.Engine satisfies it.
type StatsSource interface {
	Snapshot(ctx context.Context) (wpan.Snapshot, error)
}

// NetlinkChecker probes the nl802154 channel. *genl.Client satisfies it.
type NetlinkChecker interface {
	HealthCheck(ctx context.Context) error
}

// DropCounter reports events discarded under load. *journal.Recorder
// satisfies it.
type DropCounter interface {
	Dropped() uint64
}

// HealthReporterConfig configures a HealthReporter. Stats, Netlink and
// Journal are optional; without Stats the reporter never reports "starting".
type HealthReporterConfig struct {
	Version   string
	Topic     string
	Interval  time.Duration // zero means 30s
	Publisher HealthPublisher
	Stats     StatsSource
	Netlink   NetlinkChecker
	Journal   DropCounter
}

// HealthReporter publishes a retained HealthMessage on a fixed interval and
// a final "stopping" message on Stop.
type HealthReporter struct {
	cfg      HealthReporterConfig
	interval time.Duration
	started  time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	logger  Logger
}

// NewHealthReporter returns a reporter that is not yet running.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &HealthReporter{cfg: cfg, interval: interval, started: time.Now()}
}

// SetLogger sets the logger used for publish failures.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.mu.Lock()
	h.logger = logger
	h.mu.Unlock()
}

// Start publishes immediately, then every interval until ctx is done or
// Stop is called. A second Start is ignored.
func (h *HealthReporter) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}
	ctx, h.cancel = context.WithCancel(ctx)
	h.stopped = make(chan struct{})
	go h.loop(ctx, h.stopped)
}

// Stop ends the loop and publishes "stopping". Only the first call after
// Start publishes.
func (h *HealthReporter) Stop() {
	h.mu.Lock()
	cancel, stopped := h.cancel, h.stopped
	h.stopped = nil
	h.mu.Unlock()

	if stopped == nil {
		return
	}
	cancel()
	<-stopped
	h.report(h.publish(h.snapshot(context.Background(), HealthStopping, "daemon stopping")), "publishing final health")
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(h.snapshot(context.Background(), HealthStarting, "daemon starting"))
}

// PublishNow publishes the current evaluation.
func (h *HealthReporter) PublishNow(ctx context.Context) error {
	return h.publish(h.Current(ctx))
}

// Current evaluates health without publishing it. Checks run in order of
// severity: netlink, engine, broker, discovery.
func (h *HealthReporter) Current(ctx context.Context) HealthMessage {
	msg := h.snapshot(ctx, HealthHealthy, "")
	switch {
	case msg.Netlink != netlinkConnected:
		msg.Status, msg.Reason = HealthUnhealthy, "nl802154 unavailable"
	case msg.Reason != "":
		msg.Status = HealthUnhealthy
	case h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected():
		msg.Status, msg.Reason = HealthDegraded, "MQTT disconnected"
	case h.cfg.Stats != nil && !msg.Discovered:
		msg.Status, msg.Reason = HealthStarting, "discovery in progress"
	}
	return msg
}

func (h *HealthReporter) loop(ctx context.Context, stopped chan<- struct{}) {
	defer close(stopped)

	tick := time.NewTicker(h.interval)
	defer tick.Stop()

	for {
		h.report(h.PublishNow(ctx), "publishing health")
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

// snapshot fills a message with counts and connectivity. A failed
// snapshot sets Reason to "engine unavailable".
func (h *HealthReporter) snapshot(ctx context.Context, status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Bridge:        "wpand",
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.cfg.Version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Netlink:       netlinkConnected,
		Reason:        reason,
	}

	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	if h.cfg.Journal != nil {
		msg.JournalDropped = h.cfg.Journal.Dropped()
	}
	if h.cfg.Netlink != nil && h.cfg.Netlink.HealthCheck(ctx) != nil {
		msg.Netlink = netlinkError
	}
	if h.cfg.Stats != nil {
		snap, err := h.cfg.Stats.Snapshot(ctx)
		if err != nil {
			msg.Reason = "engine unavailable"
			return msg
		}
		msg.Phys = len(snap.Phys)
		msg.Interfaces = len(snap.Interfaces)
		msg.Discovered = snap.Discovered
		msg.InFlight = snap.InFlight
	}
	return msg
}

// publish sends msg retained at QoS 1. A nil publisher is a no-op.
func (h *HealthReporter) publish(msg HealthMessage) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(h.cfg.Topic, payload, 1, true)
}

func (h *HealthReporter) report(err error, what string) {
	if err == nil {
		return
	}
	h.mu.Lock()
	logger := h.logger
	h.mu.Unlock()
	if logger != nil {
		logger.Error(what, "error", err)
	}
}
