package objectbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-wpan/internal/wpan"
)

type fakeNetlink struct{ err error }

func (f fakeNetlink) HealthCheck(context.Context) error { return f.err }

type fakeStats struct {
	snap wpan.Snapshot
	err  error
}

func (f fakeStats) Snapshot(context.Context) (wpan.Snapshot, error) { return f.snap, f.err }

func TestHealthReporter_Current(t *testing.T) {
	discovered := wpan.Snapshot{
		Phys:       []wpan.Phy{{ID: 0}},
		Interfaces: []wpan.Interface{{ID: 3}, {ID: 4}},
		Discovered: true,
	}

	tests := []struct {
		name       string
		connected  bool
		netlink    error
		stats      fakeStats
		wantStatus HealthStatus
		wantReason string
	}{
		{
			name:       "healthy",
			connected:  true,
			stats:      fakeStats{snap: discovered},
			wantStatus: HealthHealthy,
		},
		{
			name:       "mqtt down",
			stats:      fakeStats{snap: discovered},
			wantStatus: HealthDegraded,
			wantReason: "MQTT disconnected",
		},
		{
			name:       "netlink down",
			connected:  true,
			netlink:    errors.New("closed"),
			stats:      fakeStats{snap: discovered},
			wantStatus: HealthUnhealthy,
			wantReason: "nl802154 unavailable",
		},
		{
			name:       "engine stopped",
			connected:  true,
			stats:      fakeStats{err: wpan.ErrEngineStopped},
			wantStatus: HealthUnhealthy,
			wantReason: "engine unavailable",
		},
		{
			name:       "discovery running",
			connected:  true,
			stats:      fakeStats{},
			wantStatus: HealthStarting,
			wantReason: "discovery in progress",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := NewMockMQTTClient()
			pub.connected = tt.connected
			h := NewHealthReporter(HealthReporterConfig{
				Version:   "1.2.3",
				Topic:     "wpand/health",
				Publisher: pub,
				Stats:     tt.stats,
				Netlink:   fakeNetlink{err: tt.netlink},
			})

			msg := h.Current(context.Background())
			if msg.Status != tt.wantStatus || msg.Reason != tt.wantReason {
				t.Errorf("status = %s (%q), want %s (%q)", msg.Status, msg.Reason, tt.wantStatus, tt.wantReason)
			}
			if msg.Bridge != "wpand" || msg.Version != "1.2.3" {
				t.Errorf("identity = %s %s", msg.Bridge, msg.Version)
			}
			if tt.stats.err == nil && msg.Interfaces != len(tt.stats.snap.Interfaces) {
				t.Errorf("interfaces = %d, want %d", msg.Interfaces, len(tt.stats.snap.Interfaces))
			}
		})
	}
}

type fakeJournal uint64

func (f fakeJournal) Dropped() uint64 { return uint64(f) }

func TestHealthReporter_ReportsJournalDrops(t *testing.T) {
	pub := NewMockMQTTClient()
	pub.connected = true
	h := NewHealthReporter(HealthReporterConfig{
		Topic:     "wpand/health",
		Publisher: pub,
		Stats:     fakeStats{snap: wpan.Snapshot{Discovered: true}},
		Journal:   fakeJournal(17),
	})

	if err := h.PublishNow(context.Background()); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}
	p, ok := pub.last("wpand/health")
	if !ok {
		t.Fatal("no health message published")
	}
	msg := decode[HealthMessage](t, p)
	if msg.JournalDropped != 17 {
		t.Errorf("journal_dropped = %d, want 17", msg.JournalDropped)
	}
	if msg.Status != HealthHealthy {
		t.Errorf("status = %s, want %s; drops alone do not degrade health", msg.Status, HealthHealthy)
	}
}

func TestHealthReporter_DefaultInterval(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})
	if h.interval != defaultHealthInterval {
		t.Errorf("interval = %v, want %v", h.interval, defaultHealthInterval)
	}
}

func TestHealthReporter_StartStop(t *testing.T) {
	pub := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		Topic:     "wpand/health",
		Interval:  10 * time.Millisecond,
		Publisher: pub,
		Stats:     fakeStats{snap: wpan.Snapshot{Discovered: true}},
	})

	h.Start(context.Background())
	waitFor(t, func() bool {
		_, ok := pub.last("wpand/health")
		return ok
	})
	h.Stop()
	h.Stop() // second call is a no-op

	p, _ := pub.last("wpand/health")
	if !p.Retained {
		t.Error("health must be retained")
	}
	if msg := decode[HealthMessage](t, p); msg.Status != HealthStopping {
		t.Errorf("final status = %s, want %s", msg.Status, HealthStopping)
	}
}

func TestHealthReporter_NilPublisher(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})
	if err := h.PublishStarting(); err != nil {
		t.Errorf("PublishStarting() error = %v", err)
	}
}
