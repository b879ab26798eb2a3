package influxdb

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-wpan/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-wpan/internal/wpan"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "wpand-dev-token",
		Org:           "wpand",
		Bucket:        "radio",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// skipIfNoInfluxDB skips the test if InfluxDB is not running.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		client, err := Connect(testConfig())
		if err != nil {
			t.Skip("InfluxDB not available, skipping integration test")
		}
		client.Close()
	}
}

// fakeWriter records points instead of batching them.
type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	w.points = append(w.points, p)
	w.mu.Unlock()
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	w.flushes++
	w.mu.Unlock()
}

type fakePinger struct {
	healthy bool
	err     error
	closed  bool
}

func (p *fakePinger) Ping(context.Context) (bool, error) { return p.healthy, p.err }
func (p *fakePinger) Close()                             { p.closed = true }

func newFakeClient() (*Client, *fakeWriter, *fakePinger) {
	w := &fakeWriter{}
	p := &fakePinger{healthy: true}
	c := &Client{client: p, writeAPI: w}
	c.connected.Store(true)
	return c, w, p
}

func pointFields(p *write.Point) map[string]any {
	fields := make(map[string]any)
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	return fields
}

func pointTags(p *write.Point) map[string]string {
	tags := make(map[string]string)
	for _, t := range p.TagList() {
		tags[t.Key] = t.Value
	}
	return tags
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

// =============================================================================
// Observer Tests
// =============================================================================

func TestObserve(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		change      wpan.Change
		measurement string
		tags        map[string]string
		fields      map[string]any
	}{
		{
			name:        "channel committed",
			change:      wpan.Change{Kind: wpan.ChangeProperty, Entity: wpan.PhyRef(0), Property: wpan.PropChannel, Value: uint8(26)},
			measurement: MeasurementProperty,
			tags:        map[string]string{"entity_kind": "phy", "entity_id": "0", "property": "Channel"},
			fields:      map[string]any{"value": int64(26)},
		},
		{
			name:        "power toggled",
			change:      wpan.Change{Kind: wpan.ChangeProperty, Entity: wpan.PhyRef(1), Property: wpan.PropPowered, Value: false},
			measurement: MeasurementProperty,
			tags:        map[string]string{"entity_id": "1", "property": "Powered"},
			fields:      map[string]any{"value": false},
		},
		{
			name:        "link created",
			change:      wpan.Change{Kind: wpan.ChangeLink, Entity: wpan.InterfaceRef(3), Property: wpan.PropLowpanLink, Value: true},
			measurement: MeasurementLink,
			tags:        map[string]string{"entity_kind": "interface", "entity_id": "3"},
			fields:      map[string]any{"up": true},
		},
		{
			name:        "command rejected",
			change:      wpan.Change{Kind: wpan.ChangeRejected, Entity: wpan.PhyRef(0), Property: wpan.PropChannel, Reason: "invalid argument"},
			measurement: MeasurementRejected,
			tags:        map[string]string{"property": "Channel"},
			fields:      map[string]any{"reason": "invalid argument"},
		},
		{
			name:        "discovered",
			change:      wpan.Change{Kind: wpan.ChangeDiscovered, Entity: wpan.InterfaceRef(2)},
			measurement: MeasurementDiscovery,
			tags:        map[string]string{"entity_kind": "interface", "entity_id": "2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w, _ := newFakeClient()
			tt.change.Time = at
			c.Observe(tt.change)

			if len(w.points) != 1 {
				t.Fatalf("points = %d, want 1", len(w.points))
			}
			p := w.points[0]
			if p.Name() != tt.measurement {
				t.Errorf("measurement = %q, want %q", p.Name(), tt.measurement)
			}
			if !p.Time().Equal(at) {
				t.Errorf("time = %v, want %v", p.Time(), at)
			}
			tags := pointTags(p)
			for k, v := range tt.tags {
				if tags[k] != v {
					t.Errorf("tag %s = %q, want %q", k, tags[k], v)
				}
			}
			fields := pointFields(p)
			for k, v := range tt.fields {
				if fields[k] != v {
					t.Errorf("field %s = %v (%T), want %v (%T)", k, fields[k], fields[k], v, v)
				}
			}
		})
	}
}

func TestWritePHYMetric_UnsupportedValue(t *testing.T) {
	c, w, _ := newFakeClient()

	c.WritePHYMetric(wpan.PhyRef(0), "Odd", struct{}{}, time.Now())

	if len(w.points) != 0 {
		t.Errorf("points = %d, want none for an unsupported value", len(w.points))
	}
}

func TestWrite_Disconnected(t *testing.T) {
	c, w, _ := newFakeClient()
	c.connected.Store(false)

	c.Observe(wpan.Change{Kind: wpan.ChangeDiscovered, Entity: wpan.PhyRef(0)})

	if len(w.points) != 0 {
		t.Error("point written while disconnected")
	}
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestHealthCheck_Fake(t *testing.T) {
	c, _, p := newFakeClient()

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	p.healthy = false
	if err := c.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() = nil for unhealthy server")
	}

	c.connected.Store(false)
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestClose(t *testing.T) {
	c, w, p := newFakeClient()

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.flushes != 1 || !p.closed {
		t.Errorf("flushes = %d closed = %v", w.flushes, p.closed)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	// A second Close does nothing.
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("second Close() flushed again")
	}
}

func TestClientOptions(t *testing.T) {
	tests := []struct {
		name      string
		batch     int
		flush     int
		wantBatch uint
		wantFlush uint
	}{
		{name: "configured", batch: 500, flush: 2, wantBatch: 500, wantFlush: 2000},
		{name: "defaults", wantBatch: defaultBatchSize, wantFlush: 10000},
		{name: "negative falls back", batch: -1, flush: -5, wantBatch: defaultBatchSize, wantFlush: 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := clientOptions(config.InfluxDBConfig{BatchSize: tt.batch, FlushInterval: tt.flush})
			if opts.BatchSize() != tt.wantBatch {
				t.Errorf("BatchSize() = %d, want %d", opts.BatchSize(), tt.wantBatch)
			}
			if opts.FlushInterval() != tt.wantFlush {
				t.Errorf("FlushInterval() = %d, want %d", opts.FlushInterval(), tt.wantFlush)
			}
		})
	}
}

func TestClose_Nil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on empty client error = %v", err)
	}
}
