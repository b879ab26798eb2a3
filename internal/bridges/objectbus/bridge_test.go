package objectbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-wpan/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-wpan/internal/wpan"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	connected bool
	handlers  map[string]mqtt.MessageHandler
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// deliver simulates a broker message on a subscribed pattern.
func (m *MockMQTTClient) deliver(t *testing.T, pattern, topic string, payload []byte) error {
	t.Helper()
	m.mu.Lock()
	h, ok := m.handlers[pattern]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no handler subscribed on %s", pattern)
	}
	return h(topic, payload)
}

// last returns the most recent message published on topic.
func (m *MockMQTTClient) last(topic string) (mockPublish, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.published) - 1; i >= 0; i-- {
		if m.published[i].Topic == topic {
			return m.published[i], true
		}
	}
	return mockPublish{}, false
}

// fakeEngine serves canned objects.
type fakeEngine struct {
	mu      sync.Mutex
	objects map[wpan.EntityRef]wpan.Object
	setErr  error
	sets    []setCall
}

type setCall struct {
	ref   wpan.EntityRef
	name  string
	value any
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{objects: make(map[wpan.EntityRef]wpan.Object)}
}

func (e *fakeEngine) put(obj wpan.Object) {
	e.mu.Lock()
	e.objects[obj.Ref] = obj
	e.mu.Unlock()
}

func (e *fakeEngine) remove(ref wpan.EntityRef) {
	e.mu.Lock()
	delete(e.objects, ref)
	e.mu.Unlock()
}

func (e *fakeEngine) GetProperty(_ context.Context, ref wpan.EntityRef, name string) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, ok := e.objects[ref]
	if !ok {
		return nil, wpan.ErrNotFound
	}
	v, ok := obj.Properties[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", wpan.ErrUnknownProperty, name)
	}
	return v, nil
}

func (e *fakeEngine) SetProperty(_ context.Context, ref wpan.EntityRef, name string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sets = append(e.sets, setCall{ref: ref, name: name, value: value})
	return e.setErr
}

func (e *fakeEngine) Describe(_ context.Context, ref wpan.EntityRef) (wpan.Object, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, ok := e.objects[ref]
	if !ok {
		return wpan.Object{}, fmt.Errorf("%w: %s", wpan.ErrNotFound, ref)
	}
	return obj, nil
}

func (e *fakeEngine) Snapshot(context.Context) (wpan.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := wpan.Snapshot{Discovered: true}
	for ref := range e.objects {
		if ref.Kind == wpan.KindPhy {
			snap.Phys = append(snap.Phys, wpan.Phy{ID: wpan.PhyID(ref.ID)})
		} else {
			snap.Interfaces = append(snap.Interfaces, wpan.Interface{ID: wpan.InterfaceID(ref.ID)})
		}
	}
	return snap, nil
}

func phyObject() wpan.Object {
	return wpan.Object{
		Ref:       wpan.PhyRef(0),
		Path:      "/wpan-phy0",
		Interface: wpan.AdapterInterface,
		Properties: map[string]any{
			wpan.PropPowered: true,
			wpan.PropName:    "wpan-phy0",
			wpan.PropChannel: uint8(11),
			wpan.PropPANID:   uint16(0xabcd),
		},
	}
}

var testTopics = mqtt.Topics{Prefix: "wpand"}

// startBridge returns a running bridge with one published PHY.
func startBridge(t *testing.T) (*Bridge, *fakeEngine, *MockMQTTClient) {
	t.Helper()
	engine := newFakeEngine()
	engine.put(phyObject())
	client := NewMockMQTTClient()

	b, err := NewBridge(BridgeOptions{
		Engine:         engine,
		MQTTClient:     client,
		Topics:         testTopics,
		Version:        "test",
		HealthInterval: time.Hour,
		RequestTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	b.OnEntityReady(wpan.PhyRef(0))
	waitFor(t, func() bool {
		_, ok := b.Lookup("/wpan-phy0")
		return ok
	})
	return b, engine, client
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func decode[T any](t *testing.T, p mockPublish) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(p.Payload, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", p.Topic, err)
	}
	return v
}

func TestNewBridge_MissingDependencies(t *testing.T) {
	tests := []struct {
		name string
		opts BridgeOptions
	}{
		{"no engine", BridgeOptions{MQTTClient: NewMockMQTTClient()}},
		{"no mqtt", BridgeOptions{Engine: newFakeEngine()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBridge(tt.opts); !errors.Is(err, ErrMissingDependency) {
				t.Errorf("NewBridge() error = %v, want ErrMissingDependency", err)
			}
		})
	}
}

func TestBridge_PublishesReadyEntity(t *testing.T) {
	_, _, client := startBridge(t)

	var desc mockPublish
	waitFor(t, func() bool {
		var ok bool
		desc, ok = client.last("wpand/object/wpan-phy0")
		return ok
	})
	if !desc.Retained || desc.QoS != 1 {
		t.Errorf("descriptor retained=%v qos=%d, want retained QoS 1", desc.Retained, desc.QoS)
	}

	obj := decode[ObjectMessage](t, desc)
	if obj.Interface != wpan.AdapterInterface || obj.Kind != wpan.KindPhy {
		t.Errorf("descriptor = %+v", obj)
	}
	if len(obj.Writable) != 2 {
		t.Errorf("writable = %v, want Powered and Channel", obj.Writable)
	}

	waitFor(t, func() bool {
		_, ok := client.last("wpand/object/wpan-phy0/property/PANID")
		return ok
	})
	ch, ok := client.last("wpand/object/wpan-phy0/property/Channel")
	if !ok {
		t.Fatal("Channel property not published")
	}
	prop := decode[PropertyMessage](t, ch)
	if prop.Value != float64(11) {
		t.Errorf("Channel value = %v, want 11", prop.Value)
	}
}

func TestBridge_SetAccepted(t *testing.T) {
	_, engine, client := startBridge(t)

	err := client.deliver(t, "wpand/set/#", "wpand/set/wpan-phy0/Channel",
		[]byte(`{"request_id":"req-1","value":15}`))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}

	engine.mu.Lock()
	sets := engine.sets
	engine.mu.Unlock()
	if len(sets) != 1 {
		t.Fatalf("SetProperty calls = %d, want 1", len(sets))
	}
	if sets[0].ref != wpan.PhyRef(0) || sets[0].name != wpan.PropChannel || sets[0].value != float64(15) {
		t.Errorf("SetProperty(%v, %s, %v)", sets[0].ref, sets[0].name, sets[0].value)
	}

	p, ok := client.last("wpand/ack/wpan-phy0")
	if !ok {
		t.Fatal("no ack published")
	}
	if p.Retained {
		t.Error("ack must not be retained")
	}
	ack := decode[AckMessage](t, p)
	if ack.RequestID != "req-1" || ack.Status != AckAccepted || ack.Property != "Channel" || ack.Error != nil {
		t.Errorf("ack = %+v", ack)
	}
}

func TestBridge_SetRejected(t *testing.T) {
	tests := []struct {
		name     string
		topic    string
		payload  string
		setErr   error
		ackTopic string
		wantCode string
	}{
		{
			name:     "kernel refused",
			topic:    "wpand/set/wpan-phy0/Channel",
			payload:  `{"request_id":"r","value":27}`,
			setErr:   fmt.Errorf("%w: invalid argument", wpan.ErrRejected),
			ackTopic: "wpand/ack/wpan-phy0",
			wantCode: ErrCodeRejected,
		},
		{
			name:     "read-only",
			topic:    "wpand/set/wpan-phy0/Name",
			payload:  `{"request_id":"r","value":"x"}`,
			setErr:   wpan.ErrReadOnly,
			ackTopic: "wpand/ack/wpan-phy0",
			wantCode: ErrCodeReadOnly,
		},
		{
			name:     "unknown path",
			topic:    "wpand/set/wpan-phy9/Channel",
			payload:  `{"request_id":"r","value":11}`,
			ackTopic: "wpand/ack/wpan-phy9",
			wantCode: ErrCodeNotFound,
		},
		{
			name:     "malformed payload",
			topic:    "wpand/set/wpan-phy0/Channel",
			payload:  `{not json`,
			ackTopic: "wpand/ack/wpan-phy0",
			wantCode: ErrCodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, engine, client := startBridge(t)
			engine.setErr = tt.setErr

			if err := client.deliver(t, "wpand/set/#", tt.topic, []byte(tt.payload)); err != nil {
				t.Fatalf("handler error = %v", err)
			}

			p, ok := client.last(tt.ackTopic)
			if !ok {
				t.Fatalf("no ack on %s", tt.ackTopic)
			}
			ack := decode[AckMessage](t, p)
			if ack.Status != AckRejected || ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("ack = %+v, want rejected %s", ack, tt.wantCode)
			}
			if ack.RequestID == "" {
				t.Error("ack has no request id")
			}
		})
	}
}

func TestBridge_SetGeneratesRequestID(t *testing.T) {
	_, _, client := startBridge(t)

	if err := client.deliver(t, "wpand/set/#", "wpand/set/wpan-phy0/Powered", []byte(`{"value":false}`)); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	p, _ := client.last("wpand/ack/wpan-phy0")
	if ack := decode[AckMessage](t, p); len(ack.RequestID) != 36 {
		t.Errorf("request id = %q, want a UUID", ack.RequestID)
	}
}

func TestBridge_Get(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		check   func(t *testing.T, resp ResponseMessage)
	}{
		{
			name:    "whole object",
			topic:   "wpand/get/wpan-phy0",
			payload: `{"request_id":"g1"}`,
			check: func(t *testing.T, resp ResponseMessage) {
				data, _ := resp.Data.(map[string]any)
				if !resp.Success || data["path"] != "/wpan-phy0" {
					t.Errorf("response = %+v", resp)
				}
			},
		},
		{
			name:    "single property",
			topic:   "wpand/get/wpan-phy0",
			payload: `{"request_id":"g1","property":"Powered"}`,
			check: func(t *testing.T, resp ResponseMessage) {
				data, _ := resp.Data.(map[string]any)
				if !resp.Success || data["value"] != true {
					t.Errorf("response = %+v", resp)
				}
			},
		},
		{
			name:    "unknown property",
			topic:   "wpand/get/wpan-phy0",
			payload: `{"request_id":"g1","property":"Bogus"}`,
			check: func(t *testing.T, resp ResponseMessage) {
				if resp.Success || resp.Error.Code != ErrCodeUnknownProperty {
					t.Errorf("response = %+v", resp)
				}
			},
		},
		{
			name:    "unknown path",
			topic:   "wpand/get/nowhere",
			payload: `{"request_id":"g1"}`,
			check: func(t *testing.T, resp ResponseMessage) {
				if resp.Success || resp.Error.Code != ErrCodeNotFound {
					t.Errorf("response = %+v", resp)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, client := startBridge(t)

			if err := client.deliver(t, "wpand/get/#", tt.topic, []byte(tt.payload)); err != nil {
				t.Fatalf("handler error = %v", err)
			}
			p, ok := client.last("wpand/response/g1")
			if !ok {
				t.Fatal("no response published")
			}
			tt.check(t, decode[ResponseMessage](t, p))
		})
	}
}

func TestBridge_GetMalformed(t *testing.T) {
	_, _, client := startBridge(t)

	err := client.deliver(t, "wpand/get/#", "wpand/get/wpan-phy0", []byte(`[`))
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("handler error = %v, want ErrInvalidRequest", err)
	}
}

func TestBridge_ObserveRepublishes(t *testing.T) {
	b, engine, client := startBridge(t)

	obj := phyObject()
	obj.Properties[wpan.PropChannel] = uint8(20)
	engine.put(obj)

	b.Observe(wpan.Change{Kind: wpan.ChangeProperty, Entity: wpan.PhyRef(0), Property: wpan.PropChannel, Value: uint8(20)})

	waitFor(t, func() bool {
		p, ok := client.last("wpand/object/wpan-phy0/property/Channel")
		return ok && decode[PropertyMessage](t, p).Value == float64(20)
	})
}

func TestBridge_InterfaceMoveClearsOldPath(t *testing.T) {
	b, engine, client := startBridge(t)

	iface := wpan.Object{
		Ref:        wpan.InterfaceRef(5),
		Path:       "/wpan0",
		Interface:  wpan.InterfaceObjectInterface,
		Properties: map[string]any{wpan.PropName: "wpan0", wpan.PropPANID: uint16(1), wpan.PropLowpanLink: false},
	}
	engine.put(iface)
	b.OnEntityReady(iface.Ref)
	waitFor(t, func() bool { _, ok := b.Lookup("/wpan0"); return ok })

	iface.Path = "/wpan-phy0/wpan0"
	iface.Properties = map[string]any{wpan.PropName: "wpan0", wpan.PropPANID: uint16(1), wpan.PropLowpanLink: true}
	engine.put(iface)
	b.Observe(wpan.Change{Kind: wpan.ChangeLink, Entity: iface.Ref, Property: wpan.PropLowpanLink, Value: true})

	waitFor(t, func() bool { _, ok := b.Lookup("/wpan-phy0/wpan0"); return ok })
	if _, ok := b.Lookup("/wpan0"); ok {
		t.Error("old path still indexed")
	}
	waitFor(t, func() bool {
		p, ok := client.last("wpand/object/wpan0")
		return ok && len(p.Payload) == 0 && p.Retained
	})
}

func TestBridge_UnpublishesMissingEntity(t *testing.T) {
	b, engine, client := startBridge(t)
	waitFor(t, func() bool {
		_, ok := client.last("wpand/object/wpan-phy0/property/PANID")
		return ok
	})

	engine.remove(wpan.PhyRef(0))
	b.Observe(wpan.Change{Kind: wpan.ChangeProperty, Entity: wpan.PhyRef(0)})

	waitFor(t, func() bool { _, ok := b.Lookup("/wpan-phy0"); return !ok })
	waitFor(t, func() bool {
		p, _ := client.last("wpand/object/wpan-phy0/property/PANID")
		return len(p.Payload) == 0
	})
}

func TestBridge_ResyncPublishesAll(t *testing.T) {
	b, engine, client := startBridge(t)

	engine.put(wpan.Object{
		Ref:        wpan.InterfaceRef(7),
		Path:       "/wpan-phy0/wpan1",
		Interface:  wpan.InterfaceObjectInterface,
		Properties: map[string]any{},
	})
	b.Resync()

	waitFor(t, func() bool {
		_, ok := client.last("wpand/object/wpan-phy0/wpan1")
		return ok
	})
}

func TestBridge_QueueOverflowSchedulesResync(t *testing.T) {
	b, err := NewBridge(BridgeOptions{Engine: newFakeEngine(), MQTTClient: NewMockMQTTClient()})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}

	// Not started: nothing drains the queue.
	for i := 0; i < publishQueueSize+1; i++ {
		b.OnEntityReady(wpan.PhyRef(wpan.PhyID(i)))
	}
	if !b.resyncPending.Load() {
		t.Error("overflow did not schedule a resync")
	}
}

func TestBridge_IgnoresOtherChanges(t *testing.T) {
	b, err := NewBridge(BridgeOptions{Engine: newFakeEngine(), MQTTClient: NewMockMQTTClient()})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}

	b.Observe(wpan.Change{Kind: wpan.ChangeRejected, Entity: wpan.PhyRef(0)})
	b.Observe(wpan.Change{Kind: wpan.ChangeDiscovered, Entity: wpan.PhyRef(0)})
	if len(b.jobs) != 0 {
		t.Errorf("queued %d jobs, want 0", len(b.jobs))
	}
}
