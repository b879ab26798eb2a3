package objectbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-wpan/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-wpan/internal/wpan"
)

const (
	// defaultRequestTimeout bounds one engine call made for a client.
	defaultRequestTimeout = 5 * time.Second

	// publishQueueSize is the capacity of the publisher's job queue.
	publishQueueSize = 256
)

// Engine is the part of *wpan.Engine the bridge drives.
type Engine interface {
	GetProperty(ctx context.Context, ref wpan.EntityRef, name string) (any, error)
	SetProperty(ctx context.Context, ref wpan.EntityRef, name string, value any) error
	Describe(ctx context.Context, ref wpan.EntityRef) (wpan.Object, error)
	Snapshot(ctx context.Context) (wpan.Snapshot, error)
}

// MQTTClient is the interface for MQTT operations.
// *mqtt.Client satisfies it; tests use a fake.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Engine is the wpan engine. Required.
	Engine Engine

	// MQTTClient is the MQTT client implementation. Required.
	MQTTClient MQTTClient

	// Netlink probes the nl802154 channel for health reports. Optional.
	Netlink NetlinkChecker

	// Journal supplies the journal's drop count for health reports. Optional.
	Journal DropCounter

	// Topics builds topic names. The zero value uses the "wpand" prefix.
	Topics mqtt.Topics

	// Version is reported in health messages.
	Version string

	// HealthInterval is how often health is published. Default: 30 seconds.
	HealthInterval time.Duration

	// RequestTimeout bounds each engine call. Default: 5 seconds.
	RequestTimeout time.Duration

	// Logger is optional structured logger.
	Logger Logger
}

// publishJob asks the publisher goroutine to refresh one object, or every
// object when resync is set.
type publishJob struct {
	ref    wpan.EntityRef
	resync bool
}

// Bridge connects the wpan engine to MQTT.
//
// It is the engine's ReadyNotifier and one of its Observers: discovered
// entities and committed changes are published as retained objects. Set
// and get requests from MQTT are forwarded to the engine.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	engine         Engine
	mqtt           MQTTClient
	topics         mqtt.Topics
	health         *HealthReporter
	requestTimeout time.Duration

	// Published objects, keyed both ways so a moved path can be cleared.
	paths   map[string]wpan.EntityRef
	objects map[wpan.EntityRef]string
	pathsMu sync.RWMutex

	jobs          chan publishJob
	resyncPending atomic.Bool

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("%w: engine", ErrMissingDependency)
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("%w: MQTT client", ErrMissingDependency)
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		engine:         opts.Engine,
		mqtt:           opts.MQTTClient,
		topics:         opts.Topics,
		requestTimeout: timeout,
		paths:          make(map[string]wpan.EntityRef),
		objects:        make(map[wpan.EntityRef]string),
		jobs:           make(chan publishJob, publishQueueSize),
		done:           make(chan struct{}),
		ctx:            ctx,
		ctxCancel:      ctxCancel,
		logger:         opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Topic:     opts.Topics.Health(),
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Stats:     opts.Engine,
		Netlink:   opts.Netlink,
		Journal:   opts.Journal,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to the set and get topics and starts the publisher
// and health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	setTopic := b.topics.AllSets()
	if err := b.mqtt.Subscribe(setTopic, 1, b.handleSet); err != nil {
		return fmt.Errorf("subscribe to sets: %w", err)
	}
	b.logInfo("subscribed to property writes", "topic", setTopic)

	getTopic := b.topics.AllGets()
	if err := b.mqtt.Subscribe(getTopic, 1, b.handleGet); err != nil {
		return fmt.Errorf("subscribe to gets: %w", err)
	}
	b.logInfo("subscribed to property reads", "topic", getTopic)

	b.wg.Add(1)
	go b.publishLoop()

	b.health.Start(ctx)

	b.logInfo("object bus started", "health_topic", b.topics.Health())
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()

		// Publishes "stopping" status
		b.health.Stop()

		b.wg.Wait()
		b.logInfo("object bus stopped")
	})
}

// OnEntityReady implements wpan.ReadyNotifier.
func (b *Bridge) OnEntityReady(ref wpan.EntityRef) {
	b.enqueue(publishJob{ref: ref})
}

// Observe implements wpan.Observer. Property and link changes refresh the
// entity's retained topics.
func (b *Bridge) Observe(c wpan.Change) {
	switch c.Kind {
	case wpan.ChangeProperty, wpan.ChangeLink:
		b.enqueue(publishJob{ref: c.Entity})
	}
}

// Resync republishes every object. Call it after the broker connection is
// re-established.
func (b *Bridge) Resync() {
	b.enqueue(publishJob{resync: true})
}

// Lookup resolves a published object path.
func (b *Bridge) Lookup(path string) (wpan.EntityRef, bool) {
	b.pathsMu.RLock()
	defer b.pathsMu.RUnlock()
	ref, ok := b.paths[path]
	return ref, ok
}

// Health evaluates the current health message without publishing it.
func (b *Bridge) Health(ctx context.Context) HealthMessage {
	return b.health.Current(ctx)
}

// enqueue hands a job to the publisher without blocking. When the queue is
// full the job is dropped and a full resync is scheduled instead.
func (b *Bridge) enqueue(job publishJob) {
	select {
	case b.jobs <- job:
	default:
		if !b.resyncPending.Swap(true) {
			b.logWarn("publish queue full, scheduling resync", "entity", job.ref.String())
		}
	}
}

// publishLoop drains the job queue.
func (b *Bridge) publishLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case job := <-b.jobs:
			if job.resync {
				b.resyncAll()
			} else {
				b.refresh(job.ref)
			}
			if b.resyncPending.Swap(false) {
				b.resyncAll()
			}
		}
	}
}

// resyncAll republishes every PHY and interface the engine holds.
func (b *Bridge) resyncAll() {
	ctx, cancel := context.WithTimeout(b.ctx, b.requestTimeout)
	snap, err := b.engine.Snapshot(ctx)
	cancel()
	if err != nil {
		b.logError("resync snapshot failed", err)
		return
	}

	for _, p := range snap.Phys {
		b.refresh(wpan.PhyRef(p.ID))
	}
	for _, i := range snap.Interfaces {
		b.refresh(wpan.InterfaceRef(i.ID))
	}
	b.logDebug("objects resynced", "phys", len(snap.Phys), "interfaces", len(snap.Interfaces))
}

// refresh publishes the descriptor and property topics of one entity.
func (b *Bridge) refresh(ref wpan.EntityRef) {
	ctx, cancel := context.WithTimeout(b.ctx, b.requestTimeout)
	defer cancel()

	obj, err := b.engine.Describe(ctx, ref)
	if err != nil {
		if errors.Is(err, wpan.ErrNotFound) {
			b.unpublish(ref)
			return
		}
		b.logError("describe failed", err)
		return
	}

	if old := b.index(ref, obj.Path); old != "" {
		b.clearRetained(ref.Kind, old)
	}

	b.publishRetained(b.topics.Object(obj.Path), NewObjectMessage(obj))
	now := time.Now().UTC()
	for _, spec := range wpan.PropertiesOf(ref.Kind) {
		b.publishRetained(b.topics.Property(obj.Path, spec.Name), PropertyMessage{
			Path:      obj.Path,
			Property:  spec.Name,
			Value:     obj.Properties[spec.Name],
			Timestamp: now,
		})
	}
}

// index records the entity's path and returns its previous path when it
// moved.
func (b *Bridge) index(ref wpan.EntityRef, path string) string {
	b.pathsMu.Lock()
	defer b.pathsMu.Unlock()

	old := b.objects[ref]
	if old == path {
		return ""
	}
	if old != "" {
		delete(b.paths, old)
	}
	b.paths[path] = ref
	b.objects[ref] = path
	return old
}

// unpublish forgets an entity and clears its retained topics.
func (b *Bridge) unpublish(ref wpan.EntityRef) {
	b.pathsMu.Lock()
	path, ok := b.objects[ref]
	if ok {
		delete(b.objects, ref)
		delete(b.paths, path)
	}
	b.pathsMu.Unlock()

	if ok {
		b.clearRetained(ref.Kind, path)
	}
}

// clearRetained removes an object's retained messages from the broker.
func (b *Bridge) clearRetained(kind wpan.EntityKind, path string) {
	topics := []string{b.topics.Object(path)}
	for _, spec := range wpan.PropertiesOf(kind) {
		topics = append(topics, b.topics.Property(path, spec.Name))
	}
	for _, t := range topics {
		if err := b.mqtt.Publish(t, nil, 1, true); err != nil {
			b.logError("failed to clear retained topic", err)
		}
	}
}

func (b *Bridge) publishRetained(topic string, msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal object", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, 1, true); err != nil {
		b.logError("failed to publish object", err)
	}
}

// handleSet processes a property write from MQTT.
func (b *Bridge) handleSet(topic string, payload []byte) error {
	path, name, ok := b.topics.ParseSet(topic)
	if !ok {
		return fmt.Errorf("%w: topic %s", ErrInvalidRequest, topic)
	}

	var req SetRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		b.publishAck(NewAckMessage(uuid.NewString(), path, name,
			fmt.Errorf("%w: %v", ErrInvalidRequest, err)))
		return nil
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	b.logInfo("received property write",
		"request_id", req.RequestID,
		"path", path,
		"property", name)

	err := b.setProperty(path, name, req.Value)
	if err != nil {
		b.logWarn("property write rejected",
			"request_id", req.RequestID,
			"path", path,
			"property", name,
			"error", err)
	}
	b.publishAck(NewAckMessage(req.RequestID, path, name, err))
	return nil
}

func (b *Bridge) setProperty(path, name string, value any) error {
	ref, ok := b.Lookup(path)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.requestTimeout)
	defer cancel()
	return b.engine.SetProperty(ctx, ref, name, value)
}

// publishAck publishes a set acknowledgement.
func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Ack(ack.Path), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// handleGet processes an object or property read from MQTT.
func (b *Bridge) handleGet(topic string, payload []byte) error {
	path, ok := b.topics.ParseGet(topic)
	if !ok {
		return fmt.Errorf("%w: topic %s", ErrInvalidRequest, topic)
	}

	var req GetRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	data, err := b.read(path, req.Property)
	resp := NewResponse(req.RequestID, data, err)

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return nil
	}
	if err := b.mqtt.Publish(b.topics.Response(req.RequestID), respPayload, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
	return nil
}

func (b *Bridge) read(path, property string) (any, error) {
	ref, ok := b.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.requestTimeout)
	defer cancel()

	if property == "" {
		obj, err := b.engine.Describe(ctx, ref)
		if err != nil {
			return nil, err
		}
		return NewObjectMessage(obj), nil
	}

	value, err := b.engine.GetProperty(ctx, ref, property)
	if err != nil {
		return nil, err
	}
	return map[string]any{"property": property, "value": value}, nil
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
