package wpan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-wpan/internal/nl802154"
)

// DeviceControl is the device-control channel the Engine drives.
type DeviceControl interface {
	CommandSender

	// Dump runs an enumerate command and returns the attribute payload of
	// every response message (genl header stripped).
	Dump(ctx context.Context, cmd uint8) ([][]byte, error)
}

// defaultQueueSize is the event channel capacity when none is configured.
const defaultQueueSize = 64

// EngineOptions configures a new Engine.
type EngineOptions struct {
	Control  DeviceControl
	Desired  DesiredChannel
	Ready    ReadyNotifier
	Observer Observer
	Power    PowerController
	Logger   Logger

	// QueueSize is the capacity of the inbound event channel.
	QueueSize int
}

// Snapshot is a consistent copy of the whole registry.
type Snapshot struct {
	Phys       []Phy       `json:"phys"`
	Interfaces []Interface `json:"interfaces"`
	Discovered bool        `json:"discovered"`
	InFlight   int         `json:"in_flight"`
}

// Engine owns the Registry and serialises every operation on it through a
// single dispatch loop.
//
// Dump pages, link notifications, property requests and command results
// all arrive as events on one channel and are handled one at a time, so
// registry state needs no lock. Sending a set-channel command is the only
// blocking step; it runs off-loop and its result comes back as an event.
//
// Thread Safety:
//   - Request methods are safe for concurrent use once Run has started.
type Engine struct {
	registry *Registry
	control  DeviceControl
	desired  DesiredChannel
	ready    ReadyNotifier
	observer Observer
	logger   Logger

	events chan any
	done   chan struct{}

	// Loop-owned state.
	inflight   map[uint64]pendingCommand
	nextSeq    uint64
	reconciled map[PhyID]bool
	discovered bool
}

// pendingCommand is a set-channel command awaiting the kernel's answer.
type pendingCommand struct {
	req ChannelRequest

	// reply is nil for corrective commands issued by reconciliation.
	reply chan error
}

// Events handled by the dispatch loop.
type (
	dumpPageEvent struct {
		cmd     uint8
		payload []byte
	}
	dumpDoneEvent struct {
		err error
	}
	linkMessageEvent struct {
		msgType uint16
		payload []byte
	}
	commandResultEvent struct {
		seq uint64
		err error
	}
	getEvent struct {
		ref   EntityRef
		name  string
		reply chan getReply
	}
	setEvent struct {
		ref   EntityRef
		name  string
		value any
		reply chan error
	}
	describeEvent struct {
		ref   EntityRef
		reply chan describeReply
	}
	snapshotEvent struct {
		reply chan Snapshot
	}
)

type getReply struct {
	value any
	err   error
}

type describeReply struct {
	obj Object
	err error
}

// NewEngine creates an Engine with an empty registry.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	reg := NewRegistry(opts.Control)
	reg.SetLogger(opts.Logger)
	if opts.Power != nil {
		reg.SetPowerController(opts.Power)
	}

	return &Engine{
		registry:   reg,
		control:    opts.Control,
		desired:    opts.Desired,
		ready:      opts.Ready,
		observer:   opts.Observer,
		logger:     opts.Logger,
		events:     make(chan any, opts.QueueSize),
		done:       make(chan struct{}),
		inflight:   make(map[uint64]pendingCommand),
		reconciled: make(map[PhyID]bool),
	}
}

// SetReadyNotifier replaces the ready notifier. It must be called before
// Run; components that need the Engine at construction are attached this way.
func (e *Engine) SetReadyNotifier(r ReadyNotifier) {
	e.ready = r
}

// SetObserver replaces the change observer. It must be called before Run.
func (e *Engine) SetObserver(o Observer) {
	e.observer = o
}

// Run discovers PHYs and interfaces, then dispatches events until ctx is
// cancelled. It returns nil on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	go e.discover(ctx)

	defer func() {
		for seq, p := range e.inflight {
			if p.reply != nil {
				p.reply <- ErrEngineStopped
			}
			delete(e.inflight, seq)
		}
		close(e.done)
	}()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("wpan engine stopping", "in_flight", len(e.inflight))
			return nil
		case ev := <-e.events:
			e.dispatch(ctx, ev)
		}
	}
}

// Done is closed when Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// discover issues the two enumerate dumps and feeds their pages to the loop.
// PHY pages are always posted before interface pages.
func (e *Engine) discover(ctx context.Context) {
	for _, cmd := range []uint8{nl802154.CmdGetWPANPhy, nl802154.CmdGetInterface} {
		pages, err := e.control.Dump(ctx, cmd)
		if err != nil {
			_ = e.post(ctx, dumpDoneEvent{err: fmt.Errorf("dump command %d: %w", cmd, err)})
			return
		}
		for _, page := range pages {
			if e.post(ctx, dumpPageEvent{cmd: cmd, payload: page}) != nil {
				return
			}
		}
	}
	_ = e.post(ctx, dumpDoneEvent{})
}

// post delivers an event to the loop.
func (e *Engine) post(ctx context.Context, ev any) error {
	select {
	case e.events <- ev:
		return nil
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) dispatch(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case dumpPageEvent:
		e.handleDumpPage(ctx, ev)
	case dumpDoneEvent:
		if ev.err != nil {
			e.logger.Error("discovery failed", "error", ev.err)
			return
		}
		e.discovered = true
		e.logger.Info("discovery complete",
			"phys", len(e.registry.phys), "interfaces", len(e.registry.ifaces))
	case linkMessageEvent:
		e.handleLinkMessage(ev)
	case commandResultEvent:
		e.handleCommandResult(ev)
	case getEvent:
		v, err := e.registry.Property(ev.ref, ev.name)
		ev.reply <- getReply{value: v, err: err}
	case setEvent:
		e.handleSet(ctx, ev)
	case describeEvent:
		obj, err := e.registry.Describe(ev.ref)
		ev.reply <- describeReply{obj: obj, err: err}
	case snapshotEvent:
		ev.reply <- Snapshot{
			Phys:       e.registry.Phys(),
			Interfaces: e.registry.Interfaces(),
			Discovered: e.discovered,
			InFlight:   len(e.inflight),
		}
	default:
		e.logger.Warn("unknown engine event", "type", fmt.Sprintf("%T", ev))
	}
}

// handleDumpPage decodes and folds one dump response. A malformed page is
// dropped whole.
func (e *Engine) handleDumpPage(ctx context.Context, ev dumpPageEvent) {
	attrs, err := nl802154.Decode(ev.payload)
	if err != nil {
		e.logger.Warn("dropping malformed dump page", "command", ev.cmd, "error", err)
		return
	}

	switch ev.cmd {
	case nl802154.CmdGetWPANPhy:
		res, err := e.registry.FoldPhyRecords(attrs)
		if err != nil {
			e.logger.Warn("dropping malformed PHY record", "error", err)
			return
		}
		if res.Created {
			id := PhyID(res.ID)
			e.entityReady(PhyRef(id))
			e.reconcile(ctx, id)
		}
	case nl802154.CmdGetInterface:
		before := e.phyPANIDs()
		res, err := e.registry.FoldInterfaceRecords(attrs)
		if err != nil {
			e.logger.Warn("dropping malformed interface record", "error", err)
			return
		}
		if res.Created {
			e.entityReady(InterfaceRef(InterfaceID(res.ID)))
		}
		for _, p := range e.registry.Phys() {
			if old, ok := before[p.ID]; ok && old != p.PANID {
				e.observe(Change{Kind: ChangeProperty, Entity: PhyRef(p.ID), Property: PropPANID, Value: p.PANID})
			}
		}
	}
}

// phyPANIDs returns every PHY's current PAN id, derived ones included.
func (e *Engine) phyPANIDs() map[PhyID]uint16 {
	out := make(map[PhyID]uint16, len(e.registry.phys))
	for _, p := range e.registry.Phys() {
		out[p.ID] = p.PANID
	}
	return out
}

func (e *Engine) entityReady(ref EntityRef) {
	e.observe(Change{Kind: ChangeDiscovered, Entity: ref})
	if e.ready != nil {
		e.ready.OnEntityReady(ref)
	}
}

// reconcile runs once per PHY per session.
func (e *Engine) reconcile(ctx context.Context, id PhyID) {
	if e.reconciled[id] {
		return
	}
	e.reconciled[id] = true

	p, err := e.registry.Phy(id)
	if err != nil {
		return
	}
	req, ok := Reconcile(e.desired, p)
	if !ok {
		e.logger.Debug("no channel correction needed",
			"phy", id, "page", p.Page, "channel", p.Channel,
			"desired_page", e.desired.Page, "desired_channel", e.desired.Channel)
		return
	}

	e.logger.Info("correcting PHY channel",
		"phy", id, "from_page", p.Page, "from_channel", p.Channel,
		"page", req.Page, "channel", req.Channel)
	e.send(ctx, req, nil)
}

// send issues a set-channel command off-loop and tracks it until its
// result event arrives.
func (e *Engine) send(ctx context.Context, req ChannelRequest, reply chan error) {
	seq := e.nextSeq
	e.nextSeq++
	e.inflight[seq] = pendingCommand{req: req, reply: reply}

	go func() {
		err := e.control.SendCommand(ctx, req.Command())
		_ = e.post(context.Background(), commandResultEvent{seq: seq, err: err})
	}()
}

// handleCommandResult commits an acknowledged channel or reports a
// rejection. An acknowledgement is committed even if the PHY was powered
// off while the command was in flight.
func (e *Engine) handleCommandResult(ev commandResultEvent) {
	p, ok := e.inflight[ev.seq]
	if !ok {
		return
	}
	delete(e.inflight, ev.seq)

	var result error
	if ev.err != nil {
		result = fmt.Errorf("%w: set channel %d page %d on phy %d: %w",
			ErrRejected, p.req.Channel, p.req.Page, p.req.Phy, ev.err)
		e.logger.Warn("set-channel command rejected", "phy", p.req.Phy, "channel", p.req.Channel, "error", ev.err)
		e.observe(Change{Kind: ChangeRejected, Entity: PhyRef(p.req.Phy), Property: PropChannel,
			Value: p.req.Channel, Reason: ev.err.Error()})
	} else if err := e.registry.CommitChannel(p.req); err != nil {
		result = err
	} else {
		e.logger.Info("PHY channel set", "phy", p.req.Phy, "page", p.req.Page, "channel", p.req.Channel)
		e.observe(Change{Kind: ChangeProperty, Entity: PhyRef(p.req.Phy), Property: PropChannel, Value: p.req.Channel})
	}

	if p.reply != nil {
		p.reply <- result
	}
}

func (e *Engine) handleSet(ctx context.Context, ev setEvent) {
	if err := e.checkExists(ev.ref); err != nil {
		ev.reply <- err
		return
	}
	spec, err := lookupProperty(ev.ref.Kind, ev.name)
	if err != nil {
		ev.reply <- err
		return
	}
	if !spec.Writable {
		ev.reply <- fmt.Errorf("%w: %s", ErrReadOnly, ev.name)
		return
	}

	id := PhyID(ev.ref.ID)
	switch ev.name {
	case PropPowered:
		powered, err := coerceBool(ev.value)
		if err != nil {
			ev.reply <- err
			return
		}
		changed, err := e.registry.SetPowered(id, powered)
		if changed {
			e.logger.Info("PHY power changed", "phy", id, "powered", powered)
			e.observe(Change{Kind: ChangeProperty, Entity: ev.ref, Property: PropPowered, Value: powered})
		}
		ev.reply <- err
	case PropChannel:
		channel, err := coerceByte(ev.value)
		if err != nil {
			ev.reply <- err
			return
		}
		req, err := e.registry.PrepareChannel(id, channel)
		if err != nil {
			if errors.Is(err, ErrRejected) {
				e.observe(Change{Kind: ChangeRejected, Entity: ev.ref, Property: PropChannel, Value: channel, Reason: err.Error()})
			}
			ev.reply <- err
			return
		}
		e.send(ctx, req, ev.reply)
	}
}

func (e *Engine) checkExists(ref EntityRef) error {
	switch ref.Kind {
	case KindPhy:
		_, err := e.registry.Phy(PhyID(ref.ID))
		return err
	case KindInterface:
		_, err := e.registry.Interface(InterfaceID(ref.ID))
		return err
	default:
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
}

func (e *Engine) handleLinkMessage(ev linkMessageEvent) {
	link, ok, err := DecodeLinkEvent(ev.msgType, ev.payload)
	if err != nil {
		e.logger.Warn("dropping malformed link notification", "type", ev.msgType, "error", err)
		return
	}
	if !ok {
		return
	}

	e.logger.Info("6LoWPAN link event", "kind", link.Kind, "link", link.Name, "index", link.Index, "lower", link.Lower)
	id, changed := e.registry.ApplyLinkEvent(link)
	if changed {
		e.observe(Change{Kind: ChangeLink, Entity: InterfaceRef(id), Property: PropLowpanLink,
			Value: link.Kind == LinkCreated})
	}
}

func (e *Engine) observe(c Change) {
	if e.observer == nil {
		return
	}
	c.Time = time.Now()
	e.observer.Observe(c)
}

// await waits for a request's reply. Once the loop has stopped, a reply it
// already sent still wins over ErrEngineStopped.
func await[T any](ctx context.Context, e *Engine, reply <-chan T) (T, error) {
	var zero T
	select {
	case r := <-reply:
		return r, nil
	case <-e.done:
		select {
		case r := <-reply:
			return r, nil
		default:
			return zero, ErrEngineStopped
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// HandleLinkMessage queues a raw rtnetlink link notification.
func (e *Engine) HandleLinkMessage(ctx context.Context, msgType uint16, payload []byte) error {
	return e.post(ctx, linkMessageEvent{msgType: msgType, payload: payload})
}

// GetProperty reads one property of an entity.
func (e *Engine) GetProperty(ctx context.Context, ref EntityRef, name string) (any, error) {
	reply := make(chan getReply, 1)
	if err := e.post(ctx, getEvent{ref: ref, name: name, reply: reply}); err != nil {
		return nil, err
	}
	r, err := await(ctx, e, reply)
	if err != nil {
		return nil, err
	}
	return r.value, r.err
}

// SetProperty writes one property of a PHY.
//
// A Channel write returns once the kernel has answered the set-channel
// command; the stored channel is unchanged if it refused.
//
// Returns:
//   - error: nil when accepted; otherwise ErrNotFound, ErrUnknownProperty,
//     ErrReadOnly, ErrInvalidValue or ErrRejected
func (e *Engine) SetProperty(ctx context.Context, ref EntityRef, name string, value any) error {
	reply := make(chan error, 1)
	if err := e.post(ctx, setEvent{ref: ref, name: name, value: value, reply: reply}); err != nil {
		return err
	}
	result, err := await(ctx, e, reply)
	if err != nil {
		return err
	}
	return result
}

// Describe returns an entity's object path and property values.
func (e *Engine) Describe(ctx context.Context, ref EntityRef) (Object, error) {
	reply := make(chan describeReply, 1)
	if err := e.post(ctx, describeEvent{ref: ref, reply: reply}); err != nil {
		return Object{}, err
	}
	r, err := await(ctx, e, reply)
	if err != nil {
		return Object{}, err
	}
	return r.obj, r.err
}

// Snapshot returns copies of every PHY and interface.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := e.post(ctx, snapshotEvent{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	return await(ctx, e, reply)
}
