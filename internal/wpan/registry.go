package wpan

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/nerrad567/gray-logic-wpan/internal/nl802154"
)

// Logger defines the logging interface used by the wpan package.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// CommandSender forwards one encoded command to the device-control channel.
// A nil error is the kernel's acknowledgement.
type CommandSender interface {
	SendCommand(ctx context.Context, cmd nl802154.Command) error
}

// PowerEffect is the bring-up or tear-down a Powered transition asks for.
type PowerEffect struct {
	Phy        Phy
	Interfaces []Interface
	Up         bool
}

// PowerController carries out PowerEffects outside the registry. ApplyPower
// must not block; implementations queue the work.
type PowerController interface {
	ApplyPower(effect PowerEffect) error
}

// Registry holds every known PHY and interface, keyed by kernel id.
//
// The registry is the single writer of entity state. It is not safe for
// concurrent use: the Engine's dispatch loop is its only caller once the
// daemon is running. Reads return copies.
type Registry struct {
	phys   map[PhyID]*Phy
	ifaces map[InterfaceID]*Interface

	// Entries seen with an id but no name yet.
	pendingPhys   map[PhyID]*Phy
	pendingIfaces map[InterfaceID]*Interface

	sender CommandSender
	power  PowerController
	logger Logger
}

// NewRegistry creates an empty registry that sends commands through sender.
func NewRegistry(sender CommandSender) *Registry {
	return &Registry{
		phys:          make(map[PhyID]*Phy),
		ifaces:        make(map[InterfaceID]*Interface),
		pendingPhys:   make(map[PhyID]*Phy),
		pendingIfaces: make(map[InterfaceID]*Interface),
		sender:        sender,
		logger:        noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetPowerController sets the collaborator that brings links up and down.
func (r *Registry) SetPowerController(pc PowerController) {
	r.power = pc
}

// phyRecord is one validated GET_WPAN_PHY record group.
type phyRecord struct {
	id      PhyID
	name    string
	page    uint8
	channel uint8
	panID   uint16

	hasID, hasName, hasPage, hasChannel, hasPANID bool
}

func parsePhyRecord(attrs []nl802154.Attribute) (phyRecord, error) {
	var rec phyRecord
	for _, a := range attrs {
		var err error
		switch a.Type {
		case nl802154.AttrWPANPhy:
			var v uint32
			v, err = a.Uint32()
			rec.id, rec.hasID = PhyID(v), true
		case nl802154.AttrWPANPhyName:
			rec.name, err = a.String()
			rec.hasName = rec.name != ""
		case nl802154.AttrPage:
			rec.page, err = a.Uint8()
			rec.hasPage = true
		case nl802154.AttrChannel:
			rec.channel, err = a.Uint8()
			rec.hasChannel = true
		case nl802154.AttrPANID:
			rec.panID, err = a.Uint16()
			rec.hasPANID = true
		}
		if err != nil {
			return phyRecord{}, fmt.Errorf("phy record: %w", err)
		}
	}
	return rec, nil
}

// apply copies the optional fields present in the record onto p.
func (rec phyRecord) apply(p *Phy) {
	if rec.hasPage {
		p.Page = rec.page
	}
	if rec.hasChannel {
		p.Channel = rec.channel
	}
	if rec.hasPANID {
		p.PANID = rec.panID
	}
}

// FoldPhyRecords folds one PHY record group into the registry.
//
// Every known attribute is validated before anything is written, so a
// group with a malformed value leaves the registry untouched. A group that
// carries an id without a name is held until a later group names it.
// Optional fields absent from the group keep their previous values.
//
// Returns:
//   - FoldResult: OK is false when the group carried no PHY id
//   - error: wraps nl802154.ErrDecode if any known attribute is malformed
func (r *Registry) FoldPhyRecords(attrs []nl802154.Attribute) (FoldResult, error) {
	rec, err := parsePhyRecord(attrs)
	if err != nil {
		return FoldResult{}, err
	}
	if !rec.hasID {
		return FoldResult{}, nil
	}

	res := FoldResult{ID: uint32(rec.id), OK: true}

	if p, ok := r.phys[rec.id]; ok {
		if rec.hasName && rec.name != p.Name {
			r.logger.Warn("ignoring PHY name change", "phy", rec.id, "name", p.Name, "reported", rec.name)
		}
		rec.apply(p)
		res.Complete = true
		return res, nil
	}

	p, ok := r.pendingPhys[rec.id]
	if !ok {
		p = &Phy{ID: rec.id, Page: Unset, Channel: Unset, PANID: UnsetPANID}
	}
	rec.apply(p)
	if rec.hasName {
		p.Name = rec.name
	}
	if p.Name == "" {
		r.pendingPhys[rec.id] = p
		return res, nil
	}

	delete(r.pendingPhys, rec.id)
	r.phys[rec.id] = p
	res.Complete, res.Created = true, true
	r.logger.Info("PHY discovered", "phy", p.ID, "name", p.Name, "page", p.Page, "channel", p.Channel)
	return res, nil
}

// ifaceRecord is one validated GET_INTERFACE record group.
type ifaceRecord struct {
	id    InterfaceID
	name  string
	phy   PhyID
	panID uint16

	hasID, hasName, hasPhy, hasPANID bool
}

func parseIfaceRecord(attrs []nl802154.Attribute) (ifaceRecord, error) {
	var rec ifaceRecord
	for _, a := range attrs {
		var err error
		switch a.Type {
		case nl802154.AttrIfindex:
			var v uint32
			v, err = a.Uint32()
			rec.id, rec.hasID = InterfaceID(v), true
		case nl802154.AttrIfname:
			rec.name, err = a.String()
			rec.hasName = rec.name != ""
		case nl802154.AttrWPANPhy:
			var v uint32
			v, err = a.Uint32()
			rec.phy, rec.hasPhy = PhyID(v), true
		case nl802154.AttrPANID:
			rec.panID, err = a.Uint16()
			rec.hasPANID = true
		}
		if err != nil {
			return ifaceRecord{}, fmt.Errorf("interface record: %w", err)
		}
	}
	return rec, nil
}

func (rec ifaceRecord) apply(i *Interface) {
	if rec.hasPhy {
		i.Phy, i.HasPhy = rec.phy, true
	}
	if rec.hasPANID {
		i.PANID = rec.panID
	}
}

// FoldInterfaceRecords folds one interface record group into the registry.
// It follows the same rules as FoldPhyRecords.
func (r *Registry) FoldInterfaceRecords(attrs []nl802154.Attribute) (FoldResult, error) {
	rec, err := parseIfaceRecord(attrs)
	if err != nil {
		return FoldResult{}, err
	}
	if !rec.hasID {
		return FoldResult{}, nil
	}

	res := FoldResult{ID: uint32(rec.id), OK: true}

	if i, ok := r.ifaces[rec.id]; ok {
		if rec.hasName && rec.name != i.Name {
			r.logger.Warn("ignoring interface name change", "ifindex", rec.id, "name", i.Name, "reported", rec.name)
		}
		rec.apply(i)
		res.Complete = true
		return res, nil
	}

	i, ok := r.pendingIfaces[rec.id]
	if !ok {
		i = &Interface{ID: rec.id, PANID: UnsetPANID}
	}
	rec.apply(i)
	if rec.hasName {
		i.Name = rec.name
	}
	if i.Name == "" {
		r.pendingIfaces[rec.id] = i
		return res, nil
	}

	delete(r.pendingIfaces, rec.id)
	r.ifaces[rec.id] = i
	res.Complete, res.Created = true, true
	r.logger.Info("interface discovered", "ifindex", i.ID, "name", i.Name, "phy", i.Phy)
	return res, nil
}

// Phy returns a copy of the PHY with the given id.
// Returns ErrNotFound if the PHY is unknown or still missing its name.
func (r *Registry) Phy(id PhyID) (Phy, error) {
	p, ok := r.phys[id]
	if !ok {
		return Phy{}, fmt.Errorf("%w: phy %d", ErrNotFound, id)
	}
	return r.withPANID(*p), nil
}

// withPANID fills in a PHY's PAN id from its lowest-ifindex bound interface
// that has one. The kernel reports PAN ids per interface, so PHY records
// normally carry none.
func (r *Registry) withPANID(p Phy) Phy {
	if p.PANID != UnsetPANID {
		return p
	}
	for _, i := range r.InterfacesOf(p.ID) {
		if i.PANID != UnsetPANID {
			p.PANID = i.PANID
			break
		}
	}
	return p
}

// Interface returns a copy of the interface with the given ifindex.
func (r *Registry) Interface(id InterfaceID) (Interface, error) {
	i, ok := r.ifaces[id]
	if !ok {
		return Interface{}, fmt.Errorf("%w: interface %d", ErrNotFound, id)
	}
	return *i, nil
}

// Phys returns copies of all complete PHYs ordered by id.
func (r *Registry) Phys() []Phy {
	out := make([]Phy, 0, len(r.phys))
	for _, p := range r.phys {
		out = append(out, r.withPANID(*p))
	}
	slices.SortFunc(out, func(a, b Phy) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Interfaces returns copies of all complete interfaces ordered by ifindex.
func (r *Registry) Interfaces() []Interface {
	out := make([]Interface, 0, len(r.ifaces))
	for _, i := range r.ifaces {
		out = append(out, *i)
	}
	slices.SortFunc(out, func(a, b Interface) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// InterfacesOf returns copies of the interfaces bound to a PHY.
func (r *Registry) InterfacesOf(phy PhyID) []Interface {
	var out []Interface
	for _, i := range r.Interfaces() {
		if i.HasPhy && i.Phy == phy {
			out = append(out, i)
		}
	}
	return out
}

// SetPowered records the requested power state of a PHY.
//
// On a transition the bring-up or tear-down is handed to the
// PowerController. A controller failure is logged; the flag keeps the
// requested value.
//
// Returns:
//   - bool: true if the value changed
//   - error: ErrNotFound if the PHY is unknown
func (r *Registry) SetPowered(id PhyID, powered bool) (bool, error) {
	p, ok := r.phys[id]
	if !ok {
		return false, fmt.Errorf("%w: phy %d", ErrNotFound, id)
	}
	if p.Powered == powered {
		return false, nil
	}
	p.Powered = powered

	if r.power != nil {
		effect := PowerEffect{Phy: *p, Interfaces: r.InterfacesOf(id), Up: powered}
		if err := r.power.ApplyPower(effect); err != nil {
			r.logger.Error("power change not applied", "phy", id, "powered", powered, "error", err)
		}
	}
	return true, nil
}

// PrepareChannel validates a channel change against the PHY's current page
// and returns the command to send. The registry is not modified.
//
// Returns:
//   - ChannelRequest: the command to send, using the PHY's known page
//   - error: ErrNotFound, ErrInvalidValue for the sentinel channel, or
//     ErrRejected while the page is unknown
func (r *Registry) PrepareChannel(id PhyID, channel uint8) (ChannelRequest, error) {
	p, ok := r.phys[id]
	if !ok {
		return ChannelRequest{}, fmt.Errorf("%w: phy %d", ErrNotFound, id)
	}
	if channel == Unset {
		return ChannelRequest{}, fmt.Errorf("%w: channel %#x is reserved", ErrInvalidValue, channel)
	}
	if p.Page == Unset {
		return ChannelRequest{}, fmt.Errorf("%w: phy %d has no known page", ErrRejected, id)
	}
	return ChannelRequest{Phy: id, Page: p.Page, Channel: channel}, nil
}

// CommitChannel stores an acknowledged channel change.
func (r *Registry) CommitChannel(req ChannelRequest) error {
	p, ok := r.phys[req.Phy]
	if !ok {
		return fmt.Errorf("%w: phy %d", ErrNotFound, req.Phy)
	}
	p.Page = req.Page
	p.Channel = req.Channel
	return nil
}

// SetChannel changes a PHY's channel on its current page.
//
// Exactly one set-channel command is sent. The stored channel only changes
// after the kernel acknowledges it; on refusal the registry is unchanged.
// This call blocks on the sender, so the Engine uses PrepareChannel and
// CommitChannel around an asynchronous send instead.
func (r *Registry) SetChannel(ctx context.Context, id PhyID, channel uint8) error {
	req, err := r.PrepareChannel(id, channel)
	if err != nil {
		return err
	}
	if err := r.sender.SendCommand(ctx, req.Command()); err != nil {
		return fmt.Errorf("%w: set channel %d on phy %d: %w", ErrRejected, channel, id, err)
	}
	return r.CommitChannel(req)
}

// MarkLowpanLink sets or clears an interface's 6LoWPAN link flag.
//
// Returns:
//   - bool: true if the flag changed
//   - error: ErrNotFound if the interface is unknown
func (r *Registry) MarkLowpanLink(id InterfaceID, present bool) (bool, error) {
	i, ok := r.ifaces[id]
	if !ok {
		return false, fmt.Errorf("%w: interface %d", ErrNotFound, id)
	}
	if i.HasLowpanLink == present {
		return false, nil
	}
	i.HasLowpanLink = present
	return true, nil
}
