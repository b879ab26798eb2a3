package wpan

import (
	"fmt"

	"github.com/nerrad567/gray-logic-wpan/internal/nl802154"
)

// Unset marks a page or channel that is not known (in reports) or not
// requested (in configuration).
const Unset uint8 = 0xFF

// UnsetPANID is the PAN id of a PHY or interface that has not reported one.
const UnsetPANID uint16 = 0xFFFF

// PhyID is the kernel-assigned wpan_phy index.
type PhyID uint32

// InterfaceID is the kernel ifindex of a wpan interface.
type InterfaceID uint32

// Phy is a snapshot of one physical radio.
type Phy struct {
	ID PhyID `json:"id"`

	// Name is assigned by the kernel and never changes once recorded.
	Name string `json:"name"`

	// Powered is tracked locally; the kernel is never asked for it.
	Powered bool `json:"powered"`

	Page    uint8  `json:"page"`
	Channel uint8  `json:"channel"`
	PANID   uint16 `json:"pan_id"`
}

// Interface is a snapshot of one network interface bound to a PHY.
type Interface struct {
	ID   InterfaceID `json:"id"`
	Name string      `json:"name"`

	// Phy is a lookup key into the registry, valid when HasPhy is true.
	Phy    PhyID `json:"phy"`
	HasPhy bool  `json:"has_phy"`

	PANID uint16 `json:"pan_id"`

	// HasLowpanLink is set while a 6LoWPAN adaptation link sits on top of
	// this interface.
	HasLowpanLink bool `json:"has_lowpan_link"`
}

// DesiredChannel is the operator's requested page and channel.
type DesiredChannel struct {
	Page    uint8 `json:"page" yaml:"page"`
	Channel uint8 `json:"channel" yaml:"channel"`
}

// IsSet reports whether both page and channel were configured.
func (d DesiredChannel) IsSet() bool {
	return d.Page != Unset && d.Channel != Unset
}

// ChannelRequest is one set-channel command waiting to be sent or
// acknowledged.
type ChannelRequest struct {
	Phy     PhyID
	Page    uint8
	Channel uint8
}

// Command builds the nl802154 set-channel command for the request.
func (c ChannelRequest) Command() nl802154.Command {
	return nl802154.Command{
		ID: nl802154.CmdSetChannel,
		Attributes: []nl802154.Attribute{
			nl802154.Uint32Attr(nl802154.AttrWPANPhy, uint32(c.Phy)),
			nl802154.Uint8Attr(nl802154.AttrPage, c.Page),
			nl802154.Uint8Attr(nl802154.AttrChannel, c.Channel),
		},
	}
}

// EntityKind distinguishes the two kinds of registry entries.
type EntityKind string

// Entity kinds.
const (
	KindPhy       EntityKind = "phy"
	KindInterface EntityKind = "interface"
)

// EntityRef is an opaque handle into the registry. Adapters hold refs,
// never entity copies, so every read is fresh.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   uint32     `json:"id"`
}

// PhyRef returns the handle of a PHY.
func PhyRef(id PhyID) EntityRef {
	return EntityRef{Kind: KindPhy, ID: uint32(id)}
}

// InterfaceRef returns the handle of an interface.
func InterfaceRef(id InterfaceID) EntityRef {
	return EntityRef{Kind: KindInterface, ID: uint32(id)}
}

// String returns the ref as "kind/id".
func (r EntityRef) String() string {
	return fmt.Sprintf("%s/%d", r.Kind, r.ID)
}

// ParseEntityKind validates a kind string from an external caller.
func ParseEntityKind(s string) (EntityKind, error) {
	switch EntityKind(s) {
	case KindPhy, KindInterface:
		return EntityKind(s), nil
	default:
		return "", fmt.Errorf("%w: kind %q", ErrNotFound, s)
	}
}

// FoldResult reports what a fold did to the registry.
type FoldResult struct {
	// ID is the entry the record group belongs to. Zero with OK false when
	// the group carried no identifier.
	ID uint32

	// OK is true when the group named an entry.
	OK bool

	// Complete is true once the entry has both its id and its name.
	Complete bool

	// Created is true only on the fold that completed a new entry.
	Created bool
}
