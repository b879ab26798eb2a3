package wpan

import (
	"fmt"

	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"

	"github.com/nerrad567/gray-logic-wpan/internal/nl802154"
)

// LinkEventKind is the transition a link notification reports.
type LinkEventKind string

// Link transitions.
const (
	LinkCreated LinkEventKind = "created"
	LinkRemoved LinkEventKind = "removed"
)

// LinkEvent is a decoded rtnetlink notification for a 6LoWPAN adaptation
// link.
type LinkEvent struct {
	Kind LinkEventKind

	// Index and Name identify the adaptation link itself (e.g. lowpan0).
	Index int32
	Name  string

	// Lower is the wpan interface the link sits on, from IFLA_LINK.
	Lower    InterfaceID
	HasLower bool
}

// DecodeLinkEvent decodes an RTM_NEWLINK or RTM_DELLINK payload: the
// ifinfomsg header followed by rtattrs.
//
// Messages of other types and links whose hardware type is not
// ARPHRD_6LOWPAN are ignored, not errors.
//
// Returns:
//   - LinkEvent: the decoded event
//   - bool: false if the message is not a 6LoWPAN link transition
//   - error: wraps nl802154.ErrDecode on a truncated or malformed payload
func DecodeLinkEvent(msgType uint16, b []byte) (LinkEvent, bool, error) {
	var kind LinkEventKind
	switch msgType {
	case unix.RTM_NEWLINK:
		kind = LinkCreated
	case unix.RTM_DELLINK:
		kind = LinkRemoved
	default:
		return LinkEvent{}, false, nil
	}

	if len(b) < unix.SizeofIfInfomsg {
		return LinkEvent{}, false, fmt.Errorf("%w: ifinfomsg of %d bytes, want %d",
			nl802154.ErrDecode, len(b), unix.SizeofIfInfomsg)
	}

	// family(1) pad(1) type(2) index(4) flags(4) change(4)
	if nlenc.Uint16(b[2:4]) != unix.ARPHRD_6LOWPAN {
		return LinkEvent{}, false, nil
	}
	ev := LinkEvent{
		Kind:  kind,
		Index: nlenc.Int32(b[4:8]),
	}

	attrs, err := nl802154.Decode(b[unix.SizeofIfInfomsg:])
	if err != nil {
		return LinkEvent{}, false, fmt.Errorf("link %d: %w", ev.Index, err)
	}
	for _, a := range attrs {
		switch a.Type {
		case unix.IFLA_IFNAME:
			if ev.Name, err = a.String(); err != nil {
				return LinkEvent{}, false, fmt.Errorf("link %d name: %w", ev.Index, err)
			}
		case unix.IFLA_LINK:
			lower, err := a.Uint32()
			if err != nil {
				return LinkEvent{}, false, fmt.Errorf("link %d lower: %w", ev.Index, err)
			}
			ev.Lower, ev.HasLower = InterfaceID(lower), true
		}
	}
	return ev, true, nil
}

// ApplyLinkEvent reflects a link transition on the lower interface's
// HasLowpanLink flag.
//
// Events whose lower interface has not been discovered are dropped: a link
// event never creates an entry.
//
// Returns:
//   - InterfaceID: the lower interface
//   - bool: true if the flag changed
func (r *Registry) ApplyLinkEvent(ev LinkEvent) (InterfaceID, bool) {
	if !ev.HasLower {
		r.logger.Debug("link event without lower interface dropped", "link", ev.Name, "kind", ev.Kind)
		return 0, false
	}

	changed, err := r.MarkLowpanLink(ev.Lower, ev.Kind == LinkCreated)
	if err != nil {
		r.logger.Debug("link event for unknown interface dropped",
			"link", ev.Name, "kind", ev.Kind, "ifindex", ev.Lower)
		return ev.Lower, false
	}
	return ev.Lower, changed
}
