package wpan

import (
	"errors"
	"testing"

	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"

	"github.com/nerrad567/gray-logic-wpan/internal/nl802154"
)

// ifinfomsg builds an rtnetlink link payload.
func ifinfomsg(hwType uint16, index int32, attrs ...nl802154.Attribute) []byte {
	b := make([]byte, unix.SizeofIfInfomsg)
	b[0] = unix.AF_UNSPEC
	nlenc.PutUint16(b[2:4], hwType)
	nlenc.PutInt32(b[4:8], index)
	return append(b, page(attrs...)...)
}

func lowpanLink(index int32, lower uint32) []byte {
	return ifinfomsg(unix.ARPHRD_6LOWPAN, index,
		nl802154.StringAttr(unix.IFLA_IFNAME, "lowpan0"),
		nl802154.Uint32Attr(unix.IFLA_LINK, lower),
	)
}

func TestDecodeLinkEvent(t *testing.T) {
	tests := []struct {
		name    string
		msgType uint16
		payload []byte
		want    LinkEvent
		wantOK  bool
		wantErr bool
	}{
		{
			name:    "new lowpan link",
			msgType: unix.RTM_NEWLINK,
			payload: lowpanLink(9, 4),
			want:    LinkEvent{Kind: LinkCreated, Index: 9, Name: "lowpan0", Lower: 4, HasLower: true},
			wantOK:  true,
		},
		{
			name:    "removed lowpan link",
			msgType: unix.RTM_DELLINK,
			payload: lowpanLink(9, 4),
			want:    LinkEvent{Kind: LinkRemoved, Index: 9, Name: "lowpan0", Lower: 4, HasLower: true},
			wantOK:  true,
		},
		{
			name:    "ethernet link ignored",
			msgType: unix.RTM_NEWLINK,
			payload: ifinfomsg(unix.ARPHRD_ETHER, 2, nl802154.StringAttr(unix.IFLA_IFNAME, "eth0")),
		},
		{
			name:    "other message type ignored",
			msgType: unix.RTM_NEWADDR,
			payload: lowpanLink(9, 4),
		},
		{
			name:    "truncated header",
			msgType: unix.RTM_NEWLINK,
			payload: make([]byte, 10),
			wantErr: true,
		},
		{
			name:    "truncated attributes",
			msgType: unix.RTM_NEWLINK,
			payload: lowpanLink(9, 4)[:unix.SizeofIfInfomsg+6],
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := DecodeLinkEvent(tt.msgType, tt.payload)
			if tt.wantErr {
				if !errors.Is(err, nl802154.ErrDecode) {
					t.Fatalf("error = %v, want ErrDecode", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeLinkEvent() error = %v", err)
			}
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("DecodeLinkEvent() = %+v, %v; want %+v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestApplyLinkEvent_BeforeInterfaceDiscovery(t *testing.T) {
	r := NewRegistry(&fakeSender{})

	_, changed := r.ApplyLinkEvent(LinkEvent{Kind: LinkCreated, Name: "lowpan0", Lower: 4, HasLower: true})
	if changed {
		t.Error("link event for unknown interface reported a change")
	}
	if len(r.Interfaces()) != 0 {
		t.Error("link event created an interface entry")
	}

	// A later discovery does not replay the dropped event.
	if _, err := r.FoldInterfaceRecords(ifaceAttrs(4, "wpan0", 7)); err != nil {
		t.Fatal(err)
	}
	if got, _ := r.Interface(4); got.HasLowpanLink {
		t.Error("dropped link event was applied after discovery")
	}
}

func TestApplyLinkEvent_CreateThenRemove(t *testing.T) {
	r := NewRegistry(&fakeSender{})
	if _, err := r.FoldInterfaceRecords(ifaceAttrs(4, "wpan0", 7)); err != nil {
		t.Fatal(err)
	}

	id, changed := r.ApplyLinkEvent(LinkEvent{Kind: LinkCreated, Lower: 4, HasLower: true})
	if id != 4 || !changed {
		t.Fatalf("created: id=%d changed=%v", id, changed)
	}
	if got, _ := r.Interface(4); !got.HasLowpanLink {
		t.Error("HasLowpanLink = false after create")
	}

	if _, changed := r.ApplyLinkEvent(LinkEvent{Kind: LinkCreated, Lower: 4, HasLower: true}); changed {
		t.Error("duplicate create reported a change")
	}

	if _, changed := r.ApplyLinkEvent(LinkEvent{Kind: LinkRemoved, Lower: 4, HasLower: true}); !changed {
		t.Error("remove reported no change")
	}
	if got, _ := r.Interface(4); got.HasLowpanLink {
		t.Error("HasLowpanLink = true after remove")
	}
}

func TestApplyLinkEvent_WithoutLower(t *testing.T) {
	r := NewRegistry(&fakeSender{})
	if _, err := r.FoldInterfaceRecords(ifaceAttrs(4, "wpan0", 7)); err != nil {
		t.Fatal(err)
	}

	if _, changed := r.ApplyLinkEvent(LinkEvent{Kind: LinkCreated, Name: "lowpan0"}); changed {
		t.Error("event without IFLA_LINK changed state")
	}
}
