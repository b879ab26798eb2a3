package genl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	"github.com/nerrad567/gray-logic-wpan/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-wpan/internal/nl802154"
)

// fakeConn is a scripted generic netlink socket.
type fakeConn struct {
	family       genetlink.Family
	missingTries int // GetFamily fails with ENOENT this many times
	familyCalls  int

	replies []genetlink.Message
	execErr error

	sent      []genetlink.Message
	sentFlags []netlink.HeaderFlags
	sentTo    []uint16
	deadline  time.Time
	closed    bool
}

func (f *fakeConn) GetFamily(name string) (genetlink.Family, error) {
	f.familyCalls++
	if f.familyCalls <= f.missingTries || name != f.family.Name {
		return genetlink.Family{}, fmt.Errorf("family %q: %w", name, os.ErrNotExist)
	}
	return f.family, nil
}

func (f *fakeConn) Execute(m genetlink.Message, family uint16, flags netlink.HeaderFlags) ([]genetlink.Message, error) {
	f.sent = append(f.sent, m)
	f.sentFlags = append(f.sentFlags, flags)
	f.sentTo = append(f.sentTo, family)
	return f.replies, f.execErr
}

func (f *fakeConn) SetOption(netlink.ConnOption, bool) error { return nil }

func (f *fakeConn) SetDeadline(t time.Time) error {
	f.deadline = t
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func testConfig() config.NetlinkConfig {
	return config.NetlinkConfig{Family: nl802154.FamilyName, Timeout: 5}
}

func newTestClient(t *testing.T, fc *fakeConn) *Client {
	t.Helper()
	c, err := newClient(context.Background(), fc, testConfig(), nil)
	if err != nil {
		t.Fatalf("newClient() error = %v", err)
	}
	return c
}

func nl802154Family() genetlink.Family {
	return genetlink.Family{ID: 27, Version: 1, Name: nl802154.FamilyName}
}

func TestDump(t *testing.T) {
	phy, err := nl802154.EncodeAttributes([]nl802154.Attribute{nl802154.Uint32Attr(nl802154.AttrWPANPhy, 0)})
	if err != nil {
		t.Fatalf("EncodeAttributes() error = %v", err)
	}
	fc := &fakeConn{
		family:  nl802154Family(),
		replies: []genetlink.Message{{Data: phy}, {Data: phy}},
	}
	c := newTestClient(t, fc)

	pages, err := c.Dump(context.Background(), nl802154.CmdGetWPANPhy)
	if err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(pages))
	}

	if fc.sentTo[0] != 27 {
		t.Errorf("family id = %d, want 27", fc.sentTo[0])
	}
	if fc.sent[0].Header.Command != nl802154.CmdGetWPANPhy || fc.sent[0].Header.Version != 1 {
		t.Errorf("header = %+v", fc.sent[0].Header)
	}
	if fc.sentFlags[0] != netlink.Request|netlink.Dump {
		t.Errorf("flags = %v, want request|dump", fc.sentFlags[0])
	}
	if fc.deadline.IsZero() {
		t.Error("no deadline set with a configured timeout")
	}
}

func TestSendCommand(t *testing.T) {
	fc := &fakeConn{family: nl802154Family()}
	c := newTestClient(t, fc)

	cmd := nl802154.Command{
		ID: nl802154.CmdSetChannel,
		Attributes: []nl802154.Attribute{
			nl802154.Uint32Attr(nl802154.AttrWPANPhy, 0),
			nl802154.Uint8Attr(nl802154.AttrPage, 0),
			nl802154.Uint8Attr(nl802154.AttrChannel, 26),
		},
	}
	if err := c.SendCommand(context.Background(), cmd); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}

	if fc.sentFlags[0] != netlink.Request|netlink.Acknowledge {
		t.Errorf("flags = %v, want request|acknowledge", fc.sentFlags[0])
	}
	if h := fc.sent[0].Header; h.Command != nl802154.CmdSetChannel || h.Version != 1 {
		t.Errorf("header = %+v, want set-channel at family version 1", h)
	}
	attrs, err := nl802154.Decode(fc.sent[0].Data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(attrs) != 3 || attrs[2].Type != nl802154.AttrChannel {
		t.Errorf("attributes = %+v", attrs)
	}
}

func TestSendCommand_Nack(t *testing.T) {
	fc := &fakeConn{
		family:  nl802154Family(),
		execErr: &netlink.OpError{Op: "receive", Err: unix.EINVAL},
	}
	c := newTestClient(t, fc)

	err := c.SendCommand(context.Background(), nl802154.Command{ID: nl802154.CmdSetChannel})

	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *CommandError", err)
	}
	if ce.Code != unix.EINVAL || ce.Command != nl802154.CmdSetChannel {
		t.Errorf("CommandError = %+v", ce)
	}
	if !errors.Is(err, unix.EINVAL) {
		t.Error("errno not reachable with errors.Is")
	}
}

func TestSendCommand_OversizeValue(t *testing.T) {
	fc := &fakeConn{family: nl802154Family()}
	c := newTestClient(t, fc)

	err := c.SendCommand(context.Background(), nl802154.Command{
		ID:         nl802154.CmdSetChannel,
		Attributes: []nl802154.Attribute{{Type: nl802154.AttrWPANPhy, Data: make([]byte, nl802154.MaxValueLen+1)}},
	})
	if !errors.Is(err, nl802154.ErrEncode) {
		t.Fatalf("error = %v, want ErrEncode", err)
	}
	if len(fc.sent) != 0 {
		t.Error("an unencodable command reached the socket")
	}
}

func TestDial_FamilyMissing(t *testing.T) {
	fc := &fakeConn{family: nl802154Family(), missingTries: 1}

	_, err := newClient(context.Background(), fc, testConfig(), nil)
	if !errors.Is(err, ErrFamilyNotFound) {
		t.Fatalf("error = %v, want ErrFamilyNotFound", err)
	}
}

func TestDial_WaitsForFamily(t *testing.T) {
	defer func(d time.Duration) { familyPollInterval = d }(familyPollInterval)
	familyPollInterval = 10 * time.Millisecond

	fc := &fakeConn{family: nl802154Family(), missingTries: 1}
	cfg := testConfig()
	cfg.FamilyWait = 1

	c, err := newClient(context.Background(), fc, cfg, nil)
	if err != nil {
		t.Fatalf("newClient() error = %v", err)
	}
	if c.Family().ID != 27 || fc.familyCalls != 2 {
		t.Errorf("family = %+v after %d calls", c.Family(), fc.familyCalls)
	}
}

func TestDial_WaitEndsAtDeadline(t *testing.T) {
	defer func(d time.Duration) { familyPollInterval = d }(familyPollInterval)
	familyPollInterval = 50 * time.Millisecond

	fc := &fakeConn{family: nl802154Family(), missingTries: 1 << 30}
	cfg := testConfig()
	cfg.FamilyWait = 1

	start := time.Now()
	_, err := newClient(context.Background(), fc, cfg, nil)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrFamilyNotFound) {
		t.Fatalf("error = %v, want ErrFamilyNotFound", err)
	}
	if elapsed < time.Second || elapsed > 3*time.Second {
		t.Errorf("gave up after %v, want about 1s", elapsed)
	}
	if fc.familyCalls < 2 {
		t.Errorf("GetFamily called %d times, want repeated polling", fc.familyCalls)
	}
}

func TestDial_WaitHonoursContext(t *testing.T) {
	fc := &fakeConn{family: nl802154Family(), missingTries: 1000}
	cfg := testConfig()
	cfg.FamilyWait = 5

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newClient(ctx, fc, cfg, nil)
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, ErrFamilyNotFound) {
		t.Errorf("error = %v", err)
	}
}

func TestClose(t *testing.T) {
	fc := &fakeConn{family: nl802154Family()}
	c := newTestClient(t, fc)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !fc.closed {
		t.Error("socket not closed")
	}
	if err := c.SendCommand(context.Background(), nl802154.Command{ID: 1}); !errors.Is(err, ErrClosed) {
		t.Errorf("SendCommand() after Close error = %v, want ErrClosed", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrClosed", err)
	}
}
