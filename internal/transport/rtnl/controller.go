package rtnl

import (
	"context"
	"fmt"
	"sync"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"

	"github.com/nerrad567/gray-logic-wpan/internal/wpan"
)

// powerQueueSize bounds pending power changes.
const powerQueueSize = 16

// requester is the subset of *netlink.Conn the controller uses.
type requester interface {
	Execute(m netlink.Message) ([]netlink.Message, error)
	Close() error
}

// Controller applies PHY power changes by setting or clearing IFF_UP on the
// PHY's interfaces. Work is queued so ApplyPower never blocks the caller.
type Controller struct {
	conn   requester
	logger Logger
	queue  chan wpan.PowerEffect

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// NewController opens a NETLINK_ROUTE socket for link changes.
func NewController(logger Logger) (*Controller, error) {
	c, err := netlink.Dial(unix.NETLINK_ROUTE, nil)
	if err != nil {
		return nil, fmt.Errorf("opening rtnetlink: %w", err)
	}
	return newController(c, logger), nil
}

func newController(c requester, logger Logger) *Controller {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Controller{
		conn:   c,
		logger: logger,
		queue:  make(chan wpan.PowerEffect, powerQueueSize),
		stop:   make(chan struct{}),
	}
}

// Start runs the worker until ctx is cancelled or Close is called.
func (c *Controller) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case effect := <-c.queue:
				c.apply(effect)
			}
		}
	}()
}

// ApplyPower implements wpan.PowerController.
func (c *Controller) ApplyPower(effect wpan.PowerEffect) error {
	select {
	case c.queue <- effect:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *Controller) apply(effect wpan.PowerEffect) {
	if len(effect.Interfaces) == 0 {
		c.logger.Warn("PHY has no interfaces to bring up or down", "phy", effect.Phy.Name)
		return
	}
	for _, iface := range effect.Interfaces {
		if err := c.setLinkUp(int32(iface.ID), effect.Up); err != nil { //nolint:gosec // ifindex fits in int32
			c.logger.Error("link state change failed",
				"phy", effect.Phy.Name, "interface", iface.Name, "up", effect.Up, "error", err)
			continue
		}
		c.logger.Info("link state changed", "phy", effect.Phy.Name, "interface", iface.Name, "up", effect.Up)
	}
}

// setLinkUp sends RTM_NEWLINK with IFF_UP in the change mask.
func (c *Controller) setLinkUp(index int32, up bool) error {
	var flags uint32
	if up {
		flags = unix.IFF_UP
	}

	// family(1) pad(1) type(2) index(4) flags(4) change(4)
	b := make([]byte, unix.SizeofIfInfomsg)
	b[0] = unix.AF_UNSPEC
	nlenc.PutInt32(b[4:8], index)
	nlenc.PutUint32(b[8:12], flags)
	nlenc.PutUint32(b[12:16], unix.IFF_UP)

	_, err := c.conn.Execute(netlink.Message{
		Header: netlink.Header{
			Type:  unix.RTM_NEWLINK,
			Flags: netlink.Request | netlink.Acknowledge,
		},
		Data: b,
	})
	return err
}

// Close stops the worker and closes the socket.
func (c *Controller) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
	return c.conn.Close()
}
