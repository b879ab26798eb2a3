package rtnl

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handler receives raw link notifications.
type Handler interface {
	HandleLinkMessage(ctx context.Context, msgType uint16, payload []byte) error
}

// receiver is the subset of *netlink.Conn the monitor uses.
type receiver interface {
	Receive() ([]netlink.Message, error)
	Close() error
}

// Monitor delivers RTNLGRP_LINK notifications to a Handler.
type Monitor struct {
	conn   receiver
	logger Logger

	closeOnce sync.Once
}

// Listen opens a NETLINK_ROUTE socket subscribed to link notifications.
func Listen(logger Logger) (*Monitor, error) {
	c, err := netlink.Dial(unix.NETLINK_ROUTE, &netlink.Config{Groups: unix.RTMGRP_LINK})
	if err != nil {
		return nil, fmt.Errorf("subscribing to link notifications: %w", err)
	}
	return newMonitor(c, logger), nil
}

func newMonitor(c receiver, logger Logger) *Monitor {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Monitor{conn: c, logger: logger}
}

// Run reads notifications until ctx is cancelled or the socket fails.
// NEWLINK and DELLINK messages are handed to h in arrival order. A socket
// buffer overrun (ENOBUFS) loses notifications but not the socket, so it
// is logged and receiving continues.
//
// Returns:
//   - error: nil after cancellation; the receive error otherwise
func (m *Monitor) Run(ctx context.Context, h Handler) error {
	go func() {
		<-ctx.Done()
		_ = m.Close()
	}()

	for {
		msgs, err := m.conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, unix.ENOBUFS) {
				m.logger.Warn("link notifications lost to socket overrun", "error", err)
				continue
			}
			return fmt.Errorf("receiving link notifications: %w", err)
		}

		for _, msg := range msgs {
			typ := uint16(msg.Header.Type)
			if typ != unix.RTM_NEWLINK && typ != unix.RTM_DELLINK {
				continue
			}
			if err := h.HandleLinkMessage(ctx, typ, msg.Data); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				m.logger.Warn("link notification not delivered", "type", typ, "error", err)
			}
		}
	}
}

// Close closes the notification socket. Safe to call more than once.
func (m *Monitor) Close() error {
	var err error
	m.closeOnce.Do(func() {
		err = m.conn.Close()
	})
	return err
}
