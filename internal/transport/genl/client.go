package genl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"

	"github.com/nerrad567/gray-logic-wpan/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-wpan/internal/nl802154"
)

// conn is the subset of *genetlink.Conn the client uses.
type conn interface {
	GetFamily(name string) (genetlink.Family, error)
	Execute(m genetlink.Message, family uint16, flags netlink.HeaderFlags) ([]genetlink.Message, error)
	SetOption(option netlink.ConnOption, enable bool) error
	SetDeadline(t time.Time) error
	Close() error
}

// Logger interface for optional logging support.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// dialConn opens the generic netlink socket; replaced in tests.
var dialConn = func() (conn, error) {
	return genetlink.Dial(nil)
}

// Client speaks nl802154 over generic netlink.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Requests are serialised on
//     the single socket.
type Client struct {
	conn    conn
	family  genetlink.Family
	timeout time.Duration
	logger  Logger

	mu     sync.Mutex
	closed bool
}

// Dial opens a generic netlink connection and resolves the nl802154 family.
//
// If the family is not registered yet, Dial polls for it for up to
// cfg.FamilyWait seconds, then fails with ErrFamilyNotFound.
//
// Parameters:
//   - ctx: Bounds the wait for the family
//   - cfg: Netlink settings from config.yaml
//   - logger: Optional logger (nil for none)
//
// Returns:
//   - *Client: Ready client
//   - error: ErrFamilyNotFound, a socket error, or ctx.Err()
func Dial(ctx context.Context, cfg config.NetlinkConfig, logger Logger) (*Client, error) {
	c, err := dialConn()
	if err != nil {
		return nil, fmt.Errorf("dialing generic netlink: %w", err)
	}

	// Best effort: older kernels reject these options.
	for _, o := range []netlink.ConnOption{netlink.ExtendedAcknowledge, netlink.GetStrictCheck} {
		_ = c.SetOption(o, true)
	}

	client, err := newClient(ctx, c, cfg, logger)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return client, nil
}

func newClient(ctx context.Context, c conn, cfg config.NetlinkConfig, logger Logger) (*Client, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	family, err := waitFamily(ctx, c, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("nl802154 family resolved", "id", family.ID, "version", family.Version)

	return &Client{
		conn:    c,
		family:  family,
		timeout: time.Duration(cfg.Timeout) * time.Second,
		logger:  logger,
	}, nil
}

// familyPollInterval is the delay between family lookups while waiting.
var familyPollInterval = 500 * time.Millisecond

// waitFamily resolves the family, polling for up to cfg.FamilyWait seconds
// while it is absent.
func waitFamily(ctx context.Context, c conn, cfg config.NetlinkConfig, logger Logger) (genetlink.Family, error) {
	wait := time.Duration(cfg.FamilyWait) * time.Second
	deadline := time.Now().Add(wait)

	tick := time.NewTicker(familyPollInterval)
	defer tick.Stop()

	for warned := false; ; {
		family, err := c.GetFamily(cfg.Family)
		if err == nil {
			return family, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return genetlink.Family{}, fmt.Errorf("resolving family %q: %w", cfg.Family, err)
		}
		if !time.Now().Before(deadline) {
			return genetlink.Family{}, fmt.Errorf("%w: %s after %s", ErrFamilyNotFound, cfg.Family, wait)
		}

		if !warned {
			logger.Warn("waiting for netlink family", "family", cfg.Family, "wait", wait)
			warned = true
		}
		select {
		case <-ctx.Done():
			return genetlink.Family{}, fmt.Errorf("%w: %s: %w", ErrFamilyNotFound, cfg.Family, ctx.Err())
		case <-tick.C:
		}
	}
}

// Family returns the resolved family.
func (c *Client) Family() genetlink.Family {
	return c.family
}

// Dump runs an enumerate command and returns each response's attributes.
func (c *Client) Dump(ctx context.Context, cmd uint8) ([][]byte, error) {
	msgs, err := c.execute(ctx, genetlink.Message{Header: genetlink.Header{Command: cmd}}, netlink.Request|netlink.Dump)
	if err != nil {
		return nil, fmt.Errorf("dump %d: %w", cmd, err)
	}

	pages := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		pages = append(pages, m.Data)
	}
	return pages, nil
}

// SendCommand sends one command and waits for the kernel's acknowledgement.
//
// Returns:
//   - error: nil on Ack; *CommandError on Nack; ErrClosed after Close;
//     nl802154.ErrEncode if the command cannot be serialised
func (c *Client) SendCommand(ctx context.Context, cmd nl802154.Command) error {
	b, err := nl802154.Encode(cmd)
	if err != nil {
		return fmt.Errorf("command %d: %w", cmd.ID, err)
	}
	var msg genetlink.Message
	if err := msg.UnmarshalBinary(b); err != nil {
		return fmt.Errorf("command %d: %w", cmd.ID, err)
	}

	if _, err := c.execute(ctx, msg, netlink.Request|netlink.Acknowledge); err != nil {
		if errors.Is(err, ErrClosed) {
			return err
		}
		return newCommandError(cmd.ID, err)
	}
	return nil
}

// execute stamps msg with the family version, sends it and waits for its
// replies.
func (c *Client) execute(ctx context.Context, msg genetlink.Message, flags netlink.HeaderFlags) ([]genetlink.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("setting deadline: %w", err)
	}

	msg.Header.Version = c.family.Version
	return c.conn.Execute(msg, c.family.ID, flags)
}

// HealthCheck verifies the family is still registered.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("genl health check: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, err := c.conn.GetFamily(c.family.Name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFamilyNotFound, c.family.Name)
		}
		return fmt.Errorf("genl health check: %w", err)
	}
	return nil
}

// Close closes the netlink socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
