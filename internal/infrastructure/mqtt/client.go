package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-wpan/internal/infrastructure/config"
)

// Logger is the logging the client needs. *logging.Logger satisfies it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler handles one inbound message. Handlers run on paho's
// goroutines and should return quickly; a returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// subscription is remembered so it can be renewed after a reconnect.
type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is the object bus connection.
//
// A retained online status is published on every connect and a graceful
// offline status on Close. Subscriptions are renewed after each reconnect.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	connected atomic.Bool

	subs  map[string]subscription
	subMu sync.Mutex

	onConnect    func()
	onDisconnect func(err error)
	hookMu       sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Connect dials the broker and waits for the first connection.
//
// Parameters:
//   - cfg: Broker, credentials, QoS and reconnect settings
//   - topics: Topic builder carrying the configured prefix
//
// Returns:
//   - *Client: Connected client
//   - error: ErrConnectionFailed when the broker cannot be reached in time
func Connect(cfg config.MQTTConfig, topics Topics) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		topics: topics,
		subs:   make(map[string]subscription),
	}

	opts := newClientOptions(cfg, topics).
		SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) }).
		SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
			c.warn("MQTT reconnecting", "client_id", cfg.Broker.ClientID)
		})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously; mark the state now so
	// callers can publish straight away.
	c.connected.Store(true)
	return c, nil
}

// handleConnect runs on the initial connect and on every reconnect.
func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.resubscribe()
	c.client.Publish(c.topics.Status(), byte(c.cfg.QoS), true,
		statusPayload(StatusOnline, c.cfg.Broker.ClientID, ""))

	c.hookMu.RLock()
	hook := c.onConnect
	c.hookMu.RUnlock()
	if hook != nil {
		hook()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.hookMu.RLock()
	hook := c.onDisconnect
	c.hookMu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// resubscribe renews every remembered subscription. Failures are logged;
// the next reconnect tries again.
func (c *Client) resubscribe() {
	c.subMu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, s := range c.subs {
		subs[topic] = s
	}
	c.subMu.Unlock()

	for topic, s := range subs {
		token := c.client.Subscribe(topic, s.qos, c.wrapHandler(s.handler))
		go func(topic string) {
			if err := await(token, ErrSubscribeFailed); err != nil {
				c.warn("MQTT resubscribe failed", "topic", topic, "error", err)
			}
		}(topic)
	}
}

// Close publishes the graceful offline status and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(c.topics.Status(), byte(c.cfg.QoS), true,
			statusPayload(StatusOffline, c.cfg.Broker.ClientID, reasonShutdown))
		if err := await(token, ErrPublishFailed); err != nil {
			c.warn("MQTT offline status not delivered", "error", err)
		}
	}

	c.client.Disconnect(quiesceMillis)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// Topics returns the topic builder the client was connected with.
func (c *Client) Topics() Topics {
	return c.topics
}

// SetOnConnect sets a callback run after every (re)connect, once
// subscriptions have been renewed.
func (c *Client) SetOnConnect(callback func()) {
	c.hookMu.Lock()
	c.onConnect = callback
	c.hookMu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.hookMu.Lock()
	c.onDisconnect = callback
	c.hookMu.Unlock()
}

// SetLogger sets the logger for handler failures and reconnect noise.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) warn(msg string, args ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, args...)
	}
}
