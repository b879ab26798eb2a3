package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-wpan/internal/infrastructure/config"
)

const (
	// connectTimeout bounds the initial connect.
	connectTimeout = 10 * time.Second

	// opTimeout bounds each publish, subscribe and the final status write.
	opTimeout = 5 * time.Second

	// quiesceMillis is how long Disconnect lets in-flight work finish.
	quiesceMillis = 1000

	keepAlive = 60 * time.Second

	maxQoS = 2
)

// newClientOptions translates wpand's MQTT settings into paho options,
// including the retained offline Last Will on the status topic.
//
// Sessions are clean: the client restores its own subscriptions on
// reconnect and the bridge republishes every object, so nothing needs to
// survive on the broker.
func newClientOptions(cfg config.MQTTConfig, topics Topics) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	retryEvery := time.Duration(cfg.Reconnect.InitialDelay) * time.Second
	maxRetryEvery := time.Duration(cfg.Reconnect.MaxDelay) * time.Second

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryEvery).
		SetMaxReconnectInterval(maxRetryEvery).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetBinaryWill(topics.Status(), statusPayload(StatusOffline, cfg.Broker.ClientID, reasonUnexpected), 1, true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// await waits for a paho token and wraps its failure in op.
func await(token pahomqtt.Token, op error) error {
	if !token.WaitTimeout(opTimeout) {
		return fmt.Errorf("%w: no reply within %v", op, opTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", op, err)
	}
	return nil
}
