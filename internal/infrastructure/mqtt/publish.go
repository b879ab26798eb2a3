package mqtt

import (
	"fmt"
	"strings"
)

// maxPayloadSize caps a single message.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic.
//
// Object and property topics are published retained so late subscribers
// see current state; acks and responses are not. A nil payload on a
// retained topic clears it.
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected, or a wrapped
//     ErrPublishFailed
//
// Example:
//
//	err := client.Publish(client.Topics().Ack("/wpan-phy0"), ack, 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validPublishTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// validPublishTopic rejects empty topics and wildcards, which brokers refuse
// on publish.
func validPublishTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#\x00") {
		return fmt.Errorf("%w: %q contains a wildcard", ErrInvalidTopic, topic)
	}
	return nil
}
