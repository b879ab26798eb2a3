package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-wpan/internal/wpan"
)

// Measurement names.
const (
	MeasurementProperty  = "wpan_property"
	MeasurementLink      = "wpan_lowpan_link"
	MeasurementRejected  = "wpan_command_rejected"
	MeasurementDiscovery = "wpan_discovery"
)

func entityTags(ref wpan.EntityRef) map[string]string {
	return map[string]string{
		"entity_kind": string(ref.Kind),
		"entity_id":   strconv.FormatUint(uint64(ref.ID), 10),
	}
}

// WritePHYMetric records a new value of one property of a PHY or interface.
//
// Numeric values are stored as integers and booleans as booleans so
// channel and power history can be graphed directly. The write is
// non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WritePHYMetric(wpan.PhyRef(0), wpan.PropChannel, uint8(26), time.Now())
func (c *Client) WritePHYMetric(ref wpan.EntityRef, property string, value any, at time.Time) {
	field, ok := fieldValue(value)
	if !ok {
		return
	}
	tags := entityTags(ref)
	tags["property"] = property

	c.writePoint(MeasurementProperty, tags, map[string]any{"value": field}, at)
}

// WriteLinkEvent records a 6LoWPAN link appearing on or leaving an interface.
func (c *Client) WriteLinkEvent(iface wpan.InterfaceID, up bool, at time.Time) {
	c.writePoint(MeasurementLink, entityTags(wpan.InterfaceRef(iface)), map[string]any{"up": up}, at)
}

// WriteCommandRejected counts a refused property write.
func (c *Client) WriteCommandRejected(ref wpan.EntityRef, property, reason string, at time.Time) {
	tags := entityTags(ref)
	tags["property"] = property

	c.writePoint(MeasurementRejected, tags, map[string]any{"count": 1, "reason": reason}, at)
}

// Observe implements wpan.Observer.
func (c *Client) Observe(ch wpan.Change) {
	at := ch.Time
	if at.IsZero() {
		at = time.Now()
	}

	switch ch.Kind {
	case wpan.ChangeProperty:
		c.WritePHYMetric(ch.Entity, ch.Property, ch.Value, at)
	case wpan.ChangeLink:
		up, _ := ch.Value.(bool)
		c.WriteLinkEvent(wpan.InterfaceID(ch.Entity.ID), up, at)
	case wpan.ChangeRejected:
		c.WriteCommandRejected(ch.Entity, ch.Property, ch.Reason, at)
	case wpan.ChangeDiscovered:
		c.writePoint(MeasurementDiscovery, entityTags(ch.Entity), map[string]any{"count": 1}, at)
	}
}

// fieldValue converts a property value to an InfluxDB field value.
func fieldValue(v any) (any, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case int:
		return int64(x), true
	case string:
		return x, true
	default:
		return nil, false
	}
}

// writePoint queues one point. Points are dropped once the client is
// closed.
func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
