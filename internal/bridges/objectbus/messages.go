package objectbus

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-wpan/internal/wpan"
)

// ObjectMessage describes one published object.
// Topic: wpand/object/{path}
// QoS: 1, Retained: Yes
type ObjectMessage struct {
	// Path is the object path ("/wpan-phy0/wpan0").
	Path string `json:"path"`

	// Interface is the object interface name.
	Interface string `json:"interface"`

	// Kind and ID identify the registry entry behind the object.
	Kind wpan.EntityKind `json:"kind"`
	ID   uint32          `json:"id"`

	// Properties holds every property value at publish time.
	Properties map[string]any `json:"properties"`

	// Writable lists the properties accepted on the set topic.
	Writable []string `json:"writable,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// PropertyMessage carries the current value of one property.
// Topic: wpand/object/{path}/property/{name}
// QoS: 1, Retained: Yes
type PropertyMessage struct {
	Path      string    `json:"path"`
	Property  string    `json:"property"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// SetRequest is published by a client to write a property.
// Topic: wpand/set/{path}/{name}
type SetRequest struct {
	// RequestID correlates the acknowledgement. One is generated when the
	// client leaves it empty.
	RequestID string `json:"request_id"`

	// Value is the new property value. Numbers arrive as float64.
	Value any `json:"value"`
}

// GetRequest is published by a client to read an object or one property.
// Topic: wpand/get/{path}
type GetRequest struct {
	RequestID string `json:"request_id"`

	// Property selects a single property. Empty reads the whole object.
	Property string `json:"property,omitempty"`
}

// AckStatus is the outcome of a set request.
type AckStatus string

const (
	// AckAccepted indicates the property was written.
	AckAccepted AckStatus = "accepted"

	// AckRejected indicates the write was refused.
	AckRejected AckStatus = "rejected"
)

// AckMessage answers a SetRequest.
// Topic: wpand/ack/{path}
type AckMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
	Property  string    `json:"property"`
	Status    AckStatus `json:"status"`

	// Error contains details if status is "rejected".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for a rejected write.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMessage answers a GetRequest.
// Topic: wpand/response/{request_id}
type ResponseMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`

	// Data is the ObjectMessage, or {"property", "value"} for a single
	// property read.
	Data any `json:"data,omitempty"`

	Error *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for a failed read.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for rejected writes and failed reads.
const (
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeUnknownProperty = "UNKNOWN_PROPERTY"
	ErrCodeReadOnly        = "READ_ONLY"
	ErrCodeInvalidValue    = "INVALID_VALUE"
	ErrCodeRejected        = "REJECTED"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeUnavailable     = "UNAVAILABLE"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeBridgeError     = "BRIDGE_ERROR"
)

// errorCode maps an engine or bridge error to its wire code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, wpan.ErrNotFound), errors.Is(err, ErrUnknownPath):
		return ErrCodeNotFound
	case errors.Is(err, wpan.ErrUnknownProperty):
		return ErrCodeUnknownProperty
	case errors.Is(err, wpan.ErrReadOnly):
		return ErrCodeReadOnly
	case errors.Is(err, wpan.ErrInvalidValue):
		return ErrCodeInvalidValue
	case errors.Is(err, wpan.ErrRejected):
		return ErrCodeRejected
	case errors.Is(err, ErrInvalidRequest):
		return ErrCodeInvalidRequest
	case errors.Is(err, wpan.ErrEngineStopped), errors.Is(err, context.Canceled):
		return ErrCodeUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	default:
		return ErrCodeBridgeError
	}
}

// HealthStatus represents the operational status of the daemon.
type HealthStatus string

const (
	// HealthHealthy indicates discovery finished and every link is up.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the daemon runs with a broken dependency.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy indicates the radio stack cannot be managed.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthOffline is the last-will status set by the broker.
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates discovery has not finished.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the daemon is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports daemon status.
// Topic: wpand/health
// QoS: 1, Retained: Yes
// Interval: object_bus.health_interval (default 30 seconds)
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// Netlink is the nl802154 channel state ("connected" or "error").
	Netlink string `json:"netlink"`

	Phys       int  `json:"phys"`
	Interfaces int  `json:"interfaces"`
	Discovered bool `json:"discovered"`
	InFlight   int  `json:"in_flight"`

	// JournalDropped counts events the journal discarded because its
	// buffer was full.
	JournalDropped uint64 `json:"journal_dropped,omitempty"`

	// Reason explains the status (especially for degraded/unhealthy).
	Reason string `json:"reason,omitempty"`
}

// NewObjectMessage builds a descriptor from an engine object.
func NewObjectMessage(obj wpan.Object) ObjectMessage {
	var writable []string
	for _, spec := range wpan.PropertiesOf(obj.Ref.Kind) {
		if spec.Writable {
			writable = append(writable, spec.Name)
		}
	}
	return ObjectMessage{
		Path:       obj.Path,
		Interface:  obj.Interface,
		Kind:       obj.Ref.Kind,
		ID:         obj.Ref.ID,
		Properties: obj.Properties,
		Writable:   writable,
		Timestamp:  time.Now().UTC(),
	}
}

// NewAckMessage creates an acknowledgement for a set request. A nil err
// yields an accepted ack.
func NewAckMessage(requestID, path, property string, err error) AckMessage {
	ack := AckMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Path:      path,
		Property:  property,
		Status:    AckAccepted,
	}
	if err != nil {
		ack.Status = AckRejected
		ack.Error = &AckError{Code: errorCode(err), Message: err.Error()}
	}
	return ack
}

// NewResponse creates a reply to a get request. A non-nil err yields a
// failed response and data is dropped.
func NewResponse(requestID string, data any, err error) ResponseMessage {
	resp := ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Success:   err == nil,
	}
	if err != nil {
		resp.Error = &ResponseError{Code: errorCode(err), Message: err.Error()}
		return resp
	}
	resp.Data = data
	return resp
}
