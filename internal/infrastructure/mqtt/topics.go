package mqtt

import (
	"fmt"
	"strings"
)

// DefaultPrefix is the root of every wpand topic unless configured otherwise.
const DefaultPrefix = "wpand"

// Topics provides builders for wpand MQTT topics.
//
// Object paths start with "/" ("/wpan-phy0", "/wpan-phy0/wpan0") and are
// appended to the category verbatim:
//
//	topics := mqtt.Topics{Prefix: "wpand"}
//	topics.Property("/wpan-phy0", "Channel")
//	// Returns: "wpand/object/wpan-phy0/property/Channel"
type Topics struct {
	Prefix string
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return t.Prefix
}

// Object returns the retained descriptor topic for an object.
//
// Example: wpand/object/wpan-phy0
func (t Topics) Object(path string) string {
	return fmt.Sprintf("%s/object%s", t.root(), path)
}

// Property returns the retained topic for one property of an object.
//
// Example: wpand/object/wpan-phy0/property/Channel
func (t Topics) Property(path, name string) string {
	return fmt.Sprintf("%s/object%s/property/%s", t.root(), path, name)
}

// Set returns the topic clients publish property writes to.
//
// Example: wpand/set/wpan-phy0/Channel
func (t Topics) Set(path, name string) string {
	return fmt.Sprintf("%s/set%s/%s", t.root(), path, name)
}

// Get returns the topic clients publish property reads to.
//
// Example: wpand/get/wpan-phy0/wpan0
func (t Topics) Get(path string) string {
	return fmt.Sprintf("%s/get%s", t.root(), path)
}

// Ack returns the topic set acknowledgements are published on.
//
// Example: wpand/ack/wpan-phy0
func (t Topics) Ack(path string) string {
	return fmt.Sprintf("%s/ack%s", t.root(), path)
}

// Response returns the topic a get reply is published on.
//
// Example: wpand/response/3f0c...
func (t Topics) Response(requestID string) string {
	return fmt.Sprintf("%s/response/%s", t.root(), requestID)
}

// Health returns the retained bridge health topic.
//
// Example: wpand/health
func (t Topics) Health() string {
	return t.root() + "/health"
}

// Status returns the retained online/offline status topic, also used as LWT.
//
// Example: wpand/status
func (t Topics) Status() string {
	return t.root() + "/status"
}

// AllSets returns a pattern matching every property write.
//
// Pattern: wpand/set/#
func (t Topics) AllSets() string {
	return t.root() + "/set/#"
}

// AllGets returns a pattern matching every property read.
//
// Pattern: wpand/get/#
func (t Topics) AllGets() string {
	return t.root() + "/get/#"
}

// AllObjects returns a pattern matching every object and property topic.
//
// Pattern: wpand/object/#
func (t Topics) AllObjects() string {
	return t.root() + "/object/#"
}

// ParseSet splits a set topic into object path and property name.
func (t Topics) ParseSet(topic string) (path, name string, ok bool) {
	rest, ok := strings.CutPrefix(topic, t.root()+"/set/")
	if !ok {
		return "", "", false
	}
	i := strings.LastIndexByte(rest, '/')
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return "/" + rest[:i], rest[i+1:], true
}

// ParseGet returns the object path of a get topic.
func (t Topics) ParseGet(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.root()+"/get/")
	if !ok || rest == "" {
		return "", false
	}
	return "/" + rest, true
}
