// Package objectbus publishes the wpan registry as objects on MQTT and
// serves property reads and writes from MQTT clients.
//
// Every PHY and interface that completes discovery becomes an object at
// its path ("/wpan-phy0", "/wpan-phy0/wpan0"):
//
//	wpand/object/<path>                  retained descriptor (ObjectMessage)
//	wpand/object/<path>/property/<Name>  retained value (PropertyMessage)
//
// Clients write a property by publishing {"request_id", "value"} to
// wpand/set/<path>/<Name>; the outcome is acknowledged on wpand/ack/<path>.
// Reads go to wpand/get/<path> as {"request_id", "property"} and are
// answered on wpand/response/<request_id>. A retained health message is
// refreshed on wpand/health.
//
// # Thread Safety
//
// OnEntityReady and Observe are called from the engine's dispatch loop.
// They only queue work for the bridge's publisher goroutine, so they never
// block and never call back into the engine. MQTT handlers run on the
// paho callback goroutines and call the engine directly.
package objectbus
