// Package influxdb records radio metrics in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched metric writing, and health monitoring.
//
// # Measurements
//
//   - wpan_property: every committed Powered/Channel change (tags entity_kind,
//     entity_id, property; field value)
//   - wpan_lowpan_link: 6LoWPAN links appearing and leaving (field up)
//   - wpan_command_rejected: refused writes (fields count, reason)
//   - wpan_discovery: entities completing discovery
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	engine := wpan.NewEngine(wpan.EngineOptions{Observer: client, ...})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Observe never blocks: points go
// to the non-blocking write API and batch errors arrive via SetOnError.
package influxdb
