// Package api implements the HTTP status API of wpand.
//
// This package provides:
//   - Read endpoints for PHYs, interfaces and their published properties
//   - A write endpoint for PHY properties (Powered, Channel)
//   - Event history from the local journal
//   - A WebSocket stream of engine changes
//   - Middleware stack (request ID, logging, recovery, body size limit)
//
// # Architecture
//
// Every read and write goes through the wpan engine's request methods, so
// the API sees the same serialised registry as the object bus. The server
// holds no state of its own.
//
// # Endpoints
//
//	GET /api/v1/health
//	GET /api/v1/phys
//	GET /api/v1/phys/{id}
//	PUT /api/v1/phys/{id}/properties/{name}   {"value": ...}
//	GET /api/v1/interfaces
//	GET /api/v1/interfaces/{id}
//	GET /api/v1/history/{kind}/{id}?limit=N
//	GET /api/v1/ws   subscribe with {"type":"subscribe","payload":{"channels":["property"]}}
//
// # Graceful Degradation
//
// The server operates without the journal; the history endpoint then
// answers 503.
package api
