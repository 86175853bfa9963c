// Package gateway implements the omni-gateway server.
//
// # Overview
//
// The Gateway wires the storage layer, provider adapters, dedup guard,
// ingestion pipeline, observer hub, and metrics service behind one HTTP
// server. It owns component lifecycle: New constructs and connects
// everything, Run serves until the context is canceled, and Shutdown
// releases resources in order.
//
// # Endpoints
//
// Provider webhooks:
//
//	POST /webhook/{provider}  inbound events; always answers 200
//	GET  /webhook/{provider}  endpoint-verification ping
//
// Real-time observers:
//
//	GET /ws  WebSocket stream of persisted message events
//
// Conversation API:
//
//	GET  /api/conversations                 list with limit/offset
//	GET  /api/conversations/metrics         aggregate report
//	GET  /api/conversations/{id}/messages   message history
//	POST /api/conversations/{id}/messages   agent reply
//	POST /api/conversations/{id}/close      terminal close
//	POST /api/conversations/broadcast       bulk flyer send to customers
//
// Health:
//
//	GET /health        liveness
//	GET /health/ready  store readiness plus observer count
package gateway
