// Package hub pushes persisted messages to real-time consumers.
//
// # Architecture
//
// The Hub keeps a registry of observer connections (dashboard WebSockets)
// and an optional list of Sinks (broker publishers). Broadcast is called
// synchronously after each message is persisted, so observers see events
// in commit order.
//
// Each observer has a buffered frame queue drained by its own writer
// loop. Broadcast only enqueues; a consumer that stops draining fills its
// queue and is disconnected, so one stalled dashboard tab never delays
// the others or the ingestion path.
//
// Sink delivery runs on a separate queue with the same non-blocking
// enqueue. Sink errors are logged and never surface to callers.
package hub
