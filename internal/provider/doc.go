// Package provider normalizes messaging-provider webhooks and delivers
// outbound sends.
//
// # Architecture
//
// Each provider implements two small contracts:
//
//   - Adapter: maps a raw webhook payload into the canonical InboundEvent,
//     or reports that the payload should be ignored
//   - Sender: delivers outbound text and media through the provider's API
//
// Two providers are built in:
//
//   - ZAPI: Z-API's flat REST webhook shape, with its many versioned
//     spellings of the event type and text fields
//   - Evolution: Evolution API's nested data.key/data.message envelope
//
// # Normalization Rules
//
// Adapters never return errors. Status callbacks, group messages and
// malformed payloads are ignores, not failures, so webhook handlers can
// always acknowledge with 200 and providers never retry.
//
// Operator echoes (messages the business sent from its own number, echoed
// back on the webhook) are normalized with FromOperator=true rather than
// dropped; the pipeline records them as agent messages.
package provider
