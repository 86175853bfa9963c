// Package ingest is the core pipeline between normalized provider events
// and persisted conversation state.
//
// # Flow
//
// For each inbound event the pipeline:
//
//  1. derives the customer phone from the remote identifier
//  2. rejects duplicate deliveries (cache first, database backstop)
//  3. finds or creates the customer, upgrading placeholder names
//  4. finds or creates the customer's single open conversation
//  5. persists the message and broadcasts it to observers
//  6. on first customer contact, sends the one-shot greeting
//
// Steps 3-6 run under a per-phone lock, so concurrent webhooks for the
// same customer serialize and cannot open two conversations. Different
// customers proceed in parallel.
//
// Auto-reply failures (generation or delivery) are logged and dropped;
// the customer message is already persisted and a missing greeting is
// preferable to a duplicated or delayed pipeline.
package ingest
