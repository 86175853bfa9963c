// Package store provides persistent storage for the ingestion engine.
//
// # Architecture
//
// A single Store interface covers the operations the pipeline needs:
// customer lookup/upsert, open-conversation resolution, message insertion,
// and the metrics read path. Two implementations exist:
//
//   - SQLiteStore: modernc.org/sqlite, the default single-node deployment
//   - PostgresStore: lib/pq, for deployments sharing a Postgres with the
//     rest of the dashboard
//
// # Data Models
//
//   - Customer: identified by phone number (unique)
//   - Conversation: one exchange with a customer, open or closed
//   - Message: one timeline entry, with optional media and the
//     provider-assigned external id used for deduplication
//
// # Uniqueness Invariants
//
// Two constraints back the pipeline's correctness:
//
//   - messages.external_id UNIQUE: the dedup backstop. Inserting a message
//     whose external id was already recorded returns ErrDuplicateMessage.
//   - a partial unique index on conversations(customer_id) WHERE
//     status='open': at most one open conversation per customer. A racing
//     create returns ErrConversationOpen so the caller can re-resolve.
//
// # SQLite Configuration
//
// The SQLite store uses WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Use NewSQLiteStore(":memory:") for tests with a real database.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateMessage: external id already recorded
//   - ErrConversationOpen: customer already has an open conversation
//
// All methods accept context.Context for cancellation support.
package store
