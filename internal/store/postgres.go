// ABOUTME: PostgreSQL implementation of the Store interface using lib/pq
// ABOUTME: Mirrors the SQLite store for deployments backed by a shared Postgres

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements the Store interface using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore connects to Postgres with the given DSN and ensures the
// schema exists. The same partial unique index strategy as the SQLite store
// enforces one open conversation per customer.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store")

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("Postgres store initialized")
	return s, nil
}

func (s *PostgresStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			phone TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL REFERENCES customers(id),
			order_id TEXT,
			status TEXT NOT NULL DEFAULT 'open',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_customer_open
			ON conversations(customer_id) WHERE status = 'open';

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			content TEXT,
			media_url TEXT,
			media_type TEXT,
			sender_type TEXT NOT NULL,
			external_id TEXT UNIQUE,
			timestamp TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, timestamp);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// FindCustomerByPhone looks up a customer by phone number
func (s *PostgresStore) FindCustomerByPhone(ctx context.Context, phone string) (*Customer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone, created_at FROM customers WHERE phone = $1`, phone)
	return scanPGCustomer(row)
}

// GetCustomer retrieves a customer by id
func (s *PostgresStore) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone, created_at FROM customers WHERE id = $1`, id)
	return scanPGCustomer(row)
}

func scanPGCustomer(row *sql.Row) (*Customer, error) {
	c := &Customer{}
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying customer: %w", err)
	}
	return c, nil
}

// CreateCustomer inserts a new customer row
func (s *PostgresStore) CreateCustomer(ctx context.Context, c *Customer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (id, name, phone, created_at) VALUES ($1, $2, $3, $4)`,
		c.ID, c.Name, c.Phone, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting customer: %w", err)
	}
	s.logger.Debug("created customer", "id", c.ID, "phone", c.Phone)
	return nil
}

// UpdateCustomerName sets the display name for a customer
func (s *PostgresStore) UpdateCustomerName(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE customers SET name = $1 WHERE id = $2`, name, id)
	if err != nil {
		return fmt.Errorf("updating customer name: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCustomers returns every customer, most recently registered first
func (s *PostgresStore) ListCustomers(ctx context.Context) ([]*Customer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, phone, created_at FROM customers ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying customers: %w", err)
	}
	defer rows.Close()

	var customers []*Customer
	for rows.Next() {
		c := &Customer{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning customer row: %w", err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// FindOpenConversation returns the customer's single open conversation
func (s *PostgresStore) FindOpenConversation(ctx context.Context, customerID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, order_id, status, created_at, updated_at
		FROM conversations
		WHERE customer_id = $1 AND status = 'open'`, customerID)
	return scanPGConversation(row)
}

// GetConversation retrieves a conversation by id
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, order_id, status, created_at, updated_at
		FROM conversations
		WHERE id = $1`, id)
	return scanPGConversation(row)
}

func scanPGConversation(row *sql.Row) (*Conversation, error) {
	c := &Conversation{}
	var status string
	err := row.Scan(&c.ID, &c.CustomerID, &c.OrderID, &status, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	c.Status = ConversationStatus(status)
	return c, nil
}

// CreateConversation inserts a new conversation
func (s *PostgresStore) CreateConversation(ctx context.Context, c *Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, customer_id, order_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.CustomerID, c.OrderID, string(c.Status), c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		if isPGUniqueViolation(err) {
			return ErrConversationOpen
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}
	s.logger.Debug("created conversation", "id", c.ID, "customer_id", c.CustomerID)
	return nil
}

// CloseConversation transitions a conversation to closed
func (s *PostgresStore) CloseConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = 'closed', updated_at = $1 WHERE id = $2 AND status = 'open'`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("closing conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchConversation bumps the conversation's updated_at to the given time
func (s *PostgresStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	return nil
}

// ListConversations returns conversations ordered by most recent activity
func (s *PostgresStore) ListConversations(ctx context.Context, limit, offset int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, order_id, status, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		c := &Conversation{}
		var status string
		if err := rows.Scan(&c.ID, &c.CustomerID, &c.OrderID, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		c.Status = ConversationStatus(status)
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// InsertMessage persists a message
func (s *PostgresStore) InsertMessage(ctx context.Context, m *Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, content, media_url, media_type, sender_type, external_id, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ConversationID, m.Content, m.MediaURL, m.MediaType,
		string(m.Sender), m.ExternalID, m.Timestamp.UTC())
	if err != nil {
		if isPGUniqueViolation(err) {
			return ErrDuplicateMessage
		}
		return fmt.Errorf("inserting message: %w", err)
	}
	s.logger.Debug("saved message",
		"id", m.ID,
		"conversation_id", m.ConversationID,
		"sender", m.Sender,
	)
	return nil
}

// SetMessageExternalID records the provider message id after an outbound send
func (s *PostgresStore) SetMessageExternalID(ctx context.Context, id, externalID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET external_id = $1 WHERE id = $2`, externalID, id)
	if err != nil {
		if isPGUniqueViolation(err) {
			return ErrDuplicateMessage
		}
		return fmt.Errorf("setting message external id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindMessageByExternalID looks up a message by its provider-assigned id
func (s *PostgresStore) FindMessageByExternalID(ctx context.Context, externalID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, content, media_url, media_type, sender_type, external_id, timestamp
		FROM messages
		WHERE external_id = $1`, externalID)
	m := &Message{}
	var sender string
	err := row.Scan(&m.ID, &m.ConversationID, &m.Content, &m.MediaURL, &m.MediaType, &sender, &m.ExternalID, &m.Timestamp)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	m.Sender = SenderType(sender)
	return m, nil
}

// HasBotMessage reports whether any bot message exists in a conversation
func (s *PostgresStore) HasBotMessage(ctx context.Context, conversationID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1 AND sender_type = 'bot'`,
		conversationID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("counting bot messages: %w", err)
	}
	return count > 0, nil
}

// ListMessages returns all messages in a conversation in timeline order
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, content, media_url, media_type, sender_type, external_id, timestamp
		FROM messages
		WHERE conversation_id = $1
		ORDER BY timestamp ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		var sender string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Content, &m.MediaURL, &m.MediaType, &sender, &m.ExternalID, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		m.Sender = SenderType(sender)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountConversations returns status counts plus the derived abandoned count
func (s *PostgresStore) CountConversations(ctx context.Context, abandonedBefore time.Time) (*ConversationCounts, error) {
	counts := &ConversationCounts{}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'open'),
			COUNT(*) FILTER (WHERE status = 'closed'),
			COUNT(*) FILTER (WHERE status = 'open' AND updated_at < $1)
		FROM conversations`, abandonedBefore.UTC()).
		Scan(&counts.Total, &counts.Open, &counts.Closed, &counts.Abandoned)
	if err != nil {
		return nil, fmt.Errorf("counting conversations: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM conversations c WHERE EXISTS (
				SELECT 1 FROM messages m WHERE m.conversation_id = c.id AND m.sender_type IN ('agent', 'bot'))),
			(SELECT COUNT(*) FROM conversations c WHERE EXISTS (
				SELECT 1 FROM messages m WHERE m.conversation_id = c.id AND m.sender_type = 'customer')
			AND NOT EXISTS (
				SELECT 1 FROM messages m WHERE m.conversation_id = c.id AND m.sender_type IN ('agent', 'bot')))`).
		Scan(&counts.Responded, &counts.Unanswered)
	if err != nil {
		return nil, fmt.Errorf("counting responded conversations: %w", err)
	}

	return counts, nil
}

// ListTimelineSince returns slim message rows for recently active conversations
func (s *PostgresStore) ListTimelineSince(ctx context.Context, since time.Time) ([]TimelineEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.conversation_id, m.sender_type, m.timestamp, c.status
		FROM messages m
		JOIN conversations c ON m.conversation_id = c.id
		WHERE c.updated_at >= $1
		ORDER BY m.conversation_id, m.timestamp`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying timeline: %w", err)
	}
	defer rows.Close()

	var entries []TimelineEntry
	for rows.Next() {
		var e TimelineEntry
		var sender, status string
		if err := rows.Scan(&e.ConversationID, &sender, &e.Timestamp, &status); err != nil {
			return nil, fmt.Errorf("scanning timeline row: %w", err)
		}
		e.Sender = SenderType(sender)
		e.ConversationStatus = ConversationStatus(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// isPGUniqueViolation checks for a Postgres unique_violation (23505)
func isPGUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
