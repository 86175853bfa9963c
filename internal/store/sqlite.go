// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides customer/conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// An in-memory database exists per connection, so the pool must not
	// grow past one.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			phone TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			order_id TEXT,
			status TEXT NOT NULL DEFAULT 'open',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (customer_id) REFERENCES customers(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_customer_open
			ON conversations(customer_id) WHERE status = 'open';

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			content TEXT,
			media_url TEXT,
			media_type TEXT,
			sender_type TEXT NOT NULL,
			external_id TEXT UNIQUE,
			timestamp DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
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
func (s *SQLiteStore) FindCustomerByPhone(ctx context.Context, phone string) (*Customer, error) {
	query := `SELECT id, name, phone, created_at FROM customers WHERE phone = ?`
	return s.scanCustomer(s.db.QueryRowContext(ctx, query, phone))
}

// GetCustomer retrieves a customer by id
func (s *SQLiteStore) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	query := `SELECT id, name, phone, created_at FROM customers WHERE id = ?`
	return s.scanCustomer(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) scanCustomer(row *sql.Row) (*Customer, error) {
	c := &Customer{}
	var createdAt string
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying customer: %w", err)
	}
	c.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return c, nil
}

// CreateCustomer inserts a new customer row
func (s *SQLiteStore) CreateCustomer(ctx context.Context, c *Customer) error {
	query := `INSERT INTO customers (id, name, phone, created_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.Name, c.Phone, c.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting customer: %w", err)
	}
	s.logger.Debug("created customer", "id", c.ID, "phone", c.Phone)
	return nil
}

// UpdateCustomerName sets the display name for a customer
func (s *SQLiteStore) UpdateCustomerName(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE customers SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("updating customer name: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCustomers returns every customer, most recently registered first
func (s *SQLiteStore) ListCustomers(ctx context.Context) ([]*Customer, error) {
	query := `SELECT id, name, phone, created_at FROM customers ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying customers: %w", err)
	}
	defer rows.Close()

	var customers []*Customer
	for rows.Next() {
		c := &Customer{}
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning customer row: %w", err)
		}
		if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// FindOpenConversation returns the customer's single open conversation
func (s *SQLiteStore) FindOpenConversation(ctx context.Context, customerID string) (*Conversation, error) {
	query := `
		SELECT id, customer_id, order_id, status, created_at, updated_at
		FROM conversations
		WHERE customer_id = ? AND status = 'open'
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, customerID))
}

// GetConversation retrieves a conversation by id
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, customer_id, order_id, status, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) scanConversation(row *sql.Row) (*Conversation, error) {
	c := &Conversation{}
	var status, createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.CustomerID, &c.OrderID, &status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	c.Status = ConversationStatus(status)
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return c, nil
}

// CreateConversation inserts a new conversation. The partial unique index on
// (customer_id) WHERE status='open' enforces one open conversation per
// customer; a violation maps to ErrConversationOpen.
func (s *SQLiteStore) CreateConversation(ctx context.Context, c *Conversation) error {
	query := `
		INSERT INTO conversations (id, customer_id, order_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.CustomerID,
		c.OrderID,
		string(c.Status),
		c.CreatedAt.UTC().Format(time.RFC3339),
		c.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConversationOpen
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}
	s.logger.Debug("created conversation", "id", c.ID, "customer_id", c.CustomerID)
	return nil
}

// CloseConversation transitions a conversation to closed. Closing is terminal.
func (s *SQLiteStore) CloseConversation(ctx context.Context, id string) error {
	query := `UPDATE conversations SET status = 'closed', updated_at = ? WHERE id = ? AND status = 'open'`
	res, err := s.db.ExecContext(ctx, query, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("closing conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchConversation bumps the conversation's updated_at to the given time
func (s *SQLiteStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	return nil
}

// ListConversations returns conversations ordered by most recent activity
func (s *SQLiteStore) ListConversations(ctx context.Context, limit, offset int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, customer_id, order_id, status, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		c := &Conversation{}
		var status, createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.CustomerID, &c.OrderID, &status, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		c.Status = ConversationStatus(status)
		if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// InsertMessage persists a message. A duplicate external id maps to
// ErrDuplicateMessage; the UNIQUE index is the dedup backstop.
func (s *SQLiteStore) InsertMessage(ctx context.Context, m *Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, content, media_url, media_type, sender_type, external_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		m.ID,
		m.ConversationID,
		m.Content,
		m.MediaURL,
		m.MediaType,
		string(m.Sender),
		m.ExternalID,
		m.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
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
func (s *SQLiteStore) SetMessageExternalID(ctx context.Context, id, externalID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET external_id = ? WHERE id = ?`, externalID, id)
	if err != nil {
		if isConstraintViolation(err) {
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
func (s *SQLiteStore) FindMessageByExternalID(ctx context.Context, externalID string) (*Message, error) {
	query := `
		SELECT id, conversation_id, content, media_url, media_type, sender_type, external_id, timestamp
		FROM messages
		WHERE external_id = ?
	`
	row := s.db.QueryRowContext(ctx, query, externalID)
	m := &Message{}
	var sender, timestamp string
	err := row.Scan(&m.ID, &m.ConversationID, &m.Content, &m.MediaURL, &m.MediaType, &sender, &m.ExternalID, &timestamp)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	m.Sender = SenderType(sender)
	if m.Timestamp, err = time.Parse(time.RFC3339, timestamp); err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	return m, nil
}

// HasBotMessage reports whether any bot message exists in a conversation.
// The auto-reply trigger derives its one-shot gate from this, so there is no
// separate greeted flag to drift out of sync with the message log.
func (s *SQLiteStore) HasBotMessage(ctx context.Context, conversationID string) (bool, error) {
	query := `SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND sender_type = 'bot'`
	var count int
	if err := s.db.QueryRowContext(ctx, query, conversationID).Scan(&count); err != nil {
		return false, fmt.Errorf("counting bot messages: %w", err)
	}
	return count > 0, nil
}

// ListMessages returns all messages in a conversation in timeline order
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, content, media_url, media_type, sender_type, external_id, timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		var sender, timestamp string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Content, &m.MediaURL, &m.MediaType, &sender, &m.ExternalID, &timestamp); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		m.Sender = SenderType(sender)
		if m.Timestamp, err = time.Parse(time.RFC3339, timestamp); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountConversations returns status counts plus the derived abandoned count
// (open conversations with no activity since abandonedBefore) and the
// responded/unanswered split.
func (s *SQLiteStore) CountConversations(ctx context.Context, abandonedBefore time.Time) (*ConversationCounts, error) {
	counts := &ConversationCounts{}

	query := `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN status = 'open' THEN 1 END),
			COUNT(CASE WHEN status = 'closed' THEN 1 END),
			COUNT(CASE WHEN status = 'open' AND updated_at < ? THEN 1 END)
		FROM conversations
	`
	err := s.db.QueryRowContext(ctx, query, abandonedBefore.UTC().Format(time.RFC3339)).
		Scan(&counts.Total, &counts.Open, &counts.Closed, &counts.Abandoned)
	if err != nil {
		return nil, fmt.Errorf("counting conversations: %w", err)
	}

	// Responded: at least one agent/bot message. Unanswered: customer
	// messages exist but no agent/bot reply yet.
	split := `
		SELECT
			(SELECT COUNT(*) FROM conversations c WHERE EXISTS (
				SELECT 1 FROM messages m WHERE m.conversation_id = c.id AND m.sender_type IN ('agent', 'bot'))),
			(SELECT COUNT(*) FROM conversations c WHERE EXISTS (
				SELECT 1 FROM messages m WHERE m.conversation_id = c.id AND m.sender_type = 'customer')
			AND NOT EXISTS (
				SELECT 1 FROM messages m WHERE m.conversation_id = c.id AND m.sender_type IN ('agent', 'bot')))
	`
	if err := s.db.QueryRowContext(ctx, split).Scan(&counts.Responded, &counts.Unanswered); err != nil {
		return nil, fmt.Errorf("counting responded conversations: %w", err)
	}

	return counts, nil
}

// ListTimelineSince returns slim message rows for conversations active since
// the cutoff, ordered per conversation by timestamp. The metrics service
// derives response-time aggregates from these in memory.
func (s *SQLiteStore) ListTimelineSince(ctx context.Context, since time.Time) ([]TimelineEntry, error) {
	query := `
		SELECT m.conversation_id, m.sender_type, m.timestamp, c.status
		FROM messages m
		JOIN conversations c ON m.conversation_id = c.id
		WHERE c.updated_at >= ?
		ORDER BY m.conversation_id, m.timestamp
	`
	rows, err := s.db.QueryContext(ctx, query, since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("querying timeline: %w", err)
	}
	defer rows.Close()

	var entries []TimelineEntry
	for rows.Next() {
		var e TimelineEntry
		var sender, status, timestamp string
		if err := rows.Scan(&e.ConversationID, &sender, &timestamp, &status); err != nil {
			return nil, fmt.Errorf("scanning timeline row: %w", err)
		}
		e.Sender = SenderType(sender)
		e.ConversationStatus = ConversationStatus(status)
		if e.Timestamp, err = time.Parse(time.RFC3339, timestamp); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}
