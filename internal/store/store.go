// ABOUTME: Store interface and data types for omni-gateway persistence
// ABOUTME: Defines Customer, Conversation, Message structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateMessage is returned when inserting a message whose external
// provider id already exists. Duplicate webhook deliveries hit this.
var ErrDuplicateMessage = errors.New("message already exists")

// ErrConversationOpen is returned when creating a conversation for a customer
// that already has an open one.
var ErrConversationOpen = errors.New("customer already has an open conversation")

// ErrConversationClosed is returned when acting on a conversation that is no
// longer open, such as sending an agent message into it.
var ErrConversationClosed = errors.New("conversation is closed")

// PlaceholderName is the display name assigned to a customer until a real
// name is observed on an inbound message.
const PlaceholderName = "Cliente"

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderBot      SenderType = "bot"
	SenderAgent    SenderType = "agent"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusOpen   ConversationStatus = "open"
	StatusClosed ConversationStatus = "closed"
)

// Customer is identified by phone number. One row per phone.
type Customer struct {
	ID        string
	Name      string
	Phone     string
	CreatedAt time.Time
}

// Conversation is one exchange with a customer. A customer has at most one
// open conversation at a time; closing is terminal and a later message opens
// a new conversation.
type Conversation struct {
	ID         string
	CustomerID string
	OrderID    *string
	Status     ConversationStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Message belongs to exactly one conversation. ExternalID is the
// provider-assigned message id and is the dedup key when present.
type Message struct {
	ID             string
	ConversationID string
	Content        *string
	MediaURL       *string
	MediaType      *string
	Sender         SenderType
	ExternalID     *string
	Timestamp      time.Time
}

// TimelineEntry is a slim row used by the metrics read path. It carries just
// enough of a message to derive response-time aggregates.
type TimelineEntry struct {
	ConversationID     string
	Sender             SenderType
	Timestamp          time.Time
	ConversationStatus ConversationStatus
}

// ConversationCounts holds the basic status counts for the metrics endpoint.
type ConversationCounts struct {
	Total      int
	Open       int
	Closed     int
	Abandoned  int
	Responded  int
	Unanswered int
}

// Store defines the persistence operations the ingestion engine needs.
type Store interface {
	// Customers
	FindCustomerByPhone(ctx context.Context, phone string) (*Customer, error)
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	CreateCustomer(ctx context.Context, c *Customer) error
	UpdateCustomerName(ctx context.Context, id, name string) error
	ListCustomers(ctx context.Context) ([]*Customer, error)

	// Conversations
	FindOpenConversation(ctx context.Context, customerID string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	CreateConversation(ctx context.Context, c *Conversation) error
	CloseConversation(ctx context.Context, id string) error
	TouchConversation(ctx context.Context, id string, at time.Time) error
	ListConversations(ctx context.Context, limit, offset int) ([]*Conversation, error)

	// Messages
	InsertMessage(ctx context.Context, m *Message) error
	SetMessageExternalID(ctx context.Context, id, externalID string) error
	FindMessageByExternalID(ctx context.Context, externalID string) (*Message, error)
	HasBotMessage(ctx context.Context, conversationID string) (bool, error)
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// Metrics read path
	CountConversations(ctx context.Context, abandonedBefore time.Time) (*ConversationCounts, error)
	ListTimelineSince(ctx context.Context, since time.Time) ([]TimelineEntry, error)

	// Close releases any resources held by the store
	Close() error
}
