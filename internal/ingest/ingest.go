// ABOUTME: Core pipeline: resolve customer and conversation, persist, react
// ABOUTME: Work is serialized per customer phone; dedup happens before any write

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/omni-gateway/internal/chatbot"
	"github.com/2389/omni-gateway/internal/hub"
	"github.com/2389/omni-gateway/internal/provider"
	"github.com/2389/omni-gateway/internal/store"
)

// Processing outcomes reported back to webhook handlers. Handlers always
// acknowledge with 200; the status only says what happened.
const (
	StatusSuccess          = "success"
	StatusIgnored          = "ignored"
	StatusNoPhone          = "no_phone"
	StatusAlreadyProcessed = "already_processed"
)

// ErrNoSender is returned by outbound operations when no active provider is
// configured for delivery.
var ErrNoSender = errors.New("no outbound provider configured")

// Result describes what the pipeline did with one inbound event.
type Result struct {
	Status         string `json:"status"`
	MessageID      string `json:"message_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Deduper is the dedup check the pipeline runs before any write.
type Deduper interface {
	Seen(ctx context.Context, providerName, externalID string) (bool, error)
	Release(providerName, externalID string)
}

// Broadcaster receives every persisted message, in commit order.
type Broadcaster interface {
	Broadcast(event hub.MessageEvent)
}

// Service runs inbound events through resolution, persistence, broadcast,
// and the one-shot auto-reply. It also carries outbound agent sends so the
// API layer stays thin.
type Service struct {
	store   store.Store
	dedupe  Deduper
	hub     Broadcaster
	greeter chatbot.Greeter
	sender  provider.Sender
	logger  *slog.Logger
	locks   *keyedLock
	now     func() time.Time
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithGreeter enables the auto-reply greeting.
func WithGreeter(g chatbot.Greeter) Option {
	return func(s *Service) { s.greeter = g }
}

// WithSender enables outbound delivery (auto-replies and agent sends).
func WithSender(sender provider.Sender) Option {
	return func(s *Service) { s.sender = sender }
}

// New creates the pipeline service.
func New(st store.Store, dedupe Deduper, broadcaster Broadcaster, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:  st,
		dedupe: dedupe,
		hub:    broadcaster,
		logger: logger.With("component", "ingest"),
		locks:  newKeyedLock(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process runs one normalized event through the pipeline. The returned
// error means a real failure (storage down); everything expected is a
// Result status.
func (s *Service) Process(ctx context.Context, providerName string, ev *provider.InboundEvent) (*Result, error) {
	phone := provider.PhoneFromRemoteID(ev.RemoteID)
	if phone == "" {
		s.logger.Warn("event without derivable phone ignored", "provider", providerName, "remote_id", ev.RemoteID)
		return &Result{Status: StatusNoPhone}, nil
	}

	seen, err := s.dedupe.Seen(ctx, providerName, ev.ExternalID)
	if err != nil {
		return nil, err
	}
	if seen {
		s.logger.Debug("duplicate delivery skipped", "provider", providerName, "external_id", ev.ExternalID)
		return &Result{Status: StatusAlreadyProcessed}, nil
	}

	// All writes for one customer run under the same lock, so two racing
	// webhooks cannot each open a conversation.
	release := s.locks.acquire(phone)
	defer release()

	customer, err := s.resolveCustomer(ctx, phone, ev.SenderName, ev.FromOperator)
	if err != nil {
		s.dedupe.Release(providerName, ev.ExternalID)
		return nil, err
	}

	conv, err := s.resolveConversation(ctx, customer.ID)
	if err != nil {
		s.dedupe.Release(providerName, ev.ExternalID)
		return nil, err
	}

	sender := store.SenderCustomer
	if ev.FromOperator {
		sender = store.SenderAgent
	}

	msg := s.newMessage(conv.ID, sender, ev.Body, ev.Media)
	if ev.ExternalID != "" {
		msg.ExternalID = &ev.ExternalID
	}

	if err := s.store.InsertMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrDuplicateMessage) {
			return &Result{Status: StatusAlreadyProcessed}, nil
		}
		s.dedupe.Release(providerName, ev.ExternalID)
		return nil, fmt.Errorf("persisting message: %w", err)
	}

	if err := s.store.TouchConversation(ctx, conv.ID, s.now().UTC()); err != nil {
		s.logger.Warn("failed to touch conversation", "conversation_id", conv.ID, "error", err)
	}

	s.hub.Broadcast(hub.NewMessageEvent(msg))

	s.logger.Info("message ingested",
		"provider", providerName,
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"sender", sender)

	if sender == store.SenderCustomer {
		s.maybeGreet(ctx, customer, conv, ev.Body, phone)
	}

	return &Result{Status: StatusSuccess, MessageID: msg.ID, ConversationID: conv.ID}, nil
}

// resolveCustomer finds or creates the customer for a phone. A stored
// placeholder name is upgraded when a customer-authored event carries a real
// one; operator echoes carry the business's display name, never the
// customer's, so they never rename.
func (s *Service) resolveCustomer(ctx context.Context, phone, senderName string, fromOperator bool) (*store.Customer, error) {
	customer, err := s.store.FindCustomerByPhone(ctx, phone)
	if errors.Is(err, store.ErrNotFound) {
		name := senderName
		if name == "" {
			name = store.PlaceholderName
		}
		customer = &store.Customer{
			ID:        uuid.New().String(),
			Name:      name,
			Phone:     phone,
			CreatedAt: s.now().UTC(),
		}
		if err := s.store.CreateCustomer(ctx, customer); err != nil {
			return nil, fmt.Errorf("creating customer: %w", err)
		}
		return customer, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up customer: %w", err)
	}

	if !fromOperator && customer.Name == store.PlaceholderName && senderName != "" && senderName != store.PlaceholderName {
		if err := s.store.UpdateCustomerName(ctx, customer.ID, senderName); err != nil {
			s.logger.Warn("failed to update customer name", "customer_id", customer.ID, "error", err)
		} else {
			customer.Name = senderName
		}
	}
	return customer, nil
}

// resolveConversation finds the customer's open conversation or creates
// one. A racing create from another instance is absorbed by re-looking up.
func (s *Service) resolveConversation(ctx context.Context, customerID string) (*store.Conversation, error) {
	conv, err := s.store.FindOpenConversation(ctx, customerID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}

	now := s.now().UTC()
	conv = &store.Conversation{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		Status:     store.StatusOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.store.CreateConversation(ctx, conv)
	if errors.Is(err, store.ErrConversationOpen) {
		return s.store.FindOpenConversation(ctx, customerID)
	}
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return conv, nil
}

// maybeGreet sends the reception message on first customer contact. The
// gate is derived, not stored: a bot message already in the conversation
// means the greeting went out. Failures are logged and never retried; the
// customer message is already safe.
func (s *Service) maybeGreet(ctx context.Context, customer *store.Customer, conv *store.Conversation, body, phone string) {
	if s.greeter == nil || s.sender == nil {
		return
	}

	greeted, err := s.store.HasBotMessage(ctx, conv.ID)
	if err != nil {
		s.logger.Warn("greeting gate check failed", "conversation_id", conv.ID, "error", err)
		return
	}
	if greeted {
		return
	}

	text, err := s.greeter.Greeting(ctx, customer.Name, body)
	if err != nil {
		s.logger.Warn("greeting generation failed", "conversation_id", conv.ID, "error", err)
		return
	}

	externalID, err := s.sender.SendText(ctx, phone, text)
	if err != nil {
		s.logger.Warn("greeting delivery failed", "conversation_id", conv.ID, "error", err)
		return
	}

	msg := s.newMessage(conv.ID, store.SenderBot, text, nil)
	if externalID != "" {
		msg.ExternalID = &externalID
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		s.logger.Error("greeting sent but not recorded", "conversation_id", conv.ID, "error", err)
		return
	}
	if err := s.store.TouchConversation(ctx, conv.ID, s.now().UTC()); err != nil {
		s.logger.Warn("failed to touch conversation", "conversation_id", conv.ID, "error", err)
	}

	s.hub.Broadcast(hub.NewMessageEvent(msg))
	s.logger.Info("greeting sent", "conversation_id", conv.ID, "message_id", msg.ID)
}

// SendAgentMessage persists and delivers an outbound agent message for an
// open conversation. The message is recorded before delivery; the provider
// id is attached afterwards so the record survives a delivery failure.
func (s *Service) SendAgentMessage(ctx context.Context, conversationID, content string) (*store.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status != store.StatusOpen {
		return nil, store.ErrConversationClosed
	}

	customer, err := s.store.GetCustomer(ctx, conv.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("looking up customer: %w", err)
	}

	msg := s.newMessage(conv.ID, store.SenderAgent, content, nil)
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persisting message: %w", err)
	}
	if err := s.store.TouchConversation(ctx, conv.ID, s.now().UTC()); err != nil {
		s.logger.Warn("failed to touch conversation", "conversation_id", conv.ID, "error", err)
	}

	s.hub.Broadcast(hub.NewMessageEvent(msg))

	if s.sender == nil {
		s.logger.Warn("no sender configured, message recorded but not delivered", "message_id", msg.ID)
		return msg, nil
	}

	externalID, err := s.sender.SendText(ctx, customer.Phone, content)
	if err != nil {
		s.logger.Error("agent message delivery failed", "message_id", msg.ID, "error", err)
		return msg, fmt.Errorf("delivering message: %w", err)
	}
	if externalID != "" {
		if err := s.store.SetMessageExternalID(ctx, msg.ID, externalID); err != nil {
			s.logger.Warn("failed to record provider message id", "message_id", msg.ID, "error", err)
		} else {
			msg.ExternalID = &externalID
		}
	}
	return msg, nil
}

// BroadcastInput describes one bulk send: a text body plus an optional media
// attachment, targeted at specific customers or at everyone.
type BroadcastInput struct {
	Content     string
	MediaURL    string
	MediaKind   string
	CustomerIDs []string
}

// BroadcastToCustomers delivers a flyer-style message to every targeted
// customer, recording it as a bot message in each one's open conversation
// and opening a conversation where none exists. A failed delivery skips that
// customer and the rest still receive. Returns the ids of the customers the
// message went out to.
func (s *Service) BroadcastToCustomers(ctx context.Context, in BroadcastInput) ([]string, error) {
	if s.sender == nil {
		return nil, ErrNoSender
	}

	customers, err := s.store.ListCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing customers: %w", err)
	}

	var targets map[string]bool
	if len(in.CustomerIDs) > 0 {
		targets = make(map[string]bool, len(in.CustomerIDs))
		for _, id := range in.CustomerIDs {
			targets[id] = true
		}
	}

	sentTo := make([]string, 0, len(customers))
	for _, customer := range customers {
		if targets != nil && !targets[customer.ID] {
			continue
		}
		if err := s.broadcastToCustomer(ctx, customer, in); err != nil {
			s.logger.Warn("broadcast delivery failed", "customer_id", customer.ID, "error", err)
			continue
		}
		sentTo = append(sentTo, customer.ID)
	}
	s.logger.Info("broadcast delivered", "customers", len(sentTo))
	return sentTo, nil
}

func (s *Service) broadcastToCustomer(ctx context.Context, customer *store.Customer, in BroadcastInput) error {
	release := s.locks.acquire(customer.Phone)
	defer release()

	conv, err := s.resolveConversation(ctx, customer.ID)
	if err != nil {
		return err
	}

	var externalID string
	if in.MediaURL != "" {
		externalID, err = s.sender.SendMedia(ctx, customer.Phone, in.MediaURL, in.MediaKind, in.Content)
	} else {
		externalID, err = s.sender.SendText(ctx, customer.Phone, in.Content)
	}
	if err != nil {
		return err
	}

	var media *provider.Media
	if in.MediaURL != "" {
		media = &provider.Media{URL: in.MediaURL, Kind: in.MediaKind}
	}
	msg := s.newMessage(conv.ID, store.SenderBot, in.Content, media)
	if externalID != "" {
		msg.ExternalID = &externalID
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		// Delivered but not recorded; the customer still got the message.
		s.logger.Error("broadcast sent but not recorded", "conversation_id", conv.ID, "error", err)
		return nil
	}
	if err := s.store.TouchConversation(ctx, conv.ID, s.now().UTC()); err != nil {
		s.logger.Warn("failed to touch conversation", "conversation_id", conv.ID, "error", err)
	}
	s.hub.Broadcast(hub.NewMessageEvent(msg))
	return nil
}

// newMessage builds a message row with fresh id and timestamp.
func (s *Service) newMessage(conversationID string, sender store.SenderType, body string, media *provider.Media) *store.Message {
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Sender:         sender,
		Timestamp:      s.now().UTC(),
	}
	if body != "" {
		msg.Content = &body
	}
	if media != nil {
		msg.MediaURL = &media.URL
		msg.MediaType = &media.Kind
	}
	return msg
}
