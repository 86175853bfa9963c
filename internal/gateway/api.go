// ABOUTME: HTTP handlers for provider webhooks and the conversation API
// ABOUTME: Webhooks always acknowledge 200 so providers never retry

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/omni-gateway/internal/hub"
	"github.com/2389/omni-gateway/internal/ingest"
	"github.com/2389/omni-gateway/internal/provider"
	"github.com/2389/omni-gateway/internal/store"
)

// maxWebhookBody caps how much of a webhook payload is read.
const maxWebhookBody = 1 << 20

// ConversationResponse is the JSON shape for conversation listings.
type ConversationResponse struct {
	ID            string  `json:"id"`
	CustomerID    string  `json:"customer_id"`
	CustomerName  string  `json:"customer_name,omitempty"`
	CustomerPhone string  `json:"customer_phone,omitempty"`
	OrderID       *string `json:"order_id,omitempty"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// MessageResponse is the JSON shape for message history.
type MessageResponse struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	Content        *string `json:"content,omitempty"`
	MediaURL       *string `json:"media_url,omitempty"`
	MediaType      *string `json:"media_type,omitempty"`
	SenderType     string  `json:"sender_type"`
	Timestamp      string  `json:"timestamp"`
}

// SendMessageRequest is the JSON request body for agent sends.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// BroadcastRequest is the JSON request body for bulk sends. An empty
// CustomerIDs list targets every customer.
type BroadcastRequest struct {
	Content     string   `json:"content"`
	MediaURL    string   `json:"media_url,omitempty"`
	MediaType   string   `json:"media_type,omitempty"`
	CustomerIDs []string `json:"customer_ids,omitempty"`
}

func messageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Content:        m.Content,
		MediaURL:       m.MediaURL,
		MediaType:      m.MediaType,
		SenderType:     string(m.Sender),
		Timestamp:      m.Timestamp.Format(time.RFC3339),
	}
}

// handleWebhook handles POST /webhook/{provider}. The response is always
// 200: providers retry aggressively on errors, and a failed event is either
// recoverable on the next delivery or not worth a retry storm.
func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("provider")
	adapter, ok := g.adapters[name]
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "unknown provider")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		g.logger.Warn("failed to read webhook body", "provider", name, "error", err)
		g.writeJSON(w, http.StatusOK, ingest.Result{Status: ingest.StatusIgnored})
		return
	}

	ev, ok := adapter.Normalize(payload)
	if !ok {
		g.writeJSON(w, http.StatusOK, ingest.Result{Status: ingest.StatusIgnored})
		return
	}

	result, err := g.ingest.Process(r.Context(), name, ev)
	if err != nil {
		g.logger.Error("webhook processing failed", "provider", name, "external_id", ev.ExternalID, "error", err)
		g.writeJSON(w, http.StatusOK, ingest.Result{Status: "error"})
		return
	}
	g.writeJSON(w, http.StatusOK, result)
}

// handleWebhookPing handles GET /webhook/{provider}, the configuration
// check some provider dashboards issue.
func (g *Gateway) handleWebhookPing(w http.ResponseWriter, r *http.Request) {
	if _, ok := g.adapters[r.PathValue("provider")]; !ok {
		g.sendJSONError(w, http.StatusNotFound, "unknown provider")
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleObserver upgrades GET /ws to a WebSocket and streams message events
// until the client disconnects.
func (g *Gateway) handleObserver(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.logger.Debug("websocket accept failed", "error", err)
		return
	}

	// Observers never send frames; CloseRead watches for disconnect and
	// cancels the context.
	ctx := conn.CloseRead(r.Context())
	g.hub.Attach(ctx, hub.NewWSConn(conn))
}

// handleListConversations handles GET /api/conversations with optional
// limit/offset query parameters.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	conversations, err := g.store.ListConversations(r.Context(), limit, offset)
	if err != nil {
		g.logger.Error("failed to list conversations", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	response := make([]ConversationResponse, 0, len(conversations))
	for _, conv := range conversations {
		item := ConversationResponse{
			ID:         conv.ID,
			CustomerID: conv.CustomerID,
			OrderID:    conv.OrderID,
			Status:     string(conv.Status),
			CreatedAt:  conv.CreatedAt.Format(time.RFC3339),
			UpdatedAt:  conv.UpdatedAt.Format(time.RFC3339),
		}
		if customer, err := g.store.GetCustomer(r.Context(), conv.CustomerID); err == nil {
			item.CustomerName = customer.Name
			item.CustomerPhone = customer.Phone
		}
		response = append(response, item)
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handleListMessages handles GET /api/conversations/{id}/messages.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := g.store.GetConversation(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		g.logger.Error("failed to load conversation", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	messages, err := g.store.ListMessages(r.Context(), id)
	if err != nil {
		g.logger.Error("failed to list messages", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	response := make([]MessageResponse, 0, len(messages))
	for _, m := range messages {
		response = append(response, messageResponse(m))
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handleSendMessage handles POST /api/conversations/{id}/messages: an agent
// replying from the dashboard.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		g.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}

	msg, err := g.ingest.SendAgentMessage(r.Context(), r.PathValue("id"), req.Content)
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, store.ErrConversationClosed):
		g.sendJSONError(w, http.StatusConflict, "conversation is closed")
	case err != nil && msg != nil:
		// Recorded but not delivered.
		g.writeJSON(w, http.StatusBadGateway, messageResponse(msg))
	case err != nil:
		g.logger.Error("failed to send agent message", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to send message")
	default:
		g.writeJSON(w, http.StatusCreated, messageResponse(msg))
	}
}

// handleBroadcast handles POST /api/conversations/broadcast: a flyer-style
// bulk send delivered to many customers at once and recorded as a bot
// message in each conversation.
func (g *Gateway) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Content == "" && req.MediaURL == "" {
		g.sendJSONError(w, http.StatusBadRequest, "content or media_url is required")
		return
	}
	if req.MediaURL != "" && req.MediaType != provider.MediaImage && req.MediaType != provider.MediaDocument {
		g.sendJSONError(w, http.StatusBadRequest, "media_type must be image or document")
		return
	}

	sentTo, err := g.ingest.BroadcastToCustomers(r.Context(), ingest.BroadcastInput{
		Content:     req.Content,
		MediaURL:    req.MediaURL,
		MediaKind:   req.MediaType,
		CustomerIDs: req.CustomerIDs,
	})
	switch {
	case errors.Is(err, ingest.ErrNoSender):
		g.sendJSONError(w, http.StatusServiceUnavailable, "no outbound provider configured")
	case err != nil:
		g.logger.Error("broadcast failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "broadcast failed")
	default:
		g.writeJSON(w, http.StatusOK, map[string]any{"sent_to": sentTo})
	}
}

// handleCloseConversation handles POST /api/conversations/{id}/close.
// Closing is terminal; closing again returns 404.
func (g *Gateway) handleCloseConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := g.store.CloseConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "no open conversation with that id")
		return
	}
	if err != nil {
		g.logger.Error("failed to close conversation", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to close conversation")
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(store.StatusClosed)})
}

// handleMetrics handles GET /api/conversations/metrics.
func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	report, err := g.metrics.Report(r.Context())
	if err != nil {
		g.logger.Error("failed to compute metrics", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to compute metrics")
		return
	}
	g.writeJSON(w, http.StatusOK, report)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
