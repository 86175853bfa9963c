// ABOUTME: HTTP handler tests for webhooks, the conversation API, and observers
// ABOUTME: Runs against a fully wired Gateway with an in-memory store

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/omni-gateway/internal/chatbot"
	"github.com/2389/omni-gateway/internal/dedupe"
	"github.com/2389/omni-gateway/internal/hub"
	"github.com/2389/omni-gateway/internal/ingest"
	"github.com/2389/omni-gateway/internal/metrics"
	"github.com/2389/omni-gateway/internal/provider"
	"github.com/2389/omni-gateway/internal/store"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	calls int
}

func (f *fakeSender) SendText(ctx context.Context, phone, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sent = append(f.sent, text)
	return fmt.Sprintf("OUT-%d", f.calls), nil
}

func (f *fakeSender) SendMedia(ctx context.Context, phone, mediaURL, mediaKind, caption string) (string, error) {
	return f.SendText(ctx, phone, mediaURL)
}

func newTestGateway(t *testing.T) (*Gateway, *fakeSender) {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	guard := dedupe.NewGuard(dedupe.NewCache(time.Minute, 1000), s)
	eventHub := hub.New(logger)
	sender := &fakeSender{}

	svc := ingest.New(s, guard, eventHub, logger,
		ingest.WithSender(sender),
		ingest.WithGreeter(chatbot.NewStatic("Sofia", "3A Frios")))

	gw := &Gateway{
		store:    s,
		guard:    guard,
		hub:      eventHub,
		ingest:   svc,
		metrics:  metrics.New(s),
		adapters: map[string]provider.Adapter{"zapi": provider.NewZAPI("inst", "tok", "ctok", logger)},
		logger:   logger,
		serverID: generateServerID(),
	}
	t.Cleanup(func() {
		eventHub.Close()
		guard.Close()
		s.Close()
	})
	return gw, sender
}

func doRequest(t *testing.T, gw *Gateway, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	gw.routes().ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

const customerPayload = `{
	"messageId": "M-1",
	"phone": "5511999990000",
	"fromMe": false,
	"senderName": "Maria",
	"text": {"message": "Oi"}
}`

func TestWebhook_CustomerMessage(t *testing.T) {
	gw, sender := newTestGateway(t)

	rec := doRequest(t, gw, http.MethodPost, "/webhook/zapi", customerPayload)
	require.Equal(t, http.StatusOK, rec.Code)

	var result ingest.Result
	decodeInto(t, rec, &result)
	assert.Equal(t, ingest.StatusSuccess, result.Status)
	assert.NotEmpty(t, result.MessageID)
	assert.NotEmpty(t, result.ConversationID)

	// First contact triggers the greeting.
	assert.Equal(t, 1, sender.calls)

	rec = doRequest(t, gw, http.MethodGet, "/api/conversations/"+result.ConversationID+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var messages []MessageResponse
	decodeInto(t, rec, &messages)
	require.Len(t, messages, 2)
	assert.Equal(t, string(store.SenderCustomer), messages[0].SenderType)
	assert.Equal(t, "Oi", *messages[0].Content)
	assert.Equal(t, string(store.SenderBot), messages[1].SenderType)
}

func TestWebhook_UnknownProvider(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doRequest(t, gw, http.MethodPost, "/webhook/telegram", customerPayload)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhook_IgnoredEvent(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doRequest(t, gw, http.MethodPost, "/webhook/zapi", `{"type":"MessageStatus","status":"READ"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result ingest.Result
	decodeInto(t, rec, &result)
	assert.Equal(t, ingest.StatusIgnored, result.Status)
}

func TestWebhook_DuplicateDelivery(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doRequest(t, gw, http.MethodPost, "/webhook/zapi", customerPayload)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, gw, http.MethodPost, "/webhook/zapi", customerPayload)
	require.Equal(t, http.StatusOK, rec.Code)

	var result ingest.Result
	decodeInto(t, rec, &result)
	assert.Equal(t, ingest.StatusAlreadyProcessed, result.Status)

	var conversations []ConversationResponse
	rec = doRequest(t, gw, http.MethodGet, "/api/conversations", "")
	decodeInto(t, rec, &conversations)
	assert.Len(t, conversations, 1)
}

func TestWebhookPing(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doRequest(t, gw, http.MethodGet, "/webhook/zapi", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, gw, http.MethodGet, "/webhook/telegram", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListConversations(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doRequest(t, gw, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var conversations []ConversationResponse
	decodeInto(t, rec, &conversations)
	assert.Empty(t, conversations)

	doRequest(t, gw, http.MethodPost, "/webhook/zapi", customerPayload)

	rec = doRequest(t, gw, http.MethodGet, "/api/conversations", "")
	decodeInto(t, rec, &conversations)
	require.Len(t, conversations, 1)
	assert.Equal(t, "Maria", conversations[0].CustomerName)
	assert.Equal(t, "5511999990000", conversations[0].CustomerPhone)
	assert.Equal(t, string(store.StatusOpen), conversations[0].Status)
}

func TestListMessages_NotFound(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doRequest(t, gw, http.MethodGet, "/api/conversations/nope/messages", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessage(t *testing.T) {
	gw, sender := newTestGateway(t)

	rec := doRequest(t, gw, http.MethodPost, "/webhook/zapi", customerPayload)
	var result ingest.Result
	decodeInto(t, rec, &result)

	rec = doRequest(t, gw, http.MethodPost, "/api/conversations/"+result.ConversationID+"/messages", `{"content":"Chegou seu pedido"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var msg MessageResponse
	decodeInto(t, rec, &msg)
	assert.Equal(t, string(store.SenderAgent), msg.SenderType)
	assert.Equal(t, "Chegou seu pedido", *msg.Content)
	assert.Contains(t, sender.sent, "Chegou seu pedido")
}

func TestSendMessage_Validation(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doRequest(t, gw, http.MethodPost, "/api/conversations/c-1/messages", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, gw, http.MethodPost, "/api/conversations/c-1/messages", `{"content":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, gw, http.MethodPost, "/api/conversations/c-1/messages", `{"content":"oi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessage_ClosedConversation(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doRequest(t, gw, http.MethodPost, "/webhook/zapi", customerPayload)
	var result ingest.Result
	decodeInto(t, rec, &result)

	rec = doRequest(t, gw, http.MethodPost, "/api/conversations/"+result.ConversationID+"/close", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, gw, http.MethodPost, "/api/conversations/"+result.ConversationID+"/messages", `{"content":"oi"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCloseConversation(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doRequest(t, gw, http.MethodPost, "/webhook/zapi", customerPayload)
	var result ingest.Result
	decodeInto(t, rec, &result)

	rec = doRequest(t, gw, http.MethodPost, "/api/conversations/"+result.ConversationID+"/close", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Closing is terminal.
	rec = doRequest(t, gw, http.MethodPost, "/api/conversations/"+result.ConversationID+"/close", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, gw, http.MethodPost, "/api/conversations/unknown/close", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBroadcast(t *testing.T) {
	gw, sender := newTestGateway(t)

	doRequest(t, gw, http.MethodPost, "/webhook/zapi", customerPayload)
	doRequest(t, gw, http.MethodPost, "/webhook/zapi", `{
		"messageId": "M-2",
		"phone": "5511888880000",
		"fromMe": false,
		"senderName": "João",
		"text": {"message": "Bom dia"}
	}`)

	rec := doRequest(t, gw, http.MethodPost, "/api/conversations/broadcast", `{"content":"Encarte da semana!"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		SentTo []string `json:"sent_to"`
	}
	decodeInto(t, rec, &resp)
	assert.Len(t, resp.SentTo, 2)

	// Two greetings plus two broadcast deliveries.
	assert.Equal(t, 4, sender.calls)
	assert.Contains(t, sender.sent, "Encarte da semana!")

	var conversations []ConversationResponse
	rec = doRequest(t, gw, http.MethodGet, "/api/conversations", "")
	decodeInto(t, rec, &conversations)
	require.Len(t, conversations, 2)
	for _, conv := range conversations {
		var messages []MessageResponse
		rec = doRequest(t, gw, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", "")
		decodeInto(t, rec, &messages)
		last := messages[len(messages)-1]
		assert.Equal(t, string(store.SenderBot), last.SenderType)
		assert.Equal(t, "Encarte da semana!", *last.Content)
	}
}

func TestBroadcast_Validation(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doRequest(t, gw, http.MethodPost, "/api/conversations/broadcast", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, gw, http.MethodPost, "/api/conversations/broadcast", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, gw, http.MethodPost, "/api/conversations/broadcast",
		`{"media_url":"https://cdn/x.bin","media_type":"video"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetrics(t *testing.T) {
	gw, _ := newTestGateway(t)

	doRequest(t, gw, http.MethodPost, "/webhook/zapi", customerPayload)

	rec := doRequest(t, gw, http.MethodGet, "/api/conversations/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report metrics.Report
	decodeInto(t, rec, &report)
	assert.Equal(t, 1, report.TotalConversations)
	assert.Equal(t, 1, report.OpenConversations)
	assert.Equal(t, 1, report.RespondedConversations)
}

func TestHealth(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doRequest(t, gw, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, gw, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestObserverStream(t *testing.T) {
	gw, _ := newTestGateway(t)

	srv := httptest.NewServer(gw.routes())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Wait for the observer to register before ingesting.
	require.Eventually(t, func() bool {
		return gw.hub.ObserverCount() > 0
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/webhook/zapi", "application/json", strings.NewReader(customerPayload))
	require.NoError(t, err)
	resp.Body.Close()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var event hub.MessageEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, "message", event.Type)
	assert.Equal(t, string(store.SenderCustomer), event.SenderType)
	assert.Equal(t, "Oi", *event.Content)
}
