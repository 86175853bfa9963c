// ABOUTME: Tests for Z-API webhook normalization and outbound delivery
// ABOUTME: Covers the payload shape variants Z-API has shipped over time

package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZAPINormalize_ReceivedMessage(t *testing.T) {
	z := NewZAPI("inst", "tok", "", nil)

	payload := `{
		"type": "ReceivedMessage",
		"messageId": "3EB0C431C26A1916E07E",
		"phone": "5511999990000",
		"senderName": "Maria",
		"text": {"message": "Oi, tudo bem?"}
	}`

	ev, ok := z.Normalize([]byte(payload))
	require.True(t, ok)
	assert.Equal(t, "3EB0C431C26A1916E07E", ev.ExternalID)
	assert.Equal(t, "5511999990000@c.us", ev.RemoteID)
	assert.Equal(t, "Maria", ev.SenderName)
	assert.Equal(t, "Oi, tudo bem?", ev.Body)
	assert.False(t, ev.FromOperator)
	assert.Nil(t, ev.Media)
}

func TestZAPINormalize_TextVariants(t *testing.T) {
	z := NewZAPI("inst", "tok", "", nil)

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"nested text object", `{"type":"ReceivedMessage","phone":"551199","text":{"message":"a"}}`, "a"},
		{"plain text string", `{"type":"ReceivedMessage","phone":"551199","text":"b"}`, "b"},
		{"message object with text", `{"type":"ReceivedMessage","phone":"551199","message":{"text":"c"}}`, "c"},
		{"message object with message", `{"type":"ReceivedMessage","phone":"551199","message":{"message":"d"}}`, "d"},
		{"message string", `{"type":"ReceivedMessage","phone":"551199","message":"e"}`, "e"},
		{"caption fallback", `{"type":"ReceivedMessage","phone":"551199","caption":"f"}`, "f"},
		{"no text at all", `{"type":"ReceivedMessage","phone":"551199"}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := z.Normalize([]byte(tt.payload))
			require.True(t, ok)
			assert.Equal(t, tt.want, ev.Body)
		})
	}
}

func TestZAPINormalize_IgnoredEvents(t *testing.T) {
	z := NewZAPI("inst", "tok", "", nil)

	tests := []struct {
		name    string
		payload string
	}{
		{"disconnected", `{"type":"Disconnected"}`},
		{"connected", `{"type":"Connected"}`},
		{"message status", `{"type":"MessageStatus","messageId":"x"}`},
		{"unknown type", `{"type":"PresenceChat","phone":"551199"}`},
		{"group flag", `{"type":"ReceivedMessage","phone":"551199","isGroup":true,"text":"hi"}`},
		{"group jid", `{"type":"ReceivedMessage","phone":"1203631@g.us","text":"hi"}`},
		{"empty payload", `{}`},
		{"not json", `not json at all`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := z.Normalize([]byte(tt.payload))
			assert.False(t, ok)
		})
	}
}

func TestZAPINormalize_InferredMessageType(t *testing.T) {
	z := NewZAPI("inst", "tok", "", nil)

	// Some Z-API versions deliver message webhooks with no type field.
	ev, ok := z.Normalize([]byte(`{"phone":"5511888880000","messageId":"m1","text":{"message":"oi"}}`))
	require.True(t, ok)
	assert.Equal(t, "oi", ev.Body)
	assert.Equal(t, "5511888880000@c.us", ev.RemoteID)
}

func TestZAPINormalize_EventFieldSpellings(t *testing.T) {
	z := NewZAPI("inst", "tok", "", nil)

	for _, payload := range []string{
		`{"event":"on-message-received","phone":"551199","text":"hi"}`,
		`{"action":"message-received","phone":"551199","text":"hi"}`,
		`{"type":"ReceivedCallback","phone":"551199","text":"hi"}`,
	} {
		_, ok := z.Normalize([]byte(payload))
		assert.True(t, ok, "payload: %s", payload)
	}
}

func TestZAPINormalize_OperatorEcho(t *testing.T) {
	z := NewZAPI("inst", "tok", "", nil)

	ev, ok := z.Normalize([]byte(`{"type":"ReceivedMessage","phone":"551199","fromMe":true,"text":"reply"}`))
	require.True(t, ok)
	assert.True(t, ev.FromOperator)

	ev, ok = z.Normalize([]byte(`{"type":"SendMessage","phone":"551199","text":"reply"}`))
	require.True(t, ok)
	assert.True(t, ev.FromOperator)
}

func TestZAPINormalize_Media(t *testing.T) {
	z := NewZAPI("inst", "tok", "", nil)

	ev, ok := z.Normalize([]byte(`{
		"type": "ReceivedMessage",
		"phone": "551199",
		"image": {"url": "https://cdn.example/img.jpg"},
		"caption": "comprovante"
	}`))
	require.True(t, ok)
	require.NotNil(t, ev.Media)
	assert.Equal(t, MediaImage, ev.Media.Kind)
	assert.Equal(t, "https://cdn.example/img.jpg", ev.Media.URL)
	assert.Equal(t, "comprovante", ev.Body)

	ev, ok = z.Normalize([]byte(`{
		"type": "ReceivedMessage",
		"phone": "551199",
		"document": {"url": "https://cdn.example/nota.pdf"}
	}`))
	require.True(t, ok)
	require.NotNil(t, ev.Media)
	assert.Equal(t, MediaDocument, ev.Media.Kind)
}

func TestZAPISendText(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	var gotToken string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("Client-Token")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{"messageId": "sent-123"})
	}))
	defer srv.Close()

	z := NewZAPI("inst", "tok", "secret", nil)
	z.baseURL = srv.URL

	id, err := z.SendText(context.Background(), "+55 (11) 99999-0000", "Olá!")
	require.NoError(t, err)
	assert.Equal(t, "sent-123", id)
	assert.Equal(t, "/send-text", gotPath)
	assert.Equal(t, "secret", gotToken)
	assert.Equal(t, "5511999990000", gotBody["phone"])
	assert.Equal(t, "Olá!", gotBody["message"])
}

func TestZAPISendMedia(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{"messageId": "sent-456"})
	}))
	defer srv.Close()

	z := NewZAPI("inst", "tok", "", nil)
	z.baseURL = srv.URL

	id, err := z.SendMedia(context.Background(), "5511999990000", "https://cdn/img.png", MediaImage, "veja")
	require.NoError(t, err)
	assert.Equal(t, "sent-456", id)
	assert.Equal(t, "/send-image", gotPath)
	assert.Equal(t, "https://cdn/img.png", gotBody["image"])
	assert.Equal(t, "veja", gotBody["caption"])
}

func TestZAPISendText_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	z := NewZAPI("inst", "tok", "", nil)
	z.baseURL = srv.URL

	_, err := z.SendText(context.Background(), "551199", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestCleanPhone(t *testing.T) {
	assert.Equal(t, "5511999990000", CleanPhone("+55 (11) 99999-0000"))
	assert.Equal(t, "5511999990000", CleanPhone("5511999990000"))
	assert.Equal(t, "", CleanPhone("abc"))
}

func TestPhoneFromRemoteID(t *testing.T) {
	assert.Equal(t, "5511999990000", PhoneFromRemoteID("5511999990000@c.us"))
	assert.Equal(t, "5511999990000", PhoneFromRemoteID("5511999990000@s.whatsapp.net"))
	assert.Equal(t, "5511999990000", PhoneFromRemoteID("5511999990000"))
}
