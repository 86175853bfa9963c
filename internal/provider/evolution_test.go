// ABOUTME: Tests for Evolution API webhook normalization and outbound delivery
// ABOUTME: Covers messages.upsert extraction and non-message event filtering

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

func TestEvolutionNormalize_Conversation(t *testing.T) {
	e := NewEvolution("https://evo.example", "main", "key", nil)

	payload := `{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "5511999990000@s.whatsapp.net", "fromMe": false, "id": "BAE5F4A0"},
			"pushName": "João",
			"message": {"conversation": "Quero fazer um pedido"}
		}
	}`

	ev, ok := e.Normalize([]byte(payload))
	require.True(t, ok)
	assert.Equal(t, "BAE5F4A0", ev.ExternalID)
	assert.Equal(t, "5511999990000@s.whatsapp.net", ev.RemoteID)
	assert.Equal(t, "João", ev.SenderName)
	assert.Equal(t, "Quero fazer um pedido", ev.Body)
	assert.False(t, ev.FromOperator)
}

func TestEvolutionNormalize_ExtendedText(t *testing.T) {
	e := NewEvolution("https://evo.example", "main", "key", nil)

	payload := `{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "551188@s.whatsapp.net", "id": "X1"},
			"message": {"extendedTextMessage": {"text": "com link https://x"}}
		}
	}`

	ev, ok := e.Normalize([]byte(payload))
	require.True(t, ok)
	assert.Equal(t, "com link https://x", ev.Body)
}

func TestEvolutionNormalize_Media(t *testing.T) {
	e := NewEvolution("https://evo.example", "main", "key", nil)

	ev, ok := e.Normalize([]byte(`{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "551188@s.whatsapp.net", "id": "I1"},
			"message": {"imageMessage": {"url": "https://mmg/img.enc", "caption": "foto"}}
		}
	}`))
	require.True(t, ok)
	require.NotNil(t, ev.Media)
	assert.Equal(t, MediaImage, ev.Media.Kind)
	assert.Equal(t, "https://mmg/img.enc", ev.Media.URL)
	assert.Equal(t, "foto", ev.Body)

	ev, ok = e.Normalize([]byte(`{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "551188@s.whatsapp.net", "id": "D1"},
			"message": {"documentMessage": {"url": "https://mmg/doc.enc"}}
		}
	}`))
	require.True(t, ok)
	require.NotNil(t, ev.Media)
	assert.Equal(t, MediaDocument, ev.Media.Kind)
	assert.Equal(t, "", ev.Body)
}

func TestEvolutionNormalize_OperatorEcho(t *testing.T) {
	e := NewEvolution("https://evo.example", "main", "key", nil)

	ev, ok := e.Normalize([]byte(`{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "551188@s.whatsapp.net", "fromMe": true, "id": "OUT1"},
			"message": {"conversation": "Já estamos preparando"}
		}
	}`))
	require.True(t, ok)
	assert.True(t, ev.FromOperator)
}

func TestEvolutionNormalize_Ignored(t *testing.T) {
	e := NewEvolution("https://evo.example", "main", "key", nil)

	tests := []struct {
		name    string
		payload string
	}{
		{"connection update", `{"event":"connection.update","data":{}}`},
		{"presence", `{"event":"presence.update","data":{}}`},
		{"group message", `{"event":"messages.upsert","data":{"key":{"remoteJid":"12036@g.us","id":"G1"},"message":{"conversation":"oi"}}}`},
		{"missing remote jid", `{"event":"messages.upsert","data":{"key":{"id":"N1"}}}`},
		{"not json", `garbage`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := e.Normalize([]byte(tt.payload))
			assert.False(t, ok)
		})
	}
}

func TestEvolutionSendText(t *testing.T) {
	var gotPath string
	var gotKey string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("apikey")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"key": map[string]string{"id": "EVO-1"}})
	}))
	defer srv.Close()

	e := NewEvolution(srv.URL, "main", "sekrit", nil)

	id, err := e.SendText(context.Background(), "+55 11 99999-0000", "Bom dia!")
	require.NoError(t, err)
	assert.Equal(t, "EVO-1", id)
	assert.Equal(t, "/message/sendText/main", gotPath)
	assert.Equal(t, "sekrit", gotKey)
	assert.Equal(t, "5511999990000", gotBody["number"])
	assert.Equal(t, "Bom dia!", gotBody["text"])
}

func TestEvolutionSendMedia(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"key": map[string]string{"id": "EVO-2"}})
	}))
	defer srv.Close()

	e := NewEvolution(srv.URL, "main", "k", nil)

	id, err := e.SendMedia(context.Background(), "551199", "https://cdn/cardapio.pdf", MediaDocument, "")
	require.NoError(t, err)
	assert.Equal(t, "EVO-2", id)
	assert.Equal(t, "/message/sendMedia/main", gotPath)
	assert.Equal(t, "document", gotBody["mediatype"])
	assert.Equal(t, "https://cdn/cardapio.pdf", gotBody["media"])
	_, hasCaption := gotBody["caption"]
	assert.False(t, hasCaption)
}

func TestEvolutionSend_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "instance not connected", http.StatusBadRequest)
	}))
	defer srv.Close()

	e := NewEvolution(srv.URL, "main", "k", nil)

	_, err := e.SendText(context.Background(), "551199", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
