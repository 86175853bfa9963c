// ABOUTME: Z-API provider integration: webhook normalization and outbound sends
// ABOUTME: Z-API delivers flat REST-webhook payloads with loosely typed fields

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// zapiIgnoredEvents are informational callbacks that never carry a message.
var zapiIgnoredEvents = map[string]bool{
	"Disconnected":  true,
	"Connected":     true,
	"MessageStatus": true,
}

// zapiMessageEvents are the payload types treated as inbound messages.
// Z-API has shipped several spellings across versions.
var zapiMessageEvents = map[string]bool{
	"ReceivedMessage":     true,
	"SendMessage":         true,
	"ReceivedCallback":    true,
	"on-message-received": true,
	"message-received":    true,
}

// ZAPI talks to one Z-API instance: it normalizes inbound webhooks and
// delivers outbound text/media sends.
type ZAPI struct {
	baseURL     string
	clientToken string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewZAPI creates a Z-API provider for the given instance credentials.
func NewZAPI(instanceID, token, clientToken string, logger *slog.Logger) *ZAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &ZAPI{
		baseURL:     fmt.Sprintf("https://api.z-api.io/instances/%s/token/%s", instanceID, token),
		clientToken: clientToken,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		logger:      logger.With("component", "zapi"),
	}
}

// Name identifies this provider in logs and stored events.
func (z *ZAPI) Name() string { return "zapi" }

// Normalize maps a Z-API webhook payload into an InboundEvent.
// Z-API payloads vary wildly between versions: the event type may live under
// "type", "event" or "action", may be missing entirely, and the text may be
// a string, a nested object, or only a media caption.
func (z *ZAPI) Normalize(payload []byte) (*InboundEvent, bool) {
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		z.logger.Debug("unparseable webhook payload ignored", "error", err)
		return nil, false
	}

	eventType := firstString(data, "type", "event", "action")
	if zapiIgnoredEvents[eventType] {
		z.logger.Debug("informational event ignored", "type", eventType)
		return nil, false
	}

	// Some Z-API versions omit the type on message webhooks. Infer a
	// message when message-shaped fields are present.
	if eventType == "" {
		if _, hasPhone := data["phone"]; !hasPhone {
			if _, hasMessage := data["message"]; !hasMessage {
				return nil, false
			}
		}
		eventType = "ReceivedMessage"
	}

	if !zapiMessageEvents[eventType] {
		z.logger.Debug("unknown event type ignored", "type", eventType)
		return nil, false
	}

	phone := stringField(data, "phone")
	if isGroup, _ := data["isGroup"].(bool); isGroup || strings.Contains(phone, "@g.us") {
		z.logger.Debug("group message ignored", "phone", phone)
		return nil, false
	}

	ev := &InboundEvent{
		ExternalID:   stringField(data, "messageId"),
		RemoteID:     phone + "@c.us",
		SenderName:   firstString(data, "senderName", "pushName"),
		FromOperator: boolField(data, "fromMe") || eventType == "SendMessage",
	}

	// Body precedence: direct text field, nested message object, then
	// the media caption; empty otherwise.
	switch text := data["text"].(type) {
	case map[string]any:
		ev.Body = stringField(text, "message")
	case string:
		ev.Body = text
	default:
		switch msg := data["message"].(type) {
		case map[string]any:
			ev.Body = firstString(msg, "text", "message")
		case string:
			ev.Body = msg
		}
	}
	if ev.Body == "" {
		ev.Body = stringField(data, "caption")
	}

	// Media detection is independent of body extraction.
	if img, ok := data["image"].(map[string]any); ok {
		ev.Media = &Media{URL: stringField(img, "url"), Kind: MediaImage}
	} else if doc, ok := data["document"].(map[string]any); ok {
		ev.Media = &Media{URL: stringField(doc, "url"), Kind: MediaDocument}
	}

	return ev, true
}

// SendText delivers a text message and returns the Z-API message id.
func (z *ZAPI) SendText(ctx context.Context, phone, text string) (string, error) {
	body := map[string]any{
		"phone":   CleanPhone(phone),
		"message": text,
	}
	return z.post(ctx, "/send-text", body)
}

// SendMedia delivers an image or document, optionally captioned.
func (z *ZAPI) SendMedia(ctx context.Context, phone, mediaURL, mediaKind, caption string) (string, error) {
	endpoint := "/send-document"
	payloadKey := "document"
	if mediaKind == MediaImage {
		endpoint = "/send-image"
		payloadKey = "image"
	}

	body := map[string]any{
		"phone":    CleanPhone(phone),
		payloadKey: mediaURL,
	}
	if caption != "" {
		body["caption"] = caption
	}
	return z.post(ctx, endpoint, body)
}

// post issues a JSON POST against the instance base URL and extracts the
// returned messageId.
func (z *ZAPI) post(ctx context.Context, endpoint string, body map[string]any) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.baseURL+endpoint, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if z.clientToken != "" {
		req.Header.Set("Client-Token", z.clientToken)
	}

	resp, err := z.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending to z-api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("z-api %s returned status %d: %s", endpoint, resp.StatusCode, respBody)
	}

	var result struct {
		MessageID string `json:"messageId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return result.MessageID, nil
}

// firstString returns the first non-empty string among the given keys.
func firstString(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := stringField(data, key); s != "" {
			return s
		}
	}
	return ""
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func boolField(data map[string]any, key string) bool {
	b, _ := data[key].(bool)
	return b
}
