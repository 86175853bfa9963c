// ABOUTME: Evolution API provider integration: webhook normalization and sends
// ABOUTME: Evolution nests message content under data.key / data.message

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

// Evolution talks to one Evolution API instance.
type Evolution struct {
	baseURL    string
	instance   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewEvolution creates an Evolution provider for the given instance.
func NewEvolution(baseURL, instance, apiKey string, logger *slog.Logger) *Evolution {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evolution{
		baseURL:    strings.TrimRight(baseURL, "/"),
		instance:   instance,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With("component", "evolution"),
	}
}

// Name identifies this provider in logs and stored events.
func (e *Evolution) Name() string { return "evolution" }

// evolutionWebhook is the subset of the Evolution webhook envelope the
// pipeline cares about. Everything else is ignored.
type evolutionWebhook struct {
	Event string `json:"event"`
	Data  struct {
		Key struct {
			RemoteJID string `json:"remoteJid"`
			FromMe    bool   `json:"fromMe"`
			ID        string `json:"id"`
		} `json:"key"`
		PushName string `json:"pushName"`
		Message  struct {
			Conversation        string `json:"conversation"`
			ExtendedTextMessage struct {
				Text string `json:"text"`
			} `json:"extendedTextMessage"`
			ImageMessage struct {
				URL     string `json:"url"`
				Caption string `json:"caption"`
			} `json:"imageMessage"`
			DocumentMessage struct {
				URL     string `json:"url"`
				Caption string `json:"caption"`
			} `json:"documentMessage"`
		} `json:"message"`
	} `json:"data"`
}

// Normalize maps an Evolution webhook payload into an InboundEvent. Only
// messages.upsert events carry messages; every other event is ignored.
func (e *Evolution) Normalize(payload []byte) (*InboundEvent, bool) {
	var hook evolutionWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		e.logger.Debug("unparseable webhook payload ignored", "error", err)
		return nil, false
	}

	if hook.Event != "messages.upsert" {
		e.logger.Debug("non-message event ignored", "event", hook.Event)
		return nil, false
	}

	remoteJID := hook.Data.Key.RemoteJID
	if remoteJID == "" {
		return nil, false
	}
	if strings.Contains(remoteJID, "@g.us") {
		e.logger.Debug("group message ignored", "remote_jid", remoteJID)
		return nil, false
	}

	ev := &InboundEvent{
		ExternalID:   hook.Data.Key.ID,
		RemoteID:     remoteJID,
		SenderName:   hook.Data.PushName,
		FromOperator: hook.Data.Key.FromMe,
	}

	msg := hook.Data.Message
	switch {
	case msg.Conversation != "":
		ev.Body = msg.Conversation
	case msg.ExtendedTextMessage.Text != "":
		ev.Body = msg.ExtendedTextMessage.Text
	case msg.ImageMessage.URL != "":
		ev.Body = msg.ImageMessage.Caption
	case msg.DocumentMessage.URL != "":
		ev.Body = msg.DocumentMessage.Caption
	}

	if msg.ImageMessage.URL != "" {
		ev.Media = &Media{URL: msg.ImageMessage.URL, Kind: MediaImage}
	} else if msg.DocumentMessage.URL != "" {
		ev.Media = &Media{URL: msg.DocumentMessage.URL, Kind: MediaDocument}
	}

	return ev, true
}

// SendText delivers a text message and returns the Evolution message id.
func (e *Evolution) SendText(ctx context.Context, phone, text string) (string, error) {
	body := map[string]any{
		"number": CleanPhone(phone),
		"text":   text,
	}
	return e.post(ctx, "/message/sendText/"+e.instance, body)
}

// SendMedia delivers an image or document, optionally captioned.
func (e *Evolution) SendMedia(ctx context.Context, phone, mediaURL, mediaKind, caption string) (string, error) {
	body := map[string]any{
		"number":    CleanPhone(phone),
		"mediatype": mediaKind,
		"media":     mediaURL,
	}
	if caption != "" {
		body["caption"] = caption
	}
	return e.post(ctx, "/message/sendMedia/"+e.instance, body)
}

func (e *Evolution) post(ctx context.Context, path string, body map[string]any) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending to evolution: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("evolution %s returned status %d: %s", path, resp.StatusCode, respBody)
	}

	var result struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return result.Key.ID, nil
}
