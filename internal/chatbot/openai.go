// ABOUTME: OpenAI-compatible chat completions client used as a Greeter
// ABOUTME: Works against api.openai.com or any compatible local endpoint

package chatbot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// chatMessage is one entry in a chat completions conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the minimal request shape for the chat completions endpoint.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

// chatResponse is the minimal response shape we read back.
type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Client generates greetings through an OpenAI-compatible chat completions
// API. The model is instructed to produce exactly the reception message, so
// outputs stay on-script while still adapting to the customer's name.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	botName    string
	business   string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates an LLM-backed greeter. baseURL defaults to the OpenAI
// API when empty.
func NewClient(baseURL, apiKey, model, botName, business string) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		botName:    botName,
		business:   business,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		now:        time.Now,
	}
}

// Greeting asks the model for the reception message.
func (c *Client) Greeting(ctx context.Context, customerName, messageBody string) (string, error) {
	static := Static{botName: c.botName, business: c.business, now: c.now}
	script, _ := static.Greeting(ctx, customerName, messageBody)

	system := fmt.Sprintf(
		"Você é a %s, assistente de IA da %s. Sua única função é enviar a mensagem de recepção e nada mais. "+
			"A mensagem que você deve enviar é: '%s'. Não tente conversar. Não responda perguntas. "+
			"Apenas retorne o texto da mensagem de recepção acima.",
		c.botName, c.business, script,
	)

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: messageBody},
		},
	})
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat completions returned status %d: %s", resp.StatusCode, respBody)
	}

	var payload chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("no choices in chat response")
	}

	text := strings.TrimSpace(payload.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty completion")
	}
	return text, nil
}
