// ABOUTME: Auto-reply greeting generation for first customer contact
// ABOUTME: Static template by default, optional LLM-backed generation

package chatbot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/omni-gateway/internal/store"
)

// Greeter produces the one-shot reception message sent when a customer
// first writes in and no bot message exists in the conversation yet.
type Greeter interface {
	Greeting(ctx context.Context, customerName, messageBody string) (string, error)
}

// TimeGreeting returns the salutation for the given local time.
func TimeGreeting(now time.Time) string {
	switch hour := now.Hour(); {
	case hour >= 5 && hour < 12:
		return "Bom dia"
	case hour >= 12 && hour < 18:
		return "Boa tarde"
	default:
		return "Boa noite"
	}
}

// Static produces the reception message from a fixed template. This is the
// default greeter; it needs no external service.
type Static struct {
	botName  string
	business string
	now      func() time.Time
}

// NewStatic creates a template greeter for the given bot and business names.
func NewStatic(botName, business string) *Static {
	return &Static{botName: botName, business: business, now: time.Now}
}

// Greeting renders the reception message. The customer name is included
// only when it is a real name, not the placeholder assigned on first
// contact.
func (s *Static) Greeting(_ context.Context, customerName, _ string) (string, error) {
	greeting := TimeGreeting(s.now())
	namePart := ""
	if customerName != "" && customerName != store.PlaceholderName {
		namePart = ", " + customerName
	}
	return fmt.Sprintf(
		"%s%s! Sou a %s assistente de IA da %s, como posso ajudar você hoje na %s? Enquanto você escolhe, nosso Atendimento vai lhe ajudar, só um momento.",
		greeting, namePart, s.botName, s.business, s.business,
	), nil
}

// Fallback tries a primary greeter and falls back to a backup when it
// fails. Used to keep the greeting flowing when the LLM endpoint is down.
type Fallback struct {
	primary Greeter
	backup  Greeter
	logger  *slog.Logger
}

// NewFallback wraps primary with backup.
func NewFallback(primary, backup Greeter, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{primary: primary, backup: backup, logger: logger.With("component", "chatbot")}
}

// Greeting delegates to the primary greeter, logging and falling back on
// failure.
func (f *Fallback) Greeting(ctx context.Context, customerName, messageBody string) (string, error) {
	text, err := f.primary.Greeting(ctx, customerName, messageBody)
	if err == nil {
		return text, nil
	}
	f.logger.Warn("primary greeter failed, using fallback", "error", err)
	return f.backup.Greeting(ctx, customerName, messageBody)
}
