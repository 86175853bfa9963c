// ABOUTME: Canonical inbound event model and the Adapter/Sender contracts
// ABOUTME: One Adapter per messaging provider maps webhook payloads into InboundEvent

package provider

import (
	"context"
	"strings"
)

// Media kinds recognized by the pipeline.
const (
	MediaImage    = "image"
	MediaDocument = "document"
)

// Media is a reference to a file attached to a message.
type Media struct {
	URL  string
	Kind string // "image" or "document"
}

// InboundEvent is the normalized shape every adapter produces. It is
// transient: the pipeline turns it into a persisted Message.
type InboundEvent struct {
	// ExternalID is the provider-assigned message id, used as the dedup
	// key. Empty when the provider omits one.
	ExternalID string

	// RemoteID identifies the remote party on the provider's network,
	// e.g. "5511999990000@c.us". The customer phone derives from it.
	RemoteID string

	// SenderName is the display name attached to the message, if any.
	SenderName string

	// Body is the extracted text content, possibly empty for media-only
	// messages.
	Body string

	// Media is set when the message carries an image or document.
	Media *Media

	// FromOperator is true when the business sent this message from its
	// own number and the provider echoed it back on the webhook.
	FromOperator bool
}

// Adapter normalizes one provider's webhook payload shape.
//
// Normalize returns (event, true) for a message worth ingesting, and
// (nil, false) for everything else: status/connection callbacks, group
// messages, and payloads too malformed to interpret. Adapters never
// return errors and never panic; an unrecognized shape is an ignore,
// not a failure, because providers retry aggressively on errors.
type Adapter interface {
	Name() string
	Normalize(payload []byte) (*InboundEvent, bool)
}

// Sender delivers outbound messages through a provider API. Both calls
// return the provider-assigned message id on success.
type Sender interface {
	SendText(ctx context.Context, phone, text string) (string, error)
	SendMedia(ctx context.Context, phone, mediaURL, mediaKind, caption string) (string, error)
}

// PhoneFromRemoteID derives the digits-only phone number from a remote
// identifier by stripping the provider suffix ("@c.us", "@s.whatsapp.net").
func PhoneFromRemoteID(remoteID string) string {
	jid, _, _ := strings.Cut(remoteID, "@")
	return CleanPhone(jid)
}

// CleanPhone strips every non-digit character. This is the canonical phone
// format passed to delivery gateways and stored on the Customer.
func CleanPhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
