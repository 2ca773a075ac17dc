package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/alanyoungcy/nftmarket/internal/crypto"
)

// WebhookSender posts the raw event JSON to an HTTP endpoint. When a secret
// is set each request carries an HMAC-SHA256 signature over the timestamp
// and body.
type WebhookSender struct {
	url    string
	secret []byte
	client *http.Client
}

// NewWebhookSender creates a sender for url. secret may be empty.
func NewWebhookSender(url, secret string) *WebhookSender {
	return &WebhookSender{url: url, secret: []byte(secret), client: newHTTPClient()}
}

func (w *WebhookSender) Send(ctx context.Context, msg Message) error {
	if len(msg.Payload) == 0 {
		return errors.New("webhook: empty payload")
	}
	var headers map[string]string
	if len(w.secret) > 0 {
		headers = crypto.WebhookHeaders(w.secret, msg.Payload)
	}
	headers = withEvent(headers, msg.Event)
	if err := postJSON(ctx, w.client, w.url, msg.Payload, headers); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

func withEvent(h map[string]string, event string) map[string]string {
	if h == nil {
		h = make(map[string]string, 1)
	}
	h["X-Nftmarket-Event"] = event
	return h
}

func (w *WebhookSender) Name() string { return "webhook" }
