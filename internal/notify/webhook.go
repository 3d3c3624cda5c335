package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pricelens/pricelens/internal/model"
)

// Webhook posts the change as JSON to a configured URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook builds the webhook channel. A nil client gets a 10s-timeout
// default.
func NewWebhook(url string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{url: url, client: client}
}

func (w *Webhook) Name() string { return "webhook" }

// webhookPayload wraps the change with a type tag so receivers can route it.
type webhookPayload struct {
	Type      string            `json:"type"`
	Severity  string            `json:"severity"`
	Message   string            `json:"message"`
	Change    model.PriceChange `json:"change"`
	Timestamp time.Time         `json:"timestamp"`
}

// Send posts the change. Any 4xx/5xx response is an error.
func (w *Webhook) Send(ctx context.Context, change model.PriceChange) error {
	payload, err := json.Marshal(webhookPayload{
		Type:      "price_change",
		Severity:  string(change.Severity),
		Message:   renderSubject(change),
		Change:    change,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return eris.Wrap(err, "notify: marshal webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
