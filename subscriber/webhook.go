package subscriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Webhook posts the event envelope to an external collaborator endpoint
// (data-cleaning pipeline, decision engine, insight engine). Any non-2xx
// response is an error so the outbox dispatcher retries.
type Webhook struct {
	name   string
	url    string
	client *http.Client
}

// NewWebhook builds a webhook handler with a bounded per-request timeout.
func NewWebhook(name, url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (w *Webhook) Name() string { return w.name }

// Handle delivers the envelope. The correlation id rides both in the body and
// in the X-Correlation-ID header so collaborator logs line up with ours.
func (w *Webhook) Handle(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("subscriber: marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("subscriber: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", ev.CorrelationID)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("subscriber: %s: deliver: %w", w.name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("subscriber: %s: collaborator returned %d", w.name, resp.StatusCode)
	}
	return nil
}
