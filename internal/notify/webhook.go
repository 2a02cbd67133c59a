package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookSink posts observer events as JSON to an HTTP endpoint, e.g. a push
// provider or an ops tool.
type WebhookSink struct {
	Endpoint string
	Token    string
	Client   *http.Client
}

func NewWebhookSink(endpoint, token string) *WebhookSink {
	return &WebhookSink{Endpoint: endpoint, Token: token, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (w *WebhookSink) Name() string { return "webhook" }

func (w *WebhookSink) Publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}
	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: status %d", w.Endpoint, resp.StatusCode)
	}
	return nil
}
