// Package notify delivers sync results to external systems.
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

// Status of a sync attempt as seen by a notification sink
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Notification is one sync report
type Notification struct {
	Hostname string `json:"hostname"`
	Message  string `json:"message"`
	Status   Status `json:"status"`
}

// Sink receives sync reports. Delivery is best effort; callers log errors
// and carry on.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// Nop discards notifications
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error {
	return nil
}

// Webhook posts notifications as JSON
type Webhook struct {
	url        string
	httpClient *http.Client
}

// NewWebhook creates a webhook sink for url
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Notify sends n to the webhook
func (w *Webhook) Notify(ctx context.Context, n Notification) error {
	if w.url == "" {
		return fmt.Errorf("webhook URL not provided")
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("URL error occurred while sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("failed to send webhook notification, status code %d: %s", resp.StatusCode, string(bodyBytes))
	}

	return nil
}
