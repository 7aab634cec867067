package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"notification-relay/internal/models"
	"notification-relay/pkg/logging"
)

// CorrelationIDHeader carries the inbound request's correlation ID downstream.
const CorrelationIDHeader = "X-Correlation-ID"

type correlationKey struct{}

// WithCorrelationID stores id in ctx for outbound requests.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the ID stored by WithCorrelationID.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Forwarder relays normalized events to the downstream workflow endpoint.
type Forwarder interface {
	Forward(ctx context.Context, event models.NormalizedEvent) (int, error)
}

// WebhookNotifier posts events as JSON to a single URL.
type WebhookNotifier struct {
	httpClient   *http.Client
	url          string
	secret       string
	secretHeader string
}

// NewWebhookNotifier creates a new webhook notifier.
// secret is sent in secretHeader when non-empty.
func NewWebhookNotifier(url, secret, secretHeader string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		url:          url,
		secret:       secret,
		secretHeader: secretHeader,
	}
}

// Forward sends a single webhook request and returns the downstream status code.
// Non-2xx codes are not errors; the caller surfaces them unchanged.
func (wn *WebhookNotifier) Forward(ctx context.Context, event models.NormalizedEvent) (int, error) {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wn.url, bytes.NewReader(jsonData))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "NotificationRelay/1.0")
	if wn.secret != "" && wn.secretHeader != "" {
		req.Header.Set(wn.secretHeader, wn.secret)
	}
	if id := CorrelationID(ctx); id != "" {
		req.Header.Set(CorrelationIDHeader, id)
	}

	resp, err := wn.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.Warnf("Forward target answered %d - url: %s, notification: %s, operation: %s",
			resp.StatusCode, wn.url, event.NotificationID, event.Operation)
	} else {
		logging.Infof("Event forwarded - url: %s, notification: %s, operation: %s, status: %d",
			wn.url, event.NotificationID, event.Operation, resp.StatusCode)
	}

	return resp.StatusCode, nil
}
