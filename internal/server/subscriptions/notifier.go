package subscriptions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Notifier delivers notifications to webhooks.
type Notifier struct {
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewNotifier creates a notifier that tries each delivery up to attempts
// times, waiting backoff*attempt² between tries.
func NewNotifier(attempts int, backoff time.Duration, logger *slog.Logger) *Notifier {
	if attempts < 1 {
		attempts = 1
	}
	return &Notifier{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		attempts:   attempts,
		backoff:    backoff,
		logger:     logger,
	}
}

// SetRateLimit caps outgoing requests across all webhooks at perSecond
// with the given burst. A non-positive perSecond removes the cap.
func (n *Notifier) SetRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		n.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	n.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// SendWebhook POSTs the notification as JSON to url.
func (n *Notifier) SendWebhook(ctx context.Context, url string, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < n.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt*attempt) * n.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if n.limiter != nil {
			if err := n.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("waiting for rate limiter: %w", err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("building webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Graphcore-Event", notification.Event.Type)
		req.Header.Set("X-Graphcore-Subscription", notification.SubscriptionID)

		resp, err := n.httpClient.Do(req)
		if err != nil {
			lastErr = err
			n.logger.Debug("webhook attempt failed", "url", url, "attempt", attempt+1, "error", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			n.logger.Debug("webhook delivered", "url", url, "subscription", notification.SubscriptionID)
			return nil
		}
		lastErr = &WebhookError{URL: url, StatusCode: resp.StatusCode}
		n.logger.Debug("webhook attempt rejected", "url", url, "attempt", attempt+1, "status", resp.StatusCode)
	}

	n.logger.Warn("webhook delivery failed", "url", url, "attempts", n.attempts, "error", lastErr)
	return lastErr
}

// WebhookError represents a webhook delivery failure
type WebhookError struct {
	URL        string
	StatusCode int
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook %s returned status %d", e.URL, e.StatusCode)
}
