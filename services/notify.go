// services/notify.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"bounty-payout-system/models"
)

// Notifier hands structured notification events to the queue. Delivery is
// fire-and-forget for callers: an enqueue failure is logged and swallowed so
// it can never fail the mutation (or webhook response) that triggered it.
type Notifier struct {
	queue Enqueuer
}

func NewNotifier(queue Enqueuer) *Notifier {
	return &Notifier{queue: queue}
}

func (n *Notifier) Notify(recipient, template string, data models.JSONMap) {
	err := n.queue.Enqueue(models.QueueSendNotification, models.JSONMap{
		"to":       recipient,
		"template": template,
		"data":     data,
	})
	if err != nil {
		log.Printf("[Notify] Failed to enqueue %s notification: %v", template, err)
	}
}

// NotificationSender posts queued events to the external notification
// service. Rendering and delivery happen there; this side only ships the
// structured payload.
type NotificationSender struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewNotificationSender(baseURL, token string) *NotificationSender {
	return &NotificationSender{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (s *NotificationSender) Send(ctx context.Context, payload models.JSONMap) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/v1/notifications", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	res, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notification service unreachable: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("notification service returned %d", res.StatusCode)
	}
	return nil
}
