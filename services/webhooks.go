// services/webhooks.go
package services

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"bounty-payout-system/utils"
)

// WebhookService terminates inbound provider callbacks. Both endpoints are
// unauthenticated and rely solely on HMAC verification of the raw body.
type WebhookService struct {
	circleVerifier *CircleWebhookVerifier
	githubVerifier *GitHubWebhookVerifier
	withdrawals    *WithdrawalService
}

func NewWebhookService(circle *CircleWebhookVerifier, github *GitHubWebhookVerifier, withdrawals *WithdrawalService) *WebhookService {
	return &WebhookService{circleVerifier: circle, githubVerifier: github, withdrawals: withdrawals}
}

type circleWebhookPayload struct {
	NotificationType string `json:"notificationType"`
	Transfer         struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"transfer"`
}

// HandleCircle is the POST /webhooks/circle handler. Redeliveries of an
// already-applied status are acknowledged without side effects.
func (s *WebhookService) HandleCircle(c *fiber.Ctx) error {
	body := c.Body()

	signature := c.Get("X-Circle-Signature")
	if signature == "" {
		signature = c.Get("Circle-Signature")
	}
	if !s.circleVerifier.Verify(body, signature) {
		utils.WebhookDeliveries.WithLabelValues("circle", "rejected").Inc()
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid signature"})
	}

	var payload circleWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		utils.WebhookDeliveries.WithLabelValues("circle", "malformed").Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid payload"})
	}

	if payload.Transfer.ID == "" || payload.Transfer.Status == "" {
		// Subscription pings and unrelated notification types.
		utils.WebhookDeliveries.WithLabelValues("circle", "ignored").Inc()
		return c.JSON(fiber.Map{"ok": true})
	}

	s.withdrawals.RecordWebhookDelivery(payload.Transfer.ID, time.Now())

	changed, err := s.withdrawals.ApplyProviderStatus(payload.Transfer.ID, payload.Transfer.Status, true)
	if err != nil {
		log.Printf("[Webhook] Failed to apply Circle status for transfer %s: %v", payload.Transfer.ID, err)
		utils.WebhookDeliveries.WithLabelValues("circle", "error").Inc()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process notification"})
	}

	if changed {
		utils.WebhookDeliveries.WithLabelValues("circle", "applied").Inc()
	} else {
		utils.WebhookDeliveries.WithLabelValues("circle", "duplicate").Inc()
	}
	return c.JSON(fiber.Map{"ok": true})
}

// HandleGitHub is the POST /webhooks/github handler. Repository events are
// acknowledged after verification; provisioning state lives with the repo
// service, so nothing is mutated here.
func (s *WebhookService) HandleGitHub(c *fiber.Ctx) error {
	body := c.Body()

	if !s.githubVerifier.Verify(body, c.Get("X-Hub-Signature-256")) {
		utils.WebhookDeliveries.WithLabelValues("github", "rejected").Inc()
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid signature"})
	}

	event := c.Get("X-GitHub-Event")
	log.Printf("[Webhook] GitHub event received: %s", event)
	utils.WebhookDeliveries.WithLabelValues("github", "applied").Inc()
	return c.JSON(fiber.Map{"ok": true})
}
