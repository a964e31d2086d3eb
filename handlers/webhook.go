// handlers/webhook_routes.go
package handlers

import (
	"bounty-payout-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupWebhookRoutes(app *fiber.App, webhookService *services.WebhookService) {
	// 🔓 Public — authenticated by HMAC signature on the raw body, not by the gateway
	app.Post("/webhooks/circle", webhookService.HandleCircle)
	app.Post("/webhooks/github", webhookService.HandleGitHub)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}
