// handlers/wallet_routes.go
package handlers

import (
	"bounty-payout-system/middleware"
	"bounty-payout-system/services"
	"github.com/gofiber/fiber/v2"
)

func SetupWalletRoutes(app *fiber.App, withdrawalService *services.WithdrawalService) {
	secured := app.Group("/api", middleware.UserContextMiddleware())
	candidate := middleware.RequireRole("candidate")

	secured.Get("/wallet/balance", candidate, withdrawalService.HandleBalance)
	secured.Post("/wallet/withdraw", candidate, withdrawalService.HandleWithdraw)
}
