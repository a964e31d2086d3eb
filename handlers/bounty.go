// handlers/bounty_routes.go
package handlers

import (
	"bounty-payout-system/middleware"
	"bounty-payout-system/services"
	"github.com/gofiber/fiber/v2"
)

func SetupBountyRoutes(app *fiber.App, fundingService *services.FundingService, claimService *services.ClaimService, submissionService *services.SubmissionService) {
	// 🔐 Everything here requires user context (userID, roles) from the gateway.
	// Role checks are per route: employer and candidate routes share the prefix.
	secured := app.Group("/api", middleware.UserContextMiddleware())
	employer := middleware.RequireRole("employer")
	candidate := middleware.RequireRole("candidate")

	// Employer operations
	secured.Post("/bounties/:id/fund", employer, fundingService.HandleFund)
	secured.Post("/bounties/:id/claim-winner", employer, claimService.HandleClaimWinner)
	secured.Post("/bounties/:id/cancel", employer, claimService.HandleCancel)

	// Candidate operations
	secured.Post("/bounties/:id/submit", candidate, submissionService.HandleSubmit)
	secured.Post("/submissions/:id/artifact", candidate, submissionService.HandleArtifact)
}
