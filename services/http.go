// services/http.go
package services

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"bounty-payout-system/utils"
)

// respondServiceError maps domain sentinels onto caller-facing responses.
// Caller-correctable conditions get a specific 4xx; everything else is a
// generic 500 with the detail kept in the server log only.
func respondServiceError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})

	case errors.Is(err, ErrForbidden), errors.Is(err, ErrCandidateBlocked):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})

	case errors.Is(err, ErrInvalidTxHash),
		errors.Is(err, ErrInvalidAddress),
		errors.Is(err, utils.ErrInvalidAmount),
		errors.Is(err, ErrWinnerAddress),
		errors.Is(err, ErrCancelTxRequired):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})

	// Chain verification mismatches are malformed claims from the caller's
	// side, not server faults.
	case errors.Is(err, ErrReceiptNotFound),
		errors.Is(err, ErrTransactionFailed),
		errors.Is(err, ErrNoMatchingEvent):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})

	case errors.Is(err, ErrBountyNotOpen),
		errors.Is(err, ErrBountyNotFunded),
		errors.Is(err, ErrAlreadyLinked),
		errors.Is(err, ErrFundingConflict),
		errors.Is(err, ErrDeadlinePassed),
		errors.Is(err, ErrClaimWindowClosed),
		errors.Is(err, ErrRejectionsRequired),
		errors.Is(err, ErrDuplicateSubmission),
		errors.Is(err, ErrInsufficientBalance):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})

	default:
		log.Printf("[HTTP] %s %s failed: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": fallback})
	}
}
