// services/claim.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bounty-payout-system/models"
	"bounty-payout-system/utils"
)

// StandardRejectionReason is applied to every losing submission when a winner
// is claimed.
const StandardRejectionReason = "Another submission was selected as the winner"

// ClaimService finalizes winner selection and bounty cancellation. Both flows
// run under a row lock on the bounty plus a status-guarded update, so a
// concurrent claim/cancel/expiry can never clobber a terminal state.
type ClaimService struct {
	DB       *gorm.DB
	verifier *ChainVerifier
	queue    Enqueuer
	audit    *AuditService
	notifier *Notifier
}

func NewClaimService(db *gorm.DB, verifier *ChainVerifier, queue Enqueuer, audit *AuditService, notifier *Notifier) *ClaimService {
	return &ClaimService{DB: db, verifier: verifier, queue: queue, audit: audit, notifier: notifier}
}

// lockBounty re-reads the bounty inside the transaction, taking a row lock on
// Postgres. The status guard below still protects the sqlite test driver,
// which has no FOR UPDATE.
func lockBounty(tx *gorm.DB, bountyID string) (*models.Bounty, error) {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var bounty models.Bounty
	if err := q.First(&bounty, "id = ?", bountyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock bounty: %w", err)
	}
	return &bounty, nil
}

// ClaimWinner validates the employer's selection against the on-chain claim
// transaction and atomically finalizes bounty, submissions and the internal
// payout. A repeat call after success fails the status precondition and is
// never re-applied.
func (s *ClaimService) ClaimWinner(ctx context.Context, employerID, bountyID, submissionID, rawWinnerAddress, rawTxHash string) (*models.Payout, error) {
	txHash, err := NormalizeTxHash(rawTxHash)
	if err != nil {
		return nil, err
	}
	winnerAddress, err := NormalizeAddress(rawWinnerAddress)
	if err != nil {
		return nil, err
	}

	var bounty models.Bounty
	if err := s.DB.First(&bounty, "id = ? AND employer_id = ?", bountyID, employerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load bounty: %w", err)
	}

	if bounty.Status != models.BountyStatusOpen {
		return nil, ErrBountyNotOpen
	}
	if time.Now().After(bounty.ClaimableUntil()) {
		return nil, ErrClaimWindowClosed
	}
	if bounty.OnchainBountyID == nil {
		return nil, ErrBountyNotFunded
	}

	var submission models.Submission
	if err := s.DB.First(&submission, "id = ? AND bounty_id = ?", submissionID, bounty.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load submission: %w", err)
	}

	var candidate models.User
	if err := s.DB.First(&candidate, "id = ?", submission.CandidateID).Error; err != nil {
		return nil, fmt.Errorf("failed to load candidate: %w", err)
	}
	registered, err := NormalizeAddress(candidate.PayoutAddress)
	if err != nil || registered != winnerAddress {
		return nil, ErrWinnerAddress
	}

	conf, err := s.verifier.VerifyClaim(ctx, txHash, *bounty.OnchainBountyID, winnerAddress, bounty.AmountUSDC)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	payout := models.Payout{
		ID:           uuid.NewString(),
		SubmissionID: &submission.ID,
		CandidateID:  submission.CandidateID,
		Provider:     models.PayoutProviderInternal,
		Status:       models.PayoutStatusCompleted,
		AmountUSDC:   bounty.AmountUSDC,
		Metadata: models.JSONMap{
			models.PayoutMetaWinnerAddress:   winnerAddress,
			models.PayoutMetaClaimTxHash:     conf.TxHash,
			models.PayoutMetaOnchainBountyID: *bounty.OnchainBountyID,
		},
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		locked, err := lockBounty(tx, bounty.ID)
		if err != nil {
			return err
		}
		if locked.Status != models.BountyStatusOpen {
			return ErrBountyNotOpen
		}

		reject := tx.Model(&models.Submission{}).
			Where("bounty_id = ? AND id <> ?", bounty.ID, submission.ID).
			Updates(map[string]interface{}{
				"is_winner":        false,
				"review_status":    models.ReviewStatusRejected,
				"rejection_reason": StandardRejectionReason,
				"reviewed_at":      now,
			})
		if reject.Error != nil {
			return fmt.Errorf("failed to reject other submissions: %w", reject.Error)
		}

		win := tx.Model(&models.Submission{}).
			Where("id = ?", submission.ID).
			Updates(map[string]interface{}{
				"is_winner":        true,
				"review_status":    models.ReviewStatusWinner,
				"rejection_reason": nil,
				"reviewed_at":      now,
			})
		if win.Error != nil {
			return fmt.Errorf("failed to mark winner: %w", win.Error)
		}

		claim := tx.Model(&models.Bounty{}).
			Where("id = ? AND status = ?", bounty.ID, models.BountyStatusOpen).
			Update("status", models.BountyStatusClaimed)
		if claim.Error != nil {
			return fmt.Errorf("failed to claim bounty: %w", claim.Error)
		}
		if claim.RowsAffected == 0 {
			return ErrBountyNotOpen
		}

		if err := tx.Create(&payout).Error; err != nil {
			return fmt.Errorf("failed to insert winner payout: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	utils.PayoutsByOutcome.WithLabelValues(string(models.PayoutProviderInternal), string(models.PayoutStatusCompleted)).Inc()

	s.audit.Write("bounty.claimed", employerID, models.JSONMap{
		"bountyId":      bounty.ID,
		"submissionId":  submission.ID,
		"winnerAddress": winnerAddress,
		"txHash":        conf.TxHash,
	})

	if candidate.Email != "" && candidate.EmailNotifications {
		s.notifier.Notify(candidate.Email, "bounty_won", models.JSONMap{
			"title":  bounty.JobTitle,
			"amount": utils.FormatUSDC(bounty.AmountUSDC),
		})
	}

	return &payout, nil
}

// CancelBounty cancels an open bounty. Funded bounties require a verified
// on-chain cancellation; every existing submission must carry an explicit
// rejection reason.
func (s *ClaimService) CancelBounty(ctx context.Context, employerID, bountyID string, rawTxHash string, rejections map[string]string) error {
	var bounty models.Bounty
	if err := s.DB.First(&bounty, "id = ? AND employer_id = ?", bountyID, employerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load bounty: %w", err)
	}

	if bounty.Status != models.BountyStatusOpen {
		return ErrBountyNotOpen
	}

	txHash := ""
	if bounty.OnchainBountyID != nil {
		if rawTxHash == "" {
			return ErrCancelTxRequired
		}
		normalized, err := NormalizeTxHash(rawTxHash)
		if err != nil {
			return err
		}
		txHash = normalized

		if _, err := s.verifier.VerifyCancel(ctx, txHash, *bounty.OnchainBountyID); err != nil {
			return err
		}
	}

	now := time.Now()
	var cancelled []models.Submission

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		locked, err := lockBounty(tx, bounty.ID)
		if err != nil {
			return err
		}
		if locked.Status != models.BountyStatusOpen {
			return ErrBountyNotOpen
		}

		var existing []models.Submission
		if err := tx.Find(&existing, "bounty_id = ?", bounty.ID).Error; err != nil {
			return fmt.Errorf("failed to load submissions: %w", err)
		}

		if len(existing) != len(rejections) {
			return ErrRejectionsRequired
		}
		for _, sub := range existing {
			reason, ok := rejections[sub.ID]
			if !ok || reason == "" {
				return ErrRejectionsRequired
			}

			upd := tx.Model(&models.Submission{}).
				Where("id = ?", sub.ID).
				Updates(map[string]interface{}{
					"is_winner":        false,
					"review_status":    models.ReviewStatusRejected,
					"rejection_reason": reason,
					"reviewed_at":      now,
				})
			if upd.Error != nil {
				return fmt.Errorf("failed to reject submission %s: %w", sub.ID, upd.Error)
			}
		}
		cancelled = existing

		cancel := tx.Model(&models.Bounty{}).
			Where("id = ? AND status = ?", bounty.ID, models.BountyStatusOpen).
			Update("status", models.BountyStatusCancelled)
		if cancel.Error != nil {
			return fmt.Errorf("failed to cancel bounty: %w", cancel.Error)
		}
		if cancel.RowsAffected == 0 {
			return ErrBountyNotOpen
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, sub := range cancelled {
		if err := s.queue.Enqueue(models.QueueRepoAccessRevoke, models.JSONMap{
			"bountyId":    bounty.ID,
			"candidateId": sub.CandidateID,
		}); err != nil {
			log.Printf("[Claim] Failed to enqueue access revoke for %s: %v", sub.CandidateID, err)
		}

		var candidate models.User
		if err := s.DB.First(&candidate, "id = ?", sub.CandidateID).Error; err == nil &&
			candidate.Email != "" && candidate.EmailNotifications {
			s.notifier.Notify(candidate.Email, "bounty_cancelled", models.JSONMap{
				"title": bounty.JobTitle,
			})
		}
	}

	s.audit.Write("bounty.cancelled", employerID, models.JSONMap{
		"bountyId":                bounty.ID,
		"txHash":                  txHash,
		"rejectedSubmissionCount": len(cancelled),
	})
	return nil
}

// HandleClaimWinner is the POST /api/bounties/:id/claim-winner handler.
func (s *ClaimService) HandleClaimWinner(c *fiber.Ctx) error {
	employerID := c.Locals("user_id").(string)

	var req struct {
		SubmissionID  string `json:"submissionId"`
		WinnerAddress string `json:"winnerAddress"`
		TxHash        string `json:"txHash"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if _, err := uuid.Parse(req.SubmissionID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid submission ID"})
	}

	payout, err := s.ClaimWinner(c.Context(), employerID, c.Params("id"), req.SubmissionID, req.WinnerAddress, req.TxHash)
	if err != nil {
		return respondServiceError(c, err, "Failed to claim winner")
	}

	return c.JSON(fiber.Map{"ok": true, "submissionId": req.SubmissionID, "payoutId": payout.ID})
}

// HandleCancel is the POST /api/bounties/:id/cancel handler.
func (s *ClaimService) HandleCancel(c *fiber.Ctx) error {
	employerID := c.Locals("user_id").(string)

	var req struct {
		TxHash     string `json:"txHash"`
		Rejections []struct {
			SubmissionID string `json:"submissionId"`
			Reason       string `json:"reason"`
		} `json:"rejections"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	rejections := make(map[string]string, len(req.Rejections))
	for _, r := range req.Rejections {
		rejections[r.SubmissionID] = r.Reason
	}

	if err := s.CancelBounty(c.Context(), employerID, c.Params("id"), req.TxHash, rejections); err != nil {
		return respondServiceError(c, err, "Failed to cancel bounty")
	}
	return c.JSON(fiber.Map{"ok": true})
}
