// services/funding.go
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

var ErrFundingConflict = errors.New("funding conflicts with existing link")

// FundingService attaches a verified on-chain funding transaction to a
// bounty, exactly once, across concurrent attempts.
type FundingService struct {
	DB       *gorm.DB
	verifier *ChainVerifier
	queue    Enqueuer
	audit    *AuditService
	chainID  int64
}

func NewFundingService(db *gorm.DB, verifier *ChainVerifier, queue Enqueuer, audit *AuditService, chainID int64) *FundingService {
	return &FundingService{DB: db, verifier: verifier, queue: queue, audit: audit, chainID: chainID}
}

// LinkFunding verifies the funding transaction on-chain and links it to the
// bounty with two conditional writes in one transaction: insert-if-absent on
// the funding record and update-if-still-unset on the on-chain id. If either
// write affects zero rows, current state is re-read; a retry that already
// reached the intended final state succeeds, anything else is a conflict.
func (s *FundingService) LinkFunding(ctx context.Context, employerID, bountyID, rawTxHash string) (*models.BountyFunding, error) {
	txHash, err := NormalizeTxHash(rawTxHash)
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

	// Reject hashes already linked elsewhere before paying for an RPC call.
	var linked models.BountyFunding
	err = s.DB.First(&linked, "tx_hash = ?", txHash).Error
	if err == nil && linked.BountyID != bounty.ID {
		return nil, ErrAlreadyLinked
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check tx hash linkage: %w", err)
	}

	var employer models.User
	if err := s.DB.First(&employer, "id = ?", employerID).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load employer: %w", err)
	}

	escrowAmount := utils.EscrowAmount(bounty.AmountUSDC)
	conf, err := s.verifier.VerifyFunding(ctx, txHash, escrowAmount, bounty.SubmissionDeadline, employer.PayoutAddress)
	if err != nil {
		return nil, err
	}

	funding := models.BountyFunding{
		ID:               uuid.NewString(),
		BountyID:         bounty.ID,
		TxHash:           txHash,
		ChainID:          s.chainID,
		EscrowAmountUSDC: escrowAmount,
		FundedAt:         time.Now(),
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		insert := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&funding)
		if insert.Error != nil {
			return fmt.Errorf("failed to insert funding record: %w", insert.Error)
		}

		update := tx.Model(&models.Bounty{}).
			Where("id = ? AND onchain_bounty_id IS NULL", bounty.ID).
			Update("onchain_bounty_id", conf.OnchainBountyID)
		if update.Error != nil {
			return fmt.Errorf("failed to set onchain bounty id: %w", update.Error)
		}

		if insert.RowsAffected == 1 && update.RowsAffected == 1 {
			return nil
		}

		// One of the conditional writes lost a race or repeated earlier work.
		var current models.Bounty
		if err := tx.First(&current, "id = ?", bounty.ID).Error; err != nil {
			return fmt.Errorf("failed to re-read bounty: %w", err)
		}
		var existing models.BountyFunding
		if err := tx.First(&existing, "bounty_id = ?", bounty.ID).Error; err != nil {
			return ErrFundingConflict
		}

		if existing.TxHash == txHash &&
			current.OnchainBountyID != nil && *current.OnchainBountyID == conf.OnchainBountyID {
			// Idempotent retry: the intended final state already holds.
			funding = existing
			return nil
		}
		return ErrFundingConflict
	})
	if err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(models.QueueSyncEscrowEvents, models.JSONMap{
		"trigger":  "manual_funding",
		"bountyId": bounty.ID,
		"txHash":   txHash,
	}); err != nil {
		log.Printf("[Funding] Failed to enqueue event sync for bounty %s: %v", bounty.ID, err)
	}

	s.audit.Write("bounty.funded", employerID, models.JSONMap{
		"bountyId":        bounty.ID,
		"txHash":          txHash,
		"onchainBountyId": conf.OnchainBountyID,
		"escrowAmount":    utils.FormatUSDC(escrowAmount),
	})

	return &funding, nil
}

// HandleFund is the POST /api/bounties/:id/fund handler (employer only).
func (s *FundingService) HandleFund(c *fiber.Ctx) error {
	employerID := c.Locals("user_id").(string)

	var req struct {
		TxHash string `json:"txHash"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	funding, err := s.LinkFunding(c.Context(), employerID, c.Params("id"), req.TxHash)
	if err != nil {
		return respondServiceError(c, err, "Failed to register funding transaction")
	}

	return c.JSON(fiber.Map{
		"ok":           true,
		"fundingId":    funding.ID,
		"escrowAmount": utils.FormatUSDC(funding.EscrowAmountUSDC),
	})
}
