// services/withdrawal.go
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

	"bounty-payout-system/models"
	"bounty-payout-system/utils"
)

// CircleAPI is the provider surface the ledger drives; satisfied by
// CircleClient, stubbed in tests.
type CircleAPI interface {
	CreateTransfer(ctx context.Context, req CircleTransferRequest) (*CircleTransfer, error)
	TransferStatus(ctx context.Context, transferID string) (string, error)
}

// WithdrawalService computes spendable balances and drives external
// transfers. Balance check and payout insert share one transaction serialized
// by a per-candidate advisory lock, so two concurrent withdrawals can never
// overdraw the same balance.
type WithdrawalService struct {
	DB       *gorm.DB
	circle   CircleAPI
	queue    Enqueuer
	audit    *AuditService
	notifier *Notifier
	// lock serializes the balance transaction per candidate. Postgres advisory
	// xact lock in production; tests on sqlite replace it with a no-op.
	lock func(tx *gorm.DB, key string) error
}

func NewWithdrawalService(db *gorm.DB, circle CircleAPI, queue Enqueuer, audit *AuditService, notifier *Notifier) *WithdrawalService {
	return &WithdrawalService{
		DB:       db,
		circle:   circle,
		queue:    queue,
		audit:    audit,
		notifier: notifier,
		lock:     pgAdvisoryXactLock,
	}
}

func pgAdvisoryXactLock(tx *gorm.DB, key string) error {
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error
}

// AvailableBalance = completed internal credits minus circle payouts that are
// pending, processing or completed. Pending/processing rows reserve balance
// until they resolve; failed and cancelled rows release it.
func (s *WithdrawalService) AvailableBalance(db *gorm.DB, candidateID string) (int64, error) {
	var row struct {
		Earned   int64
		Reserved int64
	}
	err := db.Model(&models.Payout{}).
		Select(`COALESCE(SUM(CASE WHEN provider = 'internal' AND status = 'completed' THEN amount_usdc ELSE 0 END), 0) AS earned,
			COALESCE(SUM(CASE WHEN provider = 'circle' AND status IN ('pending', 'processing', 'completed') THEN amount_usdc ELSE 0 END), 0) AS reserved`).
		Where("candidate_id = ?", candidateID).
		Scan(&row).Error
	if err != nil {
		return 0, fmt.Errorf("failed to compute balance: %w", err)
	}
	return row.Earned - row.Reserved, nil
}

// Withdraw books a pending payout for the floored amount and then issues the
// provider transfer with a fresh idempotency key. The amount is floored to
// the provider's 2-decimal precision before the balance check, so the booked
// amount never exceeds what can actually be transferred.
func (s *WithdrawalService) Withdraw(ctx context.Context, candidateID, amount, bankAccountID, destinationCurrency string) (*models.Payout, error) {
	requested, err := utils.ParseUSDC(amount)
	if err != nil {
		return nil, err
	}

	floored := utils.FloorToCirclePrecision(requested)
	if floored <= 0 {
		return nil, fmt.Errorf("%w: below provider precision", utils.ErrInvalidAmount)
	}

	idempotencyKey := uuid.NewString()
	payout := models.Payout{
		ID:          uuid.NewString(),
		CandidateID: candidateID,
		Provider:    models.PayoutProviderCircle,
		Status:      models.PayoutStatusPending,
		AmountUSDC:  floored,
		Metadata: models.JSONMap{
			models.PayoutMetaIdempotencyKey:      idempotencyKey,
			models.PayoutMetaRequestedAmount:     utils.FormatUSDC(requested),
			models.PayoutMetaTransferAmount:      utils.FormatUSD2(floored),
			models.PayoutMetaBankAccountID:       bankAccountID,
			models.PayoutMetaDestinationCurrency: destinationCurrency,
		},
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := s.lock(tx, candidateID); err != nil {
			return fmt.Errorf("failed to take candidate lock: %w", err)
		}

		available, err := s.AvailableBalance(tx, candidateID)
		if err != nil {
			return err
		}
		if floored > available {
			return ErrInsufficientBalance
		}

		if err := tx.Create(&payout).Error; err != nil {
			return fmt.Errorf("failed to insert payout: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The ledger row is committed; from here on any provider failure must
	// resolve the row, never leave it pending.
	transfer, err := s.circle.CreateTransfer(ctx, CircleTransferRequest{
		IdempotencyKey:      idempotencyKey,
		AmountUSD2:          utils.FormatUSD2(floored),
		BankAccountID:       bankAccountID,
		DestinationCurrency: destinationCurrency,
	})
	if err != nil {
		log.Printf("[Withdrawal] Provider call failed for payout %s: %v", payout.ID, err)
		s.markFailed(&payout, "provider_call_failed")
		return &payout, fmt.Errorf("%w: transfer create failed", ErrCircleAPI)
	}

	status := NormalizePayoutStatus(transfer.Status)
	update := s.DB.Model(&models.Payout{}).
		Where("id = ?", payout.ID).
		Updates(map[string]interface{}{
			"external_ref": transfer.ID,
			"status":       status,
		})
	if update.Error != nil {
		log.Printf("[Withdrawal] Failed to record transfer %s on payout %s: %v", transfer.ID, payout.ID, update.Error)
	} else {
		payout.ExternalRef = &transfer.ID
		payout.Status = status
	}

	if payout.ExternalRef != nil {
		if err := s.queue.Enqueue(models.QueueCircleWithdrawPoll, models.JSONMap{
			"payoutId":    payout.ID,
			"externalRef": *payout.ExternalRef,
		}); err != nil {
			log.Printf("[Withdrawal] Failed to enqueue status poll for payout %s: %v", payout.ID, err)
		}
	}

	s.audit.Write("circle.withdraw.requested", candidateID, models.JSONMap{
		"payoutId":            payout.ID,
		"requestedAmountUsdc": utils.FormatUSDC(requested),
		"transferAmountUsd2":  utils.FormatUSD2(floored),
	})

	return &payout, nil
}

func (s *WithdrawalService) markFailed(payout *models.Payout, reason string) {
	meta := payout.Metadata
	if meta == nil {
		meta = models.JSONMap{}
	}
	meta[models.PayoutMetaFailureReason] = reason

	err := s.DB.Model(&models.Payout{}).
		Where("id = ?", payout.ID).
		Updates(map[string]interface{}{
			"status":   models.PayoutStatusFailed,
			"metadata": meta,
		}).Error
	if err != nil {
		log.Printf("[Withdrawal] Failed to mark payout %s failed: %v", payout.ID, err)
		return
	}
	payout.Status = models.PayoutStatusFailed
	payout.Metadata = meta
	utils.PayoutsByOutcome.WithLabelValues(string(models.PayoutProviderCircle), string(models.PayoutStatusFailed)).Inc()
}

// ApplyProviderStatus advances a circle payout identified by external
// reference. Transitions are forward-only: a terminal row is never touched,
// and a repeated delivery of the same status affects zero rows. When notify
// is set, a terminal transition fires a candidate notification exactly once
// per transition, regardless of how many deliveries carried it.
func (s *WithdrawalService) ApplyProviderStatus(externalRef, providerStatus string, notify bool) (bool, error) {
	newStatus := NormalizePayoutStatus(providerStatus)

	// Unknown provider statuses normalize to pending, the initial state.
	// Applying that over a processing row would walk the payout backwards,
	// so pending deliveries carry no transition at all.
	if newStatus == models.PayoutStatusPending {
		return false, nil
	}

	predecessors := []models.PayoutStatus{models.PayoutStatusPending, models.PayoutStatusProcessing}
	if newStatus == models.PayoutStatusProcessing {
		predecessors = []models.PayoutStatus{models.PayoutStatusPending}
	}
	res := s.DB.Model(&models.Payout{}).
		Where("external_ref = ? AND status IN ?", externalRef, predecessors).
		Updates(map[string]interface{}{"status": newStatus})
	if res.Error != nil {
		return false, fmt.Errorf("failed to apply provider status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	if !newStatus.Terminal() {
		return true, nil
	}

	utils.PayoutsByOutcome.WithLabelValues(string(models.PayoutProviderCircle), string(newStatus)).Inc()

	if notify {
		var payout models.Payout
		if err := s.DB.First(&payout, "external_ref = ?", externalRef).Error; err == nil {
			var candidate models.User
			if err := s.DB.First(&candidate, "id = ?", payout.CandidateID).Error; err == nil &&
				candidate.Email != "" && candidate.EmailNotifications {
				s.notifier.Notify(candidate.Email, "withdrawal_"+string(newStatus), models.JSONMap{
					"amount": utils.FormatUSDC(payout.AmountUSDC),
				})
			}
		}
	}
	return true, nil
}

// RecordWebhookDelivery stamps the payout metadata with the time of the
// latest Circle webhook that referenced it. Best-effort: a miss (unknown
// transfer, write race) is logged and never blocks delivery handling.
func (s *WithdrawalService) RecordWebhookDelivery(externalRef string, at time.Time) {
	var payout models.Payout
	if err := s.DB.First(&payout, "external_ref = ?", externalRef).Error; err != nil {
		return
	}

	meta := payout.Metadata
	if meta == nil {
		meta = models.JSONMap{}
	}
	meta[models.PayoutMetaLastWebhookAt] = at.UTC().Format(time.RFC3339)

	err := s.DB.Model(&models.Payout{}).
		Where("id = ?", payout.ID).
		Update("metadata", meta).Error
	if err != nil {
		log.Printf("[Withdrawal] Failed to stamp webhook time on payout %s: %v", payout.ID, err)
	}
}

// PollTransfer is the circle_withdraw_status_poll job body: a non-terminal
// provider status is an error so the queue retries with backoff.
func (s *WithdrawalService) PollTransfer(ctx context.Context, payoutID, externalRef string) error {
	status, err := s.circle.TransferStatus(ctx, externalRef)
	if err != nil {
		return err
	}

	if _, err := s.ApplyProviderStatus(externalRef, status, false); err != nil {
		return err
	}

	normalized := NormalizePayoutStatus(status)
	if !normalized.Terminal() {
		return fmt.Errorf("transfer %s not terminal yet: %s", externalRef, normalized)
	}
	log.Printf("[Withdrawal] Payout %s settled as %s", payoutID, normalized)
	return nil
}

// HandleWithdraw is the POST /api/wallet/withdraw handler (candidate only).
func (s *WithdrawalService) HandleWithdraw(c *fiber.Ctx) error {
	candidateID := c.Locals("user_id").(string)

	var req struct {
		Amount              string `json:"amount"`
		BankAccountID       string `json:"bankAccountId"`
		DestinationCurrency string `json:"destinationCurrency"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.BankAccountID == "" || req.DestinationCurrency == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bankAccountId and destinationCurrency are required"})
	}

	payout, err := s.Withdraw(c.Context(), candidateID, req.Amount, req.BankAccountID, req.DestinationCurrency)
	if err != nil && !errors.Is(err, ErrCircleAPI) {
		return respondServiceError(c, err, "Failed to request withdrawal")
	}
	if err != nil {
		// Ledger row exists and is marked failed; the caller sees the provider
		// outage as a server error.
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Withdrawal provider unavailable"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"payout": payout})
}

// HandleBalance is the GET /api/wallet/balance handler (candidate only).
func (s *WithdrawalService) HandleBalance(c *fiber.Ctx) error {
	candidateID := c.Locals("user_id").(string)

	available, err := s.AvailableBalance(s.DB, candidateID)
	if err != nil {
		return respondServiceError(c, err, "Failed to compute balance")
	}

	return c.JSON(fiber.Map{
		"availableUsdc": utils.FormatUSDC(available),
		"asOf":          time.Now().UTC(),
	})
}
