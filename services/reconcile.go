// services/reconcile.go
package services

import (
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"bounty-payout-system/models"
	"bounty-payout-system/utils"
)

// OrphanStaleness is how long a circle payout may sit pending with no
// external reference before it is considered evidence of a crash between the
// ledger insert and the provider call.
const OrphanStaleness = 5 * time.Minute

// ReconcileService hosts the local sweeps: bounty expiry and orphaned payout
// recovery. Both use status-guarded conditional updates so a concurrent
// claim, cancel or webhook is never clobbered.
type ReconcileService struct {
	DB *gorm.DB
}

func NewReconcileService(db *gorm.DB) *ReconcileService {
	return &ReconcileService{DB: db}
}

// ExpireStale moves open bounties whose deadline plus grace period has
// elapsed into expired.
func (s *ReconcileService) ExpireStale(now time.Time) (int64, error) {
	var open []models.Bounty
	if err := s.DB.Find(&open, "status = ?", models.BountyStatusOpen).Error; err != nil {
		return 0, fmt.Errorf("failed to list open bounties: %w", err)
	}

	var expired int64
	for _, bounty := range open {
		if !now.After(bounty.ClaimableUntil()) {
			continue
		}

		res := s.DB.Model(&models.Bounty{}).
			Where("id = ? AND status = ?", bounty.ID, models.BountyStatusOpen).
			Update("status", models.BountyStatusExpired)
		if res.Error != nil {
			return expired, fmt.Errorf("failed to expire bounty %s: %w", bounty.ID, res.Error)
		}
		expired += res.RowsAffected
	}

	if expired > 0 {
		log.Printf("[Reconcile] Expired %d stale bounty(ies)", expired)
	}
	return expired, nil
}

// RecoverOrphans marks stale pending circle payouts with no external
// reference as failed, releasing the candidate's reserved balance.
func (s *ReconcileService) RecoverOrphans(now time.Time) (int64, error) {
	cutoff := now.Add(-OrphanStaleness)

	var orphans []models.Payout
	err := s.DB.
		Where("provider = ? AND status = ? AND external_ref IS NULL AND created_at < ?",
			models.PayoutProviderCircle, models.PayoutStatusPending, cutoff).
		Find(&orphans).Error
	if err != nil {
		return 0, fmt.Errorf("failed to list orphaned payouts: %w", err)
	}

	var recovered int64
	for _, payout := range orphans {
		meta := payout.Metadata
		if meta == nil {
			meta = models.JSONMap{}
		}
		meta[models.PayoutMetaFailureReason] = "orphan_recovery"

		res := s.DB.Model(&models.Payout{}).
			Where("id = ? AND status = ? AND external_ref IS NULL", payout.ID, models.PayoutStatusPending).
			Updates(map[string]interface{}{
				"status":   models.PayoutStatusFailed,
				"metadata": meta,
			})
		if res.Error != nil {
			return recovered, fmt.Errorf("failed to recover payout %s: %w", payout.ID, res.Error)
		}
		if res.RowsAffected > 0 {
			recovered += res.RowsAffected
			utils.PayoutsByOutcome.WithLabelValues(string(models.PayoutProviderCircle), string(models.PayoutStatusFailed)).Inc()
		}
	}

	if recovered > 0 {
		log.Printf("[Reconcile] Marked %d orphaned payout(s) as failed", recovered)
	} else {
		log.Println("[Reconcile] No orphaned payouts found")
	}
	return recovered, nil
}
