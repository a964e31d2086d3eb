package services

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"bounty-payout-system/models"
)

func TestExpireStale(t *testing.T) {
	db := newTestDB(t)
	svc := NewReconcileService(db)
	employer := seedEmployer(t, db)

	// Deadline passed but still inside the 7-day grace period.
	inGrace := seedBounty(t, db, employer.ID, 1_000_000_000, time.Now().AddDate(0, 0, -3))
	// Deadline plus grace both elapsed.
	stale := seedBounty(t, db, employer.ID, 1_000_000_000, time.Now().AddDate(0, 0, -10))
	// Already terminal; expiry must not touch it.
	claimed := seedBounty(t, db, employer.ID, 1_000_000_000, time.Now().AddDate(0, 0, -10))
	db.Model(&models.Bounty{}).Where("id = ?", claimed.ID).Update("status", models.BountyStatusClaimed)

	expired, err := svc.ExpireStale(time.Now())
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}

	assertStatus := func(id string, want models.BountyStatus) {
		t.Helper()
		var b models.Bounty
		db.First(&b, "id = ?", id)
		if b.Status != want {
			t.Errorf("bounty %s status = %s, want %s", id, b.Status, want)
		}
	}
	assertStatus(inGrace.ID, models.BountyStatusOpen)
	assertStatus(stale.ID, models.BountyStatusExpired)
	assertStatus(claimed.ID, models.BountyStatusClaimed)
}

func TestRecoverOrphans(t *testing.T) {
	db := newTestDB(t)
	svc := NewReconcileService(db)
	candidate := seedCandidate(t, db, "0x3333333333333333333333333333333333333333")

	now := time.Now()
	ref := "transfer-ok"

	makePayout := func(status models.PayoutStatus, externalRef *string, age time.Duration) string {
		id := uuid.NewString()
		err := db.Create(&models.Payout{
			ID: id, CandidateID: candidate.ID,
			Provider: models.PayoutProviderCircle, Status: status,
			AmountUSDC: 100_000_000, ExternalRef: externalRef,
			CreatedAt: now.Add(-age),
		}).Error
		if err != nil {
			t.Fatalf("seed payout: %v", err)
		}
		return id
	}

	orphan := makePayout(models.PayoutStatusPending, nil, 10*time.Minute)
	fresh := makePayout(models.PayoutStatusPending, nil, time.Minute)
	tracked := makePayout(models.PayoutStatusPending, &ref, 10*time.Minute)

	recovered, err := svc.RecoverOrphans(now)
	if err != nil {
		t.Fatalf("RecoverOrphans: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("recovered = %d, want 1", recovered)
	}

	// Each lookup needs its own struct: reusing one would carry the
	// previous row's primary key into the next WHERE clause.
	payoutStatus := func(id string) (models.PayoutStatus, models.JSONMap) {
		var p models.Payout
		if err := db.Take(&p, "id = ?", id).Error; err != nil {
			t.Fatalf("load payout %s: %v", id, err)
		}
		return p.Status, p.Metadata
	}

	status, meta := payoutStatus(orphan)
	if status != models.PayoutStatusFailed {
		t.Errorf("orphan status = %s, want failed", status)
	}
	if meta[models.PayoutMetaFailureReason] != "orphan_recovery" {
		t.Errorf("failure reason = %v", meta[models.PayoutMetaFailureReason])
	}

	if status, _ := payoutStatus(fresh); status != models.PayoutStatusPending {
		t.Errorf("fresh payout status = %s, want pending", status)
	}
	if status, _ := payoutStatus(tracked); status != models.PayoutStatusPending {
		t.Errorf("tracked payout status = %s, want pending", status)
	}
}
