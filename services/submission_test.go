package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"bounty-payout-system/models"
)

func newSubmissionFixture(t *testing.T) (*SubmissionService, *fakeQueue, *models.User, *models.Bounty) {
	t.Helper()
	db := newTestDB(t)
	queue := &fakeQueue{}
	svc := NewSubmissionService(db, queue, NewNotifier(queue), nil)

	employer := seedEmployer(t, db)
	bounty := seedBounty(t, db, employer.ID, 1_000_000_000, time.Now().Add(48*time.Hour))

	onchainID := "42"
	db.Model(&models.Bounty{}).Where("id = ?", bounty.ID).Update("onchain_bounty_id", onchainID)
	bounty.OnchainBountyID = &onchainID
	db.Create(&models.BountyFunding{
		ID: uuid.NewString(), BountyID: bounty.ID,
		TxHash: "0xaa00000000000000000000000000000000000000000000000000000000000001",
		ChainID: 8453, EscrowAmountUSDC: 1_030_000_000, FundedAt: time.Now(),
	})

	return svc, queue, employer, bounty
}

func TestSubmit(t *testing.T) {
	svc, queue, _, bounty := newSubmissionFixture(t)
	candidate := seedCandidate(t, svc.DB, "0x3333333333333333333333333333333333333333")

	sub, err := svc.Submit(context.Background(), candidate.ID, bounty.ID, "https://github.com/acme/entry", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.ReviewStatus != models.ReviewStatusPending {
		t.Errorf("review status = %s, want pending", sub.ReviewStatus)
	}

	if queue.count(models.QueueRepoProvision) != 1 {
		t.Errorf("provision jobs = %d, want 1", queue.count(models.QueueRepoProvision))
	}
	if queue.count(models.QueueSendNotification) != 1 {
		t.Errorf("employer notifications = %d, want 1", queue.count(models.QueueSendNotification))
	}

	// One entry per candidate per bounty.
	if _, err := svc.Submit(context.Background(), candidate.ID, bounty.ID, "https://github.com/acme/entry-2", ""); !errors.Is(err, ErrDuplicateSubmission) {
		t.Fatalf("duplicate: got %v, want ErrDuplicateSubmission", err)
	}
}

func TestSubmitPreconditions(t *testing.T) {
	svc, _, employer, bounty := newSubmissionFixture(t)
	candidate := seedCandidate(t, svc.DB, "0x3333333333333333333333333333333333333333")
	ctx := context.Background()

	// Blocked candidates are refused.
	svc.DB.Create(&models.EmployerBlock{
		ID: uuid.NewString(), EmployerID: employer.ID, CandidateID: candidate.ID, Reason: "prior dispute",
	})
	if _, err := svc.Submit(ctx, candidate.ID, bounty.ID, "https://github.com/acme/entry", ""); !errors.Is(err, ErrCandidateBlocked) {
		t.Errorf("blocked: got %v, want ErrCandidateBlocked", err)
	}
	svc.DB.Where("employer_id = ?", employer.ID).Delete(&models.EmployerBlock{})

	// Past-deadline bounties refuse entries.
	svc.DB.Model(&models.Bounty{}).Where("id = ?", bounty.ID).Update("submission_deadline", time.Now().Add(-time.Hour))
	if _, err := svc.Submit(ctx, candidate.ID, bounty.ID, "https://github.com/acme/entry", ""); !errors.Is(err, ErrDeadlinePassed) {
		t.Errorf("past deadline: got %v, want ErrDeadlinePassed", err)
	}
	svc.DB.Model(&models.Bounty{}).Where("id = ?", bounty.ID).Update("submission_deadline", time.Now().Add(48*time.Hour))

	// Non-open bounties refuse entries.
	svc.DB.Model(&models.Bounty{}).Where("id = ?", bounty.ID).Update("status", models.BountyStatusCancelled)
	if _, err := svc.Submit(ctx, candidate.ID, bounty.ID, "https://github.com/acme/entry", ""); !errors.Is(err, ErrBountyNotOpen) {
		t.Errorf("cancelled: got %v, want ErrBountyNotOpen", err)
	}
}

func TestSubmitRequiresFunding(t *testing.T) {
	svc, _, _, _ := newSubmissionFixture(t)
	candidate := seedCandidate(t, svc.DB, "0x3333333333333333333333333333333333333333")

	// A second bounty that was never funded.
	employer := seedEmployer(t, svc.DB)
	unfunded := seedBounty(t, svc.DB, employer.ID, 1_000_000_000, time.Now().Add(48*time.Hour))

	if _, err := svc.Submit(context.Background(), candidate.ID, unfunded.ID, "https://github.com/acme/entry", ""); !errors.Is(err, ErrBountyNotFunded) {
		t.Fatalf("unfunded: got %v, want ErrBountyNotFunded", err)
	}
}
