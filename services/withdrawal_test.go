package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"bounty-payout-system/models"
)

type stubCircle struct {
	nextID    string
	status    string
	createErr error
	created   []CircleTransferRequest
}

func (c *stubCircle) CreateTransfer(_ context.Context, req CircleTransferRequest) (*CircleTransfer, error) {
	if c.createErr != nil {
		return nil, c.createErr
	}
	c.created = append(c.created, req)
	return &CircleTransfer{ID: c.nextID, Status: c.status}, nil
}

func (c *stubCircle) TransferStatus(_ context.Context, _ string) (string, error) {
	return c.status, nil
}

func newWithdrawalFixture(t *testing.T) (*WithdrawalService, *stubCircle, *fakeQueue) {
	t.Helper()
	db := newTestDB(t)
	circle := &stubCircle{nextID: "transfer-1", status: "pending"}
	queue := &fakeQueue{}
	svc := NewWithdrawalService(db, circle, queue, NewAuditService(db), NewNotifier(queue))
	svc.lock = noopLock
	return svc, circle, queue
}

func credit(t *testing.T, svc *WithdrawalService, candidateID string, amountMicros int64) {
	t.Helper()
	err := svc.DB.Create(&models.Payout{
		ID:          uuid.NewString(),
		CandidateID: candidateID,
		Provider:    models.PayoutProviderInternal,
		Status:      models.PayoutStatusCompleted,
		AmountUSDC:  amountMicros,
	}).Error
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
}

func TestAvailableBalance(t *testing.T) {
	svc, _, _ := newWithdrawalFixture(t)
	candidate := seedCandidate(t, svc.DB, "0x3333333333333333333333333333333333333333")

	credit(t, svc, candidate.ID, 500_000_000)

	// A pending circle withdrawal reserves its amount.
	ref := "transfer-prior"
	svc.DB.Create(&models.Payout{
		ID: uuid.NewString(), CandidateID: candidate.ID,
		Provider: models.PayoutProviderCircle, Status: models.PayoutStatusPending,
		AmountUSDC: 200_000_000, ExternalRef: &ref,
	})

	available, err := svc.AvailableBalance(svc.DB, candidate.ID)
	if err != nil {
		t.Fatal(err)
	}
	if available != 300_000_000 {
		t.Fatalf("available = %d, want 300000000", available)
	}

	// A failed circle row releases its reservation.
	svc.DB.Model(&models.Payout{}).Where("external_ref = ?", ref).Update("status", models.PayoutStatusFailed)
	available, err = svc.AvailableBalance(svc.DB, candidate.ID)
	if err != nil {
		t.Fatal(err)
	}
	if available != 500_000_000 {
		t.Fatalf("after failure: available = %d, want 500000000", available)
	}
}

func TestWithdrawOverdrawPrevention(t *testing.T) {
	svc, _, _ := newWithdrawalFixture(t)
	candidate := seedCandidate(t, svc.DB, "0x3333333333333333333333333333333333333333")
	credit(t, svc, candidate.ID, 500_000_000)

	// A settled external payout of 200 leaves 300 spendable.
	ref := "transfer-prior"
	svc.DB.Create(&models.Payout{
		ID: uuid.NewString(), CandidateID: candidate.ID,
		Provider: models.PayoutProviderCircle, Status: models.PayoutStatusCompleted,
		AmountUSDC: 200_000_000, ExternalRef: &ref,
	})

	// 300.01 exceeds the 300.00 available after the reservation.
	if _, err := svc.Withdraw(context.Background(), candidate.ID, "300.01", "bank-1", "USD"); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("overdraw: got %v, want ErrInsufficientBalance", err)
	}

	if _, err := svc.Withdraw(context.Background(), candidate.ID, "300.00", "bank-1", "USD"); err != nil {
		t.Fatalf("exact amount: %v", err)
	}
}

func TestWithdrawBooksFlooredAmount(t *testing.T) {
	svc, circle, queue := newWithdrawalFixture(t)
	candidate := seedCandidate(t, svc.DB, "0x3333333333333333333333333333333333333333")
	credit(t, svc, candidate.ID, 500_000_000)

	payout, err := svc.Withdraw(context.Background(), candidate.ID, "100.009999", "bank-1", "USD")
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	// Sub-cent precision is dropped before booking.
	if payout.AmountUSDC != 100_000_000 {
		t.Errorf("booked amount = %d, want 100000000", payout.AmountUSDC)
	}
	if payout.ExternalRef == nil || *payout.ExternalRef != "transfer-1" {
		t.Errorf("external ref = %v", payout.ExternalRef)
	}
	if len(circle.created) != 1 || circle.created[0].AmountUSD2 != "100.00" {
		t.Errorf("provider request = %+v", circle.created)
	}
	if circle.created[0].IdempotencyKey == "" {
		t.Error("idempotency key missing")
	}
	if payout.Metadata[models.PayoutMetaIdempotencyKey] != circle.created[0].IdempotencyKey {
		t.Error("idempotency key not recorded on the ledger row")
	}
	if queue.count(models.QueueCircleWithdrawPoll) != 1 {
		t.Errorf("poll jobs = %d, want 1", queue.count(models.QueueCircleWithdrawPoll))
	}

	if _, err := svc.Withdraw(context.Background(), candidate.ID, "0.001", "bank-1", "USD"); err == nil || !strings.Contains(err.Error(), "precision") {
		t.Errorf("below precision: got %v", err)
	}
}

func TestWithdrawProviderFailureResolvesLedgerRow(t *testing.T) {
	svc, circle, queue := newWithdrawalFixture(t)
	candidate := seedCandidate(t, svc.DB, "0x3333333333333333333333333333333333333333")
	credit(t, svc, candidate.ID, 500_000_000)

	circle.createErr = errors.New("connection refused")

	payout, err := svc.Withdraw(context.Background(), candidate.ID, "100", "bank-1", "USD")
	if !errors.Is(err, ErrCircleAPI) {
		t.Fatalf("got %v, want ErrCircleAPI", err)
	}

	var stored models.Payout
	svc.DB.First(&stored, "id = ?", payout.ID)
	if stored.Status != models.PayoutStatusFailed {
		t.Errorf("status = %s, want failed", stored.Status)
	}
	if stored.Metadata[models.PayoutMetaFailureReason] != "provider_call_failed" {
		t.Errorf("failure reason = %v", stored.Metadata[models.PayoutMetaFailureReason])
	}
	if queue.count(models.QueueCircleWithdrawPoll) != 0 {
		t.Error("no poll job expected after provider failure")
	}

	// The failed row no longer reserves balance.
	available, err := svc.AvailableBalance(svc.DB, candidate.ID)
	if err != nil {
		t.Fatal(err)
	}
	if available != 500_000_000 {
		t.Errorf("available = %d, want full 500000000", available)
	}
}

func TestApplyProviderStatus(t *testing.T) {
	svc, _, queue := newWithdrawalFixture(t)
	candidate := seedCandidate(t, svc.DB, "0x3333333333333333333333333333333333333333")

	ref := "transfer-9"
	svc.DB.Create(&models.Payout{
		ID: uuid.NewString(), CandidateID: candidate.ID,
		Provider: models.PayoutProviderCircle, Status: models.PayoutStatusPending,
		AmountUSDC: 100_000_000, ExternalRef: &ref,
	})

	changed, err := svc.ApplyProviderStatus(ref, "processing", true)
	if err != nil || !changed {
		t.Fatalf("processing: changed=%v err=%v", changed, err)
	}

	// An unrecognized provider status normalizes to pending and must not
	// walk the processing row backwards.
	changed, err = svc.ApplyProviderStatus(ref, "initiated", true)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("unrecognized status must not report a change")
	}
	var midway models.Payout
	svc.DB.First(&midway, "external_ref = ?", ref)
	if midway.Status != models.PayoutStatusProcessing {
		t.Errorf("status after unrecognized delivery = %s, want processing", midway.Status)
	}

	changed, err = svc.ApplyProviderStatus(ref, "complete", true)
	if err != nil || !changed {
		t.Fatalf("complete: changed=%v err=%v", changed, err)
	}
	if got := queue.count(models.QueueSendNotification); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}

	// Redelivery of the terminal status is absorbed without a second notification.
	changed, err = svc.ApplyProviderStatus(ref, "complete", true)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("redelivery must not report a change")
	}
	if got := queue.count(models.QueueSendNotification); got != 1 {
		t.Errorf("notifications after redelivery = %d, want 1", got)
	}

	// Terminal states are never left.
	changed, _ = svc.ApplyProviderStatus(ref, "failed", true)
	if changed {
		t.Error("terminal row must not transition again")
	}
	var stored models.Payout
	svc.DB.First(&stored, "external_ref = ?", ref)
	if stored.Status != models.PayoutStatusCompleted {
		t.Errorf("status = %s, want completed", stored.Status)
	}
}

func TestPollTransferRetriesUntilTerminal(t *testing.T) {
	svc, circle, _ := newWithdrawalFixture(t)
	candidate := seedCandidate(t, svc.DB, "0x3333333333333333333333333333333333333333")

	ref := "transfer-11"
	payoutID := uuid.NewString()
	svc.DB.Create(&models.Payout{
		ID: payoutID, CandidateID: candidate.ID,
		Provider: models.PayoutProviderCircle, Status: models.PayoutStatusPending,
		AmountUSDC: 100_000_000, ExternalRef: &ref,
		CreatedAt: time.Now(),
	})

	circle.status = "pending"
	if err := svc.PollTransfer(context.Background(), payoutID, ref); err == nil {
		t.Fatal("non-terminal status must return an error so the job retries")
	}

	circle.status = "complete"
	if err := svc.PollTransfer(context.Background(), payoutID, ref); err != nil {
		t.Fatalf("terminal status: %v", err)
	}

	var stored models.Payout
	svc.DB.First(&stored, "id = ?", payoutID)
	if stored.Status != models.PayoutStatusCompleted {
		t.Errorf("status = %s, want completed", stored.Status)
	}
}
