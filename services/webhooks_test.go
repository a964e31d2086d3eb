package services

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"bounty-payout-system/models"
)

func newWebhookApp(t *testing.T) (*fiber.App, *WithdrawalService, *fakeQueue) {
	t.Helper()
	db := newTestDB(t)
	queue := &fakeQueue{}
	withdrawals := NewWithdrawalService(db, &stubCircle{}, queue, NewAuditService(db), NewNotifier(queue))
	withdrawals.lock = noopLock

	svc := NewWebhookService(
		NewCircleWebhookVerifier("circle-secret"),
		NewGitHubWebhookVerifier("github-secret"),
		withdrawals,
	)

	app := fiber.New()
	app.Post("/webhooks/circle", svc.HandleCircle)
	app.Post("/webhooks/github", svc.HandleGitHub)
	return app, withdrawals, queue
}

func circleRequest(body, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/circle", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Circle-Signature", signature)
	}
	return req
}

func TestCircleWebhook(t *testing.T) {
	app, withdrawals, queue := newWebhookApp(t)
	candidate := seedCandidate(t, withdrawals.DB, "0x3333333333333333333333333333333333333333")

	ref := "transfer-77"
	withdrawals.DB.Create(&models.Payout{
		ID: uuid.NewString(), CandidateID: candidate.ID,
		Provider: models.PayoutProviderCircle, Status: models.PayoutStatusPending,
		AmountUSDC: 100_000_000, ExternalRef: &ref,
	})

	body := fmt.Sprintf(`{"notificationType":"transfers","transfer":{"id":%q,"status":"complete"}}`, ref)

	// Unsigned and wrongly signed deliveries are rejected.
	resp, err := app.Test(circleRequest(body, ""))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unsigned: status = %d, want 401", resp.StatusCode)
	}
	resp, err = app.Test(circleRequest(body, signHex("wrong-secret", body)))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad signature: status = %d, want 401", resp.StatusCode)
	}

	// A valid delivery applies the status and notifies.
	resp, err = app.Test(circleRequest(body, signHex("circle-secret", body)))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid: status = %d, want 200", resp.StatusCode)
	}

	var stored models.Payout
	withdrawals.DB.First(&stored, "external_ref = ?", ref)
	if stored.Status != models.PayoutStatusCompleted {
		t.Fatalf("payout status = %s, want completed", stored.Status)
	}
	webhookAt, _ := stored.Metadata[models.PayoutMetaLastWebhookAt].(string)
	if webhookAt == "" {
		t.Error("delivery must stamp the last webhook time")
	} else if _, err := time.Parse(time.RFC3339, webhookAt); err != nil {
		t.Errorf("last webhook time %q: %v", webhookAt, err)
	}
	if queue.count(models.QueueSendNotification) != 1 {
		t.Errorf("notifications = %d, want 1", queue.count(models.QueueSendNotification))
	}

	// Redelivery is acknowledged without a second notification.
	resp, err = app.Test(circleRequest(body, signHex("circle-secret", body)))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("redelivery: status = %d, want 200", resp.StatusCode)
	}
	if queue.count(models.QueueSendNotification) != 1 {
		t.Errorf("notifications after redelivery = %d, want 1", queue.count(models.QueueSendNotification))
	}
}

func TestCircleWebhookIgnoresNonTransferNotifications(t *testing.T) {
	app, _, _ := newWebhookApp(t)

	body := `{"notificationType":"ping"}`
	resp, err := app.Test(circleRequest(body, signHex("circle-secret", body)))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ping: status = %d, want 200", resp.StatusCode)
	}
}

func TestGitHubWebhook(t *testing.T) {
	app, _, _ := newWebhookApp(t)
	body := `{"action":"opened"}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewBufferString(body))
	req.Header.Set("X-GitHub-Event", "pull_request")
	req.Header.Set("X-Hub-Signature-256", "sha256="+signHex("github-secret", body))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid: status = %d, want 200", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewBufferString(body))
	req.Header.Set("X-Hub-Signature-256", "sha256="+signHex("wrong", body))
	resp, err = app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad signature: status = %d, want 401", resp.StatusCode)
	}
}
