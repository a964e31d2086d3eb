// services/circle.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bounty-payout-system/models"
)

const circleSandboxBaseURL = "https://api-sandbox.circle.com/v1"

var ErrCircleAPI = errors.New("circle api error")

// CircleClient drives the external payment provider over its REST API.
type CircleClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewCircleClient(apiKey, baseURL string) *CircleClient {
	if baseURL == "" {
		baseURL = circleSandboxBaseURL
	}
	return &CircleClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type CircleTransfer struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type CircleTransferRequest struct {
	// IdempotencyKey makes a repeated create call a no-op on the provider side.
	IdempotencyKey      string
	AmountUSD2          string
	BankAccountID       string
	DestinationCurrency string
}

func (c *CircleClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode circle payload: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build circle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCircleAPI, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("%w: %d %s", ErrCircleAPI, res.StatusCode, string(detail))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: bad response body: %v", ErrCircleAPI, err)
	}
	return nil
}

// CreateTransfer issues a wire transfer from the platform wallet.
func (c *CircleClient) CreateTransfer(ctx context.Context, req CircleTransferRequest) (*CircleTransfer, error) {
	payload := map[string]interface{}{
		"idempotencyKey": req.IdempotencyKey,
		"source":         map[string]string{"type": "wallet"},
		"destination": map[string]string{
			"type": "wire",
			"id":   req.BankAccountID,
		},
		"amount": map[string]string{
			"amount":   req.AmountUSD2,
			"currency": "USD",
		},
		"toAmount": map[string]string{
			"amount":   req.AmountUSD2,
			"currency": req.DestinationCurrency,
		},
	}

	var response struct {
		Data CircleTransfer `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/transfers", payload, &response); err != nil {
		return nil, err
	}
	return &response.Data, nil
}

// TransferStatus fetches the provider-side status of a transfer.
func (c *CircleClient) TransferStatus(ctx context.Context, transferID string) (string, error) {
	var response struct {
		Data CircleTransfer `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/transfers/"+transferID, nil, &response); err != nil {
		return "", err
	}
	return response.Data.Status, nil
}

// NormalizePayoutStatus maps the provider's status vocabulary onto the local
// payout statuses. Unknown states are treated as still pending.
func NormalizePayoutStatus(status string) models.PayoutStatus {
	switch strings.ToLower(status) {
	case "complete", "completed":
		return models.PayoutStatusCompleted
	case "failed":
		return models.PayoutStatusFailed
	case "cancelled":
		return models.PayoutStatusCancelled
	case "processing":
		return models.PayoutStatusProcessing
	default:
		return models.PayoutStatusPending
	}
}
