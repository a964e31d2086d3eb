// services/github.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"bounty-payout-system/models"
)

// RepoProvisioner talks to the repository-provisioning collaborator. Payloads
// are opaque to this service: it ships bounty/candidate identifiers and repo
// slugs, the collaborator owns everything GitHub-side.
type RepoProvisioner struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewRepoProvisioner(baseURL, token string) *RepoProvisioner {
	return &RepoProvisioner{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *RepoProvisioner) post(ctx context.Context, path string, payload models.JSONMap) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode provisioning payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build provisioning request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provisioning service unreachable: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("provisioning service returned %d", res.StatusCode)
	}
	return nil
}

// ProvisionRepo requests a working repository plus branch grant for a
// candidate who just submitted.
func (c *RepoProvisioner) ProvisionRepo(ctx context.Context, payload models.JSONMap) error {
	return c.post(ctx, "/api/v1/repos", payload)
}

// RevokeAccess removes a candidate's branch grant after cancel or claim.
func (c *RepoProvisioner) RevokeAccess(ctx context.Context, payload models.JSONMap) error {
	return c.post(ctx, "/api/v1/revocations", payload)
}
