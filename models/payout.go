// models/payout.go
package models

import "time"

type PayoutProvider string

const (
	// PayoutProviderInternal is a ledger credit created when a winner is claimed.
	PayoutProviderInternal PayoutProvider = "internal"
	// PayoutProviderCircle is an external transfer through the payment provider.
	PayoutProviderCircle PayoutProvider = "circle"
)

type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusCancelled  PayoutStatus = "cancelled"
)

func (s PayoutStatus) Terminal() bool {
	switch s {
	case PayoutStatusCompleted, PayoutStatusFailed, PayoutStatusCancelled:
		return true
	}
	return false
}

// Payout metadata keys. The idempotency key is generated once per external
// withdrawal and reused verbatim on provider retries.
const (
	PayoutMetaIdempotencyKey      = "idempotencyKey"
	PayoutMetaRequestedAmount     = "requestedAmountUsdc"
	PayoutMetaTransferAmount      = "transferAmountUsd2"
	PayoutMetaBankAccountID       = "bankAccountId"
	PayoutMetaDestinationCurrency = "destinationCurrency"
	PayoutMetaWinnerAddress       = "winnerAddress"
	PayoutMetaClaimTxHash         = "claimTxHash"
	PayoutMetaOnchainBountyID     = "onchainBountyId"
	PayoutMetaFailureReason       = "failureReason"
	PayoutMetaLastWebhookAt       = "lastWebhookAt"
)

// Payout is one ledger movement for a candidate: internal credits add to the
// spendable balance, circle rows in pending/processing/completed reserve it.
// Status transitions are forward-only; terminal states are never left.
type Payout struct {
	ID           string         `gorm:"primaryKey;type:uuid" json:"id"`
	SubmissionID *string        `gorm:"type:uuid" json:"submission_id,omitempty"`
	CandidateID  string         `gorm:"type:uuid;not null;index" json:"candidate_id"`
	Provider     PayoutProvider `gorm:"type:varchar(16);not null;index" json:"provider"`
	Status       PayoutStatus   `gorm:"type:varchar(16);not null;default:pending;index" json:"status"`
	// AmountUSDC in micro-USDC (6 decimals).
	AmountUSDC  int64     `gorm:"not null" json:"amount_usdc"`
	ExternalRef *string   `gorm:"index" json:"external_ref,omitempty"`
	Metadata    JSONMap   `json:"metadata,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
