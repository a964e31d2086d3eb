// models/bounty.go
package models

import "time"

type BountyStatus string

const (
	BountyStatusOpen      BountyStatus = "open"
	BountyStatusClaimed   BountyStatus = "claimed"
	BountyStatusCancelled BountyStatus = "cancelled"
	BountyStatusExpired   BountyStatus = "expired"
)

// Terminal reports whether the status admits no further transition.
func (s BountyStatus) Terminal() bool {
	switch s {
	case BountyStatusClaimed, BountyStatusCancelled, BountyStatusExpired:
		return true
	}
	return false
}

// Bounty is the local record of an escrowed hiring bounty. OnchainBountyID is
// set at most once by the funding linker and never cleared; status only moves
// open -> {claimed|cancelled|expired}.
type Bounty struct {
	ID              string  `gorm:"primaryKey;type:uuid" json:"id"`
	OnchainBountyID *string `gorm:"type:varchar(78);uniqueIndex" json:"onchain_bounty_id,omitempty"`
	EmployerID      string  `gorm:"type:uuid;not null;index" json:"employer_id"`
	JobTitle        string  `gorm:"not null" json:"job_title"`
	TaskDescription string  `json:"task_description"`
	RepoTemplateURL string  `json:"repo_template_url,omitempty"`
	// AmountUSDC is the prize in micro-USDC (6 decimals, smallest unit).
	AmountUSDC         int64        `gorm:"not null" json:"amount_usdc"`
	SubmissionDeadline time.Time    `gorm:"not null;index" json:"submission_deadline"`
	GracePeriodDays    int          `gorm:"not null;default:7" json:"grace_period_days"`
	Status             BountyStatus `gorm:"type:varchar(16);not null;default:open;index" json:"status"`
	CreatedAt          time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// ClaimableUntil is the last instant an employer may still select a winner.
func (b *Bounty) ClaimableUntil() time.Time {
	return b.SubmissionDeadline.AddDate(0, 0, b.GracePeriodDays)
}

// BountyFunding links a bounty to its on-chain funding transaction, one-to-one.
// Rows are created exactly once and never modified.
type BountyFunding struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	BountyID string `gorm:"type:uuid;not null;uniqueIndex" json:"bounty_id"`
	// TxHash is stored lower-case; uniqueness makes the hash linkable to at most one bounty.
	TxHash  string `gorm:"type:varchar(66);not null;uniqueIndex" json:"tx_hash"`
	ChainID int64  `gorm:"not null" json:"chain_id"`
	// EscrowAmountUSDC = prize + fee, in micro-USDC.
	EscrowAmountUSDC int64     `gorm:"not null" json:"escrow_amount_usdc"`
	FundedAt         time.Time `gorm:"not null" json:"funded_at"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}
