// models/submission.go
package models

import "time"

type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusRejected ReviewStatus = "rejected"
	ReviewStatusWinner   ReviewStatus = "winner"
)

// Submission is a candidate's entry for a bounty, unique per (bounty, candidate).
// Invariant: IsWinner is true iff ReviewStatus == winner.
type Submission struct {
	ID              string       `gorm:"primaryKey;type:uuid" json:"id"`
	BountyID        string       `gorm:"type:uuid;not null;index:uniq_submission,unique" json:"bounty_id"`
	CandidateID     string       `gorm:"type:uuid;not null;index:uniq_submission,unique;index" json:"candidate_id"`
	RepoURL         string       `json:"repo_url"`
	PullRequestURL  string       `json:"pull_request_url"`
	ArtifactURL     string       `json:"artifact_url,omitempty"`
	IsWinner        bool         `gorm:"not null;default:false" json:"is_winner"`
	ReviewStatus    ReviewStatus `gorm:"type:varchar(16);not null;default:pending" json:"review_status"`
	RejectionReason *string      `json:"rejection_reason,omitempty"`
	ReviewedAt      *time.Time   `json:"reviewed_at,omitempty"`
	SubmittedAt     time.Time    `gorm:"not null" json:"submitted_at"`
	CreatedAt       time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}
