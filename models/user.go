// models/user.go
package models

import "time"

type UserRole string

const (
	UserRoleEmployer  UserRole = "employer"
	UserRoleCandidate UserRole = "candidate"
)

// User mirrors the identity supplied by the auth gateway. This service never
// creates or authenticates users; it only reads the mirrored rows.
type User struct {
	ID                 string   `gorm:"primaryKey;type:uuid" json:"id"`
	Role               UserRole `gorm:"type:varchar(16);not null;index" json:"role"`
	GithubUsername     string   `gorm:"not null" json:"github_username"`
	Email              string   `json:"email,omitempty"`
	EmailNotifications bool     `gorm:"not null;default:true" json:"email_notifications"`
	// PayoutAddress is the candidate's registered wallet address, stored lower-case.
	PayoutAddress string    `gorm:"type:varchar(42)" json:"payout_address,omitempty"`
	CompanyName   string    `json:"company_name,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// EmployerBlock prevents a candidate from submitting to an employer's bounties.
type EmployerBlock struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	EmployerID  string    `gorm:"type:uuid;not null;index:uniq_employer_block,unique" json:"employer_id"`
	CandidateID string    `gorm:"type:uuid;not null;index:uniq_employer_block,unique" json:"candidate_id"`
	Reason      string    `gorm:"not null" json:"reason"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
