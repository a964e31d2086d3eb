// models/job.go
package models

import "time"

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	// JobStatusDead means retries are exhausted; the row is kept for inspection.
	JobStatusDead JobStatus = "dead"
)

// Queue names. Payloads are JSON; delivery is at-least-once, so every handler
// must be idempotent under redelivery.
const (
	QueueSyncEscrowEvents     = "sync_escrow_events"
	QueueReconcileBountyState = "reconcile_bounty_state"
	QueueRecoverOrphanPayouts = "recover_orphaned_payouts"
	QueueCircleWithdrawPoll   = "circle_withdraw_status_poll"
	QueueSendNotification     = "send_notification"
	QueueRepoProvision        = "repo_provision"
	QueueRepoAccessRevoke     = "repo_access_revoke"
)

// Job is one durable unit of work. Workers claim rows with a conditional
// pending->active update, so a job is delivered to exactly one worker at a
// time even across processes.
type Job struct {
	ID          string     `gorm:"primaryKey;type:uuid" json:"id"`
	Queue       string     `gorm:"type:varchar(64);not null;index" json:"queue"`
	Payload     JSONMap    `json:"payload"`
	Status      JobStatus  `gorm:"type:varchar(16);not null;default:pending;index:idx_job_ready" json:"status"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts int        `gorm:"not null" json:"max_attempts"`
	RunAt       time.Time  `gorm:"not null;index:idx_job_ready" json:"run_at"`
	LastError   *string    `json:"last_error,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
