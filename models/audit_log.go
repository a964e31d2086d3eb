// models/audit_log.go
package models

import "time"

// AuditLog is an append-only trail of privileged actions. Rows are written in
// the same request that performed the action and forwarded to the external
// sink asynchronously.
type AuditLog struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	Action    string    `gorm:"type:varchar(64);not null;index" json:"action"`
	ActorID   string    `gorm:"type:uuid;index" json:"actor_id"`
	Payload   JSONMap   `json:"payload"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
