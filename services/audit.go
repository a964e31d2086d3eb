// services/audit.go
package services

import (
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bounty-payout-system/models"
)

// Enqueuer is what services need from the job queue; satisfied by
// workers.Queue.
type Enqueuer interface {
	Enqueue(queue string, payload models.JSONMap) error
}

// AuditService appends privileged-action entries. Failures are logged, never
// propagated: auditing must not fail the action it records.
type AuditService struct {
	DB *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{DB: db}
}

func (s *AuditService) Write(action, actorID string, payload models.JSONMap) {
	entry := models.AuditLog{
		ID:      uuid.NewString(),
		Action:  action,
		ActorID: actorID,
		Payload: payload,
	}
	if err := s.DB.Create(&entry).Error; err != nil {
		log.Printf("[Audit] Failed to persist %s entry: %v", action, err)
		return
	}
	log.Printf("[Audit] %s actor=%s", action, actorID)
}
