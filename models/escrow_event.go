// models/escrow_event.go
package models

import "time"

type EscrowEventType string

const (
	EscrowEventCreated   EscrowEventType = "BountyCreated"
	EscrowEventClaimed   EscrowEventType = "BountyClaimed"
	EscrowEventCancelled EscrowEventType = "BountyCancelled"
	EscrowEventExpired   EscrowEventType = "BountyExpired"
)

// BountyStatusFor maps a state-changing event to the terminal bounty status it
// drives. BountyCreated carries no status transition and returns ok=false.
func (t EscrowEventType) BountyStatusFor() (BountyStatus, bool) {
	switch t {
	case EscrowEventClaimed:
		return BountyStatusClaimed, true
	case EscrowEventCancelled:
		return BountyStatusCancelled, true
	case EscrowEventExpired:
		return BountyStatusExpired, true
	}
	return "", false
}

// EscrowEvent is the append-only, authoritative log of on-chain lifecycle
// events. Unique per (tx hash, event type) so overlapping sync windows absorb
// duplicate deliveries. Owned solely by the synchronizer, never mutated.
type EscrowEvent struct {
	ID              string          `gorm:"primaryKey;type:uuid" json:"id"`
	OnchainBountyID string          `gorm:"type:varchar(78);not null;index" json:"onchain_bounty_id"`
	EventType       EscrowEventType `gorm:"type:varchar(32);not null;index:uniq_escrow_event,unique" json:"event_type"`
	TxHash          string          `gorm:"type:varchar(66);not null;index:uniq_escrow_event,unique" json:"tx_hash"`
	BlockNumber     uint64          `gorm:"not null;index" json:"block_number"`
	Payload         JSONMap         `json:"payload"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
