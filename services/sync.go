// services/sync.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bounty-payout-system/models"
)

// syncLookbackBlocks is the initial scan window when no events have ever been
// recorded.
const syncLookbackBlocks = 5000

// SyncService is the authoritative poller: it pulls all escrow lifecycle
// events from the chain and advances local bounty status, overriding any
// client-reported state. The whole fetch-insert-update batch is one
// transaction; a mid-run failure leaves the watermark unadvanced so the next
// run retries the same window, which is safe because inserts are idempotent.
type SyncService struct {
	DB       *gorm.DB
	verifier *ChainVerifier
}

func NewSyncService(db *gorm.DB, verifier *ChainVerifier) *SyncService {
	return &SyncService{DB: db, verifier: verifier}
}

// Run scans a block range: explicit overrides win, otherwise one past the
// watermark, otherwise a fixed lookback from the chain head.
func (s *SyncService) Run(ctx context.Context, fromOverride, toOverride *uint64) error {
	var toBlock uint64
	if toOverride != nil {
		toBlock = *toOverride
	} else {
		head, err := s.verifier.HeadBlock(ctx)
		if err != nil {
			return err
		}
		toBlock = head
	}

	var fromBlock uint64
	switch {
	case fromOverride != nil:
		fromBlock = *fromOverride
	default:
		var last models.EscrowEvent
		err := s.DB.Order("block_number desc").First(&last).Error
		switch {
		case err == nil:
			fromBlock = last.BlockNumber + 1
		case errors.Is(err, gorm.ErrRecordNotFound):
			if toBlock > syncLookbackBlocks {
				fromBlock = toBlock - syncLookbackBlocks
			}
		default:
			return fmt.Errorf("failed to read event watermark: %w", err)
		}
	}

	if fromBlock > toBlock {
		return nil
	}

	events, err := s.verifier.FetchEscrowEvents(ctx, fromBlock, toBlock)
	if err != nil {
		return err
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		for _, ev := range events {
			row := models.EscrowEvent{
				ID:              uuid.NewString(),
				OnchainBountyID: ev.OnchainBountyID,
				EventType:       ev.Type,
				TxHash:          ev.TxHash,
				BlockNumber:     ev.BlockNumber,
				Payload:         ev.Payload,
			}
			// Unique on (tx hash, event type): duplicate deliveries across
			// overlapping windows are absorbed here.
			insert := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if insert.Error != nil {
				return fmt.Errorf("failed to insert escrow event %s/%s: %w", ev.TxHash, ev.Type, insert.Error)
			}

			status, ok := ev.Type.BountyStatusFor()
			if !ok {
				continue
			}

			// On-chain state is authoritative; the update is deliberately not
			// status-guarded.
			update := tx.Model(&models.Bounty{}).
				Where("onchain_bounty_id = ?", ev.OnchainBountyID).
				Update("status", status)
			if update.Error != nil {
				return fmt.Errorf("failed to advance bounty %s to %s: %w", ev.OnchainBountyID, status, update.Error)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(events) > 0 {
		log.Printf("[Sync] Recorded %d escrow event(s) in blocks %d-%d", len(events), fromBlock, toBlock)
	}
	return nil
}
