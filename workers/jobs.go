// workers/jobs.go
package workers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"bounty-payout-system/models"
	"bounty-payout-system/services"
)

// payloadString reads an optional string field from a job payload.
func payloadString(payload models.JSONMap, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

// payloadUint64 reads an optional block number. JSON numbers arrive as
// float64 after the jsonb round trip, strings are accepted too.
func payloadUint64(payload models.JSONMap, key string) (*uint64, error) {
	raw, ok := payload[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case float64:
		if v < 0 {
			return nil, fmt.Errorf("%s must be non-negative", key)
		}
		n := uint64(v)
		return &n, nil
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		return &n, nil
	default:
		return nil, fmt.Errorf("invalid %s type %T", key, raw)
	}
}

// RegisterJobHandlers binds every queue to its handler on the runner.
func RegisterJobHandlers(
	runner *Runner,
	sync *services.SyncService,
	reconcile *services.ReconcileService,
	withdrawals *services.WithdrawalService,
	sender *services.NotificationSender,
	repos *services.RepoProvisioner,
) {
	runner.Register(models.QueueSyncEscrowEvents, func(ctx context.Context, payload models.JSONMap) error {
		from, err := payloadUint64(payload, "fromBlock")
		if err != nil {
			return err
		}
		to, err := payloadUint64(payload, "toBlock")
		if err != nil {
			return err
		}
		return sync.Run(ctx, from, to)
	})

	runner.Register(models.QueueReconcileBountyState, func(ctx context.Context, payload models.JSONMap) error {
		_, err := reconcile.ExpireStale(time.Now())
		return err
	})

	runner.Register(models.QueueRecoverOrphanPayouts, func(ctx context.Context, payload models.JSONMap) error {
		_, err := reconcile.RecoverOrphans(time.Now())
		return err
	})

	runner.Register(models.QueueCircleWithdrawPoll, func(ctx context.Context, payload models.JSONMap) error {
		payoutID := payloadString(payload, "payoutId")
		externalRef := payloadString(payload, "externalRef")
		if payoutID == "" || externalRef == "" {
			return fmt.Errorf("poll job missing payoutId or externalRef")
		}
		return withdrawals.PollTransfer(ctx, payoutID, externalRef)
	})

	runner.Register(models.QueueSendNotification, func(ctx context.Context, payload models.JSONMap) error {
		return sender.Send(ctx, payload)
	})

	runner.Register(models.QueueRepoProvision, func(ctx context.Context, payload models.JSONMap) error {
		return repos.ProvisionRepo(ctx, payload)
	})

	runner.Register(models.QueueRepoAccessRevoke, func(ctx context.Context, payload models.JSONMap) error {
		return repos.RevokeAccess(ctx, payload)
	})
}
