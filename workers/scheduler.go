// workers/scheduler.go
package workers

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"bounty-payout-system/models"
)

// StartScheduler installs the recurring triggers for the reconciliation jobs.
// Triggers only enqueue; the runner executes, so a slow run never blocks the
// next tick and every execution goes through the queue's retry policy.
func StartScheduler(queue *Queue) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	type trigger struct {
		queue string
		every time.Duration
	}

	triggers := []trigger{
		{models.QueueSyncEscrowEvents, 2 * time.Minute},
		{models.QueueRecoverOrphanPayouts, 5 * time.Minute},
		{models.QueueReconcileBountyState, 15 * time.Minute},
	}

	for _, t := range triggers {
		t := t
		_, err := sched.NewJob(
			gocron.DurationJob(t.every),
			gocron.NewTask(func() {
				if err := queue.Enqueue(t.queue, models.JSONMap{"trigger": "cron"}); err != nil {
					log.Printf("[Scheduler] Failed to enqueue %s: %v", t.queue, err)
				}
			}),
		)
		if err != nil {
			return nil, err
		}
	}

	sched.Start()
	log.Println("[Scheduler] Recurring triggers installed (2m/5m/15m)")
	return sched, nil
}
