// workers/queue.go
package workers

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bounty-payout-system/models"
)

// RetryPolicy bounds redelivery of failed jobs: exponential backoff from
// BackoffBase, doubling per attempt, capped at BackoffCap. After MaxAttempts
// the job is dead-lettered.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 6,
		BackoffBase: 30 * time.Second,
		BackoffCap:  time.Hour,
	}
}

// Delay returns the wait before redelivering a job that has failed `attempt`
// times (attempt >= 1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.BackoffCap {
			return p.BackoffCap
		}
	}
	if d > p.BackoffCap {
		return p.BackoffCap
	}
	return d
}

// Queue is a Postgres-backed job queue with at-least-once delivery. Jobs are
// claimed with a conditional pending->active update, so concurrent workers
// never run the same job twice at once.
type Queue struct {
	db     *gorm.DB
	policy RetryPolicy
}

func NewQueue(db *gorm.DB, policy RetryPolicy) *Queue {
	return &Queue{db: db, policy: policy}
}

func (q *Queue) Enqueue(queue string, payload models.JSONMap) error {
	return q.EnqueueAt(queue, payload, time.Now())
}

func (q *Queue) EnqueueAt(queue string, payload models.JSONMap, runAt time.Time) error {
	job := models.Job{
		ID:          uuid.NewString(),
		Queue:       queue,
		Payload:     payload,
		Status:      models.JobStatusPending,
		MaxAttempts: q.policy.MaxAttempts,
		RunAt:       runAt,
	}
	if err := q.db.Create(&job).Error; err != nil {
		return fmt.Errorf("failed to enqueue %s job: %w", queue, err)
	}
	return nil
}

// ClaimNext picks the oldest due pending job and marks it active. Returns nil
// when nothing is due. Losing the conditional update to another worker is not
// an error; the caller simply polls again.
func (q *Queue) ClaimNext(queues []string) (*models.Job, error) {
	var job models.Job
	err := q.db.
		Where("status = ? AND run_at <= ?", models.JobStatusPending, time.Now()).
		Where("queue IN ?", queues).
		Order("run_at asc").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to poll jobs: %w", err)
	}

	res := q.db.Model(&models.Job{}).
		Where("id = ? AND status = ?", job.ID, models.JobStatusPending).
		Updates(map[string]interface{}{
			"status":   models.JobStatusActive,
			"attempts": gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", job.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		// Another worker got there first.
		return nil, nil
	}

	job.Status = models.JobStatusActive
	job.Attempts++
	return &job, nil
}

// Complete marks a job done.
func (q *Queue) Complete(job *models.Job) error {
	now := time.Now()
	return q.db.Model(&models.Job{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":      models.JobStatusCompleted,
			"finished_at": now,
		}).Error
}

// Fail records a handler error: the job is rescheduled with backoff until
// attempts are exhausted, then dead-lettered with the last error kept.
func (q *Queue) Fail(job *models.Job, handlerErr error) error {
	msg := handlerErr.Error()
	updates := map[string]interface{}{
		"last_error": msg,
	}

	if job.Attempts >= job.MaxAttempts {
		now := time.Now()
		updates["status"] = models.JobStatusDead
		updates["finished_at"] = now
	} else {
		updates["status"] = models.JobStatusPending
		updates["run_at"] = time.Now().Add(q.policy.Delay(job.Attempts))
	}

	return q.db.Model(&models.Job{}).Where("id = ?", job.ID).Updates(updates).Error
}

// StuckActiveTimeout is how long a job may sit active before it is assumed
// lost to a crashed worker and returned to pending.
const StuckActiveTimeout = 15 * time.Minute

// RequeueStuck returns active jobs untouched for longer than the visibility
// timeout to pending. Attempts are kept, so a job whose worker keeps dying
// still dead-letters once they run out.
func (q *Queue) RequeueStuck(timeout time.Duration) (int64, error) {
	now := time.Now()
	res := q.db.Model(&models.Job{}).
		Where("status = ? AND updated_at < ?", models.JobStatusActive, now.Add(-timeout)).
		Updates(map[string]interface{}{
			"status": models.JobStatusPending,
			"run_at": now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to requeue stuck jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
