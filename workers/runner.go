// workers/runner.go
package workers

import (
	"context"
	"fmt"
	"log"
	"time"

	"bounty-payout-system/models"
	"bounty-payout-system/utils"
)

// HandlerFunc processes one job payload. Returning an error requeues the job
// per the retry policy, so handlers must be idempotent under redelivery.
type HandlerFunc func(ctx context.Context, payload models.JSONMap) error

// Runner polls the queue and dispatches claimed jobs to registered handlers.
type Runner struct {
	queue        *Queue
	handlers     map[string]HandlerFunc
	pollInterval time.Duration
}

func NewRunner(queue *Queue, pollInterval time.Duration) *Runner {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Runner{
		queue:        queue,
		handlers:     make(map[string]HandlerFunc),
		pollInterval: pollInterval,
	}
}

func (r *Runner) Register(queue string, handler HandlerFunc) {
	r.handlers[queue] = handler
}

func (r *Runner) queueNames() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Start blocks until ctx is cancelled, draining due jobs between polls.
func (r *Runner) Start(ctx context.Context) {
	log.Printf("[Worker] Started, handling queues: %v", r.queueNames())

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	sweeper := time.NewTicker(time.Minute)
	defer sweeper.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Worker] Shutting down")
			return
		case <-sweeper.C:
			// A worker that died mid-job leaves the row active. Hand it
			// back to whoever polls next so delivery stays at-least-once.
			if n, err := r.queue.RequeueStuck(StuckActiveTimeout); err != nil {
				log.Printf("[Worker] Stuck-job sweep error: %v", err)
			} else if n > 0 {
				log.Printf("[Worker] Requeued %d stuck job(s)", n)
			}
		case <-ticker.C:
			for {
				job, err := r.queue.ClaimNext(r.queueNames())
				if err != nil {
					log.Printf("[Worker] Claim error: %v", err)
					break
				}
				if job == nil {
					break
				}
				r.dispatch(ctx, job)
			}
		}
	}
}

func (r *Runner) dispatch(ctx context.Context, job *models.Job) {
	handler := r.handlers[job.Queue]
	if handler == nil {
		r.failJob(job, fmt.Errorf("no handler registered for queue %s", job.Queue))
		return
	}

	if err := r.runHandler(ctx, handler, job); err != nil {
		log.Printf("[Worker] Job %s on %s failed (attempt %d/%d): %v",
			job.ID, job.Queue, job.Attempts, job.MaxAttempts, err)
		r.failJob(job, err)
		return
	}

	utils.JobsProcessed.WithLabelValues(job.Queue).Inc()
	if err := r.queue.Complete(job); err != nil {
		log.Printf("[Worker] Failed to mark job %s completed: %v", job.ID, err)
	}
}

func (r *Runner) runHandler(ctx context.Context, handler HandlerFunc, job *models.Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return handler(ctx, job.Payload)
}

func (r *Runner) failJob(job *models.Job, cause error) {
	utils.JobsFailed.WithLabelValues(job.Queue).Inc()
	if err := r.queue.Fail(job, cause); err != nil {
		log.Printf("[Worker] Failed to record failure for job %s: %v", job.ID, err)
	}
}
