package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/CobroFox/internal/pkg/cache"
	"github.com/ManuelReschke/CobroFox/internal/pkg/mail"
)

// Redis layout of the outbox. Pending and in-flight are lists of job ids,
// delayed retries live in a sorted set scored by their due unix time.
const (
	jobKeyPrefix = "mail:job:"
	pendingKey   = "mail:pending"
	inFlightKey  = "mail:inflight"
	retryKey     = "mail:retry"
	statsKey     = "mail:stats"
)

const (
	DefaultMaxRetries = 3

	jobTTL              = 24 * time.Hour
	retryStep           = time.Minute
	maxRetryDelay       = 15 * time.Minute
	stuckAfter          = 10 * time.Minute
	housekeepingEvery   = 30 * time.Second
	claimTimeout        = time.Second
	defaultQueueWorkers = 3
)

// QueueStats is the outbox snapshot served on /healthz.
type QueueStats struct {
	Pending   int64 `json:"pending"`
	InFlight  int64 `json:"in_flight"`
	Retrying  int64 `json:"retrying"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Queue is a Redis backed outbox for notification emails.
type Queue struct {
	client  *redis.Client
	sender  mail.Sender
	workers int

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewQueue creates a queue on the shared cache client
func NewQueue(workers int) *Queue {
	return NewQueueWithClient(cache.GetClient(), workers)
}

func NewQueueWithClient(client *redis.Client, workers int) *Queue {
	if workers <= 0 {
		workers = defaultQueueWorkers
	}
	return &Queue{client: client, workers: workers}
}

// SetSender sets the transport used by send_email jobs
func (q *Queue) SetSender(sender mail.Sender) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sender = sender
}

func (q *Queue) mailSender() mail.Sender {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sender
}

// Start launches the workers and the housekeeping loop
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.running = true
	log.Infof("[JobQueue] Starting %d workers", q.workers)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.wg.Add(1)
	go q.housekeeping(ctx)
}

// Stop cancels the workers and waits for in-flight jobs to finish
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	cancel := q.cancel
	q.mu.Unlock()

	log.Info("[JobQueue] Stopping workers...")
	cancel()
	q.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		job, err := q.claim(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			log.Errorf("[JobQueue] Worker %d: claim failed: %v", id, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		// A claimed job runs to completion even while stopping.
		q.process(context.WithoutCancel(ctx), job)
	}
}

func (q *Queue) housekeeping(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(housekeepingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n, err := q.promoteDue(ctx, now); err != nil {
				log.Errorf("[JobQueue] Promoting retries failed: %v", err)
			} else if n > 0 {
				log.Infof("[JobQueue] %d job(s) due for retry", n)
			}
			if n, err := q.recoverStuckJobs(ctx, stuckAfter, now); err != nil {
				log.Errorf("[JobQueue] Stuck job recovery failed: %v", err)
			} else if n > 0 {
				log.Warnf("[JobQueue] Recovered %d stuck job(s)", n)
			}
		}
	}
}

// Enqueue stores a new job and appends it to the pending list
func (q *Queue) Enqueue(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: DefaultMaxRetries,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKeyPrefix+job.ID, data, jobTTL)
	pipe.LPush(ctx, pendingKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	log.Debugf("[JobQueue] Enqueued job %s (%s)", job.ID, job.Type)
	return job, nil
}

// claim moves the oldest pending id to the in-flight list and loads it
func (q *Queue) claim(ctx context.Context) (*Job, error) {
	id, err := q.client.BLMove(ctx, pendingKey, inFlightKey, "RIGHT", "LEFT", claimTimeout).Result()
	if err != nil {
		return nil, err
	}
	job, err := q.load(ctx, id)
	if err != nil {
		q.client.LRem(ctx, inFlightKey, 1, id)
		return nil, fmt.Errorf("dropping job %s: %w", id, err)
	}
	return job, nil
}

func (q *Queue) load(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.Get(ctx, jobKeyPrefix+id).Result()
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

func (q *Queue) save(ctx context.Context, pipe redis.Pipeliner, job *Job) {
	data, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}
	pipe.Set(ctx, jobKeyPrefix+job.ID, data, jobTTL)
}

func (q *Queue) runJob(ctx context.Context, job *Job) error {
	switch job.Type {
	case JobTypeSendEmail:
		return q.processSendEmailJob(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// retryDelay grows linearly with the attempt number up to maxRetryDelay.
func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := retryStep * time.Duration(attempt)
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// process runs a claimed job and settles it: completed jobs are deleted,
// retryable failures are parked in the retry set, the rest count as failed.
func (q *Queue) process(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	pipe := q.client.TxPipeline()
	q.save(ctx, pipe, job)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[JobQueue] Failed to mark job %s processing: %v", job.ID, err)
	}

	runErr := q.runJob(ctx, job)

	pipe = q.client.TxPipeline()
	pipe.LRem(ctx, inFlightKey, 1, job.ID)
	switch {
	case runErr == nil:
		job.MarkAsCompleted()
		pipe.Del(ctx, jobKeyPrefix+job.ID)
		pipe.HIncrBy(ctx, statsKey, string(JobStatusCompleted), 1)
		log.Debugf("[JobQueue] Job %s completed", job.ID)
	default:
		job.MarkAsFailed(runErr.Error())
		if job.IsRetryable() {
			job.MarkAsRetrying()
			due := time.Now().Add(retryDelay(job.RetryCount))
			q.save(ctx, pipe, job)
			pipe.ZAdd(ctx, retryKey, redis.Z{Score: float64(due.Unix()), Member: job.ID})
			log.Warnf("[JobQueue] Job %s failed (attempt %d/%d), retry at %s: %v",
				job.ID, job.RetryCount, job.MaxRetries, due.Format(time.RFC3339), runErr)
		} else {
			q.save(ctx, pipe, job)
			pipe.HIncrBy(ctx, statsKey, string(JobStatusFailed), 1)
			log.Errorf("[JobQueue] Job %s failed permanently after %d attempt(s): %v", job.ID, job.RetryCount, runErr)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[JobQueue] Failed to settle job %s: %v", job.ID, err)
	}
}

// promoteDue moves retries whose time has come back to the pending list.
func (q *Queue) promoteDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, retryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, id := range ids {
		// Only the caller that removes the member requeues it.
		removed, err := q.client.ZRem(ctx, retryKey, id).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, pendingKey, id).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// recoverStuckJobs requeues in-flight jobs older than maxAge, left behind by
// a crashed worker.
func (q *Queue) recoverStuckJobs(ctx context.Context, maxAge time.Duration, now time.Time) (int, error) {
	ids, err := q.client.LRange(ctx, inFlightKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, id := range ids {
		job, err := q.load(ctx, id)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Unreadable in-flight job %s: %v", id, err)
			}
			q.client.LRem(ctx, inFlightKey, 1, id)
			continue
		}
		started := job.UpdatedAt
		if job.ProcessedAt != nil {
			started = *job.ProcessedAt
		}
		if now.Sub(started) <= maxAge {
			continue
		}

		job.Status = JobStatusPending
		job.ErrorMsg = "recovered after worker crash"
		job.UpdatedAt = now
		pipe := q.client.TxPipeline()
		q.save(ctx, pipe, job)
		pipe.LRem(ctx, inFlightKey, 1, id)
		pipe.RPush(ctx, pendingKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// Stats reads the outbox counters in one round trip
func (q *Queue) Stats(ctx context.Context) (QueueStats, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, pendingKey)
	inFlight := pipe.LLen(ctx, inFlightKey)
	retrying := pipe.ZCard(ctx, retryKey)
	totals := pipe.HGetAll(ctx, statsKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return QueueStats{}, err
	}

	stats := QueueStats{
		Pending:  pending.Val(),
		InFlight: inFlight.Val(),
		Retrying: retrying.Val(),
	}
	counts := totals.Val()
	stats.Completed, _ = strconv.ParseInt(counts[string(JobStatusCompleted)], 10, 64)
	stats.Failed, _ = strconv.ParseInt(counts[string(JobStatusFailed)], 10, 64)
	return stats, nil
}
