package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	// Redis keys
	TierKeyPrefix = "webhook_queue:tier:"
	ProcessingKey = "webhook_queue:processing"
	DelayedKey    = "webhook_queue:delayed"
	DeadListKey   = "webhook_queue:dead"
	StatsKey      = "webhook_queue:stats"
	JobKeyPrefix  = "webhook_job:"

	JobTTL      = 7 * 24 * time.Hour
	deadListCap = 1000
	promoteMax  = 500
)

// enqueueScript stores the job only if no live job exists for the event and
// pushes it onto its tier in the same step.
var enqueueScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
  redis.call('LPUSH', KEYS[2], ARGV[3])
  redis.call('HINCRBY', KEYS[3], 'enqueued', 1)
  return 1
end
return 0
`)

// dequeueScript pops the oldest id from the highest non-empty tier and records
// it as in-flight. KEYS are the tiers high to low followed by the processing set.
var dequeueScript = redis.NewScript(`
local processing = KEYS[#KEYS]
for i = 1, #KEYS - 1 do
  local id = redis.call('RPOP', KEYS[i])
  if id then
    redis.call('ZADD', processing, ARGV[1], id)
    return id
  end
end
return false
`)

// promoteScript moves due delayed members ("<tier>:<id>") to the front of their
// tier. KEYS[1] is the delayed set, KEYS[2+n] the list for tier n.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(due) do
  local sep = string.find(member, ':', 1, true)
  local tier = tonumber(string.sub(member, 1, sep - 1))
  local id = string.sub(member, sep + 1)
  redis.call('ZREM', KEYS[1], member)
  redis.call('RPUSH', KEYS[tier + 2], id)
end
return #due
`)

// Options configures retry behaviour
type Options struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	VisibilityTimeout time.Duration
}

// Queue is a Redis-backed priority queue with delayed retries
type Queue struct {
	client   *redis.Client
	attempts AttemptCounter
	opts     Options
	now      func() time.Time
}

// NewQueue creates a queue on client. Attempts are read from counter.
func NewQueue(client *redis.Client, counter AttemptCounter, opts Options) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 30 * time.Second
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 5 * time.Minute
	}
	return &Queue{
		client:   client,
		attempts: counter,
		opts:     opts,
		now:      time.Now,
	}
}

// Options returns the effective options
func (q *Queue) Options() Options {
	return q.opts
}

// TierKey returns the list key for priority p
func TierKey(p Priority) string {
	return TierKeyPrefix + strconv.Itoa(int(p))
}

func delayedMember(job *Job) string {
	return fmt.Sprintf("%d:%s", int(job.Priority), job.ID)
}

// Enqueue adds the job to its tier. It reports false without error when a job
// for the same event is already live (queued, delayed or in flight).
func (q *Queue) Enqueue(ctx context.Context, job *Job) (bool, error) {
	if job.ID == "" {
		return false, errors.New("jobqueue: job id is required")
	}
	if !job.Priority.Valid() {
		job.Priority = PriorityNormal
	}
	now := q.now()
	job.Status = JobStatusPending
	job.EnqueuedAt = now
	job.UpdatedAt = now

	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to marshal job: %w", err)
	}

	res, err := enqueueScript.Run(ctx, q.client,
		[]string{JobKeyPrefix + job.ID, TierKey(job.Priority), StatsKey},
		string(data), JobTTL.Milliseconds(), job.ID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	if res == 0 {
		log.Debugf("[JobQueue] Job %s already queued", job.ID)
		return false, nil
	}

	log.Infof("[JobQueue] Enqueued job %s (type=%s, priority=%s)", job.ID, job.EventType, job.Priority)
	return true, nil
}

// DequeueNext hands out the next job, highest tier first and FIFO within a
// tier. The job stays in the processing set until Ack, MarkFailed or Dead.
func (q *Queue) DequeueNext(ctx context.Context) (*Job, error) {
	keys := make([]string, 0, len(Priorities)+1)
	for _, p := range Priorities {
		keys = append(keys, TierKey(p))
	}
	keys = append(keys, ProcessingKey)

	now := q.now()
	id, err := dequeueScript.Run(ctx, q.client, keys, now.UnixMilli()).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}

	job, err := q.GetJob(ctx, id)
	if err != nil {
		// Job data expired or is corrupt; drop the in-flight marker
		q.client.ZRem(ctx, ProcessingKey, id)
		return nil, fmt.Errorf("job data not found for ID %s: %w", id, err)
	}

	job.Status = JobStatusProcessing
	job.ProcessedAt = &now
	job.UpdatedAt = now
	q.updateJob(ctx, job)
	return job, nil
}

// Ack removes a finished job.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, ProcessingKey, job.ID)
	pipe.Del(ctx, JobKeyPrefix+job.ID)
	pipe.HIncrBy(ctx, StatsKey, "completed", 1)
	_, err := pipe.Exec(ctx)
	return err
}

// MarkFailed schedules a retry with backoff or dead-letters the job once the
// attempt log shows maxAttempts attempts, or when cause is Permanent.
func (q *Queue) MarkFailed(ctx context.Context, job *Job, cause error) (RetryDecision, error) {
	attempts, err := q.attempts.CountByEventID(ctx, job.ID)
	if err != nil {
		return RetryDecision{}, fmt.Errorf("count attempts for %s: %w", job.ID, err)
	}

	decision := RetryDecision{Attempts: attempts}
	if IsPermanent(cause) || attempts >= q.opts.MaxAttempts {
		return decision, q.Dead(ctx, job, cause)
	}

	decision.Retry = true
	decision.Delay = Backoff(attempts, q.opts.BaseDelay, q.opts.MaxDelay, job.ID)

	now := q.now()
	job.Status = JobStatusDelayed
	job.UpdatedAt = now
	if cause != nil {
		job.ErrorMsg = cause.Error()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return decision, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, ProcessingKey, job.ID)
	pipe.ZAdd(ctx, DelayedKey, redis.Z{Score: float64(now.Add(decision.Delay).UnixMilli()), Member: delayedMember(job)})
	pipe.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL)
	pipe.HIncrBy(ctx, StatsKey, "retried", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return decision, fmt.Errorf("failed to schedule retry for %s: %w", job.ID, err)
	}

	log.Infof("[JobQueue] Job %s retry %d/%d in %s", job.ID, attempts, q.opts.MaxAttempts, decision.Delay)
	return decision, nil
}

// Dead removes the job from every structure and records it on the dead list.
// The persistent event row keeps the details; this list is for inspection.
func (q *Queue) Dead(ctx context.Context, job *Job, cause error) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, ProcessingKey, job.ID)
	pipe.ZRem(ctx, DelayedKey, delayedMember(job))
	pipe.Del(ctx, JobKeyPrefix+job.ID)
	pipe.LPush(ctx, DeadListKey, job.ID)
	pipe.LTrim(ctx, DeadListKey, 0, deadListCap-1)
	pipe.HIncrBy(ctx, StatsKey, "dead", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to dead-letter %s: %w", job.ID, err)
	}
	log.Warnf("[JobQueue] Job %s dead-lettered: %v", job.ID, cause)
	return nil
}

// PromoteDue moves delayed jobs whose time has come back to their tiers.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	keys := make([]string, 0, len(Priorities)+1)
	keys = append(keys, DelayedKey)
	for p := PriorityLow; p <= PriorityCritical; p++ {
		keys = append(keys, TierKey(p))
	}
	n, err := promoteScript.Run(ctx, q.client, keys, q.now().UnixMilli(), promoteMax).Int()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Debugf("[JobQueue] Promoted %d delayed jobs", n)
	}
	return n, nil
}

// RecoverStuck requeues in-flight jobs older than the visibility timeout,
// e.g. after a worker crashed mid-job.
func (q *Queue) RecoverStuck(ctx context.Context) (int, error) {
	cutoff := q.now().Add(-q.opts.VisibilityTimeout).UnixMilli()
	ids, err := q.client.ZRangeByScore(ctx, ProcessingKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, ProcessingKey, id).Result()
		if err != nil || removed == 0 {
			// another sweeper or the worker itself got there first
			continue
		}
		job, err := q.GetJob(ctx, id)
		if err != nil {
			log.Errorf("[JobQueue] Sweeper dropping %s: %v", id, err)
			continue
		}
		log.Warnf("[JobQueue] Recovering stuck job %s (type=%s)", job.ID, job.EventType)
		job.Status = JobStatusPending
		job.ErrorMsg = "recovered by sweeper"
		job.UpdatedAt = q.now()
		q.updateJob(ctx, job)
		if err := q.client.RPush(ctx, TierKey(job.Priority), job.ID).Err(); err != nil {
			log.Errorf("[JobQueue] Failed to requeue job %s: %v", job.ID, err)
			continue
		}
		recovered++
	}
	return recovered, nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	data, err := q.client.Get(ctx, JobKeyPrefix+jobID).Result()
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Stats returns queue depth per tier and lifetime counters
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	pipe := q.client.Pipeline()
	tierCmds := make(map[Priority]*redis.IntCmd, len(Priorities))
	for _, p := range Priorities {
		tierCmds[p] = pipe.LLen(ctx, TierKey(p))
	}
	processing := pipe.ZCard(ctx, ProcessingKey)
	delayed := pipe.ZCard(ctx, DelayedKey)
	counters := pipe.HGetAll(ctx, StatsKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	stats := &Stats{
		Tiers:      make(map[string]int64, len(tierCmds)),
		Processing: processing.Val(),
		Delayed:    delayed.Val(),
		Counters:   map[string]int64{},
	}
	for p, cmd := range tierCmds {
		stats.Tiers[p.String()] = cmd.Val()
	}
	for name, raw := range counters.Val() {
		if v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
			stats.Counters[name] = v
		}
	}
	return stats, nil
}

// updateJob rewrites job data keeping its TTL
func (q *Queue) updateJob(ctx context.Context, job *Job) {
	data, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}
	if err := q.client.SetArgs(ctx, JobKeyPrefix+job.ID, data, redis.SetArgs{KeepTTL: true}).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job %s: %v", job.ID, err)
	}
}
