package gpuqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tas-llm-gateway/services"
)

const (
	queueKey  = "gpu:queue"
	activeKey = "gpu:active"

	defaultPollInterval = 500 * time.Millisecond
)

// admitScript pops the ticket into the active set only when it is at the
// head of the queue and a slot is free. Running it as one script closes the
// window where two waiters could both see a free slot and both enter.
var admitScript = redis.NewScript(`
if redis.call('LINDEX', KEYS[1], 0) == ARGV[1] and redis.call('SCARD', KEYS[2]) < tonumber(ARGV[2]) then
	redis.call('LPOP', KEYS[1])
	redis.call('SADD', KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// Queue is the cross-process GPU admission gate. Waiters enqueue a ticket
// on a shared Redis list and poll until the ticket reaches the head and an
// active slot frees up. If Redis is down the queue degrades to pass-through
// so local inference keeps working without admission control.
type Queue struct {
	redis        *redis.Client
	logger       *logrus.Logger
	maxWorkers   int
	timeout      time.Duration
	pollInterval time.Duration
	enabled      bool
}

// NewQueue builds the admission gate. A nil client or a failed ping leaves
// the queue in pass-through mode.
func NewQueue(redisClient *redis.Client, maxWorkers int, timeout time.Duration, logger *logrus.Logger) *Queue {
	q := &Queue{
		redis:        redisClient,
		logger:       logger,
		maxWorkers:   maxWorkers,
		timeout:      timeout,
		pollInterval: defaultPollInterval,
	}

	if redisClient == nil {
		return q
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("GPU queue disabled: redis unreachable, admissions pass through")
		return q
	}

	q.enabled = true
	return q
}

// Enabled reports whether admission control is active.
func (q *Queue) Enabled() bool {
	return q.enabled
}

// Acquire blocks until the caller holds a GPU slot, the queue times out, or
// ctx is cancelled. The returned release func must be called when inference
// finishes; it is idempotent. Broker failures admit the caller immediately.
func (q *Queue) Acquire(ctx context.Context) (services.GpuReleaseFunc, error) {
	if !q.enabled {
		return func() {}, nil
	}

	ticket := uuid.New().String()

	if err := q.redis.RPush(ctx, queueKey, ticket).Err(); err != nil {
		q.logger.WithError(err).Warn("GPU queue enqueue failed, admitting without slot")
		return func() {}, nil
	}

	deadline := time.NewTimer(q.timeout)
	defer deadline.Stop()
	poll := time.NewTicker(q.pollInterval)
	defer poll.Stop()

	for {
		admitted, err := admitScript.Run(ctx, q.redis, []string{queueKey, activeKey}, ticket, q.maxWorkers).Int()
		if err != nil {
			q.cleanup(ticket)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			q.logger.WithError(err).Warn("GPU queue poll failed, admitting without slot")
			return func() {}, nil
		}
		if admitted == 1 {
			return q.releaseFunc(ticket), nil
		}

		select {
		case <-ctx.Done():
			q.cleanup(ticket)
			return nil, ctx.Err()
		case <-deadline.C:
			q.cleanup(ticket)
			q.logger.WithFields(logrus.Fields{
				"ticket":  ticket,
				"timeout": q.timeout,
			}).Warn("GPU queue admission timed out")
			return nil, fmt.Errorf("%w after %s", services.ErrQueueTimeout, q.timeout)
		case <-poll.C:
		}
	}
}

func (q *Queue) releaseFunc(ticket string) services.GpuReleaseFunc {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := q.redis.SRem(ctx, activeKey, ticket).Err(); err != nil {
				q.logger.WithError(err).Warn("GPU queue slot release failed")
			}
		})
	}
}

// cleanup removes a ticket from both keys after timeout or cancellation.
// Best effort: a leaked ticket only occupies list space, not a slot.
func (q *Queue) cleanup(ticket string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.redis.LRem(ctx, queueKey, 0, ticket).Err(); err != nil {
		q.logger.WithError(err).Debug("GPU queue ticket cleanup failed")
	}
	if err := q.redis.SRem(ctx, activeKey, ticket).Err(); err != nil {
		q.logger.WithError(err).Debug("GPU queue active cleanup failed")
	}
}

// Metrics snapshots queue state for the ops endpoint and the metrics
// exporter. Zero values are reported when Redis is unreachable.
func (q *Queue) Metrics(ctx context.Context) services.GpuQueueMetrics {
	m := services.GpuQueueMetrics{
		Enabled:    q.enabled,
		MaxWorkers: q.maxWorkers,
	}
	if !q.enabled {
		return m
	}

	if depth, err := q.redis.LLen(ctx, queueKey).Result(); err == nil {
		m.QueueDepth = depth
	}
	if active, err := q.redis.SCard(ctx, activeKey).Result(); err == nil {
		m.ActiveWorkers = active
	}
	return m
}
