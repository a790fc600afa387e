package gpuqueue

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tas-llm-gateway/services"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, cleanup
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestQueue_PassThroughWithoutRedis(t *testing.T) {
	q := NewQueue(nil, 1, time.Second, testLogger())
	assert.False(t, q.Enabled())

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, release)
	release()

	m := q.Metrics(context.Background())
	assert.False(t, m.Enabled)
	assert.Equal(t, 1, m.MaxWorkers)
}

func TestQueue_PassThroughWhenRedisUnreachable(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	cleanup() // take the broker down before construction

	q := NewQueue(client, 2, time.Second, testLogger())
	assert.False(t, q.Enabled())

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestQueue_AcquireAndRelease(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, 1, 5*time.Second, testLogger())
	require.True(t, q.Enabled())

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	active, err := client.SCard(ctx, activeKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)
	depth, err := client.LLen(ctx, queueKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)

	release()
	active, err = client.SCard(ctx, activeKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), active)

	// Calling release again must not underflow anything.
	release()
	active, err = client.SCard(ctx, activeKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), active)
}

func TestQueue_SecondWaiterBlocksUntilRelease(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, 1, 5*time.Second, testLogger())
	q.pollInterval = 10 * time.Millisecond

	first, err := q.Acquire(context.Background())
	require.NoError(t, err)

	admitted := make(chan struct{})
	go func() {
		second, err := q.Acquire(context.Background())
		if err == nil {
			close(admitted)
			second()
		}
	}()

	select {
	case <-admitted:
		t.Fatal("second waiter admitted while slot was held")
	case <-time.After(100 * time.Millisecond):
	}

	first()

	select {
	case <-admitted:
	case <-time.After(2 * time.Second):
		t.Fatal("second waiter never admitted after release")
	}
}

func TestQueue_AdmitsInQueueOrder(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, 1, 5*time.Second, testLogger())
	q.pollInterval = 10 * time.Millisecond

	holder, err := q.Acquire(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	order := make(chan string, 2)

	startWaiter := func(name string, wantDepth int64) {
		go func() {
			release, err := q.Acquire(context.Background())
			if err != nil {
				return
			}
			order <- name
			time.Sleep(20 * time.Millisecond)
			release()
		}()
		require.Eventually(t, func() bool {
			depth, err := client.LLen(ctx, queueKey).Result()
			return err == nil && depth == wantDepth
		}, time.Second, 5*time.Millisecond)
	}

	startWaiter("a", 1)
	startWaiter("b", 2)

	holder()

	first := <-order
	second := <-order
	assert.Equal(t, "a", first)
	assert.Equal(t, "b", second)
}

func TestQueue_Timeout(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, 1, 60*time.Millisecond, testLogger())
	q.pollInterval = 10 * time.Millisecond

	holder, err := q.Acquire(context.Background())
	require.NoError(t, err)
	defer holder()

	_, err = q.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrQueueTimeout)

	// The timed-out ticket must not linger at the head of the queue.
	depth, err := client.LLen(context.Background(), queueKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestQueue_ContextCancellation(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, 1, 5*time.Second, testLogger())
	q.pollInterval = 10 * time.Millisecond

	holder, err := q.Acquire(context.Background())
	require.NoError(t, err)
	defer holder()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Acquire(ctx)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		depth, err := client.LLen(context.Background(), queueKey).Result()
		return err == nil && depth == 1
	}, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled waiter never returned")
	}

	depth, err := client.LLen(context.Background(), queueKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestQueue_Metrics(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, 4, 5*time.Second, testLogger())

	ctx := context.Background()
	require.NoError(t, client.RPush(ctx, queueKey, "waiting-ticket").Err())
	require.NoError(t, client.SAdd(ctx, activeKey, "active-ticket").Err())

	m := q.Metrics(ctx)
	assert.True(t, m.Enabled)
	assert.Equal(t, int64(1), m.QueueDepth)
	assert.Equal(t, int64(1), m.ActiveWorkers)
	assert.Equal(t, 4, m.MaxWorkers)
}

func TestQueue_ConcurrentSlots(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, 2, 5*time.Second, testLogger())
	q.pollInterval = 10 * time.Millisecond

	first, err := q.Acquire(context.Background())
	require.NoError(t, err)
	second, err := q.Acquire(context.Background())
	require.NoError(t, err)

	active, err := client.SCard(context.Background(), activeKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), active)

	first()
	second()
}
