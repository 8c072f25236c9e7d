package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/batch-rewriter/internal/config"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestContinuations(t *testing.T, opts ...Option) (*RedisContinuations, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.RedisConfig{Addr: mr.Addr(), Key: "test:continuations", PollInterval: 10 * time.Millisecond}
	return NewRedisContinuations(client, cfg, opts...), mr
}

func TestArm_OnlyOncePerJob(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	c, mr := newTestContinuations(t, WithClock(clock.Now))
	ctx := context.Background()

	ok, err := c.Arm(ctx, "job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Arm(ctx, "job-1", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	score, err := mr.ZScore("test:continuations", "job-1")
	require.NoError(t, err)
	assert.Equal(t, float64(1_700_000_060_000), score)

	armed, err := c.Armed(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, armed)

	armed, err = c.Armed(ctx, "job-2")
	require.NoError(t, err)
	assert.False(t, armed)
}

func TestClaimDue_RemovesOnlyDueEntries(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	c, _ := newTestContinuations(t, WithClock(clock.Now))
	ctx := context.Background()

	_, err := c.Arm(ctx, "now", 0)
	require.NoError(t, err)
	_, err = c.Arm(ctx, "later", time.Minute)
	require.NoError(t, err)

	due, err := c.ClaimDue(ctx, clock.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"now"}, due)

	again, err := c.ClaimDue(ctx, clock.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	armed, _ := c.Armed(ctx, "now")
	assert.False(t, armed)
	ok, err := c.Arm(ctx, "now", 0)
	require.NoError(t, err)
	assert.True(t, ok, "a claimed job can be armed again")

	clock.Advance(2 * time.Minute)
	due, err = c.ClaimDue(ctx, clock.Now(), 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"now", "later"}, due)
}

func TestClear(t *testing.T) {
	c, _ := newTestContinuations(t)
	ctx := context.Background()

	_, err := c.Arm(ctx, "job-1", 0)
	require.NoError(t, err)
	require.NoError(t, c.Clear(ctx, "job-1"))
	require.NoError(t, c.Clear(ctx, "job-1"))

	due, err := c.ClaimDue(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestStart_RunsDueContinuations(t *testing.T) {
	c, _ := newTestContinuations(t, WithWorkers(2))
	ctx := context.Background()

	var mu sync.Mutex
	runs := map[string]int{}
	c.Start(func(ctx context.Context, jobID string) {
		mu.Lock()
		runs[jobID]++
		n := runs[jobID]
		mu.Unlock()
		if jobID == "chain" && n < 3 {
			_, _ = c.Arm(ctx, jobID, 0)
		}
	})
	defer c.Stop()

	_, err := c.Arm(ctx, "single", 0)
	require.NoError(t, err)
	_, err = c.Arm(ctx, "chain", 0)
	require.NoError(t, err)
	_, err = c.Arm(ctx, "far", time.Hour)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs["single"] == 1 && runs["chain"] == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 0, runs["far"])
	mu.Unlock()
	armed, _ := c.Armed(ctx, "far")
	assert.True(t, armed)
}

func TestTwoProcessesClaimEachEntryOnce(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	cfg := config.RedisConfig{Addr: mr.Addr(), Key: "shared", PollInterval: 5 * time.Millisecond}

	var mu sync.Mutex
	runs := map[string]int{}
	exec := func(_ context.Context, jobID string) {
		mu.Lock()
		defer mu.Unlock()
		runs[jobID]++
	}

	a := NewRedisContinuations(redis.NewClient(&redis.Options{Addr: mr.Addr()}), cfg)
	b := NewRedisContinuations(redis.NewClient(&redis.Options{Addr: mr.Addr()}), cfg)
	for _, id := range []string{"j1", "j2", "j3", "j4", "j5"} {
		_, err := a.Arm(context.Background(), id, 0)
		require.NoError(t, err)
	}
	a.Start(exec)
	b.Start(exec)
	defer a.Stop()
	defer b.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(runs) == 5
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for id, n := range runs {
		assert.Equal(t, 1, n, id)
	}
}
