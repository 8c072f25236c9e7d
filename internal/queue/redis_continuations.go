package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MimeLyc/batch-rewriter/internal/config"
	"github.com/MimeLyc/batch-rewriter/internal/jobs"
	"github.com/MimeLyc/batch-rewriter/internal/telemetry"
	"github.com/MimeLyc/batch-rewriter/pkg/log"
)

const (
	defaultKey       = "rewrite:continuations"
	defaultClaimSize = 50
)

// RedisContinuations keeps armed continuations in a Redis sorted set scored
// by due time in unix milliseconds, so they survive restarts and are claimed
// by exactly one process.
type RedisContinuations struct {
	client       *redis.Client
	key          string
	pollInterval time.Duration
	claimSize    int64
	workers      int
	now          func() time.Time

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type Option func(*RedisContinuations)

func WithWorkers(n int) Option {
	return func(r *RedisContinuations) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *RedisContinuations) { r.now = now }
}

// NewClient builds a go-redis client from config.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewRedisContinuations(client *redis.Client, cfg config.RedisConfig, opts ...Option) *RedisContinuations {
	key := cfg.Key
	if key == "" {
		key = defaultKey
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	r := &RedisContinuations{
		client:       client,
		key:          key,
		pollInterval: poll,
		claimSize:    defaultClaimSize,
		workers:      4,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ jobs.Continuations = (*RedisContinuations)(nil)

func (r *RedisContinuations) Arm(ctx context.Context, jobID string, delay time.Duration) (bool, error) {
	if delay < 0 {
		delay = 0
	}
	due := r.now().Add(delay).UnixMilli()
	added, err := r.client.ZAddNX(ctx, r.key, redis.Z{Score: float64(due), Member: jobID}).Result()
	if err != nil {
		return false, fmt.Errorf("arm continuation %s: %w", jobID, err)
	}
	if added == 1 {
		telemetry.ArmedContinuations.Inc()
	}
	return added == 1, nil
}

func (r *RedisContinuations) Clear(ctx context.Context, jobID string) error {
	removed, err := r.client.ZRem(ctx, r.key, jobID).Result()
	if err != nil {
		return fmt.Errorf("clear continuation %s: %w", jobID, err)
	}
	if removed > 0 {
		telemetry.ArmedContinuations.Dec()
	}
	return nil
}

func (r *RedisContinuations) Armed(ctx context.Context, jobID string) (bool, error) {
	err := r.client.ZScore(ctx, r.key, jobID).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ClaimDue atomically removes and returns up to limit continuations due at now.
func (r *RedisContinuations) ClaimDue(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	res, err := claimScript.Run(ctx, r.client, []string{r.key}, now.UnixMilli(), limit).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if n := len(res); n > 0 {
		telemetry.ArmedContinuations.Sub(float64(n))
	}
	return res, nil
}

func (r *RedisContinuations) Start(exec jobs.Executor) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	ids := make(chan string, r.claimSize)
	for range r.workers {
		r.wg.Add(1)
		go r.worker(exec, ids)
	}
	r.wg.Add(1)
	go r.poll(ids)
}

func (r *RedisContinuations) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
	})
}

func (r *RedisContinuations) poll(ids chan<- string) {
	defer r.wg.Done()
	defer close(ids)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		r.claimOnce(ids)
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
		}
	}
}

func (r *RedisContinuations) claimOnce(ids chan<- string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.pollInterval+5*time.Second)
	defer cancel()

	due, err := r.ClaimDue(ctx, r.now(), r.claimSize)
	if err != nil {
		log.Warn("Failed to claim due continuations: %v", err)
		return
	}
	for i, id := range due {
		select {
		case ids <- id:
		case <-r.stopCh:
			// Give unstarted claims back so another process can run them.
			for _, rest := range due[i:] {
				if _, err := r.Arm(context.Background(), rest, 0); err != nil {
					log.Warn("Failed to re-arm job %s on shutdown: %v", rest, err)
				}
			}
			return
		}
	}
}

func (r *RedisContinuations) worker(exec jobs.Executor, ids <-chan string) {
	defer r.wg.Done()
	for id := range ids {
		r.run(exec, id)
	}
}

func (r *RedisContinuations) run(exec jobs.Executor, jobID string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("continuation for job %s panicked: %v", jobID, rec)
		}
	}()
	exec(context.Background(), jobID)
}

var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for i=1,#due do
  redis.call('ZREM', KEYS[1], due[i])
end
return due
`)
