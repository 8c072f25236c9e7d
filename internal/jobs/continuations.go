package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/MimeLyc/batch-rewriter/internal/telemetry"
	"github.com/MimeLyc/batch-rewriter/pkg/log"
)

// Executor runs one continuation for a job.
type Executor func(ctx context.Context, jobID string)

// Continuations is the registry of scheduled runs, at most one per job id.
// An entry is removed before its executor is called, so the run it triggers
// may arm the next one.
type Continuations interface {
	// Arm schedules a run of jobID after delay. It reports false without
	// error when a run is already armed for jobID.
	Arm(ctx context.Context, jobID string, delay time.Duration) (bool, error)
	Clear(ctx context.Context, jobID string) error
	Armed(ctx context.Context, jobID string) (bool, error)
	Start(exec Executor)
	Stop()
}

type localEntry struct {
	timer *time.Timer
}

// LocalContinuations keeps continuations in process memory as timers that
// feed a small worker pool.
type LocalContinuations struct {
	workerCount int

	mu         sync.Mutex
	timers     map[string]*localEntry
	started    bool
	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func NewLocalContinuations(workerCount int) *LocalContinuations {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &LocalContinuations{
		workerCount: workerCount,
		timers:      make(map[string]*localEntry),
		pendingIDs:  make(chan string, 1024),
		stopCh:      make(chan struct{}),
	}
}

func (l *LocalContinuations) Arm(_ context.Context, jobID string, delay time.Duration) (bool, error) {
	if delay < 0 {
		delay = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.timers[jobID]; exists {
		return false, nil
	}
	entry := &localEntry{}
	l.timers[jobID] = entry
	// fire blocks on l.mu until entry.timer is set.
	entry.timer = time.AfterFunc(delay, func() { l.fire(jobID, entry) })
	telemetry.ArmedContinuations.Inc()
	return true, nil
}

func (l *LocalContinuations) Clear(_ context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.timers[jobID]
	if !ok {
		return nil
	}
	entry.timer.Stop()
	delete(l.timers, jobID)
	telemetry.ArmedContinuations.Dec()
	return nil
}

func (l *LocalContinuations) Armed(_ context.Context, jobID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.timers[jobID]
	return ok, nil
}

func (l *LocalContinuations) Start(exec Executor) {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()

	for range l.workerCount {
		l.wg.Add(1)
		go l.worker(exec)
	}
}

func (l *LocalContinuations) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		for id, entry := range l.timers {
			entry.timer.Stop()
			delete(l.timers, id)
			telemetry.ArmedContinuations.Dec()
		}
		l.mu.Unlock()

		close(l.stopCh)
		l.wg.Wait()
	})
}

func (l *LocalContinuations) fire(jobID string, entry *localEntry) {
	l.mu.Lock()
	if current, ok := l.timers[jobID]; !ok || current != entry {
		l.mu.Unlock()
		return
	}
	delete(l.timers, jobID)
	l.mu.Unlock()
	telemetry.ArmedContinuations.Dec()

	select {
	case l.pendingIDs <- jobID:
	case <-l.stopCh:
	default:
		go func() {
			select {
			case l.pendingIDs <- jobID:
			case <-l.stopCh:
			}
		}()
	}
}

func (l *LocalContinuations) worker(exec Executor) {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopCh:
			return
		case id := <-l.pendingIDs:
			l.run(exec, id)
		}
	}
}

func (l *LocalContinuations) run(exec Executor, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("continuation for job %s panicked: %v", jobID, r)
		}
	}()
	exec(context.Background(), jobID)
}
