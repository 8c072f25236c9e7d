package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/batch-rewriter/pkg/icron"
	"github.com/MimeLyc/batch-rewriter/pkg/log"
	"github.com/robfig/cron/v3"
)

// Recoverer re-arms continuations for active jobs.
type Recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// RecoveryStatus is the sweep state reported by the health endpoint.
type RecoveryStatus struct {
	Expression string    `json:"expression"`
	LastRun    time.Time `json:"last_run,omitempty"`
	LastArmed  int       `json:"last_armed"`
	LastError  string    `json:"last_error,omitempty"`
	NextRun    time.Time `json:"next_run,omitempty"`
}

// RecoveryService runs the recovery sweep at boot and on a cron schedule.
type RecoveryService struct {
	recoverer Recoverer
	cron      *cron.Cron
	cronExpr  string

	group singleflight.Group

	mu        sync.RWMutex
	lastRun   time.Time
	lastArmed int
	lastErr   error
}

func NewRecoveryService(recoverer Recoverer, cron *cron.Cron, cronExpr string) *RecoveryService {
	return &RecoveryService{
		recoverer: recoverer,
		cron:      cron,
		cronExpr:  cronExpr,
	}
}

// Schedule runs one sweep immediately and registers the periodic one. An
// empty expression disables the periodic sweep.
func (s *RecoveryService) Schedule(ctx context.Context) error {
	log.Info("Run RecoveryService")

	if _, err := s.RunNow(ctx); err != nil {
		log.Error("Boot recovery failed: %v", err)
	}
	if s.cronExpr == "" || s.cron == nil {
		return nil
	}
	if _, err := icron.Parse(s.cronExpr); err != nil {
		return err
	}
	_, err := s.cron.AddFunc(s.cronExpr, func() {
		if _, err := s.RunNow(ctx); err != nil {
			log.Error("Recovery sweep failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule recovery: %w", err)
	}
	return nil
}

// RunNow runs a sweep; overlapping calls share one run.
func (s *RecoveryService) RunNow(ctx context.Context) (int, error) {
	v, err, _ := s.group.Do("recover", func() (any, error) {
		armed, err := s.recoverer.Recover(ctx)

		s.mu.Lock()
		s.lastRun = time.Now().UTC()
		s.lastArmed = armed
		s.lastErr = err
		s.mu.Unlock()
		return armed, err
	})
	armed, _ := v.(int)
	return armed, err
}

func (s *RecoveryService) Status(now time.Time) RecoveryStatus {
	s.mu.RLock()
	status := RecoveryStatus{
		Expression: s.cronExpr,
		LastRun:    s.lastRun,
		LastArmed:  s.lastArmed,
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()

	if s.cronExpr != "" {
		if info, err := icron.GetTriggerInfo(s.cronExpr, now); err == nil {
			status.NextRun = info.Next
		}
	}
	return status
}
