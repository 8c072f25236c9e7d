package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MimeLyc/batch-rewriter/internal/content"
	"github.com/MimeLyc/batch-rewriter/internal/llm"
	"github.com/MimeLyc/batch-rewriter/internal/telemetry"
	"github.com/MimeLyc/batch-rewriter/pkg/log"
	"github.com/google/uuid"
)

// ProviderChecker reports whether a provider id is registered.
type ProviderChecker interface {
	Has(provider string) bool
}

type SubmitRequest struct {
	Owner    string
	Provider string
	Style    string
	ItemIDs  []int64
}

// Manager owns the job lifecycle operations that sit outside a run.
type Manager struct {
	store         Store
	content       content.Store
	providers     ProviderChecker
	continuations Continuations
}

func NewManager(store Store, contentStore content.Store, providers ProviderChecker, continuations Continuations) *Manager {
	return &Manager{
		store:         store,
		content:       contentStore,
		providers:     providers,
		continuations: continuations,
	}
}

// Submit creates a job over the publishable, de-duplicated item ids and
// schedules its first run immediately.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if m.providers != nil && !m.providers.Has(provider) {
		return nil, llm.ErrInvalidProvider(req.Provider)
	}
	style := strings.TrimSpace(req.Style)
	if style == "" {
		style = string(llm.StyleStandard)
	}
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		owner = "system"
	}

	ids, err := content.FilterPublishable(ctx, m.content, req.ItemIDs)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNoValidItems
	}

	job, err := m.store.CreateJob(ctx, CreateJobParams{
		ID:             uuid.NewString(),
		Owner:          owner,
		Provider:       provider,
		Style:          style,
		ContentItemIDs: ids,
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	telemetry.JobsSubmitted.Inc()
	log.Info("Job %s submitted by %s: %d items via %s (%s)", job.ID, owner, job.Total, provider, style)

	if _, err := m.continuations.Arm(ctx, job.ID, 0); err != nil {
		log.Warn("Failed to schedule job %s, recovery will pick it up: %v", job.ID, err)
	}
	return job, nil
}

// Cancel cancels a pending or processing job and returns the number of items
// cancelled.
func (m *Manager) Cancel(ctx context.Context, jobID string) (int, error) {
	n, err := m.store.CancelJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if err := m.continuations.Clear(ctx, jobID); err != nil {
		log.Warn("Failed to clear continuation for cancelled job %s: %v", jobID, err)
	}
	telemetry.JobsFinished.WithLabelValues(string(StatusCancelled)).Inc()
	log.Info("Job %s cancelled, %d pending items dropped", jobID, n)
	return n, nil
}

// Delete removes a job in any status along with its continuation.
func (m *Manager) Delete(ctx context.Context, jobID string) error {
	if err := m.continuations.Clear(ctx, jobID); err != nil {
		log.Warn("Failed to clear continuation for job %s: %v", jobID, err)
	}
	if err := m.store.DeleteJob(ctx, jobID); err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	return nil
}

// Recover arms a continuation for every active job that has none, e.g.
// after a restart dropped in-process timers. It returns how many were armed.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	active, err := m.store.ListActiveJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active jobs: %w", err)
	}

	armed := 0
	var errs []error
	for _, job := range active {
		ok, err := m.continuations.Arm(ctx, job.ID, 0)
		if err != nil {
			errs = append(errs, fmt.Errorf("arm job %s: %w", job.ID, err))
			continue
		}
		if ok {
			armed++
		}
	}
	if armed > 0 {
		log.Info("Recovered %d active jobs", armed)
	}
	return armed, errors.Join(errs...)
}
