package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MimeLyc/batch-rewriter/internal/content"
	"github.com/MimeLyc/batch-rewriter/internal/llm"
	"github.com/MimeLyc/batch-rewriter/internal/rewrite"
	"github.com/MimeLyc/batch-rewriter/internal/telemetry"
	"github.com/MimeLyc/batch-rewriter/pkg/log"
	"golang.org/x/sync/singleflight"
)

const DefaultChunkSize = 10

// Rewriter is the orchestrator as seen by the runner.
type Rewriter interface {
	RewriteContent(ctx context.Context, text, provider, style string) (string, error)
	SaveHistory(ctx context.Context, contentItemID int64, provider, style, text string) (int64, bool)
}

// ChunkSizer supplies the slice size per run; read on every run.
type ChunkSizer interface {
	ChunkSize() int
}

type fixedChunk int

func (f fixedChunk) ChunkSize() int { return int(f) }

type RunnerOptions struct {
	// ChunkSize is used when Chunks is nil or returns a non-positive size.
	ChunkSize         int
	Chunks            ChunkSizer
	ContinuationDelay time.Duration
}

// RunReport summarises one RunOnce call.
type RunReport struct {
	JobID string
	// Skipped is set when the job was missing or already terminal.
	Skipped   bool
	Status    Status
	Completed int
	Failed    int
	Remaining int
	Rearmed   bool
}

// Processed is the number of items this run moved out of pending.
func (r RunReport) Processed() int {
	return r.Completed + r.Failed
}

// Runner advances a job by one bounded slice of items per call.
type Runner struct {
	store         Store
	content       content.Store
	rewriter      Rewriter
	continuations Continuations
	opts          RunnerOptions

	group singleflight.Group
}

func NewRunner(store Store, contentStore content.Store, rewriter Rewriter, continuations Continuations, opts RunnerOptions) *Runner {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ContinuationDelay < 0 {
		opts.ContinuationDelay = 0
	}
	if opts.Chunks == nil {
		opts.Chunks = fixedChunk(opts.ChunkSize)
	}
	return &Runner{
		store:         store,
		content:       contentStore,
		rewriter:      rewriter,
		continuations: continuations,
		opts:          opts,
	}
}

// Execute adapts RunOnce to an Executor for a Continuations registry.
func (r *Runner) Execute(ctx context.Context, jobID string) {
	report, err := r.RunOnce(ctx, jobID)
	if err != nil {
		log.Error("Run of job %s failed: %v", jobID, err)
		return
	}
	if !report.Skipped {
		log.Info("Job %s: %d completed, %d failed, %d remaining, status %s",
			jobID, report.Completed, report.Failed, report.Remaining, report.Status)
	}
}

// RunOnce processes up to one chunk of pending items of jobID. Concurrent
// calls for the same job in this process share one run.
func (r *Runner) RunOnce(ctx context.Context, jobID string) (RunReport, error) {
	v, err, _ := r.group.Do(jobID, func() (any, error) {
		return r.runOnce(ctx, jobID)
	})
	if err != nil {
		return RunReport{JobID: jobID}, err
	}
	return v.(RunReport), nil
}

func (r *Runner) chunkSize() int {
	if n := r.opts.Chunks.ChunkSize(); n > 0 {
		return n
	}
	return r.opts.ChunkSize
}

func (r *Runner) runOnce(ctx context.Context, jobID string) (RunReport, error) {
	report := RunReport{JobID: jobID}

	job, err := r.store.GetJob(ctx, jobID)
	if errors.Is(err, ErrNotFound) {
		report.Skipped = true
		return report, nil
	}
	if err != nil {
		return report, fmt.Errorf("load job: %w", err)
	}
	report.Status = job.Status
	if job.Status.Terminal() {
		report.Skipped = true
		return report, nil
	}

	if CanTransition(job.Status, StatusProcessing) {
		if err := r.store.SetJobStatus(ctx, jobID, StatusProcessing); err != nil {
			if !errors.Is(err, ErrInvalidTransition) {
				return report, fmt.Errorf("start job: %w", err)
			}
			// Lost a race with cancel or another process.
			if job, err = r.store.GetJob(ctx, jobID); err != nil || job.Status.Terminal() {
				report.Skipped = true
				return report, nil
			}
		}
		report.Status = StatusProcessing
	}

	items, err := r.store.PendingItems(ctx, jobID, r.chunkSize())
	if err != nil {
		return report, fmt.Errorf("load pending items: %w", err)
	}
	if len(items) == 0 {
		report.Status = r.complete(ctx, jobID, report.Status)
		return report, nil
	}

	runCtx := rewrite.WithActor(ctx, job.Owner)
	stopped := false
	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && r.stoppedMidRun(ctx, jobID) {
			log.Info("Job %s left processing mid-slice, stopping", jobID)
			stopped = true
			break
		}
		status, reason, ok := r.processItem(runCtx, job, item)
		if !ok {
			log.Info("Job %s left processing during item %d, result discarded", jobID, item.ID)
			stopped = true
			break
		}
		changed, err := r.store.UpdateItemStatus(ctx, item.ID, status, reason)
		if err != nil {
			log.Error("Failed to record item %d of job %s: %v", item.ID, jobID, err)
			continue
		}
		if !changed {
			continue
		}
		telemetry.ItemsProcessed.WithLabelValues(string(status)).Inc()
		if status == ItemCompleted {
			report.Completed++
		} else {
			report.Failed++
		}
	}

	if n := report.Processed(); n > 0 {
		if err := r.store.IncrementProcessed(ctx, jobID, n); err != nil {
			log.Error("Failed to increment processed for job %s: %v", jobID, err)
		}
	}

	if stopped {
		if job, err := r.store.GetJob(ctx, jobID); err == nil {
			report.Status = job.Status
		}
		return report, nil
	}

	remaining, err := r.store.CountPendingItems(ctx, jobID)
	if err != nil {
		log.Error("Failed to count pending items for job %s: %v", jobID, err)
		remaining = -1
	}
	report.Remaining = remaining
	if remaining == 0 {
		report.Status = r.complete(ctx, jobID, report.Status)
		return report, nil
	}

	armed, err := r.continuations.Arm(ctx, jobID, r.opts.ContinuationDelay)
	if err != nil {
		log.Error("Failed to arm continuation for job %s: %v", jobID, err)
	}
	report.Rearmed = armed
	return report, nil
}

// complete marks the job completed unless it was cancelled meanwhile, and
// returns the resulting status.
func (r *Runner) complete(ctx context.Context, jobID string, current Status) Status {
	err := r.store.SetJobStatus(ctx, jobID, StatusCompleted)
	if err == nil {
		telemetry.JobsFinished.WithLabelValues(string(StatusCompleted)).Inc()
		return StatusCompleted
	}
	if !errors.Is(err, ErrInvalidTransition) {
		log.Error("Failed to complete job %s: %v", jobID, err)
		return current
	}
	if job, err := r.store.GetJob(ctx, jobID); err == nil {
		return job.Status
	}
	return current
}

// stoppedMidRun reports whether the job was cancelled or deleted after the
// slice was fetched. The item in flight is never interrupted.
func (r *Runner) stoppedMidRun(ctx context.Context, jobID string) bool {
	job, err := r.store.GetJob(ctx, jobID)
	if errors.Is(err, ErrNotFound) {
		return true
	}
	return err == nil && job.Status.Terminal()
}

// processItem rewrites one item and reports its outcome. ok is false when the
// job was cancelled or deleted during the provider call, in which case the
// rewritten text is dropped.
func (r *Runner) processItem(ctx context.Context, job *Job, item *Item) (status ItemStatus, reason string, ok bool) {
	ctx = rewrite.WithActiveItem(ctx, item.ContentItemID)

	c, err := r.content.GetItem(ctx, item.ContentItemID)
	if err != nil {
		return ItemFailed, failureReason("load content", err), true
	}

	text, err := r.rewriter.RewriteContent(ctx, c.Body, job.Provider, job.Style)
	if r.stoppedMidRun(ctx, job.ID) {
		return "", "", false
	}
	if err != nil {
		return ItemFailed, failureReason("rewrite", err), true
	}

	if err := r.content.UpdateBody(ctx, item.ContentItemID, text); err != nil {
		return ItemFailed, failureReason("save content", err), true
	}

	r.rewriter.SaveHistory(ctx, item.ContentItemID, job.Provider, job.Style, text)
	return ItemCompleted, "", true
}

func failureReason(stage string, err error) string {
	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		return fmt.Sprintf("%s: %s (%s)", stage, llmErr.Message, llmErr.Kind)
	}
	return fmt.Sprintf("%s: %v", stage, err)
}
