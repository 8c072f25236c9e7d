package jobs

import "context"

// Store is the source of truth for jobs and their items. Every status write
// is a compare-and-set scoped by id.
type Store interface {
	// CreateJob inserts the job and its items in one transaction.
	CreateJob(ctx context.Context, params CreateJobParams) (*Job, error)
	// GetJob returns ErrNotFound for unknown ids.
	GetJob(ctx context.Context, jobID string) (*Job, error)
	// ListRecentJobs returns jobs newest first.
	ListRecentJobs(ctx context.Context, limit int) ([]*Job, error)
	ListJobsByIDs(ctx context.Context, jobIDs []string) ([]*Job, error)
	// ListActiveJobs returns pending and processing jobs.
	ListActiveJobs(ctx context.Context) ([]*Job, error)
	ListItems(ctx context.Context, jobID string) ([]*Item, error)
	// PendingItems returns up to limit pending items, oldest first.
	PendingItems(ctx context.Context, jobID string, limit int) ([]*Item, error)
	CountPendingItems(ctx context.Context, jobID string) (int, error)
	// UpdateItemStatus moves a pending item to status and reports whether
	// this call changed it.
	UpdateItemStatus(ctx context.Context, itemID int64, status ItemStatus, reason string) (bool, error)
	// IncrementProcessed adds delta to processed, clamped at total.
	IncrementProcessed(ctx context.Context, jobID string, delta int) error
	// SetJobStatus returns ErrInvalidTransition when the current status is
	// not an allowed predecessor of status.
	SetJobStatus(ctx context.Context, jobID string, status Status) error
	// CancelJob cancels the job and its pending items, returning how many
	// items were cancelled.
	CancelJob(ctx context.Context, jobID string) (int, error)
	// DeleteJob removes items then the job. Unknown ids are not an error.
	DeleteJob(ctx context.Context, jobID string) error
}
