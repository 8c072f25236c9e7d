package jobs

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// predecessors maps a target status to the statuses it may be entered from.
// Nothing re-enters pending.
var predecessors = map[Status][]Status{
	StatusProcessing: {StatusPending},
	StatusCompleted:  {StatusProcessing},
	StatusCancelled:  {StatusPending, StatusProcessing},
	StatusFailed:     {StatusPending, StatusProcessing},
}

// AllowedPredecessors returns the statuses from which target may be entered.
func AllowedPredecessors(target Status) []Status {
	return append([]Status(nil), predecessors[target]...)
}

func CanTransition(from, to Status) bool {
	for _, s := range predecessors[to] {
		if s == from {
			return true
		}
	}
	return false
}

type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemCompleted ItemStatus = "completed"
	ItemFailed    ItemStatus = "failed"
	ItemCancelled ItemStatus = "cancelled"
)

func (s ItemStatus) Terminal() bool {
	return s != ItemPending
}

// Job is one batch rewrite request.
type Job struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Provider  string    `json:"provider"`
	Style     string    `json:"style"`
	Status    Status    `json:"status"`
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Item tracks one content item within a job.
type Item struct {
	ID            int64      `json:"id"`
	JobID         string     `json:"job_id"`
	ContentItemID int64      `json:"content_item_id"`
	Status        ItemStatus `json:"status"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CreateJobParams describes a job to insert along with one pending item per
// content item id.
type CreateJobParams struct {
	ID             string
	Owner          string
	Provider       string
	Style          string
	ContentItemIDs []int64
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	return &tmp
}
