package jobs

import (
	"context"
	"fmt"
	"math"

	"github.com/MimeLyc/batch-rewriter/internal/content"
	"github.com/MimeLyc/batch-rewriter/pkg/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100

	MissingContentTitle = "(content not found)"
)

// JobView is a job with its derived progress fields.
type JobView struct {
	Job
	ProgressPercent int    `json:"progress_percent"`
	StatusLabel     string `json:"status_label"`
}

type ItemView struct {
	Item
	Title    string `json:"title"`
	EditLink string `json:"edit_link"`
	ViewLink string `json:"view_link"`
}

type JobDetail struct {
	JobView
	Items []ItemView `json:"items"`
}

// StatusSnapshot is the polling projection of a job.
type StatusSnapshot struct {
	ID              string `json:"id"`
	Status          Status `json:"status"`
	StatusLabel     string `json:"status_label"`
	Processed       int    `json:"processed"`
	Total           int    `json:"total"`
	ProgressPercent int    `json:"progress_percent"`
}

// ProgressPercent returns round(processed/total*100), 0 for an empty job.
func ProgressPercent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(processed) / float64(total) * 100))
}

// StatusLabel returns the display label of a status, e.g. "Processing".
func StatusLabel(s Status) string {
	return cases.Title(language.English).String(string(s))
}

func NewJobView(job *Job) JobView {
	return JobView{
		Job:             *job,
		ProgressPercent: ProgressPercent(job.Processed, job.Total),
		StatusLabel:     StatusLabel(job.Status),
	}
}

// Query serves read-only projections of jobs.
type Query struct {
	store   Store
	content content.Store
	links   content.Links
}

func NewQuery(store Store, contentStore content.Store, links content.Links) *Query {
	return &Query{store: store, content: contentStore, links: links}
}

func (q *Query) ListJobs(ctx context.Context, limit int) ([]JobView, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	jobs, err := q.store.ListRecentJobs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, NewJobView(job))
	}
	return out, nil
}

// GetJobDetail returns ErrNotFound for unknown ids. Items whose content is
// gone are kept with a placeholder title.
func (q *Query) GetJobDetail(ctx context.Context, jobID string) (*JobDetail, error) {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	items, err := q.store.ListItems(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list items of job %s: %w", jobID, err)
	}

	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ContentItemID)
	}
	resolved, err := q.content.GetItems(ctx, ids)
	if err != nil {
		log.Warn("Failed to resolve content for job %s: %v", jobID, err)
		resolved = nil
	}

	detail := &JobDetail{JobView: NewJobView(job), Items: make([]ItemView, 0, len(items))}
	for _, it := range items {
		view := ItemView{Item: *it, Title: MissingContentTitle}
		if c, ok := resolved[it.ContentItemID]; ok && c != nil {
			view.Title = c.Title
			view.EditLink = q.links.Edit(c.ID)
			view.ViewLink = q.links.View(c.ID)
		}
		detail.Items = append(detail.Items, view)
	}
	return detail, nil
}

// ListJobsStatus returns snapshots for the ids that exist, in request order.
func (q *Query) ListJobsStatus(ctx context.Context, jobIDs []string) ([]StatusSnapshot, error) {
	if len(jobIDs) == 0 {
		return []StatusSnapshot{}, nil
	}
	jobs, err := q.store.ListJobsByIDs(ctx, jobIDs)
	if err != nil {
		return nil, fmt.Errorf("list job status: %w", err)
	}
	byID := make(map[string]*Job, len(jobs))
	for _, job := range jobs {
		byID[job.ID] = job
	}

	out := make([]StatusSnapshot, 0, len(jobs))
	seen := make(map[string]struct{}, len(jobIDs))
	for _, id := range jobIDs {
		job, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, StatusSnapshot{
			ID:              job.ID,
			Status:          job.Status,
			StatusLabel:     StatusLabel(job.Status),
			Processed:       job.Processed,
			Total:           job.Total,
			ProgressPercent: ProgressPercent(job.Processed, job.Total),
		})
	}
	return out, nil
}
