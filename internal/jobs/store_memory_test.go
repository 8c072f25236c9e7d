package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryStore is an in-process Store with the same compare-and-set
// semantics as the SQL stores.
type memoryStore struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	items  map[int64]*Item
	nextID int64
	clock  time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		jobs:  make(map[string]*Job),
		items: make(map[int64]*Item),
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memoryStore) now() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memoryStore) CreateJob(_ context.Context, p CreateJobParams) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	job := &Job{
		ID:        p.ID,
		Owner:     p.Owner,
		Provider:  p.Provider,
		Style:     p.Style,
		Status:    StatusPending,
		Total:     len(p.ContentItemIDs),
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.jobs[job.ID] = job
	for _, cid := range p.ContentItemIDs {
		m.nextID++
		m.items[m.nextID] = &Item{
			ID:            m.nextID,
			JobID:         job.ID,
			ContentItemID: cid,
			Status:        ItemPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}
	return cloneJob(job), nil
}

func (m *memoryStore) GetJob(_ context.Context, jobID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (m *memoryStore) sortedJobs() []*Job {
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memoryStore) ListRecentJobs(_ context.Context, limit int) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sortedJobs()
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) ListJobsByIDs(_ context.Context, ids []string) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(ids))
	for _, id := range ids {
		if j, ok := m.jobs[id]; ok {
			out = append(out, cloneJob(j))
		}
	}
	return out, nil
}

func (m *memoryStore) ListActiveJobs(_ context.Context) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0)
	for _, j := range m.sortedJobs() {
		if !j.Status.Terminal() {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memoryStore) itemsOf(jobID string) []*Item {
	out := make([]*Item, 0)
	for _, it := range m.items {
		if it.JobID == jobID {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memoryStore) ListItems(_ context.Context, jobID string) ([]*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.itemsOf(jobID), nil
}

func (m *memoryStore) PendingItems(_ context.Context, jobID string, limit int) ([]*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Item, 0, limit)
	for _, it := range m.itemsOf(jobID) {
		if it.Status == ItemPending {
			out = append(out, it)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryStore) CountPendingItems(_ context.Context, jobID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.itemsOf(jobID) {
		if it.Status == ItemPending {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) UpdateItemStatus(_ context.Context, itemID int64, status ItemStatus, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	if !ok || it.Status != ItemPending {
		return false, nil
	}
	it.Status = status
	it.Error = reason
	it.UpdatedAt = m.now()
	return true, nil
}

func (m *memoryStore) IncrementProcessed(_ context.Context, jobID string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	j.Processed = min(j.Processed+delta, j.Total)
	j.UpdatedAt = m.now()
	return nil
}

func (m *memoryStore) SetJobStatus(_ context.Context, jobID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(j.Status, status) {
		return ErrInvalidTransition
	}
	j.Status = status
	j.UpdatedAt = m.now()
	return nil
}

func (m *memoryStore) CancelJob(_ context.Context, jobID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return 0, ErrNotFound
	}
	if !CanTransition(j.Status, StatusCancelled) {
		return 0, ErrInvalidTransition
	}
	now := m.now()
	j.Status = StatusCancelled
	j.UpdatedAt = now
	n := 0
	for _, it := range m.items {
		if it.JobID == jobID && it.Status == ItemPending {
			it.Status = ItemCancelled
			it.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) DeleteJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, it := range m.items {
		if it.JobID == jobID {
			delete(m.items, id)
		}
	}
	delete(m.jobs, jobID)
	return nil
}

// recordingContinuations is a Continuations that only records arms.
type recordingContinuations struct {
	mu     sync.Mutex
	armed  map[string]time.Duration
	arms   []string
	clears []string
}

func newRecordingContinuations() *recordingContinuations {
	return &recordingContinuations{armed: make(map[string]time.Duration)}
}

func (r *recordingContinuations) Arm(_ context.Context, jobID string, delay time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.armed[jobID]; ok {
		return false, nil
	}
	r.armed[jobID] = delay
	r.arms = append(r.arms, jobID)
	return true, nil
}

func (r *recordingContinuations) Clear(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.armed, jobID)
	r.clears = append(r.clears, jobID)
	return nil
}

func (r *recordingContinuations) Armed(_ context.Context, jobID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.armed[jobID]
	return ok, nil
}

func (r *recordingContinuations) Start(Executor) {}
func (r *recordingContinuations) Stop()          {}

// fire simulates the registry claiming jobID before running it.
func (r *recordingContinuations) fire(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.armed[jobID]
	delete(r.armed, jobID)
	return ok
}

func (r *recordingContinuations) armCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.arms)
}
