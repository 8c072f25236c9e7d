package persistence

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MimeLyc/batch-rewriter/internal/content"
	"github.com/MimeLyc/batch-rewriter/internal/jobs"
	"github.com/MimeLyc/batch-rewriter/internal/rewrite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// steppingClock advances one second per reading so orderings are stable.
type steppingClock struct {
	mu sync.Mutex
	t  time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func runStoreContract(t *testing.T, open func(t *testing.T) *sqlStore) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, open(t)) })
	t.Run("PendingItemsFIFO", func(t *testing.T) { testPendingItemsFIFO(t, open(t)) })
	t.Run("ItemStatusCompareAndSet", func(t *testing.T) { testItemCAS(t, open(t)) })
	t.Run("IncrementProcessedClamps", func(t *testing.T) { testIncrementClamp(t, open(t)) })
	t.Run("StatusTransitions", func(t *testing.T) { testTransitions(t, open(t)) })
	t.Run("CancelJob", func(t *testing.T) { testCancel(t, open(t)) })
	t.Run("DeleteJob", func(t *testing.T) { testDelete(t, open(t)) })
	t.Run("ListQueries", func(t *testing.T) { testListQueries(t, open(t)) })
	t.Run("ContentItems", func(t *testing.T) { testContent(t, open(t)) })
	t.Run("HistoryNewestFirst", func(t *testing.T) { testHistory(t, open(t)) })
}

func createJob(t *testing.T, s *sqlStore, ids ...int64) *jobs.Job {
	t.Helper()
	job, err := s.CreateJob(context.Background(), jobs.CreateJobParams{
		ID:             uuid.NewString(),
		Owner:          "editor",
		Provider:       "openai",
		Style:          "formal",
		ContentItemIDs: ids,
	})
	require.NoError(t, err)
	return job
}

func testCreateAndGet(t *testing.T, s *sqlStore) {
	ctx := context.Background()
	job := createJob(t, s, 11, 12, 13)
	assert.Equal(t, jobs.StatusPending, job.Status)
	assert.Equal(t, 3, job.Total)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "editor", got.Owner)
	assert.Equal(t, "openai", got.Provider)
	assert.Equal(t, "formal", got.Style)
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 0, got.Processed)
	assert.True(t, job.CreatedAt.Equal(got.CreatedAt))

	items, err := s.ListItems(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for _, it := range items {
		assert.Equal(t, jobs.ItemPending, it.Status)
		assert.Empty(t, it.Error)
	}

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func testPendingItemsFIFO(t *testing.T, s *sqlStore) {
	ctx := context.Background()
	job := createJob(t, s, 5, 3, 9, 1)

	first, err := s.PendingItems(ctx, job.ID, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.EqualValues(t, 5, first[0].ContentItemID)
	assert.EqualValues(t, 3, first[1].ContentItemID)

	for _, it := range first {
		ok, err := s.UpdateItemStatus(ctx, it.ID, jobs.ItemCompleted, "")
		require.NoError(t, err)
		require.True(t, ok)
	}

	next, err := s.PendingItems(ctx, job.ID, 10)
	require.NoError(t, err)
	require.Len(t, next, 2)
	assert.EqualValues(t, 9, next[0].ContentItemID)
	assert.EqualValues(t, 1, next[1].ContentItemID)

	n, err := s.CountPendingItems(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func testItemCAS(t *testing.T, s *sqlStore) {
	ctx := context.Background()
	job := createJob(t, s, 1)
	items, err := s.ListItems(ctx, job.ID)
	require.NoError(t, err)
	id := items[0].ID

	ok, err := s.UpdateItemStatus(ctx, id, jobs.ItemFailed, "rewrite: boom (ResponseError)")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.UpdateItemStatus(ctx, id, jobs.ItemCompleted, "")
	require.NoError(t, err)
	assert.False(t, ok, "a terminal item must not change again")

	items, err = s.ListItems(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.ItemFailed, items[0].Status)
	assert.Equal(t, "rewrite: boom (ResponseError)", items[0].Error)

	ok, err = s.UpdateItemStatus(ctx, 999999, jobs.ItemCompleted, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testIncrementClamp(t *testing.T, s *sqlStore) {
	ctx := context.Background()
	job := createJob(t, s, 1, 2, 3)

	require.NoError(t, s.IncrementProcessed(ctx, job.ID, 2))
	require.NoError(t, s.IncrementProcessed(ctx, job.ID, 0))
	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Processed)

	require.NoError(t, s.IncrementProcessed(ctx, job.ID, 5))
	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Processed)

	assert.ErrorIs(t, s.IncrementProcessed(ctx, "missing", 1), jobs.ErrNotFound)
}

func testTransitions(t *testing.T, s *sqlStore) {
	ctx := context.Background()
	job := createJob(t, s, 1)

	assert.ErrorIs(t, s.SetJobStatus(ctx, job.ID, jobs.StatusCompleted), jobs.ErrInvalidTransition)
	require.NoError(t, s.SetJobStatus(ctx, job.ID, jobs.StatusProcessing))
	assert.ErrorIs(t, s.SetJobStatus(ctx, job.ID, jobs.StatusProcessing), jobs.ErrInvalidTransition)
	assert.ErrorIs(t, s.SetJobStatus(ctx, job.ID, jobs.StatusPending), jobs.ErrInvalidTransition)
	require.NoError(t, s.SetJobStatus(ctx, job.ID, jobs.StatusCompleted))
	assert.ErrorIs(t, s.SetJobStatus(ctx, job.ID, jobs.StatusCancelled), jobs.ErrInvalidTransition)
	assert.ErrorIs(t, s.SetJobStatus(ctx, "missing", jobs.StatusProcessing), jobs.ErrNotFound)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))
}

func testCancel(t *testing.T, s *sqlStore) {
	ctx := context.Background()
	job := createJob(t, s, 1, 2, 3)
	require.NoError(t, s.SetJobStatus(ctx, job.ID, jobs.StatusProcessing))
	items, err := s.PendingItems(ctx, job.ID, 1)
	require.NoError(t, err)
	_, err = s.UpdateItemStatus(ctx, items[0].ID, jobs.ItemCompleted, "")
	require.NoError(t, err)

	n, err := s.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCancelled, got.Status)

	all, err := s.ListItems(ctx, job.ID)
	require.NoError(t, err)
	counts := map[jobs.ItemStatus]int{}
	for _, it := range all {
		counts[it.Status]++
	}
	assert.Equal(t, map[jobs.ItemStatus]int{jobs.ItemCompleted: 1, jobs.ItemCancelled: 2}, counts)

	_, err = s.CancelJob(ctx, job.ID)
	assert.ErrorIs(t, err, jobs.ErrInvalidTransition)
	_, err = s.CancelJob(ctx, "missing")
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func testDelete(t *testing.T, s *sqlStore) {
	ctx := context.Background()
	job := createJob(t, s, 1, 2)
	require.NoError(t, s.DeleteJob(ctx, job.ID))

	_, err := s.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, jobs.ErrNotFound)
	items, err := s.ListItems(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, items)

	require.NoError(t, s.DeleteJob(ctx, job.ID))
}

func testListQueries(t *testing.T, s *sqlStore) {
	ctx := context.Background()
	a := createJob(t, s, 1)
	b := createJob(t, s, 2)
	c := createJob(t, s, 3)
	require.NoError(t, s.SetJobStatus(ctx, b.ID, jobs.StatusProcessing))
	_, err := s.CancelJob(ctx, c.ID)
	require.NoError(t, err)

	recent, err := s.ListRecentJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, c.ID, recent[0].ID)
	assert.Equal(t, b.ID, recent[1].ID)

	active, err := s.ListActiveJobs(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(active))
	for _, j := range active {
		ids = append(ids, j.ID)
	}
	assert.Contains(t, ids, a.ID)
	assert.Contains(t, ids, b.ID)
	assert.NotContains(t, ids, c.ID)

	byID, err := s.ListJobsByIDs(ctx, []string{a.ID, "missing", c.ID})
	require.NoError(t, err)
	assert.Len(t, byID, 2)

	none, err := s.ListJobsByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testContent(t *testing.T, s *sqlStore) {
	ctx := context.Background()
	created, err := s.UpsertItem(ctx, content.Item{Title: "Hello", Body: "world", Status: content.StatusPublish})
	require.NoError(t, err)
	assert.Positive(t, created.ID)

	explicit, err := s.UpsertItem(ctx, content.Item{ID: created.ID + 100, Title: "Draft", Body: "x", Status: "draft"})
	require.NoError(t, err)
	assert.Equal(t, created.ID+100, explicit.ID)

	next, err := s.UpsertItem(ctx, content.Item{Title: "After", Status: content.StatusPublish})
	require.NoError(t, err)
	assert.Greater(t, next.ID, explicit.ID)

	require.NoError(t, s.UpdateBody(ctx, created.ID, "rewritten"))
	got, err := s.GetItem(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "rewritten", got.Body)
	assert.Equal(t, "Hello", got.Title)

	_, err = s.GetItem(ctx, 424242)
	assert.ErrorIs(t, err, content.ErrNotFound)
	assert.ErrorIs(t, s.UpdateBody(ctx, 424242, "x"), content.ErrNotFound)

	many, err := s.GetItems(ctx, []int64{created.ID, explicit.ID, 424242})
	require.NoError(t, err)
	assert.Len(t, many, 2)

	ids, err := content.FilterPublishable(ctx, s, []int64{explicit.ID, created.ID, created.ID, 424242})
	require.NoError(t, err)
	assert.Equal(t, []int64{created.ID}, ids)
}

func testHistory(t *testing.T, s *sqlStore) {
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		id, err := s.AddHistory(ctx, rewrite.HistoryEntry{
			ContentItemID: 7,
			Actor:         "editor",
			Provider:      "openai",
			Style:         "casual",
			Content:       fmt.Sprintf("v%d", i),
		})
		require.NoError(t, err)
		assert.Positive(t, id)
	}
	_, err := s.AddHistory(ctx, rewrite.HistoryEntry{ContentItemID: 8, Actor: "system", Content: "other"})
	require.NoError(t, err)

	entries, err := s.ListHistory(ctx, 7)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "v3", entries[0].Content)
	assert.Equal(t, "v1", entries[2].Content)
	assert.Equal(t, "editor", entries[0].Actor)

	empty, err := s.ListHistory(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
