package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/MimeLyc/batch-rewriter/internal/content"
	"github.com/MimeLyc/batch-rewriter/internal/jobs"
	"github.com/MimeLyc/batch-rewriter/internal/rewrite"
)

//go:embed migrations
var migrationFiles embed.FS

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlStore implements jobs.Store, content.Store and rewrite.HistoryStore
// over database/sql. Every status write is a guarded UPDATE whose affected
// row count decides the outcome.
type sqlStore struct {
	db  *sql.DB
	d   dialect
	now func() time.Time
}

var (
	_ jobs.Store           = (*sqlStore)(nil)
	_ content.Store        = (*sqlStore)(nil)
	_ rewrite.HistoryStore = (*sqlStore)(nil)
)

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetClock replaces the time source used for created_at and updated_at.
func (s *sqlStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *sqlStore) timestamp() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

func (s *sqlStore) q(query string) string {
	return s.d.rebind(query)
}

func (s *sqlStore) migrate(ctx context.Context) error {
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, s.d.schemaTableDDL); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir(s.d.migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`), version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		ddl, err := migrationFiles.ReadFile(path.Join(s.d.migrationsDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(ddl)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, s.q(`INSERT INTO schema_migrations (version) VALUES (?)`), version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Jobs

const jobColumns = `id, owner, provider, style, status, total, processed, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*jobs.Job, error) {
	var job jobs.Job
	var status string
	if err := row.Scan(
		&job.ID,
		&job.Owner,
		&job.Provider,
		&job.Style,
		&status,
		&job.Total,
		&job.Processed,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = jobs.Status(status)
	return &job, nil
}

func (s *sqlStore) queryJobs(ctx context.Context, query string, args ...any) ([]*jobs.Job, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *sqlStore) CreateJob(ctx context.Context, p jobs.CreateJobParams) (*jobs.Job, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	now := s.timestamp()
	job := &jobs.Job{
		ID:        p.ID,
		Owner:     p.Owner,
		Provider:  p.Provider,
		Style:     p.Style,
		Status:    jobs.StatusPending,
		Total:     len(p.ContentItemIDs),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO jobs (`+jobColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`),
			job.ID, job.Owner, job.Provider, job.Style, string(job.Status), job.Total, now, now,
		); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		insertItem := s.q(`INSERT INTO job_items (job_id, content_item_id, status, error, created_at, updated_at)
			VALUES (?, ?, ?, '', ?, ?)`)
		for _, id := range p.ContentItemIDs {
			if _, err := tx.ExecContext(ctx, insertItem, job.ID, id, string(jobs.ItemPending), now, now); err != nil {
				return fmt.Errorf("insert item %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *sqlStore) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	return s.getJob(ctx, s.db, jobID)
}

func (s *sqlStore) getJob(ctx context.Context, q queryer, jobID string) (*jobs.Job, error) {
	row := q.QueryRowContext(ctx, s.q(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

func (s *sqlStore) ListRecentJobs(ctx context.Context, limit int) ([]*jobs.Job, error) {
	if limit <= 0 {
		limit = jobs.DefaultListLimit
	}
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

func (s *sqlStore) ListJobsByIDs(ctx context.Context, jobIDs []string) ([]*jobs.Job, error) {
	if len(jobIDs) == 0 {
		return []*jobs.Job{}, nil
	}
	args := make([]any, 0, len(jobIDs))
	for _, id := range jobIDs {
		args = append(args, id)
	}
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id IN (`+placeholders(len(args))+`)`, args...)
}

func (s *sqlStore) ListActiveJobs(ctx context.Context) ([]*jobs.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status IN (?, ?) ORDER BY created_at ASC`,
		string(jobs.StatusPending), string(jobs.StatusProcessing))
}

func (s *sqlStore) SetJobStatus(ctx context.Context, jobID string, status jobs.Status) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.transition(ctx, tx, jobID, status)
	})
}

// transition performs the guarded status update and classifies a miss as
// ErrNotFound or ErrInvalidTransition.
func (s *sqlStore) transition(ctx context.Context, tx *sql.Tx, jobID string, status jobs.Status) error {
	from := jobs.AllowedPredecessors(status)
	if len(from) > 0 {
		args := []any{string(status), s.timestamp(), jobID}
		for _, st := range from {
			args = append(args, string(st))
		}
		res, err := tx.ExecContext(ctx, s.q(`UPDATE jobs SET status = ?, updated_at = ?
			WHERE id = ? AND status IN (`+placeholders(len(from))+`)`), args...)
		if err != nil {
			return fmt.Errorf("update job status: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 1 {
			return nil
		}
	}
	if _, err := s.getJob(ctx, tx, jobID); err != nil {
		return err
	}
	return jobs.ErrInvalidTransition
}

func (s *sqlStore) IncrementProcessed(ctx context.Context, jobID string, delta int) error {
	if delta <= 0 {
		return nil
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE jobs
		SET processed = CASE WHEN processed + ? > total THEN total ELSE processed + ? END,
			updated_at = ?
		WHERE id = ?`), delta, delta, s.timestamp(), jobID)
	if err != nil {
		return fmt.Errorf("increment processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return jobs.ErrNotFound
	}
	return nil
}

func (s *sqlStore) CancelJob(ctx context.Context, jobID string) (int, error) {
	var cancelled int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.transition(ctx, tx, jobID, jobs.StatusCancelled); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.q(`UPDATE job_items SET status = ?, updated_at = ?
			WHERE job_id = ? AND status = ?`),
			string(jobs.ItemCancelled), s.timestamp(), jobID, string(jobs.ItemPending))
		if err != nil {
			return fmt.Errorf("cancel items: %w", err)
		}
		cancelled, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(cancelled), nil
}

func (s *sqlStore) DeleteJob(ctx context.Context, jobID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM job_items WHERE job_id = ?`), jobID); err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM jobs WHERE id = ?`), jobID); err != nil {
			return fmt.Errorf("delete job: %w", err)
		}
		return nil
	})
}

// Items

const itemColumns = `id, job_id, content_item_id, status, error, created_at, updated_at`

func (s *sqlStore) queryItems(ctx context.Context, query string, args ...any) ([]*jobs.Item, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Item, 0)
	for rows.Next() {
		var item jobs.Item
		var status string
		if err := rows.Scan(
			&item.ID,
			&item.JobID,
			&item.ContentItemID,
			&status,
			&item.Error,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		item.Status = jobs.ItemStatus(status)
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *sqlStore) ListItems(ctx context.Context, jobID string) ([]*jobs.Item, error) {
	return s.queryItems(ctx, `SELECT `+itemColumns+` FROM job_items WHERE job_id = ? ORDER BY created_at ASC, id ASC`, jobID)
}

func (s *sqlStore) PendingItems(ctx context.Context, jobID string, limit int) ([]*jobs.Item, error) {
	if limit <= 0 {
		return []*jobs.Item{}, nil
	}
	return s.queryItems(ctx, `SELECT `+itemColumns+` FROM job_items
		WHERE job_id = ? AND status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, jobID, string(jobs.ItemPending), limit)
}

func (s *sqlStore) CountPendingItems(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM job_items WHERE job_id = ? AND status = ?`),
		jobID, string(jobs.ItemPending)).Scan(&n)
	return n, err
}

func (s *sqlStore) UpdateItemStatus(ctx context.Context, itemID int64, status jobs.ItemStatus, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE job_items SET status = ?, error = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		string(status), reason, s.timestamp(), itemID, string(jobs.ItemPending))
	if err != nil {
		return false, fmt.Errorf("update item status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Content

func (s *sqlStore) GetItem(ctx context.Context, id int64) (*content.Item, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT id, title, body, status, updated_at FROM content_items WHERE id = ?`), id)
	var item content.Item
	if err := row.Scan(&item.ID, &item.Title, &item.Body, &item.Status, &item.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, content.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *sqlStore) GetItems(ctx context.Context, ids []int64) (map[int64]*content.Item, error) {
	ret := make(map[int64]*content.Item, len(ids))
	if len(ids) == 0 {
		return ret, nil
	}
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, title, body, status, updated_at
		FROM content_items WHERE id IN (`+placeholders(len(args))+`)`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item content.Item
		if err := rows.Scan(&item.ID, &item.Title, &item.Body, &item.Status, &item.UpdatedAt); err != nil {
			return nil, err
		}
		ret[item.ID] = &item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *sqlStore) UpdateBody(ctx context.Context, id int64, body string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE content_items SET body = ?, updated_at = ? WHERE id = ?`),
		body, s.timestamp(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return content.ErrNotFound
	}
	return nil
}

// UpsertItem inserts item, or replaces the row with the same id when
// item.ID is set.
func (s *sqlStore) UpsertItem(ctx context.Context, item content.Item) (*content.Item, error) {
	item.UpdatedAt = s.timestamp()
	if item.ID <= 0 {
		err := s.db.QueryRowContext(ctx, s.q(`INSERT INTO content_items (title, body, status, updated_at)
			VALUES (?, ?, ?, ?) RETURNING id`),
			item.Title, item.Body, item.Status, item.UpdatedAt).Scan(&item.ID)
		if err != nil {
			return nil, fmt.Errorf("insert content item: %w", err)
		}
		return &item, nil
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO content_items (id, title, body, status, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title=excluded.title,
				body=excluded.body,
				status=excluded.status,
				updated_at=excluded.updated_at`),
			item.ID, item.Title, item.Body, item.Status, item.UpdatedAt,
		); err != nil {
			return fmt.Errorf("upsert content item: %w", err)
		}
		if s.d.afterExplicitID != "" {
			if _, err := tx.ExecContext(ctx, s.d.afterExplicitID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// History

func (s *sqlStore) AddHistory(ctx context.Context, e rewrite.HistoryEntry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.timestamp()
	}
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`INSERT INTO rewrite_history (content_item_id, actor, provider, style, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		e.ContentItemID, e.Actor, e.Provider, e.Style, e.Content, e.CreatedAt.UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert history: %w", err)
	}
	return id, nil
}

func (s *sqlStore) ListHistory(ctx context.Context, contentItemID int64) ([]rewrite.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, content_item_id, actor, provider, style, content, created_at
		FROM rewrite_history
		WHERE content_item_id = ?
		ORDER BY created_at DESC, id DESC`), contentItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]rewrite.HistoryEntry, 0)
	for rows.Next() {
		var e rewrite.HistoryEntry
		if err := rows.Scan(&e.ID, &e.ContentItemID, &e.Actor, &e.Provider, &e.Style, &e.Content, &e.CreatedAt); err != nil {
			return nil, err
		}
		ret = append(ret, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}
