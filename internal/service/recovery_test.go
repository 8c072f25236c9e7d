package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecoverer struct {
	calls atomic.Int32
	armed int
	err   error
}

func (c *countingRecoverer) Recover(context.Context) (int, error) {
	c.calls.Add(1)
	return c.armed, c.err
}

func TestSchedule_RunsAtBootAndRegisters(t *testing.T) {
	rec := &countingRecoverer{armed: 2}
	c := cron.New()
	svc := NewRecoveryService(rec, c, "@every 5m")

	require.NoError(t, svc.Schedule(context.Background()))
	assert.EqualValues(t, 1, rec.calls.Load())
	assert.Len(t, c.Entries(), 1)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	status := svc.Status(now)
	assert.Equal(t, "@every 5m", status.Expression)
	assert.Equal(t, 2, status.LastArmed)
	assert.Empty(t, status.LastError)
	assert.False(t, status.LastRun.IsZero())
	assert.Equal(t, now.Add(5*time.Minute), status.NextRun)
}

func TestSchedule_InvalidExpression(t *testing.T) {
	svc := NewRecoveryService(&countingRecoverer{}, cron.New(), "every five minutes")
	assert.Error(t, svc.Schedule(context.Background()))
}

func TestSchedule_EmptyExpressionOnlyRunsOnce(t *testing.T) {
	rec := &countingRecoverer{}
	c := cron.New()
	svc := NewRecoveryService(rec, c, "")

	require.NoError(t, svc.Schedule(context.Background()))
	assert.EqualValues(t, 1, rec.calls.Load())
	assert.Empty(t, c.Entries())
	assert.True(t, svc.Status(time.Now()).NextRun.IsZero())
}

func TestRunNow_RecordsError(t *testing.T) {
	rec := &countingRecoverer{armed: 1, err: errors.New("redis down")}
	svc := NewRecoveryService(rec, nil, "")

	armed, err := svc.RunNow(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, armed)
	assert.Equal(t, "redis down", svc.Status(time.Now()).LastError)
}
