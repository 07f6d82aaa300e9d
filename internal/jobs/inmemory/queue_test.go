package inmemory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendflow/spendflow/internal/jobs"
)

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.Status) *jobs.IngestStatementJob {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return nil
}

func TestQueueProcessesJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, 1, store)
	defer q.Close()

	var mu sync.Mutex
	var handled []string

	ctx := context.Background()
	err := q.Start(ctx, func(ctx context.Context, job *jobs.IngestStatementJob) error {
		mu.Lock()
		handled = append(handled, job.Filename)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	job := &jobs.IngestStatementJob{Source: "data/raw/sc.csv", Filename: "sc.csv"}
	require.NoError(t, q.PublishIngest(ctx, job))
	require.NotEmpty(t, job.JobID)

	done := waitForStatus(t, store, job.JobID, jobs.StatusCompleted)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
	assert.Empty(t, done.Error)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"sc.csv"}, handled)
}

func TestQueueRetriesFailedJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, 1, store)
	defer q.Close()

	var mu sync.Mutex
	attempts := 0

	ctx := context.Background()
	err := q.Start(ctx, func(ctx context.Context, job *jobs.IngestStatementJob) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("store unreachable")
		}
		return nil
	})
	require.NoError(t, err)

	job := &jobs.IngestStatementJob{Source: "data/raw/uob.csv", Filename: "uob.csv", MaxRetries: 2}
	require.NoError(t, q.PublishIngest(ctx, job))

	done := waitForStatus(t, store, job.JobID, jobs.StatusCompleted)
	assert.Equal(t, 1, done.RetryCount)
	assert.Empty(t, done.Error)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts)
}

func TestQueueExhaustsRetries(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, 1, store)
	defer q.Close()

	ctx := context.Background()
	err := q.Start(ctx, func(ctx context.Context, job *jobs.IngestStatementJob) error {
		return errors.New("bad statement")
	})
	require.NoError(t, err)

	job := &jobs.IngestStatementJob{Source: "data/raw/bad.csv", Filename: "bad.csv", MaxRetries: 0}
	require.NoError(t, q.PublishIngest(ctx, job))

	done := waitForStatus(t, store, job.JobID, jobs.StatusFailed)
	assert.Equal(t, "bad statement", done.Error)
	assert.Equal(t, 0, done.RetryCount)
}

func TestQueueRejectsPublishAfterClose(t *testing.T) {
	q := NewQueue(1, 1, NewStore())
	require.NoError(t, q.Close())

	err := q.PublishIngest(context.Background(), &jobs.IngestStatementJob{Filename: "x.csv"})
	assert.Error(t, err)
}

func TestStoreListJobsFiltering(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	base := time.Now()
	for i, st := range []jobs.Status{jobs.StatusCompleted, jobs.StatusFailed, jobs.StatusCompleted} {
		job := &jobs.IngestStatementJob{
			JobID:     string(rune('a' + i)),
			Filename:  "f.csv",
			Status:    st,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.SaveJob(ctx, job))
	}

	completed, err := store.ListJobs(ctx, jobs.Filter{Status: jobs.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 2)
	// Newest first.
	assert.Equal(t, "c", completed[0].JobID)
	assert.Equal(t, "a", completed[1].JobID)

	limited, err := store.ListJobs(ctx, jobs.Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "c", limited[0].JobID)

	offset, err := store.ListJobs(ctx, jobs.Filter{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, offset)
}

func TestStoreGetJobReturnsCopy(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	job := &jobs.IngestStatementJob{JobID: "j1", Status: jobs.StatusPending}
	require.NoError(t, store.SaveJob(ctx, job))

	got, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	got.Status = jobs.StatusFailed

	again, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, again.Status)
}
