package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendflow/spendflow/internal/jobs"
)

type fakePublisher struct {
	published []*jobs.IngestStatementJob
	err       error
}

func (p *fakePublisher) PublishIngest(ctx context.Context, job *jobs.IngestStatementJob) error {
	if p.err != nil {
		return p.err
	}
	job.JobID = "test-job"
	job.Status = jobs.StatusPending
	p.published = append(p.published, job)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadStatementStagesFileAndEnqueues(t *testing.T) {
	inbox := t.TempDir()
	pub := &fakePublisher{}
	h := NewStatementsHandler(pub, inbox, zerolog.Nop())

	body, contentType := multipartBody(t, "file", "ocbc.csv", "Date,Description,Debit,Credit\n")
	req := httptest.NewRequest(http.MethodPost, "/api/statements", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.UploadStatement(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "test-job", resp["job_id"])
	assert.Equal(t, "ocbc.csv", resp["filename"])

	require.Len(t, pub.published, 1)
	job := pub.published[0]
	assert.Equal(t, "ocbc.csv", job.Filename)

	data, err := os.ReadFile(job.Source)
	require.NoError(t, err)
	assert.Equal(t, "Date,Description,Debit,Credit\n", string(data))
	assert.Equal(t, inbox, filepath.Dir(job.Source))
}

func TestUploadStatementRejectsNonCSV(t *testing.T) {
	pub := &fakePublisher{}
	h := NewStatementsHandler(pub, t.TempDir(), zerolog.Nop())

	body, contentType := multipartBody(t, "file", "statement.pdf", "%PDF-1.4")
	req := httptest.NewRequest(http.MethodPost, "/api/statements", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.UploadStatement(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, pub.published)
}

func TestEnqueueIngest(t *testing.T) {
	pub := &fakePublisher{}
	h := NewStatementsHandler(pub, t.TempDir(), zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/statements/ingest",
		bytes.NewBufferString(`{"source":"gs://statements/2026/sc.csv"}`))
	rec := httptest.NewRecorder()

	h.EnqueueIngest(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "gs://statements/2026/sc.csv", pub.published[0].Source)
	assert.Equal(t, "sc.csv", pub.published[0].Filename)
}

func TestEnqueueIngestRequiresSource(t *testing.T) {
	pub := &fakePublisher{}
	h := NewStatementsHandler(pub, t.TempDir(), zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/statements/ingest", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()

	h.EnqueueIngest(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, pub.published)
}

type fakeJobStore struct {
	jobs map[string]*jobs.IngestStatementJob
}

func (s *fakeJobStore) SaveJob(ctx context.Context, job *jobs.IngestStatementJob) error {
	s.jobs[job.JobID] = job
	return nil
}

func (s *fakeJobStore) GetJob(ctx context.Context, jobID string) (*jobs.IngestStatementJob, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, os.ErrNotExist
	}
	return job, nil
}

func (s *fakeJobStore) ListJobs(ctx context.Context, filter jobs.Filter) ([]*jobs.IngestStatementJob, error) {
	var out []*jobs.IngestStatementJob
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

func TestGetJob(t *testing.T) {
	store := &fakeJobStore{jobs: map[string]*jobs.IngestStatementJob{
		"j1": {JobID: "j1", Status: jobs.StatusCompleted},
	}}
	h := NewJobsHandler(store, zerolog.Nop())

	r := mux.NewRouter()
	r.HandleFunc("/api/jobs/{id}", h.GetJob).Methods(http.MethodGet)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/j1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var job jobs.IngestStatementJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, jobs.StatusCompleted, job.Status)

	req = httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobsFiltersByStatus(t *testing.T) {
	store := &fakeJobStore{jobs: map[string]*jobs.IngestStatementJob{
		"j1": {JobID: "j1", Status: jobs.StatusCompleted},
		"j2": {JobID: "j2", Status: jobs.StatusFailed},
	}}
	h := NewJobsHandler(store, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/jobs?status=failed", nil)
	rec := httptest.NewRecorder()
	h.ListJobs(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Jobs  []*jobs.IngestStatementJob `json:"jobs"`
		Count int                        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "j2", resp.Jobs[0].JobID)
}
