package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/common"
	"github.com/ternarybob/ramus/internal/executors"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
	"github.com/ternarybob/ramus/internal/recursion"
	"github.com/ternarybob/ramus/internal/resources"
	"github.com/ternarybob/ramus/internal/scheduler"
	"github.com/ternarybob/ramus/internal/storage/badger"
)

type testEnv struct {
	store     interfaces.StorageManager
	scheduler *scheduler.Scheduler
	resources interfaces.ResourceService
	validator *recursion.Validator
	jobs      *JobHandler
	res       *ResourceHandler
	recursion *RecursionHandler
}

func newTestEnv(t *testing.T, executor interfaces.LeafExecutor, opts ...recursion.Option) *testEnv {
	t.Helper()

	logger := arbor.NewLogger()
	store, err := badger.NewManager(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	validator := recursion.NewValidator(opts...)
	if executor == nil {
		executor = executors.NewEchoExecutor(logger)
	}
	resourceSvc := resources.NewManager(validator.WorkersByDepth(), store.AllocationStorage(), logger)

	sched := scheduler.New(store, resourceSvc, validator, executor, nil, nil, &common.SchedulerConfig{CancelWait: "5s"}, logger)
	t.Cleanup(sched.Stop)

	return &testEnv{
		store:     store,
		scheduler: sched,
		resources: resourceSvc,
		validator: validator,
		jobs:      NewJobHandler(sched, store, logger),
		res:       NewResourceHandler(resourceSvc, logger),
		recursion: NewRecursionHandler(sched, resourceSvc, validator, logger),
	}
}

// doJSON runs one request through a handler func and captures the response
func doJSON(t *testing.T, handler http.HandlerFunc, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), "body: %s", rec.Body.String())
}

func (env *testEnv) waitForTerminal(t *testing.T, jobID string) *models.Job {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := env.store.JobStorage().GetJob(context.Background(), jobID)
		require.NoError(t, err)
		if job.IsTerminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for job %s to reach a terminal state", jobID)
	return nil
}

// stallingExecutor parks leaves until released so cancellation tests have
// a stable window to hit the live task
type stallingExecutor struct {
	started chan string
	release chan struct{}
}

func newStallingExecutor() *stallingExecutor {
	return &stallingExecutor{
		started: make(chan string, 32),
		release: make(chan struct{}),
	}
}

func (s *stallingExecutor) Name() string { return "stalling" }

func (s *stallingExecutor) Execute(ctx context.Context, request string, execCtx models.ExecutionContext) (*models.LeafResult, error) {
	s.started <- execCtx.JobID
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.release:
		return &models.LeafResult{Summary: "released"}, nil
	}
}

func TestSubmitJob_ReturnsPendingSnapshot(t *testing.T) {
	env := newTestEnv(t, newStallingExecutor())

	rec := doJSON(t, env.jobs.SubmitJobHandler, "POST", "/api/jobs/submit", &models.SubmitJobRequest{
		TaskDescription: "summarize the incident report",
		WorkerCount:     2,
	})

	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp models.JobResponse
	decodeBody(t, rec, &resp)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "PENDING", resp.Status)
	assert.Equal(t, 2, resp.WorkerCount)
	assert.Equal(t, 0, resp.Depth)
	assert.Empty(t, resp.ParentJobID)
	assert.False(t, resp.CreatedAt.IsZero())
}

func TestSubmitJob_DescriptionBounds(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := doJSON(t, env.jobs.SubmitJobHandler, "POST", "/api/jobs/submit", &models.SubmitJobRequest{
		TaskDescription: strings.Repeat("a", models.MaxTaskDescriptionLength),
	})
	assert.Equal(t, http.StatusCreated, rec.Code, "a description at the limit is accepted")

	rec = doJSON(t, env.jobs.SubmitJobHandler, "POST", "/api/jobs/submit", &models.SubmitJobRequest{
		TaskDescription: strings.Repeat("a", models.MaxTaskDescriptionLength+1),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "one past the limit is rejected")

	rec = doJSON(t, env.jobs.SubmitJobHandler, "POST", "/api/jobs/submit", &models.SubmitJobRequest{
		TaskDescription: "",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty description is rejected")
}

func TestSubmitJob_ValidationFailures(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []struct {
		name string
		req  *models.SubmitJobRequest
	}{
		{"worker count above bound", &models.SubmitJobRequest{TaskDescription: "work", WorkerCount: models.MaxWorkerCount + 1}},
		{"negative depth", &models.SubmitJobRequest{TaskDescription: "work", Depth: -1}},
		{"unknown parent", &models.SubmitJobRequest{TaskDescription: "work", Depth: 1, ParentJobID: "job_missing"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, env.jobs.SubmitJobHandler, "POST", "/api/jobs/submit", tc.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp models.ErrorResponse
			decodeBody(t, rec, &resp)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestSubmitJob_MalformedBody(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest("POST", "/api/jobs/submit", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.jobs.SubmitJobHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp models.ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Contains(t, resp.Error, "invalid request body")
}

func TestGetJob(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := doJSON(t, env.jobs.SubmitJobHandler, "POST", "/api/jobs/submit", &models.SubmitJobRequest{
		TaskDescription: "inspect me",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.JobResponse
	decodeBody(t, rec, &created)

	rec = doJSON(t, env.jobs.GetJobHandler, "GET", "/api/jobs/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched models.JobResponse
	decodeBody(t, rec, &fetched)
	assert.Equal(t, created.ID, fetched.ID)
	assert.Equal(t, "inspect me", fetched.TaskDescription)

	rec = doJSON(t, env.jobs.GetJobHandler, "GET", "/api/jobs/job_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var errResp models.ErrorResponse
	decodeBody(t, rec, &errResp)
	assert.Contains(t, errResp.Error, "not found")
}

func TestCancelJob_LiveJob(t *testing.T) {
	executor := newStallingExecutor()
	env := newTestEnv(t, executor)

	rec := doJSON(t, env.jobs.SubmitJobHandler, "POST", "/api/jobs/submit", &models.SubmitJobRequest{
		TaskDescription: "long haul",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.JobResponse
	decodeBody(t, rec, &created)

	select {
	case <-executor.started:
	case <-time.After(5 * time.Second):
		t.Fatal("leaf never started")
	}

	rec = doJSON(t, env.jobs.CancelJobHandler, "POST", fmt.Sprintf("/api/jobs/%s/cancel", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var cancelled models.JobResponse
	decodeBody(t, rec, &cancelled)
	assert.Equal(t, "CANCELLED", cancelled.Status)
}

func TestCancelJob_TerminalJobRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := doJSON(t, env.jobs.SubmitJobHandler, "POST", "/api/jobs/submit", &models.SubmitJobRequest{
		TaskDescription: "quick win",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.JobResponse
	decodeBody(t, rec, &created)

	env.waitForTerminal(t, created.ID)

	rec = doJSON(t, env.jobs.CancelJobHandler, "POST", fmt.Sprintf("/api/jobs/%s/cancel", created.ID), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp models.ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Contains(t, resp.Error, "invalid transition")
	assert.Equal(t, "completed", resp.Detail["from"])
	assert.Equal(t, "cancelled", resp.Detail["to"])
}

func TestCancelJob_UnknownJob(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := doJSON(t, env.jobs.CancelJobHandler, "POST", "/api/jobs/job_missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobs_Filters(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := doJSON(t, env.jobs.SubmitJobHandler, "POST", "/api/jobs/submit", &models.SubmitJobRequest{
		TaskDescription: "assemble the report:\n- gather sources\n- draft sections",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var root models.JobResponse
	decodeBody(t, rec, &root)
	env.waitForTerminal(t, root.ID)

	// Children land at depth 1 under the root
	rec = doJSON(t, env.jobs.ListJobsHandler, "GET", "/api/jobs?depth=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var atDepth []models.JobResponse
	decodeBody(t, rec, &atDepth)
	require.Len(t, atDepth, 2)
	for _, job := range atDepth {
		assert.Equal(t, root.ID, job.ParentJobID)
	}

	rec = doJSON(t, env.jobs.ListJobsHandler, "GET", "/api/jobs?parent_job_id="+root.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var children []models.JobResponse
	decodeBody(t, rec, &children)
	assert.Len(t, children, 2)

	// Status filters are case-insensitive on the wire
	rec = doJSON(t, env.jobs.ListJobsHandler, "GET", "/api/jobs?status=COMPLETED", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var completed []models.JobResponse
	decodeBody(t, rec, &completed)
	assert.Len(t, completed, 3)

	rec = doJSON(t, env.jobs.ListJobsHandler, "GET", "/api/jobs?limit=1&offset=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page []models.JobResponse
	decodeBody(t, rec, &page)
	assert.Len(t, page, 1)
}

func TestListJobs_BadFilters(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, target := range []string{
		"/api/jobs?status=bogus",
		"/api/jobs?depth=abc",
		"/api/jobs?limit=-5",
		"/api/jobs?limit=" + fmt.Sprint(models.MaxListLimit+1),
		"/api/jobs?offset=x",
	} {
		rec := doJSON(t, env.jobs.ListJobsHandler, "GET", target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "target %s body %s", target, rec.Body.String())

		var resp models.ErrorResponse
		decodeBody(t, rec, &resp)
		assert.NotEmpty(t, resp.Error)
	}
}

func TestGetJobTree(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := doJSON(t, env.jobs.SubmitJobHandler, "POST", "/api/jobs/submit", &models.SubmitJobRequest{
		TaskDescription: "ship it:\n- build\n- test\n- deploy",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var root models.JobResponse
	decodeBody(t, rec, &root)
	env.waitForTerminal(t, root.ID)

	rec = doJSON(t, env.jobs.GetJobTreeHandler, "GET", fmt.Sprintf("/api/jobs/%s/tree", root.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var tree models.JobTreeNode
	decodeBody(t, rec, &tree)
	assert.Equal(t, root.ID, tree.JobID)
	assert.Equal(t, models.JobStatusCompleted, tree.Status)
	require.Len(t, tree.Children, 3)
	for _, child := range tree.Children {
		assert.Equal(t, 1, child.Depth)
		assert.Empty(t, child.Children)
	}

	rec = doJSON(t, env.jobs.GetJobTreeHandler, "GET", "/api/jobs/job_missing/tree", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobHistory(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := doJSON(t, env.jobs.SubmitJobHandler, "POST", "/api/jobs/submit", &models.SubmitJobRequest{
		TaskDescription: "audit me",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.JobResponse
	decodeBody(t, rec, &created)
	env.waitForTerminal(t, created.ID)

	rec = doJSON(t, env.jobs.GetJobHistoryHandler, "GET", fmt.Sprintf("/api/jobs/%s/history", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []models.StateTransition
	decodeBody(t, rec, &rows)
	require.GreaterOrEqual(t, len(rows), 3)

	// Newest first: the completion row leads, the submission row closes
	assert.Equal(t, string(models.JobStatusCompleted), rows[0].ToState)
	assert.Equal(t, string(models.JobStatusSubmitted), rows[len(rows)-1].FromState)
	for i := 1; i < len(rows); i++ {
		assert.Greater(t, rows[i-1].Sequence, rows[i].Sequence)
	}

	rec = doJSON(t, env.jobs.GetJobHistoryHandler, "GET", fmt.Sprintf("/api/jobs/%s/history?limit=1", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var limited []models.StateTransition
	decodeBody(t, rec, &limited)
	assert.Len(t, limited, 1)

	rec = doJSON(t, env.jobs.GetJobHistoryHandler, "GET", "/api/jobs/job_missing/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobHandlers_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := doJSON(t, env.jobs.SubmitJobHandler, "GET", "/api/jobs/submit", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doJSON(t, env.jobs.ListJobsHandler, "POST", "/api/jobs", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
