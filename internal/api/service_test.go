package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ldi/casegen/internal/errs"
	"github.com/ldi/casegen/internal/httpclient"
	"github.com/ldi/casegen/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	Method string
	Path   string
	Query  map[string][]string
	Body   string
}

// fakeBackend records every request and answers with the handler's response.
type fakeBackend struct {
	mu       sync.Mutex
	requests []recorded
	srv      *httptest.Server
}

func newFakeBackend(t *testing.T, handler http.HandlerFunc) (*fakeBackend, *Service) {
	t.Helper()
	fb := &fakeBackend{}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		fb.mu.Lock()
		fb.requests = append(fb.requests, recorded{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Body:   string(body),
		})
		fb.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(fb.srv.Close)
	return fb, NewService(httpclient.New(fb.srv.URL, 2*time.Second))
}

func (fb *fakeBackend) all() []recorded {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]recorded(nil), fb.requests...)
}

func (fb *fakeBackend) last() recorded {
	reqs := fb.all()
	return reqs[len(reqs)-1]
}

func jsonReply(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}
}

func TestGenerateUnifiedSendsExactBody(t *testing.T) {
	reply := `{"task_id":"t-1","status":"pending","message":"queued","extra":{"a":1}}`
	fb, svc := newFakeBackend(t, jsonReply(reply))

	raw, err := svc.GenerateUnified(context.Background(), models.GenerateRequest{
		BusinessType:   "RCC",
		ProjectID:      1,
		GenerationMode: models.ModeTestPointsOnly,
	})
	require.NoError(t, err)
	assert.JSONEq(t, reply, string(raw))

	req := fb.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/v1/unified-test-cases/generate", req.Path)
	assert.JSONEq(t, `{"business_type":"RCC","project_id":1,"generation_mode":"test_points_only"}`, req.Body)
}

func TestGenerateTestCasesIncludesPointIDs(t *testing.T) {
	fb, svc := newFakeBackend(t, jsonReply(`{"task_id":"t-2","status":"running"}`))

	res, err := svc.GenerateTestCasesFromPoints(context.Background(), "RCC", 3, []int64{5, -1, 5, 7}, "  ctx  ")
	require.NoError(t, err)
	assert.Equal(t, "t-2", res.TaskID)
	assert.Equal(t, models.TaskStatusRunning, res.Status)
	assert.JSONEq(t, `{"business_type":"RCC","project_id":3,"generation_mode":"test_cases_only","test_point_ids":[5,7],"additional_context":"ctx"}`, fb.last().Body)
}

func TestGenerateValidationSendsNothing(t *testing.T) {
	fb, svc := newFakeBackend(t, jsonReply(`{}`))

	cases := []models.GenerateRequest{
		{ProjectID: 1, GenerationMode: models.ModeTestPointsOnly},
		{BusinessType: "RCC", GenerationMode: models.ModeTestPointsOnly},
		{BusinessType: "RCC", ProjectID: 1, GenerationMode: "everything"},
	}
	for _, c := range cases {
		_, err := svc.GenerateUnified(context.Background(), c)
		var ve *ValidationError
		assert.True(t, errors.As(err, &ve), "expected validation error for %+v", c)
	}
	assert.Empty(t, fb.all())
}

func TestParseGenerationResult(t *testing.T) {
	res, err := ParseGenerationResult(json.RawMessage(`{"task_id":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, res.Status)

	_, err = ParseGenerationResult(json.RawMessage(`{"status":"pending"}`))
	assert.Error(t, err)
	_, err = ParseGenerationResult(json.RawMessage(`not json`))
	assert.Error(t, err)
	_, err = ParseGenerationResult(json.RawMessage(`{"task_id":"x","status":"weird"}`))
	assert.Error(t, err)
}

func TestListClampsSize(t *testing.T) {
	fb, svc := newFakeBackend(t, jsonReply(`{"items":[],"total":0,"page":1,"size":100,"pages":0}`))

	_, err := svc.ListUnifiedTestCases(context.Background(), models.CaseFilter{Size: 500, Page: -3, ProjectID: -1, Keyword: "   "})
	require.NoError(t, err)

	q := fb.last().Query
	assert.Equal(t, []string{"100"}, q["size"])
	assert.Equal(t, []string{"1"}, q["page"])
	assert.NotContains(t, q, "project_id")
	assert.NotContains(t, q, "keyword")

	_, err = svc.ListTestPoints(context.Background(), models.CaseFilter{Size: 500})
	require.NoError(t, err)

	req := fb.last()
	assert.Equal(t, "/api/v1/test-points", req.Path)
	assert.Equal(t, []string{"100"}, req.Query["size"])
}

func TestListSendsNormalizedPointIDs(t *testing.T) {
	fb, svc := newFakeBackend(t, jsonReply(`{"items":[]}`))

	_, err := svc.ListTestCases(context.Background(), models.CaseFilter{ProjectID: 2, TestPointIDs: []int64{3, 0, 3, 4}})
	require.NoError(t, err)

	req := fb.last()
	assert.Equal(t, "/api/v1/test-cases", req.Path)
	assert.Equal(t, []string{"3", "4"}, req.Query["test_point_ids"])
	assert.Equal(t, []string{"2"}, req.Query["project_id"])
}

func TestDeleteNotFoundMessage(t *testing.T) {
	_, svc := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Not Found"}`))
	})

	err := svc.DeleteUnifiedTestCase(context.Background(), 9)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "不存在")
	assert.Contains(t, errs.Translate(err), "不存在")
	assert.Equal(t, http.StatusNotFound, httpclient.StatusCode(err))
}

func TestDeleteMessagesByStatus(t *testing.T) {
	var status atomic.Int32
	_, svc := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	})

	msgs := map[int32]string{}
	for _, code := range []int32{400, 404, 500} {
		status.Store(code)
		err := svc.DeleteUnifiedTestCase(context.Background(), 1)
		require.Error(t, err)
		msgs[code] = err.Error()
	}
	assert.NotEqual(t, msgs[400], msgs[404])
	assert.NotEqual(t, msgs[404], msgs[500])
	assert.NotEqual(t, msgs[400], msgs[500])
}

func TestBatchGenerateCollectsPerItemResults(t *testing.T) {
	fb, svc := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		var req models.GenerateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.BusinessType == "TSP" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"task_id":"task-` + req.BusinessType + `","status":"pending"}`))
	})

	results := svc.BatchGenerateTestPoints(context.Background(), 1, "RCC", "", "TSP", "ALN")
	require.Len(t, results, 4)

	assert.Equal(t, "RCC", results[0].BusinessType)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "task-RCC", results[0].Result.TaskID)

	var ve *ValidationError
	assert.True(t, errors.As(results[1].Err, &ve))

	assert.Equal(t, http.StatusInternalServerError, httpclient.StatusCode(results[2].Err))
	assert.Nil(t, results[2].Result)

	require.NoError(t, results[3].Err)
	assert.Equal(t, "task-ALN", results[3].Result.TaskID)

	assert.Len(t, fb.all(), 3)
}

func TestBatchGenerateEmpty(t *testing.T) {
	fb, svc := newFakeBackend(t, jsonReply(`{"task_id":"t"}`))

	assert.Empty(t, svc.BatchGenerateTestCases(context.Background(), 1))
	assert.Empty(t, fb.all())
}

func TestTaskEndpoints(t *testing.T) {
	fb, svc := newFakeBackend(t, jsonReply(`{"status":"running","progress":40}`))

	task, err := svc.GetTaskStatus(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", task.ID)
	assert.Equal(t, 40, task.Progress)
	assert.Equal(t, "/api/v1/tasks/abc", fb.last().Path)

	require.NoError(t, svc.CancelTask(context.Background(), "abc"))
	assert.Equal(t, "/api/v1/tasks/abc/cancel", fb.last().Path)
	assert.Equal(t, http.MethodPost, fb.last().Method)

	assert.Error(t, svc.CancelTask(context.Background(), "  "))
}

func TestStatusUpdateUsesPatch(t *testing.T) {
	fb, svc := newFakeBackend(t, jsonReply(`{"id":4,"status":"approved"}`))

	tc, err := svc.UpdateUnifiedTestCaseStatus(context.Background(), 4, models.CaseStatusApproved)
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusApproved, tc.Status)
	assert.Equal(t, http.MethodPatch, fb.last().Method)
	assert.Equal(t, "/api/v1/unified-test-cases/4/status", fb.last().Path)

	_, err = svc.UpdateUnifiedTestCaseStatus(context.Background(), 4, "bogus")
	assert.Error(t, err)
}

func TestCreateTestCaseRequiresPoint(t *testing.T) {
	fb, svc := newFakeBackend(t, jsonReply(`{}`))

	_, err := svc.CreateUnifiedTestCase(context.Background(), &models.UnifiedTestCase{
		ProjectID:    1,
		BusinessType: "RCC",
		Name:         "orphan",
		Stage:        models.StageTestCase,
	})
	assert.Error(t, err)
	assert.Empty(t, fb.all())
}

func TestKnowledgeGraphNeverNil(t *testing.T) {
	_, svc := newFakeBackend(t, jsonReply(`{}`))

	g, err := svc.GetKnowledgeGraph(context.Background(), "RCC")
	require.NoError(t, err)
	assert.NotNil(t, g.Nodes)
	assert.NotNil(t, g.Edges)
}

func TestExportTestCases(t *testing.T) {
	fb, svc := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Write([]byte("xlsx-bytes"))
	})
	svc.now = func() time.Time { return time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC) }

	dl, err := svc.ExportTestCases(context.Background(), models.CaseFilter{BusinessType: "RCC", ProjectID: 1})
	require.NoError(t, err)
	assert.Equal(t, "test_cases_RCC_20240305_140709.xlsx", dl.Filename)
	assert.Equal(t, "/api/v1/unified-test-cases/export/excel", fb.last().Path)

	dir := t.TempDir()
	p, err := dl.Save(filepath.Join(dir, "out"))
	require.NoError(t, err)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "xlsx-bytes", string(data))
}
