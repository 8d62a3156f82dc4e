package schedulehttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/wasteplan/internal/layout"
	"github.com/odyssey-erp/wasteplan/internal/plan"
	"github.com/odyssey-erp/wasteplan/internal/reconcile"
	"github.com/odyssey-erp/wasteplan/internal/schedule"
	"github.com/odyssey-erp/wasteplan/internal/shared"
	"github.com/odyssey-erp/wasteplan/jobs"
)

type queueStub struct {
	payloads []jobs.PlanSnapshotPayload
	err      error
}

func (q *queueStub) EnqueuePlanSnapshot(ctx context.Context, payload jobs.PlanSnapshotPayload) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{ID: "task-1", Type: jobs.TaskPlanSnapshot}, nil
}

type testServer struct {
	router  chi.Router
	actuals *schedule.MemoryActualSource
	queue   *queueStub
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	registry := layout.NewRegistry(layout.NewMemoryRepository(), nil)
	store := plan.NewStore(plan.NewMemoryRepository(), nil)
	actuals := schedule.NewMemoryActualSource()
	svc := schedule.NewService(registry, store, actuals, schedule.Options{
		Companies: schedule.StaticCompanyDirectory{{ID: 7, Name: "Tokai Recycle"}},
	})
	queue := &queueStub{}
	h := NewHandler(nil, svc, queue, Config{Tolerances: reconcile.Tolerances{OnSchedule: 15, Acceptable: 60}})
	r := chi.NewRouter()
	h.MountRoutes(r)
	return testServer{router: r, actuals: actuals, queue: queue}
}

func (s testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

const janLayout = `{"headers":[
	{"order":1,"waste_type":"可燃"},
	{"order":2,"waste_type":"廃プラ"}
]}`

func TestLayoutEndpoints(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/api/plans/2025/1/layouts/ordinary", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	rr = s.do(t, http.MethodPut, "/api/plans/2025/1/layouts/ordinary", janLayout)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var defs []layout.HeaderDefinition
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &defs))
	require.Len(t, defs, 2)
	assert.Equal(t, "廃プラ", defs[1].DisplayName)

	rr = s.do(t, http.MethodGet, "/api/headers/"+defs[1].ID.String()+"/order", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"order":2`)

	rr = s.do(t, http.MethodPut, "/api/plans/2025/1/layouts/ordinary", `{"headers":[{"order":2,"waste_type":"可燃"}]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPut, "/api/plans/2025/1/layouts/holiday", janLayout)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSaveAndGetMonth(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/api/plans/2025/1/layouts/ordinary", janLayout).Code)

	rr := s.do(t, http.MethodPut, "/api/plans/2025/1", `{"entries":[
		{"date":"2025-01-10","waste_type":"廃プラ","planned_time":"9:00","vol":"2.5","company_id":7},
		{"date":"2025-01-10","waste_type":"可燃","planned_time":"08:30"}
	]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodGet, "/api/plans/2025/1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var view schedule.MonthView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	require.Len(t, view.Entries, 2)
	assert.Equal(t, "可燃", view.Entries[0].Column.WasteType)
	require.NotNil(t, view.Entries[1].PlannedTime)
	assert.Equal(t, "09:00", view.Entries[1].PlannedTime.String())
	require.NotNil(t, view.Entries[1].Vol)
	assert.Equal(t, shared.Quantity(250), *view.Entries[1].Vol)
}

func TestSaveMonthRejectsBadInput(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/api/plans/2025/1/layouts/ordinary", janLayout).Code)

	cases := map[string]string{
		"missing date":    `{"entries":[{"waste_type":"可燃"}]}`,
		"bad date":        `{"entries":[{"date":"10/01/2025","waste_type":"可燃"}]}`,
		"outside month":   `{"entries":[{"date":"2025-02-01","waste_type":"可燃"}]}`,
		"bad clock":       `{"entries":[{"date":"2025-01-10","waste_type":"可燃","planned_time":"25:00"}]}`,
		"unknown column":  `{"entries":[{"date":"2025-01-10","waste_type":"ビン"}]}`,
		"unknown company": `{"entries":[{"date":"2025-01-10","waste_type":"可燃","company_id":99}]}`,
		"unknown field":   `{"entries":[],"extra":true}`,
		"empty body":      ``,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/plans/2025/1", strings.NewReader(body))
			rr := httptest.NewRecorder()
			s.router.ServeHTTP(rr, req)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}

	rr := s.do(t, http.MethodGet, "/api/plans/2025/13", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = s.do(t, http.MethodGet, "/api/plans/2025/1?version=-1", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSnapshotEndpoints(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/api/plans/2025/1/layouts/ordinary", janLayout).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/api/plans/2025/1", `{"entries":[{"date":"2025-01-10","waste_type":"可燃"}]}`).Code)

	rr := s.do(t, http.MethodPost, "/api/plans/2025/1/snapshots", `{"user":"tanaka"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"version":1`)

	rr = s.do(t, http.MethodPost, "/api/plans/2025/1/snapshots", "")
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Contains(t, rr.Body.String(), `"version":2`)

	rr = s.do(t, http.MethodGet, "/api/plans/2025/1/versions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var history schedule.VersionHistory
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &history))
	assert.Equal(t, []plan.Version{plan.Live, plan.Frozen(1), plan.Frozen(2)}, history.Versions)
	assert.Equal(t, "tanaka", history.Snapshots[0].CreatedUser)
	assert.Equal(t, "api", history.Snapshots[1].CreatedUser)

	rr = s.do(t, http.MethodGet, "/api/plans/2025/1?version=1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"version":1`)

	rr = s.do(t, http.MethodPost, "/api/plans/2025/1/snapshots", `{"user":"cron","async":true}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.JSONEq(t, `{"task_id":"task-1"}`, rr.Body.String())
	require.Len(t, s.queue.payloads, 1)
	assert.Equal(t, jobs.PlanSnapshotPayload{Year: 2025, Month: 1, User: "cron"}, s.queue.payloads[0])

	s.queue.err = errors.New("redis down")
	rr = s.do(t, http.MethodPost, "/api/plans/2025/1/snapshots", `{"async":true}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestReconcileEndpoint(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/api/plans/2025/1/layouts/ordinary", janLayout).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/api/plans/2025/1", `{"entries":[
		{"date":"2025-01-10","waste_type":"廃プラ","planned_time":"09:00"},
		{"date":"2025-01-11","waste_type":"廃プラ","planned_time":"13:00"},
		{"date":"2025-01-12","waste_type":"廃プラ","planned_time":"08:00"}
	]}`).Code)
	col := shared.ColumnKey{WasteType: "廃プラ", Sequence: 1}
	s.actuals.Add(
		reconcile.Actual{Date: time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC), ActualTime: "13:10", Column: col},
		reconcile.Actual{Date: time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC), ActualTime: "09:30", Column: col},
		reconcile.Actual{Date: time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC), ActualTime: "bogus", Column: col},
	)

	rr := s.do(t, http.MethodGet, "/api/plans/2025/1/reconcile", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp struct {
		Summary reconcile.Summary  `json:"summary"`
		Records []reconcile.Record `json:"records"`
		Errors  []map[string]any   `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 3)
	assert.Equal(t, reconcile.StatusNotPerformed, resp.Records[0].Status)
	assert.Equal(t, reconcile.StatusOnSchedule, resp.Records[1].Status)
	assert.Equal(t, reconcile.StatusDelayedSevere, resp.Records[2].Status)
	assert.Equal(t, 1, resp.Summary.Errors)
	assert.Len(t, resp.Errors, 1)

	rr = s.do(t, http.MethodGet, "/api/plans/2025/1/reconcile?acceptable=120", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, reconcile.StatusDelayedAcceptable, resp.Records[2].Status)

	rr = s.do(t, http.MethodGet, "/api/plans/2025/1/reconcile?on_schedule=90&acceptable=60", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodGet, "/api/plans/2025/1/reconcile?format=csv", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	assert.Len(t, lines, 4)

	rr = s.do(t, http.MethodGet, "/api/plans/2025/1/reconcile?version=2", "")
	assert.Equal(t, http.StatusNotFound, rr.Code, rr.Body.String())
}

func TestListCompaniesAndHeaderOrderErrors(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/api/companies", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Tokai Recycle")

	rr = s.do(t, http.MethodGet, "/api/headers/not-a-uuid/order", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodGet, "/api/headers/00000000-0000-0000-0000-000000000001/order", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
