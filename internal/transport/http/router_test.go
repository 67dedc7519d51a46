package http

import (
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackbuild/stackbuild/internal/config"
	"github.com/stackbuild/stackbuild/internal/core/services"
	"github.com/stackbuild/stackbuild/internal/domain"
	"github.com/stackbuild/stackbuild/internal/infrastructure/db"
	"github.com/stackbuild/stackbuild/internal/infrastructure/logger"
	"github.com/stackbuild/stackbuild/internal/testutil"
	"github.com/stackbuild/stackbuild/internal/transport/http/dto"
	"github.com/stackbuild/stackbuild/pkg/utils/shellcmd"
)

const adminKey = "test-admin-key"

type testServer struct {
	app  *fiber.App
	runs *services.RunService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		Hosts: []config.HostConfig{{Name: "web1"}},
		Env:   map[string]string{"base": "/opt/app", "python": "2.7.2"},
		Auth:  config.AuthConfig{AdminAPIKey: adminKey},
	}
	reg, err := services.NewRegistry(&services.InstallTask{
		Name:   "hello",
		Params: []services.Param{{Key: "WHO", Optional: true}},
		Build:  []services.Step{{Cmd: shellcmd.New("echo", "hello")}},
	})
	require.NoError(t, err)

	log := logger.NewNop()
	timeline := db.NewTimelineRepoStub(log)
	factory := testutil.NewFactory()
	factory.Setup = func(e *testutil.FakeExecutor) {
		e.On("which httpd", testutil.Response{Stdout: "/opt/app/bin/httpd"})
	}
	deploy := services.NewDeployService(cfg, reg, factory, nil, timeline, nil, log)
	runs := services.NewRunService(deploy, log)

	app := NewApp(cfg, log)
	SetupRoutes(app, RouterConfig{
		Logger:   log,
		Config:   cfg,
		Tasks:    reg.Infos(),
		Runs:     runs,
		Deploy:   deploy,
		Timeline: timeline,
	})
	return &testServer{app: app, runs: runs}
}

func (s *testServer) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("X-Admin-Token", adminKey)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.app.Test(httptest.NewRequest(nethttp.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAdminAuth(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.app.Test(httptest.NewRequest(nethttp.MethodGet, "/api/v1/tasks", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(nethttp.MethodGet, "/api/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(nethttp.MethodGet, "/api/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+adminKey)
	resp, err = s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = s.app.Test(httptest.NewRequest(nethttp.MethodGet, "/api/v1/tasks?token="+adminKey, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestListTasks(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, nethttp.MethodGet, "/api/v1/tasks", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `[{"name":"hello","description":"","params":["[WHO]"]}]`, string(body))
}

func TestCreateRun_Validation(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, nethttp.MethodPost, "/api/v1/runs", `{"tasks":[{"task":"nope"},{"task":""}]}`)
	require.Equal(t, fiber.StatusBadRequest, status)

	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "validation failed", resp.Error)
	assert.Contains(t, resp.Details, "unknown task: nope")
	assert.Contains(t, resp.Details, "tasks[1].task is required")

	status, _ = s.do(t, nethttp.MethodPost, "/api/v1/runs", `{"tasks":`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestCreateRun_RunsToCompletion(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, nethttp.MethodPost, "/api/v1/runs", `{"tasks":[{"task":"hello","args":["world"]}]}`)
	require.Equal(t, fiber.StatusAccepted, status)

	var run domain.Run
	require.NoError(t, json.Unmarshal(body, &run))
	require.NotEmpty(t, run.ID)

	s.runs.Wait()

	status, body = s.do(t, nethttp.MethodGet, "/api/v1/runs/"+run.ID, "")
	require.Equal(t, fiber.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	require.Len(t, run.Reports, 1)
	assert.Equal(t, "web1", run.Reports[0].Host)

	status, body = s.do(t, nethttp.MethodGet, "/api/v1/runs/"+run.ID+"/events", "")
	require.Equal(t, fiber.StatusOK, status)
	var events []domain.TimelineEvent
	require.NoError(t, json.Unmarshal(body, &events))
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventTypeTaskStarted, events[0].Type)
	assert.Equal(t, domain.EventTypeTaskInstalled, events[1].Type)

	status, _ = s.do(t, nethttp.MethodGet, "/api/v1/timeline?host=web1", "")
	assert.Equal(t, fiber.StatusOK, status)

	status, body = s.do(t, nethttp.MethodGet, fmt.Sprintf("/api/v1/timeline/%d", events[1].ID), "")
	require.Equal(t, fiber.StatusOK, status)
	var one domain.TimelineEvent
	require.NoError(t, json.Unmarshal(body, &one))
	assert.Equal(t, "hello", one.Task)
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, nethttp.MethodGet, "/api/v1/runs/missing", "")
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = s.do(t, nethttp.MethodGet, "/api/v1/runs/missing/events", "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestStream_RequiresUpgrade(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, nethttp.MethodGet, "/api/v1/runs/any/stream", "")
	assert.Equal(t, fiber.StatusUpgradeRequired, status)
}

func TestCheck(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, nethttp.MethodPost, "/api/v1/checks", "")
	require.Equal(t, fiber.StatusOK, status)

	var resp dto.CheckResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, len(services.DefaultChecks()), resp.Total)
	assert.Equal(t, 1, resp.Passed)
	assert.Empty(t, resp.Error)
}

func TestTimeline_InvalidLimit(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, nethttp.MethodGet, "/api/v1/timeline?limit=0", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestTimelineEvent_Lookup(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, nethttp.MethodGet, "/api/v1/timeline/999", "")
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = s.do(t, nethttp.MethodGet, "/api/v1/timeline/abc", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}
