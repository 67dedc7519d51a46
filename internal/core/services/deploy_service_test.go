package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackbuild/stackbuild/internal/config"
	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/domain"
	"github.com/stackbuild/stackbuild/internal/infrastructure/db"
	"github.com/stackbuild/stackbuild/internal/testutil"
	"github.com/stackbuild/stackbuild/pkg/utils/shellcmd"
)

func testConfig(hosts ...string) *config.Config {
	cfg := &config.Config{
		Env:       map[string]string{"base": "/opt/app"},
		Execution: config.ExecutionConfig{Concurrency: 2},
	}
	for _, h := range hosts {
		cfg.Hosts = append(cfg.Hosts, config.HostConfig{Name: h, Address: h})
	}
	return cfg
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(
		echoTask("base"),
		&InstallTask{
			Name:     "app",
			Requires: []string{"base"},
			Build:    []Step{{Cmd: shellcmd.New("echo", "{base}")}},
		},
	)
	require.NoError(t, err)
	return reg
}

var appRequest = ports.DeployRequest{Invocations: []domain.Invocation{{Task: "app"}}}

func TestDeploy_RunsEveryHost(t *testing.T) {
	t.Parallel()

	factory := testutil.NewFactory()
	svc := NewDeployService(testConfig("web1", "web2", "web3"), testRegistry(t), factory, nil, nil, nil, nil)

	var mu sync.Mutex
	seen := map[string]int{}
	reports, err := svc.Deploy(context.Background(), appRequest, func(ev domain.RunEvent) {
		mu.Lock()
		defer mu.Unlock()
		seen[ev.Host]++
	})
	require.NoError(t, err)
	require.Len(t, reports, 3)

	for i, host := range []string{"web1", "web2", "web3"} {
		assert.Equal(t, host, reports[i].Host)
		assert.Empty(t, reports[i].Error)
		assert.Equal(t, []string{"base", "app"}, taskNames(reports[i].Results))

		exec := factory.Executor(host)
		assert.True(t, exec.Closed())
		commands := exec.Commands()
		assert.Equal(t, []string{"echo base", "echo /opt/app"}, commands[len(commands)-2:])
	}
	assert.Len(t, seen, 3)
}

func TestDeploy_RequestedHostsOnly(t *testing.T) {
	t.Parallel()

	factory := testutil.NewFactory()
	svc := NewDeployService(testConfig("web1", "web2"), testRegistry(t), factory, nil, nil, nil, nil)

	req := appRequest
	req.Hosts = []string{"web2"}
	reports, err := svc.Deploy(context.Background(), req, nil)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "web2", reports[0].Host)
	assert.Empty(t, factory.Executor("web1").Calls())
}

func TestDeploy_HostFailureDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	factory := testutil.NewFactory()
	factory.Setup = func(e *testutil.FakeExecutor) {
		if e.Target() == "web2" {
			e.On("echo /opt/app", testutil.Response{ExitCode: 2, Stderr: "disk full"})
		}
	}
	factory.Fail = map[string]error{"web3": errors.New("dial tcp: connection refused")}
	svc := NewDeployService(testConfig("web1", "web2", "web3"), testRegistry(t), factory, nil, nil, nil, nil)

	reports, err := svc.Deploy(context.Background(), appRequest, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHostFailed)
	assert.Contains(t, err.Error(), "web2")
	assert.Contains(t, err.Error(), "web3")

	var ef *domain.ExecutionFailure
	require.ErrorAs(t, err, &ef)
	assert.Equal(t, "app", ef.Task)

	require.Len(t, reports, 3)
	assert.Empty(t, reports[0].Error)
	assert.Equal(t, []string{"base", "app"}, taskNames(reports[0].Results))

	assert.NotEmpty(t, reports[1].Error)
	assert.Equal(t, []string{"base"}, taskNames(reports[1].Results), "tasks finished before the failure are reported")

	assert.Contains(t, reports[2].Error, "connection refused")
	assert.Empty(t, reports[2].Results)
}

func TestDeploy_Validation(t *testing.T) {
	t.Parallel()

	svc := NewDeployService(testConfig(), testRegistry(t), testutil.NewFactory(), nil, nil, nil, nil)

	_, err := svc.Deploy(context.Background(), ports.DeployRequest{}, nil)
	assert.ErrorIs(t, err, ErrNoInvocations)

	_, err = svc.Deploy(context.Background(), appRequest, nil)
	assert.ErrorIs(t, err, ErrNoHosts)
}

func TestDeploy_UsesLocker(t *testing.T) {
	t.Parallel()

	locker := &recordingLocker{}
	svc := NewDeployService(testConfig("web1", "web2"), testRegistry(t), testutil.NewFactory(), locker, nil, nil, nil)

	_, err := svc.Deploy(context.Background(), appRequest, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"web1", "web2"}, locker.locked)
	assert.Equal(t, 2, locker.released)
}

func TestResolveEnv_Layering(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Env["python"] = "2.7.2"
	cfg.Env["http_port"] = "80"
	cfg.Hosts = []config.HostConfig{{Name: "web1", Env: map[string]string{"base": "/srv/web", "http_port": "8080"}}}

	env := ResolveEnv(cfg, "web1", map[string]string{"HTTP_PORT": "9090"})
	assert.Equal(t, "/srv/web", env.GetOr("base", ""))
	assert.Equal(t, "2.7.2", env.GetOr("PYTHON", ""))
	assert.Equal(t, "9090", env.GetOr("http_port", ""))

	other := ResolveEnv(cfg, "unknown", nil)
	assert.Equal(t, "/opt/app", other.GetOr("base", ""))
	assert.Equal(t, "80", other.GetOr("http_port", ""))
}

func TestDeployCheck_FlattensHostsAndJournals(t *testing.T) {
	t.Parallel()

	factory := testutil.NewFactory()
	factory.Setup = func(e *testutil.FakeExecutor) {
		e.On("which httpd", testutil.Response{Stdout: "/opt/app/bin/httpd"})
	}
	journal := db.NewTimelineRepoStub(nil)
	checks := NewCheckService([]OutputProbe{
		{Command: shellcmd.New("which", "httpd"), Expect: "{base}/bin/httpd"},
		{Command: shellcmd.New("which", "nginx"), Expect: "{base}/bin/nginx"},
	}, nil)
	svc := NewDeployService(testConfig("web1", "web2"), testRegistry(t), factory, nil, journal, checks, nil)

	results, err := svc.Check(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, "web1", results[0].Host)
	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	assert.Equal(t, "web2", results[2].Host)

	entries, err := journal.GetByHost(context.Background(), "web1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EventTypeCheck, entries[0].Type)
	assert.Equal(t, domain.EventStatusFailed, entries[0].Status)
	assert.Equal(t, "1/2 checks passed", entries[0].Message)
}

type recordingLocker struct {
	mu       sync.Mutex
	locked   []string
	released int
}

func (l *recordingLocker) Lock(hosts ...string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked = append(l.locked, hosts...)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
	}, nil
}

// overlapCounter records the peak number of concurrent "echo base" builds.
type overlapCounter struct {
	active atomic.Int32
	peak   atomic.Int32
	builds atomic.Int32
}

func (o *overlapCounter) setup(e *testutil.FakeExecutor) {
	e.Respond = func(c testutil.Call) *testutil.Response {
		if c.Command != "echo base" {
			return nil
		}
		o.builds.Add(1)
		n := o.active.Add(1)
		for {
			p := o.peak.Load()
			if n <= p || o.peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		o.active.Add(-1)
		return &testutil.Response{}
	}
}

func TestDeploy_DuplicateHostsRunOnce(t *testing.T) {
	t.Parallel()

	var counter overlapCounter
	factory := testutil.NewFactory()
	factory.Setup = counter.setup
	svc := NewDeployService(testConfig("web1"), testRegistry(t), factory, nil, nil, nil, nil)

	req := appRequest
	req.Hosts = []string{"web1", "web1"}
	reports, err := svc.Deploy(context.Background(), req, nil)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "web1", reports[0].Host)
	assert.Equal(t, int32(1), counter.builds.Load())
}

func TestRunService_ConcurrentRunsOnOneHostDoNotOverlap(t *testing.T) {
	t.Parallel()

	var counter overlapCounter
	factory := testutil.NewFactory()
	factory.Setup = counter.setup
	svc := NewDeployService(testConfig("web1"), testRegistry(t), factory, nil, nil, nil, nil)
	runs := NewRunService(svc, nil)

	_, err := runs.StartRun(context.Background(), appRequest)
	require.NoError(t, err)
	_, err = runs.StartRun(context.Background(), appRequest)
	require.NoError(t, err)
	runs.Wait()

	assert.Equal(t, int32(2), counter.builds.Load())
	assert.Equal(t, int32(1), counter.peak.Load())
}
