package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackbuild/stackbuild/internal/domain"
	"github.com/stackbuild/stackbuild/internal/testutil"
	"github.com/stackbuild/stackbuild/pkg/utils/shellcmd"
)

func checkEnv() *domain.Env {
	env := domain.NewEnv(map[string]string{"base": "/opt/app"})
	env.SetDefault("PYTHON", "2.7.2")
	return env
}

func TestCheckService_ReportsEveryProbe(t *testing.T) {
	t.Parallel()

	exec := testutil.NewFakeExecutor("web1").
		On("which httpd", testutil.Response{Stdout: "/opt/app/bin/httpd\n"}).
		On("which nginx", testutil.Response{Stdout: "/usr/local/bin/nginx\n"}).
		On("python -V", testutil.Response{Stderr: "Python 2.7.2\n"})

	results, err := NewCheckService(nil, nil).Check(context.Background(), exec, checkEnv())
	require.NoError(t, err)
	require.Len(t, results, len(DefaultChecks()))

	byCommand := make(map[string]domain.CheckResult, len(results))
	for _, r := range results {
		assert.Equal(t, "web1", r.Host)
		byCommand[r.Command] = r
	}

	httpd := byCommand["which httpd"]
	assert.True(t, httpd.OK)
	assert.Equal(t, "/opt/app/bin/httpd", httpd.Expected)

	nginx := byCommand["which nginx"]
	assert.False(t, nginx.OK)
	assert.Equal(t, "/usr/local/bin/nginx", nginx.Output)

	assert.True(t, byCommand["python -V"].OK)
	assert.False(t, byCommand["which uwsgi"].OK)
	assert.Equal(t, "/opt/app/bin:/opt/app/apache/bin", byCommand["printenv PATH"].Expected)
}

func TestCheckService_CustomChecksInOrder(t *testing.T) {
	t.Parallel()

	exec := testutil.NewFakeExecutor("web1").On("which git", testutil.Response{Stdout: "/opt/app/bin/git"})
	checks := []OutputProbe{
		{Command: shellcmd.New("which", "git"), Expect: "{base}/bin/git"},
		{Command: shellcmd.New("true")},
	}

	results, err := NewCheckService(checks, nil).Check(context.Background(), exec, checkEnv())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "which git", results[0].Command)
	assert.True(t, results[0].OK)
	assert.True(t, results[1].OK)
}

func TestCheckService_MissingBase(t *testing.T) {
	t.Parallel()

	exec := testutil.NewFakeExecutor("web1")
	_, err := NewCheckService(nil, nil).Check(context.Background(), exec, domain.NewEnv(nil))

	var missing *domain.MissingConfigurationError
	require.ErrorAs(t, err, &missing)
	assert.Empty(t, exec.Commands())
}

func TestCheckService_TransportErrorAborts(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	exec := testutil.NewFakeExecutor("web1").On("which nginx", testutil.Response{Err: boom})

	results, err := NewCheckService(nil, nil).Check(context.Background(), exec, checkEnv())
	require.ErrorIs(t, err, boom)
	assert.Len(t, results, 1)
}
