package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackbuild/stackbuild/internal/domain"
	"github.com/stackbuild/stackbuild/internal/testutil"
	"github.com/stackbuild/stackbuild/pkg/utils/shellcmd"
)

func baseEnv() *domain.Env {
	return domain.NewEnv(map[string]string{"base": "/opt/app"})
}

func TestBinaryProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		which  testutil.Response
		wantOK bool
	}{
		{"inside base", testutil.Response{Stdout: "/opt/app/bin/mysql\n"}, true},
		{"system copy", testutil.Response{Stdout: "/usr/bin/mysql\n"}, false},
		{"not found", testutil.Response{ExitCode: 1}, false},
		{"other base prefix", testutil.Response{Stdout: "/opt/application/bin/mysql"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exec := testutil.NewFakeExecutor("h").On("which mysql", tc.which)

			ok, detail, err := BinaryProbe{Name: "mysql"}.Installed(context.Background(), exec, baseEnv())
			require.NoError(t, err)
			assert.Equal(t, tc.wantOK, ok, detail)
		})
	}
}

func TestBinaryProbe_RequiresBase(t *testing.T) {
	t.Parallel()

	exec := testutil.NewFakeExecutor("h")
	_, _, err := BinaryProbe{Name: "mysql"}.Installed(context.Background(), exec, domain.NewEnv(nil))

	var missing *domain.MissingConfigurationError
	require.ErrorAs(t, err, &missing)
	assert.Empty(t, exec.CommandsWithPrefix("which"), "no command runs without a base")
}

func TestGemProbe(t *testing.T) {
	t.Parallel()

	exec := testutil.NewFakeExecutor("h").
		On("gem list rails -i", testutil.Response{Stdout: "true\n"}).
		On("gem list bundler -i", testutil.Response{Stdout: "false\n", ExitCode: 1})

	ok, _, err := GemProbe{Name: "rails"}.Installed(context.Background(), exec, baseEnv())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _, err = GemProbe{Name: "bundler"}.Installed(context.Background(), exec, baseEnv())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileProbe(t *testing.T) {
	t.Parallel()

	exec := testutil.NewFakeExecutor("h").AddPath("/opt/app/lib/apache/mod_wsgi.so")

	ok, detail, err := FileProbe{Path: "{base}/lib/apache/mod_wsgi.so"}.Installed(context.Background(), exec, baseEnv())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/opt/app/lib/apache/mod_wsgi.so", detail)

	ok, _, err = FileProbe{Path: "{base}/lib/missing.so"}.Installed(context.Background(), exec, baseEnv())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOutputProbe(t *testing.T) {
	t.Parallel()

	env := baseEnv()
	env.Set("PYTHON", "2.7.2")

	t.Run("version on stderr", func(t *testing.T) {
		exec := testutil.NewFakeExecutor("h").On("python -V", testutil.Response{Stderr: "Python 2.7.2\n"})
		ok, detail, err := OutputProbe{Command: shellcmd.New("python", "-V"), Expect: "Python {PYTHON}"}.Installed(context.Background(), exec, env)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "Python 2.7.2", detail)
	})

	t.Run("exit status only", func(t *testing.T) {
		exec := testutil.NewFakeExecutor("h").On("grep -q", testutil.Response{ExitCode: 1})
		probe := OutputProbe{Command: shellcmd.New("grep", "-q", "PassengerRoot", "{base}/etc/httpd/conf/httpd.conf")}
		ok, _, err := probe.Installed(context.Background(), exec, env)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, []string{"grep -q PassengerRoot /opt/app/etc/httpd/conf/httpd.conf"}, exec.Commands())
	})
}
