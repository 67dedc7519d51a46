package catalog_test

import (
	"context"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackbuild/stackbuild/internal/core/services"
	"github.com/stackbuild/stackbuild/internal/core/services/catalog"
	"github.com/stackbuild/stackbuild/internal/domain"
	"github.com/stackbuild/stackbuild/internal/testutil"
)

const base = "/opt/app"

// host simulates what a build leaves behind: programs appear in
// {base}/bin once their source tree runs make install, gems once they
// are installed, and the Passenger config once httpd.conf is written.
type host struct {
	mu        sync.Mutex
	binaries  map[string]bool
	gems      map[string]bool
	passenger bool
}

// sources maps an unpacked source dir to the program its probe looks for.
var sources = map[string]string{
	"httpd-2.2.25":        "apachectl",
	"ImageMagick-6.8.7-0": "animate",
	"ruby-2.0.0-p247":     "ruby",
	"cmake-2.8.11.2":      "cmake",
	"mysql-5.7.2-m12":     "mysql",
	"curl-7.32.0":         "curl",
}

func newHost() *host {
	return &host{binaries: map[string]bool{}, gems: map[string]bool{}}
}

func (h *host) respond(c testutil.Call) *testutil.Response {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case c.Command == "make install":
		if bin, ok := sources[path.Base(c.Opts.Dir)]; ok {
			h.binaries[bin] = true
		}
	case strings.HasPrefix(c.Command, "gem install "):
		h.gems[strings.TrimPrefix(c.Command, "gem install ")] = true
	case strings.HasPrefix(c.Command, "printf ") && strings.HasSuffix(c.Command, "/etc/httpd/conf/httpd.conf"):
		h.passenger = true
	case strings.HasPrefix(c.Command, "which "):
		name := strings.TrimPrefix(c.Command, "which ")
		if h.binaries[name] {
			return &testutil.Response{Stdout: base + "/bin/" + name + "\n"}
		}
		return &testutil.Response{ExitCode: 1}
	case strings.HasPrefix(c.Command, "gem list "):
		name := strings.Fields(c.Command)[2]
		if h.gems[name] {
			return &testutil.Response{Stdout: "true\n"}
		}
		return &testutil.Response{Stdout: "false\n"}
	case strings.HasPrefix(c.Command, "grep -q PassengerRoot"):
		if h.passenger {
			return &testutil.Response{}
		}
		return &testutil.Response{ExitCode: 1}
	case c.Command == "passenger-config --root":
		return &testutil.Response{Stdout: base + "/lib/ruby/gems/2.0.0/gems/passenger-4.0.20\n"}
	}
	return nil
}

func newOrchestrator(t *testing.T, exec *testutil.FakeExecutor) *services.Orchestrator {
	t.Helper()
	reg, err := catalog.New()
	require.NoError(t, err)
	o := services.NewOrchestrator(services.OrchestratorConfig{
		Registry: reg,
		Exec:     exec,
		Env:      domain.NewEnv(map[string]string{"base": base}),
	})
	require.NoError(t, o.PrepareEnv(context.Background()))
	return o
}

func TestCatalog_IsValid(t *testing.T) {
	t.Parallel()

	reg, err := catalog.New()
	require.NoError(t, err)
	assert.Len(t, reg.Names(), len(catalog.Tasks()))

	for _, name := range []string{"nginx", "redmine", "python", "mysql", "apache", "gem-rails", "install"} {
		_, ok := reg.Get(name)
		assert.True(t, ok, name)
	}
}

func TestCatalog_RedmineInstallsPrerequisitesInOrder(t *testing.T) {
	t.Parallel()

	h := newHost()
	exec := testutil.NewFakeExecutor("web1")
	exec.Respond = h.respond
	o := newOrchestrator(t, exec)

	_, err := o.Ensure(context.Background(), "redmine", "3307", "8080")
	require.NoError(t, err)

	var done []string
	for _, r := range o.Record() {
		assert.Equal(t, domain.TaskStatusInstalled, r.Status, r.Task)
		done = append(done, r.Task)
	}
	assert.Equal(t, []string{
		"apache", "imagemagick", "ruby", "gem-rails", "gem-bundler",
		"cmake", "mysql", "gem-passenger", "curl", "redmine",
	}, done)

	var built []string
	for _, c := range exec.Calls() {
		if c.Command == "make install" {
			built = append(built, path.Base(c.Opts.Dir))
		}
	}
	assert.Equal(t, []string{
		"httpd-2.2.25", "ImageMagick-6.8.7-0", "ruby-2.0.0-p247", "cmake-2.8.11.2", "mysql-5.7.2-m12", "curl-7.32.0",
	}, built)
	assert.Equal(t, []string{
		"gem install rails", "gem install bundler", "gem install mysql2", "gem install passenger",
	}, exec.CommandsWithPrefix("gem install"))

	// Redmine's own commands start only after every prerequisite.
	mysqld := exec.Index("mysqld_safe")
	require.NotEqual(t, -1, mysqld)
	assert.Greater(t, mysqld, exec.Index("make install"))
	assert.Greater(t, mysqld, exec.Index("gem install passenger"))
	assert.Contains(t, exec.Commands()[mysqld], "&")

	commands := exec.Commands()
	last := -1
	for i, c := range commands {
		if strings.HasPrefix(c, "make install") || strings.HasPrefix(c, "gem install") {
			last = i
		}
	}
	assert.Greater(t, mysqld, last)

	var conf string
	for _, c := range commands {
		if strings.HasSuffix(c, "/etc/httpd/conf/httpd.conf") {
			conf = c
		}
	}
	assert.Contains(t, conf, "Listen 8080")
	assert.Contains(t, conf, "PassengerRoot "+base+"/lib/ruby/gems/2.0.0/gems/passenger-4.0.20")
	assert.Contains(t, conf, `%{Referer}i`)
}

func TestCatalog_RedmineRequiresPorts(t *testing.T) {
	t.Parallel()

	exec := testutil.NewFakeExecutor("web1")
	exec.Respond = newHost().respond
	o := newOrchestrator(t, exec)

	_, err := o.Ensure(context.Background(), "redmine", "3307")

	var missing *domain.MissingConfigurationError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "HTTP_PORT", missing.Key)
}

func TestCatalog_NginxUsesCachedArchives(t *testing.T) {
	t.Parallel()

	cache := testutil.HomeDir + "/packages"
	exec := testutil.NewFakeExecutor("web1").
		AddPath(cache+"/nginx-1.5.0.tar.gz", cache+"/pcre-8.33.tar.gz", cache+"/uwsgi-1.9.17.tar.gz").
		On("which nginx", testutil.Response{ExitCode: 1}, testutil.Response{Stdout: base + "/bin/nginx\n"})
	o := newOrchestrator(t, exec)

	res, err := o.Ensure(context.Background(), "nginx")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusInstalled, res.Status)

	assert.Empty(t, exec.CommandsWithPrefix("wget"))
	assert.Len(t, exec.CommandsWithPrefix("tar -xzf"), 3)

	var configure testutil.Call
	for _, c := range exec.Calls() {
		if strings.HasPrefix(c.Command, "./configure") {
			configure = c
		}
	}
	assert.Equal(t, testutil.HomeDir+"/~build/nginx-1.5.0", configure.Opts.Dir)
	assert.Contains(t, configure.Command, "--sbin-path="+base+"/bin/nginx")
	assert.Contains(t, configure.Command, "--group="+testutil.User)
}

func TestCatalog_NginxAlreadyInstalledDoesNothing(t *testing.T) {
	t.Parallel()

	exec := testutil.NewFakeExecutor("web1").On("which nginx", testutil.Response{Stdout: base + "/bin/nginx\n"})
	o := newOrchestrator(t, exec)

	res, err := o.Ensure(context.Background(), "nginx", "1.4.2")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSkipped, res.Status)

	assert.Equal(t, []string{"echo $HOME", "id -un", "id -gn", "which nginx"}, exec.Commands())
}
