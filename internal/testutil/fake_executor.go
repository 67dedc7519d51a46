// Package testutil provides a scripted in-memory executor for tests.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/domain"
)

const (
	HomeDir = "/home/deploy"
	User    = "deploy"
)

// Response is what a scripted command returns. A non-nil Err is returned
// as a transport failure.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// Call records one Run invocation.
type Call struct {
	Command string
	Opts    ports.RunOptions
}

type rule struct {
	prefix    string
	responses []Response
	calls     int
}

// FakeExecutor answers commands from rules matched by prefix. The newest
// matching rule wins; repeated calls walk its responses and stay on the
// last one. Unmatched commands succeed with empty output.
type FakeExecutor struct {
	name string

	mu      sync.Mutex
	rules   []*rule
	calls   []Call
	paths   map[string]bool
	probes  []string
	uploads [][2]string
	closed  bool

	// Respond, when set, is consulted before the rules. Returning nil
	// falls through.
	Respond func(c Call) *Response
}

// NewFakeExecutor returns an executor that already answers the lookups
// done when a host's context is prepared.
func NewFakeExecutor(name string) *FakeExecutor {
	f := &FakeExecutor{name: name, paths: make(map[string]bool)}
	f.On("echo $HOME", Response{Stdout: HomeDir + "\n"})
	f.On("id -un", Response{Stdout: User + "\n"})
	f.On("id -gn", Response{Stdout: User + "\n"})
	return f
}

func (f *FakeExecutor) On(prefix string, responses ...Response) *FakeExecutor {
	if len(responses) == 0 {
		responses = []Response{{}}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{prefix: prefix, responses: responses})
	return f
}

// AddPath makes PathExists report p as present.
func (f *FakeExecutor) AddPath(paths ...string) *FakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		f.paths[p] = true
	}
	return f
}

func (f *FakeExecutor) Target() string { return f.name }

func (f *FakeExecutor) Run(ctx context.Context, command string, opts ports.RunOptions) (*ports.CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	call := Call{Command: command, Opts: opts}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	respond := f.Respond
	f.mu.Unlock()

	var resp *Response
	if respond != nil {
		resp = respond(call)
	}
	if resp == nil {
		r := f.match(command)
		resp = &r
	}
	if resp.Err != nil {
		return nil, resp.Err
	}

	res := &ports.CommandResult{ExitCode: resp.ExitCode, Stdout: resp.Stdout, Stderr: resp.Stderr}
	if res.ExitCode != 0 && !opts.TolerateFailure {
		return res, &domain.ExecutionFailure{Command: command, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res, nil
}

func (f *FakeExecutor) match(command string) Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.rules) - 1; i >= 0; i-- {
		r := f.rules[i]
		if !strings.HasPrefix(command, r.prefix) {
			continue
		}
		idx := r.calls
		if idx >= len(r.responses) {
			idx = len(r.responses) - 1
		}
		r.calls++
		return r.responses[idx]
	}
	return Response{}
}

func (f *FakeExecutor) PathExists(ctx context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes = append(f.probes, path)
	return f.paths[path], nil
}

func (f *FakeExecutor) Upload(ctx context.Context, localPath, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, [2]string{localPath, remotePath})
	f.paths[remotePath] = true
	return nil
}

func (f *FakeExecutor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Calls returns every Run call in order.
func (f *FakeExecutor) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Commands returns every command line run, in order.
func (f *FakeExecutor) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Command)
	}
	return out
}

// CommandsWithPrefix returns the commands starting with prefix.
func (f *FakeExecutor) CommandsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range f.Commands() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Index returns the position of the first command starting with prefix,
// or -1.
func (f *FakeExecutor) Index(prefix string) int {
	for i, c := range f.Commands() {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

func (f *FakeExecutor) Uploads() [][2]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]string(nil), f.uploads...)
}

func (f *FakeExecutor) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Factory hands out one FakeExecutor per host name, creating them on
// first use.
type Factory struct {
	mu    sync.Mutex
	execs map[string]*FakeExecutor
	// Setup, when set, scripts executors as they are created.
	Setup func(*FakeExecutor)
	// Fail makes Open return an error for the named hosts.
	Fail map[string]error
}

func NewFactory() *Factory {
	return &Factory{execs: make(map[string]*FakeExecutor)}
}

func (f *Factory) Open(ctx context.Context, host string) (ports.RemoteExecutor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Fail[host]; err != nil {
		return nil, err
	}
	return f.get(host), nil
}

// Executor returns the executor for host, creating it if needed.
func (f *Factory) Executor(host string) *FakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.get(host)
}

func (f *Factory) get(host string) *FakeExecutor {
	if e, ok := f.execs[host]; ok {
		return e
	}
	e := NewFakeExecutor(host)
	if f.Setup != nil {
		f.Setup(e)
	}
	f.execs[host] = e
	return e
}
