package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/domain"
	"github.com/stackbuild/stackbuild/pkg/utils/shellcmd"
)

// BinaryProbe treats a program as installed only when PATH resolves it
// inside {base}/bin. A system copy elsewhere does not count.
type BinaryProbe struct {
	Name string
}

func (p BinaryProbe) Installed(ctx context.Context, exec ports.RemoteExecutor, env *domain.Env) (bool, string, error) {
	want, err := p.expected(env)
	if err != nil {
		return false, "", err
	}
	res, err := exec.Run(ctx, shellcmd.Join("which", p.Name), ports.RunOptions{TolerateFailure: true})
	if err != nil {
		return false, "", err
	}
	out := strings.TrimSpace(res.Stdout)
	return strings.HasPrefix(out, want), out, nil
}

func (p BinaryProbe) expected(env *domain.Env) (string, error) {
	base, err := env.Get("base")
	if err != nil {
		return "", err
	}
	return strings.TrimRight(base, "/") + "/bin/" + p.Name, nil
}

func (p BinaryProbe) Describe() string {
	return fmt.Sprintf("which %s starts with {base}/bin/%s", p.Name, p.Name)
}

// GemProbe asks rubygems whether a gem is installed.
type GemProbe struct {
	Name string
}

func (p GemProbe) Installed(ctx context.Context, exec ports.RemoteExecutor, env *domain.Env) (bool, string, error) {
	res, err := exec.Run(ctx, shellcmd.Join("gem", "list", p.Name, "-i"), ports.RunOptions{TolerateFailure: true})
	if err != nil {
		return false, "", err
	}
	out := strings.TrimSpace(res.Stdout)
	return out == "true", out, nil
}

func (p GemProbe) Describe() string {
	return fmt.Sprintf("gem list %s -i is true", p.Name)
}

// FileProbe checks that a templated path exists on the host.
type FileProbe struct {
	Path string
}

func (p FileProbe) Installed(ctx context.Context, exec ports.RemoteExecutor, env *domain.Env) (bool, string, error) {
	path, err := env.Format(p.Path)
	if err != nil {
		return false, "", err
	}
	ok, err := exec.PathExists(ctx, path)
	if err != nil {
		return false, "", err
	}
	return ok, path, nil
}

func (p FileProbe) Describe() string {
	return fmt.Sprintf("%s exists", p.Path)
}

// OutputProbe runs a command and compares the start of its output with an
// expected template. Stderr is used when stdout is empty, since some tools
// (python -V) print their version there. An empty Expect only requires a
// zero exit.
type OutputProbe struct {
	Command shellcmd.Command
	Expect  string
}

func (p OutputProbe) Installed(ctx context.Context, exec ports.RemoteExecutor, env *domain.Env) (bool, string, error) {
	line, err := p.Command.Render(env)
	if err != nil {
		return false, "", err
	}
	want, err := env.Format(p.Expect)
	if err != nil {
		return false, "", err
	}
	res, err := exec.Run(ctx, line, ports.RunOptions{TolerateFailure: true})
	if err != nil {
		return false, "", err
	}
	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		out = strings.TrimSpace(res.Stderr)
	}
	if want == "" {
		return res.ExitCode == 0, out, nil
	}
	return strings.HasPrefix(out, want), out, nil
}

func (p OutputProbe) Describe() string {
	if p.Expect == "" {
		return p.Command.String() + " succeeds"
	}
	return fmt.Sprintf("%s starts with %s", p.Command.String(), p.Expect)
}
