package services

import (
	"context"

	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/domain"
	"github.com/stackbuild/stackbuild/internal/infrastructure/logger"
	"github.com/stackbuild/stackbuild/pkg/utils/shellcmd"
)

// DefaultChecks is the conformance list of the check command.
func DefaultChecks() []OutputProbe {
	which := func(name string) OutputProbe {
		return OutputProbe{Command: shellcmd.New("which", name), Expect: "{base}/bin/" + name}
	}
	return []OutputProbe{
		which("httpd"),
		which("nginx"),
		which("uwsgi"),
		which("python"),
		which("pip"),
		{Command: shellcmd.New("python", "-V"), Expect: "Python {PYTHON}"},
		{Command: shellcmd.New("python", "-c", "import cx_Oracle;print('cx_Oracle imported')"), Expect: "cx_Oracle imported"},
		{Command: shellcmd.New("python", "-c", "import socket;print socket.ssl"), Expect: "<function ssl at"},
		{Command: shellcmd.New("printenv", "PATH"), Expect: "{base}/bin:{base}/apache/bin"},
	}
}

// CheckService reports which expected programs resolve inside the managed
// prefix. It never changes the host.
type CheckService struct {
	checks []OutputProbe
	logger *logger.Logger
}

func NewCheckService(checks []OutputProbe, log *logger.Logger) *CheckService {
	if checks == nil {
		checks = DefaultChecks()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &CheckService{checks: checks, logger: log}
}

// Check runs every probe and returns one result per probe, in order. Only
// transport errors and unresolvable templates abort the report.
func (s *CheckService) Check(ctx context.Context, exec ports.RemoteExecutor, env *domain.Env) ([]domain.CheckResult, error) {
	results := make([]domain.CheckResult, 0, len(s.checks))
	for _, c := range s.checks {
		line, err := c.Command.Render(env)
		if err != nil {
			return results, err
		}
		expected, err := env.Format(c.Expect)
		if err != nil {
			return results, err
		}

		ok, out, err := c.Installed(ctx, exec, env)
		if err != nil {
			return results, err
		}
		s.logger.Infow("check_result", "host", exec.Target(), "command", line, "ok", ok, "output", out)
		results = append(results, domain.CheckResult{
			Host:     exec.Target(),
			Command:  line,
			Expected: expected,
			Output:   out,
			OK:       ok,
		})
	}
	return results, nil
}
