package ports

import (
	"context"

	"github.com/stackbuild/stackbuild/internal/domain"
)

type RunOptions struct {
	// Dir is the working directory for this call only.
	Dir string
	// Env is exported for this call only.
	Env map[string]string
	// TolerateFailure returns a non-zero exit as a result instead of an error.
	TolerateFailure bool
}

type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// RemoteExecutor runs shell commands on one target host.
type RemoteExecutor interface {
	Run(ctx context.Context, command string, opts RunOptions) (*CommandResult, error)
	PathExists(ctx context.Context, path string) (bool, error)
	Upload(ctx context.Context, localPath, remotePath string) error
	Target() string
	Close() error
}

// ExecutorFactory opens an executor for a configured host.
type ExecutorFactory interface {
	Open(ctx context.Context, host string) (RemoteExecutor, error)
}

// InstallationProbe decides whether a task's result is already present.
// Detail carries the observed output for logs and reports.
type InstallationProbe interface {
	Installed(ctx context.Context, exec RemoteExecutor, env *domain.Env) (ok bool, detail string, err error)
	Describe() string
}

// HostLocker serialises runs against the same host. The returned func
// releases the lock.
type HostLocker interface {
	Lock(hosts ...string) (func(), error)
}
