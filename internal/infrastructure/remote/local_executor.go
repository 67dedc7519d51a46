package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/domain"
)

// LocalExecutor runs commands on this machine through sh -c.
type LocalExecutor struct {
	name string
}

func NewLocalExecutor(name string) *LocalExecutor {
	if name == "" {
		name = "local"
	}
	return &LocalExecutor{name: name}
}

func (e *LocalExecutor) Target() string { return e.name }

func (e *LocalExecutor) Run(ctx context.Context, command string, opts ports.RunOptions) (*ports.CommandResult, error) {
	line, err := composeCommand(command, opts)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", line)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	res := &ports.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) || ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", e.name, runErr)
		}
		res.ExitCode = exitErr.ExitCode()
	}

	if res.ExitCode != 0 && !opts.TolerateFailure {
		return res, &domain.ExecutionFailure{Command: command, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res, nil
}

func (e *LocalExecutor) PathExists(ctx context.Context, p string) (bool, error) {
	_, err := os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Upload copies into remotePath+".part" and renames on success, so a
// failed copy never leaves a file at remotePath.
func (e *LocalExecutor) Upload(ctx context.Context, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(remotePath), 0o755); err != nil {
		return err
	}
	partial := remotePath + partialSuffix
	dst, err := os.Create(partial)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(partial)
		return fmt.Errorf("copy %s: %w", localPath, err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(partial)
		return err
	}
	if err := os.Rename(partial, remotePath); err != nil {
		_ = os.Remove(partial)
		return err
	}
	return nil
}

func (e *LocalExecutor) Close() error { return nil }
