package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/domain"
	"github.com/stackbuild/stackbuild/internal/infrastructure/logger"
	"golang.org/x/crypto/ssh"
)

const DefaultShell = "bash -l -c"

// SSHExecutor runs commands over one persistent connection, opening a new
// session per command.
type SSHExecutor struct {
	name    string
	client  *SSHClient
	shell   string
	timeout time.Duration
	logger  *logger.Logger

	mu   sync.Mutex
	conn *ssh.Client
}

type SSHExecutorOptions struct {
	Name string
	// Shell wraps each command line; empty runs it through the login shell
	// as-is.
	Shell string
	// CommandTimeout bounds a single command; zero means no limit.
	CommandTimeout time.Duration
	Logger         *logger.Logger
}

// DialSSH connects to the host and returns a ready executor.
func DialSSH(ctx context.Context, cfg SSHConfig, opts SSHExecutorOptions) (*SSHExecutor, error) {
	client := NewSSHClient(cfg)
	conn, err := client.ConnectWithRetry(ctx)
	if err != nil {
		return nil, err
	}
	name := opts.Name
	if name == "" {
		name = client.Address()
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &SSHExecutor{
		name:    name,
		client:  client,
		shell:   opts.Shell,
		timeout: opts.CommandTimeout,
		logger:  log,
		conn:    conn,
	}, nil
}

func (e *SSHExecutor) Target() string { return e.name }

func (e *SSHExecutor) Run(ctx context.Context, command string, opts ports.RunOptions) (*ports.CommandResult, error) {
	line, err := composeCommand(command, opts)
	if err != nil {
		return nil, err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	res, err := e.executeWithRetry(ctx, wrapShell(e.shell, line))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.name, err)
	}

	out := &ports.CommandResult{ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}
	if out.ExitCode != 0 && !opts.TolerateFailure {
		return out, &domain.ExecutionFailure{Command: command, ExitCode: out.ExitCode, Stderr: out.Stderr}
	}
	return out, nil
}

// executeWithRetry reconnects and retries only when no session could be
// opened, so the command never reached the host. A connection lost while
// the command ran is returned as is: the command may have taken effect.
func (e *SSHExecutor) executeWithRetry(ctx context.Context, cmd string) (*ExecResult, error) {
	conn, err := e.connection(ctx)
	if err != nil {
		return nil, err
	}
	res, err := e.client.Execute(ctx, conn, cmd)
	if err == nil || ctx.Err() != nil || !isNetworkError(err) {
		return res, err
	}

	e.logger.Warnw("ssh_connection_lost", "host", e.name, "error", err)
	e.dropConnection(conn)
	if !errors.Is(err, ErrSSHConnection) {
		return nil, err
	}

	conn, reconnectErr := e.connection(ctx)
	if reconnectErr != nil {
		return nil, fmt.Errorf("failed to reconnect after network error: %w (original error: %v)", reconnectErr, err)
	}
	e.logger.Infow("ssh_reconnected", "host", e.name)
	return e.client.Execute(ctx, conn, cmd)
}

func (e *SSHExecutor) dropConnection(conn *ssh.Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == conn {
		_ = e.conn.Close()
		e.conn = nil
	}
}

func (e *SSHExecutor) connection(ctx context.Context) (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		return e.conn, nil
	}
	conn, err := e.client.ConnectWithRetry(ctx)
	if err != nil {
		return nil, err
	}
	e.conn = conn
	return conn, nil
}

func (e *SSHExecutor) PathExists(ctx context.Context, p string) (bool, error) {
	res, err := e.Run(ctx, pathExistsCommand(p), ports.RunOptions{TolerateFailure: true})
	if err != nil {
		return false, err
	}
	return pathExistsResult(p, res)
}

// Upload copies a local file to remotePath over SFTP, creating parent dirs.
// The data lands in remotePath+".part" first and is renamed once complete.
func (e *SSHExecutor) Upload(ctx context.Context, localPath, remotePath string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer localFile.Close()

	stat, err := localFile.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	localSize := stat.Size()

	conn, err := e.connection(ctx)
	if err != nil {
		return err
	}
	sftpClient, err := sftp.NewClient(conn)
	if err != nil {
		return fmt.Errorf("failed to create sftp client: %w", err)
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("failed to create remote dir: %w", err)
	}
	partial := remotePath + partialSuffix
	remoteFile, err := sftpClient.Create(partial)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}

	written, err := remoteFile.ReadFrom(localFile)
	if closeErr := remoteFile.Close(); err == nil {
		err = closeErr
	}
	if err == nil && written != localSize {
		err = fmt.Errorf("upload incomplete: expected %d bytes, got %d", localSize, written)
	}
	if err == nil {
		err = sftpClient.PosixRename(partial, remotePath)
	}
	if err != nil {
		_ = sftpClient.Remove(partial)
		return fmt.Errorf("failed to upload %s: %w", localPath, err)
	}

	e.logger.Infow("file_uploaded", "host", e.name, "local", localPath, "remote", remotePath, "size_bytes", written)
	return nil
}

func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	return err
}
