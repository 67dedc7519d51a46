package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

var (
	ErrSSHConnection     = errors.New("ssh: connection failed")
	ErrSSHAuthentication = errors.New("ssh: authentication failed")
	ErrSSHCommandFailed  = errors.New("ssh: command execution failed")
	ErrSSHTimeout        = errors.New("ssh: connection timeout")
)

type SSHConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	PrivateKey string
	// Signers are extra keys, typically discovered under ~/.ssh.
	Signers         []ssh.Signer
	HostKeyCallback ssh.HostKeyCallback
	Timeout         time.Duration
	MaxRetries      int
	// RetryBackoff is multiplied by the attempt number between dials.
	RetryBackoff time.Duration
}

type SSHClient struct {
	config SSHConfig
}

func NewSSHClient(cfg SSHConfig) *SSHClient {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 3 * time.Second
	}
	if cfg.HostKeyCallback == nil {
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	return &SSHClient{config: cfg}
}

func (c *SSHClient) Address() string {
	return net.JoinHostPort(c.config.Host, fmt.Sprint(c.config.Port))
}

func (c *SSHClient) getAuthMethods() ([]ssh.AuthMethod, error) {
	var signers []ssh.Signer

	if c.config.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(c.config.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid private key", ErrSSHAuthentication)
		}
		signers = append(signers, signer)
	}
	signers = append(signers, c.config.Signers...)

	var authMethods []ssh.AuthMethod
	if len(signers) > 0 {
		authMethods = append(authMethods, ssh.PublicKeys(signers...))
	}
	if c.config.Password != "" {
		authMethods = append(authMethods, ssh.Password(c.config.Password))
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("%w: no credentials provided", ErrSSHAuthentication)
	}

	return authMethods, nil
}

// ConnectWithRetry dials the host, backing off linearly between attempts.
func (c *SSHClient) ConnectWithRetry(ctx context.Context) (*ssh.Client, error) {
	authMethods, err := c.getAuthMethods()
	if err != nil {
		return nil, err
	}

	sshConfig := &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            authMethods,
		HostKeyCallback: c.config.HostKeyCallback,
		Timeout:         c.config.Timeout,
	}

	addr := c.Address()
	var connectErr error

	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		dialer := net.Dialer{
			Timeout:   c.config.Timeout,
			KeepAlive: 60 * time.Second,
		}

		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			connectErr = err
		} else {
			// Deadline covers the handshake only.
			_ = conn.SetDeadline(time.Now().Add(c.config.Timeout))

			cc, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
			if err != nil {
				conn.Close()
				connectErr = err
				if isAuthError(err) {
					return nil, fmt.Errorf("%w: %s: %v", ErrSSHAuthentication, addr, err)
				}
			} else {
				_ = conn.SetDeadline(time.Time{})
				return ssh.NewClient(cc, chans, reqs), nil
			}
		}

		if attempt < c.config.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %s: %v", ErrSSHConnection, addr, ctx.Err())
			case <-time.After(time.Duration(attempt) * c.config.RetryBackoff):
			}
		}
	}

	if errors.Is(connectErr, context.DeadlineExceeded) || (connectErr != nil && (strings.Contains(connectErr.Error(), "timeout") || strings.Contains(connectErr.Error(), "deadline"))) {
		return nil, fmt.Errorf("%w: %s: %v (after %d attempts)", ErrSSHTimeout, addr, connectErr, c.config.MaxRetries)
	}
	return nil, fmt.Errorf("%w: %s: %v (after %d attempts)", ErrSSHConnection, addr, connectErr, c.config.MaxRetries)
}

func isAuthError(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

// ExecResult is the raw outcome of one session.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Execute runs cmd in a new session on client. A non-zero exit is reported
// through ExitCode; the error is reserved for transport failures.
func (c *SSHClient) Execute(ctx context.Context, client *ssh.Client, cmd string) (*ExecResult, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create session: %v", ErrSSHConnection, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, fmt.Errorf("%w: command timed out or cancelled", ctx.Err())
	case err := <-done:
		res := &ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			return res, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		var missing *ssh.ExitMissingError
		if errors.As(err, &missing) {
			res.ExitCode = -1
			return res, nil
		}
		return res, fmt.Errorf("%w: %v", ErrSSHCommandFailed, err)
	}
}

// isNetworkError reports errors that mean the connection is gone.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSSHConnection) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "shutdown") ||
		strings.Contains(errStr, "client is closed")
}
