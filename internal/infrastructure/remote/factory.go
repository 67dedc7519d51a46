package remote

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/stackbuild/stackbuild/internal/config"
	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/infrastructure/logger"
	"golang.org/x/crypto/ssh"
)

// Factory opens executors for hosts from the configuration.
type Factory struct {
	cfg      *config.Config
	logger   *logger.Logger
	prompter PasswordPrompter

	once     sync.Once
	signers  []ssh.Signer
	hostKeys ssh.HostKeyCallback
	initErr  error
}

func NewFactory(cfg *config.Config, log *logger.Logger, prompter PasswordPrompter) *Factory {
	return &Factory{cfg: cfg, logger: log, prompter: prompter}
}

func (f *Factory) init() {
	f.once.Do(func() {
		f.signers = DiscoverSigners(f.cfg.SSH.KeyPaths)
		f.hostKeys, f.initErr = HostKeyCallback(f.cfg.SSH.KnownHostsFile)
	})
}

func (f *Factory) Open(ctx context.Context, name string) (ports.RemoteExecutor, error) {
	host, ok := f.cfg.FindHost(name)
	if !ok {
		if name == "local" || name == "localhost" {
			return NewLocalExecutor(name), nil
		}
		return nil, fmt.Errorf("host %q is not configured", name)
	}
	if host.Local {
		return NewLocalExecutor(host.Name), nil
	}

	f.init()
	if f.initErr != nil {
		return nil, f.initErr
	}

	password, err := host.ResolvePassword(f.cfg.Security.EncryptionKey)
	if err != nil {
		return nil, err
	}

	sshCfg := SSHConfig{
		Host:            host.Address,
		Port:            host.Port,
		User:            host.User,
		Password:        password,
		Signers:         f.signers,
		HostKeyCallback: f.hostKeys,
		Timeout:         f.cfg.SSH.Timeout,
		MaxRetries:      f.cfg.SSH.MaxRetries,
	}
	if sshCfg.User == "" {
		sshCfg.User = os.Getenv("USER")
	}
	if host.PrivateKeyPath != "" {
		signer, err := LoadSigner(host.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("host %s: %w", host.Name, err)
		}
		sshCfg.Signers = append([]ssh.Signer{signer}, f.signers...)
	}

	if sshCfg.Password == "" && len(sshCfg.Signers) == 0 && f.cfg.SSH.AskPassword && f.prompter != nil {
		port := sshCfg.Port
		if port == 0 {
			port = 22
		}
		if sshCfg.Password, err = f.prompter(sshCfg.User, sshCfg.Host, port); err != nil {
			return nil, err
		}
	}

	f.logger.Infow("ssh_connecting", "host", host.Name, "address", host.Address, "user", sshCfg.User)
	return DialSSH(ctx, sshCfg, SSHExecutorOptions{
		Name:           host.Name,
		Shell:          DefaultShell,
		CommandTimeout: f.cfg.Execution.CommandTimeout,
		Logger:         f.logger,
	})
}
