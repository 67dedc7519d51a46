package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stackbuild/stackbuild/internal/config"
	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/domain"
	"github.com/stackbuild/stackbuild/internal/infrastructure/lock"
	"github.com/stackbuild/stackbuild/internal/infrastructure/logger"
)

type deployService struct {
	cfg      *config.Config
	registry *Registry
	factory  ports.ExecutorFactory
	locker   ports.HostLocker
	timeline ports.TimelineRepository
	checks   *CheckService
	logger   *logger.Logger
}

// NewDeployService wires the per-host runner. timeline may be nil; a nil
// locker still keeps hosts exclusive within this process.
func NewDeployService(
	cfg *config.Config,
	registry *Registry,
	factory ports.ExecutorFactory,
	locker ports.HostLocker,
	timeline ports.TimelineRepository,
	checks *CheckService,
	log *logger.Logger,
) ports.DeployService {
	if locker == nil {
		locker = lock.NewHostLocker("", false)
	}
	if log == nil {
		log = logger.NewNop()
	}
	if checks == nil {
		checks = NewCheckService(nil, log)
	}
	return &deployService{
		cfg:      cfg,
		registry: registry,
		factory:  factory,
		locker:   locker,
		timeline: timeline,
		checks:   checks,
		logger:   log,
	}
}

// hosts resolves the target list in request order, without duplicates.
func (s *deployService) hosts(requested []string) ([]string, error) {
	if len(requested) == 0 {
		requested = s.cfg.HostNames()
	}
	seen := make(map[string]bool, len(requested))
	hosts := make([]string, 0, len(requested))
	for _, h := range requested {
		if seen[h] {
			continue
		}
		seen[h] = true
		hosts = append(hosts, h)
	}
	if len(hosts) == 0 {
		return nil, ErrNoHosts
	}
	return hosts, nil
}

// ResolveEnv layers configuration for one host: global env, then the
// host's own env, then per-request overrides.
func ResolveEnv(cfg *config.Config, host string, overrides map[string]string) *domain.Env {
	env := domain.NewEnv(cfg.Env)
	if hc, ok := cfg.FindHost(host); ok {
		for k, v := range hc.Env {
			env.Set(k, v)
		}
	}
	for k, v := range overrides {
		env.Set(k, v)
	}
	return env
}

func (s *deployService) hostEnv(host string, overrides map[string]string) *domain.Env {
	return ResolveEnv(s.cfg, host, overrides)
}

func (s *deployService) concurrency() int {
	if s.cfg.Execution.Concurrency < 1 {
		return 1
	}
	return s.cfg.Execution.Concurrency
}

// Deploy runs the requested tasks on every host. Hosts are independent: a
// failure on one host does not stop the others, and every host failure is
// returned joined.
func (s *deployService) Deploy(ctx context.Context, req ports.DeployRequest, sink func(domain.RunEvent)) ([]domain.HostReport, error) {
	if len(req.Invocations) == 0 {
		return nil, ErrNoInvocations
	}
	hosts, err := s.hosts(req.Hosts)
	if err != nil {
		return nil, err
	}
	if sink != nil {
		var mu sync.Mutex
		inner := sink
		sink = func(ev domain.RunEvent) {
			mu.Lock()
			defer mu.Unlock()
			inner(ev)
		}
	}

	reports := make([]domain.HostReport, len(hosts))
	errs := make([]error, len(hosts))

	var g errgroup.Group
	g.SetLimit(s.concurrency())
	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			reports[i], errs[i] = s.deployHost(ctx, host, req, sink)
			return nil
		})
	}
	_ = g.Wait()

	return reports, errors.Join(errs...)
}

func (s *deployService) deployHost(ctx context.Context, host string, req ports.DeployRequest, sink func(domain.RunEvent)) (domain.HostReport, error) {
	report := domain.HostReport{Host: host}
	log := s.logger.ForHost(host)

	fail := func(err error) (domain.HostReport, error) {
		report.Error = err.Error()
		log.Errorw("host_failed", "error", err)
		return report, fmt.Errorf("%w: %s: %w", ErrHostFailed, host, err)
	}

	unlock, err := s.locker.Lock(host)
	if err != nil {
		return fail(err)
	}
	defer unlock()

	exec, err := s.factory.Open(ctx, host)
	if err != nil {
		return fail(err)
	}
	defer exec.Close()

	orch := NewOrchestrator(OrchestratorConfig{
		Registry: s.registry,
		Exec:     exec,
		Env:      s.hostEnv(host, req.Overrides),
		Logger:   s.logger,
		Timeline: s.timeline,
		Sink:     sink,
		RunID:    req.RunID,
	})
	if err := orch.PrepareEnv(ctx); err != nil {
		return fail(err)
	}

	log.Infow("host_started", "tasks", len(req.Invocations))
	_, runErr := orch.RunNamed(ctx, req.Invocations)
	report.Results = orch.Record()
	if runErr != nil {
		return fail(runErr)
	}
	log.Infow("host_finished", "ensured", len(report.Results))
	return report, nil
}

// Check runs the conformance probes on every host. Results from hosts
// that could not be reached are missing; their errors are joined.
func (s *deployService) Check(ctx context.Context, hosts []string, overrides map[string]string) ([]domain.CheckResult, error) {
	hosts, err := s.hosts(hosts)
	if err != nil {
		return nil, err
	}

	perHost := make([][]domain.CheckResult, len(hosts))
	errs := make([]error, len(hosts))

	var g errgroup.Group
	g.SetLimit(s.concurrency())
	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			exec, err := s.factory.Open(ctx, host)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", host, err)
				return nil
			}
			defer exec.Close()

			env := s.hostEnv(host, overrides)
			s.registry.ApplyDefaults(env)
			perHost[i], errs[i] = s.checks.Check(ctx, exec, env)
			if errs[i] != nil {
				errs[i] = fmt.Errorf("%s: %w", host, errs[i])
			}
			s.logCheck(ctx, host, perHost[i])
			return nil
		})
	}
	_ = g.Wait()

	var out []domain.CheckResult
	for _, rs := range perHost {
		out = append(out, rs...)
	}
	return out, errors.Join(errs...)
}

func (s *deployService) logCheck(ctx context.Context, host string, results []domain.CheckResult) {
	if s.timeline == nil || len(results) == 0 {
		return
	}
	passed := 0
	for _, r := range results {
		if r.OK {
			passed++
		}
	}
	status := domain.EventStatusSuccess
	if passed != len(results) {
		status = domain.EventStatusFailed
	}
	event := &domain.TimelineEvent{
		Host:    host,
		Type:    domain.EventTypeCheck,
		Status:  status,
		Message: fmt.Sprintf("%d/%d checks passed", passed, len(results)),
		Meta:    domain.JSONB{"passed": passed, "total": len(results)},
	}
	if err := s.timeline.Create(ctx, event); err != nil {
		s.logger.Errorw("failed to log timeline event", "error", err)
	}
}
