package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/domain"
	"github.com/stackbuild/stackbuild/internal/infrastructure/logger"
)

// Orchestrator ensures tasks on one host. Each task runs at most once per
// Orchestrator; a second Ensure returns the recorded result.
type Orchestrator struct {
	registry *Registry
	exec     ports.RemoteExecutor
	env      *domain.Env
	logger   *logger.Logger
	timeline ports.TimelineRepository
	sink     func(domain.RunEvent)
	runID    string

	record   map[string]domain.TaskResult
	order    []string
	visiting []string
}

type OrchestratorConfig struct {
	Registry *Registry
	Exec     ports.RemoteExecutor
	Env      *domain.Env
	Logger   *logger.Logger
	// Timeline and Sink are optional.
	Timeline ports.TimelineRepository
	Sink     func(domain.RunEvent)
	RunID    string
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	cfg.Registry.ApplyDefaults(cfg.Env)
	return &Orchestrator{
		registry: cfg.Registry,
		exec:     cfg.Exec,
		env:      cfg.Env,
		logger:   log.ForHost(cfg.Exec.Target()),
		timeline: cfg.Timeline,
		sink:     cfg.Sink,
		runID:    cfg.RunID,
		record:   make(map[string]domain.TaskResult),
	}
}

func (o *Orchestrator) Env() *domain.Env { return o.env }

// PrepareEnv fills in the per-user keys recipes rely on when the
// configuration does not set them: the remote home directory, the build
// area, the package cache, and the login user and group.
func (o *Orchestrator) PrepareEnv(ctx context.Context) error {
	derive := func(key, command string) error {
		if o.env.Has(key) {
			return nil
		}
		res, err := o.exec.Run(ctx, command, ports.RunOptions{})
		if err != nil {
			return fmt.Errorf("resolve %s: %w", key, err)
		}
		o.env.Set(key, strings.TrimSpace(res.Stdout))
		return nil
	}

	if err := derive("admin_home_dir", "echo $HOME"); err != nil {
		return err
	}
	if err := derive("user", "id -un"); err != nil {
		return err
	}
	if err := derive("group", "id -gn"); err != nil {
		return err
	}

	home, err := o.env.Get("admin_home_dir")
	if err != nil {
		return err
	}
	if !o.env.Has("build") {
		o.env.Set("build", strings.TrimRight(home, "/")+"/~build")
	}
	if !o.env.Has("packages_cache") {
		o.env.Set("packages_cache", strings.TrimRight(home, "/")+"/packages")
	}
	return nil
}

// Ensure runs the named task (and, through it, its prerequisites) unless
// this run already ensured it. args bind to the task's parameters.
func (o *Orchestrator) Ensure(ctx context.Context, name string, args ...string) (domain.TaskResult, error) {
	if res, ok := o.record[name]; ok {
		if err := o.checkRebind(name, args); err != nil {
			return res, err
		}
		return res, nil
	}
	for i, n := range o.visiting {
		if n == name {
			path := append(append([]string(nil), o.visiting[i:]...), name)
			return domain.TaskResult{}, &domain.DependencyCycleError{Path: path}
		}
	}

	task, ok := o.registry.Get(name)
	if !ok {
		return domain.TaskResult{}, &domain.UnknownTaskError{Name: name}
	}
	if err := o.bindParams(task, args); err != nil {
		return domain.TaskResult{}, err
	}

	o.visiting = append(o.visiting, name)
	defer func() { o.visiting = o.visiting[:len(o.visiting)-1] }()

	o.emit(domain.RunEvent{Kind: domain.RunEventTaskStarted, Task: name})
	o.logEvent(ctx, domain.TaskResult{Task: name, Host: o.exec.Target()}, domain.EventTypeTaskStarted, domain.EventStatusPending, nil)

	rc := &RunContext{
		Exec:   o.exec,
		Env:    o.env,
		Logger: o.logger,
		ensure: func(ctx context.Context, dep string) (domain.TaskResult, error) {
			return o.Ensure(ctx, dep)
		},
		emit: o.emit,
	}

	res, err := task.Ensure(ctx, rc)
	res.Duration = time.Since(res.StartedAt)
	if err != nil {
		res.Status = domain.TaskStatusFailed
		res.Detail = err.Error()
		o.logger.Errorw("task_failed", "task", name, "error", err)
		o.emit(domain.RunEvent{Kind: domain.RunEventTaskFailed, Task: name, Status: res.Status, Message: err.Error()})
		o.logEvent(ctx, res, domain.EventTypeTaskFailed, domain.EventStatusFailed, err)
		return res, err
	}

	o.record[name] = res
	o.order = append(o.order, name)
	o.emit(domain.RunEvent{Kind: domain.RunEventTaskFinished, Task: name, Status: res.Status})
	eventType := domain.EventTypeTaskInstalled
	if res.Status == domain.TaskStatusSkipped {
		eventType = domain.EventTypeTaskSkipped
	}
	o.logEvent(ctx, res, eventType, domain.EventStatusSuccess, nil)
	return res, nil
}

func (o *Orchestrator) bindParams(task *InstallTask, args []string) error {
	if len(args) > len(task.Params) {
		return fmt.Errorf("task %s takes %d argument(s), got %d", task.Name, len(task.Params), len(args))
	}
	for i, p := range task.Params {
		if i < len(args) {
			o.env.Set(p.Key, args[i])
			continue
		}
		if !p.Optional && !o.env.Has(p.Key) {
			return fmt.Errorf("task %s: %w", task.Name, &domain.MissingConfigurationError{Key: p.Key})
		}
	}
	return nil
}

// checkRebind rejects arguments that differ from the values an already
// ensured task ran with.
func (o *Orchestrator) checkRebind(name string, args []string) error {
	task, ok := o.registry.Get(name)
	if !ok {
		return nil
	}
	for i, arg := range args {
		if i >= len(task.Params) {
			break
		}
		key := task.Params[i].Key
		if bound := o.env.GetOr(key, ""); bound != arg {
			return fmt.Errorf("%w: task %s already ensured with %s=%q, requested %q", ErrConflictingArgs, name, key, bound, arg)
		}
	}
	return nil
}

// RunNamed ensures the given top-level tasks in order and stops at the
// first failure, returning the results gathered so far.
func (o *Orchestrator) RunNamed(ctx context.Context, invocations []domain.Invocation) ([]domain.TaskResult, error) {
	results := make([]domain.TaskResult, 0, len(invocations))
	for _, inv := range invocations {
		res, err := o.Ensure(ctx, inv.Task, inv.Args...)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Record returns every task ensured so far, in completion order.
func (o *Orchestrator) Record() []domain.TaskResult {
	out := make([]domain.TaskResult, 0, len(o.order))
	for _, name := range o.order {
		out = append(out, o.record[name])
	}
	return out
}

func (o *Orchestrator) emit(ev domain.RunEvent) {
	if o.sink == nil {
		return
	}
	if ev.Host == "" {
		ev.Host = o.exec.Target()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	o.sink(ev)
}

func (o *Orchestrator) logEvent(ctx context.Context, res domain.TaskResult, eventType string, status domain.EventStatus, cause error) {
	if o.timeline == nil {
		return
	}

	meta := domain.JSONB{}
	msg := res.Task + " started"
	if res.Status != "" {
		meta["status"] = string(res.Status)
		meta["duration_ms"] = res.Duration.Milliseconds()
		msg = fmt.Sprintf("%s %s", res.Task, res.Status)
	}
	if cause != nil {
		msg = cause.Error()
		var ef *domain.ExecutionFailure
		if errors.As(cause, &ef) {
			meta["step"] = ef.Step
			meta["exit_code"] = ef.ExitCode
			meta["command"] = ef.Command
		}
	}

	event := &domain.TimelineEvent{
		RunID:     o.runID,
		Host:      res.Host,
		Task:      res.Task,
		Type:      eventType,
		Status:    status,
		Message:   msg,
		Meta:      meta,
		CreatedAt: time.Now(),
	}
	if err := o.timeline.Create(ctx, event); err != nil {
		o.logger.Errorw("failed to log timeline event", "error", err)
	}
}
