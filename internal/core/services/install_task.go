package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/domain"
	"github.com/stackbuild/stackbuild/internal/infrastructure/logger"
	"github.com/stackbuild/stackbuild/pkg/utils/shellcmd"
)

// Step is one command of a recipe. Every string field is a template.
type Step struct {
	Name string
	Cmd  shellcmd.Command
	// Dir overrides the task's working directory for this step.
	Dir string
	Env map[string]string
	// TolerateFailure lets the recipe continue past a non-zero exit.
	TolerateFailure bool
	// Capture stores the trimmed stdout under this env key.
	Capture string
	// When, if set, runs the step only while the probe is satisfied.
	When ports.InstallationProbe
}

func (s Step) label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Cmd.String()
}

// Source is an archive the task needs in the package cache.
type Source struct {
	// URL is downloaded when the cache lacks File.
	URL string
	// Local is uploaded from the operator machine instead of downloading.
	Local string
	// File is the cache filename; defaults to the last URL or Local element.
	File string
	// Dir is the directory the archive unpacks to, relative to Into.
	Dir string
	// Into is where the archive is unpacked; defaults to {build}.
	Into string
	// NoUnpack keeps the archive packed (e.g. zips consumed by later steps).
	NoUnpack bool
}

type Param struct {
	Key      string
	Optional bool
}

// InstallTask is the static definition of one installable component.
type InstallTask struct {
	Name        string
	Description string
	Requires    []string
	Params      []Param
	// Defaults are registered on the env for every run.
	Defaults map[string]string
	// Probe decides whether the task can be skipped. Nil always runs.
	Probe   ports.InstallationProbe
	Sources []Source
	// Workdir is where build steps run; defaults to the first source's
	// unpacked tree.
	Workdir     string
	Build       []Step
	PostInstall []Step
	Verify      []ports.InstallationProbe
	// SkipProbeVerify stops Probe from being re-run after the build.
	SkipProbeVerify bool
	KeepSources     bool
}

// RunContext is what a task sees of the run it belongs to.
type RunContext struct {
	Exec   ports.RemoteExecutor
	Env    *domain.Env
	Logger *logger.Logger

	ensure func(ctx context.Context, name string) (domain.TaskResult, error)
	emit   func(domain.RunEvent)
}

// Ensure makes a prerequisite present through the orchestrator.
func (rc *RunContext) Ensure(ctx context.Context, name string) (domain.TaskResult, error) {
	if rc.ensure == nil {
		return domain.TaskResult{}, fmt.Errorf("prerequisite %s: no orchestrator", name)
	}
	return rc.ensure(ctx, name)
}

func (rc *RunContext) event(ev domain.RunEvent) {
	if rc.emit == nil {
		return
	}
	ev.Host = rc.Exec.Target()
	ev.Time = time.Now()
	rc.emit(ev)
}

// Ensure brings the task to the installed state, skipping all work when
// its probe is already satisfied.
func (t *InstallTask) Ensure(ctx context.Context, rc *RunContext) (domain.TaskResult, error) {
	result := domain.TaskResult{Task: t.Name, Host: rc.Exec.Target(), StartedAt: time.Now()}
	log := rc.Logger.With("task", t.Name)

	if t.Probe != nil {
		ok, detail, err := t.Probe.Installed(ctx, rc.Exec, rc.Env)
		if err != nil {
			return result, fmt.Errorf("task %s: probe: %w", t.Name, err)
		}
		if ok {
			log.Infow("task_already_installed", "detail", detail)
			result.Status = domain.TaskStatusSkipped
			result.Detail = detail
			return result, nil
		}
	}

	for _, dep := range t.Requires {
		if _, err := rc.Ensure(ctx, dep); err != nil {
			return result, err
		}
	}

	log.Infow("task_install_started")

	unpacked, err := t.prepareSources(ctx, rc, log)
	if err != nil {
		return result, err
	}

	workdir, err := t.workdir(rc.Env, unpacked)
	if err != nil {
		return result, err
	}

	if err := t.runSteps(ctx, rc, t.Build, workdir, 0); err != nil {
		log.Errorw("task_build_failed", "error", err)
		return result, err
	}
	if err := t.runSteps(ctx, rc, t.PostInstall, "", len(t.Build)); err != nil {
		log.Errorw("task_post_install_failed", "error", err)
		return result, err
	}

	if err := t.verify(ctx, rc); err != nil {
		log.Errorw("task_verification_failed", "error", err)
		return result, err
	}

	if !t.KeepSources {
		t.cleanup(ctx, rc, unpacked, log)
	}

	log.Infow("task_installed", "duration", time.Since(result.StartedAt))
	result.Status = domain.TaskStatusInstalled
	return result, nil
}

// prepareSources creates the cache and build dirs, fetches what the cache
// lacks and unpacks every archive. It returns the unpacked directories.
func (t *InstallTask) prepareSources(ctx context.Context, rc *RunContext, log *logger.Logger) ([]string, error) {
	if len(t.Sources) == 0 {
		return nil, nil
	}

	cache, err := rc.Env.Get("packages_cache")
	if err != nil {
		return nil, err
	}
	build, err := rc.Env.Get("build")
	if err != nil {
		return nil, err
	}
	if _, err := rc.Exec.Run(ctx, shellcmd.Join("mkdir", "-p", cache, build), ports.RunOptions{}); err != nil {
		return nil, t.stepError(err, "create directories", -1)
	}

	var unpacked []string
	for _, src := range t.Sources {
		archive, err := t.fetch(ctx, rc, src, cache, log)
		if err != nil {
			return nil, err
		}
		if src.NoUnpack {
			continue
		}
		dir, err := t.unpack(ctx, rc, src, archive, build)
		if err != nil {
			return nil, err
		}
		if dir != "" {
			unpacked = append(unpacked, dir)
		}
	}
	return unpacked, nil
}

// fetch downloads or uploads the archive only when the cache has no file
// with that name. Content is not verified.
func (t *InstallTask) fetch(ctx context.Context, rc *RunContext, src Source, cache string, log *logger.Logger) (string, error) {
	origin := src.URL
	if origin == "" {
		origin = src.Local
	}
	origin, err := rc.Env.Format(origin)
	if err != nil {
		return "", err
	}
	file := src.File
	if file == "" {
		file = path.Base(origin)
	}
	if file, err = rc.Env.Format(file); err != nil {
		return "", err
	}
	archive := path.Join(cache, file)

	cached, err := rc.Exec.PathExists(ctx, archive)
	if err != nil {
		return "", fmt.Errorf("task %s: check cache: %w", t.Name, err)
	}
	if cached {
		log.Infow("artifact_cached", "file", archive)
		return archive, nil
	}

	if src.URL == "" {
		log.Infow("artifact_upload", "local", origin, "file", archive)
		if err := rc.Exec.Upload(ctx, origin, archive); err != nil {
			return "", fmt.Errorf("task %s: upload %s: %w", t.Name, origin, err)
		}
		return archive, nil
	}

	log.Infow("artifact_fetch", "url", origin, "file", archive)
	partial := archive + ".part"
	if _, err := rc.Exec.Run(ctx, shellcmd.Join("wget", "-q", "-O", partial, origin), ports.RunOptions{}); err != nil {
		return "", t.stepError(err, "fetch "+file, -1)
	}
	if _, err := rc.Exec.Run(ctx, shellcmd.Join("mv", partial, archive), ports.RunOptions{}); err != nil {
		return "", t.stepError(err, "fetch "+file, -1)
	}
	return archive, nil
}

func unpackArgs(archive string) []string {
	switch {
	case strings.HasSuffix(archive, ".tar.gz"), strings.HasSuffix(archive, ".tgz"):
		return []string{"tar", "-xzf", archive}
	case strings.HasSuffix(archive, ".tar.bz2"), strings.HasSuffix(archive, ".tbz2"):
		return []string{"tar", "-xjf", archive}
	case strings.HasSuffix(archive, ".tar.xz"):
		return []string{"tar", "-xJf", archive}
	case strings.HasSuffix(archive, ".tar"):
		return []string{"tar", "-xf", archive}
	case strings.HasSuffix(archive, ".zip"):
		return []string{"unzip", "-o", "-q", archive}
	}
	return nil
}

// unpack extracts archive into the source's destination. Extracting over a
// stale tree from an earlier failed run overwrites it.
func (t *InstallTask) unpack(ctx context.Context, rc *RunContext, src Source, archive, build string) (string, error) {
	args := unpackArgs(archive)
	if args == nil {
		return "", fmt.Errorf("task %s: unsupported archive %s", t.Name, archive)
	}

	into := build
	if src.Into != "" {
		var err error
		if into, err = rc.Env.Format(src.Into); err != nil {
			return "", err
		}
		if _, err := rc.Exec.Run(ctx, shellcmd.Join("mkdir", "-p", into), ports.RunOptions{}); err != nil {
			return "", t.stepError(err, "create "+into, -1)
		}
	}

	if _, err := rc.Exec.Run(ctx, shellcmd.Join(args...), ports.RunOptions{Dir: into}); err != nil {
		return "", t.stepError(err, "unpack "+path.Base(archive), -1)
	}

	if src.Dir == "" {
		return "", nil
	}
	dir, err := rc.Env.Format(src.Dir)
	if err != nil {
		return "", err
	}
	return path.Join(into, dir), nil
}

func (t *InstallTask) workdir(env *domain.Env, unpacked []string) (string, error) {
	if t.Workdir != "" {
		return env.Format(t.Workdir)
	}
	if len(unpacked) > 0 {
		return unpacked[0], nil
	}
	return "", nil
}

// runSteps runs steps in order and stops at the first failure. offset
// numbers post-install steps after the build steps.
func (t *InstallTask) runSteps(ctx context.Context, rc *RunContext, steps []Step, workdir string, offset int) error {
	for i, s := range steps {
		idx := offset + i
		if s.When != nil {
			ok, _, err := s.When.Installed(ctx, rc.Exec, rc.Env)
			if err != nil {
				return fmt.Errorf("task %s step %d (%s): %w", t.Name, idx+1, s.label(), err)
			}
			if !ok {
				rc.Logger.Infow("task_step_skipped", "task", t.Name, "step", idx+1, "condition", s.When.Describe())
				continue
			}
		}

		line, err := s.Cmd.Render(rc.Env)
		if err != nil {
			return fmt.Errorf("task %s step %d (%s): %w", t.Name, idx+1, s.label(), err)
		}

		dir := workdir
		if s.Dir != "" {
			if dir, err = rc.Env.Format(s.Dir); err != nil {
				return fmt.Errorf("task %s step %d (%s): %w", t.Name, idx+1, s.label(), err)
			}
		}

		var env map[string]string
		if len(s.Env) > 0 {
			env = make(map[string]string, len(s.Env))
			for k, v := range s.Env {
				if env[k], err = rc.Env.Format(v); err != nil {
					return fmt.Errorf("task %s step %d (%s): %w", t.Name, idx+1, s.label(), err)
				}
			}
		}

		rc.event(domain.RunEvent{Kind: domain.RunEventStep, Task: t.Name, Step: s.label(), Message: line})
		rc.Logger.Infow("task_step", "task", t.Name, "step", idx+1, "command", line, "dir", dir)

		res, err := rc.Exec.Run(ctx, line, ports.RunOptions{Dir: dir, Env: env, TolerateFailure: s.TolerateFailure})
		if err != nil {
			return t.stepError(err, s.label(), idx)
		}
		if s.TolerateFailure && res.ExitCode != 0 {
			rc.Logger.Warnw("task_step_failure_tolerated", "task", t.Name, "step", idx+1, "exit_code", res.ExitCode)
		}
		if s.Capture != "" {
			rc.Env.Set(s.Capture, strings.TrimSpace(res.Stdout))
		}
	}
	return nil
}

// stepError attaches the task and step to an execution failure. Transport
// errors are wrapped with the same context.
func (t *InstallTask) stepError(err error, step string, idx int) error {
	var ef *domain.ExecutionFailure
	if errors.As(err, &ef) {
		ef.Task = t.Name
		ef.Step = step
		ef.StepIndex = idx
		return ef
	}
	return fmt.Errorf("task %s: %s: %w", t.Name, step, err)
}

func (t *InstallTask) verify(ctx context.Context, rc *RunContext) error {
	checks := t.Verify
	if t.Probe != nil && !t.SkipProbeVerify {
		checks = append([]ports.InstallationProbe{t.Probe}, checks...)
	}
	for _, c := range checks {
		ok, detail, err := c.Installed(ctx, rc.Exec, rc.Env)
		if err != nil {
			return fmt.Errorf("task %s: verify: %w", t.Name, err)
		}
		if !ok {
			return &domain.VerificationError{Task: t.Name, Check: c.Describe(), Output: detail}
		}
	}
	return nil
}

// cleanup removes unpacked trees. Failures are logged only.
func (t *InstallTask) cleanup(ctx context.Context, rc *RunContext, dirs []string, log *logger.Logger) {
	for _, dir := range dirs {
		res, err := rc.Exec.Run(ctx, shellcmd.Join("rm", "-rf", dir), ports.RunOptions{TolerateFailure: true})
		if err != nil {
			log.Warnw("task_cleanup_failed", "dir", dir, "error", err)
			continue
		}
		if res.ExitCode != 0 {
			log.Warnw("task_cleanup_failed", "dir", dir, "exit_code", res.ExitCode, "stderr", strings.TrimSpace(res.Stderr))
		}
	}
}
