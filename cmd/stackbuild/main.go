package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/stackbuild/stackbuild/internal/config"
	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/core/services"
	"github.com/stackbuild/stackbuild/internal/core/services/catalog"
	"github.com/stackbuild/stackbuild/internal/infrastructure/db"
	"github.com/stackbuild/stackbuild/internal/infrastructure/lock"
	"github.com/stackbuild/stackbuild/internal/infrastructure/logger"
	"github.com/stackbuild/stackbuild/internal/infrastructure/remote"
)

const defaultConfigPath = "config/stackbuild.yaml"

type options struct {
	configPath string
	hosts      []string
	sets       []string
}

// app holds everything a subcommand needs once configuration is loaded.
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	registry  *services.Registry
	database  *gorm.DB
	timeline  ports.TimelineRepository
	deploy    ports.DeployService
	hosts     []string
	overrides map[string]string
	closed    bool
}

func main() {
	registry, err := catalog.New()
	if err != nil {
		fail(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root, a := newRootCmd(registry)
	err = execute(ctx, root, a)
	stop()
	if err != nil {
		fail(err)
	}
}

// execute runs root and releases the app's resources whether or not the
// command failed. cobra skips post-run hooks after an error.
func execute(ctx context.Context, root *cobra.Command, a *app) error {
	defer a.close()
	return root.ExecuteContext(ctx)
}

func fail(err error) {
	color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func newRootCmd(registry *services.Registry) (*cobra.Command, *app) {
	opts := &options{}
	a := &app{registry: registry}

	root := &cobra.Command{
		Use:           "stackbuild",
		Short:         "Build and install server software on remote hosts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "config file")
	flags.StringSliceVarP(&opts.hosts, "host", "H", nil, "target host (repeatable, default all configured hosts)")
	flags.StringArrayVarP(&opts.sets, "set", "s", nil, "override a context value, key=value (repeatable)")

	for _, info := range registry.Infos() {
		root.AddCommand(newTaskCmd(a, info))
	}
	root.AddCommand(
		newRunCmd(a),
		newCheckCmd(a),
		newTasksCmd(a),
		newEnvCmd(a),
		newServeCmd(a),
	)
	return root, a
}

func (a *app) init(cmd *cobra.Command, opts *options) error {
	path := opts.configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.log, err = logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.overrides, err = parseSets(opts.sets)
	if err != nil {
		return err
	}

	a.hosts = opts.hosts
	if len(a.hosts) == 0 && len(cfg.Hosts) == 0 {
		a.hosts = []string{"localhost"}
	}

	a.timeline = db.NewTimelineRepoStub(a.log)
	if cfg.Database.Enabled {
		a.database, err = db.NewPostgresConnection(cfg.Database)
		if err != nil {
			return err
		}
		if err := db.RunMigrations(a.database); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		a.timeline = db.NewTimelineRepository(a.database, a.log)
		if cfg.Database.Retention > 0 {
			if err := a.timeline.CleanupOld(cmd.Context(), cfg.Database.Retention); err != nil {
				a.log.Warnw("timeline_cleanup_failed", "error", err)
			}
		}
	}

	factory := remote.NewFactory(cfg, a.log, remote.TerminalPrompter(os.Stdin, os.Stderr))
	locker := lock.NewHostLocker(cfg.Features.LockDir, cfg.Features.EnableLocks)
	checks := services.NewCheckService(services.DefaultChecks(), a.log)
	a.deploy = services.NewDeployService(cfg, a.registry, factory, locker, a.timeline, checks, a.log)
	return nil
}

func (a *app) close() {
	if a.closed {
		return
	}
	a.closed = true
	if a.database != nil {
		if err := db.Close(a.database); err != nil {
			a.log.Errorw("failed to close database connection", "error", err)
		}
		a.database = nil
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

func parseSets(sets []string) (map[string]string, error) {
	out := make(map[string]string, len(sets))
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", s)
		}
		out[k] = v
	}
	return out, nil
}
