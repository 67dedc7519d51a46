package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackbuild/stackbuild/internal/core/services"
	transporthttp "github.com/stackbuild/stackbuild/internal/transport/http"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Server.Address()
			}

			runs := services.NewRunService(a.deploy, a.log)
			server := transporthttp.NewApp(a.cfg, a.log)
			transporthttp.SetupRoutes(server, transporthttp.RouterConfig{
				Logger:   a.log,
				Config:   a.cfg,
				Tasks:    a.registry.Infos(),
				Runs:     runs,
				Deploy:   a.deploy,
				Timeline: a.timeline,
			})

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("server failed to start: %w", err)
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Listener(ln)
			}()
			a.log.Infof("server started on %s", ln.Addr())
			if a.cfg.Auth.AdminAPIKey == "" {
				a.log.Warn("auth.admin_api_key is empty; the API is unauthenticated")
			}

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}

			a.log.Info("shutting down server...")
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.ShutdownWithContext(ctx); err != nil {
				a.log.Errorf("server forced to shutdown: %v", err)
			}
			runs.Wait()
			a.log.Info("server exited gracefully")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "listen", "", "listen address (default server.host:server.port)")
	return cmd
}
