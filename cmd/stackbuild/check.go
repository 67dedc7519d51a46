package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stackbuild/stackbuild/internal/core/services"
)

func newCheckCmd(a *app) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether expected programs resolve inside the install prefix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := a.deploy.Check(cmd.Context(), a.hosts, a.overrides)
			out := cmd.OutOrStdout()
			failed := 0
			for _, r := range results {
				mark := okColor.Sprint("Ok")
				if !r.OK {
					mark = failColor.Sprint("FAIL!!")
					failed++
				}
				fmt.Fprintf(out, "%s %s %s -> %s\n", hostColor.Sprintf("[%s]", r.Host), mark, r.Command, firstLine(r.Output))
			}
			if err != nil {
				return err
			}
			if strict && failed > 0 {
				return fmt.Errorf("%d of %d checks failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any check fails")
	return cmd
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

func newTasksCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List the task catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, info := range a.registry.Infos() {
				name := info.Name
				if len(info.Params) > 0 {
					name += " " + strings.Join(info.Params, " ")
				}
				fmt.Fprintf(out, "%-36s %s\n", name, info.Description)
				if len(info.Requires) > 0 {
					fmt.Fprintf(out, "%-36s requires: %s\n", "", strings.Join(info.Requires, ", "))
				}
			}
			return nil
		},
	}
}

// newEnvCmd prints the context each host starts with. Values derived on
// the host itself (home directory, user) are not included.
func newEnvCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Print the resolved context per host as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hosts := a.hosts
			if len(hosts) == 0 {
				hosts = a.cfg.HostNames()
			}
			sort.Strings(hosts)

			doc := make(map[string]map[string]string, len(hosts))
			for _, h := range hosts {
				env := services.ResolveEnv(a.cfg, h, a.overrides)
				a.registry.ApplyDefaults(env)
				doc[h] = env.Snapshot()
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(doc); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
