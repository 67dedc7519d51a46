package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/domain"
)

var (
	okColor   = color.New(color.FgGreen)
	skipColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed, color.Bold)
	hostColor = color.New(color.FgCyan)
)

func newTaskCmd(a *app, info ports.TaskInfo) *cobra.Command {
	required := 0
	for _, p := range info.Params {
		if !strings.HasPrefix(p, "[") {
			required++
		}
	}
	use := info.Name
	if len(info.Params) > 0 {
		use += " " + strings.Join(info.Params, " ")
	}
	short := info.Description
	if len(info.Requires) > 0 {
		short += " (requires " + strings.Join(info.Requires, ", ") + ")"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.RangeArgs(required, len(info.Params)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInvocations(cmd, []domain.Invocation{{Task: info.Name, Args: args}})
		},
	}
}

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run <task[:arg,arg]>...",
		Short: "Ensure several tasks in order",
		Long:  "Ensure several tasks in order. Arguments follow a colon, comma separated: redmine:3306,8080",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			invocations := make([]domain.Invocation, 0, len(args))
			for _, arg := range args {
				invocations = append(invocations, parseInvocation(arg))
			}
			return a.runInvocations(cmd, invocations)
		},
	}
}

func parseInvocation(arg string) domain.Invocation {
	name, rest, ok := strings.Cut(arg, ":")
	inv := domain.Invocation{Task: name}
	if ok && rest != "" {
		inv.Args = strings.Split(rest, ",")
	}
	return inv
}

func (a *app) runInvocations(cmd *cobra.Command, invocations []domain.Invocation) error {
	out := cmd.OutOrStdout()
	reports, err := a.deploy.Deploy(cmd.Context(), ports.DeployRequest{
		Hosts:       a.hosts,
		Invocations: invocations,
		Overrides:   a.overrides,
	}, progressPrinter(cmd.ErrOrStderr()))
	printReports(out, reports)
	return err
}

func progressPrinter(w io.Writer) func(domain.RunEvent) {
	return func(ev domain.RunEvent) {
		switch ev.Kind {
		case domain.RunEventTaskStarted:
			fmt.Fprintf(w, "%s ==> %s\n", hostColor.Sprintf("[%s]", ev.Host), ev.Task)
		case domain.RunEventStep:
			fmt.Fprintf(w, "%s   -> %s: %s\n", hostColor.Sprintf("[%s]", ev.Host), ev.Task, ev.Step)
		case domain.RunEventTaskFailed:
			fmt.Fprintf(w, "%s %s %s: %s\n", hostColor.Sprintf("[%s]", ev.Host), failColor.Sprint("FAILED"), ev.Task, ev.Message)
		}
	}
}

func printReports(w io.Writer, reports []domain.HostReport) {
	for _, r := range reports {
		fmt.Fprintln(w, hostColor.Sprint(r.Host))
		for _, res := range r.Results {
			status := okColor.Sprint(res.Status)
			if res.Status == domain.TaskStatusSkipped {
				status = skipColor.Sprint(res.Status)
			}
			fmt.Fprintf(w, "  %-16s %s (%s)\n", res.Task, status, res.Duration.Round(time.Millisecond))
		}
		if r.Error != "" {
			fmt.Fprintf(w, "  %s\n", failColor.Sprint(r.Error))
		}
	}
}
