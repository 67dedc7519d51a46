package remote

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/pkg/utils/shellcmd"
)

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// composeCommand scopes env and working directory to a single command line.
// The command is grouped so "cd" guards all of it, including a trailing &.
// partialSuffix names an upload still in flight.
const partialSuffix = ".part"

func composeCommand(command string, opts ports.RunOptions) (string, error) {
	var b strings.Builder

	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		if !envNamePattern.MatchString(k) {
			return "", fmt.Errorf("invalid environment variable name %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s; ", k, shellcmd.Quote(opts.Env[k]))
	}

	if opts.Dir == "" && len(keys) == 0 {
		return command, nil
	}
	if opts.Dir != "" {
		fmt.Fprintf(&b, "cd %s && ", shellcmd.Quote(opts.Dir))
	}
	b.WriteString("{ ")
	b.WriteString(command)
	b.WriteString("\n}")
	return b.String(), nil
}

// wrapShell hands the line to shell, e.g. "bash -l -c", so login profiles
// (and the PATH they set) apply.
func wrapShell(shell, line string) string {
	if shell == "" {
		return line
	}
	return shell + " " + shellcmd.Quote(line)
}

// pathExistsCommand exits 0 when path exists and 1 when it does not.
func pathExistsCommand(path string) string {
	return shellcmd.Join("test", "-e", path)
}

func pathExistsResult(path string, res *ports.CommandResult) (bool, error) {
	switch res.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, fmt.Errorf("test -e %s: exit %d: %s", path, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
}
