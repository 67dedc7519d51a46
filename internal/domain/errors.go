package domain

import (
	"fmt"
	"strings"
)

// MissingConfigurationError is returned when a task reads a key that has
// neither a value nor a default.
type MissingConfigurationError struct {
	Key string
}

func (e *MissingConfigurationError) Error() string {
	return fmt.Sprintf("config: missing value for %q", e.Key)
}

type TemplateSubstitutionError struct {
	Template string
	Missing  []string
}

func (e *TemplateSubstitutionError) Error() string {
	return fmt.Sprintf("config: unresolved placeholders %s in %q", strings.Join(e.Missing, ", "), e.Template)
}

// ExecutionFailure reports a command that exited non-zero. Task and Step are
// filled in by the install task that ran it; StepIndex is zero-based and
// negative for the fetch and unpack phases.
type ExecutionFailure struct {
	Task      string
	Step      string
	StepIndex int
	Command   string
	ExitCode  int
	Stderr    string
}

func (e *ExecutionFailure) Error() string {
	var b strings.Builder
	b.WriteString("execution failed")
	if e.Task != "" {
		fmt.Fprintf(&b, ": task %s", e.Task)
	}
	switch {
	case e.Step != "" && e.StepIndex >= 0:
		fmt.Fprintf(&b, " step %d (%s)", e.StepIndex+1, e.Step)
	case e.Step != "":
		fmt.Fprintf(&b, " (%s)", e.Step)
	}
	fmt.Fprintf(&b, ": %q exited with %d", e.Command, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, ": %s", s)
	}
	return b.String()
}

type DependencyCycleError struct {
	Path []string
}

func (e *DependencyCycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

// VerificationError means the build steps succeeded but the result did not
// pass the post-install check.
type VerificationError struct {
	Task   string
	Check  string
	Output string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed: task %s: %s (got %q)", e.Task, e.Check, strings.TrimSpace(e.Output))
}

type UnknownTaskError struct {
	Name string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("unknown task %q", e.Name)
}
