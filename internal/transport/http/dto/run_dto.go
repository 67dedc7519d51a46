package dto

import (
	"fmt"
	"strings"

	"github.com/stackbuild/stackbuild/internal/domain"
)

type InvocationRequest struct {
	Task string   `json:"task"`
	Args []string `json:"args,omitempty"`
}

type CreateRunRequest struct {
	Hosts     []string            `json:"hosts,omitempty"`
	Tasks     []InvocationRequest `json:"tasks"`
	Overrides map[string]string   `json:"env,omitempty"`
}

func (r *CreateRunRequest) Validate() []string {
	var errors []string

	if len(r.Tasks) == 0 {
		errors = append(errors, "tasks is required")
	}
	for i, t := range r.Tasks {
		if strings.TrimSpace(t.Task) == "" {
			errors = append(errors, fmt.Sprintf("tasks[%d].task is required", i))
		}
	}
	for i, h := range r.Hosts {
		if strings.TrimSpace(h) == "" {
			errors = append(errors, fmt.Sprintf("hosts[%d] is empty", i))
		}
	}
	for k := range r.Overrides {
		if strings.TrimSpace(k) == "" {
			errors = append(errors, "env keys must not be empty")
			break
		}
	}

	return errors
}

func (r *CreateRunRequest) Invocations() []domain.Invocation {
	out := make([]domain.Invocation, 0, len(r.Tasks))
	for _, t := range r.Tasks {
		out = append(out, domain.Invocation{Task: strings.TrimSpace(t.Task), Args: t.Args})
	}
	return out
}

type CheckRequest struct {
	Hosts     []string          `json:"hosts,omitempty"`
	Overrides map[string]string `json:"env,omitempty"`
}

type CheckResponse struct {
	Results []domain.CheckResult `json:"results"`
	Passed  int                  `json:"passed"`
	Total   int                  `json:"total"`
	Error   string               `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}
