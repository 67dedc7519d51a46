package ports

import (
	"context"

	"github.com/stackbuild/stackbuild/internal/domain"
)

// DeployRequest selects hosts and the tasks to run on each of them.
type DeployRequest struct {
	RunID       string
	Hosts       []string
	Invocations []domain.Invocation
	Overrides   map[string]string
}

type DeployService interface {
	Deploy(ctx context.Context, req DeployRequest, sink func(domain.RunEvent)) ([]domain.HostReport, error)
	Check(ctx context.Context, hosts []string, overrides map[string]string) ([]domain.CheckResult, error)
}

type RunService interface {
	StartRun(ctx context.Context, req DeployRequest) (*domain.Run, error)
	GetRun(id string) (*domain.Run, error)
	Events(id string) ([]domain.RunEvent, error)
	Subscribe(id string) (<-chan domain.RunEvent, []domain.RunEvent, func(), error)
}

// TaskInfo describes a catalog entry for listings.
type TaskInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Requires    []string `json:"requires,omitempty"`
	Params      []string `json:"params,omitempty"`
}
