package services

import (
	"fmt"
	"sort"

	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/domain"
)

// Registry holds the static task definitions. Its dependency graph is
// validated once, at construction.
type Registry struct {
	tasks map[string]*InstallTask
	order []string
}

func NewRegistry(tasks ...*InstallTask) (*Registry, error) {
	r := &Registry{tasks: make(map[string]*InstallTask, len(tasks))}
	for _, t := range tasks {
		if t.Name == "" {
			return nil, fmt.Errorf("registry: task without a name")
		}
		if _, dup := r.tasks[t.Name]; dup {
			return nil, fmt.Errorf("registry: duplicate task %q", t.Name)
		}
		r.tasks[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	for _, t := range tasks {
		for _, dep := range t.Requires {
			if _, ok := r.tasks[dep]; !ok {
				return nil, fmt.Errorf("registry: task %q requires %w", t.Name, &domain.UnknownTaskError{Name: dep})
			}
		}
	}
	if err := r.checkCycles(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) checkCycles() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(r.tasks))
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			for i, n := range stack {
				if n == name {
					path := append(append([]string(nil), stack[i:]...), name)
					return &domain.DependencyCycleError{Path: path}
				}
			}
		}
		state[name] = visiting
		stack = append(stack, name)
		for _, dep := range r.tasks[name].Requires {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return nil
	}

	for _, name := range r.order {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Get(name string) (*InstallTask, bool) {
	t, ok := r.tasks[name]
	return t, ok
}

// Names lists tasks in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// ApplyDefaults registers every task's defaults on env.
func (r *Registry) ApplyDefaults(env *domain.Env) {
	for _, name := range r.order {
		keys := make([]string, 0, len(r.tasks[name].Defaults))
		for k := range r.tasks[name].Defaults {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env.SetDefault(k, r.tasks[name].Defaults[k])
		}
	}
}

func (r *Registry) Infos() []ports.TaskInfo {
	infos := make([]ports.TaskInfo, 0, len(r.order))
	for _, name := range r.order {
		t := r.tasks[name]
		info := ports.TaskInfo{Name: t.Name, Description: t.Description, Requires: t.Requires}
		for _, p := range t.Params {
			if p.Optional {
				info.Params = append(info.Params, "["+p.Key+"]")
			} else {
				info.Params = append(info.Params, p.Key)
			}
		}
		infos = append(infos, info)
	}
	return infos
}
