package checker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"simoj/internal/judge/model"
	appErr "simoj/pkg/errors"
)

// Kind names the closed set of checker implementations.
type Kind string

const (
	// KindExec runs an external command.
	KindExec Kind = "exec"
	// KindFunc calls an in-process Go function.
	KindFunc Kind = "func"
)

// Input is what a checker sees of one submission.
type Input struct {
	Submission *model.Submission
	Task       *model.Task
	// SourcePath is the downloaded payload, empty when none was uploaded.
	SourcePath string
}

// Checker grades one submission. A returned error means the checker itself
// failed and is recorded as c_error; a judged failure is an error verdict.
type Checker interface {
	Kind() Kind
	Check(ctx context.Context, in Input) (model.Verdict, error)
}

// Spec configures one named checker.
type Spec struct {
	Name    string        `yaml:"name"`
	Kind    Kind          `yaml:"kind"`
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// Registry resolves checker names at dispatch time.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register binds name to c. Names are unique.
func (r *Registry) Register(name string, c Checker) error {
	if name == "" {
		return appErr.ValidationError("name", "required")
	}
	if c == nil {
		return appErr.ValidationError("checker", "required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.checkers[name]; ok {
		return appErr.Newf(appErr.InvalidParams, "checker %q already registered", name)
	}
	r.checkers[name] = c
	return nil
}

// Lookup returns the checker bound to name or an UnknownChecker error.
func (r *Registry) Lookup(name string) (Checker, error) {
	r.mu.RLock()
	c, ok := r.checkers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, appErr.Newf(appErr.UnknownChecker, "checker %q is not registered", name).WithDetail("checker", name)
	}
	return c, nil
}

// Names lists registered checkers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildRegistry registers every configured exec checker on top of builtin func
// checkers. The default checker is always present unless a builtin or spec
// already claims its name.
func BuildRegistry(specs []Spec, builtins map[string]FuncChecker, def DefaultConfig) (*Registry, error) {
	reg := NewRegistry()
	for name, fn := range builtins {
		if err := reg.Register(name, fn); err != nil {
			return nil, err
		}
	}
	for _, spec := range specs {
		switch spec.Kind {
		case KindExec, "":
			c, err := NewExecChecker(spec.Command, spec.Timeout)
			if err != nil {
				return nil, fmt.Errorf("checker %q: %w", spec.Name, err)
			}
			if err := reg.Register(spec.Name, c); err != nil {
				return nil, err
			}
		case KindFunc:
			if _, ok := builtins[spec.Name]; !ok && spec.Name != DefaultName {
				return nil, fmt.Errorf("checker %q: no builtin func checker with that name", spec.Name)
			}
		default:
			return nil, fmt.Errorf("checker %q: unknown kind %q", spec.Name, spec.Kind)
		}
	}
	if _, err := reg.Lookup(DefaultName); err != nil {
		if err := reg.Register(DefaultName, DefaultChecker(def)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
