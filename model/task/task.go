package task

import (
	"context"
	"strings"
)

// Identity names a unit of work together with the qualifiers that
// distinguish it from other instances of the same kind (dataset nick, friend
// name, era, …). It replaces runtime type introspection for path and
// manifest key construction: two tasks with equal identities are treated as
// the same logical task by every store in this module.
type Identity struct {
	Name       string
	Qualifiers []string
}

// NewIdentity creates an identity from a task name and optional qualifiers.
func NewIdentity(name string, qualifiers ...string) Identity {
	return Identity{Name: name, Qualifiers: qualifiers}
}

// String renders the identity as a single path-safe token,
// name and qualifiers joined with underscores.
func (i Identity) String() string {
	if len(i.Qualifiers) == 0 {
		return i.Name
	}
	return i.Name + "_" + strings.Join(i.Qualifiers, "_")
}

// Task is the contract every unit of work exposes to the external
// task-dependency engine: declared expected outputs and the unit's payload.
type Task interface {
	Identity() Identity
	// Output returns the output paths the task is expected to produce. The
	// collection may be nested (per-branch lists, branch-indexed maps); use
	// Flatten before comparing path sets.
	Output(ctx context.Context) (interface{}, error)
	// Run performs the unit of work. The delegation handle allows a task to
	// embed another task as a sub-computation and resume once it completes;
	// it is nil when the engine does not support delegation.
	Run(ctx context.Context, delegation Delegation) error
}

// Delegation is the resumable-delegation primitive supplied by the external
// engine: Delegate schedules the given task and returns once it has
// completed, after which the caller resumes. It models the original
// suspension point as an explicit call rather than language-level yielding.
type Delegation interface {
	Delegate(ctx context.Context, t Task) error
}

// DelegationFunc adapts a plain function to the Delegation interface.
type DelegationFunc func(ctx context.Context, t Task) error

func (f DelegationFunc) Delegate(ctx context.Context, t Task) error {
	return f(ctx, t)
}
