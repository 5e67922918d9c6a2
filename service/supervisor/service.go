// Package supervisor wraps a delegated unit of work and keeps its recorded
// output manifest honest. On first completion the supervisor persists the
// set of paths the task produced; on every later access it compares that
// record against the task's currently declared outputs and invalidates the
// record on any drift, forcing recomputation. This is the mechanism by which
// the pipeline tolerates upstream output-shape changes (a changed branch
// count, renamed scopes) without manual cleanup.
//
// The supervisor assumes a single logical owner per task identity; the
// external engine must not drive two supervisors with identical identity
// concurrently.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/harrypuuter/KingMaker/model/task"
	"github.com/harrypuuter/KingMaker/progress"
	"github.com/harrypuuter/KingMaker/reporter"
	"github.com/harrypuuter/KingMaker/service/manifest"
	"github.com/harrypuuter/KingMaker/tracing"
)

// Store is the manifest persistence the supervisor drives. *manifest.Store
// satisfies it; tests substitute failing fakes.
type Store interface {
	Save(ctx context.Context, id task.Identity, paths []string) error
	Load(ctx context.Context, id task.Identity) ([]string, error)
	Delete(ctx context.Context, id task.Identity) error
	URL(id task.Identity) string
}

// Supervisor supervises one wrapped task. It implements task.Task itself so
// the external engine can schedule it like any other unit.
type Supervisor struct {
	wrapped  task.Task
	store    Store
	reporter reporter.Reporter
}

// New creates a supervisor for the wrapped task.
func New(wrapped task.Task, store Store, sink reporter.Reporter) *Supervisor {
	if sink == nil {
		sink = reporter.Nop()
	}
	return &Supervisor{wrapped: wrapped, store: store, reporter: sink}
}

// Identity returns the wrapped task's identity; supervisor and wrapped task
// share one manifest key.
func (s *Supervisor) Identity() task.Identity {
	return s.wrapped.Identity()
}

// Output performs the consistency check and returns the manifest location as
// the supervisor's own declared output. A drifted manifest is deleted before
// returning, so the engine sees the supervisor as incomplete and reruns it.
func (s *Supervisor) Output(ctx context.Context) (interface{}, error) {
	if _, err := s.Verify(ctx); err != nil {
		var mismatch *MismatchError
		if !errors.As(err, &mismatch) {
			return nil, err
		}
		// mismatch is recoverable: the manifest is gone and the next run
		// re-records it
	}
	return []string{s.store.URL(s.wrapped.Identity())}, nil
}

// Verify compares the recorded manifest against the wrapped task's currently
// declared outputs. A missing manifest verifies trivially (the unchecked
// state). On drift the manifest is deleted and a *MismatchError carrying the
// symmetric difference is returned; failure to delete is fatal and surfaces
// as ErrManifestDeletion.
func (s *Supervisor) Verify(ctx context.Context) (bool, error) {
	id := s.wrapped.Identity()
	recorded, err := s.store.Load(ctx, id)
	if errors.Is(err, manifest.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	declared, err := s.wrapped.Output(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to enumerate outputs of %s: %w", id, err)
	}
	current := task.Flatten(declared)

	added, removed := diff(recorded, current)
	if len(added) == 0 && len(removed) == 0 {
		return true, nil
	}

	s.reporter.Logf("mismatch in output files found for %s, removing manifest", id)
	s.reporter.Logf("added: %v removed: %v", added, removed)
	if err := s.store.Delete(ctx, id); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrManifestDeletion, s.store.URL(id), err)
	}
	return false, &MismatchError{Added: added, Removed: removed}
}

// Run delegates the wrapped task to the external engine and, once it has
// completed, records its flattened outputs as the manifest. No manifest is
// written when delegation fails, so an aborted unit leaves no partial
// record.
func (s *Supervisor) Run(ctx context.Context, delegation task.Delegation) (err error) {
	if delegation == nil {
		return fmt.Errorf("supervisor %s requires a delegation handle", s.wrapped.Identity())
	}
	ctx, span := tracing.StartSpan(ctx, "supervisor.Run", "INTERNAL")
	span.WithAttributes(map[string]string{"task": s.wrapped.Identity().String()})
	defer func() { tracing.EndSpan(span, err) }()

	s.reporter.Logf("adding task to scheduler: %s", s.wrapped.Identity())
	progress.UpdateCtx(ctx, progress.Delta{Total: 1, Running: 1})
	if err := delegation.Delegate(ctx, s.wrapped); err != nil {
		progress.UpdateCtx(ctx, progress.Delta{Running: -1, Failed: 1})
		return fmt.Errorf("delegated task %s failed: %w", s.wrapped.Identity(), err)
	}

	declared, err := s.wrapped.Output(ctx)
	if err != nil {
		progress.UpdateCtx(ctx, progress.Delta{Running: -1, Failed: 1})
		return fmt.Errorf("failed to enumerate outputs of %s: %w", s.wrapped.Identity(), err)
	}
	paths := task.Flatten(declared)
	if err := s.store.Save(ctx, s.wrapped.Identity(), paths); err != nil {
		progress.UpdateCtx(ctx, progress.Delta{Running: -1, Failed: 1})
		return err
	}
	progress.UpdateCtx(ctx, progress.Delta{Running: -1, Completed: 1})
	return nil
}

// diff returns the symmetric difference between the recorded and current
// path sets: paths only in current (added) and paths only in the record
// (removed), both sorted.
func diff(recorded, current []string) (added, removed []string) {
	recordedSet := make(map[string]struct{}, len(recorded))
	for _, p := range recorded {
		recordedSet[p] = struct{}{}
	}
	currentSet := make(map[string]struct{}, len(current))
	for _, p := range current {
		currentSet[p] = struct{}{}
	}
	for p := range currentSet {
		if _, ok := recordedSet[p]; !ok {
			added = append(added, p)
		}
	}
	for p := range recordedSet {
		if _, ok := currentSet[p]; !ok {
			removed = append(removed, p)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
