package supervisor

import (
	"errors"
	"fmt"
)

// ErrManifestDeletion indicates a stale manifest could not be cleared.
// Proceeding past it would leave drift detection pinned to outdated state,
// so it always aborts the unit.
var ErrManifestDeletion = errors.New("stale manifest could not be deleted")

// MismatchError reports the symmetric difference between a recorded manifest
// and the task's currently declared outputs. It is diagnostic, not fatal:
// the manifest has already been deleted when it is returned, and the next
// run recomputes the task.
type MismatchError struct {
	Added   []string
	Removed []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("output manifest mismatch: %d path(s) added, %d removed", len(e.Added), len(e.Removed))
}
