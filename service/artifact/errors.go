package artifact

import (
	"errors"
	"fmt"
)

// ErrBundleNameReused indicates that an environment bundle name already
// exists remotely with different content than the local tarball. The cache
// layer in front of environment bundles is path addressed, so overwriting
// would silently serve stale bytes to some hosts; callers must pick a fresh
// name per content revision.
var ErrBundleNameReused = errors.New("environment bundle name reused with different content")

// ErrUnknownEnvironment indicates the environment name is missing from the
// availability registry.
var ErrUnknownEnvironment = errors.New("environment not registered")

// BuildError reports a failed build toolchain invocation. Any partially
// written local or remote bundle has been removed by the time it surfaces.
type BuildError struct {
	Bundle string
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build of %s failed: %v", e.Bundle, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
