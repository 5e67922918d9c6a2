package runner

import (
	"errors"
	"fmt"
)

// CommandError reports a shell invocation that terminated with a non-zero
// exit status. Output carries whatever the command produced on its combined
// stdout/stderr streams up to termination, for diagnostics.
type CommandError struct {
	Command string
	Status  int
	Output  string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q returned non-zero exit status %d", e.Command, e.Status)
}

// AsCommandError returns the typed error when err or anything it wraps is a
// CommandError.
func AsCommandError(err error) (*CommandError, bool) {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr, true
	}
	return nil, false
}
