// Package environment resolves the process environment that results from
// sourcing one or more shell initialization scripts. The resolved snapshot
// is handed to subsequent command invocations so payloads run under the same
// environment the scripts establish.
package environment

import (
	"context"
	"fmt"
	"strings"

	"github.com/harrypuuter/KingMaker/reporter"
	"github.com/harrypuuter/KingMaker/service/runner"
)

// SourcingError reports that sourcing the initialization scripts failed. No
// partial snapshot is ever returned alongside it.
type SourcingError struct {
	Scripts []string
	Err     error
}

func (e *SourcingError) Error() string {
	return fmt.Sprintf("sourcing %v failed: %v", e.Scripts, e.Err)
}

func (e *SourcingError) Unwrap() error {
	return e.Err
}

// Service resolves environment snapshots.
type Service struct {
	runner   runner.Service
	reporter reporter.Reporter
}

// New creates an environment resolver executing through the given runner.
func New(commandRunner runner.Service, sink reporter.Reporter) *Service {
	if sink == nil {
		sink = reporter.Nop()
	}
	return &Service{runner: commandRunner, reporter: sink}
}

// Resolve sources each script in order and captures the resulting
// environment as a variable-name to value mapping.
func (s *Service) Resolve(ctx context.Context, scripts ...string) (map[string]string, error) {
	return s.resolve(ctx, scripts, false)
}

// ResolveSilent behaves like Resolve without progress reporting.
func (s *Service) ResolveSilent(ctx context.Context, scripts ...string) (map[string]string, error) {
	return s.resolve(ctx, scripts, true)
}

func (s *Service) resolve(ctx context.Context, scripts []string, silent bool) (map[string]string, error) {
	if len(scripts) == 0 {
		return nil, fmt.Errorf("no source script provided")
	}
	if !silent {
		s.reporter.Logf("with source script: %v", scripts)
	}
	parts := make([]string, 0, len(scripts)+1)
	for _, script := range scripts {
		parts = append(parts, fmt.Sprintf("source %s;", script))
	}
	parts = append(parts, "env")

	output, err := s.runner.Run(ctx, runner.Command{Parts: parts, Silent: true})
	if err != nil {
		if cmdErr, ok := runner.AsCommandError(err); ok {
			s.reporter.Logf("source returned non-zero exit status %d", cmdErr.Status)
			s.reporter.Logf("error: %s", cmdErr.Output)
		}
		return nil, &SourcingError{Scripts: scripts, Err: err}
	}
	return parseEnv(output), nil
}

// parseEnv converts an env(1) dump into a map. Lines containing spaces are
// continuation fragments of multi-line values and are dropped; this loses
// shell functions and multi-line exports on purpose, only plain path-style
// variables survive.
func parseEnv(output string) map[string]string {
	env := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		if line == "" || strings.Contains(line, " ") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found || key == "" {
			continue
		}
		env[key] = value
	}
	return env
}
