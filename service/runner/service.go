// Package runner executes shell commands on behalf of the processing core.
// Buffered execution goes through gosh shell sessions (one session per
// working directory and environment signature, reused across invocations);
// streaming execution
// multiplexes child stdout/stderr line by line for long-running,
// human-monitored payloads. Both modes enforce the fail-fast contract: any
// non-zero exit status surfaces as *CommandError.
package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/harrypuuter/KingMaker/reporter"
	"github.com/viant/gosh"
	grunner "github.com/viant/gosh/runner"
	"github.com/viant/gosh/runner/local"
)

// Command describes one shell invocation. Parts are shell tokens joined with
// single spaces; callers own shell-safe quoting. Env, when non-nil, fully
// replaces the child environment. Silent suppresses progress reporting for
// successful runs; failures are always reported.
type Command struct {
	Parts     []string
	Dir       string
	Env       map[string]string
	Silent    bool
	TimeoutMs int
}

// Line joins the command parts into the shell line that is executed.
func (c Command) Line() string {
	return strings.Join(c.Parts, " ")
}

// Service runs commands. Implementations must be safe for concurrent use.
type Service interface {
	// Run executes the command to completion and returns its combined
	// stdout/stderr output. Non-zero exit status yields *CommandError.
	Run(ctx context.Context, command Command) (string, error)
	// Stream executes the command, emitting every non-empty output line to
	// the reporter as it arrives. Non-zero exit status yields *CommandError
	// after the process terminates.
	Stream(ctx context.Context, command Command) error
	// Close releases all shell sessions held by the service.
	Close() error
}

type service struct {
	reporter reporter.Reporter

	mu       sync.Mutex
	sessions map[string]*gosh.Service
}

// New creates a command runner reporting to the supplied sink.
func New(sink reporter.Reporter) Service {
	if sink == nil {
		sink = reporter.Nop()
	}
	return &service{
		reporter: sink,
		sessions: make(map[string]*gosh.Service),
	}
}

func (s *service) Run(ctx context.Context, command Command) (string, error) {
	line := command.Line()
	if line == "" {
		return "", fmt.Errorf("no command provided")
	}
	if !command.Silent {
		logstring := fmt.Sprintf("running %q", line)
		if command.Dir != "" {
			logstring += fmt.Sprintf(" from %s", command.Dir)
		}
		s.reporter.Logf("%s", logstring)
	}

	session, err := s.session(ctx, command.Dir, command.Env)
	if err != nil {
		return "", err
	}

	var options []grunner.Option
	if command.TimeoutMs > 0 {
		options = append(options, grunner.WithTimeout(command.TimeoutMs))
	}
	output, status, err := session.Run(ctx, line, options...)
	if err != nil {
		return output, fmt.Errorf("failed to run %q: %w", line, err)
	}
	if status != 0 {
		s.reporter.Logf("error when running %q", line)
		s.reporter.Logf("command returned non-zero exit status %d", status)
		return output, &CommandError{Command: line, Status: status, Output: output}
	}
	if !command.Silent {
		s.reporter.Logf("command successful")
	}
	return output, nil
}

// session returns a shell session for the given working directory and
// environment, creating one on first use. Shell sessions persist directory
// state, so the cache is keyed by (dir, env signature): a command without a
// directory never shares a session with one that changed it.
func (s *service) session(ctx context.Context, dir string, env map[string]string) (*gosh.Service, error) {
	key := dir + "\x00" + envSignature(env)

	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[key]; ok {
		return session, nil
	}
	var options []grunner.Option
	if len(env) > 0 {
		options = append(options, grunner.WithEnvironment(env))
	}
	session, err := gosh.New(ctx, local.New(options...))
	if err != nil {
		return nil, fmt.Errorf("failed to create shell session: %w", err)
	}
	if dir != "" {
		if _, _, err := session.Run(ctx, fmt.Sprintf("cd %s", dir)); err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("failed to change directory to %s: %w", dir, err)
		}
	}
	s.sessions[key] = session
	return session, nil
}

func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var failures []string
	for key, session := range s.sessions {
		if err := session.Close(); err != nil {
			failures = append(failures, fmt.Sprintf("session %s: %v", key, err))
		}
	}
	s.sessions = make(map[string]*gosh.Service)
	if len(failures) > 0 {
		return fmt.Errorf("errors closing sessions: %s", strings.Join(failures, "; "))
	}
	return nil
}

func envSignature(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var builder strings.Builder
	for _, key := range keys {
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(env[key])
		builder.WriteByte('\n')
	}
	return builder.String()
}
