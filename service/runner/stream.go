package runner

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"sync"
)

// streamLine is one line read from either child stream.
type streamLine struct {
	text   string
	stderr bool
}

// maxStreamLine bounds a single output line; build toolchains emit link
// command lines far beyond bufio's default token limit.
const maxStreamLine = 1 << 20

// Stream runs the command while multiplexing stdout and stderr as they
// arrive, emitting every non-empty line to the reporter immediately. A
// dedicated reader per stream feeds a shared channel, so a fast stream never
// blocks behind a slow one. The call returns only after the process
// terminates; a non-zero exit status yields *CommandError.
func (s *service) Stream(ctx context.Context, command Command) error {
	line := command.Line()
	if line == "" {
		return fmt.Errorf("no command provided")
	}
	logstring := fmt.Sprintf("running %q", line)
	if command.Dir != "" {
		logstring += fmt.Sprintf(" from %s", command.Dir)
	}
	s.reporter.Logf("%s", logstring)

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", line)
	cmd.Dir = command.Dir
	if command.Env != nil {
		cmd.Env = flattenEnv(command.Env)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %q: %w", line, err)
	}

	lines := make(chan streamLine)
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
		for scanner.Scan() {
			lines <- streamLine{text: scanner.Text()}
		}
	}()
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
		for scanner.Scan() {
			lines <- streamLine{text: scanner.Text(), stderr: true}
		}
	}()
	go func() {
		readers.Wait()
		close(lines)
	}()

	for read := range lines {
		if read.text == "" {
			continue
		}
		if read.stderr {
			s.reporter.Logf("error: %s", read.text)
		} else {
			s.reporter.Logf("%s", read.text)
		}
	}

	if err := cmd.Wait(); err != nil {
		status := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			status = exitErr.ExitCode()
		}
		s.reporter.Logf("error when running %q", line)
		s.reporter.Logf("command returned non-zero exit status %d", status)
		return &CommandError{Command: line, Status: status}
	}
	return nil
}

func flattenEnv(env map[string]string) []string {
	flat := make([]string, 0, len(env))
	for key, value := range env {
		flat = append(flat, key+"="+value)
	}
	return flat
}
