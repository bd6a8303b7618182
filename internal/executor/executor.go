// Package executor runs pipeline tasks as subprocesses speaking JSON. The
// task command reads one TaskInput document on stdin and prints one
// TaskResult document on stdout; everything else (timeouts, output limits,
// exit codes) is this package's problem.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/dyluth/drey/pkg/blackboard"
)

const (
	// DefaultTimeout is the maximum time a task can run before being killed.
	DefaultTimeout = 5 * time.Minute

	// maxOutputSize is the maximum number of bytes to read from task
	// stdout/stderr (10MB).
	maxOutputSize = 10 * 1024 * 1024
)

// TaskInput is the JSON document handed to the task command via stdin.
type TaskInput struct {
	Task        string         `json:"task"`                  // Task name, e.g. "initial_research"
	Agent       string         `json:"agent,omitempty"`       // Agent role expected to handle the task
	Description string         `json:"description,omitempty"` // Human-readable task instructions
	Blackboard  map[string]any `json:"blackboard"`            // Filtered board export
	Feedback    string         `json:"feedback,omitempty"`    // Failure trail or operator feedback
	Payload     map[string]any `json:"payload,omitempty"`     // Phase-specific extra input
}

// TaskResult is the JSON document the task command must print on stdout.
// Operations lets a task request board mutations alongside its result; the
// engine applies them after a successful run.
type TaskResult struct {
	Raw        string                 `json:"raw,omitempty"`
	Data       map[string]any         `json:"data,omitempty"`
	Operations []blackboard.Operation `json:"operations,omitempty"`
}

// Validate checks that the result carries something usable.
func (r *TaskResult) Validate() error {
	if r.Raw == "" && len(r.Data) == 0 && len(r.Operations) == 0 {
		return fmt.Errorf("result carries no raw text, data or operations")
	}
	return nil
}

// TaskExecutor runs one named task against the current board state.
type TaskExecutor interface {
	Execute(ctx context.Context, input TaskInput) (*TaskResult, error)
}

// CommandExecutor executes tasks by running a configured command. The same
// command serves every task; it dispatches on the "task" field of its input.
type CommandExecutor struct {
	command []string
	dir     string
	timeout time.Duration
	logger  *zap.Logger
}

// NewCommandExecutor builds a CommandExecutor. command is the argv to run,
// dir the working directory for the subprocess (usually the workspace).
// A zero timeout means DefaultTimeout.
func NewCommandExecutor(command []string, dir string, timeout time.Duration, logger *zap.Logger) (*CommandExecutor, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("command array is empty")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandExecutor{
		command: append([]string(nil), command...),
		dir:     dir,
		timeout: timeout,
		logger:  logger.Named("executor"),
	}, nil
}

// Execute runs the task subprocess with a timeout and bounded output.
//
// The subprocess is:
//   - Run in the configured working directory
//   - Fed the input JSON via stdin (pipe closed after write)
//   - Output captured with a 10MB limit on stdout and stderr
//
// A non-zero exit, a timeout, oversized output or unparseable stdout all
// return an error; the caller's retry policy decides what happens next.
func (e *CommandExecutor) Execute(ctx context.Context, input TaskInput) (*TaskResult, error) {
	if e.dir != "" {
		if _, err := os.Stat(e.dir); os.IsNotExist(err) {
			return nil, fmt.Errorf("working directory %s does not exist", e.dir)
		}
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task input: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.command[0], e.command[1:]...)
	cmd.Dir = e.dir

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdoutBuf := &bytes.Buffer{}
	stderrBuf := &bytes.Buffer{}
	cmd.Stdout = &limitedWriter{w: stdoutBuf, limit: maxOutputSize}
	cmd.Stderr = &limitedWriter{w: stderrBuf, limit: maxOutputSize}

	start := time.Now()
	e.logger.Info("executing task", zap.String("task", input.Task), zap.Strings("command", e.command))

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	go func() {
		defer stdinPipe.Close()
		if _, err := stdinPipe.Write(inputJSON); err != nil {
			e.logger.Warn("failed to write to stdin", zap.Error(err))
		}
	}()

	waitErr := cmd.Wait()
	duration := time.Since(start)
	stdout := stdoutBuf.String()
	stderr := stderrBuf.String()

	if stdoutBuf.Len() >= maxOutputSize || stderrBuf.Len() >= maxOutputSize {
		return nil, fmt.Errorf("task output exceeded 10MB limit")
	}

	if waitErr != nil {
		// A context-killed process reports as an ExitError (signal: killed),
		// so the context checks must come first.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("task %s interrupted: %w", input.Task, ctx.Err())
		}
		if execCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("task %s timed out after %s", input.Task, e.timeout)
		}
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			return nil, fmt.Errorf("task %s exited with code %d: %s",
				input.Task, exitErr.ExitCode(), truncate(stderr, 2000))
		}
		return nil, fmt.Errorf("task %s failed: %w", input.Task, waitErr)
	}

	e.logger.Info("task completed", zap.String("task", input.Task), zap.Duration("duration", duration))

	result, err := parseTaskOutput(stdout)
	if err != nil {
		return nil, fmt.Errorf("task %s produced bad output: %w (stdout: %s)",
			input.Task, err, truncate(stdout, 200))
	}
	return result, nil
}

// parseTaskOutput unmarshals and validates the task's stdout JSON.
func parseTaskOutput(stdout string) (*TaskResult, error) {
	if len(stdout) == 0 {
		return nil, fmt.Errorf("no output on stdout")
	}

	var result TaskResult
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &result, nil
}

// limitedWriter wraps a writer and enforces a size limit.
// Once the limit is reached, further writes are discarded.
type limitedWriter struct {
	w       io.Writer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		// Already hit limit, discard this write
		return len(p), nil
	}

	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}

	n, err = lw.w.Write(toWrite)
	lw.written += n
	return len(p), err // Return len(p) to satisfy the writer interface
}

// truncate limits a string to maxLen characters, appending "..." if truncated
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
