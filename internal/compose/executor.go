// Package compose runs a container-orchestration CLI (docker compose or
// docker-compose) against a manifest staged in a private temporary directory.
package compose

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// StagedFileName is the manifest file name inside the staging directory.
	StagedFileName = "docker-compose.yml"

	DefaultTimeout      = 300 * time.Second
	DefaultProbeTimeout = 10 * time.Second

	stagingPrefix = "vlem_compose_"
	waitDelay     = 5 * time.Second
)

type (
	// ExecCommandFunc creates an exec.Cmd. Tests replace it to fake the CLI.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// Candidate is one way of invoking the CLI.
	Candidate struct {
		// Probe is run to check availability; exit status 0 means usable.
		Probe []string
		// Command is the prefix for every real invocation.
		Command []string
	}

	// Option configures an Executor.
	Option func(*Executor)

	// RunOptions tunes a single invocation.
	RunOptions struct {
		// Project is passed as `-p` so each lab gets its own compose project.
		Project string
		// ProjectDirectory resolves relative paths (build contexts, env files)
		// against a directory other than the staging one.
		ProjectDirectory string
		// Timeout bounds a buffered run. Zero means the executor default.
		// For streams, zero means no deadline.
		Timeout time.Duration
		// MergeOutput interleaves stderr into Stdout for buffered runs.
		MergeOutput bool
	}

	// Result is the outcome of a successful buffered run.
	Result struct {
		Args     []string
		ExitCode int
		Stdout   string
		Stderr   string
		Duration time.Duration
	}

	// Executor stages manifests and runs the CLI. The resolved CLI command is
	// cached for the lifetime of the Executor, including a failed resolution;
	// Reprobe is the only way to check again.
	Executor struct {
		candidates     []Candidate
		execCommand    ExecCommandFunc
		timeout        time.Duration
		probeTimeout   time.Duration
		stagingBaseDir string
		logger         *slog.Logger
		invocations    metric.Int64Counter

		mu       sync.Mutex
		resolved bool
		command  []string
		probeErr error
	}
)

// DefaultCandidates lists the standalone binary first, then the docker plugin.
func DefaultCandidates() []Candidate {
	return []Candidate{
		{Probe: []string{"docker-compose", "--version"}, Command: []string{"docker-compose"}},
		{Probe: []string{"docker", "compose", "version"}, Command: []string{"docker", "compose"}},
	}
}

// WithExecCommand replaces the command factory.
func WithExecCommand(fn ExecCommandFunc) Option {
	return func(e *Executor) { e.execCommand = fn }
}

// WithCandidates replaces the probed CLI candidates.
func WithCandidates(c []Candidate) Option {
	return func(e *Executor) { e.candidates = c }
}

// WithTimeout sets the default buffered-run deadline.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithProbeTimeout sets the deadline of each availability probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.probeTimeout = d
		}
	}
}

// WithStagingDir sets the parent of staging directories (default os.TempDir).
func WithStagingDir(dir string) Option {
	return func(e *Executor) { e.stagingBaseDir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Executor. No probing happens until the first Resolve or Run.
func New(opts ...Option) *Executor {
	e := &Executor{
		candidates:   DefaultCandidates(),
		execCommand:  exec.CommandContext,
		timeout:      DefaultTimeout,
		probeTimeout: DefaultProbeTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	counter, err := otel.Meter("vlem/compose").Int64Counter("vlem.compose.invocations",
		metric.WithDescription("Compose CLI invocations by subcommand and result"),
	)
	if err == nil {
		e.invocations = counter
	}
	return e
}

// Resolve returns the cached CLI command, probing on first use.
// A probe cut short by ctx is not cached.
func (e *Executor) Resolve(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.resolved {
		command, err := e.probe(ctx)
		if err != nil && ctx.Err() != nil {
			return nil, err
		}
		e.command, e.probeErr = command, err
		e.resolved = true
	}
	return e.command, e.probeErr
}

// Reprobe discards the cached resolution and probes again.
func (e *Executor) Reprobe(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	e.resolved = false
	e.command = nil
	e.probeErr = nil
	e.mu.Unlock()

	return e.Resolve(ctx)
}

func (e *Executor) probe(ctx context.Context) ([]string, error) {
	for _, c := range e.candidates {
		if len(c.Probe) == 0 || len(c.Command) == 0 {
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, e.probeTimeout)
		cmd := e.execCommand(probeCtx, c.Probe[0], c.Probe[1:]...)
		err := cmd.Run()
		cancel()

		if err == nil {
			e.logger.Info("compose tooling resolved", "command", c.Command)
			return append([]string(nil), c.Command...), nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("probe compose tooling: %w", ctx.Err())
		}
		e.logger.Debug("compose candidate unavailable", "probe", c.Probe, "error", err)
	}

	e.logger.Error("no compose tooling found", "candidates", len(e.candidates))
	return nil, fmt.Errorf("%w: none of %d candidates responded; install docker compose or docker-compose", ErrToolingUnavailable, len(e.candidates))
}

// stage creates a fresh directory holding the manifest. The returned cleanup
// removes it and must always be called.
func (e *Executor) stage(content []byte) (string, func(), error) {
	dir, err := os.MkdirTemp(e.stagingBaseDir, stagingPrefix)
	if err != nil {
		return "", func() {}, fmt.Errorf("%w: create staging dir: %v", ErrFilesystem, err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			e.logger.Warn("failed to remove staging dir", "dir", dir, "error", err)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, StagedFileName), content, 0o600); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("%w: write manifest: %v", ErrFilesystem, err)
	}
	return dir, cleanup, nil
}

func (e *Executor) commandLine(base []string, args []string, opts RunOptions) []string {
	full := append([]string(nil), base...)
	full = append(full, "-f", StagedFileName)
	if opts.Project != "" {
		full = append(full, "-p", opts.Project)
	}
	if opts.ProjectDirectory != "" {
		full = append(full, "--project-directory", opts.ProjectDirectory)
	}
	return append(full, args...)
}

// Run executes the CLI with args and waits for it to finish.
func (e *Executor) Run(ctx context.Context, content []byte, args []string, opts RunOptions) (*Result, error) {
	base, err := e.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	dir, cleanup, err := e.stage(content)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	full := e.commandLine(base, args, opts)
	cmd := e.execCommand(runCtx, full[0], full[1:]...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if opts.MergeOutput {
		cmd.Stderr = &stdout
	} else {
		cmd.Stderr = &stderr
	}

	started := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(started)

	subcommand := ""
	if len(args) > 0 {
		subcommand = args[0]
	}

	if runErr == nil {
		e.record(ctx, subcommand, "ok")
		return &Result{
			Args:     full,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: elapsed,
		}, nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		// The caller's deadline may have fired before ours.
		if ctx.Err() != nil {
			timeout = elapsed.Round(time.Millisecond)
		}
		e.record(ctx, subcommand, "timeout")
		return nil, &CommandTimedOutError{Args: full, Timeout: timeout, Stdout: stdout.String(), Stderr: stderr.String()}
	}
	if ctx.Err() != nil {
		e.record(ctx, subcommand, "cancelled")
		return nil, fmt.Errorf("compose %s: %w", subcommand, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		e.record(ctx, subcommand, "failed")
		return nil, &CommandFailedError{
			Args:     full,
			ExitCode: exitErr.ExitCode(),
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
		}
	}

	e.record(ctx, subcommand, "unavailable")
	return nil, fmt.Errorf("%w: start %v: %v", ErrToolingUnavailable, full, runErr)
}

func (e *Executor) record(ctx context.Context, subcommand, result string) {
	if e.invocations == nil {
		return
	}
	e.invocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("subcommand", subcommand),
		attribute.String("result", result),
	))
}

// Stream is a running CLI invocation whose merged output is read incrementally.
// Read Output to EOF, then call Wait. The staging directory is removed by Wait.
type Stream struct {
	cmd     *exec.Cmd
	output  *os.File
	cleanup func()
	cancel  context.CancelFunc
	args    []string
	timeout time.Duration
	runCtx  context.Context
	started time.Time

	once    sync.Once
	waitErr error
}

// Output returns the merged stdout/stderr of the process.
func (s *Stream) Output() io.Reader { return s.output }

// Wait blocks until the process exits and releases its resources.
func (s *Stream) Wait() error {
	s.once.Do(func() {
		err := s.cmd.Wait()
		_ = s.output.Close()
		s.cleanup()

		switch {
		case err == nil:
		case errors.Is(s.runCtx.Err(), context.DeadlineExceeded):
			timeout := s.timeout
			if timeout <= 0 {
				timeout = time.Since(s.started).Round(time.Millisecond)
			}
			err = &CommandTimedOutError{Args: s.args, Timeout: timeout}
		default:
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				err = &CommandFailedError{Args: s.args, ExitCode: exitErr.ExitCode()}
			}
		}
		s.cancel()
		s.waitErr = err
	})
	return s.waitErr
}

// Stop kills the process and waits for it.
func (s *Stream) Stop() error {
	s.cancel()
	return s.Wait()
}

// Stream starts the CLI and returns immediately with a live handle.
func (e *Executor) Stream(ctx context.Context, content []byte, args []string, opts RunOptions) (*Stream, error) {
	base, err := e.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	dir, cleanup, err := e.stage(content)
	if err != nil {
		return nil, err
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		cancel()
		cleanup()
		return nil, fmt.Errorf("%w: output pipe: %v", ErrFilesystem, err)
	}

	full := e.commandLine(base, args, opts)
	cmd := e.execCommand(runCtx, full[0], full[1:]...)
	cmd.Dir = dir
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		cancel()
		cleanup()
		return nil, fmt.Errorf("%w: start %v: %v", ErrToolingUnavailable, full, err)
	}
	// The child holds its own copy of the write end.
	_ = pw.Close()

	return &Stream{
		cmd:     cmd,
		output:  pr,
		cleanup: cleanup,
		cancel:  cancel,
		args:    full,
		timeout: opts.Timeout,
		runCtx:  runCtx,
		started: time.Now(),
	}, nil
}
