package compose

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrToolingUnavailable means no compose CLI candidate responded to its probe.
	ErrToolingUnavailable = errors.New("compose tooling unavailable")

	// ErrCommandFailed is the sentinel wrapped by CommandFailedError.
	ErrCommandFailed = errors.New("compose command failed")

	// ErrCommandTimedOut is the sentinel wrapped by CommandTimedOutError.
	ErrCommandTimedOut = errors.New("compose command timed out")

	// ErrFilesystem means the staging directory could not be created or written.
	ErrFilesystem = errors.New("compose staging filesystem error")
)

// CommandFailedError is returned when the CLI exits non-zero.
type CommandFailedError struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("compose command %v failed with exit code %d: %s", e.Args, e.ExitCode, e.Stderr)
}

func (e *CommandFailedError) Unwrap() error { return ErrCommandFailed }

// CommandTimedOutError is returned when the CLI outlives its deadline and is killed.
type CommandTimedOutError struct {
	Args    []string
	Timeout time.Duration
	Stdout  string
	Stderr  string
}

func (e *CommandTimedOutError) Error() string {
	return fmt.Sprintf("compose command %v timed out after %s", e.Args, e.Timeout)
}

func (e *CommandTimedOutError) Unwrap() error { return ErrCommandTimedOut }
