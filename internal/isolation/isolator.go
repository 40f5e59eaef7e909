package isolation

import (
	"context"
	"os"
	"os/exec"
	"time"
)

// Isolator prepares a plugin command for execution under Limits.
type Isolator interface {
	// Wrap returns the command to run in place of cmd. The cleanup function
	// must be called once the process has exited.
	Wrap(ctx context.Context, cmd *exec.Cmd, limits Limits) (*exec.Cmd, func(), error)
}

var _ Isolator = (*ProcessIsolator)(nil)

// ProcessIsolator checks the working directory, binds the process to ctx and
// kills it when ctx is done.
type ProcessIsolator struct {
	// WaitDelay bounds how long pipes are drained after a kill.
	WaitDelay time.Duration
}

// NewProcessIsolator creates a ProcessIsolator with a 5s wait delay.
func NewProcessIsolator() *ProcessIsolator {
	return &ProcessIsolator{WaitDelay: 5 * time.Second}
}

// Wrap implements Isolator.
func (p *ProcessIsolator) Wrap(ctx context.Context, cmd *exec.Cmd, limits Limits) (*exec.Cmd, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if !limits.Unrestricted() {
		dir := cmd.Dir
		if dir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return nil, nil, err
			}
			dir = wd
		}
		if err := limits.CheckDir(dir); err != nil {
			return nil, nil, err
		}
	}

	// exec.Cmd.Cancel is only honoured for commands built by CommandContext.
	wrapped := exec.CommandContext(ctx, cmd.Path, cmd.Args[1:]...)
	wrapped.Args = cmd.Args
	wrapped.Dir = cmd.Dir
	wrapped.Env = cmd.Env
	wrapped.Stdin = cmd.Stdin
	wrapped.Stdout = cmd.Stdout
	wrapped.Stderr = cmd.Stderr
	wrapped.Cancel = func() error {
		if wrapped.Process != nil {
			return wrapped.Process.Kill()
		}
		return nil
	}
	wrapped.WaitDelay = p.WaitDelay

	return wrapped, func() {}, nil
}
