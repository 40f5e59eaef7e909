package plugins

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rendis/pineapple/internal/isolation"
	"github.com/rendis/pineapple/pkg/schema"
)

const (
	defaultShellTimeout  = 5 * time.Minute
	defaultMaxOutputSize = 1024 * 1024 // 1MB
)

// Message keys recorded by the shell plugin.
const (
	MsgStandardOutput = "Standard Output"
	MsgStandardError  = "Standard Error"
	MsgExitCode       = "Exit Code"
)

// ShellConfig configures the shell plugin.
type ShellConfig struct {
	DefaultTimeout time.Duration
	MaxOutputSize  int64
	// Disabled rejects every shell operation.
	Disabled bool
	// Limits restricts the working directories of commands.
	Limits   isolation.Limits
	Isolator isolation.Isolator // nil = isolation.NewProcessIsolator()
}

// ShellPlugin runs a system command for any operation. Content:
//
//	command: ./deploy.sh
//	args: [--verbose]
//	shell: false
//	dir: /opt/app
//	env: {KEY: value}
//	timeout: 30s
//
// Exit code zero completes the result as SUCCESS, anything else as FAILURE.
func ShellPlugin(cfg ShellConfig) Plugin {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultShellTimeout
	}
	if cfg.MaxOutputSize <= 0 {
		cfg.MaxOutputSize = defaultMaxOutputSize
	}
	if cfg.Isolator == nil {
		cfg.Isolator = isolation.NewProcessIsolator()
	}
	s := &shellOperation{cfg: cfg}
	return NewWithSchema(ShellID, "Executes a system command.", shellContentSchema, map[string]Operation{
		AnyOperation: SimpleOperation(s.execute),
	})
}

const shellContentSchema = `{
  "type": "object",
  "required": ["command"],
  "properties": {
    "command": {"type": "string", "minLength": 1},
    "args": {"type": "array", "items": {"type": "string"}},
    "env": {"type": "object", "additionalProperties": {"type": "string"}},
    "dir": {"type": "string"},
    "shell": {"type": "boolean"},
    "timeout": {"type": "string", "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"}
  },
  "additionalProperties": false
}`

type shellOperation struct {
	cfg ShellConfig
}

func (s *shellOperation) execute(ctx context.Context, inv Invocation) error {
	if s.cfg.Disabled {
		return schema.NewError(schema.ErrCodePlugin, "shell: plugin is disabled")
	}
	params := inv.Content
	if params == nil {
		params = map[string]any{}
	}

	command := stringParam(params, "command", "")
	if command == "" {
		return schema.NewError(schema.ErrCodeValidation, "shell: missing required content 'command'")
	}

	args := stringSliceParam(params, "args")
	execCtx, cancel := context.WithTimeout(ctx, durationParam(params, "timeout", s.cfg.DefaultTimeout))
	defer cancel()

	var cmd *exec.Cmd
	if boolParam(params, "shell", false) {
		full := command
		if len(args) > 0 {
			full = command + " " + strings.Join(args, " ")
		}
		cmd = exec.Command("/bin/sh", "-c", full)
	} else {
		cmd = exec.Command(command, args...)
	}
	if dir := stringParam(params, "dir", ""); dir != "" {
		cmd.Dir = dir
	}
	if envMap := stringMapParam(params, "env"); envMap != nil {
		cmd.Env = os.Environ()
		for k, v := range envMap {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, limit: s.cfg.MaxOutputSize}
	cmd.Stderr = &limitedWriter{w: &stderr, limit: s.cfg.MaxOutputSize}

	inv.Result.AddMessage(schema.MsgDescription, strings.TrimSpace(command+" "+strings.Join(args, " ")))
	wrapped, cleanup, err := s.cfg.Isolator.Wrap(execCtx, cmd, s.cfg.Limits)
	if err != nil {
		if ctx.Err() != nil {
			inv.Result.CompleteAsInterrupted("Command interrupted.")
			return nil
		}
		if schema.HasCode(err, schema.ErrCodePathDenied) {
			return err
		}
		return schema.NewErrorf(schema.ErrCodeExecution, "shell: %v", err).WithCause(err)
	}
	defer cleanup()
	runErr := wrapped.Run()

	if stdout.Len() > 0 {
		inv.Result.AddMessage(MsgStandardOutput, stdout.String())
	}
	if stderr.Len() > 0 {
		inv.Result.AddMessage(MsgStandardError, stderr.String())
	}

	if runErr == nil {
		inv.Result.AddMessage(MsgExitCode, "0")
		inv.Result.CompleteAsSuccessful("Command completed.")
		return nil
	}

	if ctx.Err() != nil {
		inv.Result.CompleteAsInterrupted("Command interrupted.")
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		inv.Result.AddMessage(MsgExitCode, fmt.Sprintf("%d", exitErr.ExitCode()))
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			inv.Result.CompleteAsFailure("Command timed out.")
			return nil
		}
		inv.Result.CompleteAsFailure(fmt.Sprintf("Command exited with code %d.", exitErr.ExitCode()))
		return nil
	}
	// Command not found and similar start errors.
	return schema.NewErrorf(schema.ErrCodeExecution, "shell: %v", runErr).WithCause(runErr)
}

// limitedWriter discards bytes beyond the limit. Write always reports the
// full len(p) so the subprocess never blocks on a full pipe.
type limitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	total := len(p)
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return total, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return total, err
	}
	return total, nil
}
