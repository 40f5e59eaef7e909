package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rendis/pineapple/internal/execution"
	"github.com/rendis/pineapple/internal/report"
	"github.com/rendis/pineapple/internal/streaming"
	"github.com/rendis/pineapple/pkg/schema"
)

const shutdownTimeout = 30 * time.Second

type executeOptions struct {
	module      string
	environment string
	timeout     time.Duration
	messages    bool
	maxDepth    int
	noColor     bool
	json        bool
}

func newExecuteCmd(flags *rootFlags) *cobra.Command {
	opts := &executeOptions{}
	cmd := &cobra.Command{
		Use:   "execute OPERATION",
		Short: "Execute an operation on a module in an environment",
		Example: `  pineapple execute deploy -m webapp -e dev
  pineapple execute test -m webapp -e qa --timeout 10m --messages`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(cmd, flags.config(cmd), args[0], opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.module, "module", "m", "", "module id")
	f.StringVarP(&opts.environment, "env", "e", "", "environment name")
	f.DurationVar(&opts.timeout, "timeout", 0, "cancel the operation after this duration (0 = no limit)")
	f.BoolVar(&opts.messages, "messages", false, "show the message of every result")
	f.IntVar(&opts.maxDepth, "max-depth", 0, "limit the depth of the report tree (0 = unlimited)")
	f.BoolVar(&opts.noColor, "no-color", false, "disable coloured output")
	f.BoolVar(&opts.json, "json", false, "print the report as JSON")
	_ = cmd.MarkFlagRequired("module")
	_ = cmd.MarkFlagRequired("env")
	return cmd
}

func runExecute(cmd *cobra.Command, cfg Config, operation string, opts *executeOptions) error {
	if opts.noColor {
		color.NoColor = true
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{LogOutput: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.close(shutdownCtx)
	}()
	if err := a.start(ctx); err != nil {
		return err
	}

	// Subscribe before starting so a synchronous completion is not missed.
	events, unsubscribe, err := a.hub.Subscribe(context.Background(), streaming.EventFilter{
		EventTypes: []string{schema.EventExecutionCompleted},
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	info, err := a.core.ExecuteOperation(operation, opts.environment, opts.module)
	if err != nil {
		return err
	}
	waitForCompletion(ctx, a.core.CancelOperation, info, events, opts.timeout)

	rep := report.FromResult(info.Result())
	out := cmd.OutOrStdout()
	if opts.json {
		if err := writeJSON(out, rep); err != nil {
			return err
		}
	} else {
		report.WriteTable(out, rep, report.TableOptions{
			Color:    !color.NoColor,
			Messages: opts.messages,
			MaxDepth: opts.maxDepth,
		})
		printSummary(out, rep)
	}
	if rep.Result != report.Success {
		return fmt.Errorf("operation <%s> on module <%s> in environment <%s> finished with %s",
			operation, opts.module, opts.environment, rep.Result)
	}
	return nil
}

// waitForCompletion blocks until the execution completes. When ctx is done
// or the timeout elapses the execution is cancelled and waited for.
func waitForCompletion(ctx context.Context, cancel func(*execution.Info) error, info *execution.Info, events <-chan streaming.StreamEvent, timeout time.Duration) {
	id := info.Result().ID()
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	// Completion events may be dropped by a saturated hub.
	poll := time.NewTicker(500 * time.Millisecond)
	defer poll.Stop()

	done := ctx.Done()
	for !info.Result().Completed() {
		select {
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if evt.ExecutionID == id {
				return
			}
		case <-done:
			_ = cancel(info)
			done = nil
		case <-deadline:
			_ = cancel(info)
			deadline = nil
		case <-poll.C:
		}
	}
}
