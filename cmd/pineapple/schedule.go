package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rendis/pineapple/internal/logging"
	"github.com/rendis/pineapple/internal/scheduler"
	"github.com/rendis/pineapple/internal/store"
	"github.com/rendis/pineapple/internal/validation"
)

func newScheduleCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage cron-scheduled operations",
		Long: `Scheduled operations are started by "pineapple serve" whenever their
five field cron expression is due.`,
	}
	cmd.AddCommand(
		newScheduleListCmd(flags),
		newScheduleCreateCmd(flags),
		newScheduleDeleteCmd(flags),
		newScheduleDeleteAllCmd(flags),
		newScheduleEnableCmd(flags, true),
		newScheduleEnableCmd(flags, false),
	)
	return cmd
}

// withScheduler runs fn against a scheduler on the archive. The scheduler is
// not started: nothing is executed.
func withScheduler(cmd *cobra.Command, flags *rootFlags, fn func(ctx context.Context, s *scheduler.Scheduler) error) error {
	cfg := flags.config(cmd)
	ctx := cmd.Context()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	validator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return err
	}
	s := scheduler.New(st, nil, scheduler.Config{
		Validator: validator,
		Logger:    logging.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogJSON),
	})
	return fn(ctx, s)
}

func newScheduleListCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withScheduler(cmd, flags, func(ctx context.Context, s *scheduler.Scheduler) error {
				ops, err := s.List(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					if ops == nil {
						ops = []*store.ScheduledOperation{}
					}
					return writeJSON(cmd.OutOrStdout(), ops)
				}
				writeScheduleTable(cmd.OutOrStdout(), ops)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func writeScheduleTable(w io.Writer, ops []*store.ScheduledOperation) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"NAME", "MODULE", "ENVIRONMENT", "OPERATION", "CRON", "ENABLED", "NEXT RUN", "LAST RUN", "LAST STATUS"})
	for _, op := range ops {
		enabled := color.New(color.FgGreen).Sprint("yes")
		if !op.Enabled {
			enabled = color.New(color.FgHiBlack).Sprint("no")
		}
		t.AppendRow(table.Row{
			op.Name,
			op.Module,
			op.Environment,
			op.Operation,
			op.Cron,
			enabled,
			formatTime(op.NextRunAt),
			formatTime(op.LastRunAt),
			op.LastRunStatus,
		})
	}
	t.Render()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func newScheduleCreateCmd(flags *rootFlags) *cobra.Command {
	var module, environment, operation, cronExpr, description string
	cmd := &cobra.Command{
		Use:     "create NAME",
		Short:   "Create a scheduled operation",
		Example: `  pineapple schedule create nightly-tests -m webapp -e qa -o test --cron "0 2 * * *"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd, flags, func(ctx context.Context, s *scheduler.Scheduler) error {
				op, err := s.Create(ctx, args[0], module, operation, environment, description, cronExpr)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scheduled operation %s created, next run at %s\n",
					color.New(color.Bold).Sprint(op.Name), formatTime(op.NextRunAt))
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&module, "module", "m", "", "module id")
	f.StringVarP(&environment, "env", "e", "", "environment name")
	f.StringVarP(&operation, "operation", "o", "", "operation name")
	f.StringVar(&cronExpr, "cron", "", "five field cron expression")
	f.StringVar(&description, "description", "", "free text description")
	for _, name := range []string{"module", "env", "operation", "cron"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newScheduleDeleteCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a scheduled operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd, flags, func(ctx context.Context, s *scheduler.Scheduler) error {
				if err := s.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scheduled operation %s deleted\n", args[0])
				return nil
			})
		},
	}
}

func newScheduleDeleteAllCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-all",
		Short: "Delete every scheduled operation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withScheduler(cmd, flags, func(ctx context.Context, s *scheduler.Scheduler) error {
				n, err := s.DeleteAll(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d scheduled operations deleted\n", n)
				return nil
			})
		},
	}
}

func newScheduleEnableCmd(flags *rootFlags, enabled bool) *cobra.Command {
	use, short, verb := "resume NAME", "Resume a paused scheduled operation", "resumed"
	if !enabled {
		use, short, verb = "pause NAME", "Pause a scheduled operation", "paused"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd, flags, func(ctx context.Context, s *scheduler.Scheduler) error {
				if err := s.SetEnabled(ctx, args[0], enabled); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scheduled operation %s %s\n", args[0], verb)
				return nil
			})
		},
	}
}
