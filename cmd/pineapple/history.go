package main

import (
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rendis/pineapple/internal/report"
	"github.com/rendis/pineapple/internal/store"
	"github.com/rendis/pineapple/pkg/schema"
)

type historyOptions struct {
	module      string
	environment string
	operation   string
	state       string
	since       time.Duration
	limit       int
	json        bool
}

func newHistoryCmd(flags *rootFlags) *cobra.Command {
	opts := &historyOptions{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived executions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, flags.config(cmd), opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.module, "module", "m", "", "filter by module")
	f.StringVarP(&opts.environment, "env", "e", "", "filter by environment")
	f.StringVarP(&opts.operation, "operation", "o", "", "filter by operation")
	f.StringVar(&opts.state, "state", "", "filter by state: SUCCESS, FAILURE, ERROR, INTERRUPTED")
	f.DurationVar(&opts.since, "since", 0, "only executions started within this duration")
	f.IntVarP(&opts.limit, "limit", "n", 20, "maximum number of executions")
	f.BoolVar(&opts.json, "json", false, "print as JSON")

	cmd.AddCommand(newHistoryShowCmd(flags))
	return cmd
}

func runHistory(cmd *cobra.Command, cfg Config, opts *historyOptions) error {
	filter := store.ExecutionFilter{
		Module:      opts.module,
		Environment: opts.environment,
		Operation:   opts.operation,
		Limit:       opts.limit,
	}
	if opts.state != "" {
		state, err := schema.ParseExecutionState(opts.state)
		if err != nil {
			return err
		}
		filter.State = &state
	}
	if opts.since > 0 {
		since := time.Now().Add(-opts.since)
		filter.Since = &since
	}

	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	recs, err := st.ListExecutions(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if opts.json {
		if recs == nil {
			recs = []*store.ExecutionRecord{}
		}
		return writeJSON(cmd.OutOrStdout(), recs)
	}
	writeHistoryTable(cmd.OutOrStdout(), recs)
	return nil
}

func writeHistoryTable(w io.Writer, recs []*store.ExecutionRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "MODULE", "ENVIRONMENT", "OPERATION", "RESULT", "STARTED", "ELAPSED"})
	for _, rec := range recs {
		result := report.Vocabulary(rec.State)
		t.AppendRow(table.Row{
			rec.ID,
			rec.Module,
			rec.Environment,
			rec.Operation,
			stateColor(result).Sprint(result),
			rec.StartedAt.Local().Format(time.DateTime),
			(time.Duration(rec.ElapsedMs) * time.Millisecond).String(),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Total", len(recs)})
	t.Render()
}

func newHistoryShowCmd(flags *rootFlags) *cobra.Command {
	var (
		messages bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "show EXECUTION_ID",
		Short: "Show the result tree of an archived execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), flags.config(cmd))
			if err != nil {
				return err
			}
			defer st.Close()

			rec, err := st.GetExecution(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			snap, err := store.DecodeSnapshot(rec)
			if err != nil {
				return err
			}
			rep := report.Map(snap.Result)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rep)
			}
			report.WriteTable(cmd.OutOrStdout(), rep, report.TableOptions{Color: !color.NoColor, Messages: messages})
			printSummary(cmd.OutOrStdout(), rep)
			return nil
		},
	}
	cmd.Flags().BoolVar(&messages, "messages", false, "show the message of every result")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}
