package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/rendis/pineapple/pkg/schema"
)

// TableOptions controls table rendering.
type TableOptions struct {
	Color    bool // colour the result column
	Messages bool // add the last Message of each node
	MaxDepth int  // 0 = unlimited
}

// WriteTable renders rep as an indented tree table.
func WriteTable(w io.Writer, rep Report, opts TableOptions) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)

	header := table.Row{"RESULT", "DESCRIPTION", "ELAPSED"}
	if opts.Messages {
		header = append(header, "MESSAGE")
	}
	t.AppendHeader(header)

	rep.Walk(func(node Report, depth int) bool {
		if opts.MaxDepth > 0 && depth > opts.MaxDepth {
			return true
		}
		row := table.Row{
			colorize(node.Result, opts.Color),
			strings.Repeat("  ", depth) + node.Description,
			(time.Duration(node.ElapsedMs) * time.Millisecond).String(),
		}
		if opts.Messages {
			msg, _ := node.Message(schema.MsgMessage)
			row = append(row, truncate(msg, 80))
		}
		t.AppendRow(row)
		return true
	})

	t.AppendFooter(table.Row{
		"", fmt.Sprintf("Results: %d, successful: %d, failures: %d, errors: %d, interrupted: %d",
			rep.Children, rep.Successful, rep.Failures, rep.Errors, rep.Interrupted), "",
	})
	t.Render()
}

func colorize(result string, enabled bool) string {
	if !enabled {
		return result
	}
	switch result {
	case Success:
		return text.FgGreen.Sprint(result)
	case Failure:
		return text.FgYellow.Sprint(result)
	case Error:
		return text.FgRed.Sprint(result)
	case Interrupted:
		return text.FgHiBlack.Sprint(result)
	default:
		return text.FgCyan.Sprint(result)
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
