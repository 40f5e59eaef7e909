package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/rendis/pineapple/internal/report"
)

func stateColor(result string) *color.Color {
	switch result {
	case report.Success:
		return color.New(color.FgGreen, color.Bold)
	case report.Failure:
		return color.New(color.FgYellow, color.Bold)
	case report.Error:
		return color.New(color.FgRed, color.Bold)
	case report.Interrupted:
		return color.New(color.FgHiBlack)
	default:
		return color.New(color.FgCyan)
	}
}

// printSummary writes the one-line outcome of an execution.
func printSummary(w io.Writer, rep report.Report) {
	bold := color.New(color.Bold)
	bold.Fprint(w, "Result: ")
	stateColor(rep.Result).Fprint(w, rep.Result)
	fmt.Fprintf(w, " in %s (%s)\n", time.Duration(rep.ElapsedMs)*time.Millisecond, rep.ID)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
