package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/adalundhe/notepatch/core/content"
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// palette is either the ANSI codes or all blanks.
type palette struct {
	reset, red, green, yellow, cyan, gray, bold string
}

func paletteFor(w io.Writer) palette {
	if !isTerminal(w) {
		return palette{}
	}
	return palette{
		reset:  colorReset,
		red:    colorRed,
		green:  colorGreen,
		yellow: colorYellow,
		cyan:   colorCyan,
		gray:   colorGray,
		bold:   colorBold,
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult renders a transaction result for humans.
func printResult(w io.Writer, ref string, result *content.TransactionResult, cause error) {
	p := paletteFor(w)

	mode := "committed"
	if result.Meta.DryRun {
		mode = "dry run"
	}
	if cause != nil {
		mode = "rejected"
	}
	fmt.Fprintf(w, "%s%s%s%s %s(%s)%s\n", p.bold, p.cyan, ref, p.reset, p.gray, mode, p.reset)

	for _, op := range result.OpsResults {
		color := p.green
		switch op.Status {
		case content.StatusFailed:
			color = p.red
		case content.StatusSkipped:
			color = p.yellow
		}
		fmt.Fprintf(w, "  %s%-8s%s %s", color, op.Status, p.reset, op.ID)
		if op.Matches > 0 {
			fmt.Fprintf(w, " %smatches=%d%s", p.gray, op.Matches, p.reset)
		}
		if op.Error != nil {
			fmt.Fprintf(w, " %s%s: %s%s", p.red, op.Error.Code, op.Error.Message, p.reset)
		}
		fmt.Fprintln(w)
	}

	if cause != nil {
		fmt.Fprintf(w, "  %s%s%s\n", p.red, cause, p.reset)
	}
	fmt.Fprintf(w, "  %s+%d -%d chars, version %s%s\n", p.gray,
		result.Meta.CharDiff.Added, result.Meta.CharDiff.Removed, result.Version, p.reset)

	if result.Diff != nil && *result.Diff != "" {
		fmt.Fprintln(w)
		printDiff(w, *result.Diff, p)
	}
	if result.Content != nil {
		fmt.Fprintln(w)
		fmt.Fprint(w, *result.Content)
		if !strings.HasSuffix(*result.Content, "\n") {
			fmt.Fprintln(w)
		}
	}
}

func printDiff(w io.Writer, diff string, p palette) {
	for _, line := range strings.SplitAfter(diff, "\n") {
		if line == "" {
			continue
		}
		color := ""
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			color = p.bold
		case strings.HasPrefix(line, "@@"):
			color = p.cyan
		case strings.HasPrefix(line, "+"):
			color = p.green
		case strings.HasPrefix(line, "-"):
			color = p.red
		}
		if color == "" {
			fmt.Fprint(w, line)
			continue
		}
		fmt.Fprint(w, color, strings.TrimSuffix(line, "\n"), p.reset, "\n")
	}
}
