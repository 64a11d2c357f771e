package diagnostics

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"sierra2mlir/internal/sierra"
)

// Level is the severity of a diagnostic.
type Level string

const (
	Error   Level = "error"
	Warning Level = "warning"
	Note    Level = "note"
	Help    Level = "help"
)

// CompilerError is a structured diagnostic with suggestions and context.
type CompilerError struct {
	Level       Level
	Code        string
	Message     string
	Position    sierra.Position // zero when the failure has no source location
	Length      int
	Suggestions []Suggestion
	Notes       []string
	HelpText    string
}

func (e CompilerError) Error() string {
	if e.Position.Line > 0 {
		return fmt.Sprintf("%s: %s[%s]: %s", e.Position, e.Level, e.Code, e.Message)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Level, e.Code, e.Message)
}

// HasPosition reports whether the diagnostic points into a source file.
func (e CompilerError) HasPosition() bool { return e.Position.Line > 0 }

// Suggestion is a suggested fix.
type Suggestion struct {
	Message     string
	Replacement string
}

// Reporter formats diagnostics against the source they refer to.
type Reporter struct {
	filename string
	lines    []string
}

// NewReporter creates a reporter for one source file.
func NewReporter(filename, source string) *Reporter {
	return &Reporter{
		filename: filename,
		lines:    strings.Split(source, "\n"),
	}
}

// Format renders err with a caret under the offending column and one line
// of context on each side.
func (r *Reporter) Format(err CompilerError) string {
	var out strings.Builder

	levelColor := levelColor(err.Level)
	bold := color.New(color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	if err.Code != "" {
		fmt.Fprintf(&out, "%s[%s]: %s\n", levelColor(string(err.Level)), err.Code, err.Message)
	} else {
		fmt.Fprintf(&out, "%s: %s\n", levelColor(string(err.Level)), err.Message)
	}

	line := err.Position.Line
	width := lineNumberWidth(line)
	indent := strings.Repeat(" ", width)

	filename := err.Position.Filename
	if filename == "" {
		filename = r.filename
	}
	if line > 0 {
		fmt.Fprintf(&out, "%s %s %s:%d:%d\n", indent, dim("-->"), filename, line, err.Position.Column)
		fmt.Fprintf(&out, "%s %s\n", indent, dim("│"))

		if line > 1 && line-1 <= len(r.lines) {
			fmt.Fprintf(&out, "%s %s %s\n", dim(fmt.Sprintf("%*d", width, line-1)), dim("│"), r.lines[line-2])
		}
		if line <= len(r.lines) {
			fmt.Fprintf(&out, "%s %s %s\n", bold(fmt.Sprintf("%*d", width, line)), dim("│"), r.lines[line-1])
			fmt.Fprintf(&out, "%s %s %s\n", indent, dim("│"), marker(err.Position.Column, err.Length, err.Level))
		}
		if line < len(r.lines) && strings.TrimSpace(r.lines[line]) != "" {
			fmt.Fprintf(&out, "%s %s %s\n", dim(fmt.Sprintf("%*d", width, line+1)), dim("│"), r.lines[line])
		}
	} else if filename != "" {
		fmt.Fprintf(&out, "%s %s %s\n", indent, dim("-->"), filename)
	}

	if len(err.Suggestions) > 0 {
		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Fprintf(&out, "%s %s\n", indent, dim("│"))
		for i, s := range err.Suggestions {
			if i == 0 {
				fmt.Fprintf(&out, "%s %s %s: %s\n", indent, cyan("help"), cyan("try"), s.Message)
			} else {
				fmt.Fprintf(&out, "%s %s %s\n", indent, cyan("    "), s.Message)
			}
			if s.Replacement != "" {
				fmt.Fprintf(&out, "%s %s\n", indent, dim("│"))
				fmt.Fprintf(&out, "%s %s %s\n", indent, cyan("│"), cyan(s.Replacement))
			}
		}
	}

	blue := color.New(color.FgBlue).SprintFunc()
	for _, note := range err.Notes {
		fmt.Fprintf(&out, "%s %s %s %s\n", indent, dim("│"), blue("note:"), note)
	}

	if err.HelpText != "" {
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Fprintf(&out, "%s %s %s %s\n", indent, dim("│"), green("help:"), err.HelpText)
	}

	out.WriteString("\n")
	return out.String()
}

func levelColor(level Level) func(...interface{}) string {
	switch level {
	case Warning:
		return color.New(color.FgYellow, color.Bold).SprintFunc()
	case Note:
		return color.New(color.FgBlue, color.Bold).SprintFunc()
	case Help:
		return color.New(color.FgGreen, color.Bold).SprintFunc()
	default:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	}
}

func marker(column, length int, level Level) string {
	if length <= 0 {
		length = 1
	}
	c := color.New(color.FgRed, color.Bold)
	if level == Warning {
		c = color.New(color.FgYellow, color.Bold)
	}
	return strings.Repeat(" ", max(0, column-1)) + c.Sprint(strings.Repeat("^", length))
}

// lineNumberWidth is at least 3 so short files still align.
func lineNumberWidth(line int) int {
	return max(3, len(fmt.Sprintf("%d", line)))
}
