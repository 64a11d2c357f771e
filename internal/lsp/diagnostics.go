package lsp

import (
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"sierra2mlir/internal/compiler"
	"sierra2mlir/internal/diagnostics"
	"sierra2mlir/internal/sierra"
)

// Diagnose parses and compiles text, returning every problem found. A
// program that does not resolve is not compiled.
func Diagnose(path, text string) []protocol.Diagnostic {
	out := []protocol.Diagnostic{}

	program, err := sierra.ParseString(path, text)
	if err != nil {
		return append(out, convert(diagnostics.FromError(err), text))
	}
	for _, w := range diagnostics.Lint(program) {
		out = append(out, convert(w, text))
	}
	if _, err := compiler.Compile(program, compiler.CompileOptions{}); err != nil {
		out = append(out, convert(diagnostics.FromError(err), text))
	}
	return out
}

// convert maps a diagnostic to the protocol form. Diagnostics without a
// position are reported on the first character of the document.
func convert(d diagnostics.CompilerError, text string) protocol.Diagnostic {
	var start protocol.Position
	length := d.Length
	if d.HasPosition() {
		start = protocol.Position{
			Line:      uint32(d.Position.Line - 1),
			Character: uint32(max(d.Position.Column-1, 0)),
		}
		if length <= 0 {
			length = tokenLength(text, d.Position.Line, d.Position.Column)
		}
	}
	if length <= 0 {
		length = 1
	}

	severity := protocol.DiagnosticSeverityError
	if d.Level == diagnostics.Warning {
		severity = protocol.DiagnosticSeverityWarning
	}
	diag := protocol.Diagnostic{
		Range: protocol.Range{
			Start: start,
			End:   protocol.Position{Line: start.Line, Character: start.Character + uint32(length)},
		},
		Severity: &severity,
		Source:   ptrString("sierra2mlir"),
		Message:  d.Message,
	}
	if d.Code != "" {
		diag.Code = &protocol.IntegerOrString{Value: d.Code}
	}
	for _, s := range d.Suggestions {
		diag.Message += "\n" + s.Message
	}
	return diag
}

// tokenLength measures the run of non-separator characters at the 1-based
// line and column.
func tokenLength(text string, line, column int) int {
	lines := strings.Split(text, "\n")
	if line < 1 || line > len(lines) || column < 1 || column > len(lines[line-1]) {
		return 0
	}
	rest := lines[line-1][column-1:]
	if i := strings.IndexAny(rest, " \t;=("); i >= 0 {
		return i
	}
	return len(rest)
}
