package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"sierra2mlir/internal/diagnostics"
	"sierra2mlir/internal/sierra"
)

// source is a program file read for compilation.
type source struct {
	path string
	text string
}

func readSource(path string) (source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return source{path: path}, err
	}
	return source{path: path, text: string(data)}, nil
}

func (s source) parse() (*sierra.Program, error) {
	return sierra.ParseString(s.path, s.text)
}

// fail prints err as a diagnostic and returns errReported.
func (s source) fail(w io.Writer, err error) error {
	fmt.Fprint(w, diagnostics.NewReporter(s.path, s.text).Format(diagnostics.FromError(err)))
	color.New(color.FgRed).Fprintf(w, "Compilation of %s failed\n", s.path)
	return errReported
}

// warn prints lint warnings for a resolved program.
func (s source) warn(w io.Writer, p *sierra.Program) {
	r := diagnostics.NewReporter(s.path, s.text)
	for _, d := range diagnostics.Lint(p) {
		fmt.Fprint(w, r.Format(d))
	}
}
