// Package repl is an interactive session that accumulates Sierra source
// and compiles or runs it on request.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"sierra2mlir/internal/compiler"
	"sierra2mlir/internal/diagnostics"
	"sierra2mlir/internal/sierra"
	"sierra2mlir/token"
)

const (
	PROMPT       = ">> "
	CONTINUATION = ".. "
	filename     = "<repl>"
)

// Options configure a session.
type Options struct {
	Compiler     *compiler.Compiler
	Entry        string
	AvailableGas *uint64
}

type session struct {
	opts  Options
	out   io.Writer
	lines []string
}

// Start runs a session until in is exhausted or :quit is entered.
func Start(in io.Reader, out io.Writer, opts Options) error {
	if opts.Compiler == nil {
		opts.Compiler = compiler.New()
	}
	if opts.Entry == "" {
		opts.Entry = "main"
	}
	s := &session{opts: opts, out: out}
	scanner := bufio.NewScanner(in)

	for {
		if s.complete() {
			fmt.Fprint(out, PROMPT)
		} else {
			fmt.Fprint(out, CONTINUATION)
		}
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := scanner.Text()
		cmd := strings.TrimSpace(line)
		if !strings.HasPrefix(cmd, ":") {
			if cmd != "" {
				s.lines = append(s.lines, line)
			}
			continue
		}
		if cmd == ":quit" || cmd == ":q" {
			return nil
		}
		s.command(cmd)
	}
}

// complete reports whether the buffered source ends on a statement
// boundary.
func (s *session) complete() bool {
	toks := token.Lex(filename, s.source())
	for i := len(toks) - 1; i >= 0; i-- {
		switch toks[i].Type {
		case token.EOF, token.COMMENT:
			continue
		case token.SEMICOLON:
			return true
		}
		return false
	}
	return true
}

func (s *session) source() string {
	return strings.Join(s.lines, "\n") + "\n"
}

func (s *session) command(cmd string) {
	switch cmd {
	case ":help":
		fmt.Fprintln(s.out, ":run :mlir :llvm :check :show :reset :quit")
	case ":reset":
		s.lines = nil
	case ":show":
		fmt.Fprint(s.out, s.source())
	case ":check":
		if p := s.program(); p != nil {
			for _, w := range diagnostics.Lint(p) {
				s.report(w)
			}
			fmt.Fprintf(s.out, "%d types, %d libfuncs, %d statements, %d functions\n",
				len(p.Types), len(p.Libfuncs), len(p.Statements), len(p.Functions))
		}
	case ":mlir", ":llvm":
		p := s.program()
		if p == nil {
			return
		}
		opts := compiler.CompileOptions{Optimized: true, AvailableGas: s.opts.AvailableGas}
		var text string
		var err error
		if cmd == ":mlir" {
			text, err = s.opts.Compiler.Compile(p, opts)
		} else {
			text, err = s.opts.Compiler.CompileLLVM(p, opts)
		}
		if err != nil {
			s.report(diagnostics.FromError(err))
			return
		}
		fmt.Fprint(s.out, text)
	case ":run":
		s.run()
	default:
		fmt.Fprintf(s.out, "unknown command %s (try :help)\n", cmd)
	}
}

func (s *session) run() {
	p := s.program()
	if p == nil {
		return
	}
	engine, err := s.opts.Compiler.Execute(p, compiler.ExecuteOptions{AvailableGas: s.opts.AvailableGas})
	if err != nil {
		s.report(diagnostics.FromError(err))
		return
	}
	defer engine.Close()
	engine.WithOutput(1, s.out)

	results, err := engine.Invoke(s.opts.Entry)
	if err != nil {
		fmt.Fprintf(s.out, "error: %s\n", err)
		return
	}
	for _, r := range results {
		fmt.Fprintln(s.out, r)
	}
}

func (s *session) program() *sierra.Program {
	p, err := sierra.ParseString(filename, s.source())
	if err != nil {
		s.report(diagnostics.FromError(err))
		return nil
	}
	return p
}

func (s *session) report(d diagnostics.CompilerError) {
	fmt.Fprint(s.out, diagnostics.NewReporter(filename, s.source()).Format(d))
}
