// Package diagnostics turns toolchain failures into positioned, coded
// diagnostics and renders them the way a compiler front end does.
package diagnostics

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/alecthomas/participle/v2"

	"sierra2mlir/internal/builder"
	"sierra2mlir/internal/compiler"
	"sierra2mlir/internal/sierra"
)

// Builder assembles a CompilerError.
type Builder struct {
	err CompilerError
}

// New starts an error diagnostic.
func New(code, message string, pos sierra.Position) *Builder {
	return &Builder{err: CompilerError{Level: Error, Code: code, Message: message, Position: pos}}
}

// NewWarning starts a warning diagnostic.
func NewWarning(code, message string, pos sierra.Position) *Builder {
	return &Builder{err: CompilerError{Level: Warning, Code: code, Message: message, Position: pos}}
}

func (b *Builder) WithLength(length int) *Builder {
	b.err.Length = length
	return b
}

func (b *Builder) WithSuggestion(message string) *Builder {
	b.err.Suggestions = append(b.err.Suggestions, Suggestion{Message: message})
	return b
}

func (b *Builder) WithReplacement(message, replacement string) *Builder {
	b.err.Suggestions = append(b.err.Suggestions, Suggestion{Message: message, Replacement: replacement})
	return b
}

func (b *Builder) WithNote(note string) *Builder {
	b.err.Notes = append(b.err.Notes, note)
	return b
}

func (b *Builder) WithHelp(help string) *Builder {
	b.err.HelpText = help
	return b
}

func (b *Builder) Build() CompilerError {
	return b.err
}

// UnsupportedLibfunc reports a generic libfunc the builder cannot lower,
// suggesting supported names within a small edit distance.
func UnsupportedLibfunc(name string, pos sierra.Position) CompilerError {
	b := New(ErrorUnsupportedLibfunc, fmt.Sprintf("libfunc '%s' is not supported", name), pos).
		WithLength(len(name))
	for _, similar := range findSimilarNames(name, builder.SupportedLibfuncs()) {
		b.WithReplacement(fmt.Sprintf("did you mean '%s'?", similar), similar)
	}
	return b.WithHelp("felt252, unsigned integer, gas and control flow libfuncs are supported").Build()
}

// UnusedFunction warns about a function that no function_call reaches.
func UnusedFunction(name string, pos sierra.Position) CompilerError {
	return NewWarning(WarningUnusedFunction, fmt.Sprintf("function '%s' is never called", name), pos).
		WithNote("optimized compilation removes it").
		Build()
}

// Lint returns warnings for a program that resolved successfully. Functions
// are only reported unused when the program has an entry point.
func Lint(p *sierra.Program) []CompilerError {
	main, ok := p.Main()
	if !ok {
		return nil
	}
	called := map[string]bool{main.ID: true}
	for _, l := range p.Libfuncs {
		for _, a := range l.Args {
			if a.Kind == sierra.ArgUserFunc {
				called[a.Name] = true
			}
		}
	}
	var out []CompilerError
	for _, f := range p.Functions {
		if !called[f.ID] {
			out = append(out, UnusedFunction(f.ID, f.Pos))
		}
	}
	return out
}

// FromError classifies err. Failures without a source location keep a
// zero position.
func FromError(err error) CompilerError {
	var ce CompilerError
	if errors.As(err, &ce) {
		return ce
	}

	var pe participle.Error
	if errors.As(err, &pe) {
		p := pe.Position()
		pos := sierra.Position{Filename: p.Filename, Line: p.Line, Column: p.Column}
		return New(ErrorSyntax, pe.Message(), pos).Build()
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return New(ErrorUnreadableFile, err.Error(), sierra.Position{}).Build()
	}

	var se *sierra.Error
	if errors.As(err, &se) {
		return classify(se, errors.Is(err, compiler.ErrConstruction))
	}

	switch {
	case errors.Is(err, compiler.ErrConstruction):
		return New(ErrorConstruction, err.Error(), sierra.Position{}).Build()
	case errors.Is(err, compiler.ErrPipeline):
		return New(ErrorPipeline, err.Error(), sierra.Position{}).Build()
	case errors.Is(err, compiler.ErrVerification):
		return New(ErrorVerification, err.Error(), sierra.Position{}).
			WithHelp("run with --verbose to see the verifier output").
			Build()
	case errors.Is(err, compiler.ErrEmission):
		return New(ErrorEmission, err.Error(), sierra.Position{}).Build()
	}
	return CompilerError{Level: Error, Message: err.Error()}
}

func classify(se *sierra.Error, construction bool) CompilerError {
	msg := se.Message
	if name, ok := unsupportedLibfunc(msg); ok {
		return UnsupportedLibfunc(name, se.Pos)
	}
	code := ErrorInvalidDeclaration
	if construction {
		code = ErrorConstruction
	}
	switch {
	case strings.Contains(msg, "twice"):
		code = ErrorDuplicateDeclaration
	case strings.Contains(msg, "undeclared") || strings.Contains(msg, "unknown identifier") ||
		strings.Contains(msg, "is not declared") || strings.Contains(msg, "does not exist"):
		code = ErrorUndeclared
	case strings.Contains(msg, "invalid integer"):
		code = ErrorInvalidLiteral
	case strings.Contains(msg, "is not supported"):
		code = ErrorUnsupportedType
	case construction && (strings.Contains(msg, "expects") || strings.Contains(msg, "branches") ||
		strings.Contains(msg, "variable") || strings.Contains(msg, "produces")):
		code = ErrorInvalidInvocation
	}
	return New(code, msg, se.Pos).Build()
}

func unsupportedLibfunc(msg string) (string, bool) {
	rest, ok := strings.CutPrefix(msg, "libfunc '")
	if !ok {
		return "", false
	}
	return strings.CutSuffix(rest, "' is not supported")
}

// findSimilarNames returns candidates within edit distance 2, closest
// first.
func findSimilarNames(target string, candidates []string) []string {
	type match struct {
		name string
		dist int
	}
	var matches []match
	for _, c := range candidates {
		if d := levenshteinDistance(target, c); d <= 2 && len(c) > 2 {
			matches = append(matches, match{c, d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].dist < matches[j].dist })
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.name
	}
	return out
}

func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
