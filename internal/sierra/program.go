// Package sierra holds the resolved model of a Sierra program: declarations
// refer to each other by pointer, statements are indexed and functions know
// their entry statement.
package sierra

import (
	"fmt"
	"math/big"
	"strings"
)

// Position locates a declaration or statement in its source file.
type Position struct {
	Filename string
	Line     int
	Column   int
}

func (p Position) String() string {
	return fmt.Sprintf("%s:%d:%d", p.Filename, p.Line, p.Column)
}

// VarID names a variable inside a function.
type VarID uint64

func (v VarID) String() string { return fmt.Sprintf("[%d]", uint64(v)) }

// ArgKind discriminates generic arguments.
type ArgKind int

const (
	ArgValue ArgKind = iota
	ArgType
	ArgLibfunc
	ArgUserFunc
	ArgUserType
)

// GenericArg is one argument of a generic type or libfunc.
type GenericArg struct {
	Kind    ArgKind
	Value   *big.Int
	Type    *TypeDeclaration
	Libfunc *LibfuncDeclaration
	// Name is the user function or user type path.
	Name string
}

func (a GenericArg) String() string {
	switch a.Kind {
	case ArgValue:
		return a.Value.String()
	case ArgType:
		return a.Type.ID
	case ArgLibfunc:
		return a.Libfunc.ID
	case ArgUserFunc:
		return "user@" + a.Name
	default:
		return "ut@" + a.Name
	}
}

type TypeDeclaration struct {
	ID         string
	Generic    string
	Args       []GenericArg
	Attributes map[string]string
	Pos        Position
}

// Long renders the generic type with its arguments, e.g. NonZero<felt252>.
func (t *TypeDeclaration) Long() string { return long(t.Generic, t.Args) }

type LibfuncDeclaration struct {
	ID      string
	Generic string
	Args    []GenericArg
	Pos     Position
}

func (l *LibfuncDeclaration) Long() string { return long(l.Generic, l.Args) }

func long(generic string, args []GenericArg) string {
	if len(args) == 0 {
		return generic
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return generic + "<" + strings.Join(parts, ", ") + ">"
}

// Fallthrough is the branch target meaning "the next statement".
const Fallthrough = -1

type Branch struct {
	// Target is a statement index or Fallthrough.
	Target  int
	Results []VarID
}

// Invocation calls a libfunc and continues on one of its branches.
type Invocation struct {
	Libfunc  *LibfuncDeclaration
	Args     []VarID
	Branches []Branch
}

// Statement is either an invocation or a return.
type Statement struct {
	Index      int
	Invocation *Invocation
	Return     []VarID
	Pos        Position
}

// Successors returns the statement indices control may continue at.
func (s *Statement) Successors() []int {
	if s.Invocation == nil {
		return nil
	}
	out := make([]int, len(s.Invocation.Branches))
	for i, b := range s.Invocation.Branches {
		out[i] = s.Index + 1
		if b.Target != Fallthrough {
			out[i] = b.Target
		}
	}
	return out
}

type Param struct {
	Var  VarID
	Type *TypeDeclaration
}

type Function struct {
	ID      string
	Entry   int
	Params  []Param
	Returns []*TypeDeclaration
	Pos     Position
}

// Program is a resolved Sierra program.
type Program struct {
	Types      []*TypeDeclaration
	Libfuncs   []*LibfuncDeclaration
	Statements []*Statement
	Functions  []*Function

	types     map[string]*TypeDeclaration
	libfuncs  map[string]*LibfuncDeclaration
	functions map[string]*Function
}

func (p *Program) Type(id string) (*TypeDeclaration, bool) {
	t, ok := p.types[id]
	return t, ok
}

func (p *Program) Libfunc(id string) (*LibfuncDeclaration, bool) {
	l, ok := p.libfuncs[id]
	return l, ok
}

func (p *Program) Function(id string) (*Function, bool) {
	f, ok := p.functions[id]
	return f, ok
}

// FindType returns the first declared type whose generic name and
// arguments match.
func (p *Program) FindType(generic string, args ...GenericArg) (*TypeDeclaration, bool) {
	want := long(generic, args)
	for _, t := range p.Types {
		if t.Long() == want {
			return t, true
		}
	}
	return nil, false
}

// Main returns the function named `main` or whose path ends in `::main`.
func (p *Program) Main() (*Function, bool) {
	for _, f := range p.Functions {
		if f.ID == "main" || strings.HasSuffix(f.ID, "::main") {
			return f, true
		}
	}
	return nil, false
}
