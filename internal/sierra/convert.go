package sierra

import (
	"fmt"
	"math/big"

	"github.com/alecthomas/participle/v2/lexer"
	"golang.org/x/text/unicode/norm"

	"sierra2mlir/grammar"
)

// Error is a resolution failure tied to a source position.
type Error struct {
	Pos     Position
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Message)
}

func position(p lexer.Position) Position {
	return Position{Filename: p.Filename, Line: p.Line, Column: p.Column}
}

func errorf(p lexer.Position, format string, args ...interface{}) error {
	return &Error{Pos: position(p), Message: fmt.Sprintf(format, args...)}
}

// ParseFile reads, parses and resolves a Sierra program.
func ParseFile(path string) (*Program, error) {
	g, err := grammar.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return Convert(g)
}

// ParseString parses and resolves a Sierra program held in memory.
func ParseString(filename, source string) (*Program, error) {
	g, err := grammar.ParseString(filename, source)
	if err != nil {
		return nil, err
	}
	return Convert(g)
}

// identifier returns the canonical text of an id. Debug names are
// normalized to NFC so that visually equal names resolve to one symbol.
func identifier(id *grammar.Identifier) string {
	return norm.NFC.String(id.String())
}

// Convert resolves every reference in a parsed program.
func Convert(g *grammar.Program) (*Program, error) {
	c := &converter{p: &Program{
		types:     make(map[string]*TypeDeclaration),
		libfuncs:  make(map[string]*LibfuncDeclaration),
		functions: make(map[string]*Function),
	}}
	// Ids are registered before any argument is resolved, so declarations
	// may refer to ones appearing later.
	for _, t := range g.Types {
		id := identifier(t.ID)
		if _, dup := c.p.types[id]; dup {
			return nil, errorf(t.Pos, "type '%s' is declared twice", id)
		}
		decl := &TypeDeclaration{ID: id, Generic: norm.NFC.String(t.Long.Name), Pos: position(t.Pos)}
		c.p.types[id] = decl
		c.p.Types = append(c.p.Types, decl)
	}
	for _, l := range g.Libfuncs {
		id := identifier(l.ID)
		if _, dup := c.p.libfuncs[id]; dup {
			return nil, errorf(l.Pos, "libfunc '%s' is declared twice", id)
		}
		decl := &LibfuncDeclaration{ID: id, Generic: norm.NFC.String(l.Long.Name), Pos: position(l.Pos)}
		c.p.libfuncs[id] = decl
		c.p.Libfuncs = append(c.p.Libfuncs, decl)
	}
	for i, t := range g.Types {
		if t.Long.Numeric != nil {
			return nil, errorf(t.Pos, "type '%s' must name a generic type", c.p.Types[i].ID)
		}
		args, err := c.args(t.Long.Args)
		if err != nil {
			return nil, err
		}
		c.p.Types[i].Args = args
		if len(t.Attributes) > 0 {
			c.p.Types[i].Attributes = make(map[string]string, len(t.Attributes))
			for _, a := range t.Attributes {
				c.p.Types[i].Attributes[a.Key] = a.Value
			}
		}
	}
	for i, l := range g.Libfuncs {
		if l.Long.Numeric != nil {
			return nil, errorf(l.Pos, "libfunc '%s' must name a generic libfunc", c.p.Libfuncs[i].ID)
		}
		args, err := c.args(l.Long.Args)
		if err != nil {
			return nil, err
		}
		c.p.Libfuncs[i].Args = args
	}
	for i, s := range g.Statements {
		stmt, err := c.statement(i, s, len(g.Statements))
		if err != nil {
			return nil, err
		}
		c.p.Statements = append(c.p.Statements, stmt)
	}
	for _, f := range g.Functions {
		fn, err := c.function(f, len(g.Statements))
		if err != nil {
			return nil, err
		}
		c.p.functions[fn.ID] = fn
		c.p.Functions = append(c.p.Functions, fn)
	}
	for _, l := range c.p.Libfuncs {
		for _, a := range l.Args {
			if a.Kind != ArgUserFunc {
				continue
			}
			if _, ok := c.p.functions[a.Name]; !ok {
				return nil, &Error{Pos: l.Pos, Message: fmt.Sprintf("libfunc '%s' refers to unknown function '%s'", l.ID, a.Name)}
			}
		}
	}
	return c.p, nil
}

type converter struct {
	p *Program
}

func (c *converter) args(list []*grammar.GenericArg) ([]GenericArg, error) {
	var out []GenericArg
	for _, a := range list {
		switch {
		case a.UserFunc != "":
			out = append(out, GenericArg{Kind: ArgUserFunc, Name: norm.NFC.String(a.UserFunc)})
		case a.UserType != "":
			out = append(out, GenericArg{Kind: ArgUserType, Name: norm.NFC.String(a.UserType)})
		case a.Value != "":
			v, ok := new(big.Int).SetString(a.Value, 10)
			if !ok {
				return nil, errorf(a.Pos, "invalid integer '%s'", a.Value)
			}
			out = append(out, GenericArg{Kind: ArgValue, Value: v})
		default:
			id := identifier(a.Ref)
			if t, ok := c.p.types[id]; ok {
				out = append(out, GenericArg{Kind: ArgType, Type: t})
			} else if l, ok := c.p.libfuncs[id]; ok {
				out = append(out, GenericArg{Kind: ArgLibfunc, Libfunc: l})
			} else {
				return nil, errorf(a.Pos, "unknown identifier '%s'", id)
			}
		}
	}
	return out, nil
}

func varIDs(vs []*grammar.Var) []VarID {
	out := make([]VarID, len(vs))
	for i, v := range vs {
		out[i] = VarID(v.ID)
	}
	return out
}

func (c *converter) statement(index int, s *grammar.Statement, count int) (*Statement, error) {
	stmt := &Statement{Index: index, Pos: position(s.Pos)}
	if s.Return != nil {
		stmt.Return = varIDs(s.Return.Vars)
		return stmt, nil
	}
	inv := s.Invocation
	id := identifier(inv.Libfunc)
	lib, ok := c.p.libfuncs[id]
	if !ok {
		return nil, errorf(inv.Pos, "statement #%d invokes undeclared libfunc '%s'", index, id)
	}
	stmt.Invocation = &Invocation{Libfunc: lib, Args: varIDs(inv.Args)}
	if inv.Arrow {
		stmt.Invocation.Branches = []Branch{{Target: Fallthrough, Results: varIDs(inv.Results)}}
		return stmt, nil
	}
	for _, br := range inv.Branches {
		b := Branch{Target: Fallthrough, Results: varIDs(br.Results)}
		if !br.Fallthrough {
			if *br.Target >= uint64(count) {
				return nil, errorf(br.Pos, "statement #%d branches to #%d which does not exist", index, *br.Target)
			}
			b.Target = int(*br.Target)
		}
		stmt.Invocation.Branches = append(stmt.Invocation.Branches, b)
	}
	return stmt, nil
}

func (c *converter) function(f *grammar.Function, count int) (*Function, error) {
	name := norm.NFC.String(f.Name)
	if _, dup := c.p.functions[name]; dup {
		return nil, errorf(f.Pos, "function '%s' is declared twice", name)
	}
	if f.Entry >= uint64(count) {
		return nil, errorf(f.Pos, "function '%s' starts at statement #%d which does not exist", name, f.Entry)
	}
	fn := &Function{ID: name, Entry: int(f.Entry), Pos: position(f.Pos)}
	seen := make(map[VarID]bool)
	for _, p := range f.Params {
		v := VarID(p.Var.ID)
		if seen[v] {
			return nil, errorf(p.Var.Pos, "function '%s' declares parameter %s twice", name, v)
		}
		seen[v] = true
		id := identifier(p.Type)
		t, ok := c.p.types[id]
		if !ok {
			return nil, errorf(p.Var.Pos, "function '%s' uses undeclared type '%s'", name, id)
		}
		fn.Params = append(fn.Params, Param{Var: v, Type: t})
	}
	for _, r := range f.Returns {
		id := identifier(r)
		t, ok := c.p.types[id]
		if !ok {
			return nil, errorf(r.Pos, "function '%s' returns undeclared type '%s'", name, id)
		}
		fn.Returns = append(fn.Returns, t)
	}
	return fn, nil
}
