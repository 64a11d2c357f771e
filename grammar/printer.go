package grammar

import (
	"fmt"
	"strings"
)

func (p *Program) String() string {
	var b strings.Builder
	for _, t := range p.Types {
		b.WriteString(t.String() + "\n")
	}
	if len(p.Types) > 0 {
		b.WriteString("\n")
	}
	for _, l := range p.Libfuncs {
		b.WriteString(l.String() + "\n")
	}
	if len(p.Libfuncs) > 0 {
		b.WriteString("\n")
	}
	for _, s := range p.Statements {
		b.WriteString(s.String() + "\n")
	}
	if len(p.Statements) > 0 {
		b.WriteString("\n")
	}
	for _, f := range p.Functions {
		b.WriteString(f.String() + "\n")
	}
	return b.String()
}

func (id *Identifier) String() string {
	if id.Numeric != nil {
		return fmt.Sprintf("[%d]", *id.Numeric)
	}
	if len(id.Args) == 0 {
		return id.Name
	}
	var args []string
	for _, a := range id.Args {
		args = append(args, a.String())
	}
	return fmt.Sprintf("%s<%s>", id.Name, strings.Join(args, ", "))
}

func (a *GenericArg) String() string {
	switch {
	case a.UserFunc != "":
		return "user@" + a.UserFunc
	case a.UserType != "":
		return "ut@" + a.UserType
	case a.Value != "":
		return a.Value
	case a.Ref != nil:
		return a.Ref.String()
	}
	return ""
}

func (t *TypeDeclaration) String() string {
	s := fmt.Sprintf("type %s = %s", t.ID, t.Long)
	if len(t.Attributes) > 0 {
		var attrs []string
		for _, a := range t.Attributes {
			attrs = append(attrs, a.Key+": "+a.Value)
		}
		s += " [" + strings.Join(attrs, ", ") + "]"
	}
	return s + ";"
}

func (l *LibfuncDeclaration) String() string {
	return fmt.Sprintf("libfunc %s = %s;", l.ID, l.Long)
}

func vars(vs []*Var) string {
	var parts []string
	for _, v := range vs {
		parts = append(parts, v.String())
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (v *Var) String() string {
	return fmt.Sprintf("[%d]", v.ID)
}

func (s *Statement) String() string {
	if s.Return != nil {
		return "return" + vars(s.Return.Vars) + ";"
	}
	return s.Invocation.String()
}

func (i *Invocation) String() string {
	head := i.Libfunc.String() + vars(i.Args)
	if i.Arrow {
		return head + " -> " + vars(i.Results) + ";"
	}
	var branches []string
	for _, br := range i.Branches {
		branches = append(branches, br.String())
	}
	return head + " { " + strings.Join(branches, " ") + " };"
}

func (br *Branch) String() string {
	if br.Fallthrough {
		return "fallthrough" + vars(br.Results)
	}
	return fmt.Sprintf("%d%s", *br.Target, vars(br.Results))
}

func (f *Function) String() string {
	var params []string
	for _, p := range f.Params {
		params = append(params, fmt.Sprintf("%s: %s", p.Var, p.Type))
	}
	var rets []string
	for _, r := range f.Returns {
		rets = append(rets, r.String())
	}
	return fmt.Sprintf("%s@%d(%s) -> (%s);", f.Name, f.Entry, strings.Join(params, ", "), strings.Join(rets, ", "))
}
