package mlir

import (
	"fmt"
	"strings"
)

// Printer renders operations in the generic textual form.
type Printer struct {
	indent    int
	output    strings.Builder
	debugInfo bool
	names     map[*Value]string
	blocks    map[*Block]string
}

// NewPrinter creates a printer. With debugInfo set every operation is
// followed by its location.
func NewPrinter(debugInfo bool) *Printer {
	return &Printer{
		debugInfo: debugInfo,
		names:     make(map[*Value]string),
		blocks:    make(map[*Block]string),
	}
}

// Print returns the plain textual form of op.
func Print(op *Operation) string {
	p := NewPrinter(false)
	p.nameScope(op)
	p.printOperation(op)
	return p.output.String()
}

// PrintDebug returns the textual form of op annotated with locations.
func PrintDebug(op *Operation) string {
	p := NewPrinter(true)
	p.nameScope(op)
	p.printOperation(op)
	return p.output.String()
}

func (p *Printer) writeIndent() {
	for i := 0; i < p.indent; i++ {
		p.output.WriteString("  ")
	}
}

func (p *Printer) write(format string, args ...interface{}) {
	p.output.WriteString(fmt.Sprintf(format, args...))
}

// nameScope numbers the values and blocks below an isolated operation.
// Entry block arguments of the isolated op's regions are %argN; everything
// else shares one counter so names are unique within the scope.
func (p *Printer) nameScope(op *Operation) {
	counter := 0
	var visit func(o *Operation)
	visit = func(o *Operation) {
		for _, r := range o.regions {
			for bi, b := range r.blocks {
				p.blocks[b] = fmt.Sprintf("^bb%d", bi)
				for ai, a := range b.args {
					if bi == 0 && o == op {
						p.names[a] = fmt.Sprintf("%%arg%d", ai)
						continue
					}
					p.names[a] = fmt.Sprintf("%%%d", counter)
					counter++
				}
				for _, nested := range b.ops {
					if len(nested.results) > 0 {
						base := fmt.Sprintf("%%%d", counter)
						counter++
						for ri, res := range nested.results {
							if len(nested.results) == 1 {
								p.names[res] = base
							} else {
								p.names[res] = fmt.Sprintf("%s#%d", base, ri)
							}
						}
					}
					if nested.def != nil && nested.def.IsolatedFromAbove {
						continue
					}
					visit(nested)
				}
			}
		}
	}
	visit(op)
}

func (p *Printer) valueName(v *Value) string {
	if v == nil {
		return "%<null>"
	}
	if name, ok := p.names[v]; ok {
		return name
	}
	return "%<unknown>"
}

func (p *Printer) printOperation(op *Operation) {
	if op.def != nil && op.def.IsolatedFromAbove {
		p.nameScope(op)
	}
	p.writeIndent()
	if n := len(op.results); n > 0 {
		base := p.valueName(op.results[0])
		if n > 1 {
			base = strings.SplitN(base, "#", 2)[0]
			p.write("%s:%d = ", base, n)
		} else {
			p.write("%s = ", base)
		}
	}
	p.write("%q(", op.name)
	for i, v := range op.Operands() {
		if i > 0 {
			p.write(", ")
		}
		p.write("%s", p.valueName(v))
	}
	p.write(")")
	if len(op.succs) > 0 {
		p.write("[")
		for i, s := range op.succs {
			if i > 0 {
				p.write(", ")
			}
			p.write("%s", p.blocks[s.block])
			if len(s.operands) > 0 {
				p.write("(")
				for j, v := range s.Operands() {
					if j > 0 {
						p.write(", ")
					}
					p.write("%s : %s", p.valueName(v), v.Type())
				}
				p.write(")")
			}
		}
		p.write("]")
	}
	if len(op.regions) > 0 {
		p.write(" (")
		for i, r := range op.regions {
			if i > 0 {
				p.write(", ")
			}
			p.printRegion(r)
		}
		p.write(")")
	}
	if len(op.attrs) > 0 {
		p.write(" {")
		for i, name := range op.AttrNames() {
			if i > 0 {
				p.write(", ")
			}
			if _, unit := op.attrs[name].(*UnitAttr); unit {
				p.write("%s", name)
				continue
			}
			p.write("%s = %s", name, op.attrs[name])
		}
		p.write("}")
	}
	p.write(" : (%s) -> %s", joinTypes(op.OperandTypes()), resultList(op.ResultTypes()))
	if p.debugInfo {
		p.write(" %s", op.loc)
	}
	p.write("\n")
}

func (p *Printer) printRegion(r *Region) {
	p.write("{\n")
	for _, b := range r.blocks {
		p.writeIndent()
		p.write("%s", p.blocks[b])
		if len(b.args) > 0 {
			p.write("(")
			for i, a := range b.args {
				if i > 0 {
					p.write(", ")
				}
				p.write("%s: %s", p.valueName(a), a.Type())
			}
			p.write(")")
		}
		p.write(":\n")
		p.indent++
		for _, op := range b.ops {
			p.printOperation(op)
		}
		p.indent--
	}
	p.writeIndent()
	p.write("}")
}

func resultList(types []Type) string {
	if len(types) == 1 {
		return types[0].String()
	}
	return "(" + joinTypes(types) + ")"
}
