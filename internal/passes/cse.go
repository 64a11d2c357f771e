package passes

import (
	"fmt"
	"strings"

	"sierra2mlir/internal/mlir"
)

// CSEPass eliminates pure operations recomputing a value already available
// in a dominating position.
type CSEPass struct{}

func (p *CSEPass) Name() string { return CSE }

func (p *CSEPass) Description() string {
	return "Eliminate common subexpressions"
}

func (p *CSEPass) Run(m *mlir.Module) error {
	for _, fn := range functions(m) {
		eliminateCommonSubexpressions(fn)
	}
	return nil
}

// expressionKey identifies a pure operation by name, operands, attributes
// and result types.
func expressionKey(op *mlir.Operation) string {
	var b strings.Builder
	b.WriteString(op.Name())
	for _, v := range op.Operands() {
		fmt.Fprintf(&b, "|%p", v)
	}
	for _, name := range op.AttrNames() {
		fmt.Fprintf(&b, "|%s=%s", name, op.Attr(name))
	}
	for _, t := range op.ResultTypes() {
		fmt.Fprintf(&b, "|%s", t)
	}
	return b.String()
}

// eliminateCommonSubexpressions walks the dominator tree keeping a scoped
// table of available expressions. It reports whether anything changed.
func eliminateCommonSubexpressions(fn *mlir.Operation) bool {
	region := fn.Region(0)
	if region.Empty() {
		return false
	}
	dom := mlir.NewDominanceInfo()
	available := make(map[string]*mlir.Operation)
	changed := false

	var visit func(b *mlir.Block)
	visit = func(b *mlir.Block) {
		var added []string
		for _, op := range b.Operations() {
			if !op.IsPure() || op.NumResults() == 0 || op.NumRegions() > 0 {
				continue
			}
			key := expressionKey(op)
			if existing, ok := available[key]; ok {
				op.ReplaceAllUsesWith(existing.Results())
				op.Erase()
				changed = true
				continue
			}
			available[key] = op
			added = append(added, key)
		}
		for _, child := range dom.Children(b) {
			visit(child)
		}
		for _, key := range added {
			delete(available, key)
		}
	}
	visit(region.Entry())
	return changed
}
