package passes

import "sierra2mlir/internal/mlir"

// SymbolDCEPass erases private symbols that no public symbol reaches.
type SymbolDCEPass struct{}

func (p *SymbolDCEPass) Name() string { return SymbolDCE }

func (p *SymbolDCEPass) Description() string {
	return "Erase unreferenced private symbols"
}

func (p *SymbolDCEPass) Run(m *mlir.Module) error {
	live := make(map[string]bool)
	var worklist []*mlir.Operation
	for _, sym := range m.Symbols() {
		if !sym.IsPrivate() {
			live[sym.SymbolName()] = true
			worklist = append(worklist, sym)
		}
	}
	for len(worklist) > 0 {
		sym := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		for _, name := range referencedSymbols(sym) {
			if live[name] {
				continue
			}
			live[name] = true
			if target := m.Lookup(name); target != nil {
				worklist = append(worklist, target)
			}
		}
	}
	for _, sym := range m.Symbols() {
		if !live[sym.SymbolName()] {
			sym.Erase()
		}
	}
	return nil
}

// referencedSymbols lists the symbol references nested in op.
func referencedSymbols(op *mlir.Operation) []string {
	var names []string
	op.Walk(func(o *mlir.Operation) {
		for _, name := range o.AttrNames() {
			if ref, ok := o.Attr(name).(*mlir.SymbolRefAttr); ok {
				names = append(names, ref.Name)
			}
		}
	})
	return names
}
