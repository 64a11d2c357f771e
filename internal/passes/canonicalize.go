package passes

import "sierra2mlir/internal/mlir"

// Canonicalizer folds constants, simplifies branches and the control flow
// graph, and removes dead operations until a fixed point is reached.
type Canonicalizer struct{}

func (p *Canonicalizer) Name() string { return Canonicalize }

func (p *Canonicalizer) Description() string {
	return "Fold constants and normalize redundant operation forms"
}

func (p *Canonicalizer) Run(m *mlir.Module) error {
	for _, fn := range functions(m) {
		newSimplifier(m.Context(), fn).run()
	}
	return nil
}
