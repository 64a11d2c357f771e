package passes

import (
	"fmt"

	"sierra2mlir/internal/mlir"
)

// ReconcileCasts removes the unrealized conversion casts left behind by the
// conversions. Pairs converting a value back to its original type fold
// away; casts without users are erased.
type ReconcileCasts struct{}

func (p *ReconcileCasts) Name() string { return ReconcileUnrealizedCasts }

func (p *ReconcileCasts) Description() string {
	return "Fold and erase unrealized conversion casts"
}

func (p *ReconcileCasts) Run(m *mlir.Module) error {
	isCast := func(op *mlir.Operation) bool { return op.Name() == castOp }
	for changed := true; changed; {
		changed = false
		for _, cast := range m.Operation().Collect(isCast) {
			if cast.Block() == nil {
				continue
			}
			if !cast.HasResultUses() {
				cast.Erase()
				changed = true
				continue
			}
			if cast.NumOperands() != 1 || cast.NumResults() != 1 {
				continue
			}
			in := cast.Operand(0)
			want := cast.Result(0).Type()
			if in.Type() == want {
				cast.Result(0).ReplaceAllUsesWith(in)
				cast.Erase()
				changed = true
				continue
			}
			if def := in.DefiningOp(); def != nil && isCast(def) && def.NumOperands() == 1 && def.Operand(0).Type() == want {
				cast.Result(0).ReplaceAllUsesWith(def.Operand(0))
				cast.Erase()
				changed = true
			}
		}
	}
	if live := m.Operation().Collect(isCast); len(live) > 0 {
		c := live[0]
		return fmt.Errorf("%s: unrealized conversion cast from %s to %s is still live",
			c.Location(), c.Operand(0).Type(), c.Result(0).Type())
	}
	return nil
}
