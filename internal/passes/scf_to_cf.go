package passes

import (
	"fmt"

	"sierra2mlir/internal/mlir"
)

// SCFToCF flattens structured scf.if operations into cf branches. Values
// yielded by the branches become arguments of the continuation block.
type SCFToCF struct{}

func (p *SCFToCF) Name() string { return ConvertSCFToCF }

func (p *SCFToCF) Description() string {
	return "Lower structured control flow to a control flow graph"
}

func (p *SCFToCF) Run(m *mlir.Module) error {
	r := newRewriter(m.Context())
	for _, fn := range functions(m) {
		// lowering an scf.if exposes the ones nested in its branches
		for {
			var pending *mlir.Operation
			for _, op := range flatOps(fn) {
				if op.Name() == "scf.if" {
					pending = op
					break
				}
			}
			if pending == nil {
				break
			}
			if err := p.lowerIf(r, pending); err != nil {
				return fmt.Errorf("%s: failed to legalize 'scf.if': %w", pending.Location(), err)
			}
		}
	}
	return nil
}

func (p *SCFToCF) lowerIf(r *rewriter, op *mlir.Operation) error {
	blk := op.Block()
	region := blk.Parent()
	ops := blk.Operations()
	var next *mlir.Operation
	for i, o := range ops {
		if o == op && i+1 < len(ops) {
			next = ops[i+1]
		}
	}
	if next == nil {
		return fmt.Errorf("scf.if must not end a block")
	}
	cont := blk.SplitBefore(next)
	for i, res := range op.Results() {
		res.ReplaceAllUsesWith(cont.AddArgument(op.Result(i).Type()))
	}

	after := blk
	var entries []*mlir.Block
	for _, branch := range op.Regions() {
		moved := branch.MoveBlocksAfter(region, after)
		if len(moved) == 0 {
			return fmt.Errorf("scf.if branch without a block")
		}
		entries = append(entries, moved[0])
		for _, b := range moved {
			y := b.Terminator()
			if y == nil || y.Name() != "scf.yield" {
				continue
			}
			r.b.SetInsertionPointBefore(y)
			r.b.SetLocation(y.Location())
			r.b.Branch("cf.br", cont, y.Operands()...)
			y.Erase()
		}
		after = moved[len(moved)-1]
	}

	r.b.SetInsertionPointToEnd(blk)
	r.b.SetLocation(op.Location())
	r.b.CondBranch("cf.cond_br", op.Operand(0), entries[0], nil, entries[1], nil)
	op.Erase()
	return nil
}
