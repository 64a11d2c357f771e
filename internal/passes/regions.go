package passes

import (
	"math/big"

	"sierra2mlir/internal/mlir"
)

// simplifier runs the canonical cleanup of a function body: constant
// folding, branch folding, CFG simplification and dead code removal, until
// nothing changes.
type simplifier struct {
	ctx  *mlir.Context
	b    *mlir.Builder
	fn   *mlir.Operation
	pool *constantPool
}

func newSimplifier(ctx *mlir.Context, fn *mlir.Operation) *simplifier {
	return &simplifier{ctx: ctx, b: mlir.NewBuilder(ctx), fn: fn, pool: newConstantPool(ctx, fn)}
}

// run iterates to a fixed point and reports whether anything changed.
func (s *simplifier) run() bool {
	changed := false
	for {
		step := s.pool.hoist()
		step = s.foldOperations() || step
		step = s.foldBranches() || step
		step = s.eraseUnreachableBlocks() || step
		step = s.mergeBlocks() || step
		step = s.forwardUniformArguments() || step
		step = s.eraseDeadArguments() || step
		step = s.eraseDeadOps() || step
		if !step {
			return changed
		}
		changed = true
	}
}

func (s *simplifier) foldOperations() bool {
	changed := false
	for _, op := range flatOps(s.fn) {
		if op.Block() == nil || !op.IsPure() || op.NumResults() != 1 {
			continue
		}
		if _, isConst := mlir.IntegerValue(op); isConst {
			continue
		}
		consts := make([]*big.Int, op.NumOperands())
		for i, v := range op.Operands() {
			consts[i] = constantOf(v)
		}
		f, ok := fold(op, consts)
		if !ok {
			continue
		}
		res := op.Result(0)
		if f.value != nil {
			if f.value == res {
				continue
			}
			res.ReplaceAllUsesWith(f.value)
		} else {
			res.ReplaceAllUsesWith(s.pool.get(res.Type(), f.constant, op.Location()))
		}
		op.Erase()
		changed = true
	}
	return changed
}

// replaceWithBranch swaps a terminator for an unconditional branch of the
// same dialect.
func (s *simplifier) replaceWithBranch(term *mlir.Operation, dest *mlir.Block, args []*mlir.Value) {
	s.b.SetInsertionPointBefore(term)
	s.b.SetLocation(term.Location())
	s.b.Branch(term.Dialect()+".br", dest, args...)
	term.Erase()
}

func sameValues(a, b []*mlir.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *simplifier) foldBranches() bool {
	changed := false
	for _, blk := range s.fn.Region(0).Blocks() {
		term := blk.Terminator()
		if term == nil || !isCondBranch(term) {
			continue
		}
		t, f := term.Successor(0), term.Successor(1)
		if c := constantOf(term.Operand(0)); c != nil {
			taken := f
			if c.Sign() != 0 {
				taken = t
			}
			s.replaceWithBranch(term, taken.Block(), taken.Operands())
			changed = true
			continue
		}
		if t.Block() == f.Block() && sameValues(t.Operands(), f.Operands()) {
			s.replaceWithBranch(term, t.Block(), t.Operands())
			changed = true
		}
	}
	return changed
}

func (s *simplifier) eraseUnreachableBlocks() bool {
	region := s.fn.Region(0)
	reachable := make(map[*mlir.Block]bool)
	var visit func(b *mlir.Block)
	visit = func(b *mlir.Block) {
		reachable[b] = true
		for _, succ := range b.Successors() {
			if !reachable[succ] {
				visit(succ)
			}
		}
	}
	visit(region.Entry())
	var dead []*mlir.Block
	for _, b := range region.Blocks() {
		if !reachable[b] {
			dead = append(dead, b)
		}
	}
	for _, b := range dead {
		b.Erase()
	}
	return len(dead) > 0
}

// mergeBlocks folds a block into its only predecessor when that predecessor
// ends in an unconditional branch to it.
func (s *simplifier) mergeBlocks() bool {
	changed := false
	region := s.fn.Region(0)
	for _, blk := range region.Blocks() {
		if blk == region.Entry() || blk.Parent() == nil {
			continue
		}
		preds := blk.Predecessors()
		if len(preds) != 1 || preds[0] == blk {
			continue
		}
		pred := preds[0]
		term := pred.Terminator()
		if term == nil || !isBranch(term) {
			continue
		}
		for i, arg := range blk.Arguments() {
			arg.ReplaceAllUsesWith(term.Successor(0).Operands()[i])
		}
		term.Erase()
		for _, op := range blk.Operations() {
			op.MoveToEnd(pred)
		}
		blk.Erase()
		changed = true
	}
	return changed
}

// incoming returns, per predecessor edge, the values forwarded to blk.
func incoming(blk *mlir.Block) [][]*mlir.Value {
	var edges [][]*mlir.Value
	for _, pred := range uniqueBlocks(blk.Predecessors()) {
		for _, succ := range pred.Terminator().Successors() {
			if succ.Block() == blk {
				edges = append(edges, succ.Operands())
			}
		}
	}
	return edges
}

func uniqueBlocks(blocks []*mlir.Block) []*mlir.Block {
	seen := make(map[*mlir.Block]bool)
	var out []*mlir.Block
	for _, b := range blocks {
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}

// forwardUniformArguments replaces block arguments that receive the same
// value on every edge by that value.
func (s *simplifier) forwardUniformArguments() bool {
	changed := false
	region := s.fn.Region(0)
	for _, blk := range region.Blocks() {
		if blk == region.Entry() {
			continue
		}
		edges := incoming(blk)
		if len(edges) == 0 {
			continue
		}
		for i, arg := range blk.Arguments() {
			if !arg.HasUses() {
				continue
			}
			var v *mlir.Value
			uniform := true
			for _, e := range edges {
				in := e[i]
				if in == arg {
					continue
				}
				if v == nil {
					v = in
				} else if v != in {
					uniform = false
					break
				}
			}
			if uniform && v != nil {
				arg.ReplaceAllUsesWith(v)
				changed = true
			}
		}
	}
	return changed
}

func (s *simplifier) eraseDeadArguments() bool {
	changed := false
	region := s.fn.Region(0)
	for _, blk := range region.Blocks() {
		if blk == region.Entry() {
			continue
		}
		for i := blk.NumArguments() - 1; i >= 0; i-- {
			if blk.Argument(i).HasUses() {
				continue
			}
			for _, pred := range uniqueBlocks(blk.Predecessors()) {
				term := pred.Terminator()
				for si, succ := range term.Successors() {
					if succ.Block() == blk {
						term.EraseSuccessorOperand(si, i)
					}
				}
			}
			blk.EraseArgument(i)
			changed = true
		}
	}
	return changed
}

// eraseDeadOps removes pure operations whose results are unused.
func (s *simplifier) eraseDeadOps() bool {
	changed := false
	for again := true; again; {
		again = false
		ops := flatOps(s.fn)
		for i := len(ops) - 1; i >= 0; i-- {
			op := ops[i]
			if op.Block() == nil || !op.IsPure() || op.HasResultUses() || op.NumRegions() > 0 {
				continue
			}
			op.Erase()
			again, changed = true, true
		}
	}
	return changed
}
