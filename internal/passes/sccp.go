package passes

import (
	"math/big"

	"sierra2mlir/internal/mlir"
)

// SCCPPass propagates constants through operations and block arguments
// along executable control flow edges only, then rewrites the function
// with the discovered constants and simplifies it.
type SCCPPass struct{}

func (p *SCCPPass) Name() string { return SCCP }

func (p *SCCPPass) Description() string {
	return "Sparse conditional constant propagation"
}

func (p *SCCPPass) Run(m *mlir.Module) error {
	for _, fn := range functions(m) {
		s := newSolver(fn)
		s.solve()
		s.rewrite(m.Context())
		cleanup(m.Context(), fn)
	}
	return nil
}

// cleanup alternates simplification and CSE until neither changes the
// function.
func cleanup(ctx *mlir.Context, fn *mlir.Operation) {
	for {
		changed := newSimplifier(ctx, fn).run()
		if !eliminateCommonSubexpressions(fn) && !changed {
			return
		}
	}
}

// lattice is the abstract value of an SSA value. Values missing from the
// solver's map have not been reached yet.
type lattice struct {
	overdefined bool
	constant    *big.Int
}

type solver struct {
	fn         *mlir.Operation
	values     map[*mlir.Value]lattice
	executable map[*mlir.Block]bool
}

func newSolver(fn *mlir.Operation) *solver {
	return &solver{
		fn:         fn,
		values:     make(map[*mlir.Value]lattice),
		executable: make(map[*mlir.Block]bool),
	}
}

// meet lowers v's lattice with l and reports whether it changed.
func (s *solver) meet(v *mlir.Value, l lattice) bool {
	old, seen := s.values[v]
	switch {
	case !seen:
		s.values[v] = l
		return true
	case old.overdefined:
		return false
	case l.overdefined || old.constant.Cmp(l.constant) != 0:
		s.values[v] = lattice{overdefined: true}
		return true
	}
	return false
}

func (s *solver) solve() {
	entry := s.fn.Region(0).Entry()
	s.executable[entry] = true
	for _, arg := range entry.Arguments() {
		s.values[arg] = lattice{overdefined: true}
	}
	for changed := true; changed; {
		changed = false
		for _, blk := range s.fn.Region(0).Blocks() {
			if !s.executable[blk] {
				continue
			}
			for _, op := range blk.Operations() {
				if s.visit(op) {
					changed = true
				}
			}
		}
	}
}

func (s *solver) visit(op *mlir.Operation) bool {
	if op.IsTerminator() {
		return s.visitTerminator(op)
	}
	if a, ok := mlir.IntegerValue(op); ok {
		return s.meet(op.Result(0), lattice{constant: a.Value})
	}
	if !op.IsPure() || op.NumResults() != 1 {
		changed := false
		for _, r := range op.Results() {
			changed = s.meet(r, lattice{overdefined: true}) || changed
		}
		return changed
	}
	consts := make([]*big.Int, op.NumOperands())
	for i, v := range op.Operands() {
		l, seen := s.values[v]
		if !seen {
			return false
		}
		if !l.overdefined {
			consts[i] = l.constant
		}
	}
	if f, ok := fold(op, consts); ok {
		if f.constant != nil {
			return s.meet(op.Result(0), lattice{constant: f.constant})
		}
		if l, seen := s.values[f.value]; seen {
			return s.meet(op.Result(0), l)
		}
		return false
	}
	return s.meet(op.Result(0), lattice{overdefined: true})
}

func (s *solver) visitTerminator(op *mlir.Operation) bool {
	succs := op.Successors()
	if isCondBranch(op) {
		l, seen := s.values[op.Operand(0)]
		if !seen {
			return false
		}
		if !l.overdefined {
			if l.constant.Sign() != 0 {
				succs = succs[:1]
			} else {
				succs = succs[1:]
			}
		}
	}
	changed := false
	for _, succ := range succs {
		if !s.executable[succ.Block()] {
			s.executable[succ.Block()] = true
			changed = true
		}
		for i, v := range succ.Operands() {
			l, seen := s.values[v]
			if !seen {
				continue
			}
			if s.meet(succ.Block().Argument(i), l) {
				changed = true
			}
		}
	}
	return changed
}

// rewrite materializes discovered constants and folds branches whose
// condition is known.
func (s *solver) rewrite(ctx *mlir.Context) {
	pool := newConstantPool(ctx, s.fn)
	pool.hoist()
	b := mlir.NewBuilder(ctx)
	for _, blk := range s.fn.Region(0).Blocks() {
		if !s.executable[blk] {
			continue
		}
		for _, arg := range blk.Arguments() {
			if l, ok := s.values[arg]; ok && !l.overdefined && arg.HasUses() {
				arg.ReplaceAllUsesWith(pool.get(arg.Type(), l.constant, s.fn.Location()))
			}
		}
		for _, op := range blk.Operations() {
			if _, isConst := mlir.IntegerValue(op); isConst || op.NumResults() != 1 || !op.IsPure() {
				continue
			}
			res := op.Result(0)
			if l, ok := s.values[res]; ok && !l.overdefined && res.HasUses() {
				res.ReplaceAllUsesWith(pool.get(res.Type(), l.constant, op.Location()))
			}
		}
		term := blk.Terminator()
		if term == nil || !isCondBranch(term) {
			continue
		}
		if l, ok := s.values[term.Operand(0)]; ok && !l.overdefined {
			taken := term.Successor(1)
			if l.constant.Sign() != 0 {
				taken = term.Successor(0)
			}
			b.SetInsertionPointBefore(term)
			b.SetLocation(term.Location())
			b.Branch(term.Dialect()+".br", taken.Block(), taken.Operands()...)
			term.Erase()
		}
	}
}
