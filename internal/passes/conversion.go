package passes

import (
	"fmt"

	"sierra2mlir/internal/mlir"
)

const castOp = "builtin.unrealized_conversion_cast"

// rewriter carries the state shared by conversion patterns.
type rewriter struct {
	ctx *mlir.Context
	b   *mlir.Builder
}

func newRewriter(ctx *mlir.Context) *rewriter {
	return &rewriter{ctx: ctx, b: mlir.NewBuilder(ctx)}
}

// convertType maps a type to its LLVM dialect equivalent.
func (r *rewriter) convertType(t mlir.Type) mlir.Type {
	switch t.(type) {
	case *mlir.IndexType:
		return r.ctx.IntegerType(64)
	case *mlir.MemRefType:
		return r.ctx.PointerType()
	}
	return t
}

func (r *rewriter) convertTypes(types []mlir.Type) []mlir.Type {
	out := make([]mlir.Type, len(types))
	for i, t := range types {
		out[i] = r.convertType(t)
	}
	return out
}

// materialize returns v as a value of type want, looking through an
// existing cast or inserting a new one in front of before.
func (r *rewriter) materialize(v *mlir.Value, want mlir.Type, before *mlir.Operation) *mlir.Value {
	if v.Type() == want {
		return v
	}
	if def := v.DefiningOp(); def != nil && def.Name() == castOp && def.NumOperands() == 1 && def.Operand(0).Type() == want {
		return def.Operand(0)
	}
	r.b.SetInsertionPointBefore(before)
	r.b.SetLocation(before.Location())
	return r.b.Value(castOp, want, v)
}

// convertedOperands materializes every operand of op in its converted type.
func (r *rewriter) convertedOperands(op *mlir.Operation) []*mlir.Value {
	operands := op.Operands()
	for i, v := range operands {
		operands[i] = r.materialize(v, r.convertType(v.Type()), op)
	}
	return operands
}

// replace substitutes old's results by values and erases old. Users still
// expecting the original types see a cast back.
func (r *rewriter) replace(old *mlir.Operation, values []*mlir.Value) {
	for i, res := range old.Results() {
		v := values[i]
		if v.Type() != res.Type() && res.HasUses() {
			r.b.SetInsertionPointBefore(old)
			r.b.SetLocation(old.Location())
			v = r.b.Value(castOp, res.Type(), v)
		}
		res.ReplaceAllUsesWith(v)
	}
	old.Erase()
}

// create builds a new operation in front of op, inheriting its location.
func (r *rewriter) create(op *mlir.Operation, state mlir.OperationState) *mlir.Operation {
	r.b.SetInsertionPointBefore(op)
	state.Location = op.Location()
	return r.b.Create(state)
}

// convertBlockArguments retypes the arguments of non-entry blocks. Existing
// users keep seeing the original type through a cast at the block start.
func (r *rewriter) convertBlockArguments(fn *mlir.Operation) {
	for i, blk := range fn.Region(0).Blocks() {
		if i == 0 {
			continue
		}
		for _, arg := range blk.Arguments() {
			old := arg.Type()
			want := r.convertType(old)
			if want == old {
				continue
			}
			arg.SetType(want)
			if !arg.HasUses() {
				continue
			}
			r.b.SetInsertionPointToStart(blk)
			cast := r.b.Value(castOp, old, arg)
			arg.ReplaceUsesExcept(cast, cast.DefiningOp())
		}
	}
}

type pattern func(r *rewriter, op *mlir.Operation) error

// conversion is a pass made of per-operation rewrite patterns applied to
// the flat control flow graph of every llvm.func body.
type conversion struct {
	name        string
	description string
	patterns    map[string]pattern
	prepare     func(r *rewriter, fn *mlir.Operation)
}

func (c *conversion) Name() string        { return c.name }
func (c *conversion) Description() string { return c.description }

func (c *conversion) Run(m *mlir.Module) error {
	r := newRewriter(m.Context())
	for _, fn := range llvmFunctions(m) {
		if c.prepare != nil {
			c.prepare(r, fn)
		}
		for _, op := range flatOps(fn) {
			pat, ok := c.patterns[op.Name()]
			if !ok {
				continue
			}
			if err := pat(r, op); err != nil {
				return fmt.Errorf("%s: failed to legalize '%s': %w", op.Location(), op.Name(), err)
			}
		}
	}
	return nil
}

// oneToOne rewrites op into target with converted operand and result types,
// keeping its attributes. Integer attributes follow the converted type.
func oneToOne(target string) pattern {
	return func(r *rewriter, op *mlir.Operation) error {
		attrs := op.Attributes()
		for name, a := range attrs {
			if ia, ok := a.(*mlir.IntegerAttr); ok && name == "value" {
				attrs[name] = mlir.IntAttr(r.convertType(ia.Type), ia.Value)
			}
		}
		next := r.create(op, mlir.OperationState{
			Name:       target,
			Operands:   r.convertedOperands(op),
			Results:    r.convertTypes(op.ResultTypes()),
			Attributes: attrs,
		})
		r.replace(op, next.Results())
		return nil
	}
}

// integerCast rewrites width conversions into zext/sext/trunc, or into
// nothing when the converted widths match.
func integerCast(extend string) pattern {
	return func(r *rewriter, op *mlir.Operation) error {
		in := r.convertedOperands(op)[0]
		out := r.convertType(op.Result(0).Type())
		inWidth, ok1 := mlir.IntegerWidth(in.Type())
		outWidth, ok2 := mlir.IntegerWidth(out)
		if !ok1 || !ok2 {
			return fmt.Errorf("cannot cast %s to %s", in.Type(), out)
		}
		var name string
		switch {
		case inWidth == outWidth:
			r.replace(op, []*mlir.Value{in})
			return nil
		case inWidth < outWidth:
			name = extend
		default:
			name = "llvm.trunc"
		}
		next := r.create(op, mlir.OperationState{Name: name, Operands: []*mlir.Value{in}, Results: []mlir.Type{out}})
		r.replace(op, next.Results())
		return nil
	}
}

// branch rewrites cf branches, converting forwarded operands to the types
// of the (already converted) destination arguments.
func branch(target string) pattern {
	return func(r *rewriter, op *mlir.Operation) error {
		state := mlir.OperationState{Name: target, Operands: r.convertedOperands(op)}
		for _, s := range op.Successors() {
			args := s.Operands()
			for i, v := range args {
				args[i] = r.materialize(v, s.Block().Argument(i).Type(), op)
			}
			state.Successors = append(state.Successors, mlir.BlockRef{Block: s.Block(), Args: args})
		}
		r.create(op, state)
		op.Erase()
		return nil
	}
}

func newCFToLLVM() *conversion {
	return &conversion{
		name:        ConvertCFToLLVM,
		description: "Lower cf branches to llvm branches",
		prepare:     func(r *rewriter, fn *mlir.Operation) { r.convertBlockArguments(fn) },
		patterns: map[string]pattern{
			"cf.br":      branch("llvm.br"),
			"cf.cond_br": branch("llvm.cond_br"),
		},
	}
}

func newArithToLLVM() *conversion {
	patterns := map[string]pattern{
		"arith.constant":     oneToOne("llvm.mlir.constant"),
		"arith.cmpi":         oneToOne("llvm.icmp"),
		"arith.select":       oneToOne("llvm.select"),
		"arith.extui":        oneToOne("llvm.zext"),
		"arith.extsi":        oneToOne("llvm.sext"),
		"arith.trunci":       oneToOne("llvm.trunc"),
		"arith.index_cast":   integerCast("llvm.sext"),
		"arith.index_castui": integerCast("llvm.zext"),
	}
	targets := map[string]string{
		"addi": "add", "subi": "sub", "muli": "mul",
		"divui": "udiv", "divsi": "sdiv", "remui": "urem", "remsi": "srem",
		"andi": "and", "ori": "or", "xori": "xor",
		"shli": "shl", "shrui": "lshr", "shrsi": "ashr",
	}
	for from, to := range targets {
		patterns["arith."+from] = oneToOne("llvm." + to)
	}
	return &conversion{
		name:        ConvertArithToLLVM,
		description: "Lower arith operations to the llvm dialect",
		patterns:    patterns,
	}
}

func newIndexToLLVM() *conversion {
	return &conversion{
		name:        ConvertIndexToLLVM,
		description: "Lower index operations to 64-bit llvm integer operations",
		patterns: map[string]pattern{
			"index.constant": oneToOne("llvm.mlir.constant"),
			"index.add":      oneToOne("llvm.add"),
			"index.sub":      oneToOne("llvm.sub"),
			"index.mul":      oneToOne("llvm.mul"),
			"index.divu":     oneToOne("llvm.udiv"),
			"index.remu":     oneToOne("llvm.urem"),
			"index.cmp":      oneToOne("llvm.icmp"),
			"index.castu":    integerCast("llvm.zext"),
			"index.casts":    integerCast("llvm.sext"),
		},
	}
}

func newMathToLLVM() *conversion {
	return &conversion{
		name:        ConvertMathToLLVM,
		description: "Lower math intrinsics to llvm intrinsics",
		patterns: map[string]pattern{
			"math.ctlz":  oneToOne("llvm.intr.ctlz"),
			"math.cttz":  oneToOne("llvm.intr.cttz"),
			"math.ctpop": oneToOne("llvm.intr.ctpop"),
			"math.absi":  oneToOne("llvm.intr.abs"),
		},
	}
}
