package passes

import (
	"math/big"
	"math/bits"

	"sierra2mlir/internal/mlir"
)

// foldKind normalizes the llvm, arith and index spellings of an operation.
var foldKind = map[string]string{
	"llvm.add": "add", "arith.addi": "add", "index.add": "add",
	"llvm.sub": "sub", "arith.subi": "sub", "index.sub": "sub",
	"llvm.mul": "mul", "arith.muli": "mul", "index.mul": "mul",
	"llvm.udiv": "udiv", "arith.divui": "udiv", "index.divu": "udiv",
	"llvm.sdiv": "sdiv", "arith.divsi": "sdiv",
	"llvm.urem": "urem", "arith.remui": "urem", "index.remu": "urem",
	"llvm.srem": "srem", "arith.remsi": "srem",
	"llvm.and": "and", "arith.andi": "and",
	"llvm.or": "or", "arith.ori": "or",
	"llvm.xor": "xor", "arith.xori": "xor",
	"llvm.shl": "shl", "arith.shli": "shl",
	"llvm.lshr": "lshr", "arith.shrui": "lshr",
	"llvm.ashr": "ashr", "arith.shrsi": "ashr",
	"llvm.icmp": "cmp", "arith.cmpi": "cmp", "index.cmp": "cmp",
	"llvm.zext": "zext", "arith.extui": "zext",
	"llvm.sext": "sext", "arith.extsi": "sext",
	"llvm.trunc": "trunc", "arith.trunci": "trunc",
	"llvm.select": "select", "arith.select": "select",
	"llvm.intr.ctlz": "ctlz", "math.ctlz": "ctlz",
	"llvm.intr.cttz": "cttz", "math.cttz": "cttz",
	"llvm.intr.ctpop": "ctpop", "math.ctpop": "ctpop",
	"llvm.intr.abs": "abs", "math.absi": "abs",
}

// folded is the outcome of folding: either a constant or an existing value.
type folded struct {
	constant *big.Int
	value    *mlir.Value
}

// constantOf returns the integer value of v when it is produced by a
// constant operation.
func constantOf(v *mlir.Value) *big.Int {
	if v == nil || v.DefiningOp() == nil {
		return nil
	}
	if a, ok := mlir.IntegerValue(v.DefiningOp()); ok {
		return a.Value
	}
	return nil
}

// fold evaluates op given the known constant values of its operands (nil
// entries are unknown). It only handles single-result integer operations.
func fold(op *mlir.Operation, consts []*big.Int) (folded, bool) {
	kind, ok := foldKind[op.Name()]
	if !ok || op.NumResults() != 1 {
		return folded{}, false
	}
	width, ok := mlir.IntegerWidth(op.Result(0).Type())
	if !ok {
		return folded{}, false
	}
	if f, ok := foldIdentity(kind, op, consts); ok {
		return f, true
	}
	for _, c := range consts {
		if c == nil {
			return folded{}, false
		}
	}
	v, ok := evaluate(kind, op, width, consts)
	if !ok {
		return folded{}, false
	}
	return folded{constant: mlir.Truncate(v, width)}, true
}

func isZero(c *big.Int) bool { return c != nil && c.Sign() == 0 }
func isOne(c *big.Int) bool  { return c != nil && c.IsInt64() && c.Int64() == 1 }

// foldIdentity handles the algebraic identities that need only some
// operands to be constant.
func foldIdentity(kind string, op *mlir.Operation, consts []*big.Int) (folded, bool) {
	switch kind {
	case "add", "or", "xor":
		if isZero(consts[1]) {
			return folded{value: op.Operand(0)}, true
		}
		if isZero(consts[0]) {
			return folded{value: op.Operand(1)}, true
		}
	case "sub", "shl", "lshr", "ashr":
		if isZero(consts[1]) {
			return folded{value: op.Operand(0)}, true
		}
	case "mul":
		if isOne(consts[1]) {
			return folded{value: op.Operand(0)}, true
		}
		if isOne(consts[0]) {
			return folded{value: op.Operand(1)}, true
		}
		if isZero(consts[0]) || isZero(consts[1]) {
			return folded{constant: new(big.Int)}, true
		}
	case "and":
		if isZero(consts[0]) || isZero(consts[1]) {
			return folded{constant: new(big.Int)}, true
		}
	case "udiv", "sdiv":
		if isOne(consts[1]) {
			return folded{value: op.Operand(0)}, true
		}
	case "select":
		if consts[0] != nil {
			if consts[0].Sign() != 0 {
				return folded{value: op.Operand(1)}, true
			}
			return folded{value: op.Operand(2)}, true
		}
		if op.Operand(1) == op.Operand(2) {
			return folded{value: op.Operand(1)}, true
		}
	case "cmp":
		if op.Operand(0) == op.Operand(1) {
			pred, _ := mlir.PredicateOf(op)
			switch pred {
			case mlir.PredEQ, mlir.PredSLE, mlir.PredSGE, mlir.PredULE, mlir.PredUGE:
				return folded{constant: big.NewInt(1)}, true
			default:
				return folded{constant: new(big.Int)}, true
			}
		}
	}
	return folded{}, false
}

func evaluate(kind string, op *mlir.Operation, width int, c []*big.Int) (*big.Int, bool) {
	r := new(big.Int)
	switch kind {
	case "add":
		return r.Add(c[0], c[1]), true
	case "sub":
		return r.Sub(c[0], c[1]), true
	case "mul":
		return r.Mul(c[0], c[1]), true
	case "udiv":
		if c[1].Sign() == 0 {
			return nil, false
		}
		return r.Quo(c[0], c[1]), true
	case "urem":
		if c[1].Sign() == 0 {
			return nil, false
		}
		return r.Rem(c[0], c[1]), true
	case "sdiv", "srem":
		if c[1].Sign() == 0 {
			return nil, false
		}
		a, b := mlir.ToSigned(c[0], width), mlir.ToSigned(c[1], width)
		if kind == "sdiv" {
			return r.Quo(a, b), true
		}
		return r.Rem(a, b), true
	case "and":
		return r.And(c[0], c[1]), true
	case "or":
		return r.Or(c[0], c[1]), true
	case "xor":
		return r.Xor(c[0], c[1]), true
	case "shl", "lshr", "ashr":
		if !c[1].IsInt64() || c[1].Int64() >= int64(width) {
			return nil, false
		}
		n := uint(c[1].Int64())
		switch kind {
		case "shl":
			return r.Lsh(c[0], n), true
		case "lshr":
			return r.Rsh(c[0], n), true
		}
		return r.Rsh(mlir.ToSigned(c[0], width), n), true
	case "cmp":
		inWidth, _ := mlir.IntegerWidth(op.Operand(0).Type())
		pred, ok := mlir.PredicateOf(op)
		if !ok {
			return nil, false
		}
		if compare(pred, c[0], c[1], inWidth) {
			return big.NewInt(1), true
		}
		return r, true
	case "zext", "trunc":
		return r.Set(c[0]), true
	case "sext":
		inWidth, _ := mlir.IntegerWidth(op.Operand(0).Type())
		return mlir.ToSigned(c[0], inWidth), true
	case "select":
		if c[0].Sign() != 0 {
			return r.Set(c[1]), true
		}
		return r.Set(c[2]), true
	case "ctlz":
		return big.NewInt(int64(width - c[0].BitLen())), true
	case "cttz":
		if c[0].Sign() == 0 {
			return big.NewInt(int64(width)), true
		}
		return big.NewInt(int64(c[0].TrailingZeroBits())), true
	case "ctpop":
		n := 0
		for _, w := range c[0].Bits() {
			n += bits.OnesCount(uint(w))
		}
		return big.NewInt(int64(n)), true
	case "abs":
		return r.Abs(mlir.ToSigned(c[0], width)), true
	}
	return nil, false
}

// compare evaluates an integer predicate on unsigned representations.
func compare(pred mlir.Predicate, a, b *big.Int, width int) bool {
	switch pred {
	case mlir.PredEQ:
		return a.Cmp(b) == 0
	case mlir.PredNE:
		return a.Cmp(b) != 0
	case mlir.PredULT:
		return a.Cmp(b) < 0
	case mlir.PredULE:
		return a.Cmp(b) <= 0
	case mlir.PredUGT:
		return a.Cmp(b) > 0
	case mlir.PredUGE:
		return a.Cmp(b) >= 0
	}
	sa, sb := mlir.ToSigned(a, width), mlir.ToSigned(b, width)
	switch pred {
	case mlir.PredSLT:
		return sa.Cmp(sb) < 0
	case mlir.PredSLE:
		return sa.Cmp(sb) <= 0
	case mlir.PredSGT:
		return sa.Cmp(sb) > 0
	case mlir.PredSGE:
		return sa.Cmp(sb) >= 0
	}
	return false
}

// constantPool keeps the constants of a function unique and hoisted to the
// start of the entry block, in order of first appearance.
type constantPool struct {
	b      *mlir.Builder
	fn     *mlir.Operation
	opName string
	byKey  map[string]*mlir.Value
	last   *mlir.Operation
}

func newConstantPool(ctx *mlir.Context, fn *mlir.Operation) *constantPool {
	return &constantPool{
		b:      mlir.NewBuilder(ctx),
		fn:     fn,
		opName: constantOpFor(fn),
		byKey:  make(map[string]*mlir.Value),
	}
}

func constantKey(t mlir.Type, v *big.Int) string {
	return t.String() + ":" + v.String()
}

// hoist moves every constant of the function into the pool, erasing
// duplicates. It reports whether anything changed.
func (p *constantPool) hoist() bool {
	changed := false
	entry := p.fn.Region(0).Entry()
	p.byKey = make(map[string]*mlir.Value)
	p.last = nil
	for _, op := range flatOps(p.fn) {
		a, ok := mlir.IntegerValue(op)
		if !ok || op.Name() != p.opName {
			continue
		}
		key := constantKey(a.Type, a.Value)
		if existing, ok := p.byKey[key]; ok {
			op.Result(0).ReplaceAllUsesWith(existing)
			op.Erase()
			changed = true
			continue
		}
		p.byKey[key] = op.Result(0)
		if p.place(entry, op) {
			changed = true
		}
	}
	return changed
}

// place puts op right after the previously pooled constant and reports
// whether it had to move.
func (p *constantPool) place(entry *mlir.Block, op *mlir.Operation) bool {
	var want *mlir.Operation
	if p.last == nil {
		want = entry.Front()
	} else {
		ops := entry.Operations()
		for i, o := range ops {
			if o == p.last && i+1 < len(ops) {
				want = ops[i+1]
			}
		}
	}
	p.last = op
	if want == op {
		return false
	}
	if want == nil {
		op.MoveToEnd(entry)
	} else {
		op.MoveBefore(want)
	}
	return true
}

// get returns the pooled constant of type t and value v, creating it when
// missing. hoist must have run first.
func (p *constantPool) get(t mlir.Type, v *big.Int, loc mlir.Location) *mlir.Value {
	width, _ := mlir.IntegerWidth(t)
	v = mlir.Truncate(v, width)
	key := constantKey(t, v)
	if existing, ok := p.byKey[key]; ok {
		return existing
	}
	entry := p.fn.Region(0).Entry()
	if p.last == nil {
		p.b.SetInsertionPointToStart(entry)
	} else {
		p.b.SetInsertionPointAfter(p.last)
	}
	p.b.SetLocation(loc)
	c := p.b.Constant(p.opName, t, v)
	p.last = c.DefiningOp()
	p.byKey[key] = c
	return c
}
