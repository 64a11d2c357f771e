package jit

import (
	"fmt"
	"math/big"
	"math/bits"

	"sierra2mlir/internal/mlir"
)

// maxCallDepth bounds recursion of interpreted calls.
const maxCallDepth = 1 << 14

// cell is a runtime value: an integer (pointers included) or a struct.
type cell struct {
	n      *big.Int
	fields []cell
}

func (c *cell) flatten() []*big.Int {
	if c.fields == nil {
		return []*big.Int{c.n}
	}
	var out []*big.Int
	for i := range c.fields {
		out = append(out, c.fields[i].flatten()...)
	}
	return out
}

func width(t mlir.Type) int {
	if _, ok := t.(*mlir.PointerType); ok {
		return 64
	}
	w, _ := mlir.IntegerWidth(t)
	return w
}

func normalize(t mlir.Type, v *big.Int) cell {
	return cell{n: mlir.Truncate(v, width(t))}
}

func zero(t mlir.Type) cell {
	if st, ok := t.(*mlir.StructType); ok {
		c := cell{fields: make([]cell, len(st.Fields))}
		for i, f := range st.Fields {
			c.fields[i] = zero(f)
		}
		return c
	}
	return cell{n: new(big.Int)}
}

func (c cell) clone() cell {
	if c.fields == nil {
		return c
	}
	out := cell{fields: make([]cell, len(c.fields))}
	for i := range c.fields {
		out.fields[i] = c.fields[i].clone()
	}
	return out
}

type frame struct {
	values map[*mlir.Value]cell
}

func (f *frame) get(v *mlir.Value) (cell, error) {
	c, ok := f.values[v]
	if !ok {
		return cell{}, fmt.Errorf("value of type %s used before definition", v.Type())
	}
	return c, nil
}

func (f *frame) ints(op *mlir.Operation) ([]*big.Int, error) {
	out := make([]*big.Int, op.NumOperands())
	for i, v := range op.Operands() {
		c, err := f.get(v)
		if err != nil {
			return nil, err
		}
		out[i] = c.n
	}
	return out, nil
}

// call interprets a defined llvm.func or dispatches to a runtime symbol.
// It returns nil for void functions.
func (e *Engine) call(fn *mlir.Operation, args []cell) (*cell, error) {
	if fn.Region(0).Empty() {
		ext, ok := e.externs[fn.SymbolName()]
		if !ok {
			return nil, fmt.Errorf("unresolved external symbol '%s'", fn.SymbolName())
		}
		ints := make([]*big.Int, len(args))
		for i := range args {
			ints[i] = args[i].n
		}
		r, err := ext(e, ints)
		if err != nil || r == nil {
			return nil, err
		}
		return &cell{n: r}, nil
	}

	e.depth++
	defer func() { e.depth-- }()
	if e.depth > maxCallDepth {
		return nil, fmt.Errorf("call depth exceeds %d", maxCallDepth)
	}
	mark := e.mem.mark()
	defer e.mem.release(mark)

	f := &frame{values: make(map[*mlir.Value]cell)}
	blk := fn.Region(0).Entry()
	for i, a := range blk.Arguments() {
		f.values[a] = args[i]
	}
	for {
		next, nextArgs, ret, done, err := e.runBlock(f, blk)
		if err != nil {
			return nil, err
		}
		if done {
			return ret, nil
		}
		for i, a := range next.Arguments() {
			f.values[a] = nextArgs[i]
		}
		blk = next
	}
}

// runBlock executes the operations of blk. It returns either the successor
// with its arguments or, for llvm.return, the returned value.
func (e *Engine) runBlock(f *frame, blk *mlir.Block) (*mlir.Block, []cell, *cell, bool, error) {
	for _, op := range blk.Operations() {
		switch op.Name() {
		case "llvm.return":
			if op.NumOperands() == 0 {
				return nil, nil, nil, true, nil
			}
			c, err := f.get(op.Operand(0))
			if err != nil {
				return nil, nil, nil, false, err
			}
			return nil, nil, &c, true, nil

		case "llvm.br":
			args, err := successorArgs(f, op.Successor(0))
			return op.Successor(0).Block(), args, nil, false, err

		case "llvm.cond_br":
			cond, err := f.get(op.Operand(0))
			if err != nil {
				return nil, nil, nil, false, err
			}
			s := op.Successor(1)
			if cond.n.Sign() != 0 {
				s = op.Successor(0)
			}
			args, err := successorArgs(f, s)
			return s.Block(), args, nil, false, err

		default:
			if err := e.exec(f, op); err != nil {
				return nil, nil, nil, false, fmt.Errorf("%s: '%s': %w", op.Location(), op.Name(), err)
			}
		}
	}
	return nil, nil, nil, false, fmt.Errorf("block without terminator")
}

func successorArgs(f *frame, s *mlir.Successor) ([]cell, error) {
	vals := s.Operands()
	out := make([]cell, len(vals))
	for i, v := range vals {
		c, err := f.get(v)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

var binaryOps = map[string]bool{
	"llvm.add": true, "llvm.sub": true, "llvm.mul": true,
	"llvm.udiv": true, "llvm.sdiv": true, "llvm.urem": true, "llvm.srem": true,
	"llvm.and": true, "llvm.or": true, "llvm.xor": true,
	"llvm.shl": true, "llvm.lshr": true, "llvm.ashr": true,
}

// exec evaluates a non-terminator operation and records its results.
func (e *Engine) exec(f *frame, op *mlir.Operation) error {
	name := op.Name()
	if binaryOps[name] {
		in, err := f.ints(op)
		if err != nil {
			return err
		}
		r, err := binary(name, width(op.Result(0).Type()), in[0], in[1])
		if err != nil {
			return err
		}
		f.values[op.Result(0)] = cell{n: r}
		return nil
	}

	switch name {
	case "llvm.mlir.constant":
		a, ok := mlir.IntegerValue(op)
		if !ok {
			return fmt.Errorf("missing value attribute")
		}
		f.values[op.Result(0)] = normalize(op.Result(0).Type(), a.Value)

	case "llvm.mlir.undef":
		f.values[op.Result(0)] = zero(op.Result(0).Type())

	case "llvm.icmp":
		in, err := f.ints(op)
		if err != nil {
			return err
		}
		pred, ok := mlir.PredicateOf(op)
		if !ok {
			return fmt.Errorf("invalid predicate")
		}
		r := new(big.Int)
		if compare(pred, in[0], in[1], width(op.Operand(0).Type())) {
			r.SetInt64(1)
		}
		f.values[op.Result(0)] = cell{n: r}

	case "llvm.select":
		cond, err := f.get(op.Operand(0))
		if err != nil {
			return err
		}
		pick := op.Operand(2)
		if cond.n.Sign() != 0 {
			pick = op.Operand(1)
		}
		c, err := f.get(pick)
		if err != nil {
			return err
		}
		f.values[op.Result(0)] = c

	case "llvm.zext", "llvm.trunc", "llvm.ptrtoint", "llvm.inttoptr":
		in, err := f.ints(op)
		if err != nil {
			return err
		}
		f.values[op.Result(0)] = normalize(op.Result(0).Type(), in[0])

	case "llvm.sext":
		in, err := f.ints(op)
		if err != nil {
			return err
		}
		v := toSigned(in[0], width(op.Operand(0).Type()))
		f.values[op.Result(0)] = normalize(op.Result(0).Type(), v)

	case "llvm.intr.ctpop", "llvm.intr.ctlz", "llvm.intr.cttz", "llvm.intr.abs":
		in, err := f.ints(op)
		if err != nil {
			return err
		}
		f.values[op.Result(0)] = cell{n: intrinsic(name, width(op.Operand(0).Type()), in[0])}

	case "llvm.insertvalue":
		agg, err := f.get(op.Operand(0))
		if err != nil {
			return err
		}
		v, err := f.get(op.Operand(1))
		if err != nil {
			return err
		}
		pos, _ := mlir.Position(op)
		out := agg.clone()
		out.fields[pos] = v
		f.values[op.Result(0)] = out

	case "llvm.extractvalue":
		agg, err := f.get(op.Operand(0))
		if err != nil {
			return err
		}
		pos, _ := mlir.Position(op)
		f.values[op.Result(0)] = agg.fields[pos]

	case "llvm.alloca":
		in, err := f.ints(op)
		if err != nil {
			return err
		}
		elem := op.Attr("elem_type").(*mlir.TypeAttr).Type
		addr := e.mem.alloc(int(in[0].Int64()) * mlir.SizeOf(elem))
		f.values[op.Result(0)] = cell{n: new(big.Int).SetUint64(addr)}

	case "llvm.getelementptr":
		in, err := f.ints(op)
		if err != nil {
			return err
		}
		elem := op.Attr("elem_type").(*mlir.TypeAttr).Type
		off := new(big.Int).Mul(toSigned(in[1], width(op.Operand(1).Type())), big.NewInt(int64(mlir.SizeOf(elem))))
		f.values[op.Result(0)] = cell{n: mlir.Truncate(off.Add(off, in[0]), 64)}

	case "llvm.load":
		in, err := f.ints(op)
		if err != nil {
			return err
		}
		t := op.Result(0).Type()
		v, err := e.mem.load(in[0].Uint64(), mlir.SizeOf(t))
		if err != nil {
			return err
		}
		f.values[op.Result(0)] = normalize(t, v)

	case "llvm.store":
		in, err := f.ints(op)
		if err != nil {
			return err
		}
		return e.mem.store(in[1].Uint64(), mlir.SizeOf(op.Operand(0).Type()), in[0])

	case "llvm.call":
		callee := e.module.Lookup(op.Callee())
		if callee == nil {
			return fmt.Errorf("unknown callee '%s'", op.Callee())
		}
		args := make([]cell, op.NumOperands())
		for i, v := range op.Operands() {
			c, err := f.get(v)
			if err != nil {
				return err
			}
			args[i] = c
		}
		r, err := e.call(callee, args)
		if err != nil {
			return err
		}
		if op.NumResults() == 1 {
			if r == nil {
				return fmt.Errorf("callee '%s' returned no value", op.Callee())
			}
			f.values[op.Result(0)] = *r
		}

	default:
		return fmt.Errorf("operation is not supported by the execution engine")
	}
	return nil
}

func binary(name string, w int, a, b *big.Int) (*big.Int, error) {
	r := new(big.Int)
	switch name {
	case "llvm.add":
		r.Add(a, b)
	case "llvm.sub":
		r.Sub(a, b)
	case "llvm.mul":
		r.Mul(a, b)
	case "llvm.udiv", "llvm.urem", "llvm.sdiv", "llvm.srem":
		if b.Sign() == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		switch name {
		case "llvm.udiv":
			r.Quo(a, b)
		case "llvm.urem":
			r.Rem(a, b)
		case "llvm.sdiv":
			r.Quo(toSigned(a, w), toSigned(b, w))
		default:
			r.Rem(toSigned(a, w), toSigned(b, w))
		}
	case "llvm.and":
		r.And(a, b)
	case "llvm.or":
		r.Or(a, b)
	case "llvm.xor":
		r.Xor(a, b)
	case "llvm.shl", "llvm.lshr", "llvm.ashr":
		if !b.IsUint64() || b.Uint64() >= uint64(w) {
			return new(big.Int), nil
		}
		s := uint(b.Uint64())
		switch name {
		case "llvm.shl":
			r.Lsh(a, s)
		case "llvm.lshr":
			r.Rsh(a, s)
		default:
			r.Rsh(toSigned(a, w), s)
		}
	}
	return mlir.Truncate(r, w), nil
}

func compare(pred mlir.Predicate, a, b *big.Int, w int) bool {
	switch pred {
	case mlir.PredSLT, mlir.PredSLE, mlir.PredSGT, mlir.PredSGE:
		a, b = toSigned(a, w), toSigned(b, w)
	}
	c := a.Cmp(b)
	switch pred {
	case mlir.PredEQ:
		return c == 0
	case mlir.PredNE:
		return c != 0
	case mlir.PredSLT, mlir.PredULT:
		return c < 0
	case mlir.PredSLE, mlir.PredULE:
		return c <= 0
	case mlir.PredSGT, mlir.PredUGT:
		return c > 0
	}
	return c >= 0
}

func intrinsic(name string, w int, v *big.Int) *big.Int {
	switch name {
	case "llvm.intr.ctpop":
		n := 0
		for _, word := range v.Bits() {
			n += bits.OnesCount(uint(word))
		}
		return big.NewInt(int64(n))
	case "llvm.intr.ctlz":
		return big.NewInt(int64(w - v.BitLen()))
	case "llvm.intr.cttz":
		if v.Sign() == 0 {
			return big.NewInt(int64(w))
		}
		return big.NewInt(int64(v.TrailingZeroBits()))
	}
	// abs
	s := toSigned(v, w)
	return mlir.Truncate(s.Abs(s), w)
}
