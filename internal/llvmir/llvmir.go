// Package llvmir translates modules lowered to the llvm dialect into LLVM IR
// assembly. Block arguments become phi nodes.
package llvmir

import (
	"fmt"
	"math/big"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"sierra2mlir/internal/mlir"
)

var predicates = map[mlir.Predicate]enum.IPred{
	mlir.PredEQ:  enum.IPredEQ,
	mlir.PredNE:  enum.IPredNE,
	mlir.PredSLT: enum.IPredSLT,
	mlir.PredSLE: enum.IPredSLE,
	mlir.PredSGT: enum.IPredSGT,
	mlir.PredSGE: enum.IPredSGE,
	mlir.PredULT: enum.IPredULT,
	mlir.PredULE: enum.IPredULE,
	mlir.PredUGT: enum.IPredUGT,
	mlir.PredUGE: enum.IPredUGE,
}

type translator struct {
	src        *mlir.Module
	dst        *ir.Module
	funcs      map[string]*ir.Func
	intrinsics map[string]*ir.Func
}

// Emit returns the LLVM assembly of m.
func Emit(m *mlir.Module) (string, error) {
	out, err := Translate(m)
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

// Translate converts m, which must contain only builtin and llvm
// operations, into an LLVM IR module.
func Translate(m *mlir.Module) (*ir.Module, error) {
	if err := mlir.VerifyLegal(m.Operation(), "builtin", "llvm"); err != nil {
		return nil, fmt.Errorf("module is not fully lowered: %w", err)
	}
	t := &translator{
		src:        m,
		dst:        ir.NewModule(),
		funcs:      make(map[string]*ir.Func),
		intrinsics: make(map[string]*ir.Func),
	}
	if loc := m.Operation().Location(); !loc.IsUnknown() {
		t.dst.SourceFilename = loc.File
	}
	for _, sym := range m.Symbols() {
		if sym.Name() != "llvm.func" {
			continue
		}
		if err := t.declare(sym); err != nil {
			return nil, err
		}
	}
	for _, sym := range m.Symbols() {
		if sym.Name() != "llvm.func" || sym.Region(0).Empty() {
			continue
		}
		if err := t.define(sym); err != nil {
			return nil, fmt.Errorf("function '%s': %w", sym.SymbolName(), err)
		}
	}
	return t.dst, nil
}

func (t *translator) typ(ty mlir.Type) (types.Type, error) {
	switch tt := ty.(type) {
	case *mlir.IntegerType:
		return types.NewInt(uint64(tt.Width)), nil
	case *mlir.PointerType:
		return types.I8Ptr, nil
	case *mlir.VoidType:
		return types.Void, nil
	case *mlir.StructType:
		fields := make([]types.Type, len(tt.Fields))
		for i, f := range tt.Fields {
			ft, err := t.typ(f)
			if err != nil {
				return nil, err
			}
			fields[i] = ft
		}
		return types.NewStruct(fields...), nil
	}
	return nil, fmt.Errorf("type %s has no LLVM equivalent", ty)
}

func (t *translator) declare(fn *mlir.Operation) error {
	ft, ok := fn.Attr("function_type").(*mlir.TypeAttr)
	if !ok {
		return fmt.Errorf("function '%s' has no signature", fn.SymbolName())
	}
	sig, ok := ft.Type.(*mlir.LLVMFunctionType)
	if !ok {
		return fmt.Errorf("function '%s' has no llvm signature", fn.SymbolName())
	}
	ret, err := t.typ(sig.Result)
	if err != nil {
		return err
	}
	params := make([]*ir.Param, len(sig.Params))
	for i, p := range sig.Params {
		pt, err := t.typ(p)
		if err != nil {
			return err
		}
		params[i] = ir.NewParam("", pt)
	}
	f := t.dst.NewFunc(fn.SymbolName(), ret, params...)
	if fn.IsPrivate() && !fn.Region(0).Empty() {
		f.Linkage = enum.LinkageInternal
	}
	t.funcs[fn.SymbolName()] = f
	return nil
}

// intrinsic returns the declaration of an overloaded integer intrinsic.
func (t *translator) intrinsic(name string, it *types.IntType, poisonFlag bool) *ir.Func {
	full := fmt.Sprintf("llvm.%s.i%d", name, it.BitSize)
	if f, ok := t.intrinsics[full]; ok {
		return f
	}
	params := []*ir.Param{ir.NewParam("", it)}
	if poisonFlag {
		params = append(params, ir.NewParam("", types.I1))
	}
	f := t.dst.NewFunc(full, it, params...)
	t.intrinsics[full] = f
	return f
}

type phiEdge struct {
	phi   *ir.InstPhi
	value *mlir.Value
	pred  *mlir.Block
}

type funcState struct {
	values map[*mlir.Value]value.Value
	blocks map[*mlir.Block]*ir.Block
	phis   map[*mlir.Block][]*ir.InstPhi
	edges  []phiEdge
}

func (s *funcState) get(v *mlir.Value) (value.Value, error) {
	if x, ok := s.values[v]; ok {
		return x, nil
	}
	return nil, fmt.Errorf("value of type %s is not dominated by its definition", v.Type())
}

func (t *translator) define(fn *mlir.Operation) error {
	f := t.funcs[fn.SymbolName()]
	region := fn.Region(0)
	order := mlir.NewDominanceInfo().ReversePostOrder(region)

	s := &funcState{
		values: make(map[*mlir.Value]value.Value),
		blocks: make(map[*mlir.Block]*ir.Block),
		phis:   make(map[*mlir.Block][]*ir.InstPhi),
	}
	for i, a := range region.Entry().Arguments() {
		s.values[a] = f.Params[i]
	}
	for _, blk := range order {
		lb := f.NewBlock("")
		s.blocks[blk] = lb
		if blk == region.Entry() {
			continue
		}
		for _, a := range blk.Arguments() {
			at, err := t.typ(a.Type())
			if err != nil {
				return err
			}
			phi := &ir.InstPhi{Typ: at}
			lb.Insts = append(lb.Insts, phi)
			s.phis[blk] = append(s.phis[blk], phi)
			s.values[a] = phi
		}
	}
	for _, blk := range order {
		for _, op := range blk.Operations() {
			if err := t.translate(s, s.blocks[blk], blk, op); err != nil {
				return fmt.Errorf("%s: '%s': %w", op.Location(), op.Name(), err)
			}
		}
	}
	for _, e := range s.edges {
		x, err := s.get(e.value)
		if err != nil {
			return err
		}
		e.phi.Incs = append(e.phi.Incs, ir.NewIncoming(x, s.blocks[e.pred]))
	}
	return nil
}

func (t *translator) branchTo(s *funcState, from *mlir.Block, succ *mlir.Successor) *ir.Block {
	for i, v := range succ.Operands() {
		s.edges = append(s.edges, phiEdge{phi: s.phis[succ.Block()][i], value: v, pred: from})
	}
	return s.blocks[succ.Block()]
}

func (t *translator) operands(s *funcState, op *mlir.Operation) ([]value.Value, error) {
	out := make([]value.Value, op.NumOperands())
	for i, v := range op.Operands() {
		x, err := s.get(v)
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return out, nil
}

func intConstant(it *types.IntType, v *big.Int) *constant.Int {
	x := mlir.Truncate(v, int(it.BitSize))
	if it.BitSize > 1 {
		x = mlir.ToSigned(x, int(it.BitSize))
	}
	return &constant.Int{Typ: it, X: x}
}

func elemType(t *translator, op *mlir.Operation) (types.Type, error) {
	a, ok := op.Attr("elem_type").(*mlir.TypeAttr)
	if !ok {
		return nil, fmt.Errorf("missing elem_type")
	}
	return t.typ(a.Type)
}

func (t *translator) translate(s *funcState, lb *ir.Block, blk *mlir.Block, op *mlir.Operation) error {
	in, err := t.operands(s, op)
	if err != nil {
		return err
	}
	var resultType types.Type
	if op.NumResults() == 1 {
		if resultType, err = t.typ(op.Result(0).Type()); err != nil {
			return err
		}
	}

	var out value.Value
	switch op.Name() {
	case "llvm.mlir.constant":
		a, ok := mlir.IntegerValue(op)
		if !ok {
			return fmt.Errorf("missing value attribute")
		}
		it, ok := resultType.(*types.IntType)
		if !ok {
			return fmt.Errorf("non-integer constant")
		}
		out = intConstant(it, a.Value)
	case "llvm.mlir.undef":
		out = constant.NewUndef(resultType)
	case "llvm.add":
		out = lb.NewAdd(in[0], in[1])
	case "llvm.sub":
		out = lb.NewSub(in[0], in[1])
	case "llvm.mul":
		out = lb.NewMul(in[0], in[1])
	case "llvm.udiv":
		out = lb.NewUDiv(in[0], in[1])
	case "llvm.sdiv":
		out = lb.NewSDiv(in[0], in[1])
	case "llvm.urem":
		out = lb.NewURem(in[0], in[1])
	case "llvm.srem":
		out = lb.NewSRem(in[0], in[1])
	case "llvm.and":
		out = lb.NewAnd(in[0], in[1])
	case "llvm.or":
		out = lb.NewOr(in[0], in[1])
	case "llvm.xor":
		out = lb.NewXor(in[0], in[1])
	case "llvm.shl":
		out = lb.NewShl(in[0], in[1])
	case "llvm.lshr":
		out = lb.NewLShr(in[0], in[1])
	case "llvm.ashr":
		out = lb.NewAShr(in[0], in[1])
	case "llvm.icmp":
		pred, ok := mlir.PredicateOf(op)
		if !ok {
			return fmt.Errorf("invalid predicate")
		}
		out = lb.NewICmp(predicates[pred], in[0], in[1])
	case "llvm.select":
		out = lb.NewSelect(in[0], in[1], in[2])
	case "llvm.zext":
		out = lb.NewZExt(in[0], resultType)
	case "llvm.sext":
		out = lb.NewSExt(in[0], resultType)
	case "llvm.trunc":
		out = lb.NewTrunc(in[0], resultType)
	case "llvm.ptrtoint":
		out = lb.NewPtrToInt(in[0], resultType)
	case "llvm.inttoptr":
		out = lb.NewIntToPtr(in[0], resultType)
	case "llvm.intr.ctpop":
		out = lb.NewCall(t.intrinsic("ctpop", resultType.(*types.IntType), false), in[0])
	case "llvm.intr.ctlz", "llvm.intr.cttz", "llvm.intr.abs":
		name := op.Name()[len("llvm.intr."):]
		out = lb.NewCall(t.intrinsic(name, resultType.(*types.IntType), true), in[0], constant.False)
	case "llvm.insertvalue", "llvm.extractvalue":
		pos, ok := mlir.Position(op)
		if !ok {
			return fmt.Errorf("invalid position")
		}
		if op.Name() == "llvm.insertvalue" {
			out = lb.NewInsertValue(in[0], in[1], uint64(pos))
		} else {
			out = lb.NewExtractValue(in[0], uint64(pos))
		}
	case "llvm.alloca":
		elem, err := elemType(t, op)
		if err != nil {
			return err
		}
		a := lb.NewAlloca(elem)
		a.NElems = in[0]
		out = a
	case "llvm.getelementptr":
		elem, err := elemType(t, op)
		if err != nil {
			return err
		}
		out = lb.NewGetElementPtr(elem, in[0], in[1])
	case "llvm.load":
		out = lb.NewLoad(resultType, in[0])
	case "llvm.store":
		lb.NewStore(in[0], in[1])
	case "llvm.call":
		callee, ok := t.funcs[op.Callee()]
		if !ok {
			return fmt.Errorf("unknown callee '%s'", op.Callee())
		}
		out = lb.NewCall(callee, in...)
	case "llvm.return":
		if len(in) == 0 {
			lb.NewRet(nil)
		} else {
			lb.NewRet(in[0])
		}
	case "llvm.br":
		lb.NewBr(t.branchTo(s, blk, op.Successor(0)))
	case "llvm.cond_br":
		then := t.branchTo(s, blk, op.Successor(0))
		otherwise := t.branchTo(s, blk, op.Successor(1))
		lb.NewCondBr(in[0], then, otherwise)
	default:
		return fmt.Errorf("operation has no LLVM IR translation")
	}
	if op.NumResults() == 1 {
		s.values[op.Result(0)] = out
	}
	return nil
}
