package passes

import (
	"fmt"
	"math/big"

	"sierra2mlir/internal/mlir"
)

// FuncToLLVM lowers func.func, func.call and func.return to the llvm
// dialect. Functions returning several values return an LLVM struct.
type FuncToLLVM struct{}

func (p *FuncToLLVM) Name() string { return ConvertFuncToLLVM }

func (p *FuncToLLVM) Description() string {
	return "Lower func operations to llvm functions, calls and returns"
}

func (p *FuncToLLVM) Run(m *mlir.Module) error {
	r := newRewriter(m.Context())
	for _, op := range m.Body().Operations() {
		if op.Name() == "func.func" {
			if err := p.convertSignature(r, op); err != nil {
				return err
			}
		}
	}
	for _, fn := range llvmFunctions(m) {
		for _, op := range flatOps(fn) {
			var err error
			switch op.Name() {
			case "func.return":
				err = p.convertReturn(r, op)
			case "func.call":
				err = p.convertCall(r, m, op)
			}
			if err != nil {
				return fmt.Errorf("%s: failed to legalize '%s': %w", op.Location(), op.Name(), err)
			}
		}
	}
	return nil
}

// packedResult returns the single LLVM result type for a result list.
func packedResult(r *rewriter, results []mlir.Type) mlir.Type {
	switch len(results) {
	case 0:
		return r.ctx.VoidType()
	case 1:
		return r.convertType(results[0])
	}
	return r.ctx.StructType(r.convertTypes(results))
}

func (p *FuncToLLVM) convertSignature(r *rewriter, fn *mlir.Operation) error {
	inputs, results, ok := mlir.FunctionSignature(fn)
	if !ok {
		return fmt.Errorf("%s: function '%s' has no signature", fn.Location(), fn.SymbolName())
	}
	attrs := fn.Attributes()
	attrs["function_type"] = &mlir.TypeAttr{Type: r.ctx.LLVMFunctionType(packedResult(r, results), r.convertTypes(inputs))}
	next := r.create(fn, mlir.OperationState{Name: "llvm.func", Attributes: attrs, Regions: 1})
	next.Region(0).TakeBody(fn.Region(0))
	fn.Erase()

	entry := next.Region(0).Entry()
	if entry == nil {
		return nil
	}
	for _, arg := range entry.Arguments() {
		old := arg.Type()
		want := r.convertType(old)
		if want == old {
			continue
		}
		arg.SetType(want)
		if arg.HasUses() {
			r.b.SetInsertionPointToStart(entry)
			cast := r.b.Value(castOp, old, arg)
			arg.ReplaceUsesExcept(cast, cast.DefiningOp())
		}
	}
	return nil
}

func (p *FuncToLLVM) convertReturn(r *rewriter, op *mlir.Operation) error {
	values := r.convertedOperands(op)
	if len(values) > 1 {
		st := r.ctx.StructType(r.convertTypes(op.OperandTypes()))
		packed := r.create(op, mlir.OperationState{Name: "llvm.mlir.undef", Results: []mlir.Type{st}}).Result(0)
		for i, v := range values {
			packed = r.create(op, mlir.OperationState{
				Name:       "llvm.insertvalue",
				Operands:   []*mlir.Value{packed, v},
				Results:    []mlir.Type{st},
				Attributes: map[string]mlir.Attribute{"position": position(r, i)},
			}).Result(0)
		}
		values = []*mlir.Value{packed}
	}
	r.create(op, mlir.OperationState{Name: "llvm.return", Operands: values})
	op.Erase()
	return nil
}

func (p *FuncToLLVM) convertCall(r *rewriter, m *mlir.Module, op *mlir.Operation) error {
	callee := m.Lookup(op.Callee())
	if callee == nil || callee.Name() != "llvm.func" {
		return fmt.Errorf("unknown callee '%s'", op.Callee())
	}
	var resultTypes []mlir.Type
	packed := packedResult(r, op.ResultTypes())
	if _, void := packed.(*mlir.VoidType); !void {
		resultTypes = []mlir.Type{packed}
	}
	call := r.create(op, mlir.OperationState{
		Name:       "llvm.call",
		Operands:   r.convertedOperands(op),
		Results:    resultTypes,
		Attributes: map[string]mlir.Attribute{"callee": &mlir.SymbolRefAttr{Name: op.Callee()}},
	})
	if op.NumResults() <= 1 {
		r.replace(op, call.Results())
		return nil
	}
	st := packed.(*mlir.StructType)
	values := make([]*mlir.Value, op.NumResults())
	for i := range values {
		values[i] = r.create(op, mlir.OperationState{
			Name:       "llvm.extractvalue",
			Operands:   []*mlir.Value{call.Result(0)},
			Results:    []mlir.Type{st.Fields[i]},
			Attributes: map[string]mlir.Attribute{"position": position(r, i)},
		}).Result(0)
	}
	r.replace(op, values)
	return nil
}

func position(r *rewriter, i int) *mlir.IntegerAttr {
	return mlir.IntAttr(r.ctx.IntegerType(64), big.NewInt(int64(i)))
}
