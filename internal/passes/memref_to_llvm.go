package passes

import (
	"fmt"
	"math/big"

	"sierra2mlir/internal/mlir"
)

func newMemRefToLLVM() *conversion {
	return &conversion{
		name:        FinalizeMemRefToLLVM,
		description: "Lower memref allocation and access to llvm pointers",
		patterns: map[string]pattern{
			"memref.alloca":                           lowerAlloca,
			"memref.load":                             lowerMemRefAccess,
			"memref.store":                            lowerMemRefAccess,
			"memref.extract_aligned_pointer_as_index": lowerExtractPointer,
		},
	}
}

func lowerAlloca(r *rewriter, op *mlir.Operation) error {
	mt, ok := op.Result(0).Type().(*mlir.MemRefType)
	if !ok {
		return fmt.Errorf("expected a memref result")
	}
	i64 := r.ctx.IntegerType(64)
	r.b.SetInsertionPointBefore(op)
	r.b.SetLocation(op.Location())
	size := r.b.Constant("llvm.mlir.constant", i64, big.NewInt(int64(mt.Size)))
	ptr := r.create(op, mlir.OperationState{
		Name:       "llvm.alloca",
		Operands:   []*mlir.Value{size},
		Results:    []mlir.Type{r.ctx.PointerType()},
		Attributes: map[string]mlir.Attribute{"elem_type": &mlir.TypeAttr{Type: r.convertType(mt.Elem)}},
	})
	r.replace(op, ptr.Results())
	return nil
}

// lowerMemRefAccess turns memref.load and memref.store into an element
// address computation followed by llvm.load or llvm.store.
func lowerMemRefAccess(r *rewriter, op *mlir.Operation) error {
	store := op.Name() == "memref.store"
	base := 0
	if store {
		base = 1
	}
	mt, ok := op.Operand(base).Type().(*mlir.MemRefType)
	if !ok {
		return fmt.Errorf("expected a memref operand")
	}
	operands := r.convertedOperands(op)
	elem := r.convertType(mt.Elem)
	addr := r.create(op, mlir.OperationState{
		Name:       "llvm.getelementptr",
		Operands:   []*mlir.Value{operands[base], operands[base+1]},
		Results:    []mlir.Type{r.ctx.PointerType()},
		Attributes: map[string]mlir.Attribute{"elem_type": &mlir.TypeAttr{Type: elem}},
	}).Result(0)
	if store {
		r.create(op, mlir.OperationState{Name: "llvm.store", Operands: []*mlir.Value{operands[0], addr}})
		op.Erase()
		return nil
	}
	load := r.create(op, mlir.OperationState{Name: "llvm.load", Operands: []*mlir.Value{addr}, Results: []mlir.Type{elem}})
	r.replace(op, load.Results())
	return nil
}

func lowerExtractPointer(r *rewriter, op *mlir.Operation) error {
	next := r.create(op, mlir.OperationState{
		Name:     "llvm.ptrtoint",
		Operands: r.convertedOperands(op),
		Results:  []mlir.Type{r.ctx.IntegerType(64)},
	})
	r.replace(op, next.Results())
	return nil
}
