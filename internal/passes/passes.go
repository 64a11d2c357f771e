// Package passes holds the dialect conversions and optimizations run by the
// compilation pipeline.
package passes

import (
	"sync"

	"sierra2mlir/internal/mlir"
)

const (
	ConvertFuncToLLVM        = "convert-func-to-llvm"
	ConvertSCFToCF           = "convert-scf-to-cf"
	ConvertCFToLLVM          = "convert-cf-to-llvm"
	ConvertArithToLLVM       = "convert-arith-to-llvm"
	ConvertIndexToLLVM       = "convert-index-to-llvm"
	ConvertMathToLLVM        = "convert-math-to-llvm"
	FinalizeMemRefToLLVM     = "finalize-memref-to-llvm"
	ReconcileUnrealizedCasts = "reconcile-unrealized-casts"

	Canonicalize = "canonicalize"
	Inline       = "inline"
	SymbolDCE    = "symbol-dce"
	CSE          = "cse"
	SCCP         = "sccp"
)

var registerOnce sync.Once

// All returns a fresh instance of every pass in this package.
func All() []mlir.Pass {
	return []mlir.Pass{
		&FuncToLLVM{},
		&SCFToCF{},
		newCFToLLVM(),
		newArithToLLVM(),
		newIndexToLLVM(),
		newMathToLLVM(),
		newMemRefToLLVM(),
		&ReconcileCasts{},
		&Canonicalizer{},
		&Inliner{},
		&SymbolDCEPass{},
		&CSEPass{},
		&SCCPPass{},
	}
}

// RegisterAll registers the passes with the toolchain registry. It is safe to
// call repeatedly.
func RegisterAll() {
	registerOnce.Do(func() {
		for _, p := range All() {
			mlir.RegisterPass(p)
		}
	})
}

// functions returns the function-like operations with a body, in module
// order.
func functions(m *mlir.Module) []*mlir.Operation {
	var fns []*mlir.Operation
	for _, op := range m.Body().Operations() {
		switch op.Name() {
		case "func.func", "llvm.func":
			if op.NumRegions() == 1 && !op.Region(0).Empty() {
				fns = append(fns, op)
			}
		}
	}
	return fns
}

// llvmFunctions returns the defined llvm.func operations.
func llvmFunctions(m *mlir.Module) []*mlir.Operation {
	var fns []*mlir.Operation
	for _, fn := range functions(m) {
		if fn.Name() == "llvm.func" {
			fns = append(fns, fn)
		}
	}
	return fns
}

// flatOps returns the operations placed directly in the blocks of fn's body.
// Operations nested in structured regions are not included.
func flatOps(fn *mlir.Operation) []*mlir.Operation {
	var ops []*mlir.Operation
	for _, b := range fn.Region(0).Blocks() {
		ops = append(ops, b.Operations()...)
	}
	return ops
}

func isBranch(op *mlir.Operation) bool {
	return op.Name() == "cf.br" || op.Name() == "llvm.br"
}

func isCondBranch(op *mlir.Operation) bool {
	return op.Name() == "cf.cond_br" || op.Name() == "llvm.cond_br"
}

func isCall(op *mlir.Operation) bool {
	return op.Name() == "func.call" || op.Name() == "llvm.call"
}

func isReturn(op *mlir.Operation) bool {
	return op.Name() == "func.return" || op.Name() == "llvm.return"
}

// constantOpFor returns the constant operation used inside fn.
func constantOpFor(fn *mlir.Operation) string {
	if fn.Name() == "llvm.func" {
		return "llvm.mlir.constant"
	}
	return "arith.constant"
}
