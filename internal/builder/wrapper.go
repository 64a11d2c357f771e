package builder

import (
	"fmt"
	"math/big"

	"sierra2mlir/internal/mlir"
	"sierra2mlir/internal/sierra"
)

// buildWrapper generates the public entry point. It supplies the builtins
// main expects, calls it and returns the non-builtin results, printing
// them first when MainPrint is set.
func (m *moduleBuilder) buildWrapper(main *sierra.Function) error {
	var userTypes []*sierra.TypeDeclaration
	var userIdx []int
	for i, t := range main.Returns {
		if !isBuiltin(t) {
			userTypes = append(userTypes, t)
			userIdx = append(userIdx, i)
		}
	}
	results, err := m.lowerTypes(userTypes)
	if err != nil {
		return &sierra.Error{Pos: main.Pos, Message: err.Error()}
	}

	b := m.b
	b.SetInsertionPointToEnd(m.module.Body())
	b.SetLocation(location(main.Pos))
	if m.opts.MainPrint {
		i32, i64 := m.ctx.IntegerType(32), m.ctx.IntegerType(64)
		b.Create(mlir.OperationState{
			Name:    "func.func",
			Regions: 1,
			Attributes: map[string]mlir.Attribute{
				"sym_name":       &mlir.StringAttr{Value: PrintSymbol},
				"sym_visibility": &mlir.StringAttr{Value: "private"},
				"function_type":  &mlir.TypeAttr{Type: m.ctx.FunctionType([]mlir.Type{i32, i64, i64}, nil)},
			},
		})
	}
	wrapper := b.Create(mlir.OperationState{
		Name:    "func.func",
		Regions: 1,
		Attributes: map[string]mlir.Attribute{
			"sym_name":      &mlir.StringAttr{Value: EntrySymbol},
			"function_type": &mlir.TypeAttr{Type: m.ctx.FunctionType(nil, results)},
		},
	})
	entry := mlir.NewBlock()
	wrapper.Region(0).AppendBlock(entry)
	b.SetInsertionPointToEnd(entry)

	var args []*mlir.Value
	for _, p := range main.Params {
		switch p.Type.Generic {
		case "GasBuiltin":
			args = append(args, b.Constant("arith.constant", m.ctx.IntegerType(gasWidth), m.initialGas()))
		case "RangeCheck":
			args = append(args, b.ConstantInt(m.ctx.IntegerType(rcWidth), 0))
		default:
			return &sierra.Error{
				Pos:     main.Pos,
				Message: fmt.Sprintf("function '%s' takes a '%s' parameter; an entry point may only take builtins", main.ID, p.Type.ID),
			}
		}
	}
	all, err := m.lowerTypes(main.Returns)
	if err != nil {
		return &sierra.Error{Pos: main.Pos, Message: err.Error()}
	}
	callOp := b.Op("func.call", args, all, map[string]mlir.Attribute{
		"callee": &mlir.SymbolRefAttr{Name: m.symbol(main)},
	})
	user := make([]*mlir.Value, len(userIdx))
	for i, idx := range userIdx {
		user[i] = callOp.Result(idx)
	}
	if m.opts.MainPrint {
		m.printResults(b, user)
	}
	b.Op("func.return", user, nil, nil)
	return nil
}

// initialGas is the gas handed to main: the metering budget or, when gas
// is not metered, the largest u128.
func (m *moduleBuilder) initialGas() *big.Int {
	if m.opts.AvailableGas != nil {
		return new(big.Int).SetUint64(*m.opts.AvailableGas)
	}
	limit := new(big.Int).Lsh(big.NewInt(1), gasWidth)
	return limit.Sub(limit, big.NewInt(1))
}

// printResults stores the values as felts in a stack buffer and passes its
// address and length to the runtime print function.
func (m *moduleBuilder) printResults(b *mlir.Builder, values []*mlir.Value) {
	felt := m.ctx.IntegerType(feltWidth)
	i32, i64 := m.ctx.IntegerType(32), m.ctx.IntegerType(64)
	buf := b.Op("memref.alloca", nil, []mlir.Type{m.ctx.MemRefType(max(len(values), 1), felt)}, nil).Result(0)
	for i, v := range values {
		if v.Type() != felt {
			v = b.Value("arith.extui", felt, v)
		}
		idx := b.Constant("index.constant", m.ctx.IndexType(), big.NewInt(int64(i)))
		b.Op("memref.store", []*mlir.Value{v, buf, idx}, nil, nil)
	}
	ptr := b.Value("memref.extract_aligned_pointer_as_index", m.ctx.IndexType(), buf)
	addr := b.Value("index.castu", i64, ptr)
	fd := b.ConstantInt(i32, int64(m.opts.PrintFD))
	n := b.ConstantInt(i64, int64(len(values)))
	b.Op("func.call", []*mlir.Value{fd, addr, n}, nil, map[string]mlir.Attribute{
		"callee": &mlir.SymbolRefAttr{Name: PrintSymbol},
	})
}
