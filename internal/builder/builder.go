// Package builder constructs the initial multi-dialect module of a Sierra
// program. Sierra statements become func/cf/scf/arith operations, variable
// environments at merge points become block arguments.
package builder

import (
	"fmt"

	"github.com/tliron/commonlog"

	"sierra2mlir/internal/mlir"
	"sierra2mlir/internal/sierra"
)

var log = commonlog.GetLogger("sierra2mlir.builder")

// PrintSymbol is the runtime function the entry wrapper reports results
// through when MainPrint is set.
const PrintSymbol = "sierra2mlir_util_print"

// EntrySymbol names the generated entry wrapper.
const EntrySymbol = "main"

// Options are the run options forwarded by the compiler.
type Options struct {
	// MainPrint makes the entry wrapper print the user results of main.
	MainPrint bool
	// PrintFD is the file descriptor the results are printed to.
	PrintFD int
	// AvailableGas enables gas metering with the given budget. Without it
	// every withdraw_gas succeeds.
	AvailableGas *uint64
}

// Builder constructs modules. The zero value is ready to use.
type Builder struct{}

// Build implements the module construction step of the compiler.
func (Builder) Build(program *sierra.Program, opts Options) (*mlir.Module, error) {
	return Build(program, opts)
}

type moduleBuilder struct {
	ctx     *mlir.Context
	program *sierra.Program
	opts    Options
	module  *mlir.Module
	b       *mlir.Builder

	typeCache    map[*sierra.TypeDeclaration]mlir.Type
	libfuncCache map[*sierra.LibfuncDeclaration]*signature
	symbols      map[*sierra.Function]string
	funcs        map[*sierra.Function]*mlir.Operation
}

// Build creates a fresh context and lowers program into a module owned by
// it.
func Build(program *sierra.Program, opts Options) (*mlir.Module, error) {
	ctx := mlir.NewContext()
	m := &moduleBuilder{
		ctx:          ctx,
		program:      program,
		opts:         opts,
		b:            mlir.NewBuilder(ctx),
		typeCache:    make(map[*sierra.TypeDeclaration]mlir.Type),
		libfuncCache: make(map[*sierra.LibfuncDeclaration]*signature),
		symbols:      make(map[*sierra.Function]string),
		funcs:        make(map[*sierra.Function]*mlir.Operation),
	}
	m.module = mlir.NewModule(ctx, m.moduleLocation())
	if err := m.build(); err != nil {
		return nil, err
	}
	log.Debugf("built module with %d symbols", len(m.module.Symbols()))
	return m.module, nil
}

func (m *moduleBuilder) moduleLocation() mlir.Location {
	switch {
	case len(m.program.Functions) > 0:
		return mlir.FileLineCol(m.program.Functions[0].Pos.Filename, 1, 1)
	case len(m.program.Statements) > 0:
		return mlir.FileLineCol(m.program.Statements[0].Pos.Filename, 1, 1)
	}
	return mlir.UnknownLoc
}

func location(p sierra.Position) mlir.Location {
	return mlir.FileLineCol(p.Filename, p.Line, p.Column)
}

func (m *moduleBuilder) lowerTypes(ts []*sierra.TypeDeclaration) ([]mlir.Type, error) {
	out := make([]mlir.Type, len(ts))
	for i, t := range ts {
		lt, err := m.lowerType(t)
		if err != nil {
			return nil, err
		}
		out[i] = lt
	}
	return out, nil
}

// symbol returns the module symbol of a user function.
func (m *moduleBuilder) symbol(fn *sierra.Function) string {
	return m.symbols[fn]
}

func (m *moduleBuilder) build() error {
	main, wrapped := m.program.Main()
	for _, fn := range m.program.Functions {
		name := fn.ID
		if wrapped && name == EntrySymbol {
			name = "user::" + name
		}
		m.symbols[fn] = name
	}

	// Declare every function first so calls resolve regardless of order.
	m.b.SetInsertionPointToEnd(m.module.Body())
	for _, fn := range m.program.Functions {
		op, err := m.declare(fn, wrapped)
		if err != nil {
			return err
		}
		m.funcs[fn] = op
	}
	for _, fn := range m.program.Functions {
		fb := newFunctionBuilder(m, fn, m.funcs[fn])
		if err := fb.build(); err != nil {
			return err
		}
	}
	if wrapped {
		return m.buildWrapper(main)
	}
	return nil
}

func (m *moduleBuilder) declare(fn *sierra.Function, private bool) (*mlir.Operation, error) {
	var params []*sierra.TypeDeclaration
	for _, p := range fn.Params {
		params = append(params, p.Type)
	}
	inputs, err := m.lowerTypes(params)
	if err != nil {
		return nil, &sierra.Error{Pos: fn.Pos, Message: fmt.Sprintf("function '%s': %s", fn.ID, err)}
	}
	results, err := m.lowerTypes(fn.Returns)
	if err != nil {
		return nil, &sierra.Error{Pos: fn.Pos, Message: fmt.Sprintf("function '%s': %s", fn.ID, err)}
	}
	attrs := map[string]mlir.Attribute{
		"sym_name":      &mlir.StringAttr{Value: m.symbols[fn]},
		"function_type": &mlir.TypeAttr{Type: m.ctx.FunctionType(inputs, results)},
	}
	if private {
		attrs["sym_visibility"] = &mlir.StringAttr{Value: "private"}
	}
	m.b.SetLocation(location(fn.Pos))
	return m.b.Create(mlir.OperationState{Name: "func.func", Regions: 1, Attributes: attrs}), nil
}
