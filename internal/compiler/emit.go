package compiler

import (
	"fmt"

	"sierra2mlir/internal/jit"
	"sierra2mlir/internal/llvmir"
	"sierra2mlir/internal/mlir"
)

// Emission selects the artifact a compilation produces: EmitText,
// EmitLLVM or EmitExecutable.
type Emission interface {
	fmt.Stringer
	emission()
}

// EmitText prints the module in the generic operation form.
type EmitText struct {
	DebugInfo bool
}

// EmitLLVM translates the module to LLVM IR assembly.
type EmitLLVM struct{}

// EmitExecutable creates an execution engine. A nil RuntimeLibs is filled
// in from the compiler's RuntimeResolver.
type EmitExecutable struct {
	OptLevel    int
	RuntimeLibs []string
}

func (EmitText) emission()       {}
func (EmitLLVM) emission()       {}
func (EmitExecutable) emission() {}

func (e EmitText) String() string {
	if e.DebugInfo {
		return "text with locations"
	}
	return "text"
}

func (EmitLLVM) String() string { return "llvm ir" }

func (e EmitExecutable) String() string {
	return fmt.Sprintf("executable at O%d", e.OptLevel)
}

type artifact struct {
	text   string
	engine *jit.Engine
}

func emit(m *mlir.Module, mode Emission) (artifact, error) {
	switch mode := mode.(type) {
	case EmitText:
		if mode.DebugInfo {
			return artifact{text: mlir.PrintDebug(m.Operation())}, nil
		}
		return artifact{text: mlir.Print(m.Operation())}, nil
	case EmitLLVM:
		text, err := llvmir.Emit(m)
		if err != nil {
			return artifact{}, fmt.Errorf("%w: %w", ErrEmission, err)
		}
		return artifact{text: text}, nil
	case EmitExecutable:
		engine, err := jit.New(m, mode.OptLevel, mode.RuntimeLibs)
		if err != nil {
			return artifact{}, fmt.Errorf("%w: %w", ErrEmission, err)
		}
		return artifact{engine: engine}, nil
	}
	return artifact{}, fmt.Errorf("%w: unknown emission mode %T", ErrEmission, mode)
}
