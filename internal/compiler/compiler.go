// Package compiler drives a Sierra program through module construction,
// the pass pipeline, the verifier gate and artifact emission.
package compiler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"sierra2mlir/internal/builder"
	"sierra2mlir/internal/jit"
	"sierra2mlir/internal/mlir"
	"sierra2mlir/internal/passes"
	"sierra2mlir/internal/pipeline"
	"sierra2mlir/internal/sierra"
)

var log = commonlog.GetLogger("sierra2mlir.compiler")

var (
	ErrConstruction = errors.New("module construction failed")
	ErrPipeline     = errors.New("pass pipeline failed")
	ErrVerification = errors.New("module verification failed")
	ErrEmission     = errors.New("artifact emission failed")
)

// ExecutionOptLevel is the optimization level executable artifacts are
// created with.
const ExecutionOptLevel = 2

var initOnce sync.Once

// InitializeToolchain registers every dialect and pass. It is safe to call
// more than once and from several goroutines.
func InitializeToolchain() {
	initOnce.Do(func() {
		mlir.RegisterAllDialects()
		passes.RegisterAll()
		log.Debugf("registered %d passes", len(mlir.RegisteredPasses()))
	})
}

// ModuleBuilder constructs the initial module of a program.
type ModuleBuilder interface {
	Build(program *sierra.Program, opts builder.Options) (*mlir.Module, error)
}

// RuntimeResolver locates the runtime libraries an executable artifact
// binds to.
type RuntimeResolver interface {
	Resolve() ([]string, error)
}

// CompileOptions control Compile and CompileLLVM.
type CompileOptions struct {
	// Optimized appends the optimization passes to the lowering passes.
	Optimized bool
	// DebugInfo annotates every operation with its source location.
	DebugInfo bool

	MainPrint    bool
	PrintFD      int
	AvailableGas *uint64
}

// ExecuteOptions control Execute. Execution always runs the optimization
// passes.
type ExecuteOptions struct {
	MainPrint    bool
	PrintFD      int
	AvailableGas *uint64
}

// Compiler holds the collaborators of a compilation. The zero value is not
// usable; use New.
type Compiler struct {
	Builder ModuleBuilder
	Runtime RuntimeResolver
}

// New returns a compiler using the Sierra module builder and the runtime
// libraries of the installed toolchain.
func New() *Compiler {
	return &Compiler{Builder: builder.Builder{}, Runtime: ToolchainRuntime{}}
}

// Compile lowers program and returns the module text.
func Compile(program *sierra.Program, opts CompileOptions) (string, error) {
	return New().Compile(program, opts)
}

// Execute lowers program and returns an engine ready to invoke it.
func Execute(program *sierra.Program, opts ExecuteOptions) (*jit.Engine, error) {
	return New().Execute(program, opts)
}

// CompileLLVM lowers program and returns it as LLVM IR assembly.
func CompileLLVM(program *sierra.Program, opts CompileOptions) (string, error) {
	return New().CompileLLVM(program, opts)
}

// Compile lowers program with c's collaborators and returns the module text.
func (c *Compiler) Compile(program *sierra.Program, opts CompileOptions) (string, error) {
	art, err := c.run(program, opts.build(), pipeline.ForCompile(opts.Optimized), EmitText{DebugInfo: opts.DebugInfo})
	if err != nil {
		return "", err
	}
	return art.text, nil
}

// CompileLLVM is Compile with LLVM IR output.
func (c *Compiler) CompileLLVM(program *sierra.Program, opts CompileOptions) (string, error) {
	art, err := c.run(program, opts.build(), pipeline.ForCompile(opts.Optimized), EmitLLVM{})
	if err != nil {
		return "", err
	}
	return art.text, nil
}

// Execute lowers program with every optimization and binds it to the runtime
// libraries c resolves.
func (c *Compiler) Execute(program *sierra.Program, opts ExecuteOptions) (*jit.Engine, error) {
	build := builder.Options{MainPrint: opts.MainPrint, PrintFD: opts.PrintFD, AvailableGas: opts.AvailableGas}
	art, err := c.run(program, build, pipeline.ForExecute(), EmitExecutable{OptLevel: ExecutionOptLevel})
	if err != nil {
		return nil, err
	}
	return art.engine, nil
}

func (o CompileOptions) build() builder.Options {
	return builder.Options{MainPrint: o.MainPrint, PrintFD: o.PrintFD, AvailableGas: o.AvailableGas}
}

// run is the single path every entry point takes. It returns either a
// complete artifact or exactly one error.
func (c *Compiler) run(program *sierra.Program, opts builder.Options, seq pipeline.Sequence, mode Emission) (artifact, error) {
	InitializeToolchain()
	id := callID()
	start := time.Now()

	m, err := c.Builder.Build(program, opts)
	if err != nil {
		return artifact{}, fmt.Errorf("%w: %w", ErrConstruction, err)
	}
	if m == nil {
		return artifact{}, fmt.Errorf("%w: builder returned no module", ErrConstruction)
	}
	if log.AllowLevel(commonlog.Debug) {
		log.Debugf("[%s] built module:\n%s", id, mlir.Print(m.Operation()))
	}

	if err := seq.Run(m.Context(), m); err != nil {
		return artifact{}, fmt.Errorf("%w: %w", ErrPipeline, err)
	}
	log.Debugf("[%s] ran %d passes in %s", id, seq.Len(), time.Since(start))

	if !verified(m) {
		return artifact{}, ErrVerification
	}

	if e, ok := mode.(EmitExecutable); ok && e.RuntimeLibs == nil {
		libs, err := c.Runtime.Resolve()
		if err != nil {
			return artifact{}, fmt.Errorf("%w: %w", ErrEmission, err)
		}
		e.RuntimeLibs = libs
		mode = e
	}
	art, err := emit(m, mode)
	if err != nil {
		return artifact{}, err
	}
	log.Infof("[%s] emitted %s in %s", id, mode, time.Since(start))
	return art, nil
}

func callID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
