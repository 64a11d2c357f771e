// Package jit executes fully lowered modules. The engine interprets the
// llvm dialect directly and binds external declarations to the runtime
// libraries it was given.
package jit

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"sync"

	"github.com/tliron/commonlog"

	"sierra2mlir/internal/mlir"
)

var log = commonlog.GetLogger("sierra2mlir.jit")

// MaxOptLevel is the highest accepted optimization level.
const MaxOptLevel = 3

// ErrClosed is returned by Invoke after Close.
var ErrClosed = errors.New("execution engine is closed")

// Engine owns a lowered module together with its context. It is safe for
// concurrent use; invocations are serialized.
type Engine struct {
	mu       sync.Mutex
	ctx      *mlir.Context
	module   *mlir.Module
	optLevel int
	libs     []string
	externs  map[string]externFunc
	outputs  map[int]io.Writer
	mem      *memory
	depth    int
	closed   bool
}

// New creates an engine for module. optLevel must be in [0, MaxOptLevel]
// and every library must exist. Each external llvm.func declaration must
// be exported by one of the libraries.
func New(module *mlir.Module, optLevel int, libs []string) (*Engine, error) {
	if optLevel < 0 || optLevel > MaxOptLevel {
		return nil, fmt.Errorf("invalid optimization level %d (expected 0-%d)", optLevel, MaxOptLevel)
	}
	if err := mlir.VerifyLegal(module.Operation(), "builtin", "llvm"); err != nil {
		return nil, fmt.Errorf("module is not fully lowered: %w", err)
	}

	available := make(map[string]externFunc)
	for _, lib := range libs {
		if _, err := os.Stat(lib); err != nil {
			return nil, fmt.Errorf("runtime library: %w", err)
		}
		syms, ok := runtimes[libraryName(lib)]
		if !ok {
			return nil, fmt.Errorf("runtime library '%s' is not supported", lib)
		}
		for name, fn := range syms {
			available[name] = fn
		}
		log.Debugf("loaded runtime library %s", lib)
	}

	e := &Engine{
		ctx:      module.Context(),
		module:   module,
		optLevel: optLevel,
		libs:     append([]string(nil), libs...),
		externs:  make(map[string]externFunc),
		outputs:  make(map[int]io.Writer),
		mem:      newMemory(),
	}
	for _, sym := range module.Symbols() {
		if sym.Name() != "llvm.func" || !sym.Region(0).Empty() {
			continue
		}
		fn, ok := available[sym.SymbolName()]
		if !ok {
			return nil, fmt.Errorf("unresolved external symbol '%s'", sym.SymbolName())
		}
		e.externs[sym.SymbolName()] = fn
	}
	return e, nil
}

// WithOutput routes writes to file descriptor fd to w. Descriptors 1 and 2
// default to the process stdout and stderr.
func (e *Engine) WithOutput(fd int, w io.Writer) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outputs[fd] = w
	return e
}

func (e *Engine) outputSink(fd int) io.Writer {
	if w, ok := e.outputs[fd]; ok {
		return w
	}
	switch fd {
	case 1:
		return os.Stdout
	case 2:
		return os.Stderr
	}
	return io.Discard
}

// Module returns the executed module.
func (e *Engine) Module() *mlir.Module { return e.module }

// Context returns the context owning the module.
func (e *Engine) Context() *mlir.Context { return e.ctx }

// OptLevel returns the optimization level the engine was created with.
func (e *Engine) OptLevel() int { return e.optLevel }

// Libraries returns the runtime library paths.
func (e *Engine) Libraries() []string { return append([]string(nil), e.libs...) }

// Lookup reports whether name is a function defined by the module.
func (e *Engine) Lookup(name string) bool {
	fn := e.module.Lookup(name)
	return fn != nil && fn.Name() == "llvm.func" && !fn.Region(0).Empty()
}

// Invoke runs the function name with integer arguments. A function
// returning a struct yields one value per field; a void function yields
// none. Pointers are returned as addresses.
func (e *Engine) Invoke(name string, args ...*big.Int) ([]*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	fn := e.module.Lookup(name)
	if fn == nil || fn.Name() != "llvm.func" || fn.Region(0).Empty() {
		return nil, fmt.Errorf("function '%s' is not defined", name)
	}
	params := fn.Region(0).Entry().ArgumentTypes()
	if len(args) != len(params) {
		return nil, fmt.Errorf("function '%s' takes %d arguments, got %d", name, len(params), len(args))
	}
	in := make([]cell, len(args))
	for i, a := range args {
		in[i] = normalize(params[i], a)
	}

	mark := e.mem.mark()
	defer e.mem.release(mark)
	out, err := e.call(fn, in)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if out == nil {
		return nil, nil
	}
	return out.flatten(), nil
}

// Close releases the module. Later invocations fail.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.mem = newMemory()
	return nil
}

func toSigned(v *big.Int, width int) *big.Int {
	return mlir.ToSigned(mlir.Truncate(v, width), width)
}
