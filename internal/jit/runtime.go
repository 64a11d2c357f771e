package jit

import (
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
)

// CRunnerUtils and SierraUtils are the base names of the runtime libraries
// the engine knows how to bind.
const (
	CRunnerUtils = "libmlir_c_runner_utils"
	SierraUtils  = "libsierra2mlir_utils"
)

// FeltWidth is the bit width of the values read by sierra2mlir_util_print.
const FeltWidth = 256

// externFunc implements a runtime symbol. Arguments arrive normalized to
// the width of the declared parameter types.
type externFunc func(e *Engine, args []*big.Int) (*big.Int, error)

var runtimes = map[string]map[string]externFunc{
	CRunnerUtils: {
		"printI64":     printI64,
		"printU64":     printU64,
		"printNewline": printText("\n"),
		"printComma":   printText(", "),
		"printOpen":    printText("( "),
		"printClose":   printText(" )"),
	},
	SierraUtils: {
		"sierra2mlir_util_print": utilPrint,
	},
}

// libraryName strips the directory and every extension from a library
// path: /usr/lib/libfoo.so.17 becomes libfoo.
func libraryName(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}

// Exports returns the symbols a runtime library provides, by path.
func Exports(path string) ([]string, bool) {
	syms, ok := runtimes[libraryName(path)]
	if !ok {
		return nil, false
	}
	names := make([]string, 0, len(syms))
	for name := range syms {
		names = append(names, name)
	}
	return names, true
}

func printI64(e *Engine, args []*big.Int) (*big.Int, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("printI64 expects 1 argument, got %d", len(args))
	}
	_, err := fmt.Fprint(e.outputSink(1), toSigned(args[0], 64))
	return nil, err
}

func printU64(e *Engine, args []*big.Int) (*big.Int, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("printU64 expects 1 argument, got %d", len(args))
	}
	_, err := fmt.Fprint(e.outputSink(1), args[0])
	return nil, err
}

func printText(s string) externFunc {
	return func(e *Engine, _ []*big.Int) (*big.Int, error) {
		_, err := fmt.Fprint(e.outputSink(1), s)
		return nil, err
	}
}

// utilPrint reads len felts starting at addr and writes them in decimal,
// one per line, to the file descriptor fd.
func utilPrint(e *Engine, args []*big.Int) (*big.Int, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("sierra2mlir_util_print expects 3 arguments, got %d", len(args))
	}
	fd := int(toSigned(args[0], 32).Int64())
	addr, n := args[1].Uint64(), args[2].Uint64()
	w := e.outputSink(fd)
	size := FeltWidth / 8
	for i := uint64(0); i < n; i++ {
		v, err := e.mem.load(addr+i*uint64(size), size)
		if err != nil {
			return nil, err
		}
		if _, err := fmt.Fprintln(w, v); err != nil {
			return nil, err
		}
	}
	return nil, nil
}
