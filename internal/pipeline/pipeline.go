// Package pipeline defines the ordered pass sequences applied to a module
// before emission.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/tliron/commonlog"

	"sierra2mlir/internal/mlir"
	"sierra2mlir/internal/passes"
)

var log = commonlog.GetLogger("sierra2mlir.pipeline")

// mandatory lowers every dialect to llvm. Each step consumes what the
// previous ones left behind, so the order is part of correctness.
var mandatory = []string{
	passes.ConvertFuncToLLVM,
	passes.ConvertSCFToCF,
	passes.ConvertCFToLLVM,
	passes.ConvertArithToLLVM,
	passes.ConvertIndexToLLVM,
	passes.ConvertMathToLLVM,
	passes.FinalizeMemRefToLLVM,
	passes.ReconcileUnrealizedCasts,
}

var optional = []string{
	passes.Canonicalize,
	passes.Inline,
	passes.SymbolDCE,
	passes.CSE,
	passes.SCCP,
}

// Sequence is an immutable ordered list of pass names. A name appears at
// most once.
type Sequence struct {
	names []string
}

// Mandatory returns the lowering sequence every compilation runs.
func Mandatory() Sequence {
	return Sequence{names: append([]string(nil), mandatory...)}
}

// Optimizations returns the optional optimization passes in order.
func Optimizations() []string {
	return append([]string(nil), optional...)
}

// WithOptimizations returns s followed by the optimization passes when
// enabled, or s unchanged.
func (s Sequence) WithOptimizations(enabled bool) Sequence {
	if !enabled {
		return s
	}
	return Sequence{names: append(append([]string(nil), s.names...), optional...)}
}

// ForCompile is the sequence of ahead-of-time compilation, where
// optimization is up to the caller.
func ForCompile(optimized bool) Sequence {
	return Mandatory().WithOptimizations(optimized)
}

// ForExecute is the sequence of JIT execution, which always optimizes.
func ForExecute() Sequence {
	return Mandatory().WithOptimizations(true)
}

// New builds a sequence from explicit names. Unknown and repeated names are
// rejected.
func New(names ...string) (Sequence, error) {
	known := make(map[string]bool)
	for _, n := range append(append([]string(nil), mandatory...), optional...) {
		known[n] = true
	}
	seen := make(map[string]bool)
	for _, n := range names {
		if !known[n] {
			return Sequence{}, fmt.Errorf("unknown pass '%s'", n)
		}
		if seen[n] {
			return Sequence{}, fmt.Errorf("pass '%s' requested more than once", n)
		}
		seen[n] = true
	}
	return Sequence{names: append([]string(nil), names...)}, nil
}

// Names returns a copy of the pass names in order.
func (s Sequence) Names() []string {
	return append([]string(nil), s.names...)
}

// Len returns the number of passes.
func (s Sequence) Len() int { return len(s.names) }

func phase(name string) string {
	for _, n := range mandatory {
		if n == name {
			return "mandatory"
		}
	}
	return "optional"
}

// Describe renders the plan, one numbered pass per line.
func (s Sequence) Describe() string {
	var b strings.Builder
	for i, name := range s.names {
		fmt.Fprintf(&b, "%2d. %-28s %s\n", i+1, name, phase(name))
	}
	return b.String()
}

// Run resolves every pass through the toolchain registry and applies them
// to m with verification after each pass.
func (s Sequence) Run(ctx *mlir.Context, m *mlir.Module) error {
	pm := mlir.NewPassManager(ctx)
	for _, name := range s.names {
		p, ok := mlir.LookupPass(name)
		if !ok {
			return fmt.Errorf("pass '%s' is not registered", name)
		}
		pm.AddPass(p)
	}
	pm.EnableVerifier(true)
	log.Debugf("running %d passes: %s", len(s.names), strings.Join(s.names, ","))
	return pm.Run(m)
}
