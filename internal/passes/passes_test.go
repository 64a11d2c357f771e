package passes_test

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sierra2mlir/internal/builder"
	"sierra2mlir/internal/mlir"
	"sierra2mlir/internal/passes"
	"sierra2mlir/internal/sierra"
)

func TestMain(m *testing.M) {
	mlir.RegisterAllDialects()
	passes.RegisterAll()
	os.Exit(m.Run())
}

var lowering = []string{
	passes.ConvertFuncToLLVM,
	passes.ConvertSCFToCF,
	passes.ConvertCFToLLVM,
	passes.ConvertArithToLLVM,
	passes.ConvertIndexToLLVM,
	passes.ConvertMathToLLVM,
	passes.FinalizeMemRefToLLVM,
	passes.ReconcileUnrealizedCasts,
}

func fixture(t *testing.T, name string, opts builder.Options) *mlir.Module {
	t.Helper()
	p, err := sierra.ParseFile("../../testdata/programs/" + name + ".sierra")
	require.NoError(t, err)
	m, err := builder.Build(p, opts)
	require.NoError(t, err)
	return m
}

func parse(t *testing.T, src string) *mlir.Module {
	t.Helper()
	m, err := mlir.Parse(mlir.NewContext(), "test.mlir", src)
	require.NoError(t, err)
	require.NoError(t, mlir.Verify(m.Operation()))
	return m
}

func run(t *testing.T, m *mlir.Module, names ...string) {
	t.Helper()
	require.NoError(t, runErr(m, names...), m.String())
}

func runErr(m *mlir.Module, names ...string) error {
	pm := mlir.NewPassManager(m.Context())
	for _, name := range names {
		p, ok := mlir.LookupPass(name)
		if !ok {
			panic("pass not registered: " + name)
		}
		pm.AddPass(p)
	}
	pm.EnableVerifier(true)
	return pm.Run(m)
}

func count(m *mlir.Module, name string) int {
	return len(m.Operation().Collect(func(op *mlir.Operation) bool { return op.Name() == name }))
}

func countPrefix(m *mlir.Module, prefix string) int {
	return len(m.Operation().Collect(func(op *mlir.Operation) bool { return strings.HasPrefix(op.Name(), prefix) }))
}

func TestRegistryHoldsEveryPass(t *testing.T) {
	names := mlir.RegisteredPasses()
	for _, p := range passes.All() {
		assert.Contains(t, names, p.Name())
		assert.NotEmpty(t, p.Description(), p.Name())
	}
	passes.RegisterAll()
	assert.Len(t, mlir.RegisteredPasses(), len(names))
}

func TestMandatoryLoweringReachesLLVM(t *testing.T) {
	gas := uint64(10)
	for _, name := range []string{"add", "branch", "gas", "uint"} {
		t.Run(name, func(t *testing.T) {
			m := fixture(t, name, builder.Options{MainPrint: true, AvailableGas: &gas})
			run(t, m, lowering...)
			assert.NoError(t, mlir.VerifyLegal(m.Operation(), "builtin", "llvm"), m.String())
			assert.Zero(t, count(m, "builtin.unrealized_conversion_cast"))
		})
	}
}

func TestEachConversionClearsItsDialect(t *testing.T) {
	m := fixture(t, "gas", builder.Options{MainPrint: true})
	steps := []struct {
		pass   string
		prefix string
	}{
		{passes.ConvertFuncToLLVM, "func."},
		{passes.ConvertSCFToCF, "scf."},
		{passes.ConvertCFToLLVM, "cf."},
		{passes.ConvertArithToLLVM, "arith."},
		{passes.ConvertIndexToLLVM, "index."},
		{passes.ConvertMathToLLVM, "math."},
		{passes.FinalizeMemRefToLLVM, "memref."},
	}
	for _, step := range steps {
		run(t, m, step.pass)
		assert.Zero(t, countPrefix(m, step.prefix), "%s left %s operations", step.pass, step.prefix)
	}
}

func TestFuncToLLVMPacksResults(t *testing.T) {
	m := fixture(t, "gas", builder.Options{})
	run(t, m, passes.ConvertFuncToLLVM)

	text := m.String()
	assert.Contains(t, text, "!llvm.func<!llvm.struct<(i64, i128, i256)> (i64, i128, i256)>")
	assert.Positive(t, count(m, "llvm.insertvalue"))
	assert.Positive(t, count(m, "llvm.extractvalue"))
	assert.Positive(t, count(m, "llvm.mlir.undef"))
	assert.Zero(t, count(m, "func.func"))

	sum := m.Lookup("gas::gas::sum")
	require.NotNil(t, sum)
	assert.Equal(t, "llvm.func", sum.Name())
	assert.True(t, sum.IsPrivate())
}

func TestSCFToCFFlattensNestedBranches(t *testing.T) {
	m := fixture(t, "add", builder.Options{})
	ifs := count(m, "scf.if")
	require.Positive(t, ifs)
	run(t, m, passes.ConvertFuncToLLVM, passes.ConvertSCFToCF)
	assert.Zero(t, count(m, "scf.if"))
	assert.Zero(t, count(m, "scf.yield"))
	assert.Equal(t, ifs, count(m, "cf.cond_br"))
}

func TestConversionsSkipStructuredRegions(t *testing.T) {
	m := fixture(t, "add", builder.Options{})
	run(t, m, passes.ConvertFuncToLLVM, passes.ConvertArithToLLVM)
	// the arithmetic nested in scf.if branches is out of reach until the
	// branches are flattened
	assert.Positive(t, countPrefix(m, "arith."))
	assert.Error(t, mlir.VerifyLegal(m.Operation(), "builtin", "llvm"))
}

const mathModule = `"builtin.module"() ({
^bb0:
  "llvm.func"() ({
  ^bb0(%arg0: i64):
    %0 = "math.ctpop"(%arg0) : (i64) -> i64
    %1 = "math.ctlz"(%0) : (i64) -> i64
    "llvm.return"(%1) : (i64) -> ()
  }) {function_type = !llvm.func<i64 (i64)>, sym_name = "bits"} : () -> ()
}) : () -> ()
`

func TestMathToLLVM(t *testing.T) {
	m := parse(t, mathModule)
	run(t, m, passes.ConvertMathToLLVM)
	assert.Equal(t, 1, count(m, "llvm.intr.ctpop"))
	assert.Equal(t, 1, count(m, "llvm.intr.ctlz"))
	assert.NoError(t, mlir.VerifyLegal(m.Operation(), "builtin", "llvm"))
}

const liveCastModule = `"builtin.module"() ({
^bb0:
  "llvm.func"() ({
  ^bb0(%arg0: i64):
    %0 = "builtin.unrealized_conversion_cast"(%arg0) : (i64) -> i32
    "llvm.return"(%0) : (i32) -> ()
  }) {function_type = !llvm.func<i32 (i64)>, sym_name = "narrow"} : () -> ()
}) : () -> ()
`

const castPairModule = `"builtin.module"() ({
^bb0:
  "llvm.func"() ({
  ^bb0(%arg0: i64):
    %0 = "builtin.unrealized_conversion_cast"(%arg0) : (i64) -> index
    %1 = "builtin.unrealized_conversion_cast"(%0) : (index) -> i64
    %2 = "builtin.unrealized_conversion_cast"(%arg0) : (i64) -> i32
    "llvm.return"(%1) : (i64) -> ()
  }) {function_type = !llvm.func<i64 (i64)>, sym_name = "same"} : () -> ()
}) : () -> ()
`

func TestReconcileUnrealizedCasts(t *testing.T) {
	m := parse(t, castPairModule)
	run(t, m, passes.ReconcileUnrealizedCasts)
	assert.Zero(t, count(m, "builtin.unrealized_conversion_cast"))
	ret := m.Lookup("same").Region(0).Entry().Terminator()
	assert.True(t, ret.Operand(0).IsBlockArgument())

	live := parse(t, liveCastModule)
	err := runErr(live, passes.ReconcileUnrealizedCasts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrealized conversion cast from i64 to i32 is still live")
}

const foldModule = `"builtin.module"() ({
^bb0:
  "func.func"() ({
  ^bb0(%arg0: i64):
    %0 = "arith.constant"() {value = 2 : i64} : () -> i64
    %1 = "arith.constant"() {value = 3 : i64} : () -> i64
    %2 = "arith.addi"(%0, %1) : (i64, i64) -> i64
    %3 = "arith.constant"() {value = 0 : i64} : () -> i64
    %4 = "arith.addi"(%arg0, %3) : (i64, i64) -> i64
    %5 = "arith.muli"(%4, %2) : (i64, i64) -> i64
    "func.return"(%5) : (i64) -> ()
  }) {function_type = (i64) -> i64, sym_name = "f"} : () -> ()
}) : () -> ()
`

func TestCanonicalizeFoldsConstants(t *testing.T) {
	m := parse(t, foldModule)
	run(t, m, passes.Canonicalize)
	assert.Zero(t, count(m, "arith.addi"))
	assert.Equal(t, 1, count(m, "arith.muli"))
	text := m.String()
	assert.Contains(t, text, "value = 5 : i64")
	assert.NotContains(t, text, "value = 2 : i64")

	mul := m.Operation().Collect(func(op *mlir.Operation) bool { return op.Name() == "arith.muli" })[0]
	assert.True(t, mul.Operand(0).IsBlockArgument())
}

const constantBranchModule = `"builtin.module"() ({
^bb0:
  "func.func"() ({
  ^bb0:
    %0 = "arith.constant"() {value = 1 : i1} : () -> i1
    %1 = "arith.constant"() {value = 7 : i64} : () -> i64
    %2 = "arith.constant"() {value = 9 : i64} : () -> i64
    "cf.cond_br"(%0)[^bb1(%1 : i64), ^bb1(%2 : i64)] : (i1) -> ()
  ^bb1(%arg0: i64):
    "func.return"(%arg0) : (i64) -> ()
  }) {function_type = () -> i64, sym_name = "pick"} : () -> ()
}) : () -> ()
`

func TestCanonicalizeFoldsBranches(t *testing.T) {
	m := parse(t, constantBranchModule)
	run(t, m, passes.Canonicalize)
	assert.Zero(t, count(m, "cf.cond_br"))
	fn := m.Lookup("pick")
	require.Len(t, fn.Region(0).Blocks(), 1)
	text := m.String()
	assert.Contains(t, text, "value = 7 : i64")
	assert.NotContains(t, text, "value = 9 : i64")
}

const loopModule = `"builtin.module"() ({
^bb0:
  "func.func"() ({
  ^bb0:
    %0 = "arith.constant"() {value = 4 : i64} : () -> i64
    "cf.br"()[^bb1(%0 : i64)] : () -> ()
  ^bb1(%arg0: i64):
    %1 = "arith.cmpi"(%arg0, %0) {predicate = 0 : i64} : (i64, i64) -> i1
    "cf.cond_br"(%1)[^bb2, ^bb1(%arg0 : i64)] : (i1) -> ()
  ^bb2:
    "func.return"(%arg0) : (i64) -> ()
  }) {function_type = () -> i64, sym_name = "spin"} : () -> ()
}) : () -> ()
`

func TestSCCPPropagatesThroughLoops(t *testing.T) {
	m := parse(t, loopModule)
	run(t, m, passes.SCCP)
	assert.Zero(t, count(m, "arith.cmpi"))
	assert.Zero(t, count(m, "cf.cond_br"))
	ret := m.Operation().Collect(func(op *mlir.Operation) bool { return op.Name() == "func.return" })
	require.Len(t, ret, 1)
	c, ok := mlir.IntegerValue(ret[0].Operand(0).DefiningOp())
	require.True(t, ok)
	assert.Equal(t, int64(4), c.Value.Int64())
}

const cseModule = `"builtin.module"() ({
^bb0:
  "func.func"() ({
  ^bb0(%arg0: i64, %arg1: i64):
    %0 = "arith.addi"(%arg0, %arg1) : (i64, i64) -> i64
    %1 = "arith.addi"(%arg0, %arg1) : (i64, i64) -> i64
    %2 = "arith.addi"(%arg1, %arg0) : (i64, i64) -> i64
    %3 = "arith.muli"(%0, %1) : (i64, i64) -> i64
    %4 = "arith.muli"(%3, %2) : (i64, i64) -> i64
    "func.return"(%4) : (i64) -> ()
  }) {function_type = (i64, i64) -> i64, sym_name = "square"} : () -> ()
}) : () -> ()
`

func TestCSE(t *testing.T) {
	m := parse(t, cseModule)
	run(t, m, passes.CSE)
	// operand order is part of the expression
	assert.Equal(t, 2, count(m, "arith.addi"))
	mul := m.Operation().Collect(func(op *mlir.Operation) bool { return op.Name() == "arith.muli" })[0]
	assert.Same(t, mul.Operand(0), mul.Operand(1))
}

const callModule = `"builtin.module"() ({
^bb0:
  "func.func"() ({
  ^bb0(%arg0: i64):
    %0 = "arith.addi"(%arg0, %arg0) : (i64, i64) -> i64
    "func.return"(%0) : (i64) -> ()
  }) {function_type = (i64) -> i64, sym_name = "double", sym_visibility = "private"} : () -> ()
  "func.func"() ({
  ^bb0(%arg0: i64):
    %0 = "func.call"(%arg0) {callee = @double} : (i64) -> i64
    %1 = "func.call"(%0) {callee = @double} : (i64) -> i64
    "func.return"(%1) : (i64) -> ()
  }) {function_type = (i64) -> i64, sym_name = "quadruple"} : () -> ()
}) : () -> ()
`

func TestInlineThenSymbolDCE(t *testing.T) {
	m := parse(t, callModule)
	run(t, m, passes.Inline)
	assert.Zero(t, count(m, "func.call"))
	assert.Zero(t, count(m, "func.br"))
	assert.Positive(t, count(m, "cf.br"))
	assert.Equal(t, 3, count(m, "arith.addi"))
	require.NoError(t, mlir.Verify(m.Operation()))
	require.NotNil(t, m.Lookup("double"))

	run(t, m, passes.SymbolDCE)
	assert.Nil(t, m.Lookup("double"))
	assert.NotNil(t, m.Lookup("quadruple"))
}

func TestInlineKeepsRecursiveCalls(t *testing.T) {
	m := fixture(t, "gas", builder.Options{})
	run(t, m, passes.Inline)
	calls := m.Operation().Collect(func(op *mlir.Operation) bool { return op.Name() == "func.call" })
	require.NotEmpty(t, calls)
	for _, c := range calls {
		assert.Equal(t, "gas::gas::sum", c.Callee())
	}
}

func TestSymbolDCEKeepsReachableSymbols(t *testing.T) {
	m := fixture(t, "branch", builder.Options{MainPrint: true})
	run(t, m, passes.SymbolDCE)
	assert.Nil(t, m.Lookup("branch::branch::unused"))
	assert.NotNil(t, m.Lookup("branch::branch::double"))
	assert.NotNil(t, m.Lookup("branch::branch::main"))
	assert.NotNil(t, m.Lookup(builder.PrintSymbol))
	assert.NotNil(t, m.Lookup(builder.EntrySymbol))
}

func TestOptimizationsAreIdempotent(t *testing.T) {
	optimizations := []string{passes.Canonicalize, passes.Inline, passes.SymbolDCE, passes.CSE, passes.SCCP}
	for _, name := range []string{"add", "branch", "gas", "uint"} {
		t.Run(name, func(t *testing.T) {
			m := fixture(t, name, builder.Options{MainPrint: true})
			run(t, m, append(append([]string(nil), lowering...), optimizations...)...)
			once := m.String()
			run(t, m, optimizations...)
			assert.Equal(t, once, m.String())
		})
	}
}

func TestOptimizedAddFoldsToConstant(t *testing.T) {
	m := fixture(t, "add", builder.Options{})
	run(t, m, append(append([]string(nil), lowering...),
		passes.Canonicalize, passes.Inline, passes.SymbolDCE, passes.CSE, passes.SCCP)...)
	assert.Nil(t, m.Lookup("add::add::main"))
	entry := m.Lookup(builder.EntrySymbol)
	require.NotNil(t, entry)
	ret := entry.Collect(func(op *mlir.Operation) bool { return op.Name() == "llvm.return" })
	require.Len(t, ret, 1)
	c, ok := mlir.IntegerValue(ret[0].Operand(0).DefiningOp())
	require.True(t, ok)
	assert.Equal(t, int64(3), c.Value.Int64())
}
