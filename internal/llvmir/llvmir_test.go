package llvmir_test

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sierra2mlir/internal/builder"
	"sierra2mlir/internal/llvmir"
	"sierra2mlir/internal/mlir"
	"sierra2mlir/internal/passes"
	"sierra2mlir/internal/pipeline"
	"sierra2mlir/internal/sierra"
)

func TestMain(m *testing.M) {
	mlir.RegisterAllDialects()
	passes.RegisterAll()
	os.Exit(m.Run())
}

func emit(t *testing.T, name string, opts builder.Options, optimized bool) string {
	t.Helper()
	p, err := sierra.ParseFile("../../testdata/programs/" + name + ".sierra")
	require.NoError(t, err)
	m, err := builder.Build(p, opts)
	require.NoError(t, err)
	require.NoError(t, pipeline.ForCompile(optimized).Run(m.Context(), m))
	out, err := llvmir.Emit(m)
	require.NoError(t, err)
	return out
}

func TestEmitFunctions(t *testing.T) {
	out := emit(t, "branch", builder.Options{}, false)
	assert.Contains(t, out, "define i256 @main()")
	assert.Contains(t, out, `define internal i256 @"branch::branch::main"()`)
	assert.Contains(t, out, `define internal i256 @"branch::branch::double"(i256`)
	assert.Contains(t, out, `call i256 @"branch::branch::main"()`)
	assert.Contains(t, out, `source_filename = "../../testdata/programs/branch.sierra"`)
}

func TestBlockArgumentsBecomePhis(t *testing.T) {
	out := emit(t, "branch", builder.Options{}, false)
	assert.Contains(t, out, "phi i256")
	assert.Contains(t, out, "icmp eq i256")
	assert.Contains(t, out, "br i1")
}

func TestStructReturnsAndMemory(t *testing.T) {
	out := emit(t, "gas", builder.Options{MainPrint: true}, false)
	assert.Contains(t, out, "{ i64, i128, i256 }")
	assert.Contains(t, out, "insertvalue")
	assert.Contains(t, out, "extractvalue")
	assert.Contains(t, out, "alloca i256")
	assert.Contains(t, out, "store i256")
	assert.Contains(t, out, "ptrtoint")
	assert.Contains(t, out, "declare void @sierra2mlir_util_print(")
}

func TestOptimizedOutputDropsDeadFunctions(t *testing.T) {
	out := emit(t, "branch", builder.Options{}, true)
	assert.NotContains(t, out, "branch::branch::unused")
	assert.Contains(t, out, "ret i256 20")
}

const intrinsicModule = `"builtin.module"() ({
^bb0:
  "llvm.func"() ({
  ^bb0(%arg0: i64):
    %0 = "llvm.intr.ctlz"(%arg0) : (i64) -> i64
    %1 = "llvm.intr.ctpop"(%0) : (i64) -> i64
    %2 = "llvm.intr.ctpop"(%1) : (i64) -> i64
    "llvm.return"(%2) : (i64) -> ()
  }) {function_type = !llvm.func<i64 (i64)>, sym_name = "bits"} : () -> ()
}) : () -> ()
`

func TestIntrinsicsAreDeclaredOnce(t *testing.T) {
	m, err := mlir.Parse(mlir.NewContext(), "bits.mlir", intrinsicModule)
	require.NoError(t, err)
	out, err := llvmir.Emit(m)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "declare i64 @llvm.ctpop.i64("))
	assert.Contains(t, out, "call i64 @llvm.ctlz.i64(i64 ")
	assert.Contains(t, out, "i1 false)")
}

func TestRejectsModulesNotLowered(t *testing.T) {
	p, err := sierra.ParseFile("../../testdata/programs/add.sierra")
	require.NoError(t, err)
	m, err := builder.Build(p, builder.Options{})
	require.NoError(t, err)
	_, err = llvmir.Translate(m)
	assert.ErrorContains(t, err, "not fully lowered")
}
