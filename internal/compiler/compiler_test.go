package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tliron/commonlog"
	"github.com/tliron/commonlog/simple"

	"sierra2mlir/internal/builder"
	"sierra2mlir/internal/jit"
	"sierra2mlir/internal/mlir"
	"sierra2mlir/internal/pipeline"
	"sierra2mlir/internal/sierra"
)

func TestMain(m *testing.M) {
	InitializeToolchain()
	os.Exit(m.Run())
}

var fixtures = []string{"add", "branch", "gas", "uint"}

func program(t *testing.T, name string) *sierra.Program {
	t.Helper()
	p, err := sierra.ParseFile("../../testdata/programs/" + name + ".sierra")
	require.NoError(t, err)
	return p
}

// testRuntime creates empty files named like the runtime libraries.
func testRuntime(t *testing.T) StaticRuntime {
	t.Helper()
	dir := t.TempDir()
	var libs StaticRuntime
	for _, name := range []string{jit.CRunnerUtils + ".so", jit.SierraUtils + ".so"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, nil, 0o644))
		libs = append(libs, p)
	}
	return libs
}

func testCompiler(t *testing.T) *Compiler {
	return &Compiler{Builder: builder.Builder{}, Runtime: testRuntime(t)}
}

func TestInitializeToolchainIsIdempotent(t *testing.T) {
	before := mlir.RegisteredPasses()
	InitializeToolchain()
	InitializeToolchain()
	assert.Equal(t, before, mlir.RegisteredPasses())
	for _, name := range pipeline.ForExecute().Names() {
		_, ok := mlir.LookupPass(name)
		assert.True(t, ok, name)
	}
}

func TestCompileOutputParsesBack(t *testing.T) {
	for _, name := range fixtures {
		for _, optimized := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s/optimized=%t", name, optimized), func(t *testing.T) {
				var text string
				require.NotPanics(t, func() {
					var err error
					text, err = Compile(program(t, name), CompileOptions{Optimized: optimized})
					require.NoError(t, err)
				})
				require.NotEmpty(t, text)
				m, err := mlir.Parse(mlir.NewContext(), name+".mlir", text)
				require.NoError(t, err)
				assert.NoError(t, mlir.Verify(m.Operation()))
				assert.NoError(t, mlir.VerifyLegal(m.Operation(), LoweredDialects...))
			})
		}
	}
}

func TestSwappedLoweringOrderFailsVerification(t *testing.T) {
	names := pipeline.Mandatory().Names()
	names[1], names[6] = names[6], names[1]
	seq, err := pipeline.New(names...)
	require.NoError(t, err)

	c := testCompiler(t)
	art, err := c.run(program(t, "add"), builder.Options{}, seq, EmitText{})
	assert.ErrorIs(t, err, ErrVerification)
	assert.Empty(t, art.text)

	art, err = c.run(program(t, "add"), builder.Options{}, pipeline.Mandatory(), EmitText{})
	require.NoError(t, err)
	assert.NotEmpty(t, art.text)
}

func TestOptimizationsAreIdempotent(t *testing.T) {
	again, err := pipeline.New(pipeline.Optimizations()...)
	require.NoError(t, err)
	for _, name := range fixtures {
		t.Run(name, func(t *testing.T) {
			m, err := builder.Build(program(t, name), builder.Options{})
			require.NoError(t, err)
			require.NoError(t, pipeline.ForCompile(true).Run(m.Context(), m))
			once := mlir.Print(m.Operation())
			require.NoError(t, again.Run(m.Context(), m))
			assert.Equal(t, once, mlir.Print(m.Operation()))
		})
	}
}

func TestExecuteAlwaysOptimizes(t *testing.T) {
	for _, name := range pipeline.Optimizations() {
		assert.Contains(t, pipeline.ForExecute().Names(), name)
	}

	e, err := testCompiler(t).Execute(program(t, "branch"), ExecuteOptions{})
	require.NoError(t, err)
	defer e.Close()
	assert.Nil(t, e.Module().Lookup("branch::branch::unused"))
	assert.Equal(t, ExecutionOptLevel, e.OptLevel())

	out, err := e.Invoke(builder.EntrySymbol)
	require.NoError(t, err)
	assert.Equal(t, "20", out[0].String())
}

func TestOptimizedOutputDropsDeadSymbols(t *testing.T) {
	plain, err := Compile(program(t, "branch"), CompileOptions{})
	require.NoError(t, err)
	assert.Contains(t, plain, `"branch::branch::unused"`)

	optimized, err := Compile(program(t, "branch"), CompileOptions{Optimized: true})
	require.NoError(t, err)
	assert.NotContains(t, optimized, `"branch::branch::unused"`)
}

var locations = regexp.MustCompile(`(?m) loc\(.*\)$`)

func TestDebugInfoOnlyAddsLocations(t *testing.T) {
	for _, name := range fixtures {
		t.Run(name, func(t *testing.T) {
			plain, err := Compile(program(t, name), CompileOptions{})
			require.NoError(t, err)
			debug, err := Compile(program(t, name), CompileOptions{DebugInfo: true})
			require.NoError(t, err)
			assert.Contains(t, debug, "loc(")
			assert.Equal(t, plain, locations.ReplaceAllString(debug, ""))
		})
	}
}

type injectedBuilder struct {
	module func() (*mlir.Module, error)
}

func (b injectedBuilder) Build(*sierra.Program, builder.Options) (*mlir.Module, error) {
	return b.module()
}

const malformedModule = `"builtin.module"() ({
^bb0:
  "llvm.func"() ({
  ^bb0(%arg0: i64):
    %0 = "builtin.unrealized_conversion_cast"(%arg0) : (i64) -> i32
    "llvm.return"(%0) : (i32) -> ()
  }) {function_type = !llvm.func<i32 (i64)>, sym_name = "main"} : () -> ()
}) : () -> ()
`

// strandedModule lowers cleanly but keeps an arith op outside any function,
// where no conversion reaches it.
const strandedModule = `"builtin.module"() ({
^bb0:
  %0 = "arith.constant"() {value = 7 : i64} : () -> i64
  "llvm.func"() ({
  ^bb0:
    %1 = "llvm.mlir.constant"() {value = 7 : i64} : () -> i64
    "llvm.return"(%1) : (i64) -> ()
  }) {function_type = !llvm.func<i64 ()>, sym_name = "main"} : () -> ()
}) : () -> ()
`

func TestMalformedModuleProducesNoArtifact(t *testing.T) {
	tests := []struct {
		name   string
		module func() (*mlir.Module, error)
		want   error
	}{
		{"live cast", func() (*mlir.Module, error) {
			return mlir.Parse(mlir.NewContext(), "bad.mlir", malformedModule)
		}, ErrPipeline},
		{"illegal op after lowering", func() (*mlir.Module, error) {
			return mlir.Parse(mlir.NewContext(), "stranded.mlir", strandedModule)
		}, ErrVerification},
		{"builder failure", func() (*mlir.Module, error) {
			return nil, errors.New("no module")
		}, ErrConstruction},
		{"no module", func() (*mlir.Module, error) {
			return nil, nil
		}, ErrConstruction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Compiler{Builder: injectedBuilder{tt.module}, Runtime: testRuntime(t)}
			text, err := c.Compile(program(t, "add"), CompileOptions{})
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, text)

			e, err := c.Execute(program(t, "add"), ExecuteOptions{})
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, e)
		})
	}
}

func TestConstructionErrorKeepsPosition(t *testing.T) {
	src := "type felt252 = felt252;\nlibfunc d = felt252_div;\nd([0]) -> ([1]);\nreturn([1]);\nf@0([0]: felt252) -> (felt252);\n"
	p, err := sierra.ParseString("bad.sierra", src)
	require.NoError(t, err)
	_, err = Compile(p, CompileOptions{})
	require.ErrorIs(t, err, ErrConstruction)
	var se *sierra.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Pos.Line)
	assert.Equal(t, "libfunc 'felt252_div' is not supported", se.Message)
}

func TestEmissionErrors(t *testing.T) {
	missing := &Compiler{Builder: builder.Builder{}, Runtime: StaticRuntime{filepath.Join(t.TempDir(), "libmlir_c_runner_utils.so")}}
	_, err := missing.Execute(program(t, "add"), ExecuteOptions{})
	assert.ErrorIs(t, err, ErrEmission)
	assert.ErrorIs(t, err, os.ErrNotExist)

	unresolved := &Compiler{Builder: builder.Builder{}, Runtime: testRuntime(t)[:1]}
	_, err = unresolved.Execute(program(t, "add"), ExecuteOptions{MainPrint: true})
	assert.ErrorIs(t, err, ErrEmission)
	assert.ErrorContains(t, err, "unresolved external symbol 'sierra2mlir_util_print'")

	failing := &Compiler{Builder: builder.Builder{}, Runtime: ToolchainRuntime{LLVMConfig: filepath.Join(t.TempDir(), "llvm-config")}}
	_, err = failing.Execute(program(t, "add"), ExecuteOptions{})
	assert.ErrorIs(t, err, ErrEmission)
}

func TestCompileLLVM(t *testing.T) {
	out, err := CompileLLVM(program(t, "branch"), CompileOptions{Optimized: true})
	require.NoError(t, err)
	assert.Contains(t, out, "define i256 @main()")
	assert.NotContains(t, out, "unused")
}

func TestToolchainRuntime(t *testing.T) {
	t.Setenv("S2M_UTILS_PATH", "")

	_, err := ToolchainRuntime{LibDir: "/opt/llvm/lib"}.Resolve()
	assert.ErrorContains(t, err, "support library path is not configured")

	libs, err := ToolchainRuntime{LibDir: "/opt/llvm/lib", UtilsPath: "/opt/s2m/libsierra2mlir_utils.so"}.Resolve()
	require.NoError(t, err)
	ext := SharedLibraryExtension(runtime.GOOS)
	assert.Equal(t, []string{
		filepath.Join("/opt/llvm/lib", "libmlir_c_runner_utils."+ext),
		"/opt/s2m/libsierra2mlir_utils.so",
	}, libs)

	t.Setenv("S2M_UTILS_PATH", "/env/libsierra2mlir_utils.so")
	libs, err = ToolchainRuntime{LibDir: "/opt/llvm/lib"}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "/env/libsierra2mlir_utils.so", libs[1])
}

func TestToolchainRuntimeQueriesLLVMConfig(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script")
	}
	t.Setenv("S2M_UTILS_PATH", "/env/libsierra2mlir_utils.so")
	tool := filepath.Join(t.TempDir(), "llvm-config")
	require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\necho /usr/lib/llvm-19/lib\n"), 0o755))

	t.Setenv("LLVM_CONFIG", tool)
	libs, err := ToolchainRuntime{}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/usr/lib/llvm-19/lib", jit.CRunnerUtils+"."+SharedLibraryExtension(runtime.GOOS)), libs[0])

	_, err = ToolchainRuntime{LLVMConfig: tool + "-missing"}.Resolve()
	assert.Error(t, err)
}

func TestSharedLibraryExtension(t *testing.T) {
	assert.Equal(t, "so", SharedLibraryExtension("linux"))
	assert.Equal(t, "dylib", SharedLibraryExtension("darwin"))
	assert.Equal(t, "dll", SharedLibraryExtension("windows"))
	assert.Equal(t, "so", SharedLibraryExtension("freebsd"))
}

func TestEmissionModes(t *testing.T) {
	assert.Equal(t, "text", EmitText{}.String())
	assert.Equal(t, "text with locations", EmitText{DebugInfo: true}.String())
	assert.Equal(t, "executable at O2", EmitExecutable{OptLevel: 2}.String())
}

func TestModuleTextIsLoggedOnlyAtDebug(t *testing.T) {
	var buf bytes.Buffer
	backend := simple.NewBackend()
	backend.Buffered = false
	backend.Writer = &buf
	backend.SetMaxLevel(commonlog.Info)
	commonlog.SetBackend(backend)
	t.Cleanup(func() { commonlog.SetBackend(nil) })

	_, err := Compile(program(t, "add"), CompileOptions{})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "emitted text")
	assert.NotContains(t, buf.String(), "built module")

	buf.Reset()
	backend.SetMaxLevel(commonlog.Debug)
	_, err = Compile(program(t, "add"), CompileOptions{})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "built module")
	assert.Contains(t, buf.String(), `"builtin.module"`)
}
