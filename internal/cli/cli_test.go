package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sierra2mlir/internal/builder"
	"sierra2mlir/internal/compiler"
	"sierra2mlir/internal/jit"
	"sierra2mlir/internal/pipeline"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func fixture(name string) string {
	return filepath.Join("..", "..", "testdata", "programs", name+".sierra")
}

func runtimeDir(t *testing.T) string {
	dir := t.TempDir()
	for _, name := range []string{jit.CRunnerUtils + ".so", jit.SierraUtils + ".so"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	return dir
}

func testOptions(t *testing.T) *RootOptions {
	dir := runtimeDir(t)
	return &RootOptions{Compiler: &compiler.Compiler{
		Builder: builder.Builder{},
		Runtime: compiler.StaticRuntime{
			filepath.Join(dir, jit.CRunnerUtils+".so"),
			filepath.Join(dir, jit.SierraUtils+".so"),
		},
	}}
}

func execute(t *testing.T, opts *RootOptions, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := ExecuteWith(opts, args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCompile(t *testing.T) {
	code, out, _ := execute(t, testOptions(t), "compile", fixture("branch"))
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, `"llvm.func"`)
	assert.Contains(t, out, "branch::branch::unused")

	code, out, _ = execute(t, testOptions(t), "compile", "-O", fixture("branch"))
	require.Equal(t, ExitOK, code)
	assert.NotContains(t, out, "branch::branch::unused")

	code, out, _ = execute(t, testOptions(t), "compile", "--debug-info", fixture("add"))
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "loc(")

	code, out, _ = execute(t, testOptions(t), "compile", "--emit", "llvm", fixture("add"))
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "define i256 @main()")
}

func TestCompileWarnsAboutUnusedFunctions(t *testing.T) {
	code, _, errOut := execute(t, testOptions(t), "compile", fixture("branch"))
	require.Equal(t, ExitOK, code)
	assert.Contains(t, errOut, "warning[S0801]: function 'branch::branch::unused' is never called")
}

func TestCompileToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "add.mlir")
	code, stdout, stderr := execute(t, testOptions(t), "compile", "-o", out, fixture("add"))
	require.Equal(t, ExitOK, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "Compiled")
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"builtin.module"`)
}

func TestRun(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"run", fixture("add")}, "3\n"},
		{[]string{"run", fixture("branch")}, "20\n"},
		{[]string{"run", fixture("gas")}, "15\n"},
		{[]string{"run", "--available-gas", "3", fixture("gas")}, "12\n"},
		{[]string{"run", "--main-print", fixture("branch")}, "20\n"},
	}
	for _, tt := range tests {
		t.Run(tt.args[len(tt.args)-1], func(t *testing.T) {
			code, out, errOut := execute(t, testOptions(t), tt.args...)
			require.Equal(t, ExitOK, code, errOut)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestRunUnknownEntry(t *testing.T) {
	code, _, errOut := execute(t, testOptions(t), "run", "--entry", "nope", fixture("add"))
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, errOut, "function 'nope' is not defined")
}

func TestFailures(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.sierra")
	require.NoError(t, os.WriteFile(bad, []byte("type felt252 = ;\n"), 0o644))

	code, _, errOut := execute(t, testOptions(t), "compile", bad)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, errOut, "error[S0001]")
	assert.Contains(t, errOut, "bad.sierra:1:")

	code, _, errOut = execute(t, testOptions(t), "compile", filepath.Join(t.TempDir(), "missing.sierra"))
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, errOut, "error[S0002]")

	code, _, _ = execute(t, testOptions(t), "compile")
	assert.Equal(t, ExitUsage, code)

	code, _, errOut = execute(t, testOptions(t), "compile", "--emit", "asm", fixture("add"))
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, errOut, "invalid --emit")

	code, _, _ = execute(t, testOptions(t), "frobnicate")
	assert.Equal(t, ExitUsage, code)
}

func TestPasses(t *testing.T) {
	code, out, _ := execute(t, testOptions(t), "passes")
	require.Equal(t, ExitOK, code)
	assert.Equal(t, pipeline.Mandatory().Describe(), out)

	_, out, _ = execute(t, testOptions(t), "passes", "--execute")
	assert.Equal(t, pipeline.ForExecute().Describe(), out)

	_, out, _ = execute(t, testOptions(t), "passes", "-O")
	assert.Equal(t, pipeline.ForCompile(true).Describe(), out)

	code, _, _ = execute(t, testOptions(t), "passes", "-O", "--execute")
	assert.Equal(t, ExitUsage, code)
}

func TestConfigFile(t *testing.T) {
	dir := runtimeDir(t)
	cfgPath := filepath.Join(t.TempDir(), "sierra2mlir.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"optimize: true\nrun:\n  available_gas: 3\nruntime:\n  lib_dir: "+dir+
			"\n  utils_path: "+filepath.Join(dir, jit.SierraUtils+".so")+"\n"), 0o644))

	code, out, errOut := execute(t, &RootOptions{}, "--config", cfgPath, "run", fixture("gas"))
	require.Equal(t, ExitOK, code, errOut)
	assert.Equal(t, "12\n", out)

	code, out, _ = execute(t, &RootOptions{}, "--config", cfgPath, "compile", fixture("branch"))
	require.Equal(t, ExitOK, code)
	assert.NotContains(t, out, "branch::branch::unused")

	code, out, _ = execute(t, &RootOptions{}, "--config", cfgPath, "compile", "--optimize=false", fixture("branch"))
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "branch::branch::unused", "flags override the file")

	invalid := filepath.Join(t.TempDir(), "sierra2mlir.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("emit: asm\n"), 0o644))
	code, _, errOut = execute(t, &RootOptions{}, "--config", invalid, "passes")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, errOut, "invalid configuration")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.50s", formatDuration(1500*1000*1000))
	assert.Equal(t, "2.0ms", formatDuration(2*1000*1000))
	assert.Equal(t, "10ns", formatDuration(10))
}
