package repl

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sierra2mlir/internal/builder"
	"sierra2mlir/internal/compiler"
	"sierra2mlir/internal/jit"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func testCompiler(t *testing.T) *compiler.Compiler {
	dir := t.TempDir()
	var libs compiler.StaticRuntime
	for _, name := range []string{jit.CRunnerUtils + ".so", jit.SierraUtils + ".so"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, nil, 0o644))
		libs = append(libs, p)
	}
	return &compiler.Compiler{Builder: builder.Builder{}, Runtime: libs}
}

func runSession(t *testing.T, input string) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, Start(strings.NewReader(input), &out, Options{Compiler: testCompiler(t)}))
	return out.String()
}

func TestRunProgram(t *testing.T) {
	src, err := os.ReadFile("../testdata/programs/branch.sierra")
	require.NoError(t, err)
	out := runSession(t, string(src)+"\n:run\n:quit\n")
	assert.Contains(t, out, PROMPT+"20\n")
}

func TestContinuationPrompt(t *testing.T) {
	out := runSession(t, "type felt252 =\nfelt252;\n")
	assert.Equal(t, PROMPT+CONTINUATION+PROMPT+"\n", out)
}

func TestCommands(t *testing.T) {
	src, err := os.ReadFile("../testdata/programs/add.sierra")
	require.NoError(t, err)

	out := runSession(t, string(src)+"\n:mlir\n")
	assert.Contains(t, out, `"llvm.func"`)

	out = runSession(t, string(src)+"\n:llvm\n")
	assert.Contains(t, out, "define i256 @main()")

	out = runSession(t, string(src)+"\n:check\n")
	assert.Contains(t, out, "1 types, 4 libfuncs, 5 statements, 1 functions")

	out = runSession(t, "return();\n:reset\n:show\n:bogus\n")
	assert.NotContains(t, out, "return();")
	assert.Contains(t, out, "unknown command :bogus")
}

func TestErrorsAreReported(t *testing.T) {
	out := runSession(t, "type felt252 = ;\n:run\n")
	assert.Contains(t, out, "error[S0001]")

	out = runSession(t, "type felt252 = felt252;\nlibfunc d = felt252_div;\nd() -> ([0]);\nreturn([0]);\nmain@0() -> (felt252);\n:run\n")
	assert.Contains(t, out, "error[S0201]: libfunc 'felt252_div' is not supported")
	assert.Contains(t, out, "<repl>:2:1")
}
