package grammar_test

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sierra2mlir/grammar"
)

func TestBranchProgram(t *testing.T) {
	program, err := grammar.ParseFile(`../testdata/programs/branch.sierra`)
	require.NoError(t, err)

	assert.Len(t, program.Types, 2)
	assert.Equal(t, "felt252", program.Types[0].ID.String())
	assert.Equal(t, "NonZero<felt252>", program.Types[1].Long.String())
	require.Len(t, program.Types[0].Attributes, 4)
	assert.Equal(t, "storable", program.Types[0].Attributes[0].Key)
	assert.Equal(t, "true", program.Types[0].Attributes[0].Value)

	assert.Len(t, program.Libfuncs, 14)
	call := program.Libfuncs[8]
	assert.Equal(t, "function_call", call.Long.Name)
	require.Len(t, call.Long.Args, 1)
	assert.Equal(t, "branch::branch::double", call.Long.Args[0].UserFunc)

	assert.Len(t, program.Statements, 20)
	isZero := program.Statements[2].Invocation
	require.NotNil(t, isZero)
	assert.False(t, isZero.Arrow)
	require.Len(t, isZero.Branches, 2)
	assert.True(t, isZero.Branches[0].Fallthrough)
	assert.Equal(t, uint64(7), *isZero.Branches[1].Target)
	assert.Equal(t, uint64(2), isZero.Branches[1].Results[0].ID)

	ret := program.Statements[12].Return
	require.NotNil(t, ret)
	assert.Equal(t, uint64(3), ret.Vars[0].ID)

	require.Len(t, program.Functions, 3)
	double := program.Functions[1]
	assert.Equal(t, "branch::branch::double", double.Name)
	assert.Equal(t, uint64(13), double.Entry)
	require.Len(t, double.Params, 1)
	assert.Equal(t, "felt252", double.Params[0].Type.String())
}

func TestNumericIdentifiers(t *testing.T) {
	src := `type [0] = felt252;
libfunc [0] = felt252_const<-5>;
libfunc [1] = store_temp<[0]>;
[0]() -> ([0]);
[1]([0]) -> ([0]);
return([0]);
f@0() -> ([0]);
`
	program, err := grammar.ParseString("numeric.sierra", src)
	require.NoError(t, err)
	assert.Equal(t, "[0]", program.Types[0].ID.String())
	assert.Equal(t, "-5", program.Libfuncs[0].Long.Args[0].Value)
	assert.Equal(t, "store_temp<[0]>", program.Libfuncs[1].Long.String())
	assert.Equal(t, "[1]", program.Statements[1].Invocation.Libfunc.String())
	assert.Equal(t, "[0]", program.Functions[0].Returns[0].String())
}

func TestPrintRoundTrip(t *testing.T) {
	for _, name := range []string{"add", "branch", "gas", "uint"} {
		t.Run(name, func(t *testing.T) {
			first, err := grammar.ParseFile("../testdata/programs/" + name + ".sierra")
			require.NoError(t, err)
			second, err := grammar.ParseString(name, first.String())
			require.NoError(t, err)
			assert.Equal(t, first.String(), second.String())
		})
	}
}

func TestPrintStatements(t *testing.T) {
	src := `libfunc jump = jump;
jump() { 3() };
felt252_is_zero([1]) { fallthrough() 7([2]) };
drop<felt252>([0]) -> ();
return();
`
	program, err := grammar.ParseString("stmts.sierra", src)
	require.NoError(t, err)
	assert.Equal(t, "jump() { 3() };", program.Statements[0].String())
	assert.Equal(t, "felt252_is_zero([1]) { fallthrough() 7([2]) };", program.Statements[1].String())
	assert.Equal(t, "drop<felt252>([0]) -> ();", program.Statements[2].String())
	assert.Equal(t, "return();", program.Statements[3].String())
}

func TestParseErrorReport(t *testing.T) {
	src := "type felt252 = felt252;\nlibfunc x = ;\n"
	_, err := grammar.ParseString("bad.sierra", src)
	require.Error(t, err)

	var out bytes.Buffer
	grammar.ReportParseError(&out, src, err)
	assert.Contains(t, out.String(), "bad.sierra at line 2")
	assert.Contains(t, out.String(), "libfunc x = ;")
}

func TestParseFileMissing(t *testing.T) {
	_, err := grammar.ParseFile("does-not-exist.sierra")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
