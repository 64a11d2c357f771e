package sierra_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sierra2mlir/internal/sierra"
)

func TestResolveBranchProgram(t *testing.T) {
	p, err := sierra.ParseFile("../../testdata/programs/branch.sierra")
	require.NoError(t, err)

	felt, ok := p.Type("felt252")
	require.True(t, ok)
	assert.Equal(t, "felt252", felt.Generic)
	assert.Equal(t, "true", felt.Attributes["dup"])

	nz, ok := p.FindType("NonZero", sierra.GenericArg{Kind: sierra.ArgType, Type: felt})
	require.True(t, ok)
	assert.Equal(t, "NonZero<felt252>", nz.ID)
	assert.Same(t, felt, nz.Args[0].Type)

	call, ok := p.Libfunc("function_call<user@branch::branch::double>")
	require.True(t, ok)
	assert.Equal(t, sierra.ArgUserFunc, call.Args[0].Kind)
	assert.Equal(t, "branch::branch::double", call.Args[0].Name)

	drop, ok := p.Libfunc("drop<NonZero<felt252>>")
	require.True(t, ok)
	assert.Same(t, nz, drop.Args[0].Type)

	isZero := p.Statements[2]
	require.NotNil(t, isZero.Invocation)
	assert.Equal(t, []int{3, 7}, isZero.Successors())
	assert.Equal(t, sierra.Fallthrough, isZero.Invocation.Branches[0].Target)
	assert.Equal(t, []sierra.VarID{2}, isZero.Invocation.Branches[1].Results)
	assert.Equal(t, 21, isZero.Pos.Line)

	assert.Empty(t, p.Statements[12].Successors())
	assert.Equal(t, []sierra.VarID{3}, p.Statements[12].Return)

	main, ok := p.Main()
	require.True(t, ok)
	assert.Equal(t, "branch::branch::main", main.ID)
	double, ok := p.Function("branch::branch::double")
	require.True(t, ok)
	assert.Equal(t, 13, double.Entry)
	assert.Equal(t, sierra.VarID(0), double.Params[0].Var)
	assert.Same(t, felt, double.Returns[0])
}

func TestConstantArguments(t *testing.T) {
	src := `type felt252 = felt252;
libfunc c = felt252_const<-3618502788666131213697322783095070105623107215331596699973092056135872020481>;
c() -> ([0]);
return([0]);
f@0() -> (felt252);
`
	p, err := sierra.ParseString("const.sierra", src)
	require.NoError(t, err)
	c, _ := p.Libfunc("c")
	assert.Equal(t, "felt252_const", c.Generic)
	assert.Equal(t, -1, c.Args[0].Value.Sign())
	assert.Equal(t, "felt252_const<-3618502788666131213697322783095070105623107215331596699973092056135872020481>", c.Long())
}

func TestNormalizesIdentifiers(t *testing.T) {
	// The type is declared with a precomposed é and used decomposed.
	src := "type caf\u00e9 = felt252;\n" +
		"libfunc store_temp<cafe\u0301> = store_temp<cafe\u0301>;\n" +
		"return();\n" +
		"f@0([0]: cafe\u0301) -> ();\n"
	p, err := sierra.ParseString("nfc.sierra", src)
	require.NoError(t, err)
	decl, ok := p.Type("caf\u00e9")
	require.True(t, ok)
	lib, ok := p.Libfunc("store_temp<caf\u00e9>")
	require.True(t, ok)
	assert.Same(t, decl, lib.Args[0].Type)
	f, _ := p.Function("f")
	assert.Same(t, decl, f.Params[0].Type)
}

func TestResolutionErrors(t *testing.T) {
	cases := map[string]struct {
		src     string
		message string
	}{
		"duplicate type": {
			src:     "type a = felt252;\ntype a = felt252;\n",
			message: "type 'a' is declared twice",
		},
		"unknown generic arg": {
			src:     "libfunc s = store_temp<missing>;\n",
			message: "unknown identifier 'missing'",
		},
		"undeclared libfunc": {
			src:     "nope() -> ();\n",
			message: "invokes undeclared libfunc 'nope'",
		},
		"branch out of range": {
			src:     "libfunc jump = jump;\njump() { 9() };\n",
			message: "branches to #9 which does not exist",
		},
		"entry out of range": {
			src:     "return();\nf@4() -> ();\n",
			message: "starts at statement #4",
		},
		"unknown user function": {
			src:     "libfunc call = function_call<user@g>;\nreturn();\nf@0() -> ();\n",
			message: "refers to unknown function 'g'",
		},
		"undeclared param type": {
			src:     "return();\nf@0([0]: felt252) -> ();\n",
			message: "uses undeclared type 'felt252'",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := sierra.ParseString("bad.sierra", tc.src)
			require.Error(t, err)
			var serr *sierra.Error
			require.ErrorAs(t, err, &serr)
			assert.Contains(t, serr.Message, tc.message)
			assert.Equal(t, "bad.sierra", serr.Pos.Filename)
		})
	}
}
