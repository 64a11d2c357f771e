package builder_test

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sierra2mlir/internal/builder"
	"sierra2mlir/internal/mlir"
	"sierra2mlir/internal/sierra"
)

func TestMain(m *testing.M) {
	mlir.RegisterAllDialects()
	os.Exit(m.Run())
}

func load(t *testing.T, name string) *sierra.Program {
	t.Helper()
	p, err := sierra.ParseFile("../../testdata/programs/" + name + ".sierra")
	require.NoError(t, err)
	return p
}

func build(t *testing.T, name string, opts builder.Options) *mlir.Module {
	t.Helper()
	m, err := builder.Build(load(t, name), opts)
	require.NoError(t, err)
	require.NoError(t, mlir.Verify(m.Operation()), m.String())
	return m
}

func TestBuildFixturesVerify(t *testing.T) {
	for _, name := range []string{"add", "branch", "gas", "uint"} {
		t.Run(name, func(t *testing.T) {
			m := build(t, name, builder.Options{})
			entry := m.Lookup(builder.EntrySymbol)
			require.NotNil(t, entry)
			assert.False(t, entry.IsPrivate())
		})
	}
}

func TestUserFunctionsArePrivateBehindWrapper(t *testing.T) {
	m := build(t, "branch", builder.Options{})
	for _, name := range []string{"branch::branch::main", "branch::branch::double", "branch::branch::unused"} {
		fn := m.Lookup(name)
		require.NotNil(t, fn, name)
		assert.True(t, fn.IsPrivate(), name)
	}
	assert.Contains(t, m.String(), `"func.call"() {callee = @"branch::branch::main"}`)
}

func TestFunctionsArePublicWithoutMain(t *testing.T) {
	src := `type felt252 = felt252;
libfunc felt252_const<4> = felt252_const<4>;
felt252_const<4>() -> ([0]);
return([0]);
lib::four@0() -> (felt252);
`
	p, err := sierra.ParseString("lib.sierra", src)
	require.NoError(t, err)
	m, err := builder.Build(p, builder.Options{})
	require.NoError(t, err)
	require.NoError(t, mlir.Verify(m.Operation()))
	fn := m.Lookup("lib::four")
	require.NotNil(t, fn)
	assert.False(t, fn.IsPrivate())
	assert.Nil(t, m.Lookup(builder.EntrySymbol))
}

func TestMergePointsBecomeBlockArguments(t *testing.T) {
	m := build(t, "branch", builder.Options{})
	main := m.Lookup("branch::branch::main")
	blocks := main.Region(0).Blocks()
	// entry, the two is_zero branches and the join at statement 11
	require.Len(t, blocks, 4)
	join := blocks[3]
	require.Equal(t, 1, join.NumArguments())
	assert.Equal(t, "i256", join.Argument(0).Type().String())
	assert.Len(t, join.Predecessors(), 2)
}

func TestFeltArithmeticUsesStructuredControlFlow(t *testing.T) {
	text := build(t, "add", builder.Options{}).String()
	assert.Contains(t, text, `"scf.if"`)
	assert.Contains(t, text, `"scf.yield"`)
	assert.Contains(t, text, builder.Prime.String())
}

func TestGasMetering(t *testing.T) {
	unmetered := build(t, "gas", builder.Options{}).String()
	assert.Contains(t, unmetered, "340282366920938463463374607431768211455 : i128")

	gas := uint64(3)
	metered := build(t, "gas", builder.Options{AvailableGas: &gas})
	sum := metered.Lookup("gas::gas::sum")
	require.NotNil(t, sum)
	ifs := sum.Collect(func(op *mlir.Operation) bool { return op.Name() == "scf.if" })
	assert.Len(t, ifs, 3, "one for withdraw_gas, one each for felt252_sub and felt252_add")
	assert.Contains(t, metered.String(), "3 : i128")
}

func TestMainPrint(t *testing.T) {
	m := build(t, "branch", builder.Options{MainPrint: true, PrintFD: 2})
	decl := m.Lookup(builder.PrintSymbol)
	require.NotNil(t, decl)
	assert.True(t, decl.IsPrivate())
	assert.True(t, decl.Region(0).Empty())

	text := m.String()
	assert.Contains(t, text, `"memref.alloca"() : () -> memref<1xi256>`)
	assert.Contains(t, text, `"memref.store"`)
	assert.Contains(t, text, `"memref.extract_aligned_pointer_as_index"`)
	assert.Contains(t, text, "2 : i32")
}

func TestMainPrintExtendsIntegers(t *testing.T) {
	src := `type RangeCheck = RangeCheck;
type u8 = u8;
libfunc u8_const<9> = u8_const<9>;
u8_const<9>() -> ([1]);
return([0], [1]);
m::main@0([0]: RangeCheck) -> (RangeCheck, u8);
`
	p, err := sierra.ParseString("u8.sierra", src)
	require.NoError(t, err)
	m, err := builder.Build(p, builder.Options{MainPrint: true})
	require.NoError(t, err)
	require.NoError(t, mlir.Verify(m.Operation()))
	wrapper := m.Lookup(builder.EntrySymbol)
	_, results, _ := mlir.FunctionSignature(wrapper)
	require.Len(t, results, 1)
	assert.Equal(t, "i8", results[0].String())
	exts := wrapper.Collect(func(op *mlir.Operation) bool { return op.Name() == "arith.extui" })
	assert.Len(t, exts, 1)
}

func TestLocationsFollowStatements(t *testing.T) {
	m := build(t, "add", builder.Options{})
	debug := mlir.PrintDebug(m.Operation())
	assert.Contains(t, debug, `loc("../../testdata/programs/add.sierra":10:1)`)
	assert.Contains(t, debug, `loc("../../testdata/programs/add.sierra":14:1)`)
}

func TestLoopToEntryGetsPrologue(t *testing.T) {
	src := `type felt252 = felt252;
type NonZero<felt252> = NonZero<felt252>;
libfunc felt252_is_zero = felt252_is_zero;
libfunc felt252_const<1> = felt252_const<1>;
libfunc felt252_sub = felt252_sub;
libfunc drop<NonZero<felt252>> = drop<NonZero<felt252>>;
libfunc dup<felt252> = dup<felt252>;
libfunc jump = jump;
dup<felt252>([0]) -> ([0], [1]);
felt252_is_zero([1]) { fallthrough() 3([2]) };
return([0]);
drop<NonZero<felt252>>([2]) -> ();
felt252_const<1>() -> ([3]);
felt252_sub([0], [3]) -> ([0]);
jump() { 0() };
loop::countdown@0([0]: felt252) -> (felt252);
`
	p, err := sierra.ParseString("loop.sierra", src)
	require.NoError(t, err)
	m, err := builder.Build(p, builder.Options{})
	require.NoError(t, err)
	require.NoError(t, mlir.Verify(m.Operation()))
	fn := m.Lookup("loop::countdown")
	blocks := fn.Region(0).Blocks()
	assert.Empty(t, blocks[0].Predecessors())
	assert.Len(t, blocks[1].Predecessors(), 2)
}

func TestConstructionErrors(t *testing.T) {
	cases := map[string]struct {
		src     string
		message string
	}{
		"unsupported libfunc": {
			src:     "type felt252 = felt252;\nlibfunc x = felt252_div;\nx() -> ();\nreturn();\nf@0() -> ();\n",
			message: "libfunc 'felt252_div' is not supported",
		},
		"undefined variable": {
			src:     "type felt252 = felt252;\nlibfunc s = store_temp<felt252>;\ns([4]) -> ([4]);\nreturn();\nf@0() -> ();\n",
			message: "variable [4] is not defined",
		},
		"type mismatch": {
			src:     "type felt252 = felt252;\ntype u8 = u8;\nlibfunc s = store_temp<u8>;\ns([0]) -> ([0]);\nreturn();\nf@0([0]: felt252) -> ();\n",
			message: "variable [0] has type 'felt252', expected 'u8'",
		},
		"missing NonZero type": {
			src:     "type felt252 = felt252;\nlibfunc z = felt252_is_zero;\nz([0]) { fallthrough() 1([1]) };\nreturn();\nf@0([0]: felt252) -> ();\n",
			message: "type 'NonZero<felt252>' is not declared",
		},
		"inconsistent merge": {
			src: "type felt252 = felt252;\ntype NonZero<felt252> = NonZero<felt252>;\n" +
				"libfunc z = felt252_is_zero;\nlibfunc c = felt252_const<1>;\n" +
				"z([0]) { fallthrough() 2([1]) };\nc() -> ([5]);\nreturn();\n" +
				"f@0([0]: felt252) -> ();\n",
			message: "variables differ between incoming paths",
		},
		"falls off the end": {
			src:     "type felt252 = felt252;\nlibfunc c = felt252_const<1>;\nc() -> ([0]);\nf@0() -> (felt252);\n",
			message: "falls off the end",
		},
		"constant out of range": {
			src:     "type u8 = u8;\nlibfunc c = u8_const<256>;\nc() -> ([0]);\nreturn([0]);\nf@0() -> (u8);\n",
			message: "does not fit in u8",
		},
		"non builtin entry parameter": {
			src:     "type felt252 = felt252;\nreturn([0]);\nx::main@0([0]: felt252) -> (felt252);\n",
			message: "an entry point may only take builtins",
		},
		"wrong return arity": {
			src:     "type felt252 = felt252;\nreturn();\nf@0([0]: felt252) -> (felt252);\n",
			message: "returns 0 values, function declares 1",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			p, err := sierra.ParseString("bad.sierra", tc.src)
			require.NoError(t, err)
			m, err := builder.Build(p, builder.Options{})
			require.Error(t, err)
			assert.Nil(t, m)
			var serr *sierra.Error
			require.ErrorAs(t, err, &serr)
			assert.True(t, strings.Contains(serr.Message, tc.message), serr.Message)
		})
	}
}
