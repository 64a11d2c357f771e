package pipeline_test

import (
	"os"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sierra2mlir/internal/builder"
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

func TestDescribe(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "compile", []byte(pipeline.ForCompile(false).Describe()))
	g.Assert(t, "execute", []byte(pipeline.ForExecute().Describe()))
}

func TestSequences(t *testing.T) {
	mandatory := pipeline.Mandatory().Names()
	require.Len(t, mandatory, 8)
	assert.Equal(t, passes.ConvertFuncToLLVM, mandatory[0])
	assert.Equal(t, passes.ConvertSCFToCF, mandatory[1])
	assert.Equal(t, passes.FinalizeMemRefToLLVM, mandatory[6])
	assert.Equal(t, passes.ReconcileUnrealizedCasts, mandatory[7])

	assert.Equal(t, mandatory, pipeline.ForCompile(false).Names())
	optimized := pipeline.ForCompile(true).Names()
	assert.Equal(t, append(mandatory, pipeline.Optimizations()...), optimized)
	assert.Equal(t, optimized, pipeline.ForExecute().Names())
	assert.Equal(t, 13, pipeline.ForExecute().Len())
}

func TestSequencesAreImmutable(t *testing.T) {
	names := pipeline.Mandatory().Names()
	names[0] = "tampered"
	assert.Equal(t, passes.ConvertFuncToLLVM, pipeline.Mandatory().Names()[0])

	opts := pipeline.Optimizations()
	opts[0] = "tampered"
	assert.Equal(t, passes.Canonicalize, pipeline.Optimizations()[0])

	base := pipeline.Mandatory()
	_ = base.WithOptimizations(true)
	assert.Equal(t, 8, base.Len())
}

func TestNew(t *testing.T) {
	s, err := pipeline.New(passes.Canonicalize, passes.CSE)
	require.NoError(t, err)
	assert.Equal(t, []string{passes.Canonicalize, passes.CSE}, s.Names())

	_, err = pipeline.New("loop-unroll")
	assert.EqualError(t, err, "unknown pass 'loop-unroll'")

	_, err = pipeline.New(passes.CSE, passes.CSE)
	assert.EqualError(t, err, "pass 'cse' requested more than once")
}

func TestRunLowersToLLVM(t *testing.T) {
	p, err := sierra.ParseFile("../../testdata/programs/branch.sierra")
	require.NoError(t, err)
	m, err := builder.Build(p, builder.Options{MainPrint: true})
	require.NoError(t, err)

	require.NoError(t, pipeline.ForExecute().Run(m.Context(), m))
	assert.NoError(t, mlir.VerifyLegal(m.Operation(), "builtin", "llvm"))
	assert.Nil(t, m.Lookup("branch::branch::unused"))
}

func TestRunRejectsForeignContext(t *testing.T) {
	p, err := sierra.ParseFile("../../testdata/programs/add.sierra")
	require.NoError(t, err)
	m, err := builder.Build(p, builder.Options{})
	require.NoError(t, err)
	assert.Error(t, pipeline.Mandatory().Run(mlir.NewContext(), m))
}
