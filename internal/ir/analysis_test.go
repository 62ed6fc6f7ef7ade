package ir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnalysis_String(t *testing.T) {
	for _, tc := range []struct {
		a   Analysis
		exp string
	}{
		{a: AnalysisNone, exp: "none"},
		{a: AnalysisDominance, exp: "dominance"},
		{a: AnalysisDominance | AnalysisLivenessSSA, exp: "dominance|liveness(ssa)"},
		{a: AnalysisAll, exp: "dominance|liveness(ssa)|liveness(reg)"},
	} {
		require.Equal(t, tc.exp, tc.a.String())
	}
}

func TestPassManager_Run(t *testing.T) {
	f := constructGraphFromEdges(edgesCase{0: {1, 2}, 1: {2}})

	var before, after []string
	pm := &PassManager{
		BeforePass: func(f *Function, p *Pass) { before = append(before, p.Name) },
		AfterPass:  func(f *Function, p *Pass) { after = append(after, p.Name) },
	}

	var idom *Block
	pm.Run(f,
		Pass{
			Name:      "query",
			Requires:  AnalysisDominance | AnalysisLivenessSSA,
			Preserves: AnalysisAll,
			Run: func(f *Function) {
				require.True(t, f.Valid(AnalysisDominance|AnalysisLivenessSSA))
				idom = f.BlockByID(2).Idom()
			},
		},
		Pass{
			Name:      "keep dominance",
			Preserves: AnalysisDominance,
			Run: func(f *Function) {
				require.True(t, f.Valid(AnalysisDominance))
			},
		},
		Pass{
			Name: "after",
			Run: func(f *Function) {
				require.True(t, f.Valid(AnalysisDominance))
				require.False(t, f.Valid(AnalysisLivenessSSA))
			},
		},
	)
	require.Equal(t, f.Entry(), idom)
	require.Equal(t, []string{"query", "keep dominance", "after"}, before)
	require.Equal(t, before, after)
	require.Equal(t, AnalysisNone, f.valid)
}

func TestFunction_Ensure(t *testing.T) {
	f := constructGraphFromEdges(edgesCase{0: {1}})
	require.Panics(t, func() { f.Ensure(AnalysisLivenessSSA | AnalysisLivenessReg) })

	f.Ensure(AnalysisDominance)
	require.True(t, f.Valid(AnalysisDominance))
	rpo := f.ReversePostOrder()
	// Already valid: nothing is recomputed.
	f.Ensure(AnalysisDominance)
	require.Equal(t, rpo, f.ReversePostOrder())

	f.Invalidate(AnalysisAll)
	require.False(t, f.Valid(AnalysisDominance))
	require.Panics(t, func() { f.ReversePostOrder() })
}
