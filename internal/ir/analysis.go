package ir

import (
	"fmt"
	"strings"

	"github.com/shadercore/shadercore/internal/irapi"
)

// Analysis is a set of analyses whose results are cached on the blocks of a Function.
//
// Results are never recomputed lazily. A pass declares what it needs and what it keeps intact, and
// PassManager recomputes or clears accordingly. Reading a result that is not valid panics, so a
// stale dominance or liveness result cannot be consumed by accident.
type Analysis uint8

const (
	// AnalysisDominance covers immediate dominators, the dominator tree, its pre/post numbering,
	// dominance frontiers, loop headers and the reverse post-order.
	AnalysisDominance Analysis = 1 << iota
	// AnalysisLivenessSSA covers live-in/live-out sets indexed by SSA value, plus the Kill and Dead flags.
	AnalysisLivenessSSA
	// AnalysisLivenessReg covers live-in/live-out sets indexed by physical register.
	AnalysisLivenessReg

	AnalysisNone Analysis = 0
	AnalysisAll           = AnalysisDominance | AnalysisLivenessSSA | AnalysisLivenessReg
)

// String implements fmt.Stringer.
func (a Analysis) String() string {
	if a == AnalysisNone {
		return "none"
	}
	var names []string
	if a&AnalysisDominance != 0 {
		names = append(names, "dominance")
	}
	if a&AnalysisLivenessSSA != 0 {
		names = append(names, "liveness(ssa)")
	}
	if a&AnalysisLivenessReg != 0 {
		names = append(names, "liveness(reg)")
	}
	return strings.Join(names, "|")
}

// Valid returns true if every analysis in a is up to date.
func (f *Function) Valid(a Analysis) bool { return f.valid&a == a }

// Invalidate drops the cached results of a.
func (f *Function) Invalidate(a Analysis) {
	drop := f.valid & a
	if drop == AnalysisNone {
		return
	}
	f.valid &^= drop
	if drop&AnalysisDominance != 0 {
		f.reversePostOrder = f.reversePostOrder[:0]
		for _, b := range f.blocks {
			b.dom.reset()
			b.loopHeader = false
		}
	}
	if drop&(AnalysisLivenessSSA|AnalysisLivenessReg) != 0 {
		for _, b := range f.blocks {
			b.live = liveInfo{}
		}
	}
}

func (f *Function) markValid(a Analysis) { f.valid |= a }

func (f *Function) requireValid(a Analysis) {
	if irapi.IRValidationEnabled && !f.Valid(a) {
		panic(fmt.Sprintf("BUG: %s of %s queried while stale", a&^f.valid, f.name))
	}
}

// Ensure computes every analysis of a that is not valid.
func (f *Function) Ensure(a Analysis) {
	if a&AnalysisLivenessSSA != 0 && a&AnalysisLivenessReg != 0 {
		panic("BUG: SSA and register liveness cannot be valid at the same time")
	}
	if a&AnalysisDominance != 0 && !f.Valid(AnalysisDominance) {
		CalculateDominance(f)
	}
	if a&AnalysisLivenessSSA != 0 && !f.Valid(AnalysisLivenessSSA) {
		ComputeLiveness(f, NumberingSSA)
	}
	if a&AnalysisLivenessReg != 0 && !f.Valid(AnalysisLivenessReg) {
		ComputeLiveness(f, NumberingReg)
	}
}

// Pass is one step of a compilation pipeline.
type Pass struct {
	Name string
	// Requires is computed by the PassManager before Run when not valid.
	Requires Analysis
	// Preserves lists the analyses Run keeps intact. Everything else is invalidated after Run.
	Preserves Analysis
	Run       func(f *Function)
}

// PassManager runs passes over a Function and keeps its analyses in sync.
type PassManager struct {
	// BeforePass and AfterPass are optional hooks, used for logging and validation.
	BeforePass func(f *Function, p *Pass)
	AfterPass  func(f *Function, p *Pass)
}

// Run runs the passes in order.
func (pm *PassManager) Run(f *Function, passes ...Pass) {
	for i := range passes {
		p := &passes[i]
		f.Ensure(p.Requires)
		if pm.BeforePass != nil {
			pm.BeforePass(f, p)
		}
		if irapi.PassLoggingEnabled {
			fmt.Printf("running %s on %s (valid: %s)\n", p.Name, f.name, f.valid)
		}
		p.Run(f)
		f.Invalidate(AnalysisAll &^ p.Preserves)
		if pm.AfterPass != nil {
			pm.AfterPass(f, p)
		}
	}
}
