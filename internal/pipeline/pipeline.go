// Package pipeline runs the back-end passes over one function, from SSA form to allocated and
// hinted registers.
package pipeline

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/shadercore/shadercore/internal/backend/hint"
	"github.com/shadercore/shadercore/internal/backend/regalloc"
	"github.com/shadercore/shadercore/internal/ir"
	"github.com/shadercore/shadercore/internal/irapi"
)

// Options selects the optional passes.
type Options struct {
	// ReservedRegisters is the size of the scratch region kept out of allocation when a function
	// needs more registers than the file has. It must be a power of two, or zero.
	ReservedRegisters int
	// SimplifyCFG removes pass-through blocks before and after allocation.
	SimplifyCFG bool
	// CacheHints annotates register operands with cache and discard hints.
	CacheHints bool
	// Logger defaults to zap.NewNop.
	Logger *zap.Logger
}

// Result is the outcome of Pipeline.Compile.
type Result struct {
	Function *ir.Function
	// Demand is the register demand of the function before allocation, which does not count a
	// reserved region: the allocator only decides on one afterwards.
	Demand uint32
	// ReservedRegisters is the size of the scratch region the allocator kept out of the file.
	ReservedRegisters int
	// Stats counts the code inserted by the register allocator.
	Stats regalloc.Stats
	// Report summarizes the per-block register pressure before allocation.
	Report Report
}

// CompilationError is returned when a pass fails on a function, including when it hits an
// internal invariant violation.
type CompilationError struct {
	Function string
	Pass     string
	Cause    error
}

// Error implements error.
func (e *CompilationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Function, e.Pass, e.Cause)
}

// Unwrap returns the cause.
func (e *CompilationError) Unwrap() error { return e.Cause }

// Pipeline compiles functions one at a time. It is not safe for concurrent use: create one per
// goroutine.
type Pipeline struct {
	opts      Options
	logger    *zap.Logger
	allocator regalloc.Allocator
}

// New returns a Pipeline configured by opts.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{opts: opts, logger: logger, allocator: regalloc.NewAllocator(opts.ReservedRegisters)}
}

// Compile runs every pass over f, modifying it in place.
func (p *Pipeline) Compile(f *ir.Function) (res Result, err error) {
	res.Function = f
	current := "validate"
	defer func() {
		if r := recover(); r != nil {
			cause, ok := r.(error)
			if !ok {
				cause = errors.New(fmt.Sprint(r))
			}
			err = &CompilationError{Function: f.Name(), Pass: current, Cause: cause}
		}
		if err != nil {
			p.logger.Error("compilation failed", zap.String("function", f.Name()), zap.Error(err))
		}
	}()

	if irapi.PrintInputIR {
		fmt.Println(f.Format())
	}
	if irapi.IRValidationEnabled {
		f.Validate()
	}

	var passErr error
	pm := ir.PassManager{
		BeforePass: func(f *ir.Function, pass *ir.Pass) {
			current = pass.Name
			p.logger.Debug("running pass", zap.String("function", f.Name()), zap.String("pass", pass.Name))
		},
	}
	if irapi.IRValidationEnabled {
		pm.AfterPass = func(f *ir.Function, pass *ir.Pass) { f.Validate() }
	}

	for _, pass := range p.passes(&res, &passErr) {
		pm.Run(f, pass)
		if passErr != nil {
			return res, &CompilationError{Function: f.Name(), Pass: pass.Name, Cause: passErr}
		}
	}

	p.logger.Debug("compiled",
		zap.String("function", f.Name()),
		zap.Uint32("demand", res.Demand),
		zap.Int("reserved", res.ReservedRegisters),
		zap.Int("spills", res.Stats.Spills),
		zap.Int("fills", res.Stats.Fills),
		zap.Int("moves", res.Stats.Moves),
		zap.Int("swaps", res.Stats.Swaps),
		zap.Uint32("spillSlots", f.SpillSlots()),
	)
	return res, nil
}

func (p *Pipeline) passes(res *Result, passErr *error) []ir.Pass {
	passes := []ir.Pass{
		{
			Name:      "eliminate-dead-blocks",
			Preserves: ir.AnalysisNone,
			Run: func(f *ir.Function) {
				if n := ir.EliminateDeadBlocks(f); n > 0 {
					p.logger.Debug("removed unreachable blocks", zap.String("function", f.Name()), zap.Int("count", n))
				}
			},
		},
	}
	if p.opts.SimplifyCFG {
		passes = append(passes, p.simplifyCFG("simplify-cfg"))
	}
	passes = append(passes,
		ir.Pass{
			Name:      "register-demand",
			Requires:  ir.AnalysisLivenessSSA,
			Preserves: ir.AnalysisAll,
			Run: func(f *ir.Function) {
				res.Demand = regalloc.CalcRegisterDemand(f)
				res.Report = newReport(regalloc.BlockDemand(f))
			},
		},
		ir.Pass{
			Name:     "register-allocation",
			Requires: ir.AnalysisDominance | ir.AnalysisLivenessSSA,
			Run: func(f *ir.Function) {
				if err := p.allocator.DoAllocation(f); err != nil {
					*passErr = err
					return
				}
				res.Stats = p.allocator.Stats()
				res.ReservedRegisters = f.ReservedRegisters()
				res.Report.SpillSlots = f.SpillSlots()
				if irapi.PrintAllocatedIR {
					fmt.Println(f.Format())
				}
			},
		},
	)
	if p.opts.SimplifyCFG {
		passes = append(passes, p.simplifyCFG("simplify-cfg-allocated"))
	}
	if p.opts.CacheHints {
		passes = append(passes, ir.Pass{
			Name:      "cache-hints",
			Requires:  ir.AnalysisLivenessReg,
			Preserves: ir.AnalysisAll,
			Run:       hint.Run,
		})
	}
	return passes
}

func (p *Pipeline) simplifyCFG(name string) ir.Pass {
	return ir.Pass{
		Name: name,
		Run: func(f *ir.Function) {
			if ir.SimplifyCFG(f) && irapi.PrintSimplifiedIR {
				fmt.Println(f.Format())
			}
		},
	}
}
