// Package shadercore compiles functions in SSA form to allocated register code: it computes
// dominance, liveness and register demand, assigns registers with live-range splitting and
// spilling, simplifies the control-flow graph and annotates register cache hints.
//
// Input and output use a small text form of the IR:
//
//	func scale regs=8
//	b0:
//	  %0:1 = load
//	  %1:1 = fmul %0, #2
//	  store %1
//	  ret
package shadercore

import (
	"context"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shadercore/shadercore/internal/backend/regalloc"
	"github.com/shadercore/shadercore/internal/irtext"
	"github.com/shadercore/shadercore/internal/pipeline"
)

// CompilationError is returned for a function that failed to compile. It names the function and
// the pass that failed.
type CompilationError = pipeline.CompilationError

// Report summarizes the register pressure of a function before allocation.
type Report = pipeline.Report

// AllocationStats counts the instructions inserted by register allocation.
type AllocationStats = regalloc.Stats

// Compiler compiles modules in the text IR form. It is safe for concurrent use.
type Compiler struct {
	config *CompilerConfig
	logger *zap.Logger
}

// NewCompiler returns a Compiler using the default configuration.
func NewCompiler() *Compiler {
	c, _ := NewCompilerWithConfig(NewCompilerConfig())
	return c
}

// NewCompilerWithConfig returns a Compiler configured by config, or an error if config is invalid.
func NewCompilerWithConfig(config *CompilerConfig) (*Compiler, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	logger := config.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{config: config.clone(), logger: logger}, nil
}

// CompiledFunction is one allocated function of a CompiledModule.
type CompiledFunction struct {
	Name string
	// Code is the allocated function in text form.
	Code string
	// Demand is the number of registers the function needs without spilling.
	Demand uint32
	// ReservedRegisters is the scratch region set aside because Demand exceeded the register file.
	ReservedRegisters int
	Stats  AllocationStats
	Report Report
}

// CompiledModule is the result of Compiler.CompileModule.
type CompiledModule struct {
	// Functions are in source order.
	Functions []CompiledFunction
}

// String returns the code of every function.
func (m *CompiledModule) String() string {
	var sb strings.Builder
	for _, f := range m.Functions {
		sb.WriteString(f.Code)
	}
	return sb.String()
}

// CompileModule parses every function of src and compiles them concurrently.
//
// A syntax error fails the whole module. Otherwise every function is compiled and the errors of
// those that failed are combined: each is a *CompilationError, available with multierr.Errors.
// Functions that failed have no entry in the result, which is nil if none compiled. Cancelling ctx
// stops compiling functions that have not started yet.
func (c *Compiler) CompileModule(ctx context.Context, src string) (*CompiledModule, error) {
	fns, err := irtext.ParseModule(src, c.config.registerFileSize)
	if err != nil {
		return nil, err
	}

	compiled := make([]CompiledFunction, len(fns))
	errs := make([]error, len(fns))

	var g errgroup.Group
	g.SetLimit(c.config.workers())
	for i := range fns {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p := pipeline.New(pipeline.Options{
				ReservedRegisters: c.config.reservedRegisters,
				SimplifyCFG:       c.config.simplifyCFG,
				CacheHints:        c.config.cacheHints,
				Logger:            c.logger,
			})
			res, err := p.Compile(fns[i])
			if err != nil {
				errs[i] = err
				return nil
			}
			compiled[i] = CompiledFunction{
				Name:              fns[i].Name(),
				Code:              fns[i].Format(),
				Demand:            res.Demand,
				ReservedRegisters: res.ReservedRegisters,
				Stats:             res.Stats,
				Report:            res.Report,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m := &CompiledModule{}
	for i := range fns {
		if errs[i] == nil {
			m.Functions = append(m.Functions, compiled[i])
		}
	}
	err = multierr.Combine(errs...)
	if err != nil {
		c.logger.Info("module compiled with errors",
			zap.Int("functions", len(fns)), zap.Int("failed", len(multierr.Errors(err))))
	}
	if len(m.Functions) == 0 {
		return nil, err
	}
	return m, err
}
