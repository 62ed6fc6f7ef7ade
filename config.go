package shadercore

import (
	"bytes"
	"fmt"
	"os"
	"runtime"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/shadercore/shadercore/internal/backend/regalloc"
)

// DefaultRegisterFileSize is the number of general purpose registers of a function that does not
// declare one with regs=N.
const DefaultRegisterFileSize = 256

// DefaultReservedRegisters is the size of the scratch region reserved in functions that need more
// registers than they have.
const DefaultReservedRegisters = regalloc.DefaultReservedRegisters

// CompilerConfig controls compiler behavior, with the default implementation as NewCompilerConfig.
//
// Note: CompilerConfig is immutable. Each With* method returns a new instance including the
// corresponding change.
type CompilerConfig struct {
	registerFileSize  int
	reservedRegisters int
	simplifyCFG       bool
	cacheHints        bool
	parallelism       int
	logger            *zap.Logger
}

// defaultConfig helps avoid copy/pasting the wrong defaults.
var defaultConfig = &CompilerConfig{
	registerFileSize:  DefaultRegisterFileSize,
	reservedRegisters: DefaultReservedRegisters,
	simplifyCFG:       true,
	cacheHints:        true,
}

// clone ensures all fields are copied even if nil.
func (c *CompilerConfig) clone() *CompilerConfig {
	ret := *c
	return &ret
}

// NewCompilerConfig returns a CompilerConfig with a 256 register file, 8 reserved registers, and
// both the control-flow simplification and cache hint passes enabled.
func NewCompilerConfig() *CompilerConfig {
	return defaultConfig.clone()
}

// WithRegisterFileSize sets the number of general purpose registers of functions that do not
// declare one in their header. Defaults to DefaultRegisterFileSize.
func (c *CompilerConfig) WithRegisterFileSize(size int) *CompilerConfig {
	ret := c.clone()
	ret.registerFileSize = size
	return ret
}

// WithReservedRegisters sets the size of the region at the top of the register file that is kept
// out of allocation when a function needs more registers than it has. The region is scratch space
// for copies between spill slots. Zero disables it; otherwise it must be a power of two.
func (c *CompilerConfig) WithReservedRegisters(n int) *CompilerConfig {
	ret := c.clone()
	ret.reservedRegisters = n
	return ret
}

// WithSimplifyCFG toggles the removal of pass-through blocks before and after register allocation.
func (c *CompilerConfig) WithSimplifyCFG(enabled bool) *CompilerConfig {
	ret := c.clone()
	ret.simplifyCFG = enabled
	return ret
}

// WithCacheHints toggles the register cache and discard hints on allocated code.
func (c *CompilerConfig) WithCacheHints(enabled bool) *CompilerConfig {
	ret := c.clone()
	ret.cacheHints = enabled
	return ret
}

// WithParallelism bounds the number of functions of a module compiled concurrently. Zero or less
// means runtime.GOMAXPROCS.
func (c *CompilerConfig) WithParallelism(n int) *CompilerConfig {
	ret := c.clone()
	ret.parallelism = n
	return ret
}

// WithLogger sets the logger that receives per-pass debug logs and compilation failures.
// Defaults to a no-op logger when nil.
func (c *CompilerConfig) WithLogger(logger *zap.Logger) *CompilerConfig {
	ret := c.clone()
	ret.logger = logger
	return ret
}

func (c *CompilerConfig) validate() error {
	if c.registerFileSize <= 0 {
		return fmt.Errorf("invalid register file size: %d", c.registerFileSize)
	}
	if n := c.reservedRegisters; n < 0 || n&(n-1) != 0 {
		return fmt.Errorf("reserved registers must be zero or a power of two, got %d", n)
	}
	return nil
}

func (c *CompilerConfig) workers() int {
	if c.parallelism > 0 {
		return c.parallelism
	}
	return runtime.GOMAXPROCS(0)
}

// compilerConfigFile is the TOML form of CompilerConfig. Absent keys keep their default.
type compilerConfigFile struct {
	RegisterFileSize  *int  `toml:"register_file_size"`
	ReservedRegisters *int  `toml:"reserved_registers"`
	SimplifyCFG       *bool `toml:"simplify_cfg"`
	CacheHints        *bool `toml:"cache_hints"`
	Parallelism       *int  `toml:"parallelism"`
}

// LoadCompilerConfig reads a CompilerConfig from the TOML file at path, on top of the defaults of
// NewCompilerConfig. For example:
//
//	register_file_size = 128
//	reserved_registers = 4
//	simplify_cfg = true
//	cache_hints = false
//	parallelism = 4
//
// Unknown keys are an error.
func LoadCompilerConfig(path string) (*CompilerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading compiler config: %w", err)
	}
	return ParseCompilerConfig(data)
}

// ParseCompilerConfig is like LoadCompilerConfig, but reads from data.
func ParseCompilerConfig(data []byte) (*CompilerConfig, error) {
	var file compilerConfigFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parsing compiler config: %w", err)
	}

	ret := NewCompilerConfig()
	if file.RegisterFileSize != nil {
		ret.registerFileSize = *file.RegisterFileSize
	}
	if file.ReservedRegisters != nil {
		ret.reservedRegisters = *file.ReservedRegisters
	}
	if file.SimplifyCFG != nil {
		ret.simplifyCFG = *file.SimplifyCFG
	}
	if file.CacheHints != nil {
		ret.cacheHints = *file.CacheHints
	}
	if file.Parallelism != nil {
		ret.parallelism = *file.Parallelism
	}
	if err := ret.validate(); err != nil {
		return nil, err
	}
	return ret, nil
}

// MarshalTOML encodes c in the form read by LoadCompilerConfig. The logger is not encoded.
func (c *CompilerConfig) MarshalTOML() ([]byte, error) {
	return toml.Marshal(compilerConfigFile{
		RegisterFileSize:  &c.registerFileSize,
		ReservedRegisters: &c.reservedRegisters,
		SimplifyCFG:       &c.simplifyCFG,
		CacheHints:        &c.cacheHints,
		Parallelism:       &c.parallelism,
	})
}
