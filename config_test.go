package shadercore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCompilerConfig(t *testing.T) {
	logger := zap.NewExample()
	tests := []struct {
		name     string
		with     func(*CompilerConfig) *CompilerConfig
		expected *CompilerConfig
	}{
		{
			name: "WithRegisterFileSize",
			with: func(c *CompilerConfig) *CompilerConfig {
				return c.WithRegisterFileSize(64)
			},
			expected: &CompilerConfig{registerFileSize: 64},
		},
		{
			name: "WithReservedRegisters",
			with: func(c *CompilerConfig) *CompilerConfig {
				return c.WithReservedRegisters(4)
			},
			expected: &CompilerConfig{reservedRegisters: 4},
		},
		{
			name: "WithSimplifyCFG",
			with: func(c *CompilerConfig) *CompilerConfig {
				return c.WithSimplifyCFG(true)
			},
			expected: &CompilerConfig{simplifyCFG: true},
		},
		{
			name: "WithCacheHints",
			with: func(c *CompilerConfig) *CompilerConfig {
				return c.WithCacheHints(true)
			},
			expected: &CompilerConfig{cacheHints: true},
		},
		{
			name: "WithParallelism",
			with: func(c *CompilerConfig) *CompilerConfig {
				return c.WithParallelism(3)
			},
			expected: &CompilerConfig{parallelism: 3},
		},
		{
			name: "WithLogger",
			with: func(c *CompilerConfig) *CompilerConfig {
				return c.WithLogger(logger)
			},
			expected: &CompilerConfig{logger: logger},
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			input := &CompilerConfig{}
			rc := tc.with(input)
			require.Equal(t, tc.expected, rc)
			// The source wasn't modified
			require.Equal(t, &CompilerConfig{}, input)
		})
	}
}

func TestNewCompilerConfig(t *testing.T) {
	c := NewCompilerConfig()
	require.Equal(t, defaultConfig, c)
	require.NotSame(t, defaultConfig, c)
	require.NoError(t, c.validate())
}

func TestCompilerConfig_validate(t *testing.T) {
	tests := []struct {
		name        string
		config      *CompilerConfig
		expectedErr string
	}{
		{
			name:        "zero register file",
			config:      NewCompilerConfig().WithRegisterFileSize(0),
			expectedErr: "invalid register file size: 0",
		},
		{
			name:        "reserved not a power of two",
			config:      NewCompilerConfig().WithReservedRegisters(3),
			expectedErr: "reserved registers must be zero or a power of two, got 3",
		},
		{
			name:        "negative reserved",
			config:      NewCompilerConfig().WithReservedRegisters(-2),
			expectedErr: "reserved registers must be zero or a power of two, got -2",
		},
		{
			name:   "no reserved",
			config: NewCompilerConfig().WithReservedRegisters(0),
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			err := tc.config.validate()
			if tc.expectedErr == "" {
				require.NoError(t, err)
			} else {
				require.EqualError(t, err, tc.expectedErr)
			}
		})
	}
}

func TestParseCompilerConfig(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    *CompilerConfig
		expectedErr string
	}{
		{
			name:     "empty",
			expected: NewCompilerConfig(),
		},
		{
			name: "all keys",
			input: `register_file_size = 128
reserved_registers = 4
simplify_cfg = false
cache_hints = false
parallelism = 2
`,
			expected: &CompilerConfig{registerFileSize: 128, reservedRegisters: 4, parallelism: 2},
		},
		{
			name:     "some keys",
			input:    "cache_hints = false\n",
			expected: NewCompilerConfig().WithCacheHints(false),
		},
		{
			name:        "unknown key",
			input:       "registers = 8\n",
			expectedErr: "parsing compiler config: ",
		},
		{
			name:        "wrong type",
			input:       "cache_hints = 1\n",
			expectedErr: "parsing compiler config: ",
		},
		{
			name:        "invalid",
			input:       "reserved_registers = 6\n",
			expectedErr: "reserved registers must be zero or a power of two, got 6",
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			c, err := ParseCompilerConfig([]byte(tc.input))
			if tc.expectedErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.expectedErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, c)
		})
	}
}

func TestLoadCompilerConfig(t *testing.T) {
	expected := NewCompilerConfig().WithRegisterFileSize(32).WithReservedRegisters(2).WithParallelism(1)
	data, err := expected.MarshalTOML()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "shadercore.toml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	c, err := LoadCompilerConfig(path)
	require.NoError(t, err)
	require.Equal(t, expected, c)

	_, err = LoadCompilerConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "reading compiler config: ")
}
