package irtext

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadercore/shadercore/internal/ir"
)

const diamond = `func diamond regs=16
b0:
  %0:1 = load
  br %0 -> b2
b1:
  %1:2 = load
  jmp -> b3
b2 divergent:
  %2:2 = load
b3:
  %3:2 = phi %1, %2
  %4:1m = spill %0
  store %3, %4
  ret
`

func TestParse_roundTrip(t *testing.T) {
	for _, tc := range []struct {
		name string
		src  string
	}{
		{name: "diamond", src: diamond},
		{
			name: "registers",
			src: `func regs regs=8
b0:
  r0:2 = load
  r2:1.cache = mov #5
  store r0:2.discard, r2:1, m3:1
  br.not r2:1 -> b0
b1:
  ret
`,
		},
		{
			name: "loop",
			src: `func loop regs=4
b0:
  %0:1 = mov #0
b1:
  %1:1 = phi %0, %2
  %2:1 = iadd %1, #1
  %3:1 = icmp %2, #10
  br %3 -> b1
b2:
  store %2
  ret
`,
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			f, err := Parse(tc.src, 0)
			require.NoError(t, err)
			f.Validate()
			require.Equal(t, tc.src, f.Format())
		})
	}
}

func TestParse_operands(t *testing.T) {
	f, err := Parse(diamond, 0)
	require.NoError(t, err)
	require.Equal(t, "diamond", f.Name())
	require.Equal(t, 16, f.RegFileSize())
	require.Equal(t, uint32(5), f.SSAAlloc())
	require.Equal(t, 4, f.NumBlocks())

	b3 := f.Blocks()[3]
	require.Equal(t, 2, len(b3.Preds()))
	require.True(t, f.Blocks()[2].Divergent())

	phi := b3.Root()
	require.True(t, phi.IsPhi())
	for _, s := range phi.Srcs() {
		require.Equal(t, uint8(2), s.Width)
		require.Equal(t, ir.ClassGPR, s.Class)
	}
	store := phi.Next().Next()
	require.Equal(t, ir.OpcodeStore, store.Opcode())
	require.Equal(t, ir.ClassMem, store.Srcs()[1].Class)
	require.Equal(t, uint8(1), store.Srcs()[1].Width)
}

func TestParse_renumbering(t *testing.T) {
	f, err := Parse(`func sparse regs=8
b0:
  %20000000:1 = load
  %4294967295:2 = load
  %7:2 = fadd %4294967295, %20000000
  store %7
  ret
`, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(3), f.SSAAlloc())
	require.Equal(t, `func sparse regs=8
b0:
  %0:1 = load
  %1:2 = load
  %2:2 = fadd %1, %0
  store %2
  ret
`, f.Format())
}

func TestParseModule(t *testing.T) {
	funcs, err := ParseModule(`; two functions
func a
b0:
  ret

func b regs=4
b0:
  %0:1 = mov #1 ; trailing comment
  store %0
`, 32)
	require.NoError(t, err)
	require.Equal(t, 2, len(funcs))
	require.Equal(t, "a", funcs[0].Name())
	require.Equal(t, 32, funcs[0].RegFileSize())
	require.Equal(t, "b", funcs[1].Name())
	require.Equal(t, 4, funcs[1].RegFileSize())

	_, err = Parse(`func a
b0:
func b
b0:
`, 8)
	require.EqualError(t, err, "expected a single function, got 2")
}

func TestParse_errors(t *testing.T) {
	for _, tc := range []struct {
		name, src, expErr string
	}{
		{name: "empty", src: "", expErr: "line 1: no function"},
		{name: "no func", src: "b0:\n", expErr: "line 1: expected func"},
		{name: "no regs", src: "func f\nb0:\n", expErr: "line 1: register file size not set"},
		{name: "bad regs", src: "func f regs=x\nb0:\n", expErr: `line 1: invalid register count "x"`},
		{name: "no block", src: "func f regs=4\n", expErr: "line 1: function f has no block"},
		{name: "outside block", src: "func f regs=4\nret\nb0:\n", expErr: "line 2: instruction outside of a block"},
		{name: "duplicate label", src: "func f regs=4\nb0:\nb0:\n", expErr: "line 3: duplicate label b0"},
		{name: "unknown opcode", src: "func f regs=4\nb0:\n  frob\n", expErr: `line 3: unknown opcode "frob"`},
		{name: "unknown block", src: "func f regs=4\nb0:\n  jmp -> b9\n", expErr: "line 3: unknown block b9"},
		{name: "no width", src: "func f regs=4\nb0:\n  %0 = load\n", expErr: `line 3: destination "%0" has no width`},
		{name: "zero width", src: "func f regs=4\nb0:\n  %0:0 = load\n", expErr: `line 3: invalid width "0"`},
		{name: "defined twice", src: "func f regs=4\nb0:\n  %0:1 = load\n  %0:1 = load\n", expErr: "line 4: %0 defined twice"},
		{name: "undefined", src: "func f regs=4\nb0:\n  store %3\n", expErr: "line 3: %3 is never defined"},
		{name: "after terminator", src: "func f regs=4\nb0:\n  ret\n  ret\n", expErr: "line 4: instruction after terminator ret"},
		{name: "bad flag", src: "func f regs=4\nb0:\n  store r0:1.hot\n", expErr: `line 3: unknown flag "hot" in "r0:1.hot"`},
		{name: "inverted jump", src: "func f regs=4\nb0:\n  jmp.not -> b0\n", expErr: "line 3: jmp cannot be inverted"},
		{name: "branch without target", src: "func f regs=4\nb0:\n  br #1\n", expErr: "line 3: expected br COND -> LABEL"},
		{name: "branch at the end", src: "func f regs=4\nb0:\n  br #1 -> b0\n", expErr: "f: conditional branch in the last block b0"},
		{
			name:   "phi arity",
			src:    "func f regs=4\nb0:\n  %0:1 = load\nb1:\n  %1:1 = phi %0, %0\n",
			expErr: `f: b1 has 1 predecessors but "%1:1 = phi %0, %0" has 2 sources`,
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseModule(tc.src, 0)
			require.EqualError(t, err, tc.expErr)
		})
	}

	_, err := Parse("func f regs=4\nb0:\n  frob\n", 0)
	var se *SyntaxError
	require.True(t, errors.As(err, &se))
	require.Equal(t, 3, se.Line)
}
