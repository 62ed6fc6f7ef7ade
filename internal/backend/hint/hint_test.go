package hint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadercore/shadercore/internal/ir"
	"github.com/shadercore/shadercore/internal/irtext"
)

func allocated(t *testing.T, src string) *ir.Function {
	f, err := irtext.Parse(src, 0)
	require.NoError(t, err)
	f.MarkAllocated()
	return f
}

func TestRun(t *testing.T) {
	for _, tc := range []struct {
		name string
		src  string
		exp  string
	}{
		{
			name: "alu chain",
			src: `func chain regs=8
b0:
  r0:1 = load
  r1:1 = load
  r2:1 = fadd r0:1, r1:1
  r3:1 = fmul r2:1, r0:1
  store r3:1, r2:1
  ret
`,
			exp: `func chain regs=8
b0:
  r0:1.cache = load
  r1:1.cache = load
  r2:1.cache = fadd r0:1.cache, r1:1.discard
  r3:1 = fmul r2:1, r0:1.discard
  store r3:1.discard, r2:1.discard
  ret
`,
		},
		{
			name: "duplicate read",
			src: `func dup regs=8
b0:
  r0:1 = load
  r1:1 = fadd r0:1, r0:1
  store r1:1
`,
			exp: `func dup regs=8
b0:
  r0:1.cache = load
  r1:1 = fadd r0:1, r0:1.discard
  store r1:1.discard
`,
		},
		{
			name: "overwritten source",
			src: `func overwrite regs=8
b0:
  r0:1 = load
  r0:1 = iadd r0:1, #1
  store r0:1
`,
			exp: `func overwrite regs=8
b0:
  r0:1.cache = load
  r0:1 = iadd r0:1.discard, #1
  store r0:1.discard
`,
		},
		{
			name: "partially overwritten vector",
			src: `func partial regs=8
b0:
  r0:2 = load
  r1:1 = iadd r0:2, #1
  store r0:1, r1:1
`,
			exp: `func partial regs=8
b0:
  r0:2.cache = load
  r1:1 = iadd r0:2, #1
  store r0:1.discard, r1:1.discard
`,
		},
		{
			name: "live out",
			src: `func liveout regs=8
b0:
  r0:1 = load
  br r0:1 -> b2
b1:
  store r0:1
b2:
  ret
`,
			exp: `func liveout regs=8
b0:
  r0:1 = load
  br r0:1 -> b2
b1:
  store r0:1.discard
b2:
  ret
`,
		},
		{
			name: "divergent",
			src: `func divergent regs=8
b0 divergent:
  r0:1 = load
  r1:1 = load
  r2:1 = fadd r0:1, r1:1
  store r2:1
`,
			exp: `func divergent regs=8
b0 divergent:
  r0:1.cache = load
  r1:1.cache = load
  r2:1 = fadd r0:1, r1:1
  store r2:1
`,
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			f := allocated(t, tc.src)
			Run(f)
			require.Equal(t, tc.exp, f.Format())
		})
	}
}

func TestRun_exclusive(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("func exclusive regs=8\n")
	for _, divergent := range []bool{false, true} {
		if divergent {
			sb.WriteString("b1 divergent:\n")
		} else {
			sb.WriteString("b0:\n")
		}
		sb.WriteString(`  r0:2 = load
  r2:1 = fadd r0:1, r1:1
  r3:1 = ffma r2:1, r2:1, r0:1
  r0:1 = iadd r3:1, r0:1
  r4:4 = tex r0:1, r1:1
  r1:1 = fmul r4:1, r5:1
  store r1:1, r6:2, r2:1
`)
	}
	f := allocated(t, sb.String())
	Run(f)
	for _, b := range f.Blocks() {
		for instr := b.Root(); instr != nil; instr = instr.Next() {
			for _, s := range instr.Srcs() {
				require.False(t, s.Cache && s.Discard, instr.String())
				if b.Divergent() {
					require.False(t, s.Discard, instr.String())
				}
			}
		}
	}
}

func TestRun_notAllocated(t *testing.T) {
	f, err := irtext.Parse("func f regs=4\nb0:\n  ret\n", 0)
	require.NoError(t, err)
	require.PanicsWithValue(t, "BUG: cache hints requested before register allocation", func() { Run(f) })
}
