// Package irtext reads the textual form of the IR, as printed by ir.Function.Format.
//
//	func NAME [regs=N]
//	bK [divergent]:
//	  %D:W[m], ... = op SRC, SRC, ...
//	  br[.not] SRC -> bT
//	  jmp -> bT
//	  ret
//
// Sources are SSA values (%N), immediates (#N), registers (rN:W) or memory slots (mN:W), the
// latter two optionally suffixed with .cache and .discard. Everything after a ';' is a comment.
// SSA values are renumbered densely in the order of their definitions.
// Edges are derived from the terminators and the layout, so phi sources are listed in the layout
// order of the predecessors.
package irtext

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shadercore/shadercore/internal/ir"
)

// SyntaxError is returned for malformed input.
type SyntaxError struct {
	Line int
	Msg  string
}

// Error implements error.
func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// ParseModule parses every function of src. regFileSize is used by functions that do not set regs=N.
func ParseModule(src string, regFileSize int) ([]*ir.Function, error) {
	var (
		ret   []*ir.Function
		cur   *funcSource
		funcs []*funcSource
	)
	for i, line := range strings.Split(src, "\n") {
		if c := strings.IndexByte(line, ';'); c >= 0 {
			line = line[:c]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "func ") || line == "func" {
			cur = &funcSource{header: line, headerLine: i + 1}
			funcs = append(funcs, cur)
			continue
		}
		if cur == nil {
			return nil, &SyntaxError{Line: i + 1, Msg: "expected func"}
		}
		cur.lines = append(cur.lines, sourceLine{no: i + 1, text: line})
	}
	if len(funcs) == 0 {
		return nil, &SyntaxError{Line: 1, Msg: "no function"}
	}

	for _, fs := range funcs {
		f, err := fs.parse(regFileSize)
		if err != nil {
			return nil, err
		}
		ret = append(ret, f)
	}
	return ret, nil
}

// Parse parses src, which must hold exactly one function.
func Parse(src string, regFileSize int) (*ir.Function, error) {
	funcs, err := ParseModule(src, regFileSize)
	if err != nil {
		return nil, err
	}
	if len(funcs) != 1 {
		return nil, fmt.Errorf("expected a single function, got %d", len(funcs))
	}
	return funcs[0], nil
}

type sourceLine struct {
	no   int
	text string
}

type funcSource struct {
	header     string
	headerLine int
	lines      []sourceLine
}

// valueInfo is the width and class of an SSA value, known from its definition.
type valueInfo struct {
	width uint8
	class ir.Class
}

// use is a source operand whose width is only known once every definition was read.
type use struct {
	instr *ir.Instruction
	index int
	line  int
}

type parser struct {
	f      *ir.Function
	labels map[string]*ir.Block
	// numbers maps the value numbers of the text to the values of f.
	numbers map[uint32]ir.Value
	// values is indexed by the values of f.
	values []valueInfo
	uses   []use
}

func (fs *funcSource) parse(defaultRegs int) (*ir.Function, error) {
	fields := strings.Fields(fs.header)
	if len(fields) < 2 {
		return nil, &SyntaxError{Line: fs.headerLine, Msg: "missing function name"}
	}
	regs := defaultRegs
	for _, attr := range fields[2:] {
		v, ok := strings.CutPrefix(attr, "regs=")
		if !ok {
			return nil, &SyntaxError{Line: fs.headerLine, Msg: fmt.Sprintf("unknown attribute %q", attr)}
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, &SyntaxError{Line: fs.headerLine, Msg: fmt.Sprintf("invalid register count %q", v)}
		}
		regs = n
	}
	if regs <= 0 {
		return nil, &SyntaxError{Line: fs.headerLine, Msg: "register file size not set"}
	}

	p := &parser{
		f:       ir.NewFunction(fields[1], regs),
		labels:  map[string]*ir.Block{},
		numbers: map[uint32]ir.Value{},
	}

	// Labels first, so that branches can refer to blocks laid out later.
	for _, l := range fs.lines {
		if !strings.HasSuffix(l.text, ":") {
			continue
		}
		attrs := strings.Fields(strings.TrimSuffix(l.text, ":"))
		if len(attrs) == 0 {
			return nil, &SyntaxError{Line: l.no, Msg: "empty label"}
		}
		if _, ok := p.labels[attrs[0]]; ok {
			return nil, &SyntaxError{Line: l.no, Msg: fmt.Sprintf("duplicate label %s", attrs[0])}
		}
		blk := p.f.AllocateBlock()
		for _, a := range attrs[1:] {
			if a != "divergent" {
				return nil, &SyntaxError{Line: l.no, Msg: fmt.Sprintf("unknown block attribute %q", a)}
			}
			blk.SetDivergent(true)
		}
		p.labels[attrs[0]] = blk
	}
	if p.f.NumBlocks() == 0 {
		return nil, &SyntaxError{Line: fs.headerLine, Msg: fmt.Sprintf("function %s has no block", fields[1])}
	}

	var blk *ir.Block
	for _, l := range fs.lines {
		if strings.HasSuffix(l.text, ":") {
			blk = p.labels[strings.Fields(strings.TrimSuffix(l.text, ":"))[0]]
			continue
		}
		if blk == nil {
			return nil, &SyntaxError{Line: l.no, Msg: "instruction outside of a block"}
		}
		if t := blk.Terminator(); t != nil {
			return nil, &SyntaxError{Line: l.no, Msg: fmt.Sprintf("instruction after terminator %s", t)}
		}
		if err := p.parseInstruction(blk, l); err != nil {
			return nil, err
		}
	}

	if err := p.resolveUses(); err != nil {
		return nil, err
	}
	if err := p.deriveEdges(); err != nil {
		return nil, err
	}
	return p.f, nil
}

func (p *parser) parseInstruction(blk *ir.Block, l sourceLine) error {
	text := l.text
	var dests []ir.Operand
	if lhs, rhs, ok := strings.Cut(text, "="); ok {
		for _, d := range splitList(lhs) {
			op, err := p.parseDest(d)
			if err != nil {
				return &SyntaxError{Line: l.no, Msg: err.Error()}
			}
			dests = append(dests, op)
		}
		text = strings.TrimSpace(rhs)
	}

	var target *ir.Block
	if body, label, ok := strings.Cut(text, "->"); ok {
		label = strings.TrimSpace(label)
		target = p.labels[label]
		if target == nil {
			return &SyntaxError{Line: l.no, Msg: fmt.Sprintf("unknown block %s", label)}
		}
		text = strings.TrimSpace(body)
	}

	name, rest, _ := strings.Cut(text, " ")
	invert := false
	if base, ok := strings.CutSuffix(name, ".not"); ok {
		name, invert = base, true
	}
	opcode, ok := ir.OpcodeByName(name)
	if !ok {
		return &SyntaxError{Line: l.no, Msg: fmt.Sprintf("unknown opcode %q", name)}
	}
	if invert && opcode != ir.OpcodeBr {
		return &SyntaxError{Line: l.no, Msg: fmt.Sprintf("%s cannot be inverted", name)}
	}

	var srcs []ir.Operand
	for _, s := range splitList(rest) {
		op, err := parseSource(s)
		if err != nil {
			return &SyntaxError{Line: l.no, Msg: err.Error()}
		}
		srcs = append(srcs, op)
	}

	var instr *ir.Instruction
	switch opcode {
	case ir.OpcodeBr:
		if target == nil || len(srcs) != 1 || len(dests) != 0 {
			return &SyntaxError{Line: l.no, Msg: "expected br COND -> LABEL"}
		}
		instr = blk.AppendBranch(srcs[0], target, invert)
	case ir.OpcodeJmp:
		if target == nil || len(srcs) != 0 || len(dests) != 0 {
			return &SyntaxError{Line: l.no, Msg: "expected jmp -> LABEL"}
		}
		instr = blk.AppendJump(target)
	default:
		if target != nil {
			return &SyntaxError{Line: l.no, Msg: fmt.Sprintf("%s has no target", name)}
		}
		instr = blk.Append(opcode, dests, srcs)
	}

	for k, s := range instr.Srcs() {
		if s.IsSSA() {
			p.uses = append(p.uses, use{instr: instr, index: k, line: l.no})
		}
	}
	return nil
}

// parseDest parses `%N:W` or `%N:Wm` for SSA values, or a register operand.
func (p *parser) parseDest(s string) (ir.Operand, error) {
	if !strings.HasPrefix(s, "%") {
		op, err := parseSource(s)
		if err != nil {
			return op, err
		}
		if !op.IsReg() {
			return op, fmt.Errorf("invalid destination %q", s)
		}
		return op, nil
	}
	num, width, ok := strings.Cut(s[1:], ":")
	if !ok {
		return ir.Operand{}, fmt.Errorf("destination %q has no width", s)
	}
	class := ir.ClassGPR
	if w, ok := strings.CutSuffix(width, "m"); ok {
		width, class = w, ir.ClassMem
	}
	n, err := parseUint(num)
	if err != nil {
		return ir.Operand{}, fmt.Errorf("invalid value %q", s)
	}
	w, err := parseWidth(width)
	if err != nil {
		return ir.Operand{}, err
	}
	if _, ok := p.numbers[n]; ok {
		return ir.Operand{}, fmt.Errorf("%%%d defined twice", n)
	}
	v := p.f.AllocateValue()
	p.numbers[n] = v
	p.values = append(p.values, valueInfo{width: w, class: class})
	return ir.SSA(v, w, class), nil
}

// parseSource parses a source operand. SSA sources get their width later, in resolveUses.
func parseSource(s string) (ir.Operand, error) {
	if s == "" {
		return ir.Operand{}, fmt.Errorf("empty operand")
	}
	switch s[0] {
	case '%':
		v, err := parseUint(s[1:])
		if err != nil {
			return ir.Operand{}, fmt.Errorf("invalid value %q", s)
		}
		return ir.SSA(ir.Value(v), 0, ir.ClassGPR), nil
	case '#':
		x, err := parseUint(s[1:])
		if err != nil {
			return ir.Operand{}, fmt.Errorf("invalid immediate %q", s)
		}
		return ir.Imm(x), nil
	case 'r', 'm':
		parts := strings.Split(s[1:], ".")
		num, width, ok := strings.Cut(parts[0], ":")
		if !ok {
			return ir.Operand{}, fmt.Errorf("register %q has no width", s)
		}
		r, err := parseUint(num)
		if err != nil {
			return ir.Operand{}, fmt.Errorf("invalid register %q", s)
		}
		w, err := parseWidth(width)
		if err != nil {
			return ir.Operand{}, err
		}
		class := ir.ClassGPR
		if s[0] == 'm' {
			class = ir.ClassMem
		}
		op := ir.Reg(r, w, class)
		for _, flag := range parts[1:] {
			switch flag {
			case "cache":
				op.Cache = true
			case "discard":
				op.Discard = true
			default:
				return ir.Operand{}, fmt.Errorf("unknown flag %q in %q", flag, s)
			}
		}
		return op, nil
	default:
		return ir.Operand{}, fmt.Errorf("invalid operand %q", s)
	}
}

func (p *parser) resolveUses() error {
	for _, u := range p.uses {
		src := &u.instr.Srcs()[u.index]
		v, ok := p.numbers[src.Value]
		if !ok {
			return &SyntaxError{Line: u.line, Msg: fmt.Sprintf("%%%d is never defined", src.Value)}
		}
		src.Value = uint32(v)
		src.Width, src.Class = p.values[v].width, p.values[v].class
	}
	return nil
}

// deriveEdges rebuilds the CFG and reports the layouts DeriveEdges cannot represent.
func (p *parser) deriveEdges() error {
	blocks := p.f.Blocks()
	last := blocks[len(blocks)-1]
	if t := last.Terminator(); t != nil && t.Opcode() == ir.OpcodeBr {
		return fmt.Errorf("%s: conditional branch in the last block %s", p.f.Name(), last)
	}
	p.f.DeriveEdges()
	for _, b := range blocks {
		n := len(b.Preds())
		for i := b.Root(); i != nil && i.IsPhi(); i = i.Next() {
			if len(i.Srcs()) != n {
				return fmt.Errorf("%s: %s has %d predecessors but %q has %d sources", p.f.Name(), b, n, i, len(i.Srcs()))
			}
		}
	}
	return nil
}

func splitList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseUint(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

func parseWidth(s string) (uint8, error) {
	w, err := strconv.ParseUint(s, 10, 8)
	if err != nil || w == 0 {
		return 0, fmt.Errorf("invalid width %q", s)
	}
	return uint8(w), nil
}
