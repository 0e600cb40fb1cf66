package emoji

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/antibyte/emojivm/pkg/logger"
)

// parser holds the state of one Parse call.
type parser struct {
	lines  []sourceLine
	labels map[string]int
	prog   *Program
}

// Parse turns source text into a Program. It never fails: every problem is
// recorded as a diagnostic and parsing continues with the next line.
func Parse(source string) *Program {
	p := &parser{
		labels: make(map[string]int),
		prog: &Program{
			ID:     SourceID(source),
			Source: source,
		},
	}

	for i, line := range strings.Split(normalizeNewlines(source), "\n") {
		p.lines = append(p.lines, lexLine(i+1, line))
	}

	p.collectLabels()
	p.parseLines()
	p.matchBlocks()

	if len(p.prog.Instructions) == 0 {
		p.fatal(Location{Line: 1, Column: 1}, CodeEmptyProgram, "program has no instructions")
	}

	p.prog.Labels = p.labels
	p.prog.Valid = len(p.prog.Errors()) == 0

	logger.Debug(logger.AreaParser, "parsed program %s: %d instructions, %d diagnostics, valid=%v",
		shortID(p.prog.ID), len(p.prog.Instructions), len(p.prog.Diagnostics), p.prog.Valid)
	return p.prog
}

func (p *parser) fatal(pos Location, code, format string, args ...interface{}) {
	p.prog.Diagnostics = append(p.prog.Diagnostics, Diagnostic{
		Pos:     pos,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Fatal:   true,
	})
}

// labelDefinition recognizes "🏷️ name" and "name:" lines.
func labelDefinition(line sourceLine) (name string, pos Location, ok bool) {
	toks := line.tokens
	if len(toks) == 0 {
		return "", Location{}, false
	}
	first := strings.ReplaceAll(toks[0].text, variationSelector, "")
	if first == LabelMarker {
		if len(toks) < 2 {
			return "", Location{Line: line.no, Column: toks[0].col}, true
		}
		return toks[1].text, Location{Line: line.no, Column: toks[1].col}, true
	}
	if strings.HasPrefix(first, LabelMarker) {
		rest := strings.TrimPrefix(first, LabelMarker)
		return rest, Location{Line: line.no, Column: toks[0].col + 1}, true
	}
	if len(toks) == 1 && strings.HasSuffix(first, ":") {
		return strings.TrimSuffix(first, ":"), Location{Line: line.no, Column: toks[0].col}, true
	}
	return "", Location{}, false
}

// opcodeOf returns the opcode of an instruction line, splitting a glued operand.
func opcodeOf(line sourceLine) (OpCode, []token, bool) {
	if line.blank() {
		return OP_INVALID, nil, false
	}
	toks := append(splitGlued(line.tokens[0]), line.tokens[1:]...)
	op, ok := LookupToken(toks[0].text)
	return op, toks, ok
}

// collectLabels is pass one: it assigns every label the index of the
// instruction that follows it.
func (p *parser) collectLabels() {
	index := 0
	for _, line := range p.lines {
		if line.blank() {
			continue
		}
		if name, pos, ok := labelDefinition(line); ok {
			switch {
			case !isIdentifier(name):
				p.fatal(pos, CodeInvalidLabel, "invalid label name %q", name)
			case looksLikeRegister(name):
				p.fatal(pos, CodeInvalidLabel, "label %q looks like a register", name)
			default:
				if _, dup := p.labels[name]; dup {
					p.fatal(pos, CodeDuplicateLabel, "label %q is already defined", name)
					continue
				}
				p.labels[name] = index
			}
			continue
		}
		if _, _, ok := opcodeOf(line); ok {
			index++
		}
	}
}

// parseLines is pass two: it builds nodes and instructions and resolves label operands.
func (p *parser) parseLines() {
	for _, line := range p.lines {
		if line.blank() {
			if line.hasComment {
				p.prog.Nodes = append(p.prog.Nodes, Node{
					Kind: NodeComment,
					Pos:  Location{Line: line.no, Column: line.commentCol},
					Text: line.comment,
				})
			}
			continue
		}

		if name, pos, ok := labelDefinition(line); ok {
			if idx, known := p.labels[name]; known {
				p.prog.Nodes = append(p.prog.Nodes, Node{Kind: NodeLabel, Pos: pos, Index: idx, Name: name})
			}
			continue
		}

		op, toks, ok := opcodeOf(line)
		if !ok {
			p.fatal(Location{Line: line.no, Column: toks[0].col}, CodeUnknownOpcode,
				"unknown instruction %q", toks[0].text)
			continue
		}

		inst := Instruction{
			Op:  op,
			Pos: Location{Line: line.no, Column: toks[0].col},
		}
		inst.Operand = p.parseOperand(op, toks[1:], inst.Pos)
		p.prog.Nodes = append(p.prog.Nodes, Node{Kind: NodeInstruction, Pos: inst.Pos, Index: len(p.prog.Instructions)})
		p.prog.Instructions = append(p.prog.Instructions, inst)
	}
}

// parseOperand checks the operand tokens against the shape op enforces.
func (p *parser) parseOperand(op OpCode, toks []token, at Location) Operand {
	shape := op.Shape()
	none := Operand{Kind: OperandNone, Target: -1}

	if len(toks) == 0 {
		if shape.Requires() {
			p.fatal(at, CodeMissingOperand, "%s needs a %s", op, shape)
		}
		return none
	}
	pos := Location{Line: at.Line, Column: toks[0].col}
	if !shape.Allows() {
		p.fatal(pos, CodeUnexpectedOperand, "%s does not take an operand", op)
		return none
	}
	if len(toks) > 1 {
		p.fatal(Location{Line: at.Line, Column: toks[1].col}, CodeTooManyOperands,
			"%s takes a single operand", op)
		return none
	}

	operand, err := classifyOperand(toks[0].text)
	if err != nil {
		var oe *operandError
		if errors.As(err, &oe) {
			p.fatal(pos, oe.code, "%s", oe.msg)
		}
		return none
	}

	switch shape {
	case ShapeValue, ShapeOptionalValue:
		if operand.Kind == OperandLabel {
			p.fatal(pos, CodeWrongOperandKind, "%s needs a %s, got label %q", op, shape, operand.Label)
			return none
		}
	case ShapeRegister, ShapeOptionalRegister:
		if operand.Kind != OperandRegister {
			p.fatal(pos, CodeWrongOperandKind, "%s needs a register, got %q", op, toks[0].text)
			return none
		}
	case ShapeLabel:
		if operand.Kind != OperandLabel {
			p.fatal(pos, CodeWrongOperandKind, "%s needs a label, got %q", op, toks[0].text)
			return none
		}
		target, ok := p.labels[operand.Label]
		if !ok {
			p.fatal(pos, CodeUnresolvedLabel, "label %q is not defined", operand.Label)
		} else {
			operand.Target = target
		}
	}
	return operand
}

type operandError struct {
	code string
	msg  string
}

func (e *operandError) Error() string { return e.msg }

// classifyOperand recognizes a signed decimal, a register or a label name.
func classifyOperand(text string) (Operand, error) {
	op := Operand{Target: -1}
	switch {
	case isNumber(text):
		v, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return op, &operandError{CodeNumberRange, fmt.Sprintf("number %s does not fit in 32 bits", text)}
		}
		op.Kind = OperandImmediate
		op.Value = int32(v)
	case looksLikeRegister(text):
		n, err := strconv.Atoi(text[1:])
		if err != nil || n >= NumRegisters {
			return op, &operandError{CodeUnknownRegister, fmt.Sprintf("unknown register %s (use R0 to R7)", text)}
		}
		op.Kind = OperandRegister
		op.Register = Register(n)
	case isIdentifier(text):
		op.Kind = OperandLabel
		op.Label = text
	default:
		return op, &operandError{CodeInvalidOperand, fmt.Sprintf("invalid operand %q", text)}
	}
	return op, nil
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '+' || s[0] == '-' {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// matchBlocks pairs every LOOP with the end-of-block opcode that closes it.
func (p *parser) matchBlocks() {
	var open []int
	insts := p.prog.Instructions
	for i := range insts {
		switch {
		case insts[i].Op == OP_LOOP:
			open = append(open, i)
		case insts[i].Op.ClosesLoop():
			if len(open) == 0 {
				if insts[i].Op == OP_ENDLOOP {
					p.fatal(insts[i].Pos, CodeStrayEndLoop, "ENDLOOP without a matching LOOP")
				}
				continue
			}
			loop := open[len(open)-1]
			open = open[:len(open)-1]
			insts[loop].End = i + 1
		}
	}
	for _, loop := range open {
		p.fatal(insts[loop].Pos, CodeUnmatchedLoop, "LOOP is never closed with RETURN or ENDLOOP")
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
