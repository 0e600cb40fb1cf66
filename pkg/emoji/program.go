package emoji

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// NumRegisters is the size of the register file.
const NumRegisters = 8

// Register identifies one of R0..R7.
type Register uint8

func (r Register) String() string { return fmt.Sprintf("R%d", uint8(r)) }

// Valid reports whether r names an existing register.
func (r Register) Valid() bool { return r < NumRegisters }

// Location is a 1-based source position.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

func (l Location) String() string { return fmt.Sprintf("%d:%d", l.Line, l.Column) }

// OperandKind tells which of the operand fields is meaningful.
type OperandKind byte

const (
	OperandNone OperandKind = iota
	OperandImmediate
	OperandRegister
	OperandLabel
)

// Operand is the optional argument of an instruction.
type Operand struct {
	Kind     OperandKind
	Value    int32    // OperandImmediate
	Register Register // OperandRegister
	Label    string   // OperandLabel
	Target   int      // resolved instruction index for OperandLabel, -1 if unresolved
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandImmediate:
		return fmt.Sprintf("%d", o.Value)
	case OperandRegister:
		return o.Register.String()
	case OperandLabel:
		return o.Label
	}
	return ""
}

// Instruction is one executable node.
type Instruction struct {
	Op      OpCode
	Operand Operand
	Pos     Location
	// End is the index following the block closed by the matching end-of-block
	// opcode. Only set for OP_LOOP.
	End int
}

func (i Instruction) String() string {
	if i.Operand.Kind == OperandNone {
		return i.Op.String()
	}
	return i.Op.String() + " " + i.Operand.String()
}

// NodeKind classifies a source node.
type NodeKind byte

const (
	NodeInstruction NodeKind = iota
	NodeLabel
	NodeComment
)

// Node is one meaningful source line.
type Node struct {
	Kind  NodeKind
	Pos   Location
	Index int    // instruction index (NodeInstruction) or label target (NodeLabel)
	Name  string // label name
	Text  string // comment text
}

// Diagnostic is a parse problem tied to a source location.
type Diagnostic struct {
	Pos     Location
	Code    string
	Message string
	Fatal   bool
}

func (d Diagnostic) String() string {
	severity := "warning"
	if d.Fatal {
		severity = "error"
	}
	return fmt.Sprintf("line %d, column %d: %s: %s", d.Pos.Line, d.Pos.Column, severity, d.Message)
}

// Program is the immutable result of Parse. Callers must not modify it.
type Program struct {
	ID           string
	Source       string
	Nodes        []Node
	Instructions []Instruction
	Labels       map[string]int
	Diagnostics  []Diagnostic
	Valid        bool
}

// Len returns the number of instructions.
func (p *Program) Len() int { return len(p.Instructions) }

// At returns the instruction at index i.
func (p *Program) At(i int) (Instruction, bool) {
	if i < 0 || i >= len(p.Instructions) {
		return Instruction{}, false
	}
	return p.Instructions[i], true
}

// ResolveLabel returns the instruction index a label points at.
func (p *Program) ResolveLabel(name string) (int, bool) {
	idx, ok := p.Labels[name]
	return idx, ok
}

// LabelsAt lists the labels pointing at instruction index i.
func (p *Program) LabelsAt(i int) []string {
	var names []string
	for _, n := range p.Nodes {
		if n.Kind == NodeLabel && n.Index == i {
			names = append(names, n.Name)
		}
	}
	return names
}

// Errors returns only the fatal diagnostics.
func (p *Program) Errors() []Diagnostic {
	var out []Diagnostic
	for _, d := range p.Diagnostics {
		if d.Fatal {
			out = append(out, d)
		}
	}
	return out
}

// Err summarizes the fatal diagnostics as an error, nil for a valid program.
func (p *Program) Err() error {
	if p.Valid {
		return nil
	}
	errs := p.Errors()
	if len(errs) == 0 {
		return ErrEmptyProgram
	}
	if len(errs) == 1 {
		return fmt.Errorf("%w: %s", ErrInvalidProgram, errs[0])
	}
	return fmt.Errorf("%w: %s (and %d more)", ErrInvalidProgram, errs[0], len(errs)-1)
}

// SourceID derives the program identity from its source text.
func SourceID(source string) string {
	sum := blake2b.Sum256([]byte(normalizeNewlines(source)))
	return hex.EncodeToString(sum[:])
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// Equivalent reports whether two instruction lists execute identically.
// Source positions are ignored.
func Equivalent(a, b []Instruction) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.Op != y.Op || x.End != y.End || x.Operand.Kind != y.Operand.Kind {
			return false
		}
		switch x.Operand.Kind {
		case OperandImmediate:
			if x.Operand.Value != y.Operand.Value {
				return false
			}
		case OperandRegister:
			if x.Operand.Register != y.Operand.Register {
				return false
			}
		case OperandLabel:
			if x.Operand.Target != y.Operand.Target {
				return false
			}
		}
	}
	return true
}
