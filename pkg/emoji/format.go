package emoji

import (
	"fmt"
	"strings"
)

// Format renders a program back to canonical emoji source, one node per line.
// Parsing the result yields an equivalent instruction list.
func Format(p *Program) string {
	var b strings.Builder
	for _, n := range p.Nodes {
		switch n.Kind {
		case NodeComment:
			b.WriteString(CommentMarker + " " + n.Text)
		case NodeLabel:
			b.WriteString(LabelMarker + variationSelector + " " + n.Name)
		case NodeInstruction:
			inst := p.Instructions[n.Index]
			b.WriteString(inst.Op.Emoji())
			if needsSelector(inst.Op.Emoji()) {
				b.WriteString(variationSelector)
			}
			if inst.Operand.Kind != OperandNone {
				b.WriteString(" " + inst.Operand.String())
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// FormatMnemonic renders a program using mnemonics instead of emoji.
func FormatMnemonic(p *Program) string {
	var b strings.Builder
	for _, n := range p.Nodes {
		switch n.Kind {
		case NodeComment:
			b.WriteString("# " + n.Text)
		case NodeLabel:
			b.WriteString(n.Name + ":")
		case NodeInstruction:
			b.WriteString(p.Instructions[n.Index].String())
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// needsSelector reports whether an emoji is a text-default symbol that renders
// as emoji only with U+FE0F appended.
func needsSelector(e string) bool {
	switch e {
	case "✖", "⚖", "↩", "⬆", "⬇", "🖨", "⌨":
		return true
	}
	return false
}

// Disassemble lists instructions with their index, labels and source line.
func Disassemble(p *Program) []string {
	out := make([]string, 0, len(p.Instructions))
	for i, inst := range p.Instructions {
		line := fmt.Sprintf("%04d  %s %-14s line %d", i, inst.Op.Emoji(), inst.String(), inst.Pos.Line)
		if names := p.LabelsAt(i); len(names) > 0 {
			line += "  <" + strings.Join(names, ", ") + ">"
		}
		out = append(out, line)
	}
	return out
}
