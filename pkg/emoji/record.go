package emoji

import "github.com/antibyte/emojivm/pkg/shared"

// Record converts the program to its exchange format.
func (p *Program) Record() shared.ProgramRecord {
	rec := shared.ProgramRecord{
		SchemaVersion: shared.SchemaVersion,
		ID:            p.ID,
		SourceText:    p.Source,
		Valid:         p.Valid,
		Instructions:  make([]shared.InstructionRecord, 0, len(p.Instructions)),
		Diagnostics:   make([]shared.DiagnosticRecord, 0, len(p.Diagnostics)),
	}
	for i, inst := range p.Instructions {
		ir := shared.InstructionRecord{
			Index:   i,
			Op:      inst.Op.String(),
			Operand: inst.Operand.String(),
			Line:    inst.Pos.Line,
			Column:  inst.Pos.Column,
		}
		if inst.Operand.Kind == OperandLabel && inst.Operand.Target >= 0 {
			target := inst.Operand.Target
			ir.Target = &target
		}
		rec.Instructions = append(rec.Instructions, ir)
	}
	for _, d := range p.Diagnostics {
		rec.Diagnostics = append(rec.Diagnostics, shared.DiagnosticRecord{
			Line:    d.Pos.Line,
			Column:  d.Pos.Column,
			Code:    d.Code,
			Message: d.Message,
			Fatal:   d.Fatal,
		})
	}
	return rec
}

// FromRecord rebuilds a program from its exchange format. The source text is
// authoritative; the returned flag reports whether the recorded instruction
// list agrees with it.
func FromRecord(rec *shared.ProgramRecord) (*Program, bool) {
	p := Parse(rec.SourceText)
	if len(rec.Instructions) != len(p.Instructions) {
		return p, false
	}
	for i, ir := range rec.Instructions {
		inst := p.Instructions[i]
		op, ok := LookupMnemonic(ir.Op)
		if !ok || op != inst.Op || ir.Operand != inst.Operand.String() {
			return p, false
		}
	}
	return p, true
}
