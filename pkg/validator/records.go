package validator

import (
	"github.com/antibyte/emojivm/pkg/emoji"
	"github.com/antibyte/emojivm/pkg/shared"
	"github.com/antibyte/emojivm/pkg/vm"
)

// Input and output caps for lesson content.
const (
	MaxStepInputs    = 1000
	MaxExpectedLines = 1000
)

var frameKinds = map[string]bool{
	vm.FrameData.String(): true,
	vm.FrameCall.String(): true,
	vm.FrameLoop.String(): true,
}

func checkSchema(r *Report, version int) {
	if version != shared.SchemaVersion {
		r.warnf(CodeSchemaVersion, "schemaVersion", "schema version %d, this build reads %d", version, shared.SchemaVersion)
	}
}

// ValidateProgramRecord checks an imported program. The source text is
// authoritative: it is re-parsed and the recorded instruction list, validity
// and id are compared against the result.
func ValidateProgramRecord(rec *shared.ProgramRecord) Report {
	var r Report
	if rec == nil {
		r.errorf(CodeMissing, "", "program record is missing")
		return r
	}
	checkSchema(&r, rec.SchemaVersion)

	if rec.SourceText == "" {
		r.errorf(CodeMissing, "sourceText", "source text is empty")
		r.log("program record")
		return r
	}

	for i, ir := range rec.Instructions {
		path := index("instructions", i)
		if ir.Index != i {
			r.errorf(CodeInconsistent, join(path, "index"), "index %d at position %d", ir.Index, i)
		}
		if _, ok := emoji.LookupMnemonic(ir.Op); !ok {
			r.errorf(CodeInvalidValue, join(path, "op"), "unknown opcode %q", ir.Op)
		}
		if ir.Target != nil && (*ir.Target < 0 || *ir.Target > len(rec.Instructions)) {
			r.errorf(CodeOutOfRange, join(path, "target"), "jump target %d outside 0..%d", *ir.Target, len(rec.Instructions))
		}
		if ir.Line < 1 {
			r.warnf(CodeOutOfRange, join(path, "line"), "line %d is not a source line", ir.Line)
		}
	}

	p, same := emoji.FromRecord(rec)
	if !same {
		r.warnf(CodeMismatch, "instructions", "recorded instructions differ from the parsed source; the source wins")
	}
	if rec.Valid != p.Valid {
		r.warnf(CodeMismatch, "valid", "recorded valid=%v, source parses as valid=%v", rec.Valid, p.Valid)
	}
	if rec.ID != "" && rec.ID != p.ID {
		r.warnf(CodeMismatch, "id", "id does not match the source hash")
	}
	if !p.Valid {
		r.warnf(CodeSourceInvalid, "sourceText", "source has %d fatal diagnostics", len(p.Errors()))
	}

	r.log("program record")
	return r
}

// ValidateSnapshotRecord checks a persisted or imported snapshot.
func ValidateSnapshotRecord(rec *shared.SnapshotRecord) Report {
	var r Report
	if rec == nil {
		r.errorf(CodeMissing, "", "snapshot record is missing")
		return r
	}
	checkSchema(&r, rec.SchemaVersion)

	if n := len(rec.CPU.Registers); n != emoji.NumRegisters {
		r.errorf(CodeInvalidValue, "cpu.registers", "%d registers, want %d", n, emoji.NumRegisters)
	}
	if rec.CPU.PC < 0 {
		r.errorf(CodeOutOfRange, "cpu.pc", "negative program counter %d", rec.CPU.PC)
	}
	if flags := countTrue(rec.CPU.Flags.Equal, rec.CPU.Flags.Less, rec.CPU.Flags.Greater); flags > 1 {
		r.errorf(CodeInconsistent, "cpu.flags", "%d comparison flags set at once", flags)
	}

	if n := len(rec.Memory); n != vm.MemorySize {
		r.errorf(CodeInvalidValue, "memory", "%d memory cells, want %d", n, vm.MemorySize)
	}
	for i, v := range rec.Memory {
		if v < 0 || v > 255 {
			r.errorf(CodeOutOfRange, index("memory", i), "cell holds %d, not a byte", v)
		}
	}

	for i, e := range rec.Stack {
		path := index("stack", i)
		if !frameKinds[e.Kind] {
			r.errorf(CodeInvalidValue, join(path, "kind"), "unknown stack entry kind %q", e.Kind)
		}
		if e.Return < 0 || e.BodyStart < 0 {
			r.errorf(CodeOutOfRange, path, "negative return or body address")
		}
	}

	status, ok := vm.ParseStatus(rec.Status)
	if !ok {
		r.errorf(CodeInvalidValue, "status", "unknown status %q", rec.Status)
	}

	if rec.Stats.Cycles < 0 || rec.Stats.Instructions < 0 || rec.Stats.SleepTicks < 0 {
		r.errorf(CodeOutOfRange, "stats", "negative counters")
	}
	if rec.Stats.Instructions > rec.Stats.Cycles {
		r.warnf(CodeInconsistent, "stats", "%d instructions in %d cycles", rec.Stats.Instructions, rec.Stats.Cycles)
	}

	if ok {
		switch {
		case status == vm.StatusError && rec.Error == nil:
			r.errorf(CodeMissing, "error", "status ERROR without an error")
		case status != vm.StatusError && rec.Error != nil:
			r.errorf(CodeInconsistent, "error", "error present with status %s", status)
		}
		if rec.CPU.Halted != status.Terminal() {
			r.warnf(CodeInconsistent, "cpu.halted", "halted=%v with status %s", rec.CPU.Halted, status)
		}
		if rec.AwaitingInput && status != vm.StatusRunning && status != vm.StatusPaused {
			r.warnf(CodeInconsistent, "awaitingInput", "awaiting input with status %s", status)
		}
	}

	if rec.Error != nil {
		if rec.Error.Code == "" {
			r.errorf(CodeMissing, "error.code", "error code is empty")
		} else if _, known := vm.FriendlyErrorTexts[rec.Error.Code]; !known {
			r.warnf(CodeInvalidValue, "error.code", "unknown error code %q", rec.Error.Code)
		} else if limit := (&vm.RuntimeError{Code: rec.Error.Code}).IsLimit(); limit != rec.Error.Limit {
			r.warnf(CodeInconsistent, "error.limit", "limit=%v for code %s", rec.Error.Limit, rec.Error.Code)
		}
	}

	r.log("snapshot record")
	return r
}

// ValidateStep checks one lesson step.
func ValidateStep(rec *shared.StepRecord) Report {
	var r Report
	if rec == nil {
		r.errorf(CodeMissing, "", "step is missing")
		return r
	}
	if rec.ID == "" {
		r.errorf(CodeMissing, "id", "step id is empty")
	}
	if rec.ExpectedOutput == nil {
		r.errorf(CodeMissing, "expectedOutput", "expected output is missing")
	} else if len(rec.ExpectedOutput) == 0 {
		r.warnf(CodeUnexpectedEmpty, "expectedOutput", "step expects no output")
	}
	if len(rec.ExpectedOutput) > MaxExpectedLines {
		r.errorf(CodeOutOfRange, "expectedOutput", "%d expected lines, at most %d", len(rec.ExpectedOutput), MaxExpectedLines)
	}
	if len(rec.Inputs) > MaxStepInputs {
		r.errorf(CodeOutOfRange, "inputs", "%d inputs, at most %d", len(rec.Inputs), MaxStepInputs)
	}

	if l := rec.Limits; l != nil {
		check := func(field string, v int) {
			if v < 0 {
				r.errorf(CodeOutOfRange, join("limits", field), "limit %d is negative", v)
			}
		}
		check("maxCycles", l.MaxCycles)
		check("maxStackDepth", l.MaxStackDepth)
		check("maxOutputLines", l.MaxOutputLines)
		if l.MaxOutputLines > 0 && len(rec.ExpectedOutput) > l.MaxOutputLines {
			r.errorf(CodeInconsistent, "limits.maxOutputLines", "expects %d lines but allows %d", len(rec.ExpectedOutput), l.MaxOutputLines)
		}
	}

	if rec.StarterSource != "" {
		if p := emoji.Parse(rec.StarterSource); !p.Valid {
			r.warnf(CodeSourceInvalid, "starterSource", "starter source has %d fatal diagnostics", len(p.Errors()))
		}
	}
	return r
}

// ValidateLesson checks a lesson and every step in it.
func ValidateLesson(rec *shared.LessonRecord) Report {
	var r Report
	if rec == nil {
		r.errorf(CodeMissing, "", "lesson is missing")
		return r
	}
	checkSchema(&r, rec.SchemaVersion)
	if rec.ID == "" {
		r.errorf(CodeMissing, "id", "lesson id is empty")
	}
	if rec.Title == "" {
		r.warnf(CodeMissing, "title", "lesson has no title")
	}
	if len(rec.Steps) == 0 {
		r.errorf(CodeUnexpectedEmpty, "steps", "lesson has no steps")
	}

	seen := make(map[string]int, len(rec.Steps))
	for i := range rec.Steps {
		path := index("steps", i)
		step := &rec.Steps[i]
		r.Merge(path, ValidateStep(step))
		if step.ID == "" {
			continue
		}
		if first, dup := seen[step.ID]; dup {
			r.errorf(CodeDuplicate, join(path, "id"), "step id %q already used by steps[%d]", step.ID, first)
			continue
		}
		seen[step.ID] = i
	}

	r.log("lesson " + rec.ID)
	return r
}

func countTrue(bs ...bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}
