// Package fixtures builds canonical snapshots, programs and lessons for
// tests and demo content. Every builder starts from a fixed default and
// applies explicit overrides in order.
package fixtures

import (
	"github.com/antibyte/emojivm/pkg/emoji"
	"github.com/antibyte/emojivm/pkg/shared"
	"github.com/antibyte/emojivm/pkg/vm"
)

// DefaultSource is the program behind the default lesson step.
const DefaultSource = "📥 10\n🖨️\n🛑\n"

// SnapshotOption overrides part of a snapshot.
type SnapshotOption func(*vm.Snapshot)

// Snapshot returns an IDLE snapshot with zeroed state, then applies opts.
func Snapshot(opts ...SnapshotOption) *vm.Snapshot {
	s := &vm.Snapshot{
		ProgramID: emoji.SourceID(DefaultSource),
		Status:    vm.StatusIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SnapshotRecord is Snapshot in exchange form.
func SnapshotRecord(opts ...SnapshotOption) *shared.SnapshotRecord {
	rec := Snapshot(opts...).Record()
	return &rec
}

// WithStatus sets the status. Terminal statuses also set CPU.Halted.
func WithStatus(status vm.Status) SnapshotOption {
	return func(s *vm.Snapshot) {
		s.Status = status
		s.CPU.Halted = status.Terminal()
	}
}

// WithRegister sets register r.
func WithRegister(r int, v int32) SnapshotOption {
	return func(s *vm.Snapshot) { s.CPU.Registers[r] = v }
}

// WithPC sets the program counter.
func WithPC(pc int) SnapshotOption {
	return func(s *vm.Snapshot) { s.CPU.PC = pc }
}

// WithFlags sets the comparison flags.
func WithFlags(f vm.Flags) SnapshotOption {
	return func(s *vm.Snapshot) { s.CPU.Flags = f }
}

// WithMemory writes consecutive bytes starting at addr.
func WithMemory(addr int, values ...byte) SnapshotOption {
	return func(s *vm.Snapshot) { copy(s.Memory[addr:], values) }
}

// WithData pushes data entries, bottom first.
func WithData(values ...int32) SnapshotOption {
	return func(s *vm.Snapshot) {
		for _, v := range values {
			s.Stack = append(s.Stack, vm.StackEntry{Kind: vm.FrameData, Value: v})
		}
	}
}

// WithCallFrame pushes a subroutine frame returning to ret.
func WithCallFrame(ret int) SnapshotOption {
	return func(s *vm.Snapshot) {
		s.Stack = append(s.Stack, vm.StackEntry{Kind: vm.FrameCall, Return: ret})
	}
}

// WithLoopFrame pushes a loop frame.
func WithLoopFrame(bodyStart int, remaining int32) SnapshotOption {
	return func(s *vm.Snapshot) {
		s.Stack = append(s.Stack, vm.StackEntry{Kind: vm.FrameLoop, BodyStart: bodyStart, Remaining: remaining})
	}
}

// WithOutput replaces the output lines.
func WithOutput(lines ...string) SnapshotOption {
	return func(s *vm.Snapshot) { s.Output = append([]string(nil), lines...) }
}

// WithStats sets the cycle and instruction counters.
func WithStats(cycles, instructions int) SnapshotOption {
	return func(s *vm.Snapshot) {
		s.Stats.Cycles = cycles
		s.Stats.Instructions = instructions
	}
}

// WithRuntimeError ends the run in ERROR with the given code.
func WithRuntimeError(code, message string) SnapshotOption {
	return func(s *vm.Snapshot) {
		s.Status = vm.StatusError
		s.CPU.Halted = true
		s.Error = &vm.RuntimeError{Code: code, Message: message, PC: s.CPU.PC}
	}
}

// WithAwaitingInput marks a RUNNING run that waits for INPUT.
func WithAwaitingInput() SnapshotOption {
	return func(s *vm.Snapshot) {
		s.Status = vm.StatusRunning
		s.AwaitingInput = true
	}
}

// ProgramRecord parses source and returns its exchange form.
func ProgramRecord(source string) *shared.ProgramRecord {
	rec := emoji.Parse(source).Record()
	return &rec
}

// StepOption overrides part of a lesson step.
type StepOption func(*shared.StepRecord)

// Step returns a step that asks for the output of DefaultSource.
func Step(opts ...StepOption) shared.StepRecord {
	st := shared.StepRecord{
		ID:             "print-ten",
		Title:          "Print a number",
		Instructions:   "Load 10 into R0 and print it.",
		StarterSource:  "📥 10\n🛑\n",
		ExpectedOutput: []string{"10"},
	}
	for _, opt := range opts {
		opt(&st)
	}
	return st
}

// WithStepID sets the step id.
func WithStepID(id string) StepOption {
	return func(st *shared.StepRecord) { st.ID = id }
}

// WithExpected sets the expected output lines.
func WithExpected(lines ...string) StepOption {
	return func(st *shared.StepRecord) { st.ExpectedOutput = append([]string{}, lines...) }
}

// WithInputs sets the values fed to INPUT during grading.
func WithInputs(values ...int32) StepOption {
	return func(st *shared.StepRecord) { st.Inputs = append([]int32(nil), values...) }
}

// WithStarter sets the starter source.
func WithStarter(source string) StepOption {
	return func(st *shared.StepRecord) { st.StarterSource = source }
}

// WithStepLimits sets per-step limit overrides.
func WithStepLimits(l shared.LimitsRecord) StepOption {
	return func(st *shared.StepRecord) { st.Limits = &l }
}

// LessonOption overrides part of a lesson.
type LessonOption func(*shared.LessonRecord)

// Lesson returns a one-step lesson, then applies opts.
func Lesson(opts ...LessonOption) *shared.LessonRecord {
	l := &shared.LessonRecord{
		SchemaVersion: shared.SchemaVersion,
		ID:            "first-steps",
		Title:         "First steps",
		Description:   "Registers and output.",
		Steps:         []shared.StepRecord{Step()},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithLessonID sets the lesson id.
func WithLessonID(id string) LessonOption {
	return func(l *shared.LessonRecord) { l.ID = id }
}

// WithTitle sets the lesson title.
func WithTitle(title string) LessonOption {
	return func(l *shared.LessonRecord) { l.Title = title }
}

// WithSchemaVersion sets the recorded schema version.
func WithSchemaVersion(v int) LessonOption {
	return func(l *shared.LessonRecord) { l.SchemaVersion = v }
}

// WithSteps replaces the steps.
func WithSteps(steps ...shared.StepRecord) LessonOption {
	return func(l *shared.LessonRecord) { l.Steps = append([]shared.StepRecord(nil), steps...) }
}

// AddStep appends one step built from opts.
func AddStep(opts ...StepOption) LessonOption {
	return func(l *shared.LessonRecord) { l.Steps = append(l.Steps, Step(opts...)) }
}
