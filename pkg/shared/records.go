package shared

// SchemaVersion is the version written into every exchange record.
// Readers accept other versions with a warning.
const SchemaVersion = 1

// ProgramRecord is the program exchange format.
type ProgramRecord struct {
	SchemaVersion int                 `json:"schemaVersion"`
	ID            string              `json:"id,omitempty"`
	SourceText    string              `json:"sourceText"`
	Instructions  []InstructionRecord `json:"instructions"`
	Valid         bool                `json:"valid"`
	Diagnostics   []DiagnosticRecord  `json:"diagnostics"`
	Metadata      map[string]string   `json:"metadata,omitempty"`
}

// InstructionRecord is one decoded instruction.
type InstructionRecord struct {
	Index   int    `json:"index"`
	Op      string `json:"op"`
	Operand string `json:"operand,omitempty"`
	Target  *int   `json:"target,omitempty"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
}

// DiagnosticRecord is one parse diagnostic.
type DiagnosticRecord struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

// SnapshotRecord is the snapshot exchange format consumed by the visualizer
// and by lesson graders.
type SnapshotRecord struct {
	SchemaVersion int                `json:"schemaVersion"`
	RunID         string             `json:"runId,omitempty"`
	ProgramID     string             `json:"programId,omitempty"`
	CPU           CPURecord          `json:"cpu"`
	Memory        []int              `json:"memory"`
	Stack         []StackEntryRecord `json:"stack"`
	Output        []string           `json:"output"`
	Status        string             `json:"status"`
	Stats         StatsRecord        `json:"stats"`
	Error         *ErrorRecord       `json:"error,omitempty"`
	AwaitingInput bool               `json:"awaitingInput,omitempty"`
}

// CPURecord holds registers, program counter and flags.
type CPURecord struct {
	Registers []int32     `json:"registers"`
	PC        int         `json:"pc"`
	Flags     FlagsRecord `json:"flags"`
	Halted    bool        `json:"halted"`
}

// FlagsRecord holds the comparison flags.
type FlagsRecord struct {
	Equal   bool `json:"equal"`
	Less    bool `json:"less"`
	Greater bool `json:"greater"`
}

// StackEntryRecord is one entry of the shared stack.
type StackEntryRecord struct {
	Kind      string `json:"kind"` // "data", "call" or "loop"
	Value     int32  `json:"value,omitempty"`
	Return    int    `json:"return,omitempty"`
	BodyStart int    `json:"bodyStart,omitempty"`
	Remaining int32  `json:"remaining,omitempty"`
}

// StatsRecord holds execution statistics.
type StatsRecord struct {
	Cycles       int   `json:"cycles"`
	Instructions int   `json:"instructions"`
	SleepTicks   int   `json:"sleepTicks"`
	WallTimeNS   int64 `json:"wallTimeNs"`
}

// ErrorRecord describes why a run ended in ERROR.
type ErrorRecord struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	PC      int    `json:"pc"`
	Line    int    `json:"line"`
	Limit   bool   `json:"limit"`
}

// LimitsRecord overrides resource limits for one run.
type LimitsRecord struct {
	MaxCycles      int `json:"maxCycles,omitempty"`
	MaxStackDepth  int `json:"maxStackDepth,omitempty"`
	MaxOutputLines int `json:"maxOutputLines,omitempty"`
}

// LessonRecord is a lesson as exchanged with content tooling.
type LessonRecord struct {
	SchemaVersion int          `json:"schemaVersion"`
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Description   string       `json:"description,omitempty"`
	Steps         []StepRecord `json:"steps"`
}

// StepRecord is one gradable lesson step.
type StepRecord struct {
	ID             string        `json:"id"`
	Title          string        `json:"title,omitempty"`
	Instructions   string        `json:"instructions,omitempty"`
	StarterSource  string        `json:"starterSource,omitempty"`
	ExpectedOutput []string      `json:"expectedOutput"`
	Inputs         []int32       `json:"inputs,omitempty"`
	Limits         *LimitsRecord `json:"limits,omitempty"`
}

// Step returns the step with the given id.
func (l *LessonRecord) Step(id string) (*StepRecord, bool) {
	for i := range l.Steps {
		if l.Steps[i].ID == id {
			return &l.Steps[i], true
		}
	}
	return nil, false
}
