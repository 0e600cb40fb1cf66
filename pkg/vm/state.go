package vm

import (
	"fmt"
	"strings"
	"time"

	"github.com/antibyte/emojivm/pkg/emoji"
	"github.com/antibyte/emojivm/pkg/shared"
)

// MemorySize is the number of addressable byte cells.
const MemorySize = 256

// Status is the execution state of a run.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusPaused
	StatusHalted
	StatusError
)

var statusNames = [...]string{
	StatusIdle:    "IDLE",
	StatusRunning: "RUNNING",
	StatusPaused:  "PAUSED",
	StatusHalted:  "HALTED",
	StatusError:   "ERROR",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(name string) (Status, bool) {
	for i, n := range statusNames {
		if n == strings.ToUpper(name) {
			return Status(i), true
		}
	}
	return StatusIdle, false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusHalted || s == StatusError
}

// CanTransition reports whether s -> to is an allowed edge.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusIdle:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusPaused || to == StatusHalted || to == StatusError
	case StatusPaused:
		return to == StatusRunning
	}
	return false
}

// Flags hold the result of the most recent CMP.
type Flags struct {
	Equal   bool
	Less    bool
	Greater bool
}

func (f Flags) String() string {
	switch {
	case f.Equal:
		return "EQ"
	case f.Less:
		return "LT"
	case f.Greater:
		return "GT"
	}
	return "-"
}

// CPU is the register file, program counter and flags.
type CPU struct {
	Registers [emoji.NumRegisters]int32
	PC        int
	Flags     Flags
	Halted    bool
}

// FrameKind tells data entries apart from control frames.
type FrameKind byte

const (
	FrameData FrameKind = iota
	FrameCall
	FrameLoop
)

func (k FrameKind) String() string {
	switch k {
	case FrameData:
		return "data"
	case FrameCall:
		return "call"
	case FrameLoop:
		return "loop"
	}
	return fmt.Sprintf("FrameKind(%d)", byte(k))
}

func parseFrameKind(s string) (FrameKind, bool) {
	switch s {
	case "data":
		return FrameData, true
	case "call":
		return FrameCall, true
	case "loop":
		return FrameLoop, true
	}
	return FrameData, false
}

// StackEntry is one slot of the shared stack.
type StackEntry struct {
	Kind      FrameKind
	Value     int32 // FrameData
	Return    int   // FrameCall: instruction index to resume at
	BodyStart int   // FrameLoop: first instruction of the body
	Remaining int32 // FrameLoop: iterations left including the current one
}

// Stats are the execution counters of a run.
type Stats struct {
	Cycles       int
	Instructions int
	SleepTicks   int
	WallTime     time.Duration
}

// Snapshot is the complete run state. The machine owns the live copy; every
// snapshot handed out is a clone.
type Snapshot struct {
	RunID         string
	ProgramID     string
	CPU           CPU
	Memory        [MemorySize]byte
	Stack         []StackEntry
	Output        []string
	Status        Status
	Stats         Stats
	Error         *RuntimeError
	AwaitingInput bool
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Stack = append([]StackEntry(nil), s.Stack...)
	c.Output = append([]string(nil), s.Output...)
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	return &c
}

// Equal compares two snapshots field by field, ignoring the run id and wall
// time.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s.ProgramID != o.ProgramID || s.CPU != o.CPU || s.Memory != o.Memory ||
		s.Status != o.Status || s.AwaitingInput != o.AwaitingInput {
		return false
	}
	if s.Stats.Cycles != o.Stats.Cycles || s.Stats.Instructions != o.Stats.Instructions ||
		s.Stats.SleepTicks != o.Stats.SleepTicks {
		return false
	}
	if len(s.Stack) != len(o.Stack) || len(s.Output) != len(o.Output) {
		return false
	}
	for i := range s.Stack {
		if s.Stack[i] != o.Stack[i] {
			return false
		}
	}
	for i := range s.Output {
		if s.Output[i] != o.Output[i] {
			return false
		}
	}
	if (s.Error == nil) != (o.Error == nil) {
		return false
	}
	return s.Error == nil || *s.Error == *o.Error
}

// Record converts the snapshot to its exchange format.
func (s *Snapshot) Record() shared.SnapshotRecord {
	rec := shared.SnapshotRecord{
		SchemaVersion: shared.SchemaVersion,
		RunID:         s.RunID,
		ProgramID:     s.ProgramID,
		CPU: shared.CPURecord{
			Registers: append([]int32(nil), s.CPU.Registers[:]...),
			PC:        s.CPU.PC,
			Flags: shared.FlagsRecord{
				Equal:   s.CPU.Flags.Equal,
				Less:    s.CPU.Flags.Less,
				Greater: s.CPU.Flags.Greater,
			},
			Halted: s.CPU.Halted,
		},
		Memory: make([]int, MemorySize),
		Stack:  make([]shared.StackEntryRecord, 0, len(s.Stack)),
		Output: append([]string{}, s.Output...),
		Status: s.Status.String(),
		Stats: shared.StatsRecord{
			Cycles:       s.Stats.Cycles,
			Instructions: s.Stats.Instructions,
			SleepTicks:   s.Stats.SleepTicks,
			WallTimeNS:   int64(s.Stats.WallTime),
		},
		AwaitingInput: s.AwaitingInput,
	}
	for i, b := range s.Memory {
		rec.Memory[i] = int(b)
	}
	for _, e := range s.Stack {
		rec.Stack = append(rec.Stack, shared.StackEntryRecord{
			Kind:      e.Kind.String(),
			Value:     e.Value,
			Return:    e.Return,
			BodyStart: e.BodyStart,
			Remaining: e.Remaining,
		})
	}
	if s.Error != nil {
		rec.Error = &shared.ErrorRecord{
			Code:    s.Error.Code,
			Message: s.Error.Message,
			PC:      s.Error.PC,
			Line:    s.Error.Line,
			Limit:   s.Error.IsLimit(),
		}
	}
	return rec
}

// SnapshotFromRecord rebuilds a snapshot from a record. The record should
// have passed validator.ValidateSnapshotRecord first; shape problems that
// slip through are reported as errors.
func SnapshotFromRecord(rec *shared.SnapshotRecord) (*Snapshot, error) {
	if len(rec.CPU.Registers) != emoji.NumRegisters {
		return nil, fmt.Errorf("snapshot has %d registers, want %d", len(rec.CPU.Registers), emoji.NumRegisters)
	}
	if len(rec.Memory) != MemorySize {
		return nil, fmt.Errorf("snapshot has %d memory cells, want %d", len(rec.Memory), MemorySize)
	}
	status, ok := ParseStatus(rec.Status)
	if !ok {
		return nil, fmt.Errorf("unknown status %q", rec.Status)
	}

	s := &Snapshot{
		RunID:     rec.RunID,
		ProgramID: rec.ProgramID,
		Status:    status,
		Output:    append([]string(nil), rec.Output...),
		Stats: Stats{
			Cycles:       rec.Stats.Cycles,
			Instructions: rec.Stats.Instructions,
			SleepTicks:   rec.Stats.SleepTicks,
			WallTime:     time.Duration(rec.Stats.WallTimeNS),
		},
		AwaitingInput: rec.AwaitingInput,
	}
	copy(s.CPU.Registers[:], rec.CPU.Registers)
	s.CPU.PC = rec.CPU.PC
	s.CPU.Halted = rec.CPU.Halted
	s.CPU.Flags = Flags{Equal: rec.CPU.Flags.Equal, Less: rec.CPU.Flags.Less, Greater: rec.CPU.Flags.Greater}

	for i, v := range rec.Memory {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("memory cell %d holds %d", i, v)
		}
		s.Memory[i] = byte(v)
	}
	for i, e := range rec.Stack {
		kind, ok := parseFrameKind(e.Kind)
		if !ok {
			return nil, fmt.Errorf("stack entry %d has unknown kind %q", i, e.Kind)
		}
		s.Stack = append(s.Stack, StackEntry{
			Kind:      kind,
			Value:     e.Value,
			Return:    e.Return,
			BodyStart: e.BodyStart,
			Remaining: e.Remaining,
		})
	}
	if rec.Error != nil {
		s.Error = &RuntimeError{
			Code:    rec.Error.Code,
			Message: rec.Error.Message,
			PC:      rec.Error.PC,
			Line:    rec.Error.Line,
		}
	}
	return s, nil
}
