// Package events carries the ordered stream of fine-grained state changes a
// machine produces while it steps.
package events

import (
	"fmt"
	"time"

	"github.com/antibyte/emojivm/pkg/shared"
)

// Kind classifies a runtime event.
type Kind string

const (
	KindRegister      Kind = "register"       // register write
	KindMemoryWrite   Kind = "memory_write"   // memory cell changed
	KindMemoryRead    Kind = "memory_read"    // memory cell read by FETCH
	KindOutput        Kind = "output"         // line appended to output
	KindPC            Kind = "pc"             // program counter moved
	KindStackPush     Kind = "stack_push"     // data entry or control frame pushed
	KindStackPop      Kind = "stack_pop"      // data entry or control frame popped
	KindStackUpdate   Kind = "stack_update"   // loop counter decremented in place
	KindFlags         Kind = "flags"          // comparison flags changed
	KindStatus        Kind = "status"         // execution status transition
	KindMilestone     Kind = "milestone"      // lesson-relevant progress marker
	KindBreakpointHit Kind = "breakpoint_hit" // debugger paused before an instruction
	KindWatchWarning  Kind = "watch_warning"  // a watch expression failed to evaluate
)

// Milestones reported with KindMilestone.
const (
	MilestoneLoaded       = "program_loaded"
	MilestoneLoopDone     = "loop_completed"
	MilestoneSubEntered   = "subroutine_entered"
	MilestoneSubReturned  = "subroutine_returned"
	MilestoneHalted       = "halted"
	MilestoneInputWaiting = "awaiting_input"
)

// Event is one observable state change. Only the fields relevant to Kind are
// set; Old and New carry the value before and after the change.
type Event struct {
	Seq  uint64
	Kind Kind
	Time time.Time
	PC   int // instruction index the change belongs to

	Register int    // KindRegister
	Address  int    // KindMemoryWrite, KindMemoryRead
	Old      int32  // previous value
	New      int32  // new value
	Line     string // KindOutput
	Frame    string // stack entry kind for stack events
	From     string // KindStatus, KindFlags
	To       string // KindStatus, KindFlags

	Milestone string
	Message   string
}

func (e Event) String() string {
	switch e.Kind {
	case KindRegister:
		return fmt.Sprintf("#%d pc=%d R%d %d -> %d", e.Seq, e.PC, e.Register, e.Old, e.New)
	case KindMemoryWrite, KindMemoryRead:
		return fmt.Sprintf("#%d pc=%d %s [%d] %d -> %d", e.Seq, e.PC, e.Kind, e.Address, e.Old, e.New)
	case KindOutput:
		return fmt.Sprintf("#%d pc=%d output %q", e.Seq, e.PC, e.Line)
	case KindPC:
		return fmt.Sprintf("#%d pc %d -> %d", e.Seq, e.Old, e.New)
	case KindStatus, KindFlags:
		return fmt.Sprintf("#%d pc=%d %s %s -> %s", e.Seq, e.PC, e.Kind, e.From, e.To)
	case KindStackPush, KindStackPop, KindStackUpdate:
		return fmt.Sprintf("#%d pc=%d %s %s %d -> %d", e.Seq, e.PC, e.Kind, e.Frame, e.Old, e.New)
	case KindMilestone:
		return fmt.Sprintf("#%d pc=%d milestone %s", e.Seq, e.PC, e.Milestone)
	}
	return fmt.Sprintf("#%d pc=%d %s %s", e.Seq, e.PC, e.Kind, e.Message)
}

// Record converts the event to its wire form.
func (e Event) Record() shared.EventRecord {
	return shared.EventRecord{
		Seq:       e.Seq,
		Kind:      string(e.Kind),
		Time:      e.Time.UnixNano(),
		PC:        e.PC,
		Register:  e.Register,
		Address:   e.Address,
		Old:       e.Old,
		New:       e.New,
		Line:      e.Line,
		Frame:     e.Frame,
		From:      e.From,
		To:        e.To,
		Milestone: e.Milestone,
		Message:   e.Message,
	}
}
