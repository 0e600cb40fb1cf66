// Package debugger layers breakpoints, watch expressions and pause/resume on
// top of a vm.Machine without changing what the machine computes.
package debugger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/antibyte/emojivm/pkg/events"
	"github.com/antibyte/emojivm/pkg/logger"
	"github.com/antibyte/emojivm/pkg/vm"
)

var (
	ErrNoProgram     = errors.New("no program loaded")
	ErrBadLocation   = errors.New("invalid breakpoint location")
	ErrBadExpression = errors.New("invalid expression")
	ErrNoBreakpoint  = errors.New("no such breakpoint")
	ErrNoWatch       = errors.New("no such watch")
)

const (
	maxWarnings = 100
	// DefaultMaxSteps bounds a single expression evaluation.
	DefaultMaxSteps = 10000
)

// Hit records one breakpoint pause.
type Hit struct {
	BreakpointID int
	Index        int
	Cycles       int
}

// Debugger controls one machine. Like the machine it is not safe for
// concurrent use.
type Debugger struct {
	m           *vm.Machine
	breaks      map[int]*Breakpoint
	watches     map[int]*watch
	nextBreakID int
	nextWatchID int
	maxSteps    uint64

	// resumeFrom is the pc whose breakpoint already fired, so continuing
	// executes that instruction instead of pausing again. -1 if none.
	resumeFrom int
	history    []Hit
	warnings   []string
}

// New attaches a debugger to m.
func New(m *vm.Machine) *Debugger {
	return &Debugger{
		m:          m,
		breaks:     make(map[int]*Breakpoint),
		watches:    make(map[int]*watch),
		maxSteps:   DefaultMaxSteps,
		resumeFrom: -1,
	}
}

// Machine returns the controlled machine.
func (d *Debugger) Machine() *vm.Machine { return d.m }

// History lists breakpoint hits since the last Reset.
func (d *Debugger) History() []Hit {
	return append([]Hit(nil), d.history...)
}

// Warnings lists recent watch and condition failures.
func (d *Debugger) Warnings() []string {
	return append([]string(nil), d.warnings...)
}

// StepInto executes exactly one instruction and leaves the run PAUSED unless
// it finished. Breakpoints are not consulted.
func (d *Debugger) StepInto() error {
	if d.m.Program() == nil {
		return ErrNoProgram
	}
	if err := d.m.Start(); err != nil {
		return err
	}

	err := d.m.Step()
	d.resumeFrom = -1
	d.evaluateWatches()
	if d.m.Status() == vm.StatusRunning {
		_ = d.m.Pause()
	}
	return err
}

// Continue runs from IDLE or PAUSED until a breakpoint fires, the run ends,
// input is needed, the budget is spent or ctx is done. Watches are evaluated
// after every instruction.
func (d *Debugger) Continue(ctx context.Context, budget vm.Budget) (vm.Status, error) {
	if d.m.Program() == nil {
		return d.m.Status(), ErrNoProgram
	}
	if err := d.m.Start(); err != nil {
		return d.m.Status(), err
	}

	var deadline time.Time
	if budget.Time > 0 {
		deadline = d.m.Now().Add(budget.Time)
	}

	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			return d.m.Status(), ctx.Err()
		default:
		}
		if budget.Instructions > 0 && n >= budget.Instructions {
			return d.m.Status(), nil
		}
		if !deadline.IsZero() && !d.m.Now().Before(deadline) {
			return d.m.Status(), nil
		}

		pc := d.m.PC()
		if pc != d.resumeFrom {
			if bp := d.breakpointAt(pc); bp != nil {
				d.hit(bp, pc)
				return d.m.Status(), nil
			}
		}

		err := d.m.Step()
		if errors.Is(err, vm.ErrAwaitingInput) {
			return d.m.Status(), err
		}
		d.resumeFrom = -1
		d.evaluateWatches()
		if err != nil {
			return d.m.Status(), err
		}
		if d.m.Status() != vm.StatusRunning {
			return d.m.Status(), nil
		}
	}
}

func (d *Debugger) hit(bp *Breakpoint, pc int) {
	bp.Hits++
	d.resumeFrom = pc
	d.history = append(d.history, Hit{BreakpointID: bp.ID, Index: pc, Cycles: d.m.Snapshot().Stats.Cycles})
	_ = d.m.Pause()
	d.m.Emit(events.Event{
		Kind:    events.KindBreakpointHit,
		New:     int32(bp.ID),
		Message: fmt.Sprintf("breakpoint %d at instruction %d", bp.ID, pc),
	})
	logger.Debug(logger.AreaDebugger, "breakpoint %d hit at %d (hit %d)", bp.ID, pc, bp.Hits)
}

// Pause stops a running machine before its next instruction.
func (d *Debugger) Pause() error {
	return d.m.Pause()
}

// Reset reloads the program. Breakpoints and watches are kept; hit counts,
// history and warnings start over.
func (d *Debugger) Reset() error {
	if err := d.m.Reset(); err != nil {
		return err
	}
	d.resumeFrom = -1
	d.history = nil
	d.warnings = nil
	for _, bp := range d.breaks {
		bp.Hits = 0
	}
	d.evaluateWatches()
	return nil
}

// Attach points breakpoints at a freshly loaded program. Label breakpoints
// are re-resolved; breakpoints that no longer resolve are dropped.
func (d *Debugger) Attach() {
	d.resumeFrom = -1
	d.history = nil
	for id, bp := range d.breaks {
		loc := AtIndex(bp.Index)
		if bp.Label != "" {
			loc = AtLabel(bp.Label)
		}
		idx, err := d.resolve(loc)
		if err != nil {
			logger.Debug(logger.AreaDebugger, "dropping breakpoint %d: %v", id, err)
			delete(d.breaks, id)
			continue
		}
		bp.Index = idx
		bp.Hits = 0
	}
	d.evaluateWatches()
}
