// Package vm executes parsed emoji programs one instruction at a time on a
// simulated 8-register, 256-byte machine.
package vm

import (
	"context"
	"fmt"
	"time"

	"github.com/antibyte/emojivm/pkg/emoji"
	"github.com/antibyte/emojivm/pkg/events"
	"github.com/antibyte/emojivm/pkg/logger"
	"github.com/google/uuid"
)

// Clock supplies event timestamps and wall time.
type Clock func() time.Time

// Option configures a Machine.
type Option func(*Machine)

// WithBus publishes runtime events to bus instead of a private one.
func WithBus(bus *events.Bus) Option {
	return func(m *Machine) { m.bus = bus }
}

// WithClock replaces time.Now, e.g. for replayable timestamps.
func WithClock(clock Clock) Option {
	return func(m *Machine) { m.clock = clock }
}

// Machine owns exactly one run. It is not safe for concurrent use; hosts
// that drive it from several goroutines must serialize calls.
type Machine struct {
	prog   *emoji.Program
	limits Limits
	snap   Snapshot
	bus    *events.Bus
	clock  Clock
	inputs []int32
}

// New creates a machine without a program.
func New(opts ...Option) *Machine {
	m := &Machine{
		limits: DefaultLimits(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.bus == nil {
		m.bus = events.NewBus()
	}
	return m
}

// Bus returns the bus events are published on.
func (m *Machine) Bus() *events.Bus { return m.bus }

// Program returns the loaded program, nil before Load.
func (m *Machine) Program() *emoji.Program { return m.prog }

// Now reads the machine clock.
func (m *Machine) Now() time.Time { return m.clock() }

// Limits returns the limits of the current run.
func (m *Machine) Limits() Limits { return m.limits }

// Status returns the current execution status.
func (m *Machine) Status() Status { return m.snap.Status }

// PC returns the index of the next instruction.
func (m *Machine) PC() int { return m.snap.CPU.PC }

// AwaitingInput reports whether the next step needs an input value.
func (m *Machine) AwaitingInput() bool { return m.snap.AwaitingInput }

// Snapshot returns a copy of the run state.
func (m *Machine) Snapshot() *Snapshot { return m.snap.Clone() }

// Load starts a fresh run of p at IDLE. Queued inputs are discarded.
func (m *Machine) Load(p *emoji.Program, limits Limits) error {
	if p == nil {
		return ErrNoProgram
	}
	if !p.Valid {
		return fmt.Errorf("%w: %v", ErrInvalidProgram, p.Err())
	}
	if err := limits.Validate(); err != nil {
		return fmt.Errorf("invalid limits: %w", err)
	}

	m.prog = p
	m.limits = limits
	m.inputs = nil
	m.snap = Snapshot{
		RunID:     uuid.NewString(),
		ProgramID: p.ID,
		Status:    StatusIdle,
	}

	logger.Debug(logger.AreaVM, "run %s loaded program %.12s (%d instructions, limits %+v)",
		m.snap.RunID, p.ID, p.Len(), limits)
	m.emit(events.Event{Kind: events.KindMilestone, Milestone: events.MilestoneLoaded})
	return nil
}

// Reset reloads the current program with the same limits.
func (m *Machine) Reset() error {
	if m.prog == nil {
		return ErrNoProgram
	}
	return m.Load(m.prog, m.limits)
}

// Start moves an IDLE or PAUSED run to RUNNING.
func (m *Machine) Start() error {
	switch m.snap.Status {
	case StatusIdle, StatusPaused:
		if m.prog == nil {
			return ErrNoProgram
		}
		m.setStatus(StatusRunning)
		return nil
	case StatusRunning:
		return nil
	}
	return ErrNotRunnable
}

// Pause moves a RUNNING run to PAUSED.
func (m *Machine) Pause() error {
	if m.snap.Status != StatusRunning {
		return ErrNotRunning
	}
	m.setStatus(StatusPaused)
	return nil
}

// Resume moves a PAUSED run back to RUNNING.
func (m *Machine) Resume() error {
	if m.snap.Status != StatusPaused {
		return ErrNotPaused
	}
	m.setStatus(StatusRunning)
	return nil
}

// QueueInput appends values that later INPUT instructions consume in order.
func (m *Machine) QueueInput(values ...int32) {
	m.inputs = append(m.inputs, values...)
}

// ProvideInput supplies the value a waiting INPUT instruction asked for. The
// instruction completes on the next Step.
func (m *Machine) ProvideInput(v int32) error {
	if !m.snap.AwaitingInput {
		return ErrNoInputPending
	}
	m.inputs = append(m.inputs, v)
	return nil
}

// Emit publishes an event produced by a layer above the machine, stamped
// with the machine's clock and current program counter.
func (m *Machine) Emit(e events.Event) events.Event {
	return m.emit(e)
}

// Step executes exactly one instruction. An IDLE run is started first.
// Program faults and limit breaches end the run in ERROR and are returned
// as *RuntimeError. ErrAwaitingInput means nothing was executed.
func (m *Machine) Step() error {
	if m.prog == nil {
		return ErrNoProgram
	}
	switch m.snap.Status {
	case StatusIdle:
		m.setStatus(StatusRunning)
	case StatusPaused:
		return ErrNotRunning
	case StatusHalted, StatusError:
		return ErrNotRunnable
	}

	pc := m.snap.CPU.PC
	if pc >= m.prog.Len() {
		m.halt()
		return nil
	}

	start := m.clock()
	inst := m.prog.Instructions[pc]
	logger.Debug(logger.AreaVM, "[%s] PC=%d: %s", m.snap.RunID[:8], pc, inst)

	res, rerr := m.execute(pc, inst)
	if rerr != nil {
		m.snap.Stats.WallTime += m.clock().Sub(start)
		return m.fail(rerr)
	}
	if res.waitInput {
		if !m.snap.AwaitingInput {
			m.snap.AwaitingInput = true
			m.emit(events.Event{Kind: events.KindMilestone, Milestone: events.MilestoneInputWaiting})
		}
		return ErrAwaitingInput
	}

	m.snap.Stats.Cycles += res.cycles
	m.snap.Stats.Instructions++
	m.setPC(res.next)
	m.snap.Stats.WallTime += m.clock().Sub(start)

	if lerr := m.checkLimits(pc, inst); lerr != nil {
		return m.fail(lerr)
	}
	if res.halt || m.snap.CPU.PC >= m.prog.Len() {
		m.halt()
	}
	return nil
}

// Run steps until the run stops, the budget is used up or ctx is done. A
// spent budget returns StatusRunning and a nil error; call Run again to
// continue. Cancellation is only observed between instructions.
func (m *Machine) Run(ctx context.Context, budget Budget) (Status, error) {
	if m.prog == nil {
		return m.snap.Status, ErrNoProgram
	}
	if m.snap.Status == StatusIdle {
		m.setStatus(StatusRunning)
	}
	if m.snap.Status != StatusRunning {
		if m.snap.Status.Terminal() {
			return m.snap.Status, ErrNotRunnable
		}
		return m.snap.Status, ErrNotRunning
	}

	var deadline time.Time
	if budget.Time > 0 {
		deadline = m.clock().Add(budget.Time)
	}

	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			logger.Debug(logger.AreaVM, "run %s cancelled at PC=%d", m.snap.RunID, m.snap.CPU.PC)
			return m.snap.Status, ctx.Err()
		default:
		}
		if budget.Instructions > 0 && n >= budget.Instructions {
			return m.snap.Status, nil
		}
		if !deadline.IsZero() && !m.clock().Before(deadline) {
			return m.snap.Status, nil
		}

		if err := m.Step(); err != nil {
			return m.snap.Status, err
		}
		if m.snap.Status != StatusRunning {
			return m.snap.Status, nil
		}
	}
}

// RunToEnd runs without a budget until the run stops or waits for input.
func (m *Machine) RunToEnd(ctx context.Context) (Status, error) {
	return m.Run(ctx, Unlimited)
}

// checkLimits is the resource limiter, applied after every instruction.
func (m *Machine) checkLimits(pc int, inst emoji.Instruction) *RuntimeError {
	switch {
	case m.snap.Stats.Cycles > m.limits.MaxCycles:
		return newRuntimeError(CodeCycleLimit, pc, inst.Pos.Line,
			"cycle limit of %d exceeded", m.limits.MaxCycles)
	case len(m.snap.Stack) > m.limits.MaxStackDepth:
		return newRuntimeError(CodeStackOverflow, pc, inst.Pos.Line,
			"stack depth limit of %d exceeded", m.limits.MaxStackDepth)
	case len(m.snap.Output) > m.limits.MaxOutputLines:
		return newRuntimeError(CodeOutputLimit, pc, inst.Pos.Line,
			"output limit of %d lines exceeded", m.limits.MaxOutputLines)
	}
	return nil
}

func (m *Machine) fail(err *RuntimeError) error {
	m.snap.Error = err
	m.snap.CPU.Halted = true
	m.snap.AwaitingInput = false
	logger.Debug(logger.AreaVM, "run %s failed: %v", m.snap.RunID, err)
	m.setStatus(StatusError)
	return err
}

func (m *Machine) halt() {
	m.snap.CPU.Halted = true
	m.setStatus(StatusHalted)
	m.emit(events.Event{Kind: events.KindMilestone, Milestone: events.MilestoneHalted})
	logger.Debug(logger.AreaVM, "run %s halted after %d cycles", m.snap.RunID, m.snap.Stats.Cycles)
}

func (m *Machine) setStatus(to Status) {
	from := m.snap.Status
	if !from.CanTransition(to) {
		logger.Error(logger.AreaVM, "run %s: illegal status transition %s -> %s", m.snap.RunID, from, to)
		return
	}
	m.snap.Status = to
	m.emit(events.Event{Kind: events.KindStatus, From: from.String(), To: to.String()})
}

func (m *Machine) setPC(next int) {
	old := m.snap.CPU.PC
	if next == old {
		return
	}
	m.snap.CPU.PC = next
	m.emit(events.Event{Kind: events.KindPC, PC: old, Old: int32(old), New: int32(next)})
}

// emit fills in time and program counter and publishes e.
func (m *Machine) emit(e events.Event) events.Event {
	e.Time = m.clock()
	if e.Kind != events.KindPC {
		e.PC = m.snap.CPU.PC
	}
	return m.bus.Publish(e)
}
