package vm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/antibyte/emojivm/pkg/emoji"
	"github.com/antibyte/emojivm/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, source string, limits Limits, opts ...Option) *Machine {
	t.Helper()
	p := emoji.Parse(source)
	require.True(t, p.Valid, "diagnostics: %v", p.Diagnostics)
	m := New(opts...)
	require.NoError(t, m.Load(p, limits))
	return m
}

func runSource(t *testing.T, source string, limits Limits) (*Snapshot, error) {
	t.Helper()
	m := load(t, source, limits)
	_, err := m.RunToEnd(context.Background())
	return m.Snapshot(), err
}

// checkInvariants asserts what must hold at every snapshot read.
func checkInvariants(t *testing.T, m *Machine) {
	t.Helper()
	s := m.Snapshot()
	assert.Len(t, s.CPU.Registers, emoji.NumRegisters)
	assert.Len(t, s.Memory, MemorySize)
	assert.GreaterOrEqual(t, s.CPU.PC, 0)
	assert.LessOrEqual(t, s.CPU.PC, m.Program().Len())
	assert.LessOrEqual(t, len(s.Stack), m.Limits().MaxStackDepth)
	if s.Error == nil || s.Error.Code != CodeOutputLimit {
		assert.LessOrEqual(t, len(s.Output), m.Limits().MaxOutputLines)
	}
}

func TestProgramsOutput(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   []string
	}{
		{"load print", "LOAD 10\nPRINT\nHALT", []string{"10"}},
		{"arithmetic", "LOAD 10\nADD 5\nMUL 2\nPRINT\nHALT", []string{"30"}},
		{"loop five times", "LOAD 0\nLOOP 5\nADD 1\nRETURN\nPRINT\nHALT", []string{"5"}},
		{"emoji loop", "📥 0\n🔁 5\n➕ 1\n↩️\n🖨️\n🛑", []string{"5"}},
		{"nested loops", "LOAD 0\nLOOP 3\nLOOP 4\nADD 1\nENDLOOP\nRETURN\nPRINT\nHALT", []string{"12"}},
		{"loop zero skips body", "LOAD 1\nLOOP 0\nLOAD 99\nRETURN\nPRINT\nHALT", []string{"1"}},
		{"loop negative skips body", "LOAD 1\nLOOP -2\nLOAD 99\nENDLOOP\nPRINT\nHALT", []string{"1"}},
		{"loop count from register", "LOAD 3\nMOVE R1\nLOAD 0\nLOOP R1\nADD 2\nRETURN\nPRINT\nHALT", []string{"6"}},
		{"countdown", "LOAD 3\ntop:\nPRINT\nSUB 1\nCMP 0\nJGT top\nHALT", []string{"3", "2", "1"}},
		{"jeq taken", "LOAD 4\nCMP 4\nJEQ yes\nLOAD 0\nyes:\nPRINT\nHALT", []string{"4"}},
		{"jne not taken", "LOAD 4\nCMP 4\nJNE skip\nLOAD 1\nskip:\nPRINT\nHALT", []string{"1"}},
		{"jlt", "LOAD 2\nCMP 5\nJLT less\nLOAD 0\nless:\nPRINT\nHALT", []string{"2"}},
		{"subroutine", "LOAD 2\nCALL double\nCALL double\nPRINT\nHALT\ndouble:\nMUL 2\nRETURN", []string{"8"}},
		{"retsub", "LOAD 3\nCALL inc\nPRINT\nHALT\ninc:\nADD 1\nRETSUB", []string{"4"}},
		{"loop calling subroutine", "LOAD 0\nLOOP 3\nCALL inc\nRETURN\nPRINT\nHALT\ninc:\nADD 1\nRETSUB", []string{"3"}},
		{"registers", "LOAD 7\nMOVE R3\nLOAD 0\nLOAD R3\nADD R3\nPRINT\nHALT", []string{"14"}},
		{"stack order", "PUSH 1\nPUSH 2\nPOP R1\nPOP R2\nLOAD R1\nPRINT\nLOAD R2\nPRINT\nHALT", []string{"2", "1"}},
		{"data below call frame", "PUSH 5\nCALL sub\nHALT\nsub:\nPOP\nPRINT\nRETURN", []string{"5"}},
		{"memory truncates to byte", "LOAD 300\nSTORE 10\nLOAD 0\nFETCH 10\nPRINT\nHALT", []string{"44"}},
		{"address from register", "LOAD 9\nMOVE R1\nLOAD 77\nSTORE R1\nLOAD 0\nFETCH R1\nPRINT\nHALT", []string{"77"}},
		{"bitwise", "LOAD 12\nAND 10\nPRINT\nOR 1\nPRINT\nXOR 15\nPRINT\nNOT\nPRINT\nHALT", []string{"8", "9", "6", "-7"}},
		{"division truncates", "LOAD -7\nDIV 2\nPRINT\nLOAD -7\nMOD 2\nPRINT\nHALT", []string{"-3", "-1"}},
		{"overflow wraps", "LOAD 2147483647\nADD 1\nPRINT\nHALT", []string{"-2147483648"}},
		{"min int by minus one", "LOAD -2147483648\nDIV -1\nPRINT\nLOAD -2147483648\nMOD -1\nPRINT\nHALT", []string{"-2147483648", "0"}},
		{"multiply wraps", "LOAD 65536\nMUL 65536\nPRINT\nHALT", []string{"0"}},
		{"fall off the end", "LOAD 1\nPRINT", []string{"1"}},
		{"jump to end label", "JUMP end\nPRINT\nend:", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := runSource(t, tt.source, DefaultLimits())
			require.NoError(t, err)
			assert.Equal(t, StatusHalted, snap.Status)
			assert.True(t, snap.CPU.Halted)
			assert.Nil(t, snap.Error)
			if tt.want == nil {
				assert.Empty(t, snap.Output)
			} else {
				assert.Equal(t, tt.want, snap.Output)
			}
		})
	}
}

func TestRuntimeFaults(t *testing.T) {
	tests := []struct {
		name   string
		source string
		code   string
		line   int
		output []string
	}{
		{"division by zero", "LOAD 10\nDIV 0\nPRINT\nHALT", CodeDivisionByZero, 2, nil},
		{"modulo by zero register", "LOAD 10\nPRINT\nMOD R5\nHALT", CodeDivisionByZero, 3, []string{"10"}},
		{"store out of range", "LOAD 1\nSTORE 256\nHALT", CodeAddressRange, 2, nil},
		{"fetch negative", "FETCH -1\nHALT", CodeAddressRange, 1, nil},
		{"pop empty", "POP\nHALT", CodeStackUnderflow, 1, nil},
		{"return without frame", "RETURN\nHALT", CodeStackUnderflow, 1, nil},
		{"pop skips control frames", "LOOP 2\nPOP\nRETURN\nHALT", CodeStackUnderflow, 2, nil},
		{"endloop in subroutine", "LOOP 2\nCALL sub\nHALT\nsub:\nENDLOOP", CodeFrameMismatch, 5, nil},
		{"retsub in loop", "LOOP 2\nRETSUB\nRETURN\nHALT", CodeFrameMismatch, 2, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := runSource(t, tt.source, DefaultLimits())
			var rerr *RuntimeError
			require.True(t, errors.As(err, &rerr), "got %v", err)
			assert.Equal(t, tt.code, rerr.Code)
			assert.Equal(t, tt.line, rerr.Line)
			assert.False(t, rerr.IsLimit())
			assert.False(t, IsLimitError(err))

			assert.Equal(t, StatusError, snap.Status)
			require.NotNil(t, snap.Error)
			assert.Equal(t, tt.code, snap.Error.Code)
			if tt.output == nil {
				assert.Empty(t, snap.Output)
			} else {
				assert.Equal(t, tt.output, snap.Output)
			}
		})
	}
}

func TestFaultEmitsNoStepEvents(t *testing.T) {
	rec := &events.Recorder{}
	bus := events.NewBus()
	bus.Subscribe(rec.Handle)
	m := load(t, "LOAD 10\nDIV 0\nPRINT\nHALT", DefaultLimits(), WithBus(bus))

	require.NoError(t, m.Step())
	rec.Reset()

	err := m.Step()
	require.Error(t, err)
	// Only the ERROR transition itself is published.
	kinds := rec.Kinds()
	require.Equal(t, []events.Kind{events.KindStatus}, kinds)
	assert.Equal(t, "ERROR", rec.Events()[0].To)
	assert.Equal(t, int32(10), m.Snapshot().CPU.Registers[0])
	assert.Equal(t, 1, m.Snapshot().CPU.PC)

	rec.Reset()
	assert.ErrorIs(t, m.Step(), ErrNotRunnable)
	assert.Empty(t, rec.Events())
}

func TestNestedCallsExceedStackLimit(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxStackDepth = 8
	m := load(t, "CALL sub\nHALT\nsub:\nPRINT\nCALL sub", limits)

	status, err := m.RunToEnd(context.Background())
	require.Error(t, err)
	assert.True(t, IsLimitError(err))
	assert.Equal(t, StatusError, status)

	snap := m.Snapshot()
	assert.Equal(t, CodeStackOverflow, snap.Error.Code)
	assert.Len(t, snap.Stack, 8)
	assert.Len(t, snap.Output, 8)
	// The failing CALL did not move the program counter.
	assert.Equal(t, 3, snap.CPU.PC)
	checkInvariants(t, m)

	before := m.Snapshot()
	assert.ErrorIs(t, m.Step(), ErrNotRunnable)
	assert.True(t, before.Equal(m.Snapshot()))
}

func TestDeepPushExceedsStackLimit(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxStackDepth = 4
	snap, err := runSource(t, "top:\nPUSH 1\nJUMP top", limits)
	require.Error(t, err)
	assert.Equal(t, CodeStackOverflow, snap.Error.Code)
	assert.Len(t, snap.Stack, 4)
}

func TestCycleLimit(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxCycles = 50
	snap, err := runSource(t, "top:\nADD 1\nJUMP top", limits)

	require.Error(t, err)
	assert.True(t, IsLimitError(err))
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, CodeCycleLimit, snap.Error.Code)
	assert.Equal(t, 51, snap.Stats.Cycles)
	assert.Equal(t, "PROGRAM RAN TOO LONG", snap.Error.Friendly())
}

func TestOutputLimit(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxOutputLines = 3
	snap, err := runSource(t, "top:\nPRINT\nJUMP top", limits)

	require.Error(t, err)
	assert.Equal(t, CodeOutputLimit, snap.Error.Code)
	assert.True(t, snap.Error.IsLimit())
	assert.Len(t, snap.Output, 4)
}

func TestSleepChargesCycles(t *testing.T) {
	snap, err := runSource(t, "SLEEP 5\nSLEEP\nSLEEP -3\nHALT", DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, 8, snap.Stats.Cycles)
	assert.Equal(t, 7, snap.Stats.SleepTicks)
	assert.Equal(t, 4, snap.Stats.Instructions)

	limits := DefaultLimits()
	limits.MaxCycles = 100
	snap, err = runSource(t, "SLEEP 1000\nHALT", limits)
	require.Error(t, err)
	assert.Equal(t, CodeCycleLimit, snap.Error.Code)
}

func TestValidProgramsTerminate(t *testing.T) {
	programs := []string{
		"top:\nJUMP top",
		"top:\nCALL top",
		"LOOP 2147483647\nNOP\nRETURN\nHALT",
		"LOAD 1\ntop:\nMUL 3\nCMP 0\nJNE top\nHALT",
		"top:\nPUSH 1\nPOP\nJUMP top",
		"LOOP 100\nLOOP 100\nLOOP 100\nNOP\nRETURN\nRETURN\nRETURN",
		"LOAD 10\nPRINT\nHALT",
	}
	limits := Limits{MaxCycles: 500, MaxStackDepth: 16, MaxOutputLines: 10}

	for _, source := range programs {
		m := load(t, source, limits)
		steps := 0
		for !m.Status().Terminal() {
			steps++
			require.LessOrEqual(t, steps, limits.MaxCycles+1, "program did not stop: %q", source)
			_ = m.Step()
			checkInvariants(t, m)
		}
		assert.Contains(t, []Status{StatusHalted, StatusError}, m.Status())
	}
}

func TestInputSuspension(t *testing.T) {
	m := load(t, "INPUT\nADD 1\nPRINT\nINPUT R2\nLOAD R2\nPRINT\nHALT", DefaultLimits())

	assert.ErrorIs(t, m.ProvideInput(1), ErrNoInputPending)

	status, err := m.RunToEnd(context.Background())
	assert.ErrorIs(t, err, ErrAwaitingInput)
	assert.Equal(t, StatusRunning, status)
	assert.True(t, m.AwaitingInput())
	snap := m.Snapshot()
	assert.Equal(t, 0, snap.Stats.Cycles)
	assert.Equal(t, 0, snap.CPU.PC)

	// Asking again does not re-execute anything.
	assert.ErrorIs(t, m.Step(), ErrAwaitingInput)
	assert.True(t, snap.Equal(m.Snapshot()))

	require.NoError(t, m.ProvideInput(41))
	_, err = m.RunToEnd(context.Background())
	assert.ErrorIs(t, err, ErrAwaitingInput)
	assert.Equal(t, []string{"42"}, m.Snapshot().Output)
	assert.Equal(t, 3, m.PC())

	require.NoError(t, m.ProvideInput(7))
	status, err = m.RunToEnd(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusHalted, status)
	assert.Equal(t, []string{"42", "7"}, m.Snapshot().Output)
	assert.False(t, m.AwaitingInput())
}

func TestQueuedInputs(t *testing.T) {
	m := load(t, "INPUT\nMOVE R1\nINPUT\nADD R1\nPRINT\nHALT", DefaultLimits())
	m.QueueInput(20, 22)
	status, err := m.RunToEnd(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusHalted, status)
	assert.Equal(t, []string{"42"}, m.Snapshot().Output)
}

func TestRunBudget(t *testing.T) {
	m := load(t, "top:\nADD 1\nJUMP top", DefaultLimits())

	status, err := m.Run(context.Background(), Budget{Instructions: 10})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status)
	assert.Equal(t, 10, m.Snapshot().Stats.Instructions)

	status, err = m.Run(context.Background(), Budget{Instructions: 10})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status)
	assert.Equal(t, 20, m.Snapshot().Stats.Instructions)
}

func TestRunTimeBudget(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	}
	m := load(t, "top:\nNOP\nJUMP top", DefaultLimits(), WithClock(clock))

	status, err := m.Run(context.Background(), Budget{Time: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status)
	n := m.Snapshot().Stats.Instructions
	assert.Greater(t, n, 0)
	assert.Less(t, n, 20)
}

func TestRunCancelled(t *testing.T) {
	m := load(t, "top:\nNOP\nJUMP top", DefaultLimits())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status, err := m.Run(ctx, Unlimited)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusRunning, status)
	assert.Equal(t, 0, m.Snapshot().Stats.Instructions)
	checkInvariants(t, m)

	status, err = m.Run(context.Background(), Budget{Instructions: 3})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status)
	assert.Equal(t, 3, m.Snapshot().Stats.Instructions)
}

func TestStatusTransitions(t *testing.T) {
	m := New()
	assert.ErrorIs(t, m.Step(), ErrNoProgram)
	assert.ErrorIs(t, m.Load(nil, DefaultLimits()), ErrNoProgram)
	assert.ErrorIs(t, m.Load(emoji.Parse("BOGUS"), DefaultLimits()), ErrInvalidProgram)
	assert.Error(t, m.Load(emoji.Parse("HALT"), Limits{MaxCycles: 1}))

	rec := &events.Recorder{}
	m.Bus().Subscribe(events.Only(rec.Handle, events.KindStatus))
	require.NoError(t, m.Load(emoji.Parse("NOP\nNOP\nHALT"), DefaultLimits()))
	assert.Equal(t, StatusIdle, m.Status())

	assert.ErrorIs(t, m.Pause(), ErrNotRunning)
	assert.ErrorIs(t, m.Resume(), ErrNotPaused)

	require.NoError(t, m.Step())
	require.NoError(t, m.Pause())
	assert.ErrorIs(t, m.Step(), ErrNotRunning)
	_, err := m.Run(context.Background(), Unlimited)
	assert.ErrorIs(t, err, ErrNotRunning)
	require.NoError(t, m.Resume())
	_, err = m.RunToEnd(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, m.Start(), ErrNotRunnable)

	var got []string
	for _, e := range rec.Events() {
		from, _ := ParseStatus(e.From)
		to, _ := ParseStatus(e.To)
		assert.True(t, from.CanTransition(to), "%s -> %s", from, to)
		got = append(got, e.From+">"+e.To)
	}
	assert.Equal(t, []string{"IDLE>RUNNING", "RUNNING>PAUSED", "PAUSED>RUNNING", "RUNNING>HALTED"}, got)

	require.NoError(t, m.Reset())
	assert.Equal(t, StatusIdle, m.Status())
	assert.Equal(t, 0, m.PC())
}

func TestEventOrder(t *testing.T) {
	bus := events.NewBus()
	rec := &events.Recorder{}
	bus.Subscribe(rec.Handle)
	m := load(t, "LOAD 5\nSTORE 3\nHALT", DefaultLimits(), WithBus(bus))

	_, err := m.RunToEnd(context.Background())
	require.NoError(t, err)

	want := []events.Kind{
		events.KindMilestone, // loaded
		events.KindStatus,    // IDLE -> RUNNING
		events.KindRegister,
		events.KindPC,
		events.KindMemoryWrite,
		events.KindPC,
		events.KindStatus, // RUNNING -> HALTED
		events.KindMilestone,
	}
	assert.Equal(t, want, rec.Kinds())

	evs := rec.Events()
	assert.Equal(t, int32(0), evs[2].Old)
	assert.Equal(t, int32(5), evs[2].New)
	assert.Equal(t, 3, evs[4].Address)
	assert.Equal(t, int32(5), evs[4].New)
	assert.Equal(t, events.MilestoneHalted, evs[7].Milestone)
	for i := 1; i < len(evs); i++ {
		assert.Greater(t, evs[i].Seq, evs[i-1].Seq)
	}
}

func TestLoopEvents(t *testing.T) {
	rec := &events.Recorder{}
	m := load(t, "LOOP 2\nNOP\nRETURN\nHALT", DefaultLimits())
	m.Bus().Subscribe(events.Only(rec.Handle, events.KindStackPush, events.KindStackUpdate, events.KindStackPop, events.KindMilestone))

	_, err := m.RunToEnd(context.Background())
	require.NoError(t, err)

	kinds := rec.Kinds()
	assert.Equal(t, []events.Kind{
		events.KindStackPush,
		events.KindStackUpdate,
		events.KindStackPop,
		events.KindMilestone, // loop completed
		events.KindMilestone, // halted
	}, kinds)
	assert.Equal(t, "loop", rec.Events()[0].Frame)
	assert.Equal(t, events.MilestoneLoopDone, rec.Events()[3].Milestone)
}

func TestSnapshotIsACopy(t *testing.T) {
	m := load(t, "PUSH 3\nLOAD 1\nPRINT\nHALT", DefaultLimits())
	_, err := m.RunToEnd(context.Background())
	require.NoError(t, err)

	snap := m.Snapshot()
	snap.CPU.Registers[0] = 99
	snap.Memory[0] = 1
	snap.Output[0] = "changed"
	snap.Stack[0].Value = 42

	fresh := m.Snapshot()
	assert.Equal(t, int32(1), fresh.CPU.Registers[0])
	assert.Equal(t, byte(0), fresh.Memory[0])
	assert.Equal(t, "1", fresh.Output[0])
	assert.Equal(t, int32(3), fresh.Stack[0].Value)
}

func TestSnapshotRecordRoundTrip(t *testing.T) {
	m := load(t, "LOAD 300\nSTORE 7\nPUSH 4\nLOOP 2\nCMP 3\nRETURN\nPRINT\nDIV 0", DefaultLimits())
	_, err := m.RunToEnd(context.Background())
	require.Error(t, err)

	snap := m.Snapshot()
	rec := snap.Record()
	assert.Equal(t, "ERROR", rec.Status)
	assert.Len(t, rec.Memory, MemorySize)
	assert.Equal(t, 44, rec.Memory[7])
	require.NotNil(t, rec.Error)
	assert.Equal(t, CodeDivisionByZero, rec.Error.Code)

	back, err := SnapshotFromRecord(&rec)
	require.NoError(t, err)
	assert.True(t, snap.Equal(back))
	assert.Equal(t, snap.RunID, back.RunID)

	rec.Memory[0] = 512
	_, err = SnapshotFromRecord(&rec)
	assert.Error(t, err)
}

func TestDeterministicReplay(t *testing.T) {
	fixed := func() time.Time { return time.Unix(1700000000, 0) }
	source := "LOAD 1\nLOOP 4\nMUL 3\nPUSH R0\nRETURN\nPOP R4\nPRINT\nHALT"

	var runs [2][]events.Event
	var snaps [2]*Snapshot
	for i := range runs {
		rec := &events.Recorder{}
		bus := events.NewBus()
		bus.Subscribe(rec.Handle)
		m := load(t, source, DefaultLimits(), WithBus(bus), WithClock(fixed))
		_, err := m.RunToEnd(context.Background())
		require.NoError(t, err)
		runs[i] = rec.Events()
		snaps[i] = m.Snapshot()
	}
	assert.Equal(t, runs[0], runs[1])
	assert.True(t, snaps[0].Equal(snaps[1]))
	assert.NotEqual(t, snaps[0].RunID, snaps[1].RunID)
}
