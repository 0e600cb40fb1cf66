package vm

import (
	"strconv"

	"github.com/antibyte/emojivm/pkg/emoji"
	"github.com/antibyte/emojivm/pkg/events"
)

// stepResult tells Step how an executed instruction wants to continue.
type stepResult struct {
	next      int  // program counter after the instruction
	cycles    int  // cycles charged
	halt      bool // explicit HALT
	waitInput bool // INPUT found no value; nothing was changed
}

// execute runs one instruction. Every fault is detected before the first
// state change, so a failing instruction emits no events.
func (m *Machine) execute(pc int, inst emoji.Instruction) (stepResult, *RuntimeError) {
	res := stepResult{next: pc + 1, cycles: 1}
	cpu := &m.snap.CPU
	fault := func(code, format string, args ...interface{}) (stepResult, *RuntimeError) {
		return res, newRuntimeError(code, pc, inst.Pos.Line, format, args...)
	}

	switch inst.Op {
	case emoji.OP_LOAD:
		m.setRegister(0, m.value(inst.Operand))

	case emoji.OP_STORE:
		addr, ok := m.address(inst.Operand)
		if !ok {
			return fault(CodeAddressRange, "address %d is outside 0..%d", m.value(inst.Operand), MemorySize-1)
		}
		old := m.snap.Memory[addr]
		m.snap.Memory[addr] = byte(cpu.Registers[0] & 0xFF)
		m.emit(events.Event{Kind: events.KindMemoryWrite, Address: addr, Old: int32(old), New: int32(m.snap.Memory[addr])})

	case emoji.OP_FETCH:
		addr, ok := m.address(inst.Operand)
		if !ok {
			return fault(CodeAddressRange, "address %d is outside 0..%d", m.value(inst.Operand), MemorySize-1)
		}
		v := int32(m.snap.Memory[addr])
		m.emit(events.Event{Kind: events.KindMemoryRead, Address: addr, Old: v, New: v})
		m.setRegister(0, v)

	case emoji.OP_MOVE:
		if inst.Operand.Kind != emoji.OperandRegister || !inst.Operand.Register.Valid() {
			return fault(CodeInvalidOperand, "MOVE needs a register")
		}
		m.setRegister(inst.Operand.Register, cpu.Registers[0])

	case emoji.OP_ADD:
		m.setRegister(0, cpu.Registers[0]+m.value(inst.Operand))
	case emoji.OP_SUB:
		m.setRegister(0, cpu.Registers[0]-m.value(inst.Operand))
	case emoji.OP_MUL:
		m.setRegister(0, cpu.Registers[0]*m.value(inst.Operand))
	case emoji.OP_DIV:
		d := m.value(inst.Operand)
		if d == 0 {
			return fault(CodeDivisionByZero, "division of %d by zero", cpu.Registers[0])
		}
		m.setRegister(0, cpu.Registers[0]/d)
	case emoji.OP_MOD:
		d := m.value(inst.Operand)
		if d == 0 {
			return fault(CodeDivisionByZero, "modulo of %d by zero", cpu.Registers[0])
		}
		m.setRegister(0, cpu.Registers[0]%d)

	case emoji.OP_AND:
		m.setRegister(0, cpu.Registers[0]&m.value(inst.Operand))
	case emoji.OP_OR:
		m.setRegister(0, cpu.Registers[0]|m.value(inst.Operand))
	case emoji.OP_XOR:
		m.setRegister(0, cpu.Registers[0]^m.value(inst.Operand))
	case emoji.OP_NOT:
		m.setRegister(0, ^cpu.Registers[0])

	case emoji.OP_CMP:
		a, b := cpu.Registers[0], m.value(inst.Operand)
		m.setFlags(Flags{Equal: a == b, Less: a < b, Greater: a > b})

	case emoji.OP_JUMP, emoji.OP_JEQ, emoji.OP_JNE, emoji.OP_JLT, emoji.OP_JGT:
		target := inst.Operand.Target
		if inst.Operand.Kind != emoji.OperandLabel || target < 0 || target > m.prog.Len() {
			return fault(CodeUnresolvedJump, "jump target %q is not resolved", inst.Operand.Label)
		}
		if m.jumpTaken(inst.Op) {
			res.next = target
		}

	case emoji.OP_CALL:
		target := inst.Operand.Target
		if inst.Operand.Kind != emoji.OperandLabel || target < 0 || target > m.prog.Len() {
			return fault(CodeUnresolvedJump, "call target %q is not resolved", inst.Operand.Label)
		}
		if err := m.checkPush(pc, inst); err != nil {
			return res, err
		}
		m.push(StackEntry{Kind: FrameCall, Return: pc + 1}, int32(pc+1))
		m.emit(events.Event{Kind: events.KindMilestone, Milestone: events.MilestoneSubEntered, Message: inst.Operand.Label})
		res.next = target

	case emoji.OP_LOOP:
		count := m.value(inst.Operand)
		if count <= 0 {
			if inst.End <= pc {
				return fault(CodeUnresolvedJump, "LOOP has no matching block end")
			}
			res.next = inst.End
			break
		}
		if err := m.checkPush(pc, inst); err != nil {
			return res, err
		}
		m.push(StackEntry{Kind: FrameLoop, BodyStart: pc + 1, Remaining: count}, count)

	case emoji.OP_RETURN, emoji.OP_ENDLOOP, emoji.OP_RETSUB:
		idx := m.nearest(func(e StackEntry) bool { return e.Kind != FrameData })
		if idx < 0 {
			return fault(CodeStackUnderflow, "%s without an open loop or call", inst.Op)
		}
		frame := m.snap.Stack[idx]
		switch {
		case inst.Op == emoji.OP_ENDLOOP && frame.Kind != FrameLoop:
			return fault(CodeFrameMismatch, "ENDLOOP inside a subroutine call")
		case inst.Op == emoji.OP_RETSUB && frame.Kind != FrameCall:
			return fault(CodeFrameMismatch, "RETSUB inside a loop body")
		}
		if frame.Kind == FrameLoop {
			res.next = m.endLoop(idx, pc)
		} else {
			res.next = m.returnFrom(idx)
		}

	case emoji.OP_PUSH:
		if err := m.checkPush(pc, inst); err != nil {
			return res, err
		}
		v := m.value(inst.Operand)
		m.push(StackEntry{Kind: FrameData, Value: v}, v)

	case emoji.OP_POP:
		idx := m.nearest(func(e StackEntry) bool { return e.Kind == FrameData })
		if idx < 0 {
			return fault(CodeStackUnderflow, "POP from an empty stack")
		}
		v := m.snap.Stack[idx].Value
		m.remove(idx)
		m.setRegister(destination(inst.Operand), v)

	case emoji.OP_PRINT:
		line := strconv.FormatInt(int64(cpu.Registers[0]), 10)
		m.snap.Output = append(m.snap.Output, line)
		m.emit(events.Event{Kind: events.KindOutput, Line: line, New: cpu.Registers[0]})

	case emoji.OP_INPUT:
		if len(m.inputs) == 0 {
			res.waitInput = true
			return res, nil
		}
		v := m.inputs[0]
		m.inputs = m.inputs[1:]
		m.snap.AwaitingInput = false
		m.setRegister(destination(inst.Operand), v)

	case emoji.OP_SLEEP:
		ticks := 1
		if inst.Operand.Kind != emoji.OperandNone {
			if v := m.value(inst.Operand); v > 1 {
				ticks = int(v)
			}
		}
		m.snap.Stats.SleepTicks += ticks
		res.cycles = ticks

	case emoji.OP_NOP:

	case emoji.OP_HALT:
		res.next = pc
		res.halt = true

	default:
		return fault(CodeUnknownOpcode, "unknown opcode %s", inst.Op)
	}
	return res, nil
}

// value resolves an immediate or register operand.
func (m *Machine) value(op emoji.Operand) int32 {
	switch op.Kind {
	case emoji.OperandImmediate:
		return op.Value
	case emoji.OperandRegister:
		if op.Register.Valid() {
			return m.snap.CPU.Registers[op.Register]
		}
	}
	return 0
}

func (m *Machine) address(op emoji.Operand) (int, bool) {
	v := m.value(op)
	if v < 0 || v >= MemorySize {
		return 0, false
	}
	return int(v), true
}

// destination is the register an optional-register operand names, R0 if omitted.
func destination(op emoji.Operand) emoji.Register {
	if op.Kind == emoji.OperandRegister && op.Register.Valid() {
		return op.Register
	}
	return 0
}

func (m *Machine) jumpTaken(op emoji.OpCode) bool {
	f := m.snap.CPU.Flags
	switch op {
	case emoji.OP_JEQ:
		return f.Equal
	case emoji.OP_JNE:
		return !f.Equal
	case emoji.OP_JLT:
		return f.Less
	case emoji.OP_JGT:
		return f.Greater
	}
	return true
}

func (m *Machine) setRegister(r emoji.Register, v int32) {
	old := m.snap.CPU.Registers[r]
	m.snap.CPU.Registers[r] = v
	m.emit(events.Event{Kind: events.KindRegister, Register: int(r), Old: old, New: v})
}

func (m *Machine) setFlags(f Flags) {
	old := m.snap.CPU.Flags
	m.snap.CPU.Flags = f
	m.emit(events.Event{Kind: events.KindFlags, From: old.String(), To: f.String()})
}

func (m *Machine) checkPush(pc int, inst emoji.Instruction) *RuntimeError {
	if len(m.snap.Stack) >= m.limits.MaxStackDepth {
		return newRuntimeError(CodeStackOverflow, pc, inst.Pos.Line,
			"stack depth limit of %d reached", m.limits.MaxStackDepth)
	}
	return nil
}

func (m *Machine) push(e StackEntry, shown int32) {
	m.snap.Stack = append(m.snap.Stack, e)
	m.emit(events.Event{Kind: events.KindStackPush, Frame: e.Kind.String(), Old: int32(len(m.snap.Stack) - 1), New: shown})
}

// remove takes the entry at idx out of the stack; entries above it keep
// their order.
func (m *Machine) remove(idx int) StackEntry {
	e := m.snap.Stack[idx]
	m.snap.Stack = append(m.snap.Stack[:idx], m.snap.Stack[idx+1:]...)
	var shown int32
	switch e.Kind {
	case FrameData:
		shown = e.Value
	case FrameCall:
		shown = int32(e.Return)
	case FrameLoop:
		shown = e.Remaining
	}
	m.emit(events.Event{Kind: events.KindStackPop, Frame: e.Kind.String(), Old: shown, New: int32(len(m.snap.Stack))})
	return e
}

// nearest returns the index of the topmost entry matching match, -1 if none.
func (m *Machine) nearest(match func(StackEntry) bool) int {
	for i := len(m.snap.Stack) - 1; i >= 0; i-- {
		if match(m.snap.Stack[i]) {
			return i
		}
	}
	return -1
}

// endLoop decrements the loop frame at idx and returns the next pc.
func (m *Machine) endLoop(idx, pc int) int {
	frame := &m.snap.Stack[idx]
	if frame.Remaining > 1 {
		frame.Remaining--
		m.emit(events.Event{Kind: events.KindStackUpdate, Frame: FrameLoop.String(), Old: frame.Remaining + 1, New: frame.Remaining})
		return frame.BodyStart
	}
	m.remove(idx)
	m.emit(events.Event{Kind: events.KindMilestone, Milestone: events.MilestoneLoopDone})
	return pc + 1
}

// returnFrom pops the call frame at idx and returns its return address.
func (m *Machine) returnFrom(idx int) int {
	frame := m.remove(idx)
	m.emit(events.Event{Kind: events.KindMilestone, Milestone: events.MilestoneSubReturned})
	return frame.Return
}
