package vm

import (
	"errors"
	"fmt"
)

// Errors returned by Machine methods. Faults inside a program are reported
// as *RuntimeError and put the run into StatusError instead.
var (
	ErrNoProgram      = errors.New("no program loaded")
	ErrInvalidProgram = errors.New("program has parse errors")
	ErrNotRunnable    = errors.New("run has already finished")
	ErrNotRunning     = errors.New("run is not running")
	ErrNotPaused      = errors.New("run is not paused")
	ErrAwaitingInput  = errors.New("program is waiting for input")
	ErrNoInputPending = errors.New("no input expected")
)

// Runtime error codes.
const (
	CodeUnknownOpcode  = "UNKNOWN_OPCODE"
	CodeAddressRange   = "ADDRESS_OUT_OF_RANGE"
	CodeDivisionByZero = "DIVISION_BY_ZERO"
	CodeStackUnderflow = "STACK_UNDERFLOW"
	CodeUnresolvedJump = "UNRESOLVED_JUMP"
	CodeFrameMismatch  = "FRAME_MISMATCH"
	CodeInvalidOperand = "INVALID_OPERAND"
	CodeStackOverflow  = "STACK_OVERFLOW"
	CodeCycleLimit     = "CYCLE_LIMIT"
	CodeOutputLimit    = "OUTPUT_LIMIT"
)

// limitCodes are breaches of a resource limit rather than program faults.
var limitCodes = map[string]bool{
	CodeStackOverflow: true,
	CodeCycleLimit:    true,
	CodeOutputLimit:   true,
}

// FriendlyErrorTexts map error codes to learner-facing messages.
var FriendlyErrorTexts = map[string]string{
	CodeUnknownOpcode:  "THE MACHINE DOES NOT KNOW THIS INSTRUCTION",
	CodeAddressRange:   "MEMORY ADDRESS MUST BE BETWEEN 0 AND 255",
	CodeDivisionByZero: "DIVISION BY ZERO",
	CodeStackUnderflow: "NOTHING ON THE STACK TO TAKE",
	CodeUnresolvedJump: "JUMP TARGET DOES NOT EXIST",
	CodeFrameMismatch:  "BLOCK END DOES NOT MATCH THE OPEN LOOP OR CALL",
	CodeInvalidOperand: "INSTRUCTION HAS AN INVALID OPERAND",
	CodeStackOverflow:  "STACK IS FULL (TOO MANY NESTED CALLS, LOOPS OR PUSHES)",
	CodeCycleLimit:     "PROGRAM RAN TOO LONG",
	CodeOutputLimit:    "PROGRAM PRINTED TOO MANY LINES",
}

// RuntimeError is a fatal fault of a running program.
type RuntimeError struct {
	Code    string
	Message string
	PC      int // instruction index that faulted
	Line    int // source line, 0 if unknown
}

func (e *RuntimeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s at line %d: %s", e.Code, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsLimit reports whether the error is a resource-limit breach.
func (e *RuntimeError) IsLimit() bool {
	return limitCodes[e.Code]
}

// Friendly returns the learner-facing text for the error code.
func (e *RuntimeError) Friendly() string {
	if text, ok := FriendlyErrorTexts[e.Code]; ok {
		return text
	}
	return e.Message
}

// IsLimitError reports whether err wraps a resource-limit RuntimeError.
func IsLimitError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.IsLimit()
}

func newRuntimeError(code string, pc, line int, format string, args ...interface{}) *RuntimeError {
	return &RuntimeError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		PC:      pc,
		Line:    line,
	}
}
