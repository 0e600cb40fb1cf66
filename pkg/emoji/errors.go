package emoji

import "errors"

var (
	ErrInvalidProgram = errors.New("program has errors")
	ErrEmptyProgram   = errors.New("program has no instructions")
)

// Diagnostic codes.
const (
	CodeUnknownOpcode     = "UNKNOWN_OPCODE"
	CodeMissingOperand    = "MISSING_OPERAND"
	CodeUnexpectedOperand = "UNEXPECTED_OPERAND"
	CodeTooManyOperands   = "TOO_MANY_OPERANDS"
	CodeInvalidOperand    = "INVALID_OPERAND"
	CodeWrongOperandKind  = "WRONG_OPERAND_KIND"
	CodeNumberRange       = "NUMBER_OUT_OF_RANGE"
	CodeUnknownRegister   = "UNKNOWN_REGISTER"
	CodeUnresolvedLabel   = "UNRESOLVED_LABEL"
	CodeDuplicateLabel    = "DUPLICATE_LABEL"
	CodeInvalidLabel      = "INVALID_LABEL"
	CodeUnmatchedLoop     = "UNMATCHED_LOOP"
	CodeStrayEndLoop      = "STRAY_ENDLOOP"
	CodeEmptyProgram      = "EMPTY_PROGRAM"
)
