// Package emoji implements the tokenizer and parser for the emoji instruction language.
package emoji

import (
	"fmt"
	"strings"
)

// OpCode identifies one operation of the fixed instruction catalog.
type OpCode byte

const (
	OP_INVALID OpCode = iota

	// Data movement
	OP_LOAD  // R0 = value
	OP_STORE // mem[address] = R0
	OP_FETCH // R0 = mem[address]
	OP_MOVE  // Rn = R0

	// Arithmetic on R0
	OP_ADD
	OP_SUB
	OP_MUL
	OP_DIV
	OP_MOD

	// Bitwise on R0
	OP_AND
	OP_OR
	OP_XOR
	OP_NOT

	// Comparison and control flow
	OP_CMP
	OP_JUMP
	OP_JEQ
	OP_JNE
	OP_JLT
	OP_JGT
	OP_LOOP
	OP_RETURN  // End of block, acts on the nearest control frame
	OP_ENDLOOP // Explicit loop end
	OP_RETSUB  // Explicit subroutine return
	OP_CALL

	// Data stack
	OP_PUSH
	OP_POP

	// I/O and bookkeeping
	OP_PRINT
	OP_INPUT
	OP_SLEEP
	OP_NOP
	OP_HALT

	opCount
)

// OperandShape describes which operand an opcode accepts.
type OperandShape byte

const (
	ShapeNone             OperandShape = iota // no operand allowed
	ShapeValue                                // immediate or register
	ShapeRegister                             // register only
	ShapeLabel                                // label reference
	ShapeOptionalRegister                     // register, defaults to R0
	ShapeOptionalValue                        // immediate or register, may be omitted
)

func (s OperandShape) String() string {
	switch s {
	case ShapeNone:
		return "no operand"
	case ShapeValue:
		return "number or register"
	case ShapeRegister:
		return "register"
	case ShapeLabel:
		return "label"
	case ShapeOptionalRegister:
		return "optional register"
	case ShapeOptionalValue:
		return "optional number or register"
	}
	return "unknown"
}

// Requires reports whether the shape demands an operand.
func (s OperandShape) Requires() bool {
	return s == ShapeValue || s == ShapeRegister || s == ShapeLabel
}

// Allows reports whether the shape accepts an operand at all.
func (s OperandShape) Allows() bool {
	return s != ShapeNone
}

// OpInfo is one catalog entry.
type OpInfo struct {
	Code     OpCode
	Mnemonic string
	Emoji    string // canonical token, without variation selector
	Shape    OperandShape
	Summary  string
}

// catalog is indexed by OpCode.
var catalog = [opCount]OpInfo{
	OP_LOAD:    {OP_LOAD, "LOAD", "📥", ShapeValue, "load a number or register into R0"},
	OP_STORE:   {OP_STORE, "STORE", "💾", ShapeValue, "store R0 at a memory address"},
	OP_FETCH:   {OP_FETCH, "FETCH", "📖", ShapeValue, "read a memory address into R0"},
	OP_MOVE:    {OP_MOVE, "MOVE", "📋", ShapeRegister, "copy R0 into a register"},
	OP_ADD:     {OP_ADD, "ADD", "➕", ShapeValue, "R0 = R0 + operand"},
	OP_SUB:     {OP_SUB, "SUB", "➖", ShapeValue, "R0 = R0 - operand"},
	OP_MUL:     {OP_MUL, "MUL", "✖", ShapeValue, "R0 = R0 * operand"},
	OP_DIV:     {OP_DIV, "DIV", "➗", ShapeValue, "R0 = R0 / operand"},
	OP_MOD:     {OP_MOD, "MOD", "💯", ShapeValue, "R0 = R0 % operand"},
	OP_AND:     {OP_AND, "AND", "🤝", ShapeValue, "R0 = R0 & operand"},
	OP_OR:      {OP_OR, "OR", "🔀", ShapeValue, "R0 = R0 | operand"},
	OP_XOR:     {OP_XOR, "XOR", "❌", ShapeValue, "R0 = R0 ^ operand"},
	OP_NOT:     {OP_NOT, "NOT", "🚫", ShapeNone, "R0 = ^R0"},
	OP_CMP:     {OP_CMP, "CMP", "⚖", ShapeValue, "compare R0 with operand and set flags"},
	OP_JUMP:    {OP_JUMP, "JUMP", "🦘", ShapeLabel, "jump to label"},
	OP_JEQ:     {OP_JEQ, "JEQ", "🟰", ShapeLabel, "jump if equal"},
	OP_JNE:     {OP_JNE, "JNE", "🙅", ShapeLabel, "jump if not equal"},
	OP_JLT:     {OP_JLT, "JLT", "🔽", ShapeLabel, "jump if less"},
	OP_JGT:     {OP_JGT, "JGT", "🔼", ShapeLabel, "jump if greater"},
	OP_LOOP:    {OP_LOOP, "LOOP", "🔁", ShapeValue, "repeat the block operand times"},
	OP_RETURN:  {OP_RETURN, "RETURN", "↩", ShapeNone, "end the current loop body or subroutine"},
	OP_ENDLOOP: {OP_ENDLOOP, "ENDLOOP", "🔚", ShapeNone, "end the current loop body"},
	OP_RETSUB:  {OP_RETSUB, "RETSUB", "🔙", ShapeNone, "return from a subroutine"},
	OP_CALL:    {OP_CALL, "CALL", "📞", ShapeLabel, "call a subroutine"},
	OP_PUSH:    {OP_PUSH, "PUSH", "⬆", ShapeValue, "push a value onto the stack"},
	OP_POP:     {OP_POP, "POP", "⬇", ShapeOptionalRegister, "pop a value into a register"},
	OP_PRINT:   {OP_PRINT, "PRINT", "🖨", ShapeNone, "print R0"},
	OP_INPUT:   {OP_INPUT, "INPUT", "⌨", ShapeOptionalRegister, "read a number into a register"},
	OP_SLEEP:   {OP_SLEEP, "SLEEP", "😴", ShapeOptionalValue, "wait for some ticks"},
	OP_NOP:     {OP_NOP, "NOP", "💤", ShapeNone, "do nothing"},
	OP_HALT:    {OP_HALT, "HALT", "🛑", ShapeNone, "stop the program"},
}

// Markers that are not opcodes.
const (
	LabelMarker   = "🏷"
	CommentMarker = "💬"
)

const variationSelector = "\uFE0F"

var tokenTable map[string]OpCode

func init() {
	tokenTable = make(map[string]OpCode, int(opCount)*2)
	for _, info := range catalog {
		if info.Code == OP_INVALID {
			continue
		}
		tokenTable[info.Emoji] = info.Code
		tokenTable[info.Mnemonic] = info.Code
	}
}

// normalizeToken strips emoji variation selectors and upper-cases mnemonics.
func normalizeToken(tok string) string {
	tok = strings.ReplaceAll(tok, variationSelector, "")
	return strings.ToUpper(tok)
}

// LookupToken resolves an emoji or mnemonic token to its opcode.
func LookupToken(tok string) (OpCode, bool) {
	op, ok := tokenTable[normalizeToken(tok)]
	return op, ok
}

// LookupMnemonic resolves a mnemonic such as "ADD".
func LookupMnemonic(name string) (OpCode, bool) {
	op, ok := tokenTable[strings.ToUpper(name)]
	if !ok || catalog[op].Mnemonic != strings.ToUpper(name) {
		return OP_INVALID, false
	}
	return op, true
}

// Valid reports whether op belongs to the catalog.
func (op OpCode) Valid() bool {
	return op > OP_INVALID && op < opCount
}

// Info returns the catalog entry for op.
func (op OpCode) Info() OpInfo {
	if !op.Valid() {
		return OpInfo{Code: OP_INVALID, Mnemonic: "INVALID", Emoji: "?"}
	}
	return catalog[op]
}

func (op OpCode) String() string {
	if !op.Valid() {
		return fmt.Sprintf("OP(%d)", byte(op))
	}
	return catalog[op].Mnemonic
}

// Emoji returns the canonical emoji token.
func (op OpCode) Emoji() string { return op.Info().Emoji }

// Shape returns the operand shape op enforces.
func (op OpCode) Shape() OperandShape { return op.Info().Shape }

// IsJump reports whether op transfers control to a label.
func (op OpCode) IsJump() bool {
	switch op {
	case OP_JUMP, OP_JEQ, OP_JNE, OP_JLT, OP_JGT, OP_CALL:
		return true
	}
	return false
}

// ClosesLoop reports whether op may terminate a loop body.
func (op OpCode) ClosesLoop() bool {
	return op == OP_RETURN || op == OP_ENDLOOP
}

// Catalog returns all opcodes in catalog order.
func Catalog() []OpInfo {
	out := make([]OpInfo, 0, opCount-1)
	for _, info := range catalog[1:] {
		out = append(out, info)
	}
	return out
}
