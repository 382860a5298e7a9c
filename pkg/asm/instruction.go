package asm

import (
	"fmt"

	"dcc/pkg/diag"
)

// Opcode is an abstract instruction opcode.
type Opcode uint8

const (
	OpSET Opcode = iota + 1
	OpADD
	OpSUB
	OpMUL
	OpDIV
	OpMOD
	OpSHL
	OpSHR
	OpAND
	OpBOR
	OpXOR
	OpIFE
	OpIFN
	OpIFG
	OpIFB
	OpJSR
	OpLabel   // pseudo: label definition
	OpComment // pseudo: comment line
)

var mnemonics = map[Opcode]string{
	OpSET: "SET",
	OpADD: "ADD",
	OpSUB: "SUB",
	OpMUL: "MUL",
	OpDIV: "DIV",
	OpMOD: "MOD",
	OpSHL: "SHL",
	OpSHR: "SHR",
	OpAND: "AND",
	OpBOR: "BOR",
	OpXOR: "XOR",
	OpIFE: "IFE",
	OpIFN: "IFN",
	OpIFG: "IFG",
	OpIFB: "IFB",
	OpJSR: "JSR",
}

func (op Opcode) String() string {
	switch op {
	case OpLabel:
		return "label"
	case OpComment:
		return "comment"
	}
	if m, ok := mnemonics[op]; ok {
		return m
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// IsConditional reports whether op skips the following instruction when its
// test fails.
func (op Opcode) IsConditional() bool {
	return op >= OpIFE && op <= OpIFB
}

// IsArithmetic reports whether op combines its operands into A.
func (op Opcode) IsArithmetic() bool {
	return op >= OpADD && op <= OpXOR
}

// IsPseudo reports whether op produces no machine code.
func (op Opcode) IsPseudo() bool {
	return op == OpLabel || op == OpComment
}

// Instruction is an opcode with up to two operands.
type Instruction struct {
	Op   Opcode
	A, B Operand

	// Text is the body of a comment.
	Text string
	// Alias names the code address of this instruction in the debug metadata.
	Alias string
}

// New builds a two-operand instruction.
func New(op Opcode, a, b Operand) Instruction {
	return Instruction{Op: op, A: a, B: b}
}

// Set builds SET a, b.
func Set(a, b Operand) Instruction { return New(OpSET, a, b) }

// JSR builds a subroutine call to label.
func JSR(label string) Instruction {
	return Instruction{Op: OpJSR, A: LabelRef(label)}
}

// Jump builds SET PC, label.
func Jump(label string) Instruction { return Set(PC(), LabelRef(label)) }

// Label builds a label definition.
func Label(name string) Instruction {
	return Instruction{Op: OpLabel, A: LabelRef(name)}
}

// Comment builds a comment line.
func Comment(format string, args ...any) Instruction {
	return Instruction{Op: OpComment, Text: fmt.Sprintf(format, args...)}
}

// WithAlias returns a copy of in carrying a debug alias.
func (in Instruction) WithAlias(alias string) Instruction {
	in.Alias = alias
	return in
}

// LabelName returns the name defined by a label instruction.
func (in Instruction) LabelName() string {
	if in.Op != OpLabel {
		return ""
	}
	return in.A.Name
}

// IsJump reports whether in is SET PC, <label>.
func (in Instruction) IsJump() bool {
	return in.Op == OpSET && in.A.Kind == KindPC && in.B.Kind == KindLabel
}

// IsReturn reports whether in is SET PC, POP.
func (in Instruction) IsReturn() bool {
	return in.Op == OpSET && in.A.Kind == KindPC && in.B.Kind == KindPop
}

// Size is the number of words the instruction occupies.
func (in Instruction) Size() int {
	if in.Op.IsPseudo() {
		return 0
	}
	return 1 + in.A.ExtraWords() + in.B.ExtraWords()
}

// TouchesStack reports whether either operand uses the stack or SP.
func (in Instruction) TouchesStack() bool {
	return in.A.TouchesStack() || in.B.TouchesStack()
}

// References returns the label names used as operands.
func (in Instruction) References() []string {
	if in.Op == OpLabel {
		return nil
	}
	var refs []string
	if in.A.Kind == KindLabel {
		refs = append(refs, in.A.Name)
	}
	if in.B.Kind == KindLabel {
		refs = append(refs, in.B.Name)
	}
	return refs
}

// Render formats the instruction as assembly text. Combinations without a
// rendering rule are internal errors.
func (in Instruction) Render() (string, error) {
	switch in.Op {
	case OpLabel:
		if in.A.Kind != KindLabel || in.A.Name == "" || in.B.Kind != KindNone {
			return "", diag.Internalf("malformed label instruction")
		}
		return ":" + in.A.Name, nil

	case OpComment:
		return "; " + in.Text, nil

	case OpJSR:
		if in.A.Kind == KindNone || in.B.Kind != KindNone {
			return "", diag.Internalf("no rendering rule for JSR %s, %s", in.A, in.B)
		}
		return "JSR " + in.A.String(), nil
	}

	m, ok := mnemonics[in.Op]
	if !ok {
		return "", diag.Internalf("no rendering rule for opcode %d", uint8(in.Op))
	}
	if in.A.Kind == KindNone || in.B.Kind == KindNone {
		return "", diag.Internalf("no rendering rule for %s with a missing operand", m)
	}
	if !in.Op.IsConditional() && !in.A.Writable() {
		return "", diag.Internalf("no rendering rule for %s into %s", m, in.A)
	}
	return fmt.Sprintf("%s %s, %s", m, in.A, in.B), nil
}

func (in Instruction) String() string {
	s, err := in.Render()
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return s
}
