package asm

import "fmt"

// Register is one of the eight general purpose registers.
type Register uint8

const (
	RegA Register = iota
	RegB
	RegC
	RegX
	RegY
	RegZ
	RegI
	RegJ
)

// Fixed register roles used by the code generator.
const (
	ScratchRegister = RegA // right operand of binary operators
	ReturnRegister  = RegA
	FrameRegister   = RegC
	RepeatCounter   = RegJ
)

var registerNames = [...]string{"A", "B", "C", "X", "Y", "Z", "I", "J"}

func (r Register) String() string {
	if int(r) < len(registerNames) {
		return registerNames[r]
	}
	return fmt.Sprintf("R%d", r)
}

// OperandKind describes the addressing mode of an operand.
type OperandKind uint8

const (
	KindNone     OperandKind = iota // unused operand slot
	KindRegister                    // A .. J
	KindPush                        // [--SP]
	KindPop                         // [SP++]
	KindPeek                        // [SP]
	KindPointer                     // [R] or [offset+R]
	KindMemory                      // [address] of a data field
	KindLiteral                     // immediate value
	KindLabel                       // address of a label
	KindPC                          // program counter
	KindSP                          // stack pointer
	KindO                           // overflow register
)

// ShortLiteralLimit is the first literal value that no longer fits in the
// operand field and needs its own word.
const ShortLiteralLimit = 0x20

// Operand is one of the two arguments of an Instruction. Operands are
// comparable: two operands are equal when they address the same slot.
type Operand struct {
	Kind    OperandKind
	Reg     Register // KindRegister, KindPointer
	Indexed bool     // KindPointer carries Offset
	Offset  uint16   // KindPointer
	Value   uint16   // KindLiteral value, KindMemory address
	Name    string   // KindLabel target, KindMemory field name
}

func None() Operand                { return Operand{} }
func Reg(r Register) Operand       { return Operand{Kind: KindRegister, Reg: r} }
func Push() Operand                { return Operand{Kind: KindPush} }
func Pop() Operand                 { return Operand{Kind: KindPop} }
func Peek() Operand                { return Operand{Kind: KindPeek} }
func Ptr(r Register) Operand       { return Operand{Kind: KindPointer, Reg: r} }
func Lit(v uint16) Operand         { return Operand{Kind: KindLiteral, Value: v} }
func LabelRef(name string) Operand { return Operand{Kind: KindLabel, Name: name} }
func PC() Operand                  { return Operand{Kind: KindPC} }
func SP() Operand                  { return Operand{Kind: KindSP} }
func O() Operand                   { return Operand{Kind: KindO} }

func Mem(addr uint16, name string) Operand {
	return Operand{Kind: KindMemory, Value: addr, Name: name}
}

// PtrOffset addresses [offset+r]. Negative offsets wrap to 16 bits, which is
// how the target adds them.
func PtrOffset(r Register, offset int) Operand {
	return Operand{Kind: KindPointer, Reg: r, Indexed: true, Offset: uint16(offset)}
}

// ExtraWords is the number of words the operand occupies after the opcode word.
func (o Operand) ExtraWords() int {
	switch o.Kind {
	case KindLiteral:
		if o.Value >= ShortLiteralLimit {
			return 1
		}
	case KindLabel, KindMemory:
		return 1
	case KindPointer:
		if o.Indexed {
			return 1
		}
	}
	return 0
}

// TouchesStack reports whether using the operand reads or moves the stack
// pointer.
func (o Operand) TouchesStack() bool {
	switch o.Kind {
	case KindPush, KindPop, KindPeek, KindSP:
		return true
	}
	return false
}

// IsMemory reports whether the operand refers to a memory cell other than a
// stack slot.
func (o Operand) IsMemory() bool {
	return o.Kind == KindPointer || o.Kind == KindMemory
}

// IsLiteral reports whether the operand is the literal v.
func (o Operand) IsLiteral(v uint16) bool {
	return o.Kind == KindLiteral && o.Value == v
}

// Reads reports whether evaluating o reads register r.
func (o Operand) Reads(r Register) bool {
	return (o.Kind == KindRegister || o.Kind == KindPointer) && o.Reg == r
}

// Writable reports whether o may be the destination of an instruction.
func (o Operand) Writable() bool {
	switch o.Kind {
	case KindNone, KindLiteral, KindLabel:
		return false
	}
	return true
}

func (o Operand) String() string {
	switch o.Kind {
	case KindNone:
		return ""
	case KindRegister:
		return o.Reg.String()
	case KindPush:
		return "PUSH"
	case KindPop:
		return "POP"
	case KindPeek:
		return "PEEK"
	case KindPointer:
		if o.Indexed {
			return fmt.Sprintf("[0x%04x+%s]", o.Offset, o.Reg)
		}
		return fmt.Sprintf("[%s]", o.Reg)
	case KindMemory:
		return fmt.Sprintf("[0x%04x]", o.Value)
	case KindLiteral:
		if o.Value < 10 {
			return fmt.Sprintf("%d", o.Value)
		}
		return fmt.Sprintf("0x%04x", o.Value)
	case KindLabel:
		return o.Name
	case KindPC:
		return "PC"
	case KindSP:
		return "SP"
	case KindO:
		return "O"
	default:
		return "?"
	}
}
