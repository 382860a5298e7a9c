package cpu

import (
	"errors"
	"fmt"
)

// Basic opcodes, stored in the low four bits of an instruction word.
const (
	OpNonBasic uint16 = 0x0
	OpSET      uint16 = 0x1
	OpADD      uint16 = 0x2
	OpSUB      uint16 = 0x3
	OpMUL      uint16 = 0x4
	OpDIV      uint16 = 0x5
	OpMOD      uint16 = 0x6
	OpSHL      uint16 = 0x7
	OpSHR      uint16 = 0x8
	OpAND      uint16 = 0x9
	OpBOR      uint16 = 0xA
	OpXOR      uint16 = 0xB
	OpIFE      uint16 = 0xC
	OpIFN      uint16 = 0xD
	OpIFG      uint16 = 0xE
	OpIFB      uint16 = 0xF
)

// Non-basic opcodes, stored in the a field of a non-basic instruction.
const (
	OpJSR uint16 = 0x01
)

// Operand value codes.
const (
	ValRegister       uint16 = 0x00 // + register
	ValRegisterPtr    uint16 = 0x08 // [register]
	ValRegisterOffset uint16 = 0x10 // [next word + register]
	ValPop            uint16 = 0x18
	ValPeek           uint16 = 0x19
	ValPush           uint16 = 0x1A
	ValSP             uint16 = 0x1B
	ValPC             uint16 = 0x1C
	ValO              uint16 = 0x1D
	ValNextWordPtr    uint16 = 0x1E // [next word]
	ValNextWord       uint16 = 0x1F // next word literal
	ValLiteral        uint16 = 0x20 // + 0x00..0x1f
)

const (
	RegA uint16 = iota
	RegB
	RegC
	RegX
	RegY
	RegZ
	RegI
	RegJ
)

// ErrCycleLimit is returned by Run when the program does not halt in time.
var ErrCycleLimit = errors.New("cycle limit reached")

// ErrIllegalInstruction is returned by Step for a reserved opcode.
var ErrIllegalInstruction = errors.New("illegal instruction")

// CPU is a DCPU-16 v1.1 core with 64K words of memory.
type CPU struct {
	Regs [8]uint16

	PC uint16
	SP uint16
	O  uint16

	Memory [0x10000]uint16

	// Halted is set once an instruction leaves PC on its own address.
	Halted bool

	Cycles int
	Steps  int

	// MaxStackDepth is the deepest the stack has grown since reset, in words.
	MaxStackDepth int
}

func NewCPU() *CPU {
	return &CPU{}
}

// Load copies program to address 0 and resets the registers.
func (c *CPU) Load(program []uint16) error {
	if len(program) > len(c.Memory) {
		return fmt.Errorf("program of %d words does not fit in memory", len(program))
	}
	c.Memory = [0x10000]uint16{}
	copy(c.Memory[:], program)
	c.Reset()
	return nil
}

// Reset clears the registers without touching memory.
func (c *CPU) Reset() {
	c.Regs = [8]uint16{}
	c.PC, c.SP, c.O = 0, 0, 0
	c.Halted = false
	c.Cycles, c.Steps, c.MaxStackDepth = 0, 0, 0
}

// StackDepth is the number of words currently on the stack.
func (c *CPU) StackDepth() int {
	return int(uint16(0 - c.SP))
}

func (c *CPU) trackStack() {
	if d := c.StackDepth(); d > c.MaxStackDepth {
		c.MaxStackDepth = d
	}
}

func (c *CPU) nextWord() uint16 {
	w := c.Memory[c.PC]
	c.PC++
	c.Cycles++
	return w
}

// operand is a resolved operand: either a memory cell, a register-like slot,
// or a literal that discards writes.
type operand struct {
	ptr     *uint16
	literal uint16
}

func (o operand) get() uint16 {
	if o.ptr == nil {
		return o.literal
	}
	return *o.ptr
}

func (o operand) set(v uint16) {
	if o.ptr != nil {
		*o.ptr = v
	}
}

func (c *CPU) resolve(code uint16) operand {
	switch {
	case code < ValRegisterPtr:
		return operand{ptr: &c.Regs[code]}
	case code < ValRegisterOffset:
		return operand{ptr: &c.Memory[c.Regs[code-ValRegisterPtr]]}
	case code < ValPop:
		addr := c.nextWord() + c.Regs[code-ValRegisterOffset]
		return operand{ptr: &c.Memory[addr]}
	case code >= ValLiteral:
		return operand{literal: code - ValLiteral}
	}

	switch code {
	case ValPop:
		p := &c.Memory[c.SP]
		c.SP++
		return operand{ptr: p}
	case ValPeek:
		return operand{ptr: &c.Memory[c.SP]}
	case ValPush:
		c.SP--
		c.trackStack()
		return operand{ptr: &c.Memory[c.SP]}
	case ValSP:
		return operand{ptr: &c.SP}
	case ValPC:
		return operand{ptr: &c.PC}
	case ValO:
		return operand{ptr: &c.O}
	case ValNextWordPtr:
		return operand{ptr: &c.Memory[c.nextWord()]}
	default: // ValNextWord
		return operand{literal: c.nextWord()}
	}
}

// operandWords is the number of extra words an operand code consumes.
func operandWords(code uint16) uint16 {
	switch {
	case code >= ValRegisterOffset && code < ValPop:
		return 1
	case code == ValNextWordPtr || code == ValNextWord:
		return 1
	}
	return 0
}

func (c *CPU) skip() {
	instr := c.nextWord()
	op := instr & 0xF
	a := (instr >> 4) & 0x3F
	b := (instr >> 10) & 0x3F
	if op == OpNonBasic {
		c.PC += operandWords(b)
		return
	}
	c.PC += operandWords(a) + operandWords(b)
}

// Step executes one instruction.
func (c *CPU) Step() error {
	if c.Halted {
		return nil
	}
	start := c.PC
	defer func() {
		c.Steps++
		c.trackStack()
		if c.PC == start {
			c.Halted = true
		}
	}()

	instr := c.nextWord()
	op := instr & 0xF
	aCode := (instr >> 4) & 0x3F
	bCode := (instr >> 10) & 0x3F

	if op == OpNonBasic {
		switch aCode {
		case OpJSR:
			target := c.resolve(bCode).get()
			c.Cycles++
			c.SP--
			c.Memory[c.SP] = c.PC
			c.PC = target
			return nil
		default:
			return fmt.Errorf("%w 0x%04x at 0x%04x", ErrIllegalInstruction, instr, start)
		}
	}

	a := c.resolve(aCode)
	b := c.resolve(bCode)
	x, y := uint32(a.get()), uint32(b.get())

	switch op {
	case OpSET:
		a.set(uint16(y))
	case OpADD:
		c.Cycles++
		r := x + y
		a.set(uint16(r))
		c.O = uint16(r >> 16)
	case OpSUB:
		c.Cycles++
		a.set(uint16(x - y))
		if x < y {
			c.O = 0xFFFF
		} else {
			c.O = 0
		}
	case OpMUL:
		c.Cycles++
		r := x * y
		a.set(uint16(r))
		c.O = uint16(r >> 16)
	case OpDIV:
		c.Cycles += 2
		if y == 0 {
			a.set(0)
			c.O = 0
			break
		}
		a.set(uint16(x / y))
		c.O = uint16((x << 16) / y)
	case OpMOD:
		c.Cycles += 2
		if y == 0 {
			a.set(0)
			break
		}
		a.set(uint16(x % y))
	case OpSHL:
		c.Cycles++
		r := uint64(x) << y
		a.set(uint16(r))
		c.O = uint16(r >> 16)
	case OpSHR:
		c.Cycles++
		a.set(uint16(x >> y))
		c.O = uint16((uint64(x) << 16) >> y)
	case OpAND:
		a.set(uint16(x & y))
	case OpBOR:
		a.set(uint16(x | y))
	case OpXOR:
		a.set(uint16(x ^ y))
	case OpIFE, OpIFN, OpIFG, OpIFB:
		c.Cycles++
		var ok bool
		switch op {
		case OpIFE:
			ok = x == y
		case OpIFN:
			ok = x != y
		case OpIFG:
			ok = x > y
		case OpIFB:
			ok = x&y != 0
		}
		if !ok {
			c.Cycles++
			c.skip()
		}
	}
	return nil
}

// Run steps until the CPU halts or more than limit cycles have been spent.
// A limit of zero means no limit.
func (c *CPU) Run(limit int) error {
	for !c.Halted {
		if limit > 0 && c.Cycles > limit {
			return fmt.Errorf("%w after %d cycles at PC 0x%04x", ErrCycleLimit, c.Cycles, c.PC)
		}
		if err := c.Step(); err != nil {
			return err
		}
	}
	return nil
}

// EncodeBasic packs a basic instruction word.
func EncodeBasic(op, a, b uint16) uint16 {
	return b<<10 | a<<4 | op
}

// EncodeNonBasic packs a non-basic instruction word.
func EncodeNonBasic(op, a uint16) uint16 {
	return a<<10 | op<<4 | OpNonBasic
}
