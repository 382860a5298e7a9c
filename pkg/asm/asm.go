package asm

import (
	"fmt"

	"dcc/pkg/cpu"
)

var basicOps = map[Opcode]uint16{
	OpSET: cpu.OpSET,
	OpADD: cpu.OpADD,
	OpSUB: cpu.OpSUB,
	OpMUL: cpu.OpMUL,
	OpDIV: cpu.OpDIV,
	OpMOD: cpu.OpMOD,
	OpSHL: cpu.OpSHL,
	OpSHR: cpu.OpSHR,
	OpAND: cpu.OpAND,
	OpBOR: cpu.OpBOR,
	OpXOR: cpu.OpXOR,
	OpIFE: cpu.OpIFE,
	OpIFN: cpu.OpIFN,
	OpIFG: cpu.OpIFG,
	OpIFB: cpu.OpIFB,
}

var nonBasicOps = map[Opcode]uint16{
	OpJSR: cpu.OpJSR,
}

// Assembler encodes abstract instructions into DCPU-16 machine words.
type Assembler struct {
	labels map[string]uint16
}

func NewAssembler() *Assembler {
	return &Assembler{
		labels: make(map[string]uint16),
	}
}

// Assemble encodes program. The source map relates each emitted code address
// to the index of the instruction that produced it.
func Assemble(program []Instruction) ([]uint16, map[uint16]int, error) {
	return NewAssembler().Assemble(program)
}

func (a *Assembler) Assemble(program []Instruction) ([]uint16, map[uint16]int, error) {
	if err := a.pass1(program); err != nil {
		return nil, nil, err
	}
	return a.pass2(program)
}

// Labels returns the label addresses found by the last Assemble.
func (a *Assembler) Labels() map[string]uint16 {
	return a.labels
}

func (a *Assembler) pass1(program []Instruction) error {
	var address uint32

	for i, in := range program {
		if name := in.LabelName(); name != "" {
			if address > 0xFFFF {
				return fmt.Errorf("label '%s' at instruction %d points past addressable memory", name, i)
			}
			if _, exists := a.labels[name]; exists {
				return fmt.Errorf("duplicate label '%s' at instruction %d", name, i)
			}
			a.labels[name] = uint16(address)
			continue
		}

		address += uint32(in.Size())
		if address > AddressSpace {
			return fmt.Errorf("program too large at instruction %d", i)
		}
	}

	return nil
}

func (a *Assembler) pass2(program []Instruction) ([]uint16, map[uint16]int, error) {
	words := make([]uint16, 0, len(program))
	sourceMap := make(map[uint16]int)

	for i, in := range program {
		if in.Op.IsPseudo() {
			continue
		}
		if _, err := in.Render(); err != nil {
			return nil, nil, fmt.Errorf("instruction %d: %w", i, err)
		}

		sourceMap[uint16(len(words))] = i

		if op, ok := nonBasicOps[in.Op]; ok {
			code, extra, err := a.encodeOperand(in.A)
			if err != nil {
				return nil, nil, fmt.Errorf("instruction %d: %w", i, err)
			}
			words = append(words, cpu.EncodeNonBasic(op, code))
			words = append(words, extra...)
			continue
		}

		op, ok := basicOps[in.Op]
		if !ok {
			return nil, nil, fmt.Errorf("instruction %d: cannot encode %s", i, in.Op)
		}
		aCode, aExtra, err := a.encodeOperand(in.A)
		if err != nil {
			return nil, nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		bCode, bExtra, err := a.encodeOperand(in.B)
		if err != nil {
			return nil, nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		words = append(words, cpu.EncodeBasic(op, aCode, bCode))
		words = append(words, aExtra...)
		words = append(words, bExtra...)
	}

	return words, sourceMap, nil
}

// encodeOperand returns the 6-bit operand code and any trailing words. The
// number of trailing words always equals ExtraWords, so pass1 addresses hold.
func (a *Assembler) encodeOperand(o Operand) (uint16, []uint16, error) {
	switch o.Kind {
	case KindRegister:
		return cpu.ValRegister + uint16(o.Reg), nil, nil
	case KindPointer:
		if o.Indexed {
			return cpu.ValRegisterOffset + uint16(o.Reg), []uint16{o.Offset}, nil
		}
		return cpu.ValRegisterPtr + uint16(o.Reg), nil, nil
	case KindPop:
		return cpu.ValPop, nil, nil
	case KindPeek:
		return cpu.ValPeek, nil, nil
	case KindPush:
		return cpu.ValPush, nil, nil
	case KindSP:
		return cpu.ValSP, nil, nil
	case KindPC:
		return cpu.ValPC, nil, nil
	case KindO:
		return cpu.ValO, nil, nil
	case KindMemory:
		return cpu.ValNextWordPtr, []uint16{o.Value}, nil
	case KindLiteral:
		if o.Value < ShortLiteralLimit {
			return cpu.ValLiteral + o.Value, nil, nil
		}
		return cpu.ValNextWord, []uint16{o.Value}, nil
	case KindLabel:
		addr, ok := a.labels[o.Name]
		if !ok {
			return 0, nil, fmt.Errorf("undefined label '%s'", o.Name)
		}
		return cpu.ValNextWord, []uint16{addr}, nil
	}
	return 0, nil, fmt.Errorf("operand kind %d cannot be encoded", o.Kind)
}
