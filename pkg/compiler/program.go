package compiler

import (
	"sort"
	"strings"

	"dcc/pkg/asm"
	"dcc/pkg/diag"
)

// VoidType is the return type of functions without a value.
const VoidType = "void"

// DataField is a module-scoped storage location or compile-time constant.
type DataField struct {
	diag.Pos
	Name string
	Type string

	// Constant fields are substituted by Value and never get an address.
	Constant bool
	Value    uint16

	// Default is stored by the boot code before the entry function runs.
	Default *uint16

	// Predefined fields are supplied by the toolchain and exempt from
	// usage warnings.
	Predefined bool

	Address   uint16
	Allocated bool

	Assigned bool
	Read     bool
}

// Variable is a function parameter or local variable.
type Variable struct {
	diag.Pos
	Name string
	Type string

	Assigned bool
	Read     bool
}

// Function is a callable routine.
type Function struct {
	diag.Pos
	Name   string
	Type   string
	Params []*Variable
	Locals []*Variable
	Body   *Block

	// Entry marks the program entry point, called once by the boot code.
	Entry bool
	// InterruptHandler functions are entered by hardware and cannot be called.
	InterruptHandler bool

	// Predefined functions are intrinsics made of fixed instructions with a
	// declared stack usage.
	Predefined bool
	Code       []asm.Instruction
	StackUsage int

	Called bool
}

// SavesFrame reports whether the prologue saves the caller's frame register.
func (f *Function) SavesFrame() bool {
	return !f.Entry && !f.Predefined
}

func (f *Function) IsVoid() bool {
	return f.Type == VoidType
}

// Program is a resolved, merged set of modules.
type Program struct {
	DataFields map[string]*DataField
	Functions  map[string]*Function
	Entry      string
}

func NewProgram() *Program {
	return &Program{
		DataFields: make(map[string]*DataField),
		Functions:  make(map[string]*Function),
	}
}

// Clone copies the program's declarations so compilation can set addresses
// and usage flags without touching p. Function bodies are shared; nothing
// writes to them.
func (p *Program) Clone() *Program {
	c := NewProgram()
	c.Entry = p.Entry
	for name, f := range p.DataFields {
		cp := *f
		c.DataFields[name] = &cp
	}
	for name, f := range p.Functions {
		cp := *f
		cp.Params = cloneVariables(f.Params)
		cp.Locals = cloneVariables(f.Locals)
		c.Functions[name] = &cp
	}
	return c
}

func cloneVariables(vs []*Variable) []*Variable {
	if vs == nil {
		return nil
	}
	out := make([]*Variable, len(vs))
	for i, v := range vs {
		cp := *v
		out[i] = &cp
	}
	return out
}

// FieldNames returns the data field names in generation order.
func (p *Program) FieldNames() []string {
	names := make([]string, 0, len(p.DataFields))
	for name := range p.DataFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FunctionNames returns the function names in generation order.
func (p *Program) FunctionNames() []string {
	names := make([]string, 0, len(p.Functions))
	for name := range p.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EntryFunction returns the function flagged as the entry point.
func (p *Program) EntryFunction() *Function {
	return p.Functions[p.Entry]
}

// mangle turns a qualified name into a label-safe one.
func mangle(name string) string {
	return strings.ReplaceAll(name, ".", "__")
}

func funcLabel(name string) string { return "func_" + mangle(name) }
func retLabel(name string) string  { return "ret_" + mangle(name) }

// FunctionLabel returns the code label of the named function.
func FunctionLabel(name string) string { return funcLabel(name) }
