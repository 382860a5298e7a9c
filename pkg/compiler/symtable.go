package compiler

import (
	"fmt"
	"sort"
	"strings"

	"dcc/pkg/asm"
)

type ScopeType int

const (
	ScopeGlobal ScopeType = iota
	ScopeConstant
	ScopeParam
	ScopeLocal
)

func (s ScopeType) String() string {
	switch s {
	case ScopeGlobal:
		return "global"
	case ScopeConstant:
		return "constant"
	case ScopeParam:
		return "param"
	case ScopeLocal:
		return "local"
	}
	return fmt.Sprintf("ScopeType(%d)", int(s))
}

type Symbol struct {
	Name   string
	Scope  ScopeType
	Offset int // frame offset from C for params and locals

	Field *DataField // ScopeGlobal, ScopeConstant
	Var   *Variable  // ScopeParam, ScopeLocal
}

// Operand returns where the symbol's value lives.
func (s Symbol) Operand() asm.Operand {
	switch s.Scope {
	case ScopeConstant:
		return asm.Lit(s.Field.Value)
	case ScopeGlobal:
		return asm.Mem(s.Field.Address, s.Field.Name)
	default:
		return asm.PtrOffset(asm.FrameRegister, s.Offset)
	}
}

func (s Symbol) markRead() {
	if s.Field != nil {
		s.Field.Read = true
	}
	if s.Var != nil {
		s.Var.Read = true
	}
}

func (s Symbol) markAssigned() {
	if s.Field != nil {
		s.Field.Assigned = true
	}
	if s.Var != nil {
		s.Var.Assigned = true
	}
}

// SymbolTable resolves names inside a function body.
// Data fields live at fixed addresses; params and locals are addressed
// relative to the frame register:
//
//	[C+0]               saved C (functions that save the frame)
//	[C+1]               return address
//	[C+base+(n-1-i)]    parameter i of n, base 2 (1 for the entry function)
//	[C-1-i]             local i
type SymbolTable struct {
	globals map[string]Symbol
	locals  map[string]Symbol

	fn *Function
}

func NewSymbolTable(prog *Program) *SymbolTable {
	s := &SymbolTable{
		globals: make(map[string]Symbol),
	}
	for name, f := range prog.DataFields {
		scope := ScopeGlobal
		if f.Constant {
			scope = ScopeConstant
		}
		s.globals[name] = Symbol{Name: name, Scope: scope, Field: f}
	}
	return s
}

// EnterFunction defines the params and locals of f.
func (s *SymbolTable) EnterFunction(f *Function) {
	s.fn = f
	s.locals = make(map[string]Symbol)

	base := 2
	if !f.SavesFrame() {
		base = 1
	}
	n := len(f.Params)
	for i, p := range f.Params {
		s.locals[p.Name] = Symbol{Name: p.Name, Scope: ScopeParam, Offset: base + (n - 1 - i), Var: p}
	}
	for i, l := range f.Locals {
		s.locals[l.Name] = Symbol{Name: l.Name, Scope: ScopeLocal, Offset: -1 - i, Var: l}
	}
}

func (s *SymbolTable) ExitFunction() {
	s.fn = nil
	s.locals = nil
}

// Lookup returns the symbol and whether it was found. Params and locals
// shadow data fields.
func (s *SymbolTable) Lookup(name string) (Symbol, bool) {
	if sym, ok := s.locals[name]; ok {
		return sym, true
	}
	sym, ok := s.globals[name]
	return sym, ok
}

// RepeatSlot is the frame slot holding the repeat counter saved by the
// outermost repeat of the current function.
func (s *SymbolTable) RepeatSlot() asm.Operand {
	return asm.PtrOffset(asm.FrameRegister, -(len(s.fn.Locals) + 1))
}

// String returns a deterministically ordered dump of the table.
func (s *SymbolTable) String() string {
	var sb strings.Builder
	if len(s.globals) > 0 {
		sb.WriteString("Globals:\n")
		names := make([]string, 0, len(s.globals))
		for name := range s.globals {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			sym := s.globals[name]
			fmt.Fprintf(&sb, "  %-20s  %s %s\n", name, sym.Scope, sym.Operand())
		}
	} else {
		sb.WriteString("Globals: (empty)\n")
	}

	if s.fn != nil {
		fmt.Fprintf(&sb, "Frame of %s:\n", s.fn.Name)
		names := make([]string, 0, len(s.locals))
		for name := range s.locals {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			return s.locals[names[i]].Offset > s.locals[names[j]].Offset
		})
		for _, name := range names {
			sym := s.locals[name]
			fmt.Fprintf(&sb, "    %-20s  %s %s\n", name, sym.Scope, sym.Operand())
		}
	}
	return sb.String()
}
