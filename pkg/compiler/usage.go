package compiler

import (
	"fmt"

	"dcc/pkg/diag"
)

// Warning is a diagnostic that does not stop compilation.
type Warning struct {
	Pos diag.Pos
	Msg string
}

func (w Warning) String() string {
	if loc := w.Pos.String(); loc != "" {
		return loc + ": " + w.Msg
	}
	return w.Msg
}

func warnf(pos diag.Pos, format string, args ...any) Warning {
	return Warning{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// markUsage walks every function body and sets the Read and Assigned flags
// of the data fields and variables it touches and the Called flag of the
// functions it calls.
func markUsage(prog *Program) {
	syms := NewSymbolTable(prog)
	for _, name := range prog.FunctionNames() {
		f := prog.Functions[name]
		if f.Predefined {
			continue
		}
		syms.EnterFunction(f)
		u := usageWalker{prog: prog, syms: syms}
		u.stmt(f.Body)
		syms.ExitFunction()
	}
}

type usageWalker struct {
	prog *Program
	syms *SymbolTable
}

func (u usageWalker) read(name string) {
	if sym, ok := u.syms.Lookup(name); ok {
		sym.markRead()
	}
}

func (u usageWalker) assign(name string) {
	if sym, ok := u.syms.Lookup(name); ok {
		sym.markAssigned()
	}
}

func (u usageWalker) expr(e Expr) {
	if e == nil {
		return
	}
	switch n := e.(type) {
	case *Identifier:
		u.read(n.Name)
	case *AddressOf:
		// the field escapes; treat it as both read and written
		u.read(n.Name)
		u.assign(n.Name)
	case *Dereference:
		u.expr(n.Address)
	case *BinaryExpr:
		u.expr(n.Left)
		u.expr(n.Right)
	case *Not:
		u.expr(n.Operand)
	case *Call:
		if f, ok := u.prog.Functions[n.Function]; ok {
			f.Called = true
		}
		for _, arg := range n.Args {
			u.expr(arg)
		}
	case *GetBit:
		u.expr(n.Operand)
	case *Comparison:
		u.expr(n.Left)
		u.expr(n.Right)
	case *BooleanBinary:
		u.expr(n.Left)
		u.expr(n.Right)
	case *BooleanNot:
		u.expr(n.Operand)
	case *Constant, *BooleanConstant:
		// nothing referenced
	}
}

func (u usageWalker) stmt(s Stmt) {
	switch n := s.(type) {
	case *Block:
		if n == nil {
			return
		}
		for _, child := range n.Stmts {
			u.stmt(child)
		}
	case *Assignment:
		u.assign(n.Target)
		u.expr(n.Value)
	case *DerefAssignment:
		u.expr(n.Address)
		u.expr(n.Value)
	case *Discard:
		u.expr(n.Expr)
	case *Increment:
		u.read(n.Target)
		u.assign(n.Target)
	case *Decrement:
		u.read(n.Target)
		u.assign(n.Target)
	case *SetBit:
		u.read(n.Target)
		u.assign(n.Target)
		u.expr(n.Value)
	case *ReturnValue:
		u.expr(n.Value)
	case *If:
		u.expr(n.Cond)
		u.stmt(n.Then)
		u.stmt(n.Else)
	case *Loop:
		u.stmt(n.Body)
	case *While:
		u.expr(n.Cond)
		u.stmt(n.Body)
	case *Repeat:
		u.expr(n.Count)
		u.stmt(n.Body)
	case *Return, *Break, *Continue:
	}
}

// UsageWarnings marks usage and reports identifiers that are declared but
// never used, never assigned or never read, and functions that are never
// called. Predefined identifiers, the entry function and interrupt handlers
// are exempt.
func UsageWarnings(prog *Program) []Warning {
	markUsage(prog)

	var warnings []Warning
	for _, name := range prog.FieldNames() {
		f := prog.DataFields[name]
		if f.Predefined {
			continue
		}
		switch {
		case !f.Read && !f.Assigned:
			warnings = append(warnings, warnf(f.Pos, "data field '%s' is never used", f.Name))
		case f.Constant:
			// constants cannot be assigned
		case !f.Assigned && f.Default == nil:
			warnings = append(warnings, warnf(f.Pos, "data field '%s' is never assigned", f.Name))
		case !f.Read:
			warnings = append(warnings, warnf(f.Pos, "data field '%s' is never read", f.Name))
		}
	}

	for _, name := range prog.FunctionNames() {
		f := prog.Functions[name]
		if f.Predefined {
			continue
		}
		if !f.Called && !f.Entry && !f.InterruptHandler {
			warnings = append(warnings, warnf(f.Pos, "function '%s' is never called", f.Name))
		}
		for _, p := range f.Params {
			if !p.Read {
				warnings = append(warnings, warnf(p.Pos, "parameter '%s' of '%s' is never read", p.Name, f.Name))
			}
		}
		for _, l := range f.Locals {
			switch {
			case !l.Read && !l.Assigned:
				warnings = append(warnings, warnf(l.Pos, "local variable '%s' of '%s' is never used", l.Name, f.Name))
			case !l.Assigned:
				warnings = append(warnings, warnf(l.Pos, "local variable '%s' of '%s' is never assigned", l.Name, f.Name))
			case !l.Read:
				warnings = append(warnings, warnf(l.Pos, "local variable '%s' of '%s' is never read", l.Name, f.Name))
			}
		}
	}
	return warnings
}
