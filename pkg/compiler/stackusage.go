package compiler

import (
	"dcc/pkg/diag"
)

// stackUsage computes the exact number of stack words a construct needs
// beyond the depth at which it starts. It mirrors the code generator rule
// for rule and never generates code.
type stackUsage struct {
	prog     *Program
	done     map[string]int
	visiting map[string]bool
}

func newStackUsage(prog *Program) *stackUsage {
	return &stackUsage{
		prog:     prog,
		done:     make(map[string]int),
		visiting: make(map[string]bool),
	}
}

// StackUsage returns the stack words needed by a call into the named
// function, excluding its arguments and return address.
func StackUsage(prog *Program, name string) (int, error) {
	return newStackUsage(prog).function(name, diag.Pos{})
}

func (u *stackUsage) function(name string, at diag.Pos) (int, error) {
	if n, ok := u.done[name]; ok {
		return n, nil
	}
	f, ok := u.prog.Functions[name]
	if !ok {
		return 0, diag.Errorf(at, "unknown function '%s'", name)
	}
	if u.visiting[name] {
		return 0, diag.Errorf(at, "recursive call to '%s': stack usage is unbounded", name)
	}
	u.visiting[name] = true
	defer delete(u.visiting, name)

	var n int
	switch {
	case f.Predefined:
		n = f.StackUsage
	default:
		body, err := u.stmt(f.Body)
		if err != nil {
			return 0, err
		}
		n = len(f.Locals) + body
		if f.SavesFrame() {
			n++
		}
	}
	u.done[name] = n
	return n, nil
}

func (u *stackUsage) expr(e Expr) (int, error) {
	switch n := e.(type) {
	case *Constant, *Identifier, *AddressOf, *BooleanConstant:
		return 1, nil

	case *BinaryExpr:
		if inlineRight(n) {
			return u.expr(n.Left)
		}
		// right first, then left on top of it
		return u.pair(n.Right, n.Left)

	case *Comparison:
		return u.pair(n.Left, n.Right)

	case *BooleanBinary:
		return u.pair(n.Left, n.Right)

	case *Not:
		return u.expr(n.Operand)
	case *BooleanNot:
		return u.expr(n.Operand)
	case *GetBit:
		return u.expr(n.Operand)
	case *Dereference:
		return u.expr(n.Address)

	case *Call:
		usage := 0
		for i, arg := range n.Args {
			a, err := u.expr(arg)
			if err != nil {
				return 0, err
			}
			usage = max(usage, a+i)
		}
		callee, err := u.function(n.Function, n.Pos)
		if err != nil {
			return 0, err
		}
		return max(usage, len(n.Args)+1+callee), nil
	}
	return 0, diag.Internalf("stack usage: unhandled expression %T", e)
}

// pair is the usage of evaluating first, then second while first's value is
// held on the stack.
func (u *stackUsage) pair(first, second Expr) (int, error) {
	a, err := u.expr(first)
	if err != nil {
		return 0, err
	}
	b, err := u.expr(second)
	if err != nil {
		return 0, err
	}
	return max(a, b+1), nil
}

func (u *stackUsage) stmt(s Stmt) (int, error) {
	switch n := s.(type) {
	case *Block:
		if n == nil {
			return 0, nil
		}
		usage := 0
		for _, child := range n.Stmts {
			c, err := u.stmt(child)
			if err != nil {
				return 0, err
			}
			usage = max(usage, c)
		}
		return usage, nil

	case *Assignment:
		return u.expr(n.Value)
	case *Discard:
		return u.expr(n.Expr)
	case *ReturnValue:
		return u.expr(n.Value)

	case *DerefAssignment:
		return u.pair(n.Value, n.Address)

	case *SetBit:
		if _, ok := n.Value.(*BooleanConstant); ok {
			return 0, nil
		}
		return u.expr(n.Value)

	case *Increment, *Decrement, *Return, *Break, *Continue:
		return 0, nil

	case *If:
		usage, err := u.expr(n.Cond)
		if err != nil {
			return 0, err
		}
		for _, b := range []*Block{n.Then, n.Else} {
			c, err := u.stmt(b)
			if err != nil {
				return 0, err
			}
			usage = max(usage, c)
		}
		return usage, nil

	case *Loop:
		return u.stmt(n.Body)

	case *While:
		c, err := u.expr(n.Cond)
		if err != nil {
			return 0, err
		}
		b, err := u.stmt(n.Body)
		if err != nil {
			return 0, err
		}
		return max(c, b), nil

	case *Repeat:
		// the saved repeat counter stays on the stack for the whole loop
		c, err := u.expr(n.Count)
		if err != nil {
			return 0, err
		}
		b, err := u.stmt(n.Body)
		if err != nil {
			return 0, err
		}
		return 1 + max(c, b), nil
	}
	return 0, diag.Internalf("stack usage: unhandled statement %T", s)
}
