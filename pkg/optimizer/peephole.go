package optimizer

import (
	"dcc/pkg/asm"
)

// rule rewrites the window starting at i and reports whether it did.
type rule struct {
	name  string
	apply func(o *Optimizer, i int) bool
}

// rules in priority order. Comment removal is handled before these.
var rules = []rule{
	{"push-relocation", (*Optimizer).relocatePush},
	{"push-discard", (*Optimizer).pushDiscard},
	{"discard-push", (*Optimizer).discardPush},
	{"peek-pop", (*Optimizer).peekPop},
	{"push-pop", (*Optimizer).pushPop},
	{"tail-call", (*Optimizer).tailCall},
	{"jump-to-next", (*Optimizer).jumpToNext},
	{"no-op", (*Optimizer).noOp},
}

// peephole scans the program once with a cursor. After a rewrite the cursor
// stays put so the new window is tried again.
func (o *Optimizer) peephole() {
	i := 0
scan:
	for i < len(o.prog) {
		if o.prog[i].Op == asm.OpComment && !o.opts.KeepComments {
			o.count("comment", i)
			o.replace(i, 1)
			continue
		}
		if !o.conditionalTarget(i) {
			for _, r := range rules {
				if r.apply(o, i) {
					o.count(r.name, i)
					continue scan
				}
			}
		}
		i++
	}
}

// at returns the instruction at i and whether it exists.
func (o *Optimizer) at(i int) (asm.Instruction, bool) {
	if i < 0 || i >= len(o.prog) {
		return asm.Instruction{}, false
	}
	return o.prog[i], true
}

func isPush(in asm.Instruction) bool {
	return in.Op == asm.OpSET && in.A.Kind == asm.KindPush && !in.B.TouchesStack()
}

func isPop(in asm.Instruction) bool {
	return in.Op == asm.OpSET && in.B.Kind == asm.KindPop && !in.A.TouchesStack() && in.A.Kind != asm.KindPC
}

// spAdjust returns k for ADD SP, k.
func spAdjust(in asm.Instruction) (uint16, bool) {
	if in.Op == asm.OpADD && in.A.Kind == asm.KindSP && in.B.Kind == asm.KindLiteral {
		return in.B.Value, true
	}
	return 0, false
}

func touchesControl(in asm.Instruction) bool {
	return in.A.Kind == asm.KindPC || in.B.Kind == asm.KindPC
}

// SET PUSH, lit; X  =>  X; SET PUSH, lit
//
// X must be an ordinary instruction that leaves the stack alone.
func (o *Optimizer) relocatePush(i int) bool {
	push := o.prog[i]
	if !isPush(push) || push.B.Kind != asm.KindLiteral {
		return false
	}
	next, ok := o.at(i + 1)
	if !ok || next.Op.IsPseudo() || next.Op == asm.OpJSR || next.Op.IsConditional() ||
		next.TouchesStack() || touchesControl(next) {
		return false
	}
	push.Alias, next.Alias = next.Alias, push.Alias
	o.prog[i], o.prog[i+1] = next, push
	return true
}

// SET PUSH, x; ADD SP, k  =>  ADD SP, k-1
func (o *Optimizer) pushDiscard(i int) bool {
	if !isPush(o.prog[i]) {
		return false
	}
	next, ok := o.at(i + 1)
	if !ok {
		return false
	}
	k, ok := spAdjust(next)
	if !ok || k == 0 {
		return false
	}
	o.replace(i, 2, asm.New(asm.OpADD, asm.SP(), asm.Lit(k-1)))
	return true
}

// ADD SP, k; SET PUSH, x  =>  ADD SP, k-1; SET PEEK, x
func (o *Optimizer) discardPush(i int) bool {
	k, ok := spAdjust(o.prog[i])
	if !ok || k == 0 {
		return false
	}
	next, ok := o.at(i + 1)
	if !ok || !isPush(next) {
		return false
	}
	// leave a push that is dropped right away to push-discard
	if after, ok := o.at(i + 2); ok {
		if k, ok := spAdjust(after); ok && k > 0 {
			return false
		}
	}
	o.replace(i, 2,
		asm.New(asm.OpADD, asm.SP(), asm.Lit(k-1)),
		asm.Set(asm.Peek(), next.B),
	)
	return true
}

// SET PUSH, x; OP PEEK, y; SET t, POP  =>  SET t, x; OP t, y
func (o *Optimizer) peekPop(i int) bool {
	push := o.prog[i]
	if !isPush(push) {
		return false
	}
	modify, ok := o.at(i + 1)
	if !ok || !modify.Op.IsArithmetic() || modify.A.Kind != asm.KindPeek || modify.B.TouchesStack() {
		return false
	}
	pop, ok := o.at(i + 2)
	if !ok || !isPop(pop) {
		return false
	}
	t := pop.A
	if mayAlias(t, modify.B) {
		return false
	}
	o.replace(i, 3,
		asm.Set(t, push.B),
		asm.New(modify.Op, t, modify.B),
	)
	return true
}

// SET PUSH, x; SET y, POP  =>  SET y, x (nothing when x == y)
func (o *Optimizer) pushPop(i int) bool {
	push := o.prog[i]
	if !isPush(push) {
		return false
	}
	pop, ok := o.at(i + 1)
	if !ok || !isPop(pop) {
		return false
	}
	if push.B == pop.A {
		o.replace(i, 2)
	} else {
		o.replace(i, 2, asm.Set(pop.A, push.B))
	}
	return true
}

// JSR f; SET PC, POP  =>  SET PC, f; SET PC, POP
func (o *Optimizer) tailCall(i int) bool {
	call := o.prog[i]
	if call.Op != asm.OpJSR {
		return false
	}
	next, ok := o.at(i + 1)
	if !ok || !next.IsReturn() {
		return false
	}
	o.prog[i] = asm.Jump(call.A.Name).WithAlias(call.Alias)
	return true
}

// SET PC, L; :L  =>  :L
func (o *Optimizer) jumpToNext(i int) bool {
	jump := o.prog[i]
	if !jump.IsJump() {
		return false
	}
	next, ok := o.at(i + 1)
	if !ok || next.LabelName() != jump.B.Name {
		return false
	}
	o.replace(i, 1)
	return true
}

// ADD/SUB/SHL/SHR/BOR/XOR x, 0 and MUL/DIV x, 1 do nothing but set O.
func (o *Optimizer) noOp(i int) bool {
	in := o.prog[i]
	switch in.Op {
	case asm.OpADD, asm.OpSUB, asm.OpSHL, asm.OpSHR, asm.OpBOR, asm.OpXOR:
		if !in.B.IsLiteral(0) {
			return false
		}
	case asm.OpMUL, asm.OpDIV:
		if !in.B.IsLiteral(1) {
			return false
		}
	default:
		return false
	}
	if in.A.Kind == asm.KindPush || in.A.Kind == asm.KindPop {
		// the operand itself moves SP
		return false
	}
	o.replace(i, 1)
	return true
}

// mayAlias reports whether writing t could change what reading y yields.
func mayAlias(t, y asm.Operand) bool {
	switch t.Kind {
	case asm.KindRegister:
		return y.Reads(t.Reg)
	case asm.KindMemory:
		switch y.Kind {
		case asm.KindMemory:
			return y.Value == t.Value
		case asm.KindPointer:
			return true
		}
		return false
	case asm.KindPointer:
		switch y.Kind {
		case asm.KindPointer:
			if t.Reg == y.Reg && t.Indexed == y.Indexed {
				return t.Offset == y.Offset
			}
			return true
		case asm.KindMemory:
			return true
		}
		return false
	}
	return t.Kind == y.Kind
}
