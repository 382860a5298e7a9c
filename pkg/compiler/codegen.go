package compiler

import (
	"errors"

	"dcc/pkg/asm"
	"dcc/pkg/diag"
)

// Fixed labels of the boot code.
const (
	BootLabel       = "boot"
	InitLabel       = "init"
	MainExitedLabel = "main_exited"
)

var (
	regA  = asm.Reg(asm.ScratchRegister)
	regRV = asm.Reg(asm.ReturnRegister)
	regC  = asm.Reg(asm.FrameRegister)
	regJ  = asm.Reg(asm.RepeatCounter)
)

// CodeGen lowers a resolved program to abstract instructions. Every
// expression leaves exactly one word on the stack; statements leave none.
type CodeGen struct {
	ctx  *Context
	prog *Program
	syms *SymbolTable
	out  []asm.Instruction

	fn          *Function
	loopStack   []LoopLabel
	repeatDepth int
}

type LoopLabel struct {
	Continue string
	End      string
}

func newCodeGen(ctx *Context, prog *Program) *CodeGen {
	return &CodeGen{
		ctx:  ctx,
		prog: prog,
		syms: NewSymbolTable(prog),
	}
}

func (cg *CodeGen) emit(ins ...asm.Instruction) {
	cg.out = append(cg.out, ins...)
}

func (cg *CodeGen) comment(format string, args ...any) {
	cg.emit(asm.Comment(format, args...))
}

// Generate lowers prog into one instruction sequence: boot code, data field
// defaults, the call of the entry function, then every function in name
// order. Data fields must already have addresses.
//
// Compile errors are collected per function; an internal error aborts.
func Generate(ctx *Context, prog *Program) ([]asm.Instruction, error) {
	cg := newCodeGen(ctx, prog)

	entry := prog.EntryFunction()
	if entry == nil {
		return nil, diag.Internalf("entry function '%s' not found", prog.Entry)
	}

	cg.emit(
		asm.Label(BootLabel).WithAlias("boot code"),
		asm.Jump(InitLabel),
		asm.Label(InitLabel).WithAlias("initialisation"),
	)
	for _, name := range prog.FieldNames() {
		f := prog.DataFields[name]
		if f.Constant || f.Default == nil {
			continue
		}
		cg.emit(asm.Set(asm.Mem(f.Address, f.Name), asm.Lit(*f.Default)))
	}
	cg.emit(
		asm.JSR(funcLabel(entry.Name)),
		asm.Label(MainExitedLabel).WithAlias("main exited"),
		asm.Jump(MainExitedLabel),
	)
	program := cg.out

	var errs []error
	for _, name := range prog.FunctionNames() {
		code, err := cg.genFunction(prog.Functions[name])
		if err != nil {
			if diag.IsInternal(err) {
				return nil, err
			}
			errs = append(errs, err)
			continue
		}
		program = append(program, code...)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return program, nil
}

func (cg *CodeGen) genFunction(f *Function) ([]asm.Instruction, error) {
	cg.out = nil
	cg.fn = f
	cg.loopStack = nil
	cg.repeatDepth = 0
	cg.syms.EnterFunction(f)
	defer cg.syms.ExitFunction()

	cg.emit(asm.Label(funcLabel(f.Name)).WithAlias(f.Name))

	if f.Predefined {
		cg.emit(f.Code...)
		return cg.out, nil
	}

	if !f.IsVoid() && !endsInReturnValue(f.Body) {
		return nil, diag.Errorf(f.Pos, "a value must be returned from functions with data type '%s'", f.Type)
	}

	cg.comment("start function %s", f.Name)
	if f.SavesFrame() {
		cg.emit(asm.Set(asm.Push(), regC))
	}
	cg.emit(
		asm.Set(regC, asm.SP()),
		asm.New(asm.OpSUB, asm.SP(), asm.Lit(uint16(len(f.Locals)))),
	)

	if err := cg.genBlock(f.Body); err != nil {
		return nil, err
	}

	cg.emit(asm.Label(retLabel(f.Name)))
	cg.comment("end function %s", f.Name)
	cg.emit(asm.Set(asm.SP(), regC))
	if f.SavesFrame() {
		cg.emit(asm.Set(regC, asm.Pop()))
	}
	cg.emit(asm.Set(asm.PC(), asm.Pop()))
	return cg.out, nil
}

func endsInReturnValue(b *Block) bool {
	if b == nil || len(b.Stmts) == 0 {
		return false
	}
	_, ok := b.Stmts[len(b.Stmts)-1].(*ReturnValue)
	return ok
}

// lookup resolves name in the current function.
func (cg *CodeGen) lookup(pos diag.Pos, name string) (Symbol, error) {
	sym, ok := cg.syms.Lookup(name)
	if !ok {
		return Symbol{}, diag.Errorf(pos, "unknown identifier '%s'", name)
	}
	return sym, nil
}

// target resolves name as the destination of a store.
func (cg *CodeGen) target(pos diag.Pos, name string) (asm.Operand, error) {
	sym, err := cg.lookup(pos, name)
	if err != nil {
		return asm.Operand{}, err
	}
	if sym.Scope == ScopeConstant {
		return asm.Operand{}, diag.Errorf(pos, "constant field '%s' cannot be assigned to", name)
	}
	return sym.Operand(), nil
}

// operand resolves a constant or an identifier without generating code.
func (cg *CodeGen) operand(e Expr) (asm.Operand, error) {
	switch n := e.(type) {
	case *Constant:
		return asm.Lit(n.Value), nil
	case *Identifier:
		sym, err := cg.lookup(n.Pos, n.Name)
		if err != nil {
			return asm.Operand{}, err
		}
		return sym.Operand(), nil
	}
	return asm.Operand{}, diag.Internalf("codegen: %T is not a plain operand", e)
}

// inlineRight reports whether a non-commutative binary applies its right
// operand in place on the left value, as in SUB PEEK, 1. Identifiers
// qualify only when no call in the left operand can change them first.
func inlineRight(n *BinaryExpr) bool {
	if int(n.Op) < 0 || int(n.Op) >= len(binaryOps) || binaryOps[n.Op].commutative {
		return false
	}
	switch n.Right.(type) {
	case *Constant:
		return true
	case *Identifier:
		return !hasCall(n.Left)
	}
	return false
}

func hasCall(e Expr) bool {
	switch n := e.(type) {
	case *Call:
		return true
	case *BinaryExpr:
		return hasCall(n.Left) || hasCall(n.Right)
	case *Comparison:
		return hasCall(n.Left) || hasCall(n.Right)
	case *BooleanBinary:
		return hasCall(n.Left) || hasCall(n.Right)
	case *Not:
		return hasCall(n.Operand)
	case *BooleanNot:
		return hasCall(n.Operand)
	case *GetBit:
		return hasCall(n.Operand)
	case *Dereference:
		return hasCall(n.Address)
	}
	return false
}

func bitMask(pos diag.Pos, bit int) (uint16, error) {
	if bit < 0 || bit > 15 {
		return 0, diag.Errorf(pos, "bit '%d' out of range", bit)
	}
	return uint16(1) << bit, nil
}

func (cg *CodeGen) genBlock(b *Block) error {
	if b == nil {
		return nil
	}
	for _, s := range b.Stmts {
		if err := cg.genStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (cg *CodeGen) genStmt(s Stmt) error {
	switch n := s.(type) {

	case *Block:
		return cg.genBlock(n)

	case *Assignment:
		cg.comment("%s = %s", n.Target, n.Value)
		t, err := cg.target(n.Pos, n.Target)
		if err != nil {
			return err
		}
		if err := cg.genExpr(n.Value); err != nil {
			return err
		}
		cg.emit(asm.Set(t, asm.Pop()))

	case *DerefAssignment:
		cg.comment("*(%s) = %s", n.Address, n.Value)
		if err := cg.genExpr(n.Value); err != nil {
			return err
		}
		if err := cg.genExpr(n.Address); err != nil {
			return err
		}
		cg.emit(
			asm.Set(regA, asm.Pop()),
			asm.Set(asm.Ptr(asm.ScratchRegister), asm.Pop()),
		)

	case *Discard:
		cg.comment("discard %s", n.Expr)
		if err := cg.genExpr(n.Expr); err != nil {
			return err
		}
		cg.emit(asm.New(asm.OpADD, asm.SP(), asm.Lit(1)))

	case *Increment:
		cg.comment("%s++", n.Target)
		t, err := cg.target(n.Pos, n.Target)
		if err != nil {
			return err
		}
		cg.emit(asm.New(asm.OpADD, t, asm.Lit(1)))

	case *Decrement:
		cg.comment("%s--", n.Target)
		t, err := cg.target(n.Pos, n.Target)
		if err != nil {
			return err
		}
		cg.emit(asm.New(asm.OpSUB, t, asm.Lit(1)))

	case *SetBit:
		cg.comment("%s.bit(%d) = %s", n.Target, n.Bit, n.Value)
		mask, err := bitMask(n.Pos, n.Bit)
		if err != nil {
			return err
		}
		t, err := cg.target(n.Pos, n.Target)
		if err != nil {
			return err
		}
		if c, ok := n.Value.(*BooleanConstant); ok {
			if c.Value {
				cg.emit(asm.New(asm.OpBOR, t, asm.Lit(mask)))
			} else {
				cg.emit(asm.New(asm.OpAND, t, asm.Lit(^mask)))
			}
			return nil
		}
		if err := cg.genExpr(n.Value); err != nil {
			return err
		}
		cg.emit(
			asm.Set(regA, asm.Pop()),
			asm.New(asm.OpSHL, regA, asm.Lit(uint16(n.Bit))),
			asm.New(asm.OpAND, t, asm.Lit(^mask)),
			asm.New(asm.OpBOR, t, regA),
		)

	case *Return:
		cg.comment("return")
		if !cg.fn.IsVoid() {
			return diag.Errorf(n.Pos, "a value must be returned from functions with data type '%s'", cg.fn.Type)
		}
		cg.restoreRepeatCounter()
		cg.emit(asm.Jump(retLabel(cg.fn.Name)))

	case *ReturnValue:
		cg.comment("return %s", n.Value)
		if cg.fn.IsVoid() {
			return diag.Errorf(n.Pos, "void function '%s' cannot return a value", cg.fn.Name)
		}
		if err := cg.genExpr(n.Value); err != nil {
			return err
		}
		cg.emit(asm.Set(regRV, asm.Pop()))
		cg.restoreRepeatCounter()
		cg.emit(asm.Jump(retLabel(cg.fn.Name)))

	case *If:
		elseLabel := cg.ctx.NewLabel("if_else")
		endLabel := cg.ctx.NewLabel("if_end")

		cg.comment("if %s", n.Cond)
		if err := cg.genExpr(n.Cond); err != nil {
			return err
		}
		cg.emit(
			asm.New(asm.OpIFE, asm.Pop(), asm.Lit(0)),
			asm.Jump(elseLabel),
		)
		if err := cg.genBlock(n.Then); err != nil {
			return err
		}
		cg.emit(asm.Jump(endLabel), asm.Label(elseLabel))
		if err := cg.genBlock(n.Else); err != nil {
			return err
		}
		cg.emit(asm.Label(endLabel))

	case *Loop:
		startLabel := cg.ctx.NewLabel("loop_start")
		endLabel := cg.ctx.NewLabel("loop_end")

		cg.comment("loop")
		cg.emit(asm.Label(startLabel))
		if err := cg.genLoopBody(n.Body, LoopLabel{Continue: startLabel, End: endLabel}); err != nil {
			return err
		}
		cg.emit(asm.Jump(startLabel), asm.Label(endLabel))

	case *While:
		startLabel := cg.ctx.NewLabel("while_start")
		endLabel := cg.ctx.NewLabel("while_end")

		cg.comment("while %s", n.Cond)
		cg.emit(asm.Label(startLabel))
		if err := cg.genExpr(n.Cond); err != nil {
			return err
		}
		cg.emit(
			asm.New(asm.OpIFE, asm.Pop(), asm.Lit(0)),
			asm.Jump(endLabel),
		)
		if err := cg.genLoopBody(n.Body, LoopLabel{Continue: startLabel, End: endLabel}); err != nil {
			return err
		}
		cg.emit(asm.Jump(startLabel), asm.Label(endLabel))

	case *Repeat:
		startLabel := cg.ctx.NewLabel("repeat_start")
		nextLabel := cg.ctx.NewLabel("repeat_next")
		endLabel := cg.ctx.NewLabel("repeat_end")

		cg.comment("repeat %s", n.Count)
		cg.emit(asm.Set(asm.Push(), regJ))
		if err := cg.genExpr(n.Count); err != nil {
			return err
		}
		cg.emit(
			asm.Set(regJ, asm.Pop()),
			asm.Label(startLabel),
			asm.New(asm.OpIFE, regJ, asm.Lit(0)),
			asm.Jump(endLabel),
		)
		cg.repeatDepth++
		err := cg.genLoopBody(n.Body, LoopLabel{Continue: nextLabel, End: endLabel})
		cg.repeatDepth--
		if err != nil {
			return err
		}
		cg.emit(
			asm.Label(nextLabel),
			asm.New(asm.OpSUB, regJ, asm.Lit(1)),
			asm.Jump(startLabel),
			asm.Label(endLabel),
			asm.Set(regJ, asm.Pop()),
		)

	case *Break:
		if len(cg.loopStack) == 0 {
			return diag.Errorf(n.Pos, "break outside loop")
		}
		cg.comment("break")
		cg.emit(asm.Jump(cg.loopStack[len(cg.loopStack)-1].End))

	case *Continue:
		if len(cg.loopStack) == 0 {
			return diag.Errorf(n.Pos, "continue outside loop")
		}
		cg.comment("continue")
		cg.emit(asm.Jump(cg.loopStack[len(cg.loopStack)-1].Continue))

	default:
		return diag.Internalf("codegen: unhandled statement %T", s)
	}
	return nil
}

func (cg *CodeGen) genLoopBody(body *Block, labels LoopLabel) error {
	cg.loopStack = append(cg.loopStack, labels)
	defer func() { cg.loopStack = cg.loopStack[:len(cg.loopStack)-1] }()
	return cg.genBlock(body)
}

// restoreRepeatCounter reloads the caller's repeat counter before leaving the
// function from inside a repeat.
func (cg *CodeGen) restoreRepeatCounter() {
	if cg.repeatDepth > 0 {
		cg.emit(asm.Set(regJ, cg.syms.RepeatSlot()))
	}
}

func (cg *CodeGen) genExpr(e Expr) error {
	switch n := e.(type) {

	case *Constant:
		cg.emit(asm.Set(asm.Push(), asm.Lit(n.Value)))

	case *BooleanConstant:
		v := uint16(0)
		if n.Value {
			v = 1
		}
		cg.emit(asm.Set(asm.Push(), asm.Lit(v)))

	case *Identifier:
		sym, err := cg.lookup(n.Pos, n.Name)
		if err != nil {
			return err
		}
		cg.emit(asm.Set(asm.Push(), sym.Operand()))

	case *AddressOf:
		sym, err := cg.lookup(n.Pos, n.Name)
		if err != nil {
			return err
		}
		if sym.Scope != ScopeGlobal {
			return diag.Errorf(n.Pos, "cannot take the address of %s '%s'", sym.Scope, n.Name)
		}
		cg.emit(asm.Set(asm.Push(), asm.Lit(sym.Field.Address)))

	case *Dereference:
		if err := cg.genExpr(n.Address); err != nil {
			return err
		}
		cg.emit(
			asm.Set(regA, asm.Pop()),
			asm.Set(asm.Push(), asm.Ptr(asm.ScratchRegister)),
		)

	case *BinaryExpr:
		if int(n.Op) < 0 || int(n.Op) >= len(binaryOps) {
			return diag.Internalf("codegen: unknown binary operator %d", int(n.Op))
		}
		op := binaryOps[n.Op]
		if inlineRight(n) {
			right, err := cg.operand(n.Right)
			if err != nil {
				return err
			}
			if err := cg.genExpr(n.Left); err != nil {
				return err
			}
			cg.emit(asm.New(op.opcode, asm.Peek(), right))
			break
		}
		if err := cg.genExpr(n.Right); err != nil {
			return err
		}
		if err := cg.genExpr(n.Left); err != nil {
			return err
		}
		if op.commutative {
			cg.emit(
				asm.Set(regA, asm.Pop()),
				asm.New(op.opcode, asm.Peek(), regA),
			)
			break
		}
		// A = left, PEEK = right
		cg.emit(
			asm.Set(regA, asm.Pop()),
			asm.New(op.opcode, regA, asm.Peek()),
			asm.Set(asm.Peek(), regA),
		)

	case *Not:
		if err := cg.genExpr(n.Operand); err != nil {
			return err
		}
		cg.emit(asm.New(asm.OpXOR, asm.Peek(), asm.Lit(0xFFFF)))

	case *BooleanNot:
		if err := cg.genExpr(n.Operand); err != nil {
			return err
		}
		cg.emit(asm.New(asm.OpXOR, asm.Peek(), asm.Lit(1)))

	case *GetBit:
		mask, err := bitMask(n.Pos, n.Bit)
		if err != nil {
			return err
		}
		if err := cg.genExpr(n.Operand); err != nil {
			return err
		}
		cg.genBoolValue(asm.New(asm.OpIFB, asm.Pop(), asm.Lit(mask)), 1)

	case *Comparison:
		if err := cg.genExpr(n.Left); err != nil {
			return err
		}
		if err := cg.genExpr(n.Right); err != nil {
			return err
		}
		switch n.Op {
		case Equals:
			cg.genBoolValue(asm.New(asm.OpIFN, asm.Pop(), asm.Pop()), 0)
		case NotEquals:
			cg.genBoolValue(asm.New(asm.OpIFE, asm.Pop(), asm.Pop()), 0)
		case GreaterThan, LessEquals:
			// A = right, left > right
			cg.emit(asm.Set(regA, asm.Pop()))
			cg.genBoolValue(asm.New(asm.OpIFG, asm.Pop(), regA), boolWord(n.Op == GreaterThan))
		case LessThan, GreaterEquals:
			// A = right, right > left
			cg.emit(asm.Set(regA, asm.Pop()))
			cg.genBoolValue(asm.New(asm.OpIFG, regA, asm.Pop()), boolWord(n.Op == LessThan))
		default:
			return diag.Internalf("codegen: unknown comparison %d", int(n.Op))
		}

	case *BooleanBinary:
		if err := cg.genExpr(n.Left); err != nil {
			return err
		}
		if err := cg.genExpr(n.Right); err != nil {
			return err
		}
		switch n.Op {
		case BooleanAnd:
			cg.emit(asm.Set(regA, asm.Pop()), asm.New(asm.OpAND, asm.Peek(), regA))
		case BooleanOr:
			cg.emit(asm.Set(regA, asm.Pop()), asm.New(asm.OpBOR, asm.Peek(), regA))
		case BooleanEquals:
			cg.genBoolValue(asm.New(asm.OpIFN, asm.Pop(), asm.Pop()), 0)
		case BooleanNotEquals:
			cg.genBoolValue(asm.New(asm.OpIFE, asm.Pop(), asm.Pop()), 0)
		default:
			return diag.Internalf("codegen: unknown boolean operator %d", int(n.Op))
		}

	case *Call:
		return cg.genCall(n)

	default:
		return diag.Internalf("codegen: unhandled expression %T", e)
	}
	return nil
}

func boolWord(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}

// genBoolValue turns a conditional test into a pushed 0 or 1: whenTrue is
// pushed when the test holds.
//
//	test
//	SET PC, then
//	SET PUSH, !whenTrue
//	SET PC, end
//	:then
//	SET PUSH, whenTrue
//	:end
func (cg *CodeGen) genBoolValue(test asm.Instruction, whenTrue uint16) {
	thenLabel := cg.ctx.NewLabel("then")
	endLabel := cg.ctx.NewLabel("end")
	cg.emit(
		test,
		asm.Jump(thenLabel),
		asm.Set(asm.Push(), asm.Lit(1-whenTrue)),
		asm.Jump(endLabel),
		asm.Label(thenLabel),
		asm.Set(asm.Push(), asm.Lit(whenTrue)),
		asm.Label(endLabel),
	)
}

func (cg *CodeGen) genCall(n *Call) error {
	callee, ok := cg.prog.Functions[n.Function]
	if !ok {
		return diag.Errorf(n.Pos, "unknown function '%s'", n.Function)
	}
	if callee.InterruptHandler {
		return diag.Errorf(n.Pos, "interrupt handler '%s' cannot be called", n.Function)
	}
	if len(n.Args) != len(callee.Params) {
		return diag.Errorf(n.Pos, "function '%s' expects %d arguments, got %d", n.Function, len(callee.Params), len(n.Args))
	}

	cg.comment("call %s", n.Function)
	for _, arg := range n.Args {
		if err := cg.genExpr(arg); err != nil {
			return err
		}
	}
	cg.emit(
		asm.JSR(funcLabel(n.Function)),
		asm.New(asm.OpADD, asm.SP(), asm.Lit(uint16(len(n.Args)))),
		asm.Set(asm.Push(), regRV),
	)
	return nil
}
