package compiler

import (
	"fmt"

	"dcc/pkg/asm"
	"dcc/pkg/diag"
)

// Node is implemented by every resolved syntax node.
type Node interface {
	Position() diag.Pos
	String() string
}

//  Expression nodes

// Expr is implemented by every node that produces a value.
// Generated code always leaves exactly one word on the stack.
type Expr interface {
	Node
	exprNode()
}

// BoolExpr is an expression whose value is 0 or 1.
type BoolExpr interface {
	Expr
	boolNode()
}

// Constant is a literal word.
type Constant struct {
	diag.Pos
	Value uint16
}

func (*Constant) exprNode()        {}
func (c *Constant) String() string { return fmt.Sprintf("%d", c.Value) }

// Identifier reads a data field, parameter or local variable. Data field
// names are module-qualified; parameters and locals are not.
type Identifier struct {
	diag.Pos
	Name string
}

func (*Identifier) exprNode()        {}
func (i *Identifier) String() string { return i.Name }

// AddressOf yields the memory address of a data field.
type AddressOf struct {
	diag.Pos
	Name string
}

func (*AddressOf) exprNode()        {}
func (a *AddressOf) String() string { return "&" + a.Name }

// Dereference reads the word at the address computed by Address.
type Dereference struct {
	diag.Pos
	Address Expr
}

func (*Dereference) exprNode()        {}
func (d *Dereference) String() string { return fmt.Sprintf("*(%s)", d.Address) }

// BinaryOp selects the arithmetic or bitwise operation of a BinaryExpr.
type BinaryOp int

const (
	Addition BinaryOp = iota
	Subtraction
	Multiplication
	Division
	Modulo
	ShiftLeft
	ShiftRight
	And
	Or
	Xor
)

var binaryOps = [...]struct {
	symbol      string
	opcode      asm.Opcode
	commutative bool
}{
	Addition:       {"+", asm.OpADD, true},
	Subtraction:    {"-", asm.OpSUB, false},
	Multiplication: {"*", asm.OpMUL, true},
	Division:       {"/", asm.OpDIV, false},
	Modulo:         {"%", asm.OpMOD, false},
	ShiftLeft:      {"<<", asm.OpSHL, false},
	ShiftRight:     {">>", asm.OpSHR, false},
	And:            {"&", asm.OpAND, true},
	Or:             {"|", asm.OpBOR, true},
	Xor:            {"^", asm.OpXOR, true},
}

func (op BinaryOp) String() string {
	if int(op) < len(binaryOps) {
		return binaryOps[op].symbol
	}
	return fmt.Sprintf("BinaryOp(%d)", int(op))
}

// BinaryExpr represents Left Op Right.
//
// The right operand is evaluated first.
type BinaryExpr struct {
	diag.Pos
	Op    BinaryOp
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprNode() {}
func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right)
}

// Not is the bitwise complement.
type Not struct {
	diag.Pos
	Operand Expr
}

func (*Not) exprNode()        {}
func (n *Not) String() string { return fmt.Sprintf("~%s", n.Operand) }

// Call invokes Function with Args evaluated left to right.
type Call struct {
	diag.Pos
	Function string
	Args     []Expr
}

func (*Call) exprNode() {}
func (c *Call) String() string {
	return fmt.Sprintf("%s(%d args)", c.Function, len(c.Args))
}

//  Boolean expression nodes

// BooleanConstant is true or false.
type BooleanConstant struct {
	diag.Pos
	Value bool
}

func (*BooleanConstant) exprNode() {}
func (*BooleanConstant) boolNode() {}
func (b *BooleanConstant) String() string {
	if b.Value {
		return "true"
	}
	return "false"
}

// GetBit tests bit Bit of Operand.
type GetBit struct {
	diag.Pos
	Operand Expr
	Bit     int
}

func (*GetBit) exprNode()        {}
func (*GetBit) boolNode()        {}
func (g *GetBit) String() string { return fmt.Sprintf("%s.bit(%d)", g.Operand, g.Bit) }

// CompareOp selects the relation of a Comparison.
type CompareOp int

const (
	Equals CompareOp = iota
	NotEquals
	GreaterThan
	GreaterEquals
	LessThan
	LessEquals
)

var compareSymbols = [...]string{
	Equals:        "==",
	NotEquals:     "!=",
	GreaterThan:   ">",
	GreaterEquals: ">=",
	LessThan:      "<",
	LessEquals:    "<=",
}

func (op CompareOp) String() string {
	if int(op) < len(compareSymbols) {
		return compareSymbols[op]
	}
	return fmt.Sprintf("CompareOp(%d)", int(op))
}

// Comparison compares two words as unsigned values.
//
// The left operand is evaluated first.
type Comparison struct {
	diag.Pos
	Op    CompareOp
	Left  Expr
	Right Expr
}

func (*Comparison) exprNode() {}
func (*Comparison) boolNode() {}
func (c *Comparison) String() string {
	return fmt.Sprintf("(%s %s %s)", c.Left, c.Op, c.Right)
}

// BoolOp selects the operation of a BooleanBinary.
type BoolOp int

const (
	BooleanAnd BoolOp = iota
	BooleanOr
	BooleanEquals
	BooleanNotEquals
)

var boolSymbols = [...]string{
	BooleanAnd:       "and",
	BooleanOr:        "or",
	BooleanEquals:    "==",
	BooleanNotEquals: "!=",
}

func (op BoolOp) String() string {
	if int(op) < len(boolSymbols) {
		return boolSymbols[op]
	}
	return fmt.Sprintf("BoolOp(%d)", int(op))
}

// BooleanBinary combines two boolean values without short-circuiting.
type BooleanBinary struct {
	diag.Pos
	Op    BoolOp
	Left  BoolExpr
	Right BoolExpr
}

func (*BooleanBinary) exprNode() {}
func (*BooleanBinary) boolNode() {}
func (b *BooleanBinary) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right)
}

// BooleanNot negates a boolean value.
type BooleanNot struct {
	diag.Pos
	Operand BoolExpr
}

func (*BooleanNot) exprNode()        {}
func (*BooleanNot) boolNode()        {}
func (b *BooleanNot) String() string { return fmt.Sprintf("not %s", b.Operand) }

//  Statement nodes

// Stmt is implemented by every node that leaves the stack unchanged.
type Stmt interface {
	Node
	stmtNode()
}

// Assignment represents Target = Value.
type Assignment struct {
	diag.Pos
	Target string
	Value  Expr
}

func (*Assignment) stmtNode() {}
func (a *Assignment) String() string {
	return fmt.Sprintf("Assignment(%s = %s)", a.Target, a.Value)
}

// DerefAssignment stores Value at the address computed by Address.
type DerefAssignment struct {
	diag.Pos
	Address Expr
	Value   Expr
}

func (*DerefAssignment) stmtNode() {}
func (d *DerefAssignment) String() string {
	return fmt.Sprintf("DerefAssignment(*(%s) = %s)", d.Address, d.Value)
}

// Discard evaluates an expression for its side effects.
type Discard struct {
	diag.Pos
	Expr Expr
}

func (*Discard) stmtNode()        {}
func (d *Discard) String() string { return fmt.Sprintf("Discard(%s)", d.Expr) }

// Increment represents Target++.
type Increment struct {
	diag.Pos
	Target string
}

func (*Increment) stmtNode()        {}
func (i *Increment) String() string { return fmt.Sprintf("Increment(%s)", i.Target) }

// Decrement represents Target--.
type Decrement struct {
	diag.Pos
	Target string
}

func (*Decrement) stmtNode()        {}
func (d *Decrement) String() string { return fmt.Sprintf("Decrement(%s)", d.Target) }

// SetBit writes a boolean into bit Bit of Target.
type SetBit struct {
	diag.Pos
	Target string
	Bit    int
	Value  BoolExpr
}

func (*SetBit) stmtNode() {}
func (s *SetBit) String() string {
	return fmt.Sprintf("SetBit(%s.bit(%d) = %s)", s.Target, s.Bit, s.Value)
}

// Return leaves a void function.
type Return struct {
	diag.Pos
}

func (*Return) stmtNode()      {}
func (*Return) String() string { return "Return" }

// ReturnValue leaves a function with a value.
type ReturnValue struct {
	diag.Pos
	Value Expr
}

func (*ReturnValue) stmtNode()        {}
func (r *ReturnValue) String() string { return fmt.Sprintf("ReturnValue(%s)", r.Value) }

// Block is a statement sequence.
type Block struct {
	diag.Pos
	Stmts []Stmt
}

func (*Block) stmtNode()        {}
func (b *Block) String() string { return fmt.Sprintf("Block(len=%d)", len(b.Stmts)) }

// If represents if (Cond) Then [else Else]. Else may be nil.
type If struct {
	diag.Pos
	Cond BoolExpr
	Then *Block
	Else *Block
}

func (*If) stmtNode() {}
func (i *If) String() string {
	if i.Else != nil {
		return fmt.Sprintf("If(%s then %s else %s)", i.Cond, i.Then, i.Else)
	}
	return fmt.Sprintf("If(%s then %s)", i.Cond, i.Then)
}

// Loop repeats Body until a break.
type Loop struct {
	diag.Pos
	Body *Block
}

func (*Loop) stmtNode()        {}
func (l *Loop) String() string { return fmt.Sprintf("Loop(%s)", l.Body) }

// While re-evaluates Cond before every iteration.
type While struct {
	diag.Pos
	Cond BoolExpr
	Body *Block
}

func (*While) stmtNode()        {}
func (w *While) String() string { return fmt.Sprintf("While(%s do %s)", w.Cond, w.Body) }

// Repeat runs Body Count times, counting down in the repeat counter register.
type Repeat struct {
	diag.Pos
	Count Expr
	Body  *Block
}

func (*Repeat) stmtNode()        {}
func (r *Repeat) String() string { return fmt.Sprintf("Repeat(%s times %s)", r.Count, r.Body) }

// Break leaves the innermost loop.
type Break struct {
	diag.Pos
}

func (*Break) stmtNode()      {}
func (*Break) String() string { return "Break" }

// Continue starts the next iteration of the innermost loop.
type Continue struct {
	diag.Pos
}

func (*Continue) stmtNode()      {}
func (*Continue) String() string { return "Continue" }
