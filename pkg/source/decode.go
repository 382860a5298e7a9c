package source

import (
	"gopkg.in/yaml.v3"

	"dcc/pkg/compiler"
	"dcc/pkg/diag"
)

// Default types of declarations that leave type out.
const (
	defaultVarType  = "word"
	defaultFuncType = compiler.VoidType
)

type moduleFile struct {
	Imports   []string    `yaml:"imports"`
	Data      []fieldDecl `yaml:"data"`
	Functions []funcDecl  `yaml:"functions"`
}

type fieldDecl struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Constant bool   `yaml:"constant"`
	Value    int    `yaml:"value"`
	Default  *int   `yaml:"default"`
	line     int
}

func (d *fieldDecl) UnmarshalYAML(n *yaml.Node) error {
	type plain fieldDecl
	if err := n.Decode((*plain)(d)); err != nil {
		return err
	}
	d.line = n.Line
	return nil
}

type varDecl struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	line int
}

func (d *varDecl) UnmarshalYAML(n *yaml.Node) error {
	type plain varDecl
	if err := n.Decode((*plain)(d)); err != nil {
		return err
	}
	d.line = n.Line
	return nil
}

type funcDecl struct {
	Name      string    `yaml:"name"`
	Type      string    `yaml:"type"`
	Interrupt bool      `yaml:"interrupt"`
	Params    []varDecl `yaml:"params"`
	Locals    []varDecl `yaml:"locals"`
	Body      []*node   `yaml:"body"`
	line      int
}

func (d *funcDecl) UnmarshalYAML(n *yaml.Node) error {
	type plain funcDecl
	if err := n.Decode((*plain)(d)); err != nil {
		return err
	}
	d.line = n.Line
	return nil
}

// node is any expression or statement. Op selects the kind; the other keys
// are read according to it.
type node struct {
	Op      string    `yaml:"op"`
	Value   yaml.Node `yaml:"value"`
	Name    string    `yaml:"name"`
	Target  string    `yaml:"target"`
	Bit     int       `yaml:"bit"`
	Left    *node     `yaml:"left"`
	Right   *node     `yaml:"right"`
	Operand *node     `yaml:"operand"`
	Address *node     `yaml:"address"`
	Cond    *node     `yaml:"cond"`
	Count   *node     `yaml:"count"`
	Expr    *node     `yaml:"expr"`
	Args    []*node   `yaml:"args"`
	Then    []*node   `yaml:"then"`
	Else    []*node   `yaml:"else"`
	Body    []*node   `yaml:"body"`
	line    int
}

func (d *node) UnmarshalYAML(n *yaml.Node) error {
	type plain node
	if err := n.Decode((*plain)(d)); err != nil {
		return err
	}
	d.line = n.Line
	return nil
}

var binaryOps = map[string]compiler.BinaryOp{
	"add": compiler.Addition,
	"sub": compiler.Subtraction,
	"mul": compiler.Multiplication,
	"div": compiler.Division,
	"mod": compiler.Modulo,
	"shl": compiler.ShiftLeft,
	"shr": compiler.ShiftRight,
	"and": compiler.And,
	"bor": compiler.Or,
	"xor": compiler.Xor,
}

var compareOps = map[string]compiler.CompareOp{
	"eq": compiler.Equals,
	"ne": compiler.NotEquals,
	"gt": compiler.GreaterThan,
	"ge": compiler.GreaterEquals,
	"lt": compiler.LessThan,
	"le": compiler.LessEquals,
}

var boolOps = map[string]compiler.BoolOp{
	"land": compiler.BooleanAnd,
	"lor":  compiler.BooleanOr,
	"leq":  compiler.BooleanEquals,
	"lne":  compiler.BooleanNotEquals,
}

// decoder turns the nodes of one file into syntax nodes, collecting every
// error instead of stopping at the first.
type decoder struct {
	file string
	errs []error
}

func (d *decoder) pos(line int) diag.Pos {
	return diag.Pos{File: d.file, Line: line}
}

func (d *decoder) errorf(line int, format string, args ...any) {
	d.errs = append(d.errs, diag.Errorf(d.pos(line), format, args...))
}

// operand decodes a required child of parent.
func (d *decoder) operand(parent *node, key string, n *node) compiler.Expr {
	if n == nil {
		d.errorf(parent.line, "'%s' needs '%s'", parent.Op, key)
		return nil
	}
	return d.expr(n)
}

func (d *decoder) boolOperand(parent *node, key string, n *node) compiler.BoolExpr {
	e := d.operand(parent, key, n)
	if e == nil {
		return nil
	}
	b, ok := e.(compiler.BoolExpr)
	if !ok {
		d.errorf(n.line, "'%s' is not a boolean expression", n.Op)
		return nil
	}
	return b
}

// valueNode decodes the value key of n as a nested node.
func (d *decoder) valueNode(n *node) *node {
	if n.Value.Kind == 0 {
		return nil
	}
	var v node
	if err := n.Value.Decode(&v); err != nil {
		d.errorf(n.Value.Line, "%v", err)
		return nil
	}
	return &v
}

func (d *decoder) word(n *node) uint16 {
	if n.Value.Kind == 0 {
		d.errorf(n.line, "'%s' needs 'value'", n.Op)
		return 0
	}
	var v int
	if err := n.Value.Decode(&v); err != nil {
		d.errorf(n.line, "constant '%s' is not a number", n.Value.Value)
		return 0
	}
	if v < 0 || v > 0xFFFF {
		d.errorf(n.line, "constant %d does not fit in a word", v)
		return 0
	}
	return uint16(v)
}

func (d *decoder) name(n *node, key, v string) string {
	if v == "" {
		d.errorf(n.line, "'%s' needs '%s'", n.Op, key)
	}
	return v
}

func (d *decoder) expr(n *node) compiler.Expr {
	pos := d.pos(n.line)
	if op, ok := binaryOps[n.Op]; ok {
		return &compiler.BinaryExpr{Pos: pos, Op: op,
			Left: d.operand(n, "left", n.Left), Right: d.operand(n, "right", n.Right)}
	}
	if op, ok := compareOps[n.Op]; ok {
		return &compiler.Comparison{Pos: pos, Op: op,
			Left: d.operand(n, "left", n.Left), Right: d.operand(n, "right", n.Right)}
	}
	if op, ok := boolOps[n.Op]; ok {
		return &compiler.BooleanBinary{Pos: pos, Op: op,
			Left: d.boolOperand(n, "left", n.Left), Right: d.boolOperand(n, "right", n.Right)}
	}

	switch n.Op {
	case "const":
		return &compiler.Constant{Pos: pos, Value: d.word(n)}
	case "id":
		return &compiler.Identifier{Pos: pos, Name: d.name(n, "name", n.Name)}
	case "addr":
		return &compiler.AddressOf{Pos: pos, Name: d.name(n, "name", n.Name)}
	case "deref":
		return &compiler.Dereference{Pos: pos, Address: d.operand(n, "address", n.Address)}
	case "not":
		return &compiler.Not{Pos: pos, Operand: d.operand(n, "operand", n.Operand)}
	case "call":
		args := make([]compiler.Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = d.operand(n, "args", a)
		}
		return &compiler.Call{Pos: pos, Function: d.name(n, "name", n.Name), Args: args}
	case "bool":
		var v bool
		if n.Value.Kind == 0 || n.Value.Decode(&v) != nil {
			d.errorf(n.line, "'bool' needs a true or false 'value'")
		}
		return &compiler.BooleanConstant{Pos: pos, Value: v}
	case "bit":
		return &compiler.GetBit{Pos: pos, Operand: d.operand(n, "operand", n.Operand), Bit: n.Bit}
	case "lnot":
		return &compiler.BooleanNot{Pos: pos, Operand: d.boolOperand(n, "operand", n.Operand)}
	case "":
		d.errorf(n.line, "node without 'op'")
	default:
		d.errorf(n.line, "unknown expression '%s'", n.Op)
	}
	return nil
}

func (d *decoder) block(line int, nodes []*node) *compiler.Block {
	b := &compiler.Block{Pos: d.pos(line)}
	for _, n := range nodes {
		if s := d.stmt(n); s != nil {
			b.Stmts = append(b.Stmts, s)
		}
	}
	return b
}

func (d *decoder) stmt(n *node) compiler.Stmt {
	pos := d.pos(n.line)
	switch n.Op {
	case "set":
		return &compiler.Assignment{Pos: pos, Target: d.name(n, "target", n.Target),
			Value: d.operand(n, "value", d.valueNode(n))}
	case "store":
		return &compiler.DerefAssignment{Pos: pos, Address: d.operand(n, "address", n.Address),
			Value: d.operand(n, "value", d.valueNode(n))}
	case "discard":
		return &compiler.Discard{Pos: pos, Expr: d.operand(n, "expr", n.Expr)}
	case "inc":
		return &compiler.Increment{Pos: pos, Target: d.name(n, "target", n.Target)}
	case "dec":
		return &compiler.Decrement{Pos: pos, Target: d.name(n, "target", n.Target)}
	case "setbit":
		return &compiler.SetBit{Pos: pos, Target: d.name(n, "target", n.Target), Bit: n.Bit,
			Value: d.boolOperand(n, "value", d.valueNode(n))}
	case "return":
		if v := d.valueNode(n); v != nil {
			return &compiler.ReturnValue{Pos: pos, Value: d.expr(v)}
		}
		return &compiler.Return{Pos: pos}
	case "if":
		s := &compiler.If{Pos: pos, Cond: d.boolOperand(n, "cond", n.Cond), Then: d.block(n.line, n.Then)}
		if n.Else != nil {
			s.Else = d.block(n.line, n.Else)
		}
		return s
	case "loop":
		return &compiler.Loop{Pos: pos, Body: d.block(n.line, n.Body)}
	case "while":
		return &compiler.While{Pos: pos, Cond: d.boolOperand(n, "cond", n.Cond), Body: d.block(n.line, n.Body)}
	case "repeat":
		return &compiler.Repeat{Pos: pos, Count: d.operand(n, "count", n.Count), Body: d.block(n.line, n.Body)}
	case "break":
		return &compiler.Break{Pos: pos}
	case "continue":
		return &compiler.Continue{Pos: pos}
	case "block":
		return d.block(n.line, n.Body)
	case "":
		d.errorf(n.line, "node without 'op'")
	default:
		d.errorf(n.line, "unknown statement '%s'", n.Op)
	}
	return nil
}

func (d *decoder) variables(decls []varDecl) []*compiler.Variable {
	out := make([]*compiler.Variable, len(decls))
	for i, v := range decls {
		if v.Name == "" {
			d.errorf(v.line, "variable without a name")
		}
		typ := v.Type
		if typ == "" {
			typ = defaultVarType
		}
		out[i] = &compiler.Variable{Pos: d.pos(v.line), Name: v.Name, Type: typ}
	}
	return out
}

func (d *decoder) field(f fieldDecl) *compiler.DataField {
	typ := f.Type
	if typ == "" {
		typ = defaultVarType
	}
	out := &compiler.DataField{Pos: d.pos(f.line), Name: f.Name, Type: typ, Constant: f.Constant}
	inWord := func(v int) uint16 {
		if v < 0 || v > 0xFFFF {
			d.errorf(f.line, "value %d of '%s' does not fit in a word", v, f.Name)
		}
		return uint16(v)
	}
	switch {
	case f.Constant && f.Default != nil:
		d.errorf(f.line, "constant '%s' cannot have a default", f.Name)
	case f.Constant:
		out.Value = inWord(f.Value)
	case f.Default != nil:
		v := inWord(*f.Default)
		out.Default = &v
	}
	return out
}

func (d *decoder) function(f funcDecl) *compiler.Function {
	typ := f.Type
	if typ == "" {
		typ = defaultFuncType
	}
	return &compiler.Function{
		Pos:              d.pos(f.line),
		Name:             f.Name,
		Type:             typ,
		InterruptHandler: f.Interrupt,
		Params:           d.variables(f.Params),
		Locals:           d.variables(f.Locals),
		Body:             d.block(f.line, f.Body),
	}
}
