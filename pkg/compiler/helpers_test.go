package compiler

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"dcc/pkg/asm"
	"dcc/pkg/config"
	"dcc/pkg/cpu"
	"dcc/pkg/diag"
)

const wordType = "word"

func c(v uint16) *Constant                     { return &Constant{Value: v} }
func id(name string) *Identifier               { return &Identifier{Name: name} }
func addr(name string) *AddressOf              { return &AddressOf{Name: name} }
func deref(e Expr) *Dereference                { return &Dereference{Address: e} }
func not(e Expr) *Not                          { return &Not{Operand: e} }
func boolean(v bool) *BooleanConstant          { return &BooleanConstant{Value: v} }
func bit(e Expr, n int) *GetBit                { return &GetBit{Operand: e, Bit: n} }
func bnot(e BoolExpr) *BooleanNot              { return &BooleanNot{Operand: e} }
func blk(stmts ...Stmt) *Block                 { return &Block{Stmts: stmts} }
func set(target string, v Expr) *Assignment    { return &Assignment{Target: target, Value: v} }
func store(a, v Expr) *DerefAssignment         { return &DerefAssignment{Address: a, Value: v} }
func discard(e Expr) *Discard                  { return &Discard{Expr: e} }
func inc(target string) *Increment             { return &Increment{Target: target} }
func dec(target string) *Decrement             { return &Decrement{Target: target} }
func ret(v Expr) *ReturnValue                  { return &ReturnValue{Value: v} }
func loop(body ...Stmt) *Loop                  { return &Loop{Body: blk(body...)} }
func while(cond BoolExpr, body ...Stmt) *While { return &While{Cond: cond, Body: blk(body...)} }
func repeat(n Expr, body ...Stmt) *Repeat      { return &Repeat{Count: n, Body: blk(body...)} }

func bin(op BinaryOp, l, r Expr) *BinaryExpr        { return &BinaryExpr{Op: op, Left: l, Right: r} }
func cmpx(op CompareOp, l, r Expr) *Comparison      { return &Comparison{Op: op, Left: l, Right: r} }
func logic(op BoolOp, l, r BoolExpr) *BooleanBinary { return &BooleanBinary{Op: op, Left: l, Right: r} }

func call(name string, args ...Expr) *Call { return &Call{Function: name, Args: args} }

func setBit(target string, n int, v BoolExpr) *SetBit {
	return &SetBit{Target: target, Bit: n, Value: v}
}

func ifElse(cond BoolExpr, then, els *Block) *If { return &If{Cond: cond, Then: then, Else: els} }
func ifThen(cond BoolExpr, then ...Stmt) *If     { return &If{Cond: cond, Then: blk(then...)} }

func vars(names ...string) []*Variable {
	out := make([]*Variable, len(names))
	for i, n := range names {
		out[i] = &Variable{Name: n, Type: wordType}
	}
	return out
}

func field(name string) *DataField { return &DataField{Name: name, Type: wordType} }

func fieldWith(name string, v uint16) *DataField {
	f := field(name)
	f.Default = &v
	return f
}

func constant(name string, v uint16) *DataField {
	return &DataField{Name: name, Type: wordType, Constant: true, Value: v}
}

func fn(name, typ string, params, locals []*Variable, body ...Stmt) *Function {
	return &Function{Name: name, Type: typ, Params: params, Locals: locals, Body: blk(body...)}
}

func mainFn(body ...Stmt) *Function { return fn("m.main", VoidType, nil, nil, body...) }

func newProgram(fields []*DataField, funcs ...*Function) *Program {
	p := NewProgram()
	p.Entry = "m.main"
	for _, f := range fields {
		p.DataFields[f.Name] = f
	}
	for _, f := range funcs {
		p.Functions[f.Name] = f
	}
	return p
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(optimize bool) *config.Config {
	cfg := config.Default()
	cfg.Optimize = optimize
	return cfg
}

// generate allocates data addresses and runs the code generator alone.
func generate(t *testing.T, prog *Program) []asm.Instruction {
	t.Helper()
	ctx := NewContext(config.Default())
	for _, name := range prog.FieldNames() {
		if err := ctx.Allocate(prog.DataFields[name]); err != nil {
			t.Fatalf("Allocate: %v", err)
		}
	}
	prog.EntryFunction().Entry = true
	code, err := Generate(ctx, prog)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	return code
}

// withoutComments drops comment lines so tests can match instruction runs.
func withoutComments(code []asm.Instruction) []asm.Instruction {
	var out []asm.Instruction
	for _, in := range code {
		if in.Op != asm.OpComment {
			out = append(out, in)
		}
	}
	return out
}

func indexOfSeq(code, seq []asm.Instruction) int {
	for i := 0; i+len(seq) <= len(code); i++ {
		match := true
		for j := range seq {
			if code[i+j] != seq[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

type runResult struct {
	*Result
	CPU *cpu.CPU
}

// field returns the value of a data field after the run.
func (r runResult) field(t *testing.T, name string) uint16 {
	t.Helper()
	a, ok := r.Debug.MemoryAddresses[name]
	if !ok {
		t.Fatalf("no address for data field %s", name)
	}
	return r.CPU.Memory[a]
}

// compileAndRun compiles prog, assembles it and runs it to the halt loop.
func compileAndRun(t *testing.T, prog *Program, optimize bool) runResult {
	t.Helper()
	cfg := testConfig(optimize)
	res, err := New(cfg, quietLogger()).Compile(prog)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	words, _, err := asm.Assemble(res.Program)
	if err != nil {
		t.Fatalf("Assemble failed: %v\n%s", err, res.Text)
	}
	machine := cpu.NewCPU()
	if err := machine.Load(words); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := machine.Run(cfg.CycleLimit); err != nil {
		t.Fatalf("Run failed: %v\n%s", err, res.Text)
	}
	return runResult{Result: res, CPU: machine}
}

// expectCompileError compiles prog and checks for a user error containing
// want.
func expectCompileError(t *testing.T, prog *Program, cfg *config.Config, want string) {
	t.Helper()
	_, err := New(cfg, quietLogger()).Compile(prog)
	if err == nil {
		t.Fatalf("expected error containing %q, got none", want)
	}
	if diag.IsInternal(err) {
		t.Fatalf("expected a compile error, got %v", err)
	}
	var ce *diag.CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected a CompileError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), want) {
		t.Fatalf("expected error containing %q, got %v", want, err)
	}
}
