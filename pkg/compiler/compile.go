package compiler

import (
	"errors"
	"fmt"
	"log/slog"

	"dcc/pkg/asm"
	"dcc/pkg/config"
	"dcc/pkg/diag"
	"dcc/pkg/optimizer"
)

// Frontend produces resolved programs. Lexing, parsing, module resolution
// and type checking all happen behind it.
type Frontend interface {
	// Load returns the merged program rooted at module, with every name
	// already qualified and every type checked.
	Load(module string) (*Program, error)
}

type Stats struct {
	Instructions int
	CodeWords    int
	DataWords    int
	StackWords   int // worst case, boot call included
	FreeWords    int

	Optimizer optimizer.Stats
}

// Result is the output of one compilation.
type Result struct {
	Program  []asm.Instruction
	Text     string
	Debug    asm.DebugInfo
	Stats    Stats
	Warnings []Warning

	// Source is the copy of the input that was compiled, with data
	// addresses, the entry flag and usage flags filled in.
	Source *Program
}

// Compiler runs the backend pipeline with one configuration.
type Compiler struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New returns a Compiler. A nil logger means slog.Default().
func New(cfg *config.Config, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{cfg: cfg, logger: logger}
}

// Compile compiles prog with cfg, logging through slog.Default().
func Compile(prog *Program, cfg *config.Config) (*Result, error) {
	return New(cfg, nil).Compile(prog)
}

// Build loads module through fe and compiles it.
func (c *Compiler) Build(fe Frontend, module string) (*Result, error) {
	prog, err := fe.Load(module)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", module, err)
	}
	return c.Compile(prog)
}

// Compile validates prog, assigns data addresses, generates code, checks the
// stack budget, optimizes and renders the result. It works on a copy of
// prog, so the same program can be compiled again.
func (c *Compiler) Compile(prog *Program) (*Result, error) {
	prog = prog.Clone()
	AddIntrinsics(prog)
	if err := validate(prog); err != nil {
		return nil, err
	}

	res := &Result{Warnings: UsageWarnings(prog), Source: prog}
	for _, w := range res.Warnings {
		c.logger.Warn(w.Msg, "pos", w.Pos.String())
	}

	ctx := NewContext(c.cfg)
	for _, name := range prog.FieldNames() {
		if err := ctx.Allocate(prog.DataFields[name]); err != nil {
			return nil, err
		}
	}

	usage, err := StackUsage(prog, prog.Entry)
	if err != nil {
		return nil, err
	}
	// the boot code's JSR pushes the return address
	need := 1 + usage
	if need > c.cfg.StackSize {
		entry := prog.EntryFunction()
		return nil, diag.Errorf(entry.Pos, "stack budget exceeded: %d words needed, %d available", need, c.cfg.StackSize)
	}

	code, err := Generate(ctx, prog)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("generated", "instructions", len(code))

	if c.cfg.Optimize {
		opts := optimizer.Options{
			Roots:        c.roots(prog),
			Logger:       c.logger,
			KeepComments: c.cfg.KeepComments,
			MaxPasses:    c.cfg.MaxPasses,
		}
		code, res.Stats.Optimizer, err = optimizer.Optimize(code, opts)
		if err != nil {
			return nil, fmt.Errorf("optimize: %w", err)
		}
		c.logger.Debug("optimized", "instructions", len(code), "passes", res.Stats.Optimizer.Passes)
	}

	instructions, words := asm.Count(code)
	if words > c.cfg.DataStart {
		return nil, diag.Errorf(diag.Pos{}, "program code of %d words overlaps data fields at 0x%04X", words, c.cfg.DataStart)
	}

	text, err := asm.Text(code, asm.TextOptions{AddressComments: c.cfg.AddressComments})
	if err != nil {
		return nil, err
	}

	res.Program = code
	res.Text = text
	res.Debug = debugInfo(prog, code)
	res.Stats.Instructions = instructions
	res.Stats.CodeWords = words
	res.Stats.DataWords = ctx.DataWords()
	res.Stats.StackWords = need
	res.Stats.FreeWords = config.AddressSpace - words - res.Stats.DataWords - c.cfg.StackSize
	return res, nil
}

// roots are the labels the optimizer keeps alive besides the boot code:
// configured roots and every interrupt handler.
func (c *Compiler) roots(prog *Program) []string {
	roots := append([]string(nil), c.cfg.Roots...)
	for _, name := range prog.FunctionNames() {
		if prog.Functions[name].InterruptHandler {
			roots = append(roots, funcLabel(name))
		}
	}
	return roots
}

func debugInfo(prog *Program, code []asm.Instruction) asm.DebugInfo {
	info := asm.DebugInfo{
		CodeAddressAliases: asm.Aliases(code),
		MemoryAddresses:    make(map[string]uint16),
	}
	for name, f := range prog.DataFields {
		if f.Allocated {
			info.MemoryAddresses[name] = f.Address
		}
	}
	return info
}

// validate checks the structural rules a front end cannot express in the
// tree itself.
func validate(prog *Program) error {
	entry, ok := prog.Functions[prog.Entry]
	if !ok {
		return diag.Errorf(diag.Pos{}, "entry function '%s' not found", prog.Entry)
	}
	var errs []error
	switch {
	case entry.Predefined || entry.InterruptHandler:
		errs = append(errs, diag.Errorf(entry.Pos, "'%s' cannot be the entry function", entry.Name))
	case len(entry.Params) > 0:
		errs = append(errs, diag.Errorf(entry.Pos, "entry function '%s' cannot take parameters", entry.Name))
	}
	for _, f := range prog.Functions {
		f.Entry = f == entry
	}

	for _, name := range prog.FunctionNames() {
		f := prog.Functions[name]
		seen := make(map[string]*Variable)
		for _, v := range append(append([]*Variable(nil), f.Params...), f.Locals...) {
			if prev, ok := seen[v.Name]; ok {
				errs = append(errs, diag.Errorf(v.Pos, "duplicate variable '%s' in function '%s' (previous definition on line %d)", v.Name, f.Name, prev.Line))
				continue
			}
			seen[v.Name] = v
			if v.Type == VoidType {
				errs = append(errs, diag.Errorf(v.Pos, "variable '%s' cannot have type '%s'", v.Name, VoidType))
			}
		}
	}
	for _, name := range prog.FieldNames() {
		if f := prog.DataFields[name]; f.Type == VoidType {
			errs = append(errs, diag.Errorf(f.Pos, "data field '%s' cannot have type '%s'", f.Name, VoidType))
		}
	}
	return errors.Join(errs...)
}
