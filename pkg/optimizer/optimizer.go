// Package optimizer shrinks generated instruction sequences by repeated
// passes of label cleanup, reachability pruning and peephole rewriting until
// a pass changes nothing.
package optimizer

import (
	"fmt"
	"log/slog"

	"dcc/pkg/asm"
	"dcc/pkg/diag"
)

// DefaultMaxPasses bounds Run when Options.MaxPasses is zero.
const DefaultMaxPasses = 1000

type Options struct {
	// Roots are labels reachable without a reference in the program, such
	// as interrupt entry points.
	Roots []string

	// Logger receives one Debug record per rewrite. Nil disables tracing.
	Logger *slog.Logger

	KeepComments bool
	MaxPasses    int
}

// Stats counts the work done by Run.
type Stats struct {
	Passes   int
	Rewrites map[string]int
}

// Total is the number of rewrites of all rules.
func (s Stats) Total() int {
	n := 0
	for _, c := range s.Rewrites {
		n += c
	}
	return n
}

// Optimizer owns one instruction sequence and mutates it in place.
type Optimizer struct {
	prog  []asm.Instruction
	opts  Options
	stats Stats
	roots map[string]bool

	addresses []int
	labels    map[string]int
	rewrites  int // in the current pass
}

// New copies prog; the caller's slice is never modified.
func New(prog []asm.Instruction, opts Options) *Optimizer {
	o := &Optimizer{
		prog:  append([]asm.Instruction(nil), prog...),
		opts:  opts,
		stats: Stats{Rewrites: make(map[string]int)},
		roots: make(map[string]bool),
	}
	if o.opts.MaxPasses <= 0 {
		o.opts.MaxPasses = DefaultMaxPasses
	}
	for _, r := range opts.Roots {
		o.roots[r] = true
	}
	return o
}

// Optimize runs prog to a fixed point.
func Optimize(prog []asm.Instruction, opts Options) ([]asm.Instruction, Stats, error) {
	o := New(prog, opts)
	if err := o.Run(); err != nil {
		return nil, o.stats, err
	}
	return o.Program(), o.stats, nil
}

func (o *Optimizer) Program() []asm.Instruction { return o.prog }
func (o *Optimizer) Stats() Stats               { return o.stats }

// Run performs passes until one of them rewrites nothing.
func (o *Optimizer) Run() error {
	for {
		if o.stats.Passes >= o.opts.MaxPasses {
			return diag.Internalf("optimizer did not reach a fixed point after %d passes", o.stats.Passes)
		}
		n, err := o.Pass()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// Pass performs one full pass and returns the number of rewrites.
func (o *Optimizer) Pass() (int, error) {
	o.stats.Passes++
	o.rewrites = 0

	if err := o.assignAddresses(); err != nil {
		return 0, err
	}
	if err := o.indexLabels(); err != nil {
		return 0, err
	}
	o.mergeLabels()
	o.removeDeadLabels()
	if err := o.indexLabels(); err != nil {
		return 0, err
	}
	if err := o.eliminateDeadCode(); err != nil {
		return 0, err
	}
	o.peephole()
	return o.rewrites, nil
}

func (o *Optimizer) assignAddresses() error {
	addrs, total := asm.Addresses(o.prog)
	if total > asm.AddressSpace {
		return diag.Errorf(diag.Pos{}, "program of %d words exceeds the address space", total)
	}
	o.addresses = addrs
	return nil
}

func (o *Optimizer) indexLabels() error {
	o.labels = make(map[string]int)
	for i, in := range o.prog {
		name := in.LabelName()
		if name == "" {
			continue
		}
		if prev, ok := o.labels[name]; ok {
			return diag.Internalf("duplicate label '%s' at instructions %d and %d", name, prev, i)
		}
		o.labels[name] = i
	}
	return nil
}

// count records a rewrite of rule at instruction i.
func (o *Optimizer) count(rule string, i int) {
	o.rewrites++
	o.stats.Rewrites[rule]++
	if o.opts.Logger != nil {
		addr := -1
		if i < len(o.addresses) {
			addr = o.addresses[i]
		}
		o.opts.Logger.Debug("rewrite",
			"pass", o.stats.Passes,
			"rule", rule,
			"address", fmt.Sprintf("%04X", addr),
		)
	}
}

// replace swaps the n instructions at i for with. An alias carried by a
// removed instruction moves to the instruction now at its address, unless
// that one already has its own.
func (o *Optimizer) replace(i, n int, with ...asm.Instruction) {
	alias := ""
	for _, in := range o.prog[i : i+n] {
		if in.Alias != "" {
			alias = in.Alias
			break
		}
	}
	tail := append([]asm.Instruction(nil), o.prog[i+n:]...)
	o.prog = append(append(o.prog[:i], with...), tail...)
	if alias != "" && i < len(o.prog) && o.prog[i].Alias == "" {
		o.prog[i].Alias = alias
	}
}

// mergeLabels retargets references to a label that is directly followed by
// more labels to the last label of the run.
func (o *Optimizer) mergeLabels() {
	retarget := make(map[string]string)
	for i := 0; i < len(o.prog); i++ {
		if o.prog[i].Op != asm.OpLabel {
			continue
		}
		j := i
		for j+1 < len(o.prog) && o.prog[j+1].Op == asm.OpLabel {
			j++
		}
		last := o.prog[j].LabelName()
		for k := i; k < j; k++ {
			retarget[o.prog[k].LabelName()] = last
		}
		i = j
	}
	if len(retarget) == 0 {
		return
	}
	for i := range o.prog {
		in := &o.prog[i]
		if in.Op == asm.OpLabel {
			continue
		}
		changed := false
		if to, ok := retarget[in.A.Name]; ok && in.A.Kind == asm.KindLabel {
			in.A.Name = to
			changed = true
		}
		if to, ok := retarget[in.B.Name]; ok && in.B.Kind == asm.KindLabel {
			in.B.Name = to
			changed = true
		}
		if changed {
			o.count("label-merge", i)
		}
	}
}

// removeDeadLabels drops labels that no instruction references.
func (o *Optimizer) removeDeadLabels() {
	used := make(map[string]bool)
	for _, in := range o.prog {
		for _, ref := range in.References() {
			used[ref] = true
		}
	}
	for i := 0; i < len(o.prog); {
		name := o.prog[i].LabelName()
		if name == "" || used[name] || o.roots[name] {
			i++
			continue
		}
		o.count("dead-label", i)
		o.replace(i, 1)
	}
}
