package optimizer

import (
	"dcc/pkg/asm"
	"dcc/pkg/diag"
)

// eliminateDeadCode deletes every instruction that cannot be reached from
// instruction 0 or a root label.
func (o *Optimizer) eliminateDeadCode() error {
	reachable, err := o.reachable()
	if err != nil {
		return err
	}
	out := o.prog[:0]
	for i, in := range o.prog {
		if reachable[i] {
			out = append(out, in)
			continue
		}
		o.count("dead-code", i)
	}
	o.prog = out
	return nil
}

func (o *Optimizer) reachable() ([]bool, error) {
	marked := make([]bool, len(o.prog))
	var worklist []int

	visit := func(i int) {
		if i >= 0 && i < len(o.prog) && !marked[i] {
			marked[i] = true
			worklist = append(worklist, i)
		}
	}
	target := func(name string) (int, error) {
		i, ok := o.labels[name]
		if !ok {
			return 0, diag.Internalf("reference to undefined label '%s'", name)
		}
		return i, nil
	}

	visit(0)
	for name := range o.roots {
		i, err := target(name)
		if err != nil {
			return nil, err
		}
		visit(i)
	}

	for len(worklist) > 0 {
		i := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		in := o.prog[i]

		switch {
		case in.Op.IsConditional():
			visit(i + 1)
			visit(o.skipTarget(i))

		case in.Op == asm.OpJSR:
			if in.A.Kind != asm.KindLabel {
				return nil, diag.Internalf("cannot analyze call target %s", in.A)
			}
			t, err := target(in.A.Name)
			if err != nil {
				return nil, err
			}
			visit(t)
			visit(i + 1)

		case in.A.Kind == asm.KindPC:
			if in.Op != asm.OpSET {
				return nil, diag.Internalf("cannot analyze jump %s", in)
			}
			switch in.B.Kind {
			case asm.KindPop:
				// return: no static successor
			case asm.KindLabel:
				t, err := target(in.B.Name)
				if err != nil {
					return nil, err
				}
				visit(t)
			default:
				return nil, diag.Internalf("cannot analyze jump target %s", in.B)
			}

		default:
			visit(i + 1)
		}
	}
	return marked, nil
}

// skipTarget is where a failed test at i continues: one past the next
// instruction that occupies memory.
func (o *Optimizer) skipTarget(i int) int {
	for j := i + 1; j < len(o.prog); j++ {
		if o.prog[j].Size() > 0 {
			return j + 1
		}
	}
	return len(o.prog)
}

// conditionalTarget reports whether the instruction at i is the one a
// preceding test may skip.
func (o *Optimizer) conditionalTarget(i int) bool {
	for j := i - 1; j >= 0; j-- {
		if o.prog[j].Size() > 0 {
			return o.prog[j].Op.IsConditional()
		}
	}
	return false
}
