package compiler

import (
	"fmt"
	"testing"
)

// Programs are run both as generated and optimized; both must agree.
func TestRunPrograms(t *testing.T) {
	tests := []struct {
		name string
		prog func() *Program
		want map[string]uint16

		// halted inside a call, leaving its frames on the stack
		halts bool
	}{
		{
			name: "arithmetic",
			prog: func() *Program {
				return newProgram(
					[]*DataField{field("m.r1"), field("m.r2"), field("m.r3"), field("m.r4"),
						field("m.r5"), field("m.r6"), field("m.r7"), field("m.r8")},
					mainFn(
						set("m.r1", bin(Multiplication, bin(Subtraction, c(7), c(2)), c(3))),
						set("m.r2", bin(Division, c(100), c(7))),
						set("m.r3", bin(Modulo, c(100), c(7))),
						set("m.r4", bin(ShiftLeft, c(1), c(4))),
						set("m.r5", bin(ShiftRight, c(0xF0), c(4))),
						set("m.r6", bin(Or, bin(And, c(0xF0), c(0x3C)), bin(Xor, c(1), c(3)))),
						set("m.r7", not(c(0))),
						set("m.r8", bin(Subtraction, c(3), c(5))),
					))
			},
			want: map[string]uint16{
				"m.r1": 15, "m.r2": 14, "m.r3": 2, "m.r4": 16,
				"m.r5": 15, "m.r6": 0x32, "m.r7": 0xFFFF, "m.r8": 0xFFFE,
			},
		},
		{
			name: "booleans",
			prog: func() *Program {
				a, b, cc := id("m.a"), id("m.b"), id("m.c")
				return newProgram(
					[]*DataField{fieldWith("m.a", 3), fieldWith("m.b", 5), fieldWith("m.c", 3),
						field("m.r1"), field("m.r2"), field("m.r3"), field("m.r4"), field("m.r5")},
					mainFn(
						set("m.r1", logic(BooleanAnd, cmpx(LessThan, a, b), cmpx(GreaterThan, b, a))),
						set("m.r2", logic(BooleanOr, cmpx(GreaterThan, a, b), cmpx(Equals, a, cc))),
						set("m.r3", bnot(cmpx(Equals, a, cc))),
						set("m.r4", logic(BooleanEquals, cmpx(LessThan, a, b), cmpx(GreaterThan, a, b))),
						set("m.r5", logic(BooleanNotEquals, boolean(true), boolean(false))),
					))
			},
			want: map[string]uint16{"m.r1": 1, "m.r2": 1, "m.r3": 0, "m.r4": 0, "m.r5": 1},
		},
		{
			name: "bits",
			prog: func() *Program {
				return newProgram(
					[]*DataField{fieldWith("m.x", 0b1010), field("m.r1"), field("m.r2")},
					mainFn(
						set("m.r1", bit(id("m.x"), 1)),
						set("m.r2", bit(id("m.x"), 2)),
						setBit("m.x", 0, boolean(true)),
						setBit("m.x", 3, boolean(false)),
						setBit("m.x", 8, cmpx(LessThan, c(1), c(2))),
						setBit("m.x", 1, cmpx(LessThan, c(2), c(1))),
					))
			},
			want: map[string]uint16{"m.r1": 1, "m.r2": 0, "m.x": 0x101},
		},
		{
			name: "control flow",
			prog: func() *Program {
				return newProgram(
					[]*DataField{fieldWith("m.a", 3), fieldWith("m.b", 5),
						field("m.r1"), fieldWith("m.r2", 0), fieldWith("m.r3", 0),
						fieldWith("m.r4", 0), fieldWith("m.r5", 0), fieldWith("m.r6", 0)},
					fn("m.main", VoidType, nil, vars("i"),
						ifElse(cmpx(GreaterThan, id("m.a"), id("m.b")),
							blk(set("m.r1", c(1))),
							blk(set("m.r1", c(2)))),

						set("i", c(0)),
						while(cmpx(LessThan, id("i"), c(10)),
							inc("i"),
							ifThen(cmpx(Equals, id("i"), c(3)), &Continue{}),
							ifThen(cmpx(Equals, id("i"), c(6)), &Break{}),
							set("m.r2", bin(Addition, id("m.r2"), id("i"))),
						),

						loop(
							inc("m.r3"),
							ifThen(cmpx(Equals, id("m.r3"), c(4)), &Break{}),
						),

						repeat(c(5), set("m.r4", bin(Addition, id("m.r4"), c(2)))),
						repeat(c(4), inc("m.r5"), &Continue{}, set("m.r5", c(100))),
						repeat(c(3), repeat(c(2), inc("m.r6"))),
						repeat(c(0), set("m.r6", c(100))),
					))
			},
			want: map[string]uint16{"m.r1": 2, "m.r2": 12, "m.r3": 4, "m.r4": 10, "m.r5": 4, "m.r6": 6},
		},
		{
			// break leaves the inner repeat only and restores the outer counter
			name: "break in nested repeat",
			prog: func() *Program {
				return newProgram(
					[]*DataField{fieldWith("m.o", 0), fieldWith("m.r", 0), field("m.k")},
					mainFn(
						repeat(c(3),
							inc("m.o"),
							set("m.k", c(0)),
							repeat(c(10),
								inc("m.k"),
								inc("m.r"),
								ifThen(cmpx(Equals, id("m.k"), c(2)), &Break{}),
							),
							set("m.r", bin(Addition, id("m.r"), c(5))),
						),
					))
			},
			want: map[string]uint16{"m.o": 3, "m.r": 21, "m.k": 2},
		},
		{
			name: "calls",
			prog: func() *Program {
				digits := bin(Addition,
					bin(Addition, bin(Multiplication, id("a"), c(100)), bin(Multiplication, id("b"), c(10))),
					id("c"))
				return newProgram(
					[]*DataField{field("m.r1"), field("m.r2"), fieldWith("m.r3", 0), field("m.r4"), fieldWith("m.r5", 0)},
					mainFn(
						set("m.r1", call("m.digits", c(1), c(2), c(3))),
						set("m.r2", call("m.sub", c(10), c(3))),
						discard(call("m.bump")),
						discard(call("m.bump")),
						set("m.r4", call("m.digits", call("m.sub", c(5), c(4)), c(2), call("m.sub", c(9), c(6)))),
						repeat(c(2), set("m.r5", bin(Addition, id("m.r5"), call("m.find")))),
					),
					fn("m.digits", wordType, vars("a", "b", "c"), nil, ret(digits)),
					fn("m.sub", wordType, vars("a", "b"), nil, ret(bin(Subtraction, id("a"), id("b")))),
					fn("m.bump", VoidType, nil, nil, inc("m.r3")),
					fn("m.find", wordType, nil, vars("k"),
						set("k", c(0)),
						repeat(c(10),
							inc("k"),
							ifThen(cmpx(Equals, id("k"), c(4)), ret(id("k"))),
						),
						ret(c(99)),
					),
				)
			},
			want: map[string]uint16{"m.r1": 123, "m.r2": 7, "m.r3": 2, "m.r4": 123, "m.r5": 8},
		},
		{
			name: "memory",
			prog: func() *Program {
				return newProgram(
					[]*DataField{field("m.r1"), field("m.r2"), field("m.p"), fieldWith("m.n", 5), constant("m.K", 7), field("m.r3")},
					mainFn(
						set("m.p", addr("m.r1")),
						store(id("m.p"), c(42)),
						set("m.r2", bin(Addition, deref(id("m.p")), c(1))),
						set("m.r3", bin(Multiplication, id("m.K"), c(2))),
						dec("m.n"),
						dec("m.n"),
					))
			},
			want: map[string]uint16{"m.r1": 42, "m.r2": 43, "m.r3": 14, "m.n": 3},
		},
		{
			name: "halt",
			prog: func() *Program {
				return newProgram([]*DataField{field("m.r1")},
					mainFn(
						set("m.r1", c(1)),
						discard(call("compilerservices.halt")),
						set("m.r1", c(2)),
					))
			},
			want:  map[string]uint16{"m.r1": 1},
			halts: true,
		},
		{
			name: "reset",
			prog: func() *Program {
				// m.runs has no default, so the boot code leaves it alone
				return newProgram([]*DataField{field("m.runs"), fieldWith("m.once", 0)},
					mainFn(
						inc("m.runs"),
						inc("m.once"),
						ifThen(cmpx(LessThan, id("m.runs"), c(3)), discard(call("compilerservices.reset"))),
					))
			},
			want: map[string]uint16{"m.runs": 3, "m.once": 1},
		},
	}

	for _, tc := range tests {
		for _, optimize := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s/optimize=%v", tc.name, optimize), func(t *testing.T) {
				r := compileAndRun(t, tc.prog(), optimize)
				for name, want := range tc.want {
					if got := r.field(t, name); got != want {
						t.Errorf("%s = 0x%X, want 0x%X\n%s", name, got, want, r.Text)
					}
				}
				if r.CPU.MaxStackDepth > r.Stats.StackWords {
					t.Errorf("stack reached %d words, budget computed %d", r.CPU.MaxStackDepth, r.Stats.StackWords)
				}
				if !tc.halts && r.CPU.StackDepth() != 0 {
					t.Errorf("stack not balanced at exit: %d words left", r.CPU.StackDepth())
				}
			})
		}
	}
}

func TestRunComparisons(t *testing.T) {
	ops := []struct {
		op CompareOp
		fn func(a, b uint16) bool
	}{
		{Equals, func(a, b uint16) bool { return a == b }},
		{NotEquals, func(a, b uint16) bool { return a != b }},
		{GreaterThan, func(a, b uint16) bool { return a > b }},
		{GreaterEquals, func(a, b uint16) bool { return a >= b }},
		{LessThan, func(a, b uint16) bool { return a < b }},
		{LessEquals, func(a, b uint16) bool { return a <= b }},
	}
	pairs := [][2]uint16{{3, 5}, {5, 3}, {4, 4}, {0, 0xFFFF}}

	for _, optimize := range []bool{false, true} {
		fields := []*DataField{}
		var body []Stmt
		want := map[string]uint16{}
		for i, p := range pairs {
			a, b := fmt.Sprintf("m.a%d", i), fmt.Sprintf("m.b%d", i)
			fields = append(fields, fieldWith(a, p[0]), fieldWith(b, p[1]))
			for _, o := range ops {
				r := fmt.Sprintf("m.r%d_%d", i, o.op)
				fields = append(fields, field(r))
				body = append(body, set(r, cmpx(o.op, id(a), id(b))))
				want[r] = boolWord(o.fn(p[0], p[1]))
			}
		}
		r := compileAndRun(t, newProgram(fields, mainFn(body...)), optimize)
		for name, w := range want {
			if got := r.field(t, name); got != w {
				t.Errorf("optimize=%v: %s = %d, want %d", optimize, name, got, w)
			}
		}
	}
}
