package optimizer

import (
	"bytes"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"dcc/pkg/asm"
	"dcc/pkg/diag"
)

var (
	regA = asm.Reg(asm.RegA)
	regB = asm.Reg(asm.RegB)
	ret  = asm.Set(asm.PC(), asm.Pop())
)

func mem(addr uint16) asm.Operand { return asm.Mem(addr, "") }

func add(a, b asm.Operand) asm.Instruction { return asm.New(asm.OpADD, a, b) }

func run(prog []asm.Instruction, opts Options) ([]asm.Instruction, Stats) {
	out, stats, err := Optimize(prog, opts)
	Expect(err).NotTo(HaveOccurred())
	return out, stats
}

func expectInternal(prog []asm.Instruction, opts Options) {
	_, _, err := Optimize(prog, opts)
	Expect(err).To(HaveOccurred())
	Expect(diag.IsInternal(err)).To(BeTrue(), err.Error())
}

var _ = Describe("Optimizer", func() {

	Describe("fixed point", func() {
		It("removes ADD target, 0 and then finds nothing more to do", func() {
			prog := []asm.Instruction{
				asm.Set(regA, asm.Lit(5)),
				add(regA, asm.Lit(0)),
				asm.Label("end"),
				asm.Jump("end"),
			}
			out, stats := run(prog, Options{})
			Expect(out).To(Equal([]asm.Instruction{
				asm.Set(regA, asm.Lit(5)),
				asm.Label("end"),
				asm.Jump("end"),
			}))
			Expect(stats.Rewrites["no-op"]).To(Equal(1))

			again, stats := run(out, Options{})
			Expect(again).To(Equal(out))
			Expect(stats.Passes).To(Equal(1))
			Expect(stats.Total()).To(Equal(0))
		})

		It("does not modify the caller's slice", func() {
			prog := []asm.Instruction{add(regA, asm.Lit(0)), ret}
			run(prog, Options{})
			Expect(prog).To(HaveLen(2))
			Expect(prog[0]).To(Equal(add(regA, asm.Lit(0))))
		})

		It("gives up after MaxPasses", func() {
			prog := []asm.Instruction{
				asm.JSR("f"),
				ret,
				asm.Label("f"),
				asm.Set(regA, asm.Lit(1)),
				ret,
			}
			expectInternal(prog, Options{MaxPasses: 1})
		})
	})

	Describe("labels", func() {
		It("merges a run of labels into the last one", func() {
			prog := []asm.Instruction{
				asm.Jump("L1"),
				asm.Label("L1"),
				asm.Label("L2"),
				add(regA, asm.Lit(1)),
				asm.Jump("L1"),
			}
			o := New(prog, Options{})
			_, err := o.Pass()
			Expect(err).NotTo(HaveOccurred())

			for _, in := range o.Program() {
				Expect(in.References()).NotTo(ContainElement("L1"))
				Expect(in.LabelName()).NotTo(Equal("L1"))
			}
			Expect(o.Program()).To(Equal([]asm.Instruction{
				asm.Label("L2"),
				add(regA, asm.Lit(1)),
				asm.Jump("L2"),
			}))
		})

		It("rejects duplicate labels", func() {
			expectInternal([]asm.Instruction{asm.Label("x"), asm.Label("x"), ret}, Options{})
		})

		It("keeps root labels without references", func() {
			prog := []asm.Instruction{
				ret,
				asm.Label("isr"),
				asm.Set(regA, asm.Lit(1)),
				ret,
			}
			out, _ := run(prog, Options{Roots: []string{"isr"}})
			Expect(out).To(Equal(prog))
		})

		It("moves the alias of a removed label to the next instruction", func() {
			prog := []asm.Instruction{
				asm.Label("boot").WithAlias("boot code"),
				asm.Set(regA, asm.Lit(1)),
				ret,
			}
			out, _ := run(prog, Options{})
			Expect(out[0]).To(Equal(asm.Set(regA, asm.Lit(1)).WithAlias("boot code")))
		})
	})

	Describe("reachability", func() {
		It("deletes code after a return and after a jump", func() {
			prog := []asm.Instruction{
				asm.Jump("next"),
				asm.Set(regA, asm.Lit(1)),
				asm.Label("next"),
				ret,
				asm.Set(regB, asm.Lit(2)),
			}
			out, stats := run(prog, Options{})
			Expect(out).To(Equal([]asm.Instruction{ret}))
			Expect(stats.Rewrites["dead-code"]).To(Equal(2))
		})

		It("follows both outcomes of a test", func() {
			prog := []asm.Instruction{
				asm.New(asm.OpIFE, regA, asm.Lit(0)),
				asm.Set(regB, asm.Lit(1)),
				asm.Set(regB, asm.Lit(2)),
				ret,
			}
			out, _ := run(prog, Options{})
			Expect(out).To(Equal(prog))
		})

		It("follows calls into their target and past them", func() {
			prog := []asm.Instruction{
				asm.JSR("f"),
				asm.Label("halt"),
				asm.Jump("halt"),
				asm.Label("f"),
				asm.Set(regA, asm.Lit(1)),
				ret,
				asm.Label("g"),
				asm.Set(regA, asm.Lit(2)),
				ret,
			}
			out, _ := run(prog, Options{})
			Expect(out).To(Equal(prog[:6]))
		})

		DescribeTable("refuses jumps it cannot follow",
			func(prog []asm.Instruction) {
				expectInternal(prog, Options{})
			},
			Entry("register target", []asm.Instruction{asm.Set(asm.PC(), regA)}),
			Entry("arithmetic on PC", []asm.Instruction{add(asm.PC(), asm.Lit(1))}),
			Entry("undefined label", []asm.Instruction{asm.Jump("nowhere")}),
			Entry("undefined call", []asm.Instruction{asm.JSR("nowhere"), ret}),
		)

		It("refuses undefined roots", func() {
			expectInternal([]asm.Instruction{ret}, Options{Roots: []string{"missing"}})
		})
	})

	Describe("peephole", func() {
		It("drops comments unless asked to keep them", func() {
			prog := []asm.Instruction{asm.Comment("hello"), ret}
			out, stats := run(prog, Options{})
			Expect(out).To(Equal([]asm.Instruction{ret}))
			Expect(stats.Rewrites["comment"]).To(Equal(1))

			out, _ = run(prog, Options{KeepComments: true})
			Expect(out).To(Equal(prog))
		})

		It("turns a push and pop into a move", func() {
			out, _ := run([]asm.Instruction{
				asm.Set(asm.Push(), asm.Lit(3)),
				asm.Set(mem(0xA000), asm.Pop()),
				ret,
			}, Options{})
			Expect(out).To(Equal([]asm.Instruction{asm.Set(mem(0xA000), asm.Lit(3)), ret}))
		})

		It("deletes a push and pop of the same slot", func() {
			out, _ := run([]asm.Instruction{
				asm.Set(asm.Push(), regA),
				asm.Set(regA, asm.Pop()),
				ret,
			}, Options{})
			Expect(out).To(Equal([]asm.Instruction{ret}))
		})

		It("folds a push into the following discard", func() {
			out, stats := run([]asm.Instruction{
				asm.Set(asm.Push(), asm.Lit(3)),
				add(asm.SP(), asm.Lit(1)),
				ret,
			}, Options{})
			Expect(out).To(Equal([]asm.Instruction{ret}))
			Expect(stats.Rewrites).To(HaveKeyWithValue("push-discard", 1))
			Expect(stats.Rewrites).To(HaveKeyWithValue("no-op", 1))
		})

		It("writes over a discarded slot instead of pushing", func() {
			out, _ := run([]asm.Instruction{
				add(asm.SP(), asm.Lit(2)),
				asm.Set(asm.Push(), regA),
				ret,
			}, Options{})
			Expect(out).To(Equal([]asm.Instruction{
				add(asm.SP(), asm.Lit(1)),
				asm.Set(asm.Peek(), regA),
				ret,
			}))
		})

		Describe("discarded call results", func() {
			callee := []asm.Instruction{asm.Label("f"), ret}

			It("drops the result of a call with arguments in one SP adjustment", func() {
				prog := append([]asm.Instruction{
					asm.JSR("f"),
					add(asm.SP(), asm.Lit(2)),
					asm.Set(asm.Push(), regA),
					add(asm.SP(), asm.Lit(1)),
					asm.Set(regB, asm.Lit(7)),
					ret,
				}, callee...)
				out, stats := run(prog, Options{})
				Expect(out).To(Equal(append([]asm.Instruction{
					asm.JSR("f"),
					add(asm.SP(), asm.Lit(2)),
					asm.Set(regB, asm.Lit(7)),
					ret,
				}, callee...)))
				Expect(stats.Rewrites).To(HaveKeyWithValue("push-discard", 1))
				Expect(stats.Rewrites).NotTo(HaveKey("discard-push"))
			})

			It("drops the result of a call without arguments entirely", func() {
				prog := append([]asm.Instruction{
					asm.JSR("f"),
					add(asm.SP(), asm.Lit(0)),
					asm.Set(asm.Push(), regA),
					add(asm.SP(), asm.Lit(1)),
					asm.Set(regB, asm.Lit(7)),
					ret,
				}, callee...)
				out, _ := run(prog, Options{})
				Expect(out).To(Equal(append([]asm.Instruction{
					asm.JSR("f"),
					asm.Set(regB, asm.Lit(7)),
					ret,
				}, callee...)))
			})
		})

		It("fuses a push, a peek update and a pop", func() {
			out, _ := run([]asm.Instruction{
				asm.Set(asm.Push(), mem(0xA000)),
				add(asm.Peek(), asm.Lit(3)),
				asm.Set(regB, asm.Pop()),
				ret,
			}, Options{})
			Expect(out).To(Equal([]asm.Instruction{
				asm.Set(regB, mem(0xA000)),
				add(regB, asm.Lit(3)),
				ret,
			}))
		})

		It("does not fuse when the target feeds the update", func() {
			prog := []asm.Instruction{
				asm.Set(asm.Push(), mem(0xA000)),
				add(asm.Peek(), regA),
				asm.Set(regA, asm.Pop()),
				ret,
			}
			out, _ := run(prog, Options{})
			Expect(out).To(Equal(prog))
		})

		It("moves a literal push towards its use", func() {
			out, stats := run([]asm.Instruction{
				asm.Set(asm.Push(), asm.Lit(3)),
				asm.Set(regA, mem(0xA000)),
				add(asm.Peek(), regA),
				asm.Set(mem(0xA001), asm.Pop()),
				ret,
			}, Options{})
			Expect(out).To(Equal([]asm.Instruction{
				asm.Set(regA, mem(0xA000)),
				asm.Set(mem(0xA001), asm.Lit(3)),
				add(mem(0xA001), regA),
				ret,
			}))
			Expect(stats.Rewrites["push-relocation"]).To(Equal(1))
			Expect(stats.Rewrites["peek-pop"]).To(Equal(1))
		})

		It("does not move a push past a test", func() {
			prog := []asm.Instruction{
				asm.Set(asm.Push(), asm.Lit(3)),
				asm.New(asm.OpIFE, regA, asm.Lit(0)),
				asm.Set(regB, asm.Pop()),
				ret,
			}
			out, _ := run(prog, Options{})
			Expect(out).To(Equal(prog))
		})

		It("turns a call before a return into a jump", func() {
			out, stats := run([]asm.Instruction{
				asm.JSR("f"),
				ret,
				asm.Label("f"),
				asm.Set(regA, asm.Lit(1)),
				ret,
			}, Options{})
			Expect(out).To(Equal([]asm.Instruction{asm.Set(regA, asm.Lit(1)), ret}))
			Expect(stats.Rewrites["tail-call"]).To(Equal(1))
			Expect(stats.Rewrites["jump-to-next"]).To(Equal(1))
		})

		It("leaves the instruction a test may skip alone", func() {
			prog := []asm.Instruction{
				asm.New(asm.OpIFE, regA, asm.Lit(0)),
				asm.Jump("L"),
				asm.Label("L"),
				asm.New(asm.OpIFN, regA, asm.Lit(0)),
				add(regB, asm.Lit(0)),
				ret,
			}
			out, _ := run(prog, Options{})
			Expect(out).To(Equal(prog))
		})

		DescribeTable("removes arithmetic that does nothing",
			func(in asm.Instruction) {
				out, _ := run([]asm.Instruction{in, ret}, Options{})
				Expect(out).To(Equal([]asm.Instruction{ret}))
			},
			Entry("ADD", add(regA, asm.Lit(0))),
			Entry("SUB", asm.New(asm.OpSUB, regA, asm.Lit(0))),
			Entry("SHL", asm.New(asm.OpSHL, regA, asm.Lit(0))),
			Entry("SHR", asm.New(asm.OpSHR, regA, asm.Lit(0))),
			Entry("BOR", asm.New(asm.OpBOR, regA, asm.Lit(0))),
			Entry("XOR", asm.New(asm.OpXOR, regA, asm.Lit(0))),
			Entry("MUL", asm.New(asm.OpMUL, regA, asm.Lit(1))),
			Entry("DIV", asm.New(asm.OpDIV, regA, asm.Lit(1))),
		)

		It("keeps arithmetic that does something", func() {
			prog := []asm.Instruction{
				asm.New(asm.OpMUL, regA, asm.Lit(0)),
				asm.New(asm.OpAND, regA, asm.Lit(0)),
				add(regA, asm.Lit(1)),
				ret,
			}
			out, _ := run(prog, Options{})
			Expect(out).To(Equal(prog))
		})
	})

	It("traces rewrites at debug level", func() {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		run([]asm.Instruction{add(regA, asm.Lit(0)), ret}, Options{Logger: logger})
		Expect(buf.String()).To(ContainSubstring("rule=no-op"))
	})
})
