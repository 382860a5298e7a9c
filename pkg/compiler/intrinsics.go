package compiler

import (
	"dcc/pkg/asm"
)

// IntrinsicsModule is the module that holds the predefined functions.
const IntrinsicsModule = "compilerservices"

// Intrinsics returns fresh copies of the predefined functions:
//
//	compilerservices.reset  restarts the program from the boot code
//	compilerservices.halt   parks the processor in the main-exited loop
func Intrinsics() []*Function {
	return []*Function{
		{
			Name:       IntrinsicsModule + ".reset",
			Type:       VoidType,
			Predefined: true,
			Code: []asm.Instruction{
				asm.Set(asm.SP(), asm.Lit(0)),
				asm.Jump(BootLabel),
			},
		},
		{
			Name:       IntrinsicsModule + ".halt",
			Type:       VoidType,
			Predefined: true,
			Code: []asm.Instruction{
				asm.Jump(MainExitedLabel),
			},
		},
	}
}

// AddIntrinsics adds the predefined functions to prog, keeping any function
// of the same name already present.
func AddIntrinsics(prog *Program) {
	for _, f := range Intrinsics() {
		if _, ok := prog.Functions[f.Name]; !ok {
			prog.Functions[f.Name] = f
		}
	}
}
