// Command dccdump prints every stage of the backend for one module: the
// resolved tree, the symbol tables, the generated code and the optimized code.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/k0kubun/pp/v3"

	"dcc/pkg/compiler"
	"dcc/pkg/config"
	"dcc/pkg/source"
)

func main() {
	module := "main"
	if len(os.Args) > 1 {
		module = os.Args[1]
	}
	dirs := []string{"."}
	if len(os.Args) > 2 {
		dirs = os.Args[2:]
	}

	loader, err := source.New(dirs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load error:", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	loader.Logger = logger

	prog, err := loader.Load(module)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load error:", err)
		os.Exit(1)
	}

	fmt.Println("Resolved tree")
	pp.Println(prog)
	fmt.Println()

	for _, optimize := range []bool{false, true} {
		cfg := config.Default()
		cfg.Optimize = optimize
		cfg.KeepComments = true
		cfg.AddressComments = true

		res, err := compiler.New(cfg, logger).Compile(prog)
		if err != nil {
			fmt.Fprintln(os.Stderr, "compile error:", err)
			os.Exit(1)
		}

		if !optimize {
			fmt.Println("Symbol tables")
			// the compiled copy carries addresses and the entry flag
			compiled := res.Source
			syms := compiler.NewSymbolTable(compiled)
			for _, name := range compiled.FunctionNames() {
				if f := compiled.Functions[name]; !f.Predefined {
					syms.EnterFunction(f)
					fmt.Print(syms)
					syms.ExitFunction()
				}
			}
			fmt.Println()

			fmt.Println("Warnings")
			for _, w := range res.Warnings {
				fmt.Println(" ", w)
			}
			fmt.Println()

			fmt.Printf("Generated code (%d instructions, %d words)\n", res.Stats.Instructions, res.Stats.CodeWords)
		} else {
			fmt.Printf("Optimized code (%d instructions, %d words, %d passes)\n",
				res.Stats.Instructions, res.Stats.CodeWords, res.Stats.Optimizer.Passes)
			pp.Println(res.Stats.Optimizer.Rewrites)
		}
		fmt.Print(res.Text)
		fmt.Println()
	}
}
