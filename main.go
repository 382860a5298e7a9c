package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/tebeka/atexit"
	"gopkg.in/yaml.v3"

	"dcc/pkg/asm"
	"dcc/pkg/compiler"
	"dcc/pkg/config"
	"dcc/pkg/cpu"
	"dcc/pkg/diag"
	"dcc/pkg/source"
)

// searchPath collects repeated -m flags.
type searchPath []string

func (s *searchPath) String() string     { return strings.Join(*s, ",") }
func (s *searchPath) Set(v string) error { *s = append(*s, v); return nil }

type options struct {
	module       string
	configPath   string
	searchPath   searchPath
	outPath      string
	debugPath    string
	noOpt        bool
	verbose      bool
	progress     bool
	keepComments bool
	addrComments bool
	traceOpt     bool
	run          bool
	cycles       int
	snapshotPath string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	flag.Var(&opts.searchPath, "m", "look for referenced modules in `PATH` (repeatable)")
	flag.StringVar(&opts.outPath, "out", "output.asm", "output assembly file path")
	flag.StringVar(&opts.debugPath, "debug-out", "", "write debug metadata (YAML) to this file")
	flag.BoolVar(&opts.noOpt, "no-opt", false, "do not perform optimizations")
	flag.BoolVar(&opts.verbose, "v", false, "show verbose information")
	flag.BoolVar(&opts.progress, "p", false, "show verbose progress")
	flag.BoolVar(&opts.keepComments, "keep-comments", false, "keep syntax comments in output when optimizing")
	flag.BoolVar(&opts.addrComments, "addr-comments", false, "append the address of every instruction")
	flag.BoolVar(&opts.traceOpt, "trace-optimizer", false, "log every optimizer rewrite")
	flag.BoolVar(&opts.run, "run", false, "run the program on the emulator after compiling")
	flag.IntVar(&opts.cycles, "cycles", 0, "emulator cycle limit (default from config)")
	flag.StringVar(&opts.snapshotPath, "snapshot", "", "save the emulator state to this file after -run")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [options] [module]\n\nCompiles module (default main) and its dependencies to assembly.\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	switch flag.NArg() {
	case 0:
		opts.module = "main"
	case 1:
		opts.module = flag.Arg(0)
	default:
		flag.Usage()
		atexit.Exit(2)
	}

	stderr, color := diagnostics()
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: logLevel(opts)}))

	if err := run(opts, logger); err != nil {
		printError(stderr, color, err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

// diagnostics returns the writer for errors and logs and whether it is a
// colour terminal.
func diagnostics() (io.Writer, bool) {
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return colorable.NewColorableStderr(), true
	}
	return os.Stderr, false
}

func logLevel(opts options) slog.Level {
	switch {
	case opts.traceOpt:
		return slog.LevelDebug
	case opts.progress:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}

func printError(w io.Writer, color bool, err error) {
	red, reset := "", ""
	if color {
		red, reset = "\x1b[31m", "\x1b[0m"
	}
	errs := diag.CompileErrors(err)
	if len(errs) == 0 || diag.IsInternal(err) {
		fmt.Fprintf(w, "%serror:%s %v\n", red, reset, err)
		return
	}
	for _, e := range errs {
		fmt.Fprintf(w, "%serror:%s %v\n", red, reset, e)
	}
}

func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if len(opts.searchPath) > 0 {
		cfg.SearchPath = append([]string(nil), opts.searchPath...)
	}
	if opts.noOpt {
		cfg.Optimize = false
	}
	if opts.keepComments {
		cfg.KeepComments = true
	}
	if opts.addrComments {
		cfg.AddressComments = true
	}
	if opts.cycles > 0 {
		cfg.CycleLimit = opts.cycles
	}
	return cfg, cfg.Validate()
}

func run(opts options, logger *slog.Logger) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if opts.snapshotPath != "" && !opts.run {
		return errors.New("-snapshot requires -run")
	}

	loader, err := source.New(cfg.SearchPath)
	if err != nil {
		return err
	}
	loader.Logger = logger

	res, err := compiler.New(cfg, logger).Build(loader, opts.module)
	if err != nil {
		return err
	}

	if err := os.WriteFile(opts.outPath, []byte(res.Text), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if opts.debugPath != "" {
		data, err := yaml.Marshal(res.Debug)
		if err != nil {
			return fmt.Errorf("encode debug metadata: %w", err)
		}
		if err := os.WriteFile(opts.debugPath, data, 0o644); err != nil {
			return fmt.Errorf("write debug metadata: %w", err)
		}
	}

	printStats(os.Stdout, res, cfg, opts.verbose)

	if opts.run {
		return runProgram(res, cfg, opts.snapshotPath)
	}
	return nil
}

func printStats(w io.Writer, res *compiler.Result, cfg *config.Config, verbose bool) {
	st := res.Stats
	fmt.Fprintf(w, "Program size: %d words (%d code words, %d instructions)\n",
		st.CodeWords+st.DataWords, st.CodeWords, st.Instructions)
	fmt.Fprintf(w, "Free space available: %d words\n", st.FreeWords)
	if !verbose {
		return
	}

	mem := table.NewWriter()
	mem.SetTitle("Memory map")
	mem.AppendHeader(table.Row{"Region", "Start", "End", "Words"})
	mem.AppendRow(table.Row{"code", "0x0000", fmt.Sprintf("0x%04X", max(st.CodeWords-1, 0)), st.CodeWords})
	if st.DataWords > 0 {
		mem.AppendRow(table.Row{"data fields", fmt.Sprintf("0x%04X", cfg.DataStart),
			fmt.Sprintf("0x%04X", cfg.DataStart+st.DataWords-1), st.DataWords})
	} else {
		mem.AppendRow(table.Row{"data fields", "-", "-", 0})
	}
	mem.AppendRow(table.Row{"stack", fmt.Sprintf("0x%04X", cfg.StackTop()), "0xFFFF",
		fmt.Sprintf("%d (%d used)", cfg.StackSize, st.StackWords)})
	fmt.Fprintln(w, mem.Render())

	if len(res.Debug.MemoryAddresses) > 0 {
		fields := table.NewWriter()
		fields.SetTitle("Data fields")
		fields.AppendHeader(table.Row{"Address", "Name"})
		names := make([]string, 0, len(res.Debug.MemoryAddresses))
		for name := range res.Debug.MemoryAddresses {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			return res.Debug.MemoryAddresses[names[i]] < res.Debug.MemoryAddresses[names[j]]
		})
		for _, name := range names {
			fields.AppendRow(table.Row{fmt.Sprintf("0x%04X", res.Debug.MemoryAddresses[name]), name})
		}
		fmt.Fprintln(w, fields.Render())
	}

	if cfg.Optimize {
		opt := table.NewWriter()
		opt.SetTitle(fmt.Sprintf("Optimizer: %d passes", st.Optimizer.Passes))
		opt.AppendHeader(table.Row{"Rule", "Rewrites"})
		rules := make([]string, 0, len(st.Optimizer.Rewrites))
		for rule := range st.Optimizer.Rewrites {
			rules = append(rules, rule)
		}
		sort.Strings(rules)
		for _, rule := range rules {
			opt.AppendRow(table.Row{rule, st.Optimizer.Rewrites[rule]})
		}
		opt.AppendFooter(table.Row{"total", st.Optimizer.Total()})
		fmt.Fprintln(w, opt.Render())
	}
}

func runProgram(res *compiler.Result, cfg *config.Config, snapshotPath string) error {
	words, _, err := asm.Assemble(res.Program)
	if err != nil {
		return fmt.Errorf("assemble: %w", err)
	}
	vm := cpu.NewCPU()
	if err := vm.Load(words); err != nil {
		return err
	}
	runErr := vm.Run(cfg.CycleLimit)

	fmt.Printf("run stopped at %s (PC=0x%04X SP=0x%04X O=0x%04X) after %d cycles, stack high-water %d words\n",
		res.Debug.AliasFor(int(vm.PC)), vm.PC, vm.SP, vm.O, vm.Cycles, vm.MaxStackDepth)

	if snapshotPath != "" {
		if err := vm.SnapshotToFile(snapshotPath); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}
	if runErr != nil {
		return fmt.Errorf("run: %w", runErr)
	}
	return nil
}
