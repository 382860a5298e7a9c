// Package source loads resolved programs stored as YAML modules. It stands in
// for the language front end: names are already qualified and types already
// checked.
//
// A module <name>.yaml looks like
//
//	imports: [lib]
//	data:
//	  - {name: game.score, default: 0}
//	  - {name: game.limit, constant: true, value: 10}
//	functions:
//	  - name: game.main
//	    locals: [{name: i}]
//	    body:
//	      - {op: set, target: i, value: {op: const, value: 3}}
//	      - op: while
//	        cond: {op: lt, left: {op: id, name: game.score}, right: {op: id, name: game.limit}}
//	        body:
//	          - {op: inc, target: game.score}
//
// Every expression and statement is a mapping whose op key selects the node;
// see decode.go for the full list.
package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"dcc/pkg/compiler"
	"dcc/pkg/diag"
)

// Extension is appended to module names to find their files.
const Extension = ".yaml"

var validModule = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Loader reads modules from a search path. It implements compiler.Frontend.
type Loader struct {
	dirs   []fs.FS
	Logger *slog.Logger
}

var _ compiler.Frontend = (*Loader)(nil)

// New returns a Loader over the directories of searchPath, searched in order.
func New(searchPath []string) (*Loader, error) {
	l := &Loader{}
	for _, dir := range searchPath {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("module search path '%s' does not exist", dir)
		}
		l.dirs = append(l.dirs, os.DirFS(dir))
	}
	return l, nil
}

// NewFS returns a Loader over file systems, searched in order.
func NewFS(dirs ...fs.FS) *Loader {
	return &Loader{dirs: dirs}
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

type module struct {
	name      string
	imports   []string
	fields    []*compiler.DataField
	functions []*compiler.Function
}

// Load reads module and everything it imports, directly or not, and merges
// them into one program whose entry function is <module>.main.
func (l *Loader) Load(name string) (*compiler.Program, error) {
	queue := []string{name}
	seen := map[string]bool{name: true}
	var modules []*module

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		l.logger().Info("parsing module", "module", next)
		m, err := l.parse(next)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)

		for _, imp := range m.imports {
			// provided by the compiler
			if imp == compiler.IntrinsicsModule || seen[imp] {
				continue
			}
			seen[imp] = true
			queue = append(queue, imp)
		}
	}

	prog, err := merge(modules)
	if err != nil {
		return nil, err
	}
	prog.Entry = name + ".main"
	return prog, nil
}

func (l *Loader) read(name string) (string, []byte, error) {
	file := name + Extension
	for _, dir := range l.dirs {
		data, err := fs.ReadFile(dir, file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("read module %s: %w", name, err)
		}
		return file, data, nil
	}
	return "", nil, diag.Errorf(diag.Pos{}, "module '%s' not found in search path", name)
}

func (l *Loader) parse(name string) (*module, error) {
	switch {
	case !validModule.MatchString(name):
		return nil, diag.Errorf(diag.Pos{}, "invalid module name '%s'", name)
	case name == compiler.IntrinsicsModule:
		return nil, diag.Errorf(diag.Pos{}, "module '%s' is provided by the compiler", name)
	}

	file, data, err := l.read(name)
	if err != nil {
		return nil, err
	}

	var mf moduleFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&mf); err != nil && !errors.Is(err, io.EOF) {
		return nil, diag.Errorf(diag.Pos{File: file}, "%v", err)
	}

	d := &decoder{file: file}
	m := &module{name: name, imports: mf.Imports}
	prefix := name + "."
	for _, f := range mf.Data {
		if !strings.HasPrefix(f.Name, prefix) {
			d.errorf(f.line, "data field '%s' is not qualified with module '%s'", f.Name, name)
		}
		m.fields = append(m.fields, d.field(f))
	}
	for _, f := range mf.Functions {
		if !strings.HasPrefix(f.Name, prefix) {
			d.errorf(f.line, "function '%s' is not qualified with module '%s'", f.Name, name)
		}
		m.functions = append(m.functions, d.function(f))
	}
	if len(d.errs) > 0 {
		return nil, errors.Join(d.errs...)
	}
	return m, nil
}

// merge combines the modules into one program. Data fields and functions
// share one namespace.
func merge(modules []*module) (*compiler.Program, error) {
	prog := compiler.NewProgram()
	var errs []error

	for _, m := range modules {
		for _, f := range m.fields {
			if prev, ok := prog.DataFields[f.Name]; ok {
				errs = append(errs, redefined(f.Name, prev.Pos, f.Pos))
				continue
			}
			prog.DataFields[f.Name] = f
		}
		for _, f := range m.functions {
			if prev, ok := prog.Functions[f.Name]; ok {
				errs = append(errs, redefined(f.Name, prev.Pos, f.Pos))
				continue
			}
			if prev, ok := prog.DataFields[f.Name]; ok {
				errs = append(errs, redefined(f.Name, prev.Pos, f.Pos))
				continue
			}
			prog.Functions[f.Name] = f
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return prog, nil
}

// redefined reports the later of two definitions of name. prev was merged
// first; within one file the higher line is the later one.
func redefined(name string, prev, pos diag.Pos) error {
	if prev.File != pos.File {
		return diag.Errorf(pos, "'%s' redefined (previous definition at %s)", name, prev)
	}
	if prev.Line > pos.Line {
		prev, pos = pos, prev
	}
	return diag.Errorf(pos, "'%s' redefined (previous definition on line %d)", name, prev.Line)
}
