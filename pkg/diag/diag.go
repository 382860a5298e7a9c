// Package diag holds the two error classes reported by the compiler backend:
// user-facing compile errors carrying a source position, and internal
// invariant violations that indicate a compiler bug.
package diag

import (
	"errors"
	"fmt"
)

// Pos locates a construct in its source module.
type Pos struct {
	File string
	Line int
}

// Position returns p. Embedding Pos in a node gives it a Position method.
func (p Pos) Position() Pos { return p }

func (p Pos) String() string {
	switch {
	case p.File == "":
		return ""
	case p.Line == 0:
		return p.File
	default:
		return fmt.Sprintf("%s:%d", p.File, p.Line)
	}
}

// CompileError is a mistake in the compiler input.
type CompileError struct {
	Pos Pos
	Msg string
}

func (e *CompileError) Error() string {
	if loc := e.Pos.String(); loc != "" {
		return loc + ": " + e.Msg
	}
	return e.Msg
}

// Errorf builds a CompileError at pos.
func Errorf(pos Pos, format string, args ...any) *CompileError {
	return &CompileError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// InternalError is a violated invariant of the compiler itself.
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string {
	return "internal error: " + e.Msg
}

// Internalf builds an InternalError.
func Internalf(format string, args ...any) *InternalError {
	return &InternalError{Msg: fmt.Sprintf(format, args...)}
}

// IsInternal reports whether err (or anything it wraps) is an InternalError.
func IsInternal(err error) bool {
	var ie *InternalError
	return errors.As(err, &ie)
}

// CompileErrors unpacks every CompileError contained in err, including
// those joined with errors.Join.
func CompileErrors(err error) []*CompileError {
	if err == nil {
		return nil
	}
	var out []*CompileError
	var walk func(error)
	walk = func(e error) {
		if ce, ok := e.(*CompileError); ok {
			out = append(out, ce)
			return
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			if inner := u.Unwrap(); inner != nil {
				walk(inner)
			}
		}
	}
	walk(err)
	return out
}
