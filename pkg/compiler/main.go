// Package compiler lowers resolved programs to DCPU-16 assembly.
//
// Pipeline: Frontend → validate → allocate data → Generate → optimizer → text
package compiler
