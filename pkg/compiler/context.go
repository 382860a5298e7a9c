package compiler

import (
	"fmt"

	"dcc/pkg/config"
	"dcc/pkg/diag"
)

// Context carries the state shared by one compilation: the label counter and
// the data field allocator. Independent compilations use separate contexts.
type Context struct {
	cfg       *config.Config
	nextLabel int
	nextData  int
}

func NewContext(cfg *config.Config) *Context {
	return &Context{
		cfg:      cfg,
		nextData: cfg.DataStart,
	}
}

// NewLabel returns a fresh label name for prefix.
func (c *Context) NewLabel(prefix string) string {
	l := fmt.Sprintf("%s_label_%X", prefix, c.nextLabel)
	c.nextLabel++
	return l
}

// Allocate assigns the next free data address to f. Constant fields and
// fields that already have an address are left alone.
func (c *Context) Allocate(f *DataField) error {
	if f.Constant || f.Allocated {
		return nil
	}
	if c.nextData >= c.cfg.DataEnd {
		return diag.Errorf(f.Pos, "ran out of address space for data fields")
	}
	f.Address = uint16(c.nextData)
	f.Allocated = true
	c.nextData++
	return nil
}

// DataWords is the number of words allocated so far.
func (c *Context) DataWords() int {
	return c.nextData - c.cfg.DataStart
}
