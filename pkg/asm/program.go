package asm

import (
	"fmt"
	"sort"
	"strings"
)

// AddressSpace is the number of addressable words.
const AddressSpace = 0x10000

// Addresses returns the address of every instruction and the total size.
// address(i) is the sum of the sizes of all instructions before i.
func Addresses(program []Instruction) ([]int, int) {
	addrs := make([]int, len(program))
	address := 0
	for i, in := range program {
		addrs[i] = address
		address += in.Size()
	}
	return addrs, address
}

// Count returns the number of machine instructions and code words.
func Count(program []Instruction) (instructions, words int) {
	for _, in := range program {
		size := in.Size()
		if size == 0 {
			continue
		}
		instructions++
		words += size
	}
	return instructions, words
}

// TextOptions controls Text.
type TextOptions struct {
	// AddressComments appends the instruction address to every line.
	AddressComments bool
}

// Text renders program as assembly source.
func Text(program []Instruction, opts TextOptions) (string, error) {
	addrs, _ := Addresses(program)

	var sb strings.Builder
	for i, in := range program {
		line, err := in.Render()
		if err != nil {
			return "", fmt.Errorf("instruction %d: %w", i, err)
		}

		switch in.Op {
		case OpLabel:
			sb.WriteString("\n" + line)
		default:
			sb.WriteString("\t" + line)
		}
		if opts.AddressComments && in.Op != OpComment {
			fmt.Fprintf(&sb, " ; %04X", addrs[i])
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// AddressAlias names a code address for the debugger.
type AddressAlias struct {
	Address int    `yaml:"address"`
	Alias   string `yaml:"alias"`
}

// DebugInfo is the metadata consumed by the hardware debugger.
type DebugInfo struct {
	CodeAddressAliases []AddressAlias    `yaml:"code_address_aliases"`
	MemoryAddresses    map[string]uint16 `yaml:"memory_addresses"`
}

// Aliases collects the debug aliases of program with their final addresses.
func Aliases(program []Instruction) []AddressAlias {
	addrs, _ := Addresses(program)

	var out []AddressAlias
	for i, in := range program {
		if in.Alias != "" {
			out = append(out, AddressAlias{Address: addrs[i], Alias: in.Alias})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// AliasFor returns the closest alias at or below address, formatted as
// "alias+offset" the way the debugger shows code locations.
func (d DebugInfo) AliasFor(address int) string {
	last := AddressAlias{Alias: "0"}
	for _, a := range d.CodeAddressAliases {
		if address < a.Address {
			break
		}
		last = a
	}
	return fmt.Sprintf("%s+%X", last.Alias, address-last.Address)
}
