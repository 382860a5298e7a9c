package cpu

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// machineState is the JSON-serializable register file of a snapshot.
type machineState struct {
	Regs          [8]uint16 `json:"regs"`
	PC            uint16    `json:"pc"`
	SP            uint16    `json:"sp"`
	O             uint16    `json:"o"`
	Halted        bool      `json:"halted"`
	Cycles        int       `json:"cycles"`
	Steps         int       `json:"steps"`
	MaxStackDepth int       `json:"max_stack_depth"`
}

// Snapshot serialises the machine into a ZIP archive holding cpu_state.json
// and a little-endian memory.bin image.
func (c *CPU) Snapshot() ([]byte, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	state := machineState{
		Regs:          c.Regs,
		PC:            c.PC,
		SP:            c.SP,
		O:             c.O,
		Halted:        c.Halted,
		Cycles:        c.Cycles,
		Steps:         c.Steps,
		MaxStackDepth: c.MaxStackDepth,
	}
	jsonData, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal cpu_state: %w", err)
	}
	if err := writeZipEntry(zw, "cpu_state.json", jsonData); err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, "memory.bin", uint16SliceToLE(c.Memory[:])); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore applies an archive produced by Snapshot.
func (c *CPU) Restore(data []byte) error {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}

	fileMap := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		fileMap[f.Name] = f
	}

	jsonData, err := readZipEntry(fileMap, "cpu_state.json")
	if err != nil {
		return err
	}
	var state machineState
	if err := json.Unmarshal(jsonData, &state); err != nil {
		return fmt.Errorf("unmarshal cpu_state: %w", err)
	}
	memData, err := readZipEntry(fileMap, "memory.bin")
	if err != nil {
		return err
	}

	c.Regs = state.Regs
	c.PC = state.PC
	c.SP = state.SP
	c.O = state.O
	c.Halted = state.Halted
	c.Cycles = state.Cycles
	c.Steps = state.Steps
	c.MaxStackDepth = state.MaxStackDepth
	leToUint16Slice(memData, c.Memory[:])
	return nil
}

// SnapshotToFile writes the snapshot archive to path.
func (c *CPU) SnapshotToFile(path string) error {
	data, err := c.Snapshot()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// RestoreFromFile reads a snapshot archive from path.
func (c *CPU) RestoreFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.Restore(data)
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create zip entry %q: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

func readZipEntry(fileMap map[string]*zip.File, name string) ([]byte, error) {
	f, ok := fileMap[name]
	if !ok {
		return nil, fmt.Errorf("zip entry %q not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %q: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func uint16SliceToLE(src []uint16) []byte {
	out := make([]byte, len(src)*2)
	for i, v := range src {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}

func leToUint16Slice(src []byte, dst []uint16) {
	for i := range dst {
		if i*2+1 < len(src) {
			dst[i] = binary.LittleEndian.Uint16(src[i*2:])
		}
	}
}
