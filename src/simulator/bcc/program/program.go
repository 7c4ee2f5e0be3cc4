// Package program holds a decoded block program: descriptors keyed by PC, the
// entry and exit addresses and the initial machine state.
package program

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"bccsim/src/simulator/bcc/block"
)

// Segment is preloaded memory. Int32 words, when present, are appended
// little-endian after Data.
type Segment struct {
	Addr  uint64  `json:"addr"`
	Data  []byte  `json:"data,omitempty"`
	Int32 []int32 `json:"int32,omitempty"`
}

func (s Segment) Bytes() []byte {
	data := append([]byte{}, s.Data...)
	for _, word := range s.Int32 {
		data = binary.LittleEndian.AppendUint32(data, uint32(word))
	}
	return data
}

type RegisterPreset struct {
	Reg   block.Reg `json:"reg"`
	Value uint64    `json:"value"`
}

type SSRPreset struct {
	ID    uint16 `json:"id"`
	Value uint64 `json:"value"`
}

// Program is a block stream plus everything needed to start it. Execution
// begins at Entry and halts once control reaches Exit.
type Program struct {
	Name      string              `json:"name"`
	Entry     uint64              `json:"entry"`
	Exit      uint64              `json:"exit"`
	Blocks    []*block.Descriptor `json:"blocks"`
	Memory    []Segment           `json:"memory,omitempty"`
	Registers []RegisterPreset    `json:"registers,omitempty"`
	SSRs      []SSRPreset         `json:"ssrs,omitempty"`

	index map[uint64]*block.Descriptor
}

// Index builds the PC lookup table. Two blocks at one PC are rejected.
func (p *Program) Index() error {
	p.index = make(map[uint64]*block.Descriptor, len(p.Blocks))
	for _, desc := range p.Blocks {
		if desc == nil {
			return fmt.Errorf("program %s: nil block", p.Name)
		}
		if other, ok := p.index[desc.PC]; ok {
			return fmt.Errorf("program %s: %s and %s share pc 0x%x", p.Name, other, desc, desc.PC)
		}
		p.index[desc.PC] = desc
	}
	if _, ok := p.index[p.Entry]; !ok && p.Entry != p.Exit {
		return fmt.Errorf("program %s: entry 0x%x is not a block boundary", p.Name, p.Entry)
	}
	return nil
}

func (p *Program) Lookup(pc uint64) (*block.Descriptor, bool) {
	if p.index == nil {
		if err := p.Index(); err != nil {
			panic(err)
		}
	}
	desc, ok := p.index[pc]
	return desc, ok
}

// IsBoundary reports whether control may legally transfer to pc.
func (p *Program) IsBoundary(pc uint64) bool {
	if pc == p.Exit {
		return true
	}
	_, ok := p.Lookup(pc)
	return ok
}

// Load reads a JSON program from disk.
func Load(path string) (*Program, error) {
	if path == "" {
		return nil, errors.New("empty program path")
	}

	clean := filepath.Clean(path)
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}

	program := new(Program)
	if err := json.Unmarshal(data, program); err != nil {
		return nil, fmt.Errorf("parse program %s: %w", clean, err)
	}
	if len(program.Blocks) == 0 {
		return nil, fmt.Errorf("program %s contains no blocks", clean)
	}
	if err := program.Index(); err != nil {
		return nil, err
	}
	return program, nil
}

func (p *Program) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode program %s: %w", p.Name, err)
	}
	return os.WriteFile(filepath.Clean(path), data, 0o644)
}
