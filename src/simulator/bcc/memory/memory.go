package memory

import (
	"fmt"

	"bccsim/src/simulator/bcc/block"

	"golang.org/x/exp/slices"
)

const PageSize = 4096

// Memory is a sparse byte-addressable backing store. Accesses at or beyond
// the limit fault.
type Memory struct {
	pages map[uint64][]byte
	limit uint64
}

func NewMemory(limit uint64) *Memory {
	return &Memory{
		pages: make(map[uint64][]byte),
		limit: limit,
	}
}

func (m *Memory) Limit() uint64 {
	return m.limit
}

func (m *Memory) SetLimit(limit uint64) {
	m.limit = limit
}

// Check validates that [addr, addr+size) lies inside memory.
func (m *Memory) Check(addr uint64, size int) error {
	end := addr + uint64(size)
	if end < addr || end > m.limit {
		return block.NewFault(block.CauseAccessFault, addr, "%d bytes beyond limit 0x%x", size, m.limit)
	}
	return nil
}

func (m *Memory) Read(addr uint64, size int) ([]byte, error) {
	if err := m.Check(addr, size); err != nil {
		return nil, err
	}

	data := make([]byte, size)
	for i := 0; i < size; {
		page, offset := (addr+uint64(i))/PageSize, (addr+uint64(i))%PageSize
		n := size - i
		if rest := int(PageSize - offset); n > rest {
			n = rest
		}
		if bytes, ok := m.pages[page]; ok {
			copy(data[i:i+n], bytes[offset:])
		}
		i += n
	}
	return data, nil
}

func (m *Memory) Write(addr uint64, data []byte) error {
	if err := m.Check(addr, len(data)); err != nil {
		return err
	}

	for i := 0; i < len(data); {
		page, offset := (addr+uint64(i))/PageSize, (addr+uint64(i))%PageSize
		n := len(data) - i
		if rest := int(PageSize - offset); n > rest {
			n = rest
		}
		bytes, ok := m.pages[page]
		if !ok {
			bytes = make([]byte, PageSize)
			m.pages[page] = bytes
		}
		copy(bytes[offset:], data[i:i+n])
		i += n
	}
	return nil
}

func (m *Memory) Pages() int {
	return len(m.pages)
}

// Touched returns the base address of every page written so far, in
// ascending order.
func (m *Memory) Touched() []uint64 {
	bases := make([]uint64, 0, len(m.pages))
	for page := range m.pages {
		bases = append(bases, page*PageSize)
	}
	slices.Sort(bases)
	return bases
}

func (m *Memory) String() string {
	return fmt.Sprintf("memory{pages=%d limit=0x%x}", len(m.pages), m.limit)
}
