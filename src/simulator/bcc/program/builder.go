package program

import "bccsim/src/simulator/bcc/block"

// Builder lays blocks out back to back starting at the entry address.
type Builder struct {
	program *Program
	pc      uint64
}

func NewBuilder(name string, entry uint64) *Builder {
	return &Builder{
		program: &Program{Name: name, Entry: entry},
		pc:      entry,
	}
}

// PC is the address the next block will be placed at.
func (b *Builder) PC() uint64 {
	return b.pc
}

// Add places desc at the current PC and returns the stored copy so branch
// targets can be patched once later blocks exist.
func (b *Builder) Add(desc block.Descriptor) *block.Descriptor {
	if desc.Size == 0 {
		desc.Size = block.DefaultHeaderSize
	}
	desc.PC = b.pc
	desc.Terminated = true
	b.pc += desc.Size

	stored := &desc
	b.program.Blocks = append(b.program.Blocks, stored)
	return stored
}

func (b *Builder) Preset(reg block.Reg, value uint64) *Builder {
	b.program.Registers = append(b.program.Registers, RegisterPreset{Reg: reg, Value: value})
	return b
}

func (b *Builder) SSR(id uint16, value uint64) *Builder {
	b.program.SSRs = append(b.program.SSRs, SSRPreset{ID: id, Value: value})
	return b
}

func (b *Builder) Bytes(addr uint64, data []byte) *Builder {
	b.program.Memory = append(b.program.Memory, Segment{Addr: addr, Data: append([]byte{}, data...)})
	return b
}

func (b *Builder) Int32s(addr uint64, words []int32) *Builder {
	b.program.Memory = append(b.program.Memory, Segment{Addr: addr, Int32: append([]int32{}, words...)})
	return b
}

// Build finishes the program with its exit right after the last block.
func (b *Builder) Build() *Program {
	b.program.Exit = b.pc
	if err := b.program.Index(); err != nil {
		panic(err)
	}
	return b.program
}
