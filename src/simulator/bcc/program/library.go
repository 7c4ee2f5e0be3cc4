package program

import (
	"fmt"
	"sort"

	"bccsim/src/simulator/bcc/block"
)

// Fixed data layout used by the canned kernels.
const (
	MatrixA   uint64 = 0x1000
	MatrixB   uint64 = 0x2000
	MatrixC   uint64 = 0x3000
	CopySrc   uint64 = 0x4000
	CopyDst   uint64 = 0x5000
	VectorA   uint64 = 0x6000
	VectorB   uint64 = 0x6100
	VectorOut uint64 = 0x6200
	ResultBox uint64 = 0x7000
)

// Library provides canned block programs sized by a few parameters.
type Library struct {
	entry    uint64
	copySize uint64
	loopTrip uint64
}

func NewLibrary() *Library {
	return &Library{entry: 0x100, copySize: 64, loopTrip: 5}
}

// WithCopySize and WithLoopTrip resize the memcpy and countdown kernels.
func (lib *Library) WithCopySize(bytes uint64) *Library {
	lib.copySize = bytes
	return lib
}

func (lib *Library) WithLoopTrip(trip uint64) *Library {
	lib.loopTrip = trip
	return lib
}

func (lib *Library) kernels() map[string]func() *Program {
	return map[string]func() *Program{
		"matmul8x8": lib.Matmul8x8,
		"memcpy":    lib.Memcpy,
		"vecadd":    lib.VectorAdd,
		"countdown": lib.Countdown,
		"tilechain": lib.TileChain,
	}
}

func (lib *Library) Names() []string {
	names := make([]string, 0)
	for name := range lib.kernels() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (lib *Library) ByName(name string) (*Program, error) {
	build, ok := lib.kernels()[name]
	if !ok {
		return nil, fmt.Errorf("unknown kernel %q (have %v)", name, lib.Names())
	}
	return build(), nil
}

func matrix(f func(i, j int) int32) []int32 {
	words := make([]int32, 64)
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			words[i*8+j] = f(i, j)
		}
	}
	return words
}

// Matmul8x8 loads two 8x8 int32 tiles, multiplies them on the cube PE and
// stores the product at MatrixC.
func (lib *Library) Matmul8x8() *Program {
	b := NewBuilder("matmul8x8", lib.entry)
	b.Int32s(MatrixA, matrix(func(i, j int) int32 { return int32(i + j) }))
	b.Int32s(MatrixB, matrix(func(i, j int) int32 { return int32(i - 2*j) }))

	b.Add(block.Descriptor{
		Name:    "setup",
		Type:    block.TypeScalar,
		LiveOut: []block.Reg{1, 2, 3},
		Body: []block.MicroOp{
			block.Op(block.OpMov, block.R(1), block.Imm(int64(MatrixA))),
			block.Op(block.OpMov, block.R(2), block.Imm(int64(MatrixB))),
			block.Op(block.OpMov, block.R(3), block.Imm(int64(MatrixC))),
		},
	})
	b.Add(block.Descriptor{
		Name:    "load.a",
		Type:    block.TypeTMA,
		SubOp:   block.SubOpTLoad,
		LiveIn:  []block.Reg{1},
		TileOut: []block.TileOut{{Hand: block.HandT, Size: 256}},
		Dims:    []uint32{8, 32},
	})
	b.Add(block.Descriptor{
		Name:    "load.b",
		Type:    block.TypeTMA,
		SubOp:   block.SubOpTLoad,
		LiveIn:  []block.Reg{2},
		TileOut: []block.TileOut{{Hand: block.HandU, Size: 256}},
		Dims:    []uint32{8, 32},
	})
	b.Add(block.Descriptor{
		Name:    "mul",
		Type:    block.TypeCube,
		SubOp:   block.SubOpMAMulB,
		TileIn:  []block.TileRef{{Hand: block.HandT, Depth: 1}, {Hand: block.HandU, Depth: 1}},
		TileOut: []block.TileOut{{Hand: block.HandM, Size: 256}},
		Dims:    []uint32{8, 8, 8},
	})
	b.Add(block.Descriptor{
		Name:   "store.c",
		Type:   block.TypeTMA,
		SubOp:  block.SubOpTStore,
		LiveIn: []block.Reg{3},
		TileIn: []block.TileRef{{Hand: block.HandM, Depth: 1}},
		Dims:   []uint32{8, 32},
	})
	return b.Build()
}

// Memcpy copies copySize bytes from CopySrc to CopyDst with a template block.
func (lib *Library) Memcpy() *Program {
	b := NewBuilder("memcpy", lib.entry)
	data := make([]byte, lib.copySize)
	for i := range data {
		data[i] = byte(i*7 + 3)
	}
	b.Bytes(CopySrc, data)

	b.Add(block.Descriptor{
		Name:    "args",
		Type:    block.TypeScalar,
		LiveOut: []block.Reg{1, 2, 3},
		Body: []block.MicroOp{
			block.Op(block.OpMov, block.R(1), block.Imm(int64(CopyDst))),
			block.Op(block.OpMov, block.R(2), block.Imm(int64(CopySrc))),
			block.Op(block.OpMov, block.R(3), block.Imm(int64(lib.copySize))),
		},
	})
	b.Add(block.Descriptor{
		Name:   "mcopy",
		Type:   block.TypeTemplate,
		SubOp:  block.SubOpMCopy,
		LiveIn: []block.Reg{1, 2, 3},
	})
	return b.Build()
}

// VectorAdd adds two 16-element int32 vectors on the vector PE, 8 lanes by
// 2 iterations, and reduces the sum into r5.
func (lib *Library) VectorAdd() *Program {
	b := NewBuilder("vecadd", lib.entry)
	a := make([]int32, 16)
	c := make([]int32, 16)
	for i := range a {
		a[i] = int32(i * 3)
		c[i] = int32(100 - i)
	}
	b.Int32s(VectorA, a)
	b.Int32s(VectorB, c)

	b.Add(block.Descriptor{
		Name:    "setup",
		Type:    block.TypeScalar,
		LiveOut: []block.Reg{1, 2, 3, 5},
		Body: []block.MicroOp{
			block.Op(block.OpMov, block.R(1), block.Imm(int64(VectorA))),
			block.Op(block.OpMov, block.R(2), block.Imm(int64(VectorB))),
			block.Op(block.OpMov, block.R(3), block.Imm(int64(VectorOut))),
			block.Op(block.OpMov, block.R(5), block.Imm(0)),
		},
	})
	b.Add(block.Descriptor{
		Name:    "load.a",
		Type:    block.TypeTMA,
		SubOp:   block.SubOpTLoad,
		LiveIn:  []block.Reg{1},
		TileOut: []block.TileOut{{Hand: block.HandT, Size: 64}},
		Dims:    []uint32{1, 64},
	})
	b.Add(block.Descriptor{
		Name:    "load.b",
		Type:    block.TypeTMA,
		SubOp:   block.SubOpTLoad,
		LiveIn:  []block.Reg{2},
		TileOut: []block.TileOut{{Hand: block.HandU, Size: 64}},
		Dims:    []uint32{1, 64},
	})
	b.Add(block.Descriptor{
		Name:    "vadd",
		Type:    block.TypeVector,
		LiveIn:  []block.Reg{5},
		LiveOut: []block.Reg{5},
		TileIn:  []block.TileRef{{Hand: block.HandT, Depth: 1}, {Hand: block.HandU, Depth: 1}},
		TileOut: []block.TileOut{{Hand: block.HandN, Size: 64}},
		Dims:    []uint32{8, 2},
		Body: []block.MicroOp{
			block.Op(block.OpAdd, block.TOut(0, 0), block.TIn(0, 0), block.TIn(1, 0)),
			block.Op(block.OpRedSum, block.R(5), block.TOut(0, 0), block.R(5)),
		},
	})
	b.Add(block.Descriptor{
		Name:   "store",
		Type:   block.TypeTMA,
		SubOp:  block.SubOpTStore,
		LiveIn: []block.Reg{3},
		TileIn: []block.TileRef{{Hand: block.HandN, Depth: 1}},
		Dims:   []uint32{1, 64},
	})
	return b.Build()
}

// Countdown runs a conditional self-loop loopTrip times, accumulating the
// counter into r2, then stores r2 at ResultBox. Every taken back edge is a
// misprediction of the static fall-through guess.
func (lib *Library) Countdown() *Program {
	b := NewBuilder("countdown", lib.entry)
	b.Add(block.Descriptor{
		Name:    "init",
		Type:    block.TypeScalar,
		LiveOut: []block.Reg{1, 2},
		Body: []block.MicroOp{
			block.Op(block.OpMov, block.R(1), block.Imm(int64(lib.loopTrip))),
			block.Op(block.OpMov, block.R(2), block.Imm(0)),
		},
	})
	loop := b.Add(block.Descriptor{
		Name:    "loop",
		Type:    block.TypeScalar,
		LiveIn:  []block.Reg{1, 2},
		LiveOut: []block.Reg{1, 2},
		Body: []block.MicroOp{
			block.Op(block.OpAdd, block.R(2), block.R(2), block.R(1)),
			block.Op(block.OpSub, block.R(1), block.R(1), block.Imm(1)),
			block.Op(block.OpCmpNe, block.Operand{}, block.R(1), block.Imm(0)),
		},
	})
	loop.Branch = block.Branch{Kind: block.BranchCond, Target: loop.PC}
	b.Add(block.Descriptor{
		Name:   "store",
		Type:   block.TypeScalar,
		LiveIn: []block.Reg{2},
		Body: []block.MicroOp{
			block.Op(block.OpStore, block.Operand{}, block.Imm(int64(ResultBox)), block.R(2)),
		},
	})
	return b.Build()
}

// TileChain is a dependent scalar tile chain: the first block writes a tile
// on hand T, the second reads it back through T#1 and derives r2 from it.
func (lib *Library) TileChain() *Program {
	b := NewBuilder("tilechain", lib.entry)
	b.Preset(1, 41)
	b.Add(block.Descriptor{
		Name:    "produce",
		Type:    block.TypeScalar,
		LiveIn:  []block.Reg{1},
		TileOut: []block.TileOut{{Hand: block.HandT, Size: 16}},
		Body: []block.MicroOp{
			block.Op(block.OpMov, block.TOut(0, 0), block.R(1)),
			block.Op(block.OpMul, block.TOut(0, 8), block.R(1), block.Imm(2)),
		},
	})
	b.Add(block.Descriptor{
		Name:    "consume",
		Type:    block.TypeScalar,
		LiveOut: []block.Reg{2},
		TileIn:  []block.TileRef{{Hand: block.HandT, Depth: 1}},
		Body: []block.MicroOp{
			block.Op(block.OpAdd, block.R(2), block.TIn(0, 0), block.TIn(0, 8)),
			block.Op(block.OpAdd, block.R(2), block.R(2), block.Imm(1)),
		},
	})
	return b.Build()
}
