package bcc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"bccsim/src/simulator/bcc/block"
	"bccsim/src/simulator/bcc/brob"
	"bccsim/src/simulator/bcc/program"
	"bccsim/src/simulator/bcc/state"

	. "github.com/onsi/gomega"
)

type region struct {
	addr uint64
	size int
}

var kernelOutputs = map[string][]region{
	"matmul8x8": {{program.MatrixC, 256}},
	"memcpy":    {{program.CopyDst, 64}},
	"vecadd":    {{program.VectorOut, 64}},
	"countdown": {{program.ResultBox, 8}},
	"tilechain": {},
}

func newTestCore(t *testing.T, config *Config, p *program.Program) *Core {
	t.Helper()
	core, err := NewCore(config, p)
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	t.Cleanup(core.Fini)
	return core
}

func gpr(core *Core, reg uint8) uint64 {
	value, _ := core.Store().ReadGPR(reg)
	return value
}

func word(g *WithT, core *Core, addr uint64) uint64 {
	data, err := core.Memory().Read(addr, 8)
	g.Expect(err).NotTo(HaveOccurred())
	return binary.LittleEndian.Uint64(data)
}

func TestKernelsMatchSequentialReference(t *testing.T) {
	lib := program.NewLibrary()
	for _, name := range lib.Names() {
		for _, seed := range []int64{1, 7, 42} {
			name, seed := name, seed
			t.Run(fmt.Sprintf("%s/seed%d", name, seed), func(t *testing.T) {
				g := NewWithT(t)

				config := DefaultConfig()
				config.Jitter = 3
				config.Seed = seed

				p, err := lib.ByName(name)
				g.Expect(err).NotTo(HaveOccurred())
				core := newTestCore(t, config, p)
				g.Expect(core.Run()).To(Succeed())

				q, _ := lib.ByName(name)
				ref, err := NewReference(DefaultConfig(), q)
				g.Expect(err).NotTo(HaveOccurred())
				g.Expect(ref.Run()).To(Succeed())

				g.Expect(core.Store().Snapshot().Equal(ref.Snapshot())).To(BeTrue())
				for _, out := range kernelOutputs[name] {
					got, err := core.Memory().Read(out.addr, out.size)
					g.Expect(err).NotTo(HaveOccurred())
					want, err := ref.Memory().Read(out.addr, out.size)
					g.Expect(err).NotTo(HaveOccurred())
					g.Expect(got).To(Equal(want), "0x%x", out.addr)
				}
				g.Expect(core.Stats().Retired + core.Stats().Failed).To(Equal(ref.Blocks()))
				g.Expect(core.Router().Outstanding()).To(BeZero())
			})
		}
	}
}

func TestKernelResults(t *testing.T) {
	g := NewWithT(t)
	lib := program.NewLibrary()

	core := newTestCore(t, DefaultConfig(), lib.VectorAdd())
	g.Expect(core.Run()).To(Succeed())
	g.Expect(gpr(core, 5)).To(Equal(uint64(1840)))

	core = newTestCore(t, DefaultConfig(), lib.TileChain())
	g.Expect(core.Run()).To(Succeed())
	g.Expect(gpr(core, 2)).To(Equal(uint64(124)))

	core = newTestCore(t, DefaultConfig(), lib.Matmul8x8())
	g.Expect(core.Run()).To(Succeed())
	// C[0][0] = sum_k A[0][k] * B[k][0] = sum_k k * k
	first, err := core.Memory().Read(program.MatrixC, 4)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(int32(binary.LittleEndian.Uint32(first))).To(Equal(int32(140)))
	g.Expect(core.TMAStats()).NotTo(BeZero())
}

func TestMispredictedLoopRecovers(t *testing.T) {
	g := NewWithT(t)

	core := newTestCore(t, DefaultConfig(), program.NewLibrary().Countdown())
	g.Expect(core.Run()).To(Succeed())

	g.Expect(gpr(core, 1)).To(BeZero())
	g.Expect(gpr(core, 2)).To(Equal(uint64(15)))
	g.Expect(word(g, core, program.ResultBox)).To(Equal(uint64(15)))
	g.Expect(core.Stats().Mispredicts).To(Equal(uint64(4)))
	g.Expect(core.Stats().Flushed).To(BeNumerically(">", 0))
	g.Expect(core.BrobStats().Retired).To(Equal(uint64(7)))
}

func TestRenameStallsUntilSlotsRetire(t *testing.T) {
	g := NewWithT(t)

	b := program.NewBuilder("rename", 0x100)
	for k := 1; k <= 3; k++ {
		b.Add(block.Descriptor{
			Type:    block.TypeScalar,
			TileOut: []block.TileOut{{Hand: block.HandT, Size: 8}},
			Body:    []block.MicroOp{block.Op(block.OpMov, block.TOut(0, 0), block.Imm(int64(k)))},
		})
	}
	b.Add(block.Descriptor{
		Type:    block.TypeScalar,
		LiveOut: []block.Reg{2},
		TileIn: []block.TileRef{
			{Hand: block.HandT, Depth: 1},
			{Hand: block.HandT, Depth: 2},
			{Hand: block.HandT, Depth: 3},
		},
		Body: []block.MicroOp{
			block.Op(block.OpAdd, block.R(2), block.TIn(0, 0), block.TIn(1, 0)),
			block.Op(block.OpAdd, block.R(2), block.R(2), block.TIn(2, 0)),
		},
	})

	config := DefaultConfig()
	config.PhysTiles = block.NumHands*config.TileDepth + 1
	core := newTestCore(t, config, b.Build())
	g.Expect(core.Run()).To(Succeed())

	g.Expect(gpr(core, 2)).To(Equal(uint64(6)))
	g.Expect(core.Stats().RenameStalls).To(BeNumerically(">", 0))
	g.Expect(core.RenameStats().Exhausted).To(BeNumerically(">", 0))
	g.Expect(core.rename.FreeSlots()).To(Equal(1))
}

func TestStoreIsForwardedToYoungerTileLoad(t *testing.T) {
	g := NewWithT(t)

	const box = 0x8000
	b := program.NewBuilder("forward", 0x100)
	b.Add(block.Descriptor{
		Type:    block.TypeScalar,
		LiveOut: []block.Reg{1},
		Body: []block.MicroOp{
			block.Op(block.OpMov, block.R(1), block.Imm(box)),
			block.Op(block.OpStore, block.Operand{}, block.R(1), block.Imm(0x1122334455667788)),
		},
	})
	b.Add(block.Descriptor{
		Type:    block.TypeTMA,
		SubOp:   block.SubOpTLoad,
		LiveIn:  []block.Reg{1},
		TileOut: []block.TileOut{{Hand: block.HandU, Size: 8}},
		Dims:    []uint32{1, 8},
	})
	b.Add(block.Descriptor{
		Type:    block.TypeScalar,
		LiveOut: []block.Reg{2},
		TileIn:  []block.TileRef{{Hand: block.HandU, Depth: 1}},
		Body:    []block.MicroOp{block.Op(block.OpMov, block.R(2), block.TIn(0, 0))},
	})
	p := b.Build()

	for _, seed := range []int64{1, 2, 3, 4} {
		config := DefaultConfig()
		config.Jitter = 5
		config.Seed = seed
		core := newTestCore(t, config, p)
		g.Expect(core.Run()).To(Succeed())
		g.Expect(gpr(core, 2)).To(Equal(uint64(0x1122334455667788)))
		g.Expect(word(g, core, box)).To(Equal(uint64(0x1122334455667788)))
	}
}

func TestIllegalControlTargetIsFatal(t *testing.T) {
	g := NewWithT(t)

	b := program.NewBuilder("wild", 0x100)
	jump := b.Add(block.Descriptor{
		Type:    block.TypeScalar,
		LiveOut: []block.Reg{1},
		Body:    []block.MicroOp{block.Op(block.OpMov, block.R(1), block.Imm(7))},
	})
	jump.Branch = block.Branch{Kind: block.BranchJump, Target: jump.PC + 2}
	b.Add(block.Descriptor{Type: block.TypeScalar})
	core := newTestCore(t, DefaultConfig(), b.Build())

	handled := false
	core.SetTrapHandler(func(*Core, *block.TrapError) TrapAction {
		handled = true
		return TrapResume
	})

	err := core.Run()
	g.Expect(errors.Is(err, block.ErrIllegalControlTarget)).To(BeTrue(), "%v", err)
	var trap *block.TrapError
	g.Expect(errors.As(err, &trap)).To(BeTrue())
	g.Expect(trap.PC).To(Equal(jump.PC))
	g.Expect(handled).To(BeFalse())

	g.Expect(gpr(core, 1)).To(BeZero())
	g.Expect(core.Store().ReadSSR(block.SSRECState)).To(Equal(uint64(block.CauseIllegalControlTarget)))
	g.Expect(core.Store().ReadSSR(block.SSREBPC)).To(Equal(jump.PC))
	g.Expect(core.Store().ReadSSR(block.SSREBArg)).To(Equal(jump.PC + 2))
	g.Expect(core.Resume()).To(HaveOccurred())
	g.Expect(core.IsFinished()).To(BeTrue())
}

func TestDeclinedGenericBlockCommitsNothing(t *testing.T) {
	g := NewWithT(t)

	b := program.NewBuilder("decline", 0x100)
	b.Add(block.Descriptor{
		Type:    block.TypeGeneric,
		SubOp:   block.SubOpCRC32,
		LiveOut: []block.Reg{4},
	})
	b.Add(block.Descriptor{
		Type:    block.TypeScalar,
		LiveOut: []block.Reg{5},
		Body:    []block.MicroOp{block.Op(block.OpMov, block.R(5), block.Imm(9))},
	})
	b.Preset(4, 77)
	core := newTestCore(t, DefaultConfig(), b.Build())
	g.Expect(core.Run()).To(Succeed())

	g.Expect(gpr(core, 4)).To(Equal(uint64(77)))
	g.Expect(gpr(core, 5)).To(Equal(uint64(9)))
	g.Expect(core.Stats().Failed).To(Equal(uint64(1)))
	g.Expect(core.Stats().Retired).To(Equal(uint64(1)))
}

func TestCustomAcceleratorRunsThroughGenericUnit(t *testing.T) {
	g := NewWithT(t)

	b := program.NewBuilder("popcnt", 0x100)
	b.Preset(1, 0xF0F0)
	b.Add(block.Descriptor{
		Type:    block.TypeGeneric,
		SubOp:   block.SubOpPopCount,
		LiveIn:  []block.Reg{1},
		LiveOut: []block.Reg{2},
	})
	core := newTestCore(t, DefaultConfig(), b.Build())
	g.Expect(core.Generic()).NotTo(BeNil())
	g.Expect(core.Run()).To(Succeed())
	g.Expect(gpr(core, 2)).To(Equal(uint64(8)))
}

func TestSyncIBlocksFetchUntilItRetires(t *testing.T) {
	g := NewWithT(t)

	b := program.NewBuilder("synci", 0x100)
	b.Add(block.Descriptor{
		Type:    block.TypeScalar,
		LiveOut: []block.Reg{1},
		Body:    []block.MicroOp{block.Op(block.OpMov, block.R(1), block.Imm(3))},
	})
	b.Add(block.Descriptor{
		Type:    block.TypeScalar,
		Attrs:   block.AttrSyncI,
		LiveIn:  []block.Reg{1},
		LiveOut: []block.Reg{1},
		Body:    []block.MicroOp{block.Op(block.OpAdd, block.R(1), block.R(1), block.Imm(1))},
	})
	b.Add(block.Descriptor{
		Type:    block.TypeScalar,
		LiveIn:  []block.Reg{1},
		LiveOut: []block.Reg{2},
		Body:    []block.MicroOp{block.Op(block.OpMul, block.R(2), block.R(1), block.Imm(10))},
	})
	core := newTestCore(t, DefaultConfig(), b.Build())

	for !core.IsFinished() {
		core.Cycle()
		entries := core.brob.Entries()
		for i, entry := range entries {
			if entry.Desc.Attrs.Has(block.AttrSyncI) {
				g.Expect(i).To(Equal(len(entries) - 1))
			}
		}
		g.Expect(core.Stats().Cycles).To(BeNumerically("<", 1000))
	}
	g.Expect(gpr(core, 2)).To(Equal(uint64(40)))
}

func TestDeclinedSyncIBlockLetsFetchContinue(t *testing.T) {
	g := NewWithT(t)

	b := program.NewBuilder("decline.synci", 0x100)
	b.Preset(1, 0xFF)
	b.Add(block.Descriptor{
		Type:   block.TypeGeneric,
		SubOp:  block.SubOpPopCount,
		Attrs:  block.AttrSyncI,
		LiveIn: []block.Reg{1},
	})
	b.Add(block.Descriptor{
		Type:    block.TypeScalar,
		LiveOut: []block.Reg{2},
		Body:    []block.MicroOp{block.Op(block.OpMov, block.R(2), block.Imm(40))},
	})
	config := DefaultConfig()
	config.MaxCycles = 2000
	core := newTestCore(t, config, b.Build())

	g.Expect(core.Run()).To(Succeed())
	g.Expect(gpr(core, 2)).To(Equal(uint64(40)))
	g.Expect(core.Stats().Failed).To(Equal(uint64(1)))
	g.Expect(core.Stats().Retired).To(Equal(uint64(1)))
}

func TestHeldBarrierKeepsYoungerBlocksOutOfItsStation(t *testing.T) {
	g := NewWithT(t)

	const box = 0x8000
	b := program.NewBuilder("barrier.station", 0x100)
	b.Preset(1, box)
	b.Bytes(box, binary.LittleEndian.AppendUint64(nil, 0x5a))
	b.Add(block.Descriptor{
		Type:    block.TypeVector,
		LiveIn:  []block.Reg{5},
		LiveOut: []block.Reg{5},
		Dims:    []uint32{4, 50},
		Body:    []block.MicroOp{block.Op(block.OpRedSum, block.R(5), block.LaneID(), block.R(5))},
	})
	b.Add(block.Descriptor{
		Type:    block.TypeScalar,
		Attrs:   block.AttrBarrier,
		LiveOut: []block.Reg{3},
		Body:    []block.MicroOp{block.Op(block.OpMov, block.R(3), block.Imm(1))},
	})
	for i := 0; i < 5; i++ {
		b.Add(block.Descriptor{
			Type:    block.TypeScalar,
			LiveIn:  []block.Reg{1},
			LiveOut: []block.Reg{2},
			Body:    []block.MicroOp{block.Op(block.OpLoad, block.R(2), block.R(1))},
		})
	}
	config := DefaultConfig()
	config.MaxCycles = 5000
	core := newTestCore(t, config, b.Build())

	for !core.IsFinished() {
		core.Cycle()
		held := false
		for _, entry := range core.brob.Entries() {
			if held {
				g.Expect(entry.Status).To(Equal(brob.StatusIssued))
			}
			if entry.Desc.Attrs.Has(block.AttrBarrier) && entry.Status == brob.StatusIssued {
				held = true
			}
		}
		g.Expect(core.Stats().Cycles).To(BeNumerically("<", config.MaxCycles))
	}

	_, halted := core.Halted()
	g.Expect(halted).To(BeFalse())
	g.Expect(gpr(core, 2)).To(Equal(uint64(0x5a)))
	g.Expect(gpr(core, 3)).To(Equal(uint64(1)))
	g.Expect(gpr(core, 5)).To(Equal(uint64(199 * 200 / 2)))
	g.Expect(core.Stats().Retired).To(Equal(uint64(7)))
}

func TestScalarAndBridgeStoresCommitInProgramOrder(t *testing.T) {
	g := NewWithT(t)

	const box = 0x9000
	const pattern = 0x0a0a0a0a0a0a0a0a
	b := program.NewBuilder("tso", 0x100)
	b.Preset(1, box)
	b.Add(block.Descriptor{
		Name:    "fill",
		Type:    block.TypeScalar,
		TileOut: []block.TileOut{{Hand: block.HandT, Size: 8}},
		Body:    []block.MicroOp{block.Op(block.OpMov, block.TOut(0, 0), block.Imm(pattern))},
	})
	tstore := func(name string) {
		b.Add(block.Descriptor{
			Name:   name,
			Type:   block.TypeTMA,
			SubOp:  block.SubOpTStore,
			LiveIn: []block.Reg{1},
			TileIn: []block.TileRef{{Hand: block.HandT, Depth: 1}},
			Dims:   []uint32{1, 8},
		})
	}
	store := func(name string, value int64) {
		b.Add(block.Descriptor{
			Name:   name,
			Type:   block.TypeScalar,
			LiveIn: []block.Reg{1},
			Body:   []block.MicroOp{block.Op(block.OpStore, block.Operand{}, block.R(1), block.Imm(value))},
		})
	}
	load := func(name string, reg block.Reg) {
		b.Add(block.Descriptor{
			Name:    name,
			Type:    block.TypeScalar,
			LiveIn:  []block.Reg{1},
			LiveOut: []block.Reg{reg},
			Body:    []block.MicroOp{block.Op(block.OpLoad, block.R(int(reg)), block.R(1))},
		})
	}
	store("store.11", 0x11)
	tstore("tstore.first")
	load("load.r3", 3)
	tstore("tstore.second")
	store("store.22", 0x22)
	load("load.r4", 4)
	p := b.Build()

	for _, seed := range []int64{1, 2, 3, 4, 5} {
		config := DefaultConfig()
		config.Jitter = 5
		config.Seed = seed
		core := newTestCore(t, config, p)
		g.Expect(core.Run()).To(Succeed())
		g.Expect(gpr(core, 3)).To(Equal(uint64(pattern)))
		g.Expect(gpr(core, 4)).To(Equal(uint64(0x22)))
		g.Expect(word(g, core, box)).To(Equal(uint64(0x22)))
	}
}

func TestTrapFrameSavesOnlyCompletedLocals(t *testing.T) {
	g := NewWithT(t)

	buffer := brob.New(4)
	faulting := &block.Descriptor{PC: 0x100, Type: block.TypeScalar}
	running := &block.Descriptor{PC: 0x104, Type: block.TypeScalar}
	done := &block.Descriptor{PC: 0x108, Type: block.TypeScalar}
	for _, desc := range []*block.Descriptor{faulting, running, done} {
		entry, err := buffer.Allocate(desc, desc.PC+4)
		g.Expect(err).NotTo(HaveOccurred())
		cmd := &block.Command{Seq: entry.Seq, PC: desc.PC, Type: desc.Type}
		g.Expect(buffer.MarkExecuting(entry.Seq, cmd)).To(Succeed())
	}

	entries := buffer.Entries()
	fault := block.NewFault(block.CauseSoftware, 0, "trap")
	g.Expect(buffer.Complete(entries[0].Seq, block.Raised(entries[0].Command, fault, state.NewScalarLocal()))).To(Succeed())
	finished := block.Succeeded(entries[2].Command, 0x10c)
	finished.Local = state.NewScalarLocal()
	g.Expect(buffer.Complete(entries[2].Seq, finished)).To(Succeed())

	locals := savedLocals(buffer.Entries())
	g.Expect(locals).To(HaveLen(2))
	g.Expect(locals[0].PC).To(Equal(faulting.PC))
	g.Expect(locals[1].PC).To(Equal(done.PC))
}

func TestBarrierIssuesOnlyAtHead(t *testing.T) {
	g := NewWithT(t)

	p := program.NewLibrary().Matmul8x8()
	for _, desc := range p.Blocks {
		if desc.Name == "store.c" {
			desc.Attrs |= block.AttrBarrier
		}
	}
	core := newTestCore(t, DefaultConfig(), p)

	for !core.IsFinished() {
		core.Cycle()
		for i, entry := range core.brob.Entries() {
			if i > 0 && entry.Desc.Attrs.Has(block.AttrBarrier) {
				g.Expect(entry.Status).To(Equal(brob.StatusIssued))
			}
		}
		g.Expect(core.Stats().Cycles).To(BeNumerically("<", 10000))
	}
	_, halted := core.Halted()
	g.Expect(halted).To(BeFalse())
}

func TestFlushIsIdempotent(t *testing.T) {
	g := NewWithT(t)

	core := newTestCore(t, DefaultConfig(), program.NewLibrary().Countdown())
	for core.brob.Len() < 3 && !core.IsFinished() {
		core.Cycle()
	}
	g.Expect(core.brob.Len()).To(BeNumerically(">=", 3))

	head, _ := core.brob.Head()
	seq, next := head.Seq, head.PredictedNext
	core.flushFrom(seq + 1)
	flushed := core.Stats().Flushed
	free := core.rename.FreeSlots()
	core.flushFrom(seq + 1)
	g.Expect(core.Stats().Flushed).To(Equal(flushed))
	g.Expect(core.rename.FreeSlots()).To(Equal(free))
	g.Expect(core.brob.Len()).To(Equal(1))

	core.redirect(next)
	g.Expect(core.Run()).To(Succeed())
	g.Expect(gpr(core, 2)).To(Equal(uint64(15)))
}

func TestAccessFaultHaltsAndResumes(t *testing.T) {
	g := NewWithT(t)

	const saveArea = 0x4800
	p := program.NewLibrary().WithCopySize(32).Memcpy()
	p.SSRs = append(p.SSRs, program.SSRPreset{ID: block.SSRBStateSave, Value: saveArea})
	core := newTestCore(t, DefaultConfig(), p)
	core.SetMemoryLimit(program.CopyDst + 16)

	err := core.Run()
	g.Expect(errors.Is(err, block.ErrAccessFault)).To(BeTrue(), "%v", err)
	g.Expect(core.Store().ReadSSR(block.SSREBArg)).To(Equal(program.CopyDst + 16))

	frame, err := core.TrapFrame()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(frame.Cause).To(Equal(uint16(block.CauseAccessFault)))
	g.Expect(frame.Locals).NotTo(BeEmpty())
	g.Expect(frame.Locals[0].Local.Class()).To(Equal(state.ClassTemplate))
	_, bound, ok := core.Store().Bound(state.ClassTemplate)
	g.Expect(ok).To(BeTrue())
	g.Expect(bound.Class()).To(Equal(state.ClassTemplate))

	partial, err := core.Memory().Read(program.CopyDst, 16)
	g.Expect(err).NotTo(HaveOccurred())
	src, err := core.Memory().Read(program.CopySrc, 32)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(partial).To(Equal(src[:16]))

	core.SetMemoryLimit(DefaultConfig().MemoryBytes)
	g.Expect(core.Resume()).To(Succeed())
	g.Expect(core.Run()).To(Succeed())

	copied, err := core.Memory().Read(program.CopyDst, 32)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(copied).To(Equal(src))
	_, _, ok = core.Store().Bound(state.ClassTemplate)
	g.Expect(ok).To(BeFalse())
}

func TestIllegalBlockTrapsInProgramOrder(t *testing.T) {
	g := NewWithT(t)

	b := program.NewBuilder("illegal", 0x100)
	b.Add(block.Descriptor{
		Type:    block.TypeScalar,
		LiveOut: []block.Reg{1},
		Body:    []block.MicroOp{block.Op(block.OpMov, block.R(1), block.Imm(5))},
	})
	bad := b.Add(block.Descriptor{Type: block.TypeCube, SubOp: block.SubOpMAMulB})
	core := newTestCore(t, DefaultConfig(), b.Build())

	err := core.Run()
	g.Expect(errors.Is(err, block.ErrIllegalBlock)).To(BeTrue(), "%v", err)
	g.Expect(gpr(core, 1)).To(Equal(uint64(5)))
	g.Expect(core.Store().ReadSSR(block.SSREBPC)).To(Equal(bad.PC))
}
