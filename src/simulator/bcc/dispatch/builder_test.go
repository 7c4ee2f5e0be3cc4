package dispatch

import (
	"testing"

	"bccsim/src/simulator/bcc/block"
	"bccsim/src/simulator/bcc/rename"
	"bccsim/src/simulator/bcc/state"

	. "github.com/onsi/gomega"
)

func newBuilder() (*Builder, *state.Store) {
	store := state.NewStore(state.Config{NumGPRs: 8, TileHands: 4, TileDepth: 2, PhysTiles: 12})
	return NewBuilder(store), store
}

func TestReserveBindsYoungestProducer(t *testing.T) {
	g := NewWithT(t)
	builder, store := newBuilder()
	g.Expect(store.PresetGPR(1, 5)).To(Succeed())

	producer := &block.Descriptor{Type: block.TypeScalar, LiveOut: []block.Reg{2}, Terminated: true}
	first := builder.Reserve(1, producer, rename.Resolved{})
	second := builder.Reserve(2, producer, rename.Resolved{})

	consumer := &block.Descriptor{Type: block.TypeScalar, LiveIn: []block.Reg{1, 2}, Terminated: true}
	pending := builder.Reserve(3, consumer, rename.Resolved{})

	g.Expect(pending.Inputs[0]).To(Equal(block.Input{Reg: 1, Ready: true, Value: 5}))
	g.Expect(pending.Inputs[1].Tag).To(Equal(second.Outputs[0].Tag))
	g.Expect(pending.Inputs[1].Tag).NotTo(Equal(first.Outputs[0].Tag))
	g.Expect(pending.Inputs[1].Ready).To(BeFalse())

	// scalar commands are emitted before their operands resolve
	cmd, err := builder.Build(pending)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cmd.Resolved()).To(BeFalse())
	g.Expect(cmd.ID).NotTo(BeEmpty())

	builder.Publish(&block.Command{Outputs: second.Outputs}, &block.Response{Outcome: block.OutcomeSuccess, Values: []uint64{9}})
	value, ok := builder.ResolveInput(cmd.Inputs[1])
	g.Expect(ok).To(BeTrue())
	g.Expect(value).To(Equal(uint64(9)))
}

func TestDecoupledBlocksStallUntilResolved(t *testing.T) {
	g := NewWithT(t)
	builder, store := newBuilder()

	producer := &block.Descriptor{
		Type:       block.TypeTMA,
		SubOp:      block.SubOpTLoad,
		LiveIn:     []block.Reg{1},
		TileOut:    []block.TileOut{{Hand: block.HandT, Size: 4}},
		Dims:       []uint32{1, 4},
		Terminated: true,
	}
	produced := builder.Reserve(1, producer, rename.Resolved{Out: []int{8}})

	consumer := &block.Descriptor{
		Type:       block.TypeTAU,
		SubOp:      block.SubOpTRelu,
		TileIn:     []block.TileRef{{Hand: block.HandT, Depth: 1}},
		TileOut:    []block.TileOut{{Hand: block.HandU, Size: 4}},
		BodyOffset: 0x40,
		Terminated: true,
	}
	pending := builder.Reserve(2, consumer, rename.Resolved{In: []int{8}, Out: []int{9}})

	_, err := builder.Build(pending)
	g.Expect(err).To(MatchError(block.ErrStall))
	g.Expect(IsStall(err)).To(BeTrue())

	cmd, err := builder.Build(produced)
	g.Expect(err).NotTo(HaveOccurred())
	builder.Publish(cmd, &block.Response{
		Outcome: block.OutcomeSuccess,
		Tiles:   [][]byte{{1, 0, 0, 0}},
	})
	_, ok := store.TileData(8)
	g.Expect(ok).To(BeTrue())

	cmd, err = builder.Build(pending)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cmd.TilesIn[0].Data).To(Equal([]byte{1, 0, 0, 0}))
	g.Expect(cmd.BodyPC).To(Equal(consumer.PC + 0x40))
	g.Expect(cmd.TilesOut).To(Equal([]block.TileOutput{{Hand: block.HandU, Slot: 9, Size: 4}}))
}

func TestBuildRejectsHandReadBeforeWrite(t *testing.T) {
	g := NewWithT(t)
	builder, _ := newBuilder()

	desc := &block.Descriptor{
		Type:       block.TypeScalar,
		LiveOut:    []block.Reg{1},
		Body:       []block.MicroOp{block.Op(block.OpMov, block.R(1), block.H(0))},
		Terminated: true,
	}
	_, err := builder.Build(builder.Reserve(1, desc, rename.Resolved{}))
	g.Expect(err).To(MatchError(block.ErrDataHazard))
	g.Expect(builder.Stats().Hazards).To(Equal(uint64(1)))
}

func TestRetiredProducerFallsBackToCommittedValue(t *testing.T) {
	g := NewWithT(t)
	builder, store := newBuilder()

	producer := &block.Descriptor{Type: block.TypeScalar, LiveOut: []block.Reg{3}, Terminated: true}
	builder.Reserve(1, producer, rename.Resolved{})
	consumer := builder.Reserve(2, &block.Descriptor{Type: block.TypeScalar, LiveIn: []block.Reg{3}, Terminated: true}, rename.Resolved{})

	store.Commit(state.Results{Regs: []state.RegWrite{{Reg: 3, Value: 44}}})
	builder.Retire(1)

	value, ok := builder.ResolveInput(consumer.Inputs[0])
	g.Expect(ok).To(BeTrue())
	g.Expect(value).To(Equal(uint64(44)))
	g.Expect(builder.Tags().Producer(3)).To(Equal(block.Tag(0)))
}

func TestRollbackRestoresProducers(t *testing.T) {
	g := NewWithT(t)
	builder, _ := newBuilder()

	desc := &block.Descriptor{Type: block.TypeScalar, LiveOut: []block.Reg{4}, Terminated: true}
	first := builder.Reserve(1, desc, rename.Resolved{})
	builder.Reserve(2, desc, rename.Resolved{})
	builder.Reserve(3, desc, rename.Resolved{})

	builder.Rollback(2)
	g.Expect(builder.Tags().Producer(4)).To(Equal(first.Outputs[0].Tag))
	g.Expect(builder.Tags().Live()).To(Equal(1))

	builder.Rollback(2)
	g.Expect(builder.Tags().Live()).To(Equal(1))

	builder.Retire(1)
	g.Expect(builder.Tags().Producer(4)).To(Equal(block.Tag(0)))
}
