package pe

import (
	"context"
	"encoding/binary"
	"testing"

	"bccsim/src/simulator/bcc/block"
	"bccsim/src/simulator/bcc/memory"
	"bccsim/src/simulator/bcc/state"

	. "github.com/onsi/gomega"
)

// readyResolver resolves only operands that were ready at build time.
type readyResolver struct{}

func (readyResolver) ResolveInput(in block.Input) (uint64, bool) {
	return in.Value, in.Ready
}

func (readyResolver) ResolveTile(in block.TileInput) ([]byte, bool) {
	return in.Data, in.Ready
}

func ready(reg block.Reg, value uint64) block.Input {
	return block.Input{Reg: reg, Ready: true, Value: value}
}

func int32Tile(values ...int32) []byte {
	tile := make([]byte, len(values)*4)
	for i, v := range values {
		putInt32(tile, i, v)
	}
	return tile
}

func newTestRouter(t *testing.T, config Config, gate Gate) *Router {
	if gate == nil {
		gate = memory.NewUnit(memory.NewMemory(1 << 16))
	}
	r := NewRouter(context.Background(), config, DefaultUnits(config.Latency), readyResolver{}, gate)
	t.Cleanup(r.Fini)
	return r
}

// drain ticks until the router is idle and returns every response in the
// order it was handed back.
func drain(g *WithT, r *Router) []*block.Response {
	responses := make([]*block.Response, 0)
	for i := 0; i < 1000 && !r.Idle(); i++ {
		responses = append(responses, r.Tick()...)
	}
	g.Expect(r.Idle()).To(BeTrue())
	return responses
}

func addCommand(seq uint64) *block.Command {
	return &block.Command{
		Seq:         seq,
		PC:          0x100 * seq,
		Type:        block.TypeScalar,
		Inputs:      []block.Input{ready(1, 40), ready(2, 2)},
		Outputs:     []block.Output{{Reg: 3}},
		Body:        []block.MicroOp{block.Op(block.OpAdd, block.R(3), block.R(1), block.R(2))},
		FallThrough: 0x100*seq + 4,
	}
}

func TestScalarCommandCompletes(t *testing.T) {
	g := NewWithT(t)
	r := newTestRouter(t, DefaultConfig(), nil)

	future, err := r.Dispatch(addCommand(1))
	g.Expect(err).NotTo(HaveOccurred())

	responses := drain(g, r)
	g.Expect(responses).To(HaveLen(1))
	g.Expect(responses[0].Outcome).To(Equal(block.OutcomeSuccess))
	g.Expect(responses[0].Values).To(Equal([]uint64{42}))
	g.Expect(responses[0].NextPC).To(Equal(uint64(0x104)))

	resp, err := future.Wait(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(resp).To(BeIdenticalTo(responses[0]))
}

func TestFullStationRefusesCommand(t *testing.T) {
	g := NewWithT(t)
	config := DefaultConfig()
	config.Stations[block.PEScalar] = StationConfig{Capacity: 1, Parallelism: 1}
	r := newTestRouter(t, config, nil)

	_, err := r.Dispatch(addCommand(1))
	g.Expect(err).NotTo(HaveOccurred())
	_, err = r.Dispatch(addCommand(2))
	g.Expect(err).To(MatchError(block.ErrResourceBusy))
	g.Expect(r.Stats()[block.PEScalar].Busy).To(Equal(uint64(1)))

	drain(g, r)
	_, err = r.Dispatch(addCommand(2))
	g.Expect(err).NotTo(HaveOccurred())
}

func TestShortCommandsOvertakeLongOnes(t *testing.T) {
	g := NewWithT(t)
	r := newTestRouter(t, DefaultConfig(), nil)

	cube := &block.Command{
		Seq:      1,
		Type:     block.TypeCube,
		SubOp:    block.SubOpMAMulB,
		TilesIn:  []block.TileInput{{Ready: true, Data: int32Tile(1, 2, 3, 4)}, {Ready: true, Data: int32Tile(5, 6, 7, 8)}},
		TilesOut: []block.TileOutput{{Size: 16}},
		Shape:    block.Shape{M: 2, N: 2, K: 2},
	}
	_, err := r.Dispatch(cube)
	g.Expect(err).NotTo(HaveOccurred())
	_, err = r.Dispatch(addCommand(2))
	g.Expect(err).NotTo(HaveOccurred())

	responses := drain(g, r)
	g.Expect(responses).To(HaveLen(2))
	g.Expect(responses[0].Seq).To(Equal(uint64(2)))
	g.Expect(responses[1].Seq).To(Equal(uint64(1)))

	product := responses[1].Tiles[0]
	g.Expect([]int32{int32At(product, 0), int32At(product, 1), int32At(product, 2), int32At(product, 3)}).
		To(Equal([]int32{19, 22, 43, 50}))
}

func TestSimultaneousCompletionsComeBackInProgramOrder(t *testing.T) {
	g := NewWithT(t)
	r := newTestRouter(t, DefaultConfig(), nil)

	for _, seq := range []uint64{2, 1} {
		_, err := r.Dispatch(addCommand(seq))
		g.Expect(err).NotTo(HaveOccurred())
	}

	responses := drain(g, r)
	g.Expect(responses).To(HaveLen(2))
	g.Expect(responses[0].Seq).To(Equal(uint64(1)))
	g.Expect(responses[1].Seq).To(Equal(uint64(2)))
}

func TestJitterIsReproducible(t *testing.T) {
	g := NewWithT(t)
	order := func() []uint64 {
		config := DefaultConfig()
		config.Latency.Jitter = 16
		config.Latency.Seed = 7
		r := newTestRouter(t, config, nil)
		for seq := uint64(1); seq <= 4; seq++ {
			_, err := r.Dispatch(addCommand(seq))
			g.Expect(err).NotTo(HaveOccurred())
		}
		seqs := make([]uint64, 0)
		for _, resp := range drain(g, r) {
			seqs = append(seqs, resp.Seq)
		}
		return seqs
	}

	first := order()
	g.Expect(first).To(ConsistOf(uint64(1), uint64(2), uint64(3), uint64(4)))
	g.Expect(order()).To(Equal(first))
}

func TestCanceledCommandNeverCompletes(t *testing.T) {
	g := NewWithT(t)
	r := newTestRouter(t, DefaultConfig(), nil)

	queued := addCommand(2)
	running, err := r.Dispatch(addCommand(1))
	g.Expect(err).NotTo(HaveOccurred())
	r.Tick()
	waiting, err := r.Dispatch(queued)
	g.Expect(err).NotTo(HaveOccurred())

	r.Cancel(1)
	r.Cancel(2)
	r.Cancel(2)

	g.Expect(drain(g, r)).To(BeEmpty())
	_, err = running.Wait(context.Background())
	g.Expect(err).To(MatchError(ErrCanceled))
	_, err = waiting.Wait(context.Background())
	g.Expect(err).To(MatchError(ErrCanceled))
	g.Expect(r.Stats()[block.PEScalar].Canceled).To(Equal(uint64(2)))
}

func TestUnresolvedOperandsHoldTheStation(t *testing.T) {
	g := NewWithT(t)
	r := newTestRouter(t, DefaultConfig(), nil)

	cmd := addCommand(1)
	cmd.Inputs[1] = block.Input{Reg: 2, Tag: 9}
	_, err := r.Dispatch(cmd)
	g.Expect(err).NotTo(HaveOccurred())

	for i := 0; i < 10; i++ {
		g.Expect(r.Tick()).To(BeEmpty())
	}
	g.Expect(r.Outstanding()).To(Equal(1))
	r.Cancel(1)
	g.Expect(r.Idle()).To(BeTrue())
}

func TestTMALoadGoesThroughTheGate(t *testing.T) {
	g := NewWithT(t)
	mou := memory.NewUnit(memory.NewMemory(1 << 16))
	g.Expect(mou.Write(0x1000, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})).To(Succeed())
	mou.Register(1, memory.SourceScalar, false)
	mou.Register(2, memory.SourceBridge, false)
	r := newTestRouter(t, DefaultConfig(), mou)

	load := &block.Command{
		Seq:           2,
		Type:          block.TypeTMA,
		SubOp:         block.SubOpTLoad,
		Arg:           4,
		Inputs:        []block.Input{ready(1, 0x1000)},
		TilesOut:      []block.TileOutput{{Size: 8}},
		Dims:          []uint32{2, 4, 8},
		TouchesMemory: true,
	}
	_, err := r.Dispatch(load)
	g.Expect(err).NotTo(HaveOccurred())
	for i := 0; i < 5; i++ {
		g.Expect(r.Tick()).To(BeEmpty())
	}

	mou.Complete(1)
	g.Expect(mou.Commit(1)).To(Succeed())
	responses := drain(g, r)
	g.Expect(responses).To(HaveLen(1))
	g.Expect(responses[0].Tiles[0]).To(Equal([]byte{5, 6, 7, 8, 13, 14, 15, 16}))
	g.Expect(r.Bridge().Occupancy()).To(BeZero())
}

func TestTemplateResumesAfterFault(t *testing.T) {
	g := NewWithT(t)
	mou := memory.NewUnit(memory.NewMemory(0x2000))
	source := make([]byte, 32)
	for i := range source {
		source[i] = byte(i + 1)
	}
	g.Expect(mou.Write(0x100, source)).To(Succeed())
	r := newTestRouter(t, DefaultConfig(), mou)

	copyCmd := func(seq uint64, restore state.Local) *block.Command {
		return &block.Command{
			Seq:           seq,
			PC:            0x40,
			Type:          block.TypeTemplate,
			SubOp:         block.SubOpMCopy,
			Inputs:        []block.Input{ready(1, 0x1FF0), ready(2, 0x100), ready(3, 32)},
			FallThrough:   0x44,
			TouchesMemory: true,
			Restore:       restore,
		}
	}

	mou.Register(1, memory.SourceScalar, false)
	_, err := r.Dispatch(copyCmd(1, nil))
	g.Expect(err).NotTo(HaveOccurred())
	responses := drain(g, r)
	g.Expect(responses).To(HaveLen(1))
	faulted := responses[0]
	g.Expect(faulted.Outcome).To(Equal(block.OutcomeException))
	g.Expect(faulted.Fault.Cause).To(Equal(block.CauseAccessFault))
	g.Expect(faulted.Restartable).To(BeTrue())
	step, done, ok := TemplateProgress(faulted.Local)
	g.Expect(ok).To(BeTrue())
	g.Expect(step).To(Equal(uint32(2)))
	g.Expect(done).To(Equal(uint64(16)))

	mou.Complete(1)
	g.Expect(mou.Commit(1)).To(Succeed())
	mou.SetLimit(0x4000)

	mou.Register(2, memory.SourceScalar, false)
	_, err = r.Dispatch(copyCmd(2, faulted.Local))
	g.Expect(err).NotTo(HaveOccurred())
	responses = drain(g, r)
	g.Expect(responses).To(HaveLen(1))
	g.Expect(responses[0].Outcome).To(Equal(block.OutcomeSuccess))
	g.Expect(responses[0].MicroOps).To(Equal(2))

	mou.Complete(2)
	g.Expect(mou.Commit(2)).To(Succeed())
	copied, err := mou.Read(0x1FF0, 32)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(copied).To(Equal(source))
}

func TestGenericAccelerators(t *testing.T) {
	g := NewWithT(t)
	r := newTestRouter(t, DefaultConfig(), nil)

	popcnt := &block.Command{
		Seq:     1,
		Type:    block.TypeGeneric,
		SubOp:   block.SubOpPopCount,
		Inputs:  []block.Input{ready(1, 0xFF), ready(2, 0x3)},
		Outputs: []block.Output{{Reg: 4}},
	}
	declined := &block.Command{
		Seq:         2,
		Type:        block.TypeGeneric,
		SubOp:       block.SubOpCRC32,
		FallThrough: 0x80,
	}
	unknown := &block.Command{
		Seq:   3,
		Type:  block.TypeGeneric,
		SubOp: block.SubOpTAdd,
	}
	for _, cmd := range []*block.Command{popcnt, declined, unknown} {
		_, err := r.Dispatch(cmd)
		g.Expect(err).NotTo(HaveOccurred())
	}

	bySeq := make(map[uint64]*block.Response)
	for _, resp := range drain(g, r) {
		bySeq[resp.Seq] = resp
	}
	g.Expect(bySeq[1].Values).To(Equal([]uint64{10}))
	g.Expect(bySeq[2].Outcome).To(Equal(block.OutcomeFail))
	g.Expect(bySeq[2].NextPC).To(Equal(uint64(0x80)))
	g.Expect(bySeq[3].Outcome).To(Equal(block.OutcomeException))
	g.Expect(bySeq[3].Fault.Cause).To(Equal(block.CauseUnsupported))
}

func TestScalarBodyEffects(t *testing.T) {
	g := NewWithT(t)
	mou := memory.NewUnit(memory.NewMemory(1 << 16))
	mou.Register(1, memory.SourceScalar, false)
	r := newTestRouter(t, DefaultConfig(), mou)

	cmd := &block.Command{
		Seq:     1,
		PC:      0x200,
		Type:    block.TypeScalar,
		Inputs:  []block.Input{ready(1, 0x800), ready(2, 5)},
		Outputs: []block.Output{{Reg: 3}},
		Body: []block.MicroOp{
			block.Op(block.OpStore, block.Operand{}, block.R(1), block.R(2)),
			block.Op(block.OpMov, block.H(0), block.R(2)),
			block.Op(block.OpAdd, block.R(3), block.H(0), block.Imm(1)),
			block.Op(block.OpCmpLt, block.R(3), block.R(3), block.Imm(10)),
		},
		Branch:        block.Branch{Kind: block.BranchCond, Target: 0x300},
		FallThrough:   0x204,
		TouchesMemory: true,
	}
	_, err := r.Dispatch(cmd)
	g.Expect(err).NotTo(HaveOccurred())

	responses := drain(g, r)
	g.Expect(responses).To(HaveLen(1))
	g.Expect(responses[0].Values).To(Equal([]uint64{1}))
	g.Expect(responses[0].NextPC).To(Equal(uint64(0x300)))
	local := responses[0].Local.(*state.ScalarLocal)
	g.Expect(local.Commit.Flags & state.CommitFlagCond).NotTo(BeZero())

	buffered, err := mou.Port(1).Load(0x800, 8)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(binary.LittleEndian.Uint64(buffered)).To(Equal(uint64(5)))
}
