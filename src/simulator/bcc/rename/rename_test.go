package rename

import (
	"testing"

	"bccsim/src/simulator/bcc/block"

	. "github.com/onsi/gomega"
)

func producer(hand block.Hand, outs int) *block.Descriptor {
	desc := &block.Descriptor{Type: block.TypeVector, Terminated: true}
	for i := 0; i < outs; i++ {
		desc.TileOut = append(desc.TileOut, block.TileOut{Hand: hand, Size: 16})
	}
	return desc
}

func TestRenameResolvesAgainstSpeculativeRings(t *testing.T) {
	g := NewWithT(t)

	unit := New([][]int{{0, 1}, {2, 3}}, 6)
	g.Expect(unit.FreeSlots()).To(Equal(2))

	first, err := unit.Rename(1, producer(block.HandT, 1))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(first.Out).To(Equal([]int{4}))

	consumer := &block.Descriptor{
		Type:       block.TypeCube,
		Terminated: true,
		TileIn:     []block.TileRef{{Hand: block.HandT, Depth: 1}, {Hand: block.HandT, Depth: 2}},
		TileOut:    []block.TileOut{{Hand: block.HandU, Size: 16}},
	}
	second, err := unit.Rename(2, consumer)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(second.In).To(Equal([]int{4, 0}))
	g.Expect(second.Out).To(Equal([]int{5}))
	g.Expect(unit.Rings()).To(Equal([][]int{{4, 0}, {5, 2}}))
}

func TestRenameExhaustionIsAllOrNothing(t *testing.T) {
	g := NewWithT(t)

	unit := New([][]int{{0, 1}, {2, 3}}, 6)
	_, err := unit.Rename(1, producer(block.HandT, 1))
	g.Expect(err).NotTo(HaveOccurred())

	before := unit.Rings()
	_, err = unit.Rename(2, producer(block.HandU, 2))
	g.Expect(err).To(MatchError(block.ErrRenameExhausted))
	g.Expect(unit.Rings()).To(Equal(before))
	g.Expect(unit.FreeSlots()).To(Equal(1))
	g.Expect(unit.InFlight()).To(Equal(1))

	// N free slots serve N single-output producers, the N+1th stalls
	_, err = unit.Rename(3, producer(block.HandU, 1))
	g.Expect(err).NotTo(HaveOccurred())
	_, err = unit.Rename(4, producer(block.HandU, 1))
	g.Expect(err).To(MatchError(block.ErrRenameExhausted))
	g.Expect(unit.Stats().Exhausted).To(Equal(uint64(2)))
}

func TestFlushRestoresCheckpointAndIsIdempotent(t *testing.T) {
	g := NewWithT(t)

	unit := New([][]int{{0, 1}, {2, 3}}, 8)
	_, err := unit.Rename(1, producer(block.HandT, 1))
	g.Expect(err).NotTo(HaveOccurred())
	afterFirst := unit.Rings()

	_, err = unit.Rename(2, producer(block.HandT, 1))
	g.Expect(err).NotTo(HaveOccurred())
	_, err = unit.Rename(3, producer(block.HandU, 2))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(unit.FreeSlots()).To(Equal(0))

	unit.Flush(2)
	g.Expect(unit.Rings()).To(Equal(afterFirst))
	g.Expect(unit.FreeSlots()).To(Equal(3))
	g.Expect(unit.InFlight()).To(Equal(1))

	unit.Flush(2)
	g.Expect(unit.Rings()).To(Equal(afterFirst))
	g.Expect(unit.FreeSlots()).To(Equal(3))
}

func TestRetireAndRelease(t *testing.T) {
	g := NewWithT(t)

	unit := New([][]int{{0, 1}}, 3)
	resolved, err := unit.Rename(1, producer(block.HandT, 1))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(resolved.Out).To(Equal([]int{2}))
	g.Expect(unit.FreeSlots()).To(Equal(0))

	// committing slot 2 pushes slot 1 off the committed ring
	unit.Retire(1)
	unit.Release([]int{1})
	g.Expect(unit.FreeSlots()).To(Equal(1))
	g.Expect(unit.InFlight()).To(Equal(0))

	// retiring an unknown sequence number is ignored
	unit.Retire(7)

	resolved, err = unit.Rename(2, producer(block.HandT, 1))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(resolved.Out).To(Equal([]int{1}))
}
