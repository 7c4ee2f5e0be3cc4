// Package rename maps SSA-relative tile references onto physical tile slots.
//
// The unit keeps a speculative copy of the tile rings that runs ahead of the
// committed rings in the state store. Every block snapshots the speculative
// rings before renaming so a flush can restore them. A slot returns to the free
// list only after it falls off a committed ring, and at that point no younger
// speculative view can still reach it.
package rename

import (
	"fmt"

	"bccsim/src/simulator/bcc/block"

	"golang.org/x/exp/slices"
)

// Resolved is the physical mapping of one block's tile operands.
type Resolved struct {
	In  []int
	Out []int
}

type Unit struct {
	depth       int
	spec        [][]int
	free        []int
	order       []uint64
	allocs      map[uint64][]int
	checkpoints map[uint64][][]int
	renamed     uint64
	exhausted   uint64
}

// New builds a rename unit from the committed rings and the physical pool
// size. Slots not pinned by a committed ring start out free.
func New(rings [][]int, physTiles int) *Unit {
	u := &Unit{
		spec:        cloneRings(rings),
		free:        make([]int, 0, physTiles),
		order:       make([]uint64, 0),
		allocs:      make(map[uint64][]int),
		checkpoints: make(map[uint64][][]int),
	}
	if len(rings) > 0 {
		u.depth = len(rings[0])
	}

	pinned := make(map[int]bool)
	for _, ring := range rings {
		for _, slot := range ring {
			pinned[slot] = true
		}
	}
	for slot := 0; slot < physTiles; slot++ {
		if !pinned[slot] {
			u.free = append(u.free, slot)
		}
	}
	return u
}

func cloneRings(rings [][]int) [][]int {
	clone := make([][]int, len(rings))
	for h := range rings {
		clone[h] = slices.Clone(rings[h])
	}
	return clone
}

// Rename resolves desc's tile inputs against the speculative rings and
// allocates fresh slots for its outputs. It is all-or-nothing: when the pool
// cannot cover every output nothing changes and ErrRenameExhausted is
// returned.
func (u *Unit) Rename(seq uint64, desc *block.Descriptor) (Resolved, error) {
	if len(u.order) > 0 && seq <= u.order[len(u.order)-1] {
		panic(fmt.Sprintf("rename out of program order: %d after %d", seq, u.order[len(u.order)-1]))
	}
	if len(desc.TileOut) > len(u.free) {
		u.exhausted++
		return Resolved{}, fmt.Errorf("%w: %s needs %d slots, %d free",
			block.ErrRenameExhausted, desc, len(desc.TileOut), len(u.free))
	}

	resolved := Resolved{
		In:  make([]int, len(desc.TileIn)),
		Out: make([]int, len(desc.TileOut)),
	}
	for i, ref := range desc.TileIn {
		if int(ref.Hand) >= len(u.spec) || ref.Depth == 0 || int(ref.Depth) > u.depth {
			return Resolved{}, fmt.Errorf("%w: tile input %s", block.ErrIllegalBlock, ref)
		}
		resolved.In[i] = u.spec[ref.Hand][ref.Depth-1]
	}
	for _, out := range desc.TileOut {
		if int(out.Hand) >= len(u.spec) {
			return Resolved{}, fmt.Errorf("%w: tile output hand %s", block.ErrIllegalBlock, out.Hand)
		}
	}

	u.checkpoints[seq] = cloneRings(u.spec)
	for i, out := range desc.TileOut {
		slot := u.free[0]
		u.free = u.free[1:]
		resolved.Out[i] = slot

		ring := u.spec[out.Hand]
		copy(ring[1:], ring[:len(ring)-1])
		ring[0] = slot
	}

	for _, slot := range resolved.Out {
		if slices.Contains(resolved.In, slot) {
			panic(fmt.Sprintf("tile slot %d renamed as both input and output of %s", slot, desc))
		}
	}

	u.allocs[seq] = slices.Clone(resolved.Out)
	u.order = append(u.order, seq)
	u.renamed++
	return resolved, nil
}

// Release returns slots that fell off the committed rings.
func (u *Unit) Release(slots []int) {
	u.free = append(u.free, slots...)
}

// Retire drops the bookkeeping of a block that committed. Its output slots
// now live on the committed rings.
func (u *Unit) Retire(seq uint64) {
	index := slices.Index(u.order, seq)
	if index < 0 {
		return
	}
	if index != 0 {
		panic(fmt.Sprintf("rename retire out of order: %d is not the oldest", seq))
	}

	u.order = u.order[1:]
	delete(u.allocs, seq)
	delete(u.checkpoints, seq)
}

// Flush discards the mapping of fromSeq and every younger block, restoring
// the speculative rings as they were before fromSeq renamed. Flushing an
// already flushed range is a no-op.
func (u *Unit) Flush(fromSeq uint64) {
	index := len(u.order)
	for i, seq := range u.order {
		if seq >= fromSeq {
			index = i
			break
		}
	}
	if index == len(u.order) {
		return
	}

	u.spec = u.checkpoints[u.order[index]]
	for _, seq := range u.order[index:] {
		u.free = append(u.free, u.allocs[seq]...)
		delete(u.allocs, seq)
		delete(u.checkpoints, seq)
	}
	u.order = u.order[:index]
}

func (u *Unit) FreeSlots() int {
	return len(u.free)
}

func (u *Unit) InFlight() int {
	return len(u.order)
}

// Rings returns a copy of the speculative rings.
func (u *Unit) Rings() [][]int {
	return cloneRings(u.spec)
}

type Stats struct {
	Renamed   uint64
	Exhausted uint64
	Free      int
}

func (u *Unit) Stats() Stats {
	return Stats{Renamed: u.renamed, Exhausted: u.exhausted, Free: len(u.free)}
}
