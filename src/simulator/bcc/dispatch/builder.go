// Package dispatch turns renamed block descriptors into PE commands.
package dispatch

import (
	"errors"
	"fmt"

	"bccsim/src/simulator/bcc/block"
	"bccsim/src/simulator/bcc/rename"
	"bccsim/src/simulator/bcc/state"

	"github.com/rs/xid"
)

// Pending is a block whose operands have been bound to producers but whose
// command has not been emitted yet.
type Pending struct {
	Seq     uint64
	Desc    *block.Descriptor
	Inputs  []block.Input
	Outputs []block.Output
	Tiles   rename.Resolved
	Restore state.Local
}

type Stats struct {
	Reserved uint64
	Built    uint64
	Stalls   uint64
	Hazards  uint64
}

type Builder struct {
	store *state.Store
	tags  *TagTable
	stats Stats
}

func NewBuilder(store *state.Store) *Builder {
	return &Builder{
		store: store,
		tags:  NewTagTable(store.Config().NumGPRs),
	}
}

func (b *Builder) Tags() *TagTable {
	return b.tags
}

// Reserve binds desc's live-ins to their youngest producers, allocates tags
// for its live-outs and marks its renamed output slots as pending. Must be
// called in program order.
func (b *Builder) Reserve(seq uint64, desc *block.Descriptor, tiles rename.Resolved) *Pending {
	pending := &Pending{
		Seq:    seq,
		Desc:   desc,
		Inputs: make([]block.Input, len(desc.LiveIn)),
		Tiles:  tiles,
	}

	for i, reg := range desc.LiveIn {
		in := block.Input{Reg: reg, Tag: b.tags.Producer(reg)}
		if in.Tag == 0 {
			in.Value, _ = b.store.ReadGPR(uint8(reg))
			in.Ready = true
		} else {
			value, ready, _ := b.tags.Lookup(in.Tag)
			in.Value, in.Ready = value, ready
		}
		pending.Inputs[i] = in
	}

	tags := b.tags.Allocate(seq, desc.LiveOut)
	pending.Outputs = make([]block.Output, len(desc.LiveOut))
	for i, reg := range desc.LiveOut {
		pending.Outputs[i] = block.Output{Reg: reg, Tag: tags[i]}
	}

	for _, slot := range tiles.Out {
		b.store.ResetTile(slot)
	}

	b.stats.Reserved++
	return pending
}

// ResolveInput returns the value of a register operand if its producer has
// completed or retired.
func (b *Builder) ResolveInput(in block.Input) (uint64, bool) {
	if in.Ready {
		return in.Value, true
	}
	value, ready, live := b.tags.Lookup(in.Tag)
	if !live {
		value, _ = b.store.ReadGPR(uint8(in.Reg))
		return value, true
	}
	return value, ready
}

// ResolveTile returns the data of an input tile once its producer filled
// the slot.
func (b *Builder) ResolveTile(in block.TileInput) ([]byte, bool) {
	if in.Ready {
		return in.Data, true
	}
	return b.store.TileData(in.Slot)
}

// Build emits the command for p. Decoupled blocks are only emitted with
// every operand resolved and fail with ErrStall otherwise; scalar blocks are
// emitted right away and resolve their operands lazily at the PE. A body
// that reads a hand before writing it fails with ErrDataHazard.
func (b *Builder) Build(p *Pending) (*block.Command, error) {
	desc := p.Desc

	if err := desc.CheckHands(); err != nil {
		b.stats.Hazards++
		return nil, err
	}

	for i := range p.Inputs {
		if !p.Inputs[i].Ready {
			p.Inputs[i].Value, p.Inputs[i].Ready = b.ResolveInput(p.Inputs[i])
		}
	}

	tilesIn := make([]block.TileInput, len(p.Tiles.In))
	for i, slot := range p.Tiles.In {
		data, ready := b.store.TileData(slot)
		tilesIn[i] = block.TileInput{Ref: desc.TileIn[i], Slot: slot, Ready: ready, Data: data}
	}

	cmd := &block.Command{
		ID:            xid.New().String(),
		Seq:           p.Seq,
		PC:            desc.PC,
		Type:          desc.Type,
		SubOp:         desc.SubOp,
		Attrs:         desc.Attrs,
		Arg:           desc.Arg,
		Inputs:        append([]block.Input(nil), p.Inputs...),
		Outputs:       p.Outputs,
		TilesIn:       tilesIn,
		TilesOut:      make([]block.TileOutput, len(p.Tiles.Out)),
		Dims:          desc.Dims,
		BodyPC:        desc.PC,
		Body:          desc.Body,
		Branch:        desc.Branch,
		FallThrough:   desc.FallThrough(),
		TouchesMemory: desc.TouchesMemory(),
		Restore:       p.Restore,
	}
	for i, slot := range p.Tiles.Out {
		out := desc.TileOut[i]
		cmd.TilesOut[i] = block.TileOutput{Hand: out.Hand, Slot: slot, Size: out.Size}
	}

	if desc.Type.Decoupled() {
		if !cmd.Resolved() {
			b.stats.Stalls++
			return nil, fmt.Errorf("%w: %s", block.ErrStall, desc)
		}
		cmd.BodyPC = uint64(int64(desc.PC) + desc.BodyOffset)
	}

	switch desc.Type {
	case block.TypeVector:
		cmd.Loop = block.Loop{Lanes: desc.Dim(0, 1), Iterations: desc.Dim(1, 1)}
	case block.TypeCube:
		cmd.Shape = block.Shape{M: desc.Dims[0], N: desc.Dims[1], K: desc.Dims[2]}
	}

	b.stats.Built++
	return cmd, nil
}

// Publish exposes a successful completion to younger consumers.
func (b *Builder) Publish(cmd *block.Command, resp *block.Response) {
	if resp.Outcome != block.OutcomeSuccess {
		return
	}
	for i, out := range cmd.Outputs {
		b.tags.Publish(out.Tag, resp.Values[i])
	}
	for i, tile := range cmd.TilesOut {
		b.store.FillTile(tile.Slot, resp.Tiles[i])
	}
}

func (b *Builder) Retire(seq uint64) {
	b.tags.Retire(seq)
}

func (b *Builder) Rollback(fromSeq uint64) {
	b.tags.Rollback(fromSeq)
}

func (b *Builder) Stats() Stats {
	return b.stats
}

// IsStall reports whether err only means "try again later".
func IsStall(err error) bool {
	return errors.Is(err, block.ErrStall)
}
