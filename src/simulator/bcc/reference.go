package bcc

import (
	"context"
	"fmt"

	"bccsim/src/simulator/bcc/block"
	"bccsim/src/simulator/bcc/memory"
	"bccsim/src/simulator/bcc/pe"
	"bccsim/src/simulator/bcc/program"
	"bccsim/src/simulator/bcc/state"

	"github.com/rs/xid"
)

// Reference executes a program one block at a time with no speculation,
// renaming or reordering. The core must end in the same architectural state.
type Reference struct {
	config  *Config
	program *program.Program
	store   *state.Store
	mou     *memory.Unit
	units   map[block.PEKind]pe.Unit
	free    []int

	pc     uint64
	seq    uint64
	trap   *block.TrapError
	blocks uint64
}

func NewReference(config *Config, p *program.Program) (*Reference, error) {
	config.Validate()
	if err := p.Index(); err != nil {
		return nil, err
	}

	ref := &Reference{
		config:  config,
		program: p,
		store:   state.NewStore(config.StateConfig()),
		mou:     memory.NewUnit(memory.NewMemory(config.MemoryBytes)),
		units:   make(map[block.PEKind]pe.Unit),
		free:    make([]int, 0),
		pc:      p.Entry,
	}
	for _, unit := range pe.DefaultUnits(config.LatencyConfig()) {
		ref.units[unit.Kind()] = unit
	}

	arch := make(map[int]bool)
	for _, ring := range ref.store.ArchRings() {
		for _, slot := range ring {
			arch[slot] = true
		}
	}
	for slot := 0; slot < config.PhysTiles; slot++ {
		if !arch[slot] {
			ref.free = append(ref.free, slot)
		}
	}

	for _, preset := range p.Registers {
		if err := ref.store.PresetGPR(uint8(preset.Reg), preset.Value); err != nil {
			return nil, fmt.Errorf("program %s: %w", p.Name, err)
		}
	}
	for _, preset := range p.SSRs {
		ref.store.PresetSSR(preset.ID, preset.Value)
	}
	for _, segment := range p.Memory {
		if err := ref.mou.Write(segment.Addr, segment.Bytes()); err != nil {
			return nil, fmt.Errorf("program %s: preload 0x%x: %w", p.Name, segment.Addr, err)
		}
	}
	return ref, nil
}

func (r *Reference) Store() *state.Store {
	return r.store
}

func (r *Reference) Memory() *memory.Unit {
	return r.mou
}

func (r *Reference) Blocks() uint64 {
	return r.blocks
}

func (r *Reference) Snapshot() state.GState {
	return r.store.Snapshot()
}

func (r *Reference) IsFinished() bool {
	return r.trap != nil || r.pc == r.program.Exit
}

// Run steps until the program exits or traps. MaxCycles bounds the number of
// blocks executed.
func (r *Reference) Run() error {
	for !r.IsFinished() {
		if r.config.MaxCycles > 0 && r.blocks >= r.config.MaxCycles {
			return fmt.Errorf("%w: %d blocks at pc 0x%x", ErrCycleLimit, r.blocks, r.pc)
		}
		r.Step()
	}
	if r.trap != nil {
		return r.trap
	}
	return nil
}

// Step executes the block at the current PC to completion.
func (r *Reference) Step() {
	r.seq++
	seq, pc := r.seq, r.pc

	desc, ok := r.program.Lookup(pc)
	if !ok {
		r.raise(seq, pc, block.NewFault(block.CauseIllegalControlTarget, pc, "no block starts here"))
		return
	}
	if err := desc.Validate(r.config.Limits()); err != nil {
		r.raise(seq, pc, block.FaultFromError(err, pc))
		return
	}
	if err := desc.CheckHands(); err != nil {
		r.raise(seq, pc, block.FaultFromError(err, pc))
		return
	}
	if len(desc.TileOut) > len(r.free) {
		r.raise(seq, pc, block.FaultFromError(block.ErrRenameExhausted, pc))
		return
	}

	cmd, ops, err := r.command(seq, desc)
	if err != nil {
		r.raise(seq, pc, block.FaultFromError(err, pc))
		return
	}
	unit, ok := r.units[cmd.PE()]
	if !ok {
		r.raise(seq, pc, block.NewFault(block.CauseUnsupported, pc, "no %s unit", cmd.PE()))
		return
	}

	var port memory.Port
	if cmd.TouchesMemory {
		source := memory.SourceScalar
		if desc.Type == block.TypeTMA {
			source = memory.SourceBridge
		}
		r.mou.Register(seq, source, false)
		port = r.mou.Port(seq)
	}
	resp := unit.Execute(context.Background(), cmd, ops, port)
	r.mou.Complete(seq)
	r.blocks++

	switch resp.Outcome {
	case block.OutcomeSuccess:
		if !r.program.IsBoundary(resp.NextPC) {
			r.mou.Discard(seq)
			r.release(cmd)
			r.raise(seq, pc, block.NewFault(block.CauseIllegalControlTarget, resp.NextPC, "%s continues into 0x%x", desc, resp.NextPC))
			return
		}
		if err := r.mou.Commit(seq); err != nil {
			panic(err)
		}
		results := state.Results{Seq: seq}
		for i, out := range cmd.Outputs {
			results.Regs = append(results.Regs, state.RegWrite{Reg: uint8(out.Reg), Value: resp.Values[i]})
		}
		for i, out := range cmd.TilesOut {
			r.store.FillTile(out.Slot, resp.Tiles[i])
			results.Tiles = append(results.Tiles, state.TilePush{Hand: int(out.Hand), Slot: out.Slot})
		}
		r.free = append(r.free, r.store.Commit(results)...)
		r.pc = resp.NextPC
	case block.OutcomeFail:
		r.mou.Discard(seq)
		r.release(cmd)
		if !r.program.IsBoundary(resp.NextPC) {
			r.raise(seq, pc, block.NewFault(block.CauseIllegalControlTarget, resp.NextPC, "%s continues into 0x%x", desc, resp.NextPC))
			return
		}
		r.pc = resp.NextPC
	default:
		if resp.Restartable {
			if err := r.mou.Commit(seq); err != nil {
				panic(err)
			}
		} else {
			r.mou.Discard(seq)
		}
		r.release(cmd)
		r.raise(seq, pc, resp.Fault)
	}
}

func (r *Reference) command(seq uint64, desc *block.Descriptor) (*block.Command, pe.Operands, error) {
	cmd := &block.Command{
		ID:            xid.New().String(),
		Seq:           seq,
		PC:            desc.PC,
		Type:          desc.Type,
		SubOp:         desc.SubOp,
		Attrs:         desc.Attrs,
		Arg:           desc.Arg,
		Inputs:        make([]block.Input, len(desc.LiveIn)),
		Outputs:       make([]block.Output, len(desc.LiveOut)),
		TilesIn:       make([]block.TileInput, len(desc.TileIn)),
		TilesOut:      make([]block.TileOutput, len(desc.TileOut)),
		Dims:          desc.Dims,
		BodyPC:        desc.PC,
		Body:          desc.Body,
		Branch:        desc.Branch,
		FallThrough:   desc.FallThrough(),
		TouchesMemory: desc.TouchesMemory(),
	}
	ops := pe.Operands{
		Values: make([]uint64, len(desc.LiveIn)),
		Tiles:  make([][]byte, len(desc.TileIn)),
	}

	for i, reg := range desc.LiveIn {
		value, err := r.store.ReadGPR(uint8(reg))
		if err != nil {
			return nil, ops, err
		}
		cmd.Inputs[i] = block.Input{Reg: reg, Ready: true, Value: value}
		ops.Values[i] = value
	}
	for i, reg := range desc.LiveOut {
		cmd.Outputs[i] = block.Output{Reg: reg}
	}
	for i, ref := range desc.TileIn {
		slot, err := r.store.ArchSlot(int(ref.Hand), int(ref.Depth))
		if err != nil {
			return nil, ops, err
		}
		data, _ := r.store.TileData(slot)
		cmd.TilesIn[i] = block.TileInput{Ref: ref, Slot: slot, Ready: true, Data: data}
		ops.Tiles[i] = data
	}
	for i, out := range desc.TileOut {
		slot := r.free[0]
		r.free = r.free[1:]
		r.store.ResetTile(slot)
		cmd.TilesOut[i] = block.TileOutput{Hand: out.Hand, Slot: slot, Size: out.Size}
	}

	if desc.Type.Decoupled() {
		cmd.BodyPC = uint64(int64(desc.PC) + desc.BodyOffset)
	}
	switch desc.Type {
	case block.TypeVector:
		cmd.Loop = block.Loop{Lanes: desc.Dim(0, 1), Iterations: desc.Dim(1, 1)}
	case block.TypeCube:
		cmd.Shape = block.Shape{M: desc.Dims[0], N: desc.Dims[1], K: desc.Dims[2]}
	}
	return cmd, ops, nil
}

func (r *Reference) release(cmd *block.Command) {
	for _, out := range cmd.TilesOut {
		r.free = append(r.free, out.Slot)
	}
}

func (r *Reference) raise(seq, pc uint64, fault *block.Fault) {
	r.trap = &block.TrapError{Seq: seq, PC: pc, Fault: fault}
	r.store.Commit(state.Results{
		Seq: seq,
		SSRs: []state.SSRWrite{
			{ID: block.SSRECState, Value: uint64(fault.Cause)},
			{ID: block.SSREBPC, Value: pc},
			{ID: block.SSREBArg, Value: fault.Addr},
		},
	})
}
