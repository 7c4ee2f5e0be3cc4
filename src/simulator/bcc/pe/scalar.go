package pe

import (
	"context"
	"encoding/binary"

	"bccsim/src/simulator/bcc/block"
	"bccsim/src/simulator/bcc/memory"
	"bccsim/src/simulator/bcc/state"
)

// ScalarUnit runs standard scalar blocks and template blocks.
type ScalarUnit struct{}

func NewScalarUnit() *ScalarUnit {
	return new(ScalarUnit)
}

func (u *ScalarUnit) Kind() block.PEKind {
	return block.PEScalar
}

func (u *ScalarUnit) Execute(ctx context.Context, cmd *block.Command, ops Operands, port memory.Port) *block.Response {
	if cmd.Type == block.TypeTemplate {
		return runTemplate(ctx, cmd, ops, port)
	}

	ex := &scalarExec{
		cmd:   cmd,
		ops:   ops,
		port:  port,
		regs:  make(map[block.Reg]uint64, len(cmd.Inputs)),
		local: state.NewScalarLocal(),
		tiles: make([][]byte, len(cmd.TilesOut)),
	}
	for i, in := range cmd.Inputs {
		ex.regs[in.Reg] = ops.Values[i]
	}
	for i, out := range cmd.TilesOut {
		ex.tiles[i] = make([]byte, out.Size)
	}

	for _, micro := range cmd.Body {
		if ctx.Err() != nil {
			return nil
		}
		if fault := ex.step(micro); fault != nil {
			ex.local.Commit = ex.commitArgs(cmd.PC)
			resp := block.Raised(cmd, fault, ex.local.Clone())
			resp.MicroOps = ex.executed
			return resp
		}
		ex.executed++
	}

	nextPC := ex.next()
	ex.local.Commit = ex.commitArgs(nextPC)

	resp := block.Succeeded(cmd, nextPC)
	for i, out := range cmd.Outputs {
		resp.Values[i] = ex.regs[out.Reg]
	}
	resp.Tiles = ex.tiles
	resp.Local = ex.local
	resp.MicroOps = ex.executed
	return resp
}

type scalarExec struct {
	cmd      *block.Command
	ops      Operands
	port     memory.Port
	regs     map[block.Reg]uint64
	local    *state.ScalarLocal
	tiles    [][]byte
	cond     bool
	target   uint64
	jumped   bool
	executed int
}

func (ex *scalarExec) commitArgs(nextPC uint64) state.CommitArgs {
	args := state.CommitArgs{
		BlockType: uint8(ex.cmd.Type),
		PC:        ex.cmd.PC,
		NextPC:    nextPC,
	}
	if ex.cond {
		args.Flags |= state.CommitFlagCond
	}
	return args
}

func (ex *scalarExec) next() uint64 {
	switch ex.cmd.Branch.Kind {
	case block.BranchCond:
		if ex.cond {
			return ex.cmd.Branch.Target
		}
	case block.BranchJump:
		return ex.cmd.Branch.Target
	default:
		if ex.jumped {
			return ex.target
		}
	}
	return ex.cmd.FallThrough
}

func (ex *scalarExec) step(micro block.MicroOp) *block.Fault {
	a, fault := ex.read(micro.Src1)
	if fault != nil {
		return fault
	}
	b, fault := ex.read(micro.Src2)
	if fault != nil {
		return fault
	}
	c, fault := ex.read(micro.Src3)
	if fault != nil {
		return fault
	}

	var value uint64
	switch micro.Op {
	case block.OpNop:
		return nil
	case block.OpLoad:
		addr := a + uint64(micro.Imm)
		if ex.port == nil {
			return block.NewFault(block.CauseUnsupported, addr, "load without a memory port")
		}
		data, err := ex.port.Load(addr, 8)
		if err != nil {
			return block.FaultFromError(err, addr)
		}
		value = binary.LittleEndian.Uint64(data)
	case block.OpStore:
		addr := a + uint64(micro.Imm)
		if ex.port == nil {
			return block.NewFault(block.CauseUnsupported, addr, "store without a memory port")
		}
		if err := ex.port.Store(addr, binary.LittleEndian.AppendUint64(nil, b)); err != nil {
			return block.FaultFromError(err, addr)
		}
		return nil
	case block.OpSetPC:
		ex.target = a
		ex.jumped = true
		return nil
	case block.OpTrap:
		return block.NewFault(block.CauseSoftware, uint64(micro.Imm), "trap in %s", ex.cmd)
	case block.OpSel:
		value = b
		if c != 0 {
			value = a
		}
	case block.OpRedSum:
		value = a + b
	default:
		var err error
		value, err = alu(micro.Op, a, b)
		if err != nil {
			return block.NewFault(block.CauseUnsupported, ex.cmd.PC, "%v", err)
		}
		if micro.Op.IsCompare() {
			ex.cond = value != 0
		}
	}

	return ex.write(micro.Dst, value)
}

func (ex *scalarExec) read(operand block.Operand) (uint64, *block.Fault) {
	switch operand.Kind {
	case block.OperandReg:
		return ex.regs[block.Reg(operand.Index)], nil
	case block.OperandImm:
		return uint64(operand.Value), nil
	case block.OperandArg:
		return uint64(ex.cmd.Arg), nil
	case block.OperandHand:
		hand := ex.local.Hand(int(operand.Index))
		if hand == nil {
			return 0, block.NewFault(block.CauseIllegalBlock, ex.cmd.PC, "scalar hand %d", operand.Index)
		}
		value, err := hand.Pop()
		if err != nil {
			return 0, block.FaultFromError(err, ex.cmd.PC)
		}
		return value, nil
	case block.OperandTileIn:
		return ex.loadTile(ex.ops.Tiles, operand)
	case block.OperandTileOut:
		return ex.loadTile(ex.tiles, operand)
	default:
		return 0, nil
	}
}

func (ex *scalarExec) loadTile(tiles [][]byte, operand block.Operand) (uint64, *block.Fault) {
	tile := tiles[operand.Index]
	if operand.Value < 0 || operand.Value+8 > int64(len(tile)) {
		return 0, block.NewFault(block.CauseTileShape, ex.cmd.PC, "8-byte access at %d of a %d-byte tile", operand.Value, len(tile))
	}
	return binary.LittleEndian.Uint64(tile[operand.Value:]), nil
}

func (ex *scalarExec) write(operand block.Operand, value uint64) *block.Fault {
	switch operand.Kind {
	case block.OperandReg:
		ex.regs[block.Reg(operand.Index)] = value
	case block.OperandHand:
		hand := ex.local.Hand(int(operand.Index))
		if hand == nil {
			return block.NewFault(block.CauseIllegalBlock, ex.cmd.PC, "scalar hand %d", operand.Index)
		}
		if err := hand.Push(value); err != nil {
			return block.FaultFromError(err, ex.cmd.PC)
		}
	case block.OperandTileOut:
		tile := ex.tiles[operand.Index]
		if operand.Value < 0 || operand.Value+8 > int64(len(tile)) {
			return block.NewFault(block.CauseTileShape, ex.cmd.PC, "8-byte access at %d of a %d-byte tile", operand.Value, len(tile))
		}
		binary.LittleEndian.PutUint64(tile[operand.Value:], value)
	}
	return nil
}
