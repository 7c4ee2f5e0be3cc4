package pe

import (
	"context"
	"encoding/binary"

	"bccsim/src/simulator/bcc/block"
	"bccsim/src/simulator/bcc/memory"
	"bccsim/src/simulator/bcc/state"
)

// VectorUnit runs vector bodies lane-parallel. Tiles are addressed as
// arrays of 32-bit elements: element it*lanes+lane belongs to iteration it.
type VectorUnit struct{}

func NewVectorUnit() *VectorUnit {
	return new(VectorUnit)
}

func (u *VectorUnit) Kind() block.PEKind {
	return block.PEVector
}

func (u *VectorUnit) Execute(ctx context.Context, cmd *block.Command, ops Operands, _ memory.Port) *block.Response {
	lanes := int(cmd.Loop.Lanes)
	if lanes <= 0 {
		lanes = 1
	}
	iterations := int(cmd.Loop.Iterations)
	if iterations <= 0 {
		iterations = 1
	}

	ex := &vectorExec{
		cmd:   cmd,
		ops:   ops,
		lanes: lanes,
		regs:  make(map[block.Reg]uint64, len(cmd.Inputs)),
		local: state.NewVectorLocal(lanes),
		tiles: make([][]byte, len(cmd.TilesOut)),
	}
	for i, in := range cmd.Inputs {
		ex.regs[in.Reg] = ops.Values[i]
	}
	for i, out := range cmd.TilesOut {
		ex.tiles[i] = make([]byte, out.Size)
	}

	for ex.iteration = 0; ex.iteration < iterations; ex.iteration++ {
		for _, micro := range cmd.Body {
			if ctx.Err() != nil {
				return nil
			}
			if fault := ex.step(micro); fault != nil {
				resp := block.Raised(cmd, fault, ex.local.Clone())
				resp.MicroOps = ex.executed
				return resp
			}
			ex.executed++
		}
	}

	nextPC := cmd.FallThrough
	if cmd.Branch.Kind == block.BranchJump {
		nextPC = cmd.Branch.Target
	}
	resp := block.Succeeded(cmd, nextPC)
	for i, out := range cmd.Outputs {
		resp.Values[i] = ex.regs[out.Reg]
	}
	resp.Tiles = ex.tiles
	resp.Local = ex.local
	resp.MicroOps = ex.executed
	return resp
}

type vectorExec struct {
	cmd       *block.Command
	ops       Operands
	lanes     int
	iteration int
	regs      map[block.Reg]uint64
	local     *state.VectorLocal
	tiles     [][]byte
	executed  int
}

func (ex *vectorExec) broadcast(value uint64) []uint64 {
	lanes := make([]uint64, ex.lanes)
	for l := range lanes {
		lanes[l] = value
	}
	return lanes
}

func (ex *vectorExec) step(micro block.MicroOp) *block.Fault {
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

	result := make([]uint64, ex.lanes)
	switch micro.Op {
	case block.OpNop:
		return nil
	case block.OpTrap:
		return block.NewFault(block.CauseSoftware, uint64(micro.Imm), "trap in %s", ex.cmd)
	case block.OpSel:
		for l := range result {
			result[l] = b[l]
			if c[l] != 0 {
				result[l] = a[l]
			}
		}
	case block.OpRedSum:
		sum := b[0]
		for _, lane := range a {
			sum += lane
		}
		result = ex.broadcast(sum)
	default:
		for l := range result {
			value, err := alu(micro.Op, a[l], b[l])
			if err != nil {
				return block.NewFault(block.CauseUnsupported, ex.cmd.PC, "%v", err)
			}
			result[l] = value
		}
	}
	return ex.write(micro.Dst, result)
}

func (ex *vectorExec) read(operand block.Operand) ([]uint64, *block.Fault) {
	switch operand.Kind {
	case block.OperandReg:
		return ex.broadcast(ex.regs[block.Reg(operand.Index)]), nil
	case block.OperandImm:
		return ex.broadcast(uint64(operand.Value)), nil
	case block.OperandArg:
		return ex.broadcast(uint64(ex.cmd.Arg)), nil
	case block.OperandLane:
		lanes := make([]uint64, ex.lanes)
		for l := range lanes {
			lanes[l] = uint64(ex.iteration*ex.lanes + l)
		}
		return lanes, nil
	case block.OperandHand:
		lanes, err := ex.local.Hands[operand.Index].Pop()
		if err != nil {
			return nil, block.FaultFromError(err, ex.cmd.PC)
		}
		return lanes, nil
	case block.OperandTileIn:
		return ex.loadElements(ex.ops.Tiles[operand.Index], operand.Value)
	case block.OperandTileOut:
		return ex.loadElements(ex.tiles[operand.Index], operand.Value)
	default:
		return ex.broadcast(0), nil
	}
}

func (ex *vectorExec) elementOffset(tile []byte, base int64, lane int) (int, *block.Fault) {
	offset := base + int64(ex.iteration*ex.lanes+lane)*4
	if offset < 0 || offset+4 > int64(len(tile)) {
		return 0, block.NewFault(block.CauseTileShape, ex.cmd.PC, "lane element at %d of a %d-byte tile", offset, len(tile))
	}
	return int(offset), nil
}

func (ex *vectorExec) loadElements(tile []byte, base int64) ([]uint64, *block.Fault) {
	lanes := make([]uint64, ex.lanes)
	for l := range lanes {
		offset, fault := ex.elementOffset(tile, base, l)
		if fault != nil {
			return nil, fault
		}
		lanes[l] = uint64(int64(int32(binary.LittleEndian.Uint32(tile[offset:]))))
	}
	return lanes, nil
}

func (ex *vectorExec) write(operand block.Operand, lanes []uint64) *block.Fault {
	switch operand.Kind {
	case block.OperandReg:
		ex.regs[block.Reg(operand.Index)] = lanes[0]
	case block.OperandHand:
		if err := ex.local.Hands[operand.Index].Push(lanes); err != nil {
			return block.FaultFromError(err, ex.cmd.PC)
		}
	case block.OperandTileOut:
		tile := ex.tiles[operand.Index]
		for l, value := range lanes {
			offset, fault := ex.elementOffset(tile, operand.Value, l)
			if fault != nil {
				return fault
			}
			binary.LittleEndian.PutUint32(tile[offset:], uint32(value))
		}
	}
	return nil
}
