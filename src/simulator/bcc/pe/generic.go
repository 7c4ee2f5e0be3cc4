package pe

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"math/bits"

	"bccsim/src/simulator/bcc/block"
	"bccsim/src/simulator/bcc/memory"
)

// ErrDeclined is returned by an accelerator that will not take a command.
// The block completes with a Fail outcome instead of an exception.
var ErrDeclined = errors.New("accelerator declined the command")

// AccelArgs is what a generic accelerator sees of a command.
type AccelArgs struct {
	Arg      int64
	Values   []uint64
	Tiles    [][]byte
	Outputs  int
	OutSizes []uint32
}

// AccelResult must carry exactly one value per live-out and one tile per
// tile output.
type AccelResult struct {
	Values []uint64
	Tiles  [][]byte
}

type Accelerator interface {
	Name() string
	Run(ctx context.Context, args AccelArgs) (AccelResult, error)
}

// GenericUnit dispatches generic blocks to accelerators registered by
// sub-op id.
type GenericUnit struct {
	accelerators map[block.SubOp]Accelerator
}

func NewGenericUnit() *GenericUnit {
	u := &GenericUnit{accelerators: make(map[block.SubOp]Accelerator)}
	u.Register(block.SubOpCRC32, crcAccelerator{})
	u.Register(block.SubOpPopCount, popCountAccelerator{})
	return u
}

func (u *GenericUnit) Register(op block.SubOp, accel Accelerator) {
	u.accelerators[op] = accel
}

func (u *GenericUnit) Kind() block.PEKind {
	return block.PEGeneric
}

func (u *GenericUnit) Execute(ctx context.Context, cmd *block.Command, ops Operands, _ memory.Port) *block.Response {
	accel, ok := u.accelerators[cmd.SubOp]
	if !ok {
		return block.Raised(cmd, block.NewFault(block.CauseUnsupported, cmd.PC, "no accelerator for %s", cmd.SubOp), nil)
	}

	args := AccelArgs{
		Arg:      cmd.Arg,
		Values:   ops.Values,
		Tiles:    ops.Tiles,
		Outputs:  len(cmd.Outputs),
		OutSizes: make([]uint32, len(cmd.TilesOut)),
	}
	for i, out := range cmd.TilesOut {
		args.OutSizes[i] = out.Size
	}

	result, err := accel.Run(ctx, args)
	if ctx.Err() != nil {
		return nil
	}
	if errors.Is(err, ErrDeclined) {
		return block.Failed(cmd, decoupledNext(cmd))
	}
	if err != nil {
		return block.Raised(cmd, block.FaultFromError(err, cmd.PC), nil)
	}
	if len(result.Values) != len(cmd.Outputs) || len(result.Tiles) != len(cmd.TilesOut) {
		return block.Raised(cmd, block.NewFault(block.CauseIllegalBlock, cmd.PC,
			"%s produced %d values and %d tiles", accel.Name(), len(result.Values), len(result.Tiles)), nil)
	}

	resp := block.Succeeded(cmd, decoupledNext(cmd))
	copy(resp.Values, result.Values)
	copy(resp.Tiles, result.Tiles)
	resp.MicroOps = 1
	return resp
}

// crcAccelerator computes the IEEE CRC-32 of its first input tile.
type crcAccelerator struct{}

func (crcAccelerator) Name() string { return "crc32" }

func (crcAccelerator) Run(_ context.Context, args AccelArgs) (AccelResult, error) {
	if len(args.Tiles) == 0 || args.Outputs != 1 {
		return AccelResult{}, ErrDeclined
	}
	return AccelResult{
		Values: []uint64{uint64(crc32.ChecksumIEEE(args.Tiles[0]))},
		Tiles:  make([][]byte, len(args.OutSizes)),
	}, nil
}

// popCountAccelerator counts the set bits across its register inputs.
type popCountAccelerator struct{}

func (popCountAccelerator) Name() string { return "popcnt" }

func (popCountAccelerator) Run(_ context.Context, args AccelArgs) (AccelResult, error) {
	if args.Outputs != 1 || len(args.OutSizes) != 0 {
		return AccelResult{}, fmt.Errorf("%w: popcnt wants one live-out", ErrDeclined)
	}
	total := 0
	for _, value := range args.Values {
		total += bits.OnesCount64(value)
	}
	return AccelResult{Values: []uint64{uint64(total)}}, nil
}
