package pe

import (
	"context"
	"encoding/binary"
	"sync"

	"bccsim/src/simulator/bcc/block"
	"bccsim/src/simulator/bcc/memory"
)

func int32At(tile []byte, index int) int32 {
	return int32(binary.LittleEndian.Uint32(tile[index*4:]))
}

func putInt32(tile []byte, index int, value int32) {
	binary.LittleEndian.PutUint32(tile[index*4:], uint32(value))
}

func shapeFault(cmd *block.Command, format string, args ...interface{}) *block.Response {
	return block.Raised(cmd, block.NewFault(block.CauseTileShape, cmd.PC, format, args...), nil)
}

func decoupledNext(cmd *block.Command) uint64 {
	if cmd.Branch.Kind == block.BranchJump {
		return cmd.Branch.Target
	}
	return cmd.FallThrough
}

// CubeUnit multiplies row-major int32 matrices. The output is split into
// array-sized blocks and every block is one pass of the array.
type CubeUnit struct {
	array PEArray
}

func NewCubeUnit(array PEArray) *CubeUnit {
	return &CubeUnit{array: array}
}

func (u *CubeUnit) Kind() block.PEKind {
	return block.PECube
}

func (u *CubeUnit) Execute(ctx context.Context, cmd *block.Command, ops Operands, _ memory.Port) *block.Response {
	m, n, k := int(cmd.Shape.M), int(cmd.Shape.N), int(cmd.Shape.K)
	a, b := ops.Tiles[0], ops.Tiles[1]
	if len(a) < m*k*4 || len(b) < k*n*4 {
		return shapeFault(cmd, "%dx%dx%d multiply over %d and %d byte tiles", m, n, k, len(a), len(b))
	}
	var acc []byte
	if cmd.SubOp == block.SubOpMAMulBAcc {
		acc = ops.Tiles[2]
		if len(acc) < m*n*4 {
			return shapeFault(cmd, "%dx%d accumulator in a %d-byte tile", m, n, len(acc))
		}
	}
	out := make([]byte, cmd.TilesOut[0].Size)
	if len(out) < m*n*4 {
		return shapeFault(cmd, "%dx%d result in a %d-byte tile", m, n, len(out))
	}

	passes := 0
	for ib := 0; ib < m; ib += u.array.Rows {
		for jb := 0; jb < n; jb += u.array.Cols {
			if ctx.Err() != nil {
				return nil
			}
			for i := ib; i < ib+u.array.Rows && i < m; i++ {
				for j := jb; j < jb+u.array.Cols && j < n; j++ {
					var sum int32
					if acc != nil {
						sum = int32At(acc, i*n+j)
					}
					for p := 0; p < k; p++ {
						sum += int32At(a, i*k+p) * int32At(b, p*n+j)
					}
					putInt32(out, i*n+j, sum)
				}
			}
			passes++
		}
	}

	resp := block.Succeeded(cmd, decoupledNext(cmd))
	resp.Tiles[0] = out
	resp.MicroOps = passes
	return resp
}

// TAUUnit runs element-wise int32 tile arithmetic.
type TAUUnit struct{}

func NewTAUUnit() *TAUUnit {
	return new(TAUUnit)
}

func (u *TAUUnit) Kind() block.PEKind {
	return block.PETAU
}

func (u *TAUUnit) Execute(ctx context.Context, cmd *block.Command, ops Operands, _ memory.Port) *block.Response {
	count := len(ops.Tiles[0]) / 4
	for _, tile := range ops.Tiles[1:] {
		if len(tile)/4 < count {
			count = len(tile) / 4
		}
	}
	if len(cmd.Dims) > 0 && cmd.Dims[0] != 0 {
		if int(cmd.Dims[0]) > count {
			return shapeFault(cmd, "%d elements requested from %d available", cmd.Dims[0], count)
		}
		count = int(cmd.Dims[0])
	}
	if ctx.Err() != nil {
		return nil
	}

	resp := block.Succeeded(cmd, decoupledNext(cmd))
	resp.MicroOps = count

	if cmd.SubOp == block.SubOpTRedSum {
		var sum int64
		for i := 0; i < count; i++ {
			sum += int64(int32At(ops.Tiles[0], i))
		}
		resp.Values[0] = uint64(sum)
		return resp
	}

	out := make([]byte, cmd.TilesOut[0].Size)
	if len(out) < count*4 {
		return shapeFault(cmd, "%d elements into a %d-byte tile", count, len(out))
	}
	for i := 0; i < count; i++ {
		x := int32At(ops.Tiles[0], i)
		var value int32
		switch cmd.SubOp {
		case block.SubOpTAdd:
			value = x + int32At(ops.Tiles[1], i)
		case block.SubOpTSub:
			value = x - int32At(ops.Tiles[1], i)
		case block.SubOpTMul:
			value = x * int32At(ops.Tiles[1], i)
		case block.SubOpTRelu:
			if x > 0 {
				value = x
			}
		default:
			return block.Raised(cmd, block.NewFault(block.CauseUnsupported, cmd.PC, "tau %s", cmd.SubOp), nil)
		}
		putInt32(out, i, value)
	}
	resp.Tiles[0] = out
	return resp
}

// TransferKind distinguishes bridge directions.
type TransferKind int

const (
	TransferMemoryToTile TransferKind = iota
	TransferTileToMemory
)

// TransferStats accumulates bridge traffic.
type TransferStats struct {
	Transfers   int64
	Bytes       int64
	LoadBytes   int64
	StoreBytes  int64
	Rows        int64
	FaultedRows int64
}

// TMAUnit moves rows between memory and tiles through the memory ordering
// unit. A transfer covers dims[0] rows of dims[1] bytes, dims[2] bytes apart
// in memory (defaulting to dims[1]), starting at the first live-in plus the
// block argument.
type TMAUnit struct {
	mu    sync.Mutex
	stats TransferStats
}

func NewTMAUnit() *TMAUnit {
	return new(TMAUnit)
}

func (u *TMAUnit) Kind() block.PEKind {
	return block.PETMA
}

func tmaGeometry(cmd *block.Command) (rows, rowBytes, stride uint64) {
	rows = uint64(cmd.Dims[0])
	rowBytes = uint64(cmd.Dims[1])
	stride = rowBytes
	if len(cmd.Dims) > 2 && cmd.Dims[2] != 0 {
		stride = uint64(cmd.Dims[2])
	}
	return rows, rowBytes, stride
}

func tmaBytes(cmd *block.Command) int64 {
	if len(cmd.Dims) < 2 {
		return 0
	}
	rows, rowBytes, _ := tmaGeometry(cmd)
	return int64(rows * rowBytes)
}

func (u *TMAUnit) Execute(ctx context.Context, cmd *block.Command, ops Operands, port memory.Port) *block.Response {
	rows, rowBytes, stride := tmaGeometry(cmd)
	base := ops.Values[0] + uint64(cmd.Arg)
	total := int(rows * rowBytes)

	resp := block.Succeeded(cmd, decoupledNext(cmd))
	kind := TransferMemoryToTile

	switch cmd.SubOp {
	case block.SubOpTLoad:
		out := make([]byte, cmd.TilesOut[0].Size)
		if len(out) < total {
			return shapeFault(cmd, "%d rows of %d bytes into a %d-byte tile", rows, rowBytes, len(out))
		}
		for r := uint64(0); r < rows; r++ {
			if ctx.Err() != nil {
				return nil
			}
			data, err := port.Load(base+r*stride, int(rowBytes))
			if err != nil {
				u.recordFault(r)
				return block.Raised(cmd, block.FaultFromError(err, base+r*stride), nil)
			}
			copy(out[r*rowBytes:], data)
		}
		resp.Tiles[0] = out
	case block.SubOpTStore:
		kind = TransferTileToMemory
		tile := ops.Tiles[0]
		if len(tile) < total {
			return shapeFault(cmd, "%d rows of %d bytes from a %d-byte tile", rows, rowBytes, len(tile))
		}
		for r := uint64(0); r < rows; r++ {
			if ctx.Err() != nil {
				return nil
			}
			if err := port.Store(base+r*stride, tile[r*rowBytes:(r+1)*rowBytes]); err != nil {
				u.recordFault(r)
				return block.Raised(cmd, block.FaultFromError(err, base+r*stride), nil)
			}
		}
	default:
		return block.Raised(cmd, block.NewFault(block.CauseUnsupported, cmd.PC, "tma %s", cmd.SubOp), nil)
	}

	u.recordBytes(kind, rows, int64(total))
	resp.MicroOps = int(rows)
	return resp
}

func (u *TMAUnit) recordFault(rows uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.stats.Rows += int64(rows)
	u.stats.FaultedRows++
}

func (u *TMAUnit) recordBytes(kind TransferKind, rows uint64, bytes int64) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.stats.Transfers++
	u.stats.Bytes += bytes
	u.stats.Rows += int64(rows)
	if kind == TransferMemoryToTile {
		u.stats.LoadBytes += bytes
	} else {
		u.stats.StoreBytes += bytes
	}
}

func (u *TMAUnit) Totals() TransferStats {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.stats
}
