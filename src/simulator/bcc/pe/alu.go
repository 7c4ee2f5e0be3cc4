package pe

import (
	"fmt"

	"bccsim/src/misc"
	"bccsim/src/simulator/bcc/block"
)

func boolValue(cond bool) uint64 {
	if cond {
		return 1
	}
	return 0
}

// alu evaluates a two-operand integer or fp16 micro-op.
func alu(op block.Opcode, a, b uint64) (uint64, error) {
	switch op {
	case block.OpMov:
		return a, nil
	case block.OpAdd:
		return a + b, nil
	case block.OpSub:
		return a - b, nil
	case block.OpMul:
		return a * b, nil
	case block.OpAnd:
		return a & b, nil
	case block.OpOr:
		return a | b, nil
	case block.OpXor:
		return a ^ b, nil
	case block.OpShl:
		return a << (b & 63), nil
	case block.OpShr:
		return a >> (b & 63), nil
	case block.OpMin:
		if int64(a) < int64(b) {
			return a, nil
		}
		return b, nil
	case block.OpMax:
		if int64(a) > int64(b) {
			return a, nil
		}
		return b, nil
	case block.OpCmpEq:
		return boolValue(a == b), nil
	case block.OpCmpNe:
		return boolValue(a != b), nil
	case block.OpCmpLt:
		return boolValue(int64(a) < int64(b)), nil
	case block.OpCmpLtu:
		return boolValue(a < b), nil
	case block.OpCmpGe:
		return boolValue(int64(a) >= int64(b)), nil
	case block.OpFAdd16:
		return uint64(misc.AddFloat16(uint16(a), uint16(b))), nil
	case block.OpFMul16:
		return uint64(misc.MulFloat16(uint16(a), uint16(b))), nil
	default:
		return 0, fmt.Errorf("%s is not an ALU op", op)
	}
}
