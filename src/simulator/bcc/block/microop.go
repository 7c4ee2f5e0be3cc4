package block

import (
	"fmt"
	"strings"
)

// Opcode is a body micro-operation.
type Opcode uint8

const (
	OpNop Opcode = iota
	OpMov
	OpAdd
	OpSub
	OpMul
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpMin
	OpMax
	OpCmpEq
	OpCmpNe
	OpCmpLt
	OpCmpLtu
	OpCmpGe
	OpSel
	OpLoad
	OpStore
	OpSetPC
	OpTrap
	OpRedSum
	OpFAdd16
	OpFMul16
)

var opcodeNames = []string{
	OpNop:    "nop",
	OpMov:    "mov",
	OpAdd:    "add",
	OpSub:    "sub",
	OpMul:    "mul",
	OpAnd:    "and",
	OpOr:     "or",
	OpXor:    "xor",
	OpShl:    "shl",
	OpShr:    "shr",
	OpMin:    "min",
	OpMax:    "max",
	OpCmpEq:  "cmpeq",
	OpCmpNe:  "cmpne",
	OpCmpLt:  "cmplt",
	OpCmpLtu: "cmpltu",
	OpCmpGe:  "cmpge",
	OpSel:    "sel",
	OpLoad:   "load",
	OpStore:  "store",
	OpSetPC:  "setpc",
	OpTrap:   "trap",
	OpRedSum: "redsum",
	OpFAdd16: "fadd16",
	OpFMul16: "fmul16",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return fmt.Sprintf("op%d", uint8(op))
}

func (op Opcode) MarshalText() ([]byte, error) {
	return []byte(op.String()), nil
}

func (op *Opcode) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for i, candidate := range opcodeNames {
		if candidate == name {
			*op = Opcode(i)
			return nil
		}
	}
	return fmt.Errorf("unknown micro-op %q", string(text))
}

// IsCompare reports whether the op sets the condition flag.
func (op Opcode) IsCompare() bool {
	return op >= OpCmpEq && op <= OpCmpGe
}

// IsMemory reports whether the op goes through the memory port.
func (op Opcode) IsMemory() bool {
	return op == OpLoad || op == OpStore
}

// OperandKind selects where a micro-op operand lives.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandReg
	OperandImm
	OperandHand
	OperandTileIn
	OperandTileOut
	OperandLane
	OperandArg
)

var operandKindNames = []string{
	OperandNone:    "none",
	OperandReg:     "reg",
	OperandImm:     "imm",
	OperandHand:    "hand",
	OperandTileIn:  "tin",
	OperandTileOut: "tout",
	OperandLane:    "lane",
	OperandArg:     "arg",
}

func (k OperandKind) String() string {
	if int(k) < len(operandKindNames) {
		return operandKindNames[k]
	}
	return fmt.Sprintf("operand%d", uint8(k))
}

func (k OperandKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *OperandKind) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for i, candidate := range operandKindNames {
		if candidate == name {
			*k = OperandKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown operand kind %q", string(text))
}

// Operand addresses a micro-op source or destination. For tile operands Index
// selects the tile and Value is the byte offset (scalar bodies); vector bodies
// address tiles by lane.
type Operand struct {
	Kind  OperandKind `json:"kind"`
	Index uint16      `json:"index,omitempty"`
	Value int64       `json:"value,omitempty"`
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandNone:
		return "_"
	case OperandReg:
		return fmt.Sprintf("r%d", o.Index)
	case OperandImm:
		return fmt.Sprintf("#%d", o.Value)
	case OperandHand:
		return fmt.Sprintf("h%d", o.Index)
	case OperandTileIn:
		return fmt.Sprintf("tin%d[%d]", o.Index, o.Value)
	case OperandTileOut:
		return fmt.Sprintf("tout%d[%d]", o.Index, o.Value)
	case OperandLane:
		return "lane"
	case OperandArg:
		return "arg"
	default:
		return o.Kind.String()
	}
}

func R(index int) Operand {
	return Operand{Kind: OperandReg, Index: uint16(index)}
}

func Imm(value int64) Operand {
	return Operand{Kind: OperandImm, Value: value}
}

func H(index int) Operand {
	return Operand{Kind: OperandHand, Index: uint16(index)}
}

func TIn(index int, offset int64) Operand {
	return Operand{Kind: OperandTileIn, Index: uint16(index), Value: offset}
}

func TOut(index int, offset int64) Operand {
	return Operand{Kind: OperandTileOut, Index: uint16(index), Value: offset}
}

func LaneID() Operand {
	return Operand{Kind: OperandLane}
}

func BlockArg() Operand {
	return Operand{Kind: OperandArg}
}

// MicroOp is one body instruction.
//
//	load  dst = mem64[src1 + imm]
//	store mem64[src1 + imm] = src2
//	sel   dst = src3 != 0 ? src1 : src2
//	redsum dst = src2 + sum(src1 lanes)
type MicroOp struct {
	Op   Opcode  `json:"op"`
	Dst  Operand `json:"dst,omitempty"`
	Src1 Operand `json:"src1,omitempty"`
	Src2 Operand `json:"src2,omitempty"`
	Src3 Operand `json:"src3,omitempty"`
	Imm  int64   `json:"imm,omitempty"`
}

func (m MicroOp) String() string {
	return fmt.Sprintf("%s %s, %s, %s, %s, #%d", m.Op, m.Dst, m.Src1, m.Src2, m.Src3, m.Imm)
}

func (m MicroOp) sources() []Operand {
	return []Operand{m.Src1, m.Src2, m.Src3}
}

// Op builds a micro-op with up to three sources.
func Op(op Opcode, dst Operand, srcs ...Operand) MicroOp {
	micro := MicroOp{Op: op, Dst: dst}
	if len(srcs) > 0 {
		micro.Src1 = srcs[0]
	}
	if len(srcs) > 1 {
		micro.Src2 = srcs[1]
	}
	if len(srcs) > 2 {
		micro.Src3 = srcs[2]
	}
	return micro
}
