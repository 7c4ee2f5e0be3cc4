package block

import (
	"fmt"
	"strings"
)

// Reg is a general-purpose register index.
type Reg uint8

// TileRef names an input tile by hand and SSA distance. Depth 1 is the most
// recently produced tile on that hand.
type TileRef struct {
	Hand  Hand  `json:"hand"`
	Depth uint8 `json:"depth"`
}

func (r TileRef) String() string {
	return fmt.Sprintf("%s#%d", r.Hand, r.Depth)
}

// TileOut declares a freshly produced tile pushed onto a hand.
type TileOut struct {
	Hand Hand   `json:"hand"`
	Size uint32 `json:"size"`
}

// BranchKind describes how a block chooses its successor.
type BranchKind uint8

const (
	BranchNone BranchKind = iota
	BranchCond
	BranchJump
	BranchIndirect
)

var branchKindNames = []string{"none", "cond", "jump", "indirect"}

func (k BranchKind) String() string {
	if int(k) < len(branchKindNames) {
		return branchKindNames[k]
	}
	return fmt.Sprintf("branch%d", uint8(k))
}

func (k BranchKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *BranchKind) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for i, candidate := range branchKindNames {
		if candidate == name {
			*k = BranchKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown branch kind %q", string(text))
}

type Branch struct {
	Kind   BranchKind `json:"kind"`
	Target uint64     `json:"target,omitempty"`
}

// Descriptor is the decoded block header plus its body.
type Descriptor struct {
	Name       string    `json:"name,omitempty"`
	PC         uint64    `json:"pc"`
	Size       uint64    `json:"size,omitempty"`
	Type       Type      `json:"type"`
	SubOp      SubOp     `json:"subop,omitempty"`
	Attrs      Attr      `json:"attrs,omitempty"`
	Arg        int64     `json:"arg,omitempty"`
	LiveIn     []Reg     `json:"live_in,omitempty"`
	LiveOut    []Reg     `json:"live_out,omitempty"`
	TileIn     []TileRef `json:"tile_in,omitempty"`
	TileOut    []TileOut `json:"tile_out,omitempty"`
	Dims       []uint32  `json:"dims,omitempty"`
	BodyOffset int64     `json:"body_offset,omitempty"`
	Body       []MicroOp `json:"body,omitempty"`
	Branch     Branch    `json:"branch"`
	Terminated bool      `json:"terminated"`
}

func (d *Descriptor) String() string {
	name := d.Name
	if name == "" {
		name = d.Type.String()
	}
	return fmt.Sprintf("%s@0x%x", name, d.PC)
}

// FallThrough is the address of the next sequential block.
func (d *Descriptor) FallThrough() uint64 {
	size := d.Size
	if size == 0 {
		size = DefaultHeaderSize
	}
	return d.PC + size
}

// Predict returns the statically predicted successor: the jump target for
// unconditional jumps, the fall-through address otherwise.
func (d *Descriptor) Predict() uint64 {
	if d.Branch.Kind == BranchJump {
		return d.Branch.Target
	}
	return d.FallThrough()
}

// TouchesMemory reports whether the block accesses memory and therefore
// goes through the memory ordering unit.
func (d *Descriptor) TouchesMemory() bool {
	switch d.Type {
	case TypeTemplate, TypeTMA:
		return true
	case TypeScalar:
		for _, micro := range d.Body {
			if micro.Op.IsMemory() {
				return true
			}
		}
	}
	return false
}

// Dim returns dims[i] or fallback when absent or zero.
func (d *Descriptor) Dim(i int, fallback uint32) uint32 {
	if i < len(d.Dims) && d.Dims[i] != 0 {
		return d.Dims[i]
	}
	return fallback
}

// Limits bounds the architectural resources a descriptor may name.
type Limits struct {
	NumGPRs   int
	TileHands int
	TileDepth int
	MaxLanes  int
}

func illegal(d *Descriptor, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrIllegalBlock, d, fmt.Sprintf(format, args...))
}

// Validate checks the descriptor against the block-ISA rules. Failures wrap
// ErrIllegalBlock.
func (d *Descriptor) Validate(limits Limits) error {
	if d.Type == TypeInvalid || d.Type.PE() == PEInvalid {
		return illegal(d, "unknown block type")
	}
	if !d.Terminated {
		return illegal(d, "missing block boundary terminator")
	}
	if len(d.Dims) > 3 {
		return illegal(d, "%d dims, at most 3 allowed", len(d.Dims))
	}

	for _, reg := range d.LiveIn {
		if int(reg) >= limits.NumGPRs {
			return illegal(d, "live-in r%d out of range", reg)
		}
	}
	seen := make(map[Reg]bool)
	for _, reg := range d.LiveOut {
		if int(reg) >= limits.NumGPRs {
			return illegal(d, "live-out r%d out of range", reg)
		}
		if seen[reg] {
			return illegal(d, "live-out r%d listed twice", reg)
		}
		seen[reg] = true
	}

	for _, ref := range d.TileIn {
		if int(ref.Hand) >= limits.TileHands {
			return illegal(d, "tile input %s names an unknown hand", ref)
		}
		if ref.Depth == 0 || int(ref.Depth) > limits.TileDepth {
			return illegal(d, "tile input %s outside ring depth %d", ref, limits.TileDepth)
		}
	}
	for i, out := range d.TileOut {
		if int(out.Hand) >= limits.TileHands {
			return illegal(d, "tile output %d names an unknown hand", i)
		}
		if out.Size == 0 {
			return illegal(d, "tile output %d has zero size", i)
		}
	}

	if d.Type != TypeScalar && (d.Branch.Kind == BranchCond || d.Branch.Kind == BranchIndirect) {
		return illegal(d, "%s branch on a decoupled block", d.Branch.Kind)
	}

	switch d.Type {
	case TypeScalar:
		return d.validateBody(limits, 2)
	case TypeVector:
		lanes := d.Dim(0, 1)
		if limits.MaxLanes > 0 && int(lanes) > limits.MaxLanes {
			return illegal(d, "%d lanes exceed the vector width %d", lanes, limits.MaxLanes)
		}
		for _, micro := range d.Body {
			if micro.Op.IsMemory() || micro.Op == OpSetPC {
				return illegal(d, "%s not available on the vector PE", micro.Op)
			}
		}
		return d.validateBody(limits, NumHands)
	case TypeTemplate:
		if d.SubOp != SubOpMCopy && d.SubOp != SubOpMSet {
			return illegal(d, "template sub-op %s", d.SubOp)
		}
		if len(d.LiveIn) < 3 {
			return illegal(d, "template needs dst, src/value and length live-ins")
		}
	case TypeCube:
		want := 2
		switch d.SubOp {
		case SubOpMAMulB:
		case SubOpMAMulBAcc:
			want = 3
		default:
			return illegal(d, "cube sub-op %s", d.SubOp)
		}
		if len(d.TileIn) != want || len(d.TileOut) != 1 {
			return illegal(d, "cube %s takes %d tiles in and 1 out", d.SubOp, want)
		}
		if len(d.Dims) != 3 || d.Dims[0] == 0 || d.Dims[1] == 0 || d.Dims[2] == 0 {
			return illegal(d, "cube needs M, N, K dims")
		}
	case TypeTAU:
		switch d.SubOp {
		case SubOpTAdd, SubOpTSub, SubOpTMul:
			if len(d.TileIn) != 2 || len(d.TileOut) != 1 {
				return illegal(d, "tau %s takes 2 tiles in and 1 out", d.SubOp)
			}
		case SubOpTRelu:
			if len(d.TileIn) != 1 || len(d.TileOut) != 1 {
				return illegal(d, "tau %s takes 1 tile in and 1 out", d.SubOp)
			}
		case SubOpTRedSum:
			if len(d.TileIn) != 1 || len(d.LiveOut) != 1 {
				return illegal(d, "tau %s takes 1 tile in and 1 live-out", d.SubOp)
			}
		default:
			return illegal(d, "tau sub-op %s", d.SubOp)
		}
	case TypeTMA:
		if len(d.LiveIn) < 1 || len(d.Dims) < 2 {
			return illegal(d, "tma needs a base live-in and rows, row-bytes dims")
		}
		switch d.SubOp {
		case SubOpTLoad:
			if len(d.TileOut) != 1 {
				return illegal(d, "tload produces exactly 1 tile")
			}
		case SubOpTStore:
			if len(d.TileIn) != 1 {
				return illegal(d, "tstore consumes exactly 1 tile")
			}
		default:
			return illegal(d, "tma sub-op %s", d.SubOp)
		}
	case TypeGeneric:
		if d.SubOp == SubOpNone {
			return illegal(d, "generic block without an accelerator id")
		}
	}
	return nil
}

func (d *Descriptor) validateBody(limits Limits, hands int) error {
	defined := make(map[Reg]bool)
	for _, reg := range d.LiveIn {
		defined[reg] = true
	}
	liveOut := make(map[Reg]bool)
	for _, reg := range d.LiveOut {
		liveOut[reg] = true
	}

	for pc, micro := range d.Body {
		if int(micro.Op) >= len(opcodeNames) {
			return illegal(d, "body[%d]: unknown op %d", pc, micro.Op)
		}
		for _, src := range micro.sources() {
			if err := d.checkOperand(src, hands); err != nil {
				return illegal(d, "body[%d] %s: %v", pc, micro.Op, err)
			}
			if src.Kind == OperandReg && !defined[Reg(src.Index)] {
				return illegal(d, "body[%d] %s: r%d is neither live-in nor written earlier", pc, micro.Op, src.Index)
			}
		}

		dst := micro.Dst
		switch dst.Kind {
		case OperandNone, OperandHand, OperandTileOut:
		case OperandReg:
			if !liveOut[Reg(dst.Index)] {
				return illegal(d, "body[%d] %s: r%d written but not live-out", pc, micro.Op, dst.Index)
			}
			defined[Reg(dst.Index)] = true
		case OperandTileIn:
			return illegal(d, "body[%d] %s: tile self-override of input %d", pc, micro.Op, dst.Index)
		default:
			return illegal(d, "body[%d] %s: %s is not writable", pc, micro.Op, dst.Kind)
		}
		if err := d.checkOperand(dst, hands); err != nil {
			return illegal(d, "body[%d] %s: %v", pc, micro.Op, err)
		}
	}

	for _, reg := range d.LiveOut {
		if !defined[reg] {
			return illegal(d, "live-out r%d never written", reg)
		}
	}
	return nil
}

func (d *Descriptor) checkOperand(operand Operand, hands int) error {
	switch operand.Kind {
	case OperandNone, OperandImm, OperandLane, OperandArg, OperandReg:
		return nil
	case OperandHand:
		if int(operand.Index) >= hands {
			return fmt.Errorf("hand %d unavailable", operand.Index)
		}
	case OperandTileIn:
		if int(operand.Index) >= len(d.TileIn) {
			return fmt.Errorf("tile input %d not declared", operand.Index)
		}
	case OperandTileOut:
		if int(operand.Index) >= len(d.TileOut) {
			return fmt.Errorf("tile output %d not declared", operand.Index)
		}
	default:
		return fmt.Errorf("unknown operand kind %d", operand.Kind)
	}
	return nil
}

// CheckHands replays the body against per-hand occupancy counters and fails
// with ErrDataHazard when a hand is read before anything was written to it.
func (d *Descriptor) CheckHands() error {
	var counts [NumHands]int
	for pc, micro := range d.Body {
		for _, src := range micro.sources() {
			if src.Kind != OperandHand || int(src.Index) >= NumHands {
				continue
			}
			if counts[src.Index] == 0 {
				return fmt.Errorf("%w: %s body[%d] reads hand %d", ErrDataHazard, d, pc, src.Index)
			}
			counts[src.Index]--
		}
		if micro.Dst.Kind == OperandHand && int(micro.Dst.Index) < NumHands {
			counts[micro.Dst.Index]++
		}
	}
	return nil
}
