package block

import (
	"fmt"

	"bccsim/src/simulator/bcc/state"
)

// Tag names an in-flight register producer. Zero means "no producer".
type Tag uint32

// Input is a register operand of a command. Ready inputs carry their value;
// the rest are resolved through the producer tag.
type Input struct {
	Reg   Reg
	Tag   Tag
	Ready bool
	Value uint64
}

// Output binds a live-out register to the tag consumers wait on.
type Output struct {
	Reg Reg
	Tag Tag
}

// TileInput is an input tile resolved to its physical slot.
type TileInput struct {
	Ref   TileRef
	Slot  int
	Ready bool
	Data  []byte
}

// TileOutput is a freshly allocated physical slot for a produced tile.
type TileOutput struct {
	Hand Hand
	Slot int
	Size uint32
}

// Loop is the lane/iteration packing of a vector body.
type Loop struct {
	Lanes      uint32
	Iterations uint32
}

// Shape is the matrix geometry of a cube command.
type Shape struct {
	M uint32
	N uint32
	K uint32
}

// Command is everything a processing element needs to run one block.
type Command struct {
	ID            string
	Seq           uint64
	PC            uint64
	Type          Type
	SubOp         SubOp
	Attrs         Attr
	Arg           int64
	Inputs        []Input
	Outputs       []Output
	TilesIn       []TileInput
	TilesOut      []TileOutput
	Loop          Loop
	Shape         Shape
	Dims          []uint32
	BodyPC        uint64
	Body          []MicroOp
	Branch        Branch
	FallThrough   uint64
	TouchesMemory bool
	Restore       state.Local
}

func (c *Command) String() string {
	return fmt.Sprintf("cmd[%d %s 0x%x %s]", c.Seq, c.Type, c.PC, c.ID)
}

func (c *Command) PE() PEKind {
	return c.Type.PE()
}

// Resolved reports whether every operand is already available.
func (c *Command) Resolved() bool {
	for _, in := range c.Inputs {
		if !in.Ready {
			return false
		}
	}
	for _, tile := range c.TilesIn {
		if !tile.Ready {
			return false
		}
	}
	return true
}

// Bytes is the total tile payload the command moves, used by the latency
// model.
func (c *Command) Bytes() int64 {
	var total int64
	for _, tile := range c.TilesIn {
		total += int64(len(tile.Data))
	}
	for _, tile := range c.TilesOut {
		total += int64(tile.Size)
	}
	return total
}
