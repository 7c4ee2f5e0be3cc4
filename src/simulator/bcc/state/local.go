package state

import "fmt"

// Class identifies which kind of block-local state a block carries.
type Class uint8

const (
	ClassScalar Class = iota + 1
	ClassVector
	ClassTemplate
)

func (c Class) String() string {
	switch c {
	case ClassScalar:
		return "scalar"
	case ClassVector:
		return "vector"
	case ClassTemplate:
		return "template"
	default:
		return fmt.Sprintf("class%d", uint8(c))
	}
}

// Local is the block-local state (BSTATE) of one in-flight block. Exactly one
// of ScalarLocal, VectorLocal or TemplateLocal.
type Local interface {
	Class() Class
	Clone() Local
	local()
}

// CommitArgs is the commit-argument record kept by scalar blocks.
type CommitArgs struct {
	BlockType uint8
	PC        uint64
	NextPC    uint64
	Flags     uint8
}

// CommitFlagCond is set in CommitArgs.Flags when the block's condition holds.
const CommitFlagCond uint8 = 1

// ScalarLocal holds the T and U hands plus the commit arguments.
type ScalarLocal struct {
	T      Queue[uint64]
	U      Queue[uint64]
	Commit CommitArgs
}

func NewScalarLocal() *ScalarLocal {
	return new(ScalarLocal)
}

func (s *ScalarLocal) Class() Class { return ClassScalar }

func (s *ScalarLocal) Clone() Local {
	clone := *s
	return &clone
}

func (s *ScalarLocal) local() {}

// Hand returns hand 0 (T) or 1 (U).
func (s *ScalarLocal) Hand(index int) *Queue[uint64] {
	switch index {
	case 0:
		return &s.T
	case 1:
		return &s.U
	default:
		return nil
	}
}

// VectorLocal holds the lane count and four lane-wide hands.
type VectorLocal struct {
	Lanes uint16
	Hands [4]Queue[[]uint64]
}

func NewVectorLocal(lanes int) *VectorLocal {
	return &VectorLocal{Lanes: uint16(lanes)}
}

func (v *VectorLocal) Class() Class { return ClassVector }

func (v *VectorLocal) Clone() Local {
	clone := *v
	for h := range clone.Hands {
		for i := range clone.Hands[h].slots {
			if value := clone.Hands[h].slots[i].value; value != nil {
				clone.Hands[h].slots[i].value = append([]uint64(nil), value...)
			}
		}
	}
	return &clone
}

func (v *VectorLocal) local() {}

// TemplateLocal is the opaque state-machine snapshot of a template block.
type TemplateLocal struct {
	FSM []byte
}

func NewTemplateLocal(fsm []byte) *TemplateLocal {
	return &TemplateLocal{FSM: append([]byte(nil), fsm...)}
}

func (t *TemplateLocal) Class() Class { return ClassTemplate }

func (t *TemplateLocal) Clone() Local {
	return NewTemplateLocal(t.FSM)
}

func (t *TemplateLocal) local() {}
