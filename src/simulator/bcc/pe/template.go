package pe

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"

	"bccsim/src/simulator/bcc/block"
	"bccsim/src/simulator/bcc/memory"
	"bccsim/src/simulator/bcc/state"
)

// templateStepBytes is how much a template state machine moves per step.
const templateStepBytes = 8

const templateImageSize = 1 + 4 + 8*4

var errTemplateImage = errors.New("malformed template state machine image")

// templateFSM is the resumable state of an MCOPY/MSET block. Its encoded
// form is the block's BSTATE.
type templateFSM struct {
	Op   block.SubOp
	Step uint32
	Dst  uint64
	Src  uint64 // source address for mcopy, fill byte for mset
	Len  uint64
	Done uint64
}

func (f *templateFSM) encode() []byte {
	buf := make([]byte, 0, templateImageSize)
	buf = append(buf, uint8(f.Op))
	buf = binary.LittleEndian.AppendUint32(buf, f.Step)
	buf = binary.LittleEndian.AppendUint64(buf, f.Dst)
	buf = binary.LittleEndian.AppendUint64(buf, f.Src)
	buf = binary.LittleEndian.AppendUint64(buf, f.Len)
	buf = binary.LittleEndian.AppendUint64(buf, f.Done)
	return buf
}

func decodeTemplateFSM(image []byte) (*templateFSM, error) {
	if len(image) != templateImageSize {
		return nil, errTemplateImage
	}
	fsm := &templateFSM{
		Op:   block.SubOp(image[0]),
		Step: binary.LittleEndian.Uint32(image[1:]),
		Dst:  binary.LittleEndian.Uint64(image[5:]),
		Src:  binary.LittleEndian.Uint64(image[13:]),
		Len:  binary.LittleEndian.Uint64(image[21:]),
		Done: binary.LittleEndian.Uint64(image[29:]),
	}
	if fsm.Done > fsm.Len {
		return nil, errTemplateImage
	}
	return fsm, nil
}

// TemplateProgress decodes the step counter and completed byte count from a
// template BSTATE.
func TemplateProgress(local state.Local) (step uint32, done uint64, ok bool) {
	tmpl, isTemplate := local.(*state.TemplateLocal)
	if !isTemplate {
		return 0, 0, false
	}
	fsm, err := decodeTemplateFSM(tmpl.FSM)
	if err != nil {
		return 0, 0, false
	}
	return fsm.Step, fsm.Done, true
}

func runTemplate(ctx context.Context, cmd *block.Command, ops Operands, port memory.Port) *block.Response {
	fsm := &templateFSM{
		Op:  cmd.SubOp,
		Dst: ops.Values[0] + uint64(cmd.Arg),
		Src: ops.Values[1],
		Len: ops.Values[2],
	}
	if restore, ok := cmd.Restore.(*state.TemplateLocal); ok {
		resumed, err := decodeTemplateFSM(restore.FSM)
		if err != nil || resumed.Op != cmd.SubOp {
			return block.Raised(cmd, block.NewFault(block.CauseIllegalBlock, cmd.PC, "cannot resume template: %v", err), nil)
		}
		fsm = resumed
	}

	steps := 0
	for fsm.Done < fsm.Len {
		if ctx.Err() != nil {
			return nil
		}

		n := fsm.Len - fsm.Done
		if n > templateStepBytes {
			n = templateStepBytes
		}

		var data []byte
		switch fsm.Op {
		case block.SubOpMCopy:
			loaded, err := port.Load(fsm.Src+fsm.Done, int(n))
			if err != nil {
				return templateFault(cmd, fsm, steps, block.FaultFromError(err, fsm.Src+fsm.Done))
			}
			data = loaded
		case block.SubOpMSet:
			data = bytes.Repeat([]byte{byte(fsm.Src)}, int(n))
		default:
			return block.Raised(cmd, block.NewFault(block.CauseUnsupported, cmd.PC, "template %s", fsm.Op), nil)
		}

		if err := port.Store(fsm.Dst+fsm.Done, data); err != nil {
			return templateFault(cmd, fsm, steps, block.FaultFromError(err, fsm.Dst+fsm.Done))
		}
		fsm.Done += n
		fsm.Step++
		steps++
	}

	nextPC := cmd.FallThrough
	if cmd.Branch.Kind == block.BranchJump {
		nextPC = cmd.Branch.Target
	}
	resp := block.Succeeded(cmd, nextPC)
	resp.Local = state.NewTemplateLocal(fsm.encode())
	resp.MicroOps = steps
	return resp
}

// templateFault reports a fault mid-copy. Every completed step already sits
// in the store buffer, so the block is restartable from the saved state.
func templateFault(cmd *block.Command, fsm *templateFSM, steps int, fault *block.Fault) *block.Response {
	resp := block.Raised(cmd, fault, state.NewTemplateLocal(fsm.encode()))
	resp.Restartable = true
	resp.MicroOps = steps
	return resp
}
