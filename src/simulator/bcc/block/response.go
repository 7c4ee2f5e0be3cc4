package block

import "bccsim/src/simulator/bcc/state"

// Outcome is the completion status a PE reports.
type Outcome uint8

const (
	OutcomeSuccess Outcome = iota
	OutcomeFail
	OutcomeException
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFail:
		return "fail"
	case OutcomeException:
		return "exception"
	default:
		return "unknown"
	}
}

// Response is the completion record for one command.
type Response struct {
	Seq     uint64
	Outcome Outcome
	Fault   *Fault

	// Values and Tiles line up with Command.Outputs and Command.TilesOut.
	Values []uint64
	Tiles  [][]byte
	NextPC uint64

	// Local is the block-local state at completion or at the fault.
	Local state.Local
	// Restartable marks a fault after which the already-buffered stores may
	// be committed and the block resumed from Local.
	Restartable bool
	MicroOps    int
}

func Succeeded(cmd *Command, nextPC uint64) *Response {
	return &Response{
		Seq:     cmd.Seq,
		Outcome: OutcomeSuccess,
		Values:  make([]uint64, len(cmd.Outputs)),
		Tiles:   make([][]byte, len(cmd.TilesOut)),
		NextPC:  nextPC,
	}
}

// Failed reports a non-exceptional failure: nothing is committed and control
// continues at nextPC.
func Failed(cmd *Command, nextPC uint64) *Response {
	return &Response{
		Seq:     cmd.Seq,
		Outcome: OutcomeFail,
		NextPC:  nextPC,
	}
}

func Raised(cmd *Command, fault *Fault, local state.Local) *Response {
	return &Response{
		Seq:     cmd.Seq,
		Outcome: OutcomeException,
		Fault:   fault,
		NextPC:  cmd.PC,
		Local:   local,
	}
}
