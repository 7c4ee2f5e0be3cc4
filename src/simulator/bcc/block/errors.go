package block

import (
	"errors"
	"fmt"

	"bccsim/src/simulator/bcc/state"
)

var (
	ErrRenameExhausted      = errors.New("tile rename pool exhausted")
	ErrResourceBusy         = errors.New("processing element busy")
	ErrDataHazard           = state.ErrDataHazard
	ErrIllegalControlTarget = errors.New("control transfer to a non-block-boundary address")
	ErrExecutionFault       = errors.New("execution fault")
	ErrIllegalBlock         = errors.New("illegal block")
	ErrAccessFault          = errors.New("memory access fault")
	ErrStall                = errors.New("operands not ready")
)

// Fault describes an exception raised while executing a block.
type Fault struct {
	Cause  Cause
	Addr   uint64
	Detail string
}

func NewFault(cause Cause, addr uint64, format string, args ...interface{}) *Fault {
	return &Fault{
		Cause:  cause,
		Addr:   addr,
		Detail: fmt.Sprintf(format, args...),
	}
}

func (f *Fault) Error() string {
	if f.Detail == "" {
		return fmt.Sprintf("%s fault at 0x%x", f.Cause, f.Addr)
	}
	return fmt.Sprintf("%s fault at 0x%x: %s", f.Cause, f.Addr, f.Detail)
}

// Unwrap exposes both the generic execution-fault sentinel and the sentinel
// that matches the cause, so errors.Is works against either.
func (f *Fault) Unwrap() []error {
	errs := []error{ErrExecutionFault}
	if cause := f.Cause.Err(); cause != nil {
		errs = append(errs, cause)
	}
	return errs
}

// Err maps a cause onto its sentinel error, if one exists.
func (c Cause) Err() error {
	switch c {
	case CauseDataHazard:
		return ErrDataHazard
	case CauseIllegalBlock:
		return ErrIllegalBlock
	case CauseIllegalControlTarget:
		return ErrIllegalControlTarget
	case CauseAccessFault:
		return ErrAccessFault
	default:
		return nil
	}
}

// FaultFromError converts an arbitrary error into a Fault.
func FaultFromError(err error, addr uint64) *Fault {
	var fault *Fault
	if errors.As(err, &fault) {
		return fault
	}

	cause := CauseUnsupported
	switch {
	case errors.Is(err, ErrDataHazard):
		cause = CauseDataHazard
	case errors.Is(err, state.ErrHandOverflow):
		cause = CauseHandOverflow
	case errors.Is(err, ErrIllegalBlock):
		cause = CauseIllegalBlock
	case errors.Is(err, ErrIllegalControlTarget):
		cause = CauseIllegalControlTarget
	case errors.Is(err, ErrAccessFault):
		cause = CauseAccessFault
	}
	return &Fault{Cause: cause, Addr: addr, Detail: err.Error()}
}

// TrapError reports an exception that halted the core.
type TrapError struct {
	Seq   uint64
	PC    uint64
	Fault *Fault
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("block %d at pc 0x%x trapped: %v", e.Seq, e.PC, e.Fault)
}

func (e *TrapError) Unwrap() error {
	return e.Fault
}
