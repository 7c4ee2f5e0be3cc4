package bcc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"bccsim/src/simulator/bcc/block"
	"bccsim/src/simulator/bcc/brob"
	"bccsim/src/simulator/bcc/state"
)

var ErrNoTrapFrame = errors.New("no trap frame to resume from")

// TrapAction tells the core how to continue after an exception.
type TrapAction int

const (
	TrapHalt TrapAction = iota
	TrapResume
	TrapSkip
)

func (a TrapAction) String() string {
	switch a {
	case TrapResume:
		return "resume"
	case TrapSkip:
		return "skip"
	default:
		return "halt"
	}
}

// TrapHandler runs once the trap frame is saved. It may change the machine,
// for example raise the memory limit, before asking the core to resume the
// faulting block or skip it.
type TrapHandler func(core *Core, trap *block.TrapError) TrapAction

// takeTrap handles an exception at the head of the reorder buffer. Younger
// blocks are squashed, the block-local states are written to the save area
// as a trap frame and the exception SSRs are committed.
func (c *Core) takeTrap(head *brob.Entry) {
	seq, pc, desc, resp := head.Seq, head.Desc.PC, head.Desc, head.Response
	fault := resp.Fault
	if fault == nil {
		fault = block.NewFault(block.CauseUnsupported, pc, "exception without a fault record")
	}
	c.stats.Traps++
	c.logf("trap in block %d at 0x%x: %v", seq, pc, fault)

	frame := &state.TrapFrame{Cause: uint16(fault.Cause), PC: pc, Locals: savedLocals(c.brob.Entries())}

	c.flushFrom(seq + 1)
	if resp.Restartable {
		if err := c.mou.Commit(seq); err != nil {
			panic(fmt.Errorf("commit partial stores of block %d: %w", seq, err))
		}
	}
	c.rename.Flush(seq)
	c.builder.Rollback(seq)
	c.mou.Discard(seq)
	if _, err := c.brob.Retire(); err != nil {
		panic(err)
	}
	c.releaseSync(seq)

	if fault.Cause == block.CauseIllegalControlTarget {
		c.fatal(seq, pc, fault)
		return
	}

	if resp.Local != nil {
		if err := c.store.Bind(seq, resp.Local); err != nil {
			panic(err)
		}
	}

	saveArea := c.store.ReadSSR(block.SSRBStateSave)
	if saveArea == 0 {
		saveArea = c.config.SaveArea
	}
	image, err := frame.MarshalBinary()
	if err != nil {
		panic(err)
	}
	record := binary.LittleEndian.AppendUint32(nil, uint32(len(image)))
	if err := c.mou.Write(saveArea, append(record, image...)); err != nil {
		c.fatal(seq, pc, block.FaultFromError(err, saveArea))
		return
	}

	c.store.Commit(state.Results{
		Seq: seq,
		SSRs: []state.SSRWrite{
			{ID: block.SSRECState, Value: uint64(fault.Cause)},
			{ID: block.SSREBPC, Value: pc},
			{ID: block.SSREBArg, Value: fault.Addr},
			{ID: block.SSRBStateSave, Value: saveArea},
		},
	})

	trap := &block.TrapError{Seq: seq, PC: pc, Fault: fault}
	action := TrapHalt
	if c.handler != nil {
		action = c.handler(c, trap)
	}
	c.logf("trap in block %d handled: %s", seq, action)

	switch action {
	case TrapResume:
		if err := c.Resume(); err != nil {
			panic(err)
		}
	case TrapSkip:
		c.store.Unbind(seq)
		c.redirect(desc.FallThrough())
	default:
		c.halted = true
		c.trapErr = trap
	}
}

// savedLocals collects the block-local states of a trap frame from the
// reorder buffer, head first. Younger blocks still executing have no local
// state yet; they are squashed and run again from the start of their body.
func savedLocals(entries []*brob.Entry) []state.SavedLocal {
	locals := make([]state.SavedLocal, 0)
	for _, entry := range entries {
		if !entry.Status.Completed() || entry.Response == nil || entry.Response.Local == nil {
			continue
		}
		locals = append(locals, state.SavedLocal{
			Seq:   entry.Seq,
			PC:    entry.Desc.PC,
			Local: entry.Response.Local.Clone(),
		})
	}
	return locals
}

// fatal halts the core without consulting the trap handler.
func (c *Core) fatal(seq, pc uint64, fault *block.Fault) {
	c.store.Commit(state.Results{
		Seq: seq,
		SSRs: []state.SSRWrite{
			{ID: block.SSRECState, Value: uint64(fault.Cause)},
			{ID: block.SSREBPC, Value: pc},
			{ID: block.SSREBArg, Value: fault.Addr},
		},
	})
	c.halted = true
	c.trapErr = &block.TrapError{Seq: seq, PC: pc, Fault: fault}
	c.fetching = false
	c.logf("halt: %v", c.trapErr)
}

// TrapFrame reads back the frame saved by the last exception.
func (c *Core) TrapFrame() (*state.TrapFrame, error) {
	saveArea := c.store.ReadSSR(block.SSRBStateSave)
	if saveArea == 0 {
		return nil, ErrNoTrapFrame
	}
	header, err := c.mou.Read(saveArea, 4)
	if err != nil {
		return nil, err
	}
	image, err := c.mou.Read(saveArea+4, int(binary.LittleEndian.Uint32(header)))
	if err != nil {
		return nil, err
	}
	frame := new(state.TrapFrame)
	if err := frame.UnmarshalBinary(image); err != nil {
		return nil, err
	}
	return frame, nil
}

// Resume restarts the faulting block from the saved trap frame. A template
// block continues from its saved state machine step; other blocks rerun
// their body with fresh local state. Resume also clears a halt taken on a
// recoverable trap so Run can be called again.
func (c *Core) Resume() error {
	if c.trapErr != nil && c.trapErr.Fault.Cause == block.CauseIllegalControlTarget {
		return c.trapErr
	}
	frame, err := c.TrapFrame()
	if err != nil {
		return err
	}
	if !c.program.IsBoundary(frame.PC) {
		return fmt.Errorf("%w: pc 0x%x is not a block boundary", ErrNoTrapFrame, frame.PC)
	}

	for _, saved := range frame.Locals {
		if saved.PC != frame.PC {
			continue
		}
		if saved.Local.Class() == state.ClassTemplate {
			c.restore[frame.PC] = saved.Local
		}
		c.store.Unbind(saved.Seq)
		break
	}

	c.halted = false
	c.trapErr = nil
	c.redirect(frame.PC)
	c.logf("resume at 0x%x", frame.PC)
	return nil
}

// SetMemoryLimit moves the top of addressable memory. Trap handlers use it to
// map in the page an access fault stopped at.
func (c *Core) SetMemoryLimit(limit uint64) {
	c.mou.SetLimit(limit)
}
