package state

import (
	"encoding/binary"
	"fmt"
)

// SavedLocal is one block-local state captured when an exception is taken.
type SavedLocal struct {
	Seq   uint64
	PC    uint64
	Local Local
}

// TrapFrame is written to the save area named by SSR BSTATE_SAVE. The first
// entry belongs to the faulting block, the rest to younger blocks that had
// completed. Younger blocks caught mid-execution are not saved: they hold no
// architectural progress and restart their body when fetched again.
type TrapFrame struct {
	Cause  uint16
	PC     uint64
	Locals []SavedLocal
}

const trapFrameMagic = 0x42435446 // "BCTF"

func (f *TrapFrame) MarshalBinary() ([]byte, error) {
	buf := binary.LittleEndian.AppendUint32(nil, trapFrameMagic)
	buf = binary.LittleEndian.AppendUint16(buf, f.Cause)
	buf = binary.LittleEndian.AppendUint64(buf, f.PC)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(f.Locals)))

	for _, saved := range f.Locals {
		image := Encode(saved.Local)
		buf = binary.LittleEndian.AppendUint64(buf, saved.Seq)
		buf = binary.LittleEndian.AppendUint64(buf, saved.PC)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(image)))
		buf = append(buf, image...)
	}
	return buf, nil
}

func (f *TrapFrame) UnmarshalBinary(data []byte) error {
	d := &decoder{buf: data}
	if d.u32() != trapFrameMagic && d.err == nil {
		return fmt.Errorf("%w: bad trap frame magic", ErrCorruptLocal)
	}
	f.Cause = d.u16()
	f.PC = d.u64()
	count := d.u32()
	if d.err != nil {
		return d.err
	}

	f.Locals = make([]SavedLocal, 0, count)
	for i := uint32(0); i < count; i++ {
		seq := d.u64()
		pc := d.u64()
		image := d.take(int(d.u32()))
		if d.err != nil {
			return d.err
		}
		local, err := Decode(image)
		if err != nil {
			return fmt.Errorf("trap frame entry %d: %w", i, err)
		}
		f.Locals = append(f.Locals, SavedLocal{Seq: seq, PC: pc, Local: local})
	}
	return nil
}

// Lookup returns the saved state of the block with the given sequence number.
func (f *TrapFrame) Lookup(seq uint64) (Local, bool) {
	for _, saved := range f.Locals {
		if saved.Seq == seq {
			return saved.Local, true
		}
	}
	return nil, false
}
