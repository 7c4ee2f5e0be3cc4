package state

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	localMagic0  = 'B'
	localMagic1  = 'S'
	localVersion = 1
)

var ErrCorruptLocal = errors.New("corrupt block-local state image")

// Encode serializes a block-local state into a self-describing byte image.
func Encode(local Local) []byte {
	buf := []byte{localMagic0, localMagic1, localVersion, byte(local.Class())}

	switch l := local.(type) {
	case *ScalarLocal:
		buf = appendScalarQueue(buf, &l.T)
		buf = appendScalarQueue(buf, &l.U)
		buf = append(buf, l.Commit.BlockType)
		buf = binary.LittleEndian.AppendUint64(buf, l.Commit.PC)
		buf = binary.LittleEndian.AppendUint64(buf, l.Commit.NextPC)
		buf = append(buf, l.Commit.Flags)
	case *VectorLocal:
		buf = binary.LittleEndian.AppendUint16(buf, l.Lanes)
		for h := range l.Hands {
			q := &l.Hands[h]
			buf = append(buf, q.head, q.tail)
			for i := range q.slots {
				s := &q.slots[i]
				if !s.full {
					buf = append(buf, 0)
					continue
				}
				buf = append(buf, 1)
				buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s.value)))
				for _, lane := range s.value {
					buf = binary.LittleEndian.AppendUint64(buf, lane)
				}
			}
		}
	case *TemplateLocal:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(l.FSM)))
		buf = append(buf, l.FSM...)
	default:
		panic(fmt.Sprintf("unknown block-local state %T", local))
	}

	return buf
}

func appendScalarQueue(buf []byte, q *Queue[uint64]) []byte {
	buf = append(buf, q.head, q.tail)
	for i := range q.slots {
		full := byte(0)
		if q.slots[i].full {
			full = 1
		}
		buf = append(buf, full)
		buf = binary.LittleEndian.AppendUint64(buf, q.slots[i].value)
	}
	return buf
}

type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf) < n {
		d.err = fmt.Errorf("%w: truncated", ErrCorruptLocal)
		return nil
	}
	out := d.buf[:n]
	d.buf = d.buf[n:]
	return out
}

func (d *decoder) u8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u16() uint16 {
	if b := d.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) index() uint8 {
	value := d.u8()
	if d.err == nil && value >= HandSlots {
		d.err = fmt.Errorf("%w: hand index %d", ErrCorruptLocal, value)
	}
	return value
}

// Decode rebuilds a block-local state from an image produced by Encode.
func Decode(image []byte) (Local, error) {
	d := &decoder{buf: image}
	header := d.take(4)
	if d.err != nil {
		return nil, d.err
	}
	if header[0] != localMagic0 || header[1] != localMagic1 {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptLocal)
	}
	if header[2] != localVersion {
		return nil, fmt.Errorf("%w: version %d", ErrCorruptLocal, header[2])
	}

	var local Local
	switch Class(header[3]) {
	case ClassScalar:
		scalar := NewScalarLocal()
		decodeScalarQueue(d, &scalar.T)
		decodeScalarQueue(d, &scalar.U)
		scalar.Commit.BlockType = d.u8()
		scalar.Commit.PC = d.u64()
		scalar.Commit.NextPC = d.u64()
		scalar.Commit.Flags = d.u8()
		local = scalar
	case ClassVector:
		vector := NewVectorLocal(int(d.u16()))
		for h := range vector.Hands {
			q := &vector.Hands[h]
			q.head = d.index()
			q.tail = d.index()
			for i := range q.slots {
				if d.u8() == 0 {
					continue
				}
				lanes := make([]uint64, d.u16())
				for l := range lanes {
					lanes[l] = d.u64()
				}
				q.slots[i] = slot[[]uint64]{value: lanes, full: true}
			}
		}
		local = vector
	case ClassTemplate:
		size := d.u32()
		local = NewTemplateLocal(d.take(int(size)))
	default:
		return nil, fmt.Errorf("%w: class %d", ErrCorruptLocal, header[3])
	}

	if d.err != nil {
		return nil, d.err
	}
	if len(d.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptLocal, len(d.buf))
	}
	return local, nil
}

func decodeScalarQueue(d *decoder, q *Queue[uint64]) {
	q.head = d.index()
	q.tail = d.index()
	for i := range q.slots {
		full := d.u8() != 0
		value := d.u64()
		q.slots[i] = slot[uint64]{value: value, full: full}
	}
}
