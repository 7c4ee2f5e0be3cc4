// Package brob implements the block reorder buffer: blocks enter in program
// order, complete in any order and retire strictly from the head.
//
// Entries live in a fixed arena and the program order is a ring of arena
// indices, so entries never hold pointers to each other.
package brob

import (
	"errors"
	"fmt"

	"bccsim/src/simulator/bcc/block"
)

var (
	ErrFull     = errors.New("block reorder buffer full")
	ErrStale    = errors.New("completion for a block that is no longer executing")
	ErrNotReady = errors.New("head block has not completed")
	ErrEmpty    = errors.New("block reorder buffer empty")
)

type Status uint8

const (
	StatusFree Status = iota
	StatusIssued
	StatusExecuting
	StatusSuccess
	StatusFail
	StatusException
	StatusRetired
	StatusFlushed
)

func (s Status) String() string {
	switch s {
	case StatusFree:
		return "free"
	case StatusIssued:
		return "issued"
	case StatusExecuting:
		return "executing"
	case StatusSuccess:
		return "completed-success"
	case StatusFail:
		return "completed-fail"
	case StatusException:
		return "completed-exception"
	case StatusRetired:
		return "retired"
	case StatusFlushed:
		return "flushed"
	default:
		return fmt.Sprintf("status%d", uint8(s))
	}
}

func (s Status) Completed() bool {
	return s == StatusSuccess || s == StatusFail || s == StatusException
}

type Entry struct {
	Seq           uint64
	Desc          *block.Descriptor
	PredictedNext uint64
	Status        Status
	Command       *block.Command
	Response      *block.Response
}

type Stats struct {
	Allocated uint64
	Retired   uint64
	Flushed   uint64
	Stale     uint64
	Full      uint64
}

type Buffer struct {
	arena []Entry
	free  []int
	ring  []int
	index map[uint64]int
	next  uint64
	stats Stats
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic(errors.New("brob capacity <= 0"))
	}

	b := &Buffer{
		arena: make([]Entry, capacity),
		free:  make([]int, capacity),
		ring:  make([]int, 0, capacity),
		index: make(map[uint64]int),
		next:  1,
	}
	for i := range b.free {
		b.free[i] = i
	}
	return b
}

func (b *Buffer) Cap() int { return len(b.arena) }
func (b *Buffer) Len() int { return len(b.ring) }
func (b *Buffer) Full() bool { return len(b.free) == 0 }

func (b *Buffer) Empty() bool {
	return len(b.ring) == 0
}

// NextSeq is the sequence number the next Allocate hands out.
func (b *Buffer) NextSeq() uint64 {
	return b.next
}

// Allocate appends a block in program order.
func (b *Buffer) Allocate(desc *block.Descriptor, predictedNext uint64) (*Entry, error) {
	if b.Full() {
		b.stats.Full++
		return nil, ErrFull
	}

	slot := b.free[0]
	b.free = b.free[1:]
	b.arena[slot] = Entry{
		Seq:           b.next,
		Desc:          desc,
		PredictedNext: predictedNext,
		Status:        StatusIssued,
	}
	b.index[b.next] = slot
	b.ring = append(b.ring, slot)
	b.next++
	b.stats.Allocated++
	return &b.arena[slot], nil
}

func (b *Buffer) Lookup(seq uint64) (*Entry, bool) {
	slot, ok := b.index[seq]
	if !ok {
		return nil, false
	}
	return &b.arena[slot], true
}

func (b *Buffer) MarkExecuting(seq uint64, cmd *block.Command) error {
	entry, ok := b.Lookup(seq)
	if !ok || entry.Status != StatusIssued {
		return fmt.Errorf("%w: block %d", ErrStale, seq)
	}
	entry.Status = StatusExecuting
	entry.Command = cmd
	return nil
}

// Complete records a PE response. Responses for flushed, retired or already
// completed blocks are rejected with ErrStale.
func (b *Buffer) Complete(seq uint64, resp *block.Response) error {
	entry, ok := b.Lookup(seq)
	if !ok || entry.Status != StatusExecuting {
		b.stats.Stale++
		return fmt.Errorf("%w: block %d", ErrStale, seq)
	}
	b.finish(entry, resp)
	return nil
}

// Fault completes a block that raised an exception before reaching a PE.
func (b *Buffer) Fault(seq uint64, fault *block.Fault) error {
	entry, ok := b.Lookup(seq)
	if !ok || entry.Status.Completed() {
		b.stats.Stale++
		return fmt.Errorf("%w: block %d", ErrStale, seq)
	}
	b.finish(entry, &block.Response{
		Seq:     seq,
		Outcome: block.OutcomeException,
		Fault:   fault,
		NextPC:  entry.Desc.PC,
	})
	return nil
}

func (b *Buffer) finish(entry *Entry, resp *block.Response) {
	entry.Response = resp
	switch resp.Outcome {
	case block.OutcomeSuccess:
		entry.Status = StatusSuccess
	case block.OutcomeFail:
		entry.Status = StatusFail
	default:
		entry.Status = StatusException
	}
}

func (b *Buffer) Head() (*Entry, bool) {
	if len(b.ring) == 0 {
		return nil, false
	}
	return &b.arena[b.ring[0]], true
}

// Retire removes the head once it has completed and returns a copy of it.
func (b *Buffer) Retire() (Entry, error) {
	head, ok := b.Head()
	if !ok {
		return Entry{}, ErrEmpty
	}
	if !head.Status.Completed() {
		return Entry{}, fmt.Errorf("%w: block %d is %s", ErrNotReady, head.Seq, head.Status)
	}

	retired := *head
	retired.Status = StatusRetired
	b.release(0)
	b.stats.Retired++
	return retired, nil
}

// FlushFrom removes seq and every younger block and returns them in program
// order. Flushing an already flushed range returns nothing.
func (b *Buffer) FlushFrom(seq uint64) []Entry {
	index := len(b.ring)
	for i, slot := range b.ring {
		if b.arena[slot].Seq >= seq {
			index = i
			break
		}
	}

	flushed := make([]Entry, 0, len(b.ring)-index)
	for len(b.ring) > index {
		entry := b.arena[b.ring[index]]
		entry.Status = StatusFlushed
		flushed = append(flushed, entry)
		b.release(index)
	}
	b.stats.Flushed += uint64(len(flushed))
	return flushed
}

// FlushAfter removes every block younger than seq.
func (b *Buffer) FlushAfter(seq uint64) []Entry {
	return b.FlushFrom(seq + 1)
}

func (b *Buffer) release(position int) {
	slot := b.ring[position]
	delete(b.index, b.arena[slot].Seq)
	b.arena[slot] = Entry{}
	b.ring = append(b.ring[:position], b.ring[position+1:]...)
	b.free = append(b.free, slot)
}

// Entries returns the live entries in program order.
func (b *Buffer) Entries() []*Entry {
	entries := make([]*Entry, len(b.ring))
	for i, slot := range b.ring {
		entries[i] = &b.arena[slot]
	}
	return entries
}

func (b *Buffer) Stats() Stats {
	return b.stats
}
