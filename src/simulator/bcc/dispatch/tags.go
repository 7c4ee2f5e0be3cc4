package dispatch

import (
	"fmt"

	"bccsim/src/simulator/bcc/block"

	"golang.org/x/exp/slices"
)

type tagEntry struct {
	reg   block.Reg
	seq   uint64
	ready bool
	value uint64
}

// TagTable tracks the youngest in-flight producer of every register. Tags
// are published when the producer completes and dropped when it retires, at
// which point consumers fall back to the committed register file.
type TagTable struct {
	next        block.Tag
	entries     map[block.Tag]*tagEntry
	producers   []block.Tag
	order       []uint64
	owned       map[uint64][]block.Tag
	checkpoints map[uint64][]block.Tag
}

func NewTagTable(numGPRs int) *TagTable {
	return &TagTable{
		entries:     make(map[block.Tag]*tagEntry),
		producers:   make([]block.Tag, numGPRs),
		order:       make([]uint64, 0),
		owned:       make(map[uint64][]block.Tag),
		checkpoints: make(map[uint64][]block.Tag),
	}
}

// Producer returns the youngest in-flight producer of reg, or zero.
func (t *TagTable) Producer(reg block.Reg) block.Tag {
	return t.producers[reg]
}

// Allocate records seq as the new producer of regs, in program order.
func (t *TagTable) Allocate(seq uint64, regs []block.Reg) []block.Tag {
	if n := len(t.order); n > 0 && t.order[n-1] >= seq {
		panic(fmt.Sprintf("tag allocation out of program order: %d after %d", seq, t.order[n-1]))
	}

	t.checkpoints[seq] = slices.Clone(t.producers)
	tags := make([]block.Tag, len(regs))
	for i, reg := range regs {
		t.next++
		tag := t.next
		t.entries[tag] = &tagEntry{reg: reg, seq: seq}
		t.producers[reg] = tag
		tags[i] = tag
	}
	t.owned[seq] = tags
	t.order = append(t.order, seq)
	return tags
}

// Lookup returns the value behind tag. live is false once the producer
// retired or was flushed.
func (t *TagTable) Lookup(tag block.Tag) (value uint64, ready bool, live bool) {
	entry, ok := t.entries[tag]
	if !ok {
		return 0, false, false
	}
	return entry.value, entry.ready, true
}

// Publish makes a completed producer's value visible to consumers.
func (t *TagTable) Publish(tag block.Tag, value uint64) {
	if entry, ok := t.entries[tag]; ok {
		entry.value = value
		entry.ready = true
	}
}

// Retire drops the tags of a committed producer.
func (t *TagTable) Retire(seq uint64) {
	index := slices.Index(t.order, seq)
	if index < 0 {
		return
	}
	if index != 0 {
		panic(fmt.Sprintf("tag retire out of order: %d is not the oldest", seq))
	}

	for _, tag := range t.owned[seq] {
		entry := t.entries[tag]
		if t.producers[entry.reg] == tag {
			t.producers[entry.reg] = 0
		}
		delete(t.entries, tag)
	}
	delete(t.owned, seq)
	delete(t.checkpoints, seq)
	t.order = t.order[1:]
}

// Rollback forgets fromSeq and every younger producer and restores the
// producer map as it was before fromSeq allocated.
func (t *TagTable) Rollback(fromSeq uint64) {
	index := slices.IndexFunc(t.order, func(seq uint64) bool { return seq >= fromSeq })
	if index < 0 {
		return
	}

	restored := t.checkpoints[t.order[index]]
	for _, seq := range t.order[index:] {
		for _, tag := range t.owned[seq] {
			delete(t.entries, tag)
		}
		delete(t.owned, seq)
		delete(t.checkpoints, seq)
	}
	t.order = t.order[:index]

	// producers that retired since the checkpoint was taken are gone
	for reg, tag := range restored {
		if _, ok := t.entries[tag]; !ok {
			restored[reg] = 0
		}
	}
	t.producers = restored
}

func (t *TagTable) Live() int {
	return len(t.entries)
}
