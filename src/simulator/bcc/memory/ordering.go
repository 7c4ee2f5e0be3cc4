// Package memory implements the memory ordering unit: a TSO store buffer
// shared by the scalar load/store path and the tile DMA bridge.
//
// Stores are buffered per block and reach memory only when the block
// retires. Loads see committed memory overlaid with the buffered stores of
// older blocks and then their own, byte by byte. A memory block may start
// executing only when every older memory block has finished and no older
// barrier is still outstanding.
package memory

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"
)

// Port is the memory view a PE gets for one block.
type Port interface {
	Load(addr uint64, size int) ([]byte, error)
	Store(addr uint64, data []byte) error
}

// Source is the path a memory block's accesses travel.
type Source int

const (
	SourceScalar Source = iota
	SourceBridge
)

func (s Source) String() string {
	if s == SourceBridge {
		return "bridge"
	}
	return "scalar"
}

type pendingStore struct {
	addr uint64
	data []byte
}

type memBlock struct {
	seq     uint64
	source  Source
	barrier bool
	done    bool
	stores  []pendingStore
}

type Stats struct {
	Loads          uint64
	Stores         uint64
	ForwardedBytes uint64
	CommittedBytes uint64
	DiscardedBytes uint64
	BridgeBytes    uint64
	ScalarBytes    uint64
	GateStalls     uint64
}

type Unit struct {
	mu     sync.Mutex
	memory *Memory
	blocks []*memBlock
	bySeq  map[uint64]*memBlock
	stats  Stats
}

func NewUnit(memory *Memory) *Unit {
	return &Unit{
		memory: memory,
		blocks: make([]*memBlock, 0),
		bySeq:  make(map[uint64]*memBlock),
	}
}

func (u *Unit) Memory() *Memory {
	return u.memory
}

// Register enters a memory or barrier block in program order.
func (u *Unit) Register(seq uint64, source Source, barrier bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if n := len(u.blocks); n > 0 && u.blocks[n-1].seq >= seq {
		panic(fmt.Sprintf("memory block %d registered after %d", seq, u.blocks[n-1].seq))
	}
	b := &memBlock{seq: seq, source: source, barrier: barrier}
	u.blocks = append(u.blocks, b)
	u.bySeq[seq] = b
}

// CanIssue reports whether seq may start touching memory.
func (u *Unit) CanIssue(seq uint64) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, b := range u.blocks {
		if b.seq >= seq {
			return true
		}
		if b.barrier || !b.done {
			u.stats.GateStalls++
			return false
		}
	}
	return true
}

func (u *Unit) Port(seq uint64) Port {
	return &port{unit: u, seq: seq}
}

type port struct {
	unit *Unit
	seq  uint64
}

func (p *port) Load(addr uint64, size int) ([]byte, error) {
	return p.unit.load(p.seq, addr, size)
}

func (p *port) Store(addr uint64, data []byte) error {
	return p.unit.store(p.seq, addr, data)
}

func (u *Unit) load(seq uint64, addr uint64, size int) ([]byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	data, err := u.memory.Read(addr, size)
	if err != nil {
		return nil, err
	}
	u.stats.Loads++

	for _, b := range u.blocks {
		if b.seq > seq {
			break
		}
		for _, st := range b.stores {
			u.stats.ForwardedBytes += uint64(overlay(data, addr, st))
		}
	}
	return data, nil
}

// overlay copies the bytes of st that fall inside [addr, addr+len(data)).
func overlay(data []byte, addr uint64, st pendingStore) int {
	start, end := addr, addr+uint64(len(data))
	stStart, stEnd := st.addr, st.addr+uint64(len(st.data))
	if stEnd <= start || stStart >= end {
		return 0
	}
	lo, hi := start, end
	if stStart > lo {
		lo = stStart
	}
	if stEnd < hi {
		hi = stEnd
	}
	return copy(data[lo-start:hi-start], st.data[lo-stStart:hi-stStart])
}

func (u *Unit) store(seq uint64, addr uint64, data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.memory.Check(addr, len(data)); err != nil {
		return err
	}
	b, ok := u.bySeq[seq]
	if !ok {
		return fmt.Errorf("store from unregistered block %d", seq)
	}
	b.stores = append(b.stores, pendingStore{addr: addr, data: slices.Clone(data)})
	u.stats.Stores++
	if b.source == SourceBridge {
		u.stats.BridgeBytes += uint64(len(data))
	} else {
		u.stats.ScalarBytes += uint64(len(data))
	}
	return nil
}

// Complete marks seq as finished executing.
func (u *Unit) Complete(seq uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if b, ok := u.bySeq[seq]; ok {
		b.done = true
	}
}

// Commit drains seq's buffered stores to memory in program order and removes
// the block. seq must be the oldest registered block.
func (u *Unit) Commit(seq uint64) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	b, ok := u.bySeq[seq]
	if !ok {
		return nil
	}
	if u.blocks[0] != b {
		panic(fmt.Sprintf("memory block %d committed ahead of %d", seq, u.blocks[0].seq))
	}

	for _, st := range b.stores {
		if err := u.memory.Write(st.addr, st.data); err != nil {
			return err
		}
		u.stats.CommittedBytes += uint64(len(st.data))
	}
	u.blocks = u.blocks[1:]
	delete(u.bySeq, seq)
	return nil
}

// Discard drops fromSeq and every younger block along with their stores.
func (u *Unit) Discard(fromSeq uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()

	index := slices.IndexFunc(u.blocks, func(b *memBlock) bool { return b.seq >= fromSeq })
	if index < 0 {
		return
	}
	for _, b := range u.blocks[index:] {
		for _, st := range b.stores {
			u.stats.DiscardedBytes += uint64(len(st.data))
		}
		delete(u.bySeq, b.seq)
	}
	u.blocks = u.blocks[:index]
}

// Read and Write access committed memory directly. They are meant for
// preloading, trap save areas and inspection while no memory block is in
// flight.
func (u *Unit) Read(addr uint64, size int) ([]byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.memory.Read(addr, size)
}

func (u *Unit) Write(addr uint64, data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.memory.Write(addr, data)
}

func (u *Unit) SetLimit(limit uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.memory.SetLimit(limit)
}

func (u *Unit) Outstanding() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	return len(u.blocks)
}

func (u *Unit) Stats() Stats {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.stats
}
