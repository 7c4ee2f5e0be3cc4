package state

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrRegisterRange = errors.New("architectural register out of range")
	ErrLocalBusy     = errors.New("block-local state already bound")
)

// Config sizes the architectural and physical state.
type Config struct {
	NumGPRs   int
	TileHands int
	TileDepth int
	PhysTiles int
}

func DefaultConfig() Config {
	return Config{
		NumGPRs:   32,
		TileHands: 4,
		TileDepth: 8,
		PhysTiles: 48,
	}
}

// ArchTiles is the number of physical slots the architectural rings pin.
func (c Config) ArchTiles() int {
	return c.TileHands * c.TileDepth
}

// Tile is the committed contents of one tile register.
type Tile struct {
	Size uint32
	Data []byte
}

type physTile struct {
	data  []byte
	ready bool
}

// RegWrite, TilePush and SSRWrite are the architectural effects of one block.
type RegWrite struct {
	Reg   uint8
	Value uint64
}

type TilePush struct {
	Hand int
	Slot int
}

type SSRWrite struct {
	ID    uint16
	Value uint64
}

type Results struct {
	Seq   uint64
	Regs  []RegWrite
	Tiles []TilePush
	SSRs  []SSRWrite
}

type binding struct {
	seq   uint64
	local Local
}

// Store holds the architectural state (GSTATE) plus the physical tile file.
// The committed rings only ever change through Commit, which runs at
// retirement; PEs write tile data into freshly renamed physical slots with
// FillTile.
type Store struct {
	mu sync.RWMutex

	config Config
	gprs   []uint64
	ssrs   map[uint16]uint64
	rings  [][]int
	tiles  []physTile
	bound  map[Class]binding

	commits uint64
}

func NewStore(config Config) *Store {
	if config.NumGPRs <= 0 || config.TileHands <= 0 || config.TileDepth <= 0 {
		panic(errors.New("state geometry <= 0"))
	}
	if config.PhysTiles < config.ArchTiles() {
		panic(fmt.Errorf("phys tiles %d < architectural tiles %d", config.PhysTiles, config.ArchTiles()))
	}

	s := &Store{
		config: config,
		gprs:   make([]uint64, config.NumGPRs),
		ssrs:   make(map[uint16]uint64),
		rings:  make([][]int, config.TileHands),
		tiles:  make([]physTile, config.PhysTiles),
		bound:  make(map[Class]binding),
	}
	for h := range s.rings {
		s.rings[h] = make([]int, config.TileDepth)
		for d := range s.rings[h] {
			slot := h*config.TileDepth + d
			s.rings[h][d] = slot
			s.tiles[slot] = physTile{data: []byte{}, ready: true}
		}
	}
	return s
}

func (s *Store) Config() Config {
	return s.config
}

func (s *Store) ReadGPR(reg uint8) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if int(reg) >= len(s.gprs) {
		return 0, fmt.Errorf("%w: r%d", ErrRegisterRange, reg)
	}
	return s.gprs[reg], nil
}

// PresetGPR initializes a register before execution starts.
func (s *Store) PresetGPR(reg uint8, value uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(reg) >= len(s.gprs) {
		return fmt.Errorf("%w: r%d", ErrRegisterRange, reg)
	}
	s.gprs[reg] = value
	return nil
}

func (s *Store) ReadSSR(id uint16) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.ssrs[id]
}

func (s *Store) PresetSSR(id uint16, value uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ssrs[id] = value
}

// ArchSlot returns the physical slot holding hand's tile at SSA distance
// depth (1 = most recent).
func (s *Store) ArchSlot(hand, depth int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if hand < 0 || hand >= len(s.rings) || depth < 1 || depth > s.config.TileDepth {
		return 0, fmt.Errorf("%w: tile %d#%d", ErrRegisterRange, hand, depth)
	}
	return s.rings[hand][depth-1], nil
}

func (s *Store) ReadTile(hand, depth int) (Tile, error) {
	slot, err := s.ArchSlot(hand, depth)
	if err != nil {
		return Tile{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data := append([]byte{}, s.tiles[slot].data...)
	return Tile{Size: uint32(len(data)), Data: data}, nil
}

// ArchRings returns a copy of the committed SSA rings.
func (s *Store) ArchRings() [][]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rings := make([][]int, len(s.rings))
	for h := range s.rings {
		rings[h] = append([]int(nil), s.rings[h]...)
	}
	return rings
}

// ResetTile marks a renamed slot as pending production.
func (s *Store) ResetTile(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tiles[slot] = physTile{}
}

// FillTile stores a produced tile and marks the slot ready.
func (s *Store) FillTile(slot int, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tiles[slot] = physTile{data: append([]byte{}, data...), ready: true}
}

// TileData returns a copy of a ready slot.
func (s *Store) TileData(slot int) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if slot < 0 || slot >= len(s.tiles) || !s.tiles[slot].ready {
		return nil, false
	}
	return append([]byte{}, s.tiles[slot].data...), true
}

// Commit applies one block's results to GSTATE. Each pushed tile shifts its
// ring by one; the slots falling off the end are returned to the caller.
func (s *Store) Commit(results Results) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, write := range results.Regs {
		s.gprs[write.Reg] = write.Value
	}

	freed := make([]int, 0, len(results.Tiles))
	for _, push := range results.Tiles {
		ring := s.rings[push.Hand]
		freed = append(freed, ring[len(ring)-1])
		copy(ring[1:], ring[:len(ring)-1])
		ring[0] = push.Slot
	}

	for _, write := range results.SSRs {
		s.ssrs[write.ID] = write.Value
	}

	s.commits++
	return freed
}

func (s *Store) Commits() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.commits
}

// Bind makes local the architecturally visible block-local state of its
// class. Used when an exception is taken. A class holds one binding at a
// time; rebinding the same block replaces it.
func (s *Store) Bind(seq uint64, local Local) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.bound[local.Class()]; ok && b.seq != seq {
		return fmt.Errorf("%w: class %d held by block %d", ErrLocalBusy, local.Class(), b.seq)
	}
	s.bound[local.Class()] = binding{seq: seq, local: local.Clone()}
	return nil
}

func (s *Store) Unbind(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for class, b := range s.bound {
		if b.seq == seq {
			delete(s.bound, class)
		}
	}
}

func (s *Store) Bound(class Class) (uint64, Local, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bound[class]
	if !ok {
		return 0, nil, false
	}
	return b.seq, b.local.Clone(), true
}

// GState is a point-in-time copy of the architectural state.
type GState struct {
	GPRs  []uint64
	SSRs  map[uint16]uint64
	Tiles [][]Tile
}

func (s *Store) Snapshot() GState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := GState{
		GPRs:  append([]uint64(nil), s.gprs...),
		SSRs:  make(map[uint16]uint64, len(s.ssrs)),
		Tiles: make([][]Tile, len(s.rings)),
	}
	for id, value := range s.ssrs {
		snapshot.SSRs[id] = value
	}
	for h, ring := range s.rings {
		snapshot.Tiles[h] = make([]Tile, len(ring))
		for d, slot := range ring {
			data := append([]byte{}, s.tiles[slot].data...)
			snapshot.Tiles[h][d] = Tile{Size: uint32(len(data)), Data: data}
		}
	}
	return snapshot
}

// Equal compares GPRs and tile contents; SSRs are compared when both sides
// carry them.
func (g GState) Equal(other GState) bool {
	if len(g.GPRs) != len(other.GPRs) || len(g.Tiles) != len(other.Tiles) {
		return false
	}
	for i := range g.GPRs {
		if g.GPRs[i] != other.GPRs[i] {
			return false
		}
	}
	for h := range g.Tiles {
		if len(g.Tiles[h]) != len(other.Tiles[h]) {
			return false
		}
		for d := range g.Tiles[h] {
			if !bytes.Equal(g.Tiles[h][d].Data, other.Tiles[h][d].Data) {
				return false
			}
		}
	}
	for id, value := range g.SSRs {
		if otherValue, ok := other.SSRs[id]; ok && otherValue != value {
			return false
		}
	}
	return true
}
