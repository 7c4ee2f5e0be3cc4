package pe

import "math"

// Buffer is the staging SRAM of the tile DMA bridge. Capacity tracking keeps
// concurrent transfers within the staging space and the bandwidth gives the
// transfer latency.
type Buffer struct {
	Name      string
	capacity  int64
	bandwidth int64
	occupancy int64
	peak      int64
}

// NewBuffer builds a buffer of capacity bytes moving bandwidth bytes per
// cycle. A non-positive bandwidth falls back to 1 byte per cycle.
func NewBuffer(name string, capacity int64, bandwidth int64) *Buffer {
	if bandwidth <= 0 {
		bandwidth = 1
	}
	if capacity < 0 {
		capacity = 0
	}

	return &Buffer{
		Name:      name,
		capacity:  capacity,
		bandwidth: bandwidth,
	}
}

func (b *Buffer) Capacity() int64 {
	return b.capacity
}

func (b *Buffer) Occupancy() int64 {
	return b.occupancy
}

func (b *Buffer) Peak() int64 {
	return b.peak
}

// Clamp limits a request to the whole buffer so an oversized transfer can
// still run alone.
func (b *Buffer) Clamp(bytes int64) int64 {
	if bytes > b.capacity {
		return b.capacity
	}
	if bytes < 0 {
		return 0
	}
	return bytes
}

func (b *Buffer) CanHold(bytes int64) bool {
	return b.occupancy+bytes <= b.capacity
}

// Reserve claims bytes of staging space, or reports false if they do not fit.
func (b *Buffer) Reserve(bytes int64) bool {
	if bytes < 0 || !b.CanHold(bytes) {
		return false
	}
	b.occupancy += bytes
	if b.occupancy > b.peak {
		b.peak = b.occupancy
	}
	return true
}

// Release frees staging space, clamping at zero.
func (b *Buffer) Release(bytes int64) {
	if bytes <= 0 {
		return
	}
	b.occupancy -= bytes
	if b.occupancy < 0 {
		b.occupancy = 0
	}
}

// TransferCycles is ceil(bytes/bandwidth) and at least one cycle.
func (b *Buffer) TransferCycles(bytes int64) int {
	if bytes <= 0 {
		return 1
	}
	cycles := int(math.Ceil(float64(bytes) / float64(b.bandwidth)))
	if cycles < 1 {
		return 1
	}
	return cycles
}
