package pe

import (
	"math"
	"math/rand"

	"bccsim/src/simulator/bcc/block"
)

// PEArray models the systolic array behind the cube PE. It keeps track of
// geometry and estimates how long a tile multiply occupies the array.
type PEArray struct {
	Rows          int
	Cols          int
	PipelineDepth int
	OutputLatency int
}

func NewPEArray(rows, cols int) PEArray {
	if rows <= 0 {
		rows = 1
	}
	if cols <= 0 {
		cols = 1
	}

	return PEArray{
		Rows:          rows,
		Cols:          cols,
		PipelineDepth: 8,
		OutputLatency: 4,
	}
}

// Passes is the number of array-sized output blocks an m×n result splits
// into. Each pass is one micro-op of the cube PE.
func (pe *PEArray) Passes(m, n int) int {
	rows := int(math.Ceil(float64(m) / float64(pe.Rows)))
	cols := int(math.Ceil(float64(n) / float64(pe.Cols)))
	if rows*cols < 1 {
		return 1
	}
	return rows * cols
}

// EstimateMatmulCycles estimates an m×n×k multiply: every pass pays the
// ramp-up across the array plus a steady state proportional to k.
func (pe *PEArray) EstimateMatmulCycles(m, n, k int) int {
	if m <= 0 || n <= 0 || k <= 0 {
		return 1
	}

	steady := k + pe.PipelineDepth
	ramp := pe.Rows + pe.Cols - 2
	cycles := (steady + ramp + pe.OutputLatency) * pe.Passes(m, n)
	if cycles < 1 {
		cycles = 1
	}
	return cycles
}

// SPUCluster is the issue model shared by the scalar and tile-arithmetic PEs.
type SPUCluster struct {
	NumIntegerALUs int
	VectorWidth    int
}

func NewSPUCluster(intALUs, vectorWidth int) SPUCluster {
	if intALUs <= 0 {
		intALUs = 1
	}
	if vectorWidth <= 0 {
		vectorWidth = 64
	}
	return SPUCluster{NumIntegerALUs: intALUs, VectorWidth: vectorWidth}
}

// EstimateMicroOpCycles returns the cycles needed for the given scalar and
// element-wise operation counts.
func (spu *SPUCluster) EstimateMicroOpCycles(scalarOps, elementOps int) int {
	scalarCycles := int(math.Ceil(float64(scalarOps) / float64(spu.NumIntegerALUs)))
	elementCycles := int(math.Ceil(float64(elementOps) / float64(spu.VectorWidth)))

	cycles := scalarCycles
	if elementCycles > cycles {
		cycles = elementCycles
	}
	if cycles < 1 {
		cycles = 1
	}
	return cycles
}

// VPUUnit models the vector PE: lanes processed per cycle, issue width and
// pipeline latency.
type VPUUnit struct {
	vectorLanes int
	issueWidth  int
	latency     int
}

func NewVPUUnit(vectorLanes, issueWidth, latency int) VPUUnit {
	if vectorLanes <= 0 {
		vectorLanes = 64
	}
	if issueWidth <= 0 {
		issueWidth = 2
	}
	if latency <= 0 {
		latency = 4
	}
	return VPUUnit{vectorLanes: vectorLanes, issueWidth: issueWidth, latency: latency}
}

func (unit VPUUnit) VectorThroughput() int {
	return unit.vectorLanes
}

// EstimateCycles covers lanes×iterations×ops lane operations.
func (unit VPUUnit) EstimateCycles(lanes, iterations, ops int) int {
	work := lanes * iterations * ops
	perCycle := unit.vectorLanes * unit.issueWidth
	cycles := unit.latency + int(math.Ceil(float64(work)/float64(perCycle)))
	if cycles < 1 {
		cycles = 1
	}
	return cycles
}

type LatencyConfig struct {
	ArrayRows           int
	ArrayCols           int
	IntALUs             int
	VectorLanes         int
	VectorIssue         int
	BridgeBytesPerCycle int64
	BridgeCapacity      int64
	Jitter              int
	Seed                int64
}

func DefaultLatencyConfig() LatencyConfig {
	return LatencyConfig{
		ArrayRows:           8,
		ArrayCols:           8,
		IntALUs:             2,
		VectorLanes:         16,
		VectorIssue:         2,
		BridgeBytesPerCycle: 64,
		BridgeCapacity:      64 * 1024,
		Jitter:              0,
		Seed:                1,
	}
}

// LatencyModel assigns every launched command the number of cycles its PE
// stays busy. Jitter adds a seeded random delay so tests can shake up the
// completion order while staying reproducible.
type LatencyModel struct {
	array  PEArray
	spu    SPUCluster
	vpu    VPUUnit
	bridge *Buffer
	jitter int
	rng    *rand.Rand
}

func NewLatencyModel(config LatencyConfig, bridge *Buffer) *LatencyModel {
	return &LatencyModel{
		array:  NewPEArray(config.ArrayRows, config.ArrayCols),
		spu:    NewSPUCluster(config.IntALUs, config.VectorLanes),
		vpu:    NewVPUUnit(config.VectorLanes, config.VectorIssue, 4),
		bridge: bridge,
		jitter: config.Jitter,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

func (m *LatencyModel) Array() PEArray {
	return m.array
}

// Cycles estimates cmd's occupancy given its resolved operands.
func (m *LatencyModel) Cycles(cmd *block.Command, ops Operands) int {
	cycles := 1
	switch cmd.Type {
	case block.TypeScalar:
		cycles = m.spu.EstimateMicroOpCycles(len(cmd.Body)+1, 0)
	case block.TypeTemplate:
		length := 0
		if len(ops.Values) > 2 {
			length = int(ops.Values[2])
		}
		cycles = m.spu.EstimateMicroOpCycles(length/templateStepBytes+1, 0)
	case block.TypeVector:
		cycles = m.vpu.EstimateCycles(int(cmd.Loop.Lanes), int(cmd.Loop.Iterations), len(cmd.Body))
	case block.TypeCube:
		cycles = m.array.EstimateMatmulCycles(int(cmd.Shape.M), int(cmd.Shape.N), int(cmd.Shape.K))
	case block.TypeTAU:
		cycles = m.spu.EstimateMicroOpCycles(1, int(cmd.Bytes()/4))
	case block.TypeTMA:
		cycles = m.bridge.TransferCycles(tmaBytes(cmd))
	case block.TypeGeneric:
		cycles = 4 + int(cmd.Bytes()/64)
	}

	if m.jitter > 0 {
		cycles += m.rng.Intn(m.jitter + 1)
	}
	return cycles
}
