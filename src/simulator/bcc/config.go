package bcc

import (
	"errors"

	"bccsim/src/misc"
	"bccsim/src/simulator/bcc/block"
	"bccsim/src/simulator/bcc/pe"
	"bccsim/src/simulator/bcc/state"
)

// Config bundles the runtime parameters of one block control core.
type Config struct {
	NumGPRs            int
	TileDepth          int
	PhysTiles          int
	BrobEntries        int
	FetchWidth         int
	RetireWidth        int
	MemoryBytes        uint64
	SaveArea           uint64
	MaxLanes           int
	ArrayRows          int
	ArrayCols          int
	IntALUs            int
	VectorLanes        int
	VectorIssue        int
	BridgeBandwidth    int64
	BridgeCapacity     int64
	StationCapacity    int
	StationParallelism int
	Jitter             int
	Seed               int64
	MaxCycles          uint64
	Verbose            bool
}

func DefaultConfig() *Config {
	return &Config{
		NumGPRs:            32,
		TileDepth:          8,
		PhysTiles:          48,
		BrobEntries:        32,
		FetchWidth:         2,
		RetireWidth:        2,
		MemoryBytes:        1 << 20,
		SaveArea:           0xF0000,
		MaxLanes:           16,
		ArrayRows:          8,
		ArrayCols:          8,
		IntALUs:            2,
		VectorLanes:        16,
		VectorIssue:        2,
		BridgeBandwidth:    64,
		BridgeCapacity:     64 * 1024,
		StationCapacity:    4,
		StationParallelism: 2,
		Jitter:             0,
		Seed:               1,
		MaxCycles:          1_000_000,
	}
}

// LoadConfig pulls core parameters from the shared ConfigLoader.
func LoadConfig(loader *misc.ConfigLoader) *Config {
	config := new(Config)

	config.NumGPRs = loader.BccNumGprs()
	config.TileDepth = loader.BccTileDepth()
	config.PhysTiles = loader.BccPhysTiles()
	config.BrobEntries = loader.BccBrobEntries()
	config.FetchWidth = loader.BccFetchWidth()
	config.RetireWidth = loader.BccRetireWidth()
	config.MemoryBytes = loader.BccMemoryBytes()
	config.SaveArea = loader.BccSaveArea()
	config.MaxLanes = loader.BccMaxLanes()
	config.ArrayRows = loader.BccArrayRows()
	config.ArrayCols = loader.BccArrayCols()
	config.IntALUs = loader.BccIntAlus()
	config.VectorLanes = loader.BccVectorLanes()
	config.VectorIssue = loader.BccVectorIssue()
	config.BridgeBandwidth = loader.BccBridgeBandwidth()
	config.BridgeCapacity = loader.BccBridgeCapacity()
	config.StationCapacity = loader.BccStationCapacity()
	config.StationParallelism = loader.BccStationParallelism()
	config.Jitter = loader.BccJitter()
	config.Seed = loader.BccSeed()
	config.MaxCycles = loader.BccMaxCycles()
	config.Verbose = loader.Verbose()

	return config
}

// Validate panics on parameters the core cannot be built with.
func (c *Config) Validate() {
	if c.NumGPRs <= 0 || c.NumGPRs > 256 {
		panic(errors.New("num_gprs must be in (0, 256]"))
	}
	if c.TileDepth <= 0 {
		panic(errors.New("tile_depth <= 0"))
	}
	if c.PhysTiles < block.NumHands*c.TileDepth {
		panic(errors.New("phys_tiles < architectural tiles"))
	}
	if c.BrobEntries <= 0 {
		panic(errors.New("brob_entries <= 0"))
	}
	if c.FetchWidth <= 0 {
		panic(errors.New("fetch_width <= 0"))
	}
	if c.RetireWidth <= 0 {
		panic(errors.New("retire_width <= 0"))
	}
	if c.StationCapacity <= 0 {
		panic(errors.New("station_capacity <= 0"))
	}
	if c.Jitter < 0 {
		panic(errors.New("jitter < 0"))
	}
}

func (c *Config) StateConfig() state.Config {
	return state.Config{
		NumGPRs:   c.NumGPRs,
		TileHands: block.NumHands,
		TileDepth: c.TileDepth,
		PhysTiles: c.PhysTiles,
	}
}

func (c *Config) Limits() block.Limits {
	return block.Limits{
		NumGPRs:   c.NumGPRs,
		TileHands: block.NumHands,
		TileDepth: c.TileDepth,
		MaxLanes:  c.MaxLanes,
	}
}

func (c *Config) LatencyConfig() pe.LatencyConfig {
	return pe.LatencyConfig{
		ArrayRows:           c.ArrayRows,
		ArrayCols:           c.ArrayCols,
		IntALUs:             c.IntALUs,
		VectorLanes:         c.VectorLanes,
		VectorIssue:         c.VectorIssue,
		BridgeBytesPerCycle: c.BridgeBandwidth,
		BridgeCapacity:      c.BridgeCapacity,
		Jitter:              c.Jitter,
		Seed:                c.Seed,
	}
}

// RouterConfig gives every station the same capacity, except the cube whose
// array runs one job at a time.
func (c *Config) RouterConfig() pe.Config {
	config := pe.Config{Latency: c.LatencyConfig()}
	for kind := block.PEScalar; kind <= block.PEGeneric; kind++ {
		config.Stations[kind] = pe.StationConfig{
			Capacity:    c.StationCapacity,
			Parallelism: c.StationParallelism,
		}
	}
	config.Stations[block.PECube].Parallelism = 1
	return config
}
