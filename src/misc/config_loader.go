package misc

import (
	"os"
	"path/filepath"
	"strings"
)

type ConfigLoader struct{}

type bccRuntimeConfig struct {
	numGprs            int
	tileDepth          int
	physTiles          int
	brobEntries        int
	fetchWidth         int
	retireWidth        int
	memoryBytes        uint64
	saveArea           uint64
	maxLanes           int
	arrayRows          int
	arrayCols          int
	intAlus            int
	vectorLanes        int
	vectorIssue        int
	bridgeBandwidth    int64
	bridgeCapacity     int64
	stationCapacity    int
	stationParallelism int
	jitter             int
	seed               int64
	maxCycles          uint64
	engineFrequencyMhz int
}

var globalBccConfig = bccRuntimeConfig{
	numGprs:            32,
	tileDepth:          8,
	physTiles:          48,
	brobEntries:        32,
	fetchWidth:         2,
	retireWidth:        2,
	memoryBytes:        1 << 20,
	saveArea:           0xF0000,
	maxLanes:           16,
	arrayRows:          8,
	arrayCols:          8,
	intAlus:            2,
	vectorLanes:        16,
	vectorIssue:        2,
	bridgeBandwidth:    64,
	bridgeCapacity:     64 * 1024,
	stationCapacity:    4,
	stationParallelism: 2,
	jitter:             0,
	seed:               1,
	maxCycles:          1_000_000,
	engineFrequencyMhz: 1000,
}

// ConfigureRuntime copies the parsed command line into the process-wide
// configuration read by ConfigLoader.
func ConfigureRuntime(parser *CommandLineParser) {
	if parser == nil {
		return
	}

	if mode, ok := PlatformModeFromString(parser.StringParameter("platform_mode")); ok {
		SetRuntimePlatformMode(mode)
	}
	SetRuntimeVerbose(int(parser.IntParameter("verbose")))

	globalBccConfig.numGprs = int(parser.IntParameter("bcc_num_gprs"))
	globalBccConfig.tileDepth = int(parser.IntParameter("bcc_tile_depth"))
	globalBccConfig.physTiles = int(parser.IntParameter("bcc_phys_tiles"))
	globalBccConfig.brobEntries = int(parser.IntParameter("bcc_brob_entries"))
	globalBccConfig.fetchWidth = int(parser.IntParameter("bcc_fetch_width"))
	globalBccConfig.retireWidth = int(parser.IntParameter("bcc_retire_width"))
	globalBccConfig.memoryBytes = uint64(parser.IntParameter("bcc_memory_bytes"))
	globalBccConfig.saveArea = uint64(parser.IntParameter("bcc_save_area"))
	globalBccConfig.maxLanes = int(parser.IntParameter("bcc_max_lanes"))
	globalBccConfig.arrayRows = int(parser.IntParameter("bcc_array_rows"))
	globalBccConfig.arrayCols = int(parser.IntParameter("bcc_array_cols"))
	globalBccConfig.intAlus = int(parser.IntParameter("bcc_int_alus"))
	globalBccConfig.vectorLanes = int(parser.IntParameter("bcc_vector_lanes"))
	globalBccConfig.vectorIssue = int(parser.IntParameter("bcc_vector_issue"))
	globalBccConfig.bridgeBandwidth = parser.IntParameter("bcc_bridge_bandwidth")
	globalBccConfig.bridgeCapacity = parser.IntParameter("bcc_bridge_capacity")
	globalBccConfig.stationCapacity = int(parser.IntParameter("bcc_station_capacity"))
	globalBccConfig.stationParallelism = int(parser.IntParameter("bcc_station_parallelism"))
	globalBccConfig.jitter = int(parser.IntParameter("bcc_jitter"))
	globalBccConfig.seed = parser.IntParameter("bcc_seed")
	globalBccConfig.maxCycles = uint64(parser.IntParameter("bcc_max_cycles"))
	globalBccConfig.engineFrequencyMhz = int(parser.IntParameter("engine_frequency_mhz"))
}

func (this *ConfigLoader) Init() {}

func (this *ConfigLoader) Verbose() bool {
	return RuntimeVerbose() >= 2
}

func (this *ConfigLoader) BccNumGprs() int {
	return globalBccConfig.numGprs
}

func (this *ConfigLoader) BccTileDepth() int {
	return globalBccConfig.tileDepth
}

func (this *ConfigLoader) BccPhysTiles() int {
	return globalBccConfig.physTiles
}

func (this *ConfigLoader) BccBrobEntries() int {
	return globalBccConfig.brobEntries
}

func (this *ConfigLoader) BccFetchWidth() int {
	return globalBccConfig.fetchWidth
}

func (this *ConfigLoader) BccRetireWidth() int {
	return globalBccConfig.retireWidth
}

func (this *ConfigLoader) BccMemoryBytes() uint64 {
	return globalBccConfig.memoryBytes
}

func (this *ConfigLoader) BccSaveArea() uint64 {
	return globalBccConfig.saveArea
}

func (this *ConfigLoader) BccMaxLanes() int {
	return globalBccConfig.maxLanes
}

func (this *ConfigLoader) BccArrayRows() int {
	return globalBccConfig.arrayRows
}

func (this *ConfigLoader) BccArrayCols() int {
	return globalBccConfig.arrayCols
}

func (this *ConfigLoader) BccIntAlus() int {
	return globalBccConfig.intAlus
}

func (this *ConfigLoader) BccVectorLanes() int {
	return globalBccConfig.vectorLanes
}

func (this *ConfigLoader) BccVectorIssue() int {
	return globalBccConfig.vectorIssue
}

func (this *ConfigLoader) BccBridgeBandwidth() int64 {
	return globalBccConfig.bridgeBandwidth
}

func (this *ConfigLoader) BccBridgeCapacity() int64 {
	return globalBccConfig.bridgeCapacity
}

func (this *ConfigLoader) BccStationCapacity() int {
	return globalBccConfig.stationCapacity
}

func (this *ConfigLoader) BccStationParallelism() int {
	return globalBccConfig.stationParallelism
}

func (this *ConfigLoader) BccJitter() int {
	return globalBccConfig.jitter
}

func (this *ConfigLoader) BccSeed() int64 {
	return globalBccConfig.seed
}

func (this *ConfigLoader) BccMaxCycles() uint64 {
	return globalBccConfig.maxCycles
}

func (this *ConfigLoader) EngineFrequencyMhz() int {
	return globalBccConfig.engineFrequencyMhz
}

// ResolvePath anchors a relative path at root. Empty stays empty.
func ResolvePath(path string, root string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}

	if root == "" {
		if wd, err := os.Getwd(); err == nil {
			root = wd
		}
	}
	return filepath.Join(root, trimmed)
}
