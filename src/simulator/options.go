package simulator

import (
	"strconv"

	"bccsim/src/misc"
	"bccsim/src/simulator/bcc"
)

// RegisterOptions adds every option the simulator reads to parser. Defaults
// mirror bcc.DefaultConfig.
func RegisterOptions(parser *misc.CommandLineParser) {
	defaults := bcc.DefaultConfig()
	itoa := func(value int) string { return strconv.Itoa(value) }
	i64 := func(value int64) string { return strconv.FormatInt(value, 10) }
	u64 := func(value uint64) string { return strconv.FormatUint(value, 10) }

	// level 0: results only
	// level 1: level 0 + run summary
	// level 2: level 1 + every fetch, issue, completion and retirement
	parser.AddOption(misc.INT, "verbose", "0", "verbosity of the simulation")

	parser.AddOption(
		misc.STRING,
		"platform_mode",
		string(misc.DefaultPlatformMode()),
		"how the core is clocked (functional|engine)",
	)
	parser.AddOption(misc.INT, "engine_frequency_mhz", "1000", "core clock of the engine platform")

	parser.AddOption(misc.STRING, "program", "", "path of a JSON block program")
	parser.AddOption(misc.STRING, "kernel", "matmul8x8", "built-in kernel run when no program is given")
	parser.AddOption(misc.INT, "copy_size", "64", "bytes copied by the memcpy kernel")
	parser.AddOption(misc.INT, "loop_trip", "5", "trip count of the countdown kernel")
	parser.AddOption(misc.STRING, "trap_policy", "halt", "what the trap handler does (halt|skip|grow)")
	parser.AddOption(misc.INT, "verify", "1", "compare the final state against the sequential reference")
	parser.AddOption(misc.STRING, "bin_dirpath", "bin", "directory the dumps are written to")

	parser.AddOption(misc.INT, "bcc_num_gprs", itoa(defaults.NumGPRs), "number of general-purpose registers")
	parser.AddOption(misc.INT, "bcc_tile_depth", itoa(defaults.TileDepth), "SSA depth of each tile hand")
	parser.AddOption(misc.INT, "bcc_phys_tiles", itoa(defaults.PhysTiles), "number of physical tile slots")
	parser.AddOption(misc.INT, "bcc_brob_entries", itoa(defaults.BrobEntries), "block reorder buffer entries")
	parser.AddOption(misc.INT, "bcc_fetch_width", itoa(defaults.FetchWidth), "blocks fetched per cycle")
	parser.AddOption(misc.INT, "bcc_retire_width", itoa(defaults.RetireWidth), "blocks retired per cycle")
	parser.AddOption(misc.INT, "bcc_memory_bytes", u64(defaults.MemoryBytes), "top of addressable memory")
	parser.AddOption(misc.INT, "bcc_save_area", u64(defaults.SaveArea), "trap frame address when BSTATE_SAVE is unset")
	parser.AddOption(misc.INT, "bcc_max_lanes", itoa(defaults.MaxLanes), "widest vector block accepted")
	parser.AddOption(misc.INT, "bcc_array_rows", itoa(defaults.ArrayRows), "cube PE array rows")
	parser.AddOption(misc.INT, "bcc_array_cols", itoa(defaults.ArrayCols), "cube PE array columns")
	parser.AddOption(misc.INT, "bcc_int_alus", itoa(defaults.IntALUs), "scalar ALUs")
	parser.AddOption(misc.INT, "bcc_vector_lanes", itoa(defaults.VectorLanes), "physical vector lanes")
	parser.AddOption(misc.INT, "bcc_vector_issue", itoa(defaults.VectorIssue), "vector micro-ops issued per cycle")
	parser.AddOption(misc.INT, "bcc_bridge_bandwidth", i64(defaults.BridgeBandwidth), "tile DMA bytes per cycle")
	parser.AddOption(misc.INT, "bcc_bridge_capacity", i64(defaults.BridgeCapacity), "tile DMA staging bytes")
	parser.AddOption(misc.INT, "bcc_station_capacity", itoa(defaults.StationCapacity), "commands queued per PE")
	parser.AddOption(misc.INT, "bcc_station_parallelism", itoa(defaults.StationParallelism), "commands running per PE")
	parser.AddOption(misc.INT, "bcc_jitter", itoa(defaults.Jitter), "maximum random latency added per command")
	parser.AddOption(misc.INT, "bcc_seed", i64(defaults.Seed), "seed of the latency jitter")
	parser.AddOption(misc.INT, "bcc_max_cycles", u64(defaults.MaxCycles), "cycle limit, 0 for none")
}
