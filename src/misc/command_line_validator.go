package misc

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

type CommandLineValidator struct {
	command_line_parser *CommandLineParser
}

func (this *CommandLineValidator) Init(command_line_parser *CommandLineParser) {
	this.command_line_parser = command_line_parser
}

func (this *CommandLineValidator) Validate() {
	platform_mode := this.command_line_parser.StringParameter("platform_mode")
	if _, ok := PlatformModeFromString(platform_mode); !ok {
		err := fmt.Errorf("platform_mode %s is not supported", platform_mode)
		panic(err)
	}

	if this.command_line_parser.IntParameter("verbose") < 0 {
		err := errors.New("verbose < 0")
		panic(err)
	}

	switch trap_policy := this.command_line_parser.StringParameter("trap_policy"); trap_policy {
	case "halt", "skip", "grow":
	default:
		err := fmt.Errorf("trap_policy %s is not supported", trap_policy)
		panic(err)
	}

	program_path := strings.TrimSpace(this.command_line_parser.StringParameter("program"))
	kernel := strings.TrimSpace(this.command_line_parser.StringParameter("kernel"))
	if program_path == "" && kernel == "" {
		err := errors.New("either program or kernel must be given")
		panic(err)
	}
	if program_path != "" {
		if _, stat_err := os.Stat(program_path); os.IsNotExist(stat_err) {
			panic(fmt.Errorf("program %s does not exist", program_path))
		}
	}

	positives := []string{
		"bcc_num_gprs",
		"bcc_tile_depth",
		"bcc_phys_tiles",
		"bcc_brob_entries",
		"bcc_fetch_width",
		"bcc_retire_width",
		"bcc_memory_bytes",
		"bcc_max_lanes",
		"bcc_array_rows",
		"bcc_array_cols",
		"bcc_int_alus",
		"bcc_vector_lanes",
		"bcc_vector_issue",
		"bcc_bridge_bandwidth",
		"bcc_bridge_capacity",
		"bcc_station_capacity",
		"bcc_station_parallelism",
		"engine_frequency_mhz",
	}
	for _, name := range positives {
		if this.command_line_parser.IntParameter(name) <= 0 {
			err := fmt.Errorf("%s <= 0", name)
			panic(err)
		}
	}

	if this.command_line_parser.IntParameter("bcc_jitter") < 0 {
		err := errors.New("bcc_jitter < 0")
		panic(err)
	}

	if this.command_line_parser.IntParameter("bcc_max_cycles") < 0 {
		err := errors.New("bcc_max_cycles < 0")
		panic(err)
	}

	if this.command_line_parser.IntParameter("bcc_save_area") >= this.command_line_parser.IntParameter("bcc_memory_bytes") {
		err := errors.New("bcc_save_area >= bcc_memory_bytes")
		panic(err)
	}

	num_gprs := this.command_line_parser.IntParameter("bcc_num_gprs")
	if num_gprs > 256 {
		err := errors.New("bcc_num_gprs > 256")
		panic(err)
	}
}
