package main

import (
	"fmt"
	"os"
	"path/filepath"

	"bccsim/src/misc"
	"bccsim/src/simulator"
)

func main() {
	command_line_parser := InitCommandLineParser()
	command_line_parser.Parse(os.Args)

	if command_line_parser.IsArgSet("help") {
		fmt.Printf("%s", command_line_parser.StringifyHelpMsgs())
		return
	}

	misc.ConfigureRuntime(command_line_parser)

	command_line_validator := new(misc.CommandLineValidator)
	command_line_validator.Init(command_line_parser)
	command_line_validator.Validate()

	bin_dirpath := command_line_parser.StringParameter("bin_dirpath")
	args_filepath := filepath.Join(bin_dirpath, "args.txt")
	options_filepath := filepath.Join(bin_dirpath, "options.txt")

	args_file_dumper := new(misc.FileDumper)
	args_file_dumper.Init(args_filepath)
	args_file_dumper.WriteLines([]string{command_line_parser.StringifyArgs()})

	options_file_dumper := new(misc.FileDumper)
	options_file_dumper.Init(options_filepath)
	options_file_dumper.WriteLines([]string{command_line_parser.StringifyOptions()})

	simulator_ := new(simulator.Simulator)
	simulator_.Init(command_line_parser)
	if misc.RuntimeVerbose() >= 1 {
		fmt.Printf("[bcc] running on the %s platform\n", simulator_.Mode())
	}

	simulator_.Run()

	simulator_.Dump()
	simulator_.Fini()
}

func InitCommandLineParser() *misc.CommandLineParser {
	command_line_parser := new(misc.CommandLineParser)
	command_line_parser.Init()

	simulator.RegisterOptions(command_line_parser)

	return command_line_parser
}
