package simulator

import (
	"fmt"

	"bccsim/src/misc"
)

type Platform interface {
	Init(command_line_parser *misc.CommandLineParser)
	Fini()
	IsFinished() bool
	Cycle()
	Dump()
}

func newPlatformForMode(mode misc.PlatformMode) Platform {
	switch mode {
	case misc.PlatformModeFunctional:
		return new(FunctionalPlatform)
	case misc.PlatformModeEngine:
		return new(EnginePlatform)
	default:
		panic(fmt.Sprintf("unsupported platform mode: %s", mode))
	}
}
