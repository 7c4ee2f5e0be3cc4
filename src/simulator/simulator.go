package simulator

import "bccsim/src/misc"

// Simulator runs one block program on the platform picked by platform_mode.
//
// The functional platform advances the core by one clock per Cycle call. The
// engine platform schedules the core as a ticking component on an akita
// serial engine, so a single Cycle call drains the engine and runs the
// program to completion; simulated time is then available from the engine.
type Simulator struct {
	mode     misc.PlatformMode
	platform Platform
	steps    uint64
}

func (this *Simulator) Init(command_line_parser *misc.CommandLineParser) {
	this.mode = misc.RuntimePlatformMode()
	this.steps = 0

	platform := newPlatformForMode(this.mode)
	platform.Init(command_line_parser)

	this.platform = platform
}

func (this *Simulator) Mode() misc.PlatformMode {
	return this.mode
}

// Steps counts the Cycle calls that reached the platform.
func (this *Simulator) Steps() uint64 {
	return this.steps
}

func (this *Simulator) Fini() {
	if this.platform != nil {
		this.platform.Fini()
	}
}

func (this *Simulator) IsFinished() bool {
	if this.platform == nil {
		return true
	}

	return this.platform.IsFinished()
}

func (this *Simulator) Cycle() {
	if this.platform == nil || this.platform.IsFinished() {
		return
	}

	this.platform.Cycle()
	this.steps++
}

// Run cycles the platform until it reports the program finished.
func (this *Simulator) Run() {
	for !this.IsFinished() {
		this.Cycle()
	}
}

func (this *Simulator) Dump() {
	if this.platform != nil {
		this.platform.Dump()
	}
}
