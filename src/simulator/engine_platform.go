package simulator

import (
	"fmt"

	"bccsim/src/misc"

	"github.com/sarchlab/akita/v4/sim"
)

// coreComponent clocks a session from an akita engine. Tick reports progress
// until the session finishes, so the engine drains once the program exits.
type coreComponent struct {
	*sim.TickingComponent

	session *session
	ticks   uint64
}

func (c *coreComponent) Tick() bool {
	if c.session.IsFinished() {
		return false
	}
	c.session.Cycle()
	c.ticks++
	return true
}

// EnginePlatform runs the core as a ticking component of a serial akita
// engine. The first Cycle call runs the engine to completion.
type EnginePlatform struct {
	engine    sim.Engine
	component *coreComponent
	session   *session
	ran       bool
}

func (this *EnginePlatform) Init(command_line_parser *misc.CommandLineParser) {
	config_loader := new(misc.ConfigLoader)
	config_loader.Init()

	this.session = newSession(command_line_parser)
	this.engine = sim.NewSerialEngine()

	this.component = &coreComponent{session: this.session}
	freq := sim.Freq(config_loader.EngineFrequencyMhz()) * sim.MHz
	this.component.TickingComponent = sim.NewTickingComponent("BCC", this.engine, freq, this.component)
}

func (this *EnginePlatform) Fini() {
	this.session.Fini()
}

func (this *EnginePlatform) IsFinished() bool {
	return this.ran || this.session.IsFinished()
}

func (this *EnginePlatform) Cycle() {
	if this.ran {
		return
	}
	this.ran = true

	this.component.TickLater()
	if err := this.engine.Run(); err != nil {
		panic(fmt.Errorf("engine: %w", err))
	}
}

// SimulatedTime is the engine time at which the core finished.
func (this *EnginePlatform) SimulatedTime() sim.VTimeInSec {
	return this.engine.CurrentTime()
}

func (this *EnginePlatform) Dump() {
	this.session.Dump()
	if this.session.verbose >= 1 {
		fmt.Printf("engine ticks: %d, simulated time: %.9fs\n", this.component.ticks, float64(this.SimulatedTime()))
	}
}
