package simulator

import "bccsim/src/misc"

// FunctionalPlatform advances the core by one clock per Cycle call.
type FunctionalPlatform struct {
	session *session
}

func (this *FunctionalPlatform) Init(command_line_parser *misc.CommandLineParser) {
	this.session = newSession(command_line_parser)
}

func (this *FunctionalPlatform) Fini() {
	this.session.Fini()
}

func (this *FunctionalPlatform) IsFinished() bool {
	return this.session.IsFinished()
}

func (this *FunctionalPlatform) Cycle() {
	this.session.Cycle()
}

func (this *FunctionalPlatform) Dump() {
	this.session.Dump()
}
