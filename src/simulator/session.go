package simulator

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"bccsim/src/misc"
	"bccsim/src/simulator/bcc"
	"bccsim/src/simulator/bcc/block"
	"bccsim/src/simulator/bcc/memory"
	"bccsim/src/simulator/bcc/program"

	"github.com/davecgh/go-spew/spew"
)

var ErrReferenceMismatch = errors.New("core state differs from the sequential reference")

var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// session is one program on one core. Both platforms drive a session; they
// differ only in how Cycle is called.
type session struct {
	config  *bcc.Config
	program *program.Program
	core    *bcc.Core

	verify      bool
	bin_dirpath string
	verbose     int

	run_err    error
	verify_err error
}

func loadProgram(parser *misc.CommandLineParser) (*program.Program, error) {
	if path := strings.TrimSpace(parser.StringParameter("program")); path != "" {
		return program.Load(misc.ResolvePath(path, ""))
	}

	library := program.NewLibrary().
		WithCopySize(uint64(parser.IntParameter("copy_size"))).
		WithLoopTrip(uint64(parser.IntParameter("loop_trip")))
	return library.ByName(parser.StringParameter("kernel"))
}

// trapHandler maps trap_policy onto a handler. "grow" lifts the memory limit
// to the configured size and resumes, but only once per faulting block.
func trapHandler(policy string, memory_bytes uint64) bcc.TrapHandler {
	switch policy {
	case "skip":
		return func(*bcc.Core, *block.TrapError) bcc.TrapAction {
			return bcc.TrapSkip
		}
	case "grow":
		grown := make(map[uint64]bool)
		return func(core *bcc.Core, trap *block.TrapError) bcc.TrapAction {
			if trap.Fault.Cause != block.CauseAccessFault || grown[trap.PC] {
				return bcc.TrapHalt
			}
			grown[trap.PC] = true
			core.SetMemoryLimit(memory_bytes)
			return bcc.TrapResume
		}
	default:
		return nil
	}
}

func newSession(parser *misc.CommandLineParser) *session {
	config_loader := new(misc.ConfigLoader)
	config_loader.Init()

	config := bcc.LoadConfig(config_loader)
	config.Validate()

	program_, err := loadProgram(parser)
	if err != nil {
		panic(err)
	}

	core, err := bcc.NewCore(config, program_)
	if err != nil {
		panic(err)
	}
	core.SetTrapHandler(trapHandler(parser.StringParameter("trap_policy"), config.MemoryBytes))

	return &session{
		config:      config,
		program:     program_,
		core:        core,
		verify:      parser.IntParameter("verify") != 0,
		bin_dirpath: parser.StringParameter("bin_dirpath"),
		verbose:     misc.RuntimeVerbose(),
	}
}

func (this *session) cycleLimitHit() bool {
	return this.config.MaxCycles > 0 && this.core.Stats().Cycles >= this.config.MaxCycles
}

func (this *session) IsFinished() bool {
	return this.core.IsFinished() || this.run_err != nil
}

func (this *session) Cycle() {
	if this.IsFinished() {
		return
	}
	if this.cycleLimitHit() {
		this.run_err = fmt.Errorf("%w: %d cycles", bcc.ErrCycleLimit, this.core.Stats().Cycles)
		return
	}
	this.core.Cycle()
}

// finish records how the run ended and checks it against the reference.
func (this *session) finish() {
	if trap, halted := this.core.Halted(); halted && this.run_err == nil {
		this.run_err = trap
	}
	if !this.verify || this.run_err != nil {
		return
	}

	reference, err := bcc.NewReference(this.config, this.program)
	if err != nil {
		this.verify_err = err
		return
	}
	if err := reference.Run(); err != nil {
		this.verify_err = fmt.Errorf("reference: %w", err)
		return
	}
	if !this.core.Store().Snapshot().Equal(reference.Snapshot()) {
		this.verify_err = ErrReferenceMismatch
		return
	}
	// The core may also hold a trap frame; only pages the reference wrote
	// are compared.
	for _, base := range reference.Memory().Memory().Touched() {
		got, err := this.core.Memory().Read(base, memory.PageSize)
		if err != nil {
			this.verify_err = err
			return
		}
		want, _ := reference.Memory().Read(base, memory.PageSize)
		if !bytes.Equal(got, want) {
			this.verify_err = fmt.Errorf("%w: page 0x%x", ErrReferenceMismatch, base)
			return
		}
	}
}

func (this *session) summary() []string {
	stats := this.core.Stats()
	lines := []string{
		fmt.Sprintf("program: %s", this.program.Name),
		fmt.Sprintf("cycles: %d", stats.Cycles),
		fmt.Sprintf("blocks retired: %d", stats.Retired),
		fmt.Sprintf("blocks failed: %d", stats.Failed),
		fmt.Sprintf("blocks flushed: %d", stats.Flushed),
		fmt.Sprintf("mispredicts: %d", stats.Mispredicts),
		fmt.Sprintf("traps: %d", stats.Traps),
		fmt.Sprintf("micro-ops: %d", stats.MicroOps),
	}
	if stats.Cycles > 0 {
		lines = append(lines, fmt.Sprintf("blocks per cycle: %.3f", float64(stats.Retired)/float64(stats.Cycles)))
	}

	if this.run_err != nil {
		lines = append(lines, fmt.Sprintf("result: %v", this.run_err))
	} else {
		lines = append(lines, "result: exit")
	}
	switch {
	case !this.verify:
	case this.verify_err != nil:
		lines = append(lines, fmt.Sprintf("verify: %v", this.verify_err))
	case this.run_err == nil:
		lines = append(lines, "verify: ok")
	}
	return lines
}

func (this *session) registers() []string {
	snapshot := this.core.Store().Snapshot()
	lines := make([]string, 0)
	for reg, value := range snapshot.GPRs {
		if value != 0 {
			lines = append(lines, fmt.Sprintf("r%d = %d (0x%x)", reg, value, value))
		}
	}

	ids := make([]int, 0, len(snapshot.SSRs))
	for id := range snapshot.SSRs {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	for _, id := range ids {
		lines = append(lines, fmt.Sprintf("ssr[0x%04x] = 0x%x", id, snapshot.SSRs[uint16(id)]))
	}
	return lines
}

func (this *session) Dump() {
	this.finish()

	for _, line := range this.summary() {
		fmt.Println(line)
	}
	if this.verbose >= 1 {
		for _, line := range this.registers() {
			fmt.Println(line)
		}
	}

	summary_dumper := new(misc.FileDumper)
	summary_dumper.Init(filepath.Join(this.bin_dirpath, "summary.txt"))
	summary_dumper.WriteLines(append(this.summary(), this.registers()...))

	stats_dumper := new(misc.FileDumper)
	stats_dumper.Init(filepath.Join(this.bin_dirpath, "stats.txt"))
	stats_dumper.WriteLines([]string{
		"core:", dumpConfig.Sdump(this.core.Stats()),
		"rename:", dumpConfig.Sdump(this.core.RenameStats()),
		"brob:", dumpConfig.Sdump(this.core.BrobStats()),
		"dispatch:", dumpConfig.Sdump(this.core.DispatchStats()),
		"memory:", dumpConfig.Sdump(this.core.Memory().Stats()),
		"tma:", dumpConfig.Sdump(this.core.TMAStats()),
		"stations:", dumpConfig.Sdump(this.core.Router().Stats()),
	})

	config_dumper := new(misc.FileDumper)
	config_dumper.Init(filepath.Join(this.bin_dirpath, "config.txt"))
	config_dumper.WriteLines([]string{dumpConfig.Sdump(this.config)})
}

func (this *session) Fini() {
	this.core.Fini()
}
