package simulator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bccsim/src/misc"
	"bccsim/src/simulator/bcc"
	"bccsim/src/simulator/bcc/program"

	. "github.com/onsi/gomega"
)

func newTestParser(t *testing.T, args ...string) *misc.CommandLineParser {
	t.Helper()

	parser := new(misc.CommandLineParser)
	parser.Init()
	RegisterOptions(parser)
	parser.Parse(append([]string{"bccsim", "--bin_dirpath", t.TempDir()}, args...))

	misc.ConfigureRuntime(parser)
	t.Cleanup(func() {
		defaults := new(misc.CommandLineParser)
		defaults.Init()
		RegisterOptions(defaults)
		misc.ConfigureRuntime(defaults)
	})

	validator := new(misc.CommandLineValidator)
	validator.Init(parser)
	validator.Validate()
	return parser
}

func TestFunctionalPlatformRunsEveryKernel(t *testing.T) {
	for _, kernel := range program.NewLibrary().Names() {
		kernel := kernel
		t.Run(kernel, func(t *testing.T) {
			g := NewWithT(t)

			parser := newTestParser(t, "--kernel", kernel, "--bcc_jitter", "2")
			simulator_ := new(Simulator)
			simulator_.Init(parser)
			defer simulator_.Fini()
			g.Expect(simulator_.Mode()).To(Equal(misc.PlatformModeFunctional))

			simulator_.Run()
			simulator_.Dump()

			platform := simulator_.platform.(*FunctionalPlatform)
			g.Expect(platform.session.run_err).NotTo(HaveOccurred())
			g.Expect(platform.session.verify_err).NotTo(HaveOccurred())

			summary, err := os.ReadFile(filepath.Join(parser.StringParameter("bin_dirpath"), "summary.txt"))
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(string(summary)).To(ContainSubstring("verify: ok"))
			g.Expect(filepath.Join(parser.StringParameter("bin_dirpath"), "stats.txt")).To(BeARegularFile())
		})
	}
}

func TestEnginePlatformMatchesFunctionalPlatform(t *testing.T) {
	g := NewWithT(t)

	parser := newTestParser(t, "--kernel", "countdown", "--platform_mode", "engine", "--loop_trip", "9")
	engine := new(Simulator)
	engine.Init(parser)
	defer engine.Fini()
	g.Expect(engine.Mode()).To(Equal(misc.PlatformModeEngine))
	engine.Run()
	engine.Dump()

	platform := engine.platform.(*EnginePlatform)
	g.Expect(platform.session.run_err).NotTo(HaveOccurred())
	g.Expect(platform.session.verify_err).NotTo(HaveOccurred())
	g.Expect(platform.component.ticks).To(Equal(platform.session.core.Stats().Cycles))
	g.Expect(float64(platform.SimulatedTime())).To(BeNumerically(">", 0))
	g.Expect(engine.Steps()).To(Equal(uint64(1)))

	parser = newTestParser(t, "--kernel", "countdown", "--loop_trip", "9")
	functional := new(Simulator)
	functional.Init(parser)
	defer functional.Fini()
	functional.Run()

	want := functional.platform.(*FunctionalPlatform).session.core
	g.Expect(functional.Steps()).To(Equal(want.Stats().Cycles))
	g.Expect(platform.session.core.Stats().Cycles).To(Equal(want.Stats().Cycles))
	g.Expect(platform.session.core.Store().Snapshot().Equal(want.Store().Snapshot())).To(BeTrue())
}

func TestGrowPolicyRecoversFromAccessFault(t *testing.T) {
	g := NewWithT(t)

	parser := newTestParser(t, "--kernel", "memcpy", "--trap_policy", "grow", "--bcc_save_area", "0x3000")
	simulator_ := new(Simulator)
	simulator_.Init(parser)
	defer simulator_.Fini()

	session := simulator_.platform.(*FunctionalPlatform).session
	session.core.SetMemoryLimit(program.CopyDst + 8)
	simulator_.Run()
	simulator_.Dump()

	g.Expect(session.run_err).NotTo(HaveOccurred())
	g.Expect(session.verify_err).NotTo(HaveOccurred())
	g.Expect(session.core.Stats().Traps).To(Equal(uint64(1)))
}

func TestCycleLimitStopsTheRun(t *testing.T) {
	g := NewWithT(t)

	parser := newTestParser(t, "--kernel", "matmul8x8", "--bcc_max_cycles", "3")
	simulator_ := new(Simulator)
	simulator_.Init(parser)
	defer simulator_.Fini()
	simulator_.Run()
	simulator_.Dump()

	session := simulator_.platform.(*FunctionalPlatform).session
	g.Expect(session.run_err).To(MatchError(bcc.ErrCycleLimit))
	g.Expect(strings.Join(session.summary(), "\n")).To(ContainSubstring("cycle limit"))
}

func TestProgramFileIsLoaded(t *testing.T) {
	g := NewWithT(t)

	path := filepath.Join(t.TempDir(), "vecadd.json")
	g.Expect(program.NewLibrary().VectorAdd().Save(path)).To(Succeed())

	parser := newTestParser(t, "--program", path)
	simulator_ := new(Simulator)
	simulator_.Init(parser)
	defer simulator_.Fini()
	simulator_.Run()

	session := simulator_.platform.(*FunctionalPlatform).session
	r5, _ := session.core.Store().ReadGPR(5)
	g.Expect(r5).To(Equal(uint64(1840)))
}

func TestValidatorRejectsUnknownPolicy(t *testing.T) {
	g := NewWithT(t)

	g.Expect(func() { newTestParser(t, "--trap_policy", "ignore") }).To(Panic())
	g.Expect(func() { newTestParser(t, "--platform_mode", "upmem") }).To(Panic())
}
