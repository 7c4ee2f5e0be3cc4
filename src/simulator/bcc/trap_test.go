package bcc_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"bccsim/src/simulator/bcc"
	"bccsim/src/simulator/bcc/block"
	"bccsim/src/simulator/bcc/pe"
	"bccsim/src/simulator/bcc/program"
)

var _ = Describe("Trap handling", func() {
	const saveArea = 0x4800

	var (
		config *bcc.Config
		core   *bcc.Core
		traps  []*block.TrapError
	)

	BeforeEach(func() {
		config = bcc.DefaultConfig()
		config.Jitter = 2
		traps = nil
	})

	AfterEach(func() {
		if core != nil {
			core.Fini()
			core = nil
		}
	})

	build := func(p *program.Program) {
		p.SSRs = append(p.SSRs, program.SSRPreset{ID: block.SSRBStateSave, Value: saveArea})
		var err error
		core, err = bcc.NewCore(config, p)
		Expect(err).NotTo(HaveOccurred())
	}

	Describe("a template copy running into the memory limit", func() {
		BeforeEach(func() {
			build(program.NewLibrary().WithCopySize(48).Memcpy())
			core.SetMemoryLimit(program.CopyDst + 24)
		})

		It("resumes from its saved step once the handler maps the page", func() {
			core.SetTrapHandler(func(c *bcc.Core, trap *block.TrapError) bcc.TrapAction {
				traps = append(traps, trap)

				frame, err := c.TrapFrame()
				Expect(err).NotTo(HaveOccurred())
				step, done, ok := pe.TemplateProgress(frame.Locals[0].Local)
				Expect(ok).To(BeTrue())
				Expect(step).To(Equal(uint32(3)))
				Expect(done).To(Equal(uint64(24)))

				c.SetMemoryLimit(config.MemoryBytes)
				return bcc.TrapResume
			})

			Expect(core.Run()).To(Succeed())
			Expect(traps).To(HaveLen(1))
			Expect(traps[0].Fault.Cause).To(Equal(block.CauseAccessFault))
			Expect(core.Stats().Traps).To(Equal(uint64(1)))

			src, err := core.Memory().Read(program.CopySrc, 48)
			Expect(err).NotTo(HaveOccurred())
			dst, err := core.Memory().Read(program.CopyDst, 48)
			Expect(err).NotTo(HaveOccurred())
			Expect(dst).To(Equal(src))
			Expect(core.Store().ReadSSR(block.SSREBArg)).To(Equal(program.CopyDst + 24))
		})

		It("leaves the copy half done when the handler skips the block", func() {
			core.SetTrapHandler(func(c *bcc.Core, trap *block.TrapError) bcc.TrapAction {
				traps = append(traps, trap)
				return bcc.TrapSkip
			})

			Expect(core.Run()).To(Succeed())
			Expect(traps).To(HaveLen(1))

			src, _ := core.Memory().Read(program.CopySrc, 24)
			dst, err := core.Memory().Read(program.CopyDst, 24)
			Expect(err).NotTo(HaveOccurred())
			Expect(dst).To(Equal(src))
		})

		It("halts with the trap when the handler gives up", func() {
			core.SetTrapHandler(func(*bcc.Core, *block.TrapError) bcc.TrapAction {
				return bcc.TrapHalt
			})

			err := core.Run()
			Expect(err).To(MatchError(block.ErrAccessFault))
			trap, halted := core.Halted()
			Expect(halted).To(BeTrue())
			Expect(trap.PC).To(Equal(core.Store().ReadSSR(block.SSREBPC)))
		})
	})

	Describe("a software trap in a scalar block", func() {
		It("continues past the block when the handler skips it", func() {
			b := program.NewBuilder("soft", 0x100)
			b.Preset(1, 0)
			b.Add(block.Descriptor{
				Type:    block.TypeScalar,
				LiveIn:  []block.Reg{1},
				LiveOut: []block.Reg{1},
				Body: []block.MicroOp{
					block.Op(block.OpAdd, block.R(1), block.R(1), block.Imm(1)),
				},
			})
			trapper := b.Add(block.Descriptor{
				Type: block.TypeScalar,
				Body: []block.MicroOp{
					{Op: block.OpTrap, Imm: 3},
				},
			})
			build(b.Build())

			core.SetTrapHandler(func(c *bcc.Core, trap *block.TrapError) bcc.TrapAction {
				traps = append(traps, trap)
				Expect(trap.PC).To(Equal(trapper.PC))
				return bcc.TrapSkip
			})

			Expect(core.Run()).To(Succeed())
			Expect(traps).To(HaveLen(1))
			Expect(traps[0].Fault.Cause).To(Equal(block.CauseSoftware))
			Expect(core.Store().ReadSSR(block.SSREBArg)).To(Equal(uint64(3)))

			r1, _ := core.Store().ReadGPR(1)
			Expect(r1).To(Equal(uint64(1)))
		})

		It("fetches past a skipped instruction-stream barrier", func() {
			config.MaxCycles = 2000
			b := program.NewBuilder("soft.synci", 0x100)
			b.Add(block.Descriptor{
				Type:  block.TypeScalar,
				Attrs: block.AttrSyncI,
				Body: []block.MicroOp{
					{Op: block.OpTrap, Imm: 9},
				},
			})
			b.Add(block.Descriptor{
				Type:    block.TypeScalar,
				LiveOut: []block.Reg{2},
				Body:    []block.MicroOp{block.Op(block.OpMov, block.R(2), block.Imm(40))},
			})
			build(b.Build())

			core.SetTrapHandler(func(c *bcc.Core, trap *block.TrapError) bcc.TrapAction {
				traps = append(traps, trap)
				return bcc.TrapSkip
			})

			Expect(core.Run()).To(Succeed())
			Expect(traps).To(HaveLen(1))
			Expect(core.Store().ReadSSR(block.SSREBArg)).To(Equal(uint64(9)))

			r2, _ := core.Store().ReadGPR(2)
			Expect(r2).To(Equal(uint64(40)))
		})
	})
})
