// Package bcc is the block control core: it fetches block descriptors, renames
// their tiles, issues them to the processing elements out of order and
// retires them strictly in program order.
package bcc

import (
	"context"
	"errors"
	"fmt"

	"bccsim/src/simulator/bcc/block"
	"bccsim/src/simulator/bcc/brob"
	"bccsim/src/simulator/bcc/dispatch"
	"bccsim/src/simulator/bcc/memory"
	"bccsim/src/simulator/bcc/pe"
	"bccsim/src/simulator/bcc/program"
	"bccsim/src/simulator/bcc/rename"
	"bccsim/src/simulator/bcc/state"

	"golang.org/x/exp/slices"
)

var ErrCycleLimit = errors.New("cycle limit reached")

type Stats struct {
	Cycles         uint64
	Fetched        uint64
	Issued         uint64
	Retired        uint64
	Failed         uint64
	Flushed        uint64
	Mispredicts    uint64
	Traps          uint64
	RenameStalls   uint64
	BrobFullStalls uint64
	OperandStalls  uint64
	BusyRetries    uint64
	MicroOps       uint64
}

// windowEntry is an allocated block waiting to be issued to its PE.
type windowEntry struct {
	seq     uint64
	pending *dispatch.Pending
}

type Core struct {
	config  *Config
	program *program.Program
	ctx     context.Context
	cancel  context.CancelFunc

	store   *state.Store
	rename  *rename.Unit
	builder *dispatch.Builder
	brob    *brob.Buffer
	mou     *memory.Unit
	router  *pe.Router
	units   []pe.Unit

	window   []windowEntry
	fetchPC  uint64
	fetching bool
	syncWait uint64
	restore  map[uint64]state.Local

	handler TrapHandler
	halted  bool
	trapErr *block.TrapError
	stats   Stats
}

// NewCore builds a core for p and preloads p's registers, SSRs and memory.
func NewCore(config *Config, p *program.Program) (*Core, error) {
	config.Validate()
	if err := p.Index(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	store := state.NewStore(config.StateConfig())
	builder := dispatch.NewBuilder(store)
	mou := memory.NewUnit(memory.NewMemory(config.MemoryBytes))
	units := pe.DefaultUnits(config.LatencyConfig())

	c := &Core{
		config:   config,
		program:  p,
		ctx:      ctx,
		cancel:   cancel,
		store:    store,
		rename:   rename.New(store.ArchRings(), config.PhysTiles),
		builder:  builder,
		brob:     brob.New(config.BrobEntries),
		mou:      mou,
		router:   pe.NewRouter(ctx, config.RouterConfig(), units, builder, mou),
		units:    units,
		window:   make([]windowEntry, 0),
		fetchPC:  p.Entry,
		fetching: true,
		restore:  make(map[uint64]state.Local),
	}

	for _, preset := range p.Registers {
		if err := store.PresetGPR(uint8(preset.Reg), preset.Value); err != nil {
			cancel()
			return nil, fmt.Errorf("program %s: %w", p.Name, err)
		}
	}
	for _, preset := range p.SSRs {
		store.PresetSSR(preset.ID, preset.Value)
	}
	for _, segment := range p.Memory {
		if err := mou.Write(segment.Addr, segment.Bytes()); err != nil {
			cancel()
			return nil, fmt.Errorf("program %s: preload 0x%x: %w", p.Name, segment.Addr, err)
		}
	}
	return c, nil
}

// SetTrapHandler installs the routine invoked for every recoverable
// exception. Without one the core halts on the first exception.
func (c *Core) SetTrapHandler(handler TrapHandler) {
	c.handler = handler
}

func (c *Core) Store() *state.Store {
	return c.store
}

func (c *Core) Memory() *memory.Unit {
	return c.mou
}

func (c *Core) Router() *pe.Router {
	return c.router
}

// Generic returns the generic accelerator unit so callers can register
// their own accelerators.
func (c *Core) Generic() *pe.GenericUnit {
	for _, unit := range c.units {
		if generic, ok := unit.(*pe.GenericUnit); ok {
			return generic
		}
	}
	return nil
}

func (c *Core) Program() *program.Program {
	return c.program
}

func (c *Core) Stats() Stats {
	return c.stats
}

func (c *Core) TMAStats() pe.TransferStats {
	for _, unit := range c.units {
		if tma, ok := unit.(*pe.TMAUnit); ok {
			return tma.Totals()
		}
	}
	return pe.TransferStats{}
}

func (c *Core) RenameStats() rename.Stats {
	return c.rename.Stats()
}

func (c *Core) BrobStats() brob.Stats {
	return c.brob.Stats()
}

func (c *Core) DispatchStats() dispatch.Stats {
	return c.builder.Stats()
}

func (c *Core) logf(format string, args ...interface{}) {
	if c.config.Verbose {
		fmt.Printf("[bcc] %6d "+format+"\n", append([]interface{}{c.stats.Cycles}, args...)...)
	}
}

// Cycle advances the core by one clock: completions are collected, the head
// of the reorder buffer retires, ready blocks issue and new blocks are
// fetched.
func (c *Core) Cycle() {
	if c.halted {
		return
	}
	c.stats.Cycles++

	c.complete()
	c.retire()
	if c.halted {
		return
	}
	c.issue()
	c.fetch()
}

// IsFinished reports whether the program reached its exit or the core
// halted on a trap.
func (c *Core) IsFinished() bool {
	if c.halted {
		return true
	}
	return !c.fetching && c.fetchPC == c.program.Exit && c.brob.Empty()
}

func (c *Core) Halted() (*block.TrapError, bool) {
	return c.trapErr, c.halted
}

// Run cycles the core until it finishes, halts or exceeds MaxCycles.
func (c *Core) Run() error {
	for !c.IsFinished() {
		if c.config.MaxCycles > 0 && c.stats.Cycles >= c.config.MaxCycles {
			return fmt.Errorf("%w: %d cycles at pc 0x%x", ErrCycleLimit, c.stats.Cycles, c.fetchPC)
		}
		c.Cycle()
	}
	if c.trapErr != nil {
		return c.trapErr
	}
	return nil
}

// Fini stops every running job.
func (c *Core) Fini() {
	c.cancel()
	c.router.Fini()
}

func (c *Core) complete() {
	for _, resp := range c.router.Tick() {
		if err := c.brob.Complete(resp.Seq, resp); err != nil {
			c.logf("drop response of block %d: %v", resp.Seq, err)
			continue
		}
		entry, _ := c.brob.Lookup(resp.Seq)
		c.builder.Publish(entry.Command, resp)
		c.mou.Complete(resp.Seq)
		c.stats.MicroOps += uint64(resp.MicroOps)
		c.logf("complete %s %s -> 0x%x", entry.Command, resp.Outcome, resp.NextPC)
	}
}

func (c *Core) retire() {
	for n := 0; n < c.config.RetireWidth && !c.halted; n++ {
		head, ok := c.brob.Head()
		if !ok || !head.Status.Completed() {
			return
		}

		switch head.Response.Outcome {
		case block.OutcomeSuccess:
			c.retireSuccess(head)
		case block.OutcomeFail:
			c.retireFail(head)
		default:
			c.takeTrap(head)
			return
		}
	}
}

func (c *Core) retireSuccess(head *brob.Entry) {
	seq, resp, cmd := head.Seq, head.Response, head.Command
	if !c.program.IsBoundary(resp.NextPC) {
		c.illegalTarget(head, resp.NextPC)
		return
	}

	results := state.Results{Seq: seq}
	for i, out := range cmd.Outputs {
		results.Regs = append(results.Regs, state.RegWrite{Reg: uint8(out.Reg), Value: resp.Values[i]})
	}
	for _, out := range cmd.TilesOut {
		results.Tiles = append(results.Tiles, state.TilePush{Hand: int(out.Hand), Slot: out.Slot})
	}
	if err := c.mou.Commit(seq); err != nil {
		panic(fmt.Errorf("commit stores of %s: %w", cmd, err))
	}
	c.rename.Release(c.store.Commit(results))
	c.rename.Retire(seq)
	c.builder.Retire(seq)

	predicted := head.PredictedNext
	synci := head.Desc.Attrs.Has(block.AttrSyncI)
	if _, err := c.brob.Retire(); err != nil {
		panic(err)
	}
	c.stats.Retired++
	c.logf("retire %s", cmd)

	if resp.NextPC != predicted {
		c.stats.Mispredicts++
		c.logf("mispredict after block %d: 0x%x, predicted 0x%x", seq, resp.NextPC, predicted)
		c.flushFrom(seq + 1)
		c.redirect(resp.NextPC)
	}
	if synci && c.releaseSync(seq) {
		c.redirect(resp.NextPC)
	}
}

// releaseSync resumes fetch held by the SyncI block seq once it leaves the
// reorder buffer, whatever its outcome.
func (c *Core) releaseSync(seq uint64) bool {
	if c.syncWait != seq {
		return false
	}
	c.syncWait = 0
	return true
}

// retireFail retires a block whose PE declined it: nothing it produced
// becomes visible, younger blocks are squashed and control continues at the
// response's next PC.
func (c *Core) retireFail(head *brob.Entry) {
	seq, desc, nextPC := head.Seq, head.Desc, head.Response.NextPC
	if !c.program.IsBoundary(nextPC) {
		c.illegalTarget(head, nextPC)
		return
	}

	c.flushFrom(seq + 1)
	c.rename.Flush(seq)
	c.builder.Rollback(seq)
	c.mou.Discard(seq)
	if _, err := c.brob.Retire(); err != nil {
		panic(err)
	}
	c.releaseSync(seq)
	c.stats.Failed++
	c.logf("retire %s as failed", desc)
	c.redirect(nextPC)
}

// illegalTarget halts the core: head handed control to an address where no
// block starts. Nothing head produced is committed.
func (c *Core) illegalTarget(head *brob.Entry, target uint64) {
	seq, pc := head.Seq, head.Desc.PC
	fault := block.NewFault(block.CauseIllegalControlTarget, target, "%s continues into 0x%x", head.Desc, target)
	c.flushFrom(seq)
	c.fatal(seq, pc, fault)
}

// flushFrom squashes seq and every younger block. It is idempotent.
func (c *Core) flushFrom(seq uint64) {
	flushed := c.brob.FlushFrom(seq)
	for _, entry := range flushed {
		c.router.Cancel(entry.Seq)
	}
	c.rename.Flush(seq)
	c.builder.Rollback(seq)
	c.mou.Discard(seq)
	for _, entry := range flushed {
		c.store.Unbind(entry.Seq)
	}

	index := slices.IndexFunc(c.window, func(w windowEntry) bool { return w.seq >= seq })
	if index >= 0 {
		c.window = c.window[:index]
	}
	if c.syncWait >= seq {
		c.syncWait = 0
	}
	c.stats.Flushed += uint64(len(flushed))
}

func (c *Core) redirect(pc uint64) {
	c.fetchPC = pc
	c.fetching = true
}

// headOnly blocks wait for every older block to retire before they issue.
func headOnly(attrs block.Attr) bool {
	return attrs.Has(block.AttrBarrier) || attrs.Has(block.AttrAtomic) || attrs.Has(block.AttrRelease)
}

// ordersYounger blocks hold younger memory blocks until they retire.
func ordersYounger(attrs block.Attr) bool {
	return attrs.Has(block.AttrBarrier) || attrs.Has(block.AttrAtomic) || attrs.Has(block.AttrAcquire)
}

// issue walks the window in program order. A block that cannot go yet
// stays put while younger blocks are tried, except that nothing younger
// enters the station of a block held back until it reaches the head.
func (c *Core) issue() {
	held := make(map[block.PEKind]bool)
	remaining := c.window[:0]
	for _, w := range c.window {
		kind := w.pending.Desc.Type.PE()
		if held[kind] {
			remaining = append(remaining, w)
			continue
		}
		if !c.issueOne(w) {
			if headOnly(w.pending.Desc.Attrs) && !c.atHead(w.seq) {
				held[kind] = true
			}
			remaining = append(remaining, w)
		}
	}
	for i := len(remaining); i < len(c.window); i++ {
		c.window[i] = windowEntry{}
	}
	c.window = remaining
}

func (c *Core) atHead(seq uint64) bool {
	head, ok := c.brob.Head()
	return ok && head.Seq == seq
}

func (c *Core) issueOne(w windowEntry) bool {
	desc := w.pending.Desc
	if headOnly(desc.Attrs) && !c.atHead(w.seq) {
		return false
	}

	cmd, err := c.builder.Build(w.pending)
	switch {
	case dispatch.IsStall(err):
		c.stats.OperandStalls++
		return false
	case err != nil:
		c.brob.Fault(w.seq, block.FaultFromError(err, desc.PC))
		c.mou.Complete(w.seq)
		return true
	}

	if _, err := c.router.Dispatch(cmd); err != nil {
		if errors.Is(err, block.ErrResourceBusy) {
			c.stats.BusyRetries++
			return false
		}
		c.brob.Fault(w.seq, block.FaultFromError(err, desc.PC))
		c.mou.Complete(w.seq)
		return true
	}
	if err := c.brob.MarkExecuting(w.seq, cmd); err != nil {
		panic(err)
	}
	c.stats.Issued++
	c.logf("issue %s", cmd)
	return true
}

func (c *Core) fetch() {
	for n := 0; n < c.config.FetchWidth; n++ {
		if !c.fetching || c.syncWait != 0 {
			return
		}
		if c.fetchPC == c.program.Exit {
			c.fetching = false
			return
		}
		if c.brob.Full() {
			c.stats.BrobFullStalls++
			return
		}

		desc, ok := c.program.Lookup(c.fetchPC)
		if !ok {
			// On a predicted path an older block may still redirect.
			if c.brob.Empty() {
				c.fatal(0, c.fetchPC, block.NewFault(block.CauseIllegalControlTarget, c.fetchPC, "no block starts here"))
			}
			return
		}

		if err := desc.Validate(c.config.Limits()); err != nil {
			c.allocateFaulted(desc, block.FaultFromError(err, desc.PC))
			return
		}

		seq := c.brob.NextSeq()
		resolved, err := c.rename.Rename(seq, desc)
		if err != nil {
			if errors.Is(err, block.ErrRenameExhausted) && !c.brob.Empty() {
				c.stats.RenameStalls++
				return
			}
			c.allocateFaulted(desc, block.FaultFromError(err, desc.PC))
			return
		}

		predicted := desc.Predict()
		entry, err := c.brob.Allocate(desc, predicted)
		if err != nil {
			panic(err)
		}
		pending := c.builder.Reserve(entry.Seq, desc, resolved)
		if local, ok := c.restore[desc.PC]; ok {
			pending.Restore = local
			delete(c.restore, desc.PC)
		}
		if desc.TouchesMemory() || ordersYounger(desc.Attrs) {
			source := memory.SourceScalar
			if desc.Type == block.TypeTMA {
				source = memory.SourceBridge
			}
			c.mou.Register(entry.Seq, source, ordersYounger(desc.Attrs))
		}
		c.window = append(c.window, windowEntry{seq: entry.Seq, pending: pending})
		c.stats.Fetched++
		c.logf("fetch %s as block %d", desc, entry.Seq)

		c.fetchPC = predicted
		if desc.Attrs.Has(block.AttrSyncI) {
			c.syncWait = entry.Seq
			return
		}
	}
}

// allocateFaulted enters a block that can never execute so its exception is
// raised in program order. Fetch stops behind it.
func (c *Core) allocateFaulted(desc *block.Descriptor, fault *block.Fault) {
	entry, err := c.brob.Allocate(desc, desc.FallThrough())
	if err != nil {
		panic(err)
	}
	c.brob.Fault(entry.Seq, fault)
	c.fetching = false
	c.stats.Fetched++
	c.logf("fetch %s as block %d: %v", desc, entry.Seq, fault)
}
