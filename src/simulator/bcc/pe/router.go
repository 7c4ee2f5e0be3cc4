// Package pe holds the processing elements and the router that feeds them.
//
// Every PE kind has a station: an in-order queue, a number of jobs that may
// run at once and a capacity bound on queued plus running work. A launched
// job executes on its own goroutine; the router hands its response back only
// once the modeled latency has elapsed, so completions come out of Tick in a
// deterministic order.
package pe

import (
	"context"
	"errors"
	"fmt"

	"bccsim/src/simulator/bcc/block"
	"bccsim/src/simulator/bcc/memory"

	"golang.org/x/exp/slices"
)

var ErrCanceled = errors.New("command canceled by flush")

// Operands are the resolved register values and input tiles of a command,
// in the order of Command.Inputs and Command.TilesIn.
type Operands struct {
	Values []uint64
	Tiles  [][]byte
}

// Unit executes commands of one PE kind. Execute runs on a job goroutine and
// should return promptly once ctx is canceled.
type Unit interface {
	Kind() block.PEKind
	Execute(ctx context.Context, cmd *block.Command, ops Operands, port memory.Port) *block.Response
}

// Resolver resolves operands that were not ready when the command was
// built.
type Resolver interface {
	ResolveInput(in block.Input) (uint64, bool)
	ResolveTile(in block.TileInput) ([]byte, bool)
}

// Gate decides when a memory block may start and hands out its port.
type Gate interface {
	CanIssue(seq uint64) bool
	Port(seq uint64) memory.Port
}

type StationConfig struct {
	Capacity    int
	Parallelism int
}

type Config struct {
	Stations [block.NumPEKinds]StationConfig
	Latency  LatencyConfig
}

func DefaultConfig() Config {
	config := Config{Latency: DefaultLatencyConfig()}
	for kind := block.PEScalar; kind <= block.PEGeneric; kind++ {
		config.Stations[kind] = StationConfig{Capacity: 4, Parallelism: 2}
	}
	config.Stations[block.PECube] = StationConfig{Capacity: 2, Parallelism: 1}
	config.Stations[block.PETMA] = StationConfig{Capacity: 4, Parallelism: 2}
	return config
}

// Future is the completion handle of a dispatched command.
type Future struct {
	seq      uint64
	done     chan struct{}
	resp     *block.Response
	canceled bool
}

func newFuture(seq uint64) *Future {
	return &Future{seq: seq, done: make(chan struct{})}
}

func (f *Future) Seq() uint64 {
	return f.seq
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Response returns the result without blocking.
func (f *Future) Response() (*block.Response, bool) {
	select {
	case <-f.done:
		return f.resp, f.resp != nil
	default:
		return nil, false
	}
}

func (f *Future) Wait(ctx context.Context) (*block.Response, error) {
	select {
	case <-f.done:
		if f.canceled {
			return nil, ErrCanceled
		}
		return f.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) resolve(resp *block.Response) {
	f.resp = resp
	close(f.done)
}

func (f *Future) cancel() {
	f.canceled = true
	close(f.done)
}

type job struct {
	cmd      *block.Command
	station  *station
	future   *Future
	ctx      context.Context
	cancel   context.CancelFunc
	release  uint64
	staged   int64
	canceled bool
	done     chan struct{}
	resp     *block.Response
}

type StationStats struct {
	Dispatched uint64
	Busy       uint64
	Completed  uint64
	Canceled   uint64
	BusyCycles uint64
}

type station struct {
	unit    Unit
	config  StationConfig
	queue   jobQueue
	running []*job
	stats   StationStats
}

type Router struct {
	ctx      context.Context
	stations [block.NumPEKinds]*station
	resolver Resolver
	gate     Gate
	latency  *LatencyModel
	bridge   *Buffer
	jobs     map[uint64]*job
	clock    uint64
}

func NewRouter(ctx context.Context, config Config, units []Unit, resolver Resolver, gate Gate) *Router {
	bridge := NewBuffer("bridge", config.Latency.BridgeCapacity, config.Latency.BridgeBytesPerCycle)
	r := &Router{
		ctx:      ctx,
		resolver: resolver,
		gate:     gate,
		latency:  NewLatencyModel(config.Latency, bridge),
		bridge:   bridge,
		jobs:     make(map[uint64]*job),
	}

	for _, unit := range units {
		kind := unit.Kind()
		stationConfig := config.Stations[kind]
		if stationConfig.Capacity <= 0 {
			panic(fmt.Errorf("%s station capacity <= 0", kind))
		}
		if stationConfig.Parallelism <= 0 {
			stationConfig.Parallelism = 1
		}
		r.stations[kind] = &station{unit: unit, config: stationConfig}
	}
	return r
}

func (r *Router) Bridge() *Buffer {
	return r.bridge
}

// Dispatch queues cmd on its PE's station. A full station refuses the
// command with ErrResourceBusy and the caller retries later.
func (r *Router) Dispatch(cmd *block.Command) (*Future, error) {
	kind := cmd.PE()
	if kind <= block.PEInvalid || int(kind) >= block.NumPEKinds || r.stations[kind] == nil {
		return nil, block.NewFault(block.CauseUnsupported, cmd.PC, "no %s processing element", kind)
	}
	if _, ok := r.jobs[cmd.Seq]; ok {
		return nil, fmt.Errorf("block %d dispatched twice", cmd.Seq)
	}

	s := r.stations[kind]
	if s.queue.len()+len(s.running) >= s.config.Capacity {
		s.stats.Busy++
		return nil, fmt.Errorf("%w: %s station holds %d commands", block.ErrResourceBusy, kind, s.config.Capacity)
	}

	j := &job{cmd: cmd, station: s, future: newFuture(cmd.Seq)}
	s.queue.enqueue(j)
	r.jobs[cmd.Seq] = j
	s.stats.Dispatched++
	return j.future, nil
}

// Tick advances the router by one cycle: jobs whose latency elapsed are
// collected, then station heads with resolved operands are launched.
func (r *Router) Tick() []*block.Response {
	r.clock++
	responses := r.collect()
	for kind := range r.stations {
		if s := r.stations[kind]; s != nil {
			r.launch(s)
			if len(s.running) > 0 {
				s.stats.BusyCycles++
			}
		}
	}
	return responses
}

func (r *Router) collect() []*block.Response {
	ready := make([]*job, 0)
	for _, s := range r.stations {
		if s == nil {
			continue
		}
		running := s.running[:0]
		for _, j := range s.running {
			if j.release <= r.clock {
				ready = append(ready, j)
			} else {
				running = append(running, j)
			}
		}
		s.running = running
	}

	slices.SortFunc(ready, func(a, b *job) int {
		if a.release != b.release {
			return compare(a.release, b.release)
		}
		return compare(a.cmd.Seq, b.cmd.Seq)
	})

	responses := make([]*block.Response, 0, len(ready))
	for _, j := range ready {
		<-j.done
		r.bridge.Release(j.staged)
		j.cancel()
		if j.canceled {
			continue
		}

		delete(r.jobs, j.cmd.Seq)
		resp := j.resp
		if resp == nil {
			resp = block.Raised(j.cmd, block.NewFault(block.CauseUnsupported, j.cmd.PC, "%s PE returned no response", j.station.unit.Kind()), nil)
		}
		resp.Seq = j.cmd.Seq
		j.station.stats.Completed++
		j.future.resolve(resp)
		responses = append(responses, resp)
	}
	return responses
}

func compare(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (r *Router) launch(s *station) {
	for len(s.running) < s.config.Parallelism {
		j, ok := s.queue.peek()
		if !ok {
			return
		}

		ops, ok := r.operands(j.cmd)
		if !ok {
			return
		}
		if j.cmd.TouchesMemory && !r.gate.CanIssue(j.cmd.Seq) {
			return
		}
		if j.cmd.Type == block.TypeTMA {
			staged := r.bridge.Clamp(tmaBytes(j.cmd))
			if !r.bridge.Reserve(staged) {
				return
			}
			j.staged = staged
		}

		s.queue.dequeue()
		j.ctx, j.cancel = context.WithCancel(r.ctx)
		j.release = r.clock + uint64(r.latency.Cycles(j.cmd, ops))
		j.done = make(chan struct{})
		s.running = append(s.running, j)

		var port memory.Port
		if j.cmd.TouchesMemory {
			port = r.gate.Port(j.cmd.Seq)
		}
		go func(j *job, ops Operands, port memory.Port) {
			defer close(j.done)
			j.resp = j.station.unit.Execute(j.ctx, j.cmd, ops, port)
		}(j, ops, port)
	}
}

func (r *Router) operands(cmd *block.Command) (Operands, bool) {
	ops := Operands{
		Values: make([]uint64, len(cmd.Inputs)),
		Tiles:  make([][]byte, len(cmd.TilesIn)),
	}
	for i, in := range cmd.Inputs {
		value, ok := r.resolver.ResolveInput(in)
		if !ok {
			return Operands{}, false
		}
		ops.Values[i] = value
	}
	for i, tile := range cmd.TilesIn {
		data, ok := r.resolver.ResolveTile(tile)
		if !ok {
			return Operands{}, false
		}
		ops.Tiles[i] = data
	}
	return ops, true
}

// Cancel abandons the command for seq. A queued command is dropped at once;
// a running one is told to stop and its response is discarded when it
// drains. Unknown sequence numbers are ignored.
func (r *Router) Cancel(seq uint64) {
	j, ok := r.jobs[seq]
	if !ok {
		return
	}
	delete(r.jobs, seq)
	j.station.stats.Canceled++

	if _, queued := j.station.queue.remove(seq); queued {
		j.future.cancel()
		return
	}
	j.canceled = true
	j.cancel()
	j.future.cancel()
}

// Outstanding counts queued and running commands, including canceled jobs
// that have not drained yet.
func (r *Router) Outstanding() int {
	count := 0
	for _, s := range r.stations {
		if s != nil {
			count += s.queue.len() + len(s.running)
		}
	}
	return count
}

func (r *Router) Idle() bool {
	return r.Outstanding() == 0
}

func (r *Router) Clock() uint64 {
	return r.clock
}

func (r *Router) Stats() map[block.PEKind]StationStats {
	stats := make(map[block.PEKind]StationStats)
	for kind, s := range r.stations {
		if s != nil {
			stats[block.PEKind(kind)] = s.stats
		}
	}
	return stats
}

// Fini cancels everything in flight and waits for running jobs to drain.
func (r *Router) Fini() {
	for seq := range r.jobs {
		r.Cancel(seq)
	}
	for _, s := range r.stations {
		if s == nil {
			continue
		}
		for _, j := range s.running {
			<-j.done
		}
		s.running = nil
	}
}

// DefaultUnits returns one unit per PE kind, with the cube array sized by
// config.
func DefaultUnits(config LatencyConfig) []Unit {
	return []Unit{
		NewScalarUnit(),
		NewVectorUnit(),
		NewCubeUnit(NewPEArray(config.ArrayRows, config.ArrayCols)),
		NewTAUUnit(),
		NewTMAUnit(),
		NewGenericUnit(),
	}
}
