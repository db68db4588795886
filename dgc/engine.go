// Package dgc exchanges gradients between data-parallel
// workers using deep gradient compression.
//
// Each worker owns an Engine. As backpropagation finishes
// each parameter's gradient, the worker hands it to
// GradientReady, which folds it into the parameter's
// momentum and residue, selects a small fraction of the
// residue, and issues a non-blocking exchange of it. The
// residue that was not sent stays behind for later rounds,
// so no gradient mass is lost. Step waits for every
// exchange, rebuilds dense gradients, and applies them.
package dgc

import (
	"math"

	"github.com/pkg/errors"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/sparsegrad/collcomm"
	"github.com/unixpickle/sparsegrad/logger"
)

// An Option customizes an Engine.
type Option func(e *Engine)

// WithLogger sets the logger. By default nothing is
// logged.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithSelector replaces the TieredSelector.
func WithSelector(s Selector) Option {
	return func(e *Engine) {
		e.selector = s
	}
}

// An Engine compresses and exchanges the gradients of one
// worker.
//
// An Engine is driven by a single Goroutine: the one that
// delivers gradients also calls Synchronize and Step.
type Engine struct {
	cfg      Config
	comm     collcomm.Collective
	updater  Updater
	selector Selector
	log      logger.Logger

	params []*Parameter
	states []*State
	byName map[string]ParamID

	pending map[ParamID]*pending
	ready   []bool
	step    int
	stats   Stats
}

type exchangePath int

const (
	pathDense exchangePath = iota
	pathQuantized
	pathShared
)

// pending tracks one parameter's exchange between
// GradientReady and Synchronize.
type pending struct {
	path   exchangePath
	format Format

	// local is set when there is only one worker and the
	// gradient is already final.
	local bool

	// count is the per-worker number of fixed-slice
	// indices.
	count int

	structure collcomm.Handle
	value     collcomm.Handle

	gatheredIdx []int64
	gatheredVal []float64

	// indices and values are the shared positions and
	// their reduced values.
	indices []int64
	values  []float64

	reference       []float64
	referenceHandle collcomm.Handle
}

// NewEngine creates an Engine for one worker.
//
// If comm is nil, cfg.WorldSize must be 1.
func NewEngine(cfg Config, comm collcomm.Collective, updater Updater, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "new engine")
	}
	if comm == nil {
		if cfg.WorldSize != 1 {
			return nil, errors.Errorf("new engine: no collective for world size %d", cfg.WorldSize)
		}
		comm = collcomm.Solo{}
	} else if comm.Size() != cfg.WorldSize {
		return nil, errors.Errorf("new engine: collective has %d workers but world size is %d",
			comm.Size(), cfg.WorldSize)
	}
	if updater == nil {
		return nil, errors.New("new engine: nil updater")
	}
	e := &Engine{
		cfg:      cfg,
		comm:     comm,
		updater:  updater,
		selector: TieredSelector{},
		log:      logger.Discard(),
		byName:   map[string]ParamID{},
		pending:  map[ParamID]*pending{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("rank", comm.Rank())
	return e, nil
}

// Config gets the engine's configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Register adds a parameter and returns its ID.
//
// The weight slice is used in place, so updates are
// visible to the caller. If weight is nil, zeros are used.
func (e *Engine) Register(name string, shape []int, weight []float64) (ParamID, error) {
	if _, ok := e.byName[name]; ok {
		return 0, errors.Errorf("register %s: duplicate parameter name", name)
	}
	n := shapeSize(shape)
	if n <= 0 {
		return 0, errors.Errorf("register %s: invalid shape %v", name, shape)
	}
	if weight == nil {
		weight = make([]float64, n)
	} else if len(weight) != n {
		return 0, errors.Errorf("register %s: shape %v has %d elements but weight has %d",
			name, shape, n, len(weight))
	}
	id := ParamID(len(e.params))
	tier := Classify(n, e.cfg.Thresholds)
	e.params = append(e.params, &Parameter{
		ID:     id,
		Name:   name,
		Shape:  append([]int{}, shape...),
		Weight: weight,
		Grad:   make([]float64, n),
		Tier:   tier,
	})
	e.states = append(e.states, newState(n, tier))
	e.ready = append(e.ready, false)
	e.byName[name] = id
	e.log.Debug("registered parameter", "name", name, "id", id, "size", n, "tier", tier.String())
	return id, nil
}

// Lookup finds a parameter by name.
func (e *Engine) Lookup(name string) (ParamID, bool) {
	id, ok := e.byName[name]
	return id, ok
}

// Param gets a registered parameter, or nil.
func (e *Engine) Param(id ParamID) *Parameter {
	if id < 0 || int(id) >= len(e.params) {
		return nil
	}
	return e.params[id]
}

// Params gets every parameter in ID order.
func (e *Engine) Params() []*Parameter {
	return append([]*Parameter{}, e.params...)
}

// State gets a parameter's error-feedback state, or nil.
func (e *Engine) State(id ParamID) *State {
	if id < 0 || int(id) >= len(e.states) {
		return nil
	}
	return e.states[id]
}

// Outstanding gets the number of parameters whose exchange
// has not been synchronized.
func (e *Engine) Outstanding() int {
	return len(e.pending)
}

// Stats gets a copy of the accumulated statistics.
func (e *Engine) Stats() Stats {
	return e.stats.clone()
}

// ResetStats zeroes the statistics.
func (e *Engine) ResetStats() {
	e.stats = Stats{}
}

// GradientReady accepts a parameter's raw gradient for the
// current step and starts exchanging it.
//
// It must be called at most once per parameter between
// calls to Synchronize. It never waits for the network.
func (e *Engine) GradientReady(id ParamID, grad []float64) error {
	p := e.Param(id)
	if p == nil {
		return errors.Errorf("gradient ready: unknown parameter id %d", id)
	}
	if _, ok := e.pending[id]; ok {
		return &InvariantError{Kind: KindOutstanding, Param: p.Name, ID: id}
	}
	if len(grad) != p.Len() {
		return errors.Errorf("gradient ready %s: got %d elements, expected %d",
			p.Name, len(grad), p.Len())
	}
	s := e.states[id]
	copy(p.Grad, grad)
	s.Round++

	var entry *pending
	if e.cfg.UseCompression && p.Tier.Compressed() {
		var err error
		entry, err = e.compress(p, s)
		if err != nil {
			return err
		}
	} else {
		entry = e.dense(p, s)
	}
	e.pending[id] = entry
	e.ready[id] = true
	return nil
}

func (e *Engine) compress(p *Parameter, s *State) (*pending, error) {
	done := measure(&e.stats.AccumulateTime)
	e.accumulateCompressed(p, s, p.Grad)
	done()

	// Shared indices must agree on every worker, so they
	// are chosen from the replicated weights.
	key := s.Residue
	if !e.cfg.Quantize {
		key = p.Weight
	}
	done = measure(&e.stats.SelectTime)
	sel := e.selector.Select(p.Tier, key, e.cfg.Ratio, s.Direction)
	done()
	s.Direction = s.Direction.Flip()
	if sel.Len() == 0 {
		return nil, &InvariantError{Kind: KindEmptySelection, Param: p.Name, ID: p.ID}
	}
	if !e.cfg.Quantize {
		for i, idx := range sel.Indices {
			sel.Values[i] = s.Residue[idx]
		}
	}
	e.stats.Selected += sel.Len()
	e.stats.SelectIterations += sel.Iterations
	e.stats.CompressedParams++

	done = measure(&e.stats.MaskTime)
	buildMask(s, sel.Indices)
	entry := &pending{path: pathQuantized}
	if !e.cfg.Quantize {
		entry.path = pathShared
	}
	if e.cfg.WorldSize == 1 {
		transmitted(p.Grad, s)
		applyMask(s)
		done()
		entry.local = true
		return entry, nil
	}
	if e.cfg.Verify {
		entry.reference = make([]float64, p.Len())
		transmitted(entry.reference, s)
	}
	applyMask(s)
	done()

	done = measure(&e.stats.PackTime)
	defer done()
	entry.format = FixedSlice
	if p.Tier == TierVeryLarge && e.cfg.Quantize {
		entry.format = VariableBlock
	}
	msg := Pack(entry.format, sel)
	if entry.path == pathQuantized {
		entry.count = msg.Count()
		wire := msg.Wire()
		entry.structure = e.comm.IssueGatherInts(p.Name+".idx", wire, &entry.gatheredIdx)
		entry.value = e.comm.IssueGatherFloats(p.Name+".val", []float64{msg.Mean},
			&entry.gatheredVal)
		e.stats.StructureElements += len(wire)
		e.stats.ValueElements++
	} else {
		entry.indices = msg.Indices
		entry.values = msg.Values
		entry.value = e.comm.IssueReduce(p.Name+".val", entry.values, collcomm.OpSum)
		e.stats.ValueElements += len(entry.values)
	}
	if entry.reference != nil {
		entry.referenceHandle = e.comm.IssueReduce(p.Name+".ref", entry.reference, collcomm.OpSum)
	}
	return entry, nil
}

func (e *Engine) dense(p *Parameter, s *State) *pending {
	done := measure(&e.stats.AccumulateTime)
	e.accumulateDense(p, s, p.Grad)
	done()
	e.stats.DenseParams++

	entry := &pending{path: pathDense}
	if e.cfg.WorldSize == 1 {
		entry.local = true
		return entry
	}
	entry.value = e.comm.IssueReduce(p.Name, p.Grad, collcomm.OpSum)
	e.stats.ValueElements += p.Len()
	return entry
}

// Synchronize waits for every outstanding exchange and
// installs the rebuilt gradients in Parameter.Grad.
//
// Every exchange is waited on even if an earlier one
// fails, and the outstanding table is always cleared. The
// first failure is returned, and it invalidates the whole
// step: no gradient of the step will be applied.
func (e *Engine) Synchronize() error {
	ids := make([]ParamID, 0, len(e.pending))
	for id := range e.pending {
		ids = append(ids, id)
	}
	essentials.VoodooSort(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})

	var firstErr error
	for _, id := range ids {
		p := e.params[id]
		if err := e.finish(p, e.pending[id]); err != nil {
			e.log.Error("exchange failed", "param", p.Name, "id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	e.pending = map[ParamID]*pending{}
	if firstErr != nil {
		e.discardStep()
	}
	return firstErr
}

// Step synchronizes and then applies the gradients of
// every parameter that received one since the last Step.
func (e *Engine) Step() error {
	if err := e.Synchronize(); err != nil {
		return err
	}
	var applied int
	for _, p := range e.params {
		if !e.ready[p.ID] {
			continue
		}
		e.ready[p.ID] = false
		if err := e.updater.Apply(p, p.Grad); err != nil {
			e.discardStep()
			return errors.Wrapf(err, "step %d", e.step)
		}
		applied++
	}
	e.log.Debug("step", "step", e.step, "applied", applied, "selected", e.stats.Selected,
		"wire_bytes", e.stats.Bytes())
	e.step++
	return nil
}

// discardStep forgets which parameters received gradients,
// so a failed step is never applied later.
func (e *Engine) discardStep() {
	for i := range e.ready {
		e.ready[i] = false
	}
}

func (e *Engine) finish(p *Parameter, entry *pending) error {
	if entry.local {
		return nil
	}
	var commErr error
	for _, h := range []collcomm.Handle{entry.structure, entry.value, entry.referenceHandle} {
		if h == nil {
			continue
		}
		if err := e.comm.Wait(h); err != nil && commErr == nil {
			commErr = err
		}
	}
	if commErr != nil {
		return &CommError{Param: p.Name, ID: p.ID, Err: commErr}
	}

	done := measure(&e.stats.UnpackTime)
	defer done()
	switch entry.path {
	case pathQuantized:
		var runs [][]int64
		var err error
		if entry.format == VariableBlock {
			runs, err = DecodeVariableBlock(entry.gatheredIdx, e.cfg.WorldSize)
		} else {
			runs, err = DecodeFixedSlice(entry.gatheredIdx, e.cfg.WorldSize, entry.count)
		}
		if err == nil {
			err = Decompress(p.Grad, runs, entry.gatheredVal)
		}
		if err != nil {
			return errors.Wrapf(err, "parameter %s (id=%d)", p.Name, p.ID)
		}
	case pathShared:
		if err := Scatter(p.Grad, entry.indices, entry.values); err != nil {
			return errors.Wrapf(err, "parameter %s (id=%d)", p.Name, p.ID)
		}
	}
	if entry.reference != nil {
		e.recordDivergence(p, entry.reference)
	}
	return nil
}

func (e *Engine) recordDivergence(p *Parameter, reference []float64) {
	var d Divergence
	for i, x := range reference {
		diff := x - p.Grad[i]
		d.Sum += diff
		d.L1 += math.Abs(diff)
	}
	if e.stats.Divergence == nil {
		e.stats.Divergence = map[string]Divergence{}
	}
	e.stats.Divergence[p.Name] = d
	e.log.Debug("verified reconstruction", "param", p.Name, "sum_diff", d.Sum, "l1_diff", d.L1)
}
