// Package workload provides a synthetic data-parallel
// training job: a linear regression whose gradients are
// delivered to a dgc.Engine one parameter at a time.
package workload

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/unixpickle/sparsegrad/dgc"
	"github.com/unixpickle/sparsegrad/simulator"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// A Task is a noisy linear map that models try to learn.
type Task struct {
	Features int
	Outputs  int
	Noise    float64

	truth *mat.Dense
	bias  []float64
}

// NewTask creates a random task. Tasks built from the same
// seed are identical.
func NewTask(features, outputs int, noise float64, seed int64) *Task {
	gen := rand.New(rand.NewSource(seed))
	truth := mat.NewDense(features, outputs, nil)
	for i := 0; i < features; i++ {
		for j := 0; j < outputs; j++ {
			truth.Set(i, j, gen.NormFloat64()/math.Sqrt(float64(features)))
		}
	}
	bias := make([]float64, outputs)
	for i := range bias {
		bias[i] = gen.NormFloat64()
	}
	return &Task{
		Features: features,
		Outputs:  outputs,
		Noise:    noise,
		truth:    truth,
		bias:     bias,
	}
}

// Sample draws a batch of inputs and targets.
func (t *Task) Sample(gen *rand.Rand, batch int) (x, y *mat.Dense) {
	x = mat.NewDense(batch, t.Features, nil)
	for i := 0; i < batch; i++ {
		for j := 0; j < t.Features; j++ {
			x.Set(i, j, gen.NormFloat64())
		}
	}
	y = mat.NewDense(batch, t.Outputs, nil)
	y.Mul(x, t.truth)
	for i := 0; i < batch; i++ {
		for j := 0; j < t.Outputs; j++ {
			y.Set(i, j, y.At(i, j)+t.bias[j]+t.Noise*gen.NormFloat64())
		}
	}
	return x, y
}

// A Model is a linear layer y = xW + b.
//
// The weight matrix is backed by a flat row-major slice so
// that an optimizer can update it in place.
type Model struct {
	Weight *mat.Dense
	Bias   []float64
}

// NewModel creates a zero-initialized model.
func NewModel(features, outputs int) *Model {
	return &Model{
		Weight: mat.NewDense(features, outputs, nil),
		Bias:   make([]float64, outputs),
	}
}

// WeightData gets the flat weight slice.
func (m *Model) WeightData() []float64 {
	return m.Weight.RawMatrix().Data
}

// Loss computes half the mean squared error per sample.
func (m *Model) Loss(x, y *mat.Dense) float64 {
	diff := m.residual(x, y)
	batch, _ := x.Dims()
	return 0.5 * sumSquares(diff) / float64(batch)
}

// Gradients computes the loss and its gradients with
// respect to the weight (flat, row-major) and bias.
func (m *Model) Gradients(x, y *mat.Dense) (loss float64, weight, bias []float64) {
	diff := m.residual(x, y)
	batch, _ := x.Dims()
	scale := 1 / float64(batch)

	var gradW mat.Dense
	gradW.Mul(x.T(), diff)
	gradW.Scale(scale, &gradW)

	_, outputs := diff.Dims()
	bias = make([]float64, outputs)
	for j := range bias {
		bias[j] = mat.Sum(diff.ColView(j)) * scale
	}

	loss = 0.5 * sumSquares(diff) * scale
	return loss, gradW.RawMatrix().Data, bias
}

func sumSquares(m *mat.Dense) float64 {
	data := m.RawMatrix().Data
	return floats.Dot(data, data)
}

func (m *Model) residual(x, y *mat.Dense) *mat.Dense {
	var diff mat.Dense
	diff.Mul(x, m.Weight)
	rows, cols := diff.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			diff.Set(i, j, diff.At(i, j)+m.Bias[j]-y.At(i, j))
		}
	}
	return &diff
}

// Parameter names registered by a Worker.
const (
	WeightName = "fc.weight"
	BiasName   = "fc.bias"
)

// A Worker trains a Model on batches of a Task and hands
// its gradients to an Engine.
type Worker struct {
	Task   *Task
	Model  *Model
	Engine *dgc.Engine
	Batch  int

	// FlopTime is the virtual time charged per
	// floating-point operation of the backward pass.
	FlopTime float64

	gen      *rand.Rand
	weightID dgc.ParamID
	biasID   dgc.ParamID
}

// NewWorker creates a zero-initialized model and registers
// its parameters with the engine.
func NewWorker(task *Task, engine *dgc.Engine, batch int, seed int64) (*Worker, error) {
	model := NewModel(task.Features, task.Outputs)
	weightID, err := engine.Register(WeightName, []int{task.Features, task.Outputs},
		model.WeightData())
	if err != nil {
		return nil, errors.Wrap(err, "new worker")
	}
	biasID, err := engine.Register(BiasName, []int{task.Outputs}, model.Bias)
	if err != nil {
		return nil, errors.Wrap(err, "new worker")
	}
	return &Worker{
		Task:     task,
		Model:    model,
		Engine:   engine,
		Batch:    batch,
		gen:      rand.New(rand.NewSource(seed)),
		weightID: weightID,
		biasID:   biasID,
	}, nil
}

// Step runs one training step on a fresh batch and
// returns the loss before the update.
//
// Gradients are delivered in reverse layer order, bias
// first, as backpropagation would produce them. If h is
// non-nil, the backward pass is charged virtual time.
func (w *Worker) Step(h *simulator.Handle) (float64, error) {
	x, y := w.Task.Sample(w.gen, w.Batch)
	loss, gradW, gradB := w.Model.Gradients(x, y)

	w.compute(h, w.Batch*w.Task.Outputs)
	if err := w.Engine.GradientReady(w.biasID, gradB); err != nil {
		return 0, err
	}
	w.compute(h, 2*w.Batch*w.Task.Features*w.Task.Outputs)
	if err := w.Engine.GradientReady(w.weightID, gradW); err != nil {
		return 0, err
	}
	if err := w.Engine.Step(); err != nil {
		return 0, err
	}
	return loss, nil
}

func (w *Worker) compute(h *simulator.Handle, flops int) {
	if h != nil && w.FlopTime > 0 {
		h.Sleep(w.FlopTime * float64(flops))
	}
}
