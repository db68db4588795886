package workload

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/sparsegrad/collcomm"
	"github.com/unixpickle/sparsegrad/dgc"
	"github.com/unixpickle/sparsegrad/simulator"
	"gonum.org/v1/gonum/mat"
)

func TestModelGradients(t *testing.T) {
	gen := rand.New(rand.NewSource(1))
	task := NewTask(5, 3, 0.1, 2)
	model := NewModel(5, 3)
	for i := range model.WeightData() {
		model.WeightData()[i] = gen.NormFloat64()
	}
	for i := range model.Bias {
		model.Bias[i] = gen.NormFloat64()
	}
	x, y := task.Sample(gen, 8)
	loss, gradW, gradB := model.Gradients(x, y)
	assert.InDelta(t, model.Loss(x, y), loss, 1e-12)

	const eps = 1e-6
	check := func(params, grad []float64) {
		for i := range params {
			old := params[i]
			params[i] = old + eps
			plus := model.Loss(x, y)
			params[i] = old - eps
			minus := model.Loss(x, y)
			params[i] = old
			assert.InDelta(t, (plus-minus)/(2*eps), grad[i], 1e-5, "index %d", i)
		}
	}
	check(model.WeightData(), gradW)
	check(model.Bias, gradB)
}

func TestTaskDeterministic(t *testing.T) {
	t1 := NewTask(4, 2, 0, 3)
	t2 := NewTask(4, 2, 0, 3)
	x1, y1 := t1.Sample(rand.New(rand.NewSource(0)), 5)
	x2, y2 := t2.Sample(rand.New(rand.NewSource(0)), 5)
	assert.True(t, mat.Equal(x1, x2))
	assert.True(t, mat.Equal(y1, y2))
}

func TestNewWorker(t *testing.T) {
	engine, err := dgc.NewEngine(dgc.DefaultConfig(), nil, &dgc.SGD{LearningRate: 0.1})
	require.NoError(t, err)
	w, err := NewWorker(NewTask(6, 2, 0, 0), engine, 4, 0)
	require.NoError(t, err)

	id, ok := engine.Lookup(WeightName)
	require.True(t, ok)
	assert.Equal(t, []int{6, 2}, engine.Param(id).Shape)

	// The engine updates the model's own storage.
	engine.Param(id).Weight[3] = 7
	assert.Equal(t, 7.0, w.Model.Weight.At(1, 1))

	_, err = NewWorker(NewTask(6, 2, 0, 0), engine, 4, 0)
	assert.Error(t, err)
}

func trainConfig(workers int) dgc.Config {
	cfg := dgc.DefaultConfig()
	cfg.WorldSize = workers
	cfg.Thresholds = [3]int{32, 128, 1024}
	cfg.Ratio = 0.1
	return cfg
}

func averageLoss(losses []float64) float64 {
	var sum float64
	for _, l := range losses {
		sum += l
	}
	return sum / float64(len(losses))
}

func TestTrainSingleWorker(t *testing.T) {
	const steps = 300
	task := NewTask(16, 4, 0.01, 7)
	engine, err := dgc.NewEngine(trainConfig(1), nil, &dgc.SGD{LearningRate: 0.02})
	require.NoError(t, err)
	worker, err := NewWorker(task, engine, 32, 0)
	require.NoError(t, err)
	assert.Equal(t, dgc.TierMedium, engine.Param(0).Tier)

	var losses []float64
	for i := 0; i < steps; i++ {
		loss, err := worker.Step(nil)
		require.NoError(t, err)
		losses = append(losses, loss)
	}
	first, last := averageLoss(losses[:5]), averageLoss(losses[steps-5:])
	assert.Less(t, last, first/10, "first=%f last=%f", first, last)
	assert.Equal(t, steps, engine.Stats().CompressedParams)
	assert.Equal(t, steps, engine.Stats().DenseParams)
}

func TestTrainFabric(t *testing.T) {
	const workers = 2
	const steps = 300
	for _, compress := range []bool{false, true} {
		loop := simulator.NewEventLoopSeed(0)
		nodes := []*simulator.Node{simulator.NewNode(), simulator.NewNode()}
		network := simulator.NewSwitcherNetwork(simulator.NewGreedyDropSwitcher(workers, 1e8),
			nodes, 1e-4)
		fabric := collcomm.NewFabric(loop, network, nodes, nil)
		task := NewTask(16, 4, 0.01, 7)

		losses := make([][]float64, workers)
		models := make([]*Model, workers)
		err := fabric.Run(func(c *collcomm.Communicator) {
			cfg := trainConfig(workers)
			cfg.UseCompression = compress
			engine, err := dgc.NewEngine(cfg, c, &dgc.SGD{LearningRate: 0.02})
			if !assert.NoError(t, err) {
				return
			}
			worker, err := NewWorker(task, engine, 32, int64(c.Rank()))
			if !assert.NoError(t, err) {
				return
			}
			worker.FlopTime = 1e-9
			models[c.Rank()] = worker.Model
			for i := 0; i < steps; i++ {
				loss, err := worker.Step(c.Handle())
				if !assert.NoError(t, err) {
					return
				}
				losses[c.Rank()] = append(losses[c.Rank()], loss)
			}
		})
		require.NoError(t, err)
		assert.Greater(t, loop.Time(), 0.0)

		// Every worker applies the same reconstructed
		// gradients, so replicas never drift apart.
		assert.Equal(t, models[0].WeightData(), models[1].WeightData(), "compress=%v", compress)
		assert.Equal(t, models[0].Bias, models[1].Bias)
		for _, l := range losses {
			require.Len(t, l, steps)
			first, last := averageLoss(l[:5]), averageLoss(l[steps-5:])
			assert.Less(t, last, first/10, "compress=%v first=%f last=%f", compress, first, last)
		}
	}
}
