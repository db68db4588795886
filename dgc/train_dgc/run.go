package main

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/sparsegrad/collcomm"
	"github.com/unixpickle/sparsegrad/dgc"
	"github.com/unixpickle/sparsegrad/logger"
	"github.com/unixpickle/sparsegrad/simulator"
	"github.com/unixpickle/sparsegrad/workload"
)

// RunInfo describes a simulated training run.
type RunInfo struct {
	Engine dgc.Config

	Steps        int
	Features     int
	Outputs      int
	Batch        int
	LearningRate float64
	Seed         int64

	Network string
	Latency float64
	Rate    float64
	Reducer string
}

// network creates the network between the workers.
func (r *RunInfo) network(nodes []*simulator.Node) (simulator.Network, error) {
	switch r.Network {
	case "switched":
		switcher := simulator.NewGreedyDropSwitcher(len(nodes), r.Rate)
		return simulator.NewSwitcherNetwork(switcher, nodes, r.Latency), nil
	case "random":
		return simulator.RandomNetwork{}, nil
	default:
		return nil, errors.Errorf("unknown network: %s", r.Network)
	}
}

// allreducer picks the algorithm behind dense and shared
// reductions.
func (r *RunInfo) allreducer() (collcomm.Allreducer, error) {
	switch r.Reducer {
	case "", "tree":
		return collcomm.TreeAllreducer{}, nil
	case "naive":
		return collcomm.NaiveAllreducer{}, nil
	case "stream":
		return collcomm.StreamAllreducer{}, nil
	default:
		return nil, errors.Errorf("unknown reducer: %s", r.Reducer)
	}
}

// Run trains one model replica per worker and collects
// the per-step loss, virtual time and traffic.
func (r *RunInfo) Run(log logger.Logger) (*Report, error) {
	if err := r.Engine.Validate(); err != nil {
		return nil, err
	}
	numWorkers := r.Engine.WorldSize
	nodes := make([]*simulator.Node, numWorkers)
	for i := range nodes {
		nodes[i] = simulator.NewNode()
	}
	network, err := r.network(nodes)
	if err != nil {
		return nil, err
	}
	reducer, err := r.allreducer()
	if err != nil {
		return nil, err
	}
	meter := simulator.NewMeteredNetwork(network)
	loop := simulator.NewEventLoopSeed(r.Seed)
	fabric := collcomm.NewFabric(loop, meter, nodes, reducer)
	task := workload.NewTask(r.Features, r.Outputs, 0.01, r.Seed)

	losses := make([][]float64, numWorkers)
	times := make([][]float64, numWorkers)
	stats := make([]dgc.Stats, numWorkers)
	errs := make([]error, numWorkers)
	loopErr := fabric.Run(func(c *collcomm.Communicator) {
		rank := c.Rank()
		errs[rank] = r.runWorker(c, task, log, func(loss float64) {
			losses[rank] = append(losses[rank], loss)
			times[rank] = append(times[rank], c.Handle().Time())
		}, &stats[rank])
	})
	for rank, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(err, "worker %d", rank)
		}
	}
	if loopErr != nil {
		return nil, loopErr
	}

	report := &Report{
		Workers:   numWorkers,
		Config:    r.Engine,
		TotalTime: loop.Time(),
		Stats:     stats,
	}
	for _, node := range nodes {
		report.WireBytes += meter.SentBytes(node)
		report.Messages += meter.SentMessages(node)
	}
	for step := 0; step < r.Steps; step++ {
		var sr StepReport
		sr.Step = step
		for rank := range losses {
			sr.Loss += losses[rank][step] / float64(numWorkers)
			if times[rank][step] > sr.Time {
				sr.Time = times[rank][step]
			}
		}
		report.Steps = append(report.Steps, sr)
	}
	return report, nil
}

func (r *RunInfo) runWorker(c *collcomm.Communicator, task *workload.Task, log logger.Logger,
	record func(loss float64), stats *dgc.Stats) error {
	engine, err := dgc.NewEngine(r.Engine, c, &dgc.SGD{LearningRate: r.LearningRate},
		dgc.WithLogger(log))
	if err != nil {
		return err
	}
	worker, err := workload.NewWorker(task, engine, r.Batch, r.Seed+int64(c.Rank())+1)
	if err != nil {
		return err
	}
	worker.FlopTime = collcomm.FlopTime
	for i := 0; i < r.Steps; i++ {
		loss, err := worker.Step(c.Handle())
		if err != nil {
			return errors.Wrapf(err, "step %d", i)
		}
		record(loss)
		if c.Rank() == 0 && i%10 == 0 {
			log.Info("trained", "step", i, "loss", loss, "time", c.Handle().Time())
		}
	}
	*stats = engine.Stats()
	return nil
}
