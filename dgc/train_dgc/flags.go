package main

import "github.com/urfave/cli/v3"

var (
	configPath    string
	numWorkers    int64
	numSteps      int64
	numFeatures   int64
	numOutputs    int64
	batchSize     int64
	learningRate  float64
	ratio         float64
	noCompression bool
	exactExchange bool
	verify        bool
	networkKind   string
	reducerKind   string
	latency       float64
	rate          float64
	seed          int64
	logLevel      string
	jsonOutput    bool
)

func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "YAML engine config; explicit flags take precedence",
			Destination: &configPath,
		},
		&cli.Int64Flag{
			Name:        "workers",
			Aliases:     []string{"n"},
			Usage:       "number of simulated workers",
			Value:       4,
			Destination: &numWorkers,
		},
		&cli.Float64Flag{
			Name:        "ratio",
			Usage:       "fraction of each compressed parameter sent per step",
			Value:       0.001,
			Destination: &ratio,
		},
		&cli.BoolFlag{
			Name:        "no-compression",
			Usage:       "exchange every gradient densely",
			Destination: &noCompression,
		},
		&cli.BoolFlag{
			Name:        "exact",
			Usage:       "reduce exact values at shared indices instead of gathering quantized means",
			Destination: &exactExchange,
		},
		&cli.BoolFlag{
			Name:        "verify",
			Usage:       "also reduce uncompressed buffers and report the reconstruction error",
			Destination: &verify,
		},
	}
}

func workloadFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "steps",
			Usage:       "number of training steps",
			Value:       100,
			Destination: &numSteps,
		},
		&cli.Int64Flag{
			Name:        "features",
			Usage:       "input dimension of the regression task",
			Value:       512,
			Destination: &numFeatures,
		},
		&cli.Int64Flag{
			Name:        "outputs",
			Usage:       "output dimension of the regression task",
			Value:       64,
			Destination: &numOutputs,
		},
		&cli.Int64Flag{
			Name:        "batch",
			Usage:       "per-worker batch size",
			Value:       32,
			Destination: &batchSize,
		},
		&cli.Float64Flag{
			Name:        "lr",
			Usage:       "learning rate",
			Value:       0.02,
			Destination: &learningRate,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "random seed for data, event ordering and random-network delays",
			Value:       0,
			Destination: &seed,
		},
	}
}

func networkFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "network",
			Usage:       "network model (switched, random)",
			Value:       "switched",
			Destination: &networkKind,
		},
		&cli.StringFlag{
			Name:        "reducer",
			Usage:       "allreduce algorithm (tree, naive, stream)",
			Value:       "tree",
			Destination: &reducerKind,
		},
		&cli.Float64Flag{
			Name:        "latency",
			Usage:       "switched network latency in seconds",
			Value:       1e-4,
			Destination: &latency,
		},
		&cli.Float64Flag{
			Name:        "rate",
			Usage:       "switched network NIC rate in bytes per second",
			Value:       1e9,
			Destination: &rate,
		},
	}
}

func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "print the report as JSON",
			Destination: &jsonOutput,
		},
	}
}
