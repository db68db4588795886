// Command train_dgc trains a synthetic model on simulated
// workers that exchange compressed gradients.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/unixpickle/sparsegrad/dgc"
	"github.com/unixpickle/sparsegrad/logger"
	"github.com/urfave/cli/v3"
)

func main() {
	var flags []cli.Flag
	flags = append(flags, engineFlags()...)
	flags = append(flags, workloadFlags()...)
	flags = append(flags, networkFlags()...)
	flags = append(flags, outputFlags()...)

	app := &cli.Command{
		Name:   "train_dgc",
		Usage:  "Simulate data-parallel training with deep gradient compression",
		Flags:  flags,
		Action: trainAction,
	}
	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func trainAction(ctx context.Context, cmd *cli.Command) error {
	runID := uuid.NewString()
	log := logger.Text(os.Stderr, logger.ParseLevel(logLevel)).With("run", runID)
	ctx = logger.WithContext(ctx, log)

	cfg, err := engineConfig(cmd)
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	run := &RunInfo{
		Engine:       cfg,
		Steps:        int(numSteps),
		Features:     int(numFeatures),
		Outputs:      int(numOutputs),
		Batch:        int(batchSize),
		LearningRate: learningRate,
		Seed:         seed,
		Network:      networkKind,
		Latency:      latency,
		Rate:         rate,
		Reducer:      reducerKind,
	}
	logger.FromContext(ctx).Info("starting run", "workers", cfg.WorldSize, "steps", run.Steps,
		"compression", cfg.UseCompression, "quantize", cfg.Quantize)

	report, err := run.Run(logger.FromContext(ctx))
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	report.RunID = runID
	if jsonOutput {
		return report.WriteJSON(os.Stdout)
	}
	return report.WriteMarkdown(os.Stdout)
}

// engineConfig loads the config file, if any, and applies
// every flag that was set explicitly or has no file value.
func engineConfig(cmd *cli.Command) (dgc.Config, error) {
	cfg := dgc.DefaultConfig()
	fromFile := configPath != ""
	if fromFile {
		var err error
		cfg, err = dgc.LoadConfig(configPath)
		if err != nil {
			return cfg, err
		}
	}
	override := func(name string) bool {
		return !fromFile || cmd.IsSet(name)
	}
	if override("workers") {
		cfg.WorldSize = int(numWorkers)
	}
	if override("ratio") {
		cfg.Ratio = ratio
	}
	if override("no-compression") {
		cfg.UseCompression = !noCompression
	}
	if override("exact") {
		cfg.Quantize = !exactExchange
	}
	if override("verify") {
		cfg.Verify = verify
	}
	return cfg, cfg.Validate()
}
