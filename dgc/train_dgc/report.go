package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/sparsegrad/dgc"
	"github.com/unixpickle/sparsegrad/mdtable"
)

// A Report summarizes a training run.
type Report struct {
	RunID     string       `json:"run_id"`
	Workers   int          `json:"workers"`
	Config    dgc.Config   `json:"config"`
	Steps     []StepReport `json:"steps"`
	TotalTime float64      `json:"total_time"`
	WireBytes float64      `json:"wire_bytes"`
	Messages  int          `json:"messages"`
	Stats     []dgc.Stats  `json:"stats"`
}

// A StepReport is the outcome of one training step.
type StepReport struct {
	Step int `json:"step"`

	// Loss is the mean loss across workers.
	Loss float64 `json:"loss"`

	// Time is the virtual time at which the slowest worker
	// finished the step.
	Time float64 `json:"time"`
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// WriteMarkdown writes a table of steps followed by a
// summary of the traffic.
func (r *Report) WriteMarkdown(w io.Writer) error {
	fmt.Fprintf(w, "Run %s: %d workers, compression=%v, quantize=%v, ratio=%s\n\n",
		r.RunID, r.Workers, r.Config.UseCompression, r.Config.Quantize,
		strconv.FormatFloat(r.Config.Ratio, 'f', -1, 64))

	steps := mdtable.New("Step", "Loss", "Virtual time")
	for _, step := range r.Steps {
		steps.Add(step.Step, step.Loss, step.Time)
	}
	if err := steps.Write(w); err != nil {
		return err
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total virtual time: %f\n", r.TotalTime)
	fmt.Fprintf(w, "Bytes on the wire: %s in %d messages\n",
		strconv.FormatFloat(r.WireBytes, 'E', -1, 64), r.Messages)

	var selected, compressed, dense int
	for _, s := range r.Stats {
		selected += s.Selected
		compressed += s.CompressedParams
		dense += s.DenseParams
	}
	fmt.Fprintf(w, "Exchanges: %d compressed, %d dense, %d elements selected\n",
		compressed, dense, selected)
	if len(r.Stats) == 0 || len(r.Stats[0].Divergence) == 0 {
		return nil
	}

	divergence := r.Stats[0].Divergence
	names := make([]string, 0, len(divergence))
	for name := range divergence {
		names = append(names, name)
	}
	essentials.VoodooSort(names, func(i, j int) bool {
		return names[i] < names[j]
	})
	diffs := mdtable.New("Parameter", "Sum diff", "L1 diff")
	for _, name := range names {
		d := divergence[name]
		diffs.Add(name, fmt.Sprintf("%e", d.Sum), fmt.Sprintf("%e", d.L1))
	}
	fmt.Fprintln(w)
	return diffs.Write(w)
}
