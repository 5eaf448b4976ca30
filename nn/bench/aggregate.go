package bench

import (
	"fmt"
	"io"

	"advgan_lib/utils"
)

// Total sums the per-layer timings of a network.
func Total(timings []LayerTiming) LayerTiming {
	total := LayerTiming{Layer: "total"}
	for _, t := range timings {
		total.Params += t.Params
		total.Fwd += t.Fwd
		total.Bwd += t.Bwd
		total.Upd += t.Upd
	}
	return total
}

// WriteTable prints the microbenchmark table of one network.
func WriteTable(w io.Writer, name string, timings []LayerTiming) {
	fmt.Fprintf(w, "\nMicrobenchmark Table for %s (per layer, mean of runs):\n", name)
	fmt.Fprintf(w, "%-30s | %-10s | %-12s | %-12s | %-12s\n", "Layer", "Params", "Fwd (us)", "Bwd (us)", "Upd (us)")
	for _, t := range append(timings, Total(timings)) {
		fmt.Fprintf(w, "%-30s | %-10d | %-12.1f | %-12.1f | %-12.1f\n",
			t.Layer, t.Params, utils.DurationUS(t.Fwd), utils.DurationUS(t.Bwd), utils.DurationUS(t.Upd))
	}
}
