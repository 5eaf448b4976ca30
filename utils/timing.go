package utils

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Verbose controls whether timing and epoch statistics are printed.
// Set to false to suppress output.
var Verbose = true

// Output is the writer where statistics are printed.
// Defaults to os.Stdout.
var Output io.Writer = os.Stdout

// TimingStats holds timing information for different phases of a run
type TimingStats struct {
	TotalTime    time.Duration
	SetupTime    time.Duration
	DStepTime    time.Duration
	GStepTime    time.Duration
	SnapshotTime time.Duration
	PlotTime     time.Duration
	BatchesRun   int
	Snapshots    int
}

func percent(part, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// PrintTimingStats prints detailed timing statistics.
// Respects the Verbose flag - does nothing if Verbose is false.
func PrintTimingStats(stats *TimingStats) {
	if !Verbose {
		return
	}
	fmt.Fprintln(Output, "\n=== TIMING STATISTICS ===")
	fmt.Fprintf(Output, "Total training time: %v\n", stats.TotalTime)
	fmt.Fprintf(Output, "Batches completed: %d\n", stats.BatchesRun)
	if stats.BatchesRun > 0 {
		fmt.Fprintf(Output, "Average time per batch: %v\n", (stats.DStepTime+stats.GStepTime)/time.Duration(stats.BatchesRun))
	}
	fmt.Fprintln(Output, "\nBreakdown by operation:")
	fmt.Fprintf(Output, "  Setup: %v (%.1f%%)\n", stats.SetupTime, percent(stats.SetupTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Discriminator steps: %v (%.1f%%)\n", stats.DStepTime, percent(stats.DStepTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Generator steps: %v (%.1f%%)\n", stats.GStepTime, percent(stats.GStepTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Snapshots (%d): %v (%.1f%%)\n", stats.Snapshots, stats.SnapshotTime, percent(stats.SnapshotTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Loss plots: %v (%.1f%%)\n", stats.PlotTime, percent(stats.PlotTime, stats.TotalTime))
}

// PrintEpochStats prints the mean losses of one epoch.
// Respects the Verbose flag.
func PrintEpochStats(epoch int, lossD, lossG, lossAdv, lossGGAN, lossHinge float64) {
	if !Verbose {
		return
	}
	fmt.Fprintf(Output, "Epoch %d: \nLoss D: %v, \nLoss G: %v, \n\t-Loss Adv: %v, \n\t-Loss G GAN: %v, \n\t-Loss Hinge: %v, \n\n",
		epoch, lossD, lossG, lossAdv, lossGGAN, lossHinge)
}

// DurationUS converts any time.Duration to micro-seconds as float64
func DurationUS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000.0
}
