package utils

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"
)

func TestDurationUS(t *testing.T) {
	d := 1234*time.Microsecond + 567*time.Nanosecond
	got := DurationUS(d)
	if math.Abs(got-1234.567) > 0.001 {
		t.Fatalf("want 1234.567µs, got %.3f", got)
	}
}

func captureOutput(t *testing.T, verbose bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevOut, prevVerbose := Output, Verbose
	Output, Verbose = &buf, verbose
	t.Cleanup(func() { Output, Verbose = prevOut, prevVerbose })
	return &buf
}

func TestPrintTimingStats(t *testing.T) {
	buf := captureOutput(t, true)
	PrintTimingStats(&TimingStats{
		TotalTime:  10 * time.Second,
		DStepTime:  4 * time.Second,
		GStepTime:  4 * time.Second,
		BatchesRun: 4,
		Snapshots:  2,
	})
	out := buf.String()
	if !strings.Contains(out, "Average time per batch: 2s") {
		t.Errorf("missing per-batch average in %q", out)
	}
	if !strings.Contains(out, "Discriminator steps: 4s (40.0%)") {
		t.Errorf("missing D-step share in %q", out)
	}

	// zero total must not divide by zero
	buf.Reset()
	PrintTimingStats(&TimingStats{})
	if strings.Contains(buf.String(), "NaN") {
		t.Errorf("unexpected NaN in %q", buf.String())
	}
}

func TestPrintEpochStatsRespectsVerbose(t *testing.T) {
	buf := captureOutput(t, false)
	PrintEpochStats(1, 1, 2, 3, 4, 5)
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}

	Verbose = true
	PrintEpochStats(2, 0.5, 1.5, 2.5, 3.5, 4.5)
	out := buf.String()
	for _, want := range []string{"Epoch 2:", "Loss D: 0.5", "Loss G: 1.5", "-Loss Adv: 2.5", "-Loss G GAN: 3.5", "-Loss Hinge: 4.5"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}
