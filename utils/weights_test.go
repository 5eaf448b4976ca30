package utils

import (
	"os"
	"path/filepath"
	"testing"

	"advgan_lib/nn/layers"
	"advgan_lib/tensor"
)

func TestTensorToWeightData(t *testing.T) {
	// Create a test tensor
	ten := tensor.New(2, 3)
	for i := range ten.Data {
		ten.Data[i] = float64(i) * 0.5
	}

	// Convert to weight data
	wd := TensorToWeightData("test_weight", ten)

	// Verify
	if wd.Name != "test_weight" {
		t.Errorf("Name = %s, want test_weight", wd.Name)
	}
	if len(wd.Shape) != 2 || wd.Shape[0] != 2 || wd.Shape[1] != 3 {
		t.Errorf("Shape = %v, want [2, 3]", wd.Shape)
	}
	for i, v := range wd.Data {
		expected := float64(i) * 0.5
		if v != expected {
			t.Errorf("Data[%d] = %f, want %f", i, v, expected)
		}
	}

	// must be a copy
	ten.Data[0] = 42
	if wd.Data[0] != 0 {
		t.Errorf("weight data aliases the tensor")
	}
}

func TestWeightDataToTensor(t *testing.T) {
	wd := &WeightData{
		Name:  "test",
		Shape: []int{3, 4},
		Data:  make([]float64, 12),
	}
	for i := range wd.Data {
		wd.Data[i] = float64(i)
	}

	ten := WeightDataToTensor(wd)

	if len(ten.Shape) != 2 || ten.Shape[0] != 3 || ten.Shape[1] != 4 {
		t.Errorf("Shape = %v, want [3, 4]", ten.Shape)
	}
	for i, v := range ten.Data {
		if v != float64(i) {
			t.Errorf("Data[%d] = %f, want %f", i, v, float64(i))
		}
	}
}

func TestSaveLoadWeights(t *testing.T) {
	tmpDir := t.TempDir()
	weightsFile := filepath.Join(tmpDir, "G_epoch_3.json")

	conv := layers.NewConv2D("g.conv1", 3, 8, 3, 3, 1, 1)
	bn := layers.NewBatchNorm2D("g.bn1", 8)
	for i := range conv.W.Value.Data {
		conv.W.Value.Data[i] = float64(i) * 0.001
	}
	bn.RunningMean.Value.Fill(0.5)
	params := append(conv.Params(), bn.Params()...)

	weights := CollectWeights("generator", params)
	weights.Epoch = 3
	weights.RunID = "run-1"
	weights.Target = "cifar10"

	if err := SaveWeights(weightsFile, weights); err != nil {
		t.Fatalf("SaveWeights failed: %v", err)
	}
	loaded, err := LoadWeights(weightsFile)
	if err != nil {
		t.Fatalf("LoadWeights failed: %v", err)
	}

	if loaded.Version != WeightsVersion || loaded.Epoch != 3 || loaded.RunID != "run-1" || loaded.Target != "cifar10" {
		t.Errorf("metadata = %+v", loaded)
	}
	if len(loaded.Params) != 6 {
		t.Fatalf("Params count = %d, want 6", len(loaded.Params))
	}
	if loaded.Params[0].Kind != "conv" || loaded.Params[2].Kind != "norm" {
		t.Errorf("kinds = %s, %s", loaded.Params[0].Kind, loaded.Params[2].Kind)
	}

	// restore into a fresh network
	conv2 := layers.NewConv2D("g.conv1", 3, 8, 3, 3, 1, 1)
	bn2 := layers.NewBatchNorm2D("g.bn1", 8)
	if err := ApplyWeights(loaded, append(conv2.Params(), bn2.Params()...)); err != nil {
		t.Fatalf("ApplyWeights failed: %v", err)
	}
	if !tensor.Equal(conv.W.Value, conv2.W.Value) {
		t.Errorf("conv weights differ after restore")
	}
	if bn2.RunningMean.Value.Data[7] != 0.5 {
		t.Errorf("running mean = %f, want 0.5", bn2.RunningMean.Value.Data[7])
	}
}

func TestApplyWeightsRejectsMismatch(t *testing.T) {
	src := layers.NewLinear("fc", 4, 2)
	mw := CollectWeights("target", src.Params())

	if err := ApplyWeights(mw, layers.NewLinear("fc", 4, 3).Params()); err == nil {
		t.Error("Expected error for shape mismatch")
	}
	if err := ApplyWeights(mw, layers.NewLinear("other", 4, 2).Params()); err == nil {
		t.Error("Expected error for missing parameter")
	}
}

func TestLoadWeightsNotFound(t *testing.T) {
	_, err := LoadWeights("/nonexistent/path/weights.json")
	if err == nil {
		t.Error("Expected error for nonexistent file")
	}
}

func TestLoadWeightsInvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	badFile := filepath.Join(tmpDir, "bad.json")
	err := os.WriteFile(badFile, []byte("not valid json"), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	_, err = LoadWeights(badFile)
	if err == nil {
		t.Error("Expected error for invalid JSON")
	}
}
