package utils

import (
	"encoding/json"
	"os"

	"advgan_lib/nn/layers"
	"advgan_lib/tensor"

	"github.com/pkg/errors"
)

// WeightsVersion is written into every snapshot.
const WeightsVersion = "advgan-weights/1"

// WeightData represents serializable weight data for a single parameter
type WeightData struct {
	Name  string    `json:"name"`
	Kind  string    `json:"kind"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// ModelWeights represents all parameters (and buffers) of a network
type ModelWeights struct {
	Version string        `json:"version"`
	Model   string        `json:"model"`
	Target  string        `json:"target,omitempty"`
	RunID   string        `json:"run_id,omitempty"`
	Epoch   int           `json:"epoch,omitempty"`
	Params  []*WeightData `json:"params"`
}

// SaveWeights saves model weights to a JSON file
func SaveWeights(filepath string, weights *ModelWeights) error {
	data, err := json.MarshalIndent(weights, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal weights")
	}
	if err := os.WriteFile(filepath, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write weights to %s", filepath)
	}
	return nil
}

// LoadWeights loads model weights from a JSON file
func LoadWeights(filepath string) (*ModelWeights, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read weights file")
	}
	var weights ModelWeights
	if err := json.Unmarshal(data, &weights); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal weights")
	}
	return &weights, nil
}

// TensorToWeightData converts a tensor to serializable weight data
func TensorToWeightData(name string, t *tensor.Tensor) *WeightData {
	return &WeightData{
		Name:  name,
		Shape: append([]int{}, t.Shape...),
		Data:  append([]float64{}, t.Data...), // copy
	}
}

// WeightDataToTensor converts weight data back to a tensor
func WeightDataToTensor(wd *WeightData) *tensor.Tensor {
	t := tensor.New(wd.Shape...)
	copy(t.Data, wd.Data)
	return t
}

// CollectWeights captures the current values of params, buffers included.
func CollectWeights(model string, params []*layers.Param) *ModelWeights {
	mw := &ModelWeights{Version: WeightsVersion, Model: model}
	for _, p := range params {
		wd := TensorToWeightData(p.Name, p.Value)
		wd.Kind = p.Kind.String()
		mw.Params = append(mw.Params, wd)
	}
	return mw
}

// ApplyWeights copies stored values into params, matching by name.
// Every param must be present with an identical shape.
func ApplyWeights(mw *ModelWeights, params []*layers.Param) error {
	byName := make(map[string]*WeightData, len(mw.Params))
	for _, wd := range mw.Params {
		byName[wd.Name] = wd
	}
	for _, p := range params {
		wd, ok := byName[p.Name]
		if !ok {
			return errors.Errorf("weights for %q missing from %s snapshot", p.Name, mw.Model)
		}
		if !tensor.SameShape(p.Value, WeightDataToTensor(wd)) || len(wd.Data) != len(p.Value.Data) {
			return errors.Errorf("weights for %q: shape %v does not match %v", p.Name, wd.Shape, p.Value.Shape)
		}
		copy(p.Value.Data, wd.Data)
	}
	return nil
}
