// Package data provides batched image/label datasets for the trainer.
package data

import (
	"fmt"

	"advgan_lib/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Batch is one step's worth of images [N,C,H,W] in [0,1] and their
// zero-based class labels.
type Batch struct {
	Images *tensor.Tensor
	Labels []int
}

// Dataset yields the batches of one epoch, in order.
type Dataset interface {
	Batches() []Batch
	// Len is the number of batches per epoch.
	Len() int
}

// InMemory splits a fixed image tensor into consecutive batches. The last
// batch is smaller when the sample count is not a multiple of batchSize.
type InMemory struct {
	batches []Batch
}

func NewInMemory(images *tensor.Tensor, labels []int, batchSize int) (*InMemory, error) {
	if len(images.Shape) != 4 {
		return nil, fmt.Errorf("images must be [N,C,H,W], got %v", images.Shape)
	}
	n := images.Shape[0]
	if n != len(labels) {
		return nil, fmt.Errorf("%d images but %d labels", n, len(labels))
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	sample := images.SampleSize()
	ds := &InMemory{}
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}
		shape := append([]int{end - start}, images.Shape[1:]...)
		imgs := tensor.New(shape...)
		copy(imgs.Data, images.Data[start*sample:end*sample])
		ds.batches = append(ds.batches, Batch{
			Images: imgs,
			Labels: append([]int{}, labels[start:end]...),
		})
	}
	return ds, nil
}

func (d *InMemory) Batches() []Batch { return d.batches }

func (d *InMemory) Len() int { return len(d.batches) }

// SyntheticConfig describes a generated dataset.
type SyntheticConfig struct {
	Samples   int
	Channels  int
	Height    int
	Width     int
	NumLabels int
	BatchSize int
	Seed      uint64
}

// NewSynthetic draws uniform [0,1] pixels and uniform labels. The same seed
// always yields the same data.
func NewSynthetic(cfg SyntheticConfig) (*InMemory, error) {
	if cfg.Samples <= 0 || cfg.Channels <= 0 || cfg.Height <= 0 || cfg.Width <= 0 {
		return nil, fmt.Errorf("invalid synthetic dataset dimensions %+v", cfg)
	}
	if cfg.NumLabels <= 0 {
		return nil, fmt.Errorf("number of labels must be positive")
	}
	src := rand.NewSource(cfg.Seed)
	pixel := distuv.Uniform{Min: 0, Max: 1, Src: src}
	rng := rand.New(src)

	images := tensor.New(cfg.Samples, cfg.Channels, cfg.Height, cfg.Width)
	for i := range images.Data {
		images.Data[i] = pixel.Rand()
	}
	labels := make([]int, cfg.Samples)
	for i := range labels {
		labels[i] = rng.Intn(cfg.NumLabels)
	}
	return NewInMemory(images, labels, cfg.BatchSize)
}
