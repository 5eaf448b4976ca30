package data

import (
	"testing"

	"advgan_lib/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryBatching(t *testing.T) {
	images := tensor.New(5, 1, 2, 2)
	for i := range images.Data {
		images.Data[i] = float64(i)
	}
	ds, err := NewInMemory(images, []int{0, 1, 2, 3, 4}, 2)
	require.NoError(t, err)
	require.Equal(t, 3, ds.Len())

	b := ds.Batches()
	assert.Equal(t, []int{2, 1, 2, 2}, b[0].Images.Shape)
	assert.Equal(t, []int{1, 1, 2, 2}, b[2].Images.Shape)
	assert.Equal(t, []int{4}, b[2].Labels)
	assert.Equal(t, 8.0, b[1].Images.Data[0])

	// batches own their data
	images.Data[0] = -1
	assert.Equal(t, 0.0, b[0].Images.Data[0])
}

func TestInMemoryRejectsBadInput(t *testing.T) {
	_, err := NewInMemory(tensor.New(2, 4), []int{0, 1}, 1)
	assert.Error(t, err)
	_, err = NewInMemory(tensor.New(2, 1, 2, 2), []int{0}, 1)
	assert.Error(t, err)
	_, err = NewInMemory(tensor.New(2, 1, 2, 2), []int{0, 1}, 0)
	assert.Error(t, err)
}

func TestSyntheticIsDeterministicAndBounded(t *testing.T) {
	cfg := SyntheticConfig{Samples: 12, Channels: 3, Height: 4, Width: 4, NumLabels: 10, BatchSize: 4, Seed: 9}
	a, err := NewSynthetic(cfg)
	require.NoError(t, err)
	b, err := NewSynthetic(cfg)
	require.NoError(t, err)

	require.Equal(t, 3, a.Len())
	for i := range a.Batches() {
		assert.True(t, tensor.Equal(a.Batches()[i].Images, b.Batches()[i].Images))
		assert.Equal(t, a.Batches()[i].Labels, b.Batches()[i].Labels)
		for _, v := range a.Batches()[i].Images.Data {
			assert.True(t, v >= 0 && v <= 1)
		}
		for _, l := range a.Batches()[i].Labels {
			assert.True(t, l >= 0 && l < 10)
		}
	}

	_, err = NewSynthetic(SyntheticConfig{Samples: 1, Channels: 1, Height: 1, Width: 1, BatchSize: 1})
	assert.Error(t, err)
}
