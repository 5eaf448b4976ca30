package bench

import (
	"advgan_lib/models"
	"advgan_lib/nn"
)

// BuiltNet holds a network's layers in execution order.
type BuiltNet struct {
	Name   string
	Layers []nn.Module
}

// BuildAdvGANNets returns fresh, initialised copies of the three networks of
// an AdvGAN run, so profiling never touches the ones being trained.
func BuildAdvGANNets(channels, nLabels int, target string, seed uint64) []BuiltNet {
	g := models.NewGenerator(channels, channels, target)
	nn.InitWeights(g.Params(), seed)
	d := models.NewDiscriminator(channels)
	nn.InitWeights(d.Params(), seed+1)
	t := models.NewTargetModel(channels, nLabels, seed+2)
	return []BuiltNet{
		{Name: "generator", Layers: g.Modules()},
		{Name: "discriminator", Layers: d.Modules()},
		{Name: "target", Layers: t.Modules()},
	}
}
