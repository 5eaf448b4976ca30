package nn

import (
	"math"

	"advgan_lib/nn/layers"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

const initStd = 0.02

// InitWeights applies the GAN initialisation scheme, dispatching on each
// parameter's layer kind:
//
//	conv weights   ~ N(0, 0.02)
//	norm weights   ~ N(1, 0.02), norm biases = 0
//	linear weights ~ N(0, sqrt(2/(fanIn+fanOut)))
//
// Other parameters keep their constructor values.
func InitWeights(params []*layers.Param, seed uint64) {
	src := rand.NewSource(seed)
	conv := distuv.Normal{Mu: 0, Sigma: initStd, Src: src}
	norm := distuv.Normal{Mu: 1, Sigma: initStd, Src: src}

	for _, p := range params {
		switch p.Kind {
		case layers.KindConv:
			if p.Role == layers.RoleWeight {
				fill(p, conv)
			}
		case layers.KindNorm:
			switch p.Role {
			case layers.RoleWeight:
				fill(p, norm)
			case layers.RoleBias:
				p.Value.Fill(0)
			}
		case layers.KindLinear:
			if p.Role == layers.RoleWeight && len(p.Value.Shape) == 2 {
				scale := math.Sqrt(2.0 / float64(p.Value.Shape[0]+p.Value.Shape[1]))
				fill(p, distuv.Normal{Mu: 0, Sigma: scale, Src: src})
			}
		}
	}
}

func fill(p *layers.Param, d distuv.Normal) {
	for i := range p.Value.Data {
		p.Value.Data[i] = d.Rand()
	}
}
