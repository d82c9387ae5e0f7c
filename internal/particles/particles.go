// Package particles seeds demo point sets for the grid search.
package particles

import (
	"math"
	"math/rand"
	"time"

	"particle-nns/internal/nns"
)

// Resolution is the lattice spacing of generated coordinates.
const Resolution = 0.1

// NewRand returns a seeded RNG. A zero seed uses the current time.
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Generate places n points uniformly on a 0.1 lattice inside the volume
// [-dim/2, dim/2) on each axis.
func Generate(n int, dimX, dimY, dimZ float64, rng *rand.Rand) []nns.Vec3 {
	points := make([]nns.Vec3, n)
	for i := range points {
		points[i] = nns.Vec3{
			X: axis(dimX, rng),
			Y: axis(dimY, rng),
			Z: axis(dimZ, rng),
		}
	}
	return points
}

func axis(dim float64, rng *rand.Rand) float64 {
	steps := int(math.Round(dim / Resolution))
	if steps < 1 {
		return 0
	}
	return float64(rng.Intn(steps))*Resolution - dim/2
}
