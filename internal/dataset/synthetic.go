package dataset

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Synthetic builds n deterministic images of w*h rays. Cameras sit on a circle
// looking at the origin; colours are a smooth gradient tinted per image, and
// the fourth channel, when requested, holds a per-image exposure.
func Synthetic(n, w, h, channels int, seed uint64) (PoseTable, RayTable, error) {
	if n <= 0 || w <= 0 || h <= 0 {
		return nil, nil, fmt.Errorf("%w: synthetic %d images of %dx%d", ErrUnsupportedConfiguration, n, w, h)
	}
	if channels != 3 && channels != 4 {
		return nil, nil, fmt.Errorf("%w: synthetic %d channels", ErrUnsupportedConfiguration, channels)
	}
	rng := rand.New(rand.NewSource(seed))
	poses := make(PoseTable, n)
	rays := make(RayTable, n)
	for i := 0; i < n; i++ {
		theta := 2 * math.Pi * float64(i) / float64(n)
		poses[i] = lookAtOrigin(theta, 4)

		tint := [3]float64{rng.Float64(), rng.Float64(), rng.Float64()}
		exposure := 0.125 * math.Pow(2, float64(rng.Intn(4)))
		block := mat.NewDense(w*h, channels, nil)
		for x := 0; x < w; x++ {
			for y := 0; y < h; y++ {
				u := float64(x) / math.Max(1, float64(w-1))
				v := float64(y) / math.Max(1, float64(h-1))
				row := block.RawRowView(x*h + y)
				row[0] = 0.5*u + 0.5*tint[0]
				row[1] = 0.5*v + 0.5*tint[1]
				row[2] = 0.25*(u+v) + 0.5*tint[2]
				if channels == 4 {
					row[3] = exposure
				}
			}
		}
		rays[i] = block
	}
	return poses, rays, nil
}

// lookAtOrigin returns a 3x4 camera-to-world matrix for a camera at angle
// theta on a circle of the given radius, its -z axis facing the origin.
func lookAtOrigin(theta, radius float64) *mat.Dense {
	pos := [3]float64{radius * math.Cos(theta), radius * math.Sin(theta), 0}
	back := [3]float64{math.Cos(theta), math.Sin(theta), 0}
	up := [3]float64{0, 0, 1}
	right := [3]float64{
		up[1]*back[2] - up[2]*back[1],
		up[2]*back[0] - up[0]*back[2],
		up[0]*back[1] - up[1]*back[0],
	}
	return mat.NewDense(3, 4, []float64{
		right[0], up[0], back[0], pos[0],
		right[1], up[1], back[1], pos[1],
		right[2], up[2], back[2], pos[2],
	})
}

// Records pairs the tables into shard records keyed by image index.
func Records(poses PoseTable, rays RayTable) []Record {
	recs := make([]Record, len(poses))
	for i, pose := range poses {
		recs[i] = Record{Key: fmt.Sprintf("%06d", i), Pose: pose}
		if i < len(rays) {
			recs[i].Rays = rays[i]
		}
	}
	return recs
}
