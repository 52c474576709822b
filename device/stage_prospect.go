package device

import (
	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/sync/errgroup"

	"github.com/distortions81/rld/internal/vecmath"
)

const coverageEpsilon = 1e-6

// RunProspect scans the rasterized frame and allocates a GeoPixel (plus a
// reverse texel -> GeoPixel index entry) for every texel whose coverage is
// set and whose normal is non-degenerate.
func RunProspect(p *Pools, frame *Frame, workers int) error {
	rows := PartitionRows(frame.N, func(x, y int) bool {
		t := frame.At(x, y)
		return t.Covered && vecmath.Len3(mgl32.Vec3{t.Normal[0], t.Normal[1], t.Normal[2]}) > coverageEpsilon
	})
	bands := AssignBands(workers, rows)

	var g errgroup.Group
	for _, band := range bands {
		band := band
		g.Go(func() error {
			for _, row := range band {
				for _, sp := range row.Spans {
					for x := sp.Start; x <= sp.End; x++ {
						t := frame.At(x, row.Y)
						gp := GeoPixel{
							WindPos:  t.WindPos,
							TexCoord: [2]int32{int32(x), int32(row.Y)},
							Normal:   t.Normal,
						}
						idx, ok := p.PushGeo(gp)
						if !ok {
							continue // pool overflow, dropped per contract
						}
						p.GeoIndexAt[row.Y*p.N+x] = int32(idx)
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	p.ClampCounts()
	return nil
}
