package device

import (
	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/sync/errgroup"
)

// RunOutline walks every GeoPixel's 3x3 neighborhood of flag texels. Each
// flagged neighbor parcel is carried into the write buffer (once, even if
// several geo pixels claim it) and associated with this geo pixel. A geo
// pixel with no flagged neighbor at all spawns a brand new parcel at its own
// position, associated with itself.
func RunOutline(p *Pools, frame *Frame, workers int) error {
	geoCount := int(p.Mutables.GeoCount)
	if geoCount > len(p.Geo) {
		geoCount = len(p.Geo)
	}
	chunks := ChunkRange(geoCount, workers)
	swap := int(p.Constants.Swap)
	windSpeed := p.Constants.WindSpeed

	var g errgroup.Group
	for _, c := range chunks {
		c := c
		g.Go(func() error {
			for gi := c[0]; gi < c[1]; gi++ {
				geo := p.Geo[gi]
				x := int(geo.TexCoord[0])
				y := int(geo.TexCoord[1])
				foundNeighbor := false

				for _, off := range NeighborOffsets3x3 {
					nx, ny := x+off.DX, y+off.DY
					if nx < 0 || nx >= p.N || ny < 0 || ny >= p.N {
						continue
					}
					v := p.FlagValue(ny*p.N + nx)
					if v == 0 {
						continue
					}
					foundNeighbor = true
					if v < 0 {
						// Spawned this slice; already in the write buffer.
						p.TryAssociate(int(-v-1), gi)
						continue
					}
					parcelIdx := int(v - 1)
					read := 1 - swap
					writeIdx, ok := p.ClaimCarry(parcelIdx, func() (int, bool) {
						return p.PushAir(swap, p.Air[read][parcelIdx])
					})
					if ok {
						p.TryAssociate(writeIdx, gi)
					}
				}

				if !foundNeighbor {
					spawnParcel(p, swap, geo, windSpeed, gi)
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

func spawnParcel(p *Pools, swap int, geo GeoPixel, windSpeed float32, geoIdx int) {
	idx, ok := p.PushAir(swap, AirPixel{
		WindPos:   geo.WindPos,
		Backforce: mgl32.Vec2{},
		Velocity:  mgl32.Vec4{0, 0, -windSpeed, 0},
	})
	if !ok {
		return // pool full, dropped per contract
	}
	p.TryAssociate(idx, geoIdx)
	p.FlagSpawn(int(geo.TexCoord[1])*p.N+int(geo.TexCoord[0]), idx)
}
