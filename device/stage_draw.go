package device

import "golang.org/x/sync/errgroup"

// RunDraw iterates the read buffer's live parcels. A parcel landing on
// geometry this slice is carried straight into the write buffer and
// associated with the GeoPixel at its texel ("impacting"); otherwise it is
// splatted into the flag grid for Outline's neighbor search to find.
func RunDraw(p *Pools, frame *Frame, workers int) error {
	swap := int(p.Constants.Swap)
	read := 1 - swap
	count := int(p.Mutables.AirCount[read])
	chunks := ChunkRange(count, workers)

	var g errgroup.Group
	for _, c := range chunks {
		c := c
		g.Go(func() error {
			for i := c[0]; i < c[1]; i++ {
				if !p.Alive[read][i] {
					continue
				}
				parcel := p.Air[read][i]
				x, y, ok := TexelForWindPos(p.Constants, parcel.WindPos)
				if !ok {
					continue // drifted outside the grid; dropped
				}
				texelIdx := y*p.N + x
				if frame.At(x, y).Covered {
					gi := p.GeoIndexAt[texelIdx]
					if gi < 0 {
						continue // covered but no GeoPixel survived prospecting; absorbed
					}
					writeIdx, ok := p.ClaimCarry(i, func() (int, bool) {
						return p.PushAir(swap, parcel)
					})
					if ok {
						p.TryAssociate(writeIdx, int(gi))
					}
					continue
				}
				p.SwapFlag(texelIdx, i)
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
