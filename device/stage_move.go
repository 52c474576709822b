package device

import (
	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/sync/errgroup"

	"github.com/distortions81/rld/internal/vecmath"
)

// RunMove advects every live parcel in the write buffer in place. A parcel
// that drifts outside the windframe is marked dead (skipped by every future
// reader of this buffer, in particular next slice's Draw); survivors keep
// their slot with updated position, velocity and backforce. Each worker
// accumulates its own partial lift/drag/torque sums and folds them into the
// shared totals once, since Go has no atomic float add.
func RunMove(p *Pools, workers int) error {
	swap := int(p.Constants.Swap)
	count := int(p.Mutables.AirCount[swap])
	chunks := ChunkRange(count, workers)
	dt := p.Constants.Dt
	sliceZ := p.Constants.SliceZ
	liftC := p.Coeffs.LiftC
	dragC := p.Coeffs.DragC

	var g errgroup.Group
	for _, c := range chunks {
		c := c
		g.Go(func() error {
			var liftSum, dragSum, torqueSum mgl32.Vec3
			for i := c[0]; i < c[1]; i++ {
				if !p.Alive[swap][i] {
					continue
				}
				parcel := p.Air[swap][i]
				mapEl := p.AirGeo[i]

				var normalSum mgl32.Vec3
				for k := int32(0); k < mapEl.GeoCount; k++ {
					n := p.Geo[mapEl.GeoIndices[k]].Normal
					normalSum = vecmath.Add3(normalSum, mgl32.Vec3{n[0], n[1], n[2]})
				}
				var normalHat mgl32.Vec3
				if vecmath.Len3(normalSum) > 0 {
					normalHat = vecmath.Normalize3(normalSum)
				}

				vel3 := mgl32.Vec3{parcel.Velocity[0], parcel.Velocity[1], parcel.Velocity[2]}
				closing := -vecmath.Dot3(vel3, normalHat)
				reaction := vecmath.Scale3(normalHat, closing)

				backforce := mgl32.Vec2{reaction[0] * liftC, reaction[1] * liftC}
				dragZ := reaction[2] * dragC

				newVel := mgl32.Vec4{
					vel3[0] + backforce[0]*dt,
					vel3[1] + backforce[1]*dt,
					vel3[2] + dragZ*dt,
					parcel.Velocity[3],
				}
				newPos := mgl32.Vec2{
					parcel.WindPos[0] + newVel[0]*dt,
					parcel.WindPos[1] + newVel[1]*dt,
				}

				liftForce := mgl32.Vec3{backforce[0], backforce[1], 0}
				dragForce := mgl32.Vec3{0, 0, dragZ}
				r3 := mgl32.Vec3{newPos[0], newPos[1], sliceZ}
				torque := vecmath.Cross3(r3, vecmath.Add3(liftForce, dragForce))

				liftSum = vecmath.Add3(liftSum, liftForce)
				dragSum = vecmath.Add3(dragSum, dragForce)
				torqueSum = vecmath.Add3(torqueSum, torque)

				if !InWindframe(p.Constants, newPos) {
					p.Alive[swap][i] = false
					continue
				}
				p.Air[swap][i] = AirPixel{WindPos: newPos, Backforce: backforce, Velocity: newVel}
			}
			p.AddForces(liftSum, dragSum, torqueSum)
			return nil
		})
	}
	return g.Wait()
}
