// Package device implements the per-slice compute stages of the wind
// pipeline: prospecting geometry texels into GeoPixels, splatting existing
// air parcels onto a flag grid, associating parcels with nearby geometry,
// and advecting surviving parcels. The default Backend runs every stage as a
// band of goroutines over plain Go slices with atomic bookkeeping standing in
// for the workgroup atomics a real GPU kernel would use; device/opencl offers
// a genuine GPU-backed Backend with the same contract.
package device

import "github.com/go-gl/mathgl/mgl32"

// MaxGeoPerAir bounds how many GeoPixels a single AirPixel can be associated
// with in one slice.
const MaxGeoPerAir = 3

// GeoPixel is one rasterized, geometry-covered texel: its wind-space
// position, the texel it was rasterized into, and its surface normal (xyz)
// with a spare flag channel (w).
type GeoPixel struct {
	WindPos  mgl32.Vec2
	TexCoord [2]int32
	Normal   mgl32.Vec4
}

// AirPixel is one simulated air parcel: its wind-space position, the
// reaction force computed against it last slice, and its velocity (xyz) with
// a spare carried scalar (w).
type AirPixel struct {
	WindPos   mgl32.Vec2
	Backforce mgl32.Vec2
	Velocity  mgl32.Vec4
}

// AirGeoMapElement records, for one air parcel slot, which GeoPixels it is
// currently in contact with.
type AirGeoMapElement struct {
	GeoCount   int32
	GeoIndices [MaxGeoPerAir]int32
}

// Constants mirrors the small uniform block uploaded once per slice.
type Constants struct {
	Swap            int32
	MaxGeoPixels    int32
	MaxAirPixels    int32
	ScreenSize      int32
	WindframeSize   float32
	SliceSize       float32
	WindSpeed       float32
	Dt              float32
	MomentOfInertia float32
	Slice           int32
	SliceZ          float32
	Debug           uint32
}

// Mutables mirrors the small read-write block the stages update in place:
// live counts and the force/torque accumulators swept out at the end of a
// run.
type Mutables struct {
	GeoCount int32
	AirCount [2]int32
	Lift     mgl32.Vec4
	Drag     mgl32.Vec4
	Torque   mgl32.Vec4
}

// Coefficients holds the lift/drag scaling the caller fixes at setup time.
// The original pipeline treats these as separate program uniforms rather
// than part of the per-slice Constants block; this type plays the same role.
type Coefficients struct {
	LiftC float32
	DragC float32
}
