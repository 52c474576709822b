package device

import (
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
)

// Pools holds every piece of host-resident state one Simulator carries
// between slices: the bounded GeoPixel/AirPixel arrays, the ping-pong
// liveness bookkeeping, and the flag/association grids the stages use to
// talk to each other within a slice.
//
// The two AirPixel buffers alternate roles by parity: whichever buffer a
// slice writes into becomes the next slice's read buffer, since
// Constants.Swap follows slice mod 2. A parcel that survives Move is
// finalized in place in the write buffer rather than copied to the other
// one; Alive marks the slots that are still live so the next slice's Draw
// knows which entries to skip.
type Pools struct {
	N int

	Constants Constants
	Mutables  Mutables
	Coeffs    Coefficients

	Geo []GeoPixel

	Air   [2][]AirPixel
	Alive [2][]bool

	// AirGeo is keyed by parcel slot index within whichever buffer is
	// currently the write buffer; it is rebuilt fresh every slice.
	AirGeo []AirGeoMapElement

	// Flag is the N*N last-writer-wins grid: 0 means empty,
	// 1+readBufferParcelIndex for a parcel splatted by Draw, and
	// -(1+writeBufferParcelIndex) for a parcel spawned by Outline this
	// slice.
	Flag []int32

	// GeoIndexAt is the N*N reverse index from texel to the GeoPixel
	// rasterized there this slice, or -1.
	GeoIndexAt []int32

	// Carried deduplicates read-buffer parcels that multiple geometry
	// pixels try to carry forward into the write buffer in the same
	// slice. Indexed by read-buffer slot, reset to -1 every slice.
	Carried []int32

	mu sync.Mutex
}

// NewPools allocates the bounded pools for a grid of n x n texels holding up
// to maxGeoPixels GeoPixels and maxAirPixels AirPixels per buffer.
func NewPools(n, maxGeoPixels, maxAirPixels int) *Pools {
	p := &Pools{N: n}
	p.Geo = make([]GeoPixel, maxGeoPixels)
	p.Air[0] = make([]AirPixel, maxAirPixels)
	p.Air[1] = make([]AirPixel, maxAirPixels)
	p.Alive[0] = make([]bool, maxAirPixels)
	p.Alive[1] = make([]bool, maxAirPixels)
	p.AirGeo = make([]AirGeoMapElement, maxAirPixels)
	p.Flag = make([]int32, n*n)
	p.GeoIndexAt = make([]int32, n*n)
	p.Carried = make([]int32, maxAirPixels)
	for i := range p.GeoIndexAt {
		p.GeoIndexAt[i] = -1
	}
	for i := range p.Carried {
		p.Carried[i] = -1
	}
	p.Constants.MaxGeoPixels = int32(maxGeoPixels)
	p.Constants.MaxAirPixels = int32(maxAirPixels)
	p.Constants.ScreenSize = int32(n)
	return p
}

// ResetSweep clears the force/torque accumulators and live counts at the
// start of a full sweep (slice 0).
func (p *Pools) ResetSweep() {
	p.Mutables = Mutables{}
}

// ResetSlice prepares the pools for the slice about to run: it clears the
// flag and geo-index grids, zeros the write buffer's live count and the force
// accumulators, and resets the carry-dedup table. The accumulators come back
// per slice; the sweep totals live host side. writeSwap is Constants.Swap for
// the slice.
func (p *Pools) ResetSlice(writeSwap int) {
	p.Mutables.GeoCount = 0
	p.Mutables.AirCount[writeSwap] = 0
	p.Mutables.Lift = mgl32.Vec4{}
	p.Mutables.Drag = mgl32.Vec4{}
	p.Mutables.Torque = mgl32.Vec4{}
	for i := range p.Flag {
		p.Flag[i] = 0
	}
	for i := range p.GeoIndexAt {
		p.GeoIndexAt[i] = -1
	}
	for i := range p.Carried {
		p.Carried[i] = -1
	}
}

// PushGeo atomically allocates a GeoPixel slot. ok is false if the pool is
// already full, in which case the pixel is silently dropped.
func (p *Pools) PushGeo(gp GeoPixel) (idx int, ok bool) {
	i := atomic.AddInt32(&p.Mutables.GeoCount, 1) - 1
	if i < 0 || i >= int32(len(p.Geo)) {
		return 0, false
	}
	p.Geo[i] = gp
	return int(i), true
}

// PushAir atomically allocates an AirPixel slot in the given buffer,
// resetting its AirGeoMap entry and marking it alive. ok is false if the
// buffer is already full.
func (p *Pools) PushAir(buf int, ap AirPixel) (idx int, ok bool) {
	i := atomic.AddInt32(&p.Mutables.AirCount[buf], 1) - 1
	if i < 0 || i >= int32(len(p.Air[buf])) {
		return 0, false
	}
	p.Air[buf][i] = ap
	p.AirGeo[i] = AirGeoMapElement{}
	p.Alive[buf][i] = true
	return int(i), true
}

// SwapFlag claims texel idx for parcelIndex, last writer wins, returning the
// previous occupant if there was one.
func (p *Pools) SwapFlag(texelIdx, parcelIndex int) (prevParcel int, hadPrev bool) {
	prev := atomic.SwapInt32(&p.Flag[texelIdx], int32(parcelIndex)+1)
	if prev == 0 {
		return 0, false
	}
	return int(prev - 1), true
}

// FlagSpawn claims texel idx for a parcel just spawned into the write buffer,
// so neighboring geometry pixels associate with it instead of spawning their
// own.
func (p *Pools) FlagSpawn(texelIdx, writeIdx int) {
	atomic.SwapInt32(&p.Flag[texelIdx], -(int32(writeIdx) + 1))
}

// FlagValue returns the raw flag cell: 0 empty, positive for a splatted
// read-buffer parcel, negative for a parcel spawned this slice.
func (p *Pools) FlagValue(texelIdx int) int32 {
	return atomic.LoadInt32(&p.Flag[texelIdx])
}

// TryAssociate appends geoIdx to the write-buffer parcel's AirGeoMap entry,
// bounded at MaxGeoPerAir. Returns false if the entry is already full, in
// which case the association is dropped.
func (p *Pools) TryAssociate(parcelIdx, geoIdx int) bool {
	e := &p.AirGeo[parcelIdx]
	for {
		cur := atomic.LoadInt32(&e.GeoCount)
		if cur >= MaxGeoPerAir {
			return false
		}
		if atomic.CompareAndSwapInt32(&e.GeoCount, cur, cur+1) {
			e.GeoIndices[cur] = int32(geoIdx)
			return true
		}
	}
}

// ClaimCarry ensures the read-buffer parcel at readIdx has been copied into
// the write buffer exactly once this slice, calling push to perform the
// actual copy the first time it is needed. Concurrent callers racing on the
// same readIdx may both invoke push; the loser's copy becomes an inert extra
// slot rather than being discarded, which is harmless since it starts with
// no AirGeoMap associations.
func (p *Pools) ClaimCarry(readIdx int, push func() (int, bool)) (writeIdx int, ok bool) {
	for {
		cur := atomic.LoadInt32(&p.Carried[readIdx])
		if cur >= 0 {
			return int(cur), true
		}
		newIdx, pushed := push()
		if !pushed {
			return 0, false
		}
		if atomic.CompareAndSwapInt32(&p.Carried[readIdx], -1, int32(newIdx)) {
			return newIdx, true
		}
		return int(atomic.LoadInt32(&p.Carried[readIdx])), true
	}
}

// ClampCounts pins the allocation counters back to the pool capacities after
// a stage runs. The atomic-add allocators overshoot when a pool fills up, so
// the raw counters can exceed the slice lengths even though no slot past the
// end was ever written.
func (p *Pools) ClampCounts() {
	if p.Mutables.GeoCount > int32(len(p.Geo)) {
		p.Mutables.GeoCount = int32(len(p.Geo))
	}
	for b := 0; b < 2; b++ {
		if p.Mutables.AirCount[b] > int32(len(p.Air[b])) {
			p.Mutables.AirCount[b] = int32(len(p.Air[b]))
		}
	}
}

// AddForces folds one worker band's partial lift/drag/torque sums into the
// shared accumulators. Go has no atomic float add, so this takes the single
// mutex the original pipeline's atomics would have serialized on anyway.
func (p *Pools) AddForces(lift, drag, torque mgl32.Vec3) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Mutables.Lift[0] += lift[0]
	p.Mutables.Lift[1] += lift[1]
	p.Mutables.Lift[2] += lift[2]
	p.Mutables.Drag[0] += drag[0]
	p.Mutables.Drag[1] += drag[1]
	p.Mutables.Drag[2] += drag[2]
	p.Mutables.Torque[0] += torque[0]
	p.Mutables.Torque[1] += torque[1]
	p.Mutables.Torque[2] += torque[2]
}
