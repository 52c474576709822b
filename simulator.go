// Package rld estimates the aerodynamic lift, drag, and torque on a rigid
// model in a uniform wind by sweeping the model's bounding volume in thin
// depth slices. Each slice is rasterized into a texel grid, covered texels
// become geometry samples, and virtual air parcels advect across the grid
// slice by slice, trading reaction forces with the geometry they touch. The
// forces accumulated over a full sweep are the result.
//
// A Simulator is built once with Setup, pointed at a model with Set, and then
// stepped slice by slice (or swept in one call). All simulation state lives
// on the Simulator; several independent simulators may coexist in one
// process, but a single Simulator must not be stepped concurrently.
package rld

import (
	"log"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/distortions81/rld/device"
	"github.com/distortions81/rld/device/opencl"
	"github.com/distortions81/rld/model"
	"github.com/distortions81/rld/raster"
)

// Simulator is one independent lift/drag pipeline: its texel pools, its
// rasterizer, its compute backend, and the rolling sweep results.
type Simulator struct {
	logger  *log.Logger
	backend device.Backend

	pools      *device.Pools
	rasterizer *raster.Rasterizer
	frame      *device.Frame

	texSize    int
	sliceCount int

	model          model.Model
	modelMat       mgl32.Mat4
	normalMat      mgl32.Mat3
	windframeWidth float32
	windframeDepth float32
	sliceSize      float32
	windSpeed      float32
	dt             float32
	debug          bool

	currentSlice int
	swap         int

	sweepLift    mgl32.Vec3
	sweepDrag    mgl32.Vec3
	sweepTorque  mgl32.Vec3
	sliceLifts   []mgl32.Vec3
	sliceDrags   []mgl32.Vec3
	sliceTorques []mgl32.Vec3

	frontTex      *Texture
	sideTex       *Texture
	turbulenceTex *Texture

	busy atomic.Bool
}

// Setup builds a Simulator from cfg. ok is false when the requested backend
// cannot be initialized, in which case the Simulator is nil and must not be
// used. With BackendAuto a missing OpenCL device is not a failure; the Go
// backend takes over with a logged notice.
func Setup(cfg Config) (*Simulator, bool) {
	cfg = cfg.withDefaults()

	var backend device.Backend
	switch cfg.Backend {
	case BackendGo:
		backend = device.NewGoBackend(cfg.Workers)
	case BackendOpenCL:
		b, err := opencl.NewBackend()
		if err != nil {
			cfg.Logger.Printf("OpenCL initialization failed: %v", err)
			return nil, false
		}
		cfg.Logger.Printf("OpenCL backend enabled (device: %s)", b.DeviceName())
		backend = b
	default:
		b, err := opencl.NewBackend()
		if err != nil {
			cfg.Logger.Printf("OpenCL unavailable (%v); using Go backend", err)
			backend = device.NewGoBackend(cfg.Workers)
		} else {
			cfg.Logger.Printf("OpenCL backend enabled (device: %s)", b.DeviceName())
			backend = b
		}
	}

	maxPixels := cfg.TexSize * cfg.TexSize / maxPixelsDivisor
	s := &Simulator{
		logger:        cfg.Logger,
		backend:       backend,
		pools:         device.NewPools(cfg.TexSize, maxPixels, maxPixels),
		rasterizer:    raster.NewRasterizer(cfg.TexSize),
		frame:         device.NewFrame(cfg.TexSize),
		texSize:       cfg.TexSize,
		sliceCount:    cfg.SliceCount,
		frontTex:      newTexture(cfg.TexSize),
		sideTex:       newTexture(cfg.TexSize),
		turbulenceTex: newTexture(cfg.TexSize),
	}
	s.pools.Coeffs = device.Coefficients{LiftC: cfg.LiftC, DragC: cfg.DragC}
	s.pools.Constants.MomentOfInertia = cfg.MomentOfInertia
	return s, true
}

// Close releases backend-held resources. The Simulator must not be used
// afterwards.
func (s *Simulator) Close() error {
	return s.backend.Close()
}

// Set binds the model and sweep parameters for the next sweep. Call it before
// each sweep; calling it mid-sweep leaves the remaining slices running with
// mixed parameters, which the pipeline does not guard against. m must not be
// nil.
func (s *Simulator) Set(
	m model.Model,
	modelMat mgl32.Mat4,
	normalMat mgl32.Mat3,
	windframeWidth float32,
	windframeDepth float32,
	windSpeed float32,
	debug bool,
) {
	if m == nil {
		panic("rld: Set called with nil model")
	}
	s.model = m
	s.modelMat = modelMat
	s.normalMat = normalMat
	s.windframeWidth = windframeWidth
	s.windframeDepth = windframeDepth
	s.sliceSize = windframeDepth / float32(s.sliceCount)
	s.windSpeed = windSpeed
	if windSpeed != 0 {
		s.dt = s.sliceSize / windSpeed
	} else {
		s.dt = 0
	}
	s.debug = debug
}

// Step executes one slice: rasterize, prospect, draw, outline, move, then
// fold the slice's forces into the sweep totals. It returns true after the
// final slice, at which point the Simulator is reset and ready for the next
// sweep.
func (s *Simulator) Step() bool {
	if !s.busy.CompareAndSwap(false, true) {
		panic("rld: concurrent Step on one Simulator")
	}
	defer s.busy.Store(false)

	if s.currentSlice == 0 {
		s.resetSweep()
	}

	s.swap = 1 - s.swap
	c := &s.pools.Constants
	c.Swap = int32(s.swap)
	c.Slice = int32(s.currentSlice)
	c.SliceZ = s.windframeDepth*-0.5 + float32(s.currentSlice)*s.sliceSize
	s.pools.ResetSlice(s.swap)

	zNear := c.SliceZ
	zFar := zNear + s.sliceSize
	var tris []model.Triangle
	if s.model != nil {
		tris = s.model.Draw(s.modelMat, s.normalMat)
	}
	s.rasterizer.RasterizeSlice(s.frame, tris, s.windframeWidth, zNear, zFar)

	s.runStage("prospect", s.backend.Prospect(s.pools, s.frame))
	s.runStage("draw", s.backend.Draw(s.pools, s.frame))
	s.runStage("outline", s.backend.Outline(s.pools, s.frame))
	s.runStage("move", s.backend.Move(s.pools))

	m := &s.pools.Mutables
	lift := mgl32.Vec3{m.Lift[0], m.Lift[1], m.Lift[2]}
	drag := mgl32.Vec3{m.Drag[0], m.Drag[1], m.Drag[2]}
	torque := mgl32.Vec3{m.Torque[0], m.Torque[1], m.Torque[2]}
	s.sweepLift = s.sweepLift.Add(lift)
	s.sweepDrag = s.sweepDrag.Add(drag)
	s.sweepTorque = s.sweepTorque.Add(torque)
	s.sliceLifts = append(s.sliceLifts, lift)
	s.sliceDrags = append(s.sliceDrags, drag)
	s.sliceTorques = append(s.sliceTorques, torque)

	s.paintFront(s.frame)
	if s.debug {
		s.paintSide(s.currentSlice, s.swap)
		s.paintTurbulence(s.swap)
	}

	s.currentSlice++
	if s.currentSlice >= s.sliceCount {
		s.currentSlice = 0
		return true
	}
	return false
}

// Sweep runs Step until the final slice, restarting from slice 0 regardless
// of any abandoned earlier sweep.
func (s *Simulator) Sweep() {
	s.currentSlice = 0
	for !s.Step() {
	}
}

func (s *Simulator) resetSweep() {
	s.pools.ResetSweep()
	c := &s.pools.Constants
	c.Swap = 0
	c.WindframeSize = s.windframeWidth
	c.SliceSize = s.sliceSize
	c.WindSpeed = s.windSpeed
	c.Dt = s.dt
	c.Slice = 0
	c.SliceZ = s.windframeDepth * -0.5
	if s.debug {
		c.Debug = 1
		s.sideTex.clear()
	} else {
		c.Debug = 0
	}
	s.sweepLift = mgl32.Vec3{}
	s.sweepDrag = mgl32.Vec3{}
	s.sweepTorque = mgl32.Vec3{}
	s.sliceLifts = s.sliceLifts[:0]
	s.sliceDrags = s.sliceDrags[:0]
	s.sliceTorques = s.sliceTorques[:0]
	// First XOR in Step yields buffer 0.
	s.swap = 1
}

// runStage surfaces a backend failure without aborting the sweep. Stage
// errors only arise from device faults; per-parcel degradation is silent by
// contract.
func (s *Simulator) runStage(name string, err error) {
	if err != nil {
		s.logger.Printf("%s stage failed: %v", name, err)
	}
}

// Slice reports the next slice index to execute, in [0, SliceCount).
func (s *Simulator) Slice() int { return s.currentSlice }

// SliceCount reports how many slices one sweep executes.
func (s *Simulator) SliceCount() int { return s.sliceCount }

// Lift is the sweep's accumulated lift so far.
func (s *Simulator) Lift() mgl32.Vec3 { return s.sweepLift }

// Lifts holds one lift vector per completed slice of the current sweep. The
// slice is reused; it stays valid until the next Step.
func (s *Simulator) Lifts() []mgl32.Vec3 { return s.sliceLifts }

// Drag is the sweep's accumulated drag so far.
func (s *Simulator) Drag() mgl32.Vec3 { return s.sweepDrag }

// Drags holds one drag vector per completed slice of the current sweep.
func (s *Simulator) Drags() []mgl32.Vec3 { return s.sliceDrags }

// Torque is the sweep's accumulated torque about the model origin so far.
func (s *Simulator) Torque() mgl32.Vec3 { return s.sweepTorque }

// Torques holds one torque vector per completed slice of the current sweep.
func (s *Simulator) Torques() []mgl32.Vec3 { return s.sliceTorques }

// FrontTex is the head-on view of the last rasterized slice.
func (s *Simulator) FrontTex() *Texture { return s.frontTex }

// SideTex is the cumulative bird's-eye wake view, painted only when the
// sweep runs with debug set.
func (s *Simulator) SideTex() *Texture { return s.sideTex }

// TurbulenceTex shows per-parcel cross-wind drift for the last slice,
// painted only when the sweep runs with debug set.
func (s *Simulator) TurbulenceTex() *Texture { return s.turbulenceTex }

// TexSize reports the texture edge length in texels.
func (s *Simulator) TexSize() int { return s.texSize }

// Backend reports which compute backend the Simulator runs on.
func (s *Simulator) Backend() string { return s.backend.Name() }
