// Package raster renders one axial slice of a model into the texel frame the
// compute stages consume. It is a plain software pipeline: an orthographic
// projection over the windframe cross section, a depth-tested framebuffer of
// coverage plus packed surface normals, and two passes per slice. The first
// pass walks triangle edges so silhouettes thinner than a texel still
// register coverage; the second fills triangle interiors with barycentric
// sampling. The frontmost fragment, the one nearest the upstream face of the
// slice, keeps its normal.
package raster

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/distortions81/rld/device"
	"github.com/distortions81/rld/internal/vecmath"
	"github.com/distortions81/rld/model"
)

// Rasterizer owns the per-slice framebuffer: a coverage grid, a depth buffer,
// and a normal attachment held in 16-bit signed normalized components. One
// Rasterizer serves one simulator; it is not safe for concurrent use.
type Rasterizer struct {
	n       int
	covered []bool
	depth   []float32
	normal  []int16 // 4 components per texel, snorm16
}

// NewRasterizer allocates a framebuffer for an n x n texel grid.
func NewRasterizer(n int) *Rasterizer {
	return &Rasterizer{
		n:       n,
		covered: make([]bool, n*n),
		depth:   make([]float32, n*n),
		normal:  make([]int16, n*n*4),
	}
}

// Size returns the framebuffer's edge length in texels.
func (r *Rasterizer) Size() int { return r.n }

// RasterizeSlice clears the framebuffer, renders tris clipped to the depth
// range [zNear, zFar], and resolves the result into frame. The projection
// maps the windframe cross section [-windframeSize/2, windframeSize/2]^2
// linearly onto the texel grid. tris must already be in wind space.
func (r *Rasterizer) RasterizeSlice(frame *device.Frame, tris []model.Triangle, windframeSize, zNear, zFar float32) {
	r.clear()
	if windframeSize > 0 && zFar > zNear {
		for i := range tris {
			r.wireTriangle(&tris[i], windframeSize, zNear, zFar)
		}
		for i := range tris {
			r.fillTriangle(&tris[i], windframeSize, zNear, zFar)
		}
	}
	r.resolve(frame, windframeSize)
}

func (r *Rasterizer) clear() {
	for i := range r.covered {
		r.covered[i] = false
	}
	for i := range r.depth {
		r.depth[i] = float32(math.Inf(-1))
	}
	for i := range r.normal {
		r.normal[i] = 0
	}
}

// project maps a wind-space position to continuous pixel coordinates.
func (r *Rasterizer) project(p mgl32.Vec3, windframeSize float32) (px, py float32) {
	half := windframeSize / 2
	n := float32(r.n)
	px = (p[0] + half) / windframeSize * n
	py = (p[1] + half) / windframeSize * n
	return px, py
}

// fragment writes one sample into the framebuffer if it passes the slice
// depth clip and the depth test. Larger z is nearer the wind source and wins.
func (r *Rasterizer) fragment(x, y int, z float32, normal mgl32.Vec3, zNear, zFar float32) {
	if x < 0 || x >= r.n || y < 0 || y >= r.n {
		return
	}
	if z < zNear || z > zFar {
		return
	}
	idx := y*r.n + x
	if r.covered[idx] && z <= r.depth[idx] {
		return
	}
	r.covered[idx] = true
	r.depth[idx] = z
	comps := [4]float32{normal[0], normal[1], normal[2], 1}
	packNormals(r.normal[idx*4:idx*4+4], comps[:])
}

// wireTriangle walks the three projected edges of a triangle, emitting one
// fragment per step. This is the pass that keeps edge-on geometry visible: a
// plate seen down its own plane projects to a line with zero fill area, and
// only its edges produce coverage.
func (r *Rasterizer) wireTriangle(tri *model.Triangle, windframeSize, zNear, zFar float32) {
	for e := 0; e < 3; e++ {
		a := tri.Positions[e]
		b := tri.Positions[(e+1)%3]
		na := tri.Normals[e]
		nb := tri.Normals[(e+1)%3]
		r.wireEdge(a, b, na, nb, windframeSize, zNear, zFar)
	}
}

func (r *Rasterizer) wireEdge(a, b, na, nb mgl32.Vec3, windframeSize, zNear, zFar float32) {
	// Clip the segment to the slice's depth range in parameter space first,
	// so a long edge crossing many slices only walks its local portion.
	t0, t1 := float32(0), float32(1)
	dz := b[2] - a[2]
	if dz != 0 {
		ta := (zNear - a[2]) / dz
		tb := (zFar - a[2]) / dz
		if ta > tb {
			ta, tb = tb, ta
		}
		if ta > t0 {
			t0 = ta
		}
		if tb < t1 {
			t1 = tb
		}
		if t0 > t1 {
			return
		}
	} else if a[2] < zNear || a[2] > zFar {
		return
	}

	p0 := vecmath.Add3(a, vecmath.Scale3(vecmath.Sub3(b, a), t0))
	p1 := vecmath.Add3(a, vecmath.Scale3(vecmath.Sub3(b, a), t1))
	n0 := vecmath.Add3(na, vecmath.Scale3(vecmath.Sub3(nb, na), t0))
	n1 := vecmath.Add3(na, vecmath.Scale3(vecmath.Sub3(nb, na), t1))

	x0, y0 := r.project(p0, windframeSize)
	x1, y1 := r.project(p1, windframeSize)
	steps := int(math.Max(math.Abs(float64(x1-x0)), math.Abs(float64(y1-y0)))) + 1
	for s := 0; s <= steps; s++ {
		t := float32(s) / float32(steps)
		x := x0 + (x1-x0)*t
		y := y0 + (y1-y0)*t
		z := p0[2] + (p1[2]-p0[2])*t
		n := vecmath.Normalize3(vecmath.Add3(n0, vecmath.Scale3(vecmath.Sub3(n1, n0), t)))
		r.fragment(int(x), int(y), z, n, zNear, zFar)
	}
}

// fillTriangle samples every texel center inside the projected triangle,
// interpolating depth and normal barycentrically.
func (r *Rasterizer) fillTriangle(tri *model.Triangle, windframeSize, zNear, zFar float32) {
	x0, y0 := r.project(tri.Positions[0], windframeSize)
	x1, y1 := r.project(tri.Positions[1], windframeSize)
	x2, y2 := r.project(tri.Positions[2], windframeSize)

	area := (x1-x0)*(y2-y0) - (x2-x0)*(y1-y0)
	if area == 0 {
		return // edge-on; the wire pass already covered it
	}

	minX := clampTexel(int(minf(x0, x1, x2)), r.n)
	maxX := clampTexel(int(maxf(x0, x1, x2))+1, r.n)
	minY := clampTexel(int(minf(y0, y1, y2)), r.n)
	maxY := clampTexel(int(maxf(y0, y1, y2))+1, r.n)

	inv := 1 / area
	for y := minY; y <= maxY; y++ {
		cy := float32(y) + 0.5
		for x := minX; x <= maxX; x++ {
			cx := float32(x) + 0.5
			w0 := ((x1-cx)*(y2-cy) - (x2-cx)*(y1-cy)) * inv
			w1 := ((x2-cx)*(y0-cy) - (x0-cx)*(y2-cy)) * inv
			w2 := 1 - w0 - w1
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			z := tri.Positions[0][2]*w0 + tri.Positions[1][2]*w1 + tri.Positions[2][2]*w2
			n := vecmath.Normalize3(vecmath.Add3(
				vecmath.Add3(
					vecmath.Scale3(tri.Normals[0], w0),
					vecmath.Scale3(tri.Normals[1], w1),
				),
				vecmath.Scale3(tri.Normals[2], w2),
			))
			r.fragment(x, y, z, n, zNear, zFar)
		}
	}
}

// resolve unpacks the framebuffer into the texel frame the compute stages
// read, filling in each covered texel's wind-space center.
func (r *Rasterizer) resolve(frame *device.Frame, windframeSize float32) {
	frame.Clear()
	half := windframeSize / 2
	n := float32(r.n)
	var comps [4]float32
	for y := 0; y < r.n; y++ {
		for x := 0; x < r.n; x++ {
			idx := y*r.n + x
			if !r.covered[idx] {
				continue
			}
			t := frame.At(x, y)
			t.Covered = true
			t.WindPos = mgl32.Vec2{
				(float32(x)+0.5)/n*windframeSize - half,
				(float32(y)+0.5)/n*windframeSize - half,
			}
			unpackNormals(comps[:], r.normal[idx*4:idx*4+4])
			t.Normal = mgl32.Vec4{comps[0], comps[1], comps[2], comps[3]}
		}
	}
}

func clampTexel(v, n int) int {
	if v < 0 {
		return 0
	}
	if v > n-1 {
		return n - 1
	}
	return v
}

func minf(a, b, c float32) float32 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func maxf(a, b, c float32) float32 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}
